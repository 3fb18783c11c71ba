package main

import (
	"fmt"
	"log/slog"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/allowlist"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/cooldown"
	"github.com/nanjiek/pixiu-relay/internal/core"
	"github.com/nanjiek/pixiu-relay/internal/inference"
	"github.com/nanjiek/pixiu-relay/internal/repo"
)

func openRedis(cfg *config.Config, logger *slog.Logger) (*repo.RedisRepo, error) {
	if !cfg.NeedsRedis() {
		return nil, nil
	}
	return repo.NewRedis(cfg.Redis, logger,
		repo.WithDefaultTimeout(time.Duration(cfg.Redis.OpTimeoutMs)*time.Millisecond),
	)
}

func buildGate(cfg *config.Config, rdb *repo.RedisRepo, logger *slog.Logger) *cooldown.Gate {
	var store cooldown.Store = cooldown.NewMemoryStore()
	if cfg.Cooldown.Backend == config.BackendRedis {
		store = cooldown.NewRedisStoreFromRepo(rdb)
	}
	return cooldown.NewGate(store,
		cooldown.WithLogger(logger),
		cooldown.WithFailPolicy(cfg.Cooldown.FailPolicy),
	)
}

// openAllowList returns the configured store and a func releasing it.
func openAllowList(cfg *config.Config, rdb *repo.RedisRepo) (allowlist.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.AllowList.Backend {
	case config.BackendRedis:
		return allowlist.NewRedisStoreFromRepo(rdb), noop, nil
	case config.BackendSQLite:
		s, err := allowlist.OpenSQLite(cfg.AllowList.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return allowlist.NewMemoryStore(), noop, nil
	}
}

func buildDispatcher(cfg *config.Config, logger *slog.Logger) (*inference.Dispatcher, error) {
	opts := []inference.Option{inference.WithLogger(logger)}
	if cfg.Inference.Breaker.Enabled {
		guard, err := inference.NewSentinelGuard("inference:"+cfg.Inference.ModelID, cfg.Inference.Breaker)
		if err != nil {
			return nil, fmt.Errorf("init breaker: %w", err)
		}
		opts = append(opts, inference.WithGuard(guard))
	}
	return inference.NewDispatcher(cfg.Inference, opts...), nil
}

func handlerOptions(cfg *config.Config, logger *slog.Logger) []core.Option {
	return []core.Option{
		core.WithBotUserID(cfg.Gateway.BotUserID),
		core.WithCooldown(time.Duration(cfg.Cooldown.Seconds) * time.Second),
		core.WithMaxAttempts(cfg.Inference.Backoff.MaxAttempts),
		core.WithRetryOnLoading(cfg.Inference.RetryOnLoading),
		core.WithIgnoreMentions(cfg.AllowList.IgnoreMentions),
		core.WithReplyConfig(cfg.Reply),
		core.WithLogger(logger),
	}
}
