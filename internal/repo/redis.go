package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

import (
	"github.com/redis/go-redis/v9"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

// Key templates
const (
	keyCooldownTmpl = "%s:cooldown:{%s}"
	keyAllowList    = "%s:allowlist:channels"
)

type RedisRepo struct {
	Prefix         string
	Cli            redis.UniversalClient
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// NewRedis connects to a single node or a cluster depending on the number of addresses.
func NewRedis(cfg config.RedisCfg, logger *slog.Logger, opts ...Option) (*RedisRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &RedisRepo{
		Prefix:         cfg.Prefix,
		logger:         logger,
		defaultTimeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}

	addrs := normalizeAddrs(cfg)
	if len(addrs) == 0 {
		return nil, errors.New("no redis addresses configured")
	}

	r.Cli = redis.NewUniversalClient(buildOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Cli.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "addrs", addrs, "err", err)
		_ = r.Cli.Close()
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}
	logger.Info("redis connected", "addrs", addrs)

	return r, nil
}

// Option pattern for custom configurations
type Option func(*RedisRepo)

func WithDefaultTimeout(d time.Duration) Option {
	return func(r *RedisRepo) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

func (r *RedisRepo) withTimeout(ctx context.Context, opTimeout time.Duration) (context.Context, context.CancelFunc) {
	if opTimeout == 0 {
		opTimeout = r.defaultTimeout
	}
	return context.WithTimeout(ctx, opTimeout)
}

func (r *RedisRepo) KeyCooldown(userID string) string {
	return fmt.Sprintf(keyCooldownTmpl, r.Prefix, userID)
}

func (r *RedisRepo) KeyAllowList() string {
	return fmt.Sprintf(keyAllowList, r.Prefix)
}

func (r *RedisRepo) AddToSet(parentCtx context.Context, setKey, member string) error {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	if err := r.Cli.SAdd(ctx, setKey, member).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", setKey, err)
	}
	return nil
}

func (r *RedisRepo) RemoveFromSet(parentCtx context.Context, setKey, member string) error {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	if err := r.Cli.SRem(ctx, setKey, member).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", setKey, err)
	}
	return nil
}

func (r *RedisRepo) SetMembers(parentCtx context.Context, setKey string) ([]string, error) {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	members, err := r.Cli.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", setKey, err)
	}
	return members, nil
}

// Eval runs a script with a longer timeout than plain commands.
func (r *RedisRepo) Eval(parentCtx context.Context, script string, keys []string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := r.withTimeout(parentCtx, 2*r.defaultTimeout)
	defer cancel()
	res, err := r.Cli.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("eval script failed: %w", err)
	}
	if val, ok := res.([]interface{}); ok {
		return val, nil
	}
	return []interface{}{res}, nil
}

func (r *RedisRepo) Close() error {
	return r.Cli.Close()
}

func normalizeAddrs(cfg config.RedisCfg) []string {
	if len(cfg.Addrs) > 0 {
		return cfg.Addrs
	}
	if cfg.Addr == "" {
		return nil
	}
	parts := strings.Split(cfg.Addr, ",")
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func buildOptions(cfg config.RedisCfg) *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        normalizeAddrs(cfg),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     atLeast(cfg.PoolSize, 10),
		MinIdleConns: atLeast(cfg.MinIdleConns, 2),
		DialTimeout:  durationOrDefault(cfg.DialTimeoutMs, 800),
		ReadTimeout:  durationOrDefault(cfg.ReadTimeoutMs, 800),
		WriteTimeout: durationOrDefault(cfg.WriteTimeoutMs, 800),
		MaxRetries:   atLeast(cfg.MaxRetries, 2),
	}
}

func atLeast(val, def int) int {
	if val > def {
		return val
	}
	return def
}

func durationOrDefault(ms int, defMs int) time.Duration {
	if ms <= 0 {
		ms = defMs
	}
	return time.Duration(ms) * time.Millisecond
}
