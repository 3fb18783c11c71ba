package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

import (
	"github.com/spf13/cobra"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/allowlist"
	"github.com/nanjiek/pixiu-relay/internal/api"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/core"
	"github.com/nanjiek/pixiu-relay/internal/gateway"
	"github.com/nanjiek/pixiu-relay/internal/logutil"
	"github.com/nanjiek/pixiu-relay/internal/mention"
	"github.com/nanjiek/pixiu-relay/internal/warmup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: gateway connection, HTTP API and warmup pings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, cancelRoot := context.WithCancel(parent)
	defer cancelRoot()

	logger := logutil.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	if cfg.Gateway.URL == "" && cfg.Server.HTTPAddr == "" {
		return errors.New("nothing to serve: set gateway.url or server.httpAddr")
	}

	// 初始化Redis连接
	rdb, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	gate := buildGate(cfg, rdb, logger)

	store, closeStore, err := openAllowList(cfg, rdb)
	if err != nil {
		return fmt.Errorf("open allow-list: %w", err)
	}
	defer closeStore()

	channels := allowlist.NewCache(store, logger)
	if err := channels.Bootstrap(ctx, cfg.AllowList.Channels); err != nil {
		return fmt.Errorf("bootstrap allow-list: %w", err)
	}
	if cfg.AllowList.Backend != config.BackendMemory {
		interval := time.Duration(cfg.AllowList.RefreshIntervalMs) * time.Millisecond
		go allowlist.NewPoller(channels, interval, logger).Start(ctx)
	}

	dispatcher, err := buildDispatcher(cfg, logger)
	if err != nil {
		return err
	}

	var gw *gateway.Client
	var dir mention.Directory
	if cfg.Gateway.URL != "" {
		gw = gateway.NewClient(cfg.Gateway, gateway.WithLogger(logger))
		dir = gw
	}

	opts := append(handlerOptions(cfg, logger), core.WithMentionResolver(mention.NewResolver(dir, logger)))
	if gw != nil {
		opts = append(opts, core.WithBotUserIDFunc(gw.BotID))
	}
	handler := core.NewHandler(dispatcher, gate, channels, opts...)

	if cfg.Warmup.Enabled {
		warmup.New(dispatcher, cfg.Warmup, logger).Start(ctx)
	}

	errCh := make(chan error, 2)
	var srv *api.Server
	if cfg.Server.HTTPAddr != "" {
		srv = api.NewServer(cfg.Server, handler, channels)
		go func() {
			logger.Info("http api listening", "addr", cfg.Server.HTTPAddr, "pid", os.Getpid())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http api: %w", err)
			}
		}()
	}

	gwDone := make(chan struct{})
	if gw != nil {
		go func() {
			defer close(gwDone)
			if err := gw.Run(ctx, handler); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(gwDone)
	}

	logger.Info("relaybot started", "model", cfg.Inference.ModelID, "endpoint", dispatcher.Endpoint())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", "err", runErr)
	}
	cancelRoot()

	// 优雅退出
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "err", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	select {
	case <-gwDone:
	case <-shutdownCtx.Done():
		logger.Warn("gateway handlers still running at shutdown")
	}
	logger.Info("relaybot exited")
	return nil
}
