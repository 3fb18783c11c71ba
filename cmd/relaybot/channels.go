package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

import (
	"github.com/spf13/cobra"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/allowlist"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/logutil"
)

func newChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage the channel allow-list in the configured store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List allowed channels",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, s allowlist.Store) error {
					ids, err := s.List(ctx)
					if err != nil {
						return err
					}
					for _, id := range ids {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add <channel-id>...",
			Short: "Allow the bot to talk in channels",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, s allowlist.Store) error {
					for _, id := range args {
						if err := s.Add(ctx, id); err != nil {
							return fmt.Errorf("add %q: %w", id, err)
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <channel-id>...",
			Short: "Stop the bot talking in channels",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, s allowlist.Store) error {
					for _, id := range args {
						if err := s.Remove(ctx, id); err != nil {
							return fmt.Errorf("remove %q: %w", id, err)
						}
					}
					return nil
				})
			},
		},
	)
	return cmd
}

var errEphemeralStore = errors.New("allowList.backend is memory: channel changes would not outlive this command, use redis or sqlite")

// withStore opens the configured allow-list store for one command.
func withStore(ctx context.Context, fn func(context.Context, allowlist.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withConfigStore(ctx, cfg, fn)
}

func withConfigStore(ctx context.Context, cfg *config.Config, fn func(context.Context, allowlist.Store) error) error {
	if cfg.AllowList.Backend == config.BackendMemory {
		return errEphemeralStore
	}
	logger := logutil.New(cfg.Logging, nil)
	slog.SetDefault(logger)

	rdb, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	store, closeStore, err := openAllowList(cfg, rdb)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, store)
}
