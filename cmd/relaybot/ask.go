package main

import (
	"fmt"
	"io"
	"strings"
)

import (
	"github.com/spf13/cobra"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/chat"
	"github.com/nanjiek/pixiu-relay/internal/core"
	"github.com/nanjiek/pixiu-relay/internal/inference"
	"github.com/nanjiek/pixiu-relay/internal/logutil"
)

func newAskCmd() *cobra.Command {
	var (
		attempts int
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send one prompt to the model and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logutil.New(cfg.Logging, cmd.ErrOrStderr())
			d, err := buildDispatcher(cfg, logger)
			if err != nil {
				return err
			}

			out := d.Dispatch(cmd.Context(), inference.NewRequest(strings.Join(args, " ")), attempts, wait)
			printReply(cmd.OutOrStdout(), core.NewFormatter(cfg.Reply).Outcome(out))
			if !out.OK() {
				return fmt.Errorf("dispatch failed: %s", out)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Maximum sends including 429 retries (0 uses inference.backoff.maxAttempts).")
	cmd.Flags().BoolVar(&wait, "wait", false, "Ask the endpoint to block until the model is loaded.")
	return cmd
}

func printReply(w io.Writer, r chat.Reply) {
	if r.Notice {
		_, _ = fmt.Fprintf(w, "[%s] %s\n", r.Level, r.Text)
		return
	}
	_, _ = fmt.Fprintln(w, r.Text)
}
