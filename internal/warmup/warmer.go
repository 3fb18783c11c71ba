// Package warmup keeps a cold-starting hosted model loaded by sending it
// a throwaway prompt on a fixed interval.
package warmup

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/inference"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req inference.GenerationRequest, maxAttempts int, waitForModel bool) inference.Outcome
}

type Warmer struct {
	d        Dispatcher
	inputs   []string
	interval time.Duration
	pick     func(n int) int
	logger   *slog.Logger
}

func New(d Dispatcher, cfg config.WarmupCfg, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	inputs := cfg.Inputs
	if len(inputs) == 0 {
		inputs = []string{"Hello!"}
	}
	return &Warmer{d: d, inputs: inputs, interval: interval, pick: rand.IntN, logger: logger}
}

// Ping sends one random input with a single attempt. The outcome is
// only logged.
func (w *Warmer) Ping(ctx context.Context) inference.Outcome {
	input := w.inputs[w.pick(len(w.inputs))]
	out := w.d.Dispatch(ctx, inference.NewRequest(input), 1, false)
	w.logger.Debug("warmup ping", "input", input, "outcome", out.Kind.String())
	return out
}

// Start pings immediately and then on every tick until ctx is done.
func (w *Warmer) Start(ctx context.Context) {
	w.logger.Info("warmup started", "interval", w.interval)
	go func() {
		w.Ping(ctx)
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.Ping(ctx)
			}
		}
	}()
}
