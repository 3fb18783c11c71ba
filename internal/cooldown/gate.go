package cooldown

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

// Decision is the outcome of a single TryAcquire call.
type Decision struct {
	Allowed          bool
	Remaining        time.Duration // zero when allowed
	RemainingSeconds int64         // Remaining rounded to whole seconds
	Reason           string
	Err              error // store failure, if any
}

// Store records the last dispatch time per user and performs the
// read-check-write as one atomic step.
type Store interface {
	// CheckAndSet returns allowed=true and records now when the user is
	// outside its cooldown window, otherwise the time left in the window.
	CheckAndSet(ctx context.Context, userID string, now time.Time, cooldown time.Duration) (allowed bool, remaining time.Duration, err error)
}

// Gate guards how often a single user may trigger a dispatch.
type Gate struct {
	store      Store
	now        func() time.Time
	logger     *slog.Logger
	failPolicy string
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithFailPolicy decides what a store error means: fail-open lets the
// message through, fail-closed denies it.
func WithFailPolicy(policy string) Option {
	return func(g *Gate) { g.failPolicy = config.NormalizeFailPolicy(policy) }
}

func NewGate(store Store, opts ...Option) *Gate {
	if store == nil {
		panic("cooldown: nil store")
	}
	g := &Gate{
		store:      store,
		now:        time.Now,
		logger:     slog.Default(),
		failPolicy: config.FailOpen,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryAcquire admits userID if its last dispatch is at least cooldown ago.
func (g *Gate) TryAcquire(ctx context.Context, userID string, cooldown time.Duration) Decision {
	if userID == "" {
		err := errors.New("empty user id")
		return Decision{Allowed: false, Reason: "empty_user", Err: err}
	}
	if cooldown <= 0 {
		return Decision{Allowed: true, Reason: "no_cooldown"}
	}

	allowed, remaining, err := g.store.CheckAndSet(ctx, userID, g.now(), cooldown)
	if err != nil {
		g.logger.Warn("cooldown store failed", "user", userID, "policy", g.failPolicy, "err", err)
		if g.failPolicy == config.FailClosed {
			return Decision{Allowed: false, Reason: "store_error", Err: err}
		}
		return Decision{Allowed: true, Reason: "store_error_fail_open", Err: err}
	}
	if allowed {
		return Decision{Allowed: true, Reason: "allowed"}
	}
	if remaining > cooldown {
		remaining = cooldown
	}
	return Decision{
		Allowed:          false,
		Remaining:        remaining,
		RemainingSeconds: roundSeconds(remaining),
		Reason:           "cooling_down",
	}
}

func roundSeconds(d time.Duration) int64 {
	return int64(math.Round(d.Seconds()))
}
