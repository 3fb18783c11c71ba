package inference

import (
	"time"
)

import (
	"github.com/cenkalti/backoff/v4"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

// Policy is the retry schedule for rate-limited sends.
type Policy struct {
	InitialBackoff time.Duration
	Multiplier     float64
	MaxAttempts    int
	MaxBackoff     time.Duration
}

// DefaultPolicy waits 2s, then 4s, across three sends.
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: 2 * time.Second,
		Multiplier:     2,
		MaxAttempts:    3,
		MaxBackoff:     time.Minute,
	}
}

func PolicyFromConfig(cfg config.BackoffCfg) Policy {
	p := DefaultPolicy()
	if cfg.InitialMs > 0 {
		p.InitialBackoff = time.Duration(cfg.InitialMs) * time.Millisecond
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MaxMs > 0 {
		p.MaxBackoff = time.Duration(cfg.MaxMs) * time.Millisecond
	}
	return p
}

// schedule returns a fresh jitter-free exponential schedule.
func (p Policy) schedule() backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialBackoff
	expo.Multiplier = p.Multiplier
	expo.RandomizationFactor = 0
	expo.MaxInterval = p.MaxBackoff
	expo.MaxElapsedTime = 0
	expo.Reset()
	return expo
}

// TotalSleep is the time spent backing off when the first n sends are rate limited.
func (p Policy) TotalSleep(n int) time.Duration {
	s := p.schedule()
	var total time.Duration
	for i := 0; i < n; i++ {
		total += s.NextBackOff()
	}
	return total
}
