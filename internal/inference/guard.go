package inference

import (
	"errors"
	"fmt"
	"sync"
)

import (
	sentinel "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

// ErrCircuitOpen is returned while the breaker rejects calls to the endpoint.
var ErrCircuitOpen = errors.New("inference circuit open")

// Guard admits or rejects a send. exit must be called once per admitted
// send with the failure to record, or nil.
type Guard interface {
	Enter() (exit func(failure error), err error)
}

type noopGuard struct{}

func (noopGuard) Enter() (func(error), error) { return func(error) {}, nil }

var (
	sentinelOnce    sync.Once
	sentinelInitErr error
)

// SentinelGuard opens after ErrorThreshold failed sends within the stat
// window and rejects calls until RetryTimeoutMs elapses.
type SentinelGuard struct {
	resource string
}

func NewSentinelGuard(resource string, cfg config.BreakerCfg) (*SentinelGuard, error) {
	sentinelOnce.Do(func() {
		sentinelInitErr = sentinel.InitDefault()
	})
	if sentinelInitErr != nil {
		return nil, fmt.Errorf("sentinel init: %w", sentinelInitErr)
	}

	_, err := circuitbreaker.LoadRules([]*circuitbreaker.Rule{
		{
			Resource:         resource,
			Strategy:         circuitbreaker.ErrorCount,
			RetryTimeoutMs:   uint32(cfg.RetryTimeoutMs),
			MinRequestAmount: uint64(cfg.MinRequests),
			StatIntervalMs:   uint32(cfg.StatIntervalMs),
			Threshold:        float64(cfg.ErrorThreshold),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load breaker rule: %w", err)
	}
	return &SentinelGuard{resource: resource}, nil
}

func (g *SentinelGuard) Enter() (func(error), error) {
	entry, blockErr := sentinel.Entry(g.resource)
	if blockErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, blockErr.Error())
	}
	return func(failure error) {
		if failure != nil {
			sentinel.TraceError(entry, failure)
		}
		entry.Exit()
	}, nil
}

// failureOf decides which outcomes count against the breaker.
func failureOf(out Outcome) error {
	switch {
	case out.Kind == KindTransportError:
		return out.Err
	case out.Kind == KindRemoteError && out.StatusCode >= 500:
		return fmt.Errorf("status %d", out.StatusCode)
	default:
		return nil
	}
}
