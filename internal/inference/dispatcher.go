package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

const maxBodyBytes = 1 << 20

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher posts generation requests to one model endpoint and retries
// rate-limited sends on an exponential schedule.
type Dispatcher struct {
	endpoint string
	token    string
	useCache bool

	client  Doer
	sleeper Sleeper
	guard   Guard
	policy  Policy
	logger  *slog.Logger
}

type Option func(*Dispatcher)

func WithHTTPClient(c Doer) Option {
	return func(d *Dispatcher) { d.client = c }
}

func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) { d.sleeper = s }
}

func WithGuard(g Guard) Option {
	return func(d *Dispatcher) {
		if g != nil {
			d.guard = g
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(cfg config.InferenceCfg, opts ...Option) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Dispatcher{
		endpoint: cfg.Endpoint(),
		token:    cfg.Token,
		useCache: cfg.UseCache,
		client:   &http.Client{Timeout: timeout},
		sleeper:  TimerSleeper{},
		guard:    noopGuard{},
		policy:   PolicyFromConfig(cfg.Backoff),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Endpoint returns the URL requests are posted to.
func (d *Dispatcher) Endpoint() string {
	return d.endpoint
}

// Policy returns the backoff policy in effect.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Dispatch sends req at most maxAttempts times. Only HTTP 429 is retried;
// every other result is returned as soon as it is seen. A non-positive
// maxAttempts uses the policy default. Dispatch never returns an error:
// all failures are encoded in the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req GenerationRequest, maxAttempts int, waitForModel bool) Outcome {
	if maxAttempts <= 0 {
		maxAttempts = d.policy.MaxAttempts
	}
	req.WaitForModel = req.WaitForModel || waitForModel

	schedule := d.policy.schedule()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := d.attempt(ctx, req)
		out.Attempts = attempt
		if out.Kind != KindRateLimited {
			return out
		}
		if attempt == maxAttempts {
			break
		}

		wait := schedule.NextBackOff()
		d.logger.Warn("rate limited, backing off", "attempt", attempt, "max_attempts", maxAttempts, "backoff", wait)
		if err := d.sleeper.Sleep(ctx, wait); err != nil {
			out := transportOutcome(fmt.Errorf("backoff interrupted: %w", err))
			out.Attempts = attempt
			return out
		}
	}

	d.logger.Error("rate limited on every attempt", "attempts", maxAttempts)
	out := rateLimitedOutcome()
	out.Attempts = maxAttempts
	return out
}

func (d *Dispatcher) attempt(ctx context.Context, req GenerationRequest) Outcome {
	exit, err := d.guard.Enter()
	if err != nil {
		d.logger.Warn("inference call rejected", "err", err)
		return transportOutcome(err)
	}
	out := d.send(ctx, req)
	exit(failureOf(out))
	return out
}

func (d *Dispatcher) send(ctx context.Context, req GenerationRequest) Outcome {
	body, err := json.Marshal(payload{Inputs: req.Inputs()})
	if err != nil {
		return transportOutcome(fmt.Errorf("encode payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return transportOutcome(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}
	if !d.useCache {
		httpReq.Header.Set("x-use-cache", "false")
	}
	if req.WaitForModel {
		httpReq.Header.Set("x-wait-for-model", "true")
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return transportOutcome(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportOutcome(fmt.Errorf("read body: %w", err))
	}
	d.logger.Debug("inference response", "status", resp.StatusCode, "bytes", len(raw))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimitedOutcome()
	case resp.StatusCode == http.StatusServiceUnavailable:
		wait, ok := estimatedWait(raw)
		d.logger.Warn("model loading", "estimated_wait", wait, "body", string(raw))
		return loadingOutcome(wait, ok, string(raw))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		d.logger.Error("inference remote error", "status", resp.StatusCode, "body", string(raw))
		return remoteErrorOutcome(resp.StatusCode, string(raw))
	}

	text, err := Extract(raw, req.Prompt)
	if err != nil {
		d.logger.Warn("extraction failed", "err", err, "body", string(raw))
		return extractionOutcome(err)
	}
	return successOutcome(text)
}

// estimatedWait reads estimated_time (seconds) from a 503 body.
func estimatedWait(body []byte) (time.Duration, bool) {
	var info struct {
		EstimatedTime *float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(body, &info); err == nil && info.EstimatedTime != nil && *info.EstimatedTime >= 0 {
		return time.Duration(*info.EstimatedTime * float64(time.Second)), true
	}
	return 0, false
}
