package warmup

import (
	"context"
	"sync"
	"testing"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/inference"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	prompt      string
	maxAttempts int
	wait        bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req inference.GenerationRequest, maxAttempts int, wait bool) inference.Outcome {
	d.mu.Lock()
	d.calls = append(d.calls, call{prompt: req.Prompt, maxAttempts: maxAttempts, wait: wait})
	d.mu.Unlock()
	return inference.Outcome{Kind: inference.KindModelLoading, Attempts: 1}
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func TestPingSendsSingleAttempt(t *testing.T) {
	d := &recordingDispatcher{}
	w := New(d, config.WarmupCfg{Inputs: []string{"brr", "mbmb"}}, nil)
	w.pick = func(int) int { return 1 }

	out := w.Ping(context.Background())
	if out.Kind != inference.KindModelLoading {
		t.Fatalf("outcome = %v", out.Kind)
	}
	if len(d.calls) != 1 {
		t.Fatalf("calls = %d", len(d.calls))
	}
	got := d.calls[0]
	if got.prompt != "mbmb" || got.maxAttempts != 1 || got.wait {
		t.Fatalf("unexpected call %+v", got)
	}
}

func TestStartPingsImmediatelyThenOnInterval(t *testing.T) {
	d := &recordingDispatcher{}
	w := New(d, config.WarmupCfg{IntervalMs: 20, Inputs: []string{"hello"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for d.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if d.count() < 3 {
		t.Fatalf("expected at least 3 pings, got %d", d.count())
	}

	time.Sleep(50 * time.Millisecond)
	stopped := d.count()
	time.Sleep(80 * time.Millisecond)
	if d.count() != stopped {
		t.Fatalf("pings continued after cancel: %d -> %d", stopped, d.count())
	}
}

func TestNewDefaults(t *testing.T) {
	w := New(&recordingDispatcher{}, config.WarmupCfg{}, nil)
	if w.interval != 10*time.Minute {
		t.Fatalf("interval = %v", w.interval)
	}
	if len(w.inputs) == 0 {
		t.Fatal("expected a fallback input")
	}
}
