package inference

import (
	"testing"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

func TestPolicySchedule(t *testing.T) {
	p := DefaultPolicy()
	s := p.schedule()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := s.NextBackOff(); got != w {
			t.Fatalf("step %d = %v, want %v", i, got, w)
		}
	}
	if got := p.TotalSleep(2); got != 6*time.Second {
		t.Fatalf("TotalSleep(2) = %v", got)
	}
}

func TestPolicyCap(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, Multiplier: 10, MaxAttempts: 5, MaxBackoff: 5 * time.Second}
	s := p.schedule()
	_ = s.NextBackOff()
	if got := s.NextBackOff(); got != 5*time.Second {
		t.Fatalf("capped step = %v", got)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.BackoffCfg{InitialMs: 500, Multiplier: 3, MaxAttempts: 4, MaxMs: 9000})
	if p.InitialBackoff != 500*time.Millisecond || p.Multiplier != 3 || p.MaxAttempts != 4 || p.MaxBackoff != 9*time.Second {
		t.Fatalf("unexpected policy: %+v", p)
	}

	def := PolicyFromConfig(config.BackoffCfg{})
	if def != DefaultPolicy() {
		t.Fatalf("zero config should give defaults: %+v", def)
	}
}
