package application

import (
	"testing"
	"time"

	"inspection-gateway/middleware/ratelimit/domain"
)

type fakeLimiter struct {
	admit bool
	calls int
}

func (f *fakeLimiter) Admit(domain.Key, time.Time) bool {
	f.calls++
	return f.admit
}

type windowedLimiter struct {
	fakeLimiter
	window time.Duration
}

func (w *windowedLimiter) Limit() int            { return 1 }
func (w *windowedLimiter) Window() time.Duration { return w.window }

func TestService_Decide_AllowsWhenNoLimiter(t *testing.T) {
	svc := Service{}
	dec := svc.Decide("k", time.Now())
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_AllowsWhenLimiterAdmits(t *testing.T) {
	lim := &fakeLimiter{admit: true}
	svc := Service{Limiter: lim, RetryAfter: 5 * time.Second}
	dec := svc.Decide("k", time.Now())
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if lim.calls != 1 {
		t.Fatalf("expected one Admit call, got %d", lim.calls)
	}
}

func TestService_Decide_BlocksWithRetryAfterDefault(t *testing.T) {
	svc := Service{Limiter: &fakeLimiter{admit: false}}
	dec := svc.Decide("k", time.Now())
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_BlocksWithWindowAsRetryAfter(t *testing.T) {
	svc := Service{Limiter: &windowedLimiter{window: time.Minute}}
	dec := svc.Decide("k", time.Now())
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != time.Minute {
		t.Fatalf("expected RetryAfter=1m, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_BlocksWithConfiguredRetryAfter(t *testing.T) {
	svc := Service{Limiter: &windowedLimiter{window: time.Minute}, RetryAfter: 2500 * time.Millisecond}
	dec := svc.Decide("k", time.Now())
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected RetryAfter=2.5s, got %s", dec.RetryAfter)
	}
}
