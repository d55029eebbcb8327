package ratelimit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inspection-gateway/middleware/ratelimit/infra"
)

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	store, err := infra.NewSlidingWindowStore(1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Limiter:             store,
		AddRateLimitHeaders: true,
	})(next)

	r1 := httptest.NewRequest(http.MethodGet, "http://example/data", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Key"); got != "10.0.0.1" {
		t.Fatalf("expected X-RateLimit-Key 10.0.0.1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit 1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Window"); got != "60" {
		t.Fatalf("expected X-RateLimit-Window 60, got %q", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "http://example/data", nil)
	r2.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	if !strings.Contains(w2.Body.String(), "Too Many Requests") {
		t.Fatalf("expected JSON detail, got %q", w2.Body.String())
	}

	if calls != 1 {
		t.Fatalf("expected next to be called once, got %d", calls)
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	store, _ := infra.NewSlidingWindowStore(1, time.Minute)
	stats := infra.NewMemoryStatsStore()

	h := Middleware(Options{Limiter: store, Stats: stats})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/x", nil).WithContext(context.Background())
		r.RemoteAddr = "10.0.0.2:1"
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	total := stats.Total()
	if total.Allowed != 1 || total.Denied != 2 {
		t.Fatalf("unexpected totals %+v", total)
	}
	if stats.ByStatus()[http.StatusTooManyRequests] != 2 {
		t.Fatalf("expected two 429s, got %v", stats.ByStatus())
	}
}

func TestGuard_NilLimiterAlwaysAllows(t *testing.T) {
	g := NewGuard(Options{})
	if g.Enabled() {
		t.Fatalf("expected guard without limiter to be disabled")
	}
	if dec := g.Decide("anyone"); !dec.Allowed {
		t.Fatalf("expected allow without limiter")
	}
}

func TestRetryAfterSeconds_RoundsUp(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		200 * time.Millisecond:  1,
		1500 * time.Millisecond: 2,
		time.Minute:             60,
	}
	for in, want := range cases {
		if got := retryAfterSeconds(in); got != want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", in, got, want)
		}
	}
}
