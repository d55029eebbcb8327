package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"inspection-gateway/middleware/ratelimit/domain"
	"inspection-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	r := New(Options{Info: map[string]any{"backend": "http://127.0.0.1:8000"}}).Router()

	w := serve(r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "http://127.0.0.1:8000", body["backend"])
}

func TestStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	_ = stats.Record(context.Background(), domain.StatsEvent{Key: "a", Allowed: true, Status: 200, Method: "GET", Path: "/data"})
	_ = stats.Record(context.Background(), domain.StatsEvent{Key: "a", Outcome: "block", Stage: "score", Status: 403, Method: "POST", Path: "/data"})

	w := serve(New(Options{Stats: stats}).Router(), http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, body.Total)
	assert.Equal(t, int64(1), body.ByStatus[403])
	assert.Equal(t, map[string]int64{"allow": 1, "block": 1}, body.ByOutcome)
	assert.Equal(t, map[string]int64{"score": 1}, body.ByStage)
	assert.Equal(t, infra.Counters{Allowed: 1}, body.ByRoute["GET /data"])

	w = serve(New(Options{}).Router(), http.MethodGet, "/stats")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReload(t *testing.T) {
	calls := 0
	ok := New(Options{Reload: func() error { calls++; return nil }}).Router()

	w := serve(ok, http.MethodPost, "/reload")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)

	w = serve(ok, http.MethodGet, "/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	failing := New(Options{Reload: func() error { return errors.New("bad pattern") }}).Router()
	w = serve(failing, http.MethodPost, "/reload")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "bad pattern")

	w = serve(New(Options{}).Router(), http.MethodPost, "/reload")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestMetricsMounted(t *testing.T) {
	m := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("gate_requests_total 1\n")) })
	w := serve(New(Options{Metrics: m}).Router(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gate_requests_total")

	w = serve(New(Options{}).Router(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeRisk struct {
	top []redis.Z
	err error
	n   int64
}

func (f *fakeRisk) TopRisk(_ context.Context, n int64) ([]redis.Z, error) {
	f.n = n
	return f.top, f.err
}

func TestRiskRanking(t *testing.T) {
	w := serve(New(Options{}).Router(), http.MethodGet, "/stats/risk")
	assert.Equal(t, http.StatusNotFound, w.Code)

	src := &fakeRisk{top: []redis.Z{{Member: "10.0.0.9", Score: 240}, {Member: "10.0.0.2", Score: 40}}}
	r := New(Options{Risk: src}).Router()

	w = serve(r, http.MethodGet, "/stats/risk?n=500")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(100), src.n)
	assert.JSONEq(t, `[{"client":"10.0.0.9","score":240},{"client":"10.0.0.2","score":40}]`, w.Body.String())

	w = serve(r, http.MethodGet, "/stats/risk?n=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	src.err = errors.New("redis down")
	w = serve(r, http.MethodGet, "/stats/risk")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, int64(10), src.n)
}
