// Package admin serves the operator endpoints on a separate listener so the
// proxied surface stays fully transparent.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"inspection-gateway/middleware/ratelimit/infra"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RiskSource ranks clients by summed anomaly score. *infra.RedisStatsStore
// implements it.
type RiskSource interface {
	TopRisk(ctx context.Context, n int64) ([]redis.Z, error)
}

type Options struct {
	Metrics http.Handler
	Stats   *infra.MemoryStatsStore
	Risk    RiskSource
	// Reload re-reads the configuration and swaps the policy.
	Reload func() error
	// Info is reported by /healthz next to the status.
	Info    map[string]any
	Logger  *zap.Logger
	Started time.Time
}

type Server struct {
	opts Options
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	return &Server{opts: opts}
}

func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats/risk", s.riskHandler).Methods(http.MethodGet)
	r.HandleFunc("/reload", s.reloadHandler).Methods(http.MethodPost)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.opts.Started).Round(time.Second).String(),
	}
	for k, v := range s.opts.Info {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

type statsResponse struct {
	Total     infra.Counters            `json:"total"`
	ByOutcome map[string]int64          `json:"by_outcome"`
	ByStage   map[string]int64          `json:"by_stage"`
	ByStatus  map[int]int64             `json:"by_status"`
	ByRoute   map[string]infra.Counters `json:"by_route"`
	ByClient  map[string]infra.Counters `json:"by_client,omitempty"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "stats disabled"})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Total:     s.opts.Stats.Total(),
		ByOutcome: s.opts.Stats.ByOutcome(),
		ByStage:   s.opts.Stats.ByStage(),
		ByStatus:  s.opts.Stats.ByStatus(),
		ByRoute:   s.opts.Stats.ByRoute(),
		ByClient:  s.opts.Stats.ByKey(),
	})
}

type riskEntry struct {
	Client string  `json:"client"`
	Score  float64 `json:"score"`
}

// riskHandler lists the top clients by anomaly score; ?n= bounds the list
// (default 10, max 100).
func (s *Server) riskHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Risk == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "risk ranking needs redis stats with trackKeys"})
		return
	}
	n := int64(10)
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "n must be a positive integer"})
			return
		}
		n = min(parsed, 100)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	top, err := s.opts.Risk.TopRisk(ctx, n)
	if err != nil {
		s.opts.Logger.Warn("risk ranking failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "stats backend unavailable"})
		return
	}
	out := make([]riskEntry, 0, len(top))
	for _, z := range top {
		client, _ := z.Member.(string)
		out = append(out, riskEntry{Client: client, Score: z.Score})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reload == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"detail": "reload not available"})
		return
	}
	if err := s.opts.Reload(); err != nil {
		s.opts.Logger.Warn("admin reload failed", zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
