// Command example-server is a small backend to put behind the gateway. It
// also shows the rate limit middleware mounted directly in a server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inspection-gateway/internal/logging"
	"inspection-gateway/middleware/ratelimit"
	"inspection-gateway/middleware/ratelimit/infra"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New(getenvDefault("LOG_LEVEL", "info"), false)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := infra.NewSlidingWindowStore(100, time.Minute)
	if err != nil {
		logger.Fatal("limiter", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	h := http.Handler(newRouter(logger))
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Limiter:             store,
		KeyHeader:           "X-Api-Key", // empty uses the client IP
		AddRateLimitHeaders: true,
	})(h)

	addr := getenvDefault("LISTEN_ADDR", "127.0.0.1:8000")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newRouter(logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "backend running"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON"})
			return
		}
		logger.Debug("login reached", zap.Int("fields", len(data)))
		writeJSON(w, http.StatusOK, map[string]any{"message": "Login endpoint reached", "data": data})
	}).Methods(http.MethodPost)

	r.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"data": "Sensitive information"})
	}).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
