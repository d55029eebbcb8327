package infra

import (
	"sync"
	"time"

	"inspection-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// TokenBucketStore é uma implementação de infra baseada em token-bucket (x/time/rate)
// com cache por chave e limpeza periódica. Repõe limit tokens por janela, com burst de limit.
type TokenBucketStore struct {
	mu           sync.Mutex
	entries      map[string]*storeEntry
	limit        int
	window       time.Duration
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type storeEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type StoreOption func(*TokenBucketStore)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *TokenBucketStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *TokenBucketStore) { s.cleanupEvery = d }
}

func NewTokenBucketStore(limit int, window time.Duration, opts ...StoreOption) *TokenBucketStore {
	s := &TokenBucketStore{
		entries:      make(map[string]*storeEntry),
		limit:        limit,
		window:       window,
		rps:          rate.Limit(float64(limit) / window.Seconds()),
		burst:        limit,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenBucketStore) Limit() int                  { return s.limit }
func (s *TokenBucketStore) Window() time.Duration       { return s.window }
func (s *TokenBucketStore) RPS() float64                { return float64(s.rps) }
func (s *TokenBucketStore) Burst() int                  { return s.burst }
func (s *TokenBucketStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Admit implementa domain.Limiter.
func (s *TokenBucketStore) Admit(key domain.Key, now time.Time) bool {
	return s.get(string(key), now).AllowN(now, 1)
}

func (s *TokenBucketStore) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &storeEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *TokenBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *TokenBucketStore) Cleanup(now time.Time) {
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas a cada cleanupEvery.
// Pare cancelando o contexto.
func (s *TokenBucketStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Cleanup(now)
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
