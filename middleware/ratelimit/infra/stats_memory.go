package infra

import (
	"context"
	"maps"
	"sync"

	"inspection-gateway/middleware/ratelimit/domain"
)

// Counters separa as decisões em encaminhadas e recusadas.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c Counters) plus(allowed bool) Counters {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	return c
}

// MemoryStatsStore é uma implementação simples em memória, por processo.
// Alimenta o endpoint /stats do admin.
//
// Não faz expiração, por isso o rastreio por cliente é opcional.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	byStatus  map[int]int64
	byOutcome map[string]int64
	byStage   map[string]int64
	byRoute   map[string]Counters
	byKey     map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byStatus:  make(map[int]int64),
		byOutcome: make(map[string]int64),
		byStage:   make(map[string]int64),
		byRoute:   make(map[string]Counters),
		byKey:     make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = s.total.plus(ev.Allowed)
	s.byOutcome[ev.OutcomeOrDefault()]++
	if ev.Status != 0 {
		s.byStatus[ev.Status]++
	}
	if !ev.Allowed && ev.Stage != "" {
		s.byStage[ev.Stage]++
	}
	s.byRoute[route] = s.byRoute[route].plus(ev.Allowed)
	if s.trackKeys {
		s.byKey[string(ev.Key)] = s.byKey[string(ev.Key)].plus(ev.Allowed)
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByStatus() map[int]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byStatus)
}

func (s *MemoryStatsStore) ByOutcome() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byOutcome)
}

// ByStage conta as recusas pela etapa que recusou.
func (s *MemoryStatsStore) ByStage() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byStage)
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byRoute)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byKey)
}

// MultiStats repassa um evento para vários stores e retorna o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
