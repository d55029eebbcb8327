package infra

import (
	"errors"
	"sync"
	"time"

	"inspection-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

const windowShards = 64

// SlidingWindowStore admite no máximo limit requisições por chave em qualquer
// janela deslizante. Cada chave guarda os timestamps admitidos em ordem;
// os vencidos são descartados quando a chave aparece de novo.
type SlidingWindowStore struct {
	limit  int
	window time.Duration
	shards [windowShards]windowShard
}

type windowShard struct {
	mu      sync.Mutex
	windows map[domain.Key]*clientWindow
}

// clientWindow fica travado durante toda a sequência prune/checagem/append,
// então duas requisições do mesmo cliente nunca pegam a última vaga juntas.
type clientWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	// evicted é marcado pelo Sweep; quem tem um ponteiro antigo busca a chave de novo.
	evicted bool
}

func NewSlidingWindowStore(limit int, window time.Duration) (*SlidingWindowStore, error) {
	if limit <= 0 {
		return nil, errors.New("sliding window: limit must be > 0")
	}
	if window <= 0 {
		return nil, errors.New("sliding window: window must be > 0")
	}
	s := &SlidingWindowStore{limit: limit, window: window}
	for i := range s.shards {
		s.shards[i].windows = make(map[domain.Key]*clientWindow)
	}
	return s, nil
}

func (s *SlidingWindowStore) Limit() int            { return s.limit }
func (s *SlidingWindowStore) Window() time.Duration { return s.window }

// Admit implementa domain.Limiter. A requisição atual conta no limite, então
// é rejeitada quando a janela já tem limit entradas após o prune.
// Requisições rejeitadas não são registradas.
func (s *SlidingWindowStore) Admit(key domain.Key, now time.Time) bool {
	cw := s.lockWindow(key)
	defer cw.mu.Unlock()

	cw.prune(now.Add(-s.window))
	if len(cw.stamps)+1 > s.limit {
		return false
	}
	cw.stamps = append(cw.stamps, now)
	return true
}

// Count retorna quantas requisições admitidas ainda estão na janela.
func (s *SlidingWindowStore) Count(key domain.Key, now time.Time) int {
	cw := s.lockWindow(key)
	defer cw.mu.Unlock()

	cw.prune(now.Add(-s.window))
	return len(cw.stamps)
}

func (s *SlidingWindowStore) windowFor(key domain.Key) *clientWindow {
	sh := &s.shards[xxhash.Sum64String(string(key))%windowShards]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	cw, ok := sh.windows[key]
	if !ok {
		cw = &clientWindow{}
		sh.windows[key] = cw
	}
	return cw
}

// lockWindow retorna a janela viva da chave com o mutex travado.
func (s *SlidingWindowStore) lockWindow(key domain.Key) *clientWindow {
	for {
		cw := s.windowFor(key)
		cw.mu.Lock()
		if !cw.evicted {
			return cw
		}
		cw.mu.Unlock()
	}
}

// Len retorna o número de clientes rastreados.
func (s *SlidingWindowStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// Sweep esquece clientes sem nenhuma requisição admitida dentro da janela.
func (s *SlidingWindowStore) Sweep(now time.Time) {
	cutoff := now.Add(-s.window)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, cw := range sh.windows {
			cw.mu.Lock()
			cw.prune(cutoff)
			if len(cw.stamps) == 0 {
				cw.evicted = true
				delete(sh.windows, k)
			}
			cw.mu.Unlock()
		}
		sh.mu.Unlock()
	}
}

// StartJanitor roda o Sweep uma vez por janela até o ctx encerrar.
// Não muda nenhuma decisão: só remove janelas vazias.
func (s *SlidingWindowStore) StartJanitor(ctx DoneContext) {
	t := time.NewTicker(s.window)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Sweep(now)
			}
		}
	}()
}

// prune descarta timestamps estritamente anteriores ao cutoff; uma entrada com
// exatamente uma janela de idade ainda conta. Os timestamps entram em ordem de
// chegada, mas chamadas concorrentes podem trazer relógios levemente fora de
// ordem, por isso toda entrada é verificada.
func (cw *clientWindow) prune(cutoff time.Time) {
	kept := cw.stamps[:0]
	for _, t := range cw.stamps {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	cw.stamps = kept
}
