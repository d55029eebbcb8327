package rcu

import (
	"sync"
	"testing"
)

type policy struct {
	Threshold int
}

func TestSnapshot_LoadReplaceSwap(t *testing.T) {
	s := NewSnapshot(&policy{Threshold: 70})
	if got := s.Load().Threshold; got != 70 {
		t.Fatalf("expected 70, got %d", got)
	}

	s.Replace(&policy{Threshold: 50})
	if got := s.Load().Threshold; got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}

	old := s.Swap(&policy{Threshold: 90})
	if old.Threshold != 50 || s.Load().Threshold != 90 {
		t.Fatalf("unexpected swap result old=%d new=%d", old.Threshold, s.Load().Threshold)
	}
}

func TestSnapshot_ConcurrentReadersSeeWholeValues(t *testing.T) {
	s := NewSnapshot(&policy{Threshold: 1})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if p := s.Load(); p == nil || p.Threshold <= 0 {
					t.Errorf("observed invalid snapshot %+v", p)
					return
				}
			}
		}()
	}
	for i := 2; i < 100; i++ {
		s.Replace(&policy{Threshold: i})
	}
	wg.Wait()
}
