package infra

import (
	"context"
	"testing"
	"time"
)

func TestChanPool_CountsAndReleasesOnce(t *testing.T) {
	p := NewChanPool(2)
	if p.Cap() != 2 {
		t.Fatalf("expected cap 2, got %d", p.Cap())
	}

	r1, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatal("expected first slot")
	}
	r2, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatal("expected second slot")
	}
	if p.InUse() != 2 {
		t.Fatalf("expected 2 in use, got %d", p.InUse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatal("expected full pool to refuse")
	}

	r1()
	r1()
	if p.InUse() != 1 {
		t.Fatalf("double release must free one slot, got %d in use", p.InUse())
	}
	r2()
	if p.InUse() != 0 {
		t.Fatalf("expected empty pool, got %d", p.InUse())
	}
}

func TestChanPool_FreeSlotBeatsExpiredContext(t *testing.T) {
	p := NewChanPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release, ok := p.Acquire(ctx)
	if !ok {
		t.Fatal("expected a free slot to be taken even with a done context")
	}
	release()
}
