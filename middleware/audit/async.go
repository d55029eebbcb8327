package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("audit: sink closed")

// AsyncSink decouples the request path from a slow sink: Write enqueues into
// a bounded buffer and returns immediately. When the buffer is full the
// record is dropped and counted.
type AsyncSink struct {
	next         Sink
	logger       *zap.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Record
	done   chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

type AsyncOptions struct {
	Buffer       int
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func NewAsyncSink(next Sink, opts AsyncOptions) *AsyncSink {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &AsyncSink{
		next:         next,
		logger:       opts.Logger,
		writeTimeout: opts.WriteTimeout,
		ch:           make(chan Record, opts.Buffer),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Write(_ context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	select {
	case s.ch <- rec:
		return nil
	default:
		s.dropped.Add(1)
		return nil
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for rec := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.next.Write(ctx, rec); err != nil {
			s.failed.Add(1)
			s.logger.Warn("audit write failed", zap.String("id", rec.ID), zap.Error(err))
		}
		cancel()
	}
}

// Dropped is the number of records discarded because the buffer was full.
func (s *AsyncSink) Dropped() uint64 { return s.dropped.Load() }

// Failed is the number of records the wrapped sink returned an error for.
func (s *AsyncSink) Failed() uint64 { return s.failed.Load() }

// Close stops accepting records, drains the buffer and closes the wrapped sink.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done
	return s.next.Close()
}
