// Package breaker guards the backend with a sentinel circuit breaker. When
// the breaker is open the gate answers 500 without dialling the backend.
package breaker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sentinel "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/config"
)

var ErrOpen = errors.New("breaker: circuit open")

var errUpstream = errors.New("upstream failure")

type Options struct {
	Resource string
	// ErrorThreshold is the number of failures within StatInterval that opens
	// the circuit.
	ErrorThreshold int
	MinRequests    int
	StatInterval   time.Duration
	// RetryTimeout is how long the circuit stays open before a probe.
	RetryTimeout time.Duration
}

// Breaker owns the process-wide sentinel rule set; create one per process.
type Breaker struct {
	resource string
}

var (
	initOnce sync.Once
	initErr  error
)

func initSentinel() error {
	initOnce.Do(func() {
		conf := config.NewDefaultConfig()
		conf.Sentinel.App.Name = "inspection-gateway"
		conf.Sentinel.Log.Dir = filepath.Join(os.TempDir(), "inspection-gateway", "sentinel")
		initErr = sentinel.InitWithConfig(conf)
	})
	return initErr
}

func New(opts Options) (*Breaker, error) {
	if opts.Resource == "" {
		opts.Resource = "backend"
	}
	if opts.ErrorThreshold <= 0 {
		return nil, fmt.Errorf("breaker: error threshold must be > 0")
	}
	if opts.MinRequests <= 0 {
		opts.MinRequests = opts.ErrorThreshold
	}
	if opts.StatInterval <= 0 {
		opts.StatInterval = 10 * time.Second
	}
	if opts.RetryTimeout <= 0 {
		opts.RetryTimeout = 5 * time.Second
	}
	if err := initSentinel(); err != nil {
		return nil, fmt.Errorf("breaker: init sentinel: %w", err)
	}

	_, err := circuitbreaker.LoadRules([]*circuitbreaker.Rule{{
		Resource:         opts.Resource,
		Strategy:         circuitbreaker.ErrorCount,
		RetryTimeoutMs:   uint32(opts.RetryTimeout.Milliseconds()),
		MinRequestAmount: uint64(opts.MinRequests),
		StatIntervalMs:   uint32(opts.StatInterval.Milliseconds()),
		Threshold:        float64(opts.ErrorThreshold),
	}})
	if err != nil {
		return nil, fmt.Errorf("breaker: load rules: %w", err)
	}
	return &Breaker{resource: opts.Resource}, nil
}

// Guard reserves a call. It returns ErrOpen when the circuit is open;
// otherwise done must be called exactly once with the call's result.
func (b *Breaker) Guard() (done func(failed bool), err error) {
	e, blocked := sentinel.Entry(b.resource, sentinel.WithTrafficType(base.Outbound))
	if blocked != nil {
		return nil, ErrOpen
	}
	return func(failed bool) {
		if failed {
			sentinel.TraceError(e, errUpstream)
		}
		e.Exit()
	}, nil
}
