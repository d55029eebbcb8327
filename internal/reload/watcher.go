// Package reload watches the configuration file and triggers a policy reload
// when it changes. A failed reload leaves the running policy in place.
package reload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Watcher struct {
	path     string
	reload   func() error
	logger   *zap.Logger
	debounce time.Duration
}

type Option func(*Watcher)

// WithDebounce coalesces bursts of events (editors often write twice).
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func New(path string, reload func() error, logger *zap.Logger, opts ...Option) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("reload: config path is required")
	}
	if reload == nil {
		return nil, errors.New("reload: reload func is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{path: abs, reload: reload, logger: logger, debounce: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run blocks until ctx is done. The file's directory is watched rather than
// the file so atomic rename-over saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("reload: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching config", zap.String("path", w.path))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := w.reload(); err != nil {
				w.logger.Warn("config reload failed, keeping current policy", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
