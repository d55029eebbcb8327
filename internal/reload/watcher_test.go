package reload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string, fn func() error) {
	t.Helper()
	w, err := New(path, fn, nil, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	// give fsnotify time to register the directory
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	var calls atomic.Int64
	startWatcher(t, path, func() error { calls.Add(1); return nil })

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	var calls atomic.Int64
	startWatcher(t, path, func() error { calls.Add(1); return nil })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatcher_FailedReloadKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	var calls atomic.Int64
	startWatcher(t, path, func() error {
		if calls.Add(1) == 1 {
			return errors.New("invalid config")
		}
		return nil
	})

	require.NoError(t, os.WriteFile(path, []byte("broken"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("a: 3\n"), 0o644))
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", func() error { return nil }, nil)
	assert.Error(t, err)
	_, err = New("x.yaml", nil, nil)
	assert.Error(t, err)
}
