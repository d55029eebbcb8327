package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func sampleRecord(i int) Record {
	return Record{
		ID:        NewID(),
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ClientID:  "10.0.0.1",
		Method:    "POST",
		Path:      "/login",
		RiskScore: i,
		Body:      `{"username":"bob"}`,
		Outcome:   OutcomeAllow,
		Status:    200,
	}
}

func TestWriterSink_OneJSONLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(zapcore.AddSync(&buf))

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Write(context.Background(), sampleRecord(i)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := 0
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var got Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &got), sc.Text())
		assert.Equal(t, "/login", got.Path)
		assert.Equal(t, OutcomeAllow, got.Outcome)
		assert.NotEmpty(t, got.ID)
		lines++
	}
	assert.Equal(t, n, lines)
}

func TestWriterSink_OmitsEmptyReasonAndStage(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(zapcore.AddSync(&buf))
	require.NoError(t, s.Write(context.Background(), sampleRecord(0)))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.NotContains(t, m, "reason")
	assert.NotContains(t, m, "stage")
	assert.NotContains(t, m, "level")
	assert.Equal(t, "2026-01-02T03:04:05Z", m["timestamp"])
}

func TestFileSink_WritesToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewFileSink(FileOptions{Path: path})
	require.NoError(t, err)

	rec := sampleRecord(80)
	rec.Outcome, rec.Status, rec.Reason, rec.Stage = OutcomeBlock, 403, "keywords: drop", "score"
	require.NoError(t, s.Write(context.Background(), rec))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Record
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &got))
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, 80, got.RiskScore)
	assert.Equal(t, "score", got.Stage)

	_, err = NewFileSink(FileOptions{})
	assert.Error(t, err)
}

type slowSink struct {
	mu      sync.Mutex
	release chan struct{}
	got     []Record
	closed  bool
}

func (s *slowSink) Write(_ context.Context, rec Record) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, rec)
	return nil
}

func (s *slowSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestAsyncSink_DropsWhenFullAndDrainsOnClose(t *testing.T) {
	inner := &slowSink{release: make(chan struct{})}
	s := NewAsyncSink(inner, AsyncOptions{Buffer: 2})

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Write(context.Background(), sampleRecord(i)))
	}
	// worker holds at most one record, the buffer two more
	assert.GreaterOrEqual(t, s.Dropped(), uint64(7))

	close(inner.release)
	require.NoError(t, s.Close())

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.True(t, inner.closed)
	assert.Equal(t, uint64(10), uint64(len(inner.got))+s.Dropped())

	assert.ErrorIs(t, s.Write(context.Background(), sampleRecord(0)), ErrClosed)
	assert.NoError(t, s.Close())
}

type errSink struct{ err error }

func (e errSink) Write(context.Context, Record) error { return e.err }
func (e errSink) Close() error                        { return nil }

func TestAsyncSink_CountsFailures(t *testing.T) {
	s := NewAsyncSink(errSink{err: errors.New("disk full")}, AsyncOptions{})
	require.NoError(t, s.Write(context.Background(), sampleRecord(1)))
	require.NoError(t, s.Close())
	assert.Equal(t, uint64(1), s.Failed())
}

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var buf bytes.Buffer
	m := Multi{errSink{err: boom}, nil, NewWriterSink(zapcore.AddSync(&buf)), Nop{}}

	err := m.Write(context.Background(), sampleRecord(1))
	assert.ErrorIs(t, err, boom)
	assert.NotZero(t, buf.Len())
	assert.NoError(t, m.Close())
}

func TestRecord_Values(t *testing.T) {
	rec := sampleRecord(40)
	rec.Reason = "why"
	v := rec.Values()
	assert.Equal(t, "40", v["risk_score"])
	assert.Equal(t, "200", v["status"])
	assert.Equal(t, "why", v["reason"])
	assert.NotContains(t, v, "stage")
}

func TestRedisStreamSink_ReportsUnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	s, err := NewRedisStreamSink(rdb, RedisStreamOptions{MaxLen: 100, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "gateway:audit", s.Stream())

	assert.Error(t, s.Write(context.Background(), sampleRecord(0)))
	assert.NoError(t, s.Close())

	_, err = NewRedisStreamSink(nil, RedisStreamOptions{})
	assert.Error(t, err)
}
