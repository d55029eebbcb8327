package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStreamOptions struct {
	Stream string
	// MaxLen caps the stream approximately (XADD MAXLEN ~). Zero means unbounded.
	MaxLen  int64
	Timeout time.Duration
}

// RedisStreamSink appends records to a Redis stream with XADD. The client
// is owned by the caller and is not closed by Close.
type RedisStreamSink struct {
	rdb     redis.Cmdable
	stream  string
	maxLen  int64
	timeout time.Duration
}

func NewRedisStreamSink(rdb redis.Cmdable, opts RedisStreamOptions) (*RedisStreamSink, error) {
	if rdb == nil {
		return nil, errors.New("audit: redis client is required")
	}
	if opts.Stream == "" {
		opts.Stream = "gateway:audit"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	return &RedisStreamSink{rdb: rdb, stream: opts.Stream, maxLen: opts.MaxLen, timeout: opts.Timeout}, nil
}

func (s *RedisStreamSink) Stream() string { return s.stream }

func (s *RedisStreamSink) Write(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: rec.Values(),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("audit: xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisStreamSink) Close() error { return nil }

// Values flattens the record into stream entry fields.
func (r Record) Values() map[string]any {
	v := map[string]any{
		"id":         r.ID,
		"timestamp":  r.Timestamp.UTC().Format(time.RFC3339Nano),
		"client":     r.ClientID,
		"method":     r.Method,
		"path":       r.Path,
		"risk_score": strconv.Itoa(r.RiskScore),
		"body":       r.Body,
		"outcome":    string(r.Outcome),
	}
	if r.Status != 0 {
		v["status"] = strconv.Itoa(r.Status)
	}
	if r.Reason != "" {
		v["reason"] = r.Reason
	}
	if r.Stage != "" {
		v["stage"] = r.Stage
	}
	return v
}
