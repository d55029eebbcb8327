package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileSink appends one JSON object per line. Rotation is handled by
// lumberjack; zapcore.Lock serialises writers so lines never interleave.
type FileSink struct {
	core   zapcore.Core
	closer func() error
}

func NewFileSink(opts FileOptions) (*FileSink, error) {
	if opts.Path == "" {
		return nil, errors.New("audit: file path is required")
	}
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	s := NewWriterSink(zapcore.AddSync(lj))
	s.closer = lj.Close
	return s, nil
}

// NewWriterSink writes records to any zap WriteSyncer.
func NewWriterSink(ws zapcore.WriteSyncer) *FileSink {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		// only the record fields are emitted
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	})
	return &FileSink{core: zapcore.NewCore(enc, zapcore.Lock(ws), zapcore.InfoLevel)}
}

func (s *FileSink) Write(_ context.Context, rec Record) error {
	return s.core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Time: rec.Timestamp}, rec.Fields())
}

func (s *FileSink) Close() error {
	err := s.core.Sync()
	if s.closer != nil {
		err = errors.Join(err, s.closer())
	}
	return err
}

// Fields renders the record as zap fields, in a stable order.
func (r Record) Fields() []zap.Field {
	f := []zap.Field{
		zap.String("id", r.ID),
		zap.Time("timestamp", r.Timestamp),
		zap.String("client", r.ClientID),
		zap.String("method", r.Method),
		zap.String("path", r.Path),
		zap.Int("risk_score", r.RiskScore),
		zap.String("body", r.Body),
		zap.String("outcome", string(r.Outcome)),
	}
	if r.Status != 0 {
		f = append(f, zap.Int("status", r.Status))
	}
	if r.Reason != "" {
		f = append(f, zap.String("reason", r.Reason))
	}
	if r.Stage != "" {
		f = append(f, zap.String("stage", r.Stage))
	}
	return f
}
