// Package audit defines the append-only record sink the gate writes one
// record to for every inspected request, plus file, Redis stream, async and
// fan-out implementations.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeAllow  Outcome = "allow"
	OutcomeBlock  Outcome = "block"
	OutcomeReject Outcome = "reject"
	OutcomeError  Outcome = "error"
)

// Record is one inspected request. Status is zero for forwarded requests:
// the record is written before the backend answers.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ClientID  string    `json:"client"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	RiskScore int       `json:"risk_score"`
	Body      string    `json:"body"`
	Outcome   Outcome   `json:"outcome"`
	Status    int       `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Stage     string    `json:"stage,omitempty"`
}

// NewID returns a fresh random record id.
func NewID() string { return uuid.NewString() }

// Sink accepts records. Implementations must write each record atomically and
// must not block indefinitely.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

type Nop struct{}

func (Nop) Write(context.Context, Record) error { return nil }
func (Nop) Close() error                        { return nil }

// Multi writes every record to each sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
