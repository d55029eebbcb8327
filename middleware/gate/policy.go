package gate

import (
	"errors"

	"inspection-gateway/middleware/anomaly"
	"inspection-gateway/middleware/validate"
)

// Policy is the hot-swappable part of the gate's configuration. A Policy is
// never mutated once published; reloads build a new one.
type Policy struct {
	MaxBodyBytes   int64
	Scorer         *anomaly.Scorer
	BlockThreshold int
	// Validators may be nil when no route requires validation.
	Validators *validate.Registry
}

func (p *Policy) Validate() error {
	if p == nil {
		return errors.New("gate: nil policy")
	}
	if p.MaxBodyBytes <= 0 {
		return errors.New("gate: max body bytes must be > 0")
	}
	if p.Scorer == nil {
		return errors.New("gate: scorer is required")
	}
	if p.BlockThreshold <= 0 {
		return errors.New("gate: block threshold must be > 0")
	}
	return nil
}
