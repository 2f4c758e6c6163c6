// Package gate implements the confidence-gated decision policy.
//
// The gate is a pure, total function over a validated plan's confidence
// score: the same score and thresholds always yield the same decision.
// It classifies intent only; notification and persistence are the
// caller's concern.
package gate

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned when thresholds violate 0 <= min <= auto <= 1.
var ErrInvalidThresholds = errors.New("invalid confidence thresholds")

// Decision is the terminal label assigned to a plan.
type Decision string

const (
	// Discard means confidence is too low to act on at all.
	Discard Decision = "discard"
	// NeedsHuman means the plan should be reviewed before execution.
	NeedsHuman Decision = "needs_human"
	// AutoFix means the plan is confident enough for automatic execution.
	AutoFix Decision = "auto_fix"
)

// rank orders decisions by confidence: discard < needs_human < auto_fix.
func (d Decision) rank() int {
	switch d {
	case NeedsHuman:
		return 1
	case AutoFix:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether d is at least as confident as other under the
// ordering discard < needs_human < auto_fix.
func (d Decision) AtLeast(other Decision) bool {
	return d.rank() >= other.rank()
}

// Thresholds is the process-wide confidence configuration, loaded once at
// startup and snapshotted onto every Run so replay is reproducible.
type Thresholds struct {
	// Min is the floor below which plans are discarded.
	Min float64 `json:"min" koanf:"min"`
	// Auto is the bar at or above which plans qualify for auto_fix.
	Auto float64 `json:"auto" koanf:"auto"`
}

// Validate enforces 0 <= min <= auto <= 1.
func (t Thresholds) Validate() error {
	if t.Min < 0 || t.Auto > 1 || t.Min > t.Auto {
		return fmt.Errorf("%w: min=%.2f auto=%.2f", ErrInvalidThresholds, t.Min, t.Auto)
	}
	return nil
}

// Decide classifies a confidence score against the thresholds:
//
//	confidence <  min          -> Discard
//	min <= confidence < auto   -> NeedsHuman
//	confidence >= auto         -> AutoFix
func Decide(confidence float64, t Thresholds) Decision {
	switch {
	case confidence >= t.Auto:
		return AutoFix
	case confidence >= t.Min:
		return NeedsHuman
	default:
		return Discard
	}
}
