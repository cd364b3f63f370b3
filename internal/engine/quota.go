package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/ripple/internal/graph"
)

// DefaultMaxFlushSteps is the default number of node visits one flush may
// perform before it is aborted.
const DefaultMaxFlushSteps = graph.DefaultMaxSteps

// DefaultMaxCyclePasses is the default bound on revisits of a node whose
// cycle membership keeps changing within one flush.
const DefaultMaxCyclePasses = graph.DefaultMaxCyclePasses

// StepsExceededError is returned when a flush exceeds its step quota.
//
// This catches calculations that keep re-dirtying each other within a
// flush (an effect writing a field it reads, for example). Cycles through
// dependency edges are handled by cycle records and never hit the quota.
type StepsExceededError struct {
	FlushID string // The flush that exceeded the quota
	Steps   int    // Number of visits taken
	Limit   int    // Maximum allowed visits
	Err     error  // The graph error that stopped the flush
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flush %s exceeded max steps quota: %d steps > %d limit",
		e.FlushID, e.Steps, e.Limit)
}

func (e *StepsExceededError) Unwrap() error {
	return e.Err
}

// IsQuotaError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}

// flushError converts an error from graph processing into the engine's
// error types.
func flushError(flushID string, stats graph.Stats, limit int, err error) error {
	if graph.HasCode(err, graph.CodeStepQuota) {
		return &StepsExceededError{
			FlushID: flushID,
			Steps:   stats.Steps,
			Limit:   limit,
			Err:     err,
		}
	}
	return invariant(err, 0, "")
}
