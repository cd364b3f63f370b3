package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/ripple/internal/graph"
)

// ErrCycle is the sentinel matched by errors.Is for every cycle error.
var ErrCycle = errors.New("cycle reached")

// RuntimeError represents an error surfaced by the engine.
//
// Runtime errors include:
//   - Cycle: a calculation observed itself while still computing
//   - Calculation errors: a calculation body returned an error
//   - Invariant violations: misuse of the graph API (double registration,
//     removing a retained node, flushing from inside a flush)
//   - Disposed: a disposed calculation was invoked
//   - Over-release: release without a matching retain
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Node identifies the affected node, if any.
	Node graph.NodeID

	// Label is the node's debug label, if any.
	Label string

	// Err is the underlying error (user error for CALC_ERROR, graph error for
	// INVARIANT).
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeCycle indicates a calculation depends on itself.
	ErrCodeCycle RuntimeErrorCode = "CYCLE"

	// ErrCodeCalc wraps an error returned by a calculation body.
	ErrCodeCalc RuntimeErrorCode = "CALC_ERROR"

	// ErrCodeInvariant indicates a programmer error against the engine.
	ErrCodeInvariant RuntimeErrorCode = "INVARIANT"

	// ErrCodeDisposed indicates use of a disposed calculation.
	ErrCodeDisposed RuntimeErrorCode = "DISPOSED"

	// ErrCodeOverRelease indicates a release without a matching retain.
	ErrCodeOverRelease RuntimeErrorCode = "OVER_RELEASE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Label != "" {
		msg = fmt.Sprintf("%s (node=%s)", msg, e.Label)
	} else if e.Node != 0 {
		msg = fmt.Sprintf("%s (node=%d)", msg, e.Node)
	}
	if e.Err != nil && e.Code != ErrCodeCycle {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying error. Cycle errors unwrap to ErrCycle.
func (e *RuntimeError) Unwrap() error {
	if e.Code == ErrCodeCycle && e.Err == nil {
		return ErrCycle
	}
	return e.Err
}

// IsCycleError returns true if the error is a cycle error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeCycle
	}
	return false
}

// IsCalcError returns true if the error wraps a calculation body error.
func IsCalcError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeCalc
	}
	return false
}

// IsInvariantError returns true if the error is a programmer error: an
// engine invariant, a disposed node, or an over-release.
func IsInvariantError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		switch re.Code {
		case ErrCodeInvariant, ErrCodeDisposed, ErrCodeOverRelease:
			return true
		}
	}
	return graph.IsInvariantError(err)
}

// NewCycleError creates a RuntimeError for a calculation found in a cycle.
func NewCycleError(node graph.NodeID, label string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCycle,
		Message: "cycle reached",
		Node:    node,
		Label:   label,
	}
}

// wrapCalcError wraps a calculation body error. Runtime errors from nested
// calculations pass through unchanged so their code survives.
func wrapCalcError(node graph.NodeID, label string, err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{
		Code:    ErrCodeCalc,
		Message: "calculation failed",
		Node:    node,
		Label:   label,
		Err:     err,
	}
}

// invariant converts a graph error into a RuntimeError.
func invariant(err error, node graph.NodeID, label string) error {
	if err == nil {
		return nil
	}
	var ge *graph.InvariantError
	if errors.As(err, &ge) && ge.Code == graph.CodeNotRetained {
		return &RuntimeError{
			Code:    ErrCodeOverRelease,
			Message: "release without matching retain",
			Node:    node,
			Label:   label,
			Err:     err,
		}
	}
	return &RuntimeError{
		Code:    ErrCodeInvariant,
		Message: "graph invariant violated",
		Node:    node,
		Label:   label,
		Err:     err,
	}
}
