package graph

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes invariant violations.
type ErrorCode string

const (
	// CodeNodeExists indicates a node id was registered twice.
	CodeNodeExists ErrorCode = "NODE_EXISTS"

	// CodeNodeMissing indicates an operation referenced an unknown node.
	CodeNodeMissing ErrorCode = "NODE_MISSING"

	// CodeNodeRetained indicates removal of a node that is still retained.
	CodeNodeRetained ErrorCode = "NODE_RETAINED"

	// CodeNotRetained indicates a release without a matching retain.
	CodeNotRetained ErrorCode = "NOT_RETAINED"

	// CodeInvalidEdge indicates an edge operation without a valid kind.
	CodeInvalidEdge ErrorCode = "INVALID_EDGE"

	// CodeProcessReentry indicates Process was called from inside Process.
	CodeProcessReentry ErrorCode = "PROCESS_REENTRY"

	// CodeStepQuota indicates a single Process exceeded its visit budget.
	CodeStepQuota ErrorCode = "STEP_QUOTA"

	// CodeCyclePassLimit indicates a node's cycle membership never settled.
	CodeCyclePassLimit ErrorCode = "CYCLE_PASS_LIMIT"

	// CodeOrderCorrupt is reported by Check when an invariant does not hold.
	CodeOrderCorrupt ErrorCode = "ORDER_CORRUPT"
)

// InvariantError reports a programmer error against the graph. These are
// fatal to the operation that caused them and are never retried.
type InvariantError struct {
	Code    ErrorCode
	Node    NodeID
	Message string
}

func (e *InvariantError) Error() string {
	if e.Node != 0 {
		return fmt.Sprintf("%s: %s (node=%d)", e.Code, e.Message, e.Node)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newInvariantError(code ErrorCode, node NodeID, format string, args ...any) *InvariantError {
	return &InvariantError{
		Code:    code,
		Node:    node,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsInvariantError reports whether err wraps an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// HasCode reports whether err wraps an InvariantError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}
