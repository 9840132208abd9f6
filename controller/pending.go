package controller

import (
	"time"

	"github.com/plugwise/stick-go/wire"
)

// PendingState is a request's position in the
// Submitted -> AckedByStick -> Responded -> Done lifecycle, with
// TimedOut branching to Retry (back to Submitted) or Failed.
type PendingState int

const (
	Submitted PendingState = iota
	AckedByStick
	Responded
	Done
	TimedOut
	Failed
)

func (s PendingState) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case AckedByStick:
		return "acked_by_stick"
	case Responded:
		return "responded"
	case Done:
		return "done"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ResultFunc is invoked exactly once per Submit call: either with the
// final response frame and a nil error, or with a zero Frame and a
// non-nil error (errs.TimeoutException after retries are exhausted).
//
// Declared as a plain, unnamed-compatible function type (not wrapped
// further) so Controller satisfies node.Submitter structurally without
// either package importing the other's named type.
type ResultFunc = func(wire.Frame, error)

// pendingRequest tracks one in-flight request's retry state. It is
// touched only while the controller's mutex is held, except for the
// final state write made after it has been removed from the pending
// table.
type pendingRequest struct {
	seqID    uint16
	mac      string
	frame    wire.Frame // the encoded request, rebuilt with a fresh seq id on each retry
	priority int
	state    PendingState
	attempt  int
	deadline time.Time
	result   ResultFunc
}
