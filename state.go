package parallelize

import "fmt"

// State is the position of a run in its life cycle:
//
//	Idle -> RunningBatch -> Evaluating -> RunningBatch (next batch)
//	                                   -> RollingBack -> Aborted
//	                                   -> Completed
//
// A run with no units goes from Idle straight to Completed.
type State int

const (
	// Idle means the run has not started any batch yet
	Idle State = iota

	// RunningBatch means the workers of the current batch are running and the
	// run is blocked joining them
	RunningBatch

	// Evaluating means the current batch has been joined and its outcomes are
	// being inspected
	Evaluating

	// RollingBack means a batch failed and the rollback sweep is in progress
	RollingBack

	// Completed means every batch finished without failure
	Completed

	// Aborted means a batch failed and the rollback sweep has finished
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RunningBatch:
		return "RunningBatch"
	case Evaluating:
		return "Evaluating"
	case RollingBack:
		return "RollingBack"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("invalid State: %d", s)
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == Completed || s == Aborted
}
