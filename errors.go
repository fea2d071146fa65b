package parallelize

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidConfiguration is returned for a batch size below 1
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAborted is matched by every *AbortedError
	ErrAborted = errors.New("run aborted")

	// ErrDefaultBatchSizeSet is returned by SetDefaultBatchSize once the
	// process-wide default has already been set
	ErrDefaultBatchSizeSet = errors.New("default batch size already set")
)

// LaunchError means a worker could not be started for a unit. The unit never
// executed.
type LaunchError struct {
	Batch  int
	Worker int
	Name   string
	Err    error
}

func (err *LaunchError) Error() string {
	return fmt.Sprintf("batch %d: launching %s: %v", err.Batch, unitLabel(err.Worker, err.Name), err.Err)
}

func (err *LaunchError) Unwrap() error {
	return err.Err
}

// ExecutionError means a unit ran and returned an error or panicked
type ExecutionError struct {
	Batch  int
	Worker int
	Name   string
	Err    error
}

func (err *ExecutionError) Error() string {
	return fmt.Sprintf("batch %d: %s failed: %v", err.Batch, unitLabel(err.Worker, err.Name), err.Err)
}

func (err *ExecutionError) Unwrap() error {
	return err.Err
}

// RollbackError means the rollback hook failed for one rollback context. It is
// reported and collected, never allowed to stop the rollback sweep.
type RollbackError struct {
	Root   bool
	Batch  int
	Worker int
	Name   string
	Err    error
}

func (err *RollbackError) Error() string {
	if err.Root {
		return fmt.Sprintf("rolling back root context: %v", err.Err)
	}
	return fmt.Sprintf("batch %d: rolling back %s: %v", err.Batch, unitLabel(err.Worker, err.Name), err.Err)
}

func (err *RollbackError) Unwrap() error {
	return err.Err
}

// AbortedError is returned by a run once the rollback sweep for a failed batch
// has completed.
//
// Causes holds the *LaunchError and *ExecutionError values of the failed batch
// in collection order. RollbackErr combines every *RollbackError from the
// sweep, or is nil if the sweep was clean.
type AbortedError struct {
	RunID       uuid.UUID
	Batch       int
	Causes      []error
	RollbackErr error
}

func (err *AbortedError) Error() string {
	msg := fmt.Sprintf("run aborted in batch %d: %d unit(s) failed", err.Batch, len(err.Causes))
	if len(err.Causes) > 0 {
		msg += ", first: " + err.Causes[0].Error()
	}
	if err.RollbackErr != nil {
		msg += "; rollback: " + err.RollbackErr.Error()
	}
	return msg
}

// Unwrap makes ErrAborted and every cause reachable with errors.Is and
// errors.As
func (err *AbortedError) Unwrap() []error {
	return append([]error{ErrAborted}, err.Causes...)
}

func unitLabel(index int, name string) string {
	if name == "" {
		return fmt.Sprintf("unit %d", index)
	}
	return fmt.Sprintf("unit %d (%s)", index, name)
}
