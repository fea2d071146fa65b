package parallelize

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrPanic is the error type that occurs when a task or a rollback hook panics
type ErrPanic struct {
	Value interface{}
	Stack []byte
}

func (err ErrPanic) Error() string {
	return fmt.Sprintf("panic: %s", err.Value)
}

// Unwrap returns the error passed to panic, or nil if panic was called with
// something other than an error
func (err ErrPanic) Unwrap() error {
	if e, ok := err.Value.(error); ok {
		return e
	}
	return nil
}

// RunTask executes the task in the current goroutine, recovering from panics.
// A panic is returned as ErrPanic.
func RunTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = ErrPanic{Value: p, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

func runRollback(ctx context.Context, rollbacker Rollbacker, rc RollbackContext) error {
	return RunTask(ctx, func(ctx context.Context) error {
		return rollbacker.Rollback(ctx, rc)
	})
}

// stackOf returns the stack captured for a panic somewhere in err's chain
func stackOf(err error) []byte {
	var p ErrPanic
	if errors.As(err, &p) {
		return p.Stack
	}
	return nil
}
