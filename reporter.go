package parallelize

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailureKind tells which stage of a run a failure came from
type FailureKind int

const (
	// LaunchFailure means a worker could not be started
	LaunchFailure FailureKind = iota

	// ExecutionFailure means a unit returned an error or panicked
	ExecutionFailure

	// RollbackFailure means the rollback hook failed for a worker or for the
	// root context
	RollbackFailure
)

func (kind FailureKind) String() string {
	switch kind {
	case LaunchFailure:
		return "LaunchFailure"
	case ExecutionFailure:
		return "ExecutionFailure"
	case RollbackFailure:
		return "RollbackFailure"
	default:
		return fmt.Sprintf("invalid FailureKind: %d", kind)
	}
}

// Failure is the structured record handed to a Reporter. Worker is -1 for a
// failure of the root context's rollback. Stack is set when the failure was a
// panic.
type Failure struct {
	RunID  uuid.UUID
	Kind   FailureKind
	Batch  int
	Worker int
	Name   string
	Root   bool
	Err    error
	Stack  []byte
}

// Reporter is the sink for failures observed during a run. It is called from
// the goroutine driving the run, or from rollback goroutines when rollback runs
// in parallel, so implementations must be safe for concurrent use.
type Reporter interface {
	ReportFailure(f Failure)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(f Failure)

// ReportFailure calls f(failure)
func (f ReporterFunc) ReportFailure(failure Failure) {
	f(failure)
}

// LogReporter writes every failure as an error entry
type LogReporter struct {
	lggr *zap.Logger
}

// NewLogReporter creates a reporter logging to lggr
func NewLogReporter(lggr *zap.Logger) *LogReporter {
	return &LogReporter{lggr: lggr}
}

// ReportFailure logs f
func (r *LogReporter) ReportFailure(f Failure) {
	fields := []zap.Field{
		zap.Stringer("run_id", f.RunID),
		zap.Stringer("kind", f.Kind),
		zap.Int("batch", f.Batch),
	}
	if f.Root {
		fields = append(fields, zap.Bool("root", true))
	} else {
		fields = append(fields, zap.Int("worker", f.Worker))
	}
	if f.Name != "" {
		fields = append(fields, zap.String("name", f.Name))
	}
	fields = append(fields, zap.Error(f.Err))
	if len(f.Stack) > 0 {
		fields = append(fields, zap.ByteString("errortrace", f.Stack))
	}

	switch f.Kind {
	case LaunchFailure:
		r.lggr.Error("Could not start worker", fields...)
	case RollbackFailure:
		r.lggr.Error("Rollback failed", fields...)
	default:
		r.lggr.Error("Worker failed", fields...)
	}
}
