package parallelize

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Worker is the handle and outcome record of one unit's execution.
//
// Failed, LaunchFailed and Err are written only by the worker itself and may
// be read once Done is closed. RolledBack is written only by the rollback
// sweep, after the batch has been joined.
type Worker struct {
	// Batch is the index of the batch the worker ran in
	Batch int
	// Index is the position of the unit in the collection
	Index int
	Name  string
	Data  any

	Failed       bool
	LaunchFailed bool
	RolledBack   bool
	// Err is a *LaunchError or an *ExecutionError if Failed is set
	Err error

	journal *journal
	done    chan struct{}
}

func newWorker(batch Batch, i int) *Worker {
	u := batch.Units[i]
	return &Worker{
		Batch:   batch.Index,
		Index:   batch.Offset + i,
		Name:    u.Name,
		Data:    u.Data,
		journal: &journal{},
		done:    make(chan struct{}),
	}
}

func (w *Worker) finish(err error, launchFailed bool) {
	if err != nil {
		w.Failed = true
		w.LaunchFailed = launchFailed
		w.Err = err
	}
	close(w.done)
}

// Done returns a channel that closes when the worker reaches a terminal state
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker has finished. It returns immediately for a
// finished worker.
func (w *Worker) Wait() {
	<-w.done
}

// RollbackRequests returns the undo steps the unit registered while running
func (w *Worker) RollbackRequests() []RollbackRequest {
	return w.journal.snapshot()
}

func (w *Worker) rollbackContext(runID uuid.UUID) RollbackContext {
	return RollbackContext{
		RunID:    runID,
		Batch:    w.Batch,
		Worker:   w.Index,
		Name:     w.Name,
		Data:     w.Data,
		Cause:    w.Err,
		Requests: w.journal.snapshot(),
	}
}

func workerFields(w *Worker) []zap.Field {
	fields := []zap.Field{zap.Int("batch", w.Batch), zap.Int("worker", w.Index)}
	if w.Name != "" {
		fields = append(fields, zap.String("name", w.Name))
	}
	return fields
}

// launch starts one worker per unit of the batch. Workers begin executing
// immediately; a worker whose launch is refused is failed on the spot.
func (r *Runner) launch(ctx context.Context, lggr *zap.Logger, runID uuid.UUID, batch Batch) ([]*Worker, *group) {
	g := newGroup(ctx, r.launcher)
	workers := make([]*Worker, len(batch.Units))
	for i, u := range batch.Units {
		w := newWorker(batch, i)
		workers[i] = w
		lggr.Debug("Running unit in background worker", workerFields(w)...)
		if err := g.spawn(w, u.Task); err != nil {
			r.metrics.IncrementUnits(outcomeLaunchFailed)
			r.reporter.ReportFailure(Failure{
				RunID:  runID,
				Kind:   LaunchFailure,
				Batch:  w.Batch,
				Worker: w.Index,
				Name:   w.Name,
				Err:    w.Err,
			})
		}
	}
	return workers, g
}

// join blocks until every worker of the batch is terminal, then reports
// execution failures in collection order. Nothing is re-raised.
func (r *Runner) join(lggr *zap.Logger, runID uuid.UUID, workers []*Worker, g *group) {
	g.Wait()
	for _, w := range workers {
		w.Wait()
		switch {
		case w.LaunchFailed:
		case w.Failed:
			r.metrics.IncrementUnits(outcomeExecutionFailed)
			r.reporter.ReportFailure(Failure{
				RunID:  runID,
				Kind:   ExecutionFailure,
				Batch:  w.Batch,
				Worker: w.Index,
				Name:   w.Name,
				Err:    w.Err,
				Stack:  stackOf(w.Err),
			})
		default:
			r.metrics.IncrementUnits(outcomeSucceeded)
			lggr.Debug("Unit finished", workerFields(w)...)
		}
	}
}
