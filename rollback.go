package parallelize

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RollbackContext is everything the rollback hook gets to know about one
// rolled back context: a worker of the failed batch, or the root context of
// the run (Root set, Worker -1).
type RollbackContext struct {
	Root   bool
	RunID  uuid.UUID
	Batch  int
	Worker int
	Name   string
	// Data is the opaque value attached with Collector.RunWith
	Data any
	// Cause is the worker's *LaunchError or *ExecutionError, nil for a worker
	// that succeeded and for the root context
	Cause error
	// Requests are the undo steps registered with OnRollback, oldest first
	Requests []RollbackRequest
}

// Rollbacker performs the domain-specific undo for one rollback context
type Rollbacker interface {
	Rollback(ctx context.Context, rc RollbackContext) error
}

// RollbackFunc adapts a function to Rollbacker
type RollbackFunc func(ctx context.Context, rc RollbackContext) error

// Rollback calls f(ctx, rc)
func (f RollbackFunc) Rollback(ctx context.Context, rc RollbackContext) error {
	return f(ctx, rc)
}

// ReplayRollbacker undoes a context by running its registered requests newest
// first. A failing request does not prevent the older ones from running.
type ReplayRollbacker struct{}

// Rollback replays rc.Requests in reverse
func (ReplayRollbacker) Rollback(ctx context.Context, rc RollbackContext) error {
	var err error
	for i := len(rc.Requests) - 1; i >= 0; i-- {
		req := rc.Requests[i]
		if undoErr := RunTask(ctx, req.Undo); undoErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", req.Name, undoErr))
		}
	}
	return err
}

// Coordinator runs the rollback sweep of an aborted run.
//
// Every worker passed to Rollback is rolled back at most once, and the root
// context exactly once, after all the workers of the first sweep. Calling
// Rollback again only picks up workers that were not rolled back yet.
type Coordinator struct {
	rollbacker Rollbacker
	reporter   Reporter
	metrics    *MetricLabeler
	lggr       *zap.Logger
	runID      uuid.UUID
	batch      int
	limit      int

	rootDone bool
}

func (r *Runner) newCoordinator(lggr *zap.Logger, runID uuid.UUID, batch int) *Coordinator {
	return &Coordinator{
		rollbacker: r.rollbacker,
		reporter:   r.reporter,
		metrics:    r.metrics,
		lggr:       lggr,
		runID:      runID,
		batch:      batch,
		limit:      r.rollbackLimit,
	}
}

// Rollback invokes the hook for every worker that is not rolled back yet, then
// for the root context carried by ctx (see WithRootJournal) unless that was
// done already. Hook failures and panics are reported and combined into the
// returned error; they never stop the sweep.
//
// The sweep runs on a context that is not cancelled with ctx.
func (c *Coordinator) Rollback(ctx context.Context, workers []*Worker) error {
	ctx = context.WithoutCancel(ctx)

	var pending []*Worker
	for _, w := range workers {
		if !w.RolledBack {
			pending = append(pending, w)
		}
	}

	errs := make([]error, len(pending))
	if c.limit > 1 && len(pending) > 1 {
		var eg errgroup.Group
		eg.SetLimit(c.limit)
		for i, w := range pending {
			eg.Go(func() error {
				errs[i] = c.rollbackWorker(ctx, w)
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for i, w := range pending {
			errs[i] = c.rollbackWorker(ctx, w)
		}
	}

	err := multierr.Combine(errs...)
	if !c.rootDone {
		c.rootDone = true
		err = multierr.Append(err, c.rollbackRoot(ctx))
	}
	return err
}

func (c *Coordinator) rollbackWorker(ctx context.Context, w *Worker) error {
	c.lggr.Debug("Rolling back worker", workerFields(w)...)
	err := runRollback(ctx, c.rollbacker, w.rollbackContext(c.runID))
	w.RolledBack = true
	if err == nil {
		c.metrics.IncrementRollbacks(scopeWorker, true)
		return nil
	}

	c.metrics.IncrementRollbacks(scopeWorker, false)
	rbErr := &RollbackError{Batch: w.Batch, Worker: w.Index, Name: w.Name, Err: err}
	c.reporter.ReportFailure(Failure{
		RunID:  c.runID,
		Kind:   RollbackFailure,
		Batch:  w.Batch,
		Worker: w.Index,
		Name:   w.Name,
		Err:    rbErr,
		Stack:  stackOf(err),
	})
	return rbErr
}

func (c *Coordinator) rollbackRoot(ctx context.Context) error {
	c.lggr.Debug("Rolling back root context", zap.Int("batch", c.batch))
	rc := RollbackContext{
		Root:     true,
		RunID:    c.runID,
		Batch:    c.batch,
		Worker:   -1,
		Requests: journalFrom(ctx).snapshot(),
	}
	err := runRollback(ctx, c.rollbacker, rc)
	if err == nil {
		c.metrics.IncrementRollbacks(scopeRoot, true)
		return nil
	}

	c.metrics.IncrementRollbacks(scopeRoot, false)
	rbErr := &RollbackError{Root: true, Batch: c.batch, Worker: -1, Err: err}
	c.reporter.ReportFailure(Failure{
		RunID:  c.runID,
		Kind:   RollbackFailure,
		Batch:  c.batch,
		Worker: -1,
		Root:   true,
		Err:    rbErr,
		Stack:  stackOf(err),
	})
	return rbErr
}
