package parallelize

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner executes collections in fixed-size batches.
//
// Batches run one after another; the units of a batch run concurrently, one
// worker each. After a batch is joined, a single failed worker makes the run
// roll back every worker of that batch, then the caller's root context, and
// abort. Later batches never start.
//
// A Runner holds no per-run state and may be used for several runs, also
// concurrently.
type Runner struct {
	rollbacker    Rollbacker
	lggr          *zap.Logger
	reporter      Reporter
	launcher      Launcher
	metrics       *MetricLabeler
	batchSize     int
	hasBatchSize  bool
	rollbackLimit int
}

// Option configures a Runner
type Option func(r *Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(lggr *zap.Logger) Option {
	return func(r *Runner) {
		r.lggr = lggr
	}
}

// WithReporter sets the failure sink. The default logs failures with the
// runner's logger.
func WithReporter(reporter Reporter) Option {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

// WithLauncher sets how workers are started. The default is GoLauncher.
func WithLauncher(launcher Launcher) Option {
	return func(r *Runner) {
		r.launcher = launcher
	}
}

// WithMetrics sets the metric labeler. The default records nothing.
func WithMetrics(metrics *MetricLabeler) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithBatchSize fixes the batch size instead of reading DefaultBatchSize at
// the start of each run. A size below 1 makes every run fail with
// ErrInvalidConfiguration.
func WithBatchSize(size int) Option {
	return func(r *Runner) {
		r.batchSize = size
		r.hasBatchSize = true
	}
}

// WithParallelRollback lets up to limit worker rollbacks run at once. The
// root context is still rolled back alone, after all of them.
func WithParallelRollback(limit int) Option {
	return func(r *Runner) {
		r.rollbackLimit = limit
	}
}

// New creates a runner using rollbacker as the rollback hook. A nil
// rollbacker means ReplayRollbacker.
func New(rollbacker Rollbacker, opts ...Option) *Runner {
	r := &Runner{
		rollbacker:    rollbacker,
		launcher:      GoLauncher{},
		rollbackLimit: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rollbacker == nil {
		r.rollbacker = ReplayRollbacker{}
	}
	if r.lggr == nil {
		r.lggr = zap.NewNop()
	}
	if r.reporter == nil {
		r.reporter = NewLogReporter(r.lggr)
	}
	if r.metrics == nil {
		r.metrics = NewNoopMetricLabeler()
	}
	return r
}

// Run runs coll with the runner's batch size, or DefaultBatchSize if none was
// set.
//
// Run returns only after the run reached a terminal state. On success the
// result holds one worker per unit. If a batch failed, Run returns the partial
// result in state Aborted together with an *AbortedError, after the rollback
// sweep has completed.
//
// ctx is handed to every unit and its rollback journal, if any (see
// WithRootJournal), is rolled back last when the run aborts.
//
// Example:
//
//	ctx = parallelize.WithRootJournal(ctx)
//	coll := parallelize.Collect(func(c *parallelize.Collector) {
//	    for _, host := range hosts {
//	        c.RunNamed(host, func(ctx context.Context) error {
//	            if err := upload(ctx, host); err != nil {
//	                return err
//	            }
//	            parallelize.OnRollback(ctx, "upload", func(ctx context.Context) error {
//	                return remove(ctx, host)
//	            })
//	            return nil
//	        })
//	    }
//	})
//	res, err := parallelize.New(nil, parallelize.WithBatchSize(5)).Run(ctx, coll)
func (r *Runner) Run(ctx context.Context, coll Collection) (*RunResult, error) {
	size := DefaultBatchSize()
	if r.hasBatchSize {
		size = r.batchSize
	}
	return r.RunBatches(ctx, coll, size)
}

// RunBatches is like Run with an explicit batch size
func (r *Runner) RunBatches(ctx context.Context, coll Collection, size int) (*RunResult, error) {
	batches, err := Partition(coll.units, size)
	if err != nil {
		return nil, err
	}

	res := &RunResult{ID: uuid.New(), State: Idle}
	lggr := r.lggr.With(zap.Stringer("run_id", res.ID))
	started := time.Now()
	defer func() {
		r.metrics.RecordRunDuration(time.Since(started), res.State)
	}()

	lggr.Info("Running units in batches",
		zap.Int("units", coll.Len()),
		zap.Int("batch_size", size),
		zap.Int("batches", len(batches)))

	for _, batch := range batches {
		r.transition(lggr, res, RunningBatch, batch.Index)
		lggr.Info("Running batch", zap.Int("batch_number", batch.Index+1), zap.Int("units", len(batch.Units)))
		r.metrics.IncrementBatchesStarted()

		workers, g := r.launch(ctx, lggr, res.ID, batch)
		res.Batches = append(res.Batches, workers)
		r.join(lggr, res.ID, workers, g)

		r.transition(lggr, res, Evaluating, batch.Index)
		var causes []error
		for _, w := range workers {
			if w.Failed {
				causes = append(causes, w.Err)
			}
		}
		if len(causes) == 0 {
			continue
		}

		r.transition(lggr, res, RollingBack, batch.Index)
		rbErr := r.newCoordinator(lggr, res.ID, batch.Index).Rollback(ctx, workers)
		r.transition(lggr, res, Aborted, batch.Index)
		lggr.Error("Aborting run: workers failed and were rolled back",
			zap.Int("batch_number", batch.Index+1),
			zap.Int("failed", len(causes)),
			zap.NamedError("rollback_error", rbErr))
		return res, &AbortedError{RunID: res.ID, Batch: batch.Index, Causes: causes, RollbackErr: rbErr}
	}

	r.transition(lggr, res, Completed, len(batches)-1)
	lggr.Info("All batches completed", zap.Int("batches", len(batches)))
	return res, nil
}

func (r *Runner) transition(lggr *zap.Logger, res *RunResult, to State, batch int) {
	lggr.Debug("Run state changed",
		zap.Stringer("from", res.State),
		zap.Stringer("to", to),
		zap.Int("batch", batch))
	res.State = to
}

// RunBatches runs coll with the given batch size on a runner built from
// rollbacker and opts
func RunBatches(ctx context.Context, coll Collection, size int, rollbacker Rollbacker, opts ...Option) (*RunResult, error) {
	return New(rollbacker, opts...).RunBatches(ctx, coll, size)
}

// Parallelize collects units with build and runs them. The batch size comes
// from opts or DefaultBatchSize.
//
//	err := parallelize.Parallelize(ctx, nil, func(c *parallelize.Collector) {
//	    c.Run(stopServer)
//	    c.Run(stopWorkers)
//	})
func Parallelize(ctx context.Context, rollbacker Rollbacker, build func(c *Collector), opts ...Option) error {
	_, err := New(rollbacker, opts...).Run(ctx, Collect(build))
	return err
}
