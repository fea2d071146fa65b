package parallelize

import "context"

// A Task is one unit of work submitted to a batched run.
//
// This is a core concept of this package. The simple signature of a task makes
// it possible to seamlessly combine code using this package with code that
// isn't aware of it.
//
// A task finishes by returning nil if it has completed successfully, or an
// error if there was a problem. A panic is treated as a failure too.
//
// The context passed to a task carries the task's rollback journal: anything
// the task registers with OnRollback is undone if the task's batch fails.
// The context is not closed when a sibling task fails: every task of a batch
// runs to completion.
type Task func(ctx context.Context) error
