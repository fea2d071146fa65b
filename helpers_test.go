package parallelize

import (
	"context"
	"sync"
)

// recordingRollbacker records every rollback context it is called with.
// fail maps a worker index to the error returned for it; rootErr is returned
// for the root context.
type recordingRollbacker struct {
	mu      sync.Mutex
	calls   []RollbackContext
	fail    map[int]error
	rootErr error
}

func (r *recordingRollbacker) Rollback(ctx context.Context, rc RollbackContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, rc)
	if rc.Root {
		return r.rootErr
	}
	return r.fail[rc.Worker]
}

func (r *recordingRollbacker) Calls() []RollbackContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]RollbackContext(nil), r.calls...)
}

// workerIndexes returns the worker indexes of the non-root calls in call order
func (r *recordingRollbacker) workerIndexes() []int {
	var idx []int
	for _, rc := range r.Calls() {
		if !rc.Root {
			idx = append(idx, rc.Worker)
		}
	}
	return idx
}

func (r *recordingRollbacker) rootCalls() int {
	n := 0
	for _, rc := range r.Calls() {
		if rc.Root {
			n++
		}
	}
	return n
}

func succeed(ctx context.Context) error {
	return nil
}

// finishedWorkers builds joined workers for rollback tests
func finishedWorkers(batch int, n int) []*Worker {
	workers := make([]*Worker, n)
	for i := range workers {
		w := &Worker{Batch: batch, Index: i, journal: &journal{}, done: make(chan struct{})}
		close(w.done)
		workers[i] = w
	}
	return workers
}
