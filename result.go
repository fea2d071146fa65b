package parallelize

import "github.com/google/uuid"

// RunResult holds the workers of every batch that ran, in batch order
type RunResult struct {
	ID      uuid.UUID
	State   State
	Batches [][]*Worker
}

// Outcomes returns all workers in collection order
func (res *RunResult) Outcomes() []*Worker {
	var all []*Worker
	for _, batch := range res.Batches {
		all = append(all, batch...)
	}
	return all
}

// Failed returns the workers that failed to launch or execute
func (res *RunResult) Failed() []*Worker {
	var failed []*Worker
	for _, w := range res.Outcomes() {
		if w.Failed {
			failed = append(failed, w)
		}
	}
	return failed
}
