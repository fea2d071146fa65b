package parallelize

import (
	"context"
	"sync"
)

// RollbackRequest is one undo step registered while a unit ran
type RollbackRequest struct {
	Name string
	Undo func(ctx context.Context) error
}

// journal collects the rollback requests of one worker or of the root
// context. A unit may register from goroutines of its own, hence the mutex.
type journal struct {
	mu       sync.Mutex
	requests []RollbackRequest
}

type journalKey struct{}

func withJournal(ctx context.Context, j *journal) context.Context {
	return context.WithValue(ctx, journalKey{}, j)
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

// WithRootJournal returns a context with a fresh journal for the caller's own
// rollback requests. Pass the result to a run: if the run aborts, requests
// registered on it are rolled back last, after every worker.
func WithRootJournal(ctx context.Context) context.Context {
	return withJournal(ctx, &journal{})
}

// OnRollback registers undo in the journal carried by ctx. Inside a task this
// is the task's own journal. Returns false if ctx carries no journal, in which
// case undo is dropped.
func OnRollback(ctx context.Context, name string, undo func(ctx context.Context) error) bool {
	j := journalFrom(ctx)
	if j == nil {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.requests = append(j.requests, RollbackRequest{Name: name, Undo: undo})
	return true
}

// snapshot returns the requests registered so far in registration order
func (j *journal) snapshot() []RollbackRequest {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]RollbackRequest(nil), j.requests...)
}
