package parallelize

import (
	"context"
	"sync"
)

// group is the join barrier of a single batch. Every worker of the batch is
// spawned into the group and the batch is evaluated only after Wait returns.
//
// Unlike a cancelling group, a failed worker does not close the context of
// its siblings: all of them run to completion.
type group struct {
	ctx      context.Context
	launcher Launcher

	mu      sync.Mutex
	running int
	done    chan struct{}
}

func newGroup(ctx context.Context, launcher Launcher) *group {
	g := &group{ctx: ctx, launcher: launcher}
	g.done = make(chan struct{})
	close(g.done)
	return g
}

// spawn starts the worker's task through the launcher. If the launcher
// refuses, the worker is finished right away as a launch failure and the
// launcher's error is returned.
func (g *group) spawn(w *Worker, task Task) error {
	g.mu.Lock()
	if g.running == 0 {
		g.done = make(chan struct{})
	}
	g.running++
	g.mu.Unlock()

	err := g.launcher.Launch(func() {
		g.runWorker(w, task)
	})
	if err != nil {
		w.finish(&LaunchError{Batch: w.Batch, Worker: w.Index, Name: w.Name, Err: err}, true)
		g.release()
	}
	return err
}

func (g *group) runWorker(w *Worker, task Task) {
	defer g.release()

	ctx := withJournal(g.ctx, w.journal)
	var failure error
	if err := RunTask(ctx, task); err != nil {
		failure = &ExecutionError{Batch: w.Batch, Worker: w.Index, Name: w.Name, Err: err}
	}
	w.finish(failure, false)
}

func (g *group) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.running--
	if g.running == 0 {
		close(g.done)
	}
}

// Running returns the number of workers that have not finished yet
func (g *group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.running
}

// Done returns a channel that closes when the last running worker finishes. If
// no workers are running, the returned channel is already closed.
func (g *group) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.done
}

// Wait blocks until no workers are running
func (g *group) Wait() {
	<-g.Done()
}
