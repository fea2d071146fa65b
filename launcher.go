package parallelize

import (
	"github.com/panjf2000/ants/v2"
)

// Launcher starts fn concurrently. An error means fn was not started and will
// never run.
type Launcher interface {
	Launch(fn func()) error
}

// LauncherFunc adapts a function to Launcher
type LauncherFunc func(fn func()) error

// Launch calls f(fn)
func (f LauncherFunc) Launch(fn func()) error {
	return f(fn)
}

// GoLauncher starts every function in a goroutine of its own. It never fails.
type GoLauncher struct{}

// Launch starts fn in a new goroutine
func (GoLauncher) Launch(fn func()) error {
	go fn()
	return nil
}

// PoolLauncher starts functions on a bounded goroutine pool.
//
// Launch waits for a free slot, including a slot whose worker is still being
// handed back to the pool after its function returned. Once maxBlocking
// callers are already waiting, the pool rejects the function with
// ants.ErrPoolOverload, which the run records as a launch failure.
type PoolLauncher struct {
	pool *ants.Pool
}

// NewPoolLauncher creates a pool of the given size. maxBlocking 0 means any
// number of callers may wait for a slot. Call Release when done.
func NewPoolLauncher(size int, maxBlocking int) (*PoolLauncher, error) {
	pool, err := ants.NewPool(size, ants.WithMaxBlockingTasks(maxBlocking), ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &PoolLauncher{pool: pool}, nil
}

// Launch submits fn to the pool
func (p *PoolLauncher) Launch(fn func()) error {
	return p.pool.Submit(fn)
}

// Running returns the number of functions currently executing on the pool
func (p *PoolLauncher) Running() int {
	return p.pool.Running()
}

// Release closes the pool. Functions already running are not interrupted.
func (p *PoolLauncher) Release() {
	p.pool.Release()
}
