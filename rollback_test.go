package parallelize

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRollbacker is a mock implementation of Rollbacker for testing
type MockRollbacker struct {
	mock.Mock
}

func (m *MockRollbacker) Rollback(ctx context.Context, rc RollbackContext) error {
	args := m.Called(ctx, rc)
	return args.Error(0)
}

func isWorker(index int) interface{} {
	return mock.MatchedBy(func(rc RollbackContext) bool {
		return !rc.Root && rc.Worker == index
	})
}

func isRoot() interface{} {
	return mock.MatchedBy(func(rc RollbackContext) bool {
		return rc.Root
	})
}

func TestCoordinatorRollsBackEachWorkerOnce(t *testing.T) {
	ctx := context.Background()
	rb := &recordingRollbacker{}
	c := New(rb).newCoordinator(zap.NewNop(), uuid.New(), 0)
	workers := finishedWorkers(0, 3)

	require.NoError(t, c.Rollback(ctx, workers))
	require.Len(t, rb.Calls(), 4)
	require.Equal(t, []int{0, 1, 2}, rb.workerIndexes())
	require.True(t, rb.Calls()[3].Root)

	// a second sweep finds nothing left to do
	require.NoError(t, c.Rollback(ctx, workers))
	require.Len(t, rb.Calls(), 4)

	// a worker not seen before is rolled back, the root context is not
	extra := finishedWorkers(0, 4)[3]
	require.NoError(t, c.Rollback(ctx, append(workers, extra)))
	require.Len(t, rb.Calls(), 5)
	require.Equal(t, 1, rb.rootCalls())
	require.Equal(t, 3, rb.Calls()[4].Worker)
}

func TestCoordinatorSkipsRolledBackWorkers(t *testing.T) {
	ctx := context.Background()
	rb := &MockRollbacker{}
	rb.On("Rollback", mock.Anything, isWorker(1)).Return(nil).Once()
	rb.On("Rollback", mock.Anything, isRoot()).Return(nil).Once()

	workers := finishedWorkers(2, 2)
	workers[0].RolledBack = true
	c := New(rb).newCoordinator(zap.NewNop(), uuid.New(), 2)
	require.NoError(t, c.Rollback(ctx, workers))
	rb.AssertExpectations(t)
	require.True(t, workers[1].RolledBack)
}

func TestCoordinatorContinuesAfterHookFailure(t *testing.T) {
	ctx := context.Background()
	var order []string
	rb := &MockRollbacker{}
	rb.On("Rollback", mock.Anything, isWorker(0)).Return(errors.New("undo 0")).
		Run(func(mock.Arguments) { order = append(order, "w0") }).Once()
	rb.On("Rollback", mock.Anything, isWorker(1)).Return(nil).
		Run(func(mock.Arguments) { order = append(order, "w1") }).Once()
	rb.On("Rollback", mock.Anything, isRoot()).Return(nil).
		Run(func(mock.Arguments) { order = append(order, "root") }).Once()

	c := New(rb).newCoordinator(zap.NewNop(), uuid.New(), 0)
	workers := finishedWorkers(0, 2)
	err := c.Rollback(ctx, workers)

	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	require.Equal(t, 0, rbErr.Worker)
	require.False(t, rbErr.Root)
	require.Equal(t, []string{"w0", "w1", "root"}, order)
	require.True(t, workers[0].RolledBack)
	require.True(t, workers[1].RolledBack)
	rb.AssertExpectations(t)
}

func TestCoordinatorRecoversHookPanic(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	var reported []Failure
	rb := RollbackFunc(func(ctx context.Context, rc RollbackContext) error {
		calls.Add(1)
		if rc.Worker == 0 {
			panic("rollback exploded")
		}
		return nil
	})
	r := New(rb, WithReporter(ReporterFunc(func(f Failure) {
		reported = append(reported, f)
	})))
	c := r.newCoordinator(zap.NewNop(), uuid.New(), 0)

	err := c.Rollback(ctx, finishedWorkers(0, 2))
	require.ErrorContains(t, err, "panic: rollback exploded")
	require.EqualValues(t, 3, calls.Load())
	require.Len(t, reported, 1)
	require.Equal(t, RollbackFailure, reported[0].Kind)
	require.NotEmpty(t, reported[0].Stack)
}

func TestCoordinatorParallelRollback(t *testing.T) {
	const (
		workers = 6
		limit   = 3
	)
	ctx := context.Background()
	var mu sync.Mutex
	running, maxRunning, done := 0, 0, 0
	rootAfterAll := false
	rb := RollbackFunc(func(ctx context.Context, rc RollbackContext) error {
		mu.Lock()
		if rc.Root {
			rootAfterAll = done == workers && running == 0
			mu.Unlock()
			return nil
		}
		running++
		maxRunning = max(maxRunning, running)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		done++
		mu.Unlock()
		return nil
	})

	ws := finishedWorkers(0, workers)
	c := New(rb, WithParallelRollback(limit)).newCoordinator(zap.NewNop(), uuid.New(), 0)
	require.NoError(t, c.Rollback(ctx, ws))
	require.True(t, rootAfterAll)
	require.LessOrEqual(t, maxRunning, limit)
	require.Equal(t, workers, done)
	for _, w := range ws {
		require.True(t, w.RolledBack)
	}
}

func TestCoordinatorIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var cancelled atomic.Bool
	rb := RollbackFunc(func(ctx context.Context, rc RollbackContext) error {
		if ctx.Err() != nil {
			cancelled.Store(true)
		}
		return nil
	})
	c := New(rb).newCoordinator(zap.NewNop(), uuid.New(), 0)
	require.NoError(t, c.Rollback(ctx, finishedWorkers(0, 2)))
	require.False(t, cancelled.Load())
}

func TestReplayRollbacker(t *testing.T) {
	ctx := context.Background()
	var order []string
	step := func(name string, err error) RollbackRequest {
		return RollbackRequest{Name: name, Undo: func(ctx context.Context) error {
			order = append(order, name)
			return err
		}}
	}
	rc := RollbackContext{Requests: []RollbackRequest{
		step("a", nil),
		step("b", errors.New("b undo failed")),
		{Name: "c", Undo: func(ctx context.Context) error {
			order = append(order, "c")
			panic("c undo panicked")
		}},
		step("d", nil),
	}}

	err := ReplayRollbacker{}.Rollback(ctx, rc)
	require.Equal(t, []string{"d", "c", "b", "a"}, order)
	require.ErrorContains(t, err, "b: b undo failed")
	require.ErrorContains(t, err, "c: panic: c undo panicked")

	require.NoError(t, ReplayRollbacker{}.Rollback(ctx, RollbackContext{}))
}

func TestOnRollbackWithoutJournal(t *testing.T) {
	require.False(t, OnRollback(context.Background(), "noop", func(ctx context.Context) error { return nil }))
}

func TestWorkerRollbackRequests(t *testing.T) {
	ctx := context.Background()
	res, err := RunBatches(ctx, CollectionOf(func(ctx context.Context) error {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				OnRollback(ctx, "step", func(ctx context.Context) error { return nil })
			}()
		}
		wg.Wait()
		return nil
	}), 1, &recordingRollbacker{})
	require.NoError(t, err)
	require.Len(t, res.Batches[0][0].RollbackRequests(), 10)
}
