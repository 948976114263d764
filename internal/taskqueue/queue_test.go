package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 4 * time.Millisecond
	}
	q := New(cfg, logger.NewNop(), WithMetrics(NewMetrics(nil)))
	t.Cleanup(q.Shutdown)
	return q
}

func waitStatus(t *testing.T, q *Queue, id string, want Status) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = q.Status(id)
		return err == nil && task.Status == want
	}, 2*time.Second, 2*time.Millisecond, "task %s never reached %s (last %s)", id, want, task.Status)
	return task
}

func TestSubmitUnknownKind(t *testing.T) {
	q := newTestQueue(t, Config{})
	_, err := q.Submit("nope", nil, "owner", PriorityNormal)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestStatusNotFound(t *testing.T) {
	q := newTestQueue(t, Config{})
	_, err := q.Status("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.False(t, q.Cancel("missing"))
}

func TestRetryThenSucceed(t *testing.T) {
	const maxAttempts = 4
	q := newTestQueue(t, Config{Workers: 2, MaxAttempts: maxAttempts})

	calls := atomic.NewInt32(0)
	q.Register("flaky", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		if calls.Inc() < maxAttempts {
			return nil, errors.New("temporary")
		}
		return []byte("ok"), nil
	})
	q.Start()

	id, err := q.Submit("flaky", []byte("p"), "order-1", PriorityNormal)
	require.NoError(t, err)

	task := waitStatus(t, q, id, StatusDone)
	assert.Equal(t, maxAttempts-1, task.Attempts)
	assert.Equal(t, []byte("ok"), task.Result)
	assert.Empty(t, task.Error)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestAlwaysFailingEndsFailed(t *testing.T) {
	const maxAttempts = 3
	q := newTestQueue(t, Config{Workers: 1, MaxAttempts: maxAttempts})

	calls := atomic.NewInt32(0)
	q.Register("broken", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		calls.Inc()
		return nil, errors.New("always")
	})

	finished := atomic.NewInt32(0)
	q.OnFinish(func(ctx context.Context, task Task, err error) {
		finished.Inc()
		assert.Equal(t, StatusFailed, task.Status)
		assert.EqualError(t, err, "always")
	})
	q.Start()

	id, err := q.Submit("broken", nil, "order-1", PriorityNormal)
	require.NoError(t, err)

	task := waitStatus(t, q, id, StatusFailed)
	assert.Equal(t, maxAttempts, task.Attempts)
	assert.Equal(t, "always", task.Error)

	// 不会再被重新入队
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(maxAttempts), calls.Load())
	assert.Equal(t, int32(1), finished.Load())
}

func TestNonRetriableFailsImmediately(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, MaxAttempts: 5})
	q.Register("bad", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		return nil, errorutil.NonRetriable(errorutil.KindProtocol, "malformed")
	})
	q.Start()

	id, err := q.Submit("bad", nil, "o", PriorityNormal)
	require.NoError(t, err)

	task := waitStatus(t, q, id, StatusFailed)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, string(errorutil.KindProtocol), task.ErrorKind)
}

func TestPanicIsCaught(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})
	q.Register("panics", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		panic("kaboom")
	})
	q.Start()

	id, err := q.Submit("panics", nil, "o", PriorityNormal)
	require.NoError(t, err)
	task := waitStatus(t, q, id, StatusFailed)
	assert.Contains(t, task.Error, "kaboom")
}

func TestCancelPendingDelayedTask(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})
	ran := atomic.NewBool(false)
	q.Register("later", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		ran.Store(true)
		return nil, nil
	})
	q.Start()

	id, err := q.SubmitAfter("later", nil, "o", PriorityNormal, time.Hour)
	require.NoError(t, err)

	task, err := q.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	assert.True(t, q.Cancel(id))
	task, err = q.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)
	assert.False(t, q.Cancel(id), "cancelled task cannot be cancelled again")
	assert.False(t, ran.Load())
}

func TestCancelRunningTask(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})
	started := make(chan struct{})
	q.Register("long", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q.Start()

	id, err := q.Submit("long", nil, "o", PriorityNormal)
	require.NoError(t, err)
	<-started

	assert.True(t, q.Cancel(id))
	task := waitStatus(t, q, id, StatusCancelled)
	assert.Equal(t, 0, task.Attempts)
}

func TestCancelDoneTaskReturnsFalse(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})
	q.Register("quick", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		return nil, nil
	})
	q.Start()

	id, err := q.Submit("quick", nil, "o", PriorityNormal)
	require.NoError(t, err)
	waitStatus(t, q, id, StatusDone)
	assert.False(t, q.Cancel(id))
}

func TestHighPriorityRunsFirst(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})

	var mu sync.Mutex
	var order []string
	q.Register("rec", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		mu.Lock()
		order = append(order, ownerRef)
		mu.Unlock()
		return nil, nil
	})

	_, err := q.Submit("rec", nil, "normal", PriorityNormal)
	require.NoError(t, err)
	last, err := q.Submit("rec", nil, "high", PriorityHigh)
	require.NoError(t, err)

	q.Start()
	waitStatus(t, q, last, StatusDone)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"high", "normal"}, order)
}

func TestQueueFull(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, BufferSize: 1})
	q.Register("x", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		return nil, nil
	})

	_, err := q.Submit("x", nil, "a", PriorityNormal)
	require.NoError(t, err)
	_, err = q.Submit("x", nil, "b", PriorityNormal)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestHandlerCanSubmitFollowUp(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})
	child := make(chan string, 1)

	q.Register("child", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		child <- string(payload)
		return nil, nil
	})
	q.Register("parent", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		_, err := q.SubmitAfter("child", []byte("from-parent"), ownerRef, PriorityNormal, time.Millisecond)
		return nil, err
	})
	q.Start()

	_, err := q.Submit("parent", nil, "o", PriorityNormal)
	require.NoError(t, err)

	select {
	case got := <-child:
		assert.Equal(t, "from-parent", got)
	case <-time.After(2 * time.Second):
		t.Fatal("child task never ran")
	}
}

func TestShutdownCancelsDelayedTasks(t *testing.T) {
	q := New(Config{Workers: 1}, logger.NewNop())
	q.Register("later", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		return nil, nil
	})
	q.Start()

	id, err := q.SubmitAfter("later", nil, "o", PriorityNormal, time.Hour)
	require.NoError(t, err)

	q.Shutdown()
	task, err := q.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)

	_, err = q.Submit("later", nil, "o", PriorityNormal)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRetryDuringShutdownReportsQueueClosed(t *testing.T) {
	q := New(Config{Workers: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond}, logger.NewNop())
	release := make(chan struct{})
	q.Register("slow", func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
		<-release
		return nil, errorutil.Retriable(errorutil.KindNetwork, "upstream busy")
	})
	finished := make(chan error, 1)
	q.OnFinish(func(ctx context.Context, task Task, err error) {
		finished <- err
	})
	q.Start()

	id, err := q.Submit("slow", nil, "o", PriorityNormal)
	require.NoError(t, err)
	waitStatus(t, q, id, StatusRunning)

	done := make(chan struct{})
	go func() {
		q.Shutdown()
		close(done)
	}()
	require.Eventually(t, q.closing.Load, time.Second, time.Millisecond)
	close(release)

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, ErrQueueClosed)
		assert.Contains(t, err.Error(), "upstream busy")
	case <-time.After(2 * time.Second):
		t.Fatal("finish hook not called")
	}
	<-done

	task, err := q.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)
}

func TestBackoffCapped(t *testing.T) {
	q := New(Config{BackoffBase: time.Second, BackoffCap: 60 * time.Second}, logger.NewNop())
	assert.Equal(t, 2*time.Second, q.backoff(1))
	assert.Equal(t, 8*time.Second, q.backoff(3))
	assert.Equal(t, 32*time.Second, q.backoff(5))
	assert.Equal(t, 60*time.Second, q.backoff(6))
	assert.Equal(t, 60*time.Second, q.backoff(20))
}
