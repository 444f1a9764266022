package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fiscal_notes/pkg/core/faults"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// blockingRunner parks every job until released, so tests can observe the
// queue mid-flight.
type blockingRunner struct {
	started chan string
	release chan struct{}
	runs    atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan string, 32),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) run(ctx context.Context, billID string, cancelled func() bool) error {
	r.runs.Add(1)
	r.started <- billID
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitState(t *testing.T, q *Queue, billID string, want State) Job {
	t.Helper()
	var got Job
	require.Eventually(t, func() bool {
		j, ok := q.Status(billID)
		got = j
		return ok && j.State == want
	}, 2*time.Second, 2*time.Millisecond, "job %s never reached %s (last: %+v)", billID, want, got)
	return got
}

func TestEnqueueRunsJobToCompletion(t *testing.T) {
	kv := NewMemoryKV()
	q := NewQueue(Options{
		KV:           kv,
		Runner:       func(ctx context.Context, billID string, cancelled func() bool) error { return nil },
		PollInterval: 5 * time.Millisecond,
	})
	defer q.Close()

	job := q.Enqueue("HB_1483_2025")
	assert.Equal(t, StateQueued, job.State)
	assert.False(t, job.EnqueuedAt.IsZero())

	done := waitState(t, q, "HB_1483_2025", StateDone)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.ErrorKind)

	n, err := kv.CountPrefix(context.Background(), "job:")
	require.NoError(t, err)
	assert.Zero(t, n, "liveness key released on completion")
}

func TestEnqueueIsIdempotentWhileActive(t *testing.T) {
	runner := newBlockingRunner()
	q := NewQueue(Options{KV: NewMemoryKV(), Runner: runner.run, PollInterval: 5 * time.Millisecond})
	defer q.Close()

	first := q.Enqueue("HB_1_2025")
	<-runner.started

	second := q.Enqueue("HB_1_2025")
	assert.Equal(t, first.EnqueuedAt, second.EnqueuedAt)
	assert.Equal(t, int32(1), runner.runs.Load(), "no second run starts")

	close(runner.release)
	waitState(t, q, "HB_1_2025", StateDone)

	// A finished bill may be enqueued again.
	q.Enqueue("HB_1_2025")
	require.Eventually(t, func() bool { return runner.runs.Load() == 2 }, 2*time.Second, 2*time.Millisecond)
	waitState(t, q, "HB_1_2025", StateDone)
}

func TestAdmissionGateBoundsRunningJobs(t *testing.T) {
	kv := NewMemoryKV()
	runner := newBlockingRunner()
	q := NewQueue(Options{KV: kv, Runner: runner.run, MaxConcurrent: 2, PollInterval: 5 * time.Millisecond})
	defer q.Close()

	bills := []string{"HB_1_2025", "HB_2_2025", "HB_3_2025", "HB_4_2025", "HB_5_2025"}
	for _, b := range bills {
		q.Enqueue(b)
	}

	<-runner.started
	<-runner.started

	// While both slots are held, the key count stays pinned at the gate
	// and nothing else starts.
	for i := 0; i < 10; i++ {
		n, err := kv.CountPrefix(context.Background(), "job:")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, int32(2), runner.runs.Load())

	running, queued := 0, 0
	for _, j := range q.Jobs() {
		switch j.State {
		case StateRunning:
			running++
		case StateQueued:
			queued++
		}
	}
	assert.Equal(t, 2, running)
	assert.Equal(t, 3, queued)

	close(runner.release)
	for _, b := range bills {
		waitState(t, q, b, StateDone)
	}
	n, err := kv.CountPrefix(context.Background(), "job:")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLivenessKeyPresentExactlyWhileRunning(t *testing.T) {
	kv := NewMemoryKV()
	runner := newBlockingRunner()
	q := NewQueue(Options{KV: kv, Runner: runner.run, PollInterval: 5 * time.Millisecond})
	defer q.Close()

	q.Enqueue("HB_9_2025")
	<-runner.started

	val, ok, err := kv.Get(context.Background(), "job:HB_9_2025")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, val, `"state":"running"`)

	close(runner.release)
	waitState(t, q, "HB_9_2025", StateDone)

	_, ok, err = kv.Get(context.Background(), "job:HB_9_2025")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelRunningJob(t *testing.T) {
	kv := NewMemoryKV()
	started := make(chan struct{})
	var once sync.Once
	runner := func(ctx context.Context, billID string, cancelled func() bool) error {
		once.Do(func() { close(started) })
		for {
			if cancelled() {
				return faults.New(faults.CancelRequested, "pipeline.run", "cancel requested")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	q := NewQueue(Options{KV: kv, Runner: runner, PollInterval: 5 * time.Millisecond})
	defer q.Close()

	q.Enqueue("HB_3_2025")
	<-started
	require.True(t, q.RequestCancel("HB_3_2025"))

	job := waitState(t, q, "HB_3_2025", StateFailed)
	assert.Equal(t, "CancelRequested", job.ErrorKind)
	assert.True(t, job.CancelRequested)

	_, ok, err := kv.Get(context.Background(), "job:HB_3_2025")
	require.NoError(t, err)
	assert.False(t, ok, "liveness key released on failure")
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	runner := newBlockingRunner()
	q := NewQueue(Options{KV: NewMemoryKV(), Runner: runner.run, MaxConcurrent: 1, PollInterval: 5 * time.Millisecond})
	defer q.Close()

	q.Enqueue("HB_1_2025")
	<-runner.started
	q.Enqueue("HB_2_2025")

	require.True(t, q.RequestCancel("HB_2_2025"))
	job := waitState(t, q, "HB_2_2025", StateFailed)
	assert.Equal(t, "CancelRequested", job.ErrorKind)
	assert.Equal(t, int32(1), runner.runs.Load(), "cancelled job never ran")

	close(runner.release)
	waitState(t, q, "HB_1_2025", StateDone)
}

func TestJobTimeout(t *testing.T) {
	runner := func(ctx context.Context, billID string, cancelled func() bool) error {
		<-ctx.Done()
		return ctx.Err()
	}
	q := NewQueue(Options{
		KV:           NewMemoryKV(),
		Runner:       runner,
		PollInterval: 5 * time.Millisecond,
		JobTimeout:   10 * time.Millisecond,
	})
	defer q.Close()

	q.Enqueue("HB_60_2025")
	job := waitState(t, q, "HB_60_2025", StateFailed)
	assert.Equal(t, "Timeout", job.ErrorKind)
}

func TestRequestCancelUnknownBill(t *testing.T) {
	q := NewQueue(Options{KV: NewMemoryKV(), Runner: func(context.Context, string, func() bool) error { return nil }})
	defer q.Close()
	assert.False(t, q.RequestCancel("HB_404_2025"))
}

func TestTransitionsObserved(t *testing.T) {
	var mu sync.Mutex
	var states []State
	q := NewQueue(Options{
		KV:           NewMemoryKV(),
		Runner:       func(ctx context.Context, billID string, cancelled func() bool) error { return nil },
		PollInterval: 5 * time.Millisecond,
		OnTransition: func(j Job) {
			mu.Lock()
			states = append(states, j.State)
			mu.Unlock()
		},
	})
	defer q.Close()

	q.Enqueue("HB_8_2025")
	waitState(t, q, "HB_8_2025", StateDone)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateQueued, StateRunning, StateDone}, states)
}

func TestMaxConcurrentDefaultsAndCeiling(t *testing.T) {
	q := NewQueue(Options{KV: NewMemoryKV(), Runner: func(context.Context, string, func() bool) error { return nil }})
	assert.Equal(t, 7, q.max)
	q.Close()

	q = NewQueue(Options{KV: NewMemoryKV(), Runner: func(context.Context, string, func() bool) error { return nil }, MaxConcurrent: 25})
	assert.Equal(t, 10, q.max)
	q.Close()
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "job:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "job:a", "1"))
	require.NoError(t, kv.Set(ctx, "job:b", "2"))
	require.NoError(t, kv.Set(ctx, "other:c", "3"))

	v, ok, err := kv.Get(ctx, "job:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	n, err := kv.CountPrefix(ctx, "job:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, kv.Delete(ctx, "job:a"))
	n, err = kv.CountPrefix(ctx, "job:")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, kv.Delete(ctx, "job:missing"))
}
