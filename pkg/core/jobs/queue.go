// Package jobs implements the process-wide job queue: idempotent
// submission, a Redis-mirrored liveness key per running bill, an admission
// gate bounded by MAX_CONCURRENT_JOBS, and cooperative cancellation.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fiscal_notes/pkg/core/faults"
)

type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Liveness keys are job:{bill_id}; their count is the admission gate.
const keyPrefix = "job:"

// Job is one bill's queue record. The record always exposes state plus
// error kind and message; which pipeline stage completed is determined
// from artifact presence, not from the record.
type Job struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	EnqueuedAt      time.Time  `json:"enqueued_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
}

// Runner executes one admitted job. cancelled is the cooperative flag;
// the pipeline polls it between documents and between checkpoints.
type Runner func(ctx context.Context, billID string, cancelled func() bool) error

type Options struct {
	KV     KV
	Runner Runner
	// MaxConcurrent defaults to 7 and is capped at 10.
	MaxConcurrent int
	PollInterval  time.Duration
	JobTimeout    time.Duration
	// OnTransition observes every state change; the API layer feeds SSE
	// streams from it. Called outside queue locks.
	OnTransition func(Job)
}

// Queue owns the only legitimate process-wide mutable state: the job map.
// Everything else flows through per-bill artifacts.
type Queue struct {
	kv           KV
	run          Runner
	max          int
	poll         time.Duration
	timeout      time.Duration
	onTransition func(Job)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// admitMu serializes the gate's count-then-set so a burst of jobs
	// cannot overshoot MAX_CONCURRENT from this process.
	admitMu sync.Mutex

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewQueue(opts Options) *Queue {
	max := opts.MaxConcurrent
	if max <= 0 {
		max = 7
	}
	if max > 10 {
		max = 10
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		kv:           opts.KV,
		run:          opts.Runner,
		max:          max,
		poll:         poll,
		timeout:      timeout,
		onTransition: opts.OnTransition,
		ctx:          ctx,
		cancel:       cancel,
		jobs:         map[string]*Job{},
	}
}

// Enqueue registers a bill for processing and returns its record.
// Idempotent: a bill already queued or running returns the existing
// record and starts nothing new. A done or failed bill re-enqueues.
func (q *Queue) Enqueue(billID string) Job {
	q.mu.Lock()
	if j, ok := q.jobs[billID]; ok && (j.State == StateQueued || j.State == StateRunning) {
		out := *j
		q.mu.Unlock()
		return out
	}
	job := &Job{ID: billID, State: StateQueued, EnqueuedAt: time.Now().UTC()}
	q.jobs[billID] = job
	out := *job
	q.mu.Unlock()

	fmt.Printf("📥 Enqueued %s\n", billID)
	q.notify(out)

	q.wg.Add(1)
	go q.process(billID)
	return out
}

// Status returns a bill's record.
func (q *Queue) Status(billID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[billID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns every record, oldest first.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].EnqueuedAt.Equal(out[b].EnqueuedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].EnqueuedAt.Before(out[b].EnqueuedAt)
	})
	return out
}

// RequestCancel flags a queued or running job for cooperative
// cancellation. In-flight LLM calls complete; the next poll point aborts.
func (q *Queue) RequestCancel(billID string) bool {
	q.mu.Lock()
	j, ok := q.jobs[billID]
	if !ok || (j.State != StateQueued && j.State != StateRunning) {
		q.mu.Unlock()
		return false
	}
	j.CancelRequested = true
	out := *j
	q.mu.Unlock()

	fmt.Printf("🛑 Cancel requested for %s\n", billID)
	if out.State == StateRunning {
		q.mirror(out)
	}
	q.notify(out)
	return true
}

// Close stops admission polling, cancels running jobs, and waits for
// their goroutines to return.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) process(billID string) {
	defer q.wg.Done()

	if err := q.admit(billID); err != nil {
		q.finish(billID, err)
		return
	}

	started := time.Now().UTC()
	q.mu.Lock()
	j, ok := q.jobs[billID]
	if !ok {
		q.mu.Unlock()
		return
	}
	j.State = StateRunning
	j.StartedAt = &started
	out := *j
	q.mu.Unlock()

	fmt.Printf("🚀 Job %s running\n", billID)
	q.mirror(out)
	q.notify(out)

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	err := q.run(ctx, billID, func() bool { return q.cancelRequested(billID) })
	cancel()
	q.finish(billID, err)
}

// admit blocks until the liveness-key count drops below the gate, then
// writes this job's key. Count-then-set runs under admitMu so concurrent
// admissions from this process never overshoot.
func (q *Queue) admit(billID string) error {
	for {
		if q.cancelRequested(billID) {
			return faults.New(faults.CancelRequested, "jobs.admit", "cancelled while queued")
		}

		q.admitMu.Lock()
		n, err := q.kv.CountPrefix(q.ctx, keyPrefix)
		if err == nil && n < q.max {
			job, _ := q.Status(billID)
			payload, _ := json.Marshal(job)
			err = q.kv.Set(q.ctx, keyPrefix+billID, string(payload))
			q.admitMu.Unlock()
			return err
		}
		q.admitMu.Unlock()
		if err != nil {
			return fmt.Errorf("admission gate: %w", err)
		}

		select {
		case <-q.ctx.Done():
			return q.ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

// finish records the terminal state and releases the liveness key.
// Artifacts written so far stay on disk either way.
func (q *Queue) finish(billID string, err error) {
	finished := time.Now().UTC()

	q.mu.Lock()
	j, ok := q.jobs[billID]
	if !ok {
		q.mu.Unlock()
		return
	}
	j.FinishedAt = &finished
	if err != nil {
		j.State = StateFailed
		j.ErrorKind = errorKind(err)
		j.ErrorMessage = err.Error()
	} else {
		j.State = StateDone
	}
	out := *j
	q.mu.Unlock()

	if delErr := q.kv.Delete(context.Background(), keyPrefix+billID); delErr != nil {
		fmt.Printf("⚠️  Failed to release liveness key for %s: %v\n", billID, delErr)
	}

	if err != nil {
		fmt.Printf("❌ Job %s failed (%s): %v\n", billID, out.ErrorKind, err)
	} else {
		fmt.Printf("✅ Job %s done\n", billID)
	}
	q.notify(out)
}

func (q *Queue) cancelRequested(billID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[billID]
	return ok && j.CancelRequested
}

// mirror writes the record to its liveness key while running.
func (q *Queue) mirror(job Job) {
	payload, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := q.kv.Set(q.ctx, keyPrefix+job.ID, string(payload)); err != nil {
		fmt.Printf("⚠️  Failed to mirror job %s: %v\n", job.ID, err)
	}
}

func (q *Queue) notify(job Job) {
	if q.onTransition != nil {
		q.onTransition(job)
	}
}

// errorKind maps a job error to its taxonomy identifier for the record.
func errorKind(err error) string {
	if kind := faults.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(faults.Timeout)
	}
	return ""
}
