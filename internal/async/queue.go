// Package async provides the serialized task queue that backs every
// component of the sync engine. All shared state is mutated exclusively from
// queue tasks, so no other locking is needed above this package.
package async

import (
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// TimerID labels a delayed task so related timers can be cancelled or
// fast-forwarded as a group.
type TimerID string

const (
	TimerListenStreamIdle              TimerID = "listen_stream_idle"
	TimerListenStreamConnectionBackoff TimerID = "listen_stream_connection_backoff"
	TimerWriteStreamIdle               TimerID = "write_stream_idle"
	TimerWriteStreamConnectionBackoff  TimerID = "write_stream_connection_backoff"
	TimerOnlineStateTimeout            TimerID = "online_state_timeout"
	TimerRetryOperation                TimerID = "retry_operation"
	TimerHealthCheck                   TimerID = "health_check"
	TimerIndexBackfill                 TimerID = "index_backfill"
)

// Queue executes tasks one at a time in enqueue order on a dedicated worker
// goroutine. After shutdown the queue enters restricted mode: ordinary
// enqueues are silently dropped so stale callbacks cannot touch discarded
// components.
type Queue struct {
	logger *slog.Logger

	mu         sync.Mutex
	tasks      []func()
	signal     chan struct{}
	restricted bool
	terminated bool
	fault      error

	delayedMu sync.Mutex
	delayed   map[*DelayedTask]struct{}

	retryBackoff *ExponentialBackoff

	done chan struct{}
	idle *sync.Cond
	busy bool
}

// NewQueue creates and starts a queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:  logger,
		signal:  make(chan struct{}, 1),
		delayed: map[*DelayedTask]struct{}{},
		done:    make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	q.retryBackoff = NewExponentialBackoff(q, TimerRetryOperation, DefaultBackoffInitialDelay, DefaultBackoffFactor, DefaultBackoffMaxDelay)
	go q.run()
	return q
}

func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.signal:
		}
		for {
			q.mu.Lock()
			if len(q.tasks) == 0 {
				q.busy = false
				q.idle.Broadcast()
				q.mu.Unlock()
				break
			}
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.busy = true
			q.mu.Unlock()
			task()
		}
	}
}

// Enqueue appends fn to the queue. In restricted mode the task is dropped.
func (q *Queue) Enqueue(fn func()) {
	q.enqueueInternal(fn, false)
}

// EnqueueEvenWhileRestricted appends fn regardless of restricted mode; used
// only for shutdown work.
func (q *Queue) EnqueueEvenWhileRestricted(fn func()) {
	q.enqueueInternal(fn, true)
}

func (q *Queue) enqueueInternal(fn func(), evenRestricted bool) {
	q.mu.Lock()
	if q.terminated || (q.restricted && !evenRestricted) {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// EnqueueRetryable runs fn, retrying with exponential backoff for transient
// failures. A permanent failure faults the queue.
func (q *Queue) EnqueueRetryable(fn func() error) {
	q.Enqueue(func() { q.runRetryable(fn) })
}

func (q *Queue) runRetryable(fn func() error) {
	err := fn()
	if err == nil {
		q.retryBackoff.Reset()
		return
	}
	if codes.CodeOf(err).IsPermanent() {
		q.logger.Error("queue task failed permanently", "error", err)
		q.mu.Lock()
		q.fault = err
		q.mu.Unlock()
		return
	}
	q.logger.Warn("queue task failed, scheduling retry", "error", err)
	q.retryBackoff.BackoffAndRun(func() { q.runRetryable(fn) })
}

// EnqueueAfterDelay schedules fn after delay. The returned task can be
// cancelled or triggered immediately.
func (q *Queue) EnqueueAfterDelay(id TimerID, delay time.Duration, fn func()) *DelayedTask {
	t := &DelayedTask{id: id, queue: q, fn: fn}
	t.timer = time.AfterFunc(delay, t.fire)
	q.delayedMu.Lock()
	if q.restrictedSnapshot() {
		// No new timers once shutting down.
		t.timer.Stop()
		q.delayedMu.Unlock()
		return t
	}
	q.delayed[t] = struct{}{}
	q.delayedMu.Unlock()
	return t
}

func (q *Queue) restrictedSnapshot() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.restricted || q.terminated
}

// SkipDelaysFor triggers every pending delayed task with the given id
// immediately. Used to fast-path retries when the app becomes foreground.
func (q *Queue) SkipDelaysFor(id TimerID) {
	q.delayedMu.Lock()
	var tasks []*DelayedTask
	for t := range q.delayed {
		if t.id == id {
			tasks = append(tasks, t)
		}
	}
	q.delayedMu.Unlock()
	for _, t := range tasks {
		t.SkipDelay()
	}
}

func (q *Queue) removeDelayed(t *DelayedTask) {
	q.delayedMu.Lock()
	delete(q.delayed, t)
	q.delayedMu.Unlock()
}

// Fault returns the error that faulted the queue, if any. New enqueues are
// still permitted after a fault.
func (q *Queue) Fault() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fault
}

// EnterRestrictedMode stops accepting ordinary tasks and cancels pending
// timers. Already enqueued tasks still run.
func (q *Queue) EnterRestrictedMode() {
	q.mu.Lock()
	q.restricted = true
	q.mu.Unlock()

	q.delayedMu.Lock()
	for t := range q.delayed {
		t.cancelLocked()
		delete(q.delayed, t)
	}
	q.delayedMu.Unlock()
}

// IsRestricted reports whether the queue has begun shutting down.
func (q *Queue) IsRestricted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.restricted
}

// Drain blocks until every currently enqueued task has run.
func (q *Queue) Drain() {
	done := make(chan struct{})
	q.enqueueInternal(func() { close(done) }, true)
	<-done
}

// Terminate drains the queue and stops the worker. The queue cannot be
// restarted.
func (q *Queue) Terminate() {
	q.EnterRestrictedMode()
	q.Drain()
	q.mu.Lock()
	q.terminated = true
	q.mu.Unlock()
	close(q.done)
}

// DelayedTask is a cancellable scheduled task.
type DelayedTask struct {
	id    TimerID
	queue *Queue
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	settled bool
}

// fire runs on the timer goroutine; the work itself is re-enqueued so it
// executes serialized with everything else.
func (t *DelayedTask) fire() {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	t.settled = true
	t.mu.Unlock()
	t.queue.removeDelayed(t)
	t.queue.Enqueue(t.fn)
}

// Cancel stops the task; a no-op if it already fired.
func (t *DelayedTask) Cancel() {
	t.cancelLocked()
	t.queue.removeDelayed(t)
}

func (t *DelayedTask) cancelLocked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return
	}
	t.settled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// SkipDelay runs the task now instead of waiting out the delay.
func (t *DelayedTask) SkipDelay() {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	t.settled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	t.queue.removeDelayed(t)
	t.queue.Enqueue(t.fn)
}
