package async

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultBackoffInitialDelay = 1 * time.Second
	DefaultBackoffMaxDelay     = 60 * time.Second
	DefaultBackoffFactor       = 2.0
)

// ExponentialBackoff schedules retries with a doubling-ish delay and ±50%
// jitter. Reset is called once the guarded operation proves healthy.
type ExponentialBackoff struct {
	queue   *Queue
	timerID TimerID

	initialDelay time.Duration
	factor       float64
	maxDelay     time.Duration

	mu          sync.Mutex
	currentBase time.Duration
	task        *DelayedTask
}

func NewExponentialBackoff(queue *Queue, timerID TimerID, initialDelay time.Duration, factor float64, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		queue:        queue,
		timerID:      timerID,
		initialDelay: initialDelay,
		factor:       factor,
		maxDelay:     maxDelay,
	}
}

// Reset drops the delay back to zero so the next attempt is immediate.
func (b *ExponentialBackoff) Reset() {
	b.mu.Lock()
	b.currentBase = 0
	b.mu.Unlock()
}

// ResetToMax forces the next attempt to wait the maximum delay. Used after
// resource-exhausted responses.
func (b *ExponentialBackoff) ResetToMax() {
	b.mu.Lock()
	b.currentBase = b.maxDelay
	b.mu.Unlock()
}

// BackoffAndRun cancels any pending attempt and schedules fn after the
// current delay plus jitter, then grows the delay.
func (b *ExponentialBackoff) BackoffAndRun(fn func()) {
	b.Cancel()

	b.mu.Lock()
	delay := b.currentBase + b.jitterLocked()
	if delay < 0 {
		delay = 0
	}
	b.currentBase = time.Duration(float64(b.currentBase) * b.factor)
	if b.currentBase < b.initialDelay {
		b.currentBase = b.initialDelay
	}
	if b.currentBase > b.maxDelay {
		b.currentBase = b.maxDelay
	}
	b.task = b.queue.EnqueueAfterDelay(b.timerID, delay, fn)
	b.mu.Unlock()
}

// Cancel stops a pending attempt, if any.
func (b *ExponentialBackoff) Cancel() {
	b.mu.Lock()
	task := b.task
	b.task = nil
	b.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
}

// jitterLocked returns a random offset in [-base/2, +base/2].
func (b *ExponentialBackoff) jitterLocked() time.Duration {
	if b.currentBase == 0 {
		return 0
	}
	return time.Duration((rand.Float64() - 0.5) * float64(b.currentBase))
}
