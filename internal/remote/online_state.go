package remote

import (
	"log/slog"
	"time"

	"github.com/syntrixbase/syntrix-go/internal/async"
)

// OnlineState summarizes connection health for snapshot metadata.
type OnlineState int

const (
	// OnlineStateUnknown: no verdict yet; treat cached data as provisional.
	OnlineStateUnknown OnlineState = iota
	// OnlineStateOnline: the listen stream is confirmed healthy.
	OnlineStateOnline
	// OnlineStateOffline: enough failures accumulated that cached reads
	// should be served without waiting for the backend.
	OnlineStateOffline
)

func (s OnlineState) String() string {
	switch s {
	case OnlineStateOnline:
		return "online"
	case OnlineStateOffline:
		return "offline"
	}
	return "unknown"
}

const (
	// Failures tolerated in Unknown before giving up and going Offline.
	maxWatchStreamFailures = 1
	// How long Unknown may last without a successful connection.
	onlineStateTimeout = 10 * time.Second
)

// onlineStateTracker applies the transition rules: Unknown goes Online on
// the first successful frame, Offline after repeated failures or a timeout,
// and Online drops straight back to Unknown on a single failure.
type onlineStateTracker struct {
	queue    *async.Queue
	logger   *slog.Logger
	onChange func(OnlineState)

	state        OnlineState
	failureCount int
	timeoutTask  *async.DelayedTask
}

func newOnlineStateTracker(queue *async.Queue, onChange func(OnlineState), logger *slog.Logger) *onlineStateTracker {
	return &onlineStateTracker{queue: queue, logger: logger, onChange: onChange}
}

// handleWatchStreamStart arms the Unknown timeout on the first attempt.
func (t *onlineStateTracker) handleWatchStreamStart() {
	if t.failureCount > 0 {
		return
	}
	t.setState(OnlineStateUnknown)
	if t.timeoutTask == nil {
		t.timeoutTask = t.queue.EnqueueAfterDelay(async.TimerOnlineStateTimeout, onlineStateTimeout, func() {
			t.timeoutTask = nil
			if t.state == OnlineStateUnknown {
				t.logger.Debug("watch stream did not connect in time, going offline")
				t.setState(OnlineStateOffline)
			}
		})
	}
}

// handleWatchStreamOpen marks the backend reachable.
func (t *onlineStateTracker) handleWatchStreamOpen() {
	t.clearTimeout()
	t.failureCount = 0
	t.setState(OnlineStateOnline)
}

// handleWatchStreamFailure counts a failed connection. One strike while
// Online drops to Unknown; repeated strikes while Unknown go Offline.
func (t *onlineStateTracker) handleWatchStreamFailure(err error) {
	if t.state == OnlineStateOnline {
		t.setState(OnlineStateUnknown)
		return
	}
	t.failureCount++
	if t.failureCount >= maxWatchStreamFailures {
		t.clearTimeout()
		t.logger.Debug("watch stream failures exhausted, going offline", "error", err)
		t.setState(OnlineStateOffline)
	}
}

// set forces a state, used when the network is explicitly disabled.
func (t *onlineStateTracker) set(state OnlineState) {
	t.clearTimeout()
	t.failureCount = 0
	t.setState(state)
}

func (t *onlineStateTracker) setState(state OnlineState) {
	if state == t.state {
		return
	}
	t.state = state
	t.onChange(state)
}

func (t *onlineStateTracker) clearTimeout() {
	if t.timeoutTask != nil {
		t.timeoutTask.Cancel()
		t.timeoutTask = nil
	}
}
