package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/syntrixbase/syntrix-go/internal/async"
	"github.com/syntrixbase/syntrix-go/internal/credentials"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// How long a stream with no active targets or writes stays open before the
// idle timer tears it down.
const idleTimeout = 60 * time.Second

// How long a stream must stay open before a close resets the reconnect
// backoff. A stream that flaps sooner keeps its accumulated delay.
const healthyThreshold = 14 * time.Minute

type streamState int

const (
	// streamInitial: never started, or fully torn down.
	streamInitial streamState = iota
	// streamStarting: backoff elapsed, auth and dial in flight.
	streamStarting
	// streamOpen: auth acknowledged, frames flowing.
	streamOpen
	// streamBackoff: waiting out the backoff delay before redialing.
	streamBackoff
)

// streamDelegate receives lifecycle and message events on the async queue.
type streamDelegate interface {
	onStreamOpen()
	// onStreamClose is called exactly once per started stream, with nil for
	// a deliberate or idle stop.
	onStreamClose(err error)
	onStreamMessage(msg BaseMessage) error
}

// persistentStream owns one auto-reconnecting stream. All state transitions
// happen on the async queue; the network goroutine only forwards events.
type persistentStream struct {
	queue     *async.Queue
	transport Transport
	path      string
	creds     credentials.Provider
	logger    *slog.Logger
	delegate  streamDelegate

	idleTimerID async.TimerID
	backoff     *async.ExponentialBackoff

	// healthyAfter is how long the stream must stay open before a close
	// resets the backoff. Tests shorten it.
	healthyAfter time.Duration

	state      streamState
	conn       Conn
	generation int
	idleTask   *async.DelayedTask
	openedAt   time.Time
}

func newPersistentStream(
	queue *async.Queue,
	transport Transport,
	path string,
	creds credentials.Provider,
	idleTimerID, backoffTimerID async.TimerID,
	delegate streamDelegate,
	logger *slog.Logger,
) *persistentStream {
	return &persistentStream{
		queue:       queue,
		transport:   transport,
		path:        path,
		creds:       creds,
		logger:      logger,
		delegate:    delegate,
		idleTimerID: idleTimerID,
		backoff: async.NewExponentialBackoff(queue, backoffTimerID,
			async.DefaultBackoffInitialDelay, async.DefaultBackoffFactor, async.DefaultBackoffMaxDelay),
		healthyAfter: healthyThreshold,
	}
}

func (s *persistentStream) isStarted() bool {
	return s.state == streamStarting || s.state == streamOpen || s.state == streamBackoff
}

func (s *persistentStream) isOpen() bool { return s.state == streamOpen }

// start dials after the current backoff delay. The first start has no
// delay. Calling start on a started stream is a no-op.
func (s *persistentStream) start() {
	if s.isStarted() {
		return
	}
	s.state = streamBackoff
	s.backoff.BackoffAndRun(func() {
		if s.state != streamBackoff {
			return
		}
		s.state = streamStarting
		s.generation++
		go s.run(s.generation)
	})
}

// run fetches a token, dials, authenticates, and pumps inbound frames onto
// the queue. It never touches stream state directly.
func (s *persistentStream) run(generation int) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	token, err := s.creds.GetToken(ctx)
	if err != nil {
		s.queue.Enqueue(func() { s.handleStreamFailure(generation, err) })
		return
	}
	conn, err := s.transport.Dial(ctx, s.path)
	if err != nil {
		s.queue.Enqueue(func() { s.handleStreamFailure(generation, err) })
		return
	}
	if token.Value != "" {
		payload, _ := json.Marshal(AuthPayload{Token: token.Value})
		if err := conn.Send(BaseMessage{Type: TypeAuth, Payload: payload}); err != nil {
			conn.Close()
			s.queue.Enqueue(func() { s.handleStreamFailure(generation, err) })
			return
		}
	}

	s.queue.Enqueue(func() {
		if generation != s.generation {
			conn.Close()
			return
		}
		s.conn = conn
		if token.Value == "" {
			// No auth round trip; the stream is usable immediately.
			s.onOpen()
		}
	})

	for msg := range conn.Messages() {
		m := msg
		s.queue.Enqueue(func() { s.handleMessage(generation, m) })
	}
	s.queue.Enqueue(func() { s.handleStreamFailure(generation, conn.Err()) })
}

func (s *persistentStream) onOpen() {
	if s.state != streamStarting {
		return
	}
	s.state = streamOpen
	s.openedAt = time.Now()
	s.delegate.onStreamOpen()
}

func (s *persistentStream) handleMessage(generation int, msg BaseMessage) {
	if generation != s.generation {
		return
	}
	switch msg.Type {
	case TypeAuthAck:
		s.onOpen()
	case TypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.handleStreamFailure(generation, codes.Wrap(codes.Internal, err))
			return
		}
		s.handleStreamFailure(generation, codes.New(codes.Code(payload.Code), payload.Message))
	default:
		if err := s.delegate.onStreamMessage(msg); err != nil {
			s.handleStreamFailure(generation, err)
		}
	}
}

// handleStreamFailure tears the stream down and reports the error. The
// stream stays restartable; the caller decides whether to start again.
func (s *persistentStream) handleStreamFailure(generation int, err error) {
	if generation != s.generation || !s.isStarted() {
		return
	}
	s.teardown()

	code := codes.CodeOf(err)
	switch {
	case code == codes.ResourceExhausted:
		// The backend asked us to slow down.
		s.backoff.ResetToMax()
	case code.IsAuthError():
		s.creds.InvalidateToken()
	}
	if err != nil {
		s.logger.Warn("stream closed", "path", s.path, "error", err)
	}
	s.delegate.onStreamClose(err)
}

// stop closes the stream without reporting an error to the delegate.
func (s *persistentStream) stop() {
	if !s.isStarted() {
		return
	}
	wasOpen := s.state == streamOpen
	s.teardown()
	if wasOpen {
		s.delegate.onStreamClose(nil)
	}
}

func (s *persistentStream) teardown() {
	if s.state == streamOpen && time.Since(s.openedAt) >= s.healthyAfter {
		s.backoff.Reset()
	}
	s.openedAt = time.Time{}
	s.generation++
	s.cancelIdle()
	s.backoff.Cancel()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = streamInitial
}

// inhibitBackoff makes the next start dial immediately. Used when the user
// explicitly toggles the network.
func (s *persistentStream) inhibitBackoff() {
	s.backoff.Reset()
}

func (s *persistentStream) send(msg BaseMessage) {
	if s.state != streamOpen || s.conn == nil {
		return
	}
	s.cancelIdle()
	if err := s.conn.Send(msg); err != nil {
		s.handleStreamFailure(s.generation, err)
	}
}

// markIdle arms the idle timer; the stream stops if nothing cancels it.
func (s *persistentStream) markIdle() {
	if s.state != streamOpen || s.idleTask != nil {
		return
	}
	s.idleTask = s.queue.EnqueueAfterDelay(s.idleTimerID, idleTimeout, func() {
		s.idleTask = nil
		if s.state == streamOpen {
			s.stop()
		}
	})
}

func (s *persistentStream) cancelIdle() {
	if s.idleTask != nil {
		s.idleTask.Cancel()
		s.idleTask = nil
	}
}
