package remote

import (
	"encoding/json"
	"log/slog"

	"github.com/syntrixbase/syntrix-go/internal/async"
	"github.com/syntrixbase/syntrix-go/internal/credentials"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// WriteCallbacks receives write stream events on the async queue.
type WriteCallbacks interface {
	OnWriteOpen()
	OnWriteClose(err error)
	// OnWriteHandshakeComplete fires once per stream, before any mutation
	// results.
	OnWriteHandshakeComplete()
	// OnWriteResponse acknowledges the oldest in-flight batch.
	OnWriteResponse(commitVersion model.SnapshotVersion, results []model.MutationResult)
}

// WriteStream sends mutation batches in order over one connection. A
// handshake must complete before the first batch; the stream token it
// yields makes replays after reconnect idempotent.
type WriteStream struct {
	*persistentStream
	callbacks WriteCallbacks
	logger    *slog.Logger

	handshakeComplete bool
	lastStreamToken   []byte
}

func NewWriteStream(
	queue *async.Queue,
	transport Transport,
	creds credentials.Provider,
	callbacks WriteCallbacks,
	logger *slog.Logger,
) *WriteStream {
	s := &WriteStream{callbacks: callbacks, logger: logger}
	s.persistentStream = newPersistentStream(queue, transport, WritePath, creds,
		async.TimerWriteStreamIdle, async.TimerWriteStreamConnectionBackoff, s, logger)
	return s
}

func (s *WriteStream) Start()          { s.start() }
func (s *WriteStream) Stop()           { s.stop() }
func (s *WriteStream) IsOpen() bool    { return s.isOpen() }
func (s *WriteStream) IsStarted() bool { return s.isStarted() }
func (s *WriteStream) MarkIdle()       { s.markIdle() }
func (s *WriteStream) InhibitBackoff() { s.inhibitBackoff() }

func (s *WriteStream) HandshakeComplete() bool { return s.handshakeComplete }

// WriteHandshake opens the write pipeline. Must be the first message on
// every (re)connected stream.
func (s *WriteStream) WriteHandshake() {
	payload, _ := json.Marshal(WriteHandshakePayload{StreamToken: s.lastStreamToken})
	s.send(BaseMessage{Type: TypeWriteHandshake, Payload: payload})
}

// WriteMutations sends one batch. The handshake must have completed.
func (s *WriteStream) WriteMutations(mutations []model.Mutation) {
	wire := make([]wireMutation, len(mutations))
	for i, m := range mutations {
		wire[i] = encodeMutation(m)
	}
	payload, _ := json.Marshal(WritePayload{StreamToken: s.lastStreamToken, Mutations: wire})
	s.send(BaseMessage{Type: TypeWrite, Payload: payload})
}

func (s *WriteStream) onStreamOpen() {
	s.handshakeComplete = false
	s.callbacks.OnWriteOpen()
}

func (s *WriteStream) onStreamClose(err error) {
	s.handshakeComplete = false
	s.callbacks.OnWriteClose(err)
}

func (s *WriteStream) onStreamMessage(msg BaseMessage) error {
	switch msg.Type {
	case TypeWriteHandshakeAck:
		var payload WriteHandshakeAckPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		s.lastStreamToken = payload.StreamToken
		s.handshakeComplete = true
		s.callbacks.OnWriteHandshakeComplete()
	case TypeWriteResult:
		var payload WriteResultPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		if !s.handshakeComplete {
			return codes.New(codes.Internal, "write result before handshake")
		}
		s.lastStreamToken = payload.StreamToken
		commitVersion := decodeVersion(payload.CommitTime)
		results := make([]model.MutationResult, len(payload.Results))
		for i, wr := range payload.Results {
			r := model.MutationResult{}
			if wr.UpdateTime != nil {
				r.Version = decodeVersion(*wr.UpdateTime)
			}
			if len(wr.TransformResults) > 0 {
				values, err := decodeValues(wr.TransformResults)
				if err != nil {
					return codes.Wrap(codes.Internal, err)
				}
				r.TransformResults = values
			}
			results[i] = r
		}
		s.callbacks.OnWriteResponse(commitVersion, results)
	default:
		s.logger.Warn("unexpected write stream message", "type", msg.Type)
	}
	return nil
}
