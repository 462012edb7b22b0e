package remote

import (
	"encoding/json"
	"log/slog"

	"github.com/syntrixbase/syntrix-go/internal/async"
	"github.com/syntrixbase/syntrix-go/internal/credentials"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// ListenCallbacks receives decoded listen stream events on the async queue.
type ListenCallbacks interface {
	OnListenOpen()
	OnListenClose(err error)
	// OnWatchChange delivers one change plus the snapshot version attached
	// to the frame, zero when the frame carries none.
	OnWatchChange(change WatchChange, snapshotVersion model.SnapshotVersion)
}

// ListenStream multiplexes all active targets over one watch connection.
type ListenStream struct {
	*persistentStream
	callbacks ListenCallbacks
	logger    *slog.Logger
}

func NewListenStream(
	queue *async.Queue,
	transport Transport,
	creds credentials.Provider,
	callbacks ListenCallbacks,
	logger *slog.Logger,
) *ListenStream {
	s := &ListenStream{callbacks: callbacks, logger: logger}
	s.persistentStream = newPersistentStream(queue, transport, ListenPath, creds,
		async.TimerListenStreamIdle, async.TimerListenStreamConnectionBackoff, s, logger)
	return s
}

func (s *ListenStream) Start()          { s.start() }
func (s *ListenStream) Stop()           { s.stop() }
func (s *ListenStream) IsOpen() bool    { return s.isOpen() }
func (s *ListenStream) IsStarted() bool { return s.isStarted() }
func (s *ListenStream) MarkIdle()       { s.markIdle() }
func (s *ListenStream) InhibitBackoff() { s.inhibitBackoff() }

// WatchTarget registers a target on the open stream.
func (s *ListenStream) WatchTarget(td model.TargetData) {
	payload, _ := json.Marshal(AddTargetPayload{
		TargetID:    int32(td.TargetID),
		Query:       encodeTarget(td.Target),
		ResumeToken: td.ResumeToken,
	})
	s.send(BaseMessage{Type: TypeAddTarget, Payload: payload})
}

// UnwatchTarget removes a target from the open stream.
func (s *ListenStream) UnwatchTarget(id model.TargetID) {
	payload, _ := json.Marshal(RemoveTargetPayload{TargetID: int32(id)})
	s.send(BaseMessage{Type: TypeRemoveTarget, Payload: payload})
}

func (s *ListenStream) onStreamOpen()           { s.callbacks.OnListenOpen() }
func (s *ListenStream) onStreamClose(err error) { s.callbacks.OnListenClose(err) }

func (s *ListenStream) onStreamMessage(msg BaseMessage) error {
	switch msg.Type {
	case TypeTargetChange:
		var payload TargetChangePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		change := WatchTargetChange{
			State:       payload.State,
			TargetIDs:   toTargetIDs(payload.TargetIDs),
			ResumeToken: payload.ResumeToken,
		}
		if payload.Cause != nil {
			change.Cause = codes.New(codes.Code(payload.Cause.Code), payload.Cause.Message)
		}
		version := model.ZeroVersion()
		if payload.ReadTime != nil {
			version = decodeVersion(*payload.ReadTime)
		}
		s.callbacks.OnWatchChange(change, version)
	case TypeDocumentChange:
		var payload DocumentChangePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		doc, err := decodeDocument(payload.Document)
		if err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		s.callbacks.OnWatchChange(DocumentWatchChange{
			UpdatedTargetIDs: toTargetIDs(payload.TargetIDs),
			RemovedTargetIDs: toTargetIDs(payload.RemovedTargetIDs),
			Key:              doc.Key,
			Doc:              doc,
		}, model.ZeroVersion())
	case TypeDocumentDelete:
		var payload DocumentDeletePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		key, err := model.ParseDocumentKey(payload.Key)
		if err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		version := model.ZeroVersion()
		if payload.ReadTime != nil {
			version = decodeVersion(*payload.ReadTime)
		}
		s.callbacks.OnWatchChange(DocumentWatchChange{
			RemovedTargetIDs: toTargetIDs(payload.RemovedTargetIDs),
			Key:              key,
			Doc:              model.NewNoDocument(key, version),
		}, model.ZeroVersion())
	case TypeDocumentRemove:
		var payload DocumentRemovePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		key, err := model.ParseDocumentKey(payload.Key)
		if err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		s.callbacks.OnWatchChange(DocumentWatchChange{
			RemovedTargetIDs: toTargetIDs(payload.RemovedTargetIDs),
			Key:              key,
		}, model.ZeroVersion())
	case TypeExistenceFilter:
		var payload ExistenceFilterPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return codes.Wrap(codes.Internal, err)
		}
		change := ExistenceFilterWatchChange{
			TargetID: model.TargetID(payload.TargetID),
			Count:    payload.Count,
		}
		if payload.Bloom != nil {
			bloom, err := NewBloomFilter(payload.Bloom.Bits, payload.Bloom.Padding, payload.Bloom.HashCount)
			if err != nil {
				s.logger.Warn("ignoring malformed bloom filter", "target_id", payload.TargetID, "error", err)
			} else {
				change.Bloom = bloom
			}
		}
		s.callbacks.OnWatchChange(change, model.ZeroVersion())
	default:
		s.logger.Warn("unexpected listen stream message", "type", msg.Type)
	}
	return nil
}

func toTargetIDs(ids []int32) []model.TargetID {
	out := make([]model.TargetID, len(ids))
	for i, id := range ids {
		out[i] = model.TargetID(id)
	}
	return out
}
