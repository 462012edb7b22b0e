package remote

import (
	"log/slog"

	"github.com/syntrixbase/syntrix-go/internal/async"
	"github.com/syntrixbase/syntrix-go/internal/credentials"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// Upper bound on unacknowledged batches in flight on the write stream.
const maxPendingWrites = 10

// Syncer is the sync engine surface the remote store drives. All calls
// arrive on the async queue.
type Syncer interface {
	ApplyRemoteEvent(event RemoteEvent)
	// RejectListen reports a target the server refused; the listen must be
	// surfaced as failed to its listeners.
	RejectListen(targetID model.TargetID, err error)
	ApplySuccessfulWrite(batch model.MutationBatch, commitVersion model.SnapshotVersion, results []model.MutationResult)
	RejectFailedWrite(batchID model.BatchID, err error)
	GetRemoteKeysForTarget(targetID model.TargetID) model.DocumentKeySet
	HandleOnlineStateChange(state OnlineState)
}

// MutationSource feeds the write pipeline with queued batches.
type MutationSource interface {
	NextMutationBatch(afterBatchID model.BatchID) (model.MutationBatch, bool)
}

// RemoteStore owns both streams and the network on/off switch. It keeps
// one listen stream multiplexing all targets and one write stream pushing
// queued batches in order.
type RemoteStore struct {
	queue   *async.Queue
	syncer  Syncer
	source  MutationSource
	tracker *onlineStateTracker
	logger  *slog.Logger

	listenStream *ListenStream
	writeStream  *WriteStream

	listenTargets map[model.TargetID]model.TargetData
	aggregator    *WatchChangeAggregator

	// writePipeline holds batches sent (or queued to send) but not yet
	// acknowledged, in batch id order.
	writePipeline []model.MutationBatch

	networkEnabled bool
}

func NewRemoteStore(
	queue *async.Queue,
	transport Transport,
	creds credentials.Provider,
	syncer Syncer,
	source MutationSource,
	logger *slog.Logger,
) *RemoteStore {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RemoteStore{
		queue:         queue,
		syncer:        syncer,
		source:        source,
		logger:        logger,
		listenTargets: map[model.TargetID]model.TargetData{},
	}
	r.tracker = newOnlineStateTracker(queue, syncer.HandleOnlineStateChange, logger)
	r.listenStream = NewListenStream(queue, transport, creds, (*listenCallbacks)(r), logger)
	r.writeStream = NewWriteStream(queue, transport, creds, (*writeCallbacks)(r), logger)
	return r
}

// Start brings the network up.
func (r *RemoteStore) Start() {
	r.EnableNetwork()
}

// EnableNetwork lets streams connect; they start as soon as work exists.
func (r *RemoteStore) EnableNetwork() {
	if r.networkEnabled {
		return
	}
	r.networkEnabled = true
	r.listenStream.InhibitBackoff()
	r.writeStream.InhibitBackoff()
	if r.shouldStartListenStream() {
		r.startListenStream()
	} else {
		r.tracker.set(OnlineStateUnknown)
	}
	r.FillWritePipeline()
}

// DisableNetwork tears both streams down and reports Offline so listeners
// fall back to cached data immediately.
func (r *RemoteStore) DisableNetwork() {
	r.disableNetworkInternal()
	r.tracker.set(OnlineStateOffline)
}

func (r *RemoteStore) disableNetworkInternal() {
	r.networkEnabled = false
	r.listenStream.Stop()
	r.writeStream.Stop()
	if len(r.writePipeline) > 0 {
		r.logger.Debug("stopping write stream with pending writes", "count", len(r.writePipeline))
		r.writePipeline = nil
	}
	r.cleanUpListenState()
}

// Shutdown permanently stops the remote store.
func (r *RemoteStore) Shutdown() {
	r.disableNetworkInternal()
	r.tracker.set(OnlineStateUnknown)
}

// HandleCredentialChange restarts both streams so they pick up the new
// token. In-flight writes are requeued by FillWritePipeline.
func (r *RemoteStore) HandleCredentialChange() {
	if !r.networkEnabled {
		return
	}
	r.tracker.set(OnlineStateUnknown)
	r.disableNetworkInternal()
	r.EnableNetwork()
}

// Listen registers a target. The stream starts on the first target.
func (r *RemoteStore) Listen(td model.TargetData) {
	if _, ok := r.listenTargets[td.TargetID]; ok {
		return
	}
	r.listenTargets[td.TargetID] = td
	if r.shouldStartListenStream() {
		r.startListenStream()
	} else if r.listenStream.IsOpen() {
		r.sendWatchRequest(td)
	}
}

// Unlisten removes a target. The stream idles out once none remain.
func (r *RemoteStore) Unlisten(targetID model.TargetID) {
	if _, ok := r.listenTargets[targetID]; !ok {
		return
	}
	delete(r.listenTargets, targetID)
	if r.listenStream.IsOpen() {
		r.sendUnwatchRequest(targetID)
	}
	if len(r.listenTargets) == 0 {
		if r.listenStream.IsOpen() {
			r.listenStream.MarkIdle()
		} else if r.networkEnabled {
			// Nothing to watch; the stream need not reconnect.
			r.listenStream.Stop()
			r.tracker.set(OnlineStateUnknown)
		}
	}
}

func (r *RemoteStore) sendWatchRequest(td model.TargetData) {
	r.aggregator.RecordPendingTargetRequest(td.TargetID)
	r.listenStream.WatchTarget(td)
}

func (r *RemoteStore) sendUnwatchRequest(targetID model.TargetID) {
	r.aggregator.RecordPendingTargetRequest(targetID)
	r.listenStream.UnwatchTarget(targetID)
	r.aggregator.RemoveTarget(targetID)
}

func (r *RemoteStore) shouldStartListenStream() bool {
	return r.networkEnabled && !r.listenStream.IsStarted() && len(r.listenTargets) > 0
}

func (r *RemoteStore) startListenStream() {
	r.tracker.handleWatchStreamStart()
	r.listenStream.Start()
}

func (r *RemoteStore) cleanUpListenState() {
	r.aggregator = nil
}

// listenCallbacks adapts RemoteStore to the listen stream without
// exporting the handlers.
type listenCallbacks RemoteStore

func (c *listenCallbacks) OnListenOpen() {
	r := (*RemoteStore)(c)
	r.aggregator = NewWatchChangeAggregator((*aggregatorMetadata)(r), r.logger)
	for _, td := range r.listenTargets {
		r.sendWatchRequest(td)
	}
}

func (c *listenCallbacks) OnListenClose(err error) {
	r := (*RemoteStore)(c)
	r.cleanUpListenState()
	if err == nil {
		// Deliberate or idle stop.
		return
	}
	if r.shouldStartListenStream() {
		r.tracker.handleWatchStreamFailure(err)
		r.startListenStream()
	}
}

func (c *listenCallbacks) OnWatchChange(change WatchChange, snapshotVersion model.SnapshotVersion) {
	r := (*RemoteStore)(c)
	// Any frame from the server proves the connection healthy.
	r.tracker.handleWatchStreamOpen()
	if r.aggregator == nil {
		return
	}

	switch ch := change.(type) {
	case WatchTargetChange:
		if ch.State == TargetStateRemoved && ch.Cause != nil {
			r.handleTargetError(ch)
			return
		}
		r.aggregator.HandleTargetChange(ch)
		if ch.State == TargetStateNoChange && !snapshotVersion.IsZero() {
			r.raiseWatchSnapshot(snapshotVersion)
		}
	case DocumentWatchChange:
		r.aggregator.HandleDocumentChange(ch)
	case ExistenceFilterWatchChange:
		r.aggregator.HandleExistenceFilter(ch)
	}
}

// handleTargetError drops the failed targets and reports them upward.
func (r *RemoteStore) handleTargetError(ch WatchTargetChange) {
	for _, id := range ch.TargetIDs {
		if _, ok := r.listenTargets[id]; !ok {
			continue
		}
		delete(r.listenTargets, id)
		r.aggregator.RemoveTarget(id)
		r.syncer.RejectListen(id, ch.Cause)
	}
}

// raiseWatchSnapshot closes the aggregation window and hands the resulting
// event to the sync engine, then re-queries any mismatched target.
func (r *RemoteStore) raiseWatchSnapshot(snapshotVersion model.SnapshotVersion) {
	event := r.aggregator.CreateRemoteEvent(snapshotVersion)
	r.syncer.ApplyRemoteEvent(event)

	for id := range event.TargetMismatches {
		td, ok := r.listenTargets[id]
		if !ok {
			continue
		}
		// Re-issue the listen without a resume token so the server replays
		// the full result set.
		td.ResumeToken = nil
		td.Purpose = model.PurposeExistenceFilterMismatch
		r.listenTargets[id] = td
		r.sendUnwatchRequest(id)
		r.sendWatchRequest(td)
	}
}

// CanUseNetwork reports whether streams are allowed to connect.
func (r *RemoteStore) CanUseNetwork() bool { return r.networkEnabled }

// FillWritePipeline tops up the in-flight window from the mutation queue.
// Called after local writes and after each acknowledgment.
func (r *RemoteStore) FillWritePipeline() {
	if !r.networkEnabled {
		return
	}
	lastBatchID := model.BatchID(-1)
	if n := len(r.writePipeline); n > 0 {
		lastBatchID = r.writePipeline[n-1].BatchID
	}
	for r.canAddToWritePipeline() {
		batch, ok := r.source.NextMutationBatch(lastBatchID)
		if !ok {
			if len(r.writePipeline) == 0 {
				r.writeStream.MarkIdle()
			}
			break
		}
		r.addToWritePipeline(batch)
		lastBatchID = batch.BatchID
	}
	if r.shouldStartWriteStream() {
		r.writeStream.Start()
	}
}

func (r *RemoteStore) canAddToWritePipeline() bool {
	return len(r.writePipeline) < maxPendingWrites
}

func (r *RemoteStore) addToWritePipeline(batch model.MutationBatch) {
	r.writePipeline = append(r.writePipeline, batch)
	if r.writeStream.IsOpen() && r.writeStream.HandshakeComplete() {
		r.writeStream.WriteMutations(batch.Mutations)
	}
}

func (r *RemoteStore) shouldStartWriteStream() bool {
	return r.networkEnabled && !r.writeStream.IsStarted() && len(r.writePipeline) > 0
}

type writeCallbacks RemoteStore

func (c *writeCallbacks) OnWriteOpen() {
	r := (*RemoteStore)(c)
	r.writeStream.WriteHandshake()
}

func (c *writeCallbacks) OnWriteHandshakeComplete() {
	r := (*RemoteStore)(c)
	// Replay every batch still awaiting acknowledgment, in order.
	for _, batch := range r.writePipeline {
		r.writeStream.WriteMutations(batch.Mutations)
	}
}

func (c *writeCallbacks) OnWriteResponse(commitVersion model.SnapshotVersion, results []model.MutationResult) {
	r := (*RemoteStore)(c)
	if len(r.writePipeline) == 0 {
		r.logger.Warn("write response with empty pipeline")
		return
	}
	batch := r.writePipeline[0]
	r.writePipeline = r.writePipeline[1:]
	r.syncer.ApplySuccessfulWrite(batch, commitVersion, results)
	r.FillWritePipeline()
}

func (c *writeCallbacks) OnWriteClose(err error) {
	r := (*RemoteStore)(c)
	if err == nil {
		return
	}
	if len(r.writePipeline) > 0 && codes.CodeOf(err).IsPermanent() {
		// The head batch was refused outright; drop it and keep going.
		batch := r.writePipeline[0]
		r.writePipeline = r.writePipeline[1:]
		r.writeStream.InhibitBackoff()
		r.syncer.RejectFailedWrite(batch.BatchID, err)
	}
	if r.shouldStartWriteStream() {
		r.writeStream.Start()
	}
}

// aggregatorMetadata adapts RemoteStore to TargetMetadataProvider.
type aggregatorMetadata RemoteStore

func (m *aggregatorMetadata) GetRemoteKeysForTarget(id model.TargetID) model.DocumentKeySet {
	return (*RemoteStore)(m).syncer.GetRemoteKeysForTarget(id)
}

func (m *aggregatorMetadata) GetTargetDataForTarget(id model.TargetID) (model.TargetData, bool) {
	td, ok := (*RemoteStore)(m).listenTargets[id]
	return td, ok
}
