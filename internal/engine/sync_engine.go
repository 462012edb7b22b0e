package engine

import (
	"log/slog"

	"github.com/syntrixbase/syntrix-go/internal/local"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// defaultMaxConcurrentLimboResolutions caps how many single-document limbo
// listens run at once; further candidates wait in a FIFO.
const defaultMaxConcurrentLimboResolutions = 100

// SnapshotHandler receives the sync engine's output. The event manager
// implements it; the engine never calls listeners directly.
type SnapshotHandler interface {
	OnViewSnapshots(snapshots []ViewSnapshot)
	OnListenError(query model.Query, err error)
	OnOnlineStateChange(state remote.OnlineState)
}

// queryView ties one listened query to its allocated target and view.
type queryView struct {
	query    model.Query
	targetID model.TargetID
	view     *View
}

// limboResolution tracks one outstanding single-document listen.
type limboResolution struct {
	key model.DocumentKey
	// receivedDocument flips once the resolution target delivered the
	// document; a later removal without it means the document was deleted.
	receivedDocument bool
}

// SyncEngine sits between the local store, the remote store, and the event
// manager. It owns all query views, decides when snapshots are raised,
// resolves limbo documents, and routes write acknowledgments back to their
// callers. Every method runs on the client's async queue.
type SyncEngine struct {
	localStore  *local.LocalStore
	remoteStore *remote.RemoteStore
	handler     SnapshotHandler
	logger      *slog.Logger

	queryViews     map[string]*queryView // by query canonical id
	queriesByTarget map[model.TargetID][]model.Query

	limboTargetsByKey              map[string]model.TargetID
	activeLimboResolutionsByTarget map[model.TargetID]*limboResolution
	enqueuedLimboResolutions       []model.DocumentKey
	enqueuedLimboKeys              map[string]bool
	maxConcurrentLimboResolutions  int
	// Limbo targets take odd ids so they never collide with the target
	// cache's even allocator.
	nextLimboTargetID model.TargetID

	mutationCallbacks map[model.BatchID]func(error)

	onlineState remote.OnlineState
}

func NewSyncEngine(localStore *local.LocalStore, remoteStore *remote.RemoteStore, handler SnapshotHandler, logger *slog.Logger) *SyncEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncEngine{
		localStore:                     localStore,
		remoteStore:                    remoteStore,
		handler:                        handler,
		logger:                         logger.With("component", "sync_engine"),
		queryViews:                     map[string]*queryView{},
		queriesByTarget:                map[model.TargetID][]model.Query{},
		limboTargetsByKey:              map[string]model.TargetID{},
		activeLimboResolutionsByTarget: map[model.TargetID]*limboResolution{},
		enqueuedLimboKeys:              map[string]bool{},
		maxConcurrentLimboResolutions:  defaultMaxConcurrentLimboResolutions,
		nextLimboTargetID:              1,
		mutationCallbacks:              map[model.BatchID]func(error){},
		onlineState:                    remote.OnlineStateUnknown,
	}
}

// Listen starts watching a query and returns its initial snapshot, served
// from the local store. Queries sharing a target reuse the existing remote
// listen.
func (e *SyncEngine) Listen(query model.Query) ViewSnapshot {
	if qv, ok := e.queryViews[query.CanonicalID()]; ok {
		// Already listening; replay the current state.
		return NewViewSnapshotFromInitialDocuments(query, qv.view.documentSet, qv.view.mutatedKeys, qv.view.syncState == SyncStateLocal)
	}

	targetData := e.localStore.AllocateTarget(query.ToTarget())
	targetID := targetData.TargetID
	_, targetActive := e.queriesByTarget[targetID]

	snapshot := e.initializeView(query, targetID)
	e.queriesByTarget[targetID] = append(e.queriesByTarget[targetID], query)
	if !targetActive {
		e.remoteStore.Listen(targetData)
	}
	return snapshot
}

func (e *SyncEngine) initializeView(query model.Query, targetID model.TargetID) ViewSnapshot {
	result := e.localStore.ExecuteQuery(query, true)
	view := NewView(query, result.RemoteKeys)
	docChanges := view.ComputeDocChanges(result.Documents, nil)
	change := view.ApplyChanges(docChanges, nil)
	e.updateTrackedLimbos(change.LimboChanges, targetID)
	e.queryViews[query.CanonicalID()] = &queryView{query: query, targetID: targetID, view: view}
	if change.Snapshot != nil {
		return *change.Snapshot
	}
	return NewViewSnapshotFromInitialDocuments(query, view.documentSet, view.mutatedKeys, true)
}

// Unlisten stops watching a query. The target is released only when its
// last query goes away.
func (e *SyncEngine) Unlisten(query model.Query) {
	qv, ok := e.queryViews[query.CanonicalID()]
	if !ok {
		return
	}
	delete(e.queryViews, query.CanonicalID())

	remaining := e.queriesByTarget[qv.targetID][:0]
	for _, q := range e.queriesByTarget[qv.targetID] {
		if q.CanonicalID() != query.CanonicalID() {
			remaining = append(remaining, q)
		}
	}
	if len(remaining) > 0 {
		e.queriesByTarget[qv.targetID] = remaining
		return
	}
	delete(e.queriesByTarget, qv.targetID)
	e.localStore.ReleaseTarget(qv.targetID)
	e.remoteStore.Unlisten(qv.targetID)
}

// Write applies mutations locally, raises snapshots reflecting the latent
// write, and queues the batch for the backend. done fires once the backend
// acknowledges or permanently rejects the batch.
func (e *SyncEngine) Write(mutations []model.Mutation, done func(error)) {
	result, err := e.localStore.LocalWrite(mutations)
	if err != nil {
		if done != nil {
			done(err)
		}
		return
	}
	if done != nil {
		e.mutationCallbacks[result.BatchID] = done
	}
	e.emitNewSnapshots(result.Changes, nil)
	e.remoteStore.FillWritePipeline()
}

// ApplyRemoteEvent folds a consistent watch snapshot into the local store
// and raises the resulting view snapshots.
func (e *SyncEngine) ApplyRemoteEvent(event remote.RemoteEvent) {
	e.updateReceivedDocuments(event)
	changes := e.localStore.ApplyRemoteEvent(event)
	e.emitNewSnapshots(changes, &event)
}

func (e *SyncEngine) updateReceivedDocuments(event remote.RemoteEvent) {
	for targetID, change := range event.TargetChanges {
		res, ok := e.activeLimboResolutionsByTarget[targetID]
		if !ok {
			continue
		}
		if change.AddedDocuments.Len() > 0 {
			res.receivedDocument = true
		} else if change.RemovedDocuments.Len() > 0 {
			res.receivedDocument = false
		}
	}
}

// RejectListen handles a server-side listen failure. Limbo targets resolve
// to "document deleted"; user targets surface the error to their listeners.
func (e *SyncEngine) RejectListen(targetID model.TargetID, err error) {
	if res, ok := e.activeLimboResolutionsByTarget[targetID]; ok {
		// A rejected limbo listen means the document is not readable, which
		// for the local cache is the same as deleted.
		key := res.key
		e.removeLimboResolution(key)
		tombstone := model.NewNoDocument(key, model.ZeroVersion())
		updates := model.NewDocumentMap()
		updates.Put(tombstone)
		event := remote.RemoteEvent{
			SnapshotVersion:        model.ZeroVersion(),
			TargetChanges:          map[model.TargetID]*remote.TargetChange{},
			TargetMismatches:       map[model.TargetID]model.TargetPurpose{},
			DocumentUpdates:        updates,
			ResolvedLimboDocuments: model.NewDocumentKeySet(key),
		}
		e.ApplyRemoteEvent(event)
		return
	}

	e.localStore.ReleaseTarget(targetID)
	queries := e.queriesByTarget[targetID]
	delete(e.queriesByTarget, targetID)
	for _, q := range queries {
		delete(e.queryViews, q.CanonicalID())
		e.handler.OnListenError(q, err)
	}
}

// ApplySuccessfulWrite acknowledges a batch: the local store folds the
// committed versions in, the caller's callback fires, and affected views
// re-render.
func (e *SyncEngine) ApplySuccessfulWrite(batch model.MutationBatch, commitVersion model.SnapshotVersion, results []model.MutationResult) {
	result := model.NewMutationBatchResult(batch, commitVersion, results)
	changes := e.localStore.AcknowledgeBatch(result)
	e.resolveMutationCallback(batch.BatchID, nil)
	e.emitNewSnapshots(changes, nil)
}

// RejectFailedWrite drops a permanently rejected batch and reports the
// error to the write's caller.
func (e *SyncEngine) RejectFailedWrite(batchID model.BatchID, err error) {
	if codes.CodeOf(err) == codes.Unknown {
		err = codes.Wrap(codes.Unknown, err)
	}
	changes := e.localStore.RejectBatch(batchID)
	e.resolveMutationCallback(batchID, err)
	e.emitNewSnapshots(changes, nil)
}

func (e *SyncEngine) resolveMutationCallback(batchID model.BatchID, err error) {
	if cb, ok := e.mutationCallbacks[batchID]; ok {
		delete(e.mutationCallbacks, batchID)
		cb(err)
	}
}

// GetRemoteKeysForTarget reports the locally known server membership of a
// target, used by the aggregator for existence filter checks.
func (e *SyncEngine) GetRemoteKeysForTarget(targetID model.TargetID) model.DocumentKeySet {
	if res, ok := e.activeLimboResolutionsByTarget[targetID]; ok {
		if res.receivedDocument {
			return model.NewDocumentKeySet(res.key)
		}
		return model.NewDocumentKeySet()
	}
	keys := model.NewDocumentKeySet()
	for _, q := range e.queriesByTarget[targetID] {
		if qv, ok := e.queryViews[q.CanonicalID()]; ok {
			for _, k := range qv.view.SyncedDocuments().SortedKeys() {
				keys.Add(k)
			}
		}
	}
	return keys
}

// HandleOnlineStateChange re-renders every view with the new online state
// and forwards it to the event manager.
func (e *SyncEngine) HandleOnlineStateChange(state remote.OnlineState) {
	e.onlineState = state
	var snapshots []ViewSnapshot
	for _, qv := range e.queryViews {
		change := qv.view.ApplyOnlineStateChange(state)
		if change.Snapshot != nil {
			snapshots = append(snapshots, *change.Snapshot)
		}
	}
	if len(snapshots) > 0 {
		e.handler.OnViewSnapshots(snapshots)
	}
	e.handler.OnOnlineStateChange(state)
}

// HandleUserChange recomputes all local views after the authenticated user
// switched, since the visible mutation queue changed with it.
func (e *SyncEngine) HandleUserChange() {
	changes := e.localStore.HandleUserChange()
	e.failOutstandingMutationCallbacks()
	e.emitNewSnapshots(changes, nil)
}

func (e *SyncEngine) failOutstandingMutationCallbacks() {
	for batchID, cb := range e.mutationCallbacks {
		delete(e.mutationCallbacks, batchID)
		cb(codes.New(codes.Cancelled, "user changed before the write was acknowledged"))
	}
}

// emitNewSnapshots recomputes every view against changed documents and
// raises the snapshots that actually changed.
func (e *SyncEngine) emitNewSnapshots(changes model.DocumentMap, event *remote.RemoteEvent) {
	var snapshots []ViewSnapshot
	for _, qv := range e.queryViews {
		view := qv.view
		docChanges := view.ComputeDocChanges(changes, nil)
		if docChanges.NeedsRefill {
			// A limit boundary moved; re-run the query against the full
			// local state to find replacement documents.
			result := e.localStore.ExecuteQuery(qv.query, false)
			docChanges = view.ComputeDocChanges(result.Documents, &docChanges)
		}
		var targetChange *remote.TargetChange
		if event != nil {
			targetChange = event.TargetChanges[qv.targetID]
		}
		viewChange := view.ApplyChanges(docChanges, targetChange)
		e.updateTrackedLimbos(viewChange.LimboChanges, qv.targetID)
		if viewChange.Snapshot != nil {
			snapshots = append(snapshots, *viewChange.Snapshot)
		}
		if event != nil && view.syncState == SyncStateSynced && view.limboDocuments.Len() == 0 {
			e.localStore.UpdateLastLimboFreeSnapshotVersion(qv.targetID)
		}
	}
	if len(snapshots) > 0 {
		e.handler.OnViewSnapshots(snapshots)
	}
}

func (e *SyncEngine) updateTrackedLimbos(limboChanges []LimboDocumentChange, targetID model.TargetID) {
	for _, change := range limboChanges {
		if change.Added {
			e.trackLimboChange(change.Key)
		} else {
			e.logger.Debug("document no longer in limbo", "key", change.Key.String(), "target_id", targetID)
			e.removeLimboResolution(change.Key)
		}
	}
}

func (e *SyncEngine) trackLimboChange(key model.DocumentKey) {
	ks := key.String()
	if _, active := e.limboTargetsByKey[ks]; active || e.enqueuedLimboKeys[ks] {
		return
	}
	e.logger.Debug("new document in limbo", "key", ks)
	e.enqueuedLimboResolutions = append(e.enqueuedLimboResolutions, key)
	e.enqueuedLimboKeys[ks] = true
	e.pumpEnqueuedLimboResolutions()
}

// pumpEnqueuedLimboResolutions starts queued limbo listens up to the
// concurrency cap.
func (e *SyncEngine) pumpEnqueuedLimboResolutions() {
	for len(e.enqueuedLimboResolutions) > 0 &&
		len(e.activeLimboResolutionsByTarget) < e.maxConcurrentLimboResolutions {
		key := e.enqueuedLimboResolutions[0]
		e.enqueuedLimboResolutions = e.enqueuedLimboResolutions[1:]
		delete(e.enqueuedLimboKeys, key.String())

		targetID := e.nextLimboTargetID
		e.nextLimboTargetID += 2
		e.activeLimboResolutionsByTarget[targetID] = &limboResolution{key: key}
		e.limboTargetsByKey[key.String()] = targetID
		e.remoteStore.Listen(model.NewTargetData(model.DocumentTarget(key), targetID, model.PurposeLimboResolution, 0))
	}
}

func (e *SyncEngine) removeLimboResolution(key model.DocumentKey) {
	ks := key.String()
	if e.enqueuedLimboKeys[ks] {
		delete(e.enqueuedLimboKeys, ks)
		for i, k := range e.enqueuedLimboResolutions {
			if k.Equal(key) {
				e.enqueuedLimboResolutions = append(e.enqueuedLimboResolutions[:i], e.enqueuedLimboResolutions[i+1:]...)
				break
			}
		}
		return
	}
	targetID, ok := e.limboTargetsByKey[ks]
	if !ok {
		return
	}
	delete(e.limboTargetsByKey, ks)
	delete(e.activeLimboResolutionsByTarget, targetID)
	e.remoteStore.Unlisten(targetID)
	e.pumpEnqueuedLimboResolutions()
}

// ActiveLimboResolutionCount reports how many limbo listens are running.
func (e *SyncEngine) ActiveLimboResolutionCount() int {
	return len(e.activeLimboResolutionsByTarget)
}

// EnqueuedLimboResolutionCount reports how many limbo candidates wait for
// a free slot.
func (e *SyncEngine) EnqueuedLimboResolutionCount() int {
	return len(e.enqueuedLimboResolutions)
}

// HasPendingWrites reports whether any local write awaits acknowledgment.
func (e *SyncEngine) HasPendingWrites() bool {
	return e.localStore.HasQueuedMutations()
}
