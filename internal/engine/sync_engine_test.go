package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/internal/async"
	"github.com/syntrixbase/syntrix-go/internal/credentials"
	"github.com/syntrixbase/syntrix-go/internal/local"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// offlineTransport fails every dial. The remote store never connects in
// these tests because the network is never enabled, so the engine can be
// driven synchronously.
type offlineTransport struct{}

func (offlineTransport) Dial(context.Context, string) (remote.Conn, error) {
	return nil, codes.New(codes.Unavailable, "network disabled")
}

type recordingHandler struct {
	snapshots    []ViewSnapshot
	errorQueries []model.Query
	listenErrors []error
	onlineStates []remote.OnlineState
}

func (h *recordingHandler) OnViewSnapshots(snapshots []ViewSnapshot) {
	h.snapshots = append(h.snapshots, snapshots...)
}

func (h *recordingHandler) OnListenError(query model.Query, err error) {
	h.errorQueries = append(h.errorQueries, query)
	h.listenErrors = append(h.listenErrors, err)
}

func (h *recordingHandler) OnOnlineStateChange(state remote.OnlineState) {
	h.onlineStates = append(h.onlineStates, state)
}

func (h *recordingHandler) lastSnapshotFor(query model.Query) *ViewSnapshot {
	for i := len(h.snapshots) - 1; i >= 0; i-- {
		if h.snapshots[i].Query.CanonicalID() == query.CanonicalID() {
			return &h.snapshots[i]
		}
	}
	return nil
}

type engineProxy struct {
	engine *SyncEngine
}

func (p *engineProxy) ApplyRemoteEvent(event remote.RemoteEvent) { p.engine.ApplyRemoteEvent(event) }
func (p *engineProxy) RejectListen(targetID model.TargetID, err error) {
	p.engine.RejectListen(targetID, err)
}
func (p *engineProxy) ApplySuccessfulWrite(batch model.MutationBatch, commitVersion model.SnapshotVersion, results []model.MutationResult) {
	p.engine.ApplySuccessfulWrite(batch, commitVersion, results)
}
func (p *engineProxy) RejectFailedWrite(batchID model.BatchID, err error) {
	p.engine.RejectFailedWrite(batchID, err)
}
func (p *engineProxy) GetRemoteKeysForTarget(targetID model.TargetID) model.DocumentKeySet {
	return p.engine.GetRemoteKeysForTarget(targetID)
}
func (p *engineProxy) HandleOnlineStateChange(state remote.OnlineState) {
	p.engine.HandleOnlineStateChange(state)
}

func newTestEngine(t *testing.T) (*SyncEngine, *local.LocalStore, *recordingHandler) {
	t.Helper()
	store := local.NewLocalStore(local.NewMemoryPersistence(), nil)
	require.NoError(t, store.Start())
	queue := async.NewQueue(nil)
	t.Cleanup(queue.Terminate)

	handler := &recordingHandler{}
	proxy := &engineProxy{}
	remoteStore := remote.NewRemoteStore(queue, offlineTransport{}, credentials.AnonymousProvider{}, proxy, store, nil)
	eng := NewSyncEngine(store, remoteStore, handler, nil)
	proxy.engine = eng
	return eng, store, handler
}

func engineKey(t *testing.T, path string) model.DocumentKey {
	t.Helper()
	k, err := model.ParseDocumentKey(path)
	require.NoError(t, err)
	return k
}

func engineSet(t *testing.T, path string, fields map[string]model.Value) model.SetMutation {
	t.Helper()
	return model.SetMutation{
		DocKey: engineKey(t, path),
		Pre:    model.PreconditionNone(),
		Value:  model.ObjectValueFrom(model.MapValue(fields)),
	}
}

func engineEvent(targetID model.TargetID, version model.SnapshotVersion, docs ...*model.Document) remote.RemoteEvent {
	tc := remote.NewTargetChange()
	tc.Current = true
	updates := model.NewDocumentMap()
	for _, d := range docs {
		tc.AddedDocuments.Add(d.Key)
		updates.Put(d)
	}
	return remote.RemoteEvent{
		SnapshotVersion: version,
		TargetChanges:   map[model.TargetID]*remote.TargetChange{targetID: tc},
		DocumentUpdates: updates,
	}
}

func targetIDFor(t *testing.T, eng *SyncEngine, query model.Query) model.TargetID {
	t.Helper()
	qv, ok := eng.queryViews[query.CanonicalID()]
	require.True(t, ok)
	return qv.targetID
}

func TestSyncEngine_ListenReturnsInitialSnapshot(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	_, err := store.LocalWrite([]model.Mutation{
		engineSet(t, "rooms/r1", map[string]model.Value{"name": model.StringValue("lobby")}),
	})
	require.NoError(t, err)

	query := model.NewQuery(model.NewResourcePath("rooms"))
	snapshot := eng.Listen(query)

	assert.True(t, snapshot.FromCache)
	assert.Equal(t, 1, snapshot.Documents.Len())
	assert.True(t, snapshot.HasPendingWrites())

	// User targets come from the even allocator.
	assert.Equal(t, model.TargetID(0), targetIDFor(t, eng, query)%2)
}

func TestSyncEngine_ListenTwiceSharesView(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))

	first := eng.Listen(query)
	second := eng.Listen(query)

	assert.Equal(t, first.Documents.Len(), second.Documents.Len())
	assert.True(t, second.FromCache)
	assert.Len(t, eng.queryViews, 1)
}

func TestSyncEngine_WriteRaisesLatencyCompensatedSnapshot(t *testing.T) {
	eng, _, handler := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)

	eng.Write([]model.Mutation{
		engineSet(t, "rooms/r1", map[string]model.Value{"name": model.StringValue("lobby")}),
	}, nil)

	snapshot := handler.lastSnapshotFor(query)
	require.NotNil(t, snapshot)
	assert.Equal(t, 1, snapshot.Documents.Len())
	assert.True(t, snapshot.HasPendingWrites())
	assert.True(t, snapshot.FromCache)
	assert.True(t, eng.HasPendingWrites())
}

func TestSyncEngine_ApplySuccessfulWrite(t *testing.T) {
	eng, store, handler := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)

	var writeErr error
	done := false
	eng.Write([]model.Mutation{
		engineSet(t, "rooms/r1", map[string]model.Value{"name": model.StringValue("lobby")}),
	}, func(err error) {
		done = true
		writeErr = err
	})
	require.False(t, done)

	batch, ok := store.NextMutationBatch(-1)
	require.True(t, ok)
	eng.ApplySuccessfulWrite(batch, model.SnapshotVersion{Seconds: 10}, []model.MutationResult{{}})

	assert.True(t, done)
	assert.NoError(t, writeErr)
	assert.False(t, eng.HasPendingWrites())

	// The committed write counts as pending until the watch stream echoes
	// the synced document.
	snapshot := handler.lastSnapshotFor(query)
	require.NotNil(t, snapshot)
	assert.True(t, snapshot.HasPendingWrites())

	targetID := targetIDFor(t, eng, query)
	synced := model.NewFoundDocument(engineKey(t, "rooms/r1"), model.SnapshotVersion{Seconds: 10},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"name": model.StringValue("lobby")})))
	eng.ApplyRemoteEvent(engineEvent(targetID, model.SnapshotVersion{Seconds: 10}, synced))

	snapshot = handler.lastSnapshotFor(query)
	require.NotNil(t, snapshot)
	assert.False(t, snapshot.HasPendingWrites())
	assert.Equal(t, 1, snapshot.Documents.Len())
}

func TestSyncEngine_RejectFailedWrite(t *testing.T) {
	eng, store, handler := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)

	var writeErr error
	eng.Write([]model.Mutation{
		engineSet(t, "rooms/r1", map[string]model.Value{"name": model.StringValue("lobby")}),
	}, func(err error) { writeErr = err })

	batch, ok := store.NextMutationBatch(-1)
	require.True(t, ok)
	eng.RejectFailedWrite(batch.BatchID, codes.New(codes.PermissionDenied, "denied"))

	assert.Equal(t, codes.PermissionDenied, codes.CodeOf(writeErr))

	// The latency-compensated document disappears with its batch.
	snapshot := handler.lastSnapshotFor(query)
	require.NotNil(t, snapshot)
	assert.Equal(t, 0, snapshot.Documents.Len())
	require.Len(t, snapshot.DocChanges, 1)
	assert.Equal(t, ChangeTypeRemoved, snapshot.DocChanges[0].Type)
}

func TestSyncEngine_ApplyRemoteEvent(t *testing.T) {
	eng, _, handler := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)
	targetID := targetIDFor(t, eng, query)

	doc := model.NewFoundDocument(engineKey(t, "rooms/r1"), model.SnapshotVersion{Seconds: 5},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"name": model.StringValue("lobby")})))
	eng.ApplyRemoteEvent(engineEvent(targetID, model.SnapshotVersion{Seconds: 5}, doc))

	snapshot := handler.lastSnapshotFor(query)
	require.NotNil(t, snapshot)
	assert.False(t, snapshot.FromCache)
	assert.True(t, snapshot.SyncStateChanged)
	assert.Equal(t, 1, snapshot.Documents.Len())
}

func TestSyncEngine_LimboResolution(t *testing.T) {
	eng, _, handler := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)
	targetID := targetIDFor(t, eng, query)

	a := model.NewFoundDocument(engineKey(t, "rooms/a"), model.SnapshotVersion{Seconds: 5},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"n": model.IntegerValue(1)})))
	b := model.NewFoundDocument(engineKey(t, "rooms/b"), model.SnapshotVersion{Seconds: 5},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"n": model.IntegerValue(2)})))
	eng.ApplyRemoteEvent(engineEvent(targetID, model.SnapshotVersion{Seconds: 5}, a, b))
	require.Equal(t, 0, eng.ActiveLimboResolutionCount())

	// The server silently drops "b" from the target while staying current.
	// The cache still produces it, so it enters limbo.
	tc := remote.NewTargetChange()
	tc.Current = true
	tc.RemovedDocuments.Add(b.Key)
	eng.ApplyRemoteEvent(remote.RemoteEvent{
		SnapshotVersion: model.SnapshotVersion{Seconds: 6},
		TargetChanges:   map[model.TargetID]*remote.TargetChange{targetID: tc},
		DocumentUpdates: model.NewDocumentMap(),
	})

	require.Equal(t, 1, eng.ActiveLimboResolutionCount())
	limboTargetID, ok := eng.limboTargetsByKey[b.Key.String()]
	require.True(t, ok)
	// Limbo targets take odd ids.
	assert.Equal(t, model.TargetID(1), limboTargetID%2)

	// The backend refuses the single-document listen, which resolves the
	// limbo state as a delete.
	eng.RejectListen(limboTargetID, codes.New(codes.PermissionDenied, "denied"))

	assert.Equal(t, 0, eng.ActiveLimboResolutionCount())
	snapshot := handler.lastSnapshotFor(query)
	require.NotNil(t, snapshot)
	assert.Equal(t, 1, snapshot.Documents.Len())
	_, hasB := snapshot.Documents.Get(b.Key)
	assert.False(t, hasB)
}

func TestSyncEngine_LimboResolutionsAreCapped(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.maxConcurrentLimboResolutions = 1
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)
	targetID := targetIDFor(t, eng, query)

	a := model.NewFoundDocument(engineKey(t, "rooms/a"), model.SnapshotVersion{Seconds: 5},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"n": model.IntegerValue(1)})))
	b := model.NewFoundDocument(engineKey(t, "rooms/b"), model.SnapshotVersion{Seconds: 5},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"n": model.IntegerValue(2)})))
	eng.ApplyRemoteEvent(engineEvent(targetID, model.SnapshotVersion{Seconds: 5}, a, b))

	tc := remote.NewTargetChange()
	tc.Current = true
	tc.RemovedDocuments.Add(a.Key)
	tc.RemovedDocuments.Add(b.Key)
	eng.ApplyRemoteEvent(remote.RemoteEvent{
		SnapshotVersion: model.SnapshotVersion{Seconds: 6},
		TargetChanges:   map[model.TargetID]*remote.TargetChange{targetID: tc},
		DocumentUpdates: model.NewDocumentMap(),
	})

	assert.Equal(t, 1, eng.ActiveLimboResolutionCount())
	assert.Equal(t, 1, eng.EnqueuedLimboResolutionCount())

	limboTargetID, ok := eng.limboTargetsByKey[a.Key.String()]
	require.True(t, ok)
	eng.RejectListen(limboTargetID, codes.New(codes.PermissionDenied, "denied"))

	// Resolving one slot starts the queued resolution.
	assert.Equal(t, 1, eng.ActiveLimboResolutionCount())
	assert.Equal(t, 0, eng.EnqueuedLimboResolutionCount())
}

func TestSyncEngine_RejectListenSurfacesError(t *testing.T) {
	eng, _, handler := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)
	targetID := targetIDFor(t, eng, query)

	cause := codes.New(codes.PermissionDenied, "no access")
	eng.RejectListen(targetID, cause)

	require.Len(t, handler.errorQueries, 1)
	assert.Equal(t, query.CanonicalID(), handler.errorQueries[0].CanonicalID())
	assert.Equal(t, codes.PermissionDenied, codes.CodeOf(handler.listenErrors[0]))
	assert.Empty(t, eng.queryViews)
}

func TestSyncEngine_Unlisten(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)
	require.Len(t, eng.queryViews, 1)

	eng.Unlisten(query)
	assert.Empty(t, eng.queryViews)
	assert.Empty(t, eng.queriesByTarget)

	// Unlistening an unknown query is a no-op.
	eng.Unlisten(model.NewQuery(model.NewResourcePath("other")))
}

func TestSyncEngine_HandleOnlineStateChange(t *testing.T) {
	eng, _, handler := newTestEngine(t)
	query := model.NewQuery(model.NewResourcePath("rooms"))
	eng.Listen(query)
	targetID := targetIDFor(t, eng, query)

	doc := model.NewFoundDocument(engineKey(t, "rooms/r1"), model.SnapshotVersion{Seconds: 5},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"n": model.IntegerValue(1)})))
	eng.ApplyRemoteEvent(engineEvent(targetID, model.SnapshotVersion{Seconds: 5}, doc))
	require.False(t, handler.lastSnapshotFor(query).FromCache)

	eng.HandleOnlineStateChange(remote.OnlineStateOffline)

	snapshot := handler.lastSnapshotFor(query)
	require.NotNil(t, snapshot)
	assert.True(t, snapshot.FromCache)
	assert.Equal(t, []remote.OnlineState{remote.OnlineStateOffline}, handler.onlineStates)
}

func TestSyncEngine_HandleUserChangeFailsOutstandingWrites(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	var writeErr error
	eng.Write([]model.Mutation{
		engineSet(t, "rooms/r1", map[string]model.Value{"n": model.IntegerValue(1)}),
	}, func(err error) { writeErr = err })

	eng.HandleUserChange()

	assert.Equal(t, codes.Cancelled, codes.CodeOf(writeErr))
	assert.Empty(t, eng.mutationCallbacks)
}
