package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

type fakeTargetProvider struct {
	targets    map[model.TargetID]model.TargetData
	remoteKeys map[model.TargetID]model.DocumentKeySet
}

func newFakeTargetProvider() *fakeTargetProvider {
	return &fakeTargetProvider{
		targets:    map[model.TargetID]model.TargetData{},
		remoteKeys: map[model.TargetID]model.DocumentKeySet{},
	}
}

func (p *fakeTargetProvider) addTarget(td model.TargetData) {
	p.targets[td.TargetID] = td
	if _, ok := p.remoteKeys[td.TargetID]; !ok {
		p.remoteKeys[td.TargetID] = model.NewDocumentKeySet()
	}
}

func (p *fakeTargetProvider) GetRemoteKeysForTarget(id model.TargetID) model.DocumentKeySet {
	if keys, ok := p.remoteKeys[id]; ok {
		return keys
	}
	return model.NewDocumentKeySet()
}

func (p *fakeTargetProvider) GetTargetDataForTarget(id model.TargetID) (model.TargetData, bool) {
	td, ok := p.targets[id]
	return td, ok
}

func watchKey(t *testing.T, path string) model.DocumentKey {
	t.Helper()
	k, err := model.ParseDocumentKey(path)
	require.NoError(t, err)
	return k
}

func queryTargetData(t *testing.T, id model.TargetID, path string) model.TargetData {
	t.Helper()
	p, err := model.ParseResourcePath(path)
	require.NoError(t, err)
	return model.NewTargetData(model.NewQuery(p).ToTarget(), id, model.PurposeListen, 0)
}

func limboTargetData(t *testing.T, id model.TargetID, docPath string) model.TargetData {
	t.Helper()
	return model.NewTargetData(model.DocumentTarget(watchKey(t, docPath)), id, model.PurposeLimboResolution, 0)
}

func foundAt(t *testing.T, path string, seconds int64) *model.Document {
	t.Helper()
	return model.NewFoundDocument(watchKey(t, path), model.SnapshotVersion{Seconds: seconds},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{"v": model.IntegerValue(seconds)})))
}

func TestAggregator_DocumentAddAndModify(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(queryTargetData(t, 2, "rooms"))
	agg := NewWatchChangeAggregator(provider, nil)

	doc := foundAt(t, "rooms/r1", 1)
	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{2}, Key: doc.Key, Doc: doc})
	agg.HandleTargetChange(WatchTargetChange{State: TargetStateCurrent, TargetIDs: []model.TargetID{2}, ResumeToken: []byte("rt1")})

	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	tc, ok := event.TargetChanges[2]
	require.True(t, ok)
	assert.True(t, tc.Current)
	assert.Equal(t, []byte("rt1"), tc.ResumeToken)
	assert.True(t, tc.AddedDocuments.Has(doc.Key))
	assert.Equal(t, 0, tc.ModifiedDocuments.Len())
	_, ok = event.DocumentUpdates.Get(doc.Key)
	assert.True(t, ok)

	// The same key changing again, now that the membership knows it, counts
	// as a modification.
	provider.remoteKeys[2].Add(doc.Key)
	doc2 := foundAt(t, "rooms/r1", 2)
	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{2}, Key: doc2.Key, Doc: doc2})
	event = agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 11})

	tc, ok = event.TargetChanges[2]
	require.True(t, ok)
	assert.True(t, tc.ModifiedDocuments.Has(doc.Key))
	assert.Equal(t, 0, tc.AddedDocuments.Len())
}

func TestAggregator_DocumentRemoval(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(queryTargetData(t, 2, "rooms"))
	key := watchKey(t, "rooms/r1")
	provider.remoteKeys[2].Add(key)
	agg := NewWatchChangeAggregator(provider, nil)

	agg.HandleDocumentChange(DocumentWatchChange{RemovedTargetIDs: []model.TargetID{2}, Key: key})
	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	tc, ok := event.TargetChanges[2]
	require.True(t, ok)
	assert.True(t, tc.RemovedDocuments.Has(key))
}

func TestAggregator_InactiveTargetIgnored(t *testing.T) {
	provider := newFakeTargetProvider()
	agg := NewWatchChangeAggregator(provider, nil)

	doc := foundAt(t, "rooms/r1", 1)
	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{99}, Key: doc.Key, Doc: doc})
	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	assert.Empty(t, event.TargetChanges)
	assert.Equal(t, 0, event.DocumentUpdates.Len())
}

func TestAggregator_PendingTargetSwallowsChanges(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(queryTargetData(t, 2, "rooms"))
	agg := NewWatchChangeAggregator(provider, nil)

	// A re-listen is in flight; changes for the old incarnation must not
	// surface until the matching ADDED arrives.
	agg.RecordPendingTargetRequest(2)
	doc := foundAt(t, "rooms/r1", 1)
	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{2}, Key: doc.Key, Doc: doc})

	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})
	_, ok := event.TargetChanges[2]
	assert.False(t, ok)

	agg.HandleTargetChange(WatchTargetChange{State: TargetStateAdded, TargetIDs: []model.TargetID{2}})
	doc2 := foundAt(t, "rooms/r2", 2)
	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{2}, Key: doc2.Key, Doc: doc2})
	event = agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 11})

	tc, ok := event.TargetChanges[2]
	require.True(t, ok)
	assert.True(t, tc.AddedDocuments.Has(doc2.Key))
	assert.False(t, tc.AddedDocuments.Has(doc.Key), "pre-ack change was dropped with the pending state")
}

func TestAggregator_SynthesizesTombstoneForCurrentDocumentTarget(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(limboTargetData(t, 1, "rooms/gone"))
	agg := NewWatchChangeAggregator(provider, nil)

	agg.HandleTargetChange(WatchTargetChange{State: TargetStateCurrent, TargetIDs: []model.TargetID{1}})
	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	doc, ok := event.DocumentUpdates.Get(watchKey(t, "rooms/gone"))
	require.True(t, ok, "a current document target without its document yields a tombstone")
	assert.True(t, doc.IsNoDocument())
	assert.True(t, event.ResolvedLimboDocuments.Has(doc.Key))
}

func TestAggregator_ResolvedLimboRequiresOnlyLimboTargets(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(limboTargetData(t, 1, "rooms/r1"))
	provider.addTarget(queryTargetData(t, 2, "rooms"))
	agg := NewWatchChangeAggregator(provider, nil)

	doc := foundAt(t, "rooms/r1", 1)
	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{1, 2}, Key: doc.Key, Doc: doc})
	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	assert.False(t, event.ResolvedLimboDocuments.Has(doc.Key),
		"a key also referenced by a user target is not limbo-resolved")

	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{1}, Key: doc.Key, Doc: doc})
	event = agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 11})
	assert.True(t, event.ResolvedLimboDocuments.Has(doc.Key))
}

func TestAggregator_ExistenceFilterMismatchResetsTarget(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(queryTargetData(t, 2, "rooms"))
	keyA := watchKey(t, "rooms/a")
	keyB := watchKey(t, "rooms/b")
	provider.remoteKeys[2].Add(keyA)
	provider.remoteKeys[2].Add(keyB)
	agg := NewWatchChangeAggregator(provider, nil)

	agg.HandleExistenceFilter(ExistenceFilterWatchChange{TargetID: 2, Count: 1})
	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	purpose, ok := event.TargetMismatches[2]
	require.True(t, ok)
	assert.Equal(t, model.PurposeExistenceFilterMismatch, purpose)

	tc, ok := event.TargetChanges[2]
	require.True(t, ok)
	assert.True(t, tc.RemovedDocuments.Has(keyA), "reset removes the known membership")
	assert.True(t, tc.RemovedDocuments.Has(keyB))
}

func TestAggregator_ExistenceFilterMatchIsNoOp(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(queryTargetData(t, 2, "rooms"))
	provider.remoteKeys[2].Add(watchKey(t, "rooms/a"))
	agg := NewWatchChangeAggregator(provider, nil)

	agg.HandleExistenceFilter(ExistenceFilterWatchChange{TargetID: 2, Count: 1})
	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	assert.Empty(t, event.TargetMismatches)
}

func TestAggregator_ExistenceFilterZeroCountDocumentTarget(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(limboTargetData(t, 1, "rooms/r1"))
	key := watchKey(t, "rooms/r1")
	provider.remoteKeys[1].Add(key)
	agg := NewWatchChangeAggregator(provider, nil)

	agg.HandleExistenceFilter(ExistenceFilterWatchChange{TargetID: 1, Count: 0})
	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})

	doc, ok := event.DocumentUpdates.Get(key)
	require.True(t, ok)
	assert.True(t, doc.IsNoDocument())
	tc, ok := event.TargetChanges[1]
	require.True(t, ok)
	assert.True(t, tc.RemovedDocuments.Has(key))
}

func TestAggregator_RemoveTargetDropsState(t *testing.T) {
	provider := newFakeTargetProvider()
	provider.addTarget(queryTargetData(t, 2, "rooms"))
	agg := NewWatchChangeAggregator(provider, nil)

	doc := foundAt(t, "rooms/r1", 1)
	agg.HandleDocumentChange(DocumentWatchChange{UpdatedTargetIDs: []model.TargetID{2}, Key: doc.Key, Doc: doc})
	agg.RemoveTarget(2)
	delete(provider.targets, 2)

	event := agg.CreateRemoteEvent(model.SnapshotVersion{Seconds: 10})
	_, ok := event.TargetChanges[2]
	assert.False(t, ok)
}

func TestBloomFilter_MightContain(t *testing.T) {
	// A filter with every bit set claims to contain everything.
	all, err := NewBloomFilter([]byte{0xFF}, 0, 1)
	require.NoError(t, err)
	assert.True(t, all.MightContain("rooms/r1"))

	// An empty filter contains nothing.
	empty, err := NewBloomFilter([]byte{0x00}, 0, 1)
	require.NoError(t, err)
	assert.False(t, empty.MightContain("rooms/r1"))

	_, err = NewBloomFilter([]byte{0x00}, 9, 1)
	assert.Error(t, err, "padding beyond one byte of bits is invalid")
}
