package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
)

func viewQuery() model.Query {
	return model.NewQuery(model.NewResourcePath("rooms"))
}

func viewDoc(id string, order int64) *model.Document {
	key := model.DocumentKey{Path: model.NewResourcePath("rooms", id)}
	data := model.ObjectValueFrom(model.MapValue(map[string]model.Value{
		"order": model.IntegerValue(order),
	}))
	return model.NewFoundDocument(key, model.SnapshotVersion{Seconds: 1}, data)
}

func docMap(docs ...*model.Document) model.DocumentMap {
	m := model.NewDocumentMap()
	for _, d := range docs {
		m.Put(d)
	}
	return m
}

func applyDocs(t *testing.T, v *View, docs ...*model.Document) ViewChange {
	t.Helper()
	changes := v.ComputeDocChanges(docMap(docs...), nil)
	require.False(t, changes.NeedsRefill)
	return v.ApplyChanges(changes, nil)
}

func changeTypes(snapshot *ViewSnapshot) []DocumentChangeType {
	types := make([]DocumentChangeType, 0, len(snapshot.DocChanges))
	for _, c := range snapshot.DocChanges {
		types = append(types, c.Type)
	}
	return types
}

func TestView_InitialSnapshot(t *testing.T) {
	v := NewView(viewQuery(), model.NewDocumentKeySet())
	a := viewDoc("a", 1)
	b := viewDoc("b", 2)

	change := applyDocs(t, v, a, b)

	require.NotNil(t, change.Snapshot)
	assert.Equal(t, 2, change.Snapshot.Documents.Len())
	assert.Equal(t, []DocumentChangeType{ChangeTypeAdded, ChangeTypeAdded}, changeTypes(change.Snapshot))
	assert.True(t, change.Snapshot.FromCache)
	assert.True(t, change.Snapshot.SyncStateChanged)
	assert.Equal(t, 0, change.Snapshot.OldDocs.Len())
}

func TestView_ModifyAndRemove(t *testing.T) {
	v := NewView(viewQuery(), model.NewDocumentKeySet())
	a := viewDoc("a", 1)
	b := viewDoc("b", 2)
	applyDocs(t, v, a, b)

	modified := viewDoc("a", 10)
	deleted := model.NewNoDocument(b.Key, model.SnapshotVersion{Seconds: 2})
	change := applyDocs(t, v, modified, deleted)

	require.NotNil(t, change.Snapshot)
	require.Len(t, change.Snapshot.DocChanges, 2)
	// Removals sort before modifications.
	assert.Equal(t, ChangeTypeRemoved, change.Snapshot.DocChanges[0].Type)
	assert.Equal(t, b.Key, change.Snapshot.DocChanges[0].Doc.Key)
	assert.Equal(t, ChangeTypeModified, change.Snapshot.DocChanges[1].Type)
	assert.Equal(t, 1, change.Snapshot.Documents.Len())
}

func TestView_MetadataOnlyChange(t *testing.T) {
	v := NewView(viewQuery(), model.NewDocumentKeySet())
	pending := viewDoc("a", 1).SetHasLocalMutations()
	applyDocs(t, v, pending)

	acked := viewDoc("a", 1)
	change := applyDocs(t, v, acked)

	require.NotNil(t, change.Snapshot)
	require.Len(t, change.Snapshot.DocChanges, 1)
	assert.Equal(t, ChangeTypeMetadata, change.Snapshot.DocChanges[0].Type)
	assert.False(t, change.Snapshot.HasPendingWrites())
}

func TestView_SuppressesEchoOfCommittedWrite(t *testing.T) {
	v := NewView(viewQuery(), model.NewDocumentKeySet())
	local := viewDoc("a", 5).SetHasLocalMutations()
	applyDocs(t, v, local)

	// The watch stream may deliver a stale copy while the commit is still
	// being folded in; the view holds its local result.
	stale := viewDoc("a", 1).SetHasCommittedMutations()
	changes := v.ComputeDocChanges(docMap(stale), nil)
	change := v.ApplyChanges(changes, nil)

	assert.Nil(t, change.Snapshot)
	got, ok := v.documentSet.Get(local.Key)
	require.True(t, ok)
	assert.True(t, model.ValuesEqual(local.Data.Value(), got.Data.Value()))
}

func TestView_LimitEviction(t *testing.T) {
	q := viewQuery()
	q.Limit = 2
	v := NewView(q, model.NewDocumentKeySet())
	applyDocs(t, v, viewDoc("b", 1), viewDoc("c", 2))

	// A document sorting before the window pushes the last one out.
	changes := v.ComputeDocChanges(docMap(viewDoc("a", 0)), nil)
	require.False(t, changes.NeedsRefill)
	change := v.ApplyChanges(changes, nil)

	require.NotNil(t, change.Snapshot)
	assert.Equal(t, 2, change.Snapshot.Documents.Len())
	_, hasC := change.Snapshot.Documents.Get(viewDoc("c", 2).Key)
	assert.False(t, hasC)
	assert.Equal(t, []DocumentChangeType{ChangeTypeRemoved, ChangeTypeAdded}, changeTypes(change.Snapshot))
}

func TestView_NeedsRefill(t *testing.T) {
	q := viewQuery()
	q.ExplicitOrderBy = []model.OrderBy{{Field: model.NewFieldPath("order"), Dir: model.Ascending}}
	q.Limit = 2
	v := NewView(q, model.NewDocumentKeySet())
	a := viewDoc("a", 1)
	b := viewDoc("b", 2)
	applyDocs(t, v, a, b)

	t.Run("modification past the window boundary", func(t *testing.T) {
		changes := v.ComputeDocChanges(docMap(viewDoc("a", 5)), nil)
		assert.True(t, changes.NeedsRefill)
	})

	t.Run("removal from a full window", func(t *testing.T) {
		gone := model.NewNoDocument(a.Key, model.SnapshotVersion{Seconds: 2})
		changes := v.ComputeDocChanges(docMap(gone), nil)
		assert.True(t, changes.NeedsRefill)
	})

	t.Run("refill pass reuses the previous change set", func(t *testing.T) {
		first := v.ComputeDocChanges(docMap(viewDoc("a", 5)), nil)
		require.True(t, first.NeedsRefill)
		// The second pass feeds the full query result back in.
		second := v.ComputeDocChanges(docMap(viewDoc("a", 5), b, viewDoc("c", 3)), &first)
		assert.False(t, second.NeedsRefill)
		assert.Equal(t, 2, second.DocumentSet.Len())
		_, hasA := second.DocumentSet.Get(a.Key)
		assert.False(t, hasA)
	})
}

func TestView_TargetChangeAndLimbo(t *testing.T) {
	v := NewView(viewQuery(), model.NewDocumentKeySet())
	a := viewDoc("a", 1)
	b := viewDoc("b", 2)
	applyDocs(t, v, a, b)

	// The server marks the target current but only confirms "a"; "b" has
	// no pending write to explain the difference, so it is in limbo.
	changes := v.ComputeDocChanges(model.NewDocumentMap(), nil)
	change := v.ApplyChanges(changes, &remote.TargetChange{
		Current:           true,
		AddedDocuments:    model.NewDocumentKeySet(a.Key),
		ModifiedDocuments: model.NewDocumentKeySet(),
		RemovedDocuments:  model.NewDocumentKeySet(),
	})

	require.NotNil(t, change.Snapshot)
	assert.False(t, change.Snapshot.FromCache)
	assert.True(t, change.Snapshot.SyncStateChanged)
	require.Len(t, change.LimboChanges, 1)
	assert.True(t, change.LimboChanges[0].Added)
	assert.Equal(t, b.Key, change.LimboChanges[0].Key)

	// Confirming "b" resolves its limbo state.
	changes = v.ComputeDocChanges(model.NewDocumentMap(), nil)
	change = v.ApplyChanges(changes, &remote.TargetChange{
		AddedDocuments:    model.NewDocumentKeySet(b.Key),
		ModifiedDocuments: model.NewDocumentKeySet(),
		RemovedDocuments:  model.NewDocumentKeySet(),
	})
	require.Len(t, change.LimboChanges, 1)
	assert.False(t, change.LimboChanges[0].Added)
	assert.Equal(t, b.Key, change.LimboChanges[0].Key)
}

func TestView_LocallyMutatedDocumentIsNotInLimbo(t *testing.T) {
	v := NewView(viewQuery(), model.NewDocumentKeySet())
	pending := viewDoc("a", 1).SetHasLocalMutations()
	applyDocs(t, v, pending)

	changes := v.ComputeDocChanges(model.NewDocumentMap(), nil)
	change := v.ApplyChanges(changes, &remote.TargetChange{
		Current:           true,
		AddedDocuments:    model.NewDocumentKeySet(),
		ModifiedDocuments: model.NewDocumentKeySet(),
		RemovedDocuments:  model.NewDocumentKeySet(),
	})

	assert.Empty(t, change.LimboChanges)
}

func TestView_ApplyOnlineStateChange(t *testing.T) {
	v := NewView(viewQuery(), model.NewDocumentKeySet())
	a := viewDoc("a", 1)
	changes := v.ComputeDocChanges(docMap(a), nil)
	v.ApplyChanges(changes, &remote.TargetChange{
		Current:           true,
		AddedDocuments:    model.NewDocumentKeySet(a.Key),
		ModifiedDocuments: model.NewDocumentKeySet(),
		RemovedDocuments:  model.NewDocumentKeySet(),
	})

	change := v.ApplyOnlineStateChange(remote.OnlineStateOffline)
	require.NotNil(t, change.Snapshot)
	assert.True(t, change.Snapshot.FromCache)
	assert.True(t, change.Snapshot.SyncStateChanged)

	// A second offline notification has nothing left to report.
	assert.Nil(t, v.ApplyOnlineStateChange(remote.OnlineStateOffline).Snapshot)
}
