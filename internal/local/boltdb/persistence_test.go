package boltdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

func openTestPersistence(t *testing.T, path string) *Persistence {
	t.Helper()
	p, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func persistKey(t *testing.T, path string) model.DocumentKey {
	t.Helper()
	k, err := model.ParseDocumentKey(path)
	require.NoError(t, err)
	return k
}

func TestPersistence_RemoteDocumentsSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	key := persistKey(t, "rooms/r1")
	v1 := model.SnapshotVersion{Seconds: 100}
	doc := model.NewFoundDocument(key, v1,
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{
			"name": model.StringValue("lobby"),
			"tags": model.ArrayValue(model.StringValue("a")),
		})))

	p := openTestPersistence(t, dbPath)
	p.RemoteDocuments().Add(doc, v1)
	require.NoError(t, p.Close())

	reopened := openTestPersistence(t, dbPath)
	got := reopened.RemoteDocuments().Get(key)
	require.True(t, got.IsFoundDocument())
	assert.Equal(t, v1, got.Version)
	v, ok := got.Field(model.NewFieldPath("name"))
	require.True(t, ok)
	assert.Equal(t, "lobby", v.StrVal)
}

func TestPersistence_MutationQueueSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	key := persistKey(t, "rooms/r1")

	p := openTestPersistence(t, dbPath)
	batch := model.MutationBatch{
		BatchID:        p.Mutations().NextBatchID(),
		LocalWriteTime: time.Now().UTC().Truncate(time.Millisecond),
		Mutations: []model.Mutation{
			model.SetMutation{
				DocKey: key,
				Pre:    model.PreconditionNone(),
				Value:  model.ObjectValueFrom(model.MapValue(map[string]model.Value{"n": model.IntegerValue(1)})),
			},
		},
	}
	p.Mutations().AddMutationBatch(batch)
	require.NoError(t, p.Close())

	reopened := openTestPersistence(t, dbPath)
	got, ok := reopened.Mutations().NextMutationBatchAfterBatchID(-1)
	require.True(t, ok)
	assert.Equal(t, batch.BatchID, got.BatchID)
	require.Len(t, got.Mutations, 1)
	set, ok := got.Mutations[0].(model.SetMutation)
	require.True(t, ok)
	assert.True(t, set.DocKey.Equal(key))
	assert.Greater(t, reopened.Mutations().NextBatchID(), batch.BatchID,
		"batch id counter continues after restart")
}

func TestPersistence_TargetsSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	path, err := model.ParseResourcePath("rooms")
	require.NoError(t, err)
	target := model.NewQuery(path).ToTarget()

	p := openTestPersistence(t, dbPath)
	td := model.NewTargetData(target, p.Targets().AllocateTargetID(), model.PurposeListen, p.Targets().NextSequenceNumber())
	td.ResumeToken = []byte("resume-me")
	p.Targets().AddTargetData(td)
	p.Targets().AddMatchingKeys(model.NewDocumentKeySet(persistKey(t, "rooms/r1")), td.TargetID)
	require.NoError(t, p.Close())

	reopened := openTestPersistence(t, dbPath)
	got, ok := reopened.Targets().GetTargetData(target)
	require.True(t, ok)
	assert.Equal(t, td.TargetID, got.TargetID)
	assert.Equal(t, []byte("resume-me"), got.ResumeToken)
	assert.True(t, reopened.Targets().MatchingKeys(td.TargetID).Has(persistKey(t, "rooms/r1")))

	next := reopened.Targets().AllocateTargetID()
	assert.Greater(t, next, td.TargetID, "target id allocation continues after restart")
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "no-such-dir", "deeper", "cache.db"), nil)
	assert.Error(t, err)
}
