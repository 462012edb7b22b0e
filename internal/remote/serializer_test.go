package remote

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

func TestDocumentRoundTrip(t *testing.T) {
	key := watchKey(t, "rooms/r1")
	version := model.SnapshotVersion{Seconds: 100, Nanos: 250}
	data := model.ObjectValueFrom(model.MapValue(map[string]model.Value{
		"name":   model.StringValue("lobby"),
		"count":  model.IntegerValue(42),
		"rating": model.DoubleValue(4.5),
		"nan":    model.DoubleValue(math.NaN()),
		"open":   model.BooleanValue(true),
		"none":   model.NullValue(),
		"raw":    model.BytesValue([]byte{0x00, 0xFF}),
		"at":     model.TimestampValue(time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)),
		"where":  model.GeoPointValue(37.77, -122.41),
		"ref":    model.ReferenceValue(watchKey(t, "users/u1")),
		"tags":   model.ArrayValue(model.StringValue("a"), model.IntegerValue(1)),
		"vec":    model.VectorValue([]float64{0.1, 0.2}),
		"nested": model.MapValue(map[string]model.Value{"deep": model.StringValue("yes")}),
	}))
	doc := model.NewFoundDocument(key, version, data)

	encoded, err := EncodeDocument(doc)
	require.NoError(t, err)
	decoded, err := DecodeDocument(encoded)
	require.NoError(t, err)

	assert.True(t, decoded.Key.Equal(key))
	assert.Equal(t, version, decoded.Version)
	assert.True(t, decoded.IsFoundDocument())

	// NaN defeats plain equality, so compare field by field.
	for _, field := range []string{"name", "count", "rating", "open", "none", "raw", "at", "where", "ref", "tags", "vec", "nested"} {
		want, _ := doc.Field(model.NewFieldPath(field))
		got, ok := decoded.Field(model.NewFieldPath(field))
		require.True(t, ok, field)
		assert.True(t, model.ValuesEqual(want, got), "field %s", field)
	}
	got, ok := decoded.Field(model.NewFieldPath("nan"))
	require.True(t, ok)
	assert.True(t, got.IsNaN())
}

func TestDocumentRoundTrip_Tombstone(t *testing.T) {
	doc := model.NewNoDocument(watchKey(t, "rooms/gone"), model.SnapshotVersion{Seconds: 7})

	encoded, err := EncodeDocument(doc)
	require.NoError(t, err)
	decoded, err := DecodeDocument(encoded)
	require.NoError(t, err)

	assert.True(t, decoded.IsNoDocument())
	assert.Equal(t, model.SnapshotVersion{Seconds: 7}, decoded.Version)
}

func TestMutationBatchRoundTrip(t *testing.T) {
	key := watchKey(t, "rooms/r1")
	writeTime := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

	batch := model.MutationBatch{
		BatchID:        3,
		LocalWriteTime: writeTime,
		BaseMutations: []model.Mutation{
			model.PatchMutation{
				DocKey: key,
				Pre:    model.PreconditionExists(),
				Data:   model.ObjectValueFrom(model.MapValue(map[string]model.Value{"n": model.IntegerValue(1)})),
				Mask:   model.NewFieldMask(model.NewFieldPath("n")),
			},
		},
		Mutations: []model.Mutation{
			model.SetMutation{
				DocKey: key,
				Pre:    model.PreconditionNone(),
				Value:  model.ObjectValueFrom(model.MapValue(map[string]model.Value{"a": model.StringValue("x")})),
				Transforms: []model.FieldTransform{
					{Field: model.NewFieldPath("updated"), Op: model.ServerTimestampTransform{}},
					{Field: model.NewFieldPath("n"), Op: model.NumericIncrementTransform{Operand: model.IntegerValue(2)}},
					{Field: model.NewFieldPath("tags"), Op: model.ArrayUnionTransform{Elements: []model.Value{model.StringValue("t")}}},
				},
			},
			model.DeleteMutation{DocKey: watchKey(t, "rooms/r2"), Pre: model.PreconditionUpdateTime(model.SnapshotVersion{Seconds: 9})},
			model.VerifyMutation{DocKey: watchKey(t, "rooms/r3"), Pre: model.PreconditionNotExists()},
		},
	}

	encoded, err := EncodeMutationBatch(batch)
	require.NoError(t, err)
	decoded, err := DecodeMutationBatch(encoded)
	require.NoError(t, err)

	assert.Equal(t, batch.BatchID, decoded.BatchID)
	assert.True(t, batch.LocalWriteTime.Equal(decoded.LocalWriteTime))
	require.Len(t, decoded.BaseMutations, 1)
	require.Len(t, decoded.Mutations, 3)

	set, ok := decoded.Mutations[0].(model.SetMutation)
	require.True(t, ok)
	require.Len(t, set.Transforms, 3)
	_, ok = set.Transforms[0].Op.(model.ServerTimestampTransform)
	assert.True(t, ok)
	inc, ok := set.Transforms[1].Op.(model.NumericIncrementTransform)
	require.True(t, ok)
	assert.Equal(t, int64(2), inc.Operand.IntVal)

	del, ok := decoded.Mutations[1].(model.DeleteMutation)
	require.True(t, ok)
	v, ok := del.Pre.RequiredUpdateTime()
	require.True(t, ok)
	assert.Equal(t, int64(9), v.Seconds)

	verify, ok := decoded.Mutations[2].(model.VerifyMutation)
	require.True(t, ok)
	exists, ok := verify.Pre.RequiresExists()
	require.True(t, ok)
	assert.False(t, exists)
}

func TestTargetDataRoundTrip(t *testing.T) {
	p, err := model.ParseResourcePath("rooms")
	require.NoError(t, err)
	q := model.NewQuery(p)
	q.Filters = []model.Filter{model.FieldFilter{Field: model.NewFieldPath("open"), Op: model.OpEq, Value: model.BooleanValue(true)}}
	q.Limit = 5
	q.LimitType = model.LimitFirst

	td := model.NewTargetData(q.ToTarget(), 4, model.PurposeListen, 11)
	td.ResumeToken = []byte("token")
	td.SnapshotVersion = model.SnapshotVersion{Seconds: 55}
	td.LastLimboFreeSnapshotVersion = model.SnapshotVersion{Seconds: 50}

	encoded, err := EncodeTargetData(td)
	require.NoError(t, err)
	decoded, err := DecodeTargetData(encoded)
	require.NoError(t, err)

	assert.Equal(t, td.TargetID, decoded.TargetID)
	assert.Equal(t, td.Purpose, decoded.Purpose)
	assert.Equal(t, td.SequenceNumber, decoded.SequenceNumber)
	assert.Equal(t, td.ResumeToken, decoded.ResumeToken)
	assert.Equal(t, td.LastLimboFreeSnapshotVersion, decoded.LastLimboFreeSnapshotVersion)
	assert.True(t, td.Target.Equal(decoded.Target), "canonical target identity survives the trip")
}

func TestServerTimestampValueRoundTrip(t *testing.T) {
	writeTime := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	prev := model.IntegerValue(5)
	doc := model.NewFoundDocument(watchKey(t, "rooms/r1"), model.SnapshotVersion{Seconds: 1},
		model.ObjectValueFrom(model.MapValue(map[string]model.Value{
			"updated": model.ServerTimestampValue(writeTime, &prev),
		})))

	encoded, err := EncodeDocument(doc)
	require.NoError(t, err)
	decoded, err := DecodeDocument(encoded)
	require.NoError(t, err)

	v, ok := decoded.Field(model.NewFieldPath("updated"))
	require.True(t, ok)
	assert.Equal(t, model.KindServerTimestamp, v.Kind)
	assert.True(t, writeTime.Equal(v.LocalWriteTime))
	require.NotNil(t, v.Previous)
	assert.Equal(t, int64(5), v.Previous.IntVal)
}
