package syntrix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

func TestToValue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want model.Value
	}{
		{"nil", nil, model.NullValue()},
		{"bool", true, model.BooleanValue(true)},
		{"int", 7, model.IntegerValue(7)},
		{"int32", int32(-3), model.IntegerValue(-3)},
		{"uint16", uint16(9), model.IntegerValue(9)},
		{"float64", 1.5, model.DoubleValue(1.5)},
		{"float32", float32(2), model.DoubleValue(2)},
		{"string", "hi", model.StringValue("hi")},
		{"bytes", []byte{1, 2}, model.BytesValue([]byte{1, 2})},
		{"time", now, model.TimestampValue(now)},
		{"geopoint", GeoPoint{Latitude: 1, Longitude: 2}, model.GeoPointValue(1, 2)},
		{"vector", Vector{1, 2}, model.VectorValue([]float64{1, 2})},
		{
			"array", []any{int64(1), "a"},
			model.ArrayValue(model.IntegerValue(1), model.StringValue("a")),
		},
		{
			"map", map[string]any{"n": int64(1)},
			model.MapValue(map[string]model.Value{"n": model.IntegerValue(1)}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toValue(tt.in)
			require.NoError(t, err)
			assert.True(t, model.ValuesEqual(tt.want, got))
		})
	}
}

func TestToValue_Rejections(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"server timestamp sentinel", ServerTimestamp},
		{"delete sentinel", Delete},
		{"array union sentinel", ArrayUnion(1)},
		{"increment sentinel", Increment(1)},
		{"unsupported type", struct{ X int }{}},
		{"nil reference", (*DocumentRef)(nil)},
		{"sentinel nested in array", []any{ServerTimestamp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := toValue(tt.in)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, codes.CodeOf(err))
		})
	}
}

func TestParseSetData(t *testing.T) {
	obj, transforms, err := parseSetData(map[string]any{
		"name":    "lobby",
		"count":   Increment(int64(2)),
		"created": ServerTimestamp,
		"meta": map[string]any{
			"tags": ArrayUnion("a"),
			"open": true,
		},
	})
	require.NoError(t, err)

	name, ok := obj.Field(model.NewFieldPath("name"))
	require.True(t, ok)
	assert.True(t, model.ValuesEqual(model.StringValue("lobby"), name))

	open, ok := obj.Field(model.NewFieldPath("meta", "open"))
	require.True(t, ok)
	assert.True(t, model.ValuesEqual(model.BooleanValue(true), open))

	// Sentinels become transforms, not stored fields.
	_, ok = obj.Field(model.NewFieldPath("count"))
	assert.False(t, ok)
	require.Len(t, transforms, 3)
	fields := map[string]bool{}
	for _, tf := range transforms {
		fields[tf.Field.String()] = true
	}
	assert.True(t, fields["count"])
	assert.True(t, fields["created"])
	assert.True(t, fields["meta.tags"])
}

func TestParseSetData_DeleteRejected(t *testing.T) {
	_, _, err := parseSetData(map[string]any{"gone": Delete})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, codes.CodeOf(err))
}

func TestParseSetData_BadIncrementOperand(t *testing.T) {
	_, _, err := parseSetData(map[string]any{"n": Increment("nope")})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, codes.CodeOf(err))
}

func TestParseUpdateData(t *testing.T) {
	obj, mask, transforms, err := parseUpdateData(map[string]any{
		"name":      "lobby",
		"meta.open": false,
		"gone":      Delete,
		"count":     Increment(1),
	})
	require.NoError(t, err)

	// Updated fields carry data and a mask entry.
	assert.True(t, mask.Covers(model.NewFieldPath("name")))
	assert.True(t, mask.Covers(model.NewFieldPath("meta", "open")))
	v, ok := obj.Field(model.NewFieldPath("meta", "open"))
	require.True(t, ok)
	assert.True(t, model.ValuesEqual(model.BooleanValue(false), v))

	// Delete contributes a mask entry with no data.
	assert.True(t, mask.Covers(model.NewFieldPath("gone")))
	_, ok = obj.Field(model.NewFieldPath("gone"))
	assert.False(t, ok)

	// Transforms are outside the mask.
	assert.False(t, mask.Covers(model.NewFieldPath("count")))
	require.Len(t, transforms, 1)
	assert.Equal(t, "count", transforms[0].Field.String())
}

func TestParseUpdateData_InvalidFieldPath(t *testing.T) {
	_, _, _, err := parseUpdateData(map[string]any{"a..b": 1})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, codes.CodeOf(err))
}

func TestFromValue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, fromValue(nil, model.NullValue()))
	assert.Equal(t, int64(7), fromValue(nil, model.IntegerValue(7)))
	assert.Equal(t, 1.5, fromValue(nil, model.DoubleValue(1.5)))
	assert.Equal(t, "hi", fromValue(nil, model.StringValue("hi")))
	assert.Equal(t, now, fromValue(nil, model.TimestampValue(now)))
	assert.Equal(t, GeoPoint{Latitude: 1, Longitude: 2}, fromValue(nil, model.GeoPointValue(1, 2)))
	assert.Equal(t, Vector{1, 2}, fromValue(nil, model.VectorValue([]float64{1, 2})))

	arr := fromValue(nil, model.ArrayValue(model.IntegerValue(1), model.StringValue("a")))
	assert.Equal(t, []any{int64(1), "a"}, arr)

	m := fromValue(nil, model.MapValue(map[string]model.Value{"n": model.IntegerValue(1)}))
	assert.Equal(t, map[string]any{"n": int64(1)}, m)
}

func TestFromValue_RoundTrip(t *testing.T) {
	in := map[string]any{
		"name": "lobby",
		"nested": map[string]any{
			"tags": []any{"a", "b"},
			"n":    int64(3),
		},
	}
	v, err := toValue(in)
	require.NoError(t, err)
	assert.Equal(t, in, fromValue(nil, v))
}
