package syntrix

import (
	"fmt"
	"time"

	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Vector marks a []float64 as a vector field rather than a plain array.
type Vector []float64

type serverTimestampSentinel struct{}
type deleteSentinel struct{}

type arrayUnionSentinel struct{ elems []any }
type arrayRemoveSentinel struct{ elems []any }
type incrementSentinel struct{ operand any }

// ServerTimestamp is a sentinel: the field is set to the commit time by the
// server. Until the write is acknowledged, local snapshots see an estimate.
var ServerTimestamp = serverTimestampSentinel{}

// Delete is a sentinel valid only in Update calls: the field is removed.
var Delete = deleteSentinel{}

// ArrayUnion appends the given elements to an array field, skipping ones
// already present.
func ArrayUnion(elems ...any) arrayUnionSentinel { return arrayUnionSentinel{elems: elems} }

// ArrayRemove removes every occurrence of the given elements from an array
// field.
func ArrayRemove(elems ...any) arrayRemoveSentinel { return arrayRemoveSentinel{elems: elems} }

// Increment adds n (int or float) to a numeric field, treating a missing or
// non-numeric field as zero.
func Increment(n any) incrementSentinel { return incrementSentinel{operand: n} }

// toValue converts a plain Go value into the model representation. Sentinels
// are rejected here; callers that accept them strip them out first.
func toValue(v any) (model.Value, error) {
	switch x := v.(type) {
	case nil:
		return model.NullValue(), nil
	case bool:
		return model.BooleanValue(x), nil
	case int:
		return model.IntegerValue(int64(x)), nil
	case int8:
		return model.IntegerValue(int64(x)), nil
	case int16:
		return model.IntegerValue(int64(x)), nil
	case int32:
		return model.IntegerValue(int64(x)), nil
	case int64:
		return model.IntegerValue(x), nil
	case uint8:
		return model.IntegerValue(int64(x)), nil
	case uint16:
		return model.IntegerValue(int64(x)), nil
	case uint32:
		return model.IntegerValue(int64(x)), nil
	case float32:
		return model.DoubleValue(float64(x)), nil
	case float64:
		return model.DoubleValue(x), nil
	case string:
		return model.StringValue(x), nil
	case []byte:
		return model.BytesValue(x), nil
	case time.Time:
		return model.TimestampValue(x), nil
	case GeoPoint:
		return model.GeoPointValue(x.Latitude, x.Longitude), nil
	case Vector:
		return model.VectorValue(x), nil
	case *DocumentRef:
		if x == nil {
			return model.Value{}, codes.New(codes.InvalidArgument, "nil document reference")
		}
		return model.ReferenceValue(x.key), nil
	case map[string]any:
		m := make(map[string]model.Value, len(x))
		for k, elem := range x {
			ev, err := toValue(elem)
			if err != nil {
				return model.Value{}, err
			}
			m[k] = ev
		}
		return model.MapValue(m), nil
	case []any:
		elems := make([]model.Value, len(x))
		for i, elem := range x {
			ev, err := toValue(elem)
			if err != nil {
				return model.Value{}, err
			}
			elems[i] = ev
		}
		return model.ArrayValue(elems...), nil
	case serverTimestampSentinel, deleteSentinel, arrayUnionSentinel, arrayRemoveSentinel, incrementSentinel:
		return model.Value{}, codes.New(codes.InvalidArgument, "sentinel value in unsupported position")
	default:
		return model.Value{}, codes.Errorf(codes.InvalidArgument, "unsupported value type %T", v)
	}
}

func toTransformOp(v any) (model.TransformOp, bool, error) {
	switch x := v.(type) {
	case serverTimestampSentinel:
		return model.ServerTimestampTransform{}, true, nil
	case arrayUnionSentinel:
		elems, err := toValues(x.elems)
		if err != nil {
			return nil, true, err
		}
		return model.ArrayUnionTransform{Elements: elems}, true, nil
	case arrayRemoveSentinel:
		elems, err := toValues(x.elems)
		if err != nil {
			return nil, true, err
		}
		return model.ArrayRemoveTransform{Elements: elems}, true, nil
	case incrementSentinel:
		operand, err := toValue(x.operand)
		if err != nil {
			return nil, true, err
		}
		if operand.Kind != model.KindInteger && operand.Kind != model.KindDouble {
			return nil, true, codes.New(codes.InvalidArgument, "increment operand must be an integer or a float")
		}
		return model.NumericIncrementTransform{Operand: operand}, true, nil
	}
	return nil, false, nil
}

func toValues(elems []any) ([]model.Value, error) {
	out := make([]model.Value, len(elems))
	for i, e := range elems {
		v, err := toValue(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseSetData splits a document body into stored fields and field
// transforms. Delete sentinels are invalid in a full set.
func parseSetData(data map[string]any) (*model.ObjectValue, []model.FieldTransform, error) {
	obj := model.NewObjectValue()
	var transforms []model.FieldTransform
	err := walkSetData(model.NewFieldPath(), data, obj, &transforms)
	if err != nil {
		return nil, nil, err
	}
	return obj, transforms, nil
}

func walkSetData(prefix model.FieldPath, data map[string]any, obj *model.ObjectValue, transforms *[]model.FieldTransform) error {
	for k, v := range data {
		path := prefix.Child(k)
		if _, ok := v.(deleteSentinel); ok {
			return codes.Errorf(codes.InvalidArgument, "Delete sentinel at %s is only valid in Update", path.String())
		}
		if op, isSentinel, err := toTransformOp(v); isSentinel {
			if err != nil {
				return err
			}
			*transforms = append(*transforms, model.FieldTransform{Field: path, Op: op})
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if err := walkSetData(path, nested, obj, transforms); err != nil {
				return err
			}
			continue
		}
		value, err := toValue(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", path.String(), err)
		}
		obj.Set(path, value)
	}
	return nil
}

// parseUpdateData turns a dotted-path update map into patch data, a field
// mask, and transforms. Delete sentinels contribute a mask entry with no
// data, which deletes the field.
func parseUpdateData(updates map[string]any) (*model.ObjectValue, model.FieldMask, []model.FieldTransform, error) {
	obj := model.NewObjectValue()
	var maskPaths []model.FieldPath
	var transforms []model.FieldTransform

	for k, v := range updates {
		path, err := model.ParseFieldPath(k)
		if err != nil {
			return nil, model.FieldMask{}, nil, codes.Errorf(codes.InvalidArgument, "invalid field path %q: %v", k, err)
		}
		if _, ok := v.(deleteSentinel); ok {
			maskPaths = append(maskPaths, path)
			continue
		}
		if op, isSentinel, err := toTransformOp(v); isSentinel {
			if err != nil {
				return nil, model.FieldMask{}, nil, err
			}
			transforms = append(transforms, model.FieldTransform{Field: path, Op: op})
			continue
		}
		value, err := toValue(v)
		if err != nil {
			return nil, model.FieldMask{}, nil, fmt.Errorf("field %s: %w", k, err)
		}
		obj.Set(path, value)
		maskPaths = append(maskPaths, path)
	}
	return obj, model.NewFieldMask(maskPaths...), transforms, nil
}

// fromValue converts a model value back to a plain Go value for snapshot
// consumers.
func fromValue(c *Client, v model.Value) any {
	switch v.Kind {
	case model.KindNull:
		return nil
	case model.KindBoolean:
		return v.BoolVal
	case model.KindInteger:
		return v.IntVal
	case model.KindDouble:
		return v.DoubleVal
	case model.KindTimestamp:
		return v.TimeVal
	case model.KindServerTimestamp:
		// Pending server timestamp: the local write time is the estimate.
		return v.LocalWriteTime
	case model.KindString:
		return v.StrVal
	case model.KindBytes:
		return v.BytesVal
	case model.KindReference:
		return &DocumentRef{c: c, key: v.RefVal}
	case model.KindGeoPoint:
		return GeoPoint{Latitude: v.GeoVal.Latitude, Longitude: v.GeoVal.Longitude}
	case model.KindVector:
		out := make(Vector, len(v.ArrayVal))
		for i, e := range v.ArrayVal {
			out[i] = e.DoubleVal
		}
		return out
	case model.KindArray:
		out := make([]any, len(v.ArrayVal))
		for i, e := range v.ArrayVal {
			out[i] = fromValue(c, e)
		}
		return out
	case model.KindMap:
		out := make(map[string]any, len(v.MapVal))
		for k, e := range v.MapVal {
			out[k] = fromValue(c, e)
		}
		return out
	}
	return nil
}
