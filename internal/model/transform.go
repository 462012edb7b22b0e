package model

import (
	"math"
	"time"
)

// TransformOp is the closed set of server-side field transforms.
type TransformOp interface {
	isTransformOp()
}

// ServerTimestampTransform resolves to the commit time on the server.
type ServerTimestampTransform struct{}

// ArrayUnionTransform appends elements not already present.
type ArrayUnionTransform struct {
	Elements []Value
}

// ArrayRemoveTransform removes all occurrences of the elements.
type ArrayRemoveTransform struct {
	Elements []Value
}

// NumericIncrementTransform adds the operand to the current numeric value.
type NumericIncrementTransform struct {
	Operand Value
}

func (ServerTimestampTransform) isTransformOp()  {}
func (ArrayUnionTransform) isTransformOp()       {}
func (ArrayRemoveTransform) isTransformOp()      {}
func (NumericIncrementTransform) isTransformOp() {}

// FieldTransform applies a transform op to one field.
type FieldTransform struct {
	Field FieldPath
	Op    TransformOp
}

// applyTransformLocal computes the locally visible result of a transform
// before the server has resolved it. previous is the field's current value;
// ok is false when the field is absent.
func applyTransformLocal(op TransformOp, previous Value, ok bool, localWriteTime time.Time) Value {
	switch t := op.(type) {
	case ServerTimestampTransform:
		var prev *Value
		if ok {
			p := previous.Clone()
			prev = &p
		}
		return ServerTimestampValue(localWriteTime, prev)
	case ArrayUnionTransform:
		base := coerceToArray(previous, ok)
		for _, e := range t.Elements {
			if !arrayContains(base, e) {
				base = append(base, e.Clone())
			}
		}
		return Value{Kind: KindArray, ArrayVal: base}
	case ArrayRemoveTransform:
		base := coerceToArray(previous, ok)
		out := base[:0]
		for _, e := range base {
			if !arrayContains(t.Elements, e) {
				out = append(out, e)
			}
		}
		return Value{Kind: KindArray, ArrayVal: out}
	case NumericIncrementTransform:
		base := computeTransformBase(t, previous, ok)
		return addNumbers(base, t.Operand)
	}
	return NullValue()
}

// applyTransformRemote folds the server's resolved transform result into the
// document after an acknowledgment.
func applyTransformRemote(op TransformOp, previous Value, ok bool, serverResult Value) Value {
	// The server result is authoritative for every transform kind.
	_ = op
	_ = previous
	_ = ok
	return serverResult
}

// computeTransformBase returns the pre-transform base value a transform needs
// for idempotent replay, or the zero Value when none is required.
func computeTransformBase(op TransformOp, previous Value, ok bool) Value {
	if _, isIncrement := op.(NumericIncrementTransform); !isIncrement {
		return NullValue()
	}
	if ok && previous.IsNumber() {
		return previous
	}
	return IntegerValue(0)
}

// transformRequiresBase reports whether a transform's result depends on the
// field's prior value in a non-idempotent way.
func transformRequiresBase(op TransformOp) bool {
	_, isIncrement := op.(NumericIncrementTransform)
	return isIncrement
}

func coerceToArray(v Value, ok bool) []Value {
	if !ok || v.Kind != KindArray {
		return nil
	}
	out := make([]Value, len(v.ArrayVal))
	for i, e := range v.ArrayVal {
		out[i] = e.Clone()
	}
	return out
}

func arrayContains(arr []Value, v Value) bool {
	for _, e := range arr {
		if ValuesEqual(e, v) {
			return true
		}
	}
	return false
}

// addNumbers sums two numeric values. Integer addition saturates at the int64
// bounds instead of wrapping.
func addNumbers(a, b Value) Value {
	if a.Kind == KindInteger && b.Kind == KindInteger {
		return IntegerValue(saturatedAdd(a.IntVal, b.IntVal))
	}
	return DoubleValue(a.Float64() + b.Float64())
}

func saturatedAdd(a, b int64) int64 {
	sum := a + b
	switch {
	case a > 0 && b > 0 && sum < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && sum >= 0:
		return math.MinInt64
	}
	return sum
}
