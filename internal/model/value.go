package model

import (
	"bytes"
	"encoding/base64"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueKind enumerates every value kind a document field can hold.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBoolean
	KindInteger
	KindDouble
	KindTimestamp
	KindServerTimestamp
	KindString
	KindBytes
	KindReference
	KindGeoPoint
	KindArray
	KindVector
	KindMap
)

// Type ranks for cross-kind ordering. Integer and double share one rank; the
// server-timestamp sentinel sorts directly after real timestamps.
const (
	rankNull = iota
	rankBoolean
	rankNumber
	rankTimestamp
	rankServerTimestamp
	rankString
	rankBytes
	rankReference
	rankGeoPoint
	rankArray
	rankVector
	rankMap
)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Value is the canonical representation of a document field value.
// Kind selects which of the payload fields is meaningful.
type Value struct {
	Kind ValueKind

	BoolVal   bool
	IntVal    int64
	DoubleVal float64
	TimeVal   time.Time
	StrVal    string
	BytesVal  []byte
	RefVal    DocumentKey
	GeoVal    GeoPoint
	ArrayVal  []Value
	MapVal    map[string]Value

	// Server-timestamp sentinel payload: the local wall-clock write time and
	// the field's value before the pending write, if any.
	LocalWriteTime time.Time
	Previous       *Value
}

func NullValue() Value                { return Value{Kind: KindNull} }
func BooleanValue(b bool) Value       { return Value{Kind: KindBoolean, BoolVal: b} }
func IntegerValue(i int64) Value      { return Value{Kind: KindInteger, IntVal: i} }
func DoubleValue(f float64) Value     { return Value{Kind: KindDouble, DoubleVal: f} }
func StringValue(s string) Value      { return Value{Kind: KindString, StrVal: s} }
func BytesValue(b []byte) Value       { return Value{Kind: KindBytes, BytesVal: b} }
func TimestampValue(t time.Time) Value {
	return Value{Kind: KindTimestamp, TimeVal: t.UTC()}
}
func ReferenceValue(k DocumentKey) Value { return Value{Kind: KindReference, RefVal: k} }
func GeoPointValue(lat, lng float64) Value {
	return Value{Kind: KindGeoPoint, GeoVal: GeoPoint{Latitude: lat, Longitude: lng}}
}
func ArrayValue(elems ...Value) Value { return Value{Kind: KindArray, ArrayVal: elems} }
func MapValue(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{Kind: KindMap, MapVal: fields}
}

// VectorValue builds the vector sentinel from its numeric components.
func VectorValue(components []float64) Value {
	elems := make([]Value, len(components))
	for i, c := range components {
		elems[i] = DoubleValue(c)
	}
	return Value{Kind: KindVector, ArrayVal: elems}
}

// ServerTimestampValue builds the server-timestamp sentinel recorded for a
// pending write. previous carries the field's prior value for local views.
func ServerTimestampValue(localWriteTime time.Time, previous *Value) Value {
	return Value{Kind: KindServerTimestamp, LocalWriteTime: localWriteTime.UTC(), Previous: previous}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) IsNaN() bool {
	return v.Kind == KindDouble && math.IsNaN(v.DoubleVal)
}

func (v Value) IsNumber() bool {
	return v.Kind == KindInteger || v.Kind == KindDouble
}

// Float64 returns the numeric payload of an integer or double value.
func (v Value) Float64() float64 {
	if v.Kind == KindInteger {
		return float64(v.IntVal)
	}
	return v.DoubleVal
}

func typeRank(v Value) int {
	switch v.Kind {
	case KindNull:
		return rankNull
	case KindBoolean:
		return rankBoolean
	case KindInteger, KindDouble:
		return rankNumber
	case KindTimestamp:
		return rankTimestamp
	case KindServerTimestamp:
		return rankServerTimestamp
	case KindString:
		return rankString
	case KindBytes:
		return rankBytes
	case KindReference:
		return rankReference
	case KindGeoPoint:
		return rankGeoPoint
	case KindArray:
		return rankArray
	case KindVector:
		return rankVector
	case KindMap:
		return rankMap
	}
	return rankNull
}

// CompareValues imposes a strict total order across all value kinds.
func CompareValues(a, b Value) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(ra, rb)
	}

	switch ra {
	case rankNull:
		return 0
	case rankBoolean:
		return compareBools(a.BoolVal, b.BoolVal)
	case rankNumber:
		return compareNumbers(a, b)
	case rankTimestamp:
		return compareTimes(a.TimeVal, b.TimeVal)
	case rankServerTimestamp:
		return compareTimes(a.LocalWriteTime, b.LocalWriteTime)
	case rankString:
		return strings.Compare(a.StrVal, b.StrVal)
	case rankBytes:
		return bytes.Compare(a.BytesVal, b.BytesVal)
	case rankReference:
		return a.RefVal.Compare(b.RefVal)
	case rankGeoPoint:
		if c := compareFloats(a.GeoVal.Latitude, b.GeoVal.Latitude); c != 0 {
			return c
		}
		return compareFloats(a.GeoVal.Longitude, b.GeoVal.Longitude)
	case rankArray, rankVector:
		// Vectors order by dimension count first, then component-wise.
		if ra == rankVector {
			if c := compareInts(len(a.ArrayVal), len(b.ArrayVal)); c != 0 {
				return c
			}
		}
		return compareArrays(a.ArrayVal, b.ArrayVal)
	case rankMap:
		return compareMaps(a.MapVal, b.MapVal)
	}
	return 0
}

// ValuesEqual is exact structural equality. Unlike CompareValues it
// distinguishes -0 from 0 and treats integer and double payloads as distinct
// kinds; NaN equals NaN.
func ValuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBoolean:
		return a.BoolVal == b.BoolVal
	case KindInteger:
		return a.IntVal == b.IntVal
	case KindDouble:
		if math.IsNaN(a.DoubleVal) && math.IsNaN(b.DoubleVal) {
			return true
		}
		if a.DoubleVal != b.DoubleVal {
			return false
		}
		// IEEE bit pattern check: -0 and 0 compare equal but are not the
		// same value.
		return math.Signbit(a.DoubleVal) == math.Signbit(b.DoubleVal)
	case KindTimestamp:
		return a.TimeVal.Equal(b.TimeVal)
	case KindServerTimestamp:
		return a.LocalWriteTime.Equal(b.LocalWriteTime)
	case KindString:
		return a.StrVal == b.StrVal
	case KindBytes:
		return bytes.Equal(a.BytesVal, b.BytesVal)
	case KindReference:
		return a.RefVal.Equal(b.RefVal)
	case KindGeoPoint:
		return a.GeoVal == b.GeoVal
	case KindArray, KindVector:
		if len(a.ArrayVal) != len(b.ArrayVal) {
			return false
		}
		for i := range a.ArrayVal {
			if !ValuesEqual(a.ArrayVal[i], b.ArrayVal[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.MapVal) != len(b.MapVal) {
			return false
		}
		for k, av := range a.MapVal {
			bv, ok := b.MapVal[k]
			if !ok || !ValuesEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Canonical returns the deterministic string form of a value, used for cache
// and index keys.
func (v Value) Canonical() string {
	var sb strings.Builder
	canonifyValue(&sb, v)
	return sb.String()
}

func canonifyValue(sb *strings.Builder, v Value) {
	switch v.Kind {
	case KindNull:
		sb.WriteString("null")
	case KindBoolean:
		sb.WriteString(strconv.FormatBool(v.BoolVal))
	case KindInteger:
		sb.WriteString(strconv.FormatInt(v.IntVal, 10))
	case KindDouble:
		// Doubles must never share a form with integers: "x == 1" and
		// "x == 1.0" are distinct filters and cache keys.
		s := strconv.FormatFloat(v.DoubleVal, 'g', -1, 64)
		sb.WriteString(s)
		if !strings.ContainsAny(s, ".eE") && !math.IsNaN(v.DoubleVal) && !math.IsInf(v.DoubleVal, 0) {
			sb.WriteString(".0")
		}
	case KindTimestamp:
		sb.WriteString("time(")
		sb.WriteString(strconv.FormatInt(v.TimeVal.Unix(), 10))
		sb.WriteString(",")
		sb.WriteString(strconv.Itoa(v.TimeVal.Nanosecond()))
		sb.WriteString(")")
	case KindServerTimestamp:
		sb.WriteString("server-time(")
		sb.WriteString(strconv.FormatInt(v.LocalWriteTime.UnixNano(), 10))
		sb.WriteString(")")
	case KindString:
		// Quoted so string literals like "true" or "null" cannot collide
		// with the boolean and null canonical forms.
		sb.WriteString(strconv.Quote(v.StrVal))
	case KindBytes:
		sb.WriteString(base64.StdEncoding.EncodeToString(v.BytesVal))
	case KindReference:
		sb.WriteString(v.RefVal.String())
	case KindGeoPoint:
		sb.WriteString("geo(")
		sb.WriteString(strconv.FormatFloat(v.GeoVal.Latitude, 'g', -1, 64))
		sb.WriteString(",")
		sb.WriteString(strconv.FormatFloat(v.GeoVal.Longitude, 'g', -1, 64))
		sb.WriteString(")")
	case KindArray, KindVector:
		if v.Kind == KindVector {
			sb.WriteString("vector")
		}
		sb.WriteString("[")
		for i, e := range v.ArrayVal {
			if i > 0 {
				sb.WriteString(",")
			}
			canonifyValue(sb, e)
		}
		sb.WriteString("]")
	case KindMap:
		sb.WriteString("{")
		keys := make([]string, 0, len(v.MapVal))
		for k := range v.MapVal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(k)
			sb.WriteString(":")
			canonifyValue(sb, v.MapVal[k])
		}
		sb.WriteString("}")
	}
}

// Clone returns a deep copy; mutating the copy never affects the original.
func (v Value) Clone() Value {
	out := v
	if v.BytesVal != nil {
		out.BytesVal = append([]byte(nil), v.BytesVal...)
	}
	if v.ArrayVal != nil {
		out.ArrayVal = make([]Value, len(v.ArrayVal))
		for i, e := range v.ArrayVal {
			out.ArrayVal[i] = e.Clone()
		}
	}
	if v.MapVal != nil {
		out.MapVal = make(map[string]Value, len(v.MapVal))
		for k, e := range v.MapVal {
			out.MapVal[k] = e.Clone()
		}
	}
	if v.Previous != nil {
		prev := v.Previous.Clone()
		out.Previous = &prev
	}
	return out
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBools(a, b bool) int {
	switch {
	case !a && b:
		return -1
	case a && !b:
		return 1
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// compareNumbers unifies integers and doubles into one numeric order with NaN
// sorting lowest. -0 and 0 compare equal.
func compareNumbers(a, b Value) int {
	if a.Kind == KindInteger && b.Kind == KindInteger {
		switch {
		case a.IntVal < b.IntVal:
			return -1
		case a.IntVal > b.IntVal:
			return 1
		}
		return 0
	}
	return compareFloats(a.Float64(), b.Float64())
}

func compareFloats(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInts(len(a), len(b))
}

func compareMaps(a, b map[string]Value) int {
	ak := make([]string, 0, len(a))
	for k := range a {
		ak = append(ak, k)
	}
	sort.Strings(ak)
	bk := make([]string, 0, len(b))
	for k := range b {
		bk = append(bk, k)
	}
	sort.Strings(bk)

	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := CompareValues(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return compareInts(len(ak), len(bk))
}
