package model

// ObjectValue wraps a map-kind Value and provides field-path access into the
// nested tree.
type ObjectValue struct {
	value Value
}

func NewObjectValue() *ObjectValue {
	return &ObjectValue{value: MapValue(map[string]Value{})}
}

// ObjectValueFrom wraps an existing map value. Non-map values are replaced by
// an empty map.
func ObjectValueFrom(v Value) *ObjectValue {
	if v.Kind != KindMap {
		v = MapValue(map[string]Value{})
	}
	return &ObjectValue{value: v}
}

// Value returns the underlying map value.
func (o *ObjectValue) Value() Value {
	return o.value
}

// Field returns the value at path, or ok=false if any step is missing or
// traverses a non-map.
func (o *ObjectValue) Field(path FieldPath) (Value, bool) {
	if path.IsEmpty() {
		return o.value, true
	}
	cur := o.value
	for i := 0; i < path.Length(); i++ {
		if cur.Kind != KindMap {
			return Value{}, false
		}
		next, ok := cur.MapVal[path.Segment(i)]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Set writes value at path, creating intermediate maps as needed.
func (o *ObjectValue) Set(path FieldPath, value Value) {
	if path.IsEmpty() {
		if value.Kind == KindMap {
			o.value = value
		}
		return
	}
	cur := o.value.MapVal
	for i := 0; i < path.Length()-1; i++ {
		seg := path.Segment(i)
		next, ok := cur[seg]
		if !ok || next.Kind != KindMap {
			next = MapValue(map[string]Value{})
			cur[seg] = next
		}
		cur = next.MapVal
	}
	cur[path.Segment(path.Length()-1)] = value
}

// Delete removes the value at path if present. Missing intermediate maps are
// a no-op.
func (o *ObjectValue) Delete(path FieldPath) {
	if path.IsEmpty() {
		return
	}
	cur := o.value.MapVal
	for i := 0; i < path.Length()-1; i++ {
		next, ok := cur[path.Segment(i)]
		if !ok || next.Kind != KindMap {
			return
		}
		cur = next.MapVal
	}
	delete(cur, path.Segment(path.Length()-1))
}

// Clone returns an independent deep copy.
func (o *ObjectValue) Clone() *ObjectValue {
	return &ObjectValue{value: o.value.Clone()}
}

// FieldMask is an unordered set of field paths.
type FieldMask struct {
	paths []FieldPath
}

func NewFieldMask(paths ...FieldPath) FieldMask {
	return FieldMask{paths: paths}
}

func (m FieldMask) Paths() []FieldPath { return m.paths }
func (m FieldMask) Len() int           { return len(m.paths) }

// Covers reports whether path or one of its prefixes is in the mask.
func (m FieldMask) Covers(path FieldPath) bool {
	for _, p := range m.paths {
		if p.IsPrefixOf(path) {
			return true
		}
	}
	return false
}
