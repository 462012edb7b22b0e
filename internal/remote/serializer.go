package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

// Wire representations for every model type that crosses the stream or is
// written to durable storage. All payloads are JSON; doubles travel as
// strings so NaN, the infinities, and negative zero survive the trip.

type wireTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

func encodeVersion(v model.SnapshotVersion) wireTimestamp {
	return wireTimestamp{Seconds: v.Seconds, Nanos: v.Nanos}
}

func decodeVersion(w wireTimestamp) model.SnapshotVersion {
	return model.SnapshotVersion{Seconds: w.Seconds, Nanos: w.Nanos}
}

func encodeTime(t time.Time) wireTimestamp {
	return wireTimestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

func decodeTime(w wireTimestamp) time.Time {
	return time.Unix(w.Seconds, int64(w.Nanos)).UTC()
}

type wireGeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type wireValue struct {
	Kind      string               `json:"kind"`
	Boolean   bool                 `json:"boolean,omitempty"`
	Integer   int64                `json:"integer,omitempty"`
	Double    string               `json:"double,omitempty"`
	Time      *wireTimestamp       `json:"time,omitempty"`
	Str       string               `json:"string,omitempty"`
	Bytes     []byte               `json:"bytes,omitempty"`
	Reference string               `json:"reference,omitempty"`
	Geo       *wireGeoPoint        `json:"geo,omitempty"`
	Elements  []wireValue          `json:"elements,omitempty"`
	Fields    map[string]wireValue `json:"fields,omitempty"`

	LocalWriteTime *wireTimestamp `json:"localWriteTime,omitempty"`
	Previous       *wireValue     `json:"previous,omitempty"`
}

const (
	kindNull            = "null"
	kindBoolean         = "boolean"
	kindInteger         = "integer"
	kindDouble          = "double"
	kindTimestamp       = "timestamp"
	kindServerTimestamp = "serverTimestamp"
	kindString          = "string"
	kindBytes           = "bytes"
	kindReference       = "reference"
	kindGeoPoint        = "geoPoint"
	kindArray           = "array"
	kindVector          = "vector"
	kindMap             = "map"
)

func encodeValue(v model.Value) wireValue {
	switch v.Kind {
	case model.KindNull:
		return wireValue{Kind: kindNull}
	case model.KindBoolean:
		return wireValue{Kind: kindBoolean, Boolean: v.BoolVal}
	case model.KindInteger:
		return wireValue{Kind: kindInteger, Integer: v.IntVal}
	case model.KindDouble:
		return wireValue{Kind: kindDouble, Double: strconv.FormatFloat(v.DoubleVal, 'g', -1, 64)}
	case model.KindTimestamp:
		ts := encodeTime(v.TimeVal)
		return wireValue{Kind: kindTimestamp, Time: &ts}
	case model.KindServerTimestamp:
		ts := encodeTime(v.LocalWriteTime)
		w := wireValue{Kind: kindServerTimestamp, LocalWriteTime: &ts}
		if v.Previous != nil {
			prev := encodeValue(*v.Previous)
			w.Previous = &prev
		}
		return w
	case model.KindString:
		return wireValue{Kind: kindString, Str: v.StrVal}
	case model.KindBytes:
		return wireValue{Kind: kindBytes, Bytes: v.BytesVal}
	case model.KindReference:
		return wireValue{Kind: kindReference, Reference: v.RefVal.String()}
	case model.KindGeoPoint:
		return wireValue{Kind: kindGeoPoint, Geo: &wireGeoPoint{Latitude: v.GeoVal.Latitude, Longitude: v.GeoVal.Longitude}}
	case model.KindArray, model.KindVector:
		kind := kindArray
		if v.Kind == model.KindVector {
			kind = kindVector
		}
		elems := make([]wireValue, len(v.ArrayVal))
		for i, e := range v.ArrayVal {
			elems[i] = encodeValue(e)
		}
		return wireValue{Kind: kind, Elements: elems}
	case model.KindMap:
		fields := make(map[string]wireValue, len(v.MapVal))
		for k, f := range v.MapVal {
			fields[k] = encodeValue(f)
		}
		return wireValue{Kind: kindMap, Fields: fields}
	}
	return wireValue{Kind: kindNull}
}

func decodeValue(w wireValue) (model.Value, error) {
	switch w.Kind {
	case kindNull:
		return model.NullValue(), nil
	case kindBoolean:
		return model.BooleanValue(w.Boolean), nil
	case kindInteger:
		return model.IntegerValue(w.Integer), nil
	case kindDouble:
		f, err := strconv.ParseFloat(w.Double, 64)
		if err != nil {
			return model.Value{}, fmt.Errorf("bad double %q: %w", w.Double, err)
		}
		return model.DoubleValue(f), nil
	case kindTimestamp:
		if w.Time == nil {
			return model.Value{}, fmt.Errorf("timestamp value without time")
		}
		return model.TimestampValue(decodeTime(*w.Time)), nil
	case kindServerTimestamp:
		if w.LocalWriteTime == nil {
			return model.Value{}, fmt.Errorf("server timestamp without local write time")
		}
		var prev *model.Value
		if w.Previous != nil {
			p, err := decodeValue(*w.Previous)
			if err != nil {
				return model.Value{}, err
			}
			prev = &p
		}
		return model.ServerTimestampValue(decodeTime(*w.LocalWriteTime), prev), nil
	case kindString:
		return model.StringValue(w.Str), nil
	case kindBytes:
		return model.BytesValue(w.Bytes), nil
	case kindReference:
		key, err := model.ParseDocumentKey(w.Reference)
		if err != nil {
			return model.Value{}, fmt.Errorf("bad reference %q: %w", w.Reference, err)
		}
		return model.ReferenceValue(key), nil
	case kindGeoPoint:
		if w.Geo == nil {
			return model.Value{}, fmt.Errorf("geo point value without coordinates")
		}
		return model.GeoPointValue(w.Geo.Latitude, w.Geo.Longitude), nil
	case kindArray, kindVector:
		elems := make([]model.Value, len(w.Elements))
		for i, e := range w.Elements {
			v, err := decodeValue(e)
			if err != nil {
				return model.Value{}, err
			}
			elems[i] = v
		}
		v := model.ArrayValue(elems...)
		if w.Kind == kindVector {
			v.Kind = model.KindVector
		}
		return v, nil
	case kindMap:
		fields := make(map[string]model.Value, len(w.Fields))
		for k, f := range w.Fields {
			v, err := decodeValue(f)
			if err != nil {
				return model.Value{}, err
			}
			fields[k] = v
		}
		return model.MapValue(fields), nil
	}
	return model.Value{}, fmt.Errorf("unknown value kind %q", w.Kind)
}

func encodeObject(o *model.ObjectValue) map[string]wireValue {
	return encodeValue(o.Value()).Fields
}

func decodeObject(fields map[string]wireValue) (*model.ObjectValue, error) {
	v, err := decodeValue(wireValue{Kind: kindMap, Fields: fields})
	if err != nil {
		return nil, err
	}
	return model.ObjectValueFrom(v), nil
}

type wirePrecondition struct {
	Exists     *bool          `json:"exists,omitempty"`
	UpdateTime *wireTimestamp `json:"updateTime,omitempty"`
}

func encodePrecondition(p model.Precondition) *wirePrecondition {
	if p.IsNone() {
		return nil
	}
	if exists, ok := p.RequiresExists(); ok {
		return &wirePrecondition{Exists: &exists}
	}
	if v, ok := p.RequiredUpdateTime(); ok {
		ts := encodeVersion(v)
		return &wirePrecondition{UpdateTime: &ts}
	}
	return nil
}

func decodePrecondition(w *wirePrecondition) model.Precondition {
	switch {
	case w == nil:
		return model.PreconditionNone()
	case w.UpdateTime != nil:
		return model.PreconditionUpdateTime(decodeVersion(*w.UpdateTime))
	case w.Exists != nil && *w.Exists:
		return model.PreconditionExists()
	case w.Exists != nil:
		return model.PreconditionNotExists()
	}
	return model.PreconditionNone()
}

type wireFieldTransform struct {
	Field    string      `json:"field"`
	Type     string      `json:"type"`
	Elements []wireValue `json:"elements,omitempty"`
	Operand  *wireValue  `json:"operand,omitempty"`
}

const (
	transformServerTimestamp = "serverTimestamp"
	transformArrayUnion      = "arrayUnion"
	transformArrayRemove     = "arrayRemove"
	transformIncrement       = "increment"
)

func encodeFieldTransform(ft model.FieldTransform) wireFieldTransform {
	w := wireFieldTransform{Field: ft.Field.String()}
	switch op := ft.Op.(type) {
	case model.ServerTimestampTransform:
		w.Type = transformServerTimestamp
	case model.ArrayUnionTransform:
		w.Type = transformArrayUnion
		w.Elements = encodeValues(op.Elements)
	case model.ArrayRemoveTransform:
		w.Type = transformArrayRemove
		w.Elements = encodeValues(op.Elements)
	case model.NumericIncrementTransform:
		w.Type = transformIncrement
		operand := encodeValue(op.Operand)
		w.Operand = &operand
	}
	return w
}

func decodeFieldTransform(w wireFieldTransform) (model.FieldTransform, error) {
	field, err := model.ParseFieldPath(w.Field)
	if err != nil {
		return model.FieldTransform{}, fmt.Errorf("bad transform field %q: %w", w.Field, err)
	}
	var op model.TransformOp
	switch w.Type {
	case transformServerTimestamp:
		op = model.ServerTimestampTransform{}
	case transformArrayUnion, transformArrayRemove:
		elems, err := decodeValues(w.Elements)
		if err != nil {
			return model.FieldTransform{}, err
		}
		if w.Type == transformArrayUnion {
			op = model.ArrayUnionTransform{Elements: elems}
		} else {
			op = model.ArrayRemoveTransform{Elements: elems}
		}
	case transformIncrement:
		if w.Operand == nil {
			return model.FieldTransform{}, fmt.Errorf("increment transform without operand")
		}
		operand, err := decodeValue(*w.Operand)
		if err != nil {
			return model.FieldTransform{}, err
		}
		op = model.NumericIncrementTransform{Operand: operand}
	default:
		return model.FieldTransform{}, fmt.Errorf("unknown transform type %q", w.Type)
	}
	return model.FieldTransform{Field: field, Op: op}, nil
}

func encodeValues(values []model.Value) []wireValue {
	out := make([]wireValue, len(values))
	for i, v := range values {
		out[i] = encodeValue(v)
	}
	return out
}

func decodeValues(values []wireValue) ([]model.Value, error) {
	out := make([]model.Value, len(values))
	for i, w := range values {
		v, err := decodeValue(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type wireMutation struct {
	Type         string               `json:"type"`
	Key          string               `json:"key"`
	Data         map[string]wireValue `json:"data,omitempty"`
	Mask         []string             `json:"mask,omitempty"`
	Transforms   []wireFieldTransform `json:"transforms,omitempty"`
	Precondition *wirePrecondition    `json:"precondition,omitempty"`
}

const (
	mutationSet    = "set"
	mutationPatch  = "patch"
	mutationDelete = "delete"
	mutationVerify = "verify"
)

func encodeMutation(m model.Mutation) wireMutation {
	w := wireMutation{
		Key:          m.Key().String(),
		Precondition: encodePrecondition(m.Precondition()),
	}
	for _, ft := range m.FieldTransforms() {
		w.Transforms = append(w.Transforms, encodeFieldTransform(ft))
	}
	switch mut := m.(type) {
	case model.SetMutation:
		w.Type = mutationSet
		w.Data = encodeObject(mut.Value)
	case model.PatchMutation:
		w.Type = mutationPatch
		w.Data = encodeObject(mut.Data)
		w.Mask = []string{}
		for _, p := range mut.Mask.Paths() {
			w.Mask = append(w.Mask, p.String())
		}
	case model.DeleteMutation:
		w.Type = mutationDelete
	case model.VerifyMutation:
		w.Type = mutationVerify
	}
	return w
}

func decodeMutation(w wireMutation) (model.Mutation, error) {
	key, err := model.ParseDocumentKey(w.Key)
	if err != nil {
		return nil, fmt.Errorf("bad mutation key %q: %w", w.Key, err)
	}
	pre := decodePrecondition(w.Precondition)
	var transforms []model.FieldTransform
	for _, wt := range w.Transforms {
		ft, err := decodeFieldTransform(wt)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, ft)
	}
	switch w.Type {
	case mutationSet:
		data, err := decodeObject(w.Data)
		if err != nil {
			return nil, err
		}
		return model.SetMutation{DocKey: key, Pre: pre, Value: data, Transforms: transforms}, nil
	case mutationPatch:
		data, err := decodeObject(w.Data)
		if err != nil {
			return nil, err
		}
		paths := make([]model.FieldPath, 0, len(w.Mask))
		for _, s := range w.Mask {
			p, err := model.ParseFieldPath(s)
			if err != nil {
				return nil, fmt.Errorf("bad mask path %q: %w", s, err)
			}
			paths = append(paths, p)
		}
		return model.PatchMutation{DocKey: key, Pre: pre, Data: data, Mask: model.NewFieldMask(paths...), Transforms: transforms}, nil
	case mutationDelete:
		return model.DeleteMutation{DocKey: key, Pre: pre}, nil
	case mutationVerify:
		return model.VerifyMutation{DocKey: key, Pre: pre}, nil
	}
	return nil, fmt.Errorf("unknown mutation type %q", w.Type)
}

type wireFilter struct {
	Type    string       `json:"type"`
	Field   string       `json:"field,omitempty"`
	Op      string       `json:"op,omitempty"`
	Value   *wireValue   `json:"value,omitempty"`
	Filters []wireFilter `json:"filters,omitempty"`
}

func encodeFilter(f model.Filter) wireFilter {
	switch ff := f.(type) {
	case model.FieldFilter:
		v := encodeValue(ff.Value)
		return wireFilter{Type: "field", Field: ff.Field.String(), Op: string(ff.Op), Value: &v}
	case model.CompositeFilter:
		w := wireFilter{Type: "composite", Op: string(ff.Op)}
		for _, child := range ff.Filters {
			w.Filters = append(w.Filters, encodeFilter(child))
		}
		return w
	}
	return wireFilter{}
}

func decodeFilter(w wireFilter) (model.Filter, error) {
	switch w.Type {
	case "field":
		field, err := model.ParseFieldPath(w.Field)
		if err != nil {
			return nil, fmt.Errorf("bad filter field %q: %w", w.Field, err)
		}
		if w.Value == nil {
			return nil, fmt.Errorf("field filter without value")
		}
		v, err := decodeValue(*w.Value)
		if err != nil {
			return nil, err
		}
		op := model.Operator(w.Op)
		if !op.IsValid() {
			return nil, fmt.Errorf("unknown filter operator %q", w.Op)
		}
		return model.FieldFilter{Field: field, Op: op, Value: v}, nil
	case "composite":
		children := make([]model.Filter, 0, len(w.Filters))
		for _, child := range w.Filters {
			f, err := decodeFilter(child)
			if err != nil {
				return nil, err
			}
			children = append(children, f)
		}
		return model.CompositeFilter{Op: model.CompositeOperator(w.Op), Filters: children}, nil
	}
	return nil, fmt.Errorf("unknown filter type %q", w.Type)
}

type wireOrderBy struct {
	Field string `json:"field"`
	Dir   string `json:"dir"`
}

type wireBound struct {
	Position  []wireValue `json:"position"`
	Inclusive bool        `json:"inclusive"`
}

func encodeBound(b *model.Bound) *wireBound {
	if b == nil {
		return nil
	}
	return &wireBound{Position: encodeValues(b.Position), Inclusive: b.Inclusive}
}

func decodeBound(w *wireBound) (*model.Bound, error) {
	if w == nil {
		return nil, nil
	}
	position, err := decodeValues(w.Position)
	if err != nil {
		return nil, err
	}
	return &model.Bound{Position: position, Inclusive: w.Inclusive}, nil
}

type wireTarget struct {
	Path            string        `json:"path"`
	CollectionGroup string        `json:"collectionGroup,omitempty"`
	Filters         []wireFilter  `json:"filters,omitempty"`
	OrderBy         []wireOrderBy `json:"orderBy,omitempty"`
	Limit           int           `json:"limit,omitempty"`
	StartAt         *wireBound    `json:"startAt,omitempty"`
	EndAt           *wireBound    `json:"endAt,omitempty"`
}

func encodeTarget(t model.Target) wireTarget {
	w := wireTarget{
		Path:            t.Path.String(),
		CollectionGroup: t.CollectionGroup,
		Limit:           t.Limit,
		StartAt:         encodeBound(t.StartAt),
		EndAt:           encodeBound(t.EndAt),
	}
	for _, f := range t.Filters {
		w.Filters = append(w.Filters, encodeFilter(f))
	}
	for _, ob := range t.OrderBy {
		w.OrderBy = append(w.OrderBy, wireOrderBy{Field: ob.Field.String(), Dir: string(ob.Dir)})
	}
	return w
}

func decodeTarget(w wireTarget) (model.Target, error) {
	path, err := model.ParseResourcePath(w.Path)
	if err != nil {
		return model.Target{}, fmt.Errorf("bad target path %q: %w", w.Path, err)
	}
	t := model.Target{Path: path, CollectionGroup: w.CollectionGroup, Limit: w.Limit}
	for _, wf := range w.Filters {
		f, err := decodeFilter(wf)
		if err != nil {
			return model.Target{}, err
		}
		t.Filters = append(t.Filters, f)
	}
	for _, ob := range w.OrderBy {
		field, err := model.ParseFieldPath(ob.Field)
		if err != nil {
			return model.Target{}, fmt.Errorf("bad order by field %q: %w", ob.Field, err)
		}
		t.OrderBy = append(t.OrderBy, model.OrderBy{Field: field, Dir: model.Direction(ob.Dir)})
	}
	if t.StartAt, err = decodeBound(w.StartAt); err != nil {
		return model.Target{}, err
	}
	if t.EndAt, err = decodeBound(w.EndAt); err != nil {
		return model.Target{}, err
	}
	return t, nil
}

type wireDocument struct {
	Key        string               `json:"key"`
	Version    wireTimestamp        `json:"version"`
	CreateTime *wireTimestamp       `json:"createTime,omitempty"`
	ReadTime   *wireTimestamp       `json:"readTime,omitempty"`
	Type       string               `json:"docType"`
	State      string               `json:"docState"`
	Fields     map[string]wireValue `json:"fields,omitempty"`
}

const (
	docTypeFound      = "found"
	docTypeNoDocument = "noDocument"
	docTypeUnknown    = "unknown"
	docTypeInvalid    = "invalid"

	docStateSynced    = "synced"
	docStateLocal     = "localMutations"
	docStateCommitted = "committedMutations"
)

func encodeDocument(d *model.Document) wireDocument {
	w := wireDocument{
		Key:     d.Key.String(),
		Version: encodeVersion(d.Version),
	}
	if !d.CreateTime.IsZero() {
		ct := encodeVersion(d.CreateTime)
		w.CreateTime = &ct
	}
	if !d.ReadTime.IsZero() {
		rt := encodeVersion(d.ReadTime)
		w.ReadTime = &rt
	}
	switch d.Type() {
	case model.DocumentTypeFound:
		w.Type = docTypeFound
		w.Fields = encodeObject(d.Data)
	case model.DocumentTypeNoDocument:
		w.Type = docTypeNoDocument
	case model.DocumentTypeUnknown:
		w.Type = docTypeUnknown
	default:
		w.Type = docTypeInvalid
	}
	switch d.State() {
	case model.DocumentStateLocalMutations:
		w.State = docStateLocal
	case model.DocumentStateCommittedMutations:
		w.State = docStateCommitted
	default:
		w.State = docStateSynced
	}
	return w
}

func decodeDocument(w wireDocument) (*model.Document, error) {
	key, err := model.ParseDocumentKey(w.Key)
	if err != nil {
		return nil, fmt.Errorf("bad document key %q: %w", w.Key, err)
	}
	version := decodeVersion(w.Version)
	var doc *model.Document
	switch w.Type {
	case docTypeFound:
		data, err := decodeObject(w.Fields)
		if err != nil {
			return nil, err
		}
		doc = model.NewFoundDocument(key, version, data)
	case docTypeNoDocument:
		doc = model.NewNoDocument(key, version)
	case docTypeUnknown:
		doc = model.NewUnknownDocument(key, version)
	case docTypeInvalid:
		doc = model.NewInvalidDocument(key)
	default:
		return nil, fmt.Errorf("unknown document type %q", w.Type)
	}
	if w.CreateTime != nil {
		doc.CreateTime = decodeVersion(*w.CreateTime)
	}
	if w.ReadTime != nil {
		doc.SetReadTime(decodeVersion(*w.ReadTime))
	}
	switch w.State {
	case docStateLocal:
		doc.SetHasLocalMutations()
	case docStateCommitted:
		doc.SetHasCommittedMutations()
	}
	return doc, nil
}

// Storage codecs. The boltdb persistence stores each record as one JSON
// blob using the same wire forms the streams use.

func EncodeDocument(d *model.Document) ([]byte, error) {
	return json.Marshal(encodeDocument(d))
}

func DecodeDocument(data []byte) (*model.Document, error) {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return decodeDocument(w)
}

type wireMutationBatch struct {
	BatchID        int32          `json:"batchId"`
	LocalWriteTime wireTimestamp  `json:"localWriteTime"`
	BaseMutations  []wireMutation `json:"baseMutations,omitempty"`
	Mutations      []wireMutation `json:"mutations"`
}

func EncodeMutationBatch(b model.MutationBatch) ([]byte, error) {
	w := wireMutationBatch{
		BatchID:        int32(b.BatchID),
		LocalWriteTime: encodeTime(b.LocalWriteTime),
	}
	for _, m := range b.BaseMutations {
		w.BaseMutations = append(w.BaseMutations, encodeMutation(m))
	}
	for _, m := range b.Mutations {
		w.Mutations = append(w.Mutations, encodeMutation(m))
	}
	return json.Marshal(w)
}

func DecodeMutationBatch(data []byte) (model.MutationBatch, error) {
	var w wireMutationBatch
	if err := json.Unmarshal(data, &w); err != nil {
		return model.MutationBatch{}, fmt.Errorf("unmarshal batch: %w", err)
	}
	b := model.MutationBatch{
		BatchID:        model.BatchID(w.BatchID),
		LocalWriteTime: decodeTime(w.LocalWriteTime),
	}
	for _, wm := range w.BaseMutations {
		m, err := decodeMutation(wm)
		if err != nil {
			return model.MutationBatch{}, err
		}
		b.BaseMutations = append(b.BaseMutations, m)
	}
	for _, wm := range w.Mutations {
		m, err := decodeMutation(wm)
		if err != nil {
			return model.MutationBatch{}, err
		}
		b.Mutations = append(b.Mutations, m)
	}
	return b, nil
}

type wireTargetData struct {
	Target                       wireTarget    `json:"target"`
	TargetID                     int32         `json:"targetId"`
	Purpose                      int           `json:"purpose"`
	SequenceNumber               int64         `json:"sequenceNumber"`
	SnapshotVersion              wireTimestamp `json:"snapshotVersion"`
	LastLimboFreeSnapshotVersion wireTimestamp `json:"lastLimboFreeSnapshotVersion"`
	ResumeToken                  []byte        `json:"resumeToken,omitempty"`
}

func EncodeTargetData(td model.TargetData) ([]byte, error) {
	return json.Marshal(wireTargetData{
		Target:                       encodeTarget(td.Target),
		TargetID:                     int32(td.TargetID),
		Purpose:                      int(td.Purpose),
		SequenceNumber:               td.SequenceNumber,
		SnapshotVersion:              encodeVersion(td.SnapshotVersion),
		LastLimboFreeSnapshotVersion: encodeVersion(td.LastLimboFreeSnapshotVersion),
		ResumeToken:                  td.ResumeToken,
	})
}

func DecodeTargetData(data []byte) (model.TargetData, error) {
	var w wireTargetData
	if err := json.Unmarshal(data, &w); err != nil {
		return model.TargetData{}, fmt.Errorf("unmarshal target data: %w", err)
	}
	target, err := decodeTarget(w.Target)
	if err != nil {
		return model.TargetData{}, err
	}
	return model.TargetData{
		Target:                       target,
		TargetID:                     model.TargetID(w.TargetID),
		Purpose:                      model.TargetPurpose(w.Purpose),
		SequenceNumber:               w.SequenceNumber,
		SnapshotVersion:              decodeVersion(w.SnapshotVersion),
		LastLimboFreeSnapshotVersion: decodeVersion(w.LastLimboFreeSnapshotVersion),
		ResumeToken:                  w.ResumeToken,
	}, nil
}

type wireOverlay struct {
	LargestBatchID int32        `json:"largestBatchId"`
	Mutation       wireMutation `json:"mutation"`
}

func EncodeOverlay(o model.Overlay) ([]byte, error) {
	return json.Marshal(wireOverlay{
		LargestBatchID: int32(o.LargestBatchID),
		Mutation:       encodeMutation(o.Mutation),
	})
}

func DecodeOverlay(data []byte) (model.Overlay, error) {
	var w wireOverlay
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Overlay{}, fmt.Errorf("unmarshal overlay: %w", err)
	}
	m, err := decodeMutation(w.Mutation)
	if err != nil {
		return model.Overlay{}, err
	}
	return model.Overlay{LargestBatchID: model.BatchID(w.LargestBatchID), Mutation: m}, nil
}
