package model

import "time"

// preconditionKind is the closed set of precondition variants.
type preconditionKind int

const (
	preconditionNone preconditionKind = iota
	preconditionExists
	preconditionNotExists
	preconditionUpdateTime
)

// Precondition guards a mutation's application.
type Precondition struct {
	kind       preconditionKind
	updateTime SnapshotVersion
}

func PreconditionNone() Precondition      { return Precondition{kind: preconditionNone} }
func PreconditionExists() Precondition    { return Precondition{kind: preconditionExists} }
func PreconditionNotExists() Precondition { return Precondition{kind: preconditionNotExists} }
func PreconditionUpdateTime(v SnapshotVersion) Precondition {
	return Precondition{kind: preconditionUpdateTime, updateTime: v}
}

func (p Precondition) IsNone() bool      { return p.kind == preconditionNone }
func (p Precondition) RequiresExists() (exists, ok bool) {
	switch p.kind {
	case preconditionExists:
		return true, true
	case preconditionNotExists:
		return false, true
	}
	return false, false
}

// RequiredUpdateTime returns the guarded version for update-time
// preconditions, ok=false otherwise.
func (p Precondition) RequiredUpdateTime() (SnapshotVersion, bool) {
	return p.updateTime, p.kind == preconditionUpdateTime
}

// IsValidFor checks the precondition against the document's current state.
func (p Precondition) IsValidFor(doc *Document) bool {
	switch p.kind {
	case preconditionNone:
		return true
	case preconditionExists:
		return doc.IsFoundDocument()
	case preconditionNotExists:
		return !doc.IsFoundDocument()
	case preconditionUpdateTime:
		return doc.IsFoundDocument() && doc.Version.Equal(p.updateTime)
	}
	return false
}

// Mutation is the closed set of write variants: Set, Patch, Delete, Verify.
// No other implementations exist; appliers match exhaustively.
type Mutation interface {
	Key() DocumentKey
	Precondition() Precondition
	FieldTransforms() []FieldTransform
	isMutation()
}

// SetMutation replaces the whole document with Value.
type SetMutation struct {
	DocKey     DocumentKey
	Pre        Precondition
	Value      *ObjectValue
	Transforms []FieldTransform
}

// PatchMutation updates the fields in Mask from Data, leaving others intact.
// Mask paths absent from Data are deleted.
type PatchMutation struct {
	DocKey     DocumentKey
	Pre        Precondition
	Data       *ObjectValue
	Mask       FieldMask
	Transforms []FieldTransform
}

// DeleteMutation removes the document.
type DeleteMutation struct {
	DocKey DocumentKey
	Pre    Precondition
}

// VerifyMutation asserts a precondition without writing anything.
type VerifyMutation struct {
	DocKey DocumentKey
	Pre    Precondition
}

func (m SetMutation) Key() DocumentKey    { return m.DocKey }
func (m PatchMutation) Key() DocumentKey  { return m.DocKey }
func (m DeleteMutation) Key() DocumentKey { return m.DocKey }
func (m VerifyMutation) Key() DocumentKey { return m.DocKey }

func (m SetMutation) Precondition() Precondition    { return m.Pre }
func (m PatchMutation) Precondition() Precondition  { return m.Pre }
func (m DeleteMutation) Precondition() Precondition { return m.Pre }
func (m VerifyMutation) Precondition() Precondition { return m.Pre }

func (m SetMutation) FieldTransforms() []FieldTransform    { return m.Transforms }
func (m PatchMutation) FieldTransforms() []FieldTransform  { return m.Transforms }
func (m DeleteMutation) FieldTransforms() []FieldTransform { return nil }
func (m VerifyMutation) FieldTransforms() []FieldTransform { return nil }

func (SetMutation) isMutation()    {}
func (PatchMutation) isMutation()  {}
func (DeleteMutation) isMutation() {}
func (VerifyMutation) isMutation() {}

// MutationResult is the backend's acknowledgment for one mutation.
type MutationResult struct {
	Version SnapshotVersion
	// TransformResults are the server-resolved transform values, aligned with
	// the mutation's FieldTransforms.
	TransformResults []Value
}

// ApplyMutationToLocalView mutates doc to reflect the unacknowledged
// mutation. previousMask accumulates patched fields across a batch so the
// overlay can later be reduced to a single patch; the updated mask is
// returned (nil means "whole document", i.e. a set or delete overlay).
// A failed precondition leaves the document untouched.
func ApplyMutationToLocalView(m Mutation, doc *Document, previousMask *FieldMask, localWriteTime time.Time) *FieldMask {
	switch mut := m.(type) {
	case SetMutation:
		if !mut.Pre.IsValidFor(doc) {
			return previousMask
		}
		data := mut.Value.Clone()
		applyLocalTransforms(data, mut.Transforms, localWriteTime)
		doc.ConvertToFoundDocument(doc.Version, data).SetHasLocalMutations()
		return nil
	case PatchMutation:
		if !mut.Pre.IsValidFor(doc) {
			return previousMask
		}
		data := patchBaseData(doc)
		patched := applyPatch(data, mut.Data, mut.Mask)
		applyLocalTransforms(data, mut.Transforms, localWriteTime)
		doc.ConvertToFoundDocument(doc.Version, data).SetHasLocalMutations()
		if previousMask == nil {
			// An earlier set or delete already covers the whole document.
			return nil
		}
		return mergeMasks(previousMask, patched, mut.Transforms)
	case DeleteMutation:
		if !mut.Pre.IsValidFor(doc) {
			return previousMask
		}
		doc.ConvertToNoDocument(doc.Version).SetHasLocalMutations()
		return nil
	case VerifyMutation:
		return previousMask
	}
	return previousMask
}

// ApplyMutationToRemoteDocument folds an acknowledged mutation into the
// cached document. A failed precondition converts the document to unknown,
// since the server state can no longer be derived locally.
func ApplyMutationToRemoteDocument(m Mutation, doc *Document, result MutationResult) {
	switch mut := m.(type) {
	case SetMutation:
		data := mut.Value.Clone()
		applyRemoteTransforms(data, mut.Transforms, result)
		doc.ConvertToFoundDocument(result.Version, data).SetHasCommittedMutations()
	case PatchMutation:
		if !mut.Pre.IsValidFor(doc) {
			doc.ConvertToUnknownDocument(result.Version)
			return
		}
		data := patchBaseData(doc)
		applyPatch(data, mut.Data, mut.Mask)
		applyRemoteTransforms(data, mut.Transforms, result)
		doc.ConvertToFoundDocument(result.Version, data).SetHasCommittedMutations()
	case DeleteMutation:
		doc.ConvertToNoDocument(result.Version).SetHasCommittedMutations()
	case VerifyMutation:
		// Verify has no effect on the cache.
	}
}

// ExtractMutationBaseValue captures the pre-transform values the mutation's
// non-idempotent transforms depend on. Returns nil when no base is needed.
func ExtractMutationBaseValue(m Mutation, doc *Document) *ObjectValue {
	var base *ObjectValue
	for _, ft := range m.FieldTransforms() {
		if !transformRequiresBase(ft.Op) {
			continue
		}
		prev, ok := doc.Data.Field(ft.Field)
		if base == nil {
			base = NewObjectValue()
		}
		base.Set(ft.Field, computeTransformBase(ft.Op, prev, ok))
	}
	return base
}

// CalculateOverlayMutation reduces a locally mutated document plus its
// accumulated field mask to a single overlay mutation. Returns nil when the
// document carries no local changes.
func CalculateOverlayMutation(doc *Document, mask *FieldMask) Mutation {
	if !doc.HasLocalMutations() {
		return nil
	}
	if mask == nil {
		if doc.IsNoDocument() {
			return DeleteMutation{DocKey: doc.Key, Pre: PreconditionNone()}
		}
		return SetMutation{DocKey: doc.Key, Pre: PreconditionNone(), Value: doc.Data.Clone()}
	}
	data := NewObjectValue()
	var paths []FieldPath
	seen := map[string]bool{}
	for _, p := range mask.Paths() {
		if seen[p.String()] {
			continue
		}
		seen[p.String()] = true
		if v, ok := doc.Data.Field(p); ok {
			data.Set(p, v.Clone())
		}
		paths = append(paths, p)
	}
	return PatchMutation{DocKey: doc.Key, Pre: PreconditionNone(), Data: data, Mask: NewFieldMask(paths...)}
}

// patchBaseData returns the data tree patches apply over: the current data
// for found documents, an empty tree otherwise.
func patchBaseData(doc *Document) *ObjectValue {
	if doc.IsFoundDocument() {
		return doc.Data.Clone()
	}
	return NewObjectValue()
}

// applyPatch writes the masked fields of src into dst; masked fields missing
// from src are deleted. Returns the mask paths applied.
func applyPatch(dst, src *ObjectValue, mask FieldMask) []FieldPath {
	for _, p := range mask.Paths() {
		if v, ok := src.Field(p); ok {
			dst.Set(p, v.Clone())
		} else {
			dst.Delete(p)
		}
	}
	return mask.Paths()
}

func applyLocalTransforms(data *ObjectValue, transforms []FieldTransform, localWriteTime time.Time) {
	for _, ft := range transforms {
		prev, ok := data.Field(ft.Field)
		data.Set(ft.Field, applyTransformLocal(ft.Op, prev, ok, localWriteTime))
	}
}

func applyRemoteTransforms(data *ObjectValue, transforms []FieldTransform, result MutationResult) {
	for i, ft := range transforms {
		if i >= len(result.TransformResults) {
			break
		}
		prev, ok := data.Field(ft.Field)
		data.Set(ft.Field, applyTransformRemote(ft.Op, prev, ok, result.TransformResults[i]))
	}
}

func mergeMasks(previous *FieldMask, patched []FieldPath, transforms []FieldTransform) *FieldMask {
	var paths []FieldPath
	if previous != nil {
		paths = append(paths, previous.Paths()...)
	}
	paths = append(paths, patched...)
	for _, ft := range transforms {
		paths = append(paths, ft.Field)
	}
	m := NewFieldMask(paths...)
	return &m
}
