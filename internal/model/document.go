package model

import "fmt"

// DocumentType describes what is known about a document's existence.
type DocumentType int

const (
	// DocumentTypeInvalid marks a placeholder with no cached knowledge.
	DocumentTypeInvalid DocumentType = iota
	// DocumentTypeFound marks a document known to exist with data.
	DocumentTypeFound
	// DocumentTypeNoDocument marks a document known not to exist.
	DocumentTypeNoDocument
	// DocumentTypeUnknown marks a document whose existence is known but whose
	// data is not cached (e.g. a patch was acked without the full document).
	DocumentTypeUnknown
)

// DocumentState describes local mutation status relative to the backend.
type DocumentState int

const (
	// DocumentStateSynced means the cached copy matches the backend.
	DocumentStateSynced DocumentState = iota
	// DocumentStateLocalMutations means unacknowledged local writes apply.
	DocumentStateLocalMutations
	// DocumentStateCommittedMutations means writes were acked but the watch
	// stream has not yet caught up.
	DocumentStateCommittedMutations
)

// Document is the mutable working representation of one document. Each
// consumer gets its own copy via Clone; instances are never shared mutably.
type Document struct {
	Key        DocumentKey
	Version    SnapshotVersion
	ReadTime   SnapshotVersion
	CreateTime SnapshotVersion
	Data       *ObjectValue

	docType  DocumentType
	docState DocumentState
}

// NewInvalidDocument creates the placeholder used before any state is known.
func NewInvalidDocument(key DocumentKey) *Document {
	return &Document{
		Key:      key,
		Data:     NewObjectValue(),
		docType:  DocumentTypeInvalid,
		docState: DocumentStateSynced,
	}
}

// NewFoundDocument creates a document known to exist with the given data.
func NewFoundDocument(key DocumentKey, version SnapshotVersion, data *ObjectValue) *Document {
	return NewInvalidDocument(key).ConvertToFoundDocument(version, data)
}

// NewNoDocument creates a tombstone for a document known to be absent.
func NewNoDocument(key DocumentKey, version SnapshotVersion) *Document {
	return NewInvalidDocument(key).ConvertToNoDocument(version)
}

// NewUnknownDocument creates a document whose contents are unknown.
func NewUnknownDocument(key DocumentKey, version SnapshotVersion) *Document {
	return NewInvalidDocument(key).ConvertToUnknownDocument(version)
}

// ConvertToFoundDocument changes the document to a found state in place.
func (d *Document) ConvertToFoundDocument(version SnapshotVersion, data *ObjectValue) *Document {
	if d.CreateTime.IsZero() {
		d.CreateTime = version
	}
	d.Version = version
	d.Data = data
	d.docType = DocumentTypeFound
	d.docState = DocumentStateSynced
	return d
}

// ConvertToNoDocument changes the document to a tombstone in place.
func (d *Document) ConvertToNoDocument(version SnapshotVersion) *Document {
	d.Version = version
	d.Data = NewObjectValue()
	d.docType = DocumentTypeNoDocument
	d.docState = DocumentStateSynced
	return d
}

// ConvertToUnknownDocument marks existence-known-but-data-unknown in place.
func (d *Document) ConvertToUnknownDocument(version SnapshotVersion) *Document {
	d.Version = version
	d.Data = NewObjectValue()
	d.docType = DocumentTypeUnknown
	d.docState = DocumentStateCommittedMutations
	return d
}

func (d *Document) SetHasLocalMutations() *Document {
	d.docState = DocumentStateLocalMutations
	return d
}

func (d *Document) SetHasCommittedMutations() *Document {
	d.docState = DocumentStateCommittedMutations
	return d
}

func (d *Document) SetReadTime(rt SnapshotVersion) *Document {
	d.ReadTime = rt
	return d
}

func (d *Document) Type() DocumentType   { return d.docType }
func (d *Document) State() DocumentState { return d.docState }

func (d *Document) IsValidDocument() bool { return d.docType != DocumentTypeInvalid }
func (d *Document) IsFoundDocument() bool { return d.docType == DocumentTypeFound }
func (d *Document) IsNoDocument() bool    { return d.docType == DocumentTypeNoDocument }
func (d *Document) IsUnknownDocument() bool {
	return d.docType == DocumentTypeUnknown
}

func (d *Document) HasLocalMutations() bool {
	return d.docState == DocumentStateLocalMutations
}

func (d *Document) HasCommittedMutations() bool {
	return d.docState == DocumentStateCommittedMutations
}

func (d *Document) HasPendingWrites() bool {
	return d.HasLocalMutations() || d.HasCommittedMutations()
}

// Field returns the value at path, honoring the key sentinel field.
func (d *Document) Field(path FieldPath) (Value, bool) {
	if path.IsKeyField() {
		return ReferenceValue(d.Key), true
	}
	return d.Data.Field(path)
}

// Clone returns an independent mutable copy.
func (d *Document) Clone() *Document {
	return &Document{
		Key:        d.Key,
		Version:    d.Version,
		ReadTime:   d.ReadTime,
		CreateTime: d.CreateTime,
		Data:       d.Data.Clone(),
		docType:    d.docType,
		docState:   d.docState,
	}
}

// Equal compares key, version, type, state, and data.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Key.Equal(other.Key) &&
		d.Version.Equal(other.Version) &&
		d.docType == other.docType &&
		d.docState == other.docState &&
		ValuesEqual(d.Data.Value(), other.Data.Value())
}

func (d *Document) String() string {
	return fmt.Sprintf("Document(%s, v=%s, type=%d, state=%d)", d.Key, d.Version, d.docType, d.docState)
}
