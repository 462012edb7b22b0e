package syntrix

import (
	"time"

	"github.com/syntrixbase/syntrix-go/internal/engine"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// SnapshotMetadata describes the freshness of a snapshot.
type SnapshotMetadata struct {
	// HasPendingWrites is true while the snapshot reflects local writes the
	// server has not acknowledged.
	HasPendingWrites bool
	// FromCache is true when the snapshot is served from the local cache
	// without server confirmation.
	FromCache bool
}

// DocumentSnapshot is one document's state at a point in time.
type DocumentSnapshot struct {
	Ref      *DocumentRef
	Metadata SnapshotMetadata

	exists     bool
	data       *model.ObjectValue
	updateTime time.Time
}

func newDocumentSnapshot(ref *DocumentRef, doc *model.Document, meta SnapshotMetadata) *DocumentSnapshot {
	s := &DocumentSnapshot{Ref: ref, Metadata: meta}
	if doc != nil && doc.IsFoundDocument() {
		s.exists = true
		s.data = doc.Data
		s.updateTime = doc.Version.Time()
	}
	return s
}

// Exists reports whether the document was present.
func (s *DocumentSnapshot) Exists() bool { return s.exists }

// UpdateTime is the server version of the document, zero for unacknowledged
// local state.
func (s *DocumentSnapshot) UpdateTime() time.Time { return s.updateTime }

// Data returns the document fields as plain Go values, or nil for a missing
// document.
func (s *DocumentSnapshot) Data() map[string]any {
	if !s.exists {
		return nil
	}
	out, _ := fromValue(s.Ref.c, s.data.Value()).(map[string]any)
	return out
}

// DataAt returns the value at a dotted field path.
func (s *DocumentSnapshot) DataAt(path string) (any, error) {
	if !s.exists {
		return nil, codes.Errorf(codes.NotFound, "document %s does not exist", s.Ref.Path())
	}
	fp, err := model.ParseFieldPath(path)
	if err != nil {
		return nil, codes.Errorf(codes.InvalidArgument, "invalid field path %q: %v", path, err)
	}
	v, ok := s.data.Field(fp)
	if !ok {
		return nil, codes.Errorf(codes.NotFound, "field %s is not present", path)
	}
	return fromValue(s.Ref.c, v), nil
}

// DocumentChangeKind classifies a change within a query snapshot.
type DocumentChangeKind int

const (
	DocumentAdded DocumentChangeKind = iota
	DocumentModified
	DocumentRemoved
)

// DocumentChange is one document-level delta between two query snapshots.
type DocumentChange struct {
	Kind DocumentChangeKind
	Doc  *DocumentSnapshot
}

// QuerySnapshot is a query's full result set plus the deltas since the
// previous snapshot delivered to the same listener.
type QuerySnapshot struct {
	Docs     []*DocumentSnapshot
	Changes  []DocumentChange
	Metadata SnapshotMetadata
	// ReadTime is when the snapshot was assembled locally.
	ReadTime time.Time
}

// Size returns the number of documents in the snapshot.
func (s *QuerySnapshot) Size() int { return len(s.Docs) }

func newQuerySnapshot(c *Client, snap *engine.ViewSnapshot) *QuerySnapshot {
	out := &QuerySnapshot{
		Metadata: SnapshotMetadata{
			HasPendingWrites: snap.HasPendingWrites(),
			FromCache:        snap.FromCache,
		},
		ReadTime: time.Now(),
	}
	for _, doc := range snap.Documents.Docs() {
		out.Docs = append(out.Docs, docSnapshotFor(c, doc, snap))
	}
	for _, ch := range snap.DocChanges {
		var kind DocumentChangeKind
		switch ch.Type {
		case engine.ChangeTypeAdded:
			kind = DocumentAdded
		case engine.ChangeTypeRemoved:
			kind = DocumentRemoved
		case engine.ChangeTypeModified, engine.ChangeTypeMetadata:
			kind = DocumentModified
		}
		out.Changes = append(out.Changes, DocumentChange{Kind: kind, Doc: docSnapshotFor(c, ch.Doc, snap)})
	}
	return out
}

func docSnapshotFor(c *Client, doc *model.Document, snap *engine.ViewSnapshot) *DocumentSnapshot {
	ref := &DocumentRef{c: c, key: doc.Key}
	return newDocumentSnapshot(ref, doc, SnapshotMetadata{
		HasPendingWrites: doc.HasLocalMutations(),
		FromCache:        snap.FromCache,
	})
}
