// Package engine coordinates the local store, the remote store, and the
// event manager: it owns query views, the limbo resolution process, and
// user-visible write acknowledgments.
package engine

import (
	"github.com/syntrixbase/syntrix-go/internal/model"
)

// DocumentChangeType classifies one document's transition within a view.
type DocumentChangeType int

const (
	ChangeTypeAdded DocumentChangeType = iota
	ChangeTypeModified
	ChangeTypeRemoved
	// ChangeTypeMetadata marks a pending-writes-only transition.
	ChangeTypeMetadata
)

// DocumentViewChange is one document transition in a snapshot.
type DocumentViewChange struct {
	Type DocumentChangeType
	Doc  *model.Document
}

// SyncState tells listeners whether a view has caught up with the backend.
type SyncState int

const (
	// SyncStateLocal: results come from cache and may be incomplete.
	SyncStateLocal SyncState = iota
	// SyncStateSynced: the backend confirmed the view is current.
	SyncStateSynced
)

// ViewSnapshot is one consistent picture of a query's results.
type ViewSnapshot struct {
	Query      model.Query
	Documents  model.DocumentSet
	OldDocs    model.DocumentSet
	DocChanges []DocumentViewChange
	// FromCache is true until the view reaches the Synced state.
	FromCache bool
	// MutatedKeys holds the result documents with unacknowledged writes.
	MutatedKeys model.DocumentKeySet
	// SyncStateChanged marks the Local to Synced (or back) transition.
	SyncStateChanged bool
	// ExcludesMetadataChanges is set on snapshots rebuilt for listeners
	// that opted out of metadata-only events.
	ExcludesMetadataChanges bool
}

// HasPendingWrites reports whether any result document awaits an ack.
func (s ViewSnapshot) HasPendingWrites() bool { return s.MutatedKeys.Len() > 0 }

// NewViewSnapshotFromInitialDocuments synthesizes the first snapshot, where
// every document counts as added.
func NewViewSnapshotFromInitialDocuments(query model.Query, documents model.DocumentSet, mutatedKeys model.DocumentKeySet, fromCache bool) ViewSnapshot {
	changes := make([]DocumentViewChange, 0, documents.Len())
	for _, doc := range documents.Docs() {
		changes = append(changes, DocumentViewChange{Type: ChangeTypeAdded, Doc: doc})
	}
	return ViewSnapshot{
		Query:            query,
		Documents:        documents,
		OldDocs:          model.NewDocumentSet(query.Comparator()),
		DocChanges:       changes,
		FromCache:        fromCache,
		MutatedKeys:      mutatedKeys,
		SyncStateChanged: true,
	}
}
