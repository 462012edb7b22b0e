// Package local owns the on-device source of truth: the remote document
// cache, mutation queue, overlay cache, and target metadata, plus the query
// engine that answers queries from them.
package local

import (
	"github.com/syntrixbase/syntrix-go/internal/model"
)

// RemoteDocumentCache stores the latest server-confirmed document states.
type RemoteDocumentCache interface {
	// Add stores doc (cloned) keyed by its document key, recording readTime.
	Add(doc *model.Document, readTime model.SnapshotVersion)
	// Remove deletes the cache entry for key.
	Remove(key model.DocumentKey)
	// Get returns a mutable copy of the cached entry, or an invalid document
	// placeholder when nothing is cached.
	Get(key model.DocumentKey) *model.Document
	// GetAll returns mutable copies for every requested key, including
	// invalid placeholders for missing entries.
	GetAll(keys []model.DocumentKey) model.DocumentMap
	// GetAllFromCollection returns every document directly inside the
	// collection path read after sinceReadTime.
	GetAllFromCollection(path model.ResourcePath, sinceReadTime model.SnapshotVersion) model.DocumentMap
	// GetAllFromCollectionGroup returns every document in any collection
	// named group, read after sinceReadTime.
	GetAllFromCollectionGroup(group string, sinceReadTime model.SnapshotVersion) model.DocumentMap
	// Size returns the number of cached entries.
	Size() int
}

// MutationQueue stores unacknowledged mutation batches in batch-id order.
type MutationQueue interface {
	// NextBatchID returns the id the next batch will be assigned.
	NextBatchID() model.BatchID
	// AddMutationBatch appends a batch; its id must exceed all existing ids.
	AddMutationBatch(batch model.MutationBatch)
	// LookupMutationBatch finds a batch by id.
	LookupMutationBatch(id model.BatchID) (model.MutationBatch, bool)
	// NextMutationBatchAfterBatchID returns the first batch with an id
	// greater than id.
	NextMutationBatchAfterBatchID(id model.BatchID) (model.MutationBatch, bool)
	// AllMutationBatches returns every queued batch in order.
	AllMutationBatches() []model.MutationBatch
	// AllMutationBatchesAffectingDocumentKeys returns, in order, the batches
	// writing any of the keys.
	AllMutationBatchesAffectingDocumentKeys(keys model.DocumentKeySet) []model.MutationBatch
	// RemoveMutationBatch removes the batch with the given id.
	RemoveMutationBatch(id model.BatchID)
	// IsEmpty reports whether no batches are queued.
	IsEmpty() bool
}

// DocumentOverlayCache stores the precomputed net mutation per document.
type DocumentOverlayCache interface {
	// GetOverlay returns the overlay for key, if any.
	GetOverlay(key model.DocumentKey) (model.Overlay, bool)
	// GetOverlays returns the overlays for all keys that have one.
	GetOverlays(keys []model.DocumentKey) map[string]model.Overlay
	// SaveOverlays stores one overlay mutation per document, all attributed
	// to largestBatchID. A nil mutation removes the document's overlay.
	SaveOverlays(largestBatchID model.BatchID, overlays map[string]model.Mutation)
	// RemoveOverlaysForBatchID removes every overlay attributed to batchID.
	RemoveOverlaysForBatchID(batchID model.BatchID)
	// GetOverlaysForCollection returns overlays for documents directly in the
	// collection whose largest batch id exceeds sinceBatchID.
	GetOverlaysForCollection(path model.ResourcePath, sinceBatchID model.BatchID) map[string]model.Overlay
}

// TargetCache stores allocated target metadata so target ids survive restart.
type TargetCache interface {
	// AllocateTargetID returns the next unused target id.
	AllocateTargetID() model.TargetID
	// NextSequenceNumber returns a monotonically increasing LRU sequence.
	NextSequenceNumber() int64
	// AddTargetData stores metadata for a newly allocated target.
	AddTargetData(td model.TargetData)
	// UpdateTargetData replaces stored metadata for an existing target.
	UpdateTargetData(td model.TargetData)
	// RemoveTargetData deletes the target and its matching-key index.
	RemoveTargetData(td model.TargetData)
	// GetTargetData finds persisted metadata for a target definition.
	GetTargetData(target model.Target) (model.TargetData, bool)
	// GetTargetDataByID finds persisted metadata by numeric id.
	GetTargetDataByID(id model.TargetID) (model.TargetData, bool)
	// SetLastRemoteSnapshotVersion records the global high-water mark.
	SetLastRemoteSnapshotVersion(v model.SnapshotVersion)
	// LastRemoteSnapshotVersion returns the global high-water mark.
	LastRemoteSnapshotVersion() model.SnapshotVersion
	// AddMatchingKeys adds keys to the target's current result membership.
	AddMatchingKeys(keys model.DocumentKeySet, id model.TargetID)
	// RemoveMatchingKeys removes keys from the target's membership.
	RemoveMatchingKeys(keys model.DocumentKeySet, id model.TargetID)
	// RemoveMatchingKeysForTarget clears the target's membership.
	RemoveMatchingKeysForTarget(id model.TargetID)
	// MatchingKeys returns the target's current membership.
	MatchingKeys(id model.TargetID) model.DocumentKeySet
	// TargetCount returns the number of stored targets.
	TargetCount() int
}

// IndexManager maintains the collection-parent index required for
// collection-group queries, plus advisory per-target field indexes.
type IndexManager interface {
	// AddToCollectionParentIndex records that parentPath contains a
	// collection named collectionID.
	AddToCollectionParentIndex(collectionID string, parentPath model.ResourcePath)
	// CollectionParents lists every known parent path for collectionID.
	CollectionParents(collectionID string) []model.ResourcePath
	// CreateTargetIndex builds an advisory index for the target's shape.
	CreateTargetIndex(target model.Target)
	// HasTargetIndex reports whether an index covers the target's shape.
	HasTargetIndex(target model.Target) bool
	// GetDocumentsMatchingTarget returns candidate keys from the index. The
	// result is a superset; callers always re-verify against the query. The
	// second result is false when no usable index exists.
	GetDocumentsMatchingTarget(target model.Target) (model.DocumentKeySet, bool)
	// UpdateIndexEntries maintains index membership for changed documents.
	UpdateIndexEntries(docs model.DocumentMap)
}

// Persistence aggregates the individual stores. The in-memory implementation
// keeps everything in plain process state; the bbolt implementation persists
// the same layout on disk.
type Persistence interface {
	RemoteDocuments() RemoteDocumentCache
	Mutations() MutationQueue
	Overlays() DocumentOverlayCache
	Targets() TargetCache
	Indexes() IndexManager
	// Start prepares the backend for use.
	Start() error
	// Close releases backend resources.
	Close() error
}
