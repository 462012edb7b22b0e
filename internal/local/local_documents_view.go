package local

import (
	"time"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

// QueryOffset bounds an incremental scan: only documents read after ReadTime
// or mutated by batches after LargestBatchID are considered.
type QueryOffset struct {
	ReadTime       model.SnapshotVersion
	LargestBatchID model.BatchID
}

// localDocumentsView layers pending mutation overlays over the remote
// document cache to produce the locally consistent view of documents.
type localDocumentsView struct {
	remoteDocs RemoteDocumentCache
	mutations  MutationQueue
	overlays   DocumentOverlayCache
	indexes    IndexManager
}

func newLocalDocumentsView(p Persistence) *localDocumentsView {
	return &localDocumentsView{
		remoteDocs: p.RemoteDocuments(),
		mutations:  p.Mutations(),
		overlays:   p.Overlays(),
		indexes:    p.Indexes(),
	}
}

// GetDocument returns the local view of one document.
func (v *localDocumentsView) GetDocument(key model.DocumentKey) *model.Document {
	doc := v.remoteDocs.Get(key)
	if overlay, ok := v.overlays.GetOverlay(key); ok {
		model.ApplyMutationToLocalView(overlay.Mutation, doc, nil, time.Now())
	}
	return doc
}

// GetDocuments returns local views for all keys, including invalid
// placeholders for unknown documents.
func (v *localDocumentsView) GetDocuments(keys []model.DocumentKey) model.DocumentMap {
	docs := v.remoteDocs.GetAll(keys)
	return v.applyOverlays(docs)
}

func (v *localDocumentsView) applyOverlays(docs model.DocumentMap) model.DocumentMap {
	keys := make([]model.DocumentKey, 0, docs.Len())
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	overlays := v.overlays.GetOverlays(keys)
	for path, overlay := range overlays {
		if doc, ok := docs[path]; ok {
			model.ApplyMutationToLocalView(overlay.Mutation, doc, nil, time.Now())
		}
	}
	return docs
}

// RecalculateAndSaveOverlays rebuilds overlays for the given base documents
// by replaying every queued batch that touches them. docs must be fresh
// copies of the remote cache state; they are mutated into local views.
// Returns the keys whose local view now differs from the pure remote state.
func (v *localDocumentsView) RecalculateAndSaveOverlays(docs model.DocumentMap) model.DocumentKeySet {
	masks := map[string]*model.FieldMask{}
	largestBatch := map[string]model.BatchID{}
	for path := range docs {
		empty := model.NewFieldMask()
		masks[path] = &empty
	}

	batches := v.mutations.AllMutationBatchesAffectingDocumentKeys(docs.Keys())
	for _, batch := range batches {
		for _, key := range batch.Keys().SortedKeys() {
			doc, ok := docs.Get(key)
			if !ok {
				continue
			}
			masks[key.String()] = batch.ApplyToLocalView(doc, masks[key.String()])
			largestBatch[key.String()] = batch.BatchID
		}
	}

	changed := model.NewDocumentKeySet()
	// Group overlay saves by the highest contributing batch id.
	saves := map[model.BatchID]map[string]model.Mutation{}
	for path, doc := range docs {
		overlay := model.CalculateOverlayMutation(doc, masks[path])
		batchID := largestBatch[path]
		group, ok := saves[batchID]
		if !ok {
			group = map[string]model.Mutation{}
			saves[batchID] = group
		}
		group[path] = overlay // nil clears a stale overlay
		if overlay != nil {
			changed.Add(doc.Key)
		}
	}
	for batchID, group := range saves {
		v.overlays.SaveOverlays(batchID, group)
	}
	return changed
}

// GetDocumentsMatchingQuery returns the local view of every document that
// could match the query, considering only state newer than offset. Matching
// is re-verified by the caller; this returns matching documents only.
func (v *localDocumentsView) GetDocumentsMatchingQuery(query model.Query, offset QueryOffset) model.DocumentMap {
	if query.IsDocumentQuery() {
		out := model.NewDocumentMap()
		key := model.NewDocumentKey(query.Path)
		doc := v.GetDocument(key)
		if doc.IsFoundDocument() {
			out.Put(doc)
		}
		return out
	}
	if query.CollectionGroup != "" {
		return v.getDocumentsMatchingCollectionGroupQuery(query, offset)
	}
	return v.getDocumentsMatchingCollectionQuery(query, offset)
}

func (v *localDocumentsView) getDocumentsMatchingCollectionQuery(query model.Query, offset QueryOffset) model.DocumentMap {
	docs := v.remoteDocs.GetAllFromCollection(query.Path, offset.ReadTime)

	// Overlays can create documents the remote cache has never seen; pull
	// their base states in so the mutations have something to apply to.
	overlays := v.overlays.GetOverlaysForCollection(query.Path, offset.LargestBatchID)
	for path, overlay := range overlays {
		if _, ok := docs[path]; !ok {
			docs.Put(model.NewInvalidDocument(overlay.Key()))
		}
	}

	for _, doc := range docs {
		if overlay, ok := v.overlays.GetOverlay(doc.Key); ok {
			model.ApplyMutationToLocalView(overlay.Mutation, doc, nil, time.Now())
		}
		if !query.Matches(doc) {
			docs.Remove(doc.Key)
		}
	}
	return docs
}

// GetOverlayDocumentsMatchingQuery returns the local views of documents that
// currently carry an overlay under the query's collection and match the
// query. Cheap relative to a collection scan: only overlays are enumerated.
func (v *localDocumentsView) GetOverlayDocumentsMatchingQuery(query model.Query) model.DocumentMap {
	out := model.NewDocumentMap()
	for _, overlay := range v.overlays.GetOverlaysForCollection(query.Path, 0) {
		doc := v.GetDocument(overlay.Key())
		if query.Matches(doc) {
			out.Put(doc)
		}
	}
	return out
}

// RemoteCollectionDocuments returns the raw cached server documents directly
// inside path.
func (v *localDocumentsView) RemoteCollectionDocuments(path model.ResourcePath) model.DocumentMap {
	return v.remoteDocs.GetAllFromCollection(path, model.ZeroVersion())
}

func (v *localDocumentsView) getDocumentsMatchingCollectionGroupQuery(query model.Query, offset QueryOffset) model.DocumentMap {
	out := model.NewDocumentMap()
	for _, parent := range v.indexes.CollectionParents(query.CollectionGroup) {
		collectionQuery := query
		collectionQuery.Path = parent.Child(query.CollectionGroup)
		collectionQuery.CollectionGroup = ""
		for _, doc := range v.getDocumentsMatchingCollectionQuery(collectionQuery, offset) {
			out.Put(doc)
		}
	}
	return out
}
