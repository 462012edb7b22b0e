package local

import (
	"sort"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

// MemoryPersistence keeps the whole local state in process memory. All
// access is serialized by the async queue, so no locking is needed here.
type MemoryPersistence struct {
	remoteDocs *memoryRemoteDocumentCache
	mutations  *memoryMutationQueue
	overlays   *memoryDocumentOverlayCache
	targets    *memoryTargetCache
	indexes    *memoryIndexManager
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		remoteDocs: &memoryRemoteDocumentCache{docs: map[string]memoryDocEntry{}},
		mutations:  &memoryMutationQueue{nextBatchID: 1},
		overlays:   &memoryDocumentOverlayCache{overlays: map[string]model.Overlay{}},
		targets: &memoryTargetCache{
			targets:      map[string]model.TargetData{},
			targetsByID:  map[model.TargetID]model.TargetData{},
			matchingKeys: map[model.TargetID]model.DocumentKeySet{},
			nextTargetID: 2, // odd ids are reserved for limbo targets allocated by the engine
		},
		indexes: &memoryIndexManager{
			parents: map[string]map[string]model.ResourcePath{},
			shapes:  map[string]*memoryTargetIndex{},
		},
	}
}

func (p *MemoryPersistence) RemoteDocuments() RemoteDocumentCache { return p.remoteDocs }
func (p *MemoryPersistence) Mutations() MutationQueue             { return p.mutations }
func (p *MemoryPersistence) Overlays() DocumentOverlayCache       { return p.overlays }
func (p *MemoryPersistence) Targets() TargetCache                 { return p.targets }
func (p *MemoryPersistence) Indexes() IndexManager                { return p.indexes }
func (p *MemoryPersistence) Start() error                         { return nil }
func (p *MemoryPersistence) Close() error                         { return nil }

type memoryDocEntry struct {
	doc      *model.Document
	readTime model.SnapshotVersion
}

type memoryRemoteDocumentCache struct {
	docs map[string]memoryDocEntry
}

func (c *memoryRemoteDocumentCache) Add(doc *model.Document, readTime model.SnapshotVersion) {
	c.docs[doc.Key.String()] = memoryDocEntry{doc: doc.Clone().SetReadTime(readTime), readTime: readTime}
}

func (c *memoryRemoteDocumentCache) Remove(key model.DocumentKey) {
	delete(c.docs, key.String())
}

func (c *memoryRemoteDocumentCache) Get(key model.DocumentKey) *model.Document {
	if e, ok := c.docs[key.String()]; ok {
		return e.doc.Clone()
	}
	return model.NewInvalidDocument(key)
}

func (c *memoryRemoteDocumentCache) GetAll(keys []model.DocumentKey) model.DocumentMap {
	out := model.NewDocumentMap()
	for _, k := range keys {
		out.Put(c.Get(k))
	}
	return out
}

func (c *memoryRemoteDocumentCache) GetAllFromCollection(path model.ResourcePath, sinceReadTime model.SnapshotVersion) model.DocumentMap {
	out := model.NewDocumentMap()
	for _, e := range c.docs {
		if !path.IsImmediateParentOf(e.doc.Key.Path) {
			continue
		}
		if e.readTime.Compare(sinceReadTime) <= 0 && !sinceReadTime.IsZero() {
			continue
		}
		out.Put(e.doc.Clone())
	}
	return out
}

func (c *memoryRemoteDocumentCache) GetAllFromCollectionGroup(group string, sinceReadTime model.SnapshotVersion) model.DocumentMap {
	out := model.NewDocumentMap()
	for _, e := range c.docs {
		if e.doc.Key.CollectionID() != group {
			continue
		}
		if e.readTime.Compare(sinceReadTime) <= 0 && !sinceReadTime.IsZero() {
			continue
		}
		out.Put(e.doc.Clone())
	}
	return out
}

func (c *memoryRemoteDocumentCache) Size() int { return len(c.docs) }

type memoryMutationQueue struct {
	batches     []model.MutationBatch
	nextBatchID model.BatchID
}

func (q *memoryMutationQueue) NextBatchID() model.BatchID { return q.nextBatchID }

func (q *memoryMutationQueue) AddMutationBatch(batch model.MutationBatch) {
	q.batches = append(q.batches, batch)
	if batch.BatchID >= q.nextBatchID {
		q.nextBatchID = batch.BatchID + 1
	}
}

func (q *memoryMutationQueue) LookupMutationBatch(id model.BatchID) (model.MutationBatch, bool) {
	for _, b := range q.batches {
		if b.BatchID == id {
			return b, true
		}
	}
	return model.MutationBatch{}, false
}

func (q *memoryMutationQueue) NextMutationBatchAfterBatchID(id model.BatchID) (model.MutationBatch, bool) {
	for _, b := range q.batches {
		if b.BatchID > id {
			return b, true
		}
	}
	return model.MutationBatch{}, false
}

func (q *memoryMutationQueue) AllMutationBatches() []model.MutationBatch {
	out := make([]model.MutationBatch, len(q.batches))
	copy(out, q.batches)
	return out
}

func (q *memoryMutationQueue) AllMutationBatchesAffectingDocumentKeys(keys model.DocumentKeySet) []model.MutationBatch {
	var out []model.MutationBatch
	for _, b := range q.batches {
		for _, m := range b.Mutations {
			if keys.Has(m.Key()) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func (q *memoryMutationQueue) RemoveMutationBatch(id model.BatchID) {
	for i, b := range q.batches {
		if b.BatchID == id {
			q.batches = append(q.batches[:i], q.batches[i+1:]...)
			return
		}
	}
}

func (q *memoryMutationQueue) IsEmpty() bool { return len(q.batches) == 0 }

type memoryDocumentOverlayCache struct {
	overlays map[string]model.Overlay
}

func (c *memoryDocumentOverlayCache) GetOverlay(key model.DocumentKey) (model.Overlay, bool) {
	o, ok := c.overlays[key.String()]
	return o, ok
}

func (c *memoryDocumentOverlayCache) GetOverlays(keys []model.DocumentKey) map[string]model.Overlay {
	out := map[string]model.Overlay{}
	for _, k := range keys {
		if o, ok := c.overlays[k.String()]; ok {
			out[k.String()] = o
		}
	}
	return out
}

func (c *memoryDocumentOverlayCache) SaveOverlays(largestBatchID model.BatchID, overlays map[string]model.Mutation) {
	for path, m := range overlays {
		if m == nil {
			delete(c.overlays, path)
			continue
		}
		c.overlays[path] = model.Overlay{LargestBatchID: largestBatchID, Mutation: m}
	}
}

func (c *memoryDocumentOverlayCache) RemoveOverlaysForBatchID(batchID model.BatchID) {
	for path, o := range c.overlays {
		if o.LargestBatchID == batchID {
			delete(c.overlays, path)
		}
	}
}

func (c *memoryDocumentOverlayCache) GetOverlaysForCollection(path model.ResourcePath, sinceBatchID model.BatchID) map[string]model.Overlay {
	out := map[string]model.Overlay{}
	for p, o := range c.overlays {
		if o.LargestBatchID <= sinceBatchID {
			continue
		}
		if path.IsImmediateParentOf(o.Key().Path) {
			out[p] = o
		}
	}
	return out
}

type memoryTargetCache struct {
	targets      map[string]model.TargetData
	targetsByID  map[model.TargetID]model.TargetData
	matchingKeys map[model.TargetID]model.DocumentKeySet

	nextTargetID       model.TargetID
	nextSequenceNumber int64
	lastRemoteSnapshot model.SnapshotVersion
}

func (c *memoryTargetCache) AllocateTargetID() model.TargetID {
	id := c.nextTargetID
	c.nextTargetID += 2
	return id
}

func (c *memoryTargetCache) NextSequenceNumber() int64 {
	c.nextSequenceNumber++
	return c.nextSequenceNumber
}

func (c *memoryTargetCache) AddTargetData(td model.TargetData) {
	c.targets[td.Target.CanonicalID()] = td
	c.targetsByID[td.TargetID] = td
	if td.TargetID >= c.nextTargetID {
		c.nextTargetID = td.TargetID + 2
	}
}

func (c *memoryTargetCache) UpdateTargetData(td model.TargetData) {
	c.targets[td.Target.CanonicalID()] = td
	c.targetsByID[td.TargetID] = td
}

func (c *memoryTargetCache) RemoveTargetData(td model.TargetData) {
	delete(c.targets, td.Target.CanonicalID())
	delete(c.targetsByID, td.TargetID)
	delete(c.matchingKeys, td.TargetID)
}

func (c *memoryTargetCache) GetTargetData(target model.Target) (model.TargetData, bool) {
	td, ok := c.targets[target.CanonicalID()]
	return td, ok
}

func (c *memoryTargetCache) GetTargetDataByID(id model.TargetID) (model.TargetData, bool) {
	td, ok := c.targetsByID[id]
	return td, ok
}

func (c *memoryTargetCache) SetLastRemoteSnapshotVersion(v model.SnapshotVersion) {
	c.lastRemoteSnapshot = v
}

func (c *memoryTargetCache) LastRemoteSnapshotVersion() model.SnapshotVersion {
	return c.lastRemoteSnapshot
}

func (c *memoryTargetCache) AddMatchingKeys(keys model.DocumentKeySet, id model.TargetID) {
	set, ok := c.matchingKeys[id]
	if !ok {
		set = model.NewDocumentKeySet()
		c.matchingKeys[id] = set
	}
	for _, k := range keys {
		set.Add(k)
	}
}

func (c *memoryTargetCache) RemoveMatchingKeys(keys model.DocumentKeySet, id model.TargetID) {
	if set, ok := c.matchingKeys[id]; ok {
		for _, k := range keys {
			set.Remove(k)
		}
	}
}

func (c *memoryTargetCache) RemoveMatchingKeysForTarget(id model.TargetID) {
	delete(c.matchingKeys, id)
}

func (c *memoryTargetCache) MatchingKeys(id model.TargetID) model.DocumentKeySet {
	out := model.NewDocumentKeySet()
	for _, k := range c.matchingKeys[id] {
		out.Add(k)
	}
	return out
}

func (c *memoryTargetCache) TargetCount() int { return len(c.targets) }

// memoryTargetIndex tracks, per indexed query shape, the keys of documents
// that carry every indexed field. Results are a superset of the true match
// set and are always re-verified by the query engine.
type memoryTargetIndex struct {
	collectionID string
	fields       []model.FieldPath
	keys         map[string]model.DocumentKey
}

func (idx *memoryTargetIndex) accepts(doc *model.Document) bool {
	if doc.Key.CollectionID() != idx.collectionID || !doc.IsFoundDocument() {
		return false
	}
	for _, f := range idx.fields {
		if f.IsKeyField() {
			continue
		}
		if _, ok := doc.Field(f); !ok {
			return false
		}
	}
	return true
}

type memoryIndexManager struct {
	// parents: collection id -> parent path string -> path
	parents map[string]map[string]model.ResourcePath
	shapes  map[string]*memoryTargetIndex
}

func (m *memoryIndexManager) AddToCollectionParentIndex(collectionID string, parentPath model.ResourcePath) {
	set, ok := m.parents[collectionID]
	if !ok {
		set = map[string]model.ResourcePath{}
		m.parents[collectionID] = set
	}
	set[parentPath.String()] = parentPath
}

func (m *memoryIndexManager) CollectionParents(collectionID string) []model.ResourcePath {
	set := m.parents[collectionID]
	out := make([]model.ResourcePath, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// indexShapeID reduces a target to its filter/order field shape.
func indexShapeID(target model.Target) string {
	fields := indexedFields(target)
	id := target.Path.LastSegment()
	if target.CollectionGroup != "" {
		id = target.CollectionGroup
	}
	for _, f := range fields {
		id += "|" + f.String()
	}
	return id
}

func indexedFields(target model.Target) []model.FieldPath {
	seen := map[string]bool{}
	var fields []model.FieldPath
	for _, ob := range target.OrderBy {
		if ob.Field.IsKeyField() || seen[ob.Field.String()] {
			continue
		}
		seen[ob.Field.String()] = true
		fields = append(fields, ob.Field)
	}
	return fields
}

func (m *memoryIndexManager) CreateTargetIndex(target model.Target) {
	id := indexShapeID(target)
	if _, ok := m.shapes[id]; ok {
		return
	}
	collectionID := target.Path.LastSegment()
	if target.CollectionGroup != "" {
		collectionID = target.CollectionGroup
	}
	m.shapes[id] = &memoryTargetIndex{
		collectionID: collectionID,
		fields:       indexedFields(target),
		keys:         map[string]model.DocumentKey{},
	}
}

func (m *memoryIndexManager) HasTargetIndex(target model.Target) bool {
	_, ok := m.shapes[indexShapeID(target)]
	return ok
}

func (m *memoryIndexManager) GetDocumentsMatchingTarget(target model.Target) (model.DocumentKeySet, bool) {
	idx, ok := m.shapes[indexShapeID(target)]
	if !ok {
		return nil, false
	}
	out := model.NewDocumentKeySet()
	for _, k := range idx.keys {
		out.Add(k)
	}
	return out, true
}

func (m *memoryIndexManager) UpdateIndexEntries(docs model.DocumentMap) {
	for _, idx := range m.shapes {
		for _, doc := range docs {
			if idx.accepts(doc) {
				idx.keys[doc.Key.String()] = doc.Key
			} else {
				delete(idx.keys, doc.Key.String())
			}
		}
	}
}
