// Package boltdb persists the client cache in a single bbolt file. All
// reads are served from an in-memory mirror loaded at Start; writes go to
// the mirror first and are flushed through to the database.
package boltdb

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"go.etcd.io/bbolt"

	"github.com/syntrixbase/syntrix-go/internal/local"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
)

var (
	bucketRemoteDocuments = []byte("remote_documents")
	bucketMutationBatches = []byte("mutation_batches")
	bucketOverlays        = []byte("overlays")
	bucketTargets         = []byte("targets")
	bucketTargetDocuments = []byte("target_documents")
	bucketCollectionRoots = []byte("collection_parents")
	bucketIndexShapes     = []byte("index_shapes")
	bucketMetadata        = []byte("metadata")
)

var allBuckets = [][]byte{
	bucketRemoteDocuments,
	bucketMutationBatches,
	bucketOverlays,
	bucketTargets,
	bucketTargetDocuments,
	bucketCollectionRoots,
	bucketIndexShapes,
	bucketMetadata,
}

var (
	metaNextBatchID        = []byte("next_batch_id")
	metaNextTargetID       = []byte("next_target_id")
	metaNextSequenceNumber = []byte("next_sequence_number")
	metaLastRemoteSnapshot = []byte("last_remote_snapshot")
)

// Persistence is the durable implementation of local.Persistence.
type Persistence struct {
	db     *bbolt.DB
	mem    *local.MemoryPersistence
	logger *slog.Logger

	remoteDocs *remoteDocumentCache
	mutations  *mutationQueue
	overlays   *overlayCache
	targets    *targetCache
	indexes    *indexManager
}

// Open creates or opens the database file at path.
func Open(path string, logger *slog.Logger) (*Persistence, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	mem := local.NewMemoryPersistence()
	p := &Persistence{db: db, mem: mem, logger: logger}
	p.remoteDocs = &remoteDocumentCache{RemoteDocumentCache: mem.RemoteDocuments(), p: p}
	p.mutations = &mutationQueue{MutationQueue: mem.Mutations(), p: p, nextBatchID: 1}
	p.overlays = &overlayCache{DocumentOverlayCache: mem.Overlays(), p: p}
	p.targets = &targetCache{TargetCache: mem.Targets(), p: p, nextTargetID: 2}
	p.indexes = &indexManager{IndexManager: mem.Indexes(), p: p}
	return p, nil
}

func (p *Persistence) RemoteDocuments() local.RemoteDocumentCache { return p.remoteDocs }
func (p *Persistence) Mutations() local.MutationQueue             { return p.mutations }
func (p *Persistence) Overlays() local.DocumentOverlayCache       { return p.overlays }
func (p *Persistence) Targets() local.TargetCache                 { return p.targets }
func (p *Persistence) Indexes() local.IndexManager                { return p.indexes }

// Start loads the whole database into the in-memory mirror.
func (p *Persistence) Start() error {
	return p.db.View(func(tx *bbolt.Tx) error {
		if err := p.loadRemoteDocuments(tx); err != nil {
			return err
		}
		if err := p.loadMutationBatches(tx); err != nil {
			return err
		}
		if err := p.loadOverlays(tx); err != nil {
			return err
		}
		if err := p.loadTargets(tx); err != nil {
			return err
		}
		if err := p.loadIndexes(tx); err != nil {
			return err
		}
		return p.loadMetadata(tx)
	})
}

func (p *Persistence) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Persistence) loadRemoteDocuments(tx *bbolt.Tx) error {
	return tx.Bucket(bucketRemoteDocuments).ForEach(func(k, v []byte) error {
		doc, err := remote.DecodeDocument(v)
		if err != nil {
			return fmt.Errorf("remote document %s: %w", k, err)
		}
		p.mem.RemoteDocuments().Add(doc, doc.ReadTime)
		return nil
	})
}

func (p *Persistence) loadMutationBatches(tx *bbolt.Tx) error {
	return tx.Bucket(bucketMutationBatches).ForEach(func(k, v []byte) error {
		batch, err := remote.DecodeMutationBatch(v)
		if err != nil {
			return fmt.Errorf("mutation batch %s: %w", k, err)
		}
		p.mem.Mutations().AddMutationBatch(batch)
		return nil
	})
}

func (p *Persistence) loadOverlays(tx *bbolt.Tx) error {
	return tx.Bucket(bucketOverlays).ForEach(func(k, v []byte) error {
		overlay, err := remote.DecodeOverlay(v)
		if err != nil {
			return fmt.Errorf("overlay %s: %w", k, err)
		}
		p.mem.Overlays().SaveOverlays(overlay.LargestBatchID,
			map[string]model.Mutation{string(k): overlay.Mutation})
		return nil
	})
}

func (p *Persistence) loadTargets(tx *bbolt.Tx) error {
	if err := tx.Bucket(bucketTargets).ForEach(func(k, v []byte) error {
		td, err := remote.DecodeTargetData(v)
		if err != nil {
			return fmt.Errorf("target %s: %w", k, err)
		}
		p.mem.Targets().AddTargetData(td)
		return nil
	}); err != nil {
		return err
	}
	return tx.Bucket(bucketTargetDocuments).ForEach(func(k, v []byte) error {
		targetID, path, err := splitTargetDocumentKey(k)
		if err != nil {
			return err
		}
		key, err := model.ParseDocumentKey(path)
		if err != nil {
			return fmt.Errorf("target document %s: %w", k, err)
		}
		p.mem.Targets().AddMatchingKeys(model.NewDocumentKeySet(key), targetID)
		return nil
	})
}

func (p *Persistence) loadIndexes(tx *bbolt.Tx) error {
	if err := tx.Bucket(bucketCollectionRoots).ForEach(func(k, v []byte) error {
		parent, err := model.ParseResourcePath(string(v))
		if err != nil {
			return fmt.Errorf("collection parent %s: %w", k, err)
		}
		collectionID, _, err := splitCompositeKey(k)
		if err != nil {
			return err
		}
		p.mem.Indexes().AddToCollectionParentIndex(collectionID, parent)
		return nil
	}); err != nil {
		return err
	}
	if err := tx.Bucket(bucketIndexShapes).ForEach(func(k, v []byte) error {
		td, err := remote.DecodeTargetData(v)
		if err != nil {
			return fmt.Errorf("index shape %s: %w", k, err)
		}
		p.mem.Indexes().CreateTargetIndex(td.Target)
		return nil
	}); err != nil {
		return err
	}
	// Index entries are not persisted; backfill from the document cache.
	var docs []model.DocumentKey
	if err := tx.Bucket(bucketRemoteDocuments).ForEach(func(k, v []byte) error {
		key, err := model.ParseDocumentKey(string(k))
		if err != nil {
			return err
		}
		docs = append(docs, key)
		return nil
	}); err != nil {
		return err
	}
	p.mem.Indexes().UpdateIndexEntries(p.mem.RemoteDocuments().GetAll(docs))
	return nil
}

func (p *Persistence) loadMetadata(tx *bbolt.Tx) error {
	meta := tx.Bucket(bucketMetadata)
	if v := meta.Get(metaNextBatchID); len(v) == 8 {
		p.mutations.nextBatchID = model.BatchID(binary.BigEndian.Uint64(v))
	}
	if v := meta.Get(metaNextTargetID); len(v) == 8 {
		p.targets.nextTargetID = model.TargetID(binary.BigEndian.Uint64(v))
	}
	if v := meta.Get(metaNextSequenceNumber); len(v) == 8 {
		p.targets.nextSequenceNumber = int64(binary.BigEndian.Uint64(v))
	}
	if v := meta.Get(metaLastRemoteSnapshot); len(v) == 12 {
		p.mem.Targets().SetLastRemoteSnapshotVersion(model.SnapshotVersion{
			Seconds: int64(binary.BigEndian.Uint64(v[:8])),
			Nanos:   int32(binary.BigEndian.Uint32(v[8:])),
		})
	}
	return nil
}

// update runs a write transaction and logs instead of returning the error:
// the cache interfaces are infallible by design, and the in-memory mirror
// stays authoritative for this process even when a flush fails.
func (p *Persistence) update(op string, fn func(tx *bbolt.Tx) error) {
	if err := p.db.Update(fn); err != nil {
		p.logger.Error("persistence write failed", "op", op, "error", err)
	}
}

func putMetaUint64(tx *bbolt.Tx, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return tx.Bucket(bucketMetadata).Put(key, buf[:])
}

func batchKey(id model.BatchID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func targetKey(id model.TargetID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func targetDocumentKey(id model.TargetID, key model.DocumentKey) []byte {
	return append(targetKey(id), append([]byte{0}, key.String()...)...)
}

func splitTargetDocumentKey(k []byte) (model.TargetID, string, error) {
	if len(k) < 9 || k[8] != 0 {
		return 0, "", fmt.Errorf("malformed target document key %q", k)
	}
	return model.TargetID(binary.BigEndian.Uint64(k[:8])), string(k[9:]), nil
}

func compositeKey(a, b string) []byte {
	return append(append([]byte(a), 0), b...)
}

func splitCompositeKey(k []byte) (string, string, error) {
	for i, c := range k {
		if c == 0 {
			return string(k[:i]), string(k[i+1:]), nil
		}
	}
	return "", "", fmt.Errorf("malformed composite key %q", k)
}

type remoteDocumentCache struct {
	local.RemoteDocumentCache
	p *Persistence
}

func (c *remoteDocumentCache) Add(doc *model.Document, readTime model.SnapshotVersion) {
	c.RemoteDocumentCache.Add(doc, readTime)
	stored := doc.Clone().SetReadTime(readTime)
	data, err := remote.EncodeDocument(stored)
	if err != nil {
		c.p.logger.Error("encode document failed", "key", doc.Key.String(), "error", err)
		return
	}
	c.p.update("add document", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRemoteDocuments).Put([]byte(doc.Key.String()), data)
	})
}

func (c *remoteDocumentCache) Remove(key model.DocumentKey) {
	c.RemoteDocumentCache.Remove(key)
	c.p.update("remove document", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRemoteDocuments).Delete([]byte(key.String()))
	})
}

type mutationQueue struct {
	local.MutationQueue
	p           *Persistence
	nextBatchID model.BatchID
}

func (q *mutationQueue) NextBatchID() model.BatchID { return q.nextBatchID }

func (q *mutationQueue) AddMutationBatch(batch model.MutationBatch) {
	q.MutationQueue.AddMutationBatch(batch)
	if batch.BatchID >= q.nextBatchID {
		q.nextBatchID = batch.BatchID + 1
	}
	data, err := remote.EncodeMutationBatch(batch)
	if err != nil {
		q.p.logger.Error("encode batch failed", "batch_id", batch.BatchID, "error", err)
		return
	}
	q.p.update("add batch", func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketMutationBatches).Put(batchKey(batch.BatchID), data); err != nil {
			return err
		}
		return putMetaUint64(tx, metaNextBatchID, uint64(q.nextBatchID))
	})
}

func (q *mutationQueue) RemoveMutationBatch(id model.BatchID) {
	q.MutationQueue.RemoveMutationBatch(id)
	q.p.update("remove batch", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMutationBatches).Delete(batchKey(id))
	})
}

type overlayCache struct {
	local.DocumentOverlayCache
	p *Persistence
}

func (c *overlayCache) SaveOverlays(largestBatchID model.BatchID, overlays map[string]model.Mutation) {
	c.DocumentOverlayCache.SaveOverlays(largestBatchID, overlays)
	c.p.update("save overlays", func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOverlays)
		for path, m := range overlays {
			if m == nil {
				if err := bucket.Delete([]byte(path)); err != nil {
					return err
				}
				continue
			}
			data, err := remote.EncodeOverlay(model.Overlay{LargestBatchID: largestBatchID, Mutation: m})
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(path), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *overlayCache) RemoveOverlaysForBatchID(batchID model.BatchID) {
	c.DocumentOverlayCache.RemoveOverlaysForBatchID(batchID)
	c.p.update("remove overlays", func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOverlays)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			o, err := remote.DecodeOverlay(v)
			if err != nil {
				return err
			}
			if o.LargestBatchID == batchID {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

type targetCache struct {
	local.TargetCache
	p                  *Persistence
	nextTargetID       model.TargetID
	nextSequenceNumber int64
}

func (c *targetCache) AllocateTargetID() model.TargetID {
	id := c.nextTargetID
	c.nextTargetID += 2
	c.p.update("allocate target id", func(tx *bbolt.Tx) error {
		return putMetaUint64(tx, metaNextTargetID, uint64(c.nextTargetID))
	})
	return id
}

func (c *targetCache) NextSequenceNumber() int64 {
	c.nextSequenceNumber++
	c.p.update("next sequence number", func(tx *bbolt.Tx) error {
		return putMetaUint64(tx, metaNextSequenceNumber, uint64(c.nextSequenceNumber))
	})
	return c.nextSequenceNumber
}

func (c *targetCache) putTargetData(op string, td model.TargetData) {
	data, err := remote.EncodeTargetData(td)
	if err != nil {
		c.p.logger.Error("encode target failed", "target_id", td.TargetID, "error", err)
		return
	}
	c.p.update(op, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTargets).Put(targetKey(td.TargetID), data)
	})
}

func (c *targetCache) AddTargetData(td model.TargetData) {
	c.TargetCache.AddTargetData(td)
	if td.TargetID >= c.nextTargetID {
		c.nextTargetID = td.TargetID + 2
	}
	c.putTargetData("add target", td)
}

func (c *targetCache) UpdateTargetData(td model.TargetData) {
	c.TargetCache.UpdateTargetData(td)
	c.putTargetData("update target", td)
}

func (c *targetCache) RemoveTargetData(td model.TargetData) {
	c.TargetCache.RemoveTargetData(td)
	c.p.update("remove target", func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketTargets).Delete(targetKey(td.TargetID)); err != nil {
			return err
		}
		return deleteTargetDocuments(tx, td.TargetID)
	})
}

func (c *targetCache) SetLastRemoteSnapshotVersion(v model.SnapshotVersion) {
	c.TargetCache.SetLastRemoteSnapshotVersion(v)
	c.p.update("set last remote snapshot", func(tx *bbolt.Tx) error {
		var buf [12]byte
		binary.BigEndian.PutUint64(buf[:8], uint64(v.Seconds))
		binary.BigEndian.PutUint32(buf[8:], uint32(v.Nanos))
		return tx.Bucket(bucketMetadata).Put(metaLastRemoteSnapshot, buf[:])
	})
}

func (c *targetCache) AddMatchingKeys(keys model.DocumentKeySet, id model.TargetID) {
	c.TargetCache.AddMatchingKeys(keys, id)
	c.p.update("add matching keys", func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTargetDocuments)
		for _, k := range keys {
			if err := bucket.Put(targetDocumentKey(id, k), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *targetCache) RemoveMatchingKeys(keys model.DocumentKeySet, id model.TargetID) {
	c.TargetCache.RemoveMatchingKeys(keys, id)
	c.p.update("remove matching keys", func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTargetDocuments)
		for _, k := range keys {
			if err := bucket.Delete(targetDocumentKey(id, k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *targetCache) RemoveMatchingKeysForTarget(id model.TargetID) {
	c.TargetCache.RemoveMatchingKeysForTarget(id)
	c.p.update("remove matching keys for target", func(tx *bbolt.Tx) error {
		return deleteTargetDocuments(tx, id)
	})
}

func deleteTargetDocuments(tx *bbolt.Tx, id model.TargetID) error {
	bucket := tx.Bucket(bucketTargetDocuments)
	cursor := bucket.Cursor()
	prefix := targetKey(id)
	var stale [][]byte
	for k, _ := cursor.Seek(prefix); k != nil && len(k) >= 8 && string(k[:8]) == string(prefix); k, _ = cursor.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

type indexManager struct {
	local.IndexManager
	p *Persistence
}

func (m *indexManager) AddToCollectionParentIndex(collectionID string, parentPath model.ResourcePath) {
	m.IndexManager.AddToCollectionParentIndex(collectionID, parentPath)
	m.p.update("add collection parent", func(tx *bbolt.Tx) error {
		key := compositeKey(collectionID, parentPath.String())
		return tx.Bucket(bucketCollectionRoots).Put(key, []byte(parentPath.String()))
	})
}

func (m *indexManager) CreateTargetIndex(target model.Target) {
	m.IndexManager.CreateTargetIndex(target)
	// Reuse the target data codec; only the target shape matters here.
	data, err := remote.EncodeTargetData(model.TargetData{Target: target})
	if err != nil {
		m.p.logger.Error("encode index shape failed", "error", err)
		return
	}
	m.p.update("create target index", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIndexShapes).Put([]byte(target.CanonicalID()), data)
	})
}
