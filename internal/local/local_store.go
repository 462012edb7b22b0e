package local

import (
	"log/slog"
	"time"

	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// LocalWriteResult reports a locally applied write batch.
type LocalWriteResult struct {
	BatchID model.BatchID
	// Changes holds the post-write local view of every affected document.
	Changes model.DocumentMap
}

// QueryResult pairs query results with the target's server-confirmed keys.
type QueryResult struct {
	Documents  model.DocumentMap
	RemoteKeys model.DocumentKeySet
}

// LocalStore is the sole owner of on-device state. All methods must run on
// the async queue.
type LocalStore struct {
	persistence Persistence
	view        *localDocumentsView
	engine      *QueryEngine
	logger      *slog.Logger

	// targetsByID mirrors allocated targets for fast lookup per watch event.
	targetsByID map[model.TargetID]model.TargetData
}

func NewLocalStore(p Persistence, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	view := newLocalDocumentsView(p)
	return &LocalStore{
		persistence: p,
		view:        view,
		engine:      newQueryEngine(view, p.Indexes(), logger),
		logger:      logger,
		targetsByID: map[model.TargetID]model.TargetData{},
	}
}

// Start loads persisted target metadata into the in-memory mirror.
func (s *LocalStore) Start() error {
	return s.persistence.Start()
}

func (s *LocalStore) Close() error {
	return s.persistence.Close()
}

// LocalWrite assigns the next batch id, captures base mutations, persists
// the batch, and recomputes overlays for the affected keys. Preconditions
// that provably fail against the local view reject immediately, before
// anything is queued.
func (s *LocalStore) LocalWrite(mutations []model.Mutation) (LocalWriteResult, error) {
	keySet := model.NewDocumentKeySet()
	for _, m := range mutations {
		keySet.Add(m.Key())
	}
	keys := keySet.SortedKeys()
	existing := s.view.GetDocuments(keys)

	// Check preconditions that are decidable locally.
	for _, m := range mutations {
		doc, _ := existing.Get(m.Key())
		if doc != nil && doc.IsValidDocument() && !m.Precondition().IsValidFor(doc) {
			return LocalWriteResult{}, codes.Errorf(codes.FailedPrecondition,
				"precondition failed for %s", m.Key())
		}
	}

	// Base mutations capture pre-transform values for idempotent replay.
	var baseMutations []model.Mutation
	for _, m := range mutations {
		doc, _ := existing.Get(m.Key())
		if doc == nil {
			doc = model.NewInvalidDocument(m.Key())
		}
		if base := model.ExtractMutationBaseValue(m, doc); base != nil {
			var paths []model.FieldPath
			for _, ft := range m.FieldTransforms() {
				paths = append(paths, ft.Field)
			}
			baseMutations = append(baseMutations, model.PatchMutation{
				DocKey: m.Key(),
				Pre:    PreconditionExistsFor(doc),
				Data:   base,
				Mask:   model.NewFieldMask(paths...),
			})
		}
	}

	batch := model.MutationBatch{
		BatchID:        s.persistence.Mutations().NextBatchID(),
		LocalWriteTime: time.Now(),
		BaseMutations:  baseMutations,
		Mutations:      mutations,
	}
	s.persistence.Mutations().AddMutationBatch(batch)
	s.indexNewDocumentParents(keys)

	// Overlays are recomputed from scratch: remote cache plus queue is the
	// only source of truth, the overlay cache merely caches the result.
	s.recalculateOverlays(keys)

	return LocalWriteResult{BatchID: batch.BatchID, Changes: s.view.GetDocuments(keys)}, nil
}

// PreconditionExistsFor guards a base mutation so it only replays against
// the same document existence state it was derived from.
func PreconditionExistsFor(doc *model.Document) model.Precondition {
	if doc.IsFoundDocument() {
		return model.PreconditionExists()
	}
	return model.PreconditionNone()
}

// AcknowledgeBatch folds an acknowledged batch's effect directly into the
// remote document cache, bypassing the "pending" state, then removes the
// batch and rebuilds overlays for the remaining queue.
func (s *LocalStore) AcknowledgeBatch(result model.MutationBatchResult) model.DocumentMap {
	batch := result.Batch
	keys := batch.Keys().SortedKeys()
	docs := s.persistence.RemoteDocuments()
	for _, key := range keys {
		doc := docs.Get(key)
		before := doc.Version
		batch.ApplyToRemoteDocument(doc, result)
		if doc.IsValidDocument() && doc.Version.Compare(before) >= 0 {
			docs.Add(doc, result.CommitVersion)
		}
	}

	s.persistence.Mutations().RemoveMutationBatch(batch.BatchID)
	s.recalculateOverlays(keys)
	changed := s.view.GetDocuments(keys)
	s.persistence.Indexes().UpdateIndexEntries(changed)
	return changed
}

// RejectBatch removes a rejected batch without folding in its effect and
// rebuilds overlays, rolling the local optimistic state back.
func (s *LocalStore) RejectBatch(batchID model.BatchID) model.DocumentMap {
	batch, ok := s.persistence.Mutations().LookupMutationBatch(batchID)
	if !ok {
		s.logger.Warn("reject for unknown batch", "batch_id", batchID)
		return model.NewDocumentMap()
	}
	keys := batch.Keys().SortedKeys()
	s.persistence.Mutations().RemoveMutationBatch(batchID)
	s.recalculateOverlays(keys)
	return s.view.GetDocuments(keys)
}

// NextMutationBatch returns the first queued batch after afterBatchID for
// the write pipeline. afterBatchID -1 yields the first batch.
func (s *LocalStore) NextMutationBatch(afterBatchID model.BatchID) (model.MutationBatch, bool) {
	return s.persistence.Mutations().NextMutationBatchAfterBatchID(afterBatchID)
}

// HasQueuedMutations reports whether unacknowledged writes remain.
func (s *LocalStore) HasQueuedMutations() bool {
	return !s.persistence.Mutations().IsEmpty()
}

// ApplyRemoteEvent updates target metadata and the remote document cache
// from one aggregated watch snapshot, then recomputes the local views of
// every affected document.
func (s *LocalStore) ApplyRemoteEvent(event remote.RemoteEvent) model.DocumentMap {
	targets := s.persistence.Targets()

	for targetID, change := range event.TargetChanges {
		td, ok := s.targetsByID[targetID]
		if !ok {
			continue
		}
		targets.RemoveMatchingKeys(change.RemovedDocuments, targetID)
		targets.AddMatchingKeys(change.AddedDocuments, targetID)

		if len(change.ResumeToken) > 0 {
			td = td.WithResumeToken(change.ResumeToken, event.SnapshotVersion)
			targets.UpdateTargetData(td)
			s.targetsByID[targetID] = td
		}
	}

	for targetID := range event.TargetMismatches {
		td, ok := s.targetsByID[targetID]
		if !ok {
			continue
		}
		// Discard membership and resume state; the target gets re-queried.
		targets.RemoveMatchingKeysForTarget(targetID)
		td.ResumeToken = nil
		td.Purpose = model.PurposeExistenceFilterMismatch
		targets.UpdateTargetData(td)
		s.targetsByID[targetID] = td
	}

	changedKeys := model.NewDocumentKeySet()
	docs := s.persistence.RemoteDocuments()
	for _, doc := range event.DocumentUpdates {
		existing := docs.Get(doc.Key)
		// Tombstones synthesized for lost document access carry no version;
		// they replace the cached copy unconditionally.
		forced := doc.IsNoDocument() && doc.Version.IsZero()
		if forced || s.shouldOverwrite(existing, doc) {
			docs.Add(doc, event.SnapshotVersion)
			changedKeys.Add(doc.Key)
		} else {
			s.logger.Debug("ignoring stale watch update",
				"key", doc.Key.String(), "cached", existing.Version.String(), "incoming", doc.Version.String())
		}
	}
	s.indexNewDocumentParents(changedKeys.SortedKeys())

	if !event.SnapshotVersion.IsZero() &&
		event.SnapshotVersion.Compare(targets.LastRemoteSnapshotVersion()) > 0 {
		targets.SetLastRemoteSnapshotVersion(event.SnapshotVersion)
	}

	keys := changedKeys.SortedKeys()
	s.recalculateOverlays(keys)
	changed := s.view.GetDocuments(keys)
	s.persistence.Indexes().UpdateIndexEntries(changed)
	return changed
}

// shouldOverwrite implements the cache-freshness rule: an incoming server
// version only replaces the cached entry when it is newer, when nothing
// usable is cached, or when it resolves a pending committed write.
func (s *LocalStore) shouldOverwrite(existing, incoming *model.Document) bool {
	if !existing.IsValidDocument() {
		return true
	}
	if incoming.Version.Compare(existing.Version) > 0 {
		return true
	}
	if incoming.Version.Compare(existing.Version) == 0 && existing.HasCommittedMutations() {
		return true
	}
	return false
}

// AllocateTarget returns existing metadata for the target or persists a new
// assignment so target ids survive restart.
func (s *LocalStore) AllocateTarget(target model.Target) model.TargetData {
	targets := s.persistence.Targets()
	if td, ok := targets.GetTargetData(target); ok {
		s.targetsByID[td.TargetID] = td
		return td
	}
	td := model.NewTargetData(target, targets.AllocateTargetID(), model.PurposeListen, targets.NextSequenceNumber())
	targets.AddTargetData(td)
	s.targetsByID[td.TargetID] = td
	return td
}

// ReleaseTarget drops the target's metadata and membership.
func (s *LocalStore) ReleaseTarget(targetID model.TargetID) {
	td, ok := s.targetsByID[targetID]
	if !ok {
		return
	}
	delete(s.targetsByID, targetID)
	s.persistence.Targets().RemoveTargetData(td)
}

// TargetData returns the tracked metadata for an active target.
func (s *LocalStore) TargetData(targetID model.TargetID) (model.TargetData, bool) {
	td, ok := s.targetsByID[targetID]
	return td, ok
}

// MatchingKeys returns the server-confirmed membership of a target.
func (s *LocalStore) MatchingKeys(targetID model.TargetID) model.DocumentKeySet {
	return s.persistence.Targets().MatchingKeys(targetID)
}

// UpdateLastLimboFreeSnapshotVersion records that the target's view was
// limbo-free at the global snapshot high-water mark.
func (s *LocalStore) UpdateLastLimboFreeSnapshotVersion(targetID model.TargetID) {
	td, ok := s.targetsByID[targetID]
	if !ok {
		return
	}
	td = td.WithLastLimboFreeSnapshotVersion(s.persistence.Targets().LastRemoteSnapshotVersion())
	s.persistence.Targets().UpdateTargetData(td)
	s.targetsByID[targetID] = td
}

// ExecuteQuery answers the query from local state via the query engine.
// usePreviousResults enables the incremental path seeded by the target's
// last known membership.
func (s *LocalStore) ExecuteQuery(query model.Query, usePreviousResults bool) QueryResult {
	lastLimboFree := model.ZeroVersion()
	remoteKeys := model.NewDocumentKeySet()
	if td, ok := s.persistence.Targets().GetTargetData(query.ToTarget()); ok && usePreviousResults {
		lastLimboFree = td.LastLimboFreeSnapshotVersion
		remoteKeys = s.persistence.Targets().MatchingKeys(td.TargetID)
	}
	docs := s.engine.GetDocumentsMatchingQuery(query, lastLimboFree, remoteKeys)
	return QueryResult{Documents: docs, RemoteKeys: remoteKeys}
}

// ReadDocument returns the local view of a single document.
func (s *LocalStore) ReadDocument(key model.DocumentKey) *model.Document {
	return s.view.GetDocument(key)
}

// HandleUserChange recomputes the local view of every queued write under a
// new identity. Queued mutations are kept, not discarded.
func (s *LocalStore) HandleUserChange() model.DocumentMap {
	keySet := model.NewDocumentKeySet()
	for _, batch := range s.persistence.Mutations().AllMutationBatches() {
		for _, k := range batch.Keys().SortedKeys() {
			keySet.Add(k)
		}
	}
	keys := keySet.SortedKeys()
	s.recalculateOverlays(keys)
	return s.view.GetDocuments(keys)
}

// recalculateOverlays rebuilds the overlay cache for keys from fresh remote
// base documents plus the current queue contents.
func (s *LocalStore) recalculateOverlays(keys []model.DocumentKey) {
	if len(keys) == 0 {
		return
	}
	base := s.persistence.RemoteDocuments().GetAll(keys)
	s.view.RecalculateAndSaveOverlays(base)
}

// indexNewDocumentParents maintains the collection-parent index used by
// collection-group queries.
func (s *LocalStore) indexNewDocumentParents(keys []model.DocumentKey) {
	for _, key := range keys {
		collection := key.CollectionPath()
		s.persistence.Indexes().AddToCollectionParentIndex(collection.LastSegment(), collection.PopLast())
	}
}
