package engine

import (
	"sort"

	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
)

// changeSet accumulates per-document view changes, collapsing successive
// transitions for the same key (added then removed cancels out, removed
// then added becomes modified, and so on).
type changeSet struct {
	changes map[string]DocumentViewChange
	keys    map[string]model.DocumentKey
}

func newChangeSet() *changeSet {
	return &changeSet{changes: map[string]DocumentViewChange{}, keys: map[string]model.DocumentKey{}}
}

func (cs *changeSet) track(change DocumentViewChange) {
	key := change.Doc.Key
	old, ok := cs.changes[key.String()]
	if !ok {
		cs.set(key, change)
		return
	}
	switch {
	case change.Type == ChangeTypeAdded && old.Type == ChangeTypeModified:
		cs.set(key, DocumentViewChange{Type: ChangeTypeAdded, Doc: change.Doc})
	case change.Type == ChangeTypeModified && old.Type == ChangeTypeAdded:
		cs.set(key, DocumentViewChange{Type: ChangeTypeAdded, Doc: change.Doc})
	case change.Type == ChangeTypeModified && old.Type == ChangeTypeModified:
		cs.set(key, DocumentViewChange{Type: ChangeTypeModified, Doc: change.Doc})
	case change.Type == ChangeTypeMetadata && old.Type != ChangeTypeRemoved:
		cs.set(key, DocumentViewChange{Type: old.Type, Doc: change.Doc})
	case change.Type == ChangeTypeRemoved && old.Type == ChangeTypeAdded:
		delete(cs.changes, key.String())
		delete(cs.keys, key.String())
	case change.Type == ChangeTypeRemoved && old.Type == ChangeTypeModified:
		cs.set(key, DocumentViewChange{Type: ChangeTypeRemoved, Doc: old.Doc})
	case change.Type == ChangeTypeAdded && old.Type == ChangeTypeRemoved:
		cs.set(key, DocumentViewChange{Type: ChangeTypeModified, Doc: change.Doc})
	default:
		cs.set(key, change)
	}
}

func (cs *changeSet) set(key model.DocumentKey, change DocumentViewChange) {
	cs.changes[key.String()] = change
	cs.keys[key.String()] = key
}

func (cs *changeSet) getChanges() []DocumentViewChange {
	out := make([]DocumentViewChange, 0, len(cs.changes))
	for _, c := range cs.changes {
		out = append(out, c)
	}
	return out
}

// ViewDocumentChanges is the intermediate result of ComputeDocChanges,
// fed either to ApplyChanges or back into another compute pass.
type ViewDocumentChanges struct {
	DocumentSet model.DocumentSet
	MutatedKeys model.DocumentKeySet
	// NeedsRefill is set when a limit boundary moved and documents outside
	// the change set may now belong in the view; the caller must re-query
	// the local store and recompute.
	NeedsRefill bool

	changeSet *changeSet
}

// LimboDocumentChange reports a key entering or leaving limbo.
type LimboDocumentChange struct {
	Added bool
	Key   model.DocumentKey
}

// ViewChange is the output of ApplyChanges: at most one snapshot plus the
// limbo transitions it implies.
type ViewChange struct {
	Snapshot     *ViewSnapshot
	LimboChanges []LimboDocumentChange
}

// View materializes one query's result set and tracks how it diverges from
// the server's view of the same target.
type View struct {
	query      model.Query
	comparator model.DocumentComparator

	documentSet model.DocumentSet
	// syncedDocuments mirrors the server-confirmed membership of the
	// query's target.
	syncedDocuments model.DocumentKeySet
	limboDocuments  model.DocumentKeySet
	mutatedKeys     model.DocumentKeySet
	current         bool
	syncState       SyncState
	hasEmitted      bool
}

func NewView(query model.Query, remoteKeys model.DocumentKeySet) *View {
	comparator := model.DocumentComparator(query.Comparator())
	return &View{
		query:           query,
		comparator:      comparator,
		documentSet:     model.NewDocumentSet(comparator),
		syncedDocuments: copyKeySet(remoteKeys),
		limboDocuments:  model.NewDocumentKeySet(),
		mutatedKeys:     model.NewDocumentKeySet(),
		syncState:       SyncStateLocal,
	}
}

func (v *View) Query() model.Query { return v.query }

// ComputeDocChanges folds changed documents into a prospective result set.
// previous carries the output of an earlier pass in a refill cycle, nil
// for a fresh computation.
func (v *View) ComputeDocChanges(docChanges model.DocumentMap, previous *ViewDocumentChanges) ViewDocumentChanges {
	cs := newChangeSet()
	oldSet := v.documentSet
	mutatedKeys := copyKeySet(v.mutatedKeys)
	if previous != nil {
		cs = previous.changeSet
		oldSet = previous.DocumentSet
		mutatedKeys = copyKeySet(previous.MutatedKeys)
	}
	newSet := oldSet
	needsRefill := false

	// Boundary documents of a full limit window. A change that sorts past
	// one may pull previously excluded documents into view.
	var lastDocInLimit, firstDocInLimit *model.Document
	if v.query.HasLimit() && oldSet.Len() == v.query.Limit {
		if v.query.LimitType == model.LimitFirst {
			lastDocInLimit = oldSet.Last()
		} else {
			firstDocInLimit = oldSet.First()
		}
	}

	for _, entry := range docChanges.SortedDocs() {
		key := entry.Key
		oldDoc, hadOld := oldSet.Get(key)
		var newDoc *model.Document
		if v.query.Matches(entry) {
			newDoc = entry
		}

		oldDocHadPendingMutations := hadOld && mutatedKeys.Has(key)
		newDocHasPendingMutations := newDoc != nil &&
			(newDoc.HasLocalMutations() || (mutatedKeys.Has(key) && newDoc.HasCommittedMutations()))

		changeApplied := false
		switch {
		case hadOld && newDoc != nil:
			if !model.ValuesEqual(oldDoc.Data.Value(), newDoc.Data.Value()) {
				if !shouldWaitForSyncedDocument(oldDoc, newDoc) {
					cs.track(DocumentViewChange{Type: ChangeTypeModified, Doc: newDoc})
					changeApplied = true
					if (lastDocInLimit != nil && v.comparator(newDoc, lastDocInLimit) > 0) ||
						(firstDocInLimit != nil && v.comparator(newDoc, firstDocInLimit) < 0) {
						// The document moved out of the limit window.
						needsRefill = true
					}
				}
			} else if oldDocHadPendingMutations != newDocHasPendingMutations {
				cs.track(DocumentViewChange{Type: ChangeTypeMetadata, Doc: newDoc})
				changeApplied = true
			}
		case !hadOld && newDoc != nil:
			cs.track(DocumentViewChange{Type: ChangeTypeAdded, Doc: newDoc})
			changeApplied = true
		case hadOld && newDoc == nil:
			cs.track(DocumentViewChange{Type: ChangeTypeRemoved, Doc: oldDoc})
			changeApplied = true
			if lastDocInLimit != nil || firstDocInLimit != nil {
				// A full window shrank; documents outside the change set may
				// now fit.
				needsRefill = true
			}
		}

		if changeApplied {
			if newDoc != nil {
				newSet = newSet.Add(newDoc)
				if newDocHasPendingMutations {
					mutatedKeys.Add(key)
				} else {
					mutatedKeys.Remove(key)
				}
			} else {
				newSet = newSet.Delete(key)
				mutatedKeys.Remove(key)
			}
		}
	}

	if v.query.HasLimit() {
		for newSet.Len() > v.query.Limit {
			var evicted *model.Document
			if v.query.LimitType == model.LimitFirst {
				evicted = newSet.Last()
			} else {
				evicted = newSet.First()
			}
			newSet = newSet.Delete(evicted.Key)
			mutatedKeys.Remove(evicted.Key)
			cs.track(DocumentViewChange{Type: ChangeTypeRemoved, Doc: evicted})
		}
	}

	return ViewDocumentChanges{
		DocumentSet: newSet,
		MutatedKeys: mutatedKeys,
		NeedsRefill: needsRefill,
		changeSet:   cs,
	}
}

// shouldWaitForSyncedDocument suppresses the change that happens when the
// backend echoes a committed write: the local view already showed it, and
// the watch copy may lag behind pending transforms.
func shouldWaitForSyncedDocument(oldDoc, newDoc *model.Document) bool {
	return oldDoc.HasLocalMutations() &&
		newDoc.HasCommittedMutations() && !newDoc.HasLocalMutations()
}

// ApplyChanges commits a computed change set, updates limbo bookkeeping,
// and produces at most one snapshot. docChanges must not need a refill.
func (v *View) ApplyChanges(docChanges ViewDocumentChanges, targetChange *remote.TargetChange) ViewChange {
	oldSet := v.documentSet
	v.documentSet = docChanges.DocumentSet
	v.mutatedKeys = docChanges.MutatedKeys

	changes := docChanges.changeSet.getChanges()
	sortViewChanges(changes, v.comparator)

	v.applyTargetChange(targetChange)
	limboChanges := v.updateLimboDocuments()

	newSyncState := SyncStateLocal
	if v.current {
		newSyncState = SyncStateSynced
	}
	syncStateChanged := newSyncState != v.syncState || !v.hasEmitted
	v.syncState = newSyncState

	if len(changes) == 0 && !syncStateChanged {
		return ViewChange{LimboChanges: limboChanges}
	}
	v.hasEmitted = true
	snapshot := &ViewSnapshot{
		Query:            v.query,
		Documents:        v.documentSet,
		OldDocs:          oldSet,
		DocChanges:       changes,
		FromCache:        newSyncState == SyncStateLocal,
		MutatedKeys:      v.mutatedKeys,
		SyncStateChanged: syncStateChanged,
	}
	return ViewChange{Snapshot: snapshot, LimboChanges: limboChanges}
}

// ApplyOnlineStateChange drops the view out of the Synced state when the
// client goes offline, so listeners see fromCache flip to true.
func (v *View) ApplyOnlineStateChange(state remote.OnlineState) ViewChange {
	if state == remote.OnlineStateOffline && v.current {
		v.current = false
		return v.ApplyChanges(ViewDocumentChanges{
			DocumentSet: v.documentSet,
			MutatedKeys: v.mutatedKeys,
			changeSet:   newChangeSet(),
		}, nil)
	}
	return ViewChange{}
}

func (v *View) applyTargetChange(tc *remote.TargetChange) {
	if tc == nil {
		return
	}
	for _, key := range tc.AddedDocuments.SortedKeys() {
		v.syncedDocuments.Add(key)
	}
	for _, key := range tc.ModifiedDocuments.SortedKeys() {
		v.syncedDocuments.Add(key)
	}
	for _, key := range tc.RemovedDocuments.SortedKeys() {
		v.syncedDocuments.Remove(key)
	}
	if tc.Current {
		v.current = true
	}
}

// updateLimboDocuments recomputes which result documents the server has
// not confirmed. Only a current view can have limbo documents, and a
// document with local mutations is never in limbo.
func (v *View) updateLimboDocuments() []LimboDocumentChange {
	if !v.current {
		return nil
	}
	oldLimbo := v.limboDocuments
	v.limboDocuments = model.NewDocumentKeySet()
	for _, doc := range v.documentSet.Docs() {
		if v.shouldBeInLimbo(doc) {
			v.limboDocuments.Add(doc.Key)
		}
	}

	var changes []LimboDocumentChange
	for _, key := range oldLimbo.SortedKeys() {
		if !v.limboDocuments.Has(key) {
			changes = append(changes, LimboDocumentChange{Added: false, Key: key})
		}
	}
	for _, key := range v.limboDocuments.SortedKeys() {
		if !oldLimbo.Has(key) {
			changes = append(changes, LimboDocumentChange{Added: true, Key: key})
		}
	}
	return changes
}

func (v *View) shouldBeInLimbo(doc *model.Document) bool {
	// The server considers the document outside the target, but the local
	// cache still produces it and no pending write explains the difference.
	return !v.syncedDocuments.Has(doc.Key) && !doc.HasLocalMutations()
}

// SyncedDocuments returns the server-confirmed membership mirror.
func (v *View) SyncedDocuments() model.DocumentKeySet { return v.syncedDocuments }

func sortViewChanges(changes []DocumentViewChange, comparator model.DocumentComparator) {
	order := func(t DocumentChangeType) int {
		switch t {
		case ChangeTypeRemoved:
			return 0
		case ChangeTypeAdded:
			return 1
		case ChangeTypeModified:
			return 2
		}
		return 3
	}
	sort.Slice(changes, func(i, j int) bool {
		if a, b := order(changes[i].Type), order(changes[j].Type); a != b {
			return a < b
		}
		return comparator(changes[i].Doc, changes[j].Doc) < 0
	})
}

func copyKeySet(s model.DocumentKeySet) model.DocumentKeySet {
	out := model.NewDocumentKeySet()
	for _, k := range s.SortedKeys() {
		out.Add(k)
	}
	return out
}
