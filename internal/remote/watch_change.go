package remote

import (
	"log/slog"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

// WatchChange is one decoded listen stream event: a target state change, a
// document change, or an existence filter.
type WatchChange interface {
	isWatchChange()
}

// WatchTargetChange reports a server-side state transition for a set of
// targets. An empty TargetIDs slice addresses every active target.
type WatchTargetChange struct {
	State       string
	TargetIDs   []model.TargetID
	ResumeToken []byte
	Cause       error
}

// DocumentWatchChange reports a document entering, changing within, or
// leaving targets. Doc is nil when the document merely left targets and
// carries a tombstone when the backend confirmed a delete.
type DocumentWatchChange struct {
	UpdatedTargetIDs []model.TargetID
	RemovedTargetIDs []model.TargetID
	Key              model.DocumentKey
	Doc              *model.Document
}

// ExistenceFilterWatchChange carries the server's membership digest for one
// target.
type ExistenceFilterWatchChange struct {
	TargetID model.TargetID
	Count    int
	Bloom    *BloomFilter
}

func (WatchTargetChange) isWatchChange()          {}
func (DocumentWatchChange) isWatchChange()        {}
func (ExistenceFilterWatchChange) isWatchChange() {}

// TargetMetadataProvider exposes the local state the aggregator needs to
// interpret watch changes.
type TargetMetadataProvider interface {
	// GetRemoteKeysForTarget returns the documents currently known to match
	// the target.
	GetRemoteKeysForTarget(id model.TargetID) model.DocumentKeySet
	// GetTargetDataForTarget returns the metadata of an active target,
	// ok=false when the target was removed while changes were in flight.
	GetTargetDataForTarget(id model.TargetID) (model.TargetData, bool)
}

type documentChangeKind int

const (
	changeAdded documentChangeKind = iota
	changeModified
	changeRemoved
)

// targetState accumulates per-target effects between snapshots.
type targetState struct {
	// pendingResponses counts add/remove requests the server has not yet
	// acknowledged; changes for a pending target are withheld.
	pendingResponses int
	hasBeenCurrent   bool
	resumeToken      []byte
	changed          bool
	docChanges       map[string]documentChangeKind
	docKeys          map[string]model.DocumentKey
}

func newTargetState() *targetState {
	return &targetState{
		docChanges: map[string]documentChangeKind{},
		docKeys:    map[string]model.DocumentKey{},
	}
}

func (ts *targetState) isPending() bool { return ts.pendingResponses > 0 }

func (ts *targetState) updateResumeToken(token []byte) {
	if len(token) > 0 {
		ts.changed = true
		ts.resumeToken = token
	}
}

func (ts *targetState) recordChange(key model.DocumentKey, kind documentChangeKind) {
	ts.changed = true
	ts.docChanges[key.String()] = kind
	ts.docKeys[key.String()] = key
}

func (ts *targetState) removeChange(key model.DocumentKey) {
	ts.changed = true
	delete(ts.docChanges, key.String())
	delete(ts.docKeys, key.String())
}

func (ts *targetState) clearPendingChanges() {
	ts.changed = false
	ts.docChanges = map[string]documentChangeKind{}
	ts.docKeys = map[string]model.DocumentKey{}
}

func (ts *targetState) toTargetChange() *TargetChange {
	tc := NewTargetChange()
	tc.ResumeToken = ts.resumeToken
	tc.Current = ts.hasBeenCurrent
	for path, kind := range ts.docChanges {
		key := ts.docKeys[path]
		switch kind {
		case changeAdded:
			tc.AddedDocuments.Add(key)
		case changeModified:
			tc.ModifiedDocuments.Add(key)
		case changeRemoved:
			tc.RemovedDocuments.Add(key)
		}
	}
	return tc
}

// WatchChangeAggregator folds individual watch changes into consistent
// RemoteEvents, one per server snapshot boundary.
type WatchChangeAggregator struct {
	provider TargetMetadataProvider
	logger   *slog.Logger

	targetStates           map[model.TargetID]*targetState
	pendingDocumentUpdates model.DocumentMap
	// pendingDocumentTargetMapping tracks which targets saw each changed
	// document, keyed by document path.
	pendingDocumentTargetMapping map[string]map[model.TargetID]bool
	pendingDocumentKeys          map[string]model.DocumentKey
	pendingTargetResets          map[model.TargetID]model.TargetPurpose
}

func NewWatchChangeAggregator(provider TargetMetadataProvider, logger *slog.Logger) *WatchChangeAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchChangeAggregator{
		provider:                     provider,
		logger:                       logger,
		targetStates:                 map[model.TargetID]*targetState{},
		pendingDocumentUpdates:       model.NewDocumentMap(),
		pendingDocumentTargetMapping: map[string]map[model.TargetID]bool{},
		pendingDocumentKeys:          map[string]model.DocumentKey{},
		pendingTargetResets:          map[model.TargetID]model.TargetPurpose{},
	}
}

func (a *WatchChangeAggregator) state(id model.TargetID) *targetState {
	ts, ok := a.targetStates[id]
	if !ok {
		ts = newTargetState()
		a.targetStates[id] = ts
	}
	return ts
}

// RecordPendingTargetRequest is called whenever an add or remove request is
// sent; the matching target change decrements the count.
func (a *WatchChangeAggregator) RecordPendingTargetRequest(id model.TargetID) {
	a.state(id).pendingResponses++
}

// RemoveTarget forgets all buffered state for a released target.
func (a *WatchChangeAggregator) RemoveTarget(id model.TargetID) {
	delete(a.targetStates, id)
}

// isActiveTarget reports whether changes for the target should be applied:
// it must still be allocated and have no unacknowledged requests.
func (a *WatchChangeAggregator) isActiveTarget(id model.TargetID) bool {
	ts, ok := a.targetStates[id]
	if ok && ts.isPending() {
		return false
	}
	_, allocated := a.provider.GetTargetDataForTarget(id)
	return allocated
}

// HandleTargetChange applies one target state transition.
func (a *WatchChangeAggregator) HandleTargetChange(tc WatchTargetChange) {
	for _, id := range a.targetIDsFor(tc) {
		ts := a.state(id)
		switch tc.State {
		case TargetStateNoChange:
			if a.isActiveTarget(id) {
				ts.updateResumeToken(tc.ResumeToken)
			}
		case TargetStateAdded:
			ts.pendingResponses--
			if !ts.isPending() {
				ts.clearPendingChanges()
			}
			ts.updateResumeToken(tc.ResumeToken)
		case TargetStateRemoved:
			ts.pendingResponses--
			if tc.Cause != nil {
				a.logger.Warn("target removed by server", "target_id", id, "error", tc.Cause)
			}
		case TargetStateCurrent:
			if a.isActiveTarget(id) {
				ts.hasBeenCurrent = true
				ts.changed = true
				ts.updateResumeToken(tc.ResumeToken)
			}
		case TargetStateReset:
			if a.isActiveTarget(id) {
				a.resetTarget(id)
				ts.updateResumeToken(tc.ResumeToken)
			}
		default:
			a.logger.Warn("unknown target change state", "state", tc.State)
		}
	}
}

func (a *WatchChangeAggregator) targetIDsFor(tc WatchTargetChange) []model.TargetID {
	if len(tc.TargetIDs) > 0 {
		return tc.TargetIDs
	}
	ids := make([]model.TargetID, 0, len(a.targetStates))
	for id := range a.targetStates {
		ids = append(ids, id)
	}
	return ids
}

// HandleDocumentChange routes a document change to every affected target.
func (a *WatchChangeAggregator) HandleDocumentChange(dc DocumentWatchChange) {
	for _, id := range dc.UpdatedTargetIDs {
		if a.isActiveTarget(id) && dc.Doc != nil {
			a.addDocumentToTarget(id, dc.Doc)
		}
	}
	for _, id := range dc.RemovedTargetIDs {
		if a.isActiveTarget(id) {
			a.removeDocumentFromTarget(id, dc.Key, dc.Doc)
		}
	}
}

func (a *WatchChangeAggregator) addDocumentToTarget(id model.TargetID, doc *model.Document) {
	kind := changeAdded
	if a.targetContainsDocument(id, doc.Key) {
		kind = changeModified
	}
	a.state(id).recordChange(doc.Key, kind)
	a.pendingDocumentUpdates.Put(doc)
	a.targetMapping(doc.Key)[id] = true
}

// removeDocumentFromTarget records a removal. A tombstone doc means the
// backend confirmed a delete; nil means membership-only removal.
func (a *WatchChangeAggregator) removeDocumentFromTarget(id model.TargetID, key model.DocumentKey, doc *model.Document) {
	if a.targetContainsDocument(id, key) {
		a.state(id).recordChange(key, changeRemoved)
	} else {
		a.state(id).removeChange(key)
	}
	a.targetMapping(key)[id] = false
	if doc != nil {
		a.pendingDocumentUpdates.Put(doc)
	}
}

func (a *WatchChangeAggregator) targetMapping(key model.DocumentKey) map[model.TargetID]bool {
	m, ok := a.pendingDocumentTargetMapping[key.String()]
	if !ok {
		m = map[model.TargetID]bool{}
		a.pendingDocumentTargetMapping[key.String()] = m
		a.pendingDocumentKeys[key.String()] = key
	}
	return m
}

// targetContainsDocument consults both this snapshot's pending changes and
// the persisted membership.
func (a *WatchChangeAggregator) targetContainsDocument(id model.TargetID, key model.DocumentKey) bool {
	if ts, ok := a.targetStates[id]; ok {
		if kind, ok := ts.docChanges[key.String()]; ok {
			return kind != changeRemoved
		}
	}
	return a.provider.GetRemoteKeysForTarget(id).Has(key)
}

// HandleExistenceFilter compares the server's count against the local
// membership. With a bloom digest it purges deleted documents; otherwise a
// mismatch schedules a full re-query.
func (a *WatchChangeAggregator) HandleExistenceFilter(ef ExistenceFilterWatchChange) {
	id := ef.TargetID
	td, ok := a.provider.GetTargetDataForTarget(id)
	if !ok || !a.isActiveTarget(id) {
		return
	}
	if td.Target.IsDocumentTarget() {
		// A zero count for a document target means the document was deleted
		// behind our back; synthesize the tombstone.
		if ef.Count == 0 {
			key := model.DocumentKey{Path: td.Target.Path}
			a.removeDocumentFromTarget(id, key, model.NewNoDocument(key, model.ZeroVersion()))
		}
		return
	}

	currentSize := a.expectedCount(id)
	if currentSize == ef.Count {
		return
	}
	if ef.Bloom != nil {
		removed := a.applyBloomFilter(id, ef.Bloom)
		if currentSize-removed == ef.Count {
			return
		}
	}
	a.resetTarget(id)
	a.pendingTargetResets[id] = model.PurposeExistenceFilterMismatch
}

// expectedCount is the persisted membership adjusted by this snapshot's
// pending adds and removes.
func (a *WatchChangeAggregator) expectedCount(id model.TargetID) int {
	count := a.provider.GetRemoteKeysForTarget(id).Len()
	if ts, ok := a.targetStates[id]; ok {
		for path, kind := range ts.docChanges {
			known := a.provider.GetRemoteKeysForTarget(id).Has(ts.docKeys[path])
			switch kind {
			case changeAdded:
				if !known {
					count++
				}
			case changeRemoved:
				if known {
					count--
				}
			}
		}
	}
	return count
}

// applyBloomFilter removes every locally known member the digest rules out
// and returns how many were removed.
func (a *WatchChangeAggregator) applyBloomFilter(id model.TargetID, bloom *BloomFilter) int {
	removed := 0
	for _, key := range a.provider.GetRemoteKeysForTarget(id).SortedKeys() {
		if !bloom.MightContain(key.String()) {
			a.removeDocumentFromTarget(id, key, nil)
			removed++
		}
	}
	return removed
}

// resetTarget discards everything known about the target's membership. The
// resulting remote event removes all previously matching documents.
func (a *WatchChangeAggregator) resetTarget(id model.TargetID) {
	ts := a.state(id)
	ts.clearPendingChanges()
	for _, key := range a.provider.GetRemoteKeysForTarget(id).SortedKeys() {
		ts.recordChange(key, changeRemoved)
		a.targetMapping(key)[id] = false
	}
}

// CreateRemoteEvent closes the current snapshot: every accumulated change
// becomes one consistent RemoteEvent, and the buffers reset.
func (a *WatchChangeAggregator) CreateRemoteEvent(snapshotVersion model.SnapshotVersion) RemoteEvent {
	targetChanges := map[model.TargetID]*TargetChange{}
	for id, ts := range a.targetStates {
		if ts.isPending() {
			continue
		}
		td, ok := a.provider.GetTargetDataForTarget(id)
		if !ok {
			continue
		}
		// A document target that went current without delivering its
		// document means the document does not exist on the server.
		if ts.hasBeenCurrent && td.Target.IsDocumentTarget() {
			key := model.DocumentKey{Path: td.Target.Path}
			if _, updated := a.pendingDocumentUpdates.Get(key); !updated && !a.targetContainsDocument(id, key) {
				a.removeDocumentFromTarget(id, key, model.NewNoDocument(key, snapshotVersion))
			}
		}
		if !ts.changed {
			continue
		}
		targetChanges[id] = ts.toTargetChange()
		ts.clearPendingChanges()
	}

	// A document referenced only by limbo targets in this snapshot settles
	// that document's limbo state, whether it arrived or proved deleted.
	resolvedLimbo := model.NewDocumentKeySet()
	for path, targets := range a.pendingDocumentTargetMapping {
		onlyLimbo := true
		for id := range targets {
			td, ok := a.provider.GetTargetDataForTarget(id)
			if ok && td.Purpose != model.PurposeLimboResolution {
				onlyLimbo = false
				break
			}
		}
		if onlyLimbo {
			resolvedLimbo.Add(a.pendingDocumentKeys[path])
		}
	}

	event := RemoteEvent{
		SnapshotVersion:        snapshotVersion,
		TargetChanges:          targetChanges,
		TargetMismatches:       a.pendingTargetResets,
		DocumentUpdates:        a.pendingDocumentUpdates,
		ResolvedLimboDocuments: resolvedLimbo,
	}
	a.pendingDocumentUpdates = model.NewDocumentMap()
	a.pendingDocumentTargetMapping = map[string]map[model.TargetID]bool{}
	a.pendingDocumentKeys = map[string]model.DocumentKey{}
	a.pendingTargetResets = map[model.TargetID]model.TargetPurpose{}
	return event
}
