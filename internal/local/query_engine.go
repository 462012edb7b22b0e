package local

import (
	"log/slog"

	"github.com/syntrixbase/syntrix-go/internal/model"
)

const (
	// defaultIndexAutoCreationMinCollectionSize is the minimum number of
	// documents read by a full scan before an advisory index is considered.
	defaultIndexAutoCreationMinCollectionSize = 100
	// defaultRelativeIndexReadCostPerDocument approximates how much cheaper
	// an indexed read is than a scanned one.
	defaultRelativeIndexReadCostPerDocument = 2.0
)

// QueryEngine picks the cheapest correct strategy to answer a query from
// local state: an index scan, an incremental scan seeded from the previous
// result set, or a full collection scan.
type QueryEngine struct {
	view    *localDocumentsView
	indexes IndexManager
	logger  *slog.Logger

	indexAutoCreationEnabled bool
	minCollectionSize        int
	relativeIndexReadCost    float64
}

func newQueryEngine(view *localDocumentsView, indexes IndexManager, logger *slog.Logger) *QueryEngine {
	return &QueryEngine{
		view:                     view,
		indexes:                  indexes,
		logger:                   logger,
		indexAutoCreationEnabled: true,
		minCollectionSize:        defaultIndexAutoCreationMinCollectionSize,
		relativeIndexReadCost:    defaultRelativeIndexReadCostPerDocument,
	}
}

// GetDocumentsMatchingQuery executes the query against local state.
// remoteKeys is the target's last server-confirmed result membership and
// lastLimboFree the newest snapshot version at which that membership was
// unambiguous.
func (e *QueryEngine) GetDocumentsMatchingQuery(
	query model.Query,
	lastLimboFree model.SnapshotVersion,
	remoteKeys model.DocumentKeySet,
) model.DocumentMap {
	if result, ok := e.performQueryUsingIndex(query); ok {
		return result
	}
	if result, ok := e.performQueryUsingRemoteKeys(query, remoteKeys, lastLimboFree); ok {
		return result
	}
	return e.executeFullCollectionScan(query)
}

// performQueryUsingIndex serves the query from an advisory field index when
// one covers its shape. Index results are a superset and are always
// re-verified against the query predicate.
func (e *QueryEngine) performQueryUsingIndex(query model.Query) (model.DocumentMap, bool) {
	if query.IsDocumentQuery() || query.CollectionGroup != "" {
		return nil, false
	}
	if query.HasLimit() && query.LimitType == model.LimitLast {
		// Last-N needs the full ordered set; the index only yields membership.
		return nil, false
	}
	target := query.ToTarget()
	keys, ok := e.indexes.GetDocumentsMatchingTarget(target)
	if !ok {
		return nil, false
	}
	docs := e.view.GetDocuments(keys.SortedKeys())
	matching := model.NewDocumentMap()
	for _, doc := range docs {
		if query.Matches(doc) {
			matching.Put(doc)
		}
	}
	// Documents created purely by pending mutations may not be indexed yet.
	for _, doc := range e.view.GetOverlayDocumentsMatchingQuery(query) {
		matching.Put(doc)
	}
	return e.applyLimit(query, matching), true
}

// performQueryUsingRemoteKeys rescans only the previous result set plus
// pending-write documents when a limbo-free version is known. Falls back
// when the previous results can no longer be trusted to bound the query.
func (e *QueryEngine) performQueryUsingRemoteKeys(
	query model.Query,
	remoteKeys model.DocumentKeySet,
	lastLimboFree model.SnapshotVersion,
) (model.DocumentMap, bool) {
	if query.IsDocumentQuery() || query.CollectionGroup != "" {
		return nil, false
	}
	if lastLimboFree.IsZero() {
		return nil, false
	}

	previous := e.view.GetDocuments(remoteKeys.SortedKeys())
	matching := model.NewDocumentMap()
	for _, doc := range previous {
		if query.Matches(doc) {
			matching.Put(doc)
		}
	}
	if e.needsRefill(query, matching, remoteKeys, lastLimboFree) {
		return nil, false
	}

	// Layer in everything written or mutated since the limbo-free snapshot.
	updated := e.view.GetDocumentsMatchingQuery(query, QueryOffset{ReadTime: lastLimboFree})
	for _, doc := range updated {
		matching.Put(doc)
	}
	return e.applyLimit(query, matching), true
}

// needsRefill decides whether a limited query must fall back to a full scan:
// the previous result set no longer pins the boundary when documents were
// dropped, or when the boundary document itself has pending or post-snapshot
// changes that may have moved it.
func (e *QueryEngine) needsRefill(
	query model.Query,
	sortedPrevious model.DocumentMap,
	remoteKeys model.DocumentKeySet,
	lastLimboFree model.SnapshotVersion,
) bool {
	if !query.HasLimit() {
		return false
	}
	if remoteKeys.Len() != sortedPrevious.Len() {
		return true
	}
	set := model.NewDocumentSet(query.Comparator())
	for _, doc := range sortedPrevious {
		set = set.Add(doc)
	}
	var boundary *model.Document
	if query.LimitType == model.LimitFirst {
		boundary = set.Last()
	} else {
		boundary = set.First()
	}
	if boundary == nil {
		return false
	}
	return boundary.HasPendingWrites() || boundary.Version.Compare(lastLimboFree) > 0
}

// executeFullCollectionScan reads every cached document under the query's
// path, then possibly schedules advisory index creation.
func (e *QueryEngine) executeFullCollectionScan(query model.Query) model.DocumentMap {
	docs := e.view.GetDocumentsMatchingQuery(query, QueryOffset{})
	result := e.applyLimit(query, docs)
	e.maybeCreateIndex(query, len(docs), result.Len())
	return result
}

// applyLimit sorts by the query comparator and trims to the limit: the tail
// for first-N, the head for last-N. The sync layer restores caller order for
// last-N queries.
func (e *QueryEngine) applyLimit(query model.Query, docs model.DocumentMap) model.DocumentMap {
	if !query.HasLimit() || docs.Len() <= query.Limit {
		return docs
	}
	set := model.NewDocumentSet(query.Comparator())
	for _, doc := range docs {
		set = set.Add(doc)
	}
	ordered := set.Docs()
	if query.LimitType == model.LimitFirst {
		ordered = ordered[:query.Limit]
	} else {
		ordered = ordered[len(ordered)-query.Limit:]
	}
	out := model.NewDocumentMap()
	for _, doc := range ordered {
		out.Put(doc)
	}
	return out
}

// maybeCreateIndex schedules advisory index creation after an expensive
// scan: many documents read relative to the number returned.
func (e *QueryEngine) maybeCreateIndex(query model.Query, scanned, returned int) {
	if !e.indexAutoCreationEnabled {
		return
	}
	if scanned < e.minCollectionSize {
		return
	}
	if returned > 0 && float64(scanned)/float64(returned) < e.relativeIndexReadCost {
		return
	}
	target := query.ToTarget()
	e.logger.Debug("creating advisory index after expensive scan",
		"query", query.CanonicalID(), "scanned", scanned, "returned", returned)
	e.indexes.CreateTargetIndex(target)
	// Seed the fresh index from the cache so it is immediately a superset of
	// the true result membership.
	e.indexes.UpdateIndexEntries(e.view.RemoteCollectionDocuments(query.Path))
}
