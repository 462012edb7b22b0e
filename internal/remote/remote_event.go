// Package remote manages the connection to the backend: the Listen and
// Write streams, watch-change aggregation, backoff, and online-state
// tracking.
package remote

import (
	"github.com/syntrixbase/syntrix-go/internal/model"
)

// TargetChange describes the net effect of a watch snapshot on one target.
type TargetChange struct {
	// ResumeToken allows resuming the target after this change. Empty means
	// "unchanged".
	ResumeToken []byte
	// Current is true once the backend confirmed the local state matches the
	// server state for the target.
	Current bool
	// AddedDocuments newly joined the target's result membership.
	AddedDocuments model.DocumentKeySet
	// ModifiedDocuments changed while already in the membership.
	ModifiedDocuments model.DocumentKeySet
	// RemovedDocuments left the membership.
	RemovedDocuments model.DocumentKeySet
}

func NewTargetChange() *TargetChange {
	return &TargetChange{
		AddedDocuments:    model.NewDocumentKeySet(),
		ModifiedDocuments: model.NewDocumentKeySet(),
		RemovedDocuments:  model.NewDocumentKeySet(),
	}
}

// RemoteEvent is one consistent snapshot produced by aggregating watch
// changes up to SnapshotVersion.
type RemoteEvent struct {
	SnapshotVersion model.SnapshotVersion
	// TargetChanges maps affected target ids to their net change.
	TargetChanges map[model.TargetID]*TargetChange
	// TargetMismatches lists targets whose existence filter disagreed with
	// the local view; they must be re-queried from scratch.
	TargetMismatches map[model.TargetID]model.TargetPurpose
	// DocumentUpdates holds the new server state of changed documents,
	// including synthesized tombstones.
	DocumentUpdates model.DocumentMap
	// ResolvedLimboDocuments are keys whose limbo state this event settles.
	ResolvedLimboDocuments model.DocumentKeySet
}
