package model

import "time"

// BatchID orders mutation batches; assigned monotonically by the queue.
type BatchID int32

// MutationBatch is an ordered list of mutations written together. Base
// mutations capture pre-transform field values so non-idempotent transforms
// replay deterministically.
type MutationBatch struct {
	BatchID        BatchID
	LocalWriteTime time.Time
	BaseMutations  []Mutation
	Mutations      []Mutation
}

// Keys returns the set of document keys the batch writes.
func (b MutationBatch) Keys() DocumentKeySet {
	keys := NewDocumentKeySet()
	for _, m := range b.Mutations {
		keys.Add(m.Key())
	}
	return keys
}

// ApplyToLocalView layers the batch over doc, threading the accumulated
// field mask for the document through every mutation.
func (b MutationBatch) ApplyToLocalView(doc *Document, mask *FieldMask) *FieldMask {
	for _, m := range b.BaseMutations {
		if m.Key().Equal(doc.Key) {
			mask = ApplyMutationToLocalView(m, doc, mask, b.LocalWriteTime)
		}
	}
	for _, m := range b.Mutations {
		if m.Key().Equal(doc.Key) {
			mask = ApplyMutationToLocalView(m, doc, mask, b.LocalWriteTime)
		}
	}
	return mask
}

// ApplyToRemoteDocument folds the batch's acknowledged results into doc.
func (b MutationBatch) ApplyToRemoteDocument(doc *Document, result MutationBatchResult) {
	for i, m := range b.Mutations {
		if !m.Key().Equal(doc.Key) {
			continue
		}
		if i < len(result.MutationResults) {
			ApplyMutationToRemoteDocument(m, doc, result.MutationResults[i])
		}
	}
}

// MutationBatchResult is the backend acknowledgment for a whole batch.
type MutationBatchResult struct {
	Batch           MutationBatch
	CommitVersion   SnapshotVersion
	MutationResults []MutationResult
}

// NewMutationBatchResult pairs a batch with its results, padding missing
// per-mutation versions with the commit version.
func NewMutationBatchResult(batch MutationBatch, commitVersion SnapshotVersion, results []MutationResult) MutationBatchResult {
	for i := range results {
		if results[i].Version.IsZero() {
			results[i].Version = commitVersion
		}
	}
	return MutationBatchResult{
		Batch:           batch,
		CommitVersion:   commitVersion,
		MutationResults: results,
	}
}

// Overlay is the precomputed net local-mutation effect for one document.
type Overlay struct {
	// LargestBatchID is the highest batch id contributing to the overlay.
	LargestBatchID BatchID
	Mutation       Mutation
}

func (o Overlay) Key() DocumentKey {
	return o.Mutation.Key()
}
