package syntrix

import (
	"context"

	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// WriteBatch collects writes that commit together: either every mutation is
// applied by the server or none is. The local cache reflects the batch as
// soon as Commit is called.
type WriteBatch struct {
	c         *Client
	mutations []model.Mutation
	err       error
	committed bool
}

// Set queues a full document write.
func (b *WriteBatch) Set(ref *DocumentRef, data map[string]any) *WriteBatch {
	if b.err != nil {
		return b
	}
	obj, transforms, err := parseSetData(data)
	if err != nil {
		b.err = err
		return b
	}
	b.mutations = append(b.mutations, model.SetMutation{
		DocKey:     ref.key,
		Pre:        model.PreconditionNone(),
		Value:      obj,
		Transforms: transforms,
	})
	return b
}

// Create queues a write that fails if the document already exists.
func (b *WriteBatch) Create(ref *DocumentRef, data map[string]any) *WriteBatch {
	if b.err != nil {
		return b
	}
	obj, transforms, err := parseSetData(data)
	if err != nil {
		b.err = err
		return b
	}
	b.mutations = append(b.mutations, model.SetMutation{
		DocKey:     ref.key,
		Pre:        model.PreconditionNotExists(),
		Value:      obj,
		Transforms: transforms,
	})
	return b
}

// Update queues a field patch of an existing document.
func (b *WriteBatch) Update(ref *DocumentRef, updates map[string]any) *WriteBatch {
	if b.err != nil {
		return b
	}
	if len(updates) == 0 {
		b.err = codes.New(codes.InvalidArgument, "Update requires at least one field")
		return b
	}
	obj, mask, transforms, err := parseUpdateData(updates)
	if err != nil {
		b.err = err
		return b
	}
	b.mutations = append(b.mutations, model.PatchMutation{
		DocKey:     ref.key,
		Pre:        model.PreconditionExists(),
		Data:       obj,
		Mask:       mask,
		Transforms: transforms,
	})
	return b
}

// Delete queues a document delete.
func (b *WriteBatch) Delete(ref *DocumentRef) *WriteBatch {
	if b.err != nil {
		return b
	}
	b.mutations = append(b.mutations, model.DeleteMutation{
		DocKey: ref.key,
		Pre:    model.PreconditionNone(),
	})
	return b
}

// Commit submits the batch and blocks until the backend acknowledges it.
// A batch commits at most once.
func (b *WriteBatch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if b.committed {
		return codes.New(codes.FailedPrecondition, "batch already committed")
	}
	b.committed = true
	if len(b.mutations) == 0 {
		return nil
	}
	return b.c.write(ctx, b.mutations)
}
