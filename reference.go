package syntrix

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// CollectionRef addresses a collection and doubles as a query over it.
type CollectionRef struct {
	Query

	c    *Client
	path model.ResourcePath
}

func newCollectionRef(c *Client, path model.ResourcePath) *CollectionRef {
	return &CollectionRef{
		Query: Query{c: c, q: model.NewQuery(path)},
		c:     c,
		path:  path,
	}
}

// ID is the collection's last path segment.
func (r *CollectionRef) ID() string { return r.path.LastSegment() }

// Path is the full slash-separated collection path.
func (r *CollectionRef) Path() string { return r.path.String() }

// Parent returns the containing document, or nil for a root collection.
func (r *CollectionRef) Parent() *DocumentRef {
	if r.path.Length() < 2 {
		return nil
	}
	return &DocumentRef{c: r.c, key: model.NewDocumentKey(r.path.PopLast())}
}

// Doc addresses a document inside the collection.
func (r *CollectionRef) Doc(id string) *DocumentRef {
	return &DocumentRef{c: r.c, key: model.NewDocumentKey(r.path.Child(id))}
}

// NewDoc addresses a document with a fresh random id.
func (r *CollectionRef) NewDoc() *DocumentRef {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	return r.Doc(id)
}

// Add creates a document with a fresh random id and the given data.
func (r *CollectionRef) Add(ctx context.Context, data map[string]any) (*DocumentRef, error) {
	doc := r.NewDoc()
	if err := doc.Create(ctx, data); err != nil {
		return nil, err
	}
	return doc, nil
}

// DocumentRef addresses a single document.
type DocumentRef struct {
	c   *Client
	key model.DocumentKey
}

// ID is the document's last path segment.
func (r *DocumentRef) ID() string { return r.key.Path.LastSegment() }

// Path is the full slash-separated document path.
func (r *DocumentRef) Path() string { return r.key.String() }

// Parent returns the containing collection.
func (r *DocumentRef) Parent() *CollectionRef {
	return newCollectionRef(r.c, r.key.Path.PopLast())
}

// Collection addresses a subcollection of the document.
func (r *DocumentRef) Collection(id string) *CollectionRef {
	return newCollectionRef(r.c, r.key.Path.Child(id))
}

// Set writes the document, replacing it if it exists. Sentinel values
// (ServerTimestamp, ArrayUnion, ArrayRemove, Increment) become field
// transforms.
func (r *DocumentRef) Set(ctx context.Context, data map[string]any) error {
	obj, transforms, err := parseSetData(data)
	if err != nil {
		return err
	}
	return r.c.write(ctx, []model.Mutation{model.SetMutation{
		DocKey:     r.key,
		Pre:        model.PreconditionNone(),
		Value:      obj,
		Transforms: transforms,
	}})
}

// Create writes the document, failing with AlreadyExists if it is present.
func (r *DocumentRef) Create(ctx context.Context, data map[string]any) error {
	obj, transforms, err := parseSetData(data)
	if err != nil {
		return err
	}
	return r.c.write(ctx, []model.Mutation{model.SetMutation{
		DocKey:     r.key,
		Pre:        model.PreconditionNotExists(),
		Value:      obj,
		Transforms: transforms,
	}})
}

// Update patches individual fields of an existing document. Keys are dotted
// field paths; the Delete sentinel removes a field. Fails with NotFound if
// the document does not exist.
func (r *DocumentRef) Update(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return codes.New(codes.InvalidArgument, "Update requires at least one field")
	}
	obj, mask, transforms, err := parseUpdateData(updates)
	if err != nil {
		return err
	}
	return r.c.write(ctx, []model.Mutation{model.PatchMutation{
		DocKey:     r.key,
		Pre:        model.PreconditionExists(),
		Data:       obj,
		Mask:       mask,
		Transforms: transforms,
	}})
}

// Delete removes the document. Deleting a missing document is not an error.
func (r *DocumentRef) Delete(ctx context.Context) error {
	return r.c.write(ctx, []model.Mutation{model.DeleteMutation{
		DocKey: r.key,
		Pre:    model.PreconditionNone(),
	}})
}

// Get reads the document, waiting for server confirmation when online and
// falling back to the cache when not.
func (r *DocumentRef) Get(ctx context.Context) (*DocumentSnapshot, error) {
	snap, err := r.c.awaitSnapshot(ctx, model.NewQuery(r.key.Path))
	if err != nil {
		return nil, err
	}
	meta := SnapshotMetadata{
		HasPendingWrites: snap.HasPendingWrites(),
		FromCache:        snap.FromCache,
	}
	doc, ok := snap.Documents.Get(r.key)
	if !ok {
		return newDocumentSnapshot(r, nil, meta), nil
	}
	return newDocumentSnapshot(r, doc, meta), nil
}

// Snapshots registers fn for every state change of the document.
func (r *DocumentRef) Snapshots(fn func(*DocumentSnapshot, error), opts ...SnapshotOptions) ListenerRegistration {
	ref := r
	q := Query{c: r.c, q: model.NewQuery(r.key.Path)}
	return q.Snapshots(func(snap *QuerySnapshot, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		meta := snap.Metadata
		for _, doc := range snap.Docs {
			if doc.Ref.key.Equal(ref.key) {
				fn(doc, nil)
				return
			}
		}
		fn(newDocumentSnapshot(ref, nil, meta), nil)
	}, opts...)
}
