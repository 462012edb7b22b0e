package syntrix

import (
	"context"

	"github.com/syntrixbase/syntrix-go/internal/engine"
	"github.com/syntrixbase/syntrix-go/internal/events"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// Direction orders query results.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Query builds and runs structured queries. The zero value is not usable;
// obtain one from a CollectionRef or Client.CollectionGroup. Builder methods
// return copies; errors surface at execution time.
type Query struct {
	c   *Client
	q   model.Query
	err error
}

// Where adds a field filter. Supported operators: <, <=, ==, !=, >, >=,
// array-contains, array-contains-any, in, not-in.
func (q Query) Where(path, op string, value any) Query {
	if q.err != nil {
		return q
	}
	fp, err := model.ParseFieldPath(path)
	if err != nil {
		q.err = codes.Errorf(codes.InvalidArgument, "invalid field path %q: %v", path, err)
		return q
	}
	operator := model.Operator(op)
	if !operator.IsValid() {
		q.err = codes.Errorf(codes.InvalidArgument, "invalid operator %q", op)
		return q
	}
	v, err := toValue(value)
	if err != nil {
		q.err = err
		return q
	}
	q.q.Filters = append(append([]model.Filter(nil), q.q.Filters...),
		model.FieldFilter{Field: fp, Op: operator, Value: v})
	return q
}

// OrderBy appends a sort clause.
func (q Query) OrderBy(path string, dir Direction) Query {
	if q.err != nil {
		return q
	}
	fp, err := model.ParseFieldPath(path)
	if err != nil {
		q.err = codes.Errorf(codes.InvalidArgument, "invalid field path %q: %v", path, err)
		return q
	}
	direction := model.Ascending
	if dir == Desc {
		direction = model.Descending
	}
	q.q.ExplicitOrderBy = append(append([]model.OrderBy(nil), q.q.ExplicitOrderBy...),
		model.OrderBy{Field: fp, Dir: direction})
	return q
}

// Limit keeps only the first n results.
func (q Query) Limit(n int) Query {
	q.q.Limit = n
	q.q.LimitType = model.LimitFirst
	return q
}

// LimitToLast keeps only the last n results in the query order.
func (q Query) LimitToLast(n int) Query {
	q.q.Limit = n
	q.q.LimitType = model.LimitLast
	return q
}

// StartAt begins results at the given order-by values, inclusive.
func (q Query) StartAt(values ...any) Query { return q.withBound(&q.q.StartAt, values, true) }

// StartAfter begins results after the given order-by values.
func (q Query) StartAfter(values ...any) Query { return q.withBound(&q.q.StartAt, values, false) }

// EndAt ends results at the given order-by values, inclusive.
func (q Query) EndAt(values ...any) Query { return q.withBound(&q.q.EndAt, values, true) }

// EndBefore ends results before the given order-by values.
func (q Query) EndBefore(values ...any) Query { return q.withBound(&q.q.EndAt, values, false) }

func (q Query) withBound(slot **model.Bound, values []any, inclusive bool) Query {
	if q.err != nil {
		return q
	}
	position, err := toValues(values)
	if err != nil {
		q.err = err
		return q
	}
	*slot = &model.Bound{Position: position, Inclusive: inclusive}
	return q
}

// Get runs the query once and returns a snapshot. The result may come from
// the local cache when the backend is unreachable; Metadata.FromCache says
// which.
func (q Query) Get(ctx context.Context) (*QuerySnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	snap, err := q.c.awaitSnapshot(ctx, q.q)
	if err != nil {
		return nil, err
	}
	return newQuerySnapshot(q.c, snap), nil
}

// SnapshotOptions tune a snapshot listener.
type SnapshotOptions struct {
	// IncludeMetadataChanges also delivers snapshots whose only difference
	// is metadata (pending-writes or cache state).
	IncludeMetadataChanges bool
}

// Snapshots registers fn for every snapshot of the query until the returned
// registration is removed. fn runs on the client's internal queue; a
// terminal listen error is delivered with a nil snapshot.
func (q Query) Snapshots(fn func(*QuerySnapshot, error), opts ...SnapshotOptions) ListenerRegistration {
	if q.err != nil {
		err := q.err
		q.c.queue.Enqueue(func() { fn(nil, err) })
		return ListenerRegistration{}
	}
	var options events.ListenOptions
	if len(opts) > 0 {
		options.IncludeMetadataChanges = opts[0].IncludeMetadataChanges
	}
	c := q.c
	listener := events.NewQueryListener(q.q, options, func(snap *engine.ViewSnapshot, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(newQuerySnapshot(c, snap), nil)
	})
	c.queue.Enqueue(func() { c.events.AddListener(listener) })
	return ListenerRegistration{c: c, listener: listener}
}

// ListenerRegistration detaches a snapshot listener. The zero value is a
// no-op.
type ListenerRegistration struct {
	c        *Client
	listener *events.QueryListener
}

// Remove stops the listener. Safe to call more than once.
func (r ListenerRegistration) Remove() {
	if r.c == nil || r.listener == nil {
		return
	}
	r.c.queue.Enqueue(func() { r.c.events.RemoveListener(r.listener) })
}
