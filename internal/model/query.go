package model

import (
	"strconv"
	"strings"
)

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

func (d Direction) operand() int {
	if d == Descending {
		return -1
	}
	return 1
}

// OrderBy is a single sort clause.
type OrderBy struct {
	Field FieldPath
	Dir   Direction
}

func (o OrderBy) Canonical() string {
	return o.Field.String() + string(o.Dir)
}

// LimitType distinguishes first-N from last-N limits.
type LimitType string

const (
	LimitFirst LimitType = "F"
	LimitLast  LimitType = "L"
)

// Bound is a position vector relative to a query's order-by clauses.
type Bound struct {
	Position  []Value
	Inclusive bool
}

// compareToDocument positions the bound relative to doc under the given
// orderings: negative when the bound sorts before the document.
func (b Bound) compareToDocument(orderBy []OrderBy, doc *Document) int {
	comparison := 0
	for i, component := range b.Position {
		if i >= len(orderBy) {
			break
		}
		ob := orderBy[i]
		var docValue Value
		if ob.Field.IsKeyField() {
			docValue = ReferenceValue(doc.Key)
		} else {
			v, ok := doc.Field(ob.Field)
			if !ok {
				v = NullValue()
			}
			docValue = v
		}
		comparison = CompareValues(component, docValue) * ob.Dir.operand()
		if comparison != 0 {
			break
		}
	}
	return comparison
}

// SortsBeforeDocument reports whether a start bound admits doc.
func (b Bound) SortsBeforeDocument(orderBy []OrderBy, doc *Document) bool {
	comparison := b.compareToDocument(orderBy, doc)
	if b.Inclusive {
		return comparison <= 0
	}
	return comparison < 0
}

// SortsAfterDocument reports whether an end bound admits doc.
func (b Bound) SortsAfterDocument(orderBy []OrderBy, doc *Document) bool {
	comparison := b.compareToDocument(orderBy, doc)
	if b.Inclusive {
		return comparison >= 0
	}
	return comparison > 0
}

func (b Bound) Canonical() string {
	var sb strings.Builder
	if b.Inclusive {
		sb.WriteString("b:")
	} else {
		sb.WriteString("a:")
	}
	for i, v := range b.Position {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(v.Canonical())
	}
	return sb.String()
}

func boundsEqual(a, b *Bound) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Canonical() == b.Canonical()
}

// Query is the immutable structured description of a user query. Zero Limit
// means unlimited.
type Query struct {
	Path            ResourcePath
	CollectionGroup string
	Filters         []Filter
	ExplicitOrderBy []OrderBy
	Limit           int
	LimitType       LimitType
	StartAt         *Bound
	EndAt           *Bound
}

// NewQuery builds a bare query over a collection path.
func NewQuery(path ResourcePath) Query {
	return Query{Path: path, LimitType: LimitFirst}
}

// NewCollectionGroupQuery builds a query over every collection named id.
func NewCollectionGroupQuery(id string) Query {
	return Query{CollectionGroup: id, LimitType: LimitFirst}
}

func (q Query) HasLimit() bool { return q.Limit > 0 }

// IsDocumentQuery reports whether the query addresses exactly one document.
func (q Query) IsDocumentQuery() bool {
	return q.Path.Length()%2 == 0 && q.CollectionGroup == "" && len(q.Filters) == 0
}

// inequalityFilterField returns the first inequality-constrained field, if any.
func (q Query) inequalityFilterField() (FieldPath, bool) {
	var leaves []FieldFilter
	for _, f := range q.Filters {
		leaves = fieldFilters(f, leaves)
	}
	for _, ff := range leaves {
		if ff.Op.IsInequality() {
			return ff.Field, true
		}
	}
	return FieldPath{}, false
}

// NormalizedOrderBy is the effective ordering: the explicit clauses, an implied
// clause for the first inequality field, and a trailing key ordering.
func (q Query) NormalizedOrderBy() []OrderBy {
	var out []OrderBy
	seen := map[string]bool{}
	for _, ob := range q.ExplicitOrderBy {
		out = append(out, ob)
		seen[ob.Field.String()] = true
	}
	if ineq, ok := q.inequalityFilterField(); ok && !seen[ineq.String()] && len(q.ExplicitOrderBy) == 0 {
		if !ineq.IsKeyField() {
			out = append(out, OrderBy{Field: ineq, Dir: Ascending})
		}
	}
	if !seen[KeyFieldName] {
		lastDir := Ascending
		if len(out) > 0 {
			lastDir = out[len(out)-1].Dir
		}
		out = append(out, OrderBy{Field: KeyFieldPath(), Dir: lastDir})
	}
	return out
}

// Matches reports whether doc belongs in this query's results.
func (q Query) Matches(doc *Document) bool {
	return doc.IsFoundDocument() &&
		q.matchesPath(doc) &&
		q.matchesOrderBy(doc) &&
		q.matchesFilters(doc) &&
		q.matchesBounds(doc)
}

func (q Query) matchesPath(doc *Document) bool {
	if q.CollectionGroup != "" {
		return doc.Key.HasCollectionID(q.CollectionGroup) && q.Path.IsPrefixOf(doc.Key.Path)
	}
	if q.Path.Length()%2 == 0 {
		// Document query: exact key match.
		return q.Path.Equal(doc.Key.Path)
	}
	return q.Path.IsImmediateParentOf(doc.Key.Path)
}

// matchesOrderBy requires every explicitly ordered field (except the key) to
// be present on the document, so cursors stay well defined.
func (q Query) matchesOrderBy(doc *Document) bool {
	for _, ob := range q.ExplicitOrderBy {
		if ob.Field.IsKeyField() {
			continue
		}
		if _, ok := doc.Field(ob.Field); !ok {
			return false
		}
	}
	return true
}

func (q Query) matchesFilters(doc *Document) bool {
	for _, f := range q.Filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}

func (q Query) matchesBounds(doc *Document) bool {
	orderBy := q.NormalizedOrderBy()
	if q.StartAt != nil && !q.StartAt.SortsBeforeDocument(orderBy, doc) {
		return false
	}
	if q.EndAt != nil && !q.EndAt.SortsAfterDocument(orderBy, doc) {
		return false
	}
	return true
}

// Comparator orders documents by the query's normalized order-by clauses.
func (q Query) Comparator() func(a, b *Document) int {
	orderBy := q.NormalizedOrderBy()
	return func(a, b *Document) int {
		for _, ob := range orderBy {
			if ob.Field.IsKeyField() {
				if c := a.Key.Compare(b.Key); c != 0 {
					return c * ob.Dir.operand()
				}
				continue
			}
			av, aok := a.Field(ob.Field)
			bv, bok := b.Field(ob.Field)
			if !aok || !bok {
				// Missing ordered fields should have been filtered out.
				continue
			}
			if c := CompareValues(av, bv); c != 0 {
				return c * ob.Dir.operand()
			}
		}
		return 0
	}
}

// CanonicalID is the deterministic cache key for the query. Two queries are
// equal iff their canonical ids match.
func (q Query) CanonicalID() string {
	var sb strings.Builder
	sb.WriteString(q.Path.String())
	if q.CollectionGroup != "" {
		sb.WriteString("|cg:")
		sb.WriteString(q.CollectionGroup)
	}
	if len(q.Filters) > 0 {
		sb.WriteString("|f:")
		for _, f := range q.Filters {
			sb.WriteString(f.Canonical())
		}
	}
	sb.WriteString("|ob:")
	for _, ob := range q.NormalizedOrderBy() {
		sb.WriteString(ob.Canonical())
	}
	if q.HasLimit() {
		sb.WriteString("|l:")
		sb.WriteString(strconv.Itoa(q.Limit))
		sb.WriteString(string(q.LimitType))
	}
	if q.StartAt != nil {
		sb.WriteString("|lb:")
		sb.WriteString(q.StartAt.Canonical())
	}
	if q.EndAt != nil {
		sb.WriteString("|ub:")
		sb.WriteString(q.EndAt.Canonical())
	}
	return sb.String()
}

// Equal compares queries structurally via their canonical forms.
func (q Query) Equal(other Query) bool {
	return q.CanonicalID() == other.CanonicalID()
}

func (q Query) String() string {
	return "Query(" + q.CanonicalID() + ")"
}

// ToTarget converts the query into its wire-level target. Limit-to-last
// queries are sent with flipped orderings and swapped, inverted bounds; the
// sync layer reverses the results back to caller order.
func (q Query) ToTarget() Target {
	orderBy := q.NormalizedOrderBy()
	if q.HasLimit() && q.LimitType == LimitLast {
		flipped := make([]OrderBy, len(orderBy))
		for i, ob := range orderBy {
			dir := Ascending
			if ob.Dir == Ascending {
				dir = Descending
			}
			flipped[i] = OrderBy{Field: ob.Field, Dir: dir}
		}
		var startAt, endAt *Bound
		if q.EndAt != nil {
			startAt = &Bound{Position: q.EndAt.Position, Inclusive: q.EndAt.Inclusive}
		}
		if q.StartAt != nil {
			endAt = &Bound{Position: q.StartAt.Position, Inclusive: q.StartAt.Inclusive}
		}
		return Target{
			Path:            q.Path,
			CollectionGroup: q.CollectionGroup,
			Filters:         q.Filters,
			OrderBy:         flipped,
			Limit:           q.Limit,
			StartAt:         startAt,
			EndAt:           endAt,
		}
	}
	return Target{
		Path:            q.Path,
		CollectionGroup: q.CollectionGroup,
		Filters:         q.Filters,
		OrderBy:         orderBy,
		Limit:           q.Limit,
		StartAt:         q.StartAt,
		EndAt:           q.EndAt,
	}
}
