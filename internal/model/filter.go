package model

import "strings"

// Operator defines the supported field filter operators.
type Operator string

const (
	OpLt               Operator = "<"
	OpLte              Operator = "<="
	OpEq               Operator = "=="
	OpNeq              Operator = "!="
	OpGt               Operator = ">"
	OpGte              Operator = ">="
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
)

// IsValid checks if the operator is valid.
func (op Operator) IsValid() bool {
	switch op {
	case OpLt, OpLte, OpEq, OpNeq, OpGt, OpGte,
		OpArrayContains, OpArrayContainsAny, OpIn, OpNotIn:
		return true
	}
	return false
}

// IsInequality reports whether the operator constrains a field ordering.
func (op Operator) IsInequality() bool {
	switch op {
	case OpLt, OpLte, OpGt, OpGte, OpNeq, OpNotIn:
		return true
	}
	return false
}

// CompositeOperator combines child filters.
type CompositeOperator string

const (
	CompositeAnd CompositeOperator = "and"
	CompositeOr  CompositeOperator = "or"
)

// Filter is the closed filter-tree node: either a FieldFilter leaf or a
// CompositeFilter. No other implementations exist.
type Filter interface {
	Matches(doc *Document) bool
	Canonical() string
	isFilter()
}

// FieldFilter is a single field comparison.
type FieldFilter struct {
	Field FieldPath
	Op    Operator
	Value Value
}

func (FieldFilter) isFilter() {}

// Matches evaluates the filter against a document. Equality and inequality
// against NaN and null are special-cased rather than using the generic value
// order.
func (f FieldFilter) Matches(doc *Document) bool {
	if f.Value.IsNaN() {
		return f.matchesNaN(doc)
	}
	if f.Value.IsNull() {
		return f.matchesNull(doc)
	}

	value, ok := doc.Field(f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case OpArrayContains:
		if value.Kind != KindArray {
			return false
		}
		for _, e := range value.ArrayVal {
			if ValuesEqual(e, f.Value) {
				return true
			}
		}
		return false
	case OpArrayContainsAny:
		if value.Kind != KindArray || f.Value.Kind != KindArray {
			return false
		}
		for _, e := range value.ArrayVal {
			for _, fv := range f.Value.ArrayVal {
				if ValuesEqual(e, fv) {
					return true
				}
			}
		}
		return false
	case OpIn:
		if f.Value.Kind != KindArray {
			return false
		}
		for _, fv := range f.Value.ArrayVal {
			if ValuesEqual(value, fv) {
				return true
			}
		}
		return false
	case OpNotIn:
		if f.Value.Kind != KindArray || value.IsNull() || value.IsNaN() {
			return false
		}
		for _, fv := range f.Value.ArrayVal {
			if ValuesEqual(value, fv) {
				return false
			}
		}
		return true
	case OpNeq:
		// Cross-type values are unequal and therefore match.
		if value.IsNull() || value.IsNaN() {
			return false
		}
		if typeRank(value) != typeRank(f.Value) {
			return true
		}
		return CompareValues(value, f.Value) != 0
	default:
		// Ordered comparisons only apply within one type rank.
		if typeRank(value) != typeRank(f.Value) {
			return false
		}
		return matchesComparison(f.Op, CompareValues(value, f.Value))
	}
}

// matchesNaN implements the IS_NAN / IS_NOT_NAN operators.
func (f FieldFilter) matchesNaN(doc *Document) bool {
	value, ok := doc.Field(f.Field)
	switch f.Op {
	case OpEq:
		return ok && value.IsNaN()
	case OpNeq:
		return ok && !value.IsNaN() && !value.IsNull()
	}
	return false
}

// matchesNull implements the IS_NULL / IS_NOT_NULL operators.
func (f FieldFilter) matchesNull(doc *Document) bool {
	value, ok := doc.Field(f.Field)
	switch f.Op {
	case OpEq:
		return ok && value.IsNull()
	case OpNeq:
		return ok && !value.IsNull() && !value.IsNaN()
	}
	return false
}

func matchesComparison(op Operator, comparison int) bool {
	switch op {
	case OpLt:
		return comparison < 0
	case OpLte:
		return comparison <= 0
	case OpEq:
		return comparison == 0
	case OpGt:
		return comparison > 0
	case OpGte:
		return comparison >= 0
	}
	return false
}

func (f FieldFilter) Canonical() string {
	return f.Field.String() + string(f.Op) + f.Value.Canonical()
}

// CompositeFilter combines child filters with AND or OR.
type CompositeFilter struct {
	Op      CompositeOperator
	Filters []Filter
}

func (CompositeFilter) isFilter() {}

func (f CompositeFilter) Matches(doc *Document) bool {
	if f.Op == CompositeAnd {
		for _, child := range f.Filters {
			if !child.Matches(doc) {
				return false
			}
		}
		return true
	}
	for _, child := range f.Filters {
		if child.Matches(doc) {
			return true
		}
	}
	return false
}

func (f CompositeFilter) Canonical() string {
	parts := make([]string, len(f.Filters))
	for i, child := range f.Filters {
		parts[i] = child.Canonical()
	}
	return string(f.Op) + "(" + strings.Join(parts, ",") + ")"
}

// FiltersEqual compares two filter trees structurally.
func FiltersEqual(a, b Filter) bool {
	return a.Canonical() == b.Canonical()
}

// fieldFilters flattens a filter tree into its leaves.
func fieldFilters(f Filter, out []FieldFilter) []FieldFilter {
	switch ff := f.(type) {
	case FieldFilter:
		out = append(out, ff)
	case CompositeFilter:
		for _, child := range ff.Filters {
			out = fieldFilters(child, out)
		}
	}
	return out
}
