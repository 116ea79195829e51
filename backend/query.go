package backend

import (
	"fmt"
	"strings"
)

// Op is the operator of a Query node. The set is closed; backends switch
// over it exhaustively.
type Op int

const (
	OpMatchAll Op = iota
	OpAnd
	OpOr
	OpNot
	// OpTerm matches documents whose field contains the exact value.
	OpTerm
	// OpTerms matches documents whose field contains any of the values.
	OpTerms
	// OpExists matches documents that carry the field at all.
	OpExists
	// OpRange matches documents whose field value falls within the given
	// bounds under lexical comparison. Empty bounds are open.
	OpRange
)

// Query is a compiled backend query: a finite tree of operator nodes built
// functionally, never mutated after construction.
type Query struct {
	Op     Op
	Field  string
	Value  string
	Values []string
	// All, on an OpTerms node, requires the field to contain every value
	// rather than any of them.
	All      bool
	GT, GTE  string
	LT, LTE  string
	Children []*Query
}

// MatchAll returns a query matching every document.
func MatchAll() *Query { return &Query{Op: OpMatchAll} }

// And combines queries conjunctively. Nil children are skipped; a single
// child collapses to itself.
func And(qs ...*Query) *Query { return combine(OpAnd, qs) }

// Or combines queries disjunctively, with the same collapsing as And.
func Or(qs ...*Query) *Query { return combine(OpOr, qs) }

func combine(op Op, qs []*Query) *Query {
	var kept []*Query
	for _, q := range qs {
		if q != nil {
			kept = append(kept, q)
		}
	}
	switch len(kept) {
	case 0:
		return MatchAll()
	case 1:
		return kept[0]
	}
	return &Query{Op: op, Children: kept}
}

// Not negates q.
func Not(q *Query) *Query { return &Query{Op: OpNot, Children: []*Query{q}} }

// Term matches field == value.
func Term(field, value string) *Query {
	return &Query{Op: OpTerm, Field: field, Value: value}
}

// Terms matches documents whose field contains any of the values, the
// set-membership form same-field equality terms coalesce into.
func Terms(field string, values ...string) *Query {
	if len(values) == 1 {
		return Term(field, values[0])
	}
	return &Query{Op: OpTerms, Field: field, Values: values}
}

// AllTerms matches documents whose field contains every value. The
// coalesced form of same-field equality terms under a conjunction.
func AllTerms(field string, values ...string) *Query {
	if len(values) == 1 {
		return Term(field, values[0])
	}
	return &Query{Op: OpTerms, Field: field, Values: values, All: true}
}

// Exists matches documents carrying field.
func Exists(field string) *Query { return &Query{Op: OpExists, Field: field} }

// Range matches field values within the given bounds. Use the empty string
// for an open bound; at most one lower and one upper bound may be set.
func Range(field, gt, gte, lt, lte string) *Query {
	return &Query{Op: OpRange, Field: field, GT: gt, GTE: gte, LT: lt, LTE: lte}
}

// String renders the query for diagnostics.
func (q *Query) String() string {
	if q == nil {
		return "<nil>"
	}
	switch q.Op {
	case OpMatchAll:
		return "*"
	case OpAnd, OpOr:
		parts := make([]string, len(q.Children))
		for i, c := range q.Children {
			parts[i] = c.String()
		}
		sep := " AND "
		if q.Op == OpOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")"
	case OpNot:
		return "NOT " + q.Children[0].String()
	case OpTerm:
		return fmt.Sprintf("%s=%q", q.Field, q.Value)
	case OpTerms:
		return fmt.Sprintf("%s in %q", q.Field, q.Values)
	case OpExists:
		return fmt.Sprintf("exists(%s)", q.Field)
	case OpRange:
		return fmt.Sprintf("%s in [%s%s..%s%s]", q.Field, q.GT, q.GTE, q.LT, q.LTE)
	}
	return "<invalid>"
}
