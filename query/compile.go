package query

import (
	"fmt"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
)

// Mode selects the query semantics for recurring series.
type Mode int

const (
	// ModeExpanded returns literal occurrences: instance, override and
	// plain-entity documents, matched on their actual range.
	ModeExpanded Mode = iota
	// ModeMasterOverride preserves series identity: master, override and
	// plain-entity documents, matched on their index range. A master's index
	// range spans its whole series, so the master stands in for every
	// occurrence, including ones outside the query window.
	ModeMasterOverride
)

// equalityFields maps a property to the document field an equality or
// presence test compiles against.
var equalityFields = map[Prop]string{
	PropSummary:      backend.FieldSummary,
	PropDescription:  backend.FieldDescription,
	PropStatus:       backend.FieldStatus,
	PropTransparency: backend.FieldTransparency,
	PropUID:          backend.FieldUID,
	PropCategory:     backend.FieldCategoryUID,
	PropContact:      backend.FieldContactUID,
	PropLocation:     backend.FieldLocationUID,
}

// timeFields maps a property to the comparable document field a time-range
// test compiles against.
var timeFields = map[Prop]string{
	PropCompleted:    backend.FieldCompleted + backend.UTCSuffix,
	PropDTStamp:      backend.FieldDTStamp + backend.UTCSuffix,
	PropLastModified: backend.FieldLastModified + backend.UTCSuffix,
	PropAlarmTrigger: backend.FieldAlarmTrigger,
}

// presenceFields maps a property to the document field whose existence
// encodes "the optional component is present".
var presenceFields = map[Prop]string{
	PropCategory:     backend.FieldCategoryUID,
	PropContact:      backend.FieldContactUID,
	PropLocation:     backend.FieldLocationUID,
	PropDescription:  backend.FieldDescription,
	PropStatus:       backend.FieldStatus,
	PropCompleted:    backend.FieldCompleted + backend.UTCSuffix,
	PropAlarmTrigger: backend.FieldAlarmTrigger,
}

// Compiled is the result of translating a filter expression.
type Compiled struct {
	Query *backend.Query
	// ScopeLimited reports that the filter already bounds the result set to
	// a known collection subtree or href, so the default ownership clause
	// was not added.
	ScopeLimited bool
	// ExactKey reports that the filter pins an exact href.
	ExactKey bool
}

type compiler struct {
	mode         Mode
	scopeLimited bool
	exactKey     bool
}

// Compile translates a filter tree plus optional date-range bounds into a
// backend query scoped to the requesting principal. A nil filter matches
// everything visible to the principal. An unrecognized node kind or an
// unmapped property fails the whole compilation.
func Compile(f *Filter, start, end caldate.Value, mode Mode, principal backend.Principal) (*Compiled, error) {
	c := &compiler{mode: mode}

	var q *backend.Query
	if f == nil {
		q = backend.MatchAll()
	} else {
		var err error
		q, err = c.node(f, true)
		if err != nil {
			return nil, err
		}
	}

	if rq := c.dateRange(start, end); rq != nil {
		q = backend.And(q, rq)
	}
	q = backend.And(q, c.modeClause())

	if !c.scopeLimited && !principal.Superuser {
		q = backend.And(q, backend.Or(
			backend.Term(backend.FieldPublic, "true"),
			backend.Term(backend.FieldOwner, principal.Href),
		))
	}

	return &Compiled{Query: q, ScopeLimited: c.scopeLimited, ExactKey: c.exactKey}, nil
}

// node compiles one filter node. conj reports that the node is in
// conjunctive context: every ancestor is a non-negated AND, so the node's
// match is a necessary condition on the whole result set. Only path and href
// terms in conjunctive context may limit the query scope; a path term under
// an OR or a negation bounds nothing.
func (c *compiler) node(f *Filter, conj bool) (*backend.Query, error) {
	var q *backend.Query
	var err error

	switch f.Kind {
	case NodeAnd, NodeOr:
		q, err = c.boolean(f, conj)
	case NodePropEquals:
		field, ok := equalityFields[f.Prop]
		if !ok {
			return nil, fmt.Errorf("query: property %v has no equality mapping", f.Prop)
		}
		q = backend.Term(field, f.Value)
	case NodePresence:
		field, ok := presenceFields[f.Prop]
		if !ok {
			return nil, fmt.Errorf("query: property %v has no presence mapping", f.Prop)
		}
		q = backend.Exists(field)
	case NodeTimeRange:
		field, ok := timeFields[f.Prop]
		if !ok {
			return nil, fmt.Errorf("query: property %v has no time-range mapping", f.Prop)
		}
		q = timeRangeQuery(field, f.Start, f.End)
	case NodeEntityType:
		q = backend.Terms(backend.FieldEntityType, typeNames(f.Types)...)
	case NodeCollectionPath:
		q = backend.Term(backend.FieldColPath, f.Value)
		if !f.Not && conj {
			c.scopeLimited = true
		}
	case NodeHref:
		q = backend.Term(backend.FieldHref, f.Value)
		if !f.Not && conj {
			c.scopeLimited = true
			c.exactKey = true
		}
	default:
		return nil, fmt.Errorf("query: unknown filter node kind %d", f.Kind)
	}
	if err != nil {
		return nil, err
	}

	if f.Not {
		q = backend.Not(q)
	}
	return q, nil
}

// boolean compiles an AND/OR node, coalescing adjacent non-negated equality
// terms on the same field into a single set-membership term. The rewrite is
// an optimization only; it selects the same documents as the expanded form.
func (c *compiler) boolean(f *Filter, conj bool) (*backend.Query, error) {
	childConj := conj && f.Kind == NodeAnd && !f.Not
	var parts []*backend.Query

	var pendingField string
	var pendingValues []string
	flush := func() {
		if pendingField == "" {
			return
		}
		if f.Kind == NodeAnd {
			parts = append(parts, backend.AllTerms(pendingField, pendingValues...))
		} else {
			parts = append(parts, backend.Terms(pendingField, pendingValues...))
		}
		pendingField, pendingValues = "", nil
	}

	for _, child := range f.Children {
		if child.Kind == NodePropEquals && !child.Not {
			field, ok := equalityFields[child.Prop]
			if !ok {
				return nil, fmt.Errorf("query: property %v has no equality mapping", child.Prop)
			}
			if field != pendingField {
				flush()
				pendingField = field
			}
			pendingValues = append(pendingValues, child.Value)
			continue
		}
		flush()
		q, err := c.node(child, childConj)
		if err != nil {
			return nil, err
		}
		parts = append(parts, q)
	}
	flush()

	if f.Kind == NodeAnd {
		return backend.And(parts...), nil
	}
	return backend.Or(parts...), nil
}

// typeNames renders entity kinds for the type field, always widening either
// half of an availability compound to the full pair so a filter can never
// split container from sub-item.
func typeNames(kinds []calentity.Kind) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(k calentity.Kind) {
		name := k.String()
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, k := range kinds {
		add(k)
		if partner, ok := calentity.AvailabilityPair(k); ok {
			add(partner)
		}
	}
	return out
}

// timeRangeQuery builds the inclusive-start, exclusive-end range test for a
// scalar time field. Either bound may be absent for an open range.
func timeRangeQuery(field string, start, end caldate.Value) *backend.Query {
	var gte, lt string
	if !start.IsZero() {
		gte = start.UTC
	}
	if !end.IsZero() {
		lt = end.UTC
	}
	return backend.Range(field, "", gte, lt, "")
}

// dateRange builds the window-intersection clause for the request's date
// bounds. Which start/end fields it compares depends on the retrieval mode:
// expanded mode matches the actual occurrence range, master+override mode
// the widened index range.
func (c *compiler) dateRange(start, end caldate.Value) *backend.Query {
	if start.IsZero() && end.IsZero() {
		return nil
	}

	startField, endField := backend.FieldActualStart, backend.FieldActualEnd
	if c.mode == ModeMasterOverride {
		startField, endField = backend.FieldIndexStart, backend.FieldIndexEnd
	}
	startField += backend.UTCSuffix
	endField += backend.UTCSuffix

	// A document [s, e) intersects the window [a, b) when s < b and e > a.
	var parts []*backend.Query
	if !end.IsZero() {
		parts = append(parts, backend.Range(startField, "", "", end.UTC, ""))
	}
	if !start.IsZero() {
		parts = append(parts, backend.Range(endField, start.UTC, "", "", ""))
	}
	return backend.And(parts...)
}

// modeClause excludes the document kinds the retrieval mode never returns:
// masters in expanded mode, generated instances in master+override mode.
func (c *compiler) modeClause() *backend.Query {
	var excluded backend.DocKind
	switch c.mode {
	case ModeExpanded:
		excluded = backend.DocMaster
	case ModeMasterOverride:
		excluded = backend.DocInstance
	default:
		return nil
	}
	return backend.Not(backend.Term(backend.FieldDocKind, excluded.String()))
}
