// Package query compiles structured filter expressions into backend queries
// and re-evaluates them in memory against reconstructed entities.
package query

import (
	"fmt"

	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
)

// Prop identifies a filterable entity property. The set is closed: an
// operation on a property missing from the relevant mapping table is a hard
// failure, never a silent drop.
type Prop int

const (
	PropSummary Prop = iota
	PropDescription
	PropStatus
	PropTransparency
	PropUID
	PropCategory
	PropContact
	PropLocation
	PropCompleted
	PropDTStamp
	PropLastModified
	PropAlarmTrigger
)

func (p Prop) String() string {
	switch p {
	case PropSummary:
		return "summary"
	case PropDescription:
		return "description"
	case PropStatus:
		return "status"
	case PropTransparency:
		return "transparency"
	case PropUID:
		return "uid"
	case PropCategory:
		return "category"
	case PropContact:
		return "contact"
	case PropLocation:
		return "location"
	case PropCompleted:
		return "completed"
	case PropDTStamp:
		return "dtstamp"
	case PropLastModified:
		return "last-modified"
	case PropAlarmTrigger:
		return "alarm-trigger"
	}
	return fmt.Sprintf("prop(%d)", int(p))
}

// NodeKind is the kind of one filter-tree node.
type NodeKind int

const (
	NodeAnd NodeKind = iota
	NodeOr
	NodePropEquals
	NodePresence
	NodeTimeRange
	NodeEntityType
	NodeCollectionPath
	NodeHref
)

// Filter is one node of a boolean filter expression. Trees are finite and
// acyclic; depth is bounded by whatever the client sent.
type Filter struct {
	Kind NodeKind
	// Not negates the node.
	Not      bool
	Children []*Filter

	Prop  Prop
	Value string
	Types []calentity.Kind

	Start caldate.Value
	End   caldate.Value
}

// And returns the conjunction of the given filters.
func And(children ...*Filter) *Filter {
	return &Filter{Kind: NodeAnd, Children: children}
}

// Or returns the disjunction of the given filters.
func Or(children ...*Filter) *Filter {
	return &Filter{Kind: NodeOr, Children: children}
}

// PropEquals matches entities whose property equals value. For multi-valued
// properties (categories, contacts) it is a membership test.
func PropEquals(p Prop, value string) *Filter {
	return &Filter{Kind: NodePropEquals, Prop: p, Value: value}
}

// Presence matches entities that carry the optional property at all.
func Presence(p Prop) *Filter {
	return &Filter{Kind: NodePresence, Prop: p}
}

// TimeRange matches entities whose property time falls in [start, end).
// Either bound may be zero for an open range.
func TimeRange(p Prop, start, end caldate.Value) *Filter {
	return &Filter{Kind: NodeTimeRange, Prop: p, Start: start, End: end}
}

// EntityType matches entities of any of the given kinds.
func EntityType(kinds ...calentity.Kind) *Filter {
	return &Filter{Kind: NodeEntityType, Types: kinds}
}

// CollectionPath matches entities stored under the given collection path.
func CollectionPath(path string) *Filter {
	return &Filter{Kind: NodeCollectionPath, Value: path}
}

// Href matches the entity with the given href exactly.
func Href(href string) *Filter {
	return &Filter{Kind: NodeHref, Value: href}
}

// Negate returns a negated copy of f.
func (f *Filter) Negate() *Filter {
	g := *f
	g.Not = !f.Not
	return &g
}
