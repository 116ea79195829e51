// Package calentity defines the typed calendar entities the search core
// indexes and reconstructs: collections, categories, contacts, locations and
// events (including recurring series with per-instance overrides).
package calentity

import (
	"fmt"

	"github.com/bedework/go-calsearch/caldate"
)

// Kind identifies the type of a calendar entity.
type Kind int

const (
	KindCollection Kind = iota
	KindCategory
	KindContact
	KindLocation
	KindEvent
	KindTask
	KindAvailability
	KindAvailable
)

// String returns the wire name of the kind, as stored in index documents.
func (k Kind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindCategory:
		return "category"
	case KindContact:
		return "contact"
	case KindLocation:
		return "location"
	case KindEvent:
		return "event"
	case KindTask:
		return "task"
	case KindAvailability:
		return "vavailability"
	case KindAvailable:
		return "available"
	}
	panic("calentity: invalid entity kind")
}

// ParseKind parses a wire name produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindCollection; k <= KindAvailable; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("calentity: unknown entity kind %q", s)
}

// AvailabilityPair returns the partner kind for the two halves of an
// availability compound, and ok=false for every other kind. Filters on
// either half must always cover both, so the pair can never be split by a
// client filter.
func AvailabilityPair(k Kind) (Kind, bool) {
	switch k {
	case KindAvailability:
		return KindAvailable, true
	case KindAvailable:
		return KindAvailability, true
	}
	return 0, false
}

// Entity is the common read surface of every indexable calendar entity.
type Entity interface {
	EntityHref() string
	EntityKind() Kind
	// EntityOwner returns the principal href of the owner, and whether the
	// entity is publicly visible.
	EntityOwner() (owner string, public bool)
}

// Shared carries the fields every entity has. It is embedded, not used on
// its own.
type Shared struct {
	Href   string
	Owner  string
	Public bool
}

func (s *Shared) EntityHref() string          { return s.Href }
func (s *Shared) EntityOwner() (string, bool) { return s.Owner, s.Public }

// Collection is a calendar collection (a folder of calendar resources).
type Collection struct {
	Shared
	Path         string
	Name         string
	Description  string
	LastModified caldate.Value
}

func (c *Collection) EntityKind() Kind { return KindCollection }

// Category is a keyword entity referenced by events by UID.
type Category struct {
	Shared
	UID  string
	Word string
}

func (c *Category) EntityKind() Kind { return KindCategory }

// Contact is an event contact, typically sourced from a vCard.
type Contact struct {
	Shared
	UID   string
	Name  string
	Email string
	Phone string
}

func (c *Contact) EntityKind() Kind { return KindContact }

// Location is a place an event happens at.
type Location struct {
	Shared
	UID        string
	Address    string
	Subaddress string
}

func (l *Location) EntityKind() Kind { return KindLocation }

// Composite is the externally visible shape of a query hit: the entity
// itself plus, for a recurring master, its overrides, and, for an
// availability container, its contained available items.
type Composite struct {
	Master    *Event
	Overrides []*Event
	Contained []*Event
}

// Less defines the natural ordering of composites: by master href, then by
// recurrence id. The ordering is total and stable, and is what final result
// sets are deduplicated and sorted by.
func (c *Composite) Less(o *Composite) bool {
	if c.Master.Href != o.Master.Href {
		return c.Master.Href < o.Master.Href
	}
	return c.Master.RecurrenceID < o.Master.RecurrenceID
}
