package compose

import (
	"sort"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/internal/log"
	"github.com/bedework/go-calsearch/query"
)

// Result is the composed form of one page of hits.
type Result struct {
	Composites []*calentity.Composite
	Entities   []calentity.Entity

	// OrphanOverrides are override hits whose master was absent from the
	// hit set. They are surfaced for diagnostic inspection, never silently
	// dropped.
	OrphanOverrides []*calentity.Event
	// UnclaimedAvailable are available sub-items whose container never
	// surfaced during the pass.
	UnclaimedAvailable []*calentity.Event
}

// Compose pairs master documents with their overrides, and availability
// containers with their sub-items, from an ordered sequence of raw hits
// that have already been access-filtered. In expanded mode override hits
// are literal occurrences and stand alone. The final set is ordered by
// entity natural ordering.
func Compose(docs []backend.Document, mode query.Mode) (*Result, error) {
	res := &Result{}

	type key struct {
		href string
		rid  string
	}
	composites := make(map[key]*calentity.Composite)
	overrides := make(map[string][]*calentity.Event)
	containers := make(map[string]*calentity.Composite)
	var unclaimed []*calentity.Event

	addComposite := func(ev *calentity.Event) *calentity.Composite {
		k := key{ev.Href, ev.RecurrenceID}
		if existing, ok := composites[k]; ok {
			return existing
		}
		c := &calentity.Composite{Master: ev}
		composites[k] = c
		return c
	}

	claim := func(c *calentity.Composite) {
		idSet := make(map[string]bool, len(c.Master.AvailableIDs))
		for _, id := range c.Master.AvailableIDs {
			idSet[id] = true
		}
		var held []*calentity.Event
		for _, item := range unclaimed {
			if idSet[item.UID] {
				c.Contained = append(c.Contained, item)
			} else {
				held = append(held, item)
			}
		}
		unclaimed = held
	}

	for _, doc := range docs {
		entity, err := Build(doc.Kind, doc.Fields)
		if err != nil {
			return nil, err
		}

		ev, ok := entity.(*calentity.Event)
		if !ok {
			res.Entities = append(res.Entities, entity)
			continue
		}

		switch {
		case doc.Kind == backend.DocOverride && mode == query.ModeMasterOverride:
			overrides[ev.Href] = append(overrides[ev.Href], ev)
		case ev.Kind == calentity.KindAvailability:
			c := addComposite(ev)
			containers[ev.Href] = c
			claim(c)
		case ev.Kind == calentity.KindAvailable:
			claimed := false
			for _, c := range containers {
				for _, id := range c.Master.AvailableIDs {
					if id == ev.UID {
						c.Contained = append(c.Contained, ev)
						claimed = true
						break
					}
				}
				if claimed {
					break
				}
			}
			if !claimed {
				// Held until a matching container surfaces later in the
				// same pass.
				unclaimed = append(unclaimed, ev)
			}
		default:
			addComposite(ev)
		}
	}

	for href, ovs := range overrides {
		master, ok := composites[key{href, ""}]
		if !ok {
			log.Warn("compose: overrides retrieved without their master",
				"href", href, "count", len(ovs))
			res.OrphanOverrides = append(res.OrphanOverrides, ovs...)
			continue
		}
		sort.Slice(ovs, func(i, j int) bool {
			return ovs[i].RecurrenceID < ovs[j].RecurrenceID
		})
		master.Overrides = append(master.Overrides, ovs...)
	}

	if len(unclaimed) > 0 {
		for _, item := range unclaimed {
			log.Warn("compose: dropping available item with no container",
				"uid", item.UID, "href", item.Href)
		}
		res.UnclaimedAvailable = unclaimed
	}

	for _, c := range composites {
		res.Composites = append(res.Composites, c)
	}
	sort.Slice(res.Composites, func(i, j int) bool {
		return res.Composites[i].Less(res.Composites[j])
	})
	return res, nil
}
