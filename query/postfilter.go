package query

import (
	"fmt"

	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
)

// Reconstructed is the pair of in-memory filters rebuilt from an original
// filter expression for post-query re-evaluation.
type Reconstructed struct {
	// Full re-evaluates every term; it is applied to each hit before it is
	// returned, since the backend query is a superset match for recurring
	// series.
	Full *Filter
	// OverrideOnly keeps only the terms that stay meaningful when evaluated
	// against an override in isolation: collection-path and date-bound
	// terms. An override inherits its identity for presence, category and
	// free-text purposes from its master, so those terms cannot be re-tested
	// standalone.
	OverrideOnly *Filter
	// TermsDropped reports that OverrideOnly lost at least one term of the
	// original expression.
	TermsDropped bool
}

// Reconstruct walks the filter tree twice and returns the full and
// override-only in-memory filters. A nil result filter matches everything.
func Reconstruct(f *Filter) Reconstructed {
	r := Reconstructed{Full: f}
	if f != nil {
		r.OverrideOnly = r.overrideNode(f)
	}
	return r
}

func (r *Reconstructed) overrideNode(f *Filter) *Filter {
	switch f.Kind {
	case NodeAnd, NodeOr:
		var kept []*Filter
		for _, child := range f.Children {
			if c := r.overrideNode(child); c != nil {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			return nil
		}
		g := *f
		g.Children = kept
		return &g
	case NodeCollectionPath, NodeTimeRange, NodeHref:
		return f
	}
	r.TermsDropped = true
	return nil
}

// presenceRules tells, per property, whether the optional component is
// present on an event.
var presenceRules = map[Prop]func(*calentity.Event) bool{
	PropSummary:      func(e *calentity.Event) bool { return e.Summary != "" },
	PropDescription:  func(e *calentity.Event) bool { return e.Description != "" },
	PropStatus:       func(e *calentity.Event) bool { return e.Status != "" },
	PropTransparency: func(e *calentity.Event) bool { return e.Transparency != "" },
	PropCategory:     func(e *calentity.Event) bool { return len(e.CategoryUIDs) > 0 },
	PropContact:      func(e *calentity.Event) bool { return len(e.ContactUIDs) > 0 },
	PropLocation:     func(e *calentity.Event) bool { return e.LocationUID != "" },
	PropCompleted:    func(e *calentity.Event) bool { return !e.Completed.IsZero() },
	PropAlarmTrigger: func(e *calentity.Event) bool { return len(e.AlarmTriggers) > 0 },
}

// Matches re-evaluates a reconstructed filter against an event. AND fails
// fast on the first false child, OR succeeds fast on the first true one. A
// nil filter matches.
func Matches(f *Filter, ev *calentity.Event) (bool, error) {
	if f == nil {
		return true, nil
	}
	ok, err := matchNode(f, ev)
	if err != nil {
		return false, err
	}
	if f.Not {
		ok = !ok
	}
	return ok, nil
}

func matchNode(f *Filter, ev *calentity.Event) (bool, error) {
	switch f.Kind {
	case NodeAnd:
		for _, child := range f.Children {
			ok, err := Matches(child, ev)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case NodeOr:
		for _, child := range f.Children {
			ok, err := Matches(child, ev)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case NodePropEquals:
		return matchEquals(f, ev)
	case NodePresence:
		rule, ok := presenceRules[f.Prop]
		if !ok {
			return false, fmt.Errorf("query: property %v has no presence rule", f.Prop)
		}
		return rule(ev), nil
	case NodeTimeRange:
		return matchTimeRange(f, ev)
	case NodeEntityType:
		for _, k := range f.Types {
			if ev.Kind == k {
				return true, nil
			}
			if partner, ok := calentity.AvailabilityPair(k); ok && ev.Kind == partner {
				return true, nil
			}
		}
		return false, nil
	case NodeCollectionPath:
		return ev.ColPath == f.Value, nil
	case NodeHref:
		return ev.Href == f.Value, nil
	}
	return false, fmt.Errorf("query: unknown filter node kind %d", f.Kind)
}

func matchEquals(f *Filter, ev *calentity.Event) (bool, error) {
	switch f.Prop {
	case PropSummary:
		return ev.Summary == f.Value, nil
	case PropDescription:
		return ev.Description == f.Value, nil
	case PropStatus:
		return ev.Status == f.Value, nil
	case PropTransparency:
		return ev.Transparency == f.Value, nil
	case PropUID:
		return ev.UID == f.Value, nil
	case PropCategory:
		return containsString(ev.CategoryUIDs, f.Value), nil
	case PropContact:
		return containsString(ev.ContactUIDs, f.Value), nil
	case PropLocation:
		return ev.LocationUID == f.Value, nil
	}
	return false, fmt.Errorf("query: property %v has no equality rule", f.Prop)
}

func matchTimeRange(f *Filter, ev *calentity.Event) (bool, error) {
	switch f.Prop {
	case PropCompleted:
		return inRange(ev.Completed, f.Start, f.End), nil
	case PropDTStamp:
		return inRange(ev.DTStamp, f.Start, f.End), nil
	case PropLastModified:
		return inRange(ev.LastModified, f.Start, f.End), nil
	case PropAlarmTrigger:
		// Matches when any trigger falls in range.
		for _, trigger := range ev.AlarmTriggers {
			if inRange(trigger, f.Start, f.End) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("query: property %v has no time-range rule", f.Prop)
}

func inRange(v, start, end caldate.Value) bool {
	if v.IsZero() {
		return false
	}
	if !start.IsZero() && v.Before(start) {
		return false
	}
	if !end.IsZero() && !v.Before(end) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IntersectsWindow reports whether the event's own range [start, end)
// intersects the window [a, b). Zero-duration events match when their start
// lies inside the window. Either window bound may be zero for an open side.
func IntersectsWindow(ev *calentity.Event, a, b caldate.Value) bool {
	if ev.Start.IsZero() {
		return false
	}
	end := ev.End
	if end.IsZero() {
		end = ev.Start
	}
	if !b.IsZero() && !ev.Start.Before(b) {
		return false
	}
	if !a.IsZero() {
		if end.Compare(ev.Start) == 0 {
			return !end.Before(a)
		}
		return end.After(a)
	}
	return true
}
