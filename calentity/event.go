package calentity

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"

	"github.com/bedework/go-calsearch/caldate"
)

// Event status and transparency values, per RFC 5545 sections 3.8.1.11 and
// 3.8.2.7.
const (
	StatusTentative = "TENTATIVE"
	StatusCancelled = "CANCELLED"

	TranspOpaque      = "OPAQUE"
	TranspTransparent = "TRANSPARENT"
)

// Event is a calendar event or task. The same type carries a recurring
// master (Overrides non-empty or recurrence rules present), a single
// occurrence of a master (RecurrenceID set) and a plain non-recurring event.
type Event struct {
	Shared
	UID     string
	ColPath string

	Kind Kind // KindEvent, KindTask, KindAvailability or KindAvailable

	Summary     string
	Description string
	Status      string
	// Transparency is the per-user free/busy transparency.
	Transparency string

	Start caldate.Value
	End   caldate.Value

	// RecurrenceID is set on overrides and generated instances, empty on
	// masters and non-recurring events.
	RecurrenceID string

	RRules  []string
	ExRules []string
	RDates  []caldate.Value
	ExDates []caldate.Value

	// Overrides maps recurrence id to the per-instance modification. Only a
	// master carries overrides.
	Overrides map[string]*Event

	DTStamp      caldate.Value
	LastModified caldate.Value
	Completed    caldate.Value
	// AlarmTriggers are the absolute trigger times of the event's alarms.
	AlarmTriggers []caldate.Value

	CategoryUIDs []string
	ContactUIDs  []string
	LocationUID  string

	// Categories, Contacts and Location are the resolved forms of the UID
	// references above, attached at read time. Never indexed.
	Categories []*Category
	Contacts   []*Contact
	Location   *Location

	// AvailableIDs, on a KindAvailability container, lists the ids of its
	// contained available items.
	AvailableIDs []string
	// BusyType is the free/busy classification of a KindAvailable item.
	BusyType string

	XProperties map[string][]string

	Sequence int64
}

func (e *Event) EntityKind() Kind { return e.Kind }

// Recurring reports whether e defines a recurring series.
func (e *Event) Recurring() bool {
	return len(e.RRules) > 0 || len(e.ExRules) > 0 || len(e.RDates) > 0 ||
		len(e.Overrides) > 0
}

// Tentative reports whether the event counts as tentatively busy for
// free/busy purposes.
func (e *Event) Tentative() bool { return e.Status == StatusTentative }

// EventFromICal builds an Event from an iCalendar object. The first
// component without a RECURRENCE-ID becomes the master; every component
// carrying one becomes an override keyed by its recurrence id. The entity
// href is the master UID unless href is given.
func EventFromICal(cal *ical.Calendar, href string) (*Event, error) {
	var master *Event
	var overrides []*Event

	for _, child := range cal.Component.Children {
		var kind Kind
		switch child.Name {
		case ical.CompEvent:
			kind = KindEvent
		case ical.CompToDo:
			kind = KindTask
		case "VAVAILABILITY":
			kind = KindAvailability
		default:
			continue
		}

		ev, err := eventFromComp(child, kind)
		if err != nil {
			return nil, err
		}
		if ev.RecurrenceID != "" {
			overrides = append(overrides, ev)
		} else if master == nil {
			master = ev
		} else {
			return nil, fmt.Errorf("calentity: calendar object has more than one master component")
		}
	}
	if master == nil {
		return nil, fmt.Errorf("calentity: calendar object has no event component")
	}

	if href == "" {
		href = master.UID
	}
	master.Href = href
	for _, ov := range overrides {
		if ov.UID != master.UID {
			return nil, fmt.Errorf("calentity: override UID %q does not match master UID %q", ov.UID, master.UID)
		}
		ov.Href = href
		ov.ColPath = master.ColPath
		if master.Overrides == nil {
			master.Overrides = make(map[string]*Event)
		}
		master.Overrides[ov.RecurrenceID] = ov
	}
	return master, nil
}

func eventFromComp(comp *ical.Component, kind Kind) (*Event, error) {
	ev := &Event{Kind: kind}

	if p := comp.Props.Get(ical.PropUID); p != nil {
		ev.UID = p.Value
	}
	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropStatus); p != nil {
		ev.Status = p.Value
	}
	if p := comp.Props.Get(ical.PropTransparency); p != nil {
		ev.Transparency = p.Value
	}

	start, err := propDate(comp, ical.PropDateTimeStart)
	if err != nil {
		return nil, err
	}
	ev.Start = start

	end, err := propDate(comp, ical.PropDateTimeEnd)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		if due, err := propDate(comp, ical.PropDue); err == nil && !due.IsZero() {
			end = due
		} else if p := comp.Props.Get(ical.PropDuration); p != nil && !start.IsZero() {
			end, err = addDuration(start, p.Value)
			if err != nil {
				return nil, err
			}
		} else {
			end = start
		}
	}
	ev.End = end

	rid, err := propDate(comp, ical.PropRecurrenceID)
	if err != nil {
		return nil, err
	}
	if !rid.IsZero() {
		ev.RecurrenceID = rid.UTC
	}

	for _, p := range comp.Props.Values(ical.PropRecurrenceRule) {
		ev.RRules = append(ev.RRules, p.Value)
	}
	for _, p := range comp.Props.Values("EXRULE") {
		ev.ExRules = append(ev.ExRules, p.Value)
	}
	rdates, err := propDates(comp, ical.PropRecurrenceDates)
	if err != nil {
		return nil, err
	}
	ev.RDates = rdates
	exdates, err := propDates(comp, ical.PropExceptionDates)
	if err != nil {
		return nil, err
	}
	ev.ExDates = exdates

	ev.DTStamp, _ = optionalPropDate(comp, ical.PropDateTimeStamp)
	ev.LastModified, _ = optionalPropDate(comp, ical.PropLastModified)
	ev.Completed, _ = optionalPropDate(comp, ical.PropCompleted)

	for _, p := range comp.Props.Values(ical.PropCategories) {
		ev.CategoryUIDs = append(ev.CategoryUIDs, p.Value)
	}

	for name, props := range comp.Props {
		if len(name) < 2 || name[:2] != "X-" {
			continue
		}
		if ev.XProperties == nil {
			ev.XProperties = make(map[string][]string)
		}
		for _, p := range props {
			ev.XProperties[name] = append(ev.XProperties[name], p.Value)
		}
	}

	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		p := child.Props.Get(ical.PropTrigger)
		if p == nil {
			continue
		}
		// Only absolute triggers (VALUE=DATE-TIME) index as times; relative
		// triggers need the occurrence they attach to and are resolved at
		// indexing time instead.
		if t, err := p.DateTime(time.UTC); err == nil {
			ev.AlarmTriggers = append(ev.AlarmTriggers, caldate.NewUTC(t))
		}
	}

	return ev, nil
}

func propDate(comp *ical.Component, name string) (caldate.Value, error) {
	p := comp.Props.Get(name)
	if p == nil {
		return caldate.Value{}, nil
	}
	return dateFromProp(p)
}

func optionalPropDate(comp *ical.Component, name string) (caldate.Value, error) {
	v, err := propDate(comp, name)
	if err != nil {
		return caldate.Value{}, nil
	}
	return v, nil
}

func propDates(comp *ical.Component, name string) ([]caldate.Value, error) {
	var out []caldate.Value
	for _, p := range comp.Props.Values(name) {
		p := p
		v, err := dateFromProp(&p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func dateFromProp(p *ical.Prop) (caldate.Value, error) {
	t, err := p.DateTime(time.UTC)
	if err != nil {
		return caldate.Value{}, fmt.Errorf("calentity: bad %v value %q: %v", p.Name, p.Value, err)
	}
	if p.ValueType() == ical.ValueDate {
		return caldate.NewDate(t), nil
	}
	tzid := p.Params.Get(ical.ParamTimezoneID)
	if tzid != "" {
		return caldate.NewInZone(t, tzid)
	}
	if len(p.Value) == len(caldate.LocalFormat) {
		// No TZID and no zone designator: a floating time.
		return caldate.NewFloating(t), nil
	}
	return caldate.NewUTC(t), nil
}

func addDuration(start caldate.Value, dur string) (caldate.Value, error) {
	d, err := parseDuration(dur)
	if err != nil {
		return caldate.Value{}, err
	}
	t, err := start.Time()
	if err != nil {
		return caldate.Value{}, err
	}
	t = t.Add(d)
	switch {
	case start.DateOnly():
		return caldate.NewDate(t), nil
	case start.Floating:
		return caldate.NewFloating(t), nil
	case start.TZID != "":
		return caldate.NewInZone(t, start.TZID)
	}
	return caldate.NewUTC(t), nil
}

// parseDuration parses an RFC 5545 DURATION value (section 3.3.6). Nominal
// day and week durations are treated as exact multiples of 24 hours.
func parseDuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	switch {
	case len(s) > 0 && s[0] == '-':
		neg = true
		s = s[1:]
	case len(s) > 0 && s[0] == '+':
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("calentity: bad duration %q", orig)
	}
	s = s[1:]

	var d time.Duration
	var n int64
	inTime := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int64(c-'0')
		case c == 'T':
			inTime = true
		case c == 'W':
			d += time.Duration(n) * 7 * 24 * time.Hour
			n = 0
		case c == 'D':
			d += time.Duration(n) * 24 * time.Hour
			n = 0
		case c == 'H' && inTime:
			d += time.Duration(n) * time.Hour
			n = 0
		case c == 'M' && inTime:
			d += time.Duration(n) * time.Minute
			n = 0
		case c == 'S' && inTime:
			d += time.Duration(n) * time.Second
			n = 0
		default:
			return 0, fmt.Errorf("calentity: bad duration %q", orig)
		}
	}
	if neg {
		d = -d
	}
	return d, nil
}
