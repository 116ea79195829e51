// Package index turns calendar entities into index documents and owns the
// write path: recurrence expansion into master, instance and override
// documents, and the delete-then-rewrite discipline for recurring series.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/internal/log"
)

// Limits caps recurrence expansion. Both limits apply together: occurrences
// stop at whichever of the year horizon or instance count is hit first.
type Limits struct {
	MaxYears     int
	MaxInstances int
}

// DefaultLimits is used when a caller passes the zero Limits.
var DefaultLimits = Limits{MaxYears: 10, MaxInstances: 10000}

func (l Limits) orDefault() Limits {
	if l.MaxYears <= 0 {
		l.MaxYears = DefaultLimits.MaxYears
	}
	if l.MaxInstances <= 0 {
		l.MaxInstances = DefaultLimits.MaxInstances
	}
	return l
}

// BuildDocs produces the documents to write for one entity. For a recurring
// event this is the full series: every caller must first delete the
// previously indexed documents under the entity's href, since the series is
// always rewritten whole, never diffed.
func BuildDocs(entity calentity.Entity, limits Limits) ([]backend.Document, error) {
	switch e := entity.(type) {
	case *calentity.Collection:
		return []backend.Document{collectionDoc(e)}, nil
	case *calentity.Category:
		return []backend.Document{categoryDoc(e)}, nil
	case *calentity.Contact:
		return []backend.Document{contactDoc(e)}, nil
	case *calentity.Location:
		return []backend.Document{locationDoc(e)}, nil
	case *calentity.Event:
		return BuildEventDocs(e, limits)
	}
	return nil, fmt.Errorf("index: cannot index entity type %T", entity)
}

// BuildEventDocs produces the document set for an event. A non-recurring
// event yields a single plain-entity document; a recurring master yields an
// override document per override, an instance document per remaining
// generated occurrence, and exactly one master document whose index range
// spans the union of all actual ranges.
func BuildEventDocs(ev *calentity.Event, limits Limits) ([]backend.Document, error) {
	if ev.Start.IsZero() {
		return nil, fmt.Errorf("index: event %q has no start date", ev.Href)
	}
	if ev.RecurrenceID != "" || !ev.Recurring() {
		return []backend.Document{eventDoc(ev, backend.DocEntity, ev.Start, ev.End)}, nil
	}

	occurrences, err := generateOccurrences(ev, limits.orDefault())
	if err != nil {
		return nil, err
	}

	var docs []backend.Document
	var minStart, maxEnd caldate.Value
	track := func(start, end caldate.Value) {
		if minStart.IsZero() || start.Before(minStart) {
			minStart = start
		}
		if maxEnd.IsZero() || end.After(maxEnd) {
			maxEnd = end
		}
	}

	seen := make(map[string]bool)
	for rid, ov := range ev.Overrides {
		seen[rid] = true
		if ov.Start.IsZero() || ov.End.IsZero() {
			// Data-quality problem in one occurrence must not abort the
			// series.
			log.Error("index: skipping override with missing dates", nil,
				"href", ev.Href, "recurrence-id", rid)
			continue
		}
		o := *ov
		o.RecurrenceID = rid
		docs = append(docs, eventDoc(&o, backend.DocOverride, o.Start, o.End))
		track(o.Start, o.End)
	}

	for _, occ := range occurrences {
		if seen[occ.rid] {
			continue
		}
		inst := *ev
		inst.RecurrenceID = occ.rid
		inst.Start = occ.start
		inst.End = occ.end
		inst.Overrides = nil
		docs = append(docs, eventDoc(&inst, backend.DocInstance, occ.start, occ.end))
		track(occ.start, occ.end)
	}

	if minStart.IsZero() {
		// Everything was excluded or skipped; the master still anchors the
		// series under its own dates.
		minStart, maxEnd = ev.Start, ev.End
	}
	docs = append(docs, eventDoc(ev, backend.DocMaster, minStart, maxEnd))
	return docs, nil
}

type occurrence struct {
	rid        string
	start, end caldate.Value
}

// generateOccurrences expands the series' recurrence definition into
// concrete occurrence periods, in date order, capped by limits. Hitting the
// cap truncates silently; it is never an error.
func generateOccurrences(ev *calentity.Event, limits Limits) ([]occurrence, error) {
	dtstart, err := ev.Start.Time()
	if err != nil {
		return nil, fmt.Errorf("index: event %q: %v", ev.Href, err)
	}
	var duration time.Duration
	if !ev.End.IsZero() {
		dtend, err := ev.End.Time()
		if err != nil {
			return nil, fmt.Errorf("index: event %q: %v", ev.Href, err)
		}
		duration = dtend.Sub(dtstart)
	}
	horizon := dtstart.AddDate(limits.MaxYears, 0, 0)

	starts := map[int64]time.Time{dtstart.Unix(): dtstart}
	for _, rr := range ev.RRules {
		r, err := rrule.StrToRRule(rr)
		if err != nil {
			return nil, fmt.Errorf("index: event %q has a bad RRULE %q: %v", ev.Href, rr, err)
		}
		r.DTStart(dtstart)
		for _, t := range r.Between(dtstart, horizon, true) {
			starts[t.Unix()] = t
		}
	}
	for _, rd := range ev.RDates {
		t, err := rd.Time()
		if err != nil {
			log.Error("index: skipping bad RDATE", err, "href", ev.Href)
			continue
		}
		if !t.Before(dtstart) && t.Before(horizon) {
			starts[t.Unix()] = t
		}
	}
	for _, xr := range ev.ExRules {
		r, err := rrule.StrToRRule(xr)
		if err != nil {
			return nil, fmt.Errorf("index: event %q has a bad EXRULE %q: %v", ev.Href, xr, err)
		}
		r.DTStart(dtstart)
		for _, t := range r.Between(dtstart, horizon, true) {
			delete(starts, t.Unix())
		}
	}
	for _, xd := range ev.ExDates {
		t, err := xd.Time()
		if err != nil {
			log.Error("index: skipping bad EXDATE", err, "href", ev.Href)
			continue
		}
		delete(starts, t.Unix())
	}

	ordered := make([]time.Time, 0, len(starts))
	for _, t := range starts {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })
	if len(ordered) > limits.MaxInstances {
		ordered = ordered[:limits.MaxInstances]
	}

	occs := make([]occurrence, 0, len(ordered))
	for _, t := range ordered {
		occ := occurrence{rid: recurrenceID(t, ev.Start)}
		occ.start, occ.end = occurrenceRange(t, duration, ev.Start)
		occs = append(occs, occ)
	}
	return occs, nil
}

// recurrenceID renders an occurrence start as the recurrence-id overrides
// key on: the DATE form for date-only series, the UTC DATE-TIME form
// otherwise.
func recurrenceID(t time.Time, seriesStart caldate.Value) string {
	if seriesStart.DateOnly() {
		return t.UTC().Format(caldate.DateFormat)
	}
	return t.UTC().Format(caldate.UTCFormat)
}

func occurrenceRange(t time.Time, duration time.Duration, seriesStart caldate.Value) (caldate.Value, caldate.Value) {
	if seriesStart.DateOnly() {
		start := caldate.NewDate(t)
		end := caldate.NewDate(t.Add(duration))
		if duration <= 0 {
			end = caldate.NewDate(t.Add(24 * time.Hour))
		}
		return start, end
	}
	if seriesStart.TZID != "" {
		start, err := caldate.NewInZone(t, seriesStart.TZID)
		if err == nil {
			end, err := caldate.NewInZone(t.Add(duration), seriesStart.TZID)
			if err == nil {
				return start, end
			}
		}
	}
	if seriesStart.Floating {
		return caldate.NewFloating(t), caldate.NewFloating(t.Add(duration))
	}
	return caldate.NewUTC(t), caldate.NewUTC(t.Add(duration))
}

// DocID derives the stable document id for (href, kind, recurrence id), so
// a series rewrite replaces documents instead of accumulating them.
func DocID(href string, kind backend.DocKind, recurrenceID string) string {
	id := href + "#" + kind.String()
	if recurrenceID != "" {
		id += "#" + recurrenceID
	}
	return id
}

func newDoc(href string, kind backend.DocKind, fields backend.FieldMap) backend.Document {
	fields[backend.FieldHref] = href
	fields[backend.FieldDocKind] = kind.String()
	return backend.Document{
		ID:     DocID(href, kind, ""),
		Href:   href,
		Kind:   kind,
		Fields: fields,
	}
}

func eventDoc(ev *calentity.Event, kind backend.DocKind, indexStart, indexEnd caldate.Value) backend.Document {
	fields := eventFields(ev)
	if indexEnd.IsZero() {
		// An end-less event occupies its start instant; the index range must
		// still carry both bounds for range queries to see it.
		indexEnd = indexStart
	}
	indexStart.Encode(fields, backend.FieldIndexStart)
	indexEnd.Encode(fields, backend.FieldIndexEnd)

	doc := newDoc(ev.Href, kind, fields)
	doc.ID = DocID(ev.Href, kind, ev.RecurrenceID)
	doc.RecurrenceID = ev.RecurrenceID
	doc.Version = ev.Sequence
	return doc
}

func eventFields(ev *calentity.Event) backend.FieldMap {
	fields := backend.FieldMap{
		backend.FieldUID:        ev.UID,
		backend.FieldEntityType: ev.Kind.String(),
		backend.FieldOwner:      ev.Owner,
		backend.FieldPublic:     boolText(ev.Public),
	}
	setIfSet := func(name, value string) {
		if value != "" {
			fields[name] = value
		}
	}
	setIfSet(backend.FieldColPath, ev.ColPath)
	setIfSet(backend.FieldSummary, ev.Summary)
	setIfSet(backend.FieldDescription, ev.Description)
	setIfSet(backend.FieldStatus, ev.Status)
	setIfSet(backend.FieldTransparency, ev.Transparency)
	setIfSet(backend.FieldLocationUID, ev.LocationUID)
	setIfSet(backend.FieldBusyType, ev.BusyType)
	setIfSet(backend.FieldRecurrenceID, ev.RecurrenceID)

	if !ev.Start.IsZero() {
		ev.Start.Encode(fields, backend.FieldActualStart)
	}
	if !ev.End.IsZero() {
		ev.End.Encode(fields, backend.FieldActualEnd)
	}
	if !ev.DTStamp.IsZero() {
		ev.DTStamp.Encode(fields, backend.FieldDTStamp)
	}
	if !ev.LastModified.IsZero() {
		ev.LastModified.Encode(fields, backend.FieldLastModified)
	}
	if !ev.Completed.IsZero() {
		ev.Completed.Encode(fields, backend.FieldCompleted)
	}

	if len(ev.CategoryUIDs) > 0 {
		fields[backend.FieldCategoryUID] = append([]string(nil), ev.CategoryUIDs...)
	}
	if len(ev.ContactUIDs) > 0 {
		fields[backend.FieldContactUID] = append([]string(nil), ev.ContactUIDs...)
	}
	if len(ev.AvailableIDs) > 0 {
		fields[backend.FieldAvailableIDs] = append([]string(nil), ev.AvailableIDs...)
	}
	if len(ev.AlarmTriggers) > 0 {
		triggers := make([]string, len(ev.AlarmTriggers))
		for i, t := range ev.AlarmTriggers {
			triggers[i] = t.UTC
		}
		fields[backend.FieldAlarmTrigger] = triggers
	}
	for _, rr := range ev.RRules {
		fields[backend.FieldRRule] = appendString(fields[backend.FieldRRule], rr)
	}
	for _, xr := range ev.ExRules {
		fields[backend.FieldExRule] = appendString(fields[backend.FieldExRule], xr)
	}
	for _, rd := range ev.RDates {
		fields[backend.FieldRDate] = appendString(fields[backend.FieldRDate], rd.UTC)
	}
	for _, xd := range ev.ExDates {
		fields[backend.FieldExDate] = appendString(fields[backend.FieldExDate], xd.UTC)
	}
	for name, values := range ev.XProperties {
		for _, v := range values {
			key := backend.FieldXProperty + "." + name
			fields[key] = appendString(fields[key], v)
		}
	}
	if ev.Sequence != 0 {
		fields[backend.FieldSequence] = fmt.Sprintf("%d", ev.Sequence)
	}
	return fields
}

func collectionDoc(c *calentity.Collection) backend.Document {
	fields := backend.FieldMap{
		backend.FieldEntityType: calentity.KindCollection.String(),
		backend.FieldOwner:      c.Owner,
		backend.FieldPublic:     boolText(c.Public),
		backend.FieldPath:       c.Path,
	}
	if c.Name != "" {
		fields[backend.FieldName] = c.Name
	}
	if c.Description != "" {
		fields[backend.FieldDescription] = c.Description
	}
	if !c.LastModified.IsZero() {
		c.LastModified.Encode(fields, backend.FieldLastModified)
	}
	return newDoc(c.Href, backend.DocCollection, fields)
}

func categoryDoc(c *calentity.Category) backend.Document {
	fields := backend.FieldMap{
		backend.FieldEntityType: calentity.KindCategory.String(),
		backend.FieldOwner:      c.Owner,
		backend.FieldPublic:     boolText(c.Public),
		backend.FieldUID:        c.UID,
		backend.FieldWord:       c.Word,
	}
	return newDoc(c.Href, backend.DocCategory, fields)
}

func contactDoc(c *calentity.Contact) backend.Document {
	fields := backend.FieldMap{
		backend.FieldEntityType: calentity.KindContact.String(),
		backend.FieldOwner:      c.Owner,
		backend.FieldPublic:     boolText(c.Public),
		backend.FieldUID:        c.UID,
	}
	if c.Name != "" {
		fields[backend.FieldName] = c.Name
	}
	if c.Email != "" {
		fields[backend.FieldEmail] = c.Email
	}
	if c.Phone != "" {
		fields[backend.FieldPhone] = c.Phone
	}
	return newDoc(c.Href, backend.DocContact, fields)
}

func locationDoc(l *calentity.Location) backend.Document {
	fields := backend.FieldMap{
		backend.FieldEntityType: calentity.KindLocation.String(),
		backend.FieldOwner:      l.Owner,
		backend.FieldPublic:     boolText(l.Public),
		backend.FieldUID:        l.UID,
	}
	if l.Address != "" {
		fields[backend.FieldAddress] = l.Address
	}
	if l.Subaddress != "" {
		fields[backend.FieldSubaddress] = l.Subaddress
	}
	return newDoc(l.Href, backend.DocLocation, fields)
}

func appendString(existing interface{}, s string) []string {
	list, _ := existing.([]string)
	return append(list, s)
}

func boolText(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
