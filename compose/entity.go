// Package compose reconstructs typed entities from raw index hits and
// reassembles recurring series and availability compounds into composite
// results.
package compose

import (
	"fmt"
	"strconv"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
)

// Build reconstructs a typed entity from a raw indexed field map, the
// inverse of the document builder for read paths. It is a pure function.
// Unknown or absent fields default to empty, never fail: documents written
// under an older field schema stay readable.
func Build(kind backend.DocKind, fields backend.FieldMap) (calentity.Entity, error) {
	switch kind {
	case backend.DocMaster, backend.DocInstance, backend.DocOverride, backend.DocEntity:
		return buildEvent(fields), nil
	case backend.DocCollection:
		return &calentity.Collection{
			Shared:       shared(fields),
			Path:         str(fields, backend.FieldPath),
			Name:         str(fields, backend.FieldName),
			Description:  str(fields, backend.FieldDescription),
			LastModified: date(fields, backend.FieldLastModified),
		}, nil
	case backend.DocCategory:
		return &calentity.Category{
			Shared: shared(fields),
			UID:    str(fields, backend.FieldUID),
			Word:   str(fields, backend.FieldWord),
		}, nil
	case backend.DocContact:
		return &calentity.Contact{
			Shared: shared(fields),
			UID:    str(fields, backend.FieldUID),
			Name:   str(fields, backend.FieldName),
			Email:  str(fields, backend.FieldEmail),
			Phone:  str(fields, backend.FieldPhone),
		}, nil
	case backend.DocLocation:
		return &calentity.Location{
			Shared:     shared(fields),
			UID:        str(fields, backend.FieldUID),
			Address:    str(fields, backend.FieldAddress),
			Subaddress: str(fields, backend.FieldSubaddress),
		}, nil
	}
	return nil, fmt.Errorf("compose: unknown document kind %d", kind)
}

func buildEvent(fields backend.FieldMap) *calentity.Event {
	ev := &calentity.Event{
		Shared:       shared(fields),
		UID:          str(fields, backend.FieldUID),
		ColPath:      str(fields, backend.FieldColPath),
		Summary:      str(fields, backend.FieldSummary),
		Description:  str(fields, backend.FieldDescription),
		Status:       str(fields, backend.FieldStatus),
		Transparency: str(fields, backend.FieldTransparency),
		RecurrenceID: str(fields, backend.FieldRecurrenceID),
		LocationUID:  str(fields, backend.FieldLocationUID),
		BusyType:     str(fields, backend.FieldBusyType),
		CategoryUIDs: strs(fields, backend.FieldCategoryUID),
		ContactUIDs:  strs(fields, backend.FieldContactUID),
		AvailableIDs: strs(fields, backend.FieldAvailableIDs),
		RRules:       strs(fields, backend.FieldRRule),
		ExRules:      strs(fields, backend.FieldExRule),
		Start:        date(fields, backend.FieldActualStart),
		End:          date(fields, backend.FieldActualEnd),
		DTStamp:      date(fields, backend.FieldDTStamp),
		LastModified: date(fields, backend.FieldLastModified),
		Completed:    date(fields, backend.FieldCompleted),
	}

	ev.Kind = calentity.KindEvent
	if k, err := calentity.ParseKind(str(fields, backend.FieldEntityType)); err == nil {
		ev.Kind = k
	}

	for _, s := range strs(fields, backend.FieldAlarmTrigger) {
		ev.AlarmTriggers = append(ev.AlarmTriggers, caldate.Value{UTC: s, Local: utcLocal(s)})
	}
	for _, s := range strs(fields, backend.FieldRDate) {
		ev.RDates = append(ev.RDates, caldate.Value{UTC: s, Local: utcLocal(s)})
	}
	for _, s := range strs(fields, backend.FieldExDate) {
		ev.ExDates = append(ev.ExDates, caldate.Value{UTC: s, Local: utcLocal(s)})
	}

	prefix := backend.FieldXProperty + "."
	for name := range fields {
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		if ev.XProperties == nil {
			ev.XProperties = make(map[string][]string)
		}
		ev.XProperties[name[len(prefix):]] = strs(fields, name)
	}

	if s := str(fields, backend.FieldSequence); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			ev.Sequence = n
		}
	}
	return ev
}

func shared(fields backend.FieldMap) calentity.Shared {
	return calentity.Shared{
		Href:   str(fields, backend.FieldHref),
		Owner:  str(fields, backend.FieldOwner),
		Public: str(fields, backend.FieldPublic) == "true",
	}
}

// str reads a scalar string field. A backend may return a single-valued
// list instead of a scalar; both are accepted.
func str(fields backend.FieldMap, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// strs reads a multi-valued string field, accepting a bare scalar for a
// single value.
func strs(fields backend.FieldMap, name string) []string {
	switch v := fields[name].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func date(fields backend.FieldMap, prefix string) caldate.Value {
	v, _ := caldate.Decode(fields, prefix)
	return v
}

// utcLocal strips the zone designator off a stored UTC text, recovering the
// local representation of a value that was stored by instant only.
func utcLocal(utc string) string {
	if n := len(utc); n > 0 && utc[n-1] == 'Z' {
		return utc[:n-1]
	}
	return utc
}
