// Package caldate provides a reversible representation of an iCalendar
// date or date-time value.
//
// A Value carries the four representations index documents store for every
// date field: the UTC instant, the local text, the timezone id and the
// floating flag. Date and date-time text use the formats defined in RFC 5545
// section 3.3.
package caldate

import (
	"fmt"
	"time"
)

const (
	// DateFormat is the RFC 5545 DATE form, always 8 characters.
	DateFormat = "20060102"
	// LocalFormat is the RFC 5545 DATE-TIME form without a zone designator.
	LocalFormat = "20060102T150405"
	// UTCFormat is the RFC 5545 DATE-TIME form with the Z designator.
	UTCFormat = "20060102T150405Z"
)

// Value is an immutable calendar date or date-time.
//
// A date-only Value has a Local of exactly 8 characters and a UTC equal to
// its Local. A floating Value has no timezone; its UTC is derived by reading
// the local text as UTC.
type Value struct {
	// UTC is the instant in UTCFormat, or DateFormat for date-only values.
	UTC string
	// Local is the value as entered, in LocalFormat or DateFormat.
	Local string
	// TZID is the IANA timezone id the local text is anchored to. Empty for
	// UTC, floating and date-only values.
	TZID string
	// Floating reports whether the value has no timezone at all.
	Floating bool
}

// NewDate returns a date-only Value for the calendar day of t.
func NewDate(t time.Time) Value {
	s := t.Format(DateFormat)
	return Value{UTC: s, Local: s}
}

// NewUTC returns a date-time Value anchored to UTC.
func NewUTC(t time.Time) Value {
	t = t.UTC()
	return Value{UTC: t.Format(UTCFormat), Local: t.Format(LocalFormat)}
}

// NewInZone returns a date-time Value whose local text is rendered in the
// named zone. The zone must be loadable.
func NewInZone(t time.Time, tzid string) (Value, error) {
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return Value{}, fmt.Errorf("caldate: unknown timezone %q: %v", tzid, err)
	}
	return Value{
		UTC:   t.UTC().Format(UTCFormat),
		Local: t.In(loc).Format(LocalFormat),
		TZID:  tzid,
	}, nil
}

// NewFloating returns a floating date-time Value. The UTC representation
// reads the local text as if it were UTC, which keeps floating values
// totally ordered against anchored ones.
func NewFloating(t time.Time) Value {
	local := t.Format(LocalFormat)
	return Value{UTC: local + "Z", Local: local, Floating: true}
}

// DateOnly reports whether v carries a date with no time component.
func (v Value) DateOnly() bool {
	return len(v.Local) == len(DateFormat)
}

// IsZero reports whether v is the zero Value.
func (v Value) IsZero() bool {
	return v.UTC == "" && v.Local == ""
}

// Time resolves v to an instant. Date-only values resolve to midnight UTC of
// their day.
func (v Value) Time() (time.Time, error) {
	if v.DateOnly() {
		t, err := time.ParseInLocation(DateFormat, v.UTC, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("caldate: bad date %q: %v", v.UTC, err)
		}
		return t, nil
	}
	t, err := time.ParseInLocation(UTCFormat, v.UTC, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("caldate: bad date-time %q: %v", v.UTC, err)
	}
	return t, nil
}

// Compare orders values by their UTC representation. The RFC 5545 text forms
// are chronologically ordered under lexical comparison, for date-only and
// date-time values alike, so a single string compare handles both uniformly.
func (v Value) Compare(o Value) int {
	switch {
	case v.UTC < o.UTC:
		return -1
	case v.UTC > o.UTC:
		return 1
	}
	return 0
}

// Before reports whether v is strictly earlier than o.
func (v Value) Before(o Value) bool { return v.Compare(o) < 0 }

// After reports whether v is strictly later than o.
func (v Value) After(o Value) bool { return v.Compare(o) > 0 }

func (v Value) String() string {
	if v.TZID != "" {
		return v.Local + " (" + v.TZID + ")"
	}
	return v.UTC
}

// Encode writes the four representations of v under prefix into fields, as
// the nested group the index schema stores for every date field. The zero
// Value writes nothing: an empty ".utc" member would sort below every real
// date and corrupt range queries.
func (v Value) Encode(fields map[string]interface{}, prefix string) {
	if v.IsZero() {
		return
	}
	fields[prefix+".utc"] = v.UTC
	fields[prefix+".local"] = v.Local
	if v.TZID != "" {
		fields[prefix+".tzid"] = v.TZID
	}
	if v.Floating {
		fields[prefix+".floating"] = "true"
	}
}

// Decode reads a Value previously written by Encode. It returns the zero
// Value and false when no group is present under prefix. Absent members of
// the group default to empty, never fail: documents written under an older
// field schema must remain readable.
func Decode(fields map[string]interface{}, prefix string) (Value, bool) {
	utc, ok := fields[prefix+".utc"].(string)
	if !ok || utc == "" {
		return Value{}, false
	}
	v := Value{UTC: utc}
	v.Local, _ = fields[prefix+".local"].(string)
	v.TZID, _ = fields[prefix+".tzid"].(string)
	if f, _ := fields[prefix+".floating"].(string); f == "true" {
		v.Floating = true
	}
	return v, true
}
