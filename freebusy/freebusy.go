// Package freebusy merges event occurrences over a window into busy and
// busy-tentative period runs.
package freebusy

import (
	"sort"
	"time"

	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/internal/log"
)

// PeriodType classifies a merged period.
type PeriodType int

const (
	Busy PeriodType = iota
	BusyTentative
)

func (t PeriodType) String() string {
	if t == BusyTentative {
		return "busy-tentative"
	}
	return "busy"
}

// Period is one busy interval. Start is never after End, and merged periods
// of the same type never overlap or touch.
type Period struct {
	Start time.Time
	End   time.Time
	Type  PeriodType
}

// Aggregate reduces event occurrences to ordered period runs over the
// window [start, end). Transparent events are skipped unless
// ignoreTransparency, cancelled events always. Each occurrence is clipped
// to the window; same-type overlapping or touching periods merge, periods
// of different types never do.
func Aggregate(events []*calentity.Event, start, end time.Time, ignoreTransparency bool) []Period {
	var periods []Period
	for _, ev := range events {
		if ev.Status == calentity.StatusCancelled {
			continue
		}
		if !ignoreTransparency && ev.Transparency == calentity.TranspTransparent {
			continue
		}

		evStart, err := ev.Start.Time()
		if err != nil {
			log.Error("freebusy: skipping event with bad start", err, "href", ev.Href)
			continue
		}
		evEnd := evStart
		if !ev.End.IsZero() {
			evEnd, err = ev.End.Time()
			if err != nil {
				log.Error("freebusy: skipping event with bad end", err, "href", ev.Href)
				continue
			}
		}

		// Clip to the window.
		if evStart.Before(start) {
			evStart = start
		}
		if evEnd.After(end) {
			evEnd = end
		}
		if !evStart.Before(evEnd) {
			continue
		}

		t := Busy
		if ev.Tentative() || ev.BusyType == "BUSY-TENTATIVE" {
			t = BusyTentative
		}
		periods = append(periods, Period{Start: evStart, End: evEnd, Type: t})
	}

	return Merge(periods)
}

// Merge sorts periods by (start, type) and merges same-type runs in a
// single pass. Merging an already-merged list returns it unchanged.
func Merge(periods []Period) []Period {
	if len(periods) == 0 {
		return nil
	}
	sort.Slice(periods, func(i, j int) bool {
		if !periods[i].Start.Equal(periods[j].Start) {
			return periods[i].Start.Before(periods[j].Start)
		}
		return periods[i].Type < periods[j].Type
	})

	out := make([]Period, 0, len(periods))
	cur := periods[0]
	for _, p := range periods[1:] {
		if p.Type != cur.Type || p.Start.After(cur.End) {
			out = append(out, cur)
			cur = p
			continue
		}
		if p.End.After(cur.End) {
			cur.End = p.End
		}
	}
	return append(out, cur)
}
