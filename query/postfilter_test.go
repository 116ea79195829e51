package query

import (
	"testing"
	"time"

	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
)

func testEvent() *calentity.Event {
	return &calentity.Event{
		Shared:       calentity.Shared{Href: "/user/cal/a.ics"},
		UID:          "ev-1",
		Kind:         calentity.KindEvent,
		ColPath:      "/user/cal",
		Summary:      "lunch",
		Status:       calentity.StatusTentative,
		CategoryUIDs: []string{"cat-1", "cat-2"},
		DTStamp:      caldate.NewUTC(time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)),
		AlarmTriggers: []caldate.Value{
			caldate.NewUTC(time.Date(2023, 6, 1, 8, 45, 0, 0, time.UTC)),
			caldate.NewUTC(time.Date(2023, 6, 2, 8, 45, 0, 0, time.UTC)),
		},
	}
}

func TestReconstructKeepsDateBoundTerms(t *testing.T) {
	f := And(
		CollectionPath("/user/cal"),
		PropEquals(PropCategory, "cat-1"),
		TimeRange(PropDTStamp,
			caldate.NewUTC(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)),
			caldate.NewUTC(time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC))),
		Presence(PropAlarmTrigger),
	)

	rec := Reconstruct(f)
	if rec.Full != f {
		t.Error("full reconstruction must keep the whole filter")
	}
	if !rec.TermsDropped {
		t.Error("dropping category and presence terms must be reported")
	}
	if rec.OverrideOnly == nil {
		t.Fatal("override-only filter must keep path and date-bound terms")
	}
	if got := len(rec.OverrideOnly.Children); got != 2 {
		t.Fatalf("override-only kept %d terms, want 2", got)
	}
	for _, child := range rec.OverrideOnly.Children {
		if child.Kind != NodeCollectionPath && child.Kind != NodeTimeRange {
			t.Errorf("override-only kept a %v term", child.Kind)
		}
	}
}

func TestReconstructAllDropped(t *testing.T) {
	rec := Reconstruct(Or(PropEquals(PropSummary, "x"), Presence(PropCategory)))
	if rec.OverrideOnly != nil {
		t.Error("filter with no retainable terms must reconstruct to nil")
	}
	if !rec.TermsDropped {
		t.Error("TermsDropped must be set")
	}
}

func TestMatchesBoolean(t *testing.T) {
	ev := testEvent()
	cases := []struct {
		name string
		f    *Filter
		want bool
	}{
		{"and all true", And(PropEquals(PropSummary, "lunch"), PropEquals(PropUID, "ev-1")), true},
		{"and one false", And(PropEquals(PropSummary, "lunch"), PropEquals(PropUID, "other")), false},
		{"or one true", Or(PropEquals(PropSummary, "nope"), PropEquals(PropUID, "ev-1")), true},
		{"or all false", Or(PropEquals(PropSummary, "nope"), PropEquals(PropUID, "other")), false},
		{"negated", PropEquals(PropSummary, "lunch").Negate(), false},
		{"category membership", PropEquals(PropCategory, "cat-2"), true},
		{"collection path", CollectionPath("/user/cal"), true},
		{"href", Href("/user/cal/a.ics"), true},
		{"entity type", EntityType(calentity.KindEvent, calentity.KindTask), true},
		{"presence hit", Presence(PropCategory), true},
		{"presence miss", Presence(PropCompleted), false},
		{"nil filter", nil, true},
	}
	for _, tc := range cases {
		got, err := Matches(tc.f, ev)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMatchesShortCircuit(t *testing.T) {
	ev := testEvent()
	bad := &Filter{Kind: NodeKind(99)}

	// AND fails fast: the broken node after a false child is never reached.
	f := And(PropEquals(PropSummary, "nope"), bad)
	if ok, err := Matches(f, ev); err != nil || ok {
		t.Errorf("AND short-circuit: got (%v, %v), want (false, nil)", ok, err)
	}

	// OR succeeds fast.
	f = Or(PropEquals(PropSummary, "lunch"), bad)
	if ok, err := Matches(f, ev); err != nil || !ok {
		t.Errorf("OR short-circuit: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestMatchesAlarmTimeRange(t *testing.T) {
	ev := testEvent()

	// Matches when any trigger falls in range: the second trigger does.
	f := TimeRange(PropAlarmTrigger,
		caldate.NewUTC(time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC)),
		caldate.NewUTC(time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC)))
	if ok, _ := Matches(f, ev); !ok {
		t.Error("range covering the second alarm trigger must match")
	}

	f = TimeRange(PropAlarmTrigger,
		caldate.NewUTC(time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC)),
		caldate.Value{})
	if ok, _ := Matches(f, ev); ok {
		t.Error("range past every trigger must not match")
	}
}

func TestIntersectsWindow(t *testing.T) {
	ev := &calentity.Event{
		Start: caldate.NewUTC(time.Date(2023, 6, 3, 10, 0, 0, 0, time.UTC)),
		End:   caldate.NewUTC(time.Date(2023, 6, 3, 11, 0, 0, 0, time.UTC)),
	}
	day := func(d int) caldate.Value {
		return caldate.NewUTC(time.Date(2023, 6, d, 0, 0, 0, 0, time.UTC))
	}

	if !IntersectsWindow(ev, day(2), day(5)) {
		t.Error("event inside the window must intersect")
	}
	if IntersectsWindow(ev, day(4), day(5)) {
		t.Error("event before the window must not intersect")
	}
	if IntersectsWindow(ev, day(1), day(2)) {
		t.Error("event after the window must not intersect")
	}
	if !IntersectsWindow(ev, day(2), caldate.Value{}) {
		t.Error("open-ended window must intersect")
	}

	// Zero-duration event at the window start is contained, not excluded.
	zero := &calentity.Event{Start: day(2), End: day(2)}
	if !IntersectsWindow(zero, day(2), day(3)) {
		t.Error("zero-duration event at window start must intersect")
	}
}
