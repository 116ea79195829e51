package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/index"
	"github.com/bedework/go-calsearch/query"
)

func seriesDocs(t *testing.T) []backend.Document {
	t.Helper()
	ev := &calentity.Event{
		Shared: calentity.Shared{Href: "/user/cal/daily.ics", Owner: "/principals/users/jane"},
		UID:    "daily-1",
		Kind:   calentity.KindEvent,
		Start:  caldate.NewUTC(time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC)),
		End:    caldate.NewUTC(time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)),
		RRules: []string{"FREQ=DAILY;COUNT=3"},
		Overrides: map[string]*calentity.Event{
			"20230602T090000Z": {
				Shared:       calentity.Shared{Href: "/user/cal/daily.ics", Owner: "/principals/users/jane"},
				UID:          "daily-1",
				Kind:         calentity.KindEvent,
				RecurrenceID: "20230602T090000Z",
				Start:        caldate.NewUTC(time.Date(2023, 6, 2, 10, 0, 0, 0, time.UTC)),
				End:          caldate.NewUTC(time.Date(2023, 6, 2, 11, 0, 0, 0, time.UTC)),
			},
		},
	}
	docs, err := index.BuildEventDocs(ev, index.Limits{})
	require.NoError(t, err)
	return docs
}

func pick(docs []backend.Document, kind backend.DocKind) []backend.Document {
	var out []backend.Document
	for _, d := range docs {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func TestComposeAttachesOverrides(t *testing.T) {
	docs := seriesDocs(t)
	hits := append(pick(docs, backend.DocOverride), pick(docs, backend.DocMaster)...)

	res, err := Compose(hits, query.ModeMasterOverride)
	require.NoError(t, err)
	require.Len(t, res.Composites, 1)
	require.Empty(t, res.OrphanOverrides)

	comp := res.Composites[0]
	require.Equal(t, "/user/cal/daily.ics", comp.Master.Href)
	require.Len(t, comp.Overrides, 1)
	require.Equal(t, "20230602T090000Z", comp.Overrides[0].RecurrenceID)
}

func TestComposeOrphanOverrideSurfaced(t *testing.T) {
	docs := seriesDocs(t)
	hits := pick(docs, backend.DocOverride)

	res, err := Compose(hits, query.ModeMasterOverride)
	require.NoError(t, err)
	require.Empty(t, res.Composites)
	// The inconsistent override is surfaced for inspection, not silently
	// dropped.
	require.Len(t, res.OrphanOverrides, 1)
}

func TestComposeExpandedOverridesStandAlone(t *testing.T) {
	docs := seriesDocs(t)
	hits := append(pick(docs, backend.DocOverride), pick(docs, backend.DocInstance)...)

	res, err := Compose(hits, query.ModeExpanded)
	require.NoError(t, err)
	require.Empty(t, res.OrphanOverrides)
	// 1 override + 2 remaining instances, each a literal occurrence.
	require.Len(t, res.Composites, 3)
}

func TestComposeNaturalOrdering(t *testing.T) {
	docs := seriesDocs(t)
	hits := pick(docs, backend.DocInstance)
	// Reverse the hits; composition must re-sort by (href, recurrence-id).
	for i, j := 0, len(hits)-1; i < j; i, j = i+1, j-1 {
		hits[i], hits[j] = hits[j], hits[i]
	}

	res, err := Compose(hits, query.ModeExpanded)
	require.NoError(t, err)
	for i := 1; i < len(res.Composites); i++ {
		require.True(t, res.Composites[i-1].Less(res.Composites[i]),
			"composites out of natural order")
	}
}

func availabilityDocs(t *testing.T, containerFirst bool) []backend.Document {
	t.Helper()
	container := &calentity.Event{
		Shared:       calentity.Shared{Href: "/user/cal/avail.ics"},
		UID:          "avail-1",
		Kind:         calentity.KindAvailability,
		Start:        caldate.NewUTC(time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)),
		End:          caldate.NewUTC(time.Date(2023, 6, 1, 18, 0, 0, 0, time.UTC)),
		AvailableIDs: []string{"slot-1"},
	}
	item := &calentity.Event{
		Shared: calentity.Shared{Href: "/user/cal/avail-slot.ics"},
		UID:    "slot-1",
		Kind:   calentity.KindAvailable,
		Start:  caldate.NewUTC(time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC)),
		End:    caldate.NewUTC(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)),
	}

	var docs []backend.Document
	for _, ev := range []*calentity.Event{container, item} {
		d, err := index.BuildEventDocs(ev, index.Limits{})
		require.NoError(t, err)
		docs = append(docs, d...)
	}
	if !containerFirst {
		docs[0], docs[1] = docs[1], docs[0]
	}
	return docs
}

func TestComposeAvailabilityClaim(t *testing.T) {
	for _, containerFirst := range []bool{true, false} {
		res, err := Compose(availabilityDocs(t, containerFirst), query.ModeMasterOverride)
		require.NoError(t, err)
		require.Empty(t, res.UnclaimedAvailable)
		require.Len(t, res.Composites, 1)
		require.Len(t, res.Composites[0].Contained, 1,
			"containerFirst=%v: sub-item not claimed", containerFirst)
	}
}

func TestComposeUnclaimedAvailableSurfaced(t *testing.T) {
	docs := availabilityDocs(t, true)
	// Keep only the sub-item; its container never surfaces.
	var hits []backend.Document
	for _, d := range docs {
		if d.Href == "/user/cal/avail-slot.ics" {
			hits = append(hits, d)
		}
	}

	res, err := Compose(hits, query.ModeMasterOverride)
	require.NoError(t, err)
	require.Len(t, res.UnclaimedAvailable, 1)
}

func TestBuildUnknownFieldsIgnored(t *testing.T) {
	fields := backend.FieldMap{
		backend.FieldHref:    "/user/cal/a.ics",
		backend.FieldUID:     "ev-1",
		"some-future-field":  "whatever",
		backend.FieldSummary: []interface{}{"scalar-or-list"},
	}
	entity, err := Build(backend.DocEntity, fields)
	require.NoError(t, err)

	ev := entity.(*calentity.Event)
	require.Equal(t, "ev-1", ev.UID)
	require.Equal(t, "scalar-or-list", ev.Summary)
	require.Equal(t, calentity.KindEvent, ev.Kind, "absent entity type defaults to event")
}

func TestBuildUnknownKindFails(t *testing.T) {
	_, err := Build(backend.DocKind(42), backend.FieldMap{})
	require.Error(t, err)
}
