package query

import (
	"reflect"
	"testing"
	"time"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
)

var (
	jane  = backend.Principal{Href: "/principals/users/jane"}
	admin = backend.Principal{Href: "/principals/users/root", Superuser: true}
)

func mustCompile(t *testing.T, f *Filter, start, end caldate.Value, mode Mode, p backend.Principal) *Compiled {
	t.Helper()
	c, err := Compile(f, start, end, mode, p)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// contains reports whether any node of q satisfies pred.
func contains(q *backend.Query, pred func(*backend.Query) bool) bool {
	if q == nil {
		return false
	}
	if pred(q) {
		return true
	}
	for _, child := range q.Children {
		if contains(child, pred) {
			return true
		}
	}
	return false
}

func TestOwnershipClause(t *testing.T) {
	c := mustCompile(t, nil, caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if c.ScopeLimited {
		t.Error("empty filter must not be scope limited")
	}
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpTerm && q.Field == backend.FieldOwner && q.Value == jane.Href
	}) {
		t.Errorf("no ownership clause in %v", c.Query)
	}
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpTerm && q.Field == backend.FieldPublic && q.Value == "true"
	}) {
		t.Errorf("no public clause in %v", c.Query)
	}
}

func TestSuperuserSkipsOwnership(t *testing.T) {
	c := mustCompile(t, nil, caldate.Value{}, caldate.Value{}, ModeExpanded, admin)
	if contains(c.Query, func(q *backend.Query) bool {
		return q.Field == backend.FieldOwner
	}) {
		t.Errorf("superuser query carries an ownership clause: %v", c.Query)
	}
}

func TestCollectionPathLimitsScope(t *testing.T) {
	c := mustCompile(t, CollectionPath("/public/cals/MainCal"),
		caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if !c.ScopeLimited {
		t.Error("positive collection-path filter must mark the scope limited")
	}
	if contains(c.Query, func(q *backend.Query) bool { return q.Field == backend.FieldOwner }) {
		t.Errorf("scope-limited query still carries an ownership clause: %v", c.Query)
	}

	// A negated path match limits nothing.
	c = mustCompile(t, CollectionPath("/public/cals/MainCal").Negate(),
		caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if c.ScopeLimited {
		t.Error("negated collection-path filter must not mark the scope limited")
	}
}

func TestScopeLimitNeedsConjunctiveContext(t *testing.T) {
	// A path term on one branch of an OR bounds nothing: the sibling branch
	// is unconstrained, so the ownership clause must stay.
	f := Or(
		CollectionPath("/public/cals/MainCal"),
		PropEquals(PropSummary, "standup"),
	)
	c := mustCompile(t, f, caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if c.ScopeLimited {
		t.Error("path term under an OR must not mark the scope limited")
	}
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpTerm && q.Field == backend.FieldOwner
	}) {
		t.Errorf("OR-branch path term dropped the ownership clause: %v", c.Query)
	}

	// The same term under a negated AND bounds nothing either.
	f = And(CollectionPath("/public/cals/MainCal")).Negate()
	c = mustCompile(t, f, caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if c.ScopeLimited {
		t.Error("path term under a negated AND must not mark the scope limited")
	}

	// In plain AND context it still does.
	f = And(
		CollectionPath("/public/cals/MainCal"),
		PropEquals(PropSummary, "standup"),
	)
	c = mustCompile(t, f, caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if !c.ScopeLimited {
		t.Error("path term in AND context must mark the scope limited")
	}

	// An href under an OR must not pin an exact key.
	f = Or(Href("/user/cal/a.ics"), PropEquals(PropSummary, "standup"))
	c = mustCompile(t, f, caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if c.ScopeLimited || c.ExactKey {
		t.Errorf("href under an OR: scopeLimited=%v exactKey=%v, want both false",
			c.ScopeLimited, c.ExactKey)
	}
}

func TestHrefMarksExactKey(t *testing.T) {
	c := mustCompile(t, Href("/user/cal/a.ics"), caldate.Value{}, caldate.Value{}, ModeExpanded, jane)
	if !c.ScopeLimited || !c.ExactKey {
		t.Errorf("href filter: scopeLimited=%v exactKey=%v, want both true", c.ScopeLimited, c.ExactKey)
	}
}

func TestEqualityCoalescing(t *testing.T) {
	f := Or(
		PropEquals(PropCategory, "uid-a"),
		PropEquals(PropCategory, "uid-b"),
		PropEquals(PropCategory, "uid-c"),
	)
	c := mustCompile(t, f, caldate.Value{}, caldate.Value{}, ModeExpanded, admin)

	want := []string{"uid-a", "uid-b", "uid-c"}
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpTerms && !q.All && q.Field == backend.FieldCategoryUID &&
			reflect.DeepEqual(q.Values, want)
	}) {
		t.Errorf("OR equality terms not coalesced: %v", c.Query)
	}

	f = And(
		PropEquals(PropCategory, "uid-a"),
		PropEquals(PropCategory, "uid-b"),
	)
	c = mustCompile(t, f, caldate.Value{}, caldate.Value{}, ModeExpanded, admin)
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpTerms && q.All && q.Field == backend.FieldCategoryUID
	}) {
		t.Errorf("AND equality terms not coalesced into an all-of term: %v", c.Query)
	}
}

func TestCoalescingOnlyAdjacentSameField(t *testing.T) {
	f := Or(
		PropEquals(PropCategory, "uid-a"),
		PropEquals(PropStatus, calentity.StatusTentative),
		PropEquals(PropCategory, "uid-b"),
	)
	c := mustCompile(t, f, caldate.Value{}, caldate.Value{}, ModeExpanded, admin)

	count := 0
	contains(c.Query, func(q *backend.Query) bool {
		if (q.Op == backend.OpTerm || q.Op == backend.OpTerms) && q.Field == backend.FieldCategoryUID {
			count++
		}
		return false
	})
	if count != 2 {
		t.Errorf("non-adjacent equality terms coalesced across another field: %v", c.Query)
	}
}

func TestAvailabilityPairNeverSplit(t *testing.T) {
	for _, kind := range []calentity.Kind{calentity.KindAvailability, calentity.KindAvailable} {
		c := mustCompile(t, EntityType(kind), caldate.Value{}, caldate.Value{}, ModeExpanded, admin)
		if !contains(c.Query, func(q *backend.Query) bool {
			if q.Op != backend.OpTerms || q.Field != backend.FieldEntityType {
				return false
			}
			return len(q.Values) == 2
		}) {
			t.Errorf("filter on %v does not cover the availability pair: %v", kind, c.Query)
		}
	}
}

func TestDateRangeFieldsByMode(t *testing.T) {
	start := caldate.NewUTC(time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC))
	end := caldate.NewUTC(time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC))

	c := mustCompile(t, nil, start, end, ModeExpanded, admin)
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpRange && q.Field == backend.FieldActualStart+backend.UTCSuffix
	}) {
		t.Errorf("expanded mode must range over actual fields: %v", c.Query)
	}

	c = mustCompile(t, nil, start, end, ModeMasterOverride, admin)
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpRange && q.Field == backend.FieldIndexStart+backend.UTCSuffix
	}) {
		t.Errorf("master+override mode must range over index fields: %v", c.Query)
	}
}

func TestOpenEndedRange(t *testing.T) {
	start := caldate.NewUTC(time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC))
	c := mustCompile(t, nil, start, caldate.Value{}, ModeExpanded, admin)
	if contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpRange && q.Field == backend.FieldActualStart+backend.UTCSuffix
	}) {
		t.Errorf("open-ended range must not bound the start field: %v", c.Query)
	}
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpRange && q.Field == backend.FieldActualEnd+backend.UTCSuffix && q.GT == start.UTC
	}) {
		t.Errorf("open-ended range lost its lower bound: %v", c.Query)
	}
}

func TestUnmappedPropertyFails(t *testing.T) {
	if _, err := Compile(PropEquals(PropCompleted, "x"),
		caldate.Value{}, caldate.Value{}, ModeExpanded, jane); err == nil {
		t.Error("equality on a property with no equality mapping must fail the whole query")
	}
	if _, err := Compile(&Filter{Kind: NodeKind(99)},
		caldate.Value{}, caldate.Value{}, ModeExpanded, jane); err == nil {
		t.Error("unknown filter node kind must fail the whole query")
	}
}

func TestModeExcludesKinds(t *testing.T) {
	c := mustCompile(t, nil, caldate.Value{}, caldate.Value{}, ModeExpanded, admin)
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpTerm && q.Field == backend.FieldDocKind && q.Value == "master"
	}) {
		t.Errorf("expanded mode must exclude master documents: %v", c.Query)
	}

	c = mustCompile(t, nil, caldate.Value{}, caldate.Value{}, ModeMasterOverride, admin)
	if !contains(c.Query, func(q *backend.Query) bool {
		return q.Op == backend.OpTerm && q.Field == backend.FieldDocKind && q.Value == "instance"
	}) {
		t.Errorf("master+override mode must exclude instance documents: %v", c.Query)
	}
}
