// Package backend defines the contracts the search core consumes: the
// search/index service, the access checker and the principal resolver. The
// core talks to all three through the interfaces here and never depends on a
// concrete implementation.
package backend

import (
	"context"
	"fmt"

	"github.com/bedework/go-calsearch/calentity"
)

// DocKind classifies an index document. The set is closed; every consumer
// switches over it exhaustively.
type DocKind int

const (
	DocMaster DocKind = iota
	DocInstance
	DocOverride
	DocEntity
	DocCollection
	DocCategory
	DocContact
	DocLocation
)

func (k DocKind) String() string {
	switch k {
	case DocMaster:
		return "master"
	case DocInstance:
		return "instance"
	case DocOverride:
		return "override"
	case DocEntity:
		return "entity"
	case DocCollection:
		return "collection"
	case DocCategory:
		return "category"
	case DocContact:
		return "contact"
	case DocLocation:
		return "location"
	}
	panic("backend: invalid document kind")
}

// ParseDocKind parses a wire name produced by DocKind.String.
func ParseDocKind(s string) (DocKind, error) {
	for k := DocMaster; k <= DocLocation; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("backend: unknown document kind %q", s)
}

// FieldMap is the opaque field set of an index document. Values are either
// string or []string; a backend is free to return a scalar for a
// single-valued field that was written as a list.
type FieldMap map[string]interface{}

// Index field names. Date fields are stored as the four-member group written
// by caldate.Value.Encode under the listed prefix; range queries compare the
// ".utc" member, whose text form is chronologically ordered.
const (
	FieldHref         = "href"
	FieldUID          = "uid"
	FieldEntityType   = "etype"
	FieldColPath      = "colpath"
	FieldOwner        = "owner"
	FieldPublic       = "public"
	FieldRecurrenceID = "recurrence-id"

	// FieldIndexStart/FieldIndexEnd is the retrieval range: what range
	// queries match against in master+override mode. For a master it spans
	// the whole series.
	FieldIndexStart = "index-start"
	FieldIndexEnd   = "index-end"
	// FieldActualStart/FieldActualEnd is the true occurrence range.
	FieldActualStart = "actual-start"
	FieldActualEnd   = "actual-end"

	FieldSummary      = "summary"
	FieldDescription  = "description"
	FieldStatus       = "status"
	FieldTransparency = "transp"
	FieldCategoryUID  = "category-uid"
	FieldContactUID   = "contact-uid"
	FieldLocationUID  = "location-uid"
	FieldDTStamp      = "dtstamp"
	FieldLastModified = "last-modified"
	FieldCompleted    = "completed"
	FieldAlarmTrigger = "alarm-trigger"
	FieldAvailableIDs = "available-ids"
	FieldBusyType     = "busy-type"
	FieldXProperty    = "xprop"
	FieldName         = "name"
	FieldPath         = "path"
	FieldWord         = "word"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldAddress      = "address"
	FieldSubaddress   = "subaddress"
	FieldRRule        = "rrule"
	FieldExRule       = "exrule"
	FieldRDate        = "rdate"
	FieldExDate       = "exdate"
	FieldSequence     = "sequence"
	FieldDocKind      = "kind"
)

// Suffix appended to a date field name to reach its comparable member.
const UTCSuffix = ".utc"

// Document is one unit stored in the backend.
type Document struct {
	// ID is unique within the index. Write paths derive it from
	// (href, kind, recurrence id) so a rewrite replaces rather than
	// accumulates.
	ID           string
	Href         string
	Kind         DocKind
	RecurrenceID string
	// Version gates concurrent writes: an upsert with a version lower than
	// the stored one fails with a VersionConflictError.
	Version int64
	Fields  FieldMap
}

// Page is one page of search hits plus the total match count.
type Page struct {
	Hits  []Document
	Total int64
}

// SortKey orders search results by one field, ascending unless Desc.
type SortKey struct {
	Field string
	Desc  bool
}

// Backend is the search/index service contract.
type Backend interface {
	// Search executes a compiled query and returns the page
	// [offset, offset+limit) of matching documents plus the total count.
	// A limit of 0 returns no hits but still reports the total.
	Search(ctx context.Context, q *Query, sort []SortKey, offset, limit int) (*Page, error)
	// Upsert writes documents, version-gated per document.
	Upsert(ctx context.Context, docs []Document) error
	// DeleteByQuery removes every document matching q.
	DeleteByQuery(ctx context.Context, q *Query) error
	Close() error
}

// VersionConflictError reports a version-gated upsert that lost to a
// concurrent write. An equal-version conflict is a benign duplicate
// delivery; callers treat it as a no-op.
type VersionConflictError struct {
	ID     string
	Stored int64
	Given  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("backend: version conflict on %q: stored %d, given %d", e.ID, e.Stored, e.Given)
}

// Equal reports whether the conflict was between identical versions.
func (e *VersionConflictError) Equal() bool { return e.Stored == e.Given }

// Privilege is the access right a caller needs on a candidate hit.
type Privilege int

const (
	PrivRead Privilege = iota
	PrivReadFreeBusy
	PrivWrite
)

// AccessResult is the outcome of one access check.
type AccessResult struct {
	Allowed bool
}

// AccessChecker is the ACL engine contract. When alwaysReturnResult is true
// a denial is reported through AccessResult and never as an error; when
// false the checker may return a hard denial error instead.
type AccessChecker interface {
	CheckAccess(ctx context.Context, entity calentity.Entity, priv Privilege, alwaysReturnResult bool) (AccessResult, error)
}

// Principal is a resolved requesting identity.
type Principal struct {
	Href      string
	Superuser bool
}

// PrincipalResolver resolves a principal reference to an identity.
type PrincipalResolver interface {
	Resolve(ctx context.Context, ref string) (Principal, error)
}
