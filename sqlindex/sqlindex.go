// Package sqlindex implements the backend search/index contract on SQLite,
// storing each document's field map both as a JSON blob (for
// reconstruction) and as inverted (name, value) rows (for querying).
package sqlindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bedework/go-calsearch/backend"
)

const schema = `
CREATE TABLE IF NOT EXISTS docs (
	id            TEXT PRIMARY KEY,
	href          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	recurrence_id TEXT NOT NULL DEFAULT '',
	version       INTEGER NOT NULL DEFAULT 0,
	fields        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docs_href ON docs(href);

CREATE TABLE IF NOT EXISTS doc_fields (
	doc_id TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_doc_fields_doc ON doc_fields(doc_id);
CREATE INDEX IF NOT EXISTS idx_doc_fields_nv ON doc_fields(name, value);
`

// Store is a Backend over a single SQLite database. Safe for concurrent
// use; the underlying handle serializes writes.
type Store struct {
	db *sqlx.DB
}

var _ backend.Backend = (*Store)(nil)

// Open opens (creating if needed) the index database at dsn. Use ":memory:"
// for an in-process ephemeral index.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlindex: opening %q: %w", dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlindex: creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type docRow struct {
	ID           string `db:"id"`
	Href         string `db:"href"`
	Kind         string `db:"kind"`
	RecurrenceID string `db:"recurrence_id"`
	Version      int64  `db:"version"`
	Fields       string `db:"fields"`
}

// Upsert writes documents version-gated: a write against a newer stored
// version, or a duplicate of the stored version, fails with a
// VersionConflictError and leaves the whole batch unapplied.
func (s *Store) Upsert(ctx context.Context, docs []backend.Document) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlindex: beginning upsert: %w", err)
	}
	defer tx.Rollback()

	for i := range docs {
		doc := docs[i]
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}

		var stored int64
		err := tx.GetContext(ctx, &stored, `SELECT version FROM docs WHERE id = ?`, doc.ID)
		switch {
		case err == sql.ErrNoRows:
			// New document.
		case err != nil:
			return fmt.Errorf("sqlindex: reading version of %q: %w", doc.ID, err)
		case doc.Version <= stored:
			return &backend.VersionConflictError{ID: doc.ID, Stored: stored, Given: doc.Version}
		}

		if err := writeDoc(ctx, tx, doc); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlindex: committing upsert: %w", err)
	}
	return nil
}

func writeDoc(ctx context.Context, tx *sqlx.Tx, doc backend.Document) error {
	blob, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("sqlindex: encoding fields of %q: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_fields WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("sqlindex: clearing fields of %q: %w", doc.ID, err)
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO docs (id, href, kind, recurrence_id, version, fields)
		VALUES (:id, :href, :kind, :recurrence_id, :version, :fields)
		ON CONFLICT(id) DO UPDATE SET
			href = :href, kind = :kind, recurrence_id = :recurrence_id,
			version = :version, fields = :fields`,
		docRow{
			ID:           doc.ID,
			Href:         doc.Href,
			Kind:         doc.Kind.String(),
			RecurrenceID: doc.RecurrenceID,
			Version:      doc.Version,
			Fields:       string(blob),
		}); err != nil {
		return fmt.Errorf("sqlindex: writing %q: %w", doc.ID, err)
	}

	for name, value := range doc.Fields {
		var values []string
		switch v := value.(type) {
		case string:
			values = []string{v}
		case []string:
			values = v
		default:
			return fmt.Errorf("sqlindex: field %q of %q has unsupported type %T", name, doc.ID, value)
		}
		for _, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doc_fields (doc_id, name, value) VALUES (?, ?, ?)`,
				doc.ID, name, v); err != nil {
				return fmt.Errorf("sqlindex: writing field %q of %q: %w", name, doc.ID, err)
			}
		}
	}
	return nil
}

// Search executes a compiled query. A limit of 0 reports the total without
// returning hits.
func (s *Store) Search(ctx context.Context, q *backend.Query, sort []backend.SortKey, offset, limit int) (*backend.Page, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}

	page := &backend.Page{}
	if err := s.db.GetContext(ctx, &page.Total,
		`SELECT COUNT(*) FROM docs d WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("sqlindex: counting: %w", err)
	}
	if limit == 0 {
		return page, nil
	}

	order, orderArgs := orderClause(sort)
	sel := `SELECT d.id, d.href, d.kind, d.recurrence_id, d.version, d.fields FROM docs d WHERE ` +
		where + order + ` LIMIT ? OFFSET ?`
	selArgs := append(append(args, orderArgs...), limit, offset)

	var rows []docRow
	if err := s.db.SelectContext(ctx, &rows, sel, selArgs...); err != nil {
		return nil, fmt.Errorf("sqlindex: selecting: %w", err)
	}
	for _, row := range rows {
		doc, err := rowDoc(row)
		if err != nil {
			return nil, err
		}
		page.Hits = append(page.Hits, doc)
	}
	return page, nil
}

func rowDoc(row docRow) (backend.Document, error) {
	kind, err := backend.ParseDocKind(row.Kind)
	if err != nil {
		return backend.Document{}, fmt.Errorf("sqlindex: document %q: %w", row.ID, err)
	}
	fields := backend.FieldMap{}
	if err := json.Unmarshal([]byte(row.Fields), &fields); err != nil {
		return backend.Document{}, fmt.Errorf("sqlindex: decoding fields of %q: %w", row.ID, err)
	}
	return backend.Document{
		ID:           row.ID,
		Href:         row.Href,
		Kind:         kind,
		RecurrenceID: row.RecurrenceID,
		Version:      row.Version,
		Fields:       fields,
	}, nil
}

// DeleteByQuery removes every matching document and its field rows. The
// matching ids are resolved up front: the WHERE expression reads doc_fields,
// so it cannot be re-evaluated while those rows are being deleted.
func (s *Store) DeleteByQuery(ctx context.Context, q *backend.Query) error {
	where, args, err := whereClause(q)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlindex: beginning delete: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	if err := tx.SelectContext(ctx, &ids,
		`SELECT d.id FROM docs d WHERE `+where, args...); err != nil {
		return fmt.Errorf("sqlindex: resolving documents to delete: %w", err)
	}
	if len(ids) == 0 {
		return tx.Commit()
	}

	in, inArgs, err := sqlx.In(`IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("sqlindex: expanding delete ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM doc_fields WHERE doc_id `+in, inArgs...); err != nil {
		return fmt.Errorf("sqlindex: deleting field rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM docs WHERE id `+in, inArgs...); err != nil {
		return fmt.Errorf("sqlindex: deleting documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlindex: committing delete: %w", err)
	}
	return nil
}

func orderClause(keys []backend.SortKey) (string, []interface{}) {
	if len(keys) == 0 {
		return ` ORDER BY d.href, d.recurrence_id`, nil
	}
	var parts []string
	var args []interface{}
	for _, k := range keys {
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts = append(parts,
			`(SELECT f.value FROM doc_fields f WHERE f.doc_id = d.id AND f.name = ? LIMIT 1) `+dir)
		args = append(args, k.Field)
	}
	parts = append(parts, "d.id")
	return ` ORDER BY ` + strings.Join(parts, ", "), args
}

// whereClause compiles a backend query into a WHERE expression over the
// docs alias d, matching a document when any of its values for a field
// satisfies the node.
func whereClause(q *backend.Query) (string, []interface{}, error) {
	if q == nil {
		return "1=1", nil, nil
	}
	switch q.Op {
	case backend.OpMatchAll:
		return "1=1", nil, nil
	case backend.OpAnd, backend.OpOr:
		sep := " AND "
		if q.Op == backend.OpOr {
			sep = " OR "
		}
		var parts []string
		var args []interface{}
		for _, child := range q.Children {
			expr, childArgs, err := whereClause(child)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+expr+")")
			args = append(args, childArgs...)
		}
		if len(parts) == 0 {
			return "1=1", nil, nil
		}
		return strings.Join(parts, sep), args, nil
	case backend.OpNot:
		expr, args, err := whereClause(q.Children[0])
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + expr + ")", args, nil
	case backend.OpTerm:
		return fieldTest("f.value = ?"), []interface{}{q.Field, q.Value}, nil
	case backend.OpTerms:
		if q.All {
			var parts []string
			var args []interface{}
			for _, v := range q.Values {
				parts = append(parts, "("+fieldTest("f.value = ?")+")")
				args = append(args, q.Field, v)
			}
			return strings.Join(parts, " AND "), args, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Values)), ",")
		args := []interface{}{q.Field}
		for _, v := range q.Values {
			args = append(args, v)
		}
		return fieldTest("f.value IN (" + placeholders + ")"), args, nil
	case backend.OpExists:
		return fieldTest(""), []interface{}{q.Field}, nil
	case backend.OpRange:
		var bounds []string
		args := []interface{}{q.Field}
		add := func(op, v string) {
			if v != "" {
				bounds = append(bounds, "f.value "+op+" ?")
				args = append(args, v)
			}
		}
		add(">", q.GT)
		add(">=", q.GTE)
		add("<", q.LT)
		add("<=", q.LTE)
		if len(bounds) == 0 {
			return fieldTest(""), args, nil
		}
		return fieldTest(strings.Join(bounds, " AND ")), args, nil
	}
	return "", nil, fmt.Errorf("sqlindex: unknown query op %d", q.Op)
}

func fieldTest(cond string) string {
	expr := `EXISTS (SELECT 1 FROM doc_fields f WHERE f.doc_id = d.id AND f.name = ?`
	if cond != "" {
		expr += ` AND ` + cond
	}
	return expr + `)`
}
