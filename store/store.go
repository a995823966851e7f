// Package store is the relational side of the content cache: the canonical
// entity table, the denormalized cache_rows table the loader reads, and the
// rebuild/verify maintenance path over both.
//
// Canonical entities are the source of truth. cache_rows holds one
// pre-serialized node per published entity; the loader bulk-reads it joined
// with the structural columns of entities. Rebuild regenerates cache_rows
// from scratch inside one transaction; Verify counts drift between the two.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/pubtree/tree"
)

// Schema creates the pubtree tables. Pass to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	id           INTEGER PRIMARY KEY,
	parent_id    INTEGER NOT NULL DEFAULT -1,
	level        INTEGER NOT NULL,
	sort_order   INTEGER NOT NULL DEFAULT 0,
	path         TEXT NOT NULL,
	kind         TEXT NOT NULL,
	content_type TEXT NOT NULL,
	published    INTEGER NOT NULL DEFAULT 0,
	trashed      INTEGER NOT NULL DEFAULT 0,
	data         TEXT NOT NULL DEFAULT '{}',
	updated_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entities_load ON entities (kind, level, sort_order);
CREATE INDEX IF NOT EXISTS idx_entities_path ON entities (path);

CREATE TABLE IF NOT EXISTS cache_rows (
	entity_id INTEGER PRIMARY KEY,
	kind      TEXT NOT NULL,
	payload   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_rows_kind ON cache_rows (kind);

CREATE TABLE IF NOT EXISTS content_types (
	tag        TEXT PRIMARY KEY,
	parent_tag TEXT NOT NULL DEFAULT ''
);
`

// Entity is one canonical row: the published form of a content item as the
// entity service hands it out. Path is the hierarchical id chain from the
// root, comma-separated ("-1,10,42") — rebuild pages in path order so
// parents always precede children.
type Entity struct {
	ID          int64
	ParentID    int64
	Level       int
	SortOrder   int
	Path        string
	Kind        tree.Kind
	ContentType string
	Published   bool
	Trashed     bool
	Data        map[string]string
}

// Fragment serializes the entity into a detached replacement node for the
// splice path.
func (e *Entity) Fragment() *tree.Node {
	return &tree.Node{
		ID:          e.ID,
		ParentID:    e.ParentID,
		Level:       e.Level,
		SortOrder:   e.SortOrder,
		Kind:        e.Kind,
		ContentType: e.ContentType,
		Published:   e.Published,
		Data:        e.Data,
	}
}

// Store wraps the pubtree database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over an already-opened database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB exposes the underlying handle (admin surface, tests).
func (s *Store) DB() *sql.DB { return s.db }

// FetchEntity returns the canonical published form of one entity, or
// nil, nil when the id does not exist.
func (s *Store) FetchEntity(ctx context.Context, id int64) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, level, sort_order, path, kind, content_type,
		       published, trashed, data
		FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ContentTypeDescendants expands a set of content-type tags to include every
// descendant type, following parent_tag edges. Tags unknown to the
// content_types table pass through unchanged.
func (s *Store) ContentTypeDescendants(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	query := fmt.Sprintf(`
		WITH RECURSIVE sub(tag) AS (
			SELECT tag FROM content_types WHERE tag IN (%s)
			UNION
			SELECT ct.tag FROM content_types ct JOIN sub ON ct.parent_tag = sub.tag
		)
		SELECT tag FROM sub`, placeholders(len(tags)))
	rows, err := s.db.QueryContext(ctx, query, stringArgs(tags)...)
	if err != nil {
		return nil, fmt.Errorf("store: content type descendants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(r rowScanner) (*Entity, error) {
	var e Entity
	var kind, data string
	err := r.Scan(&e.ID, &e.ParentID, &e.Level, &e.SortOrder, &e.Path,
		&kind, &e.ContentType, &e.Published, &e.Trashed, &data)
	if err != nil {
		return nil, err
	}
	k, err := tree.KindFromString(kind)
	if err != nil {
		return nil, fmt.Errorf("store: entity %d: %w", e.ID, err)
	}
	e.Kind = k
	if data != "" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("store: entity %d data: %w", e.ID, err)
		}
	}
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
