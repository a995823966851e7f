package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/pubtree/tree"
)

// Rebuild regenerates cache_rows from canonical entities inside one
// transaction: delete every denormalized row in scope, then page through
// published entities ordered by hierarchical path and bulk-insert their
// serialized form. Scope is all rows when typeTags is empty, otherwise the
// given content-type tags (callers expand descendant types first).
//
// Rebuild bypasses the in-memory tree entirely; its effect is visible only
// on the next full load.
func (s *Store) Rebuild(ctx context.Context, pageSize int, typeTags ...string) error {
	if pageSize <= 0 {
		pageSize = 500
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: rebuild begin: %w", err)
	}
	defer tx.Rollback()

	scope := ""
	args := []any{}
	deleteStmt := `DELETE FROM cache_rows`
	if len(typeTags) > 0 {
		scope = fmt.Sprintf(" AND content_type IN (%s)", placeholders(len(typeTags)))
		args = stringArgs(typeTags)
		deleteStmt = `DELETE FROM cache_rows WHERE entity_id IN
			(SELECT id FROM entities WHERE 1=1` + scope + `)`
	}

	if _, err := tx.ExecContext(ctx, deleteStmt, args...); err != nil {
		return fmt.Errorf("store: rebuild delete: %w", err)
	}

	inserted := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.entityPage(ctx, tx, scope, args, pageSize, offset)
		if err != nil {
			return fmt.Errorf("store: rebuild page at %d: %w", offset, err)
		}
		for _, e := range page {
			payload, err := json.Marshal(e.Fragment())
			if err != nil {
				return fmt.Errorf("store: rebuild serialize %d: %w", e.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cache_rows (entity_id, kind, payload) VALUES (?,?,?)`,
				e.ID, e.Kind.String(), string(payload)); err != nil {
				return fmt.Errorf("store: rebuild insert %d: %w", e.ID, err)
			}
			inserted++
		}
		if len(page) < pageSize {
			break
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: rebuild commit: %w", err)
	}
	s.logger.Info("store: rebuild complete", "rows", inserted, "types", typeTags)
	return nil
}

func (s *Store) entityPage(ctx context.Context, tx *sql.Tx, scope string, args []any, limit, offset int) ([]*Entity, error) {
	query := `
		SELECT id, parent_id, level, sort_order, path, kind, content_type,
		       published, trashed, data
		FROM entities
		WHERE published = 1 AND trashed = 0` + scope + `
		ORDER BY path
		LIMIT ? OFFSET ?`
	rows, err := tx.QueryContext(ctx, query, append(append([]any{}, args...), limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify counts published entities of one class lacking a cache_rows match.
// True means no drift. Read-only; meant for health checks, not the request
// path.
func (s *Store) Verify(ctx context.Context, kind tree.Kind) (bool, error) {
	var missing int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities e
		WHERE e.published = 1 AND e.trashed = 0 AND e.kind = ?
		  AND NOT EXISTS (SELECT 1 FROM cache_rows c WHERE c.entity_id = e.id)`,
		kind.String()).Scan(&missing)
	if err != nil {
		return false, fmt.Errorf("store: verify %s: %w", kind, err)
	}
	if missing > 0 {
		s.logger.Warn("store: verify found drift", "kind", kind.String(), "missing", missing)
	}
	return missing == 0, nil
}

// VerifyAll runs Verify for every entity class and ANDs the verdicts.
func (s *Store) VerifyAll(ctx context.Context) (bool, error) {
	ok := true
	for _, kind := range tree.Kinds {
		v, err := s.Verify(ctx, kind)
		if err != nil {
			return false, err
		}
		ok = ok && v
	}
	return ok, nil
}
