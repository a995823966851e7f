package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hazyhaar/pubtree/tree"
)

// LoadTree bulk-loads the published tree from cache_rows: one query per
// entity class, rows ordered by (level, sort_order) ascending, then a
// single-pass adjacency build and depth-first assembly from the synthetic
// root. Any failure aborts the whole load — callers never see a partially
// assembled tree. Rows whose parent is missing or unpublished are dropped
// during assembly, not errored.
func (s *Store) LoadTree(ctx context.Context) (*tree.Tree, error) {
	var all []*tree.Node
	for _, kind := range tree.Kinds {
		rows, err := s.loadKind(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("store: load %s: %w", kind, err)
		}
		all = append(all, rows...)
	}

	// Each per-kind batch arrives ordered; the combined slice needs one
	// stable merge so siblings of different kinds interleave correctly.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Level != all[j].Level {
			return all[i].Level < all[j].Level
		}
		return all[i].SortOrder < all[j].SortOrder
	})

	t := tree.Assemble(all)
	s.logger.Info("store: tree loaded", "rows", len(all), "nodes", t.Len())
	return t, nil
}

func (s *Store) loadKind(ctx context.Context, kind tree.Kind) ([]*tree.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.payload
		FROM cache_rows c
		JOIN entities e ON e.id = c.entity_id
		WHERE e.published = 1 AND e.trashed = 0 AND e.kind = ?
		ORDER BY e.level, e.sort_order`, kind.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*tree.Node
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var n tree.Node
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return nil, fmt.Errorf("row payload: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
