package storage

import (
	"database/sql"
	"fmt"

	"tracer/internal/errors"
	"tracer/internal/model"
)

// EdgeStore provides access to the edges table
type EdgeStore struct {
	db *DB
}

// NewEdgeStore creates an edge store over db
func NewEdgeStore(db *DB) *EdgeStore {
	return &EdgeStore{db: db}
}

// UpsertEdge writes an edge, collapsing on the dedup key
// (kind, source, target key, location). Resolution state is monotonic:
// unresolved may move to resolved/dead_end/external, settled states never
// revert. Re-upserting a settled edge with the same state is a no-op.
func (s *EdgeStore) UpsertEdge(edge model.Edge) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		return UpsertEdgeTx(tx, edge)
	})
}

// UpsertEdgeTx writes an edge within an existing transaction
func UpsertEdgeTx(tx *sql.Tx, edge model.Edge) error {
	var existing string
	err := tx.QueryRow(`
		SELECT resolution_state FROM edges
		WHERE kind = ? AND source_id = ? AND target_key = ? AND file = ? AND line_start = ?
	`, string(edge.Kind), edge.SourceID, edge.TargetKey, edge.Location.File, edge.Location.StartLine).Scan(&existing)

	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if err == nil {
		// Row exists: enforce monotonic state transitions
		if !model.CanTransition(model.ResolutionState(existing), edge.State) {
			return errors.New(errors.InvalidTransition,
				fmt.Sprintf("edge %s cannot move from %s to %s", edge.DedupKey(), existing, edge.State), nil)
		}
		if model.ResolutionState(existing) == edge.State && edge.TargetID == "" {
			// Same state, nothing new to record
			return nil
		}
	}

	_, err = tx.Exec(`
		INSERT INTO edges (source_id, target_key, target_id, kind, file, line_start, resolution_state, raw_expression)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, source_id, target_key, file, line_start) DO UPDATE SET
			target_id = CASE WHEN excluded.target_id != '' THEN excluded.target_id ELSE edges.target_id END,
			resolution_state = excluded.resolution_state,
			raw_expression = CASE WHEN excluded.raw_expression != '' THEN excluded.raw_expression ELSE edges.raw_expression END
	`, edge.SourceID, edge.TargetKey, edge.TargetID, string(edge.Kind),
		edge.Location.File, edge.Location.StartLine, string(edge.State), edge.RawExpression)
	return err
}

// GetEdgesFrom returns all edges whose source is the given symbol
func (s *EdgeStore) GetEdgesFrom(sourceID string) ([]model.Edge, error) {
	return s.queryEdges(`
		SELECT source_id, target_key, target_id, kind, file, line_start, resolution_state, raw_expression
		FROM edges WHERE source_id = ? ORDER BY file, line_start
	`, sourceID)
}

// GetResolvedEdgesFrom returns the resolved outgoing edges for traversal
func (s *EdgeStore) GetResolvedEdgesFrom(sourceID string) ([]model.Edge, error) {
	return s.queryEdges(`
		SELECT source_id, target_key, target_id, kind, file, line_start, resolution_state, raw_expression
		FROM edges WHERE source_id = ? AND resolution_state = 'resolved' ORDER BY file, line_start
	`, sourceID)
}

// GetEdgesTo returns all edges resolved to the given target symbol
func (s *EdgeStore) GetEdgesTo(targetID string) ([]model.Edge, error) {
	return s.queryEdges(`
		SELECT source_id, target_key, target_id, kind, file, line_start, resolution_state, raw_expression
		FROM edges WHERE target_id = ? ORDER BY file, line_start
	`, targetID)
}

// GetUnresolvedEdges returns the unresolved backlog, optionally limited to
// one source file (the resolver's unit of work)
func (s *EdgeStore) GetUnresolvedEdges(file string) ([]model.Edge, error) {
	if file == "" {
		return s.queryEdges(`
			SELECT source_id, target_key, target_id, kind, file, line_start, resolution_state, raw_expression
			FROM edges WHERE resolution_state = 'unresolved' ORDER BY file, line_start
		`)
	}
	return s.queryEdges(`
		SELECT source_id, target_key, target_id, kind, file, line_start, resolution_state, raw_expression
		FROM edges WHERE resolution_state = 'unresolved' AND file = ? ORDER BY line_start
	`, file)
}

// UnresolvedFiles returns the distinct files that still carry unresolved edges
func (s *EdgeStore) UnresolvedFiles() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT file FROM edges WHERE resolution_state = 'unresolved' ORDER BY file
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// AllEdges returns every edge in the store
func (s *EdgeStore) AllEdges() ([]model.Edge, error) {
	return s.queryEdges(`
		SELECT source_id, target_key, target_id, kind, file, line_start, resolution_state, raw_expression
		FROM edges ORDER BY source_id, file, line_start
	`)
}

// InvalidateEdgesTouching resets edges whose source or resolved target is in
// the changed-symbol set back to unresolved, re-queueing them for resolution.
// This is the one sanctioned exception to state monotonicity: the underlying
// symbol changed, so the old resolution no longer describes the code.
func (s *EdgeStore) InvalidateEdgesTouching(symbolIDs []string) (int, error) {
	if len(symbolIDs) == 0 {
		return 0, nil
	}

	total := 0
	err := s.db.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			UPDATE edges SET resolution_state = 'unresolved', target_id = NULL
			WHERE source_id = ? OR target_id = ?
		`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, id := range symbolIDs {
			res, err := stmt.Exec(id, id)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += int(n)
		}
		return nil
	})
	return total, err
}

// DeleteEdgesFromSources removes every edge originating at the given symbols.
// Used when a symbol changed or disappeared: its old call sites no longer
// describe the code, the fresh extraction re-inserts the current ones.
func (s *EdgeStore) DeleteEdgesFromSources(symbolIDs []string) (int, error) {
	if len(symbolIDs) == 0 {
		return 0, nil
	}

	total := 0
	err := s.db.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`DELETE FROM edges WHERE source_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, id := range symbolIDs {
			res, err := stmt.Exec(id)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += int(n)
		}
		return nil
	})
	return total, err
}

// RegistrationSources returns the distinct source symbols of same-kind edges
// sharing a target key, excluding one source. For event-like kinds these are
// the listen-side registrations that rendezvous with an emit site.
func (s *EdgeStore) RegistrationSources(kind model.EdgeKind, targetKey, excludeSource string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT source_id FROM edges
		WHERE kind = ? AND target_key = ? AND source_id != ?
		ORDER BY source_id
	`, string(kind), targetKey, excludeSource)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var sources []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sources = append(sources, id)
	}
	return sources, rows.Err()
}

// CountByState returns edge counts grouped by resolution state
func (s *EdgeStore) CountByState() (map[model.ResolutionState]int, error) {
	rows, err := s.db.Query(`
		SELECT resolution_state, COUNT(*) FROM edges GROUP BY resolution_state
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.ResolutionState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[model.ResolutionState(state)] = n
	}
	return counts, rows.Err()
}

func (s *EdgeStore) queryEdges(query string, args ...interface{}) ([]model.Edge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		var kind, state string
		var targetID, rawExpr sql.NullString

		if err := rows.Scan(&e.SourceID, &e.TargetKey, &targetID, &kind,
			&e.Location.File, &e.Location.StartLine, &state, &rawExpr); err != nil {
			return nil, err
		}
		e.Kind = model.EdgeKind(kind)
		e.State = model.ResolutionState(state)
		e.TargetID = targetID.String
		e.RawExpression = rawExpr.String
		out = append(out, e)
	}
	return out, rows.Err()
}
