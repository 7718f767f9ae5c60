package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"tracer/internal/model"
)

// GraphStore provides access to the traced-graph tables: entry points, final
// outcomes, pathways, fan-out points and their branches.
type GraphStore struct {
	db *DB
}

// NewGraphStore creates a graph store over db
func NewGraphStore(db *DB) *GraphStore {
	return &GraphStore{db: db}
}

// ReplaceClassification replaces entry point and outcome tags wholesale.
// Classification is deterministic over the index, so rewriting is safe.
// Dead markers applied by oracle resolutions are preserved.
func (s *GraphStore) ReplaceClassification(entries []model.EntryPoint, outcomes []model.FinalOutcome) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		deadEntries, deadOutcomes, err := deadMarkers(tx)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM entry_points`); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM final_outcomes`); err != nil {
			return err
		}

		for _, ep := range entries {
			if _, err := tx.Exec(`
				INSERT INTO entry_points (symbol_id, category, label, auth_required, dead)
				VALUES (?, ?, ?, ?, ?)
			`, ep.SymbolID, ep.Category, ep.Label, boolToInt(ep.AuthRequired), boolToInt(deadEntries[ep.SymbolID])); err != nil {
				return fmt.Errorf("insert entry point %s: %w", ep.SymbolID, err)
			}
		}
		for _, fo := range outcomes {
			if _, err := tx.Exec(`
				INSERT INTO final_outcomes (symbol_id, category, target, dead)
				VALUES (?, ?, ?, ?)
			`, fo.SymbolID, fo.Category, fo.Target, boolToInt(deadOutcomes[fo.SymbolID])); err != nil {
				return fmt.Errorf("insert final outcome %s: %w", fo.SymbolID, err)
			}
		}
		return nil
	})
}

func deadMarkers(tx *sql.Tx) (map[string]bool, map[string]bool, error) {
	deadEntries := make(map[string]bool)
	deadOutcomes := make(map[string]bool)

	rows, err := tx.Query(`SELECT symbol_id FROM entry_points WHERE dead = 1`)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		deadEntries[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = tx.Query(`SELECT symbol_id FROM final_outcomes WHERE dead = 1`)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		deadOutcomes[id] = true
	}
	rows.Close()
	return deadEntries, deadOutcomes, rows.Err()
}

// AddOutcome tags a single symbol as a final outcome. Used when the oracle
// classifies a subject as an external boundary.
func (s *GraphStore) AddOutcome(fo model.FinalOutcome) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO final_outcomes (symbol_id, category, target, dead)
			VALUES (?, ?, ?, 0)
			ON CONFLICT(symbol_id) DO UPDATE SET category=excluded.category, target=excluded.target
		`, fo.SymbolID, fo.Category, fo.Target)
		return err
	})
}

// MarkDead excludes a symbol from future validation as entry or outcome
func (s *GraphStore) MarkDead(symbolID string) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE entry_points SET dead = 1 WHERE symbol_id = ?`, symbolID); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE final_outcomes SET dead = 1 WHERE symbol_id = ?`, symbolID)
		return err
	})
}

// EntryPoints returns all live entry points
func (s *GraphStore) EntryPoints() ([]model.EntryPoint, error) {
	rows, err := s.db.Query(`
		SELECT symbol_id, category, label, auth_required FROM entry_points
		WHERE dead = 0 ORDER BY symbol_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EntryPoint
	for rows.Next() {
		var ep model.EntryPoint
		var label sql.NullString
		var auth int
		if err := rows.Scan(&ep.SymbolID, &ep.Category, &label, &auth); err != nil {
			return nil, err
		}
		ep.Label = label.String
		ep.AuthRequired = auth != 0
		out = append(out, ep)
	}
	return out, rows.Err()
}

// FinalOutcomes returns all live final outcomes
func (s *GraphStore) FinalOutcomes() ([]model.FinalOutcome, error) {
	rows, err := s.db.Query(`
		SELECT symbol_id, category, target FROM final_outcomes
		WHERE dead = 0 ORDER BY symbol_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FinalOutcome
	for rows.Next() {
		var fo model.FinalOutcome
		var target sql.NullString
		if err := rows.Scan(&fo.SymbolID, &fo.Category, &target); err != nil {
			return nil, err
		}
		fo.Target = target.String
		out = append(out, fo)
	}
	return out, rows.Err()
}

// ReplacePathwaysForEntry atomically replaces all pathways owned by one entry
// point. Pathways are never partially mutated.
func (s *GraphStore) ReplacePathwaysForEntry(entrySymbol string, pathways []model.Pathway) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if err := deletePathwaysForEntryTx(tx, entrySymbol); err != nil {
			return err
		}
		for i := range pathways {
			if err := insertPathwayTx(tx, &pathways[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePathwaysForEntryTx(tx *sql.Tx, entrySymbol string) error {
	rows, err := tx.Query(`SELECT id FROM pathways WHERE entry_symbol = ?`, entrySymbol)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM fanout_branches WHERE pathway_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM pathway_steps WHERE pathway_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM pathways WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func insertPathwayTx(tx *sql.Tx, p *model.Pathway) error {
	var lineageJSON sql.NullString
	if len(p.Lineage) > 0 {
		data, err := json.Marshal(p.Lineage)
		if err != nil {
			return fmt.Errorf("marshal lineage for %s: %w", p.ID, err)
		}
		lineageJSON = sql.NullString{String: string(data), Valid: true}
	}

	flags := make([]string, 0, len(p.Flags))
	for _, f := range p.Flags {
		flags = append(flags, string(f))
	}

	if _, err := tx.Exec(`
		INSERT INTO pathways (id, entry_symbol, outcome_symbol, flags, lineage_json)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.EntrySymbol, p.OutcomeSymbol, strings.Join(flags, ","), lineageJSON); err != nil {
		return fmt.Errorf("insert pathway %s: %w", p.ID, err)
	}

	for i, step := range p.Steps {
		var infraJSON sql.NullString
		if len(step.Infrastructure) > 0 {
			data, err := json.Marshal(step.Infrastructure)
			if err != nil {
				return fmt.Errorf("marshal infra for %s step %d: %w", p.ID, i, err)
			}
			infraJSON = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.Exec(`
			INSERT INTO pathway_steps (pathway_id, idx, symbol_id, step_type, file, line_start, infra_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, i, step.SymbolID, string(step.Type), step.Location.File, step.Location.StartLine, infraJSON); err != nil {
			return fmt.Errorf("insert step %d of %s: %w", i, p.ID, err)
		}
	}

	// Record branch membership for every fan-out point on the lineage
	for _, ref := range p.Lineage {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO fanout_branches (fanout_id, branch_idx, pathway_id)
			VALUES (?, ?, ?)
		`, ref.FanOutID, ref.BranchIndex, p.ID); err != nil {
			return fmt.Errorf("insert fanout branch for %s: %w", p.ID, err)
		}
	}

	return nil
}

// UpsertFanOutPoint records a one-to-many edge with its branch count.
// Collapses on (source, target key, location).
func (s *GraphStore) UpsertFanOutPoint(fp model.FanOutPoint) (string, error) {
	var id string
	err := s.db.WithTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			SELECT id FROM fanout_points
			WHERE source_id = ? AND target_key = ? AND file = ? AND line_start = ?
		`, fp.SourceID, fp.TargetKey, fp.Location.File, fp.Location.StartLine).Scan(&id)

		if err == sql.ErrNoRows {
			id = fp.ID
			_, err = tx.Exec(`
				INSERT INTO fanout_points (id, source_id, target_key, kind, file, line_start, branch_count)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, fp.ID, fp.SourceID, fp.TargetKey, string(fp.Kind), fp.Location.File, fp.Location.StartLine, fp.BranchCount)
			return err
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(`UPDATE fanout_points SET branch_count = ? WHERE id = ?`, fp.BranchCount, id)
		return err
	})
	return id, err
}

// FanOutPoints returns all recorded fan-out points
func (s *GraphStore) FanOutPoints() ([]model.FanOutPoint, error) {
	rows, err := s.db.Query(`
		SELECT id, source_id, target_key, kind, file, line_start, branch_count
		FROM fanout_points ORDER BY file, line_start
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FanOutPoint
	for rows.Next() {
		var fp model.FanOutPoint
		var kind string
		if err := rows.Scan(&fp.ID, &fp.SourceID, &fp.TargetKey, &kind,
			&fp.Location.File, &fp.Location.StartLine, &fp.BranchCount); err != nil {
			return nil, err
		}
		fp.Kind = model.EdgeKind(kind)
		out = append(out, fp)
	}
	return out, rows.Err()
}

// BranchPathways returns pathway ids per branch index for a fan-out point
func (s *GraphStore) BranchPathways(fanoutID string) (map[int][]string, error) {
	rows, err := s.db.Query(`
		SELECT branch_idx, pathway_id FROM fanout_branches
		WHERE fanout_id = ? ORDER BY branch_idx
	`, fanoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[int][]string)
	for rows.Next() {
		var idx int
		var pid string
		if err := rows.Scan(&idx, &pid); err != nil {
			return nil, err
		}
		out[idx] = append(out[idx], pid)
	}
	return out, rows.Err()
}

// Pathways returns all pathways with their ordered steps
func (s *GraphStore) Pathways() ([]model.Pathway, error) {
	rows, err := s.db.Query(`
		SELECT id, entry_symbol, outcome_symbol, flags, lineage_json
		FROM pathways ORDER BY entry_symbol, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Pathway
	for rows.Next() {
		p, err := scanPathway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		steps, err := s.stepsFor(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Steps = steps
	}
	return out, nil
}

// PathwaysForEntry returns the pathways owned by one entry point
func (s *GraphStore) PathwaysForEntry(entrySymbol string) ([]model.Pathway, error) {
	rows, err := s.db.Query(`
		SELECT id, entry_symbol, outcome_symbol, flags, lineage_json
		FROM pathways WHERE entry_symbol = ? ORDER BY id
	`, entrySymbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Pathway
	for rows.Next() {
		p, err := scanPathway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		steps, err := s.stepsFor(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Steps = steps
	}
	return out, nil
}

// EntriesOwningSymbol returns the entry symbols whose pathways contain the
// given symbol on any step. Drives targeted re-tracing.
func (s *GraphStore) EntriesOwningSymbol(symbolID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT p.entry_symbol
		FROM pathways p JOIN pathway_steps ps ON ps.pathway_id = p.id
		WHERE ps.symbol_id = ?
		ORDER BY p.entry_symbol
	`, symbolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SymbolsOnPathways returns the set of symbol ids appearing on any pathway
// step, including infrastructure annotations.
func (s *GraphStore) SymbolsOnPathways() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol_id, infra_json FROM pathway_steps`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		var infraJSON sql.NullString
		if err := rows.Scan(&id, &infraJSON); err != nil {
			return nil, err
		}
		seen[id] = true
		if infraJSON.Valid && infraJSON.String != "" {
			var infra []model.InfraAnnotation
			if err := json.Unmarshal([]byte(infraJSON.String), &infra); err != nil {
				return nil, err
			}
			for _, ann := range infra {
				seen[ann.SymbolID] = true
			}
		}
	}
	return seen, rows.Err()
}

func scanPathway(rows *sql.Rows) (*model.Pathway, error) {
	var p model.Pathway
	var outcome, flags, lineageJSON sql.NullString

	if err := rows.Scan(&p.ID, &p.EntrySymbol, &outcome, &flags, &lineageJSON); err != nil {
		return nil, err
	}
	p.OutcomeSymbol = outcome.String
	if flags.Valid && flags.String != "" {
		for _, f := range strings.Split(flags.String, ",") {
			p.Flags = append(p.Flags, model.PathwayFlag(f))
		}
	}
	if lineageJSON.Valid && lineageJSON.String != "" {
		if err := json.Unmarshal([]byte(lineageJSON.String), &p.Lineage); err != nil {
			return nil, fmt.Errorf("unmarshal lineage for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (s *GraphStore) stepsFor(pathwayID string) ([]model.PathwayStep, error) {
	rows, err := s.db.Query(`
		SELECT symbol_id, step_type, file, line_start, infra_json
		FROM pathway_steps WHERE pathway_id = ? ORDER BY idx
	`, pathwayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var steps []model.PathwayStep
	for rows.Next() {
		var step model.PathwayStep
		var stepType string
		var file, infraJSON sql.NullString
		var line sql.NullInt64

		if err := rows.Scan(&step.SymbolID, &stepType, &file, &line, &infraJSON); err != nil {
			return nil, err
		}
		step.Type = model.StepType(stepType)
		step.Location.File = file.String
		if line.Valid {
			step.Location.StartLine = int(line.Int64)
		}
		if infraJSON.Valid && infraJSON.String != "" {
			if err := json.Unmarshal([]byte(infraJSON.String), &step.Infrastructure); err != nil {
				return nil, fmt.Errorf("unmarshal infra for %s: %w", pathwayID, err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
