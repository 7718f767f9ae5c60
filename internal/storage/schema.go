package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createSymbolsTable(tx); err != nil {
			return err
		}
		if err := createEdgesTable(tx); err != nil {
			return err
		}
		if err := createClassificationTables(tx); err != nil {
			return err
		}
		if err := createPathwayTables(tx); err != nil {
			return err
		}
		if err := createIssuesTable(tx); err != nil {
			return err
		}
		if err := createMetaTable(tx); err != nil {
			return err
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Store schema initialized", map[string]interface{}{
			"version": currentSchemaVersion,
		})

		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Store schema is up to date", map[string]interface{}{
			"version": version,
		})
		return nil
	}

	db.logger.Info("Running store migrations", map[string]interface{}{
		"from_version": version,
		"to_version":   currentSchemaVersion,
	})

	// Run migrations sequentially as the schema evolves

	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createSymbolsTable creates the symbols table. Symbols are immutable once
// extracted and replaced wholesale on re-extraction of their file.
func createSymbolsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS symbols (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			qualified_name TEXT,
			file TEXT NOT NULL,
			line_start INTEGER NOT NULL,
			line_end INTEGER,
			visibility TEXT,
			exported INTEGER NOT NULL DEFAULT 0,
			signature_json TEXT,
			fingerprint TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create symbols table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createEdgesTable creates the edges table. The UNIQUE constraint is the edge
// dedup key: the same logical connection discovered from both ends collapses
// to one row.
func createEdgesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS edges (
			source_id TEXT NOT NULL,
			target_key TEXT NOT NULL,
			target_id TEXT,
			kind TEXT NOT NULL,
			file TEXT NOT NULL,
			line_start INTEGER NOT NULL,
			resolution_state TEXT NOT NULL
				CHECK(resolution_state IN ('unresolved', 'resolved', 'dead_end', 'external')),
			raw_expression TEXT,

			UNIQUE(kind, source_id, target_key, file, line_start)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create edges table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id)",
		"CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id)",
		"CREATE INDEX IF NOT EXISTS idx_edges_state ON edges(resolution_state)",
		"CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createClassificationTables creates entry_points and final_outcomes
func createClassificationTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS entry_points (
			symbol_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			label TEXT,
			auth_required INTEGER NOT NULL DEFAULT 0,
			dead INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (symbol_id) REFERENCES symbols(id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("failed to create entry_points table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS final_outcomes (
			symbol_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			target TEXT,
			dead INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (symbol_id) REFERENCES symbols(id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("failed to create final_outcomes table: %w", err)
	}

	return nil
}

// createPathwayTables creates pathways, pathway_steps, fanout_points and
// fanout_branches
func createPathwayTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pathways (
			id TEXT PRIMARY KEY,
			entry_symbol TEXT NOT NULL,
			outcome_symbol TEXT,
			flags TEXT,
			lineage_json TEXT
		)
	`); err != nil {
		return fmt.Errorf("failed to create pathways table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pathway_steps (
			pathway_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			symbol_id TEXT NOT NULL,
			step_type TEXT NOT NULL,
			file TEXT,
			line_start INTEGER,
			infra_json TEXT,

			PRIMARY KEY (pathway_id, idx),
			FOREIGN KEY (pathway_id) REFERENCES pathways(id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("failed to create pathway_steps table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS fanout_points (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			file TEXT NOT NULL,
			line_start INTEGER NOT NULL,
			branch_count INTEGER NOT NULL,

			UNIQUE(source_id, target_key, file, line_start)
		)
	`); err != nil {
		return fmt.Errorf("failed to create fanout_points table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS fanout_branches (
			fanout_id TEXT NOT NULL,
			branch_idx INTEGER NOT NULL,
			pathway_id TEXT NOT NULL,

			PRIMARY KEY (fanout_id, branch_idx, pathway_id),
			FOREIGN KEY (fanout_id) REFERENCES fanout_points(id) ON DELETE CASCADE,
			FOREIGN KEY (pathway_id) REFERENCES pathways(id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("failed to create fanout_branches table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_pathways_entry ON pathways(entry_symbol)",
		"CREATE INDEX IF NOT EXISTS idx_pathways_outcome ON pathways(outcome_symbol)",
		"CREATE INDEX IF NOT EXISTS idx_pathway_steps_symbol ON pathway_steps(symbol_id)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createIssuesTable creates the validation_issues table
func createIssuesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS validation_issues (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL
				CHECK(kind IN ('orphan_entry', 'unreachable_outcome', 'graph_gap', 'incomplete_fan_out')),
			subject_id TEXT NOT NULL,
			observation TEXT NOT NULL,
			question TEXT,
			options_json TEXT,
			status TEXT NOT NULL CHECK(status IN ('open', 'resolved')),
			resolution TEXT,
			explanation TEXT,

			UNIQUE(kind, subject_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create validation_issues table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_issues_status ON validation_issues(status)",
		"CREATE INDEX IF NOT EXISTS idx_issues_subject ON validation_issues(subject_id)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createMetaTable creates the meta key/value table for run bookkeeping
func createMetaTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	return nil
}
