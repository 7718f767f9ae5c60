package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"tracer/internal/model"
)

// SymbolStore provides access to the symbols table
type SymbolStore struct {
	db *DB
}

// NewSymbolStore creates a symbol store over db
func NewSymbolStore(db *DB) *SymbolStore {
	return &SymbolStore{db: db}
}

// UpsertSymbols replaces the given symbols in a single transaction.
// Re-extraction replaces symbols wholesale, so an upsert on id is enough.
func (s *SymbolStore) UpsertSymbols(symbols []model.Symbol) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		return UpsertSymbolsTx(tx, symbols)
	})
}

// UpsertSymbolsTx writes symbols within an existing transaction
func UpsertSymbolsTx(tx *sql.Tx, symbols []model.Symbol) error {
	stmt, err := tx.Prepare(`
		INSERT INTO symbols (id, kind, name, qualified_name, file, line_start, line_end,
			visibility, exported, signature_json, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, name=excluded.name, qualified_name=excluded.qualified_name,
			file=excluded.file, line_start=excluded.line_start, line_end=excluded.line_end,
			visibility=excluded.visibility, exported=excluded.exported,
			signature_json=excluded.signature_json, fingerprint=excluded.fingerprint
	`)
	if err != nil {
		return fmt.Errorf("prepare symbol upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, sym := range symbols {
		var sigJSON sql.NullString
		if sym.Signature != nil {
			data, err := json.Marshal(sym.Signature)
			if err != nil {
				return fmt.Errorf("marshal signature for %s: %w", sym.ID, err)
			}
			sigJSON = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := stmt.Exec(
			sym.ID, string(sym.Kind), sym.Name, sym.QualifiedName,
			sym.Location.File, sym.Location.StartLine, sym.Location.EndLine,
			sym.Visibility, boolToInt(sym.Exported), sigJSON, sym.Fingerprint,
		); err != nil {
			return fmt.Errorf("upsert symbol %s: %w", sym.ID, err)
		}
	}
	return nil
}

// GetSymbol returns the symbol with the given id, or nil if absent
func (s *SymbolStore) GetSymbol(id string) (*model.Symbol, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, name, qualified_name, file, line_start, line_end,
			visibility, exported, signature_json, fingerprint
		FROM symbols WHERE id = ?
	`, id)

	sym, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// GetSymbolsByName returns all symbols with the given short name
func (s *SymbolStore) GetSymbolsByName(name string) ([]model.Symbol, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, name, qualified_name, file, line_start, line_end,
			visibility, exported, signature_json, fingerprint
		FROM symbols WHERE name = ? ORDER BY file, line_start
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return collectSymbols(rows)
}

// GetSymbolsInFile returns all symbols defined in the given file
func (s *SymbolStore) GetSymbolsInFile(file string) ([]model.Symbol, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, name, qualified_name, file, line_start, line_end,
			visibility, exported, signature_json, fingerprint
		FROM symbols WHERE file = ? ORDER BY line_start
	`, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return collectSymbols(rows)
}

// AllSymbols returns every symbol in the store
func (s *SymbolStore) AllSymbols() ([]model.Symbol, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, name, qualified_name, file, line_start, line_end,
			visibility, exported, signature_json, fingerprint
		FROM symbols ORDER BY file, line_start
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return collectSymbols(rows)
}

// DeleteSymbolsInFile removes all symbols defined in the given file.
// Used when a file is re-extracted or deleted.
func (s *SymbolStore) DeleteSymbolsInFile(file string) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM symbols WHERE file = ?`, file)
		return err
	})
}

// Count returns the number of stored symbols
func (s *SymbolStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM symbols`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSymbol(row rowScanner) (*model.Symbol, error) {
	var sym model.Symbol
	var kind string
	var qualified, visibility, sigJSON, fingerprint sql.NullString
	var lineEnd sql.NullInt64
	var exported int

	err := row.Scan(&sym.ID, &kind, &sym.Name, &qualified,
		&sym.Location.File, &sym.Location.StartLine, &lineEnd,
		&visibility, &exported, &sigJSON, &fingerprint)
	if err != nil {
		return nil, err
	}

	sym.Kind = model.SymbolKind(kind)
	sym.QualifiedName = qualified.String
	sym.Visibility = visibility.String
	sym.Fingerprint = fingerprint.String
	sym.Exported = exported != 0
	if lineEnd.Valid {
		sym.Location.EndLine = int(lineEnd.Int64)
	}
	if sigJSON.Valid && sigJSON.String != "" {
		var sig model.Signature
		if err := json.Unmarshal([]byte(sigJSON.String), &sig); err != nil {
			return nil, fmt.Errorf("unmarshal signature for %s: %w", sym.ID, err)
		}
		sym.Signature = &sig
	}

	return &sym, nil
}

func collectSymbols(rows *sql.Rows) ([]model.Symbol, error) {
	var out []model.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sym)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
