package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"tracer/internal/model"
)

// IssueStore provides access to the validation_issues table
type IssueStore struct {
	db *DB
}

// NewIssueStore creates an issue store over db
func NewIssueStore(db *DB) *IssueStore {
	return &IssueStore{db: db}
}

// UpsertIssue records a validation issue. An issue is unique per
// (kind, subject): re-validation refreshes the observation of an open issue
// but never reopens a resolved one.
func (s *IssueStore) UpsertIssue(issue model.ValidationIssue) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow(`
			SELECT status FROM validation_issues WHERE kind = ? AND subject_id = ?
		`, string(issue.Kind), issue.SubjectID).Scan(&status)

		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil && model.IssueStatus(status) == model.IssueResolved {
			return nil
		}

		var optionsJSON sql.NullString
		if len(issue.Options) > 0 {
			data, merr := json.Marshal(issue.Options)
			if merr != nil {
				return fmt.Errorf("marshal options for %s: %w", issue.ID, merr)
			}
			optionsJSON = sql.NullString{String: string(data), Valid: true}
		}

		_, err = tx.Exec(`
			INSERT INTO validation_issues (id, kind, subject_id, observation, question, options_json, status)
			VALUES (?, ?, ?, ?, ?, ?, 'open')
			ON CONFLICT(kind, subject_id) DO UPDATE SET
				observation = excluded.observation,
				question = excluded.question,
				options_json = excluded.options_json
		`, issue.ID, string(issue.Kind), issue.SubjectID, issue.Observation, issue.Question, optionsJSON)
		return err
	})
}

// ResolveIssue closes an issue with the oracle's chosen option
func (s *IssueStore) ResolveIssue(kind model.IssueKind, subjectID, resolution, explanation string) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE validation_issues
			SET status = 'resolved', resolution = ?, explanation = ?
			WHERE kind = ? AND subject_id = ? AND status = 'open'
		`, resolution, explanation, string(kind), subjectID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("no open %s issue for subject %s", kind, subjectID)
		}
		return nil
	})
}

// CloseIssuesForSubject resolves every open issue on a subject. Used when
// re-tracing makes the gaps moot.
func (s *IssueStore) CloseIssuesForSubject(subjectID, resolution string) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE validation_issues SET status = 'resolved', resolution = ?
			WHERE subject_id = ? AND status = 'open'
		`, resolution, subjectID)
		return err
	})
}

// OpenIssues returns all open issues
func (s *IssueStore) OpenIssues() ([]model.ValidationIssue, error) {
	return s.queryIssues(`
		SELECT id, kind, subject_id, observation, question, options_json, status, resolution, explanation
		FROM validation_issues WHERE status = 'open' ORDER BY kind, subject_id
	`)
}

// AllIssues returns every issue, open and resolved
func (s *IssueStore) AllIssues() ([]model.ValidationIssue, error) {
	return s.queryIssues(`
		SELECT id, kind, subject_id, observation, question, options_json, status, resolution, explanation
		FROM validation_issues ORDER BY status, kind, subject_id
	`)
}

// OpenCountByKind returns open issue counts grouped by kind
func (s *IssueStore) OpenCountByKind() (map[model.IssueKind]int, error) {
	rows, err := s.db.Query(`
		SELECT kind, COUNT(*) FROM validation_issues WHERE status = 'open' GROUP BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.IssueKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[model.IssueKind(kind)] = n
	}
	return counts, rows.Err()
}

func (s *IssueStore) queryIssues(query string, args ...interface{}) ([]model.ValidationIssue, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ValidationIssue
	for rows.Next() {
		var issue model.ValidationIssue
		var kind, status string
		var question, optionsJSON, resolution, explanation sql.NullString

		if err := rows.Scan(&issue.ID, &kind, &issue.SubjectID, &issue.Observation,
			&question, &optionsJSON, &status, &resolution, &explanation); err != nil {
			return nil, err
		}
		issue.Kind = model.IssueKind(kind)
		issue.Status = model.IssueStatus(status)
		issue.Question = question.String
		issue.Resolution = resolution.String
		issue.Explanation = explanation.String
		if optionsJSON.Valid && optionsJSON.String != "" {
			if err := json.Unmarshal([]byte(optionsJSON.String), &issue.Options); err != nil {
				return nil, fmt.Errorf("unmarshal options for %s: %w", issue.ID, err)
			}
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}
