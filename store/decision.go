package store

import (
	"database/sql"
	"fmt"
	"time"

	"gridbot/grid"
)

// DecisionStore reads the decision feed written by the external signal
// subsystem. Implements grid.DecisionSource. Insert exists for that
// producer and for tests; the engine itself only reads.
type DecisionStore struct {
	db *sql.DB
}

// NewDecisionStore creates a decision storage instance
func NewDecisionStore(db *sql.DB) *DecisionStore {
	return &DecisionStore{db: db}
}

func (s *DecisionStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS brain_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create brain_decisions table: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_brain_decisions_pair ON brain_decisions(pair, kind, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Insert appends a decision
func (s *DecisionStore) Insert(d *grid.Decision) error {
	at := d.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO brain_decisions (pair, kind, action, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.Pair, d.Kind, d.Action, d.Reason, at.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Latest returns the most recent decision for a pair and strategy kind,
// nil when the feed has none
func (s *DecisionStore) Latest(pair, kind string) (*grid.Decision, error) {
	var d grid.Decision
	var createdAt string
	err := s.db.QueryRow(`
		SELECT pair, kind, action, reason, created_at
		FROM brain_decisions WHERE pair = ? AND kind = ?
		ORDER BY id DESC LIMIT 1
	`, pair, kind).Scan(&d.Pair, &d.Kind, &d.Action, &d.Reason, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest decision: %w", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &d, nil
}

// Recent returns the newest decisions for a pair
func (s *DecisionStore) Recent(pair string, limit int) ([]grid.Decision, error) {
	rows, err := s.db.Query(`
		SELECT pair, kind, action, reason, created_at
		FROM brain_decisions WHERE pair = ? ORDER BY id DESC LIMIT ?
	`, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []grid.Decision
	for rows.Next() {
		var d grid.Decision
		var createdAt string
		if err := rows.Scan(&d.Pair, &d.Kind, &d.Action, &d.Reason, &createdAt); err != nil {
			continue
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, d)
	}
	return out, nil
}
