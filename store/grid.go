package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/grid"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// GridStore persists strategy configs (write-once per activation),
// strategy state snapshots (append-on-write, latest authoritative) and the
// fill audit log. Implements grid.Repository.
type GridStore struct {
	db *sql.DB
}

// NewGridStore creates a grid storage instance
func NewGridStore(db *sql.DB) *GridStore {
	return &GridStore{db: db}
}

func (s *GridStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS grid_configs (
			id TEXT PRIMARY KEY,
			pair TEXT NOT NULL,
			config TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create grid_configs table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS grid_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create grid_states table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS grid_fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			order_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			method TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(pair, order_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create grid_fills table: %w", err)
	}

	indices := []string{
		`CREATE INDEX IF NOT EXISTS idx_grid_configs_pair ON grid_configs(pair, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_states_pair ON grid_states(pair, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_fills_pair ON grid_fills(pair, detected_at DESC)`,
	}
	for _, idx := range indices {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// SaveConfig stores an activation config. Configs are immutable: one row
// per activation, never updated.
func (s *GridStore) SaveConfig(cfg *grid.StrategyConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal strategy config: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO grid_configs (id, pair, config, created_at) VALUES (?, ?, ?, ?)
	`, cfg.ID, cfg.Pair, string(raw), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert strategy config: %w", err)
	}
	return nil
}

// LatestConfig returns the most recent activation config for a pair, or
// nil when the pair was never activated
func (s *GridStore) LatestConfig(pair string) (*grid.StrategyConfig, error) {
	var raw string
	err := s.db.QueryRow(`
		SELECT config FROM grid_configs WHERE pair = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, pair).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest config: %w", err)
	}
	var cfg grid.StrategyConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, grid.WrapErr(grid.ErrStateCorruption, err, "stored config for %s does not deserialize", pair)
	}
	return &cfg, nil
}

// SaveState appends a state snapshot; the latest row is authoritative
func (s *GridStore) SaveState(st *grid.StrategyState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal strategy state: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO grid_states (pair, state, created_at) VALUES (?, ?, ?)
	`, st.Pair, string(raw), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert strategy state: %w", err)
	}
	return nil
}

// LoadState returns the latest state snapshot for a pair, nil when none
// exists. A snapshot that fails to deserialize or violates an invariant is
// reported as state corruption.
func (s *GridStore) LoadState(pair string) (*grid.StrategyState, error) {
	var raw string
	err := s.db.QueryRow(`
		SELECT state FROM grid_states WHERE pair = ? ORDER BY id DESC LIMIT 1
	`, pair).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest state: %w", err)
	}

	var st grid.StrategyState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, grid.WrapErr(grid.ErrStateCorruption, err, "stored state for %s does not deserialize", pair)
	}
	if err := st.CheckIntegrity(); err != nil {
		return nil, err
	}
	return &st, nil
}

// RecordFill appends to the fill audit log. A duplicate order ID for the
// pair is ignored: at most one fill is ever recorded per order.
func (s *GridStore) RecordFill(pair string, f grid.FillEvent) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO grid_fills (pair, order_id, side, price, quantity, method, detected_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, pair, f.OrderID, string(f.Side), f.Price.String(), f.Quantity.String(),
		string(f.Method), f.DetectedAt.Format(time.RFC3339), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert fill record: %w", err)
	}
	return nil
}

// RecentFills returns the newest fills for a pair
func (s *GridStore) RecentFills(pair string, limit int) ([]grid.FillEvent, error) {
	rows, err := s.db.Query(`
		SELECT order_id, side, price, quantity, method, detected_at
		FROM grid_fills WHERE pair = ? ORDER BY detected_at DESC LIMIT ?
	`, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []grid.FillEvent
	for rows.Next() {
		var f grid.FillEvent
		var side, price, qty, method, detectedAt string
		if err := rows.Scan(&f.OrderID, &side, &price, &qty, &method, &detectedAt); err != nil {
			continue
		}
		f.Side = grid.Side(side)
		f.Method = grid.DetectionMethod(method)
		if f.Price, err = decimalFromString(price); err != nil {
			continue
		}
		if f.Quantity, err = decimalFromString(qty); err != nil {
			continue
		}
		f.DetectedAt, _ = time.Parse(time.RFC3339, detectedAt)
		fills = append(fills, f)
	}
	return fills, nil
}
