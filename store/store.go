// Package store provides the unified sqlite storage layer.
// All database operations go through this package.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"gridbot/logger"
)

// Store unified data storage
type Store struct {
	db *sql.DB

	// Sub-stores (lazy initialization)
	grid     *GridStore
	decision *DecisionStore

	mu sync.RWMutex
}

// New creates a Store backed by a sqlite file
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	logger.Infof("✅ Database initialized (%s)", dbPath)
	return s, nil
}

// NewFromDB creates a Store from an existing database connection
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}
	return s, nil
}

// initTables initializes all database tables
func (s *Store) initTables() error {
	if err := s.Grid().initTables(); err != nil {
		return fmt.Errorf("failed to initialize grid tables: %w", err)
	}
	if err := s.Decision().initTables(); err != nil {
		return fmt.Errorf("failed to initialize decision tables: %w", err)
	}
	return nil
}

// Grid gets grid strategy storage
func (s *Store) Grid() *GridStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid == nil {
		s.grid = &GridStore{db: s.db}
	}
	return s.grid
}

// Decision gets decision feed storage
func (s *Store) Decision() *DecisionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decision == nil {
		s.decision = &DecisionStore{db: s.db}
	}
	return s.decision
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction executes fn inside a transaction
func (s *Store) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
