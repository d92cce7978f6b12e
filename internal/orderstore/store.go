// Package orderstore keeps the dev backend's print orders in DuckDB.
package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jumboxerox/opsconsole/internal/orderstore/migrate"
)

var (
	// ErrNotFound is returned for an order id the store does not know.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyDeleted is returned when an order's files were removed before.
	ErrAlreadyDeleted = errors.New("files already deleted")
)

// Store manages the DuckDB connection holding orders and their file records.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex // serializes writers
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates the order database and applies migrations.
// An empty dbPath opens an in-memory database.
func NewStore(dbPath string, queryTimeout time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	s := &Store{db: db, dbPath: dbPath, QueryTimeout: queryTimeout}

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	if _, err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.dbPath
}

// withTimeout bounds ctx by the store's query timeout.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.QueryTimeout)
}
