// Package store is the local sqlite database: survey profiles, the job
// queue, the outbox, the media cache and, for the multi-device transport,
// the whatsmeow device tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Store wraps the sqlite database and, lazily, whatsmeow's sqlstore.
type Store struct {
	db  *sql.DB
	log waLog.Logger

	containerOnce sync.Once
	container     *sqlstore.Container
	containerErr  error
}

// New opens (creating if needed) the database at dbPath.
func New(dbPath string, log waLog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:  db,
		log: log.Sub("Store"),
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create app tables: %w", err)
	}

	return s, nil
}

// Container returns the whatsmeow sqlstore container, upgrading its schema
// on first use.
func (s *Store) Container(ctx context.Context) (*sqlstore.Container, error) {
	s.containerOnce.Do(func() {
		c := sqlstore.NewWithDB(s.db, "sqlite3", s.log.Sub("whatsmeow"))
		if err := c.Upgrade(ctx); err != nil {
			s.containerErr = fmt.Errorf("failed to upgrade whatsmeow schema: %w", err)
			return
		}
		s.container = c
	})
	return s.container, s.containerErr
}

// GetDevice returns the paired device or a fresh one to pair.
func (s *Store) GetDevice(ctx context.Context) (*store.Device, error) {
	c, err := s.Container(ctx)
	if err != nil {
		return nil, err
	}

	devices, err := c.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}

	if len(devices) > 0 {
		return devices[0], nil
	}

	return c.NewDevice(), nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addColumn("cabildo_profiles", "version", "INTEGER NOT NULL DEFAULT 1")
}

// addColumn adds a column that databases created by older releases lack.
func (s *Store) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.log.Infof("Adding column %s.%s", table, column)
	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// Exec executes a query without returning rows.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns a single row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
