package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"bodega/backend/internal/store"
)

// Store is the relational repository. One type serves both the embedded
// sqlite file and postgres; the dialect supplies DDL, day bucketing and
// constraint error detection.
//
// The handle can be closed and reopened at runtime. Operations hold a read
// lock for their whole duration, so Close and WithClosed wait for anything
// in flight before touching the underlying *sqlx.DB.
type Store struct {
	mu      sync.RWMutex
	db      *sqlx.DB
	dialect dialect
	source  string
}

func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	return open(ctx, sqliteDialect{}, path)
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	return open(ctx, postgresDialect{}, databaseURL)
}

func open(ctx context.Context, d dialect, source string) (*Store, error) {
	s := &Store{dialect: d, source: source}
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openLocked(ctx context.Context) error {
	db, err := sqlx.Open(s.dialect.driverName(), s.dialect.dsn(s.source))
	if err != nil {
		return err
	}
	s.dialect.configure(db)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return err
	}
	if err := migrate(ctx, db, s.dialect); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate %s schema: %w", s.dialect.name(), err)
	}

	s.db = db
	return nil
}

func migrate(ctx context.Context, db *sqlx.DB, d dialect) error {
	for _, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Dialect() string {
	return s.dialect.name()
}

// Path returns the database file backing a sqlite store. It is empty for
// postgres.
func (s *Store) Path() string {
	if !s.dialect.fileBacked() {
		return ""
	}
	return s.source
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Reopen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
	}
	return s.openLocked(ctx)
}

// WithClosed closes the handle, runs fn against the database file and
// reopens the handle whether or not fn succeeded.
func (s *Store) WithClosed(ctx context.Context, fn func(path string) error) error {
	if !s.dialect.fileBacked() {
		return fmt.Errorf("%s store has no database file: %w", s.dialect.name(), errors.ErrUnsupported)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
	}

	fnErr := fn(s.source)
	if err := s.openLocked(ctx); err != nil {
		return errors.Join(fnErr, fmt.Errorf("reopen %s: %w", s.source, err))
	}
	return fnErr
}

func (s *Store) acquire() (*sqlx.DB, func(), error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, func() {}, store.ErrClosed
	}
	return s.db, s.mu.RUnlock, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	tx      *sqlx.Tx
	dialect dialect
}
