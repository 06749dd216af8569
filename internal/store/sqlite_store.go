// Package store provides the SQLite-backed persistence layer for chats,
// messages and their file attachments.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/rs/zerolog"
)

// Options configures a SQLiteStore.
type Options struct {
	// DSN is ":memory:" for an in-memory database or a file path.
	DSN string
	// Atomic wraps multi-statement operations in a transaction. Without it
	// every statement commits on its own and a failure can leave partial state.
	Atomic bool
	Logger *zerolog.Logger

	// open replaces the driver open in tests.
	open func(ctx context.Context, dsn string) (*sql.DB, error)
}

// SQLiteStore is the SQLite-backed conversation store.
// The handle is opened asynchronously; every operation checks the lifecycle
// state before touching it.
type SQLiteStore struct {
	mu    sync.RWMutex
	db    *sql.DB
	state State
	err   error
	ready chan struct{}

	atomic bool
	log    zerolog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Open returns a store in the loading state and opens the database in the
// background. Use Ready or Wait to observe the transition.
func Open(ctx context.Context, opts Options) *SQLiteStore {
	s := newStore(opts)
	opener := opts.open
	if opener == nil {
		opener = openSQLite
	}
	go s.load(ctx, opener, opts.DSN)
	return s
}

// OpenSync opens the database and waits for it to become ready.
func OpenSync(ctx context.Context, opts Options) (*SQLiteStore, error) {
	s := Open(ctx, opts)
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a transactional store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	return OpenSync(context.Background(), Options{DSN: dsn, Atomic: true})
}

func newStore(opts Options) *SQLiteStore {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &SQLiteStore{
		state:  StateLoading,
		ready:  make(chan struct{}),
		atomic: opts.Atomic,
		log:    log.With().Str("component", "store").Logger(),
	}
}

func (s *SQLiteStore) load(ctx context.Context, opener func(context.Context, string) (*sql.DB, error), dsn string) {
	db, err := opener(ctx, dsn)
	applied := 0
	if err == nil {
		applied, err = migrate(ctx, db)
		if err != nil {
			db.Close()
		}
	}

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.err = err
	} else {
		s.db = db
		s.state = StateReady
	}
	s.mu.Unlock()
	close(s.ready)

	if err != nil {
		s.log.Error().Err(err).Str("dsn", dsn).Msg("store initialization failed")
		return
	}
	s.log.Info().
		Str("dsn", dsn).
		Bool("atomic", s.atomic).
		Int("migrations_applied", applied).
		Int("schema_version", schemaVersion()).
		Msg("store ready")
}

// openSQLite opens the database with one connection: an in-memory database
// lives on its connection, and the store has a single writer.
func openSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if !isMemoryDSN(dsn) {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// State returns the current lifecycle state.
func (s *SQLiteStore) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready is closed once the store leaves the loading state.
func (s *SQLiteStore) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until the store settles. It returns the initialization error
// (wrapped in ErrStoreUnavailable) if opening failed.
func (s *SQLiteStore) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStoreNotReady, ctx.Err())
	}
	_, err := s.handle()
	return err
}

// Close closes the database connection. Later operations fail with ErrStoreUnavailable.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.state = StateFailed
	s.err = errors.New("store closed")
	return err
}

// handle returns the open database or the lifecycle error.
func (s *SQLiteStore) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateLoading:
		return nil, ErrStoreNotReady
	case StateFailed:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, s.err)
	}
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	return s.db, nil
}

// begin checks the handle and the caller's context. Statements already
// issued are not interrupted, so the returned context drops cancellation.
func (s *SQLiteStore) begin(ctx context.Context) (context.Context, *sql.DB, error) {
	db, err := s.handle()
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return context.WithoutCancel(ctx), db, nil
}

// read runs fn directly against the connection.
func (s *SQLiteStore) read(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	ctx, db, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, db)
}

// write runs a multi-statement mutation, inside a transaction when the store is atomic.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func(ctx context.Context, q querier) error) error {
	ctx, db, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if !s.atomic {
		return fn(ctx, db)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fault(op+": begin", err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Str("op", op).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fault(op+": commit", err)
	}
	return nil
}

// =============================================================================
// Primitives
// =============================================================================

// Execute runs a parameterized statement.
func (s *SQLiteStore) Execute(ctx context.Context, query string, args ...any) (ExecResult, error) {
	var out ExecResult
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return fault("execute", err)
		}
		out.RowsAffected, _ = res.RowsAffected()
		out.LastInsertID, _ = res.LastInsertId()
		return nil
	})
	return out, err
}

// Select runs a parameterized query and returns loosely typed rows.
// TEXT columns come back as string.
func (s *SQLiteStore) Select(ctx context.Context, query string, args ...any) ([]Row, error) {
	var out []Row
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fault("select", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return fault("select", err)
		}
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fault("select", err)
			}
			row := make(Row, len(cols))
			for i, c := range cols {
				if b, ok := vals[i].([]byte); ok {
					row[c] = string(b)
					continue
				}
				row[c] = vals[i]
			}
			out = append(out, row)
		}
		return fault("select", rows.Err())
	})
	return out, err
}

// =============================================================================
// Helpers
// =============================================================================

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
