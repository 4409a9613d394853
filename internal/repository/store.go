// Package repository implements domain.Store over database/sql for SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx stdlib driver).
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/hepatica-risk-engine/internal/database"
	"github.com/hepatica-risk-engine/internal/domain"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// SQLStore implements domain.Store. A store returned to a Transact callback
// shares the parent's clock and routes every statement through the
// transaction.
type SQLStore struct {
	db      *sql.DB
	q       querier
	dialect dialect
	clock   *clock
	log     *logrus.Logger
	closer  func() error
	inTx    bool
}

var _ domain.Store = (*SQLStore)(nil)

// NewSQLiteStore opens (creating if needed) a SQLite database at dbPath and
// ensures the schema exists.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Debug("SQLite store opened")
	return newStore(db, dialectSQLite, logger, db.Close), nil
}

// NewPostgresStore wraps an open PostgreSQL handle. The schema is expected
// to exist already (created via migrations).
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newStore(db, dialectPostgres, logger, db.Close), nil
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger) (*SQLStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case "postgres":
		conn, err := database.NewConnection(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(conn.SQL, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		store.closer = conn.Close
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newStore(db *sql.DB, d dialect, logger *logrus.Logger, closer func() error) *SQLStore {
	return &SQLStore{
		db:      db,
		q:       db,
		dialect: d,
		clock:   newClock(time.Now),
		log:     logger,
		closer:  closer,
	}
}

// Transact runs fn inside a database transaction. Calls made on a store
// that is already transactional join the outer transaction.
func (s *SQLStore) Transact(ctx context.Context, opts domain.TxOptions, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txStore := &SQLStore{
		db:      s.db,
		q:       tx,
		dialect: s.dialect,
		clock:   s.clock,
		log:     s.log,
		inTx:    true,
	}

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).Warn("Failed to roll back transaction")
		}
		return err
	}

	if opts.DryRun {
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("rolling back dry run: %w", err)
		}
		s.log.Debug("Dry-run transaction rolled back")
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close closes the store and releases resources.
func (s *SQLStore) Close() error {
	if s.inTx || s.closer == nil {
		return nil
	}
	return s.closer()
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.q.ExecContext(ctx, s.rebind(query), args...)
	return err
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

// jsonArg marshals v for a JSON column: TEXT on SQLite, JSONB on PostgreSQL.
func (s *SQLStore) jsonArg(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s.dialect == dialectPostgres {
		return b, nil
	}
	return string(b), nil
}

func (s *SQLStore) fail(op string, err error, fields logrus.Fields) error {
	s.log.WithFields(fields).WithError(err).Error("Failed to " + op)
	return fmt.Errorf("%s: %w", op, err)
}

// stamp fills a missing id and creation time.
func (s *SQLStore) stamp(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = s.clock.Now()
	}
}

func notFound(kind, id string, err error) error {
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return fmt.Errorf("getting %s: %w", kind, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// clock hands out strictly increasing UTC timestamps at microsecond
// precision so that created_at ordering is total within a process.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock(now func() time.Time) *clock {
	return &clock{now: now}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
