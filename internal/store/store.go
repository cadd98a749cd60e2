// Package store is the ProjectionStore (§4.2): a WAL-mode SQLite database
// holding threads, turns, events, approvals, interactions, and an audit
// log, accessed through sqlx struct scanning with goose-managed schema
// migrations. It replaces the original source's process-global DB handle
// with an explicit constructor per the §9 "global projection instance"
// design note: callers hold a *Store value and pass it to the components
// that need it; tests open their own temp-file (or in-memory) stores.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/codex-web/agent-gateway/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the gateway's durable projection database.
type Store struct {
	db *sqlx.DB
}

// Open creates (if needed) and migrates the SQLite database at path, then
// returns a ready Store. path may be ":memory:" for tests, though an
// in-memory DB only tolerates a single connection — tests that need WAL
// concurrency semantics should use a temp file instead.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("store: set dialect: %w", err)
	}
	goose.SetBaseFS(migrations)
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. Mirrors the savepoint/commit discipline the
// pack's database-state manager uses for multi-statement writes (§4.2:
// "all multi-row writes run inside a single transaction with explicit
// BEGIN/COMMIT/ROLLBACK").
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// ErrNotPending is returned by resolve/respond/cancel operations when the
// target row is no longer pending — the terminal-transition idempotence
// invariant of §3 and §8.
var ErrNotPending = fmt.Errorf("store: row is not pending")

// ErrNotFound is returned when a row lookup by id misses.
var ErrNotFound = fmt.Errorf("store: row not found")

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func ptrString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func ptrTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// threadRow/turnRow/etc. mirror domain types but use sql.Null* for nullable
// columns since database/sql scanning can't target *string/*time.Time
// directly through sqlx's struct binding for every driver.
type threadRow struct {
	ThreadID   string         `db:"thread_id"`
	ProjectKey string         `db:"project_key"`
	Title      string         `db:"title"`
	Preview    string         `db:"preview"`
	Status     string         `db:"status"`
	Archived   bool           `db:"archived"`
	UpdatedAt  time.Time      `db:"updated_at"`
	LastError  sql.NullString `db:"last_error"`
}

func (r threadRow) toDomain() domain.Thread {
	return domain.Thread{
		ThreadID:   r.ThreadID,
		ProjectKey: r.ProjectKey,
		Title:      r.Title,
		Preview:    r.Preview,
		Status:     domain.ThreadStatus(r.Status),
		Archived:   r.Archived,
		UpdatedAt:  r.UpdatedAt,
		LastError:  ptrString(r.LastError),
	}
}

func fromDomainThread(t domain.Thread) threadRow {
	return threadRow{
		ThreadID:   t.ThreadID,
		ProjectKey: t.ProjectKey,
		Title:      t.Title,
		Preview:    t.Preview,
		Status:     string(t.Status),
		Archived:   t.Archived,
		UpdatedAt:  t.UpdatedAt,
		LastError:  nullableString(t.LastError),
	}
}
