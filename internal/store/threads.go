package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codex-web/agent-gateway/internal/domain"
)

// UpsertThreads inserts or replaces every row by threadId, in one
// transaction (§4.2 upsertThreads).
func (s *Store) UpsertThreads(ctx context.Context, threads []domain.Thread) error {
	if len(threads) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		const q = `
			INSERT INTO threads (thread_id, project_key, title, preview, status, archived, updated_at, last_error)
			VALUES (:thread_id, :project_key, :title, :preview, :status, :archived, :updated_at, :last_error)
			ON CONFLICT(thread_id) DO UPDATE SET
				project_key = excluded.project_key,
				title       = excluded.title,
				preview     = excluded.preview,
				status      = excluded.status,
				archived    = excluded.archived,
				updated_at  = excluded.updated_at,
				last_error  = excluded.last_error
		`
		for _, t := range threads {
			if _, err := tx.NamedExecContext(ctx, q, fromDomainThread(t)); err != nil {
				return fmt.Errorf("store: upsert thread %s: %w", t.ThreadID, err)
			}
		}
		return nil
	})
}

// UpdateThreadProjectKey sets projectKey for one thread. A no-op (no row
// touched) if the value is unchanged, preserving updatedAt.
func (s *Store) UpdateThreadProjectKey(ctx context.Context, threadID, projectKey string) error {
	const q = `UPDATE threads SET project_key = ? WHERE thread_id = ? AND project_key != ?`
	_, err := s.db.ExecContext(ctx, q, projectKey, threadID, projectKey)
	if err != nil {
		return fmt.Errorf("store: update project key for %s: %w", threadID, err)
	}
	return nil
}

// GetThread fetches a single thread projection by id.
func (s *Store) GetThread(ctx context.Context, threadID string) (domain.Thread, error) {
	var row threadRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM threads WHERE thread_id = ?`, threadID)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	return row.toDomain(), nil
}

// ListProjectedThreads returns threads ordered by updatedAt desc, most
// recent first, bounded by limit (§4.2 listProjectedThreads).
func (s *Store) ListProjectedThreads(ctx context.Context, limit int) ([]domain.Thread, error) {
	var rows []threadRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM threads ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list threads: %w", err)
	}
	out := make([]domain.Thread, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
