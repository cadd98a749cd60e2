package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codex-web/agent-gateway/internal/domain"
)

type turnRow struct {
	TurnID      string         `db:"turn_id"`
	ThreadID    string         `db:"thread_id"`
	Status      string         `db:"status"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	ErrorJSON   sql.NullString `db:"error_json"`
}

func (r turnRow) toDomain() domain.Turn {
	return domain.Turn{
		TurnID:      r.TurnID,
		ThreadID:    r.ThreadID,
		Status:      domain.TurnStatus(r.Status),
		StartedAt:   ptrTime(r.StartedAt),
		CompletedAt: ptrTime(r.CompletedAt),
		ErrorJSON:   ptrString(r.ErrorJSON),
	}
}

// UpsertTurn inserts a new turn row or updates an existing one by turnId.
// Used on turn/started to create the row and on terminalization to set
// status/completedAt/errorJson (§3 Turn projection lifecycle).
func (s *Store) UpsertTurn(ctx context.Context, t domain.Turn) error {
	const q = `
		INSERT INTO turns (turn_id, thread_id, status, started_at, completed_at, error_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(turn_id) DO UPDATE SET
			status       = excluded.status,
			started_at   = COALESCE(turns.started_at, excluded.started_at),
			completed_at = excluded.completed_at,
			error_json   = excluded.error_json
	`
	_, err := s.db.ExecContext(ctx, q,
		t.TurnID, t.ThreadID, string(t.Status),
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt), nullableString(t.ErrorJSON))
	if err != nil {
		return fmt.Errorf("store: upsert turn %s: %w", t.TurnID, err)
	}
	return nil
}

// GetTurn fetches a single turn projection by id.
func (s *Store) GetTurn(ctx context.Context, turnID string) (domain.Turn, error) {
	var row turnRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM turns WHERE turn_id = ?`, turnID)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("%w: turn %s", ErrNotFound, turnID)
	}
	return row.toDomain(), nil
}

// ListTurnsByThread returns every turn for a thread, most recently started first.
func (s *Store) ListTurnsByThread(ctx context.Context, threadID string) ([]domain.Turn, error) {
	var rows []turnRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM turns WHERE thread_id = ? ORDER BY started_at DESC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("store: list turns for %s: %w", threadID, err)
	}
	out := make([]domain.Turn, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// MarkTurnTerminal terminalizes a turn's status and stamps completedAt,
// recording errorJSON when the turn ended abnormally.
func (s *Store) MarkTurnTerminal(ctx context.Context, turnID string, status domain.TurnStatus, completedAt time.Time, errorJSON *string) error {
	const q = `UPDATE turns SET status = ?, completed_at = ?, error_json = ? WHERE turn_id = ?`
	_, err := s.db.ExecContext(ctx, q, string(status), completedAt, nullableString(errorJSON), turnID)
	if err != nil {
		return fmt.Errorf("store: terminalize turn %s: %w", turnID, err)
	}
	return nil
}
