package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codex-web/agent-gateway/internal/domain"
)

type interactionRow struct {
	InteractionID   string         `db:"interaction_id"`
	ThreadID        string         `db:"thread_id"`
	TurnID          sql.NullString `db:"turn_id"`
	ItemID          sql.NullString `db:"item_id"`
	Type            string         `db:"type"`
	Status          string         `db:"status"`
	RequestPayload  string         `db:"request_payload_json"`
	ResponsePayload sql.NullString `db:"response_payload_json"`
	CreatedAt       time.Time      `db:"created_at"`
	ResolvedAt      sql.NullTime   `db:"resolved_at"`
}

func (r interactionRow) toDomain() domain.Interaction {
	return domain.Interaction{
		InteractionID:   r.InteractionID,
		ThreadID:        r.ThreadID,
		TurnID:          ptrString(r.TurnID),
		ItemID:          ptrString(r.ItemID),
		Type:            r.Type,
		Status:          domain.InteractionStatus(r.Status),
		RequestPayload:  r.RequestPayload,
		ResponsePayload: ptrString(r.ResponsePayload),
		CreatedAt:       r.CreatedAt,
		ResolvedAt:      ptrTime(r.ResolvedAt),
	}
}

// UpsertInteractionRequest persists a newly-received interaction request
// as pending (§4.7).
func (s *Store) UpsertInteractionRequest(ctx context.Context, i domain.Interaction) error {
	const q = `
		INSERT INTO interactions (interaction_id, thread_id, turn_id, item_id, type, status, request_payload_json, created_at)
		VALUES (:interaction_id, :thread_id, :turn_id, :item_id, :type, :status, :request_payload_json, :created_at)
		ON CONFLICT(interaction_id) DO UPDATE SET
			thread_id            = excluded.thread_id,
			turn_id              = excluded.turn_id,
			item_id              = excluded.item_id,
			type                 = excluded.type,
			request_payload_json = excluded.request_payload_json
	`
	row := interactionRow{
		InteractionID:  i.InteractionID,
		ThreadID:       i.ThreadID,
		TurnID:         nullableString(i.TurnID),
		ItemID:         nullableString(i.ItemID),
		Type:           i.Type,
		Status:         string(i.Status),
		RequestPayload: i.RequestPayload,
		CreatedAt:      i.CreatedAt,
	}
	_, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("store: upsert interaction %s: %w", i.InteractionID, err)
	}
	return nil
}

// RespondInteractionRequest transitions a pending interaction to responded,
// storing the answer payload. Returns ErrNotPending if already resolved.
func (s *Store) RespondInteractionRequest(ctx context.Context, interactionID, responsePayload string, resolvedAt time.Time) error {
	const q = `
		UPDATE interactions SET status = 'responded', response_payload_json = ?, resolved_at = ?
		WHERE interaction_id = ? AND status = 'pending'
	`
	res, err := s.db.ExecContext(ctx, q, responsePayload, resolvedAt, interactionID)
	if err != nil {
		return fmt.Errorf("store: respond interaction %s: %w", interactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: respond interaction %s: %w", interactionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: interaction %s", ErrNotPending, interactionID)
	}
	return nil
}

// CancelInteractionRequest transitions a pending interaction to cancelled.
// Returns ErrNotPending if already resolved; a no-op cancel on an already
// terminal row is not an error for reconciliation callers, which should
// ignore ErrNotPending.
func (s *Store) CancelInteractionRequest(ctx context.Context, interactionID string, resolvedAt time.Time) error {
	const q = `UPDATE interactions SET status = 'cancelled', resolved_at = ? WHERE interaction_id = ? AND status = 'pending'`
	res, err := s.db.ExecContext(ctx, q, resolvedAt, interactionID)
	if err != nil {
		return fmt.Errorf("store: cancel interaction %s: %w", interactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: cancel interaction %s: %w", interactionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: interaction %s", ErrNotPending, interactionID)
	}
	return nil
}

// GetInteractionByID fetches a single interaction projection by id.
func (s *Store) GetInteractionByID(ctx context.Context, interactionID string) (domain.Interaction, error) {
	var row interactionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM interactions WHERE interaction_id = ?`, interactionID)
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("%w: interaction %s", ErrNotFound, interactionID)
	}
	return row.toDomain(), nil
}

// ListPendingInteractionsByThread lists pending interactions for a thread,
// oldest first.
func (s *Store) ListPendingInteractionsByThread(ctx context.Context, threadID string) ([]domain.Interaction, error) {
	var rows []interactionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM interactions WHERE thread_id = ? AND status = 'pending' ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending interactions for %s: %w", threadID, err)
	}
	out := make([]domain.Interaction, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ListPendingInteractionsForTurn lists pending interactions scoped to a
// single (threadId, turnId), used to cancel on turn completion/abort (§4.7).
func (s *Store) ListPendingInteractionsForTurn(ctx context.Context, threadID, turnID string) ([]domain.Interaction, error) {
	var rows []interactionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM interactions WHERE thread_id = ? AND turn_id = ? AND status = 'pending' ORDER BY created_at ASC`,
		threadID, turnID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending interactions for turn %s: %w", turnID, err)
	}
	out := make([]domain.Interaction, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ListAllPendingInteractions lists every pending interaction across all
// threads, used at startup reconciliation (§4.7, §8).
func (s *Store) ListAllPendingInteractions(ctx context.Context) ([]domain.Interaction, error) {
	var rows []interactionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM interactions WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("store: list all pending interactions: %w", err)
	}
	out := make([]domain.Interaction, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
