package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codex-web/agent-gateway/internal/domain"
)

type approvalRow struct {
	ApprovalID     string         `db:"approval_id"`
	ThreadID       string         `db:"thread_id"`
	TurnID         sql.NullString `db:"turn_id"`
	ItemID         sql.NullString `db:"item_id"`
	Type           string         `db:"type"`
	Status         string         `db:"status"`
	RequestPayload string         `db:"request_payload_json"`
	Decision       sql.NullString `db:"decision"`
	Note           sql.NullString `db:"note"`
	CreatedAt      time.Time      `db:"created_at"`
	ResolvedAt     sql.NullTime   `db:"resolved_at"`
}

func (r approvalRow) toDomain() domain.Approval {
	return domain.Approval{
		ApprovalID:     r.ApprovalID,
		ThreadID:       r.ThreadID,
		TurnID:         ptrString(r.TurnID),
		ItemID:         ptrString(r.ItemID),
		Type:           domain.ApprovalType(r.Type),
		Status:         domain.ApprovalStatus(r.Status),
		RequestPayload: r.RequestPayload,
		Decision:       domain.ApprovalDecision(r.Decision.String),
		Note:           ptrString(r.Note),
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     ptrTime(r.ResolvedAt),
	}
}

// UpsertApprovalRequest persists a newly-received approval request as
// pending (§4.6 "on inbound request").
func (s *Store) UpsertApprovalRequest(ctx context.Context, a domain.Approval) error {
	const q = `
		INSERT INTO approvals (approval_id, thread_id, turn_id, item_id, type, status, request_payload_json, created_at)
		VALUES (:approval_id, :thread_id, :turn_id, :item_id, :type, :status, :request_payload_json, :created_at)
		ON CONFLICT(approval_id) DO UPDATE SET
			thread_id             = excluded.thread_id,
			turn_id               = excluded.turn_id,
			item_id               = excluded.item_id,
			type                  = excluded.type,
			request_payload_json  = excluded.request_payload_json
	`
	row := approvalRow{
		ApprovalID:     a.ApprovalID,
		ThreadID:       a.ThreadID,
		TurnID:         nullableString(a.TurnID),
		ItemID:         nullableString(a.ItemID),
		Type:           string(a.Type),
		Status:         string(a.Status),
		RequestPayload: a.RequestPayload,
		CreatedAt:      a.CreatedAt,
	}
	_, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("store: upsert approval %s: %w", a.ApprovalID, err)
	}
	return nil
}

// ResolveApprovalRequest transitions a pending approval to a terminal
// status. It only affects rows currently pending, returning ErrNotPending
// if the row has already been resolved — the idempotence invariant of §3/§8.
func (s *Store) ResolveApprovalRequest(ctx context.Context, approvalID string, status domain.ApprovalStatus, decision domain.ApprovalDecision, note *string, resolvedAt time.Time) error {
	const q = `
		UPDATE approvals SET status = ?, decision = ?, note = ?, resolved_at = ?
		WHERE approval_id = ? AND status = 'pending'
	`
	res, err := s.db.ExecContext(ctx, q, string(status), string(decision), nullableString(note), resolvedAt, approvalID)
	if err != nil {
		return fmt.Errorf("store: resolve approval %s: %w", approvalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: resolve approval %s: %w", approvalID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: approval %s", ErrNotPending, approvalID)
	}
	return nil
}

// GetApprovalByID fetches a single approval projection by id.
func (s *Store) GetApprovalByID(ctx context.Context, approvalID string) (domain.Approval, error) {
	var row approvalRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM approvals WHERE approval_id = ?`, approvalID)
	if err != nil {
		return domain.Approval{}, fmt.Errorf("%w: approval %s", ErrNotFound, approvalID)
	}
	return row.toDomain(), nil
}

// ListPendingApprovalsByThread lists pending approvals for a thread,
// oldest first.
func (s *Store) ListPendingApprovalsByThread(ctx context.Context, threadID string) ([]domain.Approval, error) {
	var rows []approvalRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM approvals WHERE thread_id = ? AND status = 'pending' ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending approvals for %s: %w", threadID, err)
	}
	out := make([]domain.Approval, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ListAllPendingApprovals lists every pending approval across all threads,
// used at startup to reconcile stale generations (§3, §8).
func (s *Store) ListAllPendingApprovals(ctx context.Context) ([]domain.Approval, error) {
	var rows []approvalRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM approvals WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("store: list all pending approvals: %w", err)
	}
	out := make([]domain.Approval, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// CancelApprovalsForTurn cancels every pending approval belonging to a
// (threadId, turnId) pair, used on turn completion/abort.
func (s *Store) CancelApprovalsForTurn(ctx context.Context, threadID, turnID string, resolvedAt time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT approval_id FROM approvals WHERE thread_id = ? AND turn_id = ? AND status = 'pending'`,
		threadID, turnID)
	if err != nil {
		return nil, fmt.Errorf("store: find pending approvals for turn %s: %w", turnID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `UPDATE approvals SET status = 'cancelled', decision = 'cancel', resolved_at = ? WHERE thread_id = ? AND turn_id = ? AND status = 'pending'`
	if _, err := s.db.ExecContext(ctx, q, resolvedAt, threadID, turnID); err != nil {
		return nil, fmt.Errorf("store: cancel approvals for turn %s: %w", turnID, err)
	}
	return ids, nil
}

// CancelAllPendingApprovals cancels every pending approval, used at
// gateway startup reconciliation (§3, §4.7, §8).
func (s *Store) CancelAllPendingApprovals(ctx context.Context, resolvedAt time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT approval_id FROM approvals WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("store: find pending approvals: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `UPDATE approvals SET status = 'cancelled', decision = 'cancel', resolved_at = ? WHERE status = 'pending'`
	if _, err := s.db.ExecContext(ctx, q, resolvedAt); err != nil {
		return nil, fmt.Errorf("store: cancel all pending approvals: %w", err)
	}
	return ids, nil
}
