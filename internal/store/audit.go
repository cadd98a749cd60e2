package store

import (
	"context"
	"fmt"

	"github.com/codex-web/agent-gateway/internal/domain"
)

// InsertAuditLog appends one audit record (§3, §7: "audit entries are
// written on every approval/interaction decision and on cancellation").
func (s *Store) InsertAuditLog(ctx context.Context, a domain.AuditRecord) error {
	const q = `
		INSERT INTO audit_log (ts, actor, action, thread_id, turn_id, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, q, a.TS, string(a.Actor), a.Action, nullableString(a.ThreadID), nullableString(a.TurnID), nullableString(a.MetadataJSON))
	if err != nil {
		return fmt.Errorf("store: insert audit log %s: %w", a.Action, err)
	}
	return nil
}
