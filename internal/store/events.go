package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codex-web/agent-gateway/internal/domain"
)

type eventRow struct {
	Seq         int64          `db:"seq"`
	ThreadID    string         `db:"thread_id"`
	TurnID      sql.NullString `db:"turn_id"`
	Kind        string         `db:"kind"`
	Name        string         `db:"name"`
	PayloadJSON string         `db:"payload_json"`
	ServerTS    sql.NullTime   `db:"server_ts"`
}

func (r eventRow) toDomain() domain.GatewayEvent {
	return domain.GatewayEvent{
		Seq:         r.Seq,
		ThreadID:    r.ThreadID,
		TurnID:      ptrString(r.TurnID),
		Kind:        domain.EventKind(r.Kind),
		Name:        r.Name,
		PayloadJSON: r.PayloadJSON,
		ServerTS:    r.ServerTS.Time,
	}
}

// InsertGatewayEvent appends one append-only event row and returns the
// autoincrement seq SQLite assigned it (§4.2 insertGatewayEvent). Safe to
// call concurrently: seq uniqueness/monotonicity is the database's
// responsibility via INTEGER PRIMARY KEY AUTOINCREMENT.
func (s *Store) InsertGatewayEvent(ctx context.Context, e domain.GatewayEvent) (int64, error) {
	const q = `
		INSERT INTO events_log (thread_id, turn_id, kind, name, payload_json, server_ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, q, e.ThreadID, nullableString(e.TurnID), string(e.Kind), e.Name, e.PayloadJSON, e.ServerTS)
	if err != nil {
		return 0, fmt.Errorf("store: insert event for thread %s: %w", e.ThreadID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: read inserted event seq: %w", err)
	}
	return seq, nil
}

// ListGatewayEventsSince returns events for a thread with seq strictly
// greater than sinceSeq, ordered ascending, capped at limit — the replay
// window EventBus cold-starts a new subscriber with (§4.2, §4.3).
func (s *Store) ListGatewayEventsSince(ctx context.Context, threadID string, sinceSeq int64, limit int) ([]domain.GatewayEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM events_log WHERE thread_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		threadID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events for %s since %d: %w", threadID, sinceSeq, err)
	}
	out := make([]domain.GatewayEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
