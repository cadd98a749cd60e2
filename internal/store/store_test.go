package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codex-web/agent-gateway/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertAndListThreads(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	err := st.UpsertThreads(ctx, []domain.Thread{
		{ThreadID: "t1", ProjectKey: domain.UnknownProjectKey, Status: domain.ThreadStatusIdle, UpdatedAt: now},
		{ThreadID: "t2", ProjectKey: "/home/user/proj", Status: domain.ThreadStatusActive, UpdatedAt: now.Add(time.Second)},
	})
	require.NoError(t, err)

	threads, err := st.ListProjectedThreads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, "t2", threads[0].ThreadID, "most recently updated first")

	require.NoError(t, st.UpdateThreadProjectKey(ctx, "t1", "/home/user/other"))
	got, err := st.GetThread(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "/home/user/other", got.ProjectKey)
}

func TestEventLogSeqMonotonic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var lastSeq int64
	for i := 0; i < 5; i++ {
		seq, err := st.InsertGatewayEvent(ctx, domain.GatewayEvent{
			ThreadID:    "t1",
			Kind:        domain.EventKindSystem,
			Name:        "test/event",
			PayloadJSON: "{}",
			ServerTS:    time.Now(),
		})
		require.NoError(t, err)
		require.Greater(t, seq, lastSeq)
		lastSeq = seq
	}

	events, err := st.ListGatewayEventsSince(ctx, "t1", 0, 1000)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := range events[1:] {
		require.Greater(t, events[i+1].Seq, events[i].Seq)
	}

	since2, err := st.ListGatewayEventsSince(ctx, "t1", events[1].Seq, 1000)
	require.NoError(t, err)
	require.Len(t, since2, 3)
}

func TestApprovalLifecycleIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	err := st.UpsertApprovalRequest(ctx, domain.Approval{
		ApprovalID:     "99",
		ThreadID:       "t1",
		Type:           domain.ApprovalTypeCommandExecution,
		Status:         domain.ApprovalStatusPending,
		RequestPayload: `{"command":"npm test"}`,
		CreatedAt:      now,
	})
	require.NoError(t, err)

	pending, err := st.ListPendingApprovalsByThread(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = st.ResolveApprovalRequest(ctx, "99", domain.ApprovalStatusApproved, domain.ApprovalDecisionAllow, nil, now)
	require.NoError(t, err)

	pending, err = st.ListPendingApprovalsByThread(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, pending)

	err = st.ResolveApprovalRequest(ctx, "99", domain.ApprovalStatusDenied, domain.ApprovalDecisionDeny, nil, now)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestInteractionCancelForTurn(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	turnID := "turn-1"
	err := st.UpsertInteractionRequest(ctx, domain.Interaction{
		InteractionID:  "199",
		ThreadID:       "t1",
		TurnID:         &turnID,
		Type:           "userInput",
		Status:         domain.InteractionStatusPending,
		RequestPayload: `{"questions":[]}`,
		CreatedAt:      now,
	})
	require.NoError(t, err)

	ids, err := st.CancelApprovalsForTurn(ctx, "t1", turnID, now)
	require.NoError(t, err)
	require.Empty(t, ids)

	pending, err := st.ListPendingInteractionsForTurn(ctx, "t1", turnID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, st.CancelInteractionRequest(ctx, "199", now))

	pending, err = st.ListPendingInteractionsForTurn(ctx, "t1", turnID)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestAuditLogInsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	threadID := "t1"
	err := st.InsertAuditLog(ctx, domain.AuditRecord{
		TS:       time.Now(),
		Actor:    domain.ActorUser,
		Action:   "approval.decided",
		ThreadID: &threadID,
	})
	require.NoError(t, err)
}
