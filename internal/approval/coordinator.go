// Package approval implements C6: translating worker-initiated
// commandExecution/fileChange approval requests into persisted pending
// rows plus a live id-map, and resolving them via the decision endpoint
// (§4.6). The in-memory map breaks the cycle noted in §9 ("cyclic
// wiring"): the bridge hands inbound messages to a dispatcher the
// TurnController registers, which forwards approval-shaped messages here
// without the bridge importing this package.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codex-web/agent-gateway/internal/bridge"
	"github.com/codex-web/agent-gateway/internal/domain"
	"github.com/codex-web/agent-gateway/internal/execpolicy"
	"github.com/codex-web/agent-gateway/internal/gatewayerr"
	"github.com/codex-web/agent-gateway/internal/gatewaylog"
)

// MethodCommandExecution and MethodFileChange are the worker JSON-RPC
// methods recognized as approval requests (§4.6).
const (
	MethodCommandExecution = "item/commandExecution/requestApproval"
	MethodFileChange       = "item/fileChange/requestApproval"
)

// TypeForMethod returns the approval type for a recognized method, and
// whether the method is recognized at all.
func TypeForMethod(method string) (domain.ApprovalType, bool) {
	switch method {
	case MethodCommandExecution:
		return domain.ApprovalTypeCommandExecution, true
	case MethodFileChange:
		return domain.ApprovalTypeFileChange, true
	default:
		return "", false
	}
}

// Store is the subset of *store.Store the coordinator needs.
type Store interface {
	UpsertApprovalRequest(ctx context.Context, a domain.Approval) error
	ResolveApprovalRequest(ctx context.Context, approvalID string, status domain.ApprovalStatus, decision domain.ApprovalDecision, note *string, resolvedAt time.Time) error
	GetApprovalByID(ctx context.Context, approvalID string) (domain.Approval, error)
	ListPendingApprovalsByThread(ctx context.Context, threadID string) ([]domain.Approval, error)
	ListAllPendingApprovals(ctx context.Context) ([]domain.Approval, error)
	CancelApprovalsForTurn(ctx context.Context, threadID, turnID string, resolvedAt time.Time) ([]string, error)
	CancelAllPendingApprovals(ctx context.Context, resolvedAt time.Time) ([]string, error)
	InsertAuditLog(ctx context.Context, a domain.AuditRecord) error
	InsertGatewayEvent(ctx context.Context, e domain.GatewayEvent) (int64, error)
}

// EventPublisher is the subset of *eventbus.Bus the coordinator needs.
type EventPublisher interface {
	Publish(domain.GatewayEvent)
}

// Responder sends a respond() back over the worker bridge.
type Responder interface {
	Respond(id json.RawMessage, result any) error
}

type pendingEntry struct {
	RPCID    json.RawMessage
	ThreadID string
	TurnID   *string
	Type     domain.ApprovalType
}

// requestParams is the common shape of commandExecution/fileChange
// request params the worker sends.
type requestParams struct {
	ThreadID string          `json:"threadId"`
	TurnID   string          `json:"turnId"`
	ItemID   string          `json:"itemId"`
	Command  json.RawMessage `json:"command"`
}

// Coordinator is the C6 ApprovalCoordinator.
type Coordinator struct {
	store     Store
	bus       EventPublisher
	responder Responder
	execPol   *execpolicy.ExecPolicyManager
	log       *gatewaylog.Logger

	mu      sync.Mutex
	pending map[string]pendingEntry
}

// New creates a Coordinator. execPol may be nil, in which case the
// auto-decision fast path (SPEC_FULL.md §12.2) is disabled and every
// commandExecution request falls through to the ordinary pending flow.
func New(store Store, bus EventPublisher, responder Responder, execPol *execpolicy.ExecPolicyManager) *Coordinator {
	return &Coordinator{
		store:     store,
		bus:       bus,
		responder: responder,
		execPol:   execPol,
		log:       gatewaylog.New("approval"),
		pending:   make(map[string]pendingEntry),
	}
}

// HandleRequest processes an inbound bridge message already classified as
// an approval request (msg.ID must be non-nil). It persists the pending
// row, records the live rpc mapping, audits, and publishes the augmented
// event. If an exec policy is configured and resolves the command to
// Allow/Forbidden, it auto-resolves instead of going pending.
func (c *Coordinator) HandleRequest(ctx context.Context, msg bridge.InboundMessage) error {
	approvalType, ok := TypeForMethod(msg.Method)
	if !ok {
		return fmt.Errorf("approval: unrecognized method %s", msg.Method)
	}
	if len(msg.ID) == 0 {
		return fmt.Errorf("approval: request for %s has no id", msg.Method)
	}

	var params requestParams
	_ = json.Unmarshal(msg.Params, &params)

	approvalID := normalizeID(msg.ID)
	now := time.Now().UTC()

	cmd := decodeCommand(params.Command)
	payload := augmentPayload(msg.Params, approvalID, approvalType, cmd)

	var turnID *string
	if params.TurnID != "" {
		turnID = &params.TurnID
	}
	var itemID *string
	if params.ItemID != "" {
		itemID = &params.ItemID
	}

	if approvalType == domain.ApprovalTypeCommandExecution && c.execPol != nil {
		if cmd != nil {
			decision := c.execPol.EvaluateCommand(cmd, "")
			switch decision {
			case execpolicy.DecisionForbidden:
				return c.autoResolve(ctx, msg, params, approvalType, payload, turnID, itemID, now,
					domain.ApprovalStatusDenied, domain.ApprovalDecisionDeny, "approval.auto_denied")
			case execpolicy.DecisionAllow:
				return c.autoResolve(ctx, msg, params, approvalType, payload, turnID, itemID, now,
					domain.ApprovalStatusApproved, domain.ApprovalDecisionAllow, "approval.auto_allowed")
			}
		}
	}

	a := domain.Approval{
		ApprovalID:     approvalID,
		ThreadID:       params.ThreadID,
		TurnID:         turnID,
		ItemID:         itemID,
		Type:           approvalType,
		Status:         domain.ApprovalStatusPending,
		RequestPayload: payload,
		CreatedAt:      now,
	}
	if err := c.store.UpsertApprovalRequest(ctx, a); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending[approvalID] = pendingEntry{RPCID: msg.ID, ThreadID: params.ThreadID, TurnID: turnID, Type: approvalType}
	c.mu.Unlock()

	c.audit(ctx, params.ThreadID, turnID, "approval.requested", approvalID, now)
	c.publish(ctx, params.ThreadID, turnID, "approval/requested", payload, now)
	return nil
}

func (c *Coordinator) autoResolve(ctx context.Context, msg bridge.InboundMessage, params requestParams, approvalType domain.ApprovalType, payload string, turnID, itemID *string, now time.Time, status domain.ApprovalStatus, decision domain.ApprovalDecision, auditAction string) error {
	approvalID := normalizeID(msg.ID)
	a := domain.Approval{
		ApprovalID:     approvalID,
		ThreadID:       params.ThreadID,
		TurnID:         turnID,
		ItemID:         itemID,
		Type:           approvalType,
		Status:         domain.ApprovalStatusPending,
		RequestPayload: payload,
		CreatedAt:      now,
	}
	if err := c.store.UpsertApprovalRequest(ctx, a); err != nil {
		return err
	}
	if err := c.store.ResolveApprovalRequest(ctx, approvalID, status, decision, nil, now); err != nil {
		return err
	}

	workerDecision, _ := decision.ToWorkerDecision()
	if c.responder != nil {
		if err := c.responder.Respond(msg.ID, map[string]string{"decision": string(workerDecision)}); err != nil {
			c.log.Printf("auto-resolve respond for %s: %v", approvalID, err)
		}
	}

	c.audit(ctx, params.ThreadID, turnID, auditAction, approvalID, now)
	c.publish(ctx, params.ThreadID, turnID, "approval/decision", payload, now)
	return nil
}

// Decide resolves a pending approval from a user decision POST (§4.6).
func (c *Coordinator) Decide(ctx context.Context, threadID, approvalID string, decision domain.ApprovalDecision, note *string) error {
	workerDecision, ok := decision.ToWorkerDecision()
	if !ok {
		return gatewayerr.NewClientError(400, "unknown decision: "+string(decision))
	}
	status, _ := decision.TerminalStatus()

	c.mu.Lock()
	entry, inMemory := c.pending[approvalID]
	c.mu.Unlock()

	rpcID := entry.RPCID
	if !inMemory {
		if n, err := strconv.ParseInt(approvalID, 10, 64); err == nil {
			rpcID, _ = json.Marshal(n)
		}
	}

	if !inMemory {
		if _, err := c.store.GetApprovalByID(ctx, approvalID); err != nil {
			return gatewayerr.NewClientError(404, "approval not found")
		}
	}
	if inMemory && entry.ThreadID != threadID {
		return gatewayerr.NewClientError(404, "approval not found for thread")
	}

	now := time.Now().UTC()
	if err := c.store.ResolveApprovalRequest(ctx, approvalID, status, decision, note, now); err != nil {
		return gatewayerr.NewClientError(409, "approval already resolved")
	}

	if len(rpcID) > 0 && c.responder != nil {
		if err := c.responder.Respond(rpcID, map[string]string{"decision": string(workerDecision)}); err != nil {
			c.log.Printf("respond for %s: %v", approvalID, err)
		}
	}

	c.mu.Lock()
	delete(c.pending, approvalID)
	c.mu.Unlock()

	var turnID *string
	if inMemory {
		turnID = entry.TurnID
	}
	c.audit(ctx, threadID, turnID, "approval.decided", approvalID, now)
	c.publish(ctx, threadID, turnID, "approval/decision", fmt.Sprintf(`{"approvalId":%q,"decision":%q}`, approvalID, decision), now)
	return nil
}

// ListPending lists pending approvals for a thread.
func (c *Coordinator) ListPending(ctx context.Context, threadID string) ([]domain.Approval, error) {
	return c.store.ListPendingApprovalsByThread(ctx, threadID)
}

// OnTurnTerminal cancels every pending approval for (threadID, turnID),
// matching §3's "approvals/interactions live until decided, cancelled on
// turn-completion, or on gateway restart".
func (c *Coordinator) OnTurnTerminal(ctx context.Context, threadID, turnID string) {
	now := time.Now().UTC()
	ids, err := c.store.CancelApprovalsForTurn(ctx, threadID, turnID, now)
	if err != nil {
		c.log.Printf("cancel approvals for turn %s: %v", turnID, err)
		return
	}
	c.mu.Lock()
	for _, id := range ids {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.audit(ctx, threadID, &turnID, "approval.cancelled", id, now)
		c.publish(ctx, threadID, &turnID, "approval/decision", fmt.Sprintf(`{"approvalId":%q,"reason":"turn_completed"}`, id), now)
	}
}

// ReconcileStartup cancels every approval left pending from a prior
// worker generation (§3, §8: "every row left pending from a prior
// generation transitions to cancelled ... before any request handler
// runs"). Must be called before the HTTP surface starts serving.
func (c *Coordinator) ReconcileStartup(ctx context.Context) error {
	now := time.Now().UTC()
	ids, err := c.store.CancelAllPendingApprovals(ctx, now)
	if err != nil {
		return err
	}
	for _, id := range ids {
		c.audit(ctx, "", nil, "approval.cancelled", id, now)
	}
	return nil
}

func (c *Coordinator) audit(ctx context.Context, threadID string, turnID *string, action, approvalID string, ts time.Time) {
	var tid *string
	if threadID != "" {
		tid = &threadID
	}
	meta := fmt.Sprintf(`{"approvalId":%q}`, approvalID)
	if err := c.store.InsertAuditLog(ctx, domain.AuditRecord{
		TS: ts, Actor: domain.ActorUser, Action: action, ThreadID: tid, TurnID: turnID, MetadataJSON: &meta,
	}); err != nil {
		c.log.Printf("audit %s: %v", action, err)
	}
}

func (c *Coordinator) publish(ctx context.Context, threadID string, turnID *string, name, payload string, ts time.Time) {
	event := domain.GatewayEvent{
		ThreadID: threadID, TurnID: turnID, Kind: domain.EventKindApproval, Name: name, PayloadJSON: payload, ServerTS: ts,
	}
	seq, err := c.store.InsertGatewayEvent(ctx, event)
	if err != nil {
		c.log.Printf("persist event %s: %v", name, err)
		return
	}
	event.Seq = seq
	c.bus.Publish(event)
}

// normalizeID stringifies a JSON-RPC request id the way §3 requires:
// "approvalId equals the stringified JSON-RPC request id".
func normalizeID(id json.RawMessage) string {
	s := strings.TrimSpace(string(id))
	s = strings.Trim(s, `"`)
	return s
}

// augmentPayload injects the gateway-assigned approvalId/approvalType into
// the worker's request params, plus a riskHint for commandExecution
// requests the gateway could decode a command out of (§12.1).
func augmentPayload(params json.RawMessage, approvalID string, approvalType domain.ApprovalType, command []string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(params, &m); err != nil || m == nil {
		m = make(map[string]json.RawMessage)
	}
	idBytes, _ := json.Marshal(approvalID)
	typeBytes, _ := json.Marshal(approvalType)
	m["approvalId"] = idBytes
	m["approvalType"] = typeBytes
	if approvalType == domain.ApprovalTypeCommandExecution && command != nil {
		if hintBytes, err := json.Marshal(ClassifyCommand(command)); err == nil {
			m["riskHint"] = hintBytes
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return string(params)
	}
	return string(out)
}

func decodeCommand(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var asSlice []string
	if json.Unmarshal(raw, &asSlice) == nil && len(asSlice) > 0 {
		return asSlice
	}
	var asString string
	if json.Unmarshal(raw, &asString) == nil && asString != "" {
		return []string{"bash", "-c", asString}
	}
	return nil
}
