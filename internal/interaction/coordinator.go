// Package interaction implements C7: the lifecycle of multi-question
// interactive prompts the worker raises via tool/requestUserInput (or its
// item/tool/requestUserInput alias). Mirrors the approval coordinator's
// in-memory id-map/dispatcher shape (§9 "cyclic wiring"), with its own
// three-state machine (pending/responded/cancelled) per §4.7.
package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codex-web/agent-gateway/internal/bridge"
	"github.com/codex-web/agent-gateway/internal/domain"
	"github.com/codex-web/agent-gateway/internal/gatewayerr"
	"github.com/codex-web/agent-gateway/internal/gatewaylog"
)

// MethodRequestUserInput and MethodRequestUserInputAlias are the worker
// JSON-RPC methods recognized as interaction requests (§4.7).
const (
	MethodRequestUserInput      = "tool/requestUserInput"
	MethodRequestUserInputAlias = "item/tool/requestUserInput"
)

// IsInteractionMethod reports whether method is one of the two
// interaction-request aliases.
func IsInteractionMethod(method string) bool {
	return method == MethodRequestUserInput || method == MethodRequestUserInputAlias
}

// Store is the subset of *store.Store the coordinator needs.
type Store interface {
	UpsertInteractionRequest(ctx context.Context, i domain.Interaction) error
	RespondInteractionRequest(ctx context.Context, interactionID, responsePayload string, resolvedAt time.Time) error
	CancelInteractionRequest(ctx context.Context, interactionID string, resolvedAt time.Time) error
	GetInteractionByID(ctx context.Context, interactionID string) (domain.Interaction, error)
	ListPendingInteractionsByThread(ctx context.Context, threadID string) ([]domain.Interaction, error)
	ListPendingInteractionsForTurn(ctx context.Context, threadID, turnID string) ([]domain.Interaction, error)
	ListAllPendingInteractions(ctx context.Context) ([]domain.Interaction, error)
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
}

type requestParams struct {
	ThreadID  string          `json:"threadId"`
	TurnID    string          `json:"turnId"`
	ItemID    string          `json:"itemId"`
	Questions []rawQuestion   `json:"questions"`
}

type rawQuestion struct {
	ID       string            `json:"id"`
	Header   string            `json:"header"`
	Question string            `json:"question"`
	IsOther  bool              `json:"isOther"`
	IsSecret bool              `json:"isSecret"`
	Options  []json.RawMessage `json:"options"`
}

// AnswerPayload is one question's answer list in a respond POST body.
type AnswerPayload struct {
	Answers []string `json:"answers"`
}

// Coordinator is the C7 InteractionCoordinator.
type Coordinator struct {
	store     Store
	bus       EventPublisher
	responder Responder
	log       *gatewaylog.Logger

	mu      sync.Mutex
	pending map[string]pendingEntry
}

// New creates a Coordinator.
func New(store Store, bus EventPublisher, responder Responder) *Coordinator {
	return &Coordinator{
		store:     store,
		bus:       bus,
		responder: responder,
		log:       gatewaylog.New("interaction"),
		pending:   make(map[string]pendingEntry),
	}
}

// HandleRequest persists an inbound interaction request as pending and
// records the live rpc mapping (§4.7). A request already seen (the same
// id arriving via both method aliases) is treated as an idempotent
// duplicate and ignored, per the §9 open question.
func (c *Coordinator) HandleRequest(ctx context.Context, msg bridge.InboundMessage) error {
	if !IsInteractionMethod(msg.Method) {
		return fmt.Errorf("interaction: unrecognized method %s", msg.Method)
	}
	if len(msg.ID) == 0 {
		return fmt.Errorf("interaction: request for %s has no id", msg.Method)
	}

	interactionID := normalizeID(msg.ID)

	c.mu.Lock()
	if _, exists := c.pending[interactionID]; exists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var params requestParams
	_ = json.Unmarshal(msg.Params, &params)

	payload := normalizeQuestions(msg.Params, params.Questions)

	var turnID *string
	if params.TurnID != "" {
		turnID = &params.TurnID
	}
	var itemID *string
	if params.ItemID != "" {
		itemID = &params.ItemID
	}

	now := time.Now().UTC()
	i := domain.Interaction{
		InteractionID:  interactionID,
		ThreadID:       params.ThreadID,
		TurnID:         turnID,
		ItemID:         itemID,
		Type:           "userInput",
		Status:         domain.InteractionStatusPending,
		RequestPayload: payload,
		CreatedAt:      now,
	}
	if err := c.store.UpsertInteractionRequest(ctx, i); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending[interactionID] = pendingEntry{RPCID: msg.ID, ThreadID: params.ThreadID, TurnID: turnID}
	c.mu.Unlock()

	c.audit(ctx, params.ThreadID, turnID, "interaction.requested", interactionID, now)
	c.publish(ctx, params.ThreadID, turnID, "interaction/requested", payload, now)
	return nil
}

// Respond validates and applies a user's answers to a pending interaction
// (§4.7 "on response POST").
func (c *Coordinator) Respond(ctx context.Context, threadID, interactionID string, answers map[string]AnswerPayload) error {
	if len(answers) == 0 {
		return gatewayerr.NewClientError(400, "answers must be non-empty")
	}
	for qid, a := range answers {
		if len(a.Answers) == 0 {
			return gatewayerr.NewClientError(400, fmt.Sprintf("question %s has no answers", qid))
		}
		nonEmpty := false
		for _, ans := range a.Answers {
			if strings.TrimSpace(ans) != "" {
				nonEmpty = true
				break
			}
		}
		if !nonEmpty {
			return gatewayerr.NewClientError(400, fmt.Sprintf("question %s has only blank answers", qid))
		}
	}

	interactionRow, err := c.store.GetInteractionByID(ctx, interactionID)
	if err != nil {
		return gatewayerr.NewClientError(404, "interaction not found")
	}
	if interactionRow.ThreadID != threadID {
		return gatewayerr.NewClientError(404, "interaction not found for thread")
	}

	c.mu.Lock()
	entry, inMemory := c.pending[interactionID]
	c.mu.Unlock()

	if interactionRow.Status != domain.InteractionStatusPending {
		return gatewayerr.NewClientError(409, "interaction already resolved")
	}
	if !inMemory {
		return gatewayerr.NewClientError(409, "interaction has no live worker mapping")
	}

	responsePayload, err := json.Marshal(map[string]any{"answers": answers})
	if err != nil {
		return gatewayerr.NewInternal("marshal response payload", err)
	}

	now := time.Now().UTC()
	if err := c.store.RespondInteractionRequest(ctx, interactionID, string(responsePayload), now); err != nil {
		return gatewayerr.NewClientError(409, "interaction already resolved")
	}

	if c.responder != nil {
		if err := c.responder.Respond(entry.RPCID, map[string]any{"answers": answers}); err != nil {
			c.log.Printf("respond for %s: %v", interactionID, err)
		}
	}

	c.mu.Lock()
	delete(c.pending, interactionID)
	c.mu.Unlock()

	c.audit(ctx, threadID, entry.TurnID, "interaction.responded", interactionID, now)
	c.publish(ctx, threadID, entry.TurnID, "interaction/responded", string(responsePayload), now)
	return nil
}

// ListPending lists pending interactions for a thread.
func (c *Coordinator) ListPending(ctx context.Context, threadID string) ([]domain.Interaction, error) {
	return c.store.ListPendingInteractionsByThread(ctx, threadID)
}

// OnTurnTerminal cancels every pending interaction for (threadID, turnID)
// when the turn completes or aborts (§4.7, §8).
func (c *Coordinator) OnTurnTerminal(ctx context.Context, threadID, turnID string) {
	rows, err := c.store.ListPendingInteractionsForTurn(ctx, threadID, turnID)
	if err != nil {
		c.log.Printf("list pending interactions for turn %s: %v", turnID, err)
		return
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if err := c.store.CancelInteractionRequest(ctx, row.InteractionID, now); err != nil {
			continue
		}
		c.mu.Lock()
		delete(c.pending, row.InteractionID)
		c.mu.Unlock()
		c.audit(ctx, threadID, &turnID, "interaction.cancelled", row.InteractionID, now)
		c.publish(ctx, threadID, &turnID, "interaction/cancelled", fmt.Sprintf(`{"interactionId":%q,"reason":"turn_completed"}`, row.InteractionID), now)
	}
}

// ReconcileStartup cancels every interaction left pending from a prior
// worker generation (§3, §4.7, §8).
func (c *Coordinator) ReconcileStartup(ctx context.Context) error {
	rows, err := c.store.ListAllPendingInteractions(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if err := c.store.CancelInteractionRequest(ctx, row.InteractionID, now); err != nil {
			continue
		}
		c.audit(ctx, row.ThreadID, row.TurnID, "interaction.cancelled", row.InteractionID, now)
		c.publish(ctx, row.ThreadID, row.TurnID, "interaction/cancelled", fmt.Sprintf(`{"interactionId":%q,"reason":"gateway_restarted"}`, row.InteractionID), now)
	}
	return nil
}

func (c *Coordinator) audit(ctx context.Context, threadID string, turnID *string, action, interactionID string, ts time.Time) {
	var tid *string
	if threadID != "" {
		tid = &threadID
	}
	meta := fmt.Sprintf(`{"interactionId":%q}`, interactionID)
	if err := c.store.InsertAuditLog(ctx, domain.AuditRecord{
		TS: ts, Actor: domain.ActorUser, Action: action, ThreadID: tid, TurnID: turnID, MetadataJSON: &meta,
	}); err != nil {
		c.log.Printf("audit %s: %v", action, err)
	}
}

func (c *Coordinator) publish(ctx context.Context, threadID string, turnID *string, name, payload string, ts time.Time) {
	event := domain.GatewayEvent{
		ThreadID: threadID, TurnID: turnID, Kind: domain.EventKindInteraction, Name: name, PayloadJSON: payload, ServerTS: ts,
	}
	seq, err := c.store.InsertGatewayEvent(ctx, event)
	if err != nil {
		c.log.Printf("persist event %s: %v", name, err)
		return
	}
	event.Seq = seq
	c.bus.Publish(event)
}

func normalizeID(id json.RawMessage) string {
	s := strings.TrimSpace(string(id))
	return strings.Trim(s, `"`)
}

// normalizeQuestions re-serializes the request params with each question's
// Options normalized: an options vector containing only malformed entries
// becomes null, while a fully malformed questions vector still persists
// (§4.7 "normalization of inbound questions").
func normalizeQuestions(raw json.RawMessage, questions []rawQuestion) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		m = make(map[string]json.RawMessage)
	}

	type normalizedOption struct {
		Label string `json:"label"`
	}
	type normalizedQuestion struct {
		ID       string             `json:"id"`
		Header   string             `json:"header"`
		Question string             `json:"question"`
		IsOther  bool               `json:"isOther"`
		IsSecret bool               `json:"isSecret"`
		Options  []normalizedOption `json:"options"`
	}

	out := make([]normalizedQuestion, len(questions))
	for i, q := range questions {
		var opts []normalizedOption
		for _, raw := range q.Options {
			var o normalizedOption
			if json.Unmarshal(raw, &o) == nil && o.Label != "" {
				opts = append(opts, o)
			}
		}
		out[i] = normalizedQuestion{
			ID: q.ID, Header: q.Header, Question: q.Question,
			IsOther: q.IsOther, IsSecret: q.IsSecret, Options: opts,
		}
	}

	questionsBytes, _ := json.Marshal(out)
	m["questions"] = questionsBytes

	result, err := json.Marshal(m)
	if err != nil {
		return string(raw)
	}
	return string(result)
}
