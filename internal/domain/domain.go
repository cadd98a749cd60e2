// Package domain holds the gateway's durable data model (§3): the shapes
// persisted by the ProjectionStore, published on the EventBus, and
// returned across the HTTP surface. Beyond small value mappings
// (IsTerminal, ToWorkerDecision, TerminalStatus) it has no behavior —
// lifecycle rules live with the component that owns the transition.
package domain

import "time"

// ThreadStatus enumerates the thread projection's status field.
type ThreadStatus string

const (
	ThreadStatusNotLoaded   ThreadStatus = "notLoaded"
	ThreadStatusIdle        ThreadStatus = "idle"
	ThreadStatusActive      ThreadStatus = "active"
	ThreadStatusSystemError ThreadStatus = "systemError"
	ThreadStatusUnknown     ThreadStatus = "unknown"
)

// UnknownProjectKey is the sentinel projectKey value before a thread's
// working directory has been resolved. Per §3, projectKey only ever
// transitions away from this value, never back to it.
const UnknownProjectKey = "unknown"

// Thread is the gateway-local projection of a worker thread (§3).
type Thread struct {
	ThreadID   string       `db:"thread_id" json:"threadId"`
	ProjectKey string       `db:"project_key" json:"projectKey"`
	Title      string       `db:"title" json:"title"`
	Preview    string       `db:"preview" json:"preview"`
	Status     ThreadStatus `db:"status" json:"status"`
	Archived   bool         `db:"archived" json:"archived"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updatedAt"`
	LastError  *string      `db:"last_error" json:"lastError,omitempty"`
}

// TurnStatus enumerates the turn projection's lifecycle states.
type TurnStatus string

const (
	TurnStatusStarted     TurnStatus = "started"
	TurnStatusCompleted   TurnStatus = "completed"
	TurnStatusInterrupted TurnStatus = "interrupted"
	TurnStatusAborted     TurnStatus = "aborted"
)

// IsTerminal reports whether a turn in this status will never transition again.
func (s TurnStatus) IsTerminal() bool {
	switch s {
	case TurnStatusCompleted, TurnStatusInterrupted, TurnStatusAborted:
		return true
	default:
		return false
	}
}

// Turn is the gateway-local projection of a single turn (§3).
type Turn struct {
	TurnID      string     `db:"turn_id" json:"turnId"`
	ThreadID    string     `db:"thread_id" json:"threadId"`
	Status      TurnStatus `db:"status" json:"status"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	ErrorJSON   *string    `db:"error_json" json:"errorJson,omitempty"`
}

// EventKind classifies a GatewayEvent for client-side routing.
type EventKind string

const (
	EventKindThread      EventKind = "thread"
	EventKindTurn        EventKind = "turn"
	EventKindItem        EventKind = "item"
	EventKindApproval    EventKind = "approval"
	EventKindInteraction EventKind = "interaction"
	EventKindSystem      EventKind = "system"
)

// GatewayEvent is one append-only row of the event log (§3). Seq is the
// replay cursor: strictly increasing and gap-free within the whole store,
// never just within a thread.
type GatewayEvent struct {
	Seq         int64     `db:"seq" json:"seq"`
	ThreadID    string    `db:"thread_id" json:"threadId"`
	TurnID      *string   `db:"turn_id" json:"turnId,omitempty"`
	Kind        EventKind `db:"kind" json:"kind"`
	Name        string    `db:"name" json:"name"`
	PayloadJSON string    `db:"payload_json" json:"payload"`
	ServerTS    time.Time `db:"server_ts" json:"serverTs"`
}

// ApprovalType enumerates the kinds of worker request that become approvals.
type ApprovalType string

const (
	ApprovalTypeCommandExecution ApprovalType = "commandExecution"
	ApprovalTypeFileChange       ApprovalType = "fileChange"
	ApprovalTypeUserInput        ApprovalType = "userInput"
)

// ApprovalStatus enumerates the approval state machine (§3, §4.6).
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusDenied    ApprovalStatus = "denied"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

// ApprovalDecision is the value the user (or an auto-decision policy) sends.
type ApprovalDecision string

const (
	ApprovalDecisionAllow  ApprovalDecision = "allow"
	ApprovalDecisionDeny   ApprovalDecision = "deny"
	ApprovalDecisionCancel ApprovalDecision = "cancel"
)

// WorkerDecision is the vocabulary the worker's respond() payload expects,
// distinct from ApprovalDecision per the §4.6 decision→worker-response map.
type WorkerDecision string

const (
	WorkerDecisionAccept  WorkerDecision = "accept"
	WorkerDecisionDecline WorkerDecision = "decline"
	WorkerDecisionCancel  WorkerDecision = "cancel"
)

// ToWorkerDecision maps a user decision to the vocabulary sent back to the worker.
func (d ApprovalDecision) ToWorkerDecision() (WorkerDecision, bool) {
	switch d {
	case ApprovalDecisionAllow:
		return WorkerDecisionAccept, true
	case ApprovalDecisionDeny:
		return WorkerDecisionDecline, true
	case ApprovalDecisionCancel:
		return WorkerDecisionCancel, true
	default:
		return "", false
	}
}

// terminalStatus maps a user decision to the approval's resting status.
func (d ApprovalDecision) terminalStatus() (ApprovalStatus, bool) {
	switch d {
	case ApprovalDecisionAllow:
		return ApprovalStatusApproved, true
	case ApprovalDecisionDeny:
		return ApprovalStatusDenied, true
	case ApprovalDecisionCancel:
		return ApprovalStatusCancelled, true
	default:
		return "", false
	}
}

// TerminalStatus is the exported form of terminalStatus, used by callers
// outside the package that already validated the decision.
func (d ApprovalDecision) TerminalStatus() (ApprovalStatus, bool) {
	return d.terminalStatus()
}

// Approval is the durable projection of a pending or resolved approval request (§3).
type Approval struct {
	ApprovalID      string           `db:"approval_id" json:"approvalId"`
	ThreadID        string           `db:"thread_id" json:"threadId"`
	TurnID          *string          `db:"turn_id" json:"turnId,omitempty"`
	ItemID          *string          `db:"item_id" json:"itemId,omitempty"`
	Type            ApprovalType     `db:"type" json:"type"`
	Status          ApprovalStatus   `db:"status" json:"status"`
	RequestPayload  string           `db:"request_payload_json" json:"requestPayload"`
	Decision        ApprovalDecision `db:"decision" json:"decision,omitempty"`
	Note            *string          `db:"note" json:"note,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
	ResolvedAt      *time.Time       `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// InteractionStatus enumerates the interaction state machine (§3, §4.7).
type InteractionStatus string

const (
	InteractionStatusPending   InteractionStatus = "pending"
	InteractionStatusResponded InteractionStatus = "responded"
	InteractionStatusCancelled InteractionStatus = "cancelled"
)

// Interaction is the durable projection of a multi-question prompt (§3, §4.7).
type Interaction struct {
	InteractionID    string            `db:"interaction_id" json:"interactionId"`
	ThreadID         string            `db:"thread_id" json:"threadId"`
	TurnID           *string           `db:"turn_id" json:"turnId,omitempty"`
	ItemID           *string           `db:"item_id" json:"itemId,omitempty"`
	Type             string            `db:"type" json:"type"`
	Status           InteractionStatus `db:"status" json:"status"`
	RequestPayload   string            `db:"request_payload_json" json:"requestPayload"`
	ResponsePayload  *string           `db:"response_payload_json" json:"responsePayload,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"createdAt"`
	ResolvedAt       *time.Time        `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// QuestionOption is one selectable choice for an interaction question.
type QuestionOption struct {
	Label string `json:"label"`
}

// Question is one entry in an interaction's questions vector (§4.7).
type Question struct {
	ID       string            `json:"id"`
	Header   string            `json:"header"`
	Question string            `json:"question"`
	IsOther  bool              `json:"isOther"`
	IsSecret bool              `json:"isSecret"`
	Options  []QuestionOption  `json:"options,omitempty"`
}

// Actor enumerates who initiated an audited action.
type Actor string

const (
	ActorGateway Actor = "gateway"
	ActorUser    Actor = "user"
)

// AuditRecord is one append-only audit log entry (§3).
type AuditRecord struct {
	ID           int64     `db:"id" json:"id"`
	TS           time.Time `db:"ts" json:"ts"`
	Actor        Actor     `db:"actor" json:"actor"`
	Action       string    `db:"action" json:"action"`
	ThreadID     *string   `db:"thread_id" json:"threadId,omitempty"`
	TurnID       *string   `db:"turn_id" json:"turnId,omitempty"`
	MetadataJSON *string   `db:"metadata_json" json:"metadata,omitempty"`
}
