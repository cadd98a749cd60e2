// Package turn implements C8: thread and turn lifecycle against the
// worker, including auto-resume on "thread not loaded" classes of error,
// $token mention expansion, and collaboration-mode preset resolution.
// It also hosts the single inbound-message dispatcher the bridge calls
// into (§9 "cyclic wiring"): the bridge never imports this package, it
// only invokes the function Controller registers via bridge.OnMessage.
package turn

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

// RPC is the subset of *bridge.Bridge the controller needs.
type RPC interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Respond(id json.RawMessage, result any) error
	OnMessage(fn func(bridge.InboundMessage))
}

// Store is the subset of *store.Store the controller needs.
type Store interface {
	UpsertThreads(ctx context.Context, threads []domain.Thread) error
	UpdateThreadProjectKey(ctx context.Context, threadID, projectKey string) error
	GetThread(ctx context.Context, threadID string) (domain.Thread, error)
	ListProjectedThreads(ctx context.Context, limit int) ([]domain.Thread, error)
	UpsertTurn(ctx context.Context, t domain.Turn) error
	MarkTurnTerminal(ctx context.Context, turnID string, status domain.TurnStatus, completedAt time.Time, errorJSON *string) error
	InsertGatewayEvent(ctx context.Context, e domain.GatewayEvent) (int64, error)
	InsertAuditLog(ctx context.Context, a domain.AuditRecord) error
}

// EventPublisher is the subset of *eventbus.Bus the controller needs.
type EventPublisher interface {
	Publish(domain.GatewayEvent)
}

// ContextResolver is the subset of *contextresolver.Resolver the
// controller needs.
type ContextResolver interface {
	Resolve(ctx context.Context, threadID, knownProjectKey string) (string, error)
	Invalidate(threadID string)
}

// RequestHandler is satisfied by the approval/interaction coordinators:
// both expose the same shape for inbound-request handling and
// turn-terminal cancellation.
type RequestHandler interface {
	HandleRequest(ctx context.Context, msg bridge.InboundMessage) error
	OnTurnTerminal(ctx context.Context, threadID, turnID string)
}

// TurnStartOptions carries the caller-supplied options for starting a turn
// (§4.8 step 2-4).
type TurnStartOptions struct {
	Model             string
	Cwd               string
	Mode              string // "full-access" | "local" | ""
	CollaborationMode string // "plan" | "default" | ""
}

// lastTurnInput records what a thread's most recent turn/start call used,
// so Control("retry") can replay it (§4.8 "Record lastTurnInput per thread").
type lastTurnInput struct {
	Input []InputItem
	Opts  TurnStartOptions
}

// Controller is the C8 TurnController.
type Controller struct {
	rpc       RPC
	store     Store
	bus       EventPublisher
	resolver  ContextResolver
	approvals RequestHandler
	interacts RequestHandler
	log       *gatewaylog.Logger

	mu             sync.Mutex
	activeTurn     map[string]string // threadId -> turnId
	lastTurnByThr  map[string]lastTurnInput
	resumeLocksMu  sync.Mutex
	resumeLocks    map[string]*sync.Mutex

	collabSupportedMu sync.Mutex
	collabSupported   *bool // nil = unknown, per §5 "collaborationModeListSupported tri-state"
}

// New creates a Controller and registers its dispatcher with rpc.
func New(rpc RPC, store Store, bus EventPublisher, resolver ContextResolver, approvals, interacts RequestHandler) *Controller {
	c := &Controller{
		rpc:           rpc,
		store:         store,
		bus:           bus,
		resolver:      resolver,
		approvals:     approvals,
		interacts:     interacts,
		log:           gatewaylog.New("turn"),
		activeTurn:    make(map[string]string),
		lastTurnByThr: make(map[string]lastTurnInput),
		resumeLocks:   make(map[string]*sync.Mutex),
	}
	rpc.OnMessage(c.Dispatch)
	return c
}

func (c *Controller) resumeLockFor(threadID string) *sync.Mutex {
	c.resumeLocksMu.Lock()
	defer c.resumeLocksMu.Unlock()
	lock, ok := c.resumeLocks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		c.resumeLocks[threadID] = lock
	}
	return lock
}

// resumeThread serializes concurrent thread/resume calls for the same
// thread (§9 open question: "implementers should serialize per-thread
// resumes to avoid double-resume storms").
func (c *Controller) resumeThread(ctx context.Context, threadID string) error {
	lock := c.resumeLockFor(threadID)
	lock.Lock()
	defer lock.Unlock()
	_, err := c.rpc.Request(ctx, "thread/resume", map[string]any{"threadId": threadID})
	return err
}

// --- Thread operations (§4.8) ---

// StartThread handles POST /api/threads: mode "new" calls thread/start,
// mode "fork" calls thread/fork and inherits the parent's projectKey.
func (c *Controller) StartThread(ctx context.Context, mode, fromThreadID, model, cwd string) (domain.Thread, error) {
	var result json.RawMessage
	var err error
	var projectKey string

	switch mode {
	case "fork":
		if fromThreadID == "" {
			return domain.Thread{}, gatewayerr.NewClientError(400, "fromThreadId is required to fork")
		}
		result, err = c.rpc.Request(ctx, "thread/fork", map[string]any{"threadId": fromThreadID})
		if err == nil {
			if parent, perr := c.store.GetThread(ctx, fromThreadID); perr == nil {
				projectKey = parent.ProjectKey
			}
		}
	default:
		params := map[string]any{}
		if model != "" {
			params["model"] = model
		}
		if cwd != "" {
			params["cwd"] = cwd
		}
		result, err = c.rpc.Request(ctx, "thread/start", params)
		if cwd != "" {
			projectKey = cwd
		}
	}
	if err != nil {
		return domain.Thread{}, gatewayerr.ToGatewayError(err.Error(), err)
	}

	var parsed struct {
		ThreadID string `json:"threadId"`
	}
	_ = json.Unmarshal(result, &parsed)
	if parsed.ThreadID == "" {
		return domain.Thread{}, gatewayerr.NewInternal("worker returned no threadId", nil)
	}
	if projectKey == "" {
		projectKey = domain.UnknownProjectKey
	}

	now := time.Now().UTC()
	th := domain.Thread{
		ThreadID:   parsed.ThreadID,
		ProjectKey: projectKey,
		Status:     domain.ThreadStatusIdle,
		UpdatedAt:  now,
	}
	if err := c.store.UpsertThreads(ctx, []domain.Thread{th}); err != nil {
		return domain.Thread{}, gatewayerr.NewInternal("persist thread", err)
	}

	action := "thread.started"
	if mode == "fork" {
		action = "thread.forked"
	}
	c.audit(ctx, th.ThreadID, nil, action, now)
	c.publishEvent(ctx, th.ThreadID, nil, domain.EventKindThread, action, result, now)
	return th, nil
}

// GetThread handles GET /api/threads/:id with the §4.8 retry ladder.
func (c *Controller) GetThread(ctx context.Context, threadID string, includeTurns bool) (json.RawMessage, error) {
	result, err := c.rpc.Request(ctx, "thread/read", map[string]any{"threadId": threadID, "includeTurns": includeTurns})
	if err == nil {
		return result, nil
	}

	kind, action := gatewayerr.Classify(err.Error())
	switch action {
	case gatewayerr.ActionResumeAndRetry:
		if strings.Contains(strings.ToLower(err.Error()), "not materialized yet") {
			result, retryErr := c.rpc.Request(ctx, "thread/read", map[string]any{"threadId": threadID, "includeTurns": false})
			if retryErr == nil {
				return result, nil
			}
			err = retryErr
		} else {
			if resumeErr := c.resumeThread(ctx, threadID); resumeErr != nil {
				return nil, gatewayerr.NewUpstreamTransient("resume failed", resumeErr)
			}
			result, retryErr := c.rpc.Request(ctx, "thread/read", map[string]any{"threadId": threadID, "includeTurns": includeTurns})
			if retryErr == nil {
				return result, nil
			}
			err = retryErr
		}
		fallthrough
	case gatewayerr.ActionDegradeToProjection:
		th, perr := c.store.GetThread(ctx, threadID)
		if perr != nil {
			return nil, gatewayerr.NewUpstreamAbsent(err.Error(), err)
		}
		projOnly, _ := json.Marshal(map[string]any{"thread": th, "projectionOnly": true})
		return projOnly, nil
	default:
		_ = kind
		return nil, gatewayerr.NewInternal(err.Error(), err)
	}
}

// ListThreads handles GET /api/threads, falling back to the projection on
// worker failure and hydrating any still-unknown projectKey via the
// ContextResolver (§4.8).
func (c *Controller) ListThreads(ctx context.Context) ([]domain.Thread, error) {
	result, err := c.rpc.Request(ctx, "thread/list", map[string]any{})
	var threads []domain.Thread
	if err != nil {
		threads, err = c.store.ListProjectedThreads(ctx, 500)
		if err != nil {
			return nil, gatewayerr.NewInternal("list projected threads", err)
		}
	} else {
		var parsed struct {
			Threads []domain.Thread `json:"threads"`
		}
		if jsonErr := json.Unmarshal(result, &parsed); jsonErr != nil {
			threads, err = c.store.ListProjectedThreads(ctx, 500)
			if err != nil {
				return nil, gatewayerr.NewInternal("list projected threads", err)
			}
		} else {
			threads = parsed.Threads
		}
	}

	for i, th := range threads {
		if th.ProjectKey != domain.UnknownProjectKey {
			continue
		}
		cwd, rerr := c.resolver.Resolve(ctx, th.ThreadID, th.ProjectKey)
		if rerr != nil || cwd == "" {
			continue
		}
		threads[i].ProjectKey = cwd
		_ = c.store.UpdateThreadProjectKey(ctx, th.ThreadID, cwd)
	}
	return threads, nil
}

// --- Turn operations (§4.8) ---

// StartTurn implements POST /api/threads/:id/turns.
func (c *Controller) StartTurn(ctx context.Context, threadID string, input []InputItem, opts TurnStartOptions) (string, []string, error) {
	if len(input) == 0 {
		return "", nil, gatewayerr.NewClientError(400, "input must be non-empty")
	}

	cwd := opts.Cwd
	if cwd == "" {
		if th, err := c.store.GetThread(ctx, threadID); err == nil && th.ProjectKey != domain.UnknownProjectKey {
			cwd = th.ProjectKey
		}
	}

	expanded := expandMentions(ctx, input, mentionFetchers{
		fetchSkills: c.fetchSkills,
		fetchApps:   c.fetchApps,
	}, c.log)

	var warnings []string
	params := map[string]any{
		"threadId": threadID,
		"input":    expanded,
	}
	if opts.Model != "" {
		params["model"] = opts.Model
	}
	if cwd != "" {
		params["cwd"] = cwd
	}

	if opts.CollaborationMode != "" {
		preset, presetErr := c.resolveCollaborationMode(ctx, opts.CollaborationMode, opts.Model)
		if presetErr != nil {
			_, action := gatewayerr.Classify(presetErr.Error())
			if action == gatewayerr.ActionDegradeWithWarning && opts.CollaborationMode == "plan" {
				warnings = append(warnings, "plan_mode_fallback")
			} else {
				return "", nil, gatewayerr.NewClientError(400, presetErr.Error())
			}
		} else if preset != nil {
			params["collaborationMode"] = preset
		}
	}

	if fields := permissionFields(opts.Mode); fields != nil {
		for k, v := range fields {
			params[k] = v
		}
	}

	result, err := c.callTurnStart(ctx, threadID, params)
	if err != nil {
		return "", nil, gatewayerr.ToGatewayError(err.Error(), err)
	}

	var parsed struct {
		TurnID string `json:"turnId"`
	}
	_ = json.Unmarshal(result, &parsed)
	if parsed.TurnID == "" {
		return "", nil, gatewayerr.NewInternal("worker returned no turnId", nil)
	}

	c.mu.Lock()
	c.activeTurn[threadID] = parsed.TurnID
	c.lastTurnByThr[threadID] = lastTurnInput{Input: input, Opts: opts}
	c.mu.Unlock()

	if cwd != "" && opts.Cwd != "" {
		_ = c.store.UpdateThreadProjectKey(ctx, threadID, cwd)
	}

	now := time.Now().UTC()
	_ = c.store.UpsertTurn(ctx, domain.Turn{TurnID: parsed.TurnID, ThreadID: threadID, Status: domain.TurnStatusStarted, StartedAt: &now})

	return parsed.TurnID, warnings, nil
}

// callTurnStart calls turn/start, auto-resuming once on a
// thread-not-loaded class of error (§4.8 step 5).
func (c *Controller) callTurnStart(ctx context.Context, threadID string, params map[string]any) (json.RawMessage, error) {
	result, err := c.rpc.Request(ctx, "turn/start", params)
	if err == nil {
		return result, nil
	}
	_, action := gatewayerr.Classify(err.Error())
	if action != gatewayerr.ActionResumeAndRetry {
		return nil, err
	}
	if resumeErr := c.resumeThread(ctx, threadID); resumeErr != nil {
		return nil, err
	}
	return c.rpc.Request(ctx, "turn/start", params)
}

// permissionFields implements the §4.8 permission-mode mapping table.
func permissionFields(mode string) map[string]any {
	switch mode {
	case "full-access":
		return map[string]any{
			"approvalPolicy": "never",
			"sandboxPolicy":  map[string]any{"type": "dangerFullAccess"},
		}
	case "local":
		return map[string]any{
			"approvalPolicy": "on-request",
			"sandboxPolicy":  map[string]any{"type": "workspaceWrite", "networkAccess": false},
		}
	default:
		return nil
	}
}

type collaborationPreset struct {
	Name                 string `json:"name"`
	Mode                 string `json:"mode"`
	Model                string `json:"model"`
	ReasoningEffort      string `json:"reasoning_effort"`
	DeveloperInstructions string `json:"developer_instructions"`
}

// resolveCollaborationMode implements §4.8 step 4. A nil, nil return means
// "no matching preset, proceed without one" (the caller still forwards no
// collaborationMode field); a non-nil error signals the caller to either
// warn-and-continue (plan fallback) or surface a 400.
func (c *Controller) resolveCollaborationMode(ctx context.Context, mode, fallbackModel string) (map[string]any, error) {
	result, err := c.rpc.Request(ctx, "collaborationMode/list", map[string]any{})
	if err != nil {
		c.setCollabSupported(false)
		return nil, err
	}
	c.setCollabSupported(true)

	var parsed struct {
		Presets []collaborationPreset `json:"presets"`
	}
	if jsonErr := json.Unmarshal(result, &parsed); jsonErr != nil {
		return nil, fmt.Errorf("malformed collaborationMode/list response")
	}

	var match *collaborationPreset
	for i, p := range parsed.Presets {
		if strings.EqualFold(p.Mode, mode) {
			match = &parsed.Presets[i]
			break
		}
	}
	if match == nil {
		for i, p := range parsed.Presets {
			if strings.EqualFold(p.Name, mode) {
				match = &parsed.Presets[i]
				break
			}
		}
	}
	if match == nil {
		return nil, nil
	}

	model := match.Model
	if model == "" {
		model = fallbackModel
	}
	return map[string]any{
		"model":                 model,
		"reasoning_effort":      match.ReasoningEffort,
		"developer_instructions": match.DeveloperInstructions,
	}, nil
}

func (c *Controller) setCollabSupported(v bool) {
	c.collabSupportedMu.Lock()
	defer c.collabSupportedMu.Unlock()
	c.collabSupported = &v
}

// Control implements POST /api/threads/:id/control (§4.8).
func (c *Controller) Control(ctx context.Context, threadID, action string) error {
	switch action {
	case "retry":
		c.mu.Lock()
		last, ok := c.lastTurnByThr[threadID]
		c.mu.Unlock()
		if !ok {
			return gatewayerr.NewClientError(400, "no previous turn to retry")
		}
		_, _, err := c.StartTurn(ctx, threadID, last.Input, last.Opts)
		return err
	case "stop", "cancel":
		c.mu.Lock()
		turnID, ok := c.activeTurn[threadID]
		c.mu.Unlock()
		if !ok {
			return nil
		}
		_, err := c.rpc.Request(ctx, "turn/interrupt", map[string]any{"threadId": threadID, "turnId": turnID})
		if err != nil {
			_, recoveryAction := gatewayerr.Classify(err.Error())
			if recoveryAction == gatewayerr.ActionResumeAndRetry {
				if resumeErr := c.resumeThread(ctx, threadID); resumeErr == nil {
					_, err = c.rpc.Request(ctx, "turn/interrupt", map[string]any{"threadId": threadID, "turnId": turnID})
				}
			}
		}
		return err
	default:
		return gatewayerr.NewClientError(400, "unknown control action: "+action)
	}
}

// ReviewOptions carries the §4.8 review-start request body.
type ReviewOptions struct {
	Instructions string
	Target       map[string]any
	Delivery     string
}

// Review implements POST /api/threads/:id/review.
func (c *Controller) Review(ctx context.Context, threadID string, opts ReviewOptions) error {
	delivery := opts.Delivery
	if delivery == "" {
		delivery = "inline"
	}
	target := opts.Target
	if strings.TrimSpace(opts.Instructions) != "" {
		target = map[string]any{"type": "custom", "instructions": strings.TrimSpace(opts.Instructions)}
	} else if target == nil {
		target = map[string]any{"type": "uncommittedChanges"}
	}
	_, err := c.rpc.Request(ctx, "review/start", map[string]any{
		"threadId": threadID,
		"target":   target,
		"delivery": delivery,
	})
	if err != nil {
		return gatewayerr.ToGatewayError(err.Error(), err)
	}
	return nil
}

// --- Server-initiated message dispatch (§4.8 "Server-initiated message dispatch") ---

type eventEnvelope struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
}

// Dispatch is registered with the bridge via OnMessage and classifies
// every inbound server-initiated message, routing approval/interaction
// requests to their coordinators and persisting+publishing everything
// else as a GatewayEvent.
func (c *Controller) Dispatch(msg bridge.InboundMessage) {
	ctx := context.Background()

	if isApprovalMethod(msg.Method) {
		if err := c.approvals.HandleRequest(ctx, msg); err != nil {
			c.log.Printf("approval handle %s: %v", msg.Method, err)
		}
		return
	}
	if isInteractionMethod(msg.Method) {
		if err := c.interacts.HandleRequest(ctx, msg); err != nil {
			c.log.Printf("interaction handle %s: %v", msg.Method, err)
		}
		return
	}

	var env eventEnvelope
	_ = json.Unmarshal(msg.Params, &env)
	kind := classifyKind(msg.Method)

	switch msg.Method {
	case "turn/started":
		c.mu.Lock()
		c.activeTurn[env.ThreadID] = env.TurnID
		c.mu.Unlock()
		now := time.Now().UTC()
		_ = c.store.UpsertTurn(ctx, domain.Turn{TurnID: env.TurnID, ThreadID: env.ThreadID, Status: domain.TurnStatusStarted, StartedAt: &now})
	case "turn/completed", "turn/interrupted", "turn/aborted":
		c.mu.Lock()
		if c.activeTurn[env.ThreadID] == env.TurnID {
			delete(c.activeTurn, env.ThreadID)
		}
		c.mu.Unlock()
		now := time.Now().UTC()
		status := domain.TurnStatusCompleted
		switch msg.Method {
		case "turn/interrupted":
			status = domain.TurnStatusInterrupted
		case "turn/aborted":
			status = domain.TurnStatusAborted
		}
		_ = c.store.MarkTurnTerminal(ctx, env.TurnID, status, now, nil)
		if msg.Method == "turn/completed" || msg.Method == "turn/aborted" {
			c.approvals.OnTurnTerminal(ctx, env.ThreadID, env.TurnID)
			c.interacts.OnTurnTerminal(ctx, env.ThreadID, env.TurnID)
		}
	}

	var turnIDPtr *string
	if env.TurnID != "" {
		turnIDPtr = &env.TurnID
	}
	c.publishEvent(ctx, env.ThreadID, turnIDPtr, kind, msg.Method, msg.Params, time.Now().UTC())
}

func isApprovalMethod(method string) bool {
	return method == "item/commandExecution/requestApproval" || method == "item/fileChange/requestApproval"
}

func isInteractionMethod(method string) bool {
	return method == "tool/requestUserInput" || method == "item/tool/requestUserInput"
}

func classifyKind(method string) domain.EventKind {
	switch {
	case strings.HasPrefix(method, "thread/"):
		return domain.EventKindThread
	case strings.HasPrefix(method, "turn/"):
		return domain.EventKindTurn
	case strings.HasPrefix(method, "item/"):
		return domain.EventKindItem
	default:
		return domain.EventKindSystem
	}
}

func (c *Controller) publishEvent(ctx context.Context, threadID string, turnID *string, kind domain.EventKind, name string, payload json.RawMessage, ts time.Time) {
	if threadID == "" {
		return
	}
	event := domain.GatewayEvent{ThreadID: threadID, TurnID: turnID, Kind: kind, Name: name, PayloadJSON: string(payload), ServerTS: ts}
	seq, err := c.store.InsertGatewayEvent(ctx, event)
	if err != nil {
		c.log.Printf("persist event %s: %v", name, err)
		return
	}
	event.Seq = seq
	c.bus.Publish(event)
}

func (c *Controller) audit(ctx context.Context, threadID string, turnID *string, action string, ts time.Time) {
	tid := threadID
	if err := c.store.InsertAuditLog(ctx, domain.AuditRecord{TS: ts, Actor: domain.ActorGateway, Action: action, ThreadID: &tid, TurnID: turnID}); err != nil {
		c.log.Printf("audit %s: %v", action, err)
	}
}

// --- Skills/apps RPC helpers for mentions.go ---

func (c *Controller) fetchSkills(ctx context.Context) ([]skillInfo, error) {
	result, err := c.rpc.Request(ctx, "skills/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	skills, err := unmarshalSkillsList(result)
	if err != nil {
		return nil, err
	}
	var enabled []skillInfo
	for _, s := range skills {
		enabled = append(enabled, s)
	}
	return enabled, nil
}

func (c *Controller) fetchApps(ctx context.Context) ([]appInfo, error) {
	var all []appInfo
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		result, err := c.rpc.Request(ctx, "app/list", params)
		if err != nil {
			return nil, err
		}
		page, err := unmarshalAppListPage(result)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}
