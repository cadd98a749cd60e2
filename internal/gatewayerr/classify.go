package gatewayerr

import "regexp"

// RecoveryAction names what the caller should do once an error has been classified.
type RecoveryAction int

const (
	// ActionNone means the error carries no special recovery: surface it as-is.
	ActionNone RecoveryAction = iota
	// ActionResumeAndRetry means the caller should resume the thread once and retry the call.
	ActionResumeAndRetry
	// ActionDegradeToProjection means the caller should answer from the local
	// projection instead of the worker (the worker has no memory of this thread).
	ActionDegradeToProjection
	// ActionDegradeWithWarning means the caller should answer but flag the
	// response as degraded (the worker doesn't support the method).
	ActionDegradeWithWarning
)

// classifyRule is one entry of the predicate table: a worker error string
// is matched against Pattern and, on match, classified as Kind/Action.
type classifyRule struct {
	pattern *regexp.Regexp
	kind    Kind
	action  RecoveryAction
}

// rules is the §6/§9 predicate table. It is checked top-to-bottom; the
// first match wins. This mirrors the cli package's classifyPollError,
// adapted from matching typed serviceerror.* values to matching the plain
// error strings the worker sends over JSON-RPC.
var rules = []classifyRule{
	{
		pattern: regexp.MustCompile(`(?i)thread not loaded`),
		kind:    KindUpstreamTransient,
		action:  ActionResumeAndRetry,
	},
	{
		pattern: regexp.MustCompile(`(?i)thread not found`),
		kind:    KindUpstreamTransient,
		action:  ActionResumeAndRetry,
	},
	{
		pattern: regexp.MustCompile(`(?i)not materialized yet`),
		kind:    KindUpstreamTransient,
		action:  ActionResumeAndRetry,
	},
	{
		pattern: regexp.MustCompile(`(?i)no rollout found`),
		kind:    KindUpstreamAbsent,
		action:  ActionDegradeToProjection,
	},
	{
		pattern: regexp.MustCompile(`(?i)(unsupported|unhandled|method not found).*collaborationmode/list`),
		kind:    KindUpstreamUnsupported,
		action:  ActionDegradeWithWarning,
	},
}

// Classify matches a worker JSON-RPC error message against the §6 predicate
// table and returns the recovery action the caller should take. An
// unmatched message classifies as KindInternal/ActionNone: the caller has
// no special handling for it and should surface it as an opaque failure.
func Classify(workerErrMessage string) (Kind, RecoveryAction) {
	for _, r := range rules {
		if r.pattern.MatchString(workerErrMessage) {
			return r.kind, r.action
		}
	}
	return KindInternal, ActionNone
}

// ToGatewayError converts a classified worker error message into a
// GatewayError ready to reach the HTTP layer.
func ToGatewayError(workerErrMessage string, cause error) *GatewayError {
	kind, _ := Classify(workerErrMessage)
	switch kind {
	case KindUpstreamTransient:
		return NewUpstreamTransient(workerErrMessage, cause)
	case KindUpstreamAbsent:
		return NewUpstreamAbsent(workerErrMessage, cause)
	case KindUpstreamUnsupported:
		return NewUpstreamUnsupported(workerErrMessage, cause)
	default:
		return NewInternal(workerErrMessage, cause)
	}
}
