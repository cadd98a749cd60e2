// Package execpolicy implements the optional Starlark rule engine behind
// the commandExecution auto-decision fast path (SPEC_FULL.md §12.2): a
// gateway operator can drop prefix_rule() statements into a rules file to
// have matching commands auto-approved or auto-denied without ever going
// through the ordinary pending-approval flow.
package execpolicy

import (
	"fmt"
	"strings"
)

// Decision is the outcome of evaluating a command against the rules.
// Decisions are ordered Allow < Prompt < Forbidden; aggregating several
// rule matches (e.g. one per `&&`-joined subcommand) keeps the highest.
type Decision int

const (
	// DecisionAllow means the command is safe and can be auto-executed.
	DecisionAllow Decision = iota
	// DecisionPrompt means the user should be asked before executing.
	DecisionPrompt
	// DecisionForbidden means the command must not be executed.
	DecisionForbidden
)

// String returns the string representation of a Decision.
func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionPrompt:
		return "prompt"
	case DecisionForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// ParseDecision parses the decision= argument of a prefix_rule() call.
// Accepted values: "allow", "prompt", "forbidden" (case-insensitive).
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(s) {
	case "allow":
		return DecisionAllow, nil
	case "prompt":
		return DecisionPrompt, nil
	case "forbidden":
		return DecisionForbidden, nil
	default:
		return DecisionAllow, fmt.Errorf("invalid decision %q: must be allow, prompt, or forbidden", s)
	}
}

// Max returns the higher of two decisions (used for aggregation).
func (d Decision) Max(other Decision) Decision {
	if other > d {
		return other
	}
	return d
}
