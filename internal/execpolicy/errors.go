package execpolicy

import "fmt"

// ParseError reports a Starlark syntax error in a `.rules` file the
// gateway loaded as part of its auto-decision policy (§12.2).
type ParseError struct {
	File    string
	Line    int
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// RuleError reports a structurally invalid prefix_rule call — an empty
// pattern, an unrecognized decision name, and the like.
type RuleError struct {
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule error: %s", e.Message)
}
