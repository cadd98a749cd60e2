package execpolicy

// PatternTokenKind distinguishes a single-value pattern token from a set
// of alternatives (Starlark's `["push", "fetch"]` alternative-list form).
type PatternTokenKind int

const (
	// PatternSingle matches exactly one string value.
	PatternSingle PatternTokenKind = iota
	// PatternAlts matches any of a set of alternative strings.
	PatternAlts
)

// PatternToken is a single element in a prefix pattern. It matches either
// exactly one string or any of a set of alternative strings.
//
type PatternToken struct {
	Kind   PatternTokenKind
	Single string   // used when Kind == PatternSingle
	Alts   []string // used when Kind == PatternAlts
}

// Matches returns true if the token matches the given string.
func (pt *PatternToken) Matches(s string) bool {
	switch pt.Kind {
	case PatternSingle:
		return pt.Single == s
	case PatternAlts:
		for _, alt := range pt.Alts {
			if alt == s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// PrefixPattern is a sequence of pattern tokens a command must start
// with, e.g. `["git", "push"]` matches any `git push ...` invocation.
type PrefixPattern []PatternToken

// Matches returns true if the pattern is a prefix of the given command.
// The command must have at least as many tokens as the pattern.
func (pp PrefixPattern) Matches(cmd []string) bool {
	if len(cmd) < len(pp) {
		return false
	}
	for i, token := range pp {
		if !token.Matches(cmd[i]) {
			return false
		}
	}
	return true
}

// ProgramName returns the program name from the first token of the pattern,
// or empty string if the pattern is empty or uses alternatives for the first token.
func (pp PrefixPattern) ProgramName() string {
	if len(pp) == 0 {
		return ""
	}
	if pp[0].Kind == PatternSingle {
		return pp[0].Single
	}
	return ""
}

// PrefixRule is the compiled form of one prefix_rule() statement: a
// pattern plus the decision and justification to apply when it matches.
type PrefixRule struct {
	Pattern       PrefixPattern
	Decision      Decision
	Justification string
}

// Matches returns true if the command matches this rule's pattern.
func (pr *PrefixRule) Matches(cmd []string) bool {
	return pr.Pattern.Matches(cmd)
}

// Rule is satisfied by every rule kind a Policy can hold. PrefixRule is
// the only one the Starlark loader produces today; the interface keeps
// Policy from having to know that.
type Rule interface {
	// Match tests whether the rule applies to the given command.
	Match(cmd []string) bool
	// GetDecision returns the decision if the rule matches.
	GetDecision() Decision
	// GetJustification returns the human-readable reason.
	GetJustification() string
}

// Match implements Rule for PrefixRule.
func (pr *PrefixRule) Match(cmd []string) bool {
	return pr.Matches(cmd)
}

// GetDecision implements Rule for PrefixRule.
func (pr *PrefixRule) GetDecision() Decision {
	return pr.Decision
}

// GetJustification implements Rule for PrefixRule.
func (pr *PrefixRule) GetJustification() string {
	return pr.Justification
}
