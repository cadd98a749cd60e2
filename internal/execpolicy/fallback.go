package execpolicy

// readOnlyPrograms lists programs the "on-request" fallback trusts to
// never mutate anything regardless of arguments. This is deliberately a
// much smaller allowlist than the approval package's risk-hint
// classifier: a rule author who wants a broader auto-allow set should
// write a prefix_rule instead of relying on this fallback.
var readOnlyPrograms = map[string]bool{
	"cat": true, "echo": true, "false": true, "grep": true, "head": true,
	"ls": true, "pwd": true, "stat": true, "tail": true, "true": true,
	"uname": true, "wc": true, "which": true, "whoami": true,
}

// isObviouslyReadOnly reports whether cmd invokes a program from
// readOnlyPrograms. It is the heuristic used only when approvalPolicy is
// "on-request" and no explicit rule matched the command.
func isObviouslyReadOnly(cmd []string) bool {
	if len(cmd) == 0 {
		return false
	}
	return readOnlyPrograms[cmd[0]]
}
