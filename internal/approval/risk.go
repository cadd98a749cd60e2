package approval

import (
	"path/filepath"
	"strings"

	"github.com/codex-web/agent-gateway/internal/shellscript"
)

// RiskHint is an informational command-risk classification attached to a
// commandExecution approval's persisted payload (SPEC_FULL.md §12.1). It
// never changes the approval's pending status or bypasses the user
// decision §4.6 requires — it only helps the UI render the request.
type RiskHint string

const (
	RiskSafe      RiskHint = "safe"
	RiskCaution   RiskHint = "caution"
	RiskDangerous RiskHint = "dangerous"
)

// ClassifyCommand turns a shell invocation into the three-way risk hint
// rendered in the approval UI. It is a heuristic classifier, not a
// security boundary: a "safe" command can still touch disk, and a
// "caution" command can still be harmless. The gateway only ever uses
// the result to annotate a pending approval's payload, never to skip the
// user decision §4.6 requires.
func ClassifyCommand(command []string) RiskHint {
	if len(command) == 0 {
		return RiskCaution
	}
	if commandLooksDangerous(command) {
		return RiskDangerous
	}
	if commandIsReadOnly(command) {
		return RiskSafe
	}
	return RiskCaution
}

// commandLooksDangerous flags commands that are typically destructive
// (history-rewriting git operations, forced removal, ...), directly or
// behind a `bash -lc "<script>"`/`sudo` wrapper.
func commandLooksDangerous(command []string) bool {
	if isDangerousDirectInvocation(command) {
		return true
	}
	if scripted := shellscript.Split(command); scripted != nil {
		for _, cmd := range scripted {
			if isDangerousDirectInvocation(cmd) {
				return true
			}
		}
	}
	return false
}

func isDangerousDirectInvocation(command []string) bool {
	if len(command) == 0 {
		return false
	}

	cmd0 := command[0]
	base := filepath.Base(cmd0)

	switch {
	case base == "git":
		idx, subcommand, found := findGitSubcommand(command, []string{"reset", "rm", "branch", "push", "clean"})
		if !found {
			return false
		}

		switch subcommand {
		case "reset", "rm":
			return true
		case "branch":
			return gitBranchDeletes(command[idx+1:])
		case "push":
			return gitPushIsForceOrDelete(command[idx+1:])
		case "clean":
			return gitCleanIsForce(command[idx+1:])
		default:
			return false
		}

	case cmd0 == "rm":
		if len(command) > 1 {
			arg1 := command[1]
			if arg1 == "-f" || arg1 == "-rf" {
				return true
			}
		}
		return false

	case cmd0 == "sudo":
		if len(command) > 1 {
			return isDangerousDirectInvocation(command[1:])
		}
		return false

	default:
		return false
	}
}

func gitBranchDeletes(branchArgs []string) bool {
	for _, arg := range branchArgs {
		if arg == "-d" || arg == "-D" || arg == "--delete" || strings.HasPrefix(arg, "--delete=") {
			return true
		}
		if shortFlagGroupHas(arg, 'd') || shortFlagGroupHas(arg, 'D') {
			return true
		}
	}
	return false
}

// shortFlagGroupHas checks whether a stacked short-flag group like "-dv"
// contains target.
func shortFlagGroupHas(arg string, target byte) bool {
	if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "--") {
		return false
	}
	for i := 1; i < len(arg); i++ {
		if arg[i] == target {
			return true
		}
	}
	return false
}

func gitPushIsForceOrDelete(pushArgs []string) bool {
	for _, arg := range pushArgs {
		switch arg {
		case "--force", "--force-with-lease", "--force-if-includes", "--delete", "-f", "-d":
			return true
		}
		if strings.HasPrefix(arg, "--force-with-lease=") ||
			strings.HasPrefix(arg, "--force-if-includes=") ||
			strings.HasPrefix(arg, "--delete=") {
			return true
		}
		if shortFlagGroupHas(arg, 'f') || shortFlagGroupHas(arg, 'd') {
			return true
		}
		if gitPushRefspecForcesOrDeletes(arg) {
			return true
		}
	}
	return false
}

func gitPushRefspecForcesOrDeletes(arg string) bool {
	// `+<refspec>` forces an update, `:<dst>` deletes the remote ref.
	return (strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, ":")) && len(arg) > 1
}

func gitCleanIsForce(cleanArgs []string) bool {
	for _, arg := range cleanArgs {
		if arg == "--force" || arg == "-f" || strings.HasPrefix(arg, "--force=") {
			return true
		}
		if shortFlagGroupHas(arg, 'f') {
			return true
		}
	}
	return false
}

// commandIsReadOnly returns true for commands the gateway considers
// read-only enough to render as "safe" in the approval UI, directly or
// behind a `bash -lc "<script>"` wrapper of nothing but safe commands.
func commandIsReadOnly(command []string) bool {
	normalized := make([]string, len(command))
	for i, s := range command {
		if s == "zsh" {
			normalized[i] = "bash" // zsh and bash agree on the builtins checked below
		} else {
			normalized[i] = s
		}
	}

	if isReadOnlyDirectInvocation(normalized) {
		return true
	}

	if scripted := shellscript.Split(normalized); len(scripted) > 0 {
		for _, cmd := range scripted {
			if !isReadOnlyDirectInvocation(cmd) {
				return false
			}
		}
		return true
	}

	return false
}

func isReadOnlyDirectInvocation(command []string) bool {
	if len(command) == 0 {
		return false
	}

	base := filepath.Base(command[0])

	switch base {
	case "numfmt", "tac": // Linux-only but always read-only
		return true

	case "cat", "cd", "cut", "echo", "expr", "false", "grep", "head", "id",
		"ls", "nl", "paste", "pwd", "rev", "seq", "stat", "tail", "tr",
		"true", "uname", "uniq", "wc", "which", "whoami":
		return true

	case "base64":
		return base64HasNoOutputFlag(command)

	case "find":
		return findHasNoMutatingFlag(command)

	case "rg":
		return ripgrepHasNoUnsafeFlag(command)

	case "git":
		return gitInvocationIsReadOnly(command)

	case "sed":
		return sedIsPrintOnly(command)

	default:
		return false
	}
}

func base64HasNoOutputFlag(command []string) bool {
	for _, arg := range command[1:] {
		if arg == "-o" || arg == "--output" {
			return false
		}
		if strings.HasPrefix(arg, "--output=") {
			return false
		}
		if strings.HasPrefix(arg, "-o") && arg != "-o" {
			return false
		}
	}
	return true
}

func findHasNoMutatingFlag(command []string) bool {
	mutating := []string{
		"-exec", "-execdir", "-ok", "-okdir",
		"-delete",
		"-fls", "-fprint", "-fprint0", "-fprintf",
	}
	for _, arg := range command {
		for _, opt := range mutating {
			if arg == opt {
				return false
			}
		}
	}
	return true
}

func ripgrepHasNoUnsafeFlag(command []string) bool {
	unsafeWithArgs := []string{"--pre", "--hostname-bin"}
	unsafeNoArgs := []string{"--search-zip", "-z"}

	for _, arg := range command {
		for _, opt := range unsafeNoArgs {
			if arg == opt {
				return false
			}
		}
		for _, opt := range unsafeWithArgs {
			if arg == opt || strings.HasPrefix(arg, opt+"=") {
				return false
			}
		}
	}
	return true
}

func gitInvocationIsReadOnly(command []string) bool {
	// A global config override (`-c core.pager=...`) can make git shell
	// out to an arbitrary program, so it disqualifies the whole invocation.
	if gitHasConfigOverride(command) {
		return false
	}

	idx, subcommand, found := findGitSubcommand(command, []string{"status", "log", "diff", "show", "branch"})
	if !found {
		return false
	}

	subArgs := command[idx+1:]

	switch subcommand {
	case "status", "log", "diff", "show":
		return gitSubcommandArgsAreReadOnly(subArgs)
	case "branch":
		return gitSubcommandArgsAreReadOnly(subArgs) && gitBranchArgsAreReadOnly(subArgs)
	default:
		return false
	}
}

func gitBranchArgsAreReadOnly(branchArgs []string) bool {
	if len(branchArgs) == 0 {
		// A bare `git branch` just lists branches.
		return true
	}

	sawReadOnlyFlag := false
	for _, arg := range branchArgs {
		switch arg {
		case "--list", "-l", "--show-current", "-a", "--all", "-r", "--remotes",
			"-v", "-vv", "--verbose":
			sawReadOnlyFlag = true
		default:
			if strings.HasPrefix(arg, "--format=") {
				sawReadOnlyFlag = true
			} else {
				// Anything else (a branch name, a rename/delete flag, ...)
				// may mutate refs.
				return false
			}
		}
	}

	return sawReadOnlyFlag
}

func gitHasConfigOverride(command []string) bool {
	for _, arg := range command {
		if arg == "-c" || arg == "--config-env" {
			return true
		}
		if strings.HasPrefix(arg, "-c") && len(arg) > 2 {
			return true
		}
		if strings.HasPrefix(arg, "--config-env=") {
			return true
		}
	}
	return false
}

func gitSubcommandArgsAreReadOnly(args []string) bool {
	unsafeFlags := []string{"--output", "--ext-diff", "--textconv", "--exec", "--paginate"}
	for _, arg := range args {
		for _, flag := range unsafeFlags {
			if arg == flag {
				return false
			}
		}
		if strings.HasPrefix(arg, "--output=") || strings.HasPrefix(arg, "--exec=") {
			return false
		}
	}
	return true
}

// sedIsPrintOnly accepts only `sed -n {N|M,N}p [file]`, the one sed
// invocation shape that can't mutate anything.
func sedIsPrintOnly(command []string) bool {
	if len(command) > 4 || len(command) < 3 {
		return false
	}
	if command[1] != "-n" {
		return false
	}
	return isPrintRangeArg(command[2])
}

// isPrintRangeArg reports whether arg matches /^(\d+,)?\d+p$/.
func isPrintRangeArg(arg string) bool {
	if !strings.HasSuffix(arg, "p") {
		return false
	}
	core := arg[:len(arg)-1]
	parts := strings.Split(core, ",")
	switch len(parts) {
	case 1:
		return len(parts[0]) > 0 && allDigits(parts[0])
	case 2:
		return len(parts[0]) > 0 && len(parts[1]) > 0 && allDigits(parts[0]) && allDigits(parts[1])
	default:
		return false
	}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// findGitSubcommand finds the first git subcommand among subcommands,
// skipping global options. Shared between the read-only and dangerous
// classifiers.
func findGitSubcommand(command []string, subcommands []string) (idx int, name string, found bool) {
	if len(command) == 0 || filepath.Base(command[0]) != "git" {
		return 0, "", false
	}

	skipNext := false
	for i := 1; i < len(command); i++ {
		if skipNext {
			skipNext = false
			continue
		}

		arg := command[i]

		if gitGlobalOptionHasInlineValue(arg) {
			continue
		}
		if gitGlobalOptionTakesValue(arg) {
			skipNext = true
			continue
		}
		if arg == "--" || strings.HasPrefix(arg, "-") {
			continue
		}

		for _, sub := range subcommands {
			if arg == sub {
				return i, arg, true
			}
		}

		// The first non-option token is always git's subcommand; if it
		// isn't one we're looking for, later positional args (branch
		// names, paths, ...) must not be misread as subcommands.
		return 0, "", false
	}

	return 0, "", false
}

func gitGlobalOptionTakesValue(arg string) bool {
	switch arg {
	case "-C", "-c", "--config-env", "--exec-path", "--git-dir", "--namespace", "--super-prefix", "--work-tree":
		return true
	}
	return false
}

func gitGlobalOptionHasInlineValue(arg string) bool {
	if strings.HasPrefix(arg, "--config-env=") ||
		strings.HasPrefix(arg, "--exec-path=") ||
		strings.HasPrefix(arg, "--git-dir=") ||
		strings.HasPrefix(arg, "--namespace=") ||
		strings.HasPrefix(arg, "--super-prefix=") ||
		strings.HasPrefix(arg, "--work-tree=") {
		return true
	}
	// -C<value> / -c<value> with an inline value (length > 2).
	if (strings.HasPrefix(arg, "-C") || strings.HasPrefix(arg, "-c")) && len(arg) > 2 {
		return true
	}
	return false
}

