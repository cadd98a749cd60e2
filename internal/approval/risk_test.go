package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- ClassifyCommand / commandLooksDangerous ---

func TestClassifyCommand_EmptyCommandIsCaution(t *testing.T) {
	assert.Equal(t, RiskCaution, ClassifyCommand(nil))
}

func TestCommandLooksDangerous_GitReset(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "reset"}))
	assert.Equal(t, RiskDangerous, ClassifyCommand([]string{"git", "reset"}))
}

func TestCommandLooksDangerous_BashGitReset(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"bash", "-lc", "git reset --hard"}))
}

func TestCommandLooksDangerous_ZshGitReset(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"zsh", "-lc", "git reset --hard"}))
}

func TestCommandLooksDangerous_GitStatusIsNot(t *testing.T) {
	assert.False(t, commandLooksDangerous([]string{"git", "status"}))
}

func TestCommandLooksDangerous_BashGitStatusIsNot(t *testing.T) {
	assert.False(t, commandLooksDangerous([]string{"bash", "-lc", "git status"}))
}

func TestCommandLooksDangerous_SudoGitReset(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"sudo", "git", "reset", "--hard"}))
}

func TestCommandLooksDangerous_AbsolutePathGit(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"/usr/bin/git", "reset", "--hard"}))
}

func TestCommandLooksDangerous_GitBranchDelete(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "branch", "-d", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"git", "branch", "-D", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"bash", "-lc", "git branch --delete feature"}))
}

func TestCommandLooksDangerous_GitBranchDeleteStackedShortFlags(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "branch", "-dv", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"git", "branch", "-vd", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"git", "branch", "-vD", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"git", "branch", "-Dvv", "feature"}))
}

func TestCommandLooksDangerous_GitBranchDeleteWithGlobalOptions(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "-C", ".", "branch", "-d", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"git", "-c", "color.ui=false", "branch", "-D", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"bash", "-lc", "git -C . branch -d feature"}))
}

func TestCommandLooksDangerous_GitCheckoutResetIsNot(t *testing.T) {
	// "checkout" is the subcommand, so the later positional arg "reset"
	// must not be mistaken for a dangerous subcommand.
	assert.False(t, commandLooksDangerous([]string{"git", "checkout", "reset"}))
}

func TestCommandLooksDangerous_GitPushForce(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "push", "--force", "origin", "main"}))
	assert.True(t, commandLooksDangerous([]string{"git", "push", "-f", "origin", "main"}))
	assert.True(t, commandLooksDangerous([]string{"git", "-C", ".", "push", "--force-with-lease", "origin", "main"}))
}

func TestCommandLooksDangerous_GitPushPlusRefspec(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "push", "origin", "+main"}))
	assert.True(t, commandLooksDangerous([]string{"git", "push", "origin", "+refs/heads/main:refs/heads/main"}))
}

func TestCommandLooksDangerous_GitPushDeleteFlag(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "push", "--delete", "origin", "feature"}))
	assert.True(t, commandLooksDangerous([]string{"git", "push", "-d", "origin", "feature"}))
}

func TestCommandLooksDangerous_GitPushDeleteRefspec(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "push", "origin", ":feature"}))
	assert.True(t, commandLooksDangerous([]string{"bash", "-lc", "git push origin :feature"}))
}

func TestCommandLooksDangerous_GitPushWithoutForceIsNot(t *testing.T) {
	assert.False(t, commandLooksDangerous([]string{"git", "push", "origin", "main"}))
}

func TestCommandLooksDangerous_GitCleanForceEvenWhenFNotFirstFlag(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"git", "clean", "-fdx"}))
	assert.True(t, commandLooksDangerous([]string{"git", "clean", "-xdf"}))
	assert.True(t, commandLooksDangerous([]string{"git", "clean", "--force"}))
}

func TestCommandLooksDangerous_RmRf(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"rm", "-rf", "/"}))
}

func TestCommandLooksDangerous_RmF(t *testing.T) {
	assert.True(t, commandLooksDangerous([]string{"rm", "-f", "/"}))
}

// --- commandIsReadOnly / isReadOnlyDirectInvocation ---

func TestIsReadOnlyDirectInvocation_KnownSafeExamples(t *testing.T) {
	assert.True(t, isReadOnlyDirectInvocation([]string{"ls"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"git", "status"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"git", "branch"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"git", "branch", "--show-current"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"base64"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"sed", "-n", "1,5p", "file.txt"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"nl", "-nrz", "Cargo.toml"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"find", ".", "-name", "file.txt"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"numfmt", "1000"}))
	assert.True(t, isReadOnlyDirectInvocation([]string{"tac", "Cargo.toml"}))
}

func TestCommandIsReadOnly_GitBranchMutatingFlagsAreNot(t *testing.T) {
	assert.False(t, commandIsReadOnly([]string{"git", "branch", "-d", "feature"}))
	assert.False(t, commandIsReadOnly([]string{"git", "branch", "new-branch"}))
}

func TestCommandIsReadOnly_GitBranchGlobalOptionsRespectRules(t *testing.T) {
	assert.True(t, commandIsReadOnly([]string{"git", "-C", ".", "branch", "--show-current"}))
	assert.False(t, commandIsReadOnly([]string{"git", "-C", ".", "branch", "-d", "feature"}))
	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "git -C . branch -d feature"}))
}

func TestCommandIsReadOnly_GitFirstPositionalIsTheSubcommand(t *testing.T) {
	assert.False(t, commandIsReadOnly([]string{"git", "checkout", "status"}))
}

func TestCommandIsReadOnly_GitOutputAndConfigOverrideFlagsAreNot(t *testing.T) {
	assert.False(t, commandIsReadOnly([]string{"git", "log", "--output=/tmp/git-log-out-test", "-n", "1"}))
	assert.False(t, commandIsReadOnly([]string{"git", "diff", "--output", "/tmp/git-diff-out-test"}))
	assert.False(t, commandIsReadOnly([]string{"git", "show", "--output=/tmp/git-show-out-test", "HEAD"}))
	assert.False(t, commandIsReadOnly([]string{"git", "-c", "core.pager=cat", "log", "-n", "1"}))
	assert.False(t, commandIsReadOnly([]string{"git", "-ccore.pager=cat", "status"}))
}

func TestCommandIsReadOnly_CargoCheckIsNot(t *testing.T) {
	assert.False(t, commandIsReadOnly([]string{"cargo", "check"}))
}

func TestCommandIsReadOnly_ZshLcSequence(t *testing.T) {
	assert.True(t, commandIsReadOnly([]string{"zsh", "-lc", "ls"}))
}

func TestIsReadOnlyDirectInvocation_UnknownOrPartial(t *testing.T) {
	assert.False(t, isReadOnlyDirectInvocation([]string{"foo"}))
	assert.False(t, isReadOnlyDirectInvocation([]string{"git", "fetch"}))
	assert.False(t, isReadOnlyDirectInvocation([]string{"sed", "-n", "xp", "file.txt"}))

	unsafeFindCommands := [][]string{
		{"find", ".", "-name", "file.txt", "-exec", "rm", "{}", ";"},
		{"find", ".", "-name", "*.py", "-execdir", "python3", "{}", ";"},
		{"find", ".", "-name", "file.txt", "-ok", "rm", "{}", ";"},
		{"find", ".", "-name", "*.py", "-okdir", "python3", "{}", ";"},
		{"find", ".", "-delete", "-name", "file.txt"},
		{"find", ".", "-fls", "/etc/passwd"},
		{"find", ".", "-fprint", "/etc/passwd"},
		{"find", ".", "-fprint0", "/etc/passwd"},
		{"find", ".", "-fprintf", "/root/suid.txt", "%#m %u %p\n"},
	}
	for _, args := range unsafeFindCommands {
		assert.False(t, isReadOnlyDirectInvocation(args), "expected %v to be unsafe", args)
	}
}

func TestIsReadOnlyDirectInvocation_Base64OutputOptionsAreUnsafe(t *testing.T) {
	unsafeCases := [][]string{
		{"base64", "-o", "out.bin"},
		{"base64", "--output", "out.bin"},
		{"base64", "--output=out.bin"},
		{"base64", "-ob64.txt"},
	}
	for _, args := range unsafeCases {
		assert.False(t, isReadOnlyDirectInvocation(args), "expected %v to be unsafe due to output option", args)
	}
}

func TestIsReadOnlyDirectInvocation_RipgrepRules(t *testing.T) {
	assert.True(t, isReadOnlyDirectInvocation([]string{"rg", "Cargo.toml", "-n"}))

	unsafeNoArg := [][]string{
		{"rg", "--search-zip", "files"},
		{"rg", "-z", "files"},
	}
	for _, args := range unsafeNoArg {
		assert.False(t, isReadOnlyDirectInvocation(args), "expected %v to be unsafe due to zip-search flag", args)
	}

	unsafeWithArg := [][]string{
		{"rg", "--pre", "pwned", "files"},
		{"rg", "--pre=pwned", "files"},
		{"rg", "--hostname-bin", "pwned", "files"},
		{"rg", "--hostname-bin=pwned", "files"},
	}
	for _, args := range unsafeWithArg {
		assert.False(t, isReadOnlyDirectInvocation(args), "expected %v to be unsafe due to external-command flag", args)
	}
}

func TestCommandIsReadOnly_BashLcSafeExamples(t *testing.T) {
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "ls"}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "ls -1"}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "git status"}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", `grep -R "Cargo.toml" -n`}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "sed -n 1,5p file.txt"}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "sed -n '1,5p' file.txt"}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "find . -name file.txt"}))
}

func TestCommandIsReadOnly_BashLcSafeExamplesWithOperators(t *testing.T) {
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", `grep -R "Cargo.toml" -n || true`}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "ls && pwd"}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "echo 'hi' ; ls"}))
	assert.True(t, commandIsReadOnly([]string{"bash", "-lc", "ls | wc -l"}))
}

func TestCommandIsReadOnly_BashLcUnsafeExamples(t *testing.T) {
	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "git", "status"}),
		"four-arg invocation is not known to be safe")
	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "'git status'"}),
		"the extra quoting makes this a program literally named 'git status'")

	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "find . -name file.txt -delete"}),
		"unsafe find option should not be auto-approved")

	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "ls && rm -rf /"}),
		"a sequence containing an unsafe command must be rejected")

	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "(ls)"}),
		"parentheses (subshell) are not provably safe with this scanner")
	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "ls || (pwd && echo hi)"}),
		"nested parentheses are not provably safe with this scanner")

	assert.False(t, commandIsReadOnly([]string{"bash", "-lc", "ls > out.txt"}),
		"> redirection should be rejected")
}
