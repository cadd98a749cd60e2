package execpolicy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadExecPolicy_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadExecPolicy(dir)
	require.NoError(t, err)

	d := m.EvaluateCommand([]string{"echo", "hi"}, "never")
	assert.Equal(t, DecisionAllow, d)
}

func TestLoadExecPolicy_NoRulesDir(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadExecPolicy(dir)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestLoadExecPolicy_WithRules(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))

	rules := `
prefix_rule(pattern=["echo"], decision="allow")
prefix_rule(pattern=["rm"], decision="forbidden")
`
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "default.rules"), []byte(rules), 0o644))

	m, err := LoadExecPolicy(dir)
	require.NoError(t, err)

	d := m.EvaluateCommand([]string{"echo", "hello"}, "on-request")
	assert.Equal(t, DecisionAllow, d)

	d = m.EvaluateCommand([]string{"rm", "-rf"}, "on-request")
	assert.Equal(t, DecisionForbidden, d)
}

func TestLoadExecPolicy_MultipleFiles(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))

	require.NoError(t, os.WriteFile(
		filepath.Join(rulesDir, "a.rules"),
		[]byte(`prefix_rule(pattern=["echo"], decision="allow")`),
		0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(rulesDir, "b.rules"),
		[]byte(`prefix_rule(pattern=["rm"], decision="forbidden")`),
		0o644,
	))

	m, err := LoadExecPolicy(dir)
	require.NoError(t, err)

	d := m.EvaluateCommand([]string{"echo"}, "on-request")
	assert.Equal(t, DecisionAllow, d)

	d = m.EvaluateCommand([]string{"rm"}, "on-request")
	assert.Equal(t, DecisionForbidden, d)
}

func TestLoadExecPolicyFromSource(t *testing.T) {
	source := `prefix_rule(pattern=["git", "push"], decision="prompt")`
	m, err := LoadExecPolicyFromSource(source)
	require.NoError(t, err)

	d := m.EvaluateCommand([]string{"git", "push"}, "never")
	assert.Equal(t, DecisionPrompt, d)
}

func TestLoadExecPolicyFromSource_Empty(t *testing.T) {
	m, err := LoadExecPolicyFromSource("")
	require.NoError(t, err)

	d := m.EvaluateCommand([]string{"anything"}, "never")
	assert.Equal(t, DecisionAllow, d)
}

func TestEvaluateCommand_OnRequest_SafeCommand(t *testing.T) {
	m := NewExecPolicyManager(NewPolicy())

	// "ls" is in the on-request fallback's readOnlyPrograms list
	d := m.EvaluateCommand([]string{"bash", "-c", "ls"}, "on-request")
	assert.Equal(t, DecisionAllow, d)
}

func TestEvaluateCommand_OnRequest_UnsafeCommand(t *testing.T) {
	m := NewExecPolicyManager(NewPolicy())

	// "curl" is not in the safe list
	d := m.EvaluateCommand([]string{"bash", "-c", "curl http://example.com"}, "on-request")
	assert.Equal(t, DecisionPrompt, d)
}

func TestEvaluateCommand_NeverMode(t *testing.T) {
	m := NewExecPolicyManager(NewPolicy())

	d := m.EvaluateCommand([]string{"bash", "-c", "rm -rf /"}, "never")
	assert.Equal(t, DecisionAllow, d)
}

func TestEvaluateCommand_AbsentMode(t *testing.T) {
	m := NewExecPolicyManager(NewPolicy())

	// No permission mode configured — defers to the normal approval flow.
	d := m.EvaluateCommand([]string{"bash", "-c", "curl http://example.com"}, "")
	assert.Equal(t, DecisionPrompt, d)
}

func TestEvaluateCommand_RuleOverridesFallback(t *testing.T) {
	p := NewPolicy()
	p.AddRule(&PrefixRule{
		Pattern:  PrefixPattern{{Kind: PatternSingle, Single: "rm"}},
		Decision: DecisionForbidden,
	})
	m := NewExecPolicyManager(p)

	// Even in "never" mode, explicit rule takes precedence
	d := m.EvaluateCommand([]string{"bash", "-c", "rm -rf /"}, "never")
	assert.Equal(t, DecisionForbidden, d)
}

func TestEvaluateShellCommand(t *testing.T) {
	p := NewPolicy()
	p.AddRule(&PrefixRule{
		Pattern:  PrefixPattern{{Kind: PatternSingle, Single: "echo"}},
		Decision: DecisionAllow,
	})
	m := NewExecPolicyManager(p)

	d := m.EvaluateShellCommand("echo hello", "on-request")
	assert.Equal(t, DecisionAllow, d)
}

func TestGetEvaluation(t *testing.T) {
	p := NewPolicy()
	p.AddRule(&PrefixRule{
		Pattern:       PrefixPattern{{Kind: PatternSingle, Single: "rm"}},
		Decision:      DecisionForbidden,
		Justification: "deleting files is dangerous",
	})
	m := NewExecPolicyManager(p)

	eval := m.GetEvaluation([]string{"bash", "-c", "rm -rf /"}, "on-request")
	assert.Equal(t, DecisionForbidden, eval.Decision)
	assert.Equal(t, "deleting files is dangerous", eval.Justification)
}

func TestAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))

	m, err := LoadExecPolicy(dir)
	require.NoError(t, err)

	// Initially no rules — unknown command uses fallback
	d := m.EvaluateCommand([]string{"my-tool"}, "on-request")
	assert.Equal(t, DecisionPrompt, d)

	require.NoError(t, m.AppendAndReload(dir, []string{"my-tool"}))

	// Now the rule matches
	d = m.EvaluateCommand([]string{"my-tool"}, "on-request")
	assert.Equal(t, DecisionAllow, d)
}
