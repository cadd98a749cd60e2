package execpolicy

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codex-web/agent-gateway/internal/shellscript"
)

// ExecPolicyManager loads and evaluates exec policy rules used as the
// optional auto-decision fast path for commandExecution approvals (see
// SPEC_FULL.md §12.2). A gateway with no policy file configured evaluates
// every command as DecisionPrompt, which is a no-op: the approval falls
// straight through to the ordinary pending flow.
type ExecPolicyManager struct {
	policy *Policy
	mu     sync.RWMutex
}

// NewExecPolicyManager creates a manager with a pre-built policy.
func NewExecPolicyManager(policy *Policy) *ExecPolicyManager {
	return &ExecPolicyManager{policy: policy}
}

// LoadExecPolicy reads all *.rules files from {dataDir}/rules/ and parses
// them into an ExecPolicyManager.
func LoadExecPolicy(dataDir string) (*ExecPolicyManager, error) {
	rulesDir := filepath.Join(dataDir, "rules")

	entries, err := os.ReadDir(rulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			// No rules directory — return empty policy
			return NewExecPolicyManager(NewPolicy()), nil
		}
		return nil, err
	}

	merged := NewPolicy()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rules") {
			continue
		}
		path := filepath.Join(rulesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		p, err := ParsePolicy(path, string(data))
		if err != nil {
			return nil, err
		}
		merged.Merge(p)
	}

	return NewExecPolicyManager(merged), nil
}

// LoadExecPolicyFromSource parses a raw rules source string into a manager.
func LoadExecPolicyFromSource(source string) (*ExecPolicyManager, error) {
	if source == "" {
		return NewExecPolicyManager(NewPolicy()), nil
	}

	p, err := ParsePolicy("inline-rules", source)
	if err != nil {
		return nil, err
	}
	return NewExecPolicyManager(p), nil
}

// EvaluateCommand evaluates a shell command against the policy and returns
// the raw Decision. approvalPolicy is one of the §4.8 permission-mode
// values ("never", "on-request", or "") and determines the heuristic
// fallback applied when no rule matches:
//   - "never":      Allow (the worker's sandbox policy already grants full access)
//   - "on-request":  isObviouslyReadOnly → Allow, else Prompt
//   - "" (absent):  Prompt (no opinion; defer to the normal approval flow)
func (m *ExecPolicyManager) EvaluateCommand(cmd []string, approvalPolicy string) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subCommands := shellscript.Split(cmd)
	if subCommands == nil {
		subCommands = [][]string{cmd}
	}

	fallback := m.heuristicFallback(approvalPolicy)
	eval := m.policy.CheckMultiple(subCommands, fallback)
	return eval.Decision
}

// EvaluateShellCommand is a convenience method that wraps a shell command
// string as ["bash", "-c", command] before evaluating.
func (m *ExecPolicyManager) EvaluateShellCommand(command, approvalPolicy string) Decision {
	return m.EvaluateCommand([]string{"bash", "-c", command}, approvalPolicy)
}

// GetEvaluation returns the full evaluation (including justification) for a command.
func (m *ExecPolicyManager) GetEvaluation(cmd []string, approvalPolicy string) Evaluation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subCommands := shellscript.Split(cmd)
	if subCommands == nil {
		subCommands = [][]string{cmd}
	}

	fallback := m.heuristicFallback(approvalPolicy)
	return m.policy.CheckMultiple(subCommands, fallback)
}

// AppendAndReload appends a prefix rule to the rules file and reloads the policy.
func (m *ExecPolicyManager) AppendAndReload(dataDir string, prefix []string) error {
	rulesFile := filepath.Join(dataDir, "rules", "default.rules")
	if err := AppendAllowPrefixRule(rulesFile, prefix); err != nil {
		return err
	}

	newManager, err := LoadExecPolicy(dataDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = newManager.policy
	return nil
}

// heuristicFallback returns the fallback function for the given approval policy.
func (m *ExecPolicyManager) heuristicFallback(approvalPolicy string) func([]string) Decision {
	switch approvalPolicy {
	case "never":
		return func(cmd []string) Decision {
			return DecisionAllow
		}
	case "on-request":
		return func(cmd []string) Decision {
			if isObviouslyReadOnly(cmd) {
				return DecisionAllow
			}
			return DecisionPrompt
		}
	default:
		return func(cmd []string) Decision {
			return DecisionPrompt
		}
	}
}
