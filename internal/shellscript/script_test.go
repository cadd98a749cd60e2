package shellscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitBash(script string) [][]string {
	return Split([]string{"bash", "-lc", script})
}

func TestAcceptsSingleSimpleCommand(t *testing.T) {
	cmds := splitBash("ls -1")
	require.NotNil(t, cmds)
	assert.Equal(t, [][]string{{"ls", "-1"}}, cmds)
}

func TestAcceptsMultipleCommandsWithAllowedOperators(t *testing.T) {
	cmds := splitBash("ls && pwd; echo 'hi there' | wc -l")
	require.NotNil(t, cmds)
	expected := [][]string{
		{"ls"},
		{"pwd"},
		{"echo", "hi there"},
		{"wc", "-l"},
	}
	assert.Equal(t, expected, cmds)
}

func TestExtractsDoubleAndSingleQuotedStrings(t *testing.T) {
	cmds := splitBash(`echo "hello world"`)
	require.NotNil(t, cmds)
	assert.Equal(t, [][]string{{"echo", "hello world"}}, cmds)

	cmds2 := splitBash("echo 'hi there'")
	require.NotNil(t, cmds2)
	assert.Equal(t, [][]string{{"echo", "hi there"}}, cmds2)
}

func TestAcceptsDoubleQuotedStringsWithNewlines(t *testing.T) {
	cmds := splitBash("git commit -m \"line1\nline2\"")
	require.NotNil(t, cmds)
	assert.Equal(t, [][]string{{"git", "commit", "-m", "line1\nline2"}}, cmds)
}

func TestAcceptsMixedQuoteConcatenation(t *testing.T) {
	cmds := splitBash(`echo "/usr"'/'"local"/bin`)
	require.NotNil(t, cmds)
	assert.Equal(t, [][]string{{"echo", "/usr/local/bin"}}, cmds)

	cmds2 := splitBash(`echo '/usr'"/"'local'/bin`)
	require.NotNil(t, cmds2)
	assert.Equal(t, [][]string{{"echo", "/usr/local/bin"}}, cmds2)
}

func TestRejectsDoubleQuotedStringsWithExpansions(t *testing.T) {
	assert.Nil(t, splitBash(`echo "hi ${USER}"`))
	assert.Nil(t, splitBash(`echo "$HOME"`))
}

func TestAcceptsNumbersAsWords(t *testing.T) {
	cmds := splitBash("echo 123 456")
	require.NotNil(t, cmds)
	assert.Equal(t, [][]string{{"echo", "123", "456"}}, cmds)
}

func TestRejectsParenthesesAndSubshells(t *testing.T) {
	assert.Nil(t, splitBash("(ls)"))
	assert.Nil(t, splitBash("ls || (pwd && echo hi)"))
}

func TestRejectsRedirectionsAndUnsupportedOperators(t *testing.T) {
	assert.Nil(t, splitBash("ls > out.txt"))
	assert.Nil(t, splitBash("echo hi & echo bye"))
}

func TestRejectsCommandAndProcessSubstitutionsAndExpansions(t *testing.T) {
	assert.Nil(t, splitBash("echo $(pwd)"))
	assert.Nil(t, splitBash("echo `pwd`"))
	assert.Nil(t, splitBash("echo $HOME"))
	assert.Nil(t, splitBash(`echo "hi $USER"`))
}

func TestRejectsVariableAssignmentPrefix(t *testing.T) {
	assert.Nil(t, splitBash("FOO=bar ls"))
}

func TestRejectsTrailingOperatorParseError(t *testing.T) {
	assert.Nil(t, splitBash("ls &&"))
}

func TestSplitZsh(t *testing.T) {
	parsed := Split([]string{"zsh", "-lc", "ls"})
	require.NotNil(t, parsed)
	assert.Equal(t, [][]string{{"ls"}}, parsed)
}

func TestSplitSh(t *testing.T) {
	parsed := Split([]string{"sh", "-c", "pwd"})
	require.NotNil(t, parsed)
	assert.Equal(t, [][]string{{"pwd"}}, parsed)
}

func TestSplitRejectsNonShellLcShape(t *testing.T) {
	assert.Nil(t, Split([]string{"git", "status"}))
	assert.Nil(t, Split([]string{"bash", "-lc", "ls", "extra"}))
}

func TestAcceptsConcatenatedFlagAndValue(t *testing.T) {
	cmds := splitBash(`rg -n "foo" -g"*.py"`)
	require.NotNil(t, cmds)
	assert.Equal(t, [][]string{{"rg", "-n", "foo", "-g*.py"}}, cmds)
}

func TestAcceptsConcatenatedFlagWithSingleQuotes(t *testing.T) {
	cmds := splitBash("grep -n 'pattern' -g'*.txt'")
	require.NotNil(t, cmds)
	assert.Equal(t, [][]string{{"grep", "-n", "pattern", "-g*.txt"}}, cmds)
}

func TestRejectsConcatenationWithVariableSubstitution(t *testing.T) {
	assert.Nil(t, splitBash(`rg -g"$VAR" pattern`))
	assert.Nil(t, splitBash(`rg -g"${VAR}" pattern`))
}

func TestRejectsConcatenationWithCommandSubstitution(t *testing.T) {
	assert.Nil(t, splitBash(`rg -g"$(pwd)" pattern`))
	assert.Nil(t, splitBash(`rg -g"$(echo '*.py')" pattern`))
}
