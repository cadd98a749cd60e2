package contextresolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSessionFile(t *testing.T, dir, threadID string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "rollout-"+threadID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestResolveFromSessionMeta(t *testing.T) {
	dir := t.TempDir()
	threadID := "11111111-1111-1111-1111-111111111111"
	writeSessionFile(t, dir, threadID, []string{
		`{"type":"session_meta","payload":{"cwd":"/home/user/proj"}}`,
		`{"type":"turn_context","payload":{"cwd":"/home/user/other"}}`,
	})

	r := New(dir, "/fallback")
	cwd, err := r.Resolve(context.Background(), threadID, "unknown")
	require.NoError(t, err)
	require.Equal(t, "/home/user/proj", cwd)
}

func TestResolveFallsBackToLastTurnContext(t *testing.T) {
	dir := t.TempDir()
	threadID := "22222222-2222-2222-2222-222222222222"
	writeSessionFile(t, dir, threadID, []string{
		`{"type":"event_msg","payload":{}}`,
		`{"type":"turn_context","payload":{"cwd":"/a"}}`,
		`{"type":"turn_context","payload":{"cwd":"/b"}}`,
	})

	r := New(dir, "/fallback")
	cwd, err := r.Resolve(context.Background(), threadID, "unknown")
	require.NoError(t, err)
	require.Equal(t, "/b", cwd)
}

func TestResolveFallsBackToProjectKeyThenHome(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, "/fallback")

	cwd, err := r.Resolve(context.Background(), "missing-thread", "/known/project")
	require.NoError(t, err)
	require.Equal(t, "/known/project", cwd)

	cwd, err = r.Resolve(context.Background(), "still-missing", "unknown")
	require.NoError(t, err)
	require.Equal(t, "/fallback", cwd)
}

func TestResolveCoalescesConcurrentLookups(t *testing.T) {
	dir := t.TempDir()
	threadID := "33333333-3333-3333-3333-333333333333"
	writeSessionFile(t, dir, threadID, []string{
		`{"type":"session_meta","payload":{"cwd":"/concurrent"}}`,
	})
	r := New(dir, "/fallback")

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cwd, err := r.Resolve(context.Background(), threadID, "unknown")
			require.NoError(t, err)
			results[i] = cwd
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, "/concurrent", got)
	}
}

func TestInvalidateForcesRescan(t *testing.T) {
	dir := t.TempDir()
	threadID := "44444444-4444-4444-4444-444444444444"
	path := writeSessionFile(t, dir, threadID, []string{
		`{"type":"session_meta","payload":{"cwd":"/first"}}`,
	})

	r := New(dir, "/fallback")
	cwd, err := r.Resolve(context.Background(), threadID, "unknown")
	require.NoError(t, err)
	require.Equal(t, "/first", cwd)

	require.NoError(t, os.WriteFile(path, []byte(`{"type":"session_meta","payload":{"cwd":"/second"}}`+"\n"), 0o644))
	r.Invalidate(threadID)

	cwd, err = r.Resolve(context.Background(), threadID, "unknown")
	require.NoError(t, err)
	require.Equal(t, "/second", cwd)
}
