package httpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/codex-web/agent-gateway/internal/timeline"
)

// handleListModels proxies a single model/list request and dedupes the
// returned models by id; models without an id are dropped, and no
// further pages are requested.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	includeHidden := r.URL.Query().Get("includeHidden") == "true"
	result, err := s.rpc.Request(r.Context(), "model/list", map[string]any{"includeHidden": includeHidden})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"models": []any{}, "error": err.Error()})
		return
	}

	var parsed struct {
		Models []json.RawMessage `json:"models"`
	}
	if jsonErr := json.Unmarshal(result, &parsed); jsonErr != nil {
		writeJSON(w, http.StatusOK, map[string]any{"models": []any{}, "error": "malformed model/list response"})
		return
	}

	seen := make(map[string]bool, len(parsed.Models))
	var deduped []json.RawMessage
	for _, m := range parsed.Models {
		var withID struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(m, &withID)
		if withID.ID == "" || seen[withID.ID] {
			continue
		}
		seen[withID.ID] = true
		deduped = append(deduped, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": deduped})
}

// handleRateLimits proxies account/rateLimits/read, always answering 200
// (falling back to an error body on worker failure per §6).
func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	result, err := s.rpc.Request(r.Context(), "account/rateLimits/read", map[string]any{})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

// handleThreadTimeline parses the thread's session file into TimelineItems
// (§4.5). The session file is found by locateSessionFile, which walks
// the sessions directory itself rather than consulting the
// ContextResolver's index.
func (s *Server) handleThreadTimeline(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	limit := parseLimit(r, 200)

	path := s.locateSessionFile(threadID)
	if path == "" {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}

	lines, err := readLines(path)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}

	items := timeline.Parse(lines, threadID, limit)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// locateSessionFile walks s.sessionsDir for the *<threadID>.jsonl file,
// mirroring the ContextResolver's own filename convention (§4.4).
func (s *Server) locateSessionFile(threadID string) string {
	if s.sessionsDir == "" {
		return ""
	}
	var found string
	_ = filepath.WalkDir(s.sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return nil
		}
		if strings.HasSuffix(d.Name(), threadID+".jsonl") {
			found = path
		}
		return nil
	})
	return found
}

func readLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
