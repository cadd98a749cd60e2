package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/codex-web/agent-gateway/internal/gatewayerr"
)

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.controller.ListThreads(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	q := strings.ToLower(r.URL.Query().Get("q"))
	statusFilter := r.URL.Query().Get("status")
	archivedParam := r.URL.Query().Get("archived")

	var filtered []any
	for _, t := range threads {
		if q != "" && !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Preview), q) {
			continue
		}
		if statusFilter != "" && string(t.Status) != statusFilter {
			continue
		}
		if archivedParam != "" {
			wantArchived := archivedParam == "true"
			if t.Archived != wantArchived {
				continue
			}
		}
		filtered = append(filtered, t)
	}

	limit := parseLimit(r, 100)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{"threads": filtered})
}

func (s *Server) handleStartThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode         string `json:"mode"`
		FromThreadID string `json:"fromThreadId"`
		Model        string `json:"model"`
		Cwd          string `json:"cwd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, gatewayerr.NewClientError(400, "malformed request body"))
		return
	}

	th, err := s.controller.StartThread(r.Context(), body.Mode, body.FromThreadID, body.Model, body.Cwd)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	includeTurns := r.URL.Query().Get("includeTurns") == "true"

	result, err := s.controller.GetThread(r.Context(), threadID, includeTurns)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (s *Server) handleThreadContext(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	cwd, err := s.resolver.Resolve(r.Context(), threadID, "")
	if err != nil {
		writeGatewayError(w, gatewayerr.NewInternal("resolve context", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"threadId": threadID, "cwd": cwd})
}

func (s *Server) handleStartTurn(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	var body struct {
		Input             []TurnInputItem `json:"input"`
		Model             string          `json:"model"`
		Cwd               string          `json:"cwd"`
		Mode              string          `json:"mode"`
		CollaborationMode string          `json:"collaborationMode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, gatewayerr.NewClientError(400, "malformed request body"))
		return
	}

	turnID, warnings, err := s.controller.StartTurn(r.Context(), threadID, toDomainInput(body.Input), toOptions(body))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turnId": turnID, "warnings": warnings})
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	var body struct {
		Instructions string         `json:"instructions"`
		Target       map[string]any `json:"target"`
		Delivery     string         `json:"delivery"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, gatewayerr.NewClientError(400, "malformed request body"))
		return
	}

	err := s.controller.Review(r.Context(), threadID, reviewOptionsFrom(body.Instructions, body.Target, body.Delivery))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, gatewayerr.NewClientError(400, "malformed request body"))
		return
	}

	if err := s.controller.Control(r.Context(), threadID, body.Action); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// TurnInputItem mirrors turn.InputItem for the request body so this
// package doesn't need to export turn's JSON shape verbatim.
type TurnInputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}
