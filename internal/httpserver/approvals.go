package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/codex-web/agent-gateway/internal/domain"
	"github.com/codex-web/agent-gateway/internal/gatewayerr"
)

func (s *Server) handleListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	pending, err := s.approvals.ListPending(r.Context(), threadID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	threadID, approvalID := vars["id"], vars["aid"]

	var body struct {
		Decision string  `json:"decision"`
		Note     *string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, gatewayerr.NewClientError(400, "malformed request body"))
		return
	}

	if err := s.approvals.Decide(r.Context(), threadID, approvalID, domain.ApprovalDecision(body.Decision), body.Note); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
