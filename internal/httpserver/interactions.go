package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/codex-web/agent-gateway/internal/gatewayerr"
	"github.com/codex-web/agent-gateway/internal/interaction"
)

func (s *Server) handleListPendingInteractions(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	pending, err := s.interacts.ListPending(r.Context(), threadID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": pending})
}

func (s *Server) handleRespondInteraction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	threadID, interactionID := vars["id"], vars["iid"]

	var body struct {
		Answers map[string]interaction.AnswerPayload `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, gatewayerr.NewClientError(400, "malformed request body"))
		return
	}

	if err := s.interacts.Respond(r.Context(), threadID, interactionID, body.Answers); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
