package httpserver

import (
	"errors"
	"net/http"

	"github.com/codex-web/agent-gateway/internal/gatewayerr"
	"github.com/codex-web/agent-gateway/internal/turn"
)

func toDomainInput(items []TurnInputItem) []turn.InputItem {
	out := make([]turn.InputItem, len(items))
	for i, it := range items {
		out[i] = turn.InputItem{Type: it.Type, Text: it.Text, Name: it.Name, Path: it.Path}
	}
	return out
}

func toOptions(body struct {
	Input             []TurnInputItem `json:"input"`
	Model             string          `json:"model"`
	Cwd               string          `json:"cwd"`
	Mode              string          `json:"mode"`
	CollaborationMode string          `json:"collaborationMode"`
}) turn.TurnStartOptions {
	return turn.TurnStartOptions{Model: body.Model, Cwd: body.Cwd, Mode: body.Mode, CollaborationMode: body.CollaborationMode}
}

func reviewOptionsFrom(instructions string, target map[string]any, delivery string) turn.ReviewOptions {
	return turn.ReviewOptions{Instructions: instructions, Target: target, Delivery: delivery}
}

// writeGatewayError maps a *gatewayerr.GatewayError to its HTTP status; any
// other error (should not normally happen — every branch in §7 produces a
// typed GatewayError) becomes a 500 so nothing ever leaks a raw Go error
// string as a 200.
func writeGatewayError(w http.ResponseWriter, err error) {
	var gwErr *gatewayerr.GatewayError
	if errors.As(err, &gwErr) {
		writeJSON(w, gwErr.HTTPStatus, map[string]string{"error": gwErr.Message, "kind": gwErr.Kind.String()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
