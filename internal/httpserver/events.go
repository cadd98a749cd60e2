package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/codex-web/agent-gateway/internal/gatewayerr"
)

const heartbeatInterval = 15 * time.Second

// handleEventStream serves the per-thread GatewayEvent feed over SSE
// (§6): replay from ?since=<seq> followed by live delivery, with an
// `event: heartbeat` record every 15s so idle proxies don't time the
// connection out.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	var sinceSeq int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		var v int64
		if _, err := fmt.Sscan(raw, &v); err == nil {
			sinceSeq = v
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeGatewayError(w, gatewayerr.NewInternal("streaming unsupported", nil))
		return
	}

	sub, err := s.bus.Subscribe(r.Context(), threadID, sinceSeq)
	if err != nil {
		writeGatewayError(w, gatewayerr.NewInternal("subscribe to event stream", err))
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"ts\":%d}\n\n", time.Now().UnixMilli())
			flusher.Flush()
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: gateway\ndata: %s\n\n", event.Seq, payload)
			flusher.Flush()
		}
	}
}
