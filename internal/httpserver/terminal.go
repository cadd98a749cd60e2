package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codex-web/agent-gateway/internal/terminal"
)

// terminalClientMessage mirrors every client->server frame shape in §4.9's
// protocol table. Only the fields relevant to Type are populated per message.
type terminalClientMessage struct {
	Type     string `json:"type"`
	ThreadID string `json:"threadId"`
	Cwd      string `json:"cwd"`
	Data     string `json:"data"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
}

// terminalConn serializes writes to the websocket (gorilla's Conn forbids
// concurrent writers) since both the read loop and the per-session relay
// goroutine produce outbound frames.
type terminalConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *terminalConn) send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(v)
}

// handleTerminalWS upgrades the connection and implements the §4.9
// terminal/* protocol: a client binds to at most one PTY session at a
// time; terminal/open on a new thread detaches from any prior session.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer wsConn.Close()

	if origin := r.Header.Get("Origin"); origin != "" && !s.cfg.AllowsOrigin(origin) {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "origin not allowed")
		_ = wsConn.WriteMessage(websocket.CloseMessage, closeMsg)
		return
	}

	conn := &terminalConn{conn: wsConn}

	var (
		session     *terminal.Session
		clientID    int64
		relayCancel func()
	)

	detach := func() {
		if relayCancel != nil {
			relayCancel()
			relayCancel = nil
		}
		if session != nil {
			s.mux.Detach(session, clientID)
			session = nil
		}
	}
	defer detach()

	for {
		msgType, raw, readErr := wsConn.ReadMessage()
		if readErr != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			_ = conn.send(map[string]any{"type": "terminal/error", "message": "binary frames unsupported", "code": "TERMINAL_WS_BINARY_UNSUPPORTED"})
			continue
		}

		var msg terminalClientMessage
		if jsonErr := json.Unmarshal(raw, &msg); jsonErr != nil {
			_ = conn.send(map[string]any{"type": "terminal/error", "message": "malformed message"})
			continue
		}

		switch msg.Type {
		case "terminal/open":
			detach()
			sess, openErr := s.mux.Open(msg.ThreadID, msg.Cwd)
			if openErr != nil {
				_ = conn.send(map[string]any{"type": "terminal/error", "message": openErr.Error()})
				continue
			}
			session = sess
			var id int64
			var output <-chan terminal.OutputFrame
			var status <-chan terminal.StatusFrame
			var errs <-chan error
			id, output, status, errs = s.mux.Attach(sess)
			clientID = id

			stop := make(chan struct{})
			relayCancel = func() { close(stop) }
			go relayTerminalFrames(conn, output, status, errs, stop)

			_ = conn.send(map[string]any{"type": "terminal/ready", "sessionId": sess.ID, "threadId": sess.ThreadID})
			st := sess.Status()
			_ = conn.send(map[string]any{"type": "terminal/status", "connected": st.Connected, "cwd": st.Cwd, "pid": st.PID, "isFallback": st.IsFallback, "source": st.Source})

		case "terminal/input":
			if session == nil {
				continue
			}
			_ = session.Write([]byte(msg.Data))

		case "terminal/resize":
			if session == nil {
				continue
			}
			_ = session.Resize(msg.Cols, msg.Rows)

		case "terminal/setCwd":
			if session == nil {
				continue
			}
			if cwdErr := session.SetCwd(msg.Cwd); cwdErr != nil {
				_ = conn.send(map[string]any{"type": "terminal/error", "message": cwdErr.Error()})
			}

		case "terminal/close":
			detach()
			_ = conn.send(map[string]any{"type": "terminal/status", "connected": false})

		default:
			_ = conn.send(map[string]any{"type": "terminal/error", "message": "unknown message type: " + msg.Type})
		}
	}
}

// relayTerminalFrames forwards one session's output/status/error channels
// to the websocket until stop fires (a new terminal/open detached this
// relay) or the session's channels close (process exit).
func relayTerminalFrames(conn *terminalConn, output <-chan terminal.OutputFrame, status <-chan terminal.StatusFrame, errs <-chan error, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-output:
			if !ok {
				return
			}
			_ = conn.send(map[string]any{"type": "terminal/output", "data": string(frame.Data), "stream": "stdout"})
		case st, ok := <-status:
			if !ok {
				return
			}
			_ = conn.send(map[string]any{"type": "terminal/status", "connected": st.Connected, "cwd": st.Cwd, "pid": st.PID, "isFallback": st.IsFallback, "source": st.Source})
		case e, ok := <-errs:
			if !ok {
				return
			}
			_ = conn.send(map[string]any{"type": "terminal/error", "message": e.Error()})
		}
	}
}
