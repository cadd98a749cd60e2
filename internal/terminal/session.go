// Package terminal implements C9 TerminalMux: one PTY per thread shared by
// any number of WebSocket clients. The process wrapper (creack/pty) follows
// the usual spawn/read-loop/waitForExit shape, reshaped for live
// multi-client fan-out instead of poll-then-collect request/response.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/codex-web/agent-gateway/internal/gatewaylog"
)

const (
	defaultCols = 120
	defaultRows = 32
	minCols     = 2
	maxCols     = 400
	minRows     = 1
	maxRows     = 200
)

// ErrClosed is returned by writes/resizes against a session whose process
// has already exited.
var ErrClosed = errors.New("terminal session closed")

// OutputFrame is one chunk broadcast to a session's clients.
type OutputFrame struct {
	Data []byte
}

// StatusFrame mirrors the terminal/status server message.
type StatusFrame struct {
	Connected  bool
	Cwd        string
	PID        int
	IsFallback bool
	Source     string
}

// client is one subscriber attached to a Session.
type client struct {
	id     int64
	output chan OutputFrame
	status chan StatusFrame
	errs   chan error
}

// Session is one PTY shared by any number of WS clients (§4.9 "Session model").
type Session struct {
	ID       string
	ThreadID string

	mu              sync.Mutex
	cmd             *exec.Cmd
	ptyFile         *os.File
	cwd             string
	source          string
	isFallback      bool
	createdAt       time.Time
	lastActivityAt  time.Time
	clients         map[int64]*client
	nextClientID    int64
	exited          bool
	exitCode        *int

	log *gatewaylog.Logger
}

// shellCandidates returns the §4.9 shell-selection fallback chain.
func shellCandidates() []string {
	var chain []string
	if sh := os.Getenv("SHELL"); sh != "" {
		if info, err := os.Stat(sh); err == nil && !info.IsDir() {
			chain = append(chain, sh)
		}
	}
	chain = append(chain, platformDefaultShell()...)
	chain = append(chain, "/bin/bash", "/bin/sh")
	return dedupeStrings(chain)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// platformDefaultShell names the platform-preferred shell before the
// bash/sh fallback, per §4.9 ("platform default, e.g. /bin/zsh on macOS").
func platformDefaultShell() []string {
	if _, err := os.Stat("/bin/zsh"); err == nil {
		return []string{"/bin/zsh"}
	}
	return nil
}

// selectShell walks shellCandidates and returns the first that exists,
// plus whether a real shell was found at all (isFallback=false) or every
// candidate was missing and /bin/sh is used as a last resort regardless
// of its existence (isFallback=true).
func selectShell() (path string, isFallback bool) {
	for _, c := range shellCandidates() {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, false
		}
	}
	return "/bin/sh", true
}

// NewSession spawns the thread's shell in a PTY at the given cwd.
func NewSession(id, threadID, cwd string) (*Session, error) {
	shellPath, isFallback := selectShell()

	cmd := exec.Command(shellPath)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = append(append([]string{}, os.Environ()...), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: defaultRows, Cols: defaultCols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:             id,
		ThreadID:       threadID,
		cmd:            cmd,
		ptyFile:        ptmx,
		cwd:            cwd,
		source:         shellPath,
		isFallback:     isFallback,
		createdAt:      now,
		lastActivityAt: now,
		clients:        make(map[int64]*client),
		log:            gatewaylog.New("terminal"),
	}

	go s.readLoop()
	go s.waitForExit()
	return s, nil
}

func (s *Session) readLoop() {
	buf := make([]byte, 8192)
	for {
		n, err := s.ptyFile.Read(buf)
		if n > 0 {
			frame := append([]byte(nil), buf[:n]...)
			s.broadcastOutput(frame)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitForExit() {
	err := s.cmd.Wait()
	code := -1
	if err == nil {
		code = 0
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	s.mu.Lock()
	s.exited = true
	s.exitCode = &code
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		select {
		case c.errs <- fmt.Errorf("process exited with code %d", code):
		default:
		}
		select {
		case c.status <- StatusFrame{Connected: false}:
		default:
		}
	}
}

func (s *Session) broadcastOutput(data []byte) {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		select {
		case c.output <- OutputFrame{Data: data}:
		default:
			// slow client drops its own frame rather than blocking the PTY reader
		}
	}
}

// Attach registers a new client and returns its id plus the channels it
// should read from.
func (s *Session) attach() *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextClientID++
	c := &client{
		id:     s.nextClientID,
		output: make(chan OutputFrame, 64),
		status: make(chan StatusFrame, 4),
		errs:   make(chan error, 4),
	}
	s.clients[c.id] = c
	return c
}

func (s *Session) detach(clientID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	s.lastActivityAt = time.Now()
}

// ClientCount reports how many WS clients are currently attached.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Status returns the current terminal/status payload.
func (s *Session) Status() StatusFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid := 0
	if s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	return StatusFrame{
		Connected:  !s.exited,
		Cwd:        s.cwd,
		PID:        pid,
		IsFallback: s.isFallback,
		Source:     s.source,
	}
}

// Write sends client input to the PTY.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited {
		return ErrClosed
	}
	_, err := s.ptyFile.Write(data)
	return err
}

// Resize applies a bounds-clamped resize (§4.9: cols∈[2,400], rows∈[1,200]).
func (s *Session) Resize(cols, rows int) error {
	cols = clamp(cols, minCols, maxCols)
	rows = clamp(rows, minRows, maxRows)
	return pty.Setsize(s.ptyFile, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetCwd writes a `cd` command to the PTY and marks the session as no
// longer a shell-selection fallback (§4.9 "setCwd ... marks isFallback=false").
func (s *Session) SetCwd(cwd string) error {
	if cwd == "" {
		return errors.New("cwd must not be empty")
	}
	escaped := strings.ReplaceAll(cwd, "'", `'\''`)
	if err := s.Write([]byte(fmt.Sprintf("cd '%s'\n", escaped))); err != nil {
		return err
	}
	s.mu.Lock()
	s.cwd = cwd
	s.isFallback = false
	s.mu.Unlock()
	return nil
}

// LastActivityAt reports the last time output was produced or a client
// was (dis)connected, used by the eviction timer's TTL check.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) > 0 {
		return time.Now()
	}
	return s.lastActivityAt
}

// Close kills the underlying process and its PTY file.
func (s *Session) Close() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.ptyFile != nil {
		_ = s.ptyFile.Close()
	}
}
