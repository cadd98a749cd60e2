// Package contextresolver implements C4: mapping a threadId to its
// working directory by indexing the worker's on-disk session files. The
// session-log format is an opaque newline-delimited JSON stream — this
// package only extracts the two record shapes §4.4 names (session_meta,
// turn_context).
//
// The directory index is built by walking CODEX_SESSIONS_DIR; an optional
// fsnotify watch keeps it current by recording each created or written
// session file and dropping that thread's cached resolution.
package contextresolver

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/codex-web/agent-gateway/internal/gatewaylog"
)

// uuidPattern matches a UUID embedded anywhere in a filename, per §4.4
// ("extracting UUIDs from filenames matching *<uuid>.jsonl").
var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

type sessionMetaPayload struct {
	Cwd string `json:"cwd"`
}

type sessionLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Resolver maps threadId -> working directory, backed by a recursive
// index over a sessions directory.
type Resolver struct {
	sessionsDir string
	fallbackDir string
	log         *gatewaylog.Logger

	mu    sync.Mutex
	index map[string]string // threadId -> session file path
	cache map[string]string // threadId -> resolved cwd
	inFly map[string]chan struct{}

	watcher *fsnotify.Watcher
}

// New creates a Resolver rooted at sessionsDir, falling back to
// fallbackDir (the configured fallback, e.g. user home) per §4.4 step 4.
func New(sessionsDir, fallbackDir string) *Resolver {
	r := &Resolver{
		sessionsDir: sessionsDir,
		fallbackDir: fallbackDir,
		log:         gatewaylog.New("context"),
		index:       make(map[string]string),
		cache:       make(map[string]string),
		inFly:       make(map[string]chan struct{}),
	}
	r.reindex()
	return r
}

// Watch starts an fsnotify watch on sessionsDir (and the subdirectories
// present when it is called) that records any created or written session
// file in the index and invalidates that thread's cache entry. It returns
// once the watch is set up; the watch runs in the background until ctx is
// cancelled.
func (r *Resolver) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = w

	if err := r.addWatchesRecursive(w); err != nil {
		r.log.Printf("watch setup: %v", err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				r.handleFSEvent(ev)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Printf("watch error: %v", err)
			}
		}
	}()
	return nil
}

func (r *Resolver) addWatchesRecursive(w *fsnotify.Watcher) error {
	return filepath.WalkDir(r.sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = w.Add(path)
		}
		return nil
	})
}

func (r *Resolver) handleFSEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if !isSessionFile(ev.Name) {
		return
	}
	threadID := extractThreadID(ev.Name)
	if threadID == "" {
		return
	}
	r.mu.Lock()
	r.index[threadID] = ev.Name
	delete(r.cache, threadID)
	r.mu.Unlock()
}

func isSessionFile(name string) bool {
	return filepath.Ext(name) == ".jsonl" && uuidPattern.MatchString(filepath.Base(name))
}

func extractThreadID(name string) string {
	return uuidPattern.FindString(filepath.Base(name))
}

// reindex walks sessionsDir recursively and records, for each UUID found
// in a *.jsonl filename, the path of that session file (§4.4).
func (r *Resolver) reindex() {
	index := make(map[string]string)
	_ = filepath.WalkDir(r.sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !isSessionFile(path) {
			return nil
		}
		threadID := extractThreadID(path)
		if threadID == "" {
			return nil
		}
		index[threadID] = path
		return nil
	})
	r.mu.Lock()
	r.index = index
	r.mu.Unlock()
}

// Invalidate drops any cached resolution for threadID, forcing the next
// Resolve to re-scan the session file (§4.4: "invalidate on explicit
// signal, e.g. user opened a new cwd").
func (r *Resolver) Invalidate(threadID string) {
	r.mu.Lock()
	delete(r.cache, threadID)
	r.mu.Unlock()
}

// Resolve returns the working directory for threadID following the §4.4
// resolution order. knownProjectKey is the gateway's current projection
// of the thread's projectKey (may be domain.UnknownProjectKey). Concurrent
// calls for the same threadID coalesce into a single file scan.
func (r *Resolver) Resolve(ctx context.Context, threadID, knownProjectKey string) (string, error) {
	r.mu.Lock()
	if cwd, ok := r.cache[threadID]; ok {
		r.mu.Unlock()
		return cwd, nil
	}
	if wait, inFlight := r.inFly[threadID]; inFlight {
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		r.mu.Lock()
		cwd := r.cache[threadID]
		r.mu.Unlock()
		return cwd, nil
	}
	done := make(chan struct{})
	r.inFly[threadID] = done
	r.mu.Unlock()

	cwd := r.resolveUncached(threadID, knownProjectKey)

	r.mu.Lock()
	r.cache[threadID] = cwd
	delete(r.inFly, threadID)
	r.mu.Unlock()
	close(done)

	return cwd, nil
}

func (r *Resolver) resolveUncached(threadID, knownProjectKey string) string {
	r.mu.Lock()
	path, ok := r.index[threadID]
	r.mu.Unlock()
	if !ok {
		r.reindex()
		r.mu.Lock()
		path, ok = r.index[threadID]
		r.mu.Unlock()
	}

	if ok {
		if cwd := scanSessionFile(path); cwd != "" {
			return cwd
		}
	}

	if knownProjectKey != "" && knownProjectKey != "unknown" {
		return knownProjectKey
	}

	return r.fallbackDir
}

// scanSessionFile implements §4.4 steps 1-2: the first line's session_meta
// payload.cwd is authoritative; otherwise the last turn_context payload.cwd
// seen while scanning the whole file wins.
func scanSessionFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lastTurnContextCwd string
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec sessionLine
		if err := json.Unmarshal(line, &rec); err != nil {
			first = false
			continue
		}
		if first {
			first = false
			if rec.Type == "session_meta" {
				var p sessionMetaPayload
				if json.Unmarshal(rec.Payload, &p) == nil && p.Cwd != "" {
					return p.Cwd
				}
			}
		}
		if rec.Type == "turn_context" {
			var p sessionMetaPayload
			if json.Unmarshal(rec.Payload, &p) == nil && p.Cwd != "" {
				lastTurnContextCwd = p.Cwd
			}
		}
	}
	return lastTurnContextCwd
}
