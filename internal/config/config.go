// Package config loads the gateway's typed configuration. Env-variable
// parsing itself is out of scope per spec.md §1 (an external collaborator
// owns deriving these values), but the gateway still needs a place to hold
// them once parsed: this mirrors the Generativebots-ocx-backend-go-svc
// example's bootstrap, which loads an optional .env with
// github.com/joho/godotenv before reading os.Getenv.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the gateway reads (§6).
type Config struct {
	Host             string
	Port             int
	WebOrigin        string
	CORSAllowlist    []string
	LogLevel         string
	GatewayDataDir   string
	CodexSessionsDir string
	ExecPolicyFile   string
	// WorkerCommand is the argv used to spawn the worker subprocess (§4.1).
	// Not named in spec.md §6's env list (the worker binary is an external
	// collaborator, §1), but the gateway process still has to know what to
	// exec; GATEWAY_WORKER_COMMAND carries it, space-separated.
	WorkerCommand []string
}

// Load reads an optional .env file (if present) and then the process
// environment, applying defaults for anything unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Host:             getenv("HOST", "127.0.0.1"),
		Port:             getenvInt("PORT", 3333),
		WebOrigin:        getenv("WEB_ORIGIN", "http://localhost:3000"),
		CORSAllowlist:    splitCSV(os.Getenv("CORS_ALLOWLIST")),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		GatewayDataDir:   getenv("GATEWAY_DATA_DIR", defaultDataDir()),
		CodexSessionsDir: getenv("CODEX_SESSIONS_DIR", defaultSessionsDir()),
		ExecPolicyFile:   os.Getenv("GATEWAY_EXEC_POLICY_FILE"),
		WorkerCommand:    splitWorkerCommand(getenv("GATEWAY_WORKER_COMMAND", "codex app-server")),
	}
	return cfg, nil
}

func splitWorkerCommand(v string) []string {
	return strings.Fields(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codex-web"
	}
	return home + "/.codex-web"
}

func defaultSessionsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codex/sessions"
	}
	return home + "/.codex/sessions"
}

// AllowsOrigin reports whether origin is permitted by the CORS allowlist,
// or matches WebOrigin when the allowlist is empty.
func (c Config) AllowsOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if len(c.CORSAllowlist) == 0 {
		return origin == c.WebOrigin
	}
	for _, allowed := range c.CORSAllowlist {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
