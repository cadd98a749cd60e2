// Command gateway starts the local coding-agent gateway: it spawns the
// worker subprocess, opens the projection store, and serves the REST/SSE/
// WebSocket surface described in spec.md §6.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codex-web/agent-gateway/internal/approval"
	"github.com/codex-web/agent-gateway/internal/bridge"
	"github.com/codex-web/agent-gateway/internal/config"
	"github.com/codex-web/agent-gateway/internal/contextresolver"
	"github.com/codex-web/agent-gateway/internal/eventbus"
	"github.com/codex-web/agent-gateway/internal/execpolicy"
	"github.com/codex-web/agent-gateway/internal/httpserver"
	"github.com/codex-web/agent-gateway/internal/interaction"
	"github.com/codex-web/agent-gateway/internal/store"
	"github.com/codex-web/agent-gateway/internal/terminal"
	"github.com/codex-web/agent-gateway/internal/turn"
	"github.com/codex-web/agent-gateway/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := os.MkdirAll(cfg.GatewayDataDir, 0o755); err != nil {
		log.Fatalf("create data dir %s: %v", cfg.GatewayDataDir, err)
	}

	dbPath := filepath.Join(cfg.GatewayDataDir, "gateway.db")
	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	clientInfo, _ := json.Marshal(map[string]string{
		"name":    version.Name,
		"version": version.GitCommit,
	})
	br := bridge.New(cfg.WorkerCommand, clientInfo)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := br.Start(startCtx); err != nil {
		log.Printf("worker bridge failed to start: %v (continuing degraded, see /health)", err)
	}
	cancelStart()

	bus := eventbus.New(st)
	resolver := contextresolver.New(cfg.CodexSessionsDir, os.Getenv("HOME"))

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go func() {
		if err := resolver.Watch(watchCtx); err != nil {
			log.Printf("context resolver watch: %v", err)
		}
	}()

	var execPol *execpolicy.ExecPolicyManager
	if cfg.ExecPolicyFile != "" {
		data, readErr := os.ReadFile(cfg.ExecPolicyFile)
		if readErr != nil {
			log.Printf("exec policy file %s: %v (auto-decision fast path disabled)", cfg.ExecPolicyFile, readErr)
		} else {
			execPol, err = execpolicy.LoadExecPolicyFromSource(string(data))
			if err != nil {
				log.Printf("parse exec policy file %s: %v (auto-decision fast path disabled)", cfg.ExecPolicyFile, err)
				execPol = nil
			}
		}
	}

	approvals := approval.New(st, bus, br, execPol)
	interacts := interaction.New(st, bus, br)

	reconcileCtx, cancelReconcile := context.WithTimeout(context.Background(), 10*time.Second)
	if err := approvals.ReconcileStartup(reconcileCtx); err != nil {
		log.Printf("reconcile pending approvals on startup: %v", err)
	}
	if err := interacts.ReconcileStartup(reconcileCtx); err != nil {
		log.Printf("reconcile pending interactions on startup: %v", err)
	}
	cancelReconcile()

	controller := turn.New(br, st, bus, resolver, approvals, interacts)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	termMetrics := terminal.NewMetrics(registry)
	termMux := terminal.NewMux(terminal.DefaultMaxSessions, terminal.DefaultTTL, termMetrics)

	evictCtx, cancelEvict := context.WithCancel(context.Background())
	defer cancelEvict()
	go termMux.StartEvictionLoop(evictCtx)

	srv := httpserver.NewServer(httpserver.Deps{
		CORS:        cfg,
		RPC:         br,
		Controller:  controller,
		Approvals:   approvals,
		Interacts:   interacts,
		Bus:         bus,
		Store:       st,
		Resolver:    resolver,
		Terminal:    termMux,
		SessionsDir: cfg.CodexSessionsDir,
		Registerer:  registry,
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.Router(),
	}

	go func() {
		log.Printf("gateway listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	cancelWatch()
	cancelEvict()
	termMux.CloseAll()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	br.Close()
	log.Printf("gateway stopped")
}
