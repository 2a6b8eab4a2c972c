// Package server orchestrates all components: NATS client, IPC node, system service, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/morezero/vault-ipc/internal/config"
	"github.com/morezero/vault-ipc/pkg/commsutil"
	"github.com/morezero/vault-ipc/pkg/events"
	"github.com/morezero/vault-ipc/pkg/ipc"
	"github.com/morezero/vault-ipc/pkg/metrics"
	"github.com/morezero/vault-ipc/pkg/peers"
	"github.com/morezero/vault-ipc/pkg/registry"
	"github.com/morezero/vault-ipc/pkg/transport"
)

const logPrefix = "server:server"

// Server is the vault-ipc node orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	node       *ipc.Node
	metrics    *metrics.Metrics
	httpServer *http.Server
	ready      atomic.Bool
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting vault-ipc as %s", logPrefix, cfg.Identity))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}

	// Step 2: Node, system service, ready
	s, err := New(ctx, cfg, nc)
	if err != nil {
		nc.Close()
		return err
	}

	// Step 3: Start HTTP health server
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - vault-ipc is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	err = multierr.Append(s.httpServer.Shutdown(shutdownCtx), s.Close())

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// SetupLogging installs a text slog handler on stdout at level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// New builds and starts the node over nc, registers the system service and
// signals it ready. The server owns nc from here on.
func New(ctx context.Context, cfg *config.Config, nc *comms.Conn) (*Server, error) {
	s := &Server{cfg: cfg, nc: nc}

	manifest, err := peers.LoadManifest(cfg.PeersFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load peers: %w", logPrefix, err)
	}
	directory := peers.NewDirectory(manifest)

	m, err := metrics.New(metrics.Opts{
		ConstLabels: prometheus.Labels{"identity": cfg.Identity},
		WithRuntime: true,
	})
	if err != nil {
		return nil, err
	}
	s.metrics = m

	nodeCfg := ipc.DefaultConfig()
	nodeCfg.Identity = cfg.Identity
	nodeCfg.AllowedOrigins = cfg.AllowedOrigins
	nodeCfg.CallTimeout = cfg.CallTimeout
	nodeCfg.ProtocolConstraint = cfg.ProtocolConstraint
	nodeCfg.ReadyMode = cfg.ReadyMode
	nodeCfg.ReadyTargets = cfg.ReadyTargets
	nodeCfg.Registry = registry.Config{RateLimitRPS: cfg.RateLimitRPS, RateLimitBurst: cfg.RateLimitBurst}

	var notifier events.ReadyNotifier
	switch cfg.ReadyMode {
	case events.ModeBroadcast:
		notifier = events.NewCommsNotifier(nc, nil)
	case events.ModeNone:
		notifier = &events.NoOpNotifier{}
	}

	node, err := ipc.NewNode(ipc.NewNodeParams{
		Bus:       transport.NewCommsBus(nc),
		Config:    nodeCfg,
		Directory: directory,
		Notifier:  notifier,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, err
	}
	s.node = node
	node.OnReady(func(identity string) {
		slog.Info(fmt.Sprintf("%s - Peer %s is ready", logPrefix, identity))
	})

	svc, err := RegisterSystemService(node)
	if err != nil {
		node.Close()
		return nil, err
	}
	if err := svc.Ready(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - ready notification failed: %v", logPrefix, err))
	}
	s.ready.Store(true)
	return s, nil
}

// Node returns the IPC node.
func (s *Server) Node() *ipc.Node {
	return s.node
}

// Handler returns the HTTP handler serving /, /services, /health, /ready and /metrics.
func (s *Server) Handler() http.Handler {
	healthTimeout := s.cfg.HealthCheckTimeout
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/services", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.node.Registry().Services())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		h := s.node.Health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Close stops the node and drains the NATS connection.
func (s *Server) Close() error {
	s.ready.Store(false)
	var err error
	if s.node != nil {
		err = multierr.Append(err, s.node.Close())
	}
	if s.nc != nil {
		err = multierr.Append(err, s.nc.Drain())
	}
	return err
}
