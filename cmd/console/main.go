// Package main is the entry point for the console server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/audit"
	"github.com/capitalize-ai/inbox-console/internal/backend"
	"github.com/capitalize-ai/inbox-console/internal/config"
	"github.com/capitalize-ai/inbox-console/internal/handler"
	"github.com/capitalize-ai/inbox-console/internal/middleware"
	natsclient "github.com/capitalize-ai/inbox-console/internal/nats"
	"github.com/capitalize-ai/inbox-console/internal/service"
	"github.com/capitalize-ai/inbox-console/internal/transport"
	"github.com/capitalize-ai/inbox-console/pkg/logger"
	"github.com/capitalize-ai/inbox-console/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to an optional config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	baseLog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer baseLog.Sync()
	logger.SetGlobal(baseLog)
	log := baseLog.WithSession(cfg.TenantID, cfg.DeviceSessionID)

	log.Info("starting console server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "inbox-console", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// NATS is optional; without it events are not persisted and replay is disabled.
	var (
		natsClient *natsclient.Client
		sink       service.EventSink
		replayer   handler.Replayer
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     "inbox-console-" + cfg.DeviceSessionID,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		sink = streamManager
		replayer = streamManager
	}

	// Audit log
	auditStore, err := audit.NewSQLiteStore(cfg.AuditDBPath)
	if err != nil {
		log.Fatal("failed to open audit database", zap.String("path", cfg.AuditDBPath), zap.Error(err))
	}
	defer auditStore.Close()

	// Credentials for the upstream backend and event stream
	token := cfg.AuthToken
	if token == "" {
		token, err = middleware.IssueToken(cfg.JWTSecret, "console:"+cfg.DeviceSessionID, "console", cfg.TenantID,
			[]string{middleware.ScopeRead, middleware.ScopeWrite}, cfg.JWTExpiration)
		if err != nil {
			log.Fatal("failed to issue backend token", zap.Error(err))
		}
	}

	backendClient := backend.NewClient(backend.Config{
		BaseURL:   cfg.BackendURL,
		SessionID: cfg.DeviceSessionID,
		Token:     token,
		Timeout:   cfg.BackendTimeout,
	})

	// Console controller
	console := service.NewController(service.Config{
		TenantID:           cfg.TenantID,
		SessionID:          cfg.DeviceSessionID,
		InboxSize:          cfg.InboxSize,
		HistoryLimit:       cfg.HistoryLimit,
		ActionTimeout:      cfg.ActionTimeout,
		RefetchOnReconnect: cfg.RefetchOnReconnect,
	}, backendClient, sink, auditStore, log)

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		if err := console.Run(ctx); err != nil {
			log.Error("console controller stopped", zap.Error(err))
		}
	}()

	if n, err := console.LoadSnapshot(ctx); err != nil {
		log.Warn("initial chat snapshot failed", zap.Error(err))
	} else {
		log.Info("loaded chat snapshot", zap.Int("chats", n))
	}

	// Event transport
	events := transport.NewClient(transport.Config{
		URL:        cfg.EventsURL,
		SessionID:  cfg.DeviceSessionID,
		Token:      token,
		BaseDelay:  cfg.ReconnectBaseDelay,
		MaxDelay:   cfg.ReconnectMaxDelay,
		MaxRetries: cfg.ReconnectMaxRetries,
	}, log)
	events.OnEvent(console.HandleFrame)
	events.OnStateChange(console.HandleConnectionState)

	transportErr := make(chan error, 1)
	go func() {
		transportErr <- events.Run(ctx)
	}()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(console.ConnectionState, natsClient, auditStore)
	chatHandler := handler.NewChatHandler(console, log)
	actionHandler := handler.NewActionHandler(console, log)
	streamHandler := handler.NewStreamHandler(console, replayer, cfg.TenantID, cfg.DeviceSessionID, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, cfg.TenantID))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeRead))

			r.Get("/connection", chatHandler.Connection)
			r.Get("/stream", streamHandler.Stream)
			r.Get("/messages", chatHandler.Messages)
			r.Get("/chats", chatHandler.List)
			r.Get("/chats/{id}", chatHandler.Get)
			r.Get("/chats/{id}/audit", chatHandler.Audit)
			r.Post("/chats/{id}/open", chatHandler.Open)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeWrite))

			r.Post("/chats/{id}/messages", actionHandler.Send)
			r.Post("/chats/{id}/takeover", actionHandler.Takeover)
			r.Post("/chats/{id}/release", actionHandler.Release)
			r.Post("/chats/{id}/handover", actionHandler.Handover)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal or a terminal transport failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-transportErr:
		if err != nil {
			log.Error("event stream stopped", zap.Error(err))
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	stop()
	<-controllerDone

	log.Info("server stopped")
}
