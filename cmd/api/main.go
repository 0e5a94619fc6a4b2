// Package main is the entry point for the chat gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/finchat/assistant/internal/config"
	"github.com/finchat/assistant/internal/finance"
	"github.com/finchat/assistant/internal/handler"
	"github.com/finchat/assistant/internal/hub"
	"github.com/finchat/assistant/internal/llm"
	natsclient "github.com/finchat/assistant/internal/nats"
	"github.com/finchat/assistant/internal/service"
	"github.com/finchat/assistant/internal/tools"
	"github.com/finchat/assistant/pkg/logger"
	"github.com/finchat/assistant/pkg/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.Environment == "development" {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting chat gateway",
		zap.String("version", version),
		zap.String("model_backend", cfg.ModelBackend),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "finchat-gateway", version, cfg.TracingEndpoint, cfg.TracingInsecure)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Tools
	provider := finance.NewMockProvider()
	if cfg.FinanceDataFile != "" {
		provider, err = finance.LoadProvider(cfg.FinanceDataFile)
		if err != nil {
			log.Fatal("failed to load finance data", zap.String("path", cfg.FinanceDataFile), zap.Error(err))
		}
	}
	registry := tools.NewRegistry()
	if err := finance.Register(registry, finance.NewService(provider)); err != nil {
		log.Fatal("failed to register tools", zap.Error(err))
	}
	registry.Freeze()

	// Model gateway
	llmClient, err := llm.NewClient(cfg.LLMConfig())
	if err != nil {
		log.Fatal("failed to create model client", zap.Error(err))
	}

	// Optional NATS relay
	var (
		natsClient *natsclient.Client
		hubOpts    []hub.Option
		readiness  handler.ReadinessChecker
	)
	if cfg.RelayEnabled() {
		natsClient, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		hubOpts = append(hubOpts, hub.WithObserver(natsclient.NewEventRelay(natsClient.Conn(), cfg.NATSSubjectPrefix, log)))
		readiness = natsClient
	}

	// Services
	history := service.NewHistoryStore(cfg.HistoryLimit, service.WithMaxSessions(cfg.HistoryMaxSessions))
	orchestrator := service.NewOrchestrator(llmClient, registry, history, service.Options{
		SystemPrompt:      cfg.SystemPrompt,
		MaxToolIterations: cfg.MaxToolIterations,
		ModelTimeout:      cfg.ModelTimeout,
	}, log)
	chatHub := hub.New(log, hubOpts...)
	chatSvc := service.NewChatService(orchestrator, chatHub, log)

	// Handlers
	realtimeHandler := handler.NewRealtimeHandler(chatHub, chatSvc, history, handler.RealtimeOptions{
		TurnTimeout:    cfg.ModelTimeout * time.Duration(cfg.MaxToolIterations+1),
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, log)
	handlers := routes{
		health:   handler.NewHealthHandler(version, readiness),
		chat:     handler.NewChatHandler(orchestrator, log),
		realtime: realtimeHandler,
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(cfg, handlers, log),
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

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := realtimeHandler.Wait(shutdownCtx); err != nil {
		log.Warn("abandoning in-flight realtime turns", zap.Error(err))
	}
	chatHub.Close()

	log.Info("server stopped")
}
