// Package main is the entry point for the API server.
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

	"github.com/capitalize-ai/convoai/internal/config"
	"github.com/capitalize-ai/convoai/internal/handler"
	natsclient "github.com/capitalize-ai/convoai/internal/nats"
	"github.com/capitalize-ai/convoai/internal/service"
	"github.com/capitalize-ai/convoai/internal/session"
	"github.com/capitalize-ai/convoai/pkg/logger"
	"github.com/capitalize-ai/convoai/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "convoai", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     cfg.RTMClientID,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	transport := natsclient.NewTransport(natsClient, cfg.RTMSubjectPrefix, cfg.RTMClientID, log.Named("transport"))

	// Keep the interfaces nil when the archive is off.
	var (
		archiver     service.Archiver
		store        handler.TranscriptStore
		archiveCheck handler.ArchiveChecker
	)
	if cfg.ArchiveEnabled {
		archive := natsclient.NewArchive(natsClient, cfg.RTMSubjectPrefix, log.Named("archive"))
		if err := archive.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure transcript stream", zap.Error(err))
			os.Exit(1)
		}
		archiver, store, archiveCheck = archive, archive, archive
	}

	sessions := service.NewSessionService(transport, archiver, session.Config{
		RenderMode:     cfg.TranscriptRenderMode,
		RevealInterval: cfg.TranscriptRevealInterval,
		PublishTimeout: cfg.PublishTimeout,
		DebugEvents:    cfg.DebugEvents,
	}, log)

	r := handler.NewRouter(handler.RouterConfig{
		Sessions:       sessions,
		Archive:        store,
		Connection:     natsClient,
		ArchiveCheck:   archiveCheck,
		Logger:         log,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimitRequests,
		RateWindow:     cfg.RateLimitWindow,
		CommandLimit:   cfg.CommandRateLimit,
		EventBuffer:    cfg.EventBufferSize,
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
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Closing sessions first ends open event streams.
	sessions.CloseAll()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
