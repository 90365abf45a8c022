package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/app"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/validator"
	ws "github.com/stemsi/exstem-client/internal/websocket"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.PortalPort).
		Str("api", cfg.APIBaseURL).
		Str("session_backend", cfg.SessionBackend).
		Str("mode", cfg.GinMode).
		Msg("Starting ExStem Portal")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Build Client Core ─────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize client")
	}
	defer a.Close()

	if sess, ok := a.Sessions.GetSession(); ok {
		log.Info().Str("user_id", sess.UserID).Str("role", string(sess.Role)).Msg("Restored saved session")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	hub := ws.NewHub(log)
	workerCtx, workerCancel := context.WithCancel(context.Background())

	unsubscribe, err := a.StartBackground(workerCtx, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start background workers")
	}
	defer unsubscribe()

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.PortalPort,
		Handler:           a.Handler(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Portal listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new requests. In-flight batches get the same window.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the session watch and the recheck poller.
	workerCancel()

	// The session stays in storage so the next start resumes it.
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
