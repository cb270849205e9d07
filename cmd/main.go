package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketgate/admission"
	"ticketgate/config"
	"ticketgate/health"
	"ticketgate/metrics"
	"ticketgate/queue"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// The gate agent drives one admission activation against the configured
// storefront backend and exposes its progress through metrics and the
// readiness probe. Popup handoff is a library concern of the embedding
// app; it has no place in a headless agent.
func main() {
	cfg := config.Load()
	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting ticketgate agent version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	if cfg.BackendBaseURL == "" {
		log.Fatal().Msg("missing backend base URL; set GATE_BACKEND_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := queue.NewTransport(cfg.BackendBaseURL, nil)
	strategy := &admission.StreamStrategy{
		HeartbeatGrace: cfg.HeartbeatGrace,
		MaxRetries:     uint64(cfg.StreamRetries),
		Fallback:       &admission.PollStrategy{Interval: cfg.PollInterval},
	}
	controller := admission.NewController(admission.WrapTransport(transport), strategy,
		admission.WithOnChange(func(s admission.Status) {
			log.Info().Stringer("state", s.State).Msg("admission state changed")
		}))

	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, func() bool {
		return controller.Status().State == admission.Ready
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	go func() {
		if err := controller.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("admission run ended in failure; waiting for operator")
			return
		}
		log.Info().Str("participantId", transport.ParticipantID()).Msg("admitted; purchase flow may proceed")
	}()

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Best-effort slot release; admitted sessions drop the entry token
	// instead.
	if controller.Status().State == admission.Ready {
		_ = transport.ReleaseEntry(shutdownCtx)
	} else {
		_ = transport.ReleaseReservation(shutdownCtx)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
