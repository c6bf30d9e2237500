package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/doc-collab-engine/internal/auth"
	"github.com/example/doc-collab-engine/internal/collab"
	"github.com/example/doc-collab-engine/internal/config"
	"github.com/example/doc-collab-engine/internal/observability"
	"github.com/example/doc-collab-engine/internal/patch"
	"github.com/example/doc-collab-engine/internal/room"
	"github.com/example/doc-collab-engine/internal/saver"
	"github.com/example/doc-collab-engine/internal/store"
	"github.com/example/doc-collab-engine/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	st := store.New(resources.Postgres)
	identity := auth.NewJWTResolver(cfg.JWTSecret, st, auth.NewRedisRevocations(resources.Redis))
	access := auth.NewCollaboratorAccess(st)
	codec := patch.NewDiffMatchPatch()
	registry := room.NewRegistry()

	var archiver *saver.Archiver
	if resources.Object != nil {
		archiver = saver.NewArchiver(resources.Object, cfg.ObjectBucket)
	}
	scheduler := saver.NewScheduler(st, registry, cfg.SaveDebounce, archiver, logger)
	scheduler.Start(ctx)

	service := collab.NewService(registry, st, identity, access, codec, scheduler, logger, collab.Config{
		MaxRoomSessions: cfg.MaxRoomSessions,
	})
	gateway := ws.NewGateway(service.Hooks(), logger, ws.GatewayConfig{})

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.HandleFunc("/auth/revoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusBadRequest)
			return
		}
		if err := identity.Revoke(r.Context(), token); err != nil {
			logger.Error().Err(err).Msg("token revocation failed")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := resources.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	logger.Info().Msg("server dependencies initialized")

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckProbe)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := resources.HealthCheck(context.Background()); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				} else {
					logger.Debug().Msg("dependency healthcheck ok")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}

	resources.Close()
	logger.Info().Msg("shutdown complete")
}
