package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"upscaler/internal/adapter/repo"
	"upscaler/internal/domain"
	"upscaler/internal/history"
	"upscaler/internal/http/handlers"
	httpapi "upscaler/internal/http/httpapi"
	"upscaler/internal/infra"
	"upscaler/internal/infra/credentials"
	"upscaler/internal/infra/jwks"
	"upscaler/internal/metrics"
	"upscaler/internal/middleware"
	"upscaler/internal/providers/replicate"
	"upscaler/internal/session"
	"upscaler/internal/storage"
	"upscaler/internal/upscale"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx := context.Background()

	mx := metrics.New()

	blobs, staticDir, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	var (
		credStore domain.CredentialStore
		recorder  *history.Service
		ping      func(*http.Request) error
	)
	if cfg.HistoryEnabled() {
		if cfg.MigrateOnStart {
			if err := infra.Migrate(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("failed to run migrations")
			}
			logger.Info().Msg("migrations applied")
		}
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()

		runner := infra.NewSQLRunner(dbpool, logger)
		credStore = credentials.NewStore(runner)
		recorder = history.NewService(history.Options{
			Repo:     repo.NewJobRepository(runner),
			Blobs:    blobs,
			Logger:   logger.With().Str("component", "history").Logger(),
			OnMirror: mx.MirrorResult,
		})
		ping = func(r *http.Request) error { return dbpool.Ping(r.Context()) }
	} else {
		logger.Warn().Msg("DATABASE_URL not set, history disabled")
	}

	client := replicate.NewClient(replicate.Options{
		APIKey:         cfg.ReplicateAPIToken,
		Credentials:    credStore,
		BaseURL:        cfg.ReplicateBaseURL,
		Version:        cfg.ReplicateModelVersion,
		FaceEnhance:    cfg.ReplicateFaceEnhance,
		FormatInputKey: cfg.ReplicateFormatInput,
		PollInterval:   cfg.UpscalePollInterval,
		HTTPClient:     &http.Client{Timeout: cfg.UpscaleTimeout + 10*time.Second},
		Logger:         &logger,
	})
	if cfg.ReplicateAPIToken == "" && credStore == nil {
		logger.Warn().Msg("no replicate token configured, submissions will fail")
	}
	mediator := upscale.NewMediator(client, cfg.UpscaleTimeout, logger)

	previews := upscale.NewMemoryPreviews()
	entitlement := domain.FreeTier{}
	sessions := session.NewRegistry(cfg.SessionCapacity, cfg.SessionTTL, func(id string) *upscale.Machine {
		return upscale.NewMachine(upscale.Config{
			Mediator:    mediator,
			Previews:    previews,
			Entitlement: entitlement,
			Observer:    mx,
			Logger:      logger.With().Str("session_id", id).Logger(),
		})
	})
	mx.RegisterSessionGauge(sessions.Len)

	app := &handlers.App{
		Logger:      logger,
		Sessions:    sessions,
		Previews:    previews,
		Entitlement: entitlement,
		History:     recorder,
		Blobs:       blobs,
		WaitTimeout: cfg.SubmitWaitLimit(),
		Ping:        ping,
	}

	verifier := middleware.NewVerifier(cfg.SupabaseJWTSecret, cfg.SupabaseURL)
	if url := jwks.SupabaseURL(cfg.SupabaseURL); url != "" {
		verifier.WithKeys(jwks.New(url, nil))
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		Metrics:         mx,
		Verifier:        verifier,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		SessionTTL:      cfg.SessionTTL,
		SecureCookies:   cfg.AppEnv == "production",
		StaticDir:       staticDir,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("version", client.Version()).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
