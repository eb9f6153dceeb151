package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"worldforge/internal/http/handlers"
	"worldforge/internal/http/httpapi"
	"worldforge/internal/infra"
	"worldforge/internal/jobstore"
	"worldforge/internal/ledger"
	"worldforge/internal/pipeline"
	"worldforge/internal/progress"
	"worldforge/internal/providers/content"
	"worldforge/internal/providers/image"
	"worldforge/internal/providers/world"
	"worldforge/internal/ratelimit"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := jobstore.New(jobstore.Options{
		TTL:           cfg.JobTTL,
		SweepInterval: cfg.JobSweepInterval,
	})
	go store.RunSweeper(ctx)

	hub := progress.NewHub()
	limiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMaxRequests)

	ledgerClient := ledger.NewClient(ledger.Options{
		BaseURL: cfg.LedgerBaseURL,
		APIKey:  cfg.LedgerAPIKey,
	})
	worldClient := world.NewClient(world.Options{
		BaseURL:         cfg.WorldBaseURL,
		APIKey:          cfg.WorldAPIKey,
		PollInterval:    cfg.WorldPollInterval,
		PollMaxAttempts: cfg.WorldPollMaxAttempts,
		FetchAttempts:   cfg.WorldFetchAttempts,
		FetchDelay:      cfg.WorldFetchDelay,
	})
	imageClient := image.NewClient(image.Options{
		BaseURL: cfg.ImageBaseURL,
		APIKey:  cfg.ImageAPIKey,
	})
	contentClient := content.NewClient(content.Options{
		BaseURL: cfg.ContentBaseURL,
		APIKey:  cfg.ContentAPIKey,
	})

	orchestrator := pipeline.New(pipeline.Options{
		Store:            store,
		Hub:              hub,
		Ledger:           ledgerClient,
		Worlds:           worldClient,
		Images:           imageClient,
		Content:          contentClient,
		Logger:           logger,
		MaxConcurrent:    cfg.MaxConcurrentPipelines,
		FallbackImageURL: cfg.FallbackImageURL,
	})

	app := &handlers.App{
		Logger:       logger,
		Store:        store,
		Hub:          hub,
		Limiter:      limiter,
		Ledger:       ledgerClient,
		Orchestrator: orchestrator,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
