package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	httpapi "github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/http"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/http/handlers"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/infra"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/metrics"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/pipeline"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/recognition"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/registry"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/retry"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/scoring"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Base context for background jobs and the registry sweeper; canceled on
	// shutdown so in-flight scans stop cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promReg := prometheus.NewRegistry()
	mets := metrics.New(promReg)

	jobs := registry.New(cfg.JobRetention, cfg.JobSweepInterval, logger)
	go jobs.Run(ctx)

	recognizer, err := recognition.NewClient(recognition.Options{
		BaseURL: cfg.RecognitionBaseURL,
		APIKey:  cfg.RecognitionAPIKey,
		Timeout: cfg.RecognitionTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure recognition client")
	}

	pol := retry.DefaultPolicy()
	pol.MaxAttempts = cfg.RetryAttempts

	pipe := pipeline.New(pipeline.Options{
		Registry:    jobs,
		Recognizer:  recognizer,
		Retry:       pol,
		Logger:      logger,
		Metrics:     mets,
		Concurrency: cfg.PipelineConcurrency,
		GroupDelay:  cfg.PipelineGroupDelay,
	})

	var scorer scoring.Scorer
	if cfg.ScoringBaseURL != "" {
		sc, err := scoring.NewClient(scoring.Options{
			BaseURL: cfg.ScoringBaseURL,
			APIKey:  cfg.ScoringAPIKey,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure scoring client")
		}
		scorer = sc
	}

	app := &handlers.App{
		Registry:       jobs,
		Runner:         pipe,
		Scorer:         scorer,
		Logger:         logger,
		Metrics:        mets,
		BaseCtx:        ctx,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	router := httpapi.NewRouter(httpapi.Options{
		App:             app,
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
		Gatherer:        promReg,
	})

	server := infra.NewHTTPServer(cfg, router)

	// Start async
	go func() {
		logger.Info().Msgf("scan API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
