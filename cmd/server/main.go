package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/foodscan/backend/config"
	httpDelivery "github.com/foodscan/backend/internal/delivery/http"
	"github.com/foodscan/backend/internal/infrastructure/catalog"
	"github.com/foodscan/backend/internal/infrastructure/scanstore"
	"github.com/foodscan/backend/internal/infrastructure/vision"
	"github.com/foodscan/backend/internal/usecase"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.Environment)
	logger.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("starting foodscan backend")

	// Initialize infrastructure dependencies
	products := catalog.Load(cfg.Catalog.Path, logger)
	logger.Info().Int("products", len(products)).Str("path", cfg.Catalog.Path).Msg("catalog loaded")

	store, err := scanstore.NewFileStore(cfg.Dataset.Dir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Dataset.Dir).Msg("failed to initialize scan store")
	}

	provider, err := vision.New(vision.Options{
		Provider:          cfg.Vision.Provider,
		ConfThreshold:     cfg.Vision.ConfThreshold,
		RemoteBaseURL:     cfg.Vision.RemoteBaseURL,
		RemotePredictPath: cfg.Vision.RemotePredictPath,
		RemoteTimeoutMS:   cfg.Vision.RemoteTimeoutMS,
		RemoteRatePerSec:  cfg.Vision.RemoteRatePerSec,
		RemoteBurst:       cfg.Vision.RemoteBurst,
		EnsembleProviders: cfg.Vision.EnsembleProviders,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vision provider")
	}
	logger.Info().Str("provider", cfg.Vision.Provider).Str("model_id", provider.ModelID()).Msg("vision provider ready")

	// Initialize usecase layer
	matcher := usecase.NewMatchingService(products, usecase.MatchTuning{
		TopK:             cfg.Matching.TopK,
		AcceptConfidence: cfg.Matching.AcceptConfidence,
		AcceptMargin:     cfg.Matching.AcceptMargin,
		ScoreSaturation:  cfg.Matching.ScoreSaturation,
	})
	scans := usecase.NewScanLogService(store, logger)

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(matcher, scans, provider, logger,
		cfg.Dataset.EnableScanLogging, cfg.Dataset.EnableCropLogging, version)

	// Setup router
	router := httpDelivery.SetupRouter(cfg, handler, logger)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info().Str("addr", addr).Msg("server listening")

	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}
}

// newLogger builds the service logger. Development gets a console writer,
// everything else structured JSON.
func newLogger(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().
			Timestamp().
			Str("service", "foodscan-backend").
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "foodscan-backend").
		Logger()
}
