// Command predictor runs the monthly hunger-risk prediction for every
// sub-county, then serves health, metrics and the latest run report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/geotiff"
	httpadapter "github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/kafka"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/predictor"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/config"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/observability"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/pipeline"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

func main() {
	month := flag.String("month", "", "target month as YYYY-MM (default: current month)")
	serve := flag.Bool("serve", false, "keep serving HTTP after the run until signalled")
	flag.Parse()

	target := domain.Now()
	if *month != "" {
		t, err := time.Parse("2006-01", *month)
		if err != nil {
			slog.Error("invalid -month", "value", *month, "error", err)
			os.Exit(2)
		}
		target = t
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger, target, *serve); err != nil {
		logger.Error("predictor failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, target time.Time, serve bool) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := postgres.NewStore(pool)

	processor := raster.NewProcessor(geotiff.NewReader(logger), cfg.Model.Raster(), logger,
		raster.WithFrameCache(cfg.Model.FrameCacheSize, metrics.ObserveFrameCache),
	)
	client := predictor.NewClient(cfg.PredictorURL, cfg.PredictorTimeout, logger, metrics)

	// A nil publisher disables publishing.
	var publisher pipeline.Publisher
	if cfg.PublishEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = writer
		logger.Info("publishing predictions", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka publishing disabled")
	}

	orch := pipeline.New(store, store, client, processor, publisher, pipeline.Config{
		ModelVersion:    cfg.Model.Version,
		SequenceLength:  cfg.Model.SequenceLength,
		TargetRows:      cfg.Model.TargetRows,
		TargetCols:      cfg.Model.TargetCols,
		Region:          cfg.Model.Region(),
		Thresholds:      cfg.Model.Thresholds(),
		UnitConcurrency: cfg.Model.UnitConcurrency,
		UnitTimeout:     cfg.Model.UnitTimeout,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, orch, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		logger.Info("shutdown complete")
	}()

	if _, err := orch.RunMonthly(ctx, target); err != nil {
		return fmt.Errorf("monthly run: %w", err)
	}

	if serve {
		<-ctx.Done()
	}
	logger.Info("shutting down")
	return nil
}
