package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/weather-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/weather-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-etl/internal/adapter/openweather"
	s3adapter "github.com/couchcryptid/weather-etl/internal/adapter/s3"
	"github.com/couchcryptid/weather-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-etl/internal/config"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/couchcryptid/weather-etl/internal/pipeline"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := openweather.NewClient(openweather.Options{
		BaseURL:  cfg.WeatherBaseURL,
		Endpoint: cfg.WeatherEndpoint,
		City:     cfg.WeatherCity,
		APIKey:   cfg.WeatherAPIKey,
		Timeout:  cfg.WeatherTimeout,
	}, logger)

	uploader := s3adapter.NewUploader(s3adapter.Options{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	}, logger)

	settings := pipeline.Settings{
		PokeInterval:  cfg.SensorPokeInterval,
		SensorTimeout: cfg.SensorTimeout,
		Retries:       cfg.TaskRetries,
		RetryDelay:    cfg.TaskRetryDelay,
		ObjectKey: func(now time.Time) string {
			return s3adapter.Key(cfg.ObjectKeyPrefix, now)
		},
	}

	var opts []pipeline.Option

	// Optional Kafka sink (feature-flagged via KAFKA_ENABLED).
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		opts = append(opts, pipeline.WithPublishers(writer))
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	// Optional run ledger (enabled via RUN_LEDGER_PATH).
	var ledger *sqlite.Ledger
	if cfg.RunLedgerPath != "" {
		ledger, err = sqlite.Open(ctx, cfg.RunLedgerPath)
		if err != nil {
			logger.Error("failed to open run ledger", "path", cfg.RunLedgerPath, "error", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithRecorder(ledger))
		logger.Info("run ledger enabled", "path", cfg.RunLedgerPath)
	}

	p := pipeline.New(source, pipeline.NewTransformer(logger), uploader, settings, logger, metrics, opts...)

	exitCode := 0
	if cfg.RunOnce {
		res, err := p.RunOnce(ctx)
		if err != nil {
			exitCode = 1
		} else {
			logger.Info("object written", "location", uploader.Location(res.ObjectKey))
		}
	} else {
		serve(ctx, cfg, p, ledger, logger, metrics)
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if ledger != nil {
		if err := ledger.Close(); err != nil {
			logger.Error("run ledger close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// serve runs the scheduler and the ops HTTP server until ctx is cancelled.
// ledger may be nil.
func serve(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, ledger *sqlite.Ledger, logger *slog.Logger, metrics *observability.Metrics) {
	scheduler := pipeline.NewScheduler(p, cfg.ScheduleInterval, cfg.RunOnStart, nil, logger, metrics)

	ready := httpadapter.AllReady{scheduler}
	var runs httpadapter.RunLister
	if ledger != nil {
		ready = append(ready, ledger)
		runs = ledger
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, runs, scheduler, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start scheduler; it returns once ctx is cancelled and any in-flight run has finished.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown timeout")
	}
}
