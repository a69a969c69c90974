package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	dapr "github.com/dapr/go-sdk/client"
	"go.opentelemetry.io/otel"

	"newsletter-go/internal/app"
	"newsletter-go/internal/config"
	"newsletter-go/internal/database"
	"newsletter-go/internal/logging"
	"newsletter-go/internal/repository"
	"newsletter-go/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		logging.NewLogger().WithError(err).Fatal("Failed to read configuration")
	}

	logger, err := logging.NewLoggerWithOptions(logging.Options{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
	})
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
	}

	tp, err := telemetry.InitTracing(settings.Application.Name, settings.Application.Version, settings.Telemetry.Exporter)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer func() {
		if err := telemetry.ShutdownTracing(context.Background(), tp); err != nil {
			logger.ErrorWithTracing(context.Background(), "Error shutting down tracer provider", err, nil)
		}
	}()

	ctx := context.Background()
	repo, closeRepo, err := newRepository(ctx, settings, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize subscriber store")
	}
	defer closeRepo()

	application := app.Build(&app.Config{
		ServiceName:    settings.Application.Name,
		ServiceVersion: settings.Application.Version,
		Address:        settings.Application.Address(),
		Logger:         logger,
		TracerProvider: otel.GetTracerProvider(),
		GinMode:        settings.Application.GinMode,
		Repository:     repo,
	})

	listener, err := net.Listen("tcp", settings.Application.Address())
	if err != nil {
		logger.WithError(err).Fatal("Failed to bind listener")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Serve(listener)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Application.ShutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server forced to shutdown")
		}
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server stopped unexpectedly")
		}
	}

	logger.Info("Server exited")
}

// newRepository builds the store selected by storage.backend. The returned
// close function releases the pool or client.
func newRepository(ctx context.Context, settings *config.Settings, logger *logging.ContextLogger) (repository.SubscriberRepository, func(), error) {
	switch settings.Storage.Backend {
	case "dapr":
		client, err := dapr.NewClient()
		if err != nil {
			return nil, nil, err
		}
		return repository.NewDaprSubscriberRepository(client, settings.Storage.DaprStateStore), client.Close, nil
	case "memory":
		logger.WarnWithTracing(ctx, "Using in-memory subscriber store; data is lost on restart", nil)
		return repository.NewInMemorySubscriberRepository(), func() {}, nil
	default:
		db, err := database.Open(ctx, settings.Database)
		if err != nil {
			return nil, nil, err
		}
		logger.WithFields(map[string]interface{}{
			"host":     settings.Database.Host,
			"database": settings.Database.DatabaseName,
		}).Info("Connected to Postgres")
		return repository.NewPostgresSubscriberRepository(db, settings.Database.QueryTimeout), func() { _ = db.Close() }, nil
	}
}
