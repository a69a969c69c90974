package main

import (
	"flag"

	"newsletter-go/internal/config"
	"newsletter-go/internal/logging"
	"newsletter-go/migrations"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	logger := logging.NewLogger()

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to read configuration")
	}

	logger.WithField("database", settings.Database.DatabaseName).Info("Applying migrations")
	if err := migrations.Up(settings.Database.ConnectionString()); err != nil {
		logger.WithError(err).Fatal("Failed to migrate the database")
	}
	logger.Info("Migrations complete")
}
