package main

import (
	"context"
	"errors"
	"os"
	"time"

	"spendly/internal/amqp"
	"spendly/internal/cli"
	"spendly/internal/export"
	"spendly/internal/feed"
	"spendly/internal/log"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)

	if err := cfg.ValidateExport(); err != nil {
		logger.Error("Export configuration invalid", log.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Starting spendly-worker", log.FieldOperation, log.OpStartup)

	// The worker reads the shared store directly; its changes come from the
	// durable export queue rather than the backend's own bus.
	be := cli.OpenBackend(context.Background(), logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	creds, err := export.Credentials(cfg.GoogleServiceAccountJSON, cfg.GoogleServiceAccountFile)
	if err != nil {
		logger.Error("Failed to load Google credentials", log.FieldError, err)
		os.Exit(1)
	}
	sheets, err := export.NewSheets(context.Background(), cfg.GoogleSpreadsheetID, creds, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	client, err := amqp.NewClient(cfg.AMQPURL, amqp.Options{
		Exchange:    cfg.AMQPExchange,
		Queue:       cfg.AMQPQueue,
		BindingKeys: []string{feed.Collection},
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	worker := export.NewWorker(export.NewExporter(be.Live, sheets, logger), logger)

	ctx, shutdown := cli.GracefulShutdown(logger, 30*time.Second, nil)

	err = client.Subscribe(ctx, worker.HandleChange)
	shutdown.Stop()
	<-shutdown.Done
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Change consumption failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
