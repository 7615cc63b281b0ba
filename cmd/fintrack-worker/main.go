package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
	gsheet "fintrack/internal/sheets/google"
	"fintrack/internal/sheets/memory"
	"fintrack/internal/worker"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "log mirrored rows instead of writing to Google Sheets")
	flag.Parse()

	cli.LoadEnvFile()
	checks := []func(*config.Config) error{(*config.Config).Validate, (*config.Config).ValidateWorker}
	if *dryRun {
		checks = []func(*config.Config) error{(*config.Config).Validate, requireAMQP}
	}
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentWorker, checks...)
	logger.Info("Starting fintrack-worker", "dry_run", *dryRun)

	var mirror sheets.Mirror
	if *dryRun {
		store := memory.New()
		store.Log = logger.Logger
		mirror = store
	} else {
		client, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	w := worker.NewMirrorWorker(mirror, logger, cfg.SyncInterval)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close failed", log.FieldError, err)
		}
		st := w.Stats()
		logger.Info("Worker stopped", "written", st.Written, "duplicates", st.Duplicates, "failures", st.Failures)
	})

	go func() {
		err := amqpClient.ConsumeLedgerEvents(ctx, cfg.SyncBatchSize, w.HandleLedgerEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}

func requireAMQP(cfg *config.Config) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the worker")
	}
	return nil
}
