package main

import (
	"context"
	"errors"
	"os"
	"time"

	"kpiprogress/internal/amqp"
	"kpiprogress/internal/cli"
	applog "kpiprogress/internal/log"
	"kpiprogress/internal/services"
	gsheet "kpiprogress/internal/sheets/google"
	"kpiprogress/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Stdout, applog.ComponentWorker)
	logger.Info("Starting kpi-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required for the sync worker")
		os.Exit(1)
	}
	creds, err := gsheet.LoadCredentials(context.Background(), cfg.GoogleServiceAccountJSON, cfg.GoogleServiceAccountFile)
	if err != nil {
		logger.Error("Failed to load Google credentials", applog.FieldError, err)
		os.Exit(1)
	}
	sheetsClient, err := gsheet.NewWithCredentials(context.Background(), creds,
		cfg.GoogleSpreadsheetID, cfg.GoogleProgressSheet, cfg.GoogleYearsSheet)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	syncWorker := worker.NewSyncWorker(repo, sheetsClient)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
	} else {
		logger.Info("AMQP disabled, relying on the pending sweep")
	}

	processor := services.NewSyncProcessor(syncWorker, services.SyncProcessorConfig{
		PollInterval:     cfg.SyncInterval,
		BatchSize:        cfg.SyncBatchSize,
		StartupBatchSize: max(cfg.SyncBatchSize, services.DefaultSyncProcessorConfig().StartupBatchSize),
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Sync processor stop error", applog.FieldError, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("AMQP close error", applog.FieldError, err)
			}
		}
		if err := repo.Close(); err != nil {
			logger.Error("SQLite close error", applog.FieldError, err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", applog.FieldError, err)
		os.Exit(1)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeKPISync(ctx, syncWorker.HandleSyncMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", applog.FieldError, err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
}
