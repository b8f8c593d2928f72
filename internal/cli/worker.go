package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"finboard/internal/amqp"
	"finboard/internal/cache"
	applog "finboard/internal/log"
	"finboard/internal/sheets"
	gsheet "finboard/internal/sheets/google"
	"finboard/internal/sheets/memory"
	"finboard/internal/worker"
)

const statsInterval = time.Minute

func newWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Mirror transaction.created events into Google Sheets",
		Long: "Consumes transaction.created events from AMQP and appends one row per " +
			"transaction to the configured spreadsheet. Without GOOGLE_SPREADSHEET_ID " +
			"rows are kept in memory and only logged.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := SignalContext(cmd.Context(), a.logger)
			defer cancel()
			return runWorker(ctx, a)
		},
	}
}

func runWorker(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required to run the worker")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	caches := cache.NewManager(logger)

	var (
		appender sheets.TransactionAppender
		lister   sheets.TransactionLister
	)
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID: cfg.GoogleSpreadsheetID,
			SheetName:     cfg.GoogleSheetName,
			Location:      loc,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("google sheets: %w", err)
		}
		caches.Register(client.SeenCache())
		appender = client
		logger.Info("Google Sheets mirror enabled", "sheet", cfg.GoogleSheetName)
	} else {
		mem := memory.New()
		appender, lister = mem, mem
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, mirroring in memory")
	}

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return fmt.Errorf("amqp: %w", err)
	}
	defer consumer.Close()

	mirror := worker.NewMirrorWorker(appender, loc, logger)
	caches.Start(ctx, cacheCleanupInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mirror.Run(gctx, consumer)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		var last worker.Stats
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if st := mirror.Stats(); st != last {
					logger.WithComponent(applog.ComponentWorker).Info("Mirror progress",
						"mirrored", st.Mirrored, "failed", st.Failed)
					last = st
				}
			}
		}
	})

	err = g.Wait()
	caches.Wait()
	if lister != nil {
		// Rows mirrored in memory are lost on exit; report how many.
		if rows, lerr := lister.ListTransactions(context.Background()); lerr == nil {
			logger.Info("Discarding in-memory mirror", "rows", len(rows))
		}
	}
	logger.Info("Worker shutdown complete")
	return err
}
