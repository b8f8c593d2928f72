package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"finboard/internal/amqp"
	"finboard/internal/cache"
	"finboard/internal/dashboard"
	"finboard/internal/financeapi"
	apphttp "finboard/internal/http"
	applog "finboard/internal/log"
	"finboard/internal/middleware/ratelimit"
	"finboard/internal/storage"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 5 * time.Minute
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := SignalContext(cmd.Context(), a.logger)
			defer cancel()
			return runServe(ctx, a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	client, err := financeapi.New(cfg.FinanceAPIURL)
	if err != nil {
		return fmt.Errorf("finance API client: %w", err)
	}
	opts := []dashboard.Option{
		dashboard.WithLocation(loc),
		dashboard.WithLogger(logger),
		dashboard.WithLoadTimeout(cfg.APITimeout),
	}

	var store *storage.SnapshotStore
	if cfg.SnapshotDBPath != "" {
		store, err = storage.Open(cfg.SnapshotDBPath, logger)
		if err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}
		defer store.Close()
		opts = append(opts, dashboard.WithSnapshotStore(store))
	}

	if cfg.AMQPURL != "" {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// Events are best effort; the dashboard works without them.
			logger.WithComponent(applog.ComponentAMQP).Warn("AMQP unavailable, transaction events disabled",
				applog.FieldError, err)
		} else {
			defer publisher.Close()
			opts = append(opts, dashboard.WithEventPublisher(publisher))
		}
	}

	dash := dashboard.New(client, opts...)
	if store != nil {
		if ok, err := dash.Restore(ctx); err != nil {
			logger.Warn("Snapshot restore failed", applog.FieldError, err)
		} else if ok {
			logger.Info("Serving last saved snapshot until the finance API answers")
		}
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.SubmitsPerMinute})
	httpCfg := apphttp.Config{
		Addr:       ":" + cfg.Port,
		APITimeout: cfg.APITimeout,
		Logger:     logger,
		Limiter:    limiter,
	}
	if store != nil {
		httpCfg.Store = store
	}
	srv := apphttp.NewServer(httpCfg, dash)

	caches := cache.NewManager(logger)
	caches.Register(dash.ViewCache())
	caches.Start(ctx, cacheCleanupInterval)
	limiter.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting finboard server",
			"port", cfg.Port,
			applog.FieldEndpoint, client.BaseURL(),
			"snapshot_db", cfg.SnapshotDBPath != "",
			"events", cfg.AMQPURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lctx, cancel := context.WithTimeout(gctx, cfg.APITimeout)
		defer cancel()
		// Failures are already logged and shown as a notice.
		_ = dash.Load(lctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	caches.Wait()
	if err == nil {
		logger.Info("Server stopped gracefully")
	}
	return err
}
