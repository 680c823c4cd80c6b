package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/engine"
	"github.com/xraph/genqueue/generate"
	"github.com/xraph/genqueue/throttle"
)

func workerCmd(a *app) *cobra.Command {
	var (
		concurrency int
		userLimit   int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the generation worker until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("concurrency") {
				a.cfg.Concurrency = concurrency
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.connect(ctx, true); err != nil {
				return err
			}

			svc, err := genqueue.New(
				genqueue.WithConfig(a.cfg),
				genqueue.WithLogger(a.logger),
				genqueue.WithStore(a.store),
			)
			if err != nil {
				return err
			}

			backend := generate.NewHTTPBackend(a.cfg.BackendEndpoint, a.cfg.Model,
				generate.WithLogger(a.logger))

			opts := []engine.Option{engine.WithCluster(a.store)}
			if a.notifier != nil {
				opts = append(opts, engine.WithExtension(a.notifier))
			}
			if userLimit > 0 {
				limiter := throttle.NewLimiter()
				limiter.SetDefaultUserConfig(throttle.UserConfig{MaxConcurrency: userLimit})
				opts = append(opts, engine.WithThrottle(limiter))
			}

			eng, err := engine.Build(svc, a.ledger, backend, opts...)
			if err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}
			a.ledgerOwned = true

			<-ctx.Done()
			a.logger.Info("shutdown signal received, draining",
				slog.Duration("timeout", a.cfg.ShutdownTimeout))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			return eng.Stop(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "jobs processed at once (overrides GENQUEUE_CONCURRENCY)")
	cmd.Flags().IntVar(&userLimit, "per-user", 0, "max concurrent jobs per user (0 = unlimited)")
	return cmd
}
