package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/runs"
	srv "github.com/mohammad-safakhou/paperflow/internal/server"
	"github.com/mohammad-safakhou/paperflow/internal/store"
)

const shutdownGrace = 30 * time.Second

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			executors, err := a.executors(ctx)
			if err != nil {
				return err
			}
			opts := []runs.Option{
				runs.WithMaxConcurrent(a.cfg.Agents.MaxConcurrentRuns),
				runs.WithTimeout(a.cfg.General.DefaultTimeout),
				runs.WithTelemetry(a.tele),
				runs.WithLogger(a.logger),
			}
			if a.cfg.Storage.Postgres.Enabled() {
				dsn, err := a.cfg.Storage.Postgres.DSN()
				if err != nil {
					return err
				}
				st, err := store.NewWithDSN(ctx, dsn)
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, runs.WithStore(st))
			} else {
				a.logger.Warn("postgres not configured, runs are kept in memory only")
			}

			svc := runs.NewService(executors, opts...)
			if err := svc.Recover(ctx); err != nil {
				return err
			}

			s := srv.New(a.cfg.Server, svc, a.tele, a.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- s.Start(serveAddr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down", zap.Duration("grace", shutdownGrace))
			sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer scancel()
			err = s.Shutdown(sctx)
			if serr := <-errCh; serr != nil {
				err = errors.Join(err, serr)
			}
			return err
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default is server.address)")

	return serve
}
