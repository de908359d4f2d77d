package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"harborguide/internal/config"
	"harborguide/internal/session"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var listen, storeDriver string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard and chat over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := root.build(ctx, cmd, func(o *config.Overrides) {
				if cmd.Flags().Changed("listen") {
					o.ListenAddr = &listen
				}
				if cmd.Flags().Changed("store") {
					o.StoreDriver = &storeDriver
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv := &http.Server{
				Addr:              a.Config.ListenAddr,
				Handler:           a.Handler,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       a.Config.ReadTimeout,
				WriteTimeout:      a.Config.WriteTimeout,
			}
			logger := a.Logger.With().Str("component", "server").Logger()

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				a.Sessions.Run(egCtx, session.DefaultSweepInterval)
				return nil
			})
			eg.Go(func() error {
				<-egCtx.Done()
				logger.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("server shutdown error")
					return errors.Wrap(err, "shutdown")
				}
				return nil
			})
			eg.Go(func() error {
				logger.Info().
					Str("addr", srv.Addr).
					Str("backend_url", a.Config.BackendURL).
					Str("store", a.Config.Store.Driver).
					Msg("starting harborguide")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "listen")
				}
				return nil
			})
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8501", "listen address")
	cmd.Flags().StringVar(&storeDriver, "store", "memory", "transcript store driver (memory, redis, dynamodb)")
	return cmd
}
