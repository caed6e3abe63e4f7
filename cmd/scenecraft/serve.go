package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/scenecraft/internal/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen   string
		poolSize int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(os.Getenv)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("pool-size") {
				cfg.PoolSize = poolSize
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			slog.SetDefault(logger)

			a, err := newApp(cfg, nil, logger)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), ln, a, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides listen_addr)")
	cmd.Flags().IntVar(&poolSize, "pool-size", 0, "max concurrently running jobs (overrides pool_size)")
	return cmd
}

// serve runs the HTTP server and the idle-job sweeper until ctx ends, then
// cancels running jobs before closing connections.
func serve(ctx context.Context, ln net.Listener, a *app, cfg Config, logger *slog.Logger) error {
	handler := api.NewServer(api.Deps{
		Manager:      a.manager,
		Client:       a.client,
		APIKeys:      cfg.APIKeys,
		DefaultModel: cfg.DefaultModel,
		Workflow:     a.workflow(),
		Metrics:      a.metrics.Handler(),
		Logger:       logger,
	}).Handler()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("scenecraft listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(a.manager.Shutdown(shutdownCtx), srv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
