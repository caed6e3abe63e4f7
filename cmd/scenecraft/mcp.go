package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mcpserver "github.com/rendis/scenecraft/pkg/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the scene tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(os.Getenv)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			slog.SetDefault(logger)

			a, err := newApp(cfg, nil, logger)
			if err != nil {
				return err
			}
			srv := mcpserver.NewServer(mcpserver.ServerDeps{
				Manager: a.manager,
				Version: version,
				Logger:  logger,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.sweeper.Run(gctx)
			})
			g.Go(func() error {
				// stdin closing ends the session and the sweeper with it.
				defer cancel()
				err := srv.Serve(gctx)
				if errors.Is(err, context.Canceled) {
					err = nil
				}
				shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
				defer stop()
				return errors.Join(err, a.manager.Shutdown(shutdownCtx))
			})
			return g.Wait()
		},
	}
}
