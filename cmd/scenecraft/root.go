package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/scenecraft/internal/logging"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	settings string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "scenecraft",
		Short:         "Natural-language editing of node-graph scene documents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.settings, "settings", settingsPath(), "path to settings.json")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd(opts), newMCPCmd(opts), newGraphCmd(opts), newVersionCmd())
	return cmd
}

// config loads the layered configuration and applies the shared flags.
func (o *rootOptions) config(getenv func(string) string) (Config, error) {
	cfg, err := loadConfig(o.settings, getenv)
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(w, &slog.HandlerOptions{Level: logging.ParseLevel(level)}),
	))
}
