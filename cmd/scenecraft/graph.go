package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/scenecraft/internal/diagram"
	"github.com/rendis/scenecraft/internal/llm"
)

func newGraphCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the assistant workflow graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(os.Getenv)
			if err != nil {
				return err
			}
			// The graph is static; no upstream is contacted.
			a, err := newApp(cfg, &llm.FakeClient{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			out, err := diagram.Render(cmd.Context(), a.workflow(), format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", diagram.FormatASCII, "ascii, mermaid or image (base64 PNG)")
	return cmd
}
