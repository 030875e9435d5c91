package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/vibecheck/internal/app"
	mcpserver "github.com/felixgeelhaar/vibecheck/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio (or HTTP with --addr)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := app.LoadCatalog(opts.catalog)
			if err != nil {
				return err
			}
			srv, err := mcpserver.NewServer(mcpserver.Config{Catalog: cat, Version: Version})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr != "" {
				return srv.ServeHTTP(ctx, addr)
			}
			return srv.ServeStdio(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "serve over HTTP on this address instead of stdio")
	return cmd
}
