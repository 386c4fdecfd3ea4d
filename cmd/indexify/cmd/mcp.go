package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexify/internal/mcp"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the index tools to an MCP client",
		Long: `Serve list_models, generate_embeddings and the index tools over the
Model Context Protocol.

Stdout carries JSON-RPC only. Logs go to the log file.`,
		Example: `  # Register with an MCP client
  indexify mcp --data-dir ~/.indexify/data`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, flags, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport (stdio)")

	return cmd
}

func runMCP(ctx context.Context, flags *globalFlags, transport string) error {
	a, err := openApp(ctx, flags, logStdio)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv, err := mcp.NewServer(a.router, a.indexes, a.logger)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, transport)
}
