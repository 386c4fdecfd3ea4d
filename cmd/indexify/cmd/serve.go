package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexify/internal/api"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API on server.listen (default 127.0.0.1:8900).

The data directory is locked for the lifetime of the server; a second
indexify process on the same directory fails immediately.`,
		Example: `  # Serve with the defaults
  indexify serve

  # Serve on all interfaces with a separate data directory
  indexify serve --listen 0.0.0.0:8900 --data-dir /var/lib/indexify`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, listen string) error {
	a, err := openApp(ctx, flags, logServer)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if listen == "" {
		listen = a.cfg.Server.Listen
	}
	if !flags.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := api.NewServer(api.Config{
		Embedder:       a.router,
		Indexes:        a.indexes,
		Memory:         a.memory,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	a.logger.Info("server_starting",
		slog.String("listen", listen),
		slog.String("data_dir", a.cfg.DataDir),
		slog.Int("models", len(a.router.ListModels())))
	return srv.ListenAndServe(ctx, listen)
}
