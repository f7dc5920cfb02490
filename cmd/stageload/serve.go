package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stageload/internal/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP load API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), os.Stdout)
			if err != nil {
				return err
			}
			defer a.close()

			slog.Info("configuration loaded",
				"port", a.cfg.Server.Port,
				"driver", a.cfg.Database.Driver,
				"load_max_concurrent", a.cfg.Load.MaxConcurrent,
				"rate_limit_enabled", a.cfg.Rate.Enabled,
				"file_types", len(a.settings.FileTypes()),
			)

			server := web.NewServer(a.service, a.settings, a.metrics, a.cfg)

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh

				slog.Info("shutting down...")
				ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
				defer cancel()

				if status := a.service.Limiter().Status(); status.Active > 0 {
					slog.Info("waiting for loads to complete", "active", status.Active)
				}
				if err := server.Shutdown(ctx); err != nil {
					slog.Warn("shutdown incomplete", "error", err)
				}
			}()

			return server.Start(a.cfg.Server.Addr())
		},
	}
}
