package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tarsy-run/tarsy/pkg/api"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(context.Background())
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	if err := a.Sessions.RecoverOrphans(ctx); err != nil {
		slog.Error("startup orphan recovery failed", "error", err)
	}

	srv := api.NewServer(a.Sessions, a.Store, a.Hub, a.historyDisabled)
	srv.Metrics = a.Metrics

	addr := ":" + getEnv("HTTP_PORT", "8080")
	errCh := make(chan error, 1)
	go func() {
		slog.Info("tarsy: http server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		slog.Info("tarsy: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
