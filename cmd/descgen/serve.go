package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seanap/DescGen-sub000/internal/api"
	"github.com/seanap/DescGen-sub000/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.jobs, a.kv, a.orch, api.HandlerConfig{
		ServiceName:      a.cfg.Service.Name,
		ServiceVersion:   a.cfg.Service.Version,
		HeartbeatMaxAge:  a.cfg.Worker.HeartbeatMaxAge,
		RerunMaxAttempts: a.cfg.Worker.MaxAttempts,
	}, a.log)

	server := api.NewServer(handler, a.met.Registry, api.ServerConfig{
		Port:  a.cfg.Service.Port,
		Debug: a.cfg.Service.Debug,
	}, a.log)

	errCh := server.StartAsync()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("Graceful shutdown failed", logger.Error(err))
		return err
	}
	return nil
}
