package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"finsight-backend/internal/bootstrap"
	"finsight-backend/internal/shared/config"
	"finsight-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildContext(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	srv := &http.Server{
		Addr:    server.Addr(cfg.Port),
		Handler: app.Router,
	}
	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("api.listening", map[string]any{"addr": srv.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("api.server_failed", map[string]any{"error": err.Error()})
		}
	case <-ctx.Done():
	}

	app.Logger.Info("api.shutdown", map[string]any{"timeout": bootstrap.ShutdownTimeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("api.shutdown_failed", map[string]any{"error": err.Error()})
	}
	if err := app.Close(shutdownCtx); err != nil {
		app.Logger.Error("api.close_failed", map[string]any{"error": err.Error()})
	}
}
