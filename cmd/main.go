package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"medical-dictation-service/internal/app"
	"medical-dictation-service/internal/config"
	apphttp "medical-dictation-service/internal/http"
)

func main() {
	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		stdlog.Fatalf("startup: %v", err)
	}
	defer application.Shutdown()

	if err := application.Start(ctx); err != nil {
		stdlog.Fatalf("start: %v", err)
	}

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     apphttp.NewRouter(application),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No write timeout: streaming sessions hold the connection far
		// longer than any sane response deadline.
	}

	errCh := make(chan error, 1)
	go func() {
		application.Logger.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		application.Logger.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		application.Logger.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		application.Logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
}
