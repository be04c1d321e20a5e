package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nicrolabs-studio/internal/app"
	"nicrolabs-studio/internal/config"
	"nicrolabs-studio/internal/webapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	studio, err := app.New(ctx, app.Options{
		Config:      cfg,
		Logger:      logger,
		ServiceName: "nicrolabs-studio-web",
	})
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}

	go studio.SweepIdle(ctx)

	api := webapi.New(webapi.Options{
		Store:        studio.Store,
		Catalog:      studio.Catalog,
		Generator:    studio.Generator,
		Suggester:    studio.Suggest,
		Prefs:        studio.Prefs,
		Exporter:     studio.Exporter,
		ExportPrefix: cfg.ExportPrefix,
		Policy:       studio.Policy,
		CORSOrigins:  cfg.CORSOrigins,
		Lifetime:     ctx,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("web started", "addr", cfg.WebAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := studio.Close(closeCtx); err != nil {
		logger.Warn("metrics flush failed", "err", err)
	}
}
