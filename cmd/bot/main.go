package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nicrolabs-studio/internal/app"
	"nicrolabs-studio/internal/config"
	"nicrolabs-studio/internal/handlers"
	"nicrolabs-studio/internal/httpclient"
	"nicrolabs-studio/internal/mediagroup"
	"nicrolabs-studio/internal/studio"
	"nicrolabs-studio/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if cfg.TelegramToken == "" {
		panic("TELEGRAM_BOT_TOKEN is required")
	}

	logger := app.NewLogger(cfg.LogLevel)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := handlers.NewProgress(tg, logger)

	core, err := app.New(ctx, app.Options{
		Config:      cfg,
		Logger:      logger,
		ServiceName: "nicrolabs-studio-bot",
		OnStatus:    progress.Update,
	})
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := core.Close(closeCtx); err != nil {
			logger.Warn("metrics flush failed", "err", err)
		}
	}()

	handler := handlers.New(handlers.Options{
		Telegram:     tg,
		Generator:    core.Generator,
		Suggester:    core.Suggest,
		Store:        core.Store,
		Catalog:      core.Catalog,
		Prefs:        core.Prefs,
		Policy:       core.Policy,
		Progress:     progress,
		Guest:        cfg.BotGuest,
		ExportPrefix: cfg.ExportPrefix,
		Logger:       logger,
	})

	go core.SweepIdle(ctx, handler.SweepUI)

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleMediaGroup(reqCtx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		MaxItems: studio.MaxProductImages,
		OnFlush:  onGroupFlush,
	})
	defer aggregator.Close()
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started", "username", tg.Username(), "guest", cfg.BotGuest)

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}
