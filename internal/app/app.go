package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/config"
	"nicrolabs-studio/internal/export"
	"nicrolabs-studio/internal/gemini"
	"nicrolabs-studio/internal/generate"
	"nicrolabs-studio/internal/httpclient"
	"nicrolabs-studio/internal/prefs"
	"nicrolabs-studio/internal/studio"
	"nicrolabs-studio/internal/suggest"
	"nicrolabs-studio/internal/telemetry"
	"nicrolabs-studio/internal/watermark"
)

const sweepInterval = time.Minute

type Options struct {
	Config config.Config
	Logger *slog.Logger
	// ServiceName labels exported metrics, one per front-end.
	ServiceName string
	OnStatus    func(sessionID, msg string)
}

// App holds the services every front-end shares.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Catalog   *catalog.Catalog
	Store     *studio.Store
	Gemini    *gemini.Client
	Generator *generate.Orchestrator
	Policy    generate.TierPolicy
	Suggest   *suggest.Service
	Prefs     *prefs.Store
	Exporter  export.Exporter

	telemetry *telemetry.Provider
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(cfg.LogLevel)
	}

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		loaded, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		cat = loaded
	}

	policy, err := generate.PolicyFor(cfg.TierPolicy)
	if err != nil {
		return nil, err
	}

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	gem, err := gemini.New(ctx, gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		FastModel:  cfg.FastModel,
		ProModel:   cfg.ProModel,
		TextModel:  cfg.TextModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	stamper, err := watermark.New(watermark.Options{
		Text:  cfg.BrandName,
		Label: cfg.WatermarkLabel,
	})
	if err != nil {
		return nil, err
	}

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  opts.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Interval:     cfg.MetricInterval,
	})
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(tp.Meter())
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	flags, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	generator := generate.New(generate.Options{
		Model:          gem,
		Catalog:        cat,
		Stamper:        stamper,
		Policy:         policy,
		Metrics:        metrics,
		StatusInterval: cfg.StatusInterval,
		Timeout:        cfg.RequestTimeout,
		OnStatus:       opts.OnStatus,
		Logger:         logger,
	})

	return &App{
		Config:    cfg,
		Logger:    logger,
		Catalog:   cat,
		Store:     studio.NewStore(studio.StoreOptions{MaxHistory: cfg.MaxHistory}),
		Gemini:    gem,
		Generator: generator,
		Policy:    policy,
		Suggest:   suggest.New(suggest.Options{Oracle: gem, Catalog: cat, Logger: logger}),
		Prefs:     flags,
		Exporter:  exporter,
		telemetry: tp,
	}, nil
}

func newExporter(ctx context.Context, cfg config.Config) (export.Exporter, error) {
	if !cfg.S3.Enabled() {
		return export.Dir{Root: cfg.ExportDir}, nil
	}
	s3, err := export.NewS3(ctx, export.S3Options{
		Bucket:       cfg.S3.Bucket,
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		KeyPrefix:    cfg.S3.KeyPrefix,
		UsePathStyle: cfg.S3.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 export: %w", err)
	}
	return s3, nil
}

// SweepIdle drops idle sessions until ctx is done. Each extra sweeper runs on
// the same tick with the same TTL.
func (a *App) SweepIdle(ctx context.Context, extra ...func(now time.Time, ttl time.Duration) int) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.Store.Sweep(now, a.Config.SessionIdleTTL); n > 0 {
				a.Logger.Info("idle sessions dropped", "count", n, "live", a.Store.Len())
			}
			for _, sweep := range extra {
				sweep(now, a.Config.SessionIdleTTL)
			}
		}
	}
}

// Close flushes metrics.
func (a *App) Close(ctx context.Context) error {
	if a.telemetry == nil {
		return nil
	}
	if err := a.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
