package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicrolabs-studio/internal/config"
	"nicrolabs-studio/internal/export"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		GeminiAPIKey:   "test-key",
		TierPolicy:     "auto",
		MaxHistory:     3,
		HTTPTimeout:    5 * time.Second,
		RequestTimeout: 5 * time.Second,
		SessionIdleTTL: time.Minute,
		ExportDir:      t.TempDir(),
	}
}

func TestNewWiresServices(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, Options{Config: testConfig(t), ServiceName: "studio-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	assert.NotNil(t, a.Generator)
	assert.NotNil(t, a.Suggest)
	assert.NotNil(t, a.Prefs)
	assert.IsType(t, export.Dir{}, a.Exporter)
	assert.Same(t, a.Catalog, a.Generator.Catalog())

	sess := a.Store.Create(true)
	assert.True(t, sess.Guest)
}

func TestNewRejectsBadPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.TierPolicy = "turbo"
	_, err := New(context.Background(), Options{Config: cfg})
	assert.Error(t, err)
}

func TestNewRejectsMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.CatalogPath = t.TempDir() + "/missing.yaml"
	_, err := New(context.Background(), Options{Config: cfg})
	assert.Error(t, err)
}

func TestSweepIdleStopsWithContext(t *testing.T) {
	a, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.SweepIdle(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	require.NoError(t, a.Close(context.Background()))
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, NewLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("error").Enabled(ctx, slog.LevelWarn))
}
