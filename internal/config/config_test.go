package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", " key ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.GeminiAPIKey)
	assert.Equal(t, "auto", cfg.TierPolicy)
	assert.Equal(t, 20, cfg.MaxHistory)
	assert.Equal(t, 2500*time.Millisecond, cfg.StatusInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.S3.Enabled())
	assert.True(t, cfg.BotGuest)
}

func TestLoadRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := Load()
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestLoadOverridesAndClamps(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("TIER_POLICY", "PRO")
	t.Setenv("MAX_HISTORY", "0")
	t.Setenv("MAX_CONCURRENT", "-3")
	t.Setenv("STATUS_INTERVAL_MS", "oops")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("EXPORT_S3_BUCKET", "renders")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pro", cfg.TierPolicy)
	assert.Equal(t, 1, cfg.MaxHistory)
	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.Equal(t, 2500*time.Millisecond, cfg.StatusInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.S3.Enabled())
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("TIER_POLICY", "turbo")
	_, err := Load()
	assert.Error(t, err)
}
