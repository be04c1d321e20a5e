package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstVisitPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")

	s, err := Open(path)
	require.NoError(t, err)

	first, err := s.FirstVisit(OnboardingKey)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.FirstVisit(OnboardingKey)
	require.NoError(t, err)
	assert.False(t, again)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reopened.Get(OnboardingKey))
	first, err = reopened.FirstVisit(OnboardingKey)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestSetAndMemoryOnly(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.NoError(t, s.Set("tips_hidden", true))
	assert.True(t, s.Get("tips_hidden"))
	assert.False(t, s.Get("missing"))
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}
