package ratecontrol

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLimitsOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rate_limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate_limits:
  default_rpm: 10
  default_tpm: 1000
  provider_overrides:
    Anthropic:
      rpm: 5
      tpm: 500
`), 0o644))

	l, err := LoadLimits(path)
	require.NoError(t, err)
	assert.Equal(t, RateLimit{RPM: 5, TPM: 500}, l.ForProvider("anthropic"))
	assert.Equal(t, builtInProviderLimits["xai"], l.ForProvider("xai"))
	assert.Equal(t, RateLimit{RPM: 10, TPM: 1000}, l.ForProvider("somewhere-else"))
}

func TestLoadLimitsMissingFile(t *testing.T) {
	l, err := LoadLimits(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, builtInProviderLimits["anthropic"], l.ForProvider("anthropic"))
}

func TestLimiterUnlimitedProvider(t *testing.T) {
	l := NewLimiter(DefaultLimits())
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "ollama", 5000))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiterRespectsContext(t *testing.T) {
	limits := DefaultLimits()
	limits.overrides["slow"] = RateLimit{RPM: 1}
	l := NewLimiter(limits)

	require.NoError(t, l.Wait(context.Background(), "slow", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "slow", 0))
}

func TestNilLimiterIsNoop(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background(), "anthropic", 100))
}
