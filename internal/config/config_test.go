package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Replicate.PollInterval)
	assert.Equal(t, 3, cfg.Replicate.MaxPollErrs)
	assert.Equal(t, "covers", cfg.Worker.Queue)
	assert.Equal(t, 4, cfg.Worker.MaxPreview)
	assert.Equal(t, 10*time.Minute, cfg.Worker.TargetTimeout)
	assert.Equal(t, 50, cfg.Worker.MaxTracks)
	assert.False(t, cfg.Gateway.Enabled)

	rate, ok := cfg.Pricing.LLM["llama-3.3-70b-versatile"]
	require.True(t, ok)
	assert.InDelta(t, 0.59, rate.InputPerMillion, 1e-9)
	assert.InDelta(t, 0.003, cfg.Pricing.Image["black-forest-labs/flux-schnell"], 1e-9)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("REPLICATE_TIMEOUT", "90s")
	t.Setenv("GATEWAY_ENABLED", "true")
	t.Setenv("WORKER_TARGET_TIMEOUT", "4m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Replicate.Timeout)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 4*time.Minute, cfg.Worker.TargetTimeout)
}

func TestLoad_SecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
}
