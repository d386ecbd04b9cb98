package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGINS", "DEPLOYMENTS_PATH", "ENCRYPTION_KEY",
		"SSH_TEMP_DIR", "MIN_FREE_DISK_BYTES", "KEEP_LAST_N", "WEBHOOK_RATE_LIMIT_RPS", "DATABASE_URL",
	} {
		original, had := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(key, original)
			}
		})
	}
}

func TestLoad_RequiresEncryptionKey(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", "deadbeef")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.EqualValues(t, 5*1024*1024*1024, cfg.MinFreeDiskBytes)
	assert.Equal(t, 5, cfg.KeepLastN)
}

func TestLoad_ParsesAllowedOriginsCSV(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", "deadbeef")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_RejectsMalformedIntegerOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", "deadbeef")
	t.Setenv("KEEP_LAST_N", "not-a-number")

	_, err := config.Load()
	assert.Error(t, err)
}
