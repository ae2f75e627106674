package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "fingerprint-api", cfg.RateLimit.ServiceLabel)
	assert.Equal(t, 2.0, cfg.RateLimit.EndpointCosts["/compare"])
	assert.Contains(t, cfg.RateLimit.ExemptPaths, "/metrics")
	assert.Equal(t, 24, cfg.Auth.ExpiryHours)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.SweepInterval())
	assert.Equal(t, time.Hour, cfg.RateLimit.SweepRetention())
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"server": {"port": "9090", "environment": "production"},
		"rate_limit": {
			"sweep_interval_seconds": 60,
			"tiers": {"free": {"per_minute": 10, "monthly": 100, "burst_multiplier": 2.0}}
		},
		"backends": [{"path": "/identify", "targets": ["http://localhost:3001"]}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.RateLimit.SweepInterval())
	require.Contains(t, cfg.RateLimit.Tiers, "free")
	require.NotNil(t, cfg.RateLimit.Tiers["free"].PerMinute)
	assert.Equal(t, uint64(10), *cfg.RateLimit.Tiers["free"].PerMinute)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "/identify", cfg.Backends[0].Path)
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "7070")

	cfg, err := Load(writeConfig(t, `{"auth": {"jwt_secret": "from-file"}}`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "7070", cfg.Server.Port)
}
