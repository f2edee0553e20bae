package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	for _, k := range []string{"DB_DRIVER", "DSN", "API_PREFIX", "SMS_PROVIDER", "SMS_TIMEOUT", "SOS_DEFAULT_DURATION", "LANGUAGE_DEFAULT"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, "simulated", cfg.SMS.Provider)
	assert.Equal(t, 5*time.Second, cfg.SMS.Timeout)
	assert.Equal(t, int64(600), cfg.SOS.DefaultDuration)
	assert.Equal(t, 16, cfg.SOS.DispatchLanes)
	assert.Equal(t, "es", cfg.Language)
	assert.False(t, cfg.Push.Enabled())
	assert.Equal(t, "60-M", cfg.RateLimit.Rate)
	assert.Equal(t, "120-M", cfg.RateLimit.Location)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("SMS_PROVIDER", "http")
	t.Setenv("SMS_TIMEOUT", "2")
	t.Setenv("SOS_DEFAULT_DURATION", "300")
	t.Setenv("SOS_OVERDUE_SWEEP", "@every 30s")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	t.Setenv("RATE_LIMIT_LOCATION", "300-M")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8, 172.16.0.0/12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "http", cfg.SMS.Provider)
	assert.Equal(t, 2*time.Second, cfg.SMS.Timeout)
	assert.Equal(t, int64(300), cfg.SOS.DefaultDuration)
	assert.Equal(t, "@every 30s", cfg.SOS.OverdueSweep)
	assert.True(t, cfg.Push.Enabled())
	assert.Equal(t, "300-M", cfg.RateLimit.Location)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, cfg.RateLimit.Whitelist)
}
