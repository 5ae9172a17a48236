package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.PlansDir)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHOREO_DB_PATH", "/tmp/test-choreo.db")
	t.Setenv("CHOREO_LOG_LEVEL", "debug")
	t.Setenv("CHOREO_POOL_SIZE", "42")
	t.Setenv("CHOREO_MAX_ATTEMPTS", "5")
	t.Setenv("CHOREO_SESSION_TIMEOUT", "30m")
	t.Setenv("CHOREO_METRICS_ADDR", ":9999")

	cfg := loadConfig()
	assert.Equal(t, "/tmp/test-choreo.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 42, cfg.PoolSize)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, "30m", cfg.SessionTimeout)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
}

func TestEnvOverridesIgnoreMalformedNumbers(t *testing.T) {
	t.Setenv("CHOREO_POOL_SIZE", "many")
	cfg := loadConfig()
	assert.Equal(t, defaultConfig().PoolSize, cfg.PoolSize)
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, 5*time.Second, duration("5s", time.Minute))
	assert.Equal(t, time.Minute, duration("", time.Minute))
	assert.Equal(t, time.Minute, duration("soon", time.Minute))
	assert.Equal(t, time.Minute, duration("-3s", time.Minute))
}
