package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all choreod daemon configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	PlansDir       string `json:"plans_dir"`
	LogLevel       string `json:"log_level"`
	MetricsAddr    string `json:"metrics_addr"` // empty disables the endpoint
	PoolSize       int    `json:"pool_size"`
	MaxAttempts    int    `json:"max_attempts"`
	StepTimeout    string `json:"step_timeout"`
	SessionTimeout string `json:"session_timeout"`
	PollInterval   string `json:"poll_interval"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(choreoDir(), "choreo.db"),
		PlansDir:       filepath.Join(choreoDir(), "plans"),
		LogLevel:       "info",
		MetricsAddr:    ":9464",
		PoolSize:       10,
		MaxAttempts:    3,
		StepTimeout:    "60s",
		SessionTimeout: "10m",
		PollInterval:   "2s",
	}
}

func choreoDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".choreo"
	}
	return filepath.Join(home, ".choreo")
}

func settingsPath() string {
	return filepath.Join(choreoDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CHOREO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHOREO_PLANS_DIR"); v != "" {
		cfg.PlansDir = v
	}
	if v := os.Getenv("CHOREO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHOREO_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("CHOREO_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("CHOREO_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("CHOREO_STEP_TIMEOUT"); v != "" {
		cfg.StepTimeout = v
	}
	if v := os.Getenv("CHOREO_SESSION_TIMEOUT"); v != "" {
		cfg.SessionTimeout = v
	}
	if v := os.Getenv("CHOREO_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}

	return cfg
}

// duration parses s, falling back to def on empty or malformed values.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
