package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all canvass server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string `json:"listen_addr"`
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	SweepSchedule   string `json:"sweep_schedule"`
	SessionIdleMins int    `json:"session_idle_minutes"`
	SweepBatchLimit int    `json:"sweep_batch_limit"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":4600",
		DBPath:          filepath.Join(canvassDir(), "canvass.db"),
		LogLevel:        "info",
		SweepSchedule:   "*/5 * * * *",
		SessionIdleMins: 30,
		SweepBatchLimit: 100,
	}
}

func canvassDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".canvass"
	}
	return filepath.Join(home, ".canvass")
}

func settingsPath() string {
	return filepath.Join(canvassDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CANVASS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CANVASS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CANVASS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CANVASS_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}
	if v := os.Getenv("CANVASS_SESSION_IDLE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionIdleMins = n
		}
	}
	if v := os.Getenv("CANVASS_SWEEP_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepBatchLimit = n
		}
	}

	return cfg
}
