package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all morphos server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string   `json:"db_path"`
	HistoryDir    string   `json:"history_dir"`
	LogLevel      string   `json:"log_level"`
	AgentCommand  string   `json:"agent_command"`
	AgentArgs     []string `json:"agent_args"`
	ModelFlag     string   `json:"model_flag"`
	MaxConcurrent int      `json:"max_concurrent"`
	CronEnabled   bool     `json:"cron_enabled"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(morphosDir(), "morphos.db"),
		HistoryDir:   filepath.Join(morphosDir(), "history"),
		LogLevel:     "info",
		AgentCommand: "claude",
		AgentArgs:    []string{"-p"},
		ModelFlag:    "--model",
		CronEnabled:  true,
	}
}

func morphosDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".morphos"
	}
	return filepath.Join(home, ".morphos")
}

func settingsPath() string {
	return filepath.Join(morphosDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("MORPHOS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MORPHOS_HISTORY_DIR"); v != "" {
		cfg.HistoryDir = v
	}
	if v := os.Getenv("MORPHOS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MORPHOS_AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}
	if v := os.Getenv("MORPHOS_MODEL_FLAG"); v != "" {
		cfg.ModelFlag = v
	}
	if v := os.Getenv("MORPHOS_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MORPHOS_CRON_ENABLED"); v != "" {
		cfg.CronEnabled = v == "true" || v == "1"
	}

	return cfg
}
