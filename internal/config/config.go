// Package config loads engine configuration from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chaosslabs/personal-automator/internal/platform"
)

// Config holds all runtime configuration for the engine.
type Config struct {
	DataDir string
	DBPath  string

	ExecutionDefaultTimeout time.Duration
	ExecutionMaxTimeout     time.Duration
	MaxConsoleOutputSize    int
	AllowedEnvVars          []string

	PBKDF2Iterations int

	CatchupSweepInterval time.Duration

	TelegramToken  string
	TelegramChatID int64

	WebhookURL     string
	WebhookTimeout time.Duration
}

// Load reads environment variables and returns a Config.
// Uses sensible defaults for optional fields.
func Load() *Config {
	dataDir := getEnv("DATA_DIR", platform.DefaultDataDir())

	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)

	return &Config{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "personal-automator.db"),

		ExecutionDefaultTimeout: time.Duration(getEnvInt("EXECUTION_DEFAULT_TIMEOUT_MS", 30_000)) * time.Millisecond,
		ExecutionMaxTimeout:     time.Duration(getEnvInt("EXECUTION_MAX_TIMEOUT_MS", 300_000)) * time.Millisecond,
		MaxConsoleOutputSize:    getEnvInt("MAX_CONSOLE_OUTPUT_SIZE", 1<<20), // 1 MiB
		AllowedEnvVars:          getEnvList("ALLOWED_ENV_VARS"),

		PBKDF2Iterations: getEnvInt("PBKDF2_ITERATIONS", 100_000),

		CatchupSweepInterval: time.Duration(getEnvInt("CATCHUP_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: chatID,

		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookTimeout: time.Duration(getEnvInt("WEBHOOK_TIMEOUT_MS", 10_000)) * time.Millisecond,
	}
}

// getEnvList parses a comma-separated env var into a trimmed, non-empty
// slice of names. Returns nil if unset.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
