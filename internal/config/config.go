// Package config provides configuration management for ThreadRelay.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration for the ThreadRelay server.
type Config struct {
	// ServerAddr is the address the action API listens on (e.g., ":7600").
	ServerAddr string

	// DataDir is the directory for persistent data (sessions, settings,
	// turn archive).
	DataDir string

	// SessionsDir is the directory holding per-conversation session files.
	SessionsDir string

	// SettingsPath is the path to the workspace settings JSON file.
	SettingsPath string

	// ArchivePath is the path to the SQLite turn archive.
	ArchivePath string

	// BackendURL is the base URL of the agent backend.
	BackendURL string

	// ActionToken, when non-empty, is required as a bearer credential on
	// the action API.
	ActionToken string

	// Slack integration (Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string

	// Telegram integration (optional -- long polling, no public URL needed).
	TelegramBotToken string

	// DefaultWorkingDir is the working directory used for new backend
	// sessions when a channel has no override.
	DefaultWorkingDir string

	// ActiveThreadWindow is how long a thread stays active after a mention.
	ActiveThreadWindow time.Duration
}

// Load creates a Config from environment variables with sensible defaults.
// Values from ~/.threadrelay/config.env fill in any variables not already
// set in the environment.
func Load() (*Config, error) {
	loadConfigFileIntoEnv()

	dataDir := envOr("THREADRELAY_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:         envOr("THREADRELAY_ADDR", ":7600"),
		DataDir:            dataDir,
		SessionsDir:        filepath.Join(dataDir, "sessions"),
		SettingsPath:       filepath.Join(dataDir, "settings.json"),
		ArchivePath:        filepath.Join(dataDir, "threadrelay.db"),
		BackendURL:         envOr("THREADRELAY_BACKEND_URL", "http://localhost:4096"),
		ActionToken:        os.Getenv("THREADRELAY_ACTION_TOKEN"),
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:      os.Getenv("SLACK_APP_TOKEN"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		DefaultWorkingDir:  os.Getenv("THREADRELAY_WORKDIR"),
		ActiveThreadWindow: envOrDuration("THREADRELAY_ACTIVE_WINDOW", 24*time.Hour),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("THREADRELAY_BACKEND_URL is required")
	}
	if !c.SlackEnabled() && !c.TelegramEnabled() {
		return fmt.Errorf("at least one chat transport must be configured (SLACK_BOT_TOKEN + SLACK_APP_TOKEN, or TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// loadConfigFileIntoEnv reads ~/.threadrelay/config.env and sets any values
// not already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".threadrelay", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".threadrelay"
	}
	return filepath.Join(home, ".threadrelay")
}
