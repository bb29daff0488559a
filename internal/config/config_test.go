package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("THREADRELAY_DATA_DIR", dir)
	t.Setenv("THREADRELAY_ADDR", "")
	t.Setenv("THREADRELAY_BACKEND_URL", "")
	t.Setenv("THREADRELAY_ACTIVE_WINDOW", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerAddr != ":7600" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.BackendURL != "http://localhost:4096" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.SessionsDir != filepath.Join(dir, "sessions") {
		t.Errorf("SessionsDir = %q", cfg.SessionsDir)
	}
	if cfg.ArchivePath != filepath.Join(dir, "threadrelay.db") {
		t.Errorf("ArchivePath = %q", cfg.ArchivePath)
	}
	if cfg.ActiveThreadWindow != 24*time.Hour {
		t.Errorf("ActiveThreadWindow = %v", cfg.ActiveThreadWindow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("THREADRELAY_DATA_DIR", t.TempDir())
	t.Setenv("THREADRELAY_ADDR", ":9999")
	t.Setenv("THREADRELAY_BACKEND_URL", "http://backend:1234")
	t.Setenv("THREADRELAY_ACTIVE_WINDOW", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerAddr != ":9999" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.BackendURL != "http://backend:1234" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.ActiveThreadWindow != 2*time.Hour {
		t.Errorf("ActiveThreadWindow = %v", cfg.ActiveThreadWindow)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{BackendURL: "http://localhost:4096"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error with no transport configured")
	}

	cfg.TelegramBotToken = "tok"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with Telegram configured: %v", err)
	}

	cfg = &Config{
		BackendURL:    "http://localhost:4096",
		SlackBotToken: "xoxb-1",
	}
	if cfg.SlackEnabled() {
		t.Error("Slack should need both bot and app tokens")
	}
	cfg.SlackAppToken = "xapp-1"
	if !cfg.SlackEnabled() {
		t.Error("Slack should be enabled with both tokens")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with Slack configured: %v", err)
	}
}
