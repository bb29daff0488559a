package threadrelay

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/threadrelay/threadrelay/agent/rest"
	fileStore "github.com/threadrelay/threadrelay/store/file"
	sqliteStore "github.com/threadrelay/threadrelay/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7600"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.SessionsDir == "" {
		b.config.SessionsDir = filepath.Join(b.config.DataDir, "sessions")
	}
	if b.config.SettingsPath == "" {
		b.config.SettingsPath = filepath.Join(b.config.DataDir, "settings.json")
	}
	if b.config.ArchivePath == "" {
		b.config.ArchivePath = filepath.Join(b.config.DataDir, "threadrelay.db")
	}
	if b.config.BackendURL == "" {
		b.config.BackendURL = "http://localhost:4096"
	}
	if b.config.ActiveThreadWindow == 0 {
		b.config.ActiveThreadWindow = 24 * time.Hour
	}

	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// The outbound chat surface has no default: it needs transport
	// credentials the caller must supply.
	if b.gw == nil {
		return fmt.Errorf("a gateway is required (use WithGateway)")
	}

	if b.sessions == nil {
		s, err := fileStore.NewSessionStore(b.config.SessionsDir)
		if err != nil {
			return fmt.Errorf("initializing session store: %w", err)
		}
		b.sessions = s
	}

	if b.settingsStore == nil {
		s, err := fileStore.NewSettingsStore(b.config.SettingsPath)
		if err != nil {
			return fmt.Errorf("initializing settings store: %w", err)
		}
		b.settingsStore = s
	}

	if b.archive == nil {
		a, err := sqliteStore.New(b.config.ArchivePath)
		if err != nil {
			return fmt.Errorf("initializing turn archive: %w", err)
		}
		b.archive = a
	}

	if b.backend == nil {
		b.backend = rest.New(b.config.BackendURL)
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".threadrelay"
	}
	return filepath.Join(home, ".threadrelay")
}
