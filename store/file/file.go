// Package file implements the session and settings stores as JSON snapshot
// files on disk. Every mutation rewrites the whole file; an in-memory
// write-through cache serves reads.
package file

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/threadrelay/threadrelay/model"
	"github.com/threadrelay/threadrelay/store"
)

// SessionStore keeps one JSON file per conversation under dir.
type SessionStore struct {
	dir string

	mu    sync.Mutex
	cache map[string]*model.ConversationSession
}

// NewSessionStore creates the directory if needed and loads any existing
// session files. Files that fail to parse are skipped with a log line so a
// single corrupt snapshot cannot take the bot down.
func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	s := &SessionStore{
		dir:   dir,
		cache: make(map[string]*model.ConversationSession),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading session dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("store: reading %s: %v", entry.Name(), err)
			continue
		}
		var sess model.ConversationSession
		if err := json.Unmarshal(data, &sess); err != nil {
			log.Printf("store: skipping corrupt session file %s: %v", entry.Name(), err)
			continue
		}
		if sess.ChannelID == "" || sess.ThreadID == "" {
			continue
		}
		s.cache[sess.Key()] = &sess
	}

	return s, nil
}

// Get returns the session for a conversation, or nil when none exists.
func (s *SessionStore) Get(channelID, threadID string) (*model.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[model.ConversationKey(channelID, threadID)], nil
}

// Save writes the session snapshot to disk and updates the cache.
func (s *SessionStore) Save(sess *model.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.WriteFile(s.path(sess.ChannelID, sess.ThreadID), data, 0o644); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	s.cache[sess.Key()] = sess
	return nil
}

// Delete removes a conversation's session file and cache entry.
func (s *SessionStore) Delete(channelID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, model.ConversationKey(channelID, threadID))
	if err := os.Remove(s.path(channelID, threadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// All returns every stored session.
func (s *SessionStore) All() ([]*model.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.ConversationSession, 0, len(s.cache))
	for _, sess := range s.cache {
		out = append(out, sess)
	}
	return out, nil
}

// Clear removes all sessions and their files.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sess := range s.cache {
		if err := os.Remove(s.path(sess.ChannelID, sess.ThreadID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing session file for %s: %w", key, err)
		}
		delete(s.cache, key)
	}
	return nil
}

func (s *SessionStore) path(channelID, threadID string) string {
	name := encodePart(channelID) + "-" + encodePart(threadID) + ".json"
	return filepath.Join(s.dir, name)
}

// encodePart makes an id safe for use in a filename. Chat ids are typically
// alphanumeric already; anything else is percent-encoded.
func encodePart(id string) string {
	return url.QueryEscape(id)
}

// SettingsStore keeps the global settings snapshot in a single JSON file.
type SettingsStore struct {
	path string

	mu     sync.Mutex
	cached *model.Settings
}

// NewSettingsStore points at a settings file, creating parent directories.
func NewSettingsStore(path string) (*SettingsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating settings dir: %w", err)
	}
	return &SettingsStore{path: path}, nil
}

// Load reads the settings, returning defaults when no file exists yet.
func (s *SettingsStore) Load() (*model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.cached = model.NewSettings()
		return s.cached, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	settings := model.NewSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	// Maps may be null in older snapshots.
	if settings.Channels == nil {
		settings.Channels = make(map[string]*model.ChannelSettings)
	}
	if settings.OAuthState == nil {
		settings.OAuthState = make(map[string]string)
	}
	s.cached = settings
	return settings, nil
}

// Save writes the full settings snapshot.
func (s *SettingsStore) Save(settings *model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	s.cached = settings
	return nil
}

var (
	_ store.SessionStore  = (*SessionStore)(nil)
	_ store.SettingsStore = (*SettingsStore)(nil)
)
