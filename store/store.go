// Package store defines the persistence contracts: conversation session
// snapshots, channel settings, and the turn archive.
package store

import (
	"time"

	"github.com/threadrelay/threadrelay/model"
)

// SessionStore persists conversation sessions keyed by channel and thread.
type SessionStore interface {
	// Get returns the session for a conversation, or nil when none exists.
	Get(channelID, threadID string) (*model.ConversationSession, error)

	// Save writes the full session snapshot.
	Save(sess *model.ConversationSession) error

	// Delete removes a conversation's session. Missing sessions are not an
	// error.
	Delete(channelID, threadID string) error

	// All returns every stored session.
	All() ([]*model.ConversationSession, error)

	// Clear removes all sessions.
	Clear() error
}

// SettingsStore persists the global settings snapshot.
type SettingsStore interface {
	Load() (*model.Settings, error)
	Save(settings *model.Settings) error
}

// Turn is one archived request/response exchange.
type Turn struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ThreadID    string    `json:"thread_id"`
	UserID      string    `json:"user_id"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// TurnEvent is one progress event recorded during a turn.
type TurnEvent struct {
	ID        int64     `json:"id"`
	TurnID    string    `json:"turn_id"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnArchive records completed and in-flight turns for inspection from the
// CLI. Archive failures must never block message handling.
type TurnArchive interface {
	CreateTurn(turn *Turn) error
	UpdateTurn(turn *Turn) error
	GetTurn(id string) (*Turn, error)
	ListTurns(limit int) ([]*Turn, error)
	AddEvent(event *TurnEvent) error
	GetEvents(turnID string, afterID int64) ([]*TurnEvent, error)
	Close() error
}
