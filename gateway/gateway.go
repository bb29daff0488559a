// Package gateway defines the chat-transport contract: inbound message and
// interaction events, and the outbound post/update/delete surface the
// orchestrator renders through.
package gateway

import (
	"context"
	"time"
)

// InboundMessage is one user message delivered by the transport.
type InboundMessage struct {
	ChannelID string
	ThreadID  string
	UserID    string
	MessageID string
	Text      string
	// Mention is true when the bot was explicitly @-mentioned.
	Mention bool
	// MentionedUsers lists other user ids @-mentioned in the text.
	MentionedUsers []string
}

// ButtonClick is one interactive-component selection.
type ButtonClick struct {
	ChannelID string
	ThreadID  string
	UserID    string
	MessageID string
	Value     string
}

// HistoryMessage is one message from a thread's history.
type HistoryMessage struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserInfo describes a chat user.
type UserInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Choice is one button option for a posted question.
type Choice struct {
	Label string
	Value string
}

// Handler receives inbound transport events. The orchestrator implements it.
type Handler interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
	HandleButtonClick(ctx context.Context, click ButtonClick)
}

// Gateway is the outbound chat surface. Message ids are
// transport-assigned and opaque.
type Gateway interface {
	// BotUserID returns the transport's id for the bot itself.
	BotUserID() string

	// PostMessage posts text to a thread and returns the new message id.
	PostMessage(ctx context.Context, channelID, threadID, text string) (string, error)

	// UpdateMessage edits an existing message in place.
	UpdateMessage(ctx context.Context, channelID, messageID, text string) error

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// PostChoices posts a question with button options and returns the
	// message id.
	PostChoices(ctx context.Context, channelID, threadID, question string, choices []Choice) (string, error)

	// ThreadHistory returns messages of a thread, oldest first, with a
	// pagination cursor ("" when exhausted).
	ThreadHistory(ctx context.Context, channelID, threadID, cursor string) ([]HistoryMessage, string, error)

	// AddReaction adds an emoji reaction to a message.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// UserInfo looks up a chat user.
	UserInfo(ctx context.Context, userID string) (*UserInfo, error)

	// UploadFile uploads file content to a thread.
	UploadFile(ctx context.Context, channelID, threadID, filename, title, comment string, content []byte) error
}

// Transport is a runnable inbound event source (Socket Mode loop, long
// polling loop). It dispatches events to the Handler registered before Run.
type Transport interface {
	Name() string
	Run(ctx context.Context) error
}
