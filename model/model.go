// Package model defines the core domain types shared across all ThreadRelay
// packages. It has zero dependencies on other ThreadRelay packages.
package model

import (
	"fmt"
	"time"
)

// RequestState is the lifecycle state of an in-flight agent turn.
type RequestState string

const (
	RequestProcessing RequestState = "processing"
	RequestCompleted  RequestState = "completed"
	RequestFailed     RequestState = "failed"
)

// ToolStatus is the lifecycle state of a single tool invocation.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// TodoStatus is the lifecycle state of an agent-reported checklist item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// PlanStatus drives the two-phase plan/build protocol for a thread.
type PlanStatus string

const (
	PlanPlanning      PlanStatus = "planning"
	PlanAwaitingInput PlanStatus = "awaiting_input"
	PlanReady         PlanStatus = "ready"
	PlanBuilding      PlanStatus = "building"
	PlanComplete      PlanStatus = "complete"
)

// ConversationSession is the durable record for one (channel, thread)
// conversation. Created on the first inbound message in a thread, mutated on
// every status tick and phase transition, deleted only by an explicit
// clear-sessions action.
type ConversationSession struct {
	ChannelID      string    `json:"channel_id"`
	ThreadID       string    `json:"thread_id"`
	SessionID      string    `json:"session_id"` // backend session
	WorkingDir     string    `json:"working_dir"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	ActiveRequest   *ActiveRequest   `json:"active_request,omitempty"`
	Plan            *Plan            `json:"plan,omitempty"`
	PendingQuestion *PendingQuestion `json:"pending_question,omitempty"`
}

// Key returns the conversation key ("channelID:threadID").
func (s *ConversationSession) Key() string {
	return ConversationKey(s.ChannelID, s.ThreadID)
}

// ConversationKey builds the compound key that partitions all per-thread
// state.
func ConversationKey(channelID, threadID string) string {
	return fmt.Sprintf("%s:%s", channelID, threadID)
}

// ActiveRequest represents one in-flight prompt submission. At most one
// ActiveRequest exists per ConversationSession at a time; a new prompt in the
// same thread is queued behind it, never run concurrently.
type ActiveRequest struct {
	SessionID       string        `json:"session_id"`
	ChannelID       string        `json:"channel_id"`
	ThreadID        string        `json:"thread_id"`
	StatusMessageID string        `json:"status_message_id"`
	Prompt          string        `json:"prompt"`
	StartedAt       time.Time     `json:"started_at"`
	LastUpdatedAt   time.Time     `json:"last_updated_at"`
	CurrentStatus   string        `json:"current_status,omitempty"`
	CurrentStep     string        `json:"current_step,omitempty"`
	CurrentText     string        `json:"current_text,omitempty"`
	Tools           []TrackedTool `json:"tools,omitempty"`
	Todos           []TrackedTodo `json:"todos,omitempty"`
	State           RequestState  `json:"state"`
	FinalResponseID string        `json:"final_response_id,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Tool returns the tracked tool with the given invocation id, or nil.
func (r *ActiveRequest) Tool(id string) *TrackedTool {
	for i := range r.Tools {
		if r.Tools[i].ID == id {
			return &r.Tools[i]
		}
	}
	return nil
}

// TrackedTool is one tool invocation observed during a turn.
type TrackedTool struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status ToolStatus `json:"status"`
	Title  string     `json:"title,omitempty"`
	Output string     `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// TrackedTodo is one agent-reported checklist item.
type TrackedTodo struct {
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// Plan is the per-thread planning state for the two-phase protocol.
type Plan struct {
	Status    PlanStatus    `json:"status"`
	Todos     []TrackedTodo `json:"todos,omitempty"`
	MessageID string        `json:"message_id,omitempty"` // the mirrored plan message
	Text      string        `json:"text,omitempty"`
}

// PendingQuestion is a backend-issued multiple-choice question awaiting a
// user button click in the thread.
type PendingQuestion struct {
	RequestID string     `json:"request_id"`
	SessionID string     `json:"session_id"`
	AskedAt   time.Time  `json:"asked_at"`
	Questions []Question `json:"questions"`
	MessageID string     `json:"message_id,omitempty"`
}

// Question is one multiple-choice question with its options.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Multiple bool     `json:"multiple,omitempty"`
	Custom   bool     `json:"custom,omitempty"`
}

// ChannelSettings holds per-channel configuration.
type ChannelSettings struct {
	WorkingDir string `json:"working_dir,omitempty"`
	// ThreadSessions maps thread id to backend session id.
	ThreadSessions map[string]string `json:"thread_sessions,omitempty"`
	Agent          string            `json:"agent,omitempty"`
	Model          string            `json:"model,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	Reasoning      string            `json:"reasoning,omitempty"`
	// ActiveThreads maps thread id to the last time the bot was addressed
	// there, used for the active-thread window (24h by default).
	ActiveThreads map[string]time.Time `json:"active_threads,omitempty"`
}

// PendingRestart marks a "restarting..." placeholder message posted before a
// deliberate self-restart, so the next boot can update it to "restart
// complete".
type PendingRestart struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Settings is the process-wide settings snapshot.
type Settings struct {
	Channels        map[string]*ChannelSettings `json:"channels,omitempty"`
	PendingRestarts []PendingRestart            `json:"pending_restarts,omitempty"`
	// OAuthState holds transient OAuth handshake state keyed by flow id.
	OAuthState map[string]string `json:"oauth_state,omitempty"`
}

// NewSettings returns an empty settings snapshot with maps allocated.
func NewSettings() *Settings {
	return &Settings{
		Channels:   make(map[string]*ChannelSettings),
		OAuthState: make(map[string]string),
	}
}

// Channel returns the settings for a channel, creating them if absent.
func (s *Settings) Channel(channelID string) *ChannelSettings {
	if s.Channels == nil {
		s.Channels = make(map[string]*ChannelSettings)
	}
	cs, ok := s.Channels[channelID]
	if !ok {
		cs = &ChannelSettings{}
		s.Channels[channelID] = cs
	}
	return cs
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
