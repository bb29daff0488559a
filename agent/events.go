package agent

import (
	"encoding/json"

	"github.com/threadrelay/threadrelay/model"
)

// Event type discriminators for the backend's live stream.
const (
	EventToolUpdated     = "tool.updated"
	EventReasoning       = "reasoning.updated"
	EventText            = "text.updated"
	EventTodoUpdated     = "todo.updated"
	EventSessionStatus   = "session.status"
	EventPermissionAsked = "permission.asked"
	EventSessionError    = "session.error"
)

// Session status values carried by EventSessionStatus.
const (
	SessionBusy  = "busy"
	SessionRetry = "retry"
	SessionIdle  = "idle"
)

// Event is one item from the backend's live stream, discriminated by Type.
// Exactly one payload field is set for a given Type; unknown types carry only
// Type and SessionID so consumers can ignore them with a default case.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	Tool       *ToolPart           `json:"tool,omitempty"`       // EventToolUpdated
	Text       string              `json:"text,omitempty"`       // EventText
	Todos      []model.TrackedTodo `json:"todos,omitempty"`      // EventTodoUpdated
	Status     *SessionStatus      `json:"status,omitempty"`     // EventSessionStatus
	Permission *PermissionRequest  `json:"permission,omitempty"` // EventPermissionAsked
	Error      string              `json:"error,omitempty"`      // EventSessionError
}

// ToolPart describes one tool invocation's current state.
type ToolPart struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Status model.ToolStatus  `json:"status"`
	Title  string            `json:"title,omitempty"`
	Input  map[string]string `json:"input,omitempty"`
	Output string            `json:"output,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// SessionStatus is the session-level activity state.
type SessionStatus struct {
	Status string `json:"status"` // busy, retry, idle
	// RetryInSeconds is set when Status is "retry".
	RetryInSeconds int `json:"retry_in_seconds,omitempty"`
}

// PermissionRequest asks for approval of a tool call, optionally with
// multiple-choice questions for the user.
type PermissionRequest struct {
	RequestID string           `json:"request_id"`
	Questions []model.Question `json:"questions,omitempty"`
}

// ParseEvent decodes one raw stream payload. Unknown event types are not an
// error; they decode to an Event whose payload fields are all empty.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
