// Package agent defines the contract with the coding-agent backend and the
// session manager that maps conversations to live backend sessions.
//
// The backend itself (tool execution, model inference) is an external
// collaborator reached over its HTTP API; see the rest subpackage for the
// concrete client.
package agent

import "context"

// PromptPart is one part of a prompt submission.
type PromptPart struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

// PromptRequest is one prompt submission to a backend session.
type PromptRequest struct {
	SessionID    string       `json:"-"`
	Directory    string       `json:"directory,omitempty"`
	Parts        []PromptPart `json:"parts"`
	Agent        string       `json:"agent,omitempty"` // "plan" or "build"
	Model        string       `json:"model,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	SystemPrompt string       `json:"system,omitempty"`
}

// ResponsePart is one part of a completed prompt response.
type ResponsePart struct {
	Type string `json:"type"` // "text", "reasoning", "tool"
	Text string `json:"text,omitempty"`
}

// PromptResponse is the backend's final answer for one prompt.
type PromptResponse struct {
	MessageID string         `json:"message_id,omitempty"`
	Parts     []ResponsePart `json:"parts"`
}

// Text joins all text parts of the response with blank lines.
func (r *PromptResponse) Text() string {
	var out string
	for _, p := range r.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p.Text
	}
	return out
}

// Client is the coding-agent backend API.
type Client interface {
	// CreateSession creates a new backend session rooted at directory.
	CreateSession(ctx context.Context, directory string) (string, error)

	// SessionExists reports whether the backend still recognizes sessionID.
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// SendPrompt runs one prompt to completion and returns the response
	// parts. The backend cannot process two concurrent prompts for the same
	// session; serialization is the Manager's job.
	SendPrompt(ctx context.Context, req PromptRequest) (*PromptResponse, error)

	// Abort requests backend-side cancellation of the session's current work.
	Abort(ctx context.Context, sessionID, directory string) error

	// PermissionReply answers a permission request.
	PermissionReply(ctx context.Context, requestID, reply string) error

	// Events opens the backend's live event stream. The channel closes when
	// ctx is canceled or the stream ends.
	Events(ctx context.Context) (<-chan Event, error)
}
