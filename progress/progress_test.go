package progress

import (
	"testing"

	"github.com/threadrelay/threadrelay/agent"
	"github.com/threadrelay/threadrelay/model"
)

func TestStatusFromEvent_SessionFilter(t *testing.T) {
	ev := agent.Event{
		Type:      agent.EventReasoning,
		SessionID: "ses_other",
	}
	if _, ok := StatusFromEvent(ev, "ses_mine"); ok {
		t.Fatal("expected no status for a different session's event")
	}
}

func TestStatusFromEvent_Deterministic(t *testing.T) {
	ev := agent.Event{
		Type:      agent.EventToolUpdated,
		SessionID: "ses_1",
		Tool: &agent.ToolPart{
			ID:     "t1",
			Name:   "grep",
			Status: model.ToolRunning,
			Input:  map[string]string{"pattern": "TODO", "path": "src/"},
		},
	}

	first, ok := StatusFromEvent(ev, "ses_1")
	if !ok {
		t.Fatal("expected a status")
	}
	for i := 0; i < 5; i++ {
		got, ok := StatusFromEvent(ev, "ses_1")
		if !ok || got != first {
			t.Fatalf("call %d: got (%q, %v), want (%q, true)", i, got, ok, first)
		}
	}
	if first != `Running tool: Grep "TODO" in src/` {
		t.Fatalf("unexpected label %q", first)
	}
}

func TestStatusFromEvent_ToolStates(t *testing.T) {
	tests := []struct {
		status model.ToolStatus
		want   string
	}{
		{model.ToolRunning, "Running tool: ls"},
		{model.ToolPending, "Preparing tool: ls"},
		{model.ToolCompleted, "Finished tool: ls"},
		{model.ToolError, "Failed tool: ls"},
	}
	for _, tt := range tests {
		ev := agent.Event{
			Type:      agent.EventToolUpdated,
			SessionID: "s",
			Tool:      &agent.ToolPart{Name: "ls", Status: tt.status},
		}
		got, ok := StatusFromEvent(ev, "s")
		if !ok || got != tt.want {
			t.Errorf("status %q: got (%q, %v), want (%q, true)", tt.status, got, ok, tt.want)
		}
	}
}

func TestStatusFromEvent_SessionStatus(t *testing.T) {
	tests := []struct {
		status  string
		retryIn int
		want    string
	}{
		{agent.SessionBusy, 0, "Working"},
		{agent.SessionRetry, 0, "Retrying"},
		{agent.SessionRetry, 30, "Retrying in 30s"},
		{agent.SessionIdle, 0, "Waiting"},
	}
	for _, tt := range tests {
		ev := agent.Event{
			Type:      agent.EventSessionStatus,
			SessionID: "s",
			Status:    &agent.SessionStatus{Status: tt.status, RetryInSeconds: tt.retryIn},
		}
		got, ok := StatusFromEvent(ev, "s")
		if !ok || got != tt.want {
			t.Errorf("status %q/%d: got (%q, %v), want (%q, true)", tt.status, tt.retryIn, got, ok, tt.want)
		}
	}
}

func TestStatusFromEvent_TextAndReasoning(t *testing.T) {
	got, ok := StatusFromEvent(agent.Event{Type: agent.EventReasoning, SessionID: "s"}, "s")
	if !ok || got != "Thinking" {
		t.Fatalf("reasoning: got (%q, %v)", got, ok)
	}
	got, ok = StatusFromEvent(agent.Event{Type: agent.EventText, SessionID: "s"}, "s")
	if !ok || got != "Drafting response" {
		t.Fatalf("text: got (%q, %v)", got, ok)
	}
}

func TestStatusFromEvent_UnknownAndIrrelevantTypes(t *testing.T) {
	for _, typ := range []string{"something.new", agent.EventTodoUpdated, agent.EventPermissionAsked} {
		if _, ok := StatusFromEvent(agent.Event{Type: typ, SessionID: "s"}, "s"); ok {
			t.Errorf("type %q: expected no status", typ)
		}
	}

	// Tool event without a payload is malformed, not a crash.
	if _, ok := StatusFromEvent(agent.Event{Type: agent.EventToolUpdated, SessionID: "s"}, "s"); ok {
		t.Fatal("tool event without payload should produce no status")
	}
}

func TestToolDetail(t *testing.T) {
	tests := []struct {
		name string
		tool *agent.ToolPart
		want string
	}{
		{"grep with path", &agent.ToolPart{Name: "grep", Input: map[string]string{"pattern": "init", "path": "cmd/"}}, `Grep "init" in cmd/`},
		{"grep no path", &agent.ToolPart{Name: "grep", Input: map[string]string{"pattern": "init"}}, `Grep "init"`},
		{"bash", &agent.ToolPart{Name: "bash", Input: map[string]string{"command": "go test ./..."}}, "$ go test ./..."},
		{"read", &agent.ToolPart{Name: "read", Input: map[string]string{"file_path": "/repo/internal/a.go"}}, "Read a.go"},
		{"edit", &agent.ToolPart{Name: "edit", Input: map[string]string{"file_path": "b.go"}}, "Edit b.go"},
		{"glob", &agent.ToolPart{Name: "glob", Input: map[string]string{"pattern": "**/*.go"}}, "Glob **/*.go"},
		{"fetch", &agent.ToolPart{Name: "webfetch", Input: map[string]string{"url": "https://example.com"}}, "Fetch https://example.com"},
		{"title fallback", &agent.ToolPart{Name: "custom", Title: "Doing a thing"}, "Doing a thing"},
		{"name fallback", &agent.ToolPart{Name: "custom"}, "custom"},
	}
	for _, tt := range tests {
		if got := ToolDetail(tt.tool); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
