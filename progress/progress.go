// Package progress translates raw backend stream events into short
// human-readable status labels.
//
// The translation is a pure function: no side effects, no cross-event memory.
// Every label is derived from exactly one event, so new event types degrade
// to "not relevant" instead of a wrong rendering.
package progress

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/threadrelay/threadrelay/agent"
	"github.com/threadrelay/threadrelay/model"
)

// StatusFromEvent maps one backend event to a short status label for the
// given session. The second return is false when the event is irrelevant to
// that session or has no status rendering (unknown type, todo updates, etc.).
func StatusFromEvent(ev agent.Event, sessionID string) (string, bool) {
	if ev.SessionID != sessionID {
		return "", false
	}

	switch ev.Type {
	case agent.EventToolUpdated:
		if ev.Tool == nil {
			return "", false
		}
		verb := toolVerb(ev.Tool.Status)
		if verb == "" {
			return "", false
		}
		return fmt.Sprintf("%s tool: %s", verb, ToolDetail(ev.Tool)), true

	case agent.EventReasoning:
		return "Thinking", true

	case agent.EventText:
		return "Drafting response", true

	case agent.EventSessionStatus:
		if ev.Status == nil {
			return "", false
		}
		switch ev.Status.Status {
		case agent.SessionBusy:
			return "Working", true
		case agent.SessionRetry:
			if ev.Status.RetryInSeconds > 0 {
				return fmt.Sprintf("Retrying in %ds", ev.Status.RetryInSeconds), true
			}
			return "Retrying", true
		case agent.SessionIdle:
			return "Waiting", true
		default:
			return "", false
		}

	default:
		return "", false
	}
}

func toolVerb(status model.ToolStatus) string {
	switch status {
	case model.ToolRunning:
		return "Running"
	case model.ToolPending:
		return "Preparing"
	case model.ToolCompleted:
		return "Finished"
	case model.ToolError:
		return "Failed"
	default:
		return ""
	}
}

// ToolDetail derives a short, tool-specific description of one invocation.
func ToolDetail(tool *agent.ToolPart) string {
	name := strings.ToLower(tool.Name)
	in := tool.Input

	switch name {
	case "grep":
		pattern := in["pattern"]
		path := in["path"]
		if pattern == "" {
			break
		}
		if path != "" {
			return fmt.Sprintf("Grep %q in %s", pattern, path)
		}
		return fmt.Sprintf("Grep %q", pattern)

	case "glob":
		if p := in["pattern"]; p != "" {
			return fmt.Sprintf("Glob %s", p)
		}

	case "bash", "shell":
		if cmd := in["command"]; cmd != "" {
			return "$ " + model.Truncate(strings.TrimSpace(cmd), 60)
		}

	case "read", "edit", "write":
		if path := in["file_path"]; path != "" {
			return fmt.Sprintf("%s %s", titleWord(name), filepath.Base(path))
		}
		if path := in["path"]; path != "" {
			return fmt.Sprintf("%s %s", titleWord(name), filepath.Base(path))
		}

	case "webfetch", "fetch":
		if url := in["url"]; url != "" {
			return "Fetch " + model.Truncate(url, 60)
		}

	case "task":
		if desc := in["description"]; desc != "" {
			return model.Truncate(desc, 60)
		}
	}

	if tool.Title != "" {
		return model.Truncate(tool.Title, 60)
	}
	return tool.Name
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
