package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/threadrelay/threadrelay/model"
)

const (
	maxDisplayedTools = 8
	maxDisplayedTodos = 10
)

// renderStatus builds the live status message text from the request's
// current fields: status label, elapsed time, recent tool activity and the
// agent's task checklist.
func renderStatus(req *model.ActiveRequest) string {
	var b strings.Builder

	status := req.CurrentStatus
	if status == "" {
		status = "Working"
	}
	elapsed := time.Since(req.StartedAt).Round(time.Second)
	fmt.Fprintf(&b, "%s (%s)", status, elapsed)

	if req.CurrentStep != "" {
		b.WriteString("\n")
		b.WriteString(req.CurrentStep)
	}

	tools := req.Tools
	if len(tools) > maxDisplayedTools {
		tools = tools[len(tools)-maxDisplayedTools:]
	}
	for _, tool := range tools {
		fmt.Fprintf(&b, "\n%s %s", toolMarker(tool.Status), toolLabel(tool))
	}

	todos := req.Todos
	if len(todos) > maxDisplayedTodos {
		todos = todos[:maxDisplayedTodos]
	}
	if len(todos) > 0 {
		b.WriteString("\n\nTasks:")
		for _, todo := range todos {
			fmt.Fprintf(&b, "\n%s %s", todoMarker(todo.Status), todo.Content)
		}
	}

	return b.String()
}

func toolLabel(tool model.TrackedTool) string {
	if tool.Title != "" {
		return model.Truncate(tool.Title, 60)
	}
	return tool.Name
}

func toolMarker(status model.ToolStatus) string {
	switch status {
	case model.ToolCompleted:
		return "[x]"
	case model.ToolRunning:
		return "[~]"
	case model.ToolError:
		return "[!]"
	default:
		return "[ ]"
	}
}

func todoMarker(status model.TodoStatus) string {
	switch status {
	case model.TodoCompleted:
		return "[x]"
	case model.TodoInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

// renderPlan builds the mirrored plan-message text from the todo checklist.
func renderPlan(todos []model.TrackedTodo) string {
	var b strings.Builder
	b.WriteString("Plan:")
	for _, todo := range todos {
		fmt.Fprintf(&b, "\n%s %s", todoMarker(todo.Status), todo.Content)
	}
	return b.String()
}

// synthesizeBuildPrompt combines the original request, the planner's notes
// and the todo checklist into the build-phase prompt.
func synthesizeBuildPrompt(request, planText string, todos []model.TrackedTodo) string {
	var b strings.Builder
	b.WriteString(request)
	if planText != "" {
		b.WriteString("\n\nPlan notes:\n")
		b.WriteString(planText)
	}
	if len(todos) > 0 {
		b.WriteString("\n\nTasks:\n")
		for _, todo := range todos {
			fmt.Fprintf(&b, "- %s\n", todo.Content)
		}
	}
	return b.String()
}
