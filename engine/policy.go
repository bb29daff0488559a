package engine

import (
	"regexp"
	"strings"
)

// Product heuristics for routing inbound text. These are deliberate
// string-level policies with user-visible behavior; changing them changes the
// product, so they live here as named functions pinned by tests.

var (
	stopRe        = regexp.MustCompile(`(?i)\bstop\b`)
	planTriggerRe = regexp.MustCompile(`(?i)^\s*plan\b`)
)

// IsStopCommand reports whether the message asks to cancel the in-flight
// request. Checked before mention/thread-active gating.
func IsStopCommand(text string) bool {
	return stopRe.MatchString(text)
}

// NeedsPlanning reports whether the message should enter the planning phase
// instead of building directly.
func NeedsPlanning(text string) bool {
	return planTriggerRe.MatchString(text)
}

// ContainsQuestion reports whether planner output looks like a clarification
// question. A literal question mark is the signal.
func ContainsQuestion(text string) bool {
	return strings.Contains(text, "?")
}
