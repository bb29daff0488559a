package engine

import "testing"

// These pin the exact behavior of the routing heuristics: they are product
// policy, and changes here are user-visible.

func TestIsStopCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"stop", true},
		{"STOP", true},
		{"please stop now", true},
		{"Stop!", true},
		{"unstoppable", false},
		{"stopping", false},
		{"backstop", false},
		{"keep going", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsStopCommand(tc.text); got != tc.want {
			t.Errorf("IsStopCommand(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestNeedsPlanning(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"plan the refactor", true},
		{"Plan: add caching", true},
		{"  plan this out", true},
		{"PLAN it", true},
		{"planning is fun", false},
		{"make a plan later", false},
		{"fix the bug", false},
	}
	for _, tc := range cases {
		if got := NeedsPlanning(tc.text); got != tc.want {
			t.Errorf("NeedsPlanning(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestContainsQuestion(t *testing.T) {
	if !ContainsQuestion("Which port should it bind to?") {
		t.Error("question mark not detected")
	}
	if ContainsQuestion("All clear, proceeding.") {
		t.Error("false positive without question mark")
	}
	// The heuristic is a literal character check, even mid-sentence.
	if !ContainsQuestion("see foo?bar for details") {
		t.Error("mid-token question mark should count")
	}
}
