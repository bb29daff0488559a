package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("request timed out after 60s"), ErrTimeout},
		{errors.New("429 Too Many Requests"), ErrRateLimited},
		{errors.New("rate limit exceeded"), ErrRateLimited},
		{errors.New("server returned 401 Unauthorized"), ErrAuth},
		{errors.New("invalid_auth"), ErrAuth},
		{errors.New("dial tcp: connection refused"), ErrNetwork},
		{errors.New("lookup backend: no such host"), ErrNetwork},
		{ErrEmptyResponse, ErrEmpty},
		{fmt.Errorf("running prompt: %w", ErrEmptyResponse), ErrEmpty},
		{errors.New("something exploded"), ErrUncategorized},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		if got.Kind != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.err, got.Kind, tc.want)
		}
		if got.Suggestion == "" {
			t.Errorf("Classify(%q) has no suggestion", tc.err)
		}
	}
}

func TestClassifyTruncatesUncategorized(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := Classify(errors.New(long))
	if got.Kind != ErrUncategorized {
		t.Fatalf("unexpected kind %s", got.Kind)
	}
	if len(got.Message) > 100 {
		t.Fatalf("uncategorized message not truncated: %d chars", len(got.Message))
	}
}

func TestClassifiedErrorRender(t *testing.T) {
	rendered := Classify(errors.New("dial tcp: connection refused")).Render()
	if !strings.Contains(rendered, "network") {
		t.Fatalf("render missing kind: %q", rendered)
	}
	if !strings.Contains(rendered, "Check that the backend is running.") {
		t.Fatalf("render missing suggestion: %q", rendered)
	}
}
