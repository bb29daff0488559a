package gateway

import (
	"strings"
	"testing"
)

func TestSplitMessageShortText(t *testing.T) {
	chunks := SplitMessage("hello", 3000)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("expected single chunk, got %v", chunks)
	}
}

func TestSplitMessageRoundTrip(t *testing.T) {
	// A mix of paragraphs, long lines and a trailing fragment.
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line with some words in it number ")
		b.WriteString(strings.Repeat("x", i%17))
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("nospacesatallhere", 300))
	text := b.String()

	chunks := SplitMessage(text, 3000)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for %d bytes", len(text))
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("concatenated chunks do not reproduce the input")
	}
	for i, c := range chunks {
		if len(c) > 3000 {
			t.Fatalf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
		if c == "" {
			t.Fatalf("chunk %d is empty", i)
		}
	}
}

func TestSplitMessagePrefersNewline(t *testing.T) {
	// Newline in the second half of the window: must split there.
	text := strings.Repeat("a", 70) + "\n" + strings.Repeat("b", 60)
	chunks := SplitMessage(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Fatalf("expected first chunk to end at the newline, got %q", chunks[0])
	}
}

func TestSplitMessageFallsBackToSpace(t *testing.T) {
	text := strings.Repeat("a", 80) + " " + strings.Repeat("b", 80)
	chunks := SplitMessage(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], " ") {
		t.Fatalf("expected first chunk to end at the space, got tail %q", chunks[0][len(chunks[0])-5:])
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := SplitMessage(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 50 {
		t.Fatalf("unexpected chunk sizes: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestSplitMessageIgnoresEarlySeparators(t *testing.T) {
	// A newline in the first half of the window must not win over a hard cut
	// when the second half has no separators.
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 200)
	chunks := SplitMessage(text, 100)
	if len(chunks[0]) != 100 {
		t.Fatalf("expected hard cut at 100, got %d", len(chunks[0]))
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("round trip failed")
	}
}
