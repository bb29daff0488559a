package gateway

import (
	"context"
	"strings"
)

// MessageLimit is the maximum length of one outbound chat message. Longer
// text must be split with SplitMessage.
const MessageLimit = 3000

// SplitMessage splits text into chunks of at most limit bytes. Each split
// point prefers the last newline in the window, then the last space, and
// hard-cuts only when neither exists in the second half of the window. The
// separator character stays with the leading chunk, so concatenating the
// chunks reproduces the input exactly.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		window := text[:limit]
		cut := limit

		if idx := strings.LastIndexByte(window, '\n'); idx >= limit/2 {
			cut = idx + 1
		} else if idx := strings.LastIndexByte(window, ' '); idx >= limit/2 {
			cut = idx + 1
		}

		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// PostChunked posts text as one or more messages, splitting at MessageLimit.
// It returns the id of the first posted message.
func PostChunked(ctx context.Context, g Gateway, channelID, threadID, text string) (string, error) {
	var firstID string
	for _, chunk := range SplitMessage(text, MessageLimit) {
		id, err := g.PostMessage(ctx, channelID, threadID, chunk)
		if err != nil {
			return firstID, err
		}
		if firstID == "" {
			firstID = id
		}
	}
	return firstID, nil
}
