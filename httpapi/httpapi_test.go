package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/threadrelay/threadrelay/gateway"
)

type fakeGateway struct {
	mu        sync.Mutex
	posts     []string
	choices   []string
	reactions []string
	uploads   []string
	history   []gateway.HistoryMessage
}

func (g *fakeGateway) BotUserID() string { return "BOT" }

func (g *fakeGateway) PostMessage(ctx context.Context, channelID, threadID, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posts = append(g.posts, text)
	return fmt.Sprintf("msg-%d", len(g.posts)), nil
}

func (g *fakeGateway) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	return nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return nil
}

func (g *fakeGateway) PostChoices(ctx context.Context, channelID, threadID, question string, choices []gateway.Choice) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.choices = append(g.choices, question)
	return "choice-1", nil
}

func (g *fakeGateway) ThreadHistory(ctx context.Context, channelID, threadID, cursor string) ([]gateway.HistoryMessage, string, error) {
	return g.history, "", nil
}

func (g *fakeGateway) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, emoji)
	return nil
}

func (g *fakeGateway) UserInfo(ctx context.Context, userID string) (*gateway.UserInfo, error) {
	return &gateway.UserInfo{ID: userID, Name: "tester"}, nil
}

func (g *fakeGateway) UploadFile(ctx context.Context, channelID, threadID, filename, title, comment string, content []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, filename)
	return nil
}

func doAction(t *testing.T, h *Handler, token string, body map[string]any) (*httptest.ResponseRecorder, actionResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewReader(data))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	var resp actionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	h := New(&fakeGateway{}, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestBearerAuth(t *testing.T) {
	h := New(&fakeGateway{}, "secret")

	rec, _ := doAction(t, h, "", map[string]any{"action": "post_message", "channelId": "C1", "text": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec, _ = doAction(t, h, "wrong", map[string]any{"action": "post_message", "channelId": "C1", "text": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	rec, resp := doAction(t, h, "secret", map[string]any{"action": "post_message", "channelId": "C1", "text": "hi"})
	if rec.Code != http.StatusOK || !resp.OK {
		t.Fatalf("expected success with token, got %d %+v", rec.Code, resp)
	}
}

func TestPostMessageChunksLongText(t *testing.T) {
	gw := &fakeGateway{}
	h := New(gw, "")

	long := strings.Repeat("word ", 1500) // ~7500 chars
	_, resp := doAction(t, h, "", map[string]any{"action": "post_message", "channelId": "C1", "text": long})
	if !resp.OK {
		t.Fatalf("post_message failed: %+v", resp)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.posts) < 3 {
		t.Fatalf("expected chunked posts, got %d", len(gw.posts))
	}
	for i, p := range gw.posts {
		if len(p) > gateway.MessageLimit {
			t.Fatalf("chunk %d exceeds limit: %d", i, len(p))
		}
	}
}

func TestAskUserOptionBounds(t *testing.T) {
	h := New(&fakeGateway{}, "")

	rec, _ := doAction(t, h, "", map[string]any{
		"action": "ask_user", "channelId": "C1", "threadId": "T1",
		"question": "pick one", "options": []string{"only"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for one option, got %d", rec.Code)
	}

	rec, _ = doAction(t, h, "", map[string]any{
		"action": "ask_user", "channelId": "C1", "threadId": "T1",
		"question": "pick one", "options": []string{"a", "b", "c", "d", "e", "f"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for six options, got %d", rec.Code)
	}

	rec, resp := doAction(t, h, "", map[string]any{
		"action": "ask_user", "channelId": "C1", "threadId": "T1",
		"question": "pick one", "options": []string{"a", "b"},
	})
	if rec.Code != http.StatusOK || !resp.OK {
		t.Fatalf("expected success for two options, got %d %+v", rec.Code, resp)
	}
}

func TestGetThreadMessagesLimit(t *testing.T) {
	gw := &fakeGateway{}
	for i := 0; i < 10; i++ {
		gw.history = append(gw.history, gateway.HistoryMessage{
			UserID: "U1", Text: fmt.Sprintf("m%d", i), Timestamp: time.Now(),
		})
	}
	h := New(gw, "")

	_, resp := doAction(t, h, "", map[string]any{
		"action": "get_thread_messages", "channelId": "C1", "threadId": "T1", "limit": 3,
	})
	if !resp.OK {
		t.Fatalf("action failed: %+v", resp)
	}
	msgs, ok := resp.Result.([]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (the most recent), got %d", len(msgs))
	}
}

func TestAddReactionAndUserInfo(t *testing.T) {
	gw := &fakeGateway{}
	h := New(gw, "")

	_, resp := doAction(t, h, "", map[string]any{
		"action": "add_reaction", "channelId": "C1", "messageId": "m1", "emoji": "thumbsup",
	})
	if !resp.OK {
		t.Fatalf("add_reaction failed: %+v", resp)
	}
	if len(gw.reactions) != 1 || gw.reactions[0] != "thumbsup" {
		t.Fatalf("reaction not recorded: %v", gw.reactions)
	}

	_, resp = doAction(t, h, "", map[string]any{
		"action": "get_user_info", "channelId": "C1", "userId": "U7",
	})
	if !resp.OK {
		t.Fatalf("get_user_info failed: %+v", resp)
	}
}

func TestUploadFile(t *testing.T) {
	gw := &fakeGateway{}
	h := New(gw, "")

	path := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(path, []byte("contents"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, resp := doAction(t, h, "", map[string]any{
		"action": "upload_file", "channelId": "C1", "threadId": "T1", "filePath": path,
	})
	if !resp.OK {
		t.Fatalf("upload_file failed: %+v", resp)
	}
	if len(gw.uploads) != 1 || gw.uploads[0] != "report.txt" {
		t.Fatalf("upload not recorded: %v", gw.uploads)
	}
}

func TestUnknownAction(t *testing.T) {
	h := New(&fakeGateway{}, "")
	rec, resp := doAction(t, h, "", map[string]any{"action": "reboot_universe", "channelId": "C1"})
	if rec.Code != http.StatusBadRequest || resp.OK {
		t.Fatalf("expected rejection of unknown action, got %d %+v", rec.Code, resp)
	}
}
