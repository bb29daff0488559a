package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu      sync.Mutex
	created int
	exists  map[string]bool
	prompts []PromptRequest
	aborts  []string
	replies []string
	events  chan Event
	blockOn chan struct{} // when non-nil, SendPrompt blocks until closed or ctx done
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		exists: make(map[string]bool),
		events: make(chan Event, 16),
	}
}

func (c *fakeClient) CreateSession(ctx context.Context, workingDir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	id := fmt.Sprintf("sess-%d", c.created)
	c.exists[id] = true
	return id, nil
}

func (c *fakeClient) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exists[sessionID], nil
}

func (c *fakeClient) SendPrompt(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, req)
	block := c.blockOn
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &PromptResponse{Parts: []ResponsePart{{Type: "text", Text: "ok"}}}, nil
}

func (c *fakeClient) Abort(ctx context.Context, sessionID, workingDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts = append(c.aborts, sessionID)
	return nil
}

func (c *fakeClient) PermissionReply(ctx context.Context, requestID, reply string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, requestID+":"+reply)
	return nil
}

// Events forwards from the shared buffer and closes the stream when ctx is
// canceled, matching the Client contract.
func (c *fakeClient) Events(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-c.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func TestGetOrCreateSessionReusesMapping(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client)
	ctx := context.Background()

	id1, created, err := m.GetOrCreateSession(ctx, "C1", "T1", "/work", nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !created {
		t.Error("first call should create")
	}

	id2, created, err := m.GetOrCreateSession(ctx, "C1", "T1", "/work", nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if created || id2 != id1 {
		t.Errorf("second call created=%v id=%s, want reuse of %s", created, id2, id1)
	}

	// A different conversation gets its own session.
	id3, _, err := m.GetOrCreateSession(ctx, "C1", "T2", "/work", nil)
	if err != nil {
		t.Fatalf("third call: %v", err)
	}
	if id3 == id1 {
		t.Error("distinct conversations share a session")
	}
}

func TestGetOrCreateSessionRecreatesOnEnvChange(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client)
	ctx := context.Background()

	id1, _, err := m.GetOrCreateSession(ctx, "C1", "T1", "/work", map[string]string{"MODEL": "a"})
	if err != nil {
		t.Fatal(err)
	}

	// Same env, different map ordering semantics: must reuse.
	id2, created, err := m.GetOrCreateSession(ctx, "C1", "T1", "/work", map[string]string{"MODEL": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if created || id2 != id1 {
		t.Errorf("equal env should reuse, got created=%v", created)
	}

	id3, created, err := m.GetOrCreateSession(ctx, "C1", "T1", "/work", map[string]string{"MODEL": "b"})
	if err != nil {
		t.Fatal(err)
	}
	if !created || id3 == id1 {
		t.Error("changed env should create a fresh session")
	}
}

func TestEnsureValidSessionRebindsStaleMapping(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client)
	ctx := context.Background()

	id1, _, err := m.GetOrCreateSession(ctx, "C1", "T1", "/work", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Backend forgets the session (restart).
	client.mu.Lock()
	client.exists[id1] = false
	client.mu.Unlock()

	fresh, err := m.EnsureValidSession(ctx, id1, "/work")
	if err != nil {
		t.Fatalf("EnsureValidSession: %v", err)
	}
	if fresh == id1 {
		t.Fatal("stale session not replaced")
	}

	// The conversation mapping must now point at the fresh session.
	got, created, err := m.GetOrCreateSession(ctx, "C1", "T1", "/work", nil)
	if err != nil {
		t.Fatal(err)
	}
	if created || got != fresh {
		t.Errorf("mapping not rebound: got %s created=%v, want %s", got, created, fresh)
	}
}

func TestSendMessageCancelsPreviousInflight(t *testing.T) {
	client := newFakeClient()
	client.blockOn = make(chan struct{})
	m := NewManager(client)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := m.SendMessage(ctx, PromptRequest{
			SessionID: "sess-1",
			Parts:     []PromptPart{{Type: "text", Text: "first"}},
		})
		errCh <- err
	}()

	// Wait for the first prompt to register.
	deadline := time.Now().Add(2 * time.Second)
	for {
		client.mu.Lock()
		n := len(client.prompts)
		client.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first prompt never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Unblock future prompts, then send the second: it must cancel the first.
	client.mu.Lock()
	client.blockOn = nil
	client.mu.Unlock()

	if _, err := m.SendMessage(ctx, PromptRequest{
		SessionID: "sess-1",
		Parts:     []PromptPart{{Type: "text", Text: "second"}},
	}); err != nil {
		t.Fatalf("second prompt: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("first prompt should have been cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first prompt never returned")
	}
}

func TestSubscribeDispatchUnsubscribe(t *testing.T) {
	m := NewManager(newFakeClient())

	var mu sync.Mutex
	var got []string
	unsub := m.Subscribe("sess-1", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	m.Dispatch(Event{SessionID: "sess-1", Type: EventText})
	m.Dispatch(Event{SessionID: "sess-other", Type: EventText})
	unsub()
	m.Dispatch(Event{SessionID: "sess-1", Type: EventReasoning})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != EventText {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestPumpAutoApprovesPermissions(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	client.events <- Event{
		SessionID: "sess-1",
		Type:      EventPermissionAsked,
		Permission: &PermissionRequest{
			RequestID: "perm-1",
		},
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		client.mu.Lock()
		n := len(client.replies)
		client.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("permission never auto-approved")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.replies[0] != "perm-1:"+PermissionAlways {
		t.Fatalf("unexpected reply %q", client.replies[0])
	}
}

func TestStopReturnsWhileStreamAttached(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	// Put the pump into its receive loop before shutting down.
	client.events <- Event{SessionID: "sess-1", Type: EventText}
	time.Sleep(20 * time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after cancellation with a live event stream")
	}
}
