package agent

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/threadrelay/threadrelay/model"
)

// DefaultIdleTimeout is how long a backend session may sit idle before the
// sweeper releases it.
const DefaultIdleTimeout = 10 * time.Minute

// PermissionAlways is the reply sent for every permission request. The
// product policy is full autonomy, not per-tool-call approval.
const PermissionAlways = "always"

type managed struct {
	sessionID    string
	workingDir   string
	fingerprint  string
	lastActivity time.Time
}

// Manager owns the mapping from a logical (channel, thread) conversation to
// exactly one live backend session. It recreates sessions transparently when
// the backend no longer recognizes them or the required process environment
// changed, and guarantees the backend never receives two concurrent prompts
// for the same session.
type Manager struct {
	client      Client
	idleTimeout time.Duration

	mu             sync.Mutex
	byConversation map[string]*managed
	inflight       map[string]*inflightCall // by backend session id
	subs           map[string]map[int]func(Event)
	nextSubID      int
	nextCallID     uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager on top of a backend client.
func NewManager(client Client) *Manager {
	return &Manager{
		client:         client,
		idleTimeout:    DefaultIdleTimeout,
		byConversation: make(map[string]*managed),
		inflight:       make(map[string]*inflightCall),
		subs:           make(map[string]map[int]func(Event)),
	}
}

// SetIdleTimeout overrides the idle-session sweep threshold.
func (m *Manager) SetIdleTimeout(d time.Duration) { m.idleTimeout = d }

// Start launches the event pump and the idle sweeper. Call Stop to shut down.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.pumpEvents(m.ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.sweepIdleSessions(m.ctx)
	}()
}

// Stop cancels background work and waits for it to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// fingerprint produces a deterministic identity for a set of environment
// overrides: sorted key=value join.
func fingerprint(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\n")
}

// GetOrCreateSession returns the backend session bound to the conversation,
// creating a fresh one when no mapping exists or the recorded environment
// fingerprint differs from the requested one. The second return reports
// whether a new session was created.
func (m *Manager) GetOrCreateSession(ctx context.Context, channelID, threadID, workingDir string, env map[string]string) (string, bool, error) {
	key := model.ConversationKey(channelID, threadID)
	fp := fingerprint(env)

	m.mu.Lock()
	if got, ok := m.byConversation[key]; ok && got.fingerprint == fp {
		got.lastActivity = time.Now()
		id := got.sessionID
		m.mu.Unlock()
		return id, false, nil
	}
	m.mu.Unlock()

	sessionID, err := m.client.CreateSession(ctx, workingDir)
	if err != nil {
		return "", false, fmt.Errorf("creating backend session: %w", err)
	}

	m.mu.Lock()
	m.byConversation[key] = &managed{
		sessionID:    sessionID,
		workingDir:   workingDir,
		fingerprint:  fp,
		lastActivity: time.Now(),
	}
	m.mu.Unlock()

	return sessionID, true, nil
}

// EnsureValidSession verifies that sessionID is still recognized by the
// currently-bound backend instance, creating a replacement transparently if
// not. Callers must update any stored mapping to the returned id.
func (m *Manager) EnsureValidSession(ctx context.Context, sessionID, workingDir string) (string, error) {
	ok, err := m.client.SessionExists(ctx, sessionID)
	if err == nil && ok {
		return sessionID, nil
	}
	if err != nil {
		log.Printf("agent: session %s validity check failed, recreating: %v", sessionID, err)
	}

	fresh, err := m.client.CreateSession(ctx, workingDir)
	if err != nil {
		return "", fmt.Errorf("recreating backend session: %w", err)
	}

	m.mu.Lock()
	for key, got := range m.byConversation {
		if got.sessionID == sessionID {
			m.byConversation[key] = &managed{
				sessionID:    fresh,
				workingDir:   workingDir,
				fingerprint:  got.fingerprint,
				lastActivity: time.Now(),
			}
		}
	}
	m.mu.Unlock()

	return fresh, nil
}

type inflightCall struct {
	id     uint64
	cancel context.CancelFunc
}

// SendMessage runs one prompt on the session, enforcing at most one in-flight
// prompt per backend session. A new call while a previous one is running
// cancels the previous one first (last write wins; conversation-level
// queueing is the orchestrator's job).
func (m *Manager) SendMessage(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if prev, ok := m.inflight[req.SessionID]; ok {
		prev.cancel()
	}
	m.nextCallID++
	call := &inflightCall{id: m.nextCallID, cancel: cancel}
	m.inflight[req.SessionID] = call
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		// Only remove our own registration; a later call may have replaced it.
		if cur, ok := m.inflight[req.SessionID]; ok && cur.id == call.id {
			delete(m.inflight, req.SessionID)
		}
		m.mu.Unlock()
	}()

	m.touch(req.SessionID)
	resp, err := m.client.SendPrompt(callCtx, req)
	m.touch(req.SessionID)
	return resp, err
}

// CancelActiveRequest triggers the cancellation token of the session's
// in-flight prompt, if any.
func (m *Manager) CancelActiveRequest(sessionID string) {
	m.mu.Lock()
	call, ok := m.inflight[sessionID]
	if ok {
		delete(m.inflight, sessionID)
	}
	m.mu.Unlock()
	if ok {
		call.cancel()
	}
}

// AbortSession requests backend-side abort and cancels any in-flight prompt.
// Best effort: failures are logged, not returned.
func (m *Manager) AbortSession(ctx context.Context, sessionID, workingDir string) {
	m.CancelActiveRequest(sessionID)
	if err := m.client.Abort(ctx, sessionID, workingDir); err != nil {
		log.Printf("agent: abort session %s failed: %v", sessionID, err)
	}
}

// Subscribe registers a callback for every raw event from the session's live
// stream and returns an unsubscribe function. Subscriptions made before the
// stream connection exists are held and served once events start flowing.
func (m *Manager) Subscribe(sessionID string, fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[sessionID] == nil {
		m.subs[sessionID] = make(map[int]func(Event))
	}
	id := m.nextSubID
	m.nextSubID++
	m.subs[sessionID][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[sessionID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.subs, sessionID)
			}
		}
	}
}

// Dispatch delivers one event to the session's subscribers. Exposed so the
// pump and tests share one path.
func (m *Manager) Dispatch(ev Event) {
	m.mu.Lock()
	set := m.subs[ev.SessionID]
	fns := make([]func(Event), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, got := range m.byConversation {
		if got.sessionID == sessionID {
			got.lastActivity = time.Now()
		}
	}
}

// pumpEvents maintains the live event subscription, reconnecting with a
// short backoff when the stream drops.
func (m *Manager) pumpEvents(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := m.client.Events(ctx)
		if err != nil {
			log.Printf("agent: event stream connect failed, retrying: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for ev := range ch {
			// A stream that ignores cancellation must not wedge shutdown.
			if ctx.Err() != nil {
				return
			}
			if ev.Type == EventPermissionAsked && ev.Permission != nil {
				// Full-autonomy policy: approve every permission request.
				if err := m.client.PermissionReply(ctx, ev.Permission.RequestID, PermissionAlways); err != nil {
					log.Printf("agent: permission reply failed for %s: %v", ev.Permission.RequestID, err)
				}
			}
			m.Dispatch(ev)
		}

		if ctx.Err() != nil {
			return
		}
		log.Printf("agent: event stream closed, reconnecting")
	}
}

// sweepIdleSessions drops conversation mappings whose sessions have seen no
// activity for idleTimeout, releasing the backend session.
func (m *Manager) sweepIdleSessions(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stale []*managed
			m.mu.Lock()
			for key, got := range m.byConversation {
				if _, busy := m.inflight[got.sessionID]; busy {
					continue
				}
				if time.Since(got.lastActivity) > m.idleTimeout {
					delete(m.byConversation, key)
					stale = append(stale, got)
				}
			}
			m.mu.Unlock()

			for _, got := range stale {
				log.Printf("agent: releasing idle session %s", got.sessionID)
				if err := m.client.Abort(ctx, got.sessionID, got.workingDir); err != nil {
					log.Printf("agent: release of idle session %s failed: %v", got.sessionID, err)
				}
			}
		}
	}
}
