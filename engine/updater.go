package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/threadrelay/threadrelay/gateway"
)

// editRequest is one queued message edit. done, when non-nil, receives the
// outcome exactly once; superseded requests are resolved with nil so callers
// never hang.
type editRequest struct {
	channelID string
	messageID string
	text      string
	done      chan error
}

// Updater pushes message edits through two throttle layers. The first is
// per-message: edits for one message id less than perMessage apart are held
// and collapsed to the newest. The second is global: all edit calls across
// all conversations pass through one FIFO queue gated to one call per
// globalInterval, because the chat transport enforces its own global
// edit-rate limit independent of per-message limits.
type Updater struct {
	gw             gateway.Gateway
	perMessage     time.Duration
	globalInterval time.Duration

	mu      sync.Mutex
	closed  bool
	last    map[string]time.Time
	pending map[string]*editRequest
	timers  map[string]*time.Timer
	queue   []*editRequest
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUpdater creates an Updater over the gateway. Call Start before use.
func NewUpdater(gw gateway.Gateway, perMessage, globalInterval time.Duration) *Updater {
	return &Updater{
		gw:             gw,
		perMessage:     perMessage,
		globalInterval: globalInterval,
		last:           make(map[string]time.Time),
		pending:        make(map[string]*editRequest),
		timers:         make(map[string]*time.Timer),
		wake:           make(chan struct{}, 1),
	}
}

// Start launches the global drain loop.
func (u *Updater) Start(ctx context.Context) {
	u.ctx, u.cancel = context.WithCancel(ctx)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.run(u.ctx)
	}()
}

// Stop drains nothing further; held and queued requests are resolved so no
// caller is left waiting.
func (u *Updater) Stop() {
	u.mu.Lock()
	u.closed = true
	for id, t := range u.timers {
		t.Stop()
		delete(u.timers, id)
	}
	for id, req := range u.pending {
		resolve(req, nil)
		delete(u.pending, id)
	}
	for _, req := range u.queue {
		resolve(req, nil)
	}
	u.queue = nil
	u.mu.Unlock()

	if u.cancel != nil {
		u.cancel()
	}
	u.wg.Wait()
}

// Update submits an edit without waiting for it to be applied. Errors are
// logged; live-status edits are best effort.
func (u *Updater) Update(channelID, messageID, text string) {
	u.submit(&editRequest{channelID: channelID, messageID: messageID, text: text})
}

// UpdateWait submits an edit and waits until it is applied, superseded, or
// ctx is canceled.
func (u *Updater) UpdateWait(ctx context.Context, channelID, messageID, text string) error {
	done := make(chan error, 1)
	u.submit(&editRequest{channelID: channelID, messageID: messageID, text: text, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget drops all held and queued edits for a message, resolving their
// waiters. Called when the message reaches a terminal state or is deleted.
func (u *Updater) Forget(messageID string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if t, ok := u.timers[messageID]; ok {
		t.Stop()
		delete(u.timers, messageID)
	}
	if req, ok := u.pending[messageID]; ok {
		resolve(req, nil)
		delete(u.pending, messageID)
	}
	delete(u.last, messageID)

	kept := u.queue[:0]
	for _, req := range u.queue {
		if req.messageID == messageID {
			resolve(req, nil)
			continue
		}
		kept = append(kept, req)
	}
	u.queue = kept
}

func (u *Updater) submit(req *editRequest) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		resolve(req, nil)
		return
	}

	// Per-message layer: inside the window, hold as the pending edit for
	// this id. A newer hold supersedes the old one.
	if last, ok := u.last[req.messageID]; ok {
		if since := time.Since(last); since < u.perMessage {
			if prev, ok := u.pending[req.messageID]; ok {
				resolve(prev, nil)
			}
			u.pending[req.messageID] = req
			if _, ok := u.timers[req.messageID]; !ok {
				id := req.messageID
				u.timers[id] = time.AfterFunc(u.perMessage-since, func() {
					u.flushPending(id)
				})
			}
			u.mu.Unlock()
			return
		}
	}

	u.enqueueLocked(req)
	u.mu.Unlock()
	u.kick()
}

// flushPending moves the held edit for a message into the global queue once
// the per-message window has passed.
func (u *Updater) flushPending(messageID string) {
	u.mu.Lock()
	delete(u.timers, messageID)
	req, ok := u.pending[messageID]
	if ok {
		delete(u.pending, messageID)
	}
	if u.closed {
		u.mu.Unlock()
		if ok {
			resolve(req, nil)
		}
		return
	}
	if ok {
		u.enqueueLocked(req)
	}
	u.mu.Unlock()
	if ok {
		u.kick()
	}
}

// enqueueLocked appends req, collapsing any queued edits for the same
// message to the newest. Callers hold u.mu.
func (u *Updater) enqueueLocked(req *editRequest) {
	kept := u.queue[:0]
	for _, queued := range u.queue {
		if queued.messageID == req.messageID {
			resolve(queued, nil)
			continue
		}
		kept = append(kept, queued)
	}
	u.queue = append(kept, req)
	u.last[req.messageID] = time.Now()
}

func (u *Updater) kick() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

func (u *Updater) run(ctx context.Context) {
	for {
		u.mu.Lock()
		var req *editRequest
		if len(u.queue) > 0 {
			req = u.queue[0]
			u.queue = u.queue[1:]
		}
		u.mu.Unlock()

		if req == nil {
			select {
			case <-ctx.Done():
				return
			case <-u.wake:
			}
			continue
		}

		err := u.gw.UpdateMessage(ctx, req.channelID, req.messageID, req.text)
		if err != nil && req.done == nil {
			log.Printf("updater: edit of message %s failed: %v", req.messageID, err)
		}
		resolve(req, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(u.globalInterval):
		}
	}
}

func resolve(req *editRequest, err error) {
	if req.done != nil {
		req.done <- err
	}
}
