// Package engine is the request orchestrator: it serializes concurrent
// messages per conversation thread, drives the two-phase plan/build protocol,
// manages the rate-limited live status message, handles cancellation, and
// performs crash recovery on startup.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadrelay/threadrelay/agent"
	"github.com/threadrelay/threadrelay/gateway"
	"github.com/threadrelay/threadrelay/model"
	"github.com/threadrelay/threadrelay/progress"
	"github.com/threadrelay/threadrelay/store"
)

// Config holds the orchestrator's tuning knobs.
type Config struct {
	// ActiveThreadWindow is how long after a mention a thread keeps
	// accepting un-mentioned messages.
	ActiveThreadWindow time.Duration
	// StaleRequestAge is the recovery threshold: in-flight requests older
	// than this on startup are discarded silently.
	StaleRequestAge time.Duration
	// StatusTickInterval is the status message re-render period.
	StatusTickInterval time.Duration
	// PerMessageThrottle is the minimum spacing of edits to one message.
	PerMessageThrottle time.Duration
	// GlobalEditInterval gates the global edit queue.
	GlobalEditInterval time.Duration
	// DedupCapacity bounds the processed-message-id set.
	DedupCapacity int
	// DefaultWorkingDir is used for new backend sessions when a channel
	// has no working-directory override.
	DefaultWorkingDir string
}

func (c *Config) applyDefaults() {
	if c.ActiveThreadWindow <= 0 {
		c.ActiveThreadWindow = 24 * time.Hour
	}
	if c.StaleRequestAge <= 0 {
		c.StaleRequestAge = 10 * time.Minute
	}
	if c.StatusTickInterval <= 0 {
		c.StatusTickInterval = 2 * time.Second
	}
	if c.PerMessageThrottle <= 0 {
		c.PerMessageThrottle = 500 * time.Millisecond
	}
	if c.GlobalEditInterval <= 0 {
		c.GlobalEditInterval = time.Second
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = 1000
	}
}

type queuedMessage struct {
	text      string
	userID    string
	messageID string
}

// threadQueue is the per-conversation FIFO. The drain loop takes all queued
// items at once and processes them as one combined turn, so a burst of
// messages during an in-flight request becomes a single backend turn and no
// message is dropped.
type threadQueue struct {
	items      []queuedMessage
	processing bool
}

// Engine orchestrates the bridge between the chat gateway and the agent
// backend.
type Engine struct {
	config        Config
	gw            gateway.Gateway
	sessions      store.SessionStore
	settingsStore store.SettingsStore
	archive       store.TurnArchive
	agents        *agent.Manager

	updater *Updater
	dedup   *dedupSet

	mu       sync.Mutex
	queues   map[string]*threadQueue
	turns    map[string]*turnContext // live turns by conversation key
	settings *model.Settings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the orchestrator. archive may be nil to disable turn auditing.
func New(
	cfg Config,
	gw gateway.Gateway,
	sessions store.SessionStore,
	settingsStore store.SettingsStore,
	archive store.TurnArchive,
	agents *agent.Manager,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		config:        cfg,
		gw:            gw,
		sessions:      sessions,
		settingsStore: settingsStore,
		archive:       archive,
		agents:        agents,
		updater:       NewUpdater(gw, cfg.PerMessageThrottle, cfg.GlobalEditInterval),
		dedup:         newDedupSet(cfg.DedupCapacity),
		queues:        make(map[string]*threadQueue),
		turns:         make(map[string]*turnContext),
	}
}

// Start loads settings, launches background workers and runs crash recovery.
// Call Stop to shut down.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	settings, err := e.settingsStore.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	e.updater.Start(e.ctx)
	e.agents.Start(e.ctx)
	e.recover(e.ctx)
	return nil
}

// Stop cancels background work and waits for in-flight turns to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.agents.Stop()
	e.updater.Stop()
}

// HandleMessage routes one inbound chat message. Implements gateway.Handler.
func (e *Engine) HandleMessage(ctx context.Context, msg gateway.InboundMessage) {
	if msg.UserID == e.gw.BotUserID() || strings.TrimSpace(msg.Text) == "" {
		return
	}

	// Stop is checked before any gating so a user can always cancel.
	if IsStopCommand(msg.Text) {
		e.handleStop(ctx, msg.ChannelID, msg.ThreadID)
		return
	}

	if !e.shouldProcess(msg) {
		return
	}
	if !e.dedup.Add(msg.MessageID) {
		return
	}
	if msg.Mention {
		e.markThreadActive(msg.ChannelID, msg.ThreadID)
	}

	e.enqueue(msg)
}

// HandleButtonClick resolves a pending question and feeds the selected value
// back in as the user's next message. Implements gateway.Handler.
func (e *Engine) HandleButtonClick(ctx context.Context, click gateway.ButtonClick) {
	sess, err := e.sessions.Get(click.ChannelID, click.ThreadID)
	if err == nil && sess != nil && sess.PendingQuestion != nil {
		pq := sess.PendingQuestion
		sess.PendingQuestion = nil
		e.persistSession(sess)

		msgID := pq.MessageID
		if msgID == "" {
			msgID = click.MessageID
		}
		if msgID != "" {
			if err := e.gw.UpdateMessage(ctx, click.ChannelID, msgID, "Selected: "+click.Value); err != nil {
				log.Printf("engine: updating question message failed: %v", err)
			}
		}
	}

	e.HandleMessage(ctx, gateway.InboundMessage{
		ChannelID: click.ChannelID,
		ThreadID:  click.ThreadID,
		UserID:    click.UserID,
		MessageID: "click-" + uuid.New().String(),
		Text:      click.Value,
		Mention:   true,
	})
}

// shouldProcess applies the thread gating policy: explicit mention, or a
// thread inside the active window. A message mentioning only other
// participants is ignored even in an active thread.
func (e *Engine) shouldProcess(msg gateway.InboundMessage) bool {
	if !msg.Mention && len(msg.MentionedUsers) > 0 {
		return false
	}
	if msg.Mention {
		return true
	}
	return e.threadActive(msg.ChannelID, msg.ThreadID)
}

func (e *Engine) threadActive(channelID, threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings == nil {
		return false
	}
	cs, ok := e.settings.Channels[channelID]
	if !ok || cs.ActiveThreads == nil {
		return false
	}
	last, ok := cs.ActiveThreads[threadID]
	return ok && time.Since(last) < e.config.ActiveThreadWindow
}

func (e *Engine) markThreadActive(channelID, threadID string) {
	e.mu.Lock()
	if e.settings == nil {
		e.settings = model.NewSettings()
	}
	cs := e.settings.Channel(channelID)
	if cs.ActiveThreads == nil {
		cs.ActiveThreads = make(map[string]time.Time)
	}
	cs.ActiveThreads[threadID] = time.Now()
	e.mu.Unlock()

	e.saveSettings()
}

func (e *Engine) enqueue(msg gateway.InboundMessage) {
	key := model.ConversationKey(msg.ChannelID, msg.ThreadID)

	e.mu.Lock()
	q, ok := e.queues[key]
	if !ok {
		q = &threadQueue{}
		e.queues[key] = q
	}
	q.items = append(q.items, queuedMessage{
		text:      msg.Text,
		userID:    msg.UserID,
		messageID: msg.MessageID,
	})
	start := !q.processing
	if start {
		q.processing = true
	}
	e.mu.Unlock()

	if start {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.drain(msg.ChannelID, msg.ThreadID, q)
		}()
	}
}

// drain processes the thread's queue until empty. Each iteration takes all
// queued items as one synchronous step and runs them as one combined turn.
func (e *Engine) drain(channelID, threadID string, q *threadQueue) {
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		e.mu.Lock()
		if len(q.items) == 0 || ctx.Err() != nil {
			q.processing = false
			e.mu.Unlock()
			return
		}
		items := q.items
		q.items = nil
		e.mu.Unlock()

		texts := make([]string, len(items))
		for i, item := range items {
			texts[i] = item.text
		}
		e.processTurn(ctx, channelID, threadID, items[0].userID, strings.Join(texts, "\n"))
	}
}

// loadOrCreateSession returns the durable record for a conversation,
// creating it on the first inbound message in a thread.
func (e *Engine) loadOrCreateSession(channelID, threadID, userID string) *model.ConversationSession {
	sess, err := e.sessions.Get(channelID, threadID)
	if err != nil {
		log.Printf("engine: loading session for %s: %v", model.ConversationKey(channelID, threadID), err)
	}
	if sess == nil {
		sess = &model.ConversationSession{
			ChannelID: channelID,
			ThreadID:  threadID,
			UserID:    userID,
			CreatedAt: time.Now().UTC(),
		}
	}
	sess.LastActivityAt = time.Now().UTC()
	return sess
}

func (e *Engine) workingDir(channelID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings != nil {
		if cs, ok := e.settings.Channels[channelID]; ok && cs.WorkingDir != "" {
			return cs.WorkingDir
		}
	}
	return e.config.DefaultWorkingDir
}

func (e *Engine) channelOverrides(channelID string) (agentName, modelName, provider string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings == nil {
		return "", "", ""
	}
	if cs, ok := e.settings.Channels[channelID]; ok {
		return cs.Agent, cs.Model, cs.Provider
	}
	return "", "", ""
}

// processTurn runs one combined request end to end: session acquisition,
// placeholder post, event subscription, status ticker, the plan/build
// protocol, and terminal status-message handling.
func (e *Engine) processTurn(ctx context.Context, channelID, threadID, userID, prompt string) {
	sess := e.loadOrCreateSession(channelID, threadID, userID)
	workingDir := e.workingDir(channelID)

	sessionID, created, err := e.agents.GetOrCreateSession(ctx, channelID, threadID, workingDir, nil)
	if err != nil {
		e.postTurnSetupFailure(ctx, channelID, threadID, err)
		return
	}
	sessionID, err = e.agents.EnsureValidSession(ctx, sessionID, workingDir)
	if err != nil {
		e.postTurnSetupFailure(ctx, channelID, threadID, err)
		return
	}
	if created || sess.SessionID != sessionID {
		sess.SessionID = sessionID
		e.rememberThreadSession(channelID, threadID, sessionID)
	}
	sess.WorkingDir = workingDir

	statusID, err := e.gw.PostMessage(ctx, channelID, threadID, "Working on it...")
	if err != nil {
		log.Printf("engine: posting status placeholder failed: %v", err)
		// Proceed without a live status message.
	}

	now := time.Now().UTC()
	req := &model.ActiveRequest{
		SessionID:       sessionID,
		ChannelID:       channelID,
		ThreadID:        threadID,
		StatusMessageID: statusID,
		Prompt:          prompt,
		StartedAt:       now,
		LastUpdatedAt:   now,
		State:           model.RequestProcessing,
	}
	sess.ActiveRequest = req

	turnID := uuid.New().String()[:8]

	// tmu guards everything on the live request: the rendering fields the
	// event callback and ticker share, the lifecycle state, and every
	// snapshot marshal of the session while the turn is running.
	var tmu sync.Mutex
	turn := &turnContext{
		engine:  e,
		sess:    sess,
		req:     req,
		tmu:     &tmu,
		turnID:  turnID,
		ctx:     ctx,
		session: sessionID,
	}

	key := model.ConversationKey(channelID, threadID)
	e.mu.Lock()
	e.turns[key] = turn
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.turns, key)
		e.mu.Unlock()
	}()

	turn.persist()

	e.archiveCreate(&store.Turn{
		ID:        turnID,
		ChannelID: channelID,
		ThreadID:  threadID,
		UserID:    userID,
		Prompt:    prompt,
		State:     string(model.RequestProcessing),
		StartedAt: now,
	})

	unsubscribe := e.agents.Subscribe(sessionID, turn.applyEvent)
	defer unsubscribe()

	tickDone := make(chan struct{})
	defer close(tickDone)
	if statusID != "" {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.tickStatus(turn, tickDone)
		}()
	}

	planMode := NeedsPlanning(prompt) ||
		(sess.Plan != nil && sess.Plan.Status == model.PlanAwaitingInput)

	var runErr error
	var response string
	if planMode {
		response, runErr = e.runPlanned(ctx, turn, prompt)
	} else {
		response, runErr = e.runBuild(ctx, turn, prompt)
	}

	// A stop command may have already terminated the request.
	finalState := model.RequestCompleted
	var classified ClassifiedError
	if runErr != nil {
		finalState = model.RequestFailed
		classified = Classify(runErr)
	}
	if !turn.finish(finalState, classified.Message) {
		e.archiveUpdate(turnID, model.RequestFailed, response, turn.errText())
		return
	}

	if statusID != "" {
		e.updater.Forget(statusID)
	}

	if runErr != nil {
		log.Printf("engine: turn failed in %s: %v", model.ConversationKey(channelID, threadID), runErr)
		if statusID != "" {
			// The status message becomes the permanent record of the failure.
			if err := e.gw.UpdateMessage(ctx, channelID, statusID, classified.Render()); err != nil {
				log.Printf("engine: writing failure status failed: %v", err)
			}
		}
	} else if statusID != "" {
		// The status message is scaffolding; the answer is its own message.
		if err := e.gw.DeleteMessage(ctx, channelID, statusID); err != nil {
			log.Printf("engine: deleting status message failed: %v", err)
		}
	}

	sess.LastActivityAt = time.Now().UTC()
	turn.persist()
	e.archiveUpdate(turnID, finalState, response, turn.errText())
}

// liveTurn returns the conversation's registered in-flight turn, if any.
func (e *Engine) liveTurn(channelID, threadID string) *turnContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turns[model.ConversationKey(channelID, threadID)]
}

func (e *Engine) postTurnSetupFailure(ctx context.Context, channelID, threadID string, err error) {
	classified := Classify(err)
	log.Printf("engine: session setup failed in %s: %v", model.ConversationKey(channelID, threadID), err)
	if _, postErr := e.gw.PostMessage(ctx, channelID, threadID, classified.Render()); postErr != nil {
		log.Printf("engine: posting setup failure failed: %v", postErr)
	}
}

func (e *Engine) rememberThreadSession(channelID, threadID, sessionID string) {
	e.mu.Lock()
	if e.settings == nil {
		e.settings = model.NewSettings()
	}
	cs := e.settings.Channel(channelID)
	if cs.ThreadSessions == nil {
		cs.ThreadSessions = make(map[string]string)
	}
	cs.ThreadSessions[threadID] = sessionID
	e.mu.Unlock()

	e.saveSettings()
}

// tickStatus re-renders the status message on a fixed period until the turn
// reaches a terminal state.
func (e *Engine) tickStatus(turn *turnContext, done <-chan struct{}) {
	ticker := time.NewTicker(e.config.StatusTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if turn.state() != model.RequestProcessing {
				return
			}
			// The snapshot write shares tmu with the event callback: the
			// marshal must not observe a half-applied event.
			turn.tmu.Lock()
			text := renderStatus(turn.req)
			turn.req.LastUpdatedAt = time.Now().UTC()
			e.persistSession(turn.sess)
			turn.tmu.Unlock()

			e.updater.Update(turn.req.ChannelID, turn.req.StatusMessageID, text)
		}
	}
}

// runBuild executes one build-phase prompt and posts the response.
func (e *Engine) runBuild(ctx context.Context, turn *turnContext, prompt string) (string, error) {
	resp, err := e.sendPrompt(ctx, turn, prompt, "build")
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	firstID, err := gateway.PostChunked(ctx, e.gw, turn.sess.ChannelID, turn.sess.ThreadID, text)
	if err != nil {
		return text, fmt.Errorf("posting response: %w", err)
	}
	turn.tmu.Lock()
	turn.req.FinalResponseID = firstID
	turn.tmu.Unlock()
	return text, nil
}

// runPlanned drives the two-phase protocol: a planning pass first, then
// either a hand-off into the build phase or a stop at awaiting_input when
// the planner produced no todos or asked a question.
func (e *Engine) runPlanned(ctx context.Context, turn *turnContext, prompt string) (string, error) {
	sess := turn.sess

	turn.tmu.Lock()
	plan := sess.Plan
	if plan == nil || plan.Status == model.PlanComplete {
		plan = &model.Plan{}
		sess.Plan = plan
	}
	plan.Status = model.PlanPlanning
	turn.plan = plan
	turn.tmu.Unlock()
	turn.persist()

	resp, err := e.sendPrompt(ctx, turn, prompt, "plan")
	if err != nil {
		return "", err
	}

	planText := resp.Text()
	if planText != "" {
		if _, err := gateway.PostChunked(ctx, e.gw, sess.ChannelID, sess.ThreadID, planText); err != nil {
			log.Printf("engine: posting plan text failed: %v", err)
		}
	}

	turn.tmu.Lock()
	todos := append([]model.TrackedTodo(nil), turn.req.Todos...)
	plan.Todos = todos
	plan.Text = planText
	turn.tmu.Unlock()

	if planText == "" && len(todos) == 0 {
		return "", ErrEmptyResponse
	}

	// No checklist, or the planner asked something: wait for the user's
	// next message, which re-enters planning.
	if len(todos) == 0 || ContainsQuestion(planText) {
		turn.setPlanStatus(model.PlanAwaitingInput)
		turn.persist()
		return planText, nil
	}

	e.mirrorPlan(ctx, turn, todos)

	turn.setPlanStatus(model.PlanBuilding)
	turn.persist()

	buildText, err := e.runBuild(ctx, turn, synthesizeBuildPrompt(prompt, planText, todos))
	if err != nil {
		return planText, err
	}

	turn.setPlanStatus(model.PlanComplete)
	turn.persist()
	return buildText, nil
}

func (e *Engine) sendPrompt(ctx context.Context, turn *turnContext, prompt, phase string) (*agent.PromptResponse, error) {
	agentName, modelName, provider := e.channelOverrides(turn.sess.ChannelID)
	if agentName == "" {
		agentName = phase
	}
	return e.agents.SendMessage(ctx, agent.PromptRequest{
		SessionID: turn.session,
		Directory: turn.sess.WorkingDir,
		Parts:     []agent.PromptPart{{Type: "text", Text: prompt}},
		Agent:     agentName,
		Model:     modelName,
		Provider:  provider,
	})
}

// mirrorPlan keeps the dedicated plan message in sync with the todo
// checklist: created once, edited thereafter.
func (e *Engine) mirrorPlan(ctx context.Context, turn *turnContext, todos []model.TrackedTodo) {
	if len(todos) == 0 || turn.plan == nil {
		return
	}
	text := renderPlan(todos)

	turn.tmu.Lock()
	id := turn.plan.MessageID
	turn.tmu.Unlock()

	if id == "" {
		newID, err := e.gw.PostMessage(ctx, turn.sess.ChannelID, turn.sess.ThreadID, text)
		if err != nil {
			log.Printf("engine: posting plan message failed: %v", err)
			return
		}
		turn.tmu.Lock()
		turn.plan.MessageID = newID
		turn.tmu.Unlock()
		return
	}
	e.updater.Update(turn.sess.ChannelID, id, text)
}

// handleStop cancels the thread's in-flight request, marks it failed with
// "Stopped by user" and removes the status message.
func (e *Engine) handleStop(ctx context.Context, channelID, threadID string) {
	sess, err := e.sessions.Get(channelID, threadID)
	if err != nil || sess == nil || sess.ActiveRequest == nil {
		return
	}
	req := sess.ActiveRequest

	turn := e.liveTurn(channelID, threadID)
	if turn != nil {
		if !turn.finish(model.RequestFailed, "Stopped by user") {
			return
		}
	} else {
		// No registered turn means no concurrent writers: the request is a
		// leftover from a previous run.
		if req.State != model.RequestProcessing {
			return
		}
		req.State = model.RequestFailed
		req.Error = "Stopped by user"
	}

	e.agents.AbortSession(ctx, req.SessionID, sess.WorkingDir)

	if req.StatusMessageID != "" {
		e.updater.Forget(req.StatusMessageID)
		if err := e.gw.DeleteMessage(ctx, channelID, req.StatusMessageID); err != nil {
			log.Printf("engine: deleting status message on stop failed: %v", err)
		}
	}

	if turn != nil {
		turn.persist()
	} else {
		e.persistSession(sess)
	}
}

// recover scans durable state on startup. In-flight work cannot be resumed
// because the backend did not survive the restart: stale requests are
// discarded silently, younger ones get a "please resend" edit. Pending
// restart placeholders become "restart complete".
func (e *Engine) recover(ctx context.Context) {
	sessions, err := e.sessions.All()
	if err != nil {
		log.Printf("engine: recovery scan failed: %v", err)
		sessions = nil
	}

	for _, sess := range sessions {
		req := sess.ActiveRequest
		if req == nil || req.State != model.RequestProcessing {
			continue
		}

		if time.Since(req.StartedAt) <= e.config.StaleRequestAge && req.StatusMessageID != "" {
			msg := "The bot restarted while working on this. Please resend your request."
			if err := e.gw.UpdateMessage(ctx, sess.ChannelID, req.StatusMessageID, msg); err != nil {
				log.Printf("engine: recovery edit for %s failed: %v", sess.Key(), err)
			}
		}

		req.State = model.RequestFailed
		req.Error = "interrupted by restart"
		e.persistSession(sess)
	}

	e.mu.Lock()
	var restarts []model.PendingRestart
	if e.settings != nil && len(e.settings.PendingRestarts) > 0 {
		restarts = e.settings.PendingRestarts
		e.settings.PendingRestarts = nil
	}
	e.mu.Unlock()

	if len(restarts) > 0 {
		for _, pr := range restarts {
			if err := e.gw.UpdateMessage(ctx, pr.ChannelID, pr.MessageID, "Restart complete."); err != nil {
				log.Printf("engine: restart placeholder edit failed: %v", err)
			}
		}
		e.saveSettings()
	}
}

// --- Persistence helpers ---

// persistSession is best effort: the in-memory state remains authoritative
// for the rest of the process lifetime if the write fails.
func (e *Engine) persistSession(sess *model.ConversationSession) {
	if err := e.sessions.Save(sess); err != nil {
		log.Printf("engine: persisting session %s failed: %v", sess.Key(), err)
	}
}

func (e *Engine) saveSettings() {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()
	if settings == nil {
		return
	}
	if err := e.settingsStore.Save(settings); err != nil {
		log.Printf("engine: persisting settings failed: %v", err)
	}
}

func (e *Engine) archiveCreate(turn *store.Turn) {
	if e.archive == nil {
		return
	}
	if err := e.archive.CreateTurn(turn); err != nil {
		log.Printf("engine: archiving turn %s failed: %v", turn.ID, err)
	}
}

func (e *Engine) archiveUpdate(turnID string, state model.RequestState, response, errText string) {
	if e.archive == nil {
		return
	}
	if err := e.archive.UpdateTurn(&store.Turn{
		ID:       turnID,
		State:    string(state),
		Response: response,
		Error:    errText,
	}); err != nil {
		log.Printf("engine: archive update for turn %s failed: %v", turnID, err)
	}
}

func (e *Engine) archiveEvent(turnID, eventType, data string) {
	if e.archive == nil {
		return
	}
	if err := e.archive.AddEvent(&store.TurnEvent{TurnID: turnID, Type: eventType, Data: data}); err != nil {
		log.Printf("engine: archiving event for turn %s failed: %v", turnID, err)
	}
}

// --- Per-turn event handling ---

// turnContext carries the state one in-flight turn shares between the drain
// goroutine, the event callback and the status ticker.
type turnContext struct {
	engine  *Engine
	sess    *model.ConversationSession
	req     *model.ActiveRequest
	plan    *model.Plan
	tmu     *sync.Mutex
	turnID  string
	ctx     context.Context
	session string
}

func (t *turnContext) state() model.RequestState {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	return t.req.State
}

// finish transitions a processing request to a terminal state. It returns
// false when the request was already terminal (e.g. stopped).
func (t *turnContext) finish(state model.RequestState, errText string) bool {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	if t.req.State != model.RequestProcessing {
		return false
	}
	t.req.State = state
	t.req.Error = errText
	return true
}

func (t *turnContext) errText() string {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	return t.req.Error
}

func (t *turnContext) setPlanStatus(status model.PlanStatus) {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	if t.plan != nil {
		t.plan.Status = status
	}
}

// persist snapshots the session under tmu so the JSON marshal never races
// the event callback's field updates.
func (t *turnContext) persist() {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	t.engine.persistSession(t.sess)
}

// applyEvent folds one backend stream event into the ActiveRequest.
func (t *turnContext) applyEvent(ev agent.Event) {
	if ev.SessionID != t.session {
		return
	}

	if t.state() != model.RequestProcessing {
		return
	}

	var todosChanged bool

	t.tmu.Lock()
	if label, ok := progress.StatusFromEvent(ev, t.session); ok {
		t.req.CurrentStatus = label
		t.req.LastUpdatedAt = time.Now().UTC()
	}

	switch ev.Type {
	case agent.EventToolUpdated:
		if ev.Tool != nil {
			if tracked := t.req.Tool(ev.Tool.ID); tracked != nil {
				tracked.Status = ev.Tool.Status
				tracked.Title = ev.Tool.Title
				tracked.Output = ev.Tool.Output
				tracked.Error = ev.Tool.Error
			} else {
				t.req.Tools = append(t.req.Tools, model.TrackedTool{
					ID:     ev.Tool.ID,
					Name:   ev.Tool.Name,
					Status: ev.Tool.Status,
					Title:  ev.Tool.Title,
					Output: ev.Tool.Output,
					Error:  ev.Tool.Error,
				})
			}
			t.req.CurrentStep = progress.ToolDetail(ev.Tool)
		}

	case agent.EventText:
		t.req.CurrentText = ev.Text

	case agent.EventTodoUpdated:
		t.req.Todos = append([]model.TrackedTodo(nil), ev.Todos...)
		todosChanged = true
	}

	todos := append([]model.TrackedTodo(nil), t.req.Todos...)
	planning := t.plan != nil && t.plan.Status == model.PlanPlanning
	t.tmu.Unlock()

	if todosChanged && planning {
		t.engine.mirrorPlan(t.ctx, t, todos)
	}

	if ev.Type == agent.EventPermissionAsked && ev.Permission != nil && len(ev.Permission.Questions) > 0 {
		t.engine.recordPendingQuestion(t.ctx, t, ev.Permission)
	}

	if label, ok := progress.StatusFromEvent(ev, t.session); ok {
		t.engine.archiveEvent(t.turnID, ev.Type, label)
	}
}

// recordPendingQuestion posts a backend-issued multiple-choice question as a
// button message and records it so the next click resolves it.
func (e *Engine) recordPendingQuestion(ctx context.Context, turn *turnContext, perm *agent.PermissionRequest) {
	sess := turn.sess
	q := perm.Questions[0]
	choices := make([]gateway.Choice, 0, len(q.Options))
	for _, opt := range q.Options {
		choices = append(choices, gateway.Choice{Label: opt, Value: opt})
	}

	msgID, err := e.gw.PostChoices(ctx, sess.ChannelID, sess.ThreadID, q.Question, choices)
	if err != nil {
		log.Printf("engine: posting question failed: %v", err)
		return
	}

	turn.tmu.Lock()
	sess.PendingQuestion = &model.PendingQuestion{
		RequestID: perm.RequestID,
		SessionID: sess.SessionID,
		AskedAt:   time.Now().UTC(),
		Questions: append([]model.Question(nil), perm.Questions...),
		MessageID: msgID,
	}
	e.persistSession(sess)
	turn.tmu.Unlock()
}
