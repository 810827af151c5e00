// Package chatsync keeps a client's view of conversations and messages in
// sync across a persistent push connection and a REST backend.
//
// Example:
//
//	rest := chatsync.NewClient("", chatsync.WithBaseURL("https://api.example.com"))
//	engine := chatsync.NewEngine(&chatsync.WebSocketDialer{URL: "https://api.example.com/ws"}, rest)
//	defer engine.Close()
//
//	engine.SetCredential(token)
//	engine.Cache().Subscribe(func(ev chatsync.CacheEvent) { render(engine.Cache().Conversations()) })
//	engine.Lifecycle().SendMessage(ctx, "conv-1", "hi", nil)
package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DeletionNotice describes a conversation deleted by someone else.
type DeletionNotice struct {
	ConversationID string
	DeletedBy      string
	At             time.Time
	// WasViewing is true when the conversation was open; the engine has
	// already cleared it as the viewed conversation.
	WasViewing bool
}

// Notifier surfaces peer-initiated changes to the user. Notices are
// delivered in order on a goroutine of their own, so a Notifier may call
// back into the Engine.
type Notifier interface {
	ConversationDeleted(n DeletionNotice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(DeletionNotice)

// ConversationDeleted calls f(n).
func (f NotifierFunc) ConversationDeleted(n DeletionNotice) { f(n) }

type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) ConversationDeleted(d DeletionNotice) {
	n.logger.Info("conversation deleted by peer",
		"conversation", d.ConversationID, "deleted_by", d.DeletedBy, "was_viewing", d.WasViewing)
}

// ============================================================================
// Engine
// ============================================================================

// Engine wires the connection manager, cache and lifecycle controller
// together for one user at a time.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *Metrics
	inspector CredentialInspector
	notifier  Notifier
	notices   callbackQueue
	rest      Backend

	cache     *Cache
	conns     *ConnectionManager
	lifecycle *LifecycleController
	listeners *eventEmitter

	mu         sync.RWMutex
	credential string
	identity   string
	viewing    string
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithInspector(i CredentialInspector) Option {
	return func(e *Engine) { e.inspector = i }
}

// WithMetrics sets the collectors. Defaults to unregistered ones.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. Nothing is dialed until SetCredential.
func NewEngine(dialer Dialer, rest Backend, opts ...Option) *Engine {
	e := &Engine{
		rest:      rest,
		inspector: JWTInspector{},
		cache:     NewCache(),
		listeners: newEventEmitter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.defaults()
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.notifier == nil {
		e.notifier = logNotifier{logger: e.logger.With("component", "notifier")}
	}

	env := &sessionEnv{
		cfg:                 e.cfg,
		cache:               e.cache,
		inspector:           e.inspector,
		logger:              e.logger.With("component", "session"),
		metrics:             e.metrics,
		listeners:           e.listeners,
		conversationDeleted: e.conversationDeleted,
	}
	e.conns = newConnectionManager(dialer, e.cfg, e.logger.With("component", "connection"), e.metrics,
		func(conn Conn, credential string) *Session { return newSession(conn, credential, env) },
		e.onConnect)
	e.lifecycle = newLifecycleController(e.conns, e.cache, rest, e.cfg.DeleteGraceDelay, e.Identity,
		e.logger.With("component", "lifecycle"), e.metrics)
	env.pendingDelete = e.lifecycle.Deleting
	return e
}

// SetCredential supplies the current credential. Switching to a different
// user drops the cache after the old connection is torn down. An empty
// credential disconnects.
func (e *Engine) SetCredential(credential string) {
	var subject string
	if credential != "" {
		subject, _ = e.inspector.SubjectID(credential)
	}

	e.mu.Lock()
	prevCred, prevSubject := e.credential, e.identity
	e.credential, e.identity = credential, subject
	switched := prevCred != "" && credential != prevCred && (subject != prevSubject || subject == "")
	if switched {
		e.viewing = ""
	}
	e.mu.Unlock()

	if ts, ok := e.rest.(tokenSetter); ok {
		ts.SetToken(credential)
	}
	if switched {
		e.conns.SetCredential("")
		e.cache.Reset()
	}
	e.conns.SetCredential(credential)
}

// Close disconnects and stops all timers.
func (e *Engine) Close() {
	e.conns.Close()
}

func (e *Engine) State() ConnState                 { return e.conns.State() }
func (e *Engine) Connected() bool                  { return e.conns.Connected() }
func (e *Engine) OnStateChange(fn func(ConnState)) { e.conns.OnStateChange(fn) }
func (e *Engine) Cache() *Cache                    { return e.cache }
func (e *Engine) Lifecycle() *LifecycleController  { return e.lifecycle }
func (e *Engine) Metrics() *Metrics                { return e.metrics }

// On registers a listener called after the engine applies each event of
// eventType. Use AnyEvent for all events. Listeners survive reconnects.
func (e *Engine) On(eventType string, fn EventListener) {
	e.listeners.On(eventType, fn)
}

// Identity returns the decoded current user id, or "" when unknown.
func (e *Engine) Identity() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.identity
}

// Viewing returns the conversation currently open, or "".
func (e *Engine) Viewing() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewing
}

// ── Presence & typing ───────────────────────────────────

// OnlinePeers returns the online peers of the live session.
func (e *Engine) OnlinePeers() []string {
	if sess := e.conns.Session(); sess != nil {
		return sess.Presence().Online()
	}
	return nil
}

// IsOnline reports whether userID is online in the live session.
func (e *Engine) IsOnline(userID string) bool {
	if sess := e.conns.Session(); sess != nil {
		return sess.Presence().IsOnline(userID)
	}
	return false
}

// TypingPeers returns the peers typing in a conversation.
func (e *Engine) TypingPeers(conversationID string) []string {
	if sess := e.conns.Session(); sess != nil {
		return sess.Typing().Peers(conversationID)
	}
	return nil
}

// InputChanged feeds composer text into the typing state machine.
func (e *Engine) InputChanged(ctx context.Context, conversationID, text string) {
	if sess := e.conns.Session(); sess != nil {
		sess.Typing().InputChanged(ctx, conversationID, text)
	}
}

// ── Views & REST pulls ──────────────────────────────────

// Refresh replaces the conversation list from the backend.
func (e *Engine) Refresh(ctx context.Context) error {
	convs, err := e.rest.ListConversations(ctx)
	if err != nil {
		return err
	}
	e.cache.ReplaceConversations(convs)
	e.cache.MarkFresh(ConversationsKey)
	return nil
}

// LoadMessages merges a conversation's history from the backend and returns
// the cached list.
func (e *Engine) LoadMessages(ctx context.Context, conversationID string) ([]Message, error) {
	msgs, err := e.rest.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	me := e.Identity()
	for i := range msgs {
		msgs[i].IsMine = me != "" && msgs[i].SenderID == me
	}
	e.cache.PutMessages(conversationID, msgs)
	e.cache.MarkFresh(MessagesKey(conversationID))
	return e.cache.Messages(conversationID), nil
}

// Open makes conversationID the viewed conversation: history is fetched if
// stale, the conversation is joined and marked read.
func (e *Engine) Open(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	e.viewing = conversationID
	e.mu.Unlock()

	if e.cache.IsStale(MessagesKey(conversationID)) {
		if _, err := e.LoadMessages(ctx, conversationID); err != nil {
			return err
		}
	}
	if err := e.lifecycle.Join(ctx, conversationID); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return e.lifecycle.MarkRead(ctx, conversationID)
}

// CloseView leaves the viewed conversation.
func (e *Engine) CloseView(ctx context.Context) error {
	e.mu.Lock()
	conv := e.viewing
	e.viewing = ""
	e.mu.Unlock()
	if conv == "" {
		return nil
	}
	if err := e.lifecycle.Leave(ctx, conv); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// ── Session hooks ───────────────────────────────────────

// onConnect resyncs a fresh connection: roster, conversation list and the
// viewed conversation.
func (e *Engine) onConnect(ctx context.Context, sess *Session) {
	if err := sess.Emit(ctx, CmdRequestRoster, struct{}{}); err != nil {
		e.logger.Warn("roster request failed", "error", err)
	}

	e.cache.Invalidate(ConversationsKey)
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RESTTimeout)
	defer cancel()
	if err := e.Refresh(rctx); err != nil {
		e.logger.Warn("resync conversations failed", "error", err)
	}

	if conv := e.Viewing(); conv != "" {
		e.cache.Invalidate(MessagesKey(conv))
		if err := sess.Emit(ctx, CmdJoinConversation, conversationPayload{ConversationID: conv}); err != nil {
			e.logger.Warn("rejoin failed", "conversation", conv, "error", err)
		}
	}
}

func (e *Engine) conversationDeleted(p ConversationDeletedPayload, local bool) {
	e.mu.Lock()
	wasViewing := e.viewing == p.ConversationID
	if wasViewing {
		e.viewing = ""
	}
	e.mu.Unlock()

	if local {
		return
	}
	at := p.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	notice := DeletionNotice{
		ConversationID: p.ConversationID,
		DeletedBy:      p.DeletedBy,
		At:             at,
		WasViewing:     wasViewing,
	}
	e.notices.enqueue(func() { e.notifier.ConversationDeleted(notice) })
}
