package chatsync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TypingEmitFunc sends the local typing state of a conversation.
type TypingEmitFunc func(ctx context.Context, conversationID string, typing bool) error

// TypingCoordinator runs the local idle/typing state machine per conversation
// and tracks which peers are typing in each conversation.
//
// A start is emitted only on the idle to typing edge. A stop is emitted once
// per episode by whichever path ends it: empty input, send, or the
// inactivity timer.
type TypingCoordinator struct {
	emit      TypingEmitFunc
	timeout   time.Duration
	remoteTTL time.Duration
	onRemote  func(conversationID string, typing bool)
	logger    *slog.Logger

	mu     sync.Mutex
	gen    uint64
	closed bool
	local  map[string]*typingEpisode
	remote map[string]map[string]*typingEpisode
}

type typingEpisode struct {
	gen   uint64
	timer *time.Timer
}

// NewTypingCoordinator creates a coordinator. remoteTTL of zero keeps a
// peer typing until its stop arrives.
func NewTypingCoordinator(emit TypingEmitFunc, timeout, remoteTTL time.Duration, onRemote func(string, bool), logger *slog.Logger) *TypingCoordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingCoordinator{
		emit:      emit,
		timeout:   timeout,
		remoteTTL: remoteTTL,
		onRemote:  onRemote,
		logger:    logger,
		local:     make(map[string]*typingEpisode),
		remote:    make(map[string]map[string]*typingEpisode),
	}
}

// ============================================================================
// Local typing
// ============================================================================

// InputChanged reports the composer text for a conversation. Non-empty text
// starts or extends a typing episode; empty text ends it.
func (t *TypingCoordinator) InputChanged(ctx context.Context, conversationID, text string) {
	if text == "" {
		t.Stop(ctx, conversationID)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	ep, typing := t.local[conversationID]
	if typing {
		ep.timer.Stop()
		ep.gen = gen
		ep.timer = time.AfterFunc(t.timeout, func() { t.expireLocal(conversationID, gen) })
	} else {
		t.local[conversationID] = &typingEpisode{
			gen:   gen,
			timer: time.AfterFunc(t.timeout, func() { t.expireLocal(conversationID, gen) }),
		}
	}
	t.mu.Unlock()

	if !typing {
		t.send(ctx, conversationID, true)
	}
}

// Sent ends the typing episode because a message was sent.
func (t *TypingCoordinator) Sent(ctx context.Context, conversationID string) {
	t.Stop(ctx, conversationID)
}

// Stop ends the typing episode for a conversation, if any.
func (t *TypingCoordinator) Stop(ctx context.Context, conversationID string) {
	t.mu.Lock()
	ep, ok := t.local[conversationID]
	if ok {
		ep.timer.Stop()
		delete(t.local, conversationID)
	}
	t.mu.Unlock()

	if ok {
		t.send(ctx, conversationID, false)
	}
}

// IsLocalTyping reports whether a typing episode is open for the conversation.
func (t *TypingCoordinator) IsLocalTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.local[conversationID]
	return ok
}

func (t *TypingCoordinator) expireLocal(conversationID string, gen uint64) {
	t.mu.Lock()
	ep, ok := t.local[conversationID]
	if !ok || ep.gen != gen || t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.local, conversationID)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	t.send(ctx, conversationID, false)
}

func (t *TypingCoordinator) send(ctx context.Context, conversationID string, typing bool) {
	if t.emit == nil {
		return
	}
	if err := t.emit(ctx, conversationID, typing); err != nil {
		t.logger.Debug("typing emit failed",
			"conversation", conversationID, "typing", typing, "error", err)
	}
}

// ============================================================================
// Remote typing
// ============================================================================

// SetRemote records a peer's typing state in a conversation.
func (t *TypingCoordinator) SetRemote(conversationID, peerID string, typing bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	peers := t.remote[conversationID]
	if typing {
		if peers == nil {
			peers = make(map[string]*typingEpisode)
			t.remote[conversationID] = peers
		}
		if ep := peers[peerID]; ep != nil && ep.timer != nil {
			ep.timer.Stop()
		}
		t.gen++
		ep := &typingEpisode{gen: t.gen}
		if t.remoteTTL > 0 {
			gen := t.gen
			ep.timer = time.AfterFunc(t.remoteTTL, func() { t.expireRemote(conversationID, peerID, gen) })
		}
		peers[peerID] = ep
	} else if ep := peers[peerID]; ep != nil {
		if ep.timer != nil {
			ep.timer.Stop()
		}
		delete(peers, peerID)
		if len(peers) == 0 {
			delete(t.remote, conversationID)
		}
	}
	active := len(t.remote[conversationID]) > 0
	t.mu.Unlock()

	t.notify(conversationID, active)
}

// ClearPeer drops a peer from every conversation's typing set.
func (t *TypingCoordinator) ClearPeer(peerID string) {
	var idle []string
	t.mu.Lock()
	for conv, peers := range t.remote {
		ep, ok := peers[peerID]
		if !ok {
			continue
		}
		if ep.timer != nil {
			ep.timer.Stop()
		}
		delete(peers, peerID)
		if len(peers) == 0 {
			delete(t.remote, conv)
			idle = append(idle, conv)
		}
	}
	t.mu.Unlock()

	for _, conv := range idle {
		t.notify(conv, false)
	}
}

// ForgetConversation drops all typing state for a conversation without
// emitting anything.
func (t *TypingCoordinator) ForgetConversation(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ep, ok := t.local[conversationID]; ok {
		ep.timer.Stop()
		delete(t.local, conversationID)
	}
	for _, ep := range t.remote[conversationID] {
		if ep.timer != nil {
			ep.timer.Stop()
		}
	}
	delete(t.remote, conversationID)
}

// Peers returns the peers typing in a conversation, sorted.
func (t *TypingCoordinator) Peers(conversationID string) []string {
	t.mu.Lock()
	out := make([]string, 0, len(t.remote[conversationID]))
	for id := range t.remote[conversationID] {
		out = append(out, id)
	}
	t.mu.Unlock()
	sort.Strings(out)
	return out
}

func (t *TypingCoordinator) expireRemote(conversationID, peerID string, gen uint64) {
	t.mu.Lock()
	peers := t.remote[conversationID]
	ep, ok := peers[peerID]
	if !ok || ep.gen != gen || t.closed {
		t.mu.Unlock()
		return
	}
	delete(peers, peerID)
	if len(peers) == 0 {
		delete(t.remote, conversationID)
	}
	active := len(t.remote[conversationID]) > 0
	t.mu.Unlock()

	t.notify(conversationID, active)
}

func (t *TypingCoordinator) notify(conversationID string, typing bool) {
	if t.onRemote != nil {
		t.onRemote(conversationID, typing)
	}
}

// Close cancels every timer and clears remote typing flags. Nothing is
// emitted.
func (t *TypingCoordinator) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, ep := range t.local {
		ep.timer.Stop()
	}
	t.local = make(map[string]*typingEpisode)
	convs := make([]string, 0, len(t.remote))
	for conv, peers := range t.remote {
		for _, ep := range peers {
			if ep.timer != nil {
				ep.timer.Stop()
			}
		}
		convs = append(convs, conv)
	}
	t.remote = make(map[string]map[string]*typingEpisode)
	t.mu.Unlock()

	for _, conv := range convs {
		t.notify(conv, false)
	}
}
