package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrEmptyContent is returned when sending a blank message.
var ErrEmptyContent = errors.New("chatsync: empty message")

// LifecycleController runs conversation operations that span the push
// connection and the REST backend.
type LifecycleController struct {
	conns    *ConnectionManager
	cache    *Cache
	rest     Backend
	grace    time.Duration
	identity func() string
	logger   *slog.Logger
	metrics  *Metrics

	mu      sync.Mutex
	pending map[string]int

	// reactMu keeps cache toggles and their emits in the same order.
	reactMu sync.Mutex
}

func newLifecycleController(conns *ConnectionManager, cache *Cache, rest Backend, grace time.Duration,
	identity func() string, logger *slog.Logger, metrics *Metrics) *LifecycleController {
	return &LifecycleController{
		conns:    conns,
		cache:    cache,
		rest:     rest,
		grace:    grace,
		identity: identity,
		logger:   logger,
		metrics:  metrics,
		pending:  make(map[string]int),
	}
}

// Create opens a conversation with peerID, caches it and joins it.
func (l *LifecycleController) Create(ctx context.Context, peerID string) (Conversation, error) {
	conv, err := l.rest.CreateConversation(ctx, peerID)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if conv.PeerID == "" {
		conv.PeerID = peerID
	}
	l.cache.InsertConversation(*conv)
	l.cache.Invalidate(ConversationsKey)

	err = l.conns.Emit(ctx, CmdCreateConversation, createConversationPayload{PeerID: peerID, ConversationID: conv.ID})
	if err != nil {
		l.logger.Debug("conversation created without live notify", "conversation", conv.ID, "error", err)
	}
	if err := l.Join(ctx, conv.ID); err != nil && !errors.Is(err, ErrNotConnected) {
		l.logger.Warn("join after create failed", "conversation", conv.ID, "error", err)
	}

	if cached, ok := l.cache.Conversation(conv.ID); ok {
		return cached, nil
	}
	return *conv, nil
}

// Join subscribes to a conversation and refreshes the presence roster.
func (l *LifecycleController) Join(ctx context.Context, conversationID string) error {
	if err := l.conns.Emit(ctx, CmdJoinConversation, conversationPayload{ConversationID: conversationID}); err != nil {
		return err
	}
	return l.conns.Emit(ctx, CmdRequestRoster, struct{}{})
}

// Leave ends local typing and unsubscribes from a conversation.
func (l *LifecycleController) Leave(ctx context.Context, conversationID string) error {
	if sess := l.conns.Session(); sess != nil {
		sess.Typing().Stop(ctx, conversationID)
	}
	return l.conns.Emit(ctx, CmdLeaveConversation, conversationPayload{ConversationID: conversationID})
}

// SendMessage sends content to a conversation. There is no outbox: without
// a connection it fails with ErrNotConnected. The message reaches the cache
// through its echo.
func (l *LifecycleController) SendMessage(ctx context.Context, conversationID, content string, replyTo *ReplyRef) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	sess := l.conns.Session()
	if sess == nil {
		return ErrNotConnected
	}
	err := sess.Emit(ctx, CmdSendMessage, sendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		ReplyTo:        replyTo,
	})
	if err != nil {
		return err
	}
	sess.Typing().Sent(ctx, conversationID)
	return nil
}

// MarkRead marks a conversation read over the push connection, or over REST
// when there is none, then zeroes its unread counter.
func (l *LifecycleController) MarkRead(ctx context.Context, conversationID string) error {
	err := l.conns.Emit(ctx, CmdMarkRead, conversationPayload{ConversationID: conversationID})
	switch {
	case err == nil:
	case !errors.Is(err, ErrNotConnected):
		return fmt.Errorf("mark read: %w", err)
	default:
		l.metrics.RESTFallbacks.WithLabelValues("mark_read").Inc()
		if err := l.rest.MarkRead(ctx, conversationID); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}
	l.cache.MarkRead(conversationID, l.identity())
	return nil
}

// Delete removes a conversation. The delete is emitted on the push
// connection first; after the grace delay, if the conversation is still
// cached, the REST backend is called. Without a connection REST is always
// called, whether or not the conversation is cached. A REST failure after a
// successful emit is logged and swallowed.
func (l *LifecycleController) Delete(ctx context.Context, conversationID string) error {
	l.addPending(conversationID)
	defer l.removePending(conversationID)

	pushed := true
	if err := l.conns.Emit(ctx, CmdDeleteConversation, conversationPayload{ConversationID: conversationID}); err != nil {
		pushed = false
		l.logger.Debug("delete not pushed", "conversation", conversationID, "error", err)
	}

	if pushed {
		timer := time.NewTimer(l.grace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if pushed && !l.cache.HasConversation(conversationID) {
		return nil
	}

	l.metrics.RESTFallbacks.WithLabelValues("delete").Inc()
	if err := l.rest.DeleteConversation(ctx, conversationID); err != nil {
		if pushed {
			l.logger.Warn("rest delete failed after push delete",
				"conversation", conversationID, "error", err)
			return nil
		}
		return fmt.Errorf("delete conversation: %w", err)
	}

	if sess := l.conns.Session(); sess != nil {
		sess.Typing().ForgetConversation(conversationID)
	}
	l.cache.DeleteConversation(conversationID)
	l.cache.Invalidate(ConversationsKey)
	return nil
}

// ToggleReaction flips the current user's emoji reaction on a message in
// the cache, then tells the server. A failed send is not rolled back; the
// message query is invalidated so the next fetch repairs it. Concurrent
// toggles are serialized so the server sees them in cache order.
func (l *LifecycleController) ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	me := l.identity()
	if me == "" {
		return ErrUnknownIdentity
	}
	l.reactMu.Lock()
	defer l.reactMu.Unlock()

	added, err := l.cache.ToggleReaction(messageID, emoji, me)
	if err != nil {
		return err
	}

	cmd := CmdRemoveReaction
	if added {
		cmd = CmdAddReaction
	}
	payload := reactionPayload{MessageID: messageID, ConversationID: conversationID, Emoji: emoji}
	if err := l.conns.Emit(ctx, cmd, payload); err != nil {
		l.logger.Warn("reaction not sent", "message", messageID, "emoji", emoji, "error", err)
		l.cache.Invalidate(MessagesKey(conversationID))
	}
	return nil
}

// Deleting reports whether a local delete of the conversation is in flight.
func (l *LifecycleController) Deleting(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[conversationID] > 0
}

func (l *LifecycleController) addPending(conversationID string) {
	l.mu.Lock()
	l.pending[conversationID]++
	l.mu.Unlock()
}

func (l *LifecycleController) removePending(conversationID string) {
	l.mu.Lock()
	l.pending[conversationID]--
	if l.pending[conversationID] <= 0 {
		delete(l.pending, conversationID)
	}
	l.mu.Unlock()
}
