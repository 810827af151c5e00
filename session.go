package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// sessionEnv is what a session borrows from the engine. It outlives every
// session.
type sessionEnv struct {
	cfg       Config
	cache     *Cache
	inspector CredentialInspector
	logger    *slog.Logger
	metrics   *Metrics
	listeners *eventEmitter

	// pendingDelete reports whether a local delete of the conversation is in
	// flight.
	pendingDelete func(conversationID string) bool
	// conversationDeleted runs after a conversation.deleted event was applied.
	conversationDeleted func(p ConversationDeletedPayload, local bool)
}

// Session is the state of one live connection: its dedup memory, presence
// set, typing state and bound handler set. A new session is built for every
// connection and closed when the connection ends.
type Session struct {
	ID string

	conn       Conn
	userID     string
	env        *sessionEnv
	logger     *slog.Logger
	limiter    *rate.Limiter
	dedup      *DedupStore
	presence   *PresenceTracker
	typing     *TypingCoordinator
	dispatcher *eventDispatcher

	closed    atomic.Bool
	closeOnce sync.Once
}

func newSession(conn Conn, credential string, env *sessionEnv) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		conn:    conn,
		env:     env,
		limiter: rate.NewLimiter(rate.Limit(env.cfg.EmitRate), env.cfg.EmitBurst),
	}
	s.logger = env.logger.With("session", s.ID)

	if env.inspector != nil {
		userID, err := env.inspector.SubjectID(credential)
		if err != nil {
			s.logger.Warn("cannot decode current user, authorship unknown", "error", err)
		}
		s.userID = userID
	}

	s.dedup = NewDedupStore(env.cfg.DedupCapacity, func(string) { env.metrics.DedupEvictions.Inc() })
	s.presence = NewPresenceTracker(func(n int) { env.metrics.OnlinePeers.Set(float64(n)) })
	s.typing = NewTypingCoordinator(s.emitTyping, env.cfg.TypingTimeout, env.cfg.RemoteTypingTTL,
		env.cache.SetTyping, s.logger)
	s.dispatcher = newEventDispatcher(s.handlers(), env.listeners.emit, s.logger, env.metrics)
	return s
}

// UserID returns the decoded current user, or "" when unknown.
func (s *Session) UserID() string { return s.userID }

// Presence returns the session's presence tracker.
func (s *Session) Presence() *PresenceTracker { return s.presence }

// Typing returns the session's typing coordinator.
func (s *Session) Typing() *TypingCoordinator { return s.typing }

// Dedup returns the session's dedup store.
func (s *Session) Dedup() *DedupStore { return s.dedup }

// Emit sends a command on the session's connection.
func (s *Session) Emit(ctx context.Context, cmdType string, payload interface{}) error {
	if s.closed.Load() {
		return ErrNotConnected
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("emit %s: %w", cmdType, err)
	}
	data, err := json.Marshal(Command{Type: cmdType, Payload: payload, RequestID: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cmdType, err)
	}
	if err := s.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("emit %s: %w", cmdType, err)
	}
	return nil
}

func (s *Session) emitTyping(ctx context.Context, conversationID string, typing bool) error {
	return s.Emit(ctx, CmdTyping, typingCommandPayload{ConversationID: conversationID, IsTyping: typing})
}

// readLoop dispatches frames in arrival order until the connection ends.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		frame, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		s.dispatcher.dispatch(ctx, frame)
	}
}

// Close unbinds the handler set, cancels typing timers and closes the
// connection. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.dispatcher.unbind()
		s.typing.Close()
		s.env.metrics.OnlinePeers.Set(0)
		if err := s.conn.Close("session closed"); err != nil {
			s.logger.Debug("close connection", "error", err)
		}
	})
}
