package chatsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("fake: connection closed")

// sentCommand is a command as the server would decode it.
type sentCommand struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId"`
}

// ============================================================================
// Fake connection
// ============================================================================

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []sentCommand
	onWrite func(c *fakeConn, cmd sentCommand)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, errConnClosed
	default:
	}
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, frame []byte) error {
	if c.isClosed() {
		return errConnClosed
	}
	var cmd sentCommand
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, cmd)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(c, cmd)
	}
	return nil
}

func (c *fakeConn) Close(string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push delivers a server event.
func (c *fakeConn) push(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Type: eventType, Payload: raw})
	require.NoError(t, err)
	c.in <- frame
}

// reply delivers a server event from inside an onWrite hook.
func (c *fakeConn) reply(eventType string, payload interface{}) {
	raw, _ := json.Marshal(payload)
	frame, _ := json.Marshal(Envelope{Type: eventType, Payload: raw})
	c.in <- frame
}

// drop simulates the server going away.
func (c *fakeConn) drop() { _ = c.Close("") }

func (c *fakeConn) commands(cmdType string) []sentCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentCommand
	for _, cmd := range c.sent {
		if cmd.Type == cmdType {
			out = append(out, cmd)
		}
	}
	return out
}

// sentTypes returns the types of every command written, in order.
func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, cmd := range c.sent {
		out = append(out, cmd.Type)
	}
	return out
}

// ============================================================================
// Fake dialer
// ============================================================================

type fakeDialer struct {
	mu      sync.Mutex
	creds   []string
	conns   []*fakeConn
	fail    bool
	onWrite func(c *fakeConn, cmd sentCommand)

	// prevClosedAtDial records, for every dial after the first successful
	// one, whether the previous connection was already closed.
	prevClosedAtDial []bool
}

func (d *fakeDialer) Dial(_ context.Context, credential string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creds = append(d.creds, credential)
	if d.fail {
		return nil, errors.New("fake: dial refused")
	}
	if n := len(d.conns); n > 0 {
		d.prevClosedAtDial = append(d.prevClosedAtDial, d.conns[n-1].isClosed())
	}
	c := newFakeConn()
	c.onWrite = d.onWrite
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.creds)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) lastCredential() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.creds) == 0 {
		return ""
	}
	return d.creds[len(d.creds)-1]
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

// ============================================================================
// Fake backend
// ============================================================================

type fakeBackend struct {
	mu            sync.Mutex
	conversations []Conversation
	messages      map[string][]Message
	deleteErr     error
	markReadErr   error

	listCalls     int
	deleteCalls   int
	markReadCalls int
	created       []string
}

func (b *fakeBackend) ListConversations(context.Context) ([]Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	return append([]Conversation(nil), b.conversations...), nil
}

func (b *fakeBackend) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages[conversationID]...), nil
}

func (b *fakeBackend) CreateConversation(_ context.Context, peerID string) (*Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, peerID)
	conv := Conversation{ID: "conv-" + peerID, Name: peerID, LastActiveAt: time.Now()}
	b.conversations = append(b.conversations, conv)
	return &conv, nil
}

func (b *fakeBackend) MarkRead(context.Context, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markReadCalls++
	return b.markReadErr
}

func (b *fakeBackend) DeleteConversation(_ context.Context, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteCalls++
	if b.deleteErr != nil {
		return b.deleteErr
	}
	for i, c := range b.conversations {
		if c.ID == conversationID {
			b.conversations = append(b.conversations[:i], b.conversations[i+1:]...)
			break
		}
	}
	return nil
}

func (b *fakeBackend) counts() (list, del, markRead int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls, b.deleteCalls, b.markReadCalls
}

// ============================================================================
// Helpers
// ============================================================================

func makeJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." +
		enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		MaxReconnectAttempts: 3,
		ReconnectDelay:       5 * time.Millisecond,
		TypingTimeout:        50 * time.Millisecond,
		DeleteGraceDelay:     50 * time.Millisecond,
		EmitRate:             1000,
		EmitBurst:            1000,
		RESTTimeout:          time.Second,
	}
}

func newTestEngine(t *testing.T, d Dialer, b Backend, opts ...Option) *Engine {
	t.Helper()
	all := append([]Option{WithConfig(testConfig()), WithLogger(discardLogger())}, opts...)
	e := NewEngine(d, b, all...)
	t.Cleanup(e.Close)
	return e
}

// connect sets the credential and waits for the first resync to finish.
func connect(t *testing.T, e *Engine, d *fakeDialer, credential string) *fakeConn {
	t.Helper()
	e.SetCredential(credential)
	require.Eventually(t, func() bool {
		return e.Connected() && !e.Cache().IsStale(ConversationsKey)
	}, time.Second, 5*time.Millisecond)
	return d.last()
}

// barrier returns once every frame pushed on c before it has been applied.
func barrier(t *testing.T, e *Engine, c *fakeConn) {
	t.Helper()
	token := fmt.Sprintf("barrier-%d", time.Now().UnixNano())
	done := make(chan struct{})
	var once sync.Once
	e.On(EventError, func(_ string, payload json.RawMessage) {
		var p ErrorPayload
		if json.Unmarshal(payload, &p) == nil && p.Message == token {
			once.Do(func() { close(done) })
		}
	})
	c.push(t, EventError, ErrorPayload{Message: token})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier not reached")
	}
}
