package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/matchcards/chatsync"
)

// chatServer serves the REST routes and, when push is enabled, a push
// endpoint that confirms conversation deletes.
type chatServer struct {
	push bool

	mu          sync.Mutex
	restDeletes []string
	pushDeletes []string
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/ws":
		s.serveWS(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/conversations":
		w.Write([]byte(`{"ok":true,"data":[{"id":"c1","name":"Bob"}]}`))
	case r.Method == http.MethodDelete:
		s.mu.Lock()
		s.restDeletes = append(s.restDeletes, strings.TrimPrefix(r.URL.Path, "/api/conversations/"))
		s.mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	default:
		w.Write([]byte(`{"ok":true,"data":[]}`))
	}
}

func (s *chatServer) serveWS(w http.ResponseWriter, r *http.Request) {
	if !s.push {
		http.Error(w, "push disabled", http.StatusServiceUnavailable)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")
	ctx := r.Context()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var cmd struct {
			Type    string `json:"type"`
			Payload struct {
				ConversationID string `json:"conversationId"`
			} `json:"payload"`
		}
		if json.Unmarshal(data, &cmd) != nil || cmd.Type != chatsync.CmdDeleteConversation {
			continue
		}
		s.mu.Lock()
		s.pushDeletes = append(s.pushDeletes, cmd.Payload.ConversationID)
		s.mu.Unlock()

		payload, _ := json.Marshal(chatsync.ConversationDeletedPayload{ConversationID: cmd.Payload.ConversationID, DeletedBy: "me"})
		frame, _ := json.Marshal(chatsync.Envelope{Type: chatsync.EventConversationDeleted, Payload: payload})
		if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
			return
		}
	}
}

func (s *chatServer) deletes() (rest, push []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.restDeletes...), append([]string(nil), s.pushDeletes...)
}

func newTestEngine(t *testing.T, srv *httptest.Server) *chatsync.Engine {
	t.Helper()
	e := chatsync.NewEngine(
		&chatsync.WebSocketDialer{URL: srv.URL + "/ws"},
		chatsync.NewClient("tok", chatsync.WithBaseURL(srv.URL)),
		chatsync.WithConfig(chatsync.Config{
			MaxReconnectAttempts: 1,
			ReconnectDelay:       time.Millisecond,
			DeleteGraceDelay:     200 * time.Millisecond,
		}),
		chatsync.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(e.Close)
	return e
}

func TestDeleteConversation(t *testing.T) {
	t.Run("push path confirms without rest", func(t *testing.T) {
		cs := &chatServer{push: true}
		srv := httptest.NewServer(cs)
		defer srv.Close()
		e := newTestEngine(t, srv)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, deleteConversation(ctx, e, "tok", "c1", 2*time.Second))

		rest, push := cs.deletes()
		assert.Equal(t, []string{"c1"}, push)
		assert.Empty(t, rest)
		assert.False(t, e.Cache().HasConversation("c1"))
	})

	t.Run("unreachable push endpoint falls back to rest", func(t *testing.T) {
		cs := &chatServer{}
		srv := httptest.NewServer(cs)
		defer srv.Close()
		e := newTestEngine(t, srv)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, deleteConversation(ctx, e, "tok", "c1", 2*time.Second))

		rest, push := cs.deletes()
		assert.Equal(t, []string{"c1"}, rest)
		assert.Empty(t, push)
	})
}
