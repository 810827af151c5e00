package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeResult(w http.ResponseWriter, status int, data interface{}) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Result{OK: true, Data: raw})
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("list conversations with bearer token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/conversations", r.URL.Path)
			assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
			writeResult(w, http.StatusOK, []Conversation{{ID: "c1", Name: "Alice", UnreadCount: 2}})
		}))
		defer srv.Close()

		c := NewClient("tok-1", WithBaseURL(srv.URL+"/"))
		c.SetToken("tok-2")
		convs, err := c.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, "Alice", convs[0].Name)
		assert.Equal(t, 2, convs[0].UnreadCount)
	})

	t.Run("create posts peer id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "bob", body["peerId"])
			writeResult(w, http.StatusCreated, Conversation{ID: "c9", PeerID: "bob"})
		}))
		defer srv.Close()

		conv, err := NewClient("", WithBaseURL(srv.URL)).CreateConversation(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "c9", conv.ID)
	})

	t.Run("ids are path escaped", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.EscapedPath()
			writeResult(w, http.StatusOK, nil)
		}))
		defer srv.Close()

		require.NoError(t, NewClient("", WithBaseURL(srv.URL)).DeleteConversation(ctx, "a/b"))
		assert.Equal(t, "/api/conversations/a%2Fb", got)
	})

	t.Run("error envelope becomes APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(Result{Error: &APIError{Code: "NOT_FOUND", Message: "no such conversation"}})
		}))
		defer srv.Close()

		err := NewClient("", WithBaseURL(srv.URL)).MarkRead(ctx, "c1")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "NOT_FOUND", apiErr.Code)
	})

	t.Run("non-json failure maps status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewClient("", WithBaseURL(srv.URL)).ListMessages(ctx, "c1")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "HTTP_502", apiErr.Code)
	})
}
