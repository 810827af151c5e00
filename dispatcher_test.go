package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDispatcher(t *testing.T) {
	ctx := context.Background()

	newDispatcher := func(calls *[]string, after *[]string) *eventDispatcher {
		handlers := map[string]eventHandler{
			EventPeerOnline: handle(func(_ context.Context, p PresencePayload) error {
				*calls = append(*calls, p.UserID)
				return nil
			}),
			EventPeerOffline: func(context.Context, json.RawMessage) error {
				return errors.New("rejected")
			},
		}
		return newEventDispatcher(handlers, func(env Envelope) { *after = append(*after, env.Type) },
			discardLogger(), NewMetrics(nil))
	}

	t.Run("typed handler and after hook", func(t *testing.T) {
		var calls, after []string
		d := newDispatcher(&calls, &after)
		d.dispatch(ctx, []byte(`{"type":"user.online","payload":{"userId":"bob"}}`))
		d.dispatch(ctx, []byte(`{"type":"unknown","payload":{}}`))

		assert.Equal(t, []string{"bob"}, calls)
		assert.Equal(t, []string{EventPeerOnline, "unknown"}, after)
		assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.EventsDispatched.WithLabelValues(EventPeerOnline)))
	})

	t.Run("rejected and malformed events skip listeners", func(t *testing.T) {
		var calls, after []string
		d := newDispatcher(&calls, &after)
		d.dispatch(ctx, []byte(`{"type":"user.offline","payload":{"userId":"bob"}}`))
		d.dispatch(ctx, []byte(`{"payload":{}}`))
		d.dispatch(ctx, []byte(`{`))
		d.dispatch(ctx, []byte(`{"type":"user.online","payload":[1,2]}`))

		assert.Empty(t, calls)
		assert.Empty(t, after)
	})

	t.Run("unbound dispatcher ignores frames", func(t *testing.T) {
		var calls, after []string
		d := newDispatcher(&calls, &after)
		assert.True(t, d.bound())
		d.unbind()
		assert.False(t, d.bound())

		d.dispatch(ctx, []byte(`{"type":"user.online","payload":{"userId":"bob"}}`))
		assert.Empty(t, calls)
		assert.Empty(t, after)
	})
}

func TestCallbackQueue(t *testing.T) {
	var q callbackQueue
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		i := i
		q.enqueue(func() {
			if i == 10 {
				panic("callback bug")
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	// A callback may enqueue more work without blocking.
	q.enqueue(func() { q.enqueue(func() { close(done) }) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 49)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}
