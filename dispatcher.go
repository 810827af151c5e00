package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// eventHandler applies one push event. A returned error means the payload
// was unusable and the event was dropped.
type eventHandler func(ctx context.Context, payload json.RawMessage) error

// handle adapts a typed handler to eventHandler.
func handle[T any](fn func(ctx context.Context, p T) error) eventHandler {
	return func(ctx context.Context, payload json.RawMessage) error {
		p, err := decodeJSON[T](payload)
		if err != nil {
			return err
		}
		return fn(ctx, *p)
	}
}

// eventDispatcher routes decoded frames of one connection to its handler
// set. The set is bound once at construction and cleared by unbind; after
// that every frame is ignored.
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]eventHandler
	after    func(Envelope)
	logger   *slog.Logger
	metrics  *Metrics
}

func newEventDispatcher(handlers map[string]eventHandler, after func(Envelope), logger *slog.Logger, metrics *Metrics) *eventDispatcher {
	return &eventDispatcher{
		handlers: handlers,
		after:    after,
		logger:   logger,
		metrics:  metrics,
	}
}

func (d *eventDispatcher) unbind() {
	d.mu.Lock()
	d.handlers = nil
	d.after = nil
	d.mu.Unlock()
}

func (d *eventDispatcher) bound() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers != nil
}

// dispatch handles one raw frame to completion.
func (d *eventDispatcher) dispatch(ctx context.Context, frame []byte) {
	d.mu.RLock()
	handlers, after := d.handlers, d.after
	d.mu.RUnlock()
	if handlers == nil {
		return
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		d.logger.Warn("dropping malformed frame", "bytes", len(frame), "error", err)
		return
	}
	d.metrics.EventsDispatched.WithLabelValues(env.Type).Inc()

	if h, ok := handlers[env.Type]; ok {
		if err := h(ctx, env.Payload); err != nil {
			d.logger.Warn("dropping event", "type", env.Type, "error", err)
			return
		}
	} else {
		d.logger.Debug("no handler for event", "type", env.Type)
	}

	if after != nil {
		after(env)
	}
}

// ============================================================================
// Listeners
// ============================================================================

// AnyEvent registers a listener for every event type.
const AnyEvent = "*"

// EventListener observes push events after the engine has applied them.
type EventListener func(eventType string, payload json.RawMessage)

type eventEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventListener
	queue     callbackQueue
}

func newEventEmitter() *eventEmitter {
	return &eventEmitter{listeners: make(map[string][]EventListener)}
}

func (e *eventEmitter) On(eventType string, fn EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[eventType] = append(e.listeners[eventType], fn)
}

func (e *eventEmitter) emit(env Envelope) {
	e.mu.RLock()
	handlers := append([]EventListener{}, e.listeners[env.Type]...)
	handlers = append(handlers, e.listeners[AnyEvent]...)
	e.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	e.queue.enqueue(func() {
		for _, h := range handlers {
			func() {
				defer func() { recover() }()
				h(env.Type, env.Payload)
			}()
		}
	})
}

// ── callback queue ──

// callbackQueue runs user callbacks one at a time, in enqueue order, on a
// goroutine of its own. Callbacks may call back into the engine, including
// SetCredential and Close, since they never run on a connection goroutine.
// The zero value is ready to use; no goroutine is held while idle.
type callbackQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (q *callbackQueue) enqueue(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *callbackQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		func() {
			defer func() { recover() }()
			fn()
		}()
	}
}

func errMissingField(event, field string) error {
	return fmt.Errorf("%s: missing %s", event, field)
}
