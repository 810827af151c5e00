package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

// reconnector counts consecutive failed dials against a fixed budget.
type reconnector struct {
	delay       time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(cfg *Config) *reconnector {
	return &reconnector{
		delay:       cfg.ReconnectDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	r.attempt++
	return r.delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// ConnectionManager
// ============================================================================

// ConnectionManager keeps at most one live connection for the current
// credential and reconnects it when it drops.
type ConnectionManager struct {
	dialer     Dialer
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	newSession func(conn Conn, credential string) *Session
	onConnect  func(ctx context.Context, s *Session)

	// switchMu serializes credential switches so teardown always completes
	// before the next dial.
	switchMu sync.Mutex

	mu         sync.RWMutex
	credential string
	state      ConnState
	session    *Session
	gen        uint64
	cancel     context.CancelFunc
	done       chan struct{}
	listeners  []func(ConnState)
	notify     callbackQueue
}

func newConnectionManager(dialer Dialer, cfg Config, logger *slog.Logger, metrics *Metrics,
	newSession func(Conn, string) *Session, onConnect func(context.Context, *Session)) *ConnectionManager {
	return &ConnectionManager{
		dialer:     dialer,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		newSession: newSession,
		onConnect:  onConnect,
		state:      StateDisconnected,
	}
}

// SetCredential switches the connection to credential. An empty credential
// disconnects. The previous connection is fully torn down before the new
// one is dialed. Re-supplying the current credential is a no-op unless the
// reconnect budget was exhausted, in which case it dials again.
func (m *ConnectionManager) SetCredential(credential string) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.RLock()
	same := credential == m.credential && (credential == "" || m.runningLocked())
	m.mu.RUnlock()
	if same {
		return
	}

	m.stop()

	m.mu.Lock()
	m.credential = credential
	if credential == "" {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	gen := m.gen
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	m.setState(gen, StateConnecting)
	go m.run(ctx, gen, credential, done)
}

// Close tears down the connection and forgets the credential.
func (m *ConnectionManager) Close() {
	m.SetCredential("")
}

// stop cancels the running loop, waits for it to exit and moves to
// disconnected under a new generation.
func (m *ConnectionManager) stop() {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.setState(gen, StateDisconnected)
}

func (m *ConnectionManager) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *ConnectionManager) run(ctx context.Context, gen uint64, credential string, done chan struct{}) {
	defer close(done)

	rc := newReconnector(&m.cfg)
	for {
		if rc.attempt == 0 {
			m.setState(gen, StateConnecting)
		}
		conn, err := m.dialer.Dial(ctx, credential)
		if err == nil {
			rc.reset()
			err = m.serve(ctx, gen, conn, credential)
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("connection lost", "error", err, "attempt", rc.attempt)

		if !rc.shouldReconnect() {
			m.logger.Error("reconnect attempts exhausted, staying disconnected",
				"attempts", rc.attempt)
			m.setState(gen, StateDisconnected)
			return
		}
		delay := rc.nextDelay()
		m.setState(gen, StateReconnecting)
		m.metrics.Reconnects.Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve runs one connection until it ends.
func (m *ConnectionManager) serve(ctx context.Context, gen uint64, conn Conn, credential string) error {
	sess := m.newSession(conn, credential)
	defer sess.Close()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return context.Canceled
	}
	m.session = sess
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.session == sess {
			m.session = nil
		}
		m.mu.Unlock()
	}()

	m.setState(gen, StateConnected)
	m.logger.Info("connected", "session", sess.ID)
	if m.onConnect != nil {
		m.onConnect(ctx, sess)
	}

	err := sess.readLoop(ctx)
	if err == nil {
		err = errors.New("connection closed")
	}
	return err
}

func (m *ConnectionManager) setState(gen uint64, st ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state == st {
		return
	}
	m.state = st
	if st == StateConnected {
		m.metrics.Connected.Set(1)
	} else {
		m.metrics.Connected.Set(0)
	}

	listeners := append([]func(ConnState){}, m.listeners...)
	if len(listeners) == 0 {
		return
	}
	m.notify.enqueue(func() {
		for _, fn := range listeners {
			func() {
				defer func() { recover() }()
				fn(st)
			}()
		}
	})
}

// OnStateChange registers fn to be called on every state transition.
// Listeners run in transition order on a notification goroutine and may
// call SetCredential or Close.
func (m *ConnectionManager) OnStateChange(fn func(ConnState)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether a connection is live.
func (m *ConnectionManager) Connected() bool {
	return m.State() == StateConnected
}

// Session returns the live session, or nil.
func (m *ConnectionManager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Emit sends a command on the live connection.
func (m *ConnectionManager) Emit(ctx context.Context, cmdType string, payload interface{}) error {
	sess := m.Session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Emit(ctx, cmdType, payload)
}
