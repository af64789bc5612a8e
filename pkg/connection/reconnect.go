package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultAttemptTimeout bounds each reconnection attempt.
const DefaultAttemptTimeout = 30 * time.Second

// State represents the managed connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a caller-initiated attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates the retry loop owns the connection.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the underlying connection. It returns nil on
// success.
type ConnectFunc func(ctx context.Context) error

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff sets the retry schedule.
func WithBackoff(b *Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithAttemptTimeout bounds each retry attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(m *Manager) { m.attemptTimeout = d }
}

// WithAutoReconnect enables or disables the retry loop (default enabled).
func WithAutoReconnect(enabled bool) Option {
	return func(m *Manager) { m.autoReconnect = enabled }
}

// Manager runs a ConnectFunc and, when the connection is lost or the first
// attempt fails, keeps re-running it on a Backoff schedule until it
// succeeds or the manager is closed.
type Manager struct {
	mu sync.RWMutex

	state          State
	backoff        *Backoff
	connectFn      ConnectFunc
	autoReconnect  bool
	attemptTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	loopStarted bool
	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
	onAttemptError func(attempt int, err error)
}

// NewManager creates a disconnected manager.
func NewManager(connectFn ConnectFunc, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		state:          StateDisconnected,
		backoff:        NewBackoff(),
		connectFn:      connectFn,
		autoReconnect:  true,
		attemptTimeout: DefaultAttemptTimeout,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the managed connection is up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect runs one connection attempt. When it fails and auto-reconnect is
// enabled, the manager moves to RECONNECTING and the retry loop takes over;
// the attempt's error is still returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}
	oldState := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(oldState, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		if err == nil {
			return ErrManagerClosed
		}
		return err
	}
	if err != nil {
		next := StateDisconnected
		if m.autoReconnect {
			next = StateReconnecting
		}
		m.state = next
		m.mu.Unlock()

		m.notifyState(StateConnecting, next)
		if next == StateReconnecting {
			m.triggerReconnect()
		}
		return err
	}

	m.state = StateConnected
	m.backoff.Reset()
	m.mu.Unlock()

	m.notifyState(StateConnecting, StateConnected)
	m.notifyConnected()
	return nil
}

// Disconnect marks the connection as closed by the caller. With
// auto-reconnect enabled the retry loop starts.
func (m *Manager) Disconnect() {
	m.connectionLost()
}

// NotifyConnectionLost reports that the connection dropped. With
// auto-reconnect enabled the retry loop starts.
func (m *Manager) NotifyConnectionLost() {
	m.connectionLost()
}

func (m *Manager) connectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	autoReconnect := m.autoReconnect
	if autoReconnect {
		m.state = StateReconnecting
	} else {
		m.state = StateDisconnected
	}
	newState := m.state
	m.mu.Unlock()

	m.notifyState(StateConnected, newState)
	m.mu.RLock()
	onDisconnected := m.onDisconnected
	m.mu.RUnlock()
	if onDisconnected != nil {
		onDisconnected()
	}

	if autoReconnect {
		m.triggerReconnect()
	}
}

// StartReconnectLoop starts the background retry loop. It must be called
// before retries happen; later calls are no-ops.
func (m *Manager) StartReconnectLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopStarted || m.state == StateClosed {
		return
	}
	m.loopStarted = true
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close stops the retry loop and waits for it to exit. It is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyState(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

// BackoffAttempts returns the number of retries since the last success.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect retries until connected, closed, or auto-reconnect is
// switched off.
func (m *Manager) attemptReconnect() {
	for {
		m.mu.RLock()
		state, enabled := m.state, m.autoReconnect
		onReconnecting, onAttemptError := m.onReconnecting, m.onAttemptError
		m.mu.RUnlock()

		if state != StateReconnecting {
			return
		}
		if !enabled {
			m.setState(StateReconnecting, StateDisconnected)
			return
		}

		delay := m.backoff.Next()
		if onReconnecting != nil {
			onReconnecting(m.backoff.Attempts(), delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if m.State() != StateReconnecting {
			return
		}

		ctx, cancel := m.ctx, context.CancelFunc(func() {})
		if m.attemptTimeout > 0 {
			ctx, cancel = context.WithTimeout(m.ctx, m.attemptTimeout)
		}
		err := m.connectFn(ctx)
		cancel()

		if err != nil {
			if onAttemptError != nil {
				onAttemptError(m.backoff.Attempts(), err)
			}
			continue
		}

		m.backoff.Reset()
		if !m.setState(StateReconnecting, StateConnected) {
			return
		}
		m.notifyConnected()
		return
	}
}

// setState moves from one state to another if the manager is still in
// from, and reports whether it did.
func (m *Manager) setState(from, to State) bool {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	m.notifyState(from, to)
	return true
}

func (m *Manager) notifyState(oldState, newState State) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil {
		fn(oldState, newState)
	}
}

func (m *Manager) notifyConnected() {
	m.mu.RLock()
	fn := m.onConnected
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connections, including
// reconnections.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for connection loss.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each retry with the attempt
// number and the delay about to be waited.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnAttemptError sets a callback for failed retry attempts.
func (m *Manager) OnAttemptError(fn func(attempt int, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAttemptError = fn
}
