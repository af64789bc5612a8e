package multicast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gamelink-protocol/gamelink-go/pkg/connection"
	"github.com/gamelink-protocol/gamelink-go/pkg/datagram"
	"github.com/gamelink-protocol/gamelink-go/pkg/log"
	"github.com/gamelink-protocol/gamelink-go/pkg/transport"
)

// DefaultRetryDelay is the wait between reopen attempts.
const DefaultRetryDelay = 5 * time.Second

// Listener errors.
var (
	ErrAlreadyOpen = errors.New("listener already open")
	ErrClosed      = errors.New("listener closed")
	ErrNotBound    = errors.New("listener has no bound socket")
)

// Datagram is one received payload. Data is owned by the receiver.
type Datagram struct {
	Data     []byte
	From     *net.UDPAddr
	Received time.Time
}

// Config configures a Listener.
type Config struct {
	// Address is the group (or broadcast, or unicast) endpoint. Its port is
	// the local port bound.
	Address string

	// Interface selects the interface for group membership. Nil lets the
	// system choose.
	Interface *net.Interface

	// RetryDelay is the fixed wait between reopen attempts (default 5s).
	RetryDelay time.Duration

	// ReceiveBufferSize is the largest datagram delivered in full
	// (default 8192). Longer datagrams are truncated.
	ReceiveBufferSize int

	// Logger receives protocol events from the listener and its sockets.
	Logger log.Logger

	// OnError is called for socket failures and failed reopen attempts.
	OnError func(error)
}

// Listener receives datagrams from a group and keeps itself bound.
type Listener struct {
	config    Config
	endpoint  *net.UDPAddr
	multicast bool
	broadcast bool
	logger    log.Logger

	mu      sync.Mutex
	socket  *datagram.Socket
	manager *connection.Manager
	opened  bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	payloads   chan Datagram
	connects   atomic.Int64
	received   atomic.Int64
	closeOnce  sync.Once
	closeError error
}

// NewListener validates config and creates a closed listener.
func NewListener(config Config) (*Listener, error) {
	if config.Address == "" {
		return nil, transport.ErrAddressRequired
	}
	endpoint, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", config.Address, err)
	}
	if endpoint.Port == 0 {
		return nil, fmt.Errorf("address %s: port is required", config.Address)
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.ReceiveBufferSize <= 0 {
		config.ReceiveBufferSize = datagram.DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		config:    config,
		endpoint:  endpoint,
		multicast: endpoint.IP.IsMulticast(),
		broadcast: endpoint.IP.Equal(net.IPv4bcast),
		logger:    log.OrNoop(config.Logger),
		ctx:       ctx,
		cancel:    cancel,
		payloads:  make(chan Datagram),
	}, nil
}

// Endpoint returns the resolved listen endpoint.
func (l *Listener) Endpoint() *net.UDPAddr { return l.endpoint }

// Payloads returns the inbound stream. It is closed by Close.
func (l *Listener) Payloads() <-chan Datagram { return l.payloads }

// IsBound reports whether a socket is currently receiving.
func (l *Listener) IsBound() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.socket != nil
}

// Reconnects returns how many times the socket was recreated after the first
// successful bind.
func (l *Listener) Reconnects() int64 {
	n := l.connects.Load() - 1
	if n < 0 {
		return 0
	}
	return n
}

// Received returns the number of datagrams delivered.
func (l *Listener) Received() int64 { return l.received.Load() }

// Open binds the socket and starts receiving. When the first bind fails the
// error is returned and the listener keeps retrying every RetryDelay. Open
// may be called once.
func (l *Listener) Open(ctx context.Context) error {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return ErrClosed
	case l.opened:
		l.mu.Unlock()
		return ErrAlreadyOpen
	}
	l.opened = true

	m := connection.NewManager(l.bind,
		connection.WithBackoff(connection.NewFixedBackoff(l.config.RetryDelay)),
		connection.WithAttemptTimeout(0),
	)
	m.OnStateChange(func(from, to connection.State) {
		l.logState(from.String(), to.String())
	})
	m.OnConnected(l.startReceiving)
	m.OnAttemptError(func(attempt int, err error) {
		l.reportError(fmt.Errorf("reopen attempt %d: %w", attempt, err))
	})
	l.manager = m
	l.mu.Unlock()

	m.StartReconnectLoop()
	return m.Connect(ctx)
}

// bind creates, binds and (for group addresses) joins a fresh socket.
func (l *Listener) bind(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sock, err := datagram.NewSocket(datagram.Config{
		Address:           l.endpoint.String(),
		Multicast:         l.multicast,
		Bind:              ":" + strconv.Itoa(l.endpoint.Port),
		ReuseAddress:      true,
		Broadcast:         l.broadcast,
		Interface:         l.config.Interface,
		ReceiveBufferSize: l.config.ReceiveBufferSize,
		Logger:            l.config.Logger,
		Handler: datagram.HandlerFuncs{
			Error: l.reportError,
		},
	})
	if err != nil {
		return err
	}
	if err := sock.Connect(); err != nil {
		return err
	}
	if l.multicast {
		if err := sock.JoinMulticastGroup(l.endpoint.IP.String()); err != nil {
			_ = sock.Close()
			return err
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = sock.Close()
		return ErrClosed
	}
	l.socket = sock
	l.mu.Unlock()
	return nil
}

func (l *Listener) startReceiving() {
	l.mu.Lock()
	sock := l.socket
	if l.closed || sock == nil {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	l.connects.Add(1)
	go l.receive(sock)
}

// receive delivers datagrams from sock until a read fails, then hands the
// socket back to the reconnect loop.
func (l *Listener) receive(sock *datagram.Socket) {
	defer l.wg.Done()

	buf := make([]byte, l.config.ReceiveBufferSize)
	for {
		n, from, err := sock.ReceiveContext(l.ctx, buf)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.drop(sock)
			return
		}

		d := Datagram{
			Data:     append([]byte(nil), buf[:n]...),
			From:     from,
			Received: time.Now(),
		}
		// Counted before the handoff so a consumer never observes a
		// datagram that Received does not include yet.
		l.received.Add(1)
		select {
		case l.payloads <- d:
		case <-l.ctx.Done():
			l.received.Add(-1)
			return
		}
	}
}

// drop discards a failed socket and starts the reconnect loop.
func (l *Listener) drop(sock *datagram.Socket) {
	_ = sock.Close()

	l.mu.Lock()
	if l.socket == sock {
		l.socket = nil
	}
	m := l.manager
	l.mu.Unlock()

	if m != nil {
		m.NotifyConnectionLost()
	}
}

// JoinGroup joins an additional group on the current socket.
func (l *Listener) JoinGroup(address string) error {
	sock, err := l.current()
	if err != nil {
		return err
	}
	return sock.JoinMulticastGroup(address)
}

// LeaveGroup leaves a group on the current socket.
func (l *Listener) LeaveGroup(address string) error {
	sock, err := l.current()
	if err != nil {
		return err
	}
	return sock.LeaveMulticastGroup(address)
}

func (l *Listener) current() (*datagram.Socket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.socket == nil {
		return nil, ErrNotBound
	}
	return l.socket, nil
}

// Close stops the reconnect loop, closes the socket and terminates the
// Payloads stream. It is idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		sock, m := l.socket, l.manager
		l.socket = nil
		l.mu.Unlock()

		l.cancel()
		if m != nil {
			m.Close()
		}
		if sock != nil {
			l.closeError = sock.Close()
		}
		l.wg.Wait()
		close(l.payloads)
	})
	return l.closeError
}

func (l *Listener) reportError(err error) {
	if err == nil || transport.IsBenign(err) {
		return
	}
	event := l.event(log.CategoryError)
	event.Error = &log.ErrorEventData{
		Layer:   log.LayerMulticast,
		Message: err.Error(),
		Context: "listen",
	}
	l.logger.Log(event)
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}

func (l *Listener) logState(from, to string) {
	event := l.event(log.CategoryState)
	event.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityListener,
		OldState: from,
		NewState: to,
	}
	l.logger.Log(event)
}

func (l *Listener) event(category log.Category) log.Event {
	event := log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerMulticast,
		Category:   category,
		RemoteAddr: l.endpoint.String(),
	}
	if l.multicast {
		event.Group = l.endpoint.IP.String()
	}
	l.mu.Lock()
	if l.socket != nil {
		event.ConnectionID = l.socket.ID()
		if local := l.socket.LocalAddr(); local != nil {
			event.LocalAddr = local.String()
		}
	}
	l.mu.Unlock()
	return event
}
