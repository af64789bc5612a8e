package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gamelink-protocol/gamelink-go/pkg/buffer"
	"github.com/gamelink-protocol/gamelink-go/pkg/log"
)

// DefaultBufferSize is the default send and receive buffer size.
const DefaultBufferSize = 8192

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address is the server host:port.
	Address string

	// Session holds the TLS parameters.
	Session SessionConfig

	// KeepAlive enables TCP keep-alive probes.
	KeepAlive bool

	// NoDelay disables Nagle's algorithm.
	NoDelay bool

	// ConnectTimeout bounds the TCP connect and TLS handshake.
	// Zero means no timeout beyond the caller's context.
	ConnectTimeout time.Duration

	// ReceiveBufferSize is the initial receive buffer capacity (default 8192).
	ReceiveBufferSize int

	// SendBufferSize is the initial capacity of each send buffer (default 8192).
	SendBufferSize int

	// Logger receives protocol events. Nil disables capture.
	Logger log.Logger

	// Handler receives lifecycle notifications. Nil ignores them.
	Handler Handler
}

// DefaultClientConfig returns a config for address with default session
// and buffer settings.
func DefaultClientConfig(address string) ClientConfig {
	return ClientConfig{
		Address:           address,
		Session:           DefaultSessionConfig(),
		NoDelay:           true,
		ReceiveBufferSize: DefaultBufferSize,
		SendBufferSize:    DefaultBufferSize,
	}
}

// Stats is a snapshot of the client's byte counters.
type Stats struct {
	// BytesPending is the number of bytes appended but not yet swapped into
	// the flush buffer.
	BytesPending int64

	// BytesSending is the number of bytes in the flush buffer not yet written.
	BytesSending int64

	// BytesSent is the number of bytes written to the TLS stream.
	BytesSent int64

	// BytesReceived is the number of bytes read from the TLS stream.
	BytesReceived int64

	// ReceiveBufferSize is the current receive buffer capacity.
	ReceiveBufferSize int
}

// Client is a TLS-over-TCP client with double-buffered asynchronous send and
// a continuous receive loop.
//
// All methods are safe for concurrent use. Lock order is writeMu, then mu.
type Client struct {
	config    ClientConfig
	tlsConfig *tls.Config
	logger    log.Logger
	handler   Handler

	mu         sync.Mutex
	state      ConnectionState
	id         string
	closed     bool
	raw        net.Conn
	conn       *tls.Conn
	cancel     context.CancelFunc
	localAddr  net.Addr
	remoteAddr net.Addr
	sendMain   *buffer.Buffer
	sendFlush  *buffer.Buffer
	sending    bool
	receiving  bool
	pending    int64
	inFlight   int64

	// writeMu serializes writes to the TLS stream and guards the flush
	// buffer's read region while a write is outstanding.
	writeMu sync.Mutex

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	receiveSize   atomic.Int64
}

// NewClient creates a disconnected client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Address == "" {
		return nil, ErrAddressRequired
	}
	if config.ReceiveBufferSize <= 0 {
		config.ReceiveBufferSize = DefaultBufferSize
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultBufferSize
	}

	tlsConfig, err := config.Session.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if tlsConfig.ServerName == "" {
		host, _, err := net.SplitHostPort(config.Address)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", config.Address, err)
		}
		tlsConfig.ServerName = host
	}

	handler := config.Handler
	if handler == nil {
		handler = NopHandler{}
	}

	c := &Client{
		config:    config,
		tlsConfig: tlsConfig,
		logger:    log.OrNoop(config.Logger),
		handler:   handler,
		sendMain:  buffer.New(config.SendBufferSize),
		sendFlush: buffer.New(config.SendBufferSize),
	}
	c.receiveSize.Store(int64(config.ReceiveBufferSize))
	return c, nil
}

// Address returns the configured server address.
func (c *Client) Address() string { return c.config.Address }

// ID returns the current session ID, or "" when disconnected.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnecting reports whether a TCP connect is in progress.
func (c *Client) IsConnecting() bool { return c.State() == StateConnecting }

// IsConnected reports whether the TCP connection is open.
func (c *Client) IsConnected() bool { return c.State().connected() }

// IsHandshaking reports whether the TLS handshake is in progress.
func (c *Client) IsHandshaking() bool { return c.State() == StateHandshaking }

// IsHandshaked reports whether the TLS session is established.
func (c *Client) IsHandshaked() bool { return c.State() == StateHandshaked }

// LocalAddr returns the local address of the last connection.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAddr
}

// RemoteAddr returns the remote address of the last connection.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// Stats returns a snapshot of the byte counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	pending, inFlight := c.pending, c.inFlight
	c.mu.Unlock()
	return Stats{
		BytesPending:      pending,
		BytesSending:      inFlight,
		BytesSent:         c.bytesSent.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		ReceiveBufferSize: int(c.receiveSize.Load()),
	}
}

// Connect connects and performs the TLS handshake, blocking until the
// session is established or the attempt fails. It returns
// ErrAlreadyConnected unless the client is disconnected.
func (c *Client) Connect(ctx context.Context) error {
	id, ctx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	return c.connect(ctx, id)
}

// ConnectAsync starts a connect attempt in the background. Progress is
// reported through the Handler. It returns ErrAlreadyConnected unless the
// client is disconnected.
func (c *Client) ConnectAsync(ctx context.Context) error {
	id, ctx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	go func() { _ = c.connect(ctx, id) }()
	return nil
}

// Reconnect disconnects and connects again. It returns ErrNotConnected when
// there was no session to disconnect.
func (c *Client) Reconnect(ctx context.Context) error {
	if !c.Disconnect() {
		return ErrNotConnected
	}
	return c.Connect(ctx)
}

// ReconnectAsync disconnects and starts a background connect.
func (c *Client) ReconnectAsync(ctx context.Context) error {
	if !c.Disconnect() {
		return ErrNotConnected
	}
	return c.ConnectAsync(ctx)
}

// Disconnect tears down the session. It cancels an in-flight connect,
// closes the TLS stream and socket, clears both send buffers and fires
// Handler.OnDisconnected. It returns false when already disconnected.
func (c *Client) Disconnect() bool {
	return c.disconnect("")
}

// Close disconnects and rejects further connects. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
	return nil
}

// Send writes p to the TLS stream, blocking until written. It returns
// ErrNotHandshaked when no session is established. An I/O failure
// disconnects the session and returns 0 with the cause.
func (c *Client) Send(p []byte) (int, error) {
	c.mu.Lock()
	if c.state != StateHandshaked {
		c.mu.Unlock()
		return 0, ErrNotHandshaked
	}
	if len(p) == 0 {
		c.mu.Unlock()
		return 0, nil
	}
	conn, id := c.conn, c.id
	c.mu.Unlock()

	c.writeMu.Lock()
	n, err := conn.Write(p)
	c.writeMu.Unlock()

	if n > 0 {
		c.bytesSent.Add(int64(n))
		c.logPayload(id, log.DirectionOut, p[:n])
	}
	if err != nil {
		c.fail(id, "send", err)
		return 0, err
	}
	return n, nil
}

// SendAsync appends p to the main send buffer and ensures a drain is
// running. It returns false when no session is established.
func (c *Client) SendAsync(p []byte) bool {
	c.mu.Lock()
	if c.state != StateHandshaked {
		c.mu.Unlock()
		return false
	}
	if len(p) == 0 {
		c.mu.Unlock()
		return true
	}
	c.sendMain.Append(p)
	c.pending += int64(len(p))
	start := !c.sending
	c.sending = true
	id := c.id
	c.mu.Unlock()

	if start {
		go c.drain(id)
	}
	return true
}

// ReceiveAsync ensures the receive loop is running. The loop starts on its
// own after the handshake, so this only matters for callers restarting a
// session by hand. It returns false when no session is established.
func (c *Client) ReceiveAsync() bool {
	c.mu.Lock()
	if c.state != StateHandshaked {
		c.mu.Unlock()
		return false
	}
	if c.receiving {
		c.mu.Unlock()
		return true
	}
	c.receiving = true
	conn, id := c.conn, c.id
	c.mu.Unlock()

	go c.receive(id, conn)
	return true
}

// begin moves a disconnected client to CONNECTING under a fresh session ID.
func (c *Client) begin(parent context.Context) (string, context.Context, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", nil, ErrClientClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return "", nil, ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(parent)
	if c.config.ConnectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, c.config.ConnectTimeout)
		outer := cancel
		cancel = func() { cancelTimeout(); outer() }
	}

	id := uuid.New().String()
	c.id = id
	c.state = StateConnecting
	c.cancel = cancel
	c.localAddr, c.remoteAddr = nil, nil
	c.pending, c.inFlight = 0, 0
	c.sending, c.receiving = false, false
	c.bytesSent.Store(0)
	c.bytesReceived.Store(0)
	c.receiveSize.Store(int64(c.config.ReceiveBufferSize))
	c.mu.Unlock()

	c.logState(id, StateDisconnected, StateConnecting, "")
	return id, ctx, nil
}

func (c *Client) connect(ctx context.Context, id string) error {
	keepAlive := time.Duration(-1)
	if c.config.KeepAlive {
		keepAlive = 0
	}
	dialer := &net.Dialer{KeepAlive: keepAlive}

	raw, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.abort(id, err)
		return fmt.Errorf("dial %s: %w", c.config.Address, err)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(c.config.NoDelay)
	}

	c.mu.Lock()
	if c.id != id {
		c.mu.Unlock()
		raw.Close()
		return ErrConnectCanceled
	}
	c.raw = raw
	c.state = StateConnected
	c.localAddr, c.remoteAddr = raw.LocalAddr(), raw.RemoteAddr()
	c.mu.Unlock()

	c.logState(id, StateConnecting, StateConnected, "")
	c.handler.OnConnected()

	c.mu.Lock()
	if c.id != id {
		c.mu.Unlock()
		return ErrConnectCanceled
	}
	conn := tls.Client(raw, c.tlsConfig)
	c.conn = conn
	c.state = StateHandshaking
	c.mu.Unlock()

	c.logState(id, StateConnected, StateHandshaking, "")
	if err := conn.HandshakeContext(ctx); err != nil {
		c.fail(id, "handshake", err)
		return fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	if c.id != id {
		c.mu.Unlock()
		return ErrConnectCanceled
	}
	c.state = StateHandshaked
	c.receiving = true
	empty := c.sendMain.IsEmpty()
	c.mu.Unlock()

	c.logState(id, StateHandshaking, StateHandshaked, tls.VersionName(conn.ConnectionState().Version))
	c.handler.OnHandshaked()
	if empty {
		c.handler.OnEmpty()
	}

	go c.receive(id, conn)
	return nil
}

// drain writes the send buffers to the TLS stream until both are empty.
func (c *Client) drain(id string) {
	for {
		c.writeMu.Lock()
		c.mu.Lock()
		if c.id != id {
			c.mu.Unlock()
			c.writeMu.Unlock()
			return
		}
		if c.sendFlush.IsEmpty() {
			if c.sendMain.IsEmpty() {
				c.sending = false
				c.mu.Unlock()
				c.writeMu.Unlock()
				c.handler.OnEmpty()
				return
			}
			c.sendMain, c.sendFlush = c.sendFlush, c.sendMain
			c.inFlight += c.pending
			c.pending = 0
		}
		chunk := c.sendFlush.Unread()
		conn := c.conn
		c.mu.Unlock()

		n, err := conn.Write(chunk)
		if n > 0 {
			c.bytesSent.Add(int64(n))
			c.logPayload(id, log.DirectionOut, chunk[:n])
		}

		c.mu.Lock()
		stale := c.id != id
		var remaining int64
		if !stale {
			c.sendFlush.Shift(n)
			if len(c.sendFlush.Unread()) == 0 {
				c.sendFlush.Clear()
			}
			c.inFlight -= int64(n)
			remaining = c.pending + c.inFlight
		}
		c.mu.Unlock()
		c.writeMu.Unlock()

		if stale {
			return
		}
		if err != nil {
			c.fail(id, "send", err)
			return
		}
		c.handler.OnSent(int64(n), remaining)
	}
}

// receive reads from the TLS stream until the session ends. The receive
// buffer belongs to this goroutine alone.
func (c *Client) receive(id string, conn *tls.Conn) {
	buf := buffer.New(c.config.ReceiveBufferSize)
	for {
		n, err := conn.Read(buf.Storage())
		if n > 0 {
			if !c.current(id) {
				return
			}
			data := buf.Storage()[:n]
			c.bytesReceived.Add(int64(n))
			c.logPayload(id, log.DirectionIn, data)
			c.handler.OnReceived(data)

			if n == buf.Capacity() {
				_ = buf.Reserve(2 * buf.Capacity())
				c.receiveSize.Store(int64(buf.Capacity()))
			}
		}
		if err != nil {
			c.fail(id, "receive", err)
			return
		}
		if n == 0 {
			c.disconnect(id)
			return
		}
	}
}

func (c *Client) current(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id == id
}

// fail reports err unless it is a benign disconnect cause, then tears down
// session id.
func (c *Client) fail(id, op string, err error) {
	if !c.current(id) {
		return
	}
	if !IsBenign(err) {
		c.logError(id, op, err)
		c.handler.OnError(fmt.Errorf("%s: %w", op, err))
	}
	c.disconnect(id)
}

// abort returns a client whose dial failed to DISCONNECTED. No connection
// existed, so no disconnect notification fires.
func (c *Client) abort(id string, err error) {
	c.mu.Lock()
	if c.id != id {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.id = ""
	c.cancel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logState(id, StateConnecting, StateDisconnected, err.Error())
	if !IsBenign(err) {
		c.logError(id, "connect", err)
		c.handler.OnError(fmt.Errorf("connect: %w", err))
	}
}

// disconnect tears down session id, or the current session when id is "".
func (c *Client) disconnect(id string) bool {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting || (id != "" && c.id != id) {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	session := c.id
	cancel, conn, raw := c.cancel, c.conn, c.raw
	c.state = StateDisconnecting
	c.id = ""
	c.cancel, c.conn, c.raw = nil, nil, nil
	c.mu.Unlock()

	c.logState(session, prev, StateDisconnecting, "")

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// Close sends close_notify after a completed handshake. Shutdown
		// errors are reported but never block the socket teardown.
		if err := conn.Close(); err != nil && !IsBenign(err) {
			c.logError(session, "shutdown", err)
			c.handler.OnError(fmt.Errorf("shutdown: %w", err))
		}
	}
	if raw != nil {
		_ = raw.Close()
	}

	c.writeMu.Lock()
	c.mu.Lock()
	c.sendMain.Clear()
	c.sendFlush.Clear()
	c.pending, c.inFlight = 0, 0
	c.sending, c.receiving = false, false
	c.state = StateDisconnected
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.logState(session, StateDisconnecting, StateDisconnected, "")
	c.handler.OnDisconnected()
	return true
}

func (c *Client) baseEvent(id string, category log.Category) log.Event {
	c.mu.Lock()
	local, remote := c.localAddr, c.remoteAddr
	c.mu.Unlock()

	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: id,
		Layer:        log.LayerStream,
		Category:     category,
		RemoteAddr:   c.config.Address,
	}
	if local != nil {
		event.LocalAddr = local.String()
	}
	if remote != nil {
		event.RemoteAddr = remote.String()
	}
	return event
}

func (c *Client) logState(id string, from, to ConnectionState, reason string) {
	event := c.baseEvent(id, log.CategoryState)
	event.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: from.String(),
		NewState: to.String(),
		Reason:   reason,
	}
	c.logger.Log(event)
}

func (c *Client) logPayload(id string, dir log.Direction, data []byte) {
	event := c.baseEvent(id, log.CategoryData)
	event.Direction = dir
	event.Payload = log.NewPayloadEvent(data)
	c.logger.Log(event)
}

func (c *Client) logError(id, op string, err error) {
	event := c.baseEvent(id, log.CategoryError)
	event.Error = &log.ErrorEventData{
		Layer:   log.LayerStream,
		Message: err.Error(),
		Code:    errnoCode(err),
		Context: op,
	}
	c.logger.Log(event)
}

// errnoCode extracts the socket error number from err, if any.
func errnoCode(err error) *int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code := int(errno)
		return &code
	}
	return nil
}
