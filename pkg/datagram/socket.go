package datagram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/gamelink-protocol/gamelink-go/pkg/buffer"
	"github.com/gamelink-protocol/gamelink-go/pkg/log"
	"github.com/gamelink-protocol/gamelink-go/pkg/transport"
)

// DefaultBufferSize is the default receive and send buffer size.
const DefaultBufferSize = 8192

// Config configures a Socket.
type Config struct {
	// Address is the default remote endpoint (host:port). When Multicast is
	// set it is the group endpoint, and the socket binds to its port.
	//
	// The address family of the socket follows Address, or an IP literal in
	// Bind when Address is empty. Otherwise the socket is IPv4; use a Bind
	// such as "[::]:0" for an IPv6 socket without a default endpoint.
	Address string

	// Multicast binds to the group port instead of an ephemeral one.
	Multicast bool

	// Bind overrides the local bind address (for example ":5000" to receive
	// broadcasts on a fixed port).
	Bind string

	// ReuseAddress allows other sockets to bind the same address.
	ReuseAddress bool

	// ExclusiveAddressUse prevents other sockets from binding the same
	// address. It takes precedence over ReuseAddress.
	ExclusiveAddressUse bool

	// Broadcast enables sending to broadcast addresses.
	Broadcast bool

	// Interface selects the interface for group membership and multicast
	// sends. Nil lets the system choose.
	Interface *net.Interface

	// ReceiveBufferSize is the initial receive buffer capacity (default 8192).
	ReceiveBufferSize int

	// SendBufferSize is the initial send buffer capacity (default 8192).
	SendBufferSize int

	// Logger receives protocol events. Nil disables capture.
	Logger log.Logger

	// Handler receives notifications. Nil ignores them.
	Handler Handler
}

// Stats is a snapshot of the socket counters.
type Stats struct {
	DatagramsSent     int64
	DatagramsReceived int64
	BytesSent         int64
	BytesReceived     int64

	// BytesSending is the size of the datagram currently in flight.
	BytesSending int64
}

// Socket is a UDP socket supporting unicast, broadcast and multicast.
// All methods are safe for concurrent use.
type Socket struct {
	config   Config
	endpoint *net.UDPAddr
	network  string
	logger   log.Logger
	handler  Handler

	mu        sync.Mutex
	conn      *net.UDPConn
	p4        *ipv4.PacketConn
	p6        *ipv6.PacketConn
	id        string
	sending   bool
	receiving bool
	inFlight  int64
	sendBuf   *buffer.Buffer

	// recvMu guards recvBuf from the read until OnReceived returns.
	recvMu  sync.Mutex
	recvBuf *buffer.Buffer

	// recvSize mirrors recvBuf's capacity for readers that must not wait
	// on recvMu.
	recvSize atomic.Int64

	datagramsSent     atomic.Int64
	datagramsReceived atomic.Int64
	bytesSent         atomic.Int64
	bytesReceived     atomic.Int64
}

// NewSocket creates a closed socket. Address may be empty for a socket that
// only sends to explicit endpoints; it is required with Multicast.
func NewSocket(config Config) (*Socket, error) {
	if config.ReceiveBufferSize <= 0 {
		config.ReceiveBufferSize = DefaultBufferSize
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultBufferSize
	}

	var endpoint *net.UDPAddr
	if config.Address != "" {
		addr, err := net.ResolveUDPAddr("udp", config.Address)
		if err != nil {
			return nil, opError("resolve", nil, err)
		}
		endpoint = addr
	}
	if config.Multicast {
		if endpoint == nil {
			return nil, ErrNoEndpoint
		}
		if !endpoint.IP.IsMulticast() {
			return nil, fmt.Errorf("%s: %w", endpoint.IP, ErrNotMulticast)
		}
	}

	network, err := networkFor(endpoint, config.Bind)
	if err != nil {
		return nil, err
	}

	handler := config.Handler
	if handler == nil {
		handler = NopHandler{}
	}

	s := &Socket{
		config:   config,
		endpoint: endpoint,
		network:  network,
		logger:   log.OrNoop(config.Logger),
		handler:  handler,
		sendBuf:  buffer.New(config.SendBufferSize),
		recvBuf:  buffer.New(config.ReceiveBufferSize),
	}
	s.recvSize.Store(int64(config.ReceiveBufferSize))
	return s, nil
}

// networkFor picks udp4 or udp6 from the endpoint, then from an IP literal
// in bind, defaulting to udp4.
func networkFor(endpoint *net.UDPAddr, bind string) (string, error) {
	var bindIP net.IP
	if bind != "" {
		if host, _, err := net.SplitHostPort(bind); err == nil {
			bindIP = net.ParseIP(host)
		}
	}
	var ip net.IP
	if endpoint != nil {
		ip = endpoint.IP
	}
	if ip != nil && bindIP != nil && (ip.To4() == nil) != (bindIP.To4() == nil) {
		return "", fmt.Errorf("bind %s for %s: %w", bind, endpoint, ErrFamilyMismatch)
	}
	if ip == nil {
		ip = bindIP
	}
	if ip != nil && ip.To4() == nil {
		return "udp6", nil
	}
	return "udp4", nil
}

// Endpoint returns the configured default endpoint, or nil.
func (s *Socket) Endpoint() *net.UDPAddr { return s.endpoint }

// ID returns the current session ID, or "" when closed.
func (s *Socket) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// IsConnected reports whether the socket is bound.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// LocalAddr returns the bound address, or nil when closed.
func (s *Socket) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	addr := *s.conn.LocalAddr().(*net.UDPAddr)
	return &addr
}

// Stats returns a snapshot of the counters.
func (s *Socket) Stats() Stats {
	s.mu.Lock()
	inFlight := s.inFlight
	s.mu.Unlock()
	return Stats{
		DatagramsSent:     s.datagramsSent.Load(),
		DatagramsReceived: s.datagramsReceived.Load(),
		BytesSent:         s.bytesSent.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		BytesSending:      inFlight,
	}
}

// Connect creates the UDP socket, applies the socket options and binds it
// to the multicast group port or to an ephemeral port.
func (s *Socket) Connect() error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}

	bind := ":0"
	switch {
	case s.config.Bind != "":
		bind = s.config.Bind
	case s.config.Multicast:
		bind = ":" + strconv.Itoa(s.endpoint.Port)
	}
	lc := net.ListenConfig{
		Control: sockopts{
			reuseAddress:        s.config.ReuseAddress,
			exclusiveAddressUse: s.config.ExclusiveAddressUse,
			broadcast:           s.config.Broadcast,
		}.control,
	}
	pc, err := lc.ListenPacket(context.Background(), s.network, bind)
	if err != nil {
		s.mu.Unlock()
		err = opError("bind", s.endpoint, err)
		s.logError("", "bind", err)
		return err
	}
	conn := pc.(*net.UDPConn)

	s.conn = conn
	s.id = uuid.New().String()
	if s.network == "udp6" {
		s.p4, s.p6 = nil, ipv6.NewPacketConn(conn)
	} else {
		s.p4, s.p6 = ipv4.NewPacketConn(conn), nil
	}
	if s.config.Interface != nil {
		// Best effort: binding still succeeds on hosts where the interface
		// cannot carry multicast.
		_ = s.setMulticastInterfaceLocked(s.config.Interface)
	}
	s.sending, s.receiving = false, false
	s.inFlight = 0
	s.datagramsSent.Store(0)
	s.datagramsReceived.Store(0)
	s.bytesSent.Store(0)
	s.bytesReceived.Store(0)
	id := s.id
	s.mu.Unlock()

	s.logState(id, "CLOSED", "CONNECTED", "")
	s.handler.OnConnected()
	return nil
}

// Disconnect closes the socket and clears the send buffer. It returns false
// when the socket is already closed.
func (s *Socket) Disconnect() bool {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return false
	}
	conn, id := s.conn, s.id
	s.conn, s.p4, s.p6 = nil, nil, nil
	s.id = ""
	if s.sending {
		// The abandoned write may still read the old storage.
		s.sendBuf = buffer.New(s.sendBuf.Capacity())
	}
	s.sendBuf.Clear()
	s.sending, s.receiving = false, false
	s.inFlight = 0
	s.mu.Unlock()

	if err := conn.Close(); err != nil && !transport.IsBenign(err) {
		s.reportError(id, "close", nil, err)
	}

	s.logState(id, "CONNECTED", "CLOSED", "")
	s.handler.OnDisconnected()
	return true
}

// Reconnect closes and rebinds the socket.
func (s *Socket) Reconnect() error {
	if !s.Disconnect() {
		return ErrNotConnected
	}
	return s.Connect()
}

// Close disconnects the socket. It is idempotent.
func (s *Socket) Close() error {
	s.Disconnect()
	return nil
}

// JoinMulticastGroup joins the group at address (an IP, optionally with a
// port) on the configured interface.
func (s *Socket) JoinMulticastGroup(address string) error {
	return s.membership(address, true)
}

// LeaveMulticastGroup leaves the group at address.
func (s *Socket) LeaveMulticastGroup(address string) error {
	return s.membership(address, false)
}

func (s *Socket) membership(address string, join bool) error {
	group, err := parseGroup(address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p4, p6, id := s.p4, s.p6, s.id
	s.mu.Unlock()

	op := "leave"
	if join {
		op = "join"
	}
	if p4 == nil && p6 == nil {
		return ErrNotConnected
	}

	addr := &net.UDPAddr{IP: group}
	switch {
	case group.To4() != nil:
		if p4 == nil {
			return fmt.Errorf("%s %s: %w", op, group, ErrFamilyMismatch)
		}
		if join {
			err = p4.JoinGroup(s.config.Interface, addr)
		} else {
			err = p4.LeaveGroup(s.config.Interface, addr)
		}
	default:
		if p6 == nil {
			return fmt.Errorf("%s %s: %w", op, group, ErrFamilyMismatch)
		}
		if join {
			err = p6.JoinGroup(s.config.Interface, addr)
		} else {
			err = p6.LeaveGroup(s.config.Interface, addr)
		}
	}
	if err != nil {
		err = opError(op, addr, err)
		s.logError(id, op, err)
		return err
	}

	if join {
		s.logGroup(id, group, "", "JOINED")
	} else {
		s.logGroup(id, group, "JOINED", "LEFT")
	}
	return nil
}

func parseGroup(address string) (net.IP, error) {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%q: %w", address, ErrNotMulticast)
	}
	return ip, nil
}

// SetMulticastLoopback controls whether multicast sends are looped back to
// the local host.
func (s *Socket) SetMulticastLoopback(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.p4 != nil:
		return s.p4.SetMulticastLoopback(on)
	case s.p6 != nil:
		return s.p6.SetMulticastLoopback(on)
	default:
		return ErrNotConnected
	}
}

// SetMulticastTTL sets the TTL (IPv4) or hop limit (IPv6) of multicast sends.
func (s *Socket) SetMulticastTTL(ttl int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.p4 != nil:
		return s.p4.SetMulticastTTL(ttl)
	case s.p6 != nil:
		return s.p6.SetMulticastHopLimit(ttl)
	default:
		return ErrNotConnected
	}
}

func (s *Socket) setMulticastInterfaceLocked(iface *net.Interface) error {
	if s.p4 != nil {
		return s.p4.SetMulticastInterface(iface)
	}
	return s.p6.SetMulticastInterface(iface)
}

// Send writes p as one datagram to the default endpoint.
func (s *Socket) Send(p []byte) (int, error) {
	if s.endpoint == nil {
		return 0, ErrNoEndpoint
	}
	return s.SendTo(s.endpoint, p)
}

// SendTo writes p as one datagram to addr, blocking until written.
// A zero-length p is a successful no-op. An addr of the other address
// family than the socket fails with ErrFamilyMismatch.
func (s *Socket) SendTo(addr *net.UDPAddr, p []byte) (int, error) {
	s.mu.Lock()
	conn, id := s.conn, s.id
	s.mu.Unlock()

	if conn == nil {
		return 0, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil
	}
	if addr != nil && addr.IP != nil && (addr.IP.To4() == nil) != (s.network == "udp6") {
		return 0, fmt.Errorf("send to %s on %s socket: %w", addr, s.network, ErrFamilyMismatch)
	}

	n, err := conn.WriteToUDP(p, addr)
	if err != nil {
		s.reportError(id, "send", addr, err)
		return 0, opError("send", addr, err)
	}
	s.countSent(id, addr, p[:n])
	return n, nil
}

// SendAsync writes p to the default endpoint in the background. It returns
// false when not connected or while another send is in flight.
func (s *Socket) SendAsync(p []byte) bool {
	if s.endpoint == nil {
		return false
	}
	return s.SendToAsync(s.endpoint, p)
}

// SendToAsync writes p to addr in the background. The datagram is copied
// before return. It returns false when not connected or while another send
// is in flight.
func (s *Socket) SendToAsync(addr *net.UDPAddr, p []byte) bool {
	s.mu.Lock()
	if s.conn == nil || s.sending {
		s.mu.Unlock()
		return false
	}
	if len(p) == 0 {
		s.mu.Unlock()
		return true
	}
	s.sendBuf.Clear()
	s.sendBuf.Append(p)
	s.sending = true
	s.inFlight = int64(len(p))
	conn, id, datagram := s.conn, s.id, s.sendBuf.Bytes()
	s.mu.Unlock()

	go func() {
		n, err := conn.WriteToUDP(datagram, addr)

		s.mu.Lock()
		if s.id != id {
			s.mu.Unlock()
			return
		}
		s.sending = false
		s.inFlight = 0
		s.sendBuf.Clear()
		s.mu.Unlock()

		if err != nil {
			s.reportError(id, "send", addr, err)
			return
		}
		s.countSent(id, addr, datagram[:n])
		s.handler.OnSent(addr, n)
	}()
	return true
}

// Receive reads one datagram into p, blocking until one arrives, and
// reports its sender. A zero-length p is a successful no-op. A datagram
// larger than p is truncated.
func (s *Socket) Receive(p []byte) (int, *net.UDPAddr, error) {
	return s.ReceiveContext(context.Background(), p)
}

// ReceiveContext is Receive that gives up when ctx is done.
func (s *Socket) ReceiveContext(ctx context.Context, p []byte) (int, *net.UDPAddr, error) {
	s.mu.Lock()
	conn, id := s.conn, s.id
	s.mu.Unlock()

	if conn == nil {
		return 0, nil, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil, nil
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			_ = conn.SetReadDeadline(time.Unix(1, 0))
		})
		defer func() {
			if !stop() {
				_ = conn.SetReadDeadline(time.Time{})
			}
		}()
	}

	n, from, err := conn.ReadFromUDP(p)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		s.reportError(id, "receive", nil, err)
		return 0, nil, opError("receive", nil, err)
	}
	s.countReceived(id, from, p[:n])
	return n, from, nil
}

// ReceiveAsync reads one datagram in the background and delivers it to
// Handler.OnReceived. It is not re-armed; call it again for the next
// datagram. It returns false when not connected or while a receive is
// outstanding.
func (s *Socket) ReceiveAsync() bool {
	s.mu.Lock()
	if s.conn == nil || s.receiving {
		s.mu.Unlock()
		return false
	}
	s.receiving = true
	conn, id := s.conn, s.id
	s.mu.Unlock()

	go s.receiveOnce(id, conn)
	return true
}

func (s *Socket) receiveOnce(id string, conn *net.UDPConn) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	n, from, err := conn.ReadFromUDP(s.recvBuf.Storage())

	s.mu.Lock()
	if s.id != id {
		s.mu.Unlock()
		return
	}
	s.receiving = false
	s.mu.Unlock()

	if err != nil {
		s.reportError(id, "receive", nil, err)
		return
	}

	data := s.recvBuf.Storage()[:n]
	s.countReceived(id, from, data)

	full := n == s.recvBuf.Capacity()
	s.handler.OnReceived(from, data)
	if full {
		_ = s.recvBuf.Reserve(2 * s.recvBuf.Capacity())
		s.recvSize.Store(int64(s.recvBuf.Capacity()))
	}
}

// ReceiveBufferSize returns the async receive buffer capacity.
func (s *Socket) ReceiveBufferSize() int {
	return int(s.recvSize.Load())
}

func (s *Socket) countSent(id string, to *net.UDPAddr, data []byte) {
	s.datagramsSent.Add(1)
	s.bytesSent.Add(int64(len(data)))
	s.logPayload(id, log.DirectionOut, to, data)
}

func (s *Socket) countReceived(id string, from *net.UDPAddr, data []byte) {
	s.datagramsReceived.Add(1)
	s.bytesReceived.Add(int64(len(data)))
	s.logPayload(id, log.DirectionIn, from, data)
}

// reportError notifies the handler unless err is an ordinary disconnect
// cause.
func (s *Socket) reportError(id, op string, addr *net.UDPAddr, err error) {
	if transport.IsBenign(err) {
		return
	}
	wrapped := opError(op, addr, err)
	s.logError(id, op, wrapped)
	s.handler.OnError(wrapped)
}

func (s *Socket) event(id string, category log.Category) log.Event {
	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: id,
		Layer:        log.LayerDatagram,
		Category:     category,
	}
	if local := s.LocalAddr(); local != nil {
		event.LocalAddr = local.String()
	}
	if s.endpoint != nil {
		event.RemoteAddr = s.endpoint.String()
		if s.config.Multicast {
			event.Group = s.endpoint.IP.String()
		}
	}
	return event
}

func (s *Socket) logState(id, from, to, reason string) {
	event := s.event(id, log.CategoryState)
	event.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: from,
		NewState: to,
		Reason:   reason,
	}
	s.logger.Log(event)
}

func (s *Socket) logGroup(id string, group net.IP, from, to string) {
	event := s.event(id, log.CategoryState)
	event.Group = group.String()
	event.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityGroup,
		OldState: from,
		NewState: to,
		Reason:   group.String(),
	}
	s.logger.Log(event)
}

func (s *Socket) logPayload(id string, dir log.Direction, peer *net.UDPAddr, data []byte) {
	event := s.event(id, log.CategoryData)
	event.Direction = dir
	if peer != nil {
		event.RemoteAddr = peer.String()
	}
	event.Payload = log.NewPayloadEvent(data)
	s.logger.Log(event)
}

func (s *Socket) logError(id, op string, err error) {
	event := s.event(id, log.CategoryError)
	event.Error = &log.ErrorEventData{
		Layer:   log.LayerDatagram,
		Message: err.Error(),
		Context: op,
	}
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Addr != nil {
		event.RemoteAddr = opErr.Addr.String()
	}
	s.logger.Log(event)
}
