package testpeer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ServerConfig configures a TLSServer.
type ServerConfig struct {
	// Certificate is the server certificate.
	Certificate tls.Certificate

	// ClientCAs verifies client certificates when RequireClientCert is set.
	ClientCAs *x509.CertPool

	// RequireClientCert demands a verified client certificate.
	RequireClientCert bool

	// Echo writes every received chunk back to its sender.
	Echo bool

	// OnConnect is called after each handshake with the accepted connection.
	OnConnect func(conn *tls.Conn)
}

// TLSServer is a loopback TLS server that records everything it receives.
type TLSServer struct {
	config   ServerConfig
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[*tls.Conn]struct{}
	received bytes.Buffer

	accepted atomic.Int64
	closed   atomic.Bool
}

// NewTLSServer starts a server on 127.0.0.1 with an ephemeral port. It is
// closed automatically when the test ends.
func NewTLSServer(t testing.TB, config ServerConfig) *TLSServer {
	t.Helper()

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{config.Certificate},
		MinVersion:   tls.VersionTLS12,
	}
	if config.RequireClientCert {
		tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConf.ClientCAs = config.ClientCAs
	}

	listener, err := tls.Listen("tcp", "127.0.0.1:0", tlsConf)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TLSServer{
		config:   config,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[*tls.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the listen address as host:port.
func (s *TLSServer) Addr() string { return s.listener.Addr().String() }

// Accepted returns the number of completed handshakes.
func (s *TLSServer) Accepted() int { return int(s.accepted.Load()) }

// ConnectionCount returns the number of open connections.
func (s *TLSServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received returns a copy of all bytes received so far, across connections.
func (s *TLSServer) Received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.received.Bytes()...)
}

// WaitReceived polls until at least n bytes have arrived or timeout
// elapses, then returns what was received.
func (s *TLSServer) WaitReceived(n int, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := s.Received(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.Received()
}

// Broadcast writes p to every open connection.
func (s *TLSServer) Broadcast(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_, _ = conn.Write(p)
	}
}

// DropAll closes every open connection without closing the listener.
func (s *TLSServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// Close stops the server and closes all connections.
func (s *TLSServer) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.listener.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *TLSServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn.(*tls.Conn))
	}
}

func (s *TLSServer) handleConnection(conn *tls.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if err := conn.HandshakeContext(s.ctx); err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.accepted.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.received.Write(buf[:n])
			s.mu.Unlock()
			if s.config.Echo {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
