package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamelink-protocol/gamelink-go/internal/testpeer"
	"github.com/gamelink-protocol/gamelink-go/pkg/log"
)

const waitFor = 3 * time.Second

// recorder captures handler notifications.
type recorder struct {
	mu       sync.Mutex
	events   []string
	errs     []error
	received bytes.Buffer
	sent     int64
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recorder) handler() HandlerFuncs {
	return HandlerFuncs{
		Connected:    func() { r.add("connected") },
		Handshaked:   func() { r.add("handshaked") },
		Disconnected: func() { r.add("disconnected") },
		Empty:        func() { r.add("empty") },
		Received: func(data []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.received.Write(data)
		},
		Sent: func(sent, _ int64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.sent += sent
		},
		Error: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.received.Bytes()...)
}

type fixture struct {
	ca     *testpeer.Authority
	server *testpeer.TLSServer
	rec    *recorder
	client *Client
}

func newFixture(t *testing.T, server testpeer.ServerConfig, configure ...func(*ClientConfig)) *fixture {
	t.Helper()

	ca := testpeer.NewAuthority(t, "test-ca")
	server.Certificate = ca.IssueServer(t)
	if server.RequireClientCert {
		server.ClientCAs = ca.Pool()
	}
	srv := testpeer.NewTLSServer(t, server)

	rec := &recorder{}
	config := DefaultClientConfig(srv.Addr())
	config.Session.RootCAs = ca.Pool()
	config.Handler = rec.handler()
	for _, fn := range configure {
		fn(&config)
	}

	client, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &fixture{ca: ca, server: srv, rec: rec, client: client}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.ErrorIs(t, err, ErrAddressRequired)

	_, err = NewClient(ClientConfig{Address: "no-port"})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{
		Address: "127.0.0.1:1",
		Session: SessionConfig{RequireClientCertificate: true},
	})
	assert.ErrorIs(t, err, ErrClientCertRequired)

	c, err := NewClient(ClientConfig{Address: "127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, DefaultBufferSize, c.Stats().ReceiveBufferSize)
	assert.Equal(t, "127.0.0.1", c.tlsConfig.ServerName)
}

func TestClientConnectDisconnect(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})

	require.NoError(t, f.client.Connect(context.Background()))
	assert.True(t, f.client.IsHandshaked())
	assert.True(t, f.client.IsConnected())
	assert.NotEmpty(t, f.client.ID())
	assert.NotNil(t, f.client.LocalAddr())
	assert.Equal(t, f.server.Addr(), f.client.RemoteAddr().String())

	assert.Equal(t, 1, f.rec.count("connected"))
	assert.Equal(t, 1, f.rec.count("handshaked"))
	assert.Equal(t, 1, f.rec.count("empty"))

	assert.True(t, f.client.Disconnect())
	assert.Equal(t, StateDisconnected, f.client.State())
	assert.Empty(t, f.client.ID())
	assert.Equal(t, 1, f.rec.count("disconnected"))

	assert.False(t, f.client.Disconnect(), "second disconnect is a no-op")
	assert.Equal(t, 1, f.rec.count("disconnected"), "no second notification")
	assert.Empty(t, f.rec.errors())
}

func TestClientDoubleConnect(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})

	require.NoError(t, f.client.Connect(context.Background()))
	assert.ErrorIs(t, f.client.Connect(context.Background()), ErrAlreadyConnected)
	assert.ErrorIs(t, f.client.ConnectAsync(context.Background()), ErrAlreadyConnected)
	assert.True(t, f.client.IsHandshaked())
}

func TestClientSendWhileDisconnected(t *testing.T) {
	c, err := NewClient(ClientConfig{Address: "127.0.0.1:1"})
	require.NoError(t, err)

	n, err := c.Send([]byte("hello"))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrNotHandshaked)
	assert.False(t, c.SendAsync([]byte("hello")))
	assert.False(t, c.ReceiveAsync())

	assert.Equal(t, Stats{ReceiveBufferSize: DefaultBufferSize}, c.Stats())
	assert.True(t, c.sendMain.IsEmpty())
	assert.True(t, c.sendFlush.IsEmpty())
}

func TestClientSendAsyncOrdering(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})
	require.NoError(t, f.client.Connect(context.Background()))

	b1, b2, b3 := []byte("first-"), []byte("second-"), []byte("third")
	require.True(t, f.client.SendAsync(b1))
	require.True(t, f.client.SendAsync(b2))
	require.True(t, f.client.SendAsync(b3))

	want := bytes.Join([][]byte{b1, b2, b3}, nil)
	got := f.server.WaitReceived(len(want), waitFor)
	assert.Equal(t, want, got)

	require.Eventually(t, func() bool {
		s := f.client.Stats()
		return s.BytesSent == int64(len(want)) && s.BytesPending == 0 && s.BytesSending == 0
	}, waitFor, 5*time.Millisecond)
}

func TestClientSendAsyncConcurrentWriters(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})
	require.NoError(t, f.client.Connect(context.Background()))

	const writers, perWriter = 8, 200
	chunk := bytes.Repeat([]byte{'x'}, 37)

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				f.client.SendAsync(chunk)
			}
		}()
	}
	wg.Wait()

	total := writers * perWriter * len(chunk)
	got := f.server.WaitReceived(total, waitFor)
	assert.Len(t, got, total)

	require.Eventually(t, func() bool {
		return f.rec.count("empty") >= 2
	}, waitFor, 5*time.Millisecond, "drain reports empty after the handshake and after flushing")
}

func TestClientSendSyncEcho(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{Echo: true})
	require.NoError(t, f.client.Connect(context.Background()))

	n, err := f.client.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = f.client.Send(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Eventually(t, func() bool {
		return string(f.rec.bytes()) == "ping"
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, int64(4), f.client.Stats().BytesReceived)
	assert.True(t, f.client.ReceiveAsync(), "receive loop already running")
}

func TestClientSendAsyncZeroBytes(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})
	require.NoError(t, f.client.Connect(context.Background()))

	assert.True(t, f.client.SendAsync(nil))
	assert.Equal(t, int64(0), f.client.Stats().BytesPending)
}

func TestClientReceiveBufferGrowth(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 8)
	f := newFixture(t, testpeer.ServerConfig{
		OnConnect: func(conn *tls.Conn) { _, _ = conn.Write(payload) },
	}, func(c *ClientConfig) { c.ReceiveBufferSize = 16 })

	require.NoError(t, f.client.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return len(f.rec.bytes()) == len(payload)
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, payload, f.rec.bytes())
	assert.GreaterOrEqual(t, f.client.Stats().ReceiveBufferSize, 32)
}

func TestClientPeerCloseIsBenign(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})
	require.NoError(t, f.client.Connect(context.Background()))
	require.Eventually(t, func() bool { return f.server.ConnectionCount() == 1 }, waitFor, 5*time.Millisecond)

	f.server.DropAll()

	require.Eventually(t, func() bool {
		return f.rec.count("disconnected") == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateDisconnected, f.client.State())
	assert.Empty(t, f.rec.errors(), "peer close is not an error")
}

func TestClientConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	rec := &recorder{}
	config := DefaultClientConfig(addr)
	config.Handler = rec.handler()
	c, err := NewClient(config)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, rec.count("disconnected"), "no session existed")
	assert.Empty(t, rec.errors(), "refused is a benign cause")
}

func TestClientHandshakeFailure(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{}, func(c *ClientConfig) {
		other := testpeer.NewAuthority(t, "other-ca")
		c.Session.RootCAs = other.Pool()
	})

	err := f.client.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, f.client.State())

	errs := f.rec.errors()
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "handshake")
	assert.Equal(t, 1, f.rec.count("connected"))
	assert.Equal(t, 1, f.rec.count("disconnected"))
	assert.Equal(t, 0, f.rec.count("handshaked"))
}

func TestClientMutualTLS(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{RequireClientCert: true})

	clientCert := f.ca.IssueClient(t, "player-1")
	config := DefaultClientConfig(f.server.Addr())
	config.Session.RootCAs = f.ca.Pool()
	config.Session.Certificates = []tls.Certificate{clientCert}
	config.Session.RequireClientCertificate = true

	c, err := NewClient(config)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsHandshaked())
}

func TestClientDisconnectCancelsConnect(t *testing.T) {
	// A TCP listener that never answers the TLS handshake.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	var held []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := l.Accept()
			if err != nil {
				break
			}
			held = append(held, conn)
		}
		for _, conn := range held {
			conn.Close()
		}
	}()
	defer func() {
		l.Close()
		<-done
	}()

	rec := &recorder{}
	config := DefaultClientConfig(l.Addr().String())
	config.Session.InsecureSkipVerify = true
	config.Handler = rec.handler()
	c, err := NewClient(config)
	require.NoError(t, err)

	require.NoError(t, c.ConnectAsync(context.Background()))
	require.Eventually(t, c.IsHandshaking, waitFor, 5*time.Millisecond)

	assert.True(t, c.Disconnect())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, rec.count("disconnected"))

	// The abandoned handshake must not resurrect the session.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, rec.count("handshaked"))
}

func TestClientConnectContextCanceled(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.client.Connect(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateDisconnected, f.client.State())
	assert.Empty(t, f.rec.errors())
}

func TestClientConnectAsync(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})

	require.NoError(t, f.client.ConnectAsync(context.Background()))
	require.Eventually(t, f.client.IsHandshaked, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, f.rec.count("handshaked"))
}

func TestClientReconnect(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})

	assert.ErrorIs(t, f.client.Reconnect(context.Background()), ErrNotConnected)

	require.NoError(t, f.client.Connect(context.Background()))
	first := f.client.ID()

	require.NoError(t, f.client.Reconnect(context.Background()))
	assert.True(t, f.client.IsHandshaked())
	assert.NotEqual(t, first, f.client.ID())
	assert.Equal(t, 1, f.rec.count("disconnected"))
	assert.Equal(t, 2, f.rec.count("handshaked"))
	require.Eventually(t, func() bool { return f.server.Accepted() == 2 }, waitFor, 5*time.Millisecond)
}

func TestClientCountersResetOnConnect(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})
	require.NoError(t, f.client.Connect(context.Background()))

	_, err := f.client.Send([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.client.Stats().BytesSent)

	require.NoError(t, f.client.Reconnect(context.Background()))
	assert.Equal(t, int64(0), f.client.Stats().BytesSent)
}

func TestClientClose(t *testing.T) {
	f := newFixture(t, testpeer.ServerConfig{})
	require.NoError(t, f.client.Connect(context.Background()))

	require.NoError(t, f.client.Close())
	require.NoError(t, f.client.Close())
	assert.Equal(t, 1, f.rec.count("disconnected"))
	assert.ErrorIs(t, f.client.Connect(context.Background()), ErrClientClosed)
}

func TestClientLogsProtocolEvents(t *testing.T) {
	var mu sync.Mutex
	var events []log.Event
	logger := log.LoggerFunc(func(e log.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	f := newFixture(t, testpeer.ServerConfig{}, func(c *ClientConfig) { c.Logger = logger })
	require.NoError(t, f.client.Connect(context.Background()))
	id := f.client.ID()
	_, err := f.client.Send([]byte("hi"))
	require.NoError(t, err)
	f.client.Disconnect()

	mu.Lock()
	defer mu.Unlock()

	var states []string
	var out int
	for _, e := range events {
		assert.Equal(t, id, e.ConnectionID)
		assert.Equal(t, log.LayerStream, e.Layer)
		switch e.Category {
		case log.CategoryState:
			states = append(states, e.StateChange.NewState)
		case log.CategoryData:
			if e.Direction == log.DirectionOut {
				out++
				assert.Equal(t, []byte("hi"), e.Payload.Data)
			}
		}
	}
	assert.Equal(t, []string{
		"CONNECTING", "CONNECTED", "HANDSHAKING", "HANDSHAKED", "DISCONNECTING", "DISCONNECTED",
	}, states)
	assert.Equal(t, 1, out)
}
