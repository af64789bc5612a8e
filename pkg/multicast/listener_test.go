package multicast

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamelink-protocol/gamelink-go/internal/testpeer"
	"github.com/gamelink-protocol/gamelink-go/pkg/log"
	"github.com/gamelink-protocol/gamelink-go/pkg/transport"
)

const waitFor = 3 * time.Second

// unicastSender writes to the listener's port from an unconnected socket,
// so an ICMP port-unreachable during an outage does not poison later writes.
type unicastSender struct {
	conn *net.UDPConn
	to   *net.UDPAddr
}

func (s *unicastSender) Write(p []byte) (int, error) { return s.conn.WriteToUDP(p, s.to) }

func (s *unicastSender) Port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

func newUnicastListener(t *testing.T, config Config) (*Listener, *unicastSender) {
	t.Helper()
	port := testpeer.FreeUDPPort(t)
	config.Address = fmt.Sprintf("127.0.0.1:%d", port)

	l, err := NewListener(config)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return l, &unicastSender{conn: conn, to: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}}
}

func next(t *testing.T, l *Listener) Datagram {
	t.Helper()
	select {
	case d, ok := <-l.Payloads():
		require.True(t, ok, "payload stream closed")
		return d
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for datagram")
		return Datagram{}
	}
}

func TestNewListenerValidation(t *testing.T) {
	_, err := NewListener(Config{})
	assert.ErrorIs(t, err, transport.ErrAddressRequired)

	_, err = NewListener(Config{Address: "239.1.2.3:0"})
	assert.Error(t, err)

	l, err := NewListener(Config{Address: "239.1.2.3:5000"})
	require.NoError(t, err)
	assert.Equal(t, DefaultRetryDelay, l.config.RetryDelay)
	assert.Equal(t, 8192, l.config.ReceiveBufferSize)
	assert.True(t, l.multicast)
	assert.False(t, l.broadcast)

	l, err = NewListener(Config{Address: "255.255.255.255:5000"})
	require.NoError(t, err)
	assert.True(t, l.broadcast)
	assert.False(t, l.multicast)
}

func TestListenerDeliversDatagrams(t *testing.T) {
	l, sender := newUnicastListener(t, Config{})
	require.NoError(t, l.Open(context.Background()))
	assert.True(t, l.IsBound())

	_, err := sender.Write([]byte("first"))
	require.NoError(t, err)
	_, err = sender.Write([]byte("second"))
	require.NoError(t, err)

	d1 := next(t, l)
	d2 := next(t, l)
	assert.Equal(t, "first", string(d1.Data))
	assert.Equal(t, "second", string(d2.Data), "earlier payload must not be overwritten")
	assert.Equal(t, "first", string(d1.Data))
	require.NotNil(t, d1.From)
	assert.Equal(t, sender.Port(), d1.From.Port)
	assert.False(t, d1.Received.IsZero())
	assert.EqualValues(t, 2, l.Received())
}

func TestListenerReceivedCountsBeforeHandoff(t *testing.T) {
	l, sender := newUnicastListener(t, Config{})
	require.NoError(t, l.Open(context.Background()))

	for i := 1; i <= 20; i++ {
		_, err := sender.Write([]byte(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
		d := next(t, l)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(d.Data))
		require.EqualValues(t, i, l.Received(), "count must include the datagram just read")
	}
}

func TestListenerOpenOnce(t *testing.T) {
	l, _ := newUnicastListener(t, Config{})
	require.NoError(t, l.Open(context.Background()))
	assert.ErrorIs(t, l.Open(context.Background()), ErrAlreadyOpen)
}

func TestListenerOpenAfterClose(t *testing.T) {
	l, _ := newUnicastListener(t, Config{})
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Open(context.Background()), ErrClosed)
}

func TestListenerCloseTerminatesStream(t *testing.T) {
	l, sender := newUnicastListener(t, Config{})
	require.NoError(t, l.Open(context.Background()))

	// Leave one datagram undelivered so the receive goroutine is blocked
	// handing it over when Close runs.
	_, err := sender.Write([]byte("pending"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.False(t, l.IsBound())
	assert.Zero(t, l.Received(), "abandoned handoff is not counted")

	select {
	case _, ok := <-l.Payloads():
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("payload stream not closed")
	}

	_, err = l.current()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestListenerRecoversFromSocketFailure(t *testing.T) {
	const retry = 200 * time.Millisecond
	l, sender := newUnicastListener(t, Config{RetryDelay: retry})
	require.NoError(t, l.Open(context.Background()))

	_, err := sender.Write([]byte("before"))
	require.NoError(t, err)
	assert.Equal(t, "before", string(next(t, l).Data))

	sock, err := l.current()
	require.NoError(t, err)
	start := time.Now()
	require.NoError(t, sock.Close())

	// Nothing is bound until the retry delay passes. The write may fail
	// with a port-unreachable error; either way it must not be delivered.
	_, _ = sender.Write([]byte("during outage"))

	require.Eventually(t, func() bool {
		return l.IsBound() && l.Reconnects() == 1
	}, waitFor, 10*time.Millisecond)
	assert.Less(t, time.Since(start), 3*retry, "rebound within one retry interval")

	_, err = sender.Write([]byte("after"))
	require.NoError(t, err)
	assert.Equal(t, "after", string(next(t, l).Data))

	select {
	case d := <-l.Payloads():
		t.Fatalf("unexpected datagram %q", d.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenerRepeatedFailures(t *testing.T) {
	l, sender := newUnicastListener(t, Config{RetryDelay: 50 * time.Millisecond})
	require.NoError(t, l.Open(context.Background()))

	for i := 1; i <= 3; i++ {
		sock, err := l.current()
		require.NoError(t, err)
		require.NoError(t, sock.Close())

		want := int64(i)
		require.Eventually(t, func() bool {
			return l.IsBound() && l.Reconnects() == want
		}, waitFor, 10*time.Millisecond)
	}

	_, err := sender.Write([]byte("still here"))
	require.NoError(t, err)
	assert.Equal(t, "still here", string(next(t, l).Data))
}

func TestListenerLogsStateChanges(t *testing.T) {
	var (
		mu     sync.Mutex
		events []log.Event
	)
	logger := log.LoggerFunc(func(e log.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	l, _ := newUnicastListener(t, Config{Logger: logger})
	require.NoError(t, l.Open(context.Background()))
	require.NoError(t, l.Close())

	mu.Lock()
	defer mu.Unlock()
	var states []string
	for _, e := range events {
		if e.Layer == log.LayerMulticast && e.StateChange != nil {
			assert.Equal(t, log.StateEntityListener, e.StateChange.Entity)
			states = append(states, e.StateChange.NewState)
		}
	}
	assert.Equal(t, []string{"CONNECTING", "CONNECTED", "CLOSED"}, states)
}

func TestListenerGroupMembershipRequiresSocket(t *testing.T) {
	l, _ := newUnicastListener(t, Config{})
	assert.ErrorIs(t, l.JoinGroup("239.1.2.3"), ErrNotBound)
	assert.ErrorIs(t, l.LeaveGroup("239.1.2.3"), ErrNotBound)
}

func TestListenerMulticastGroup(t *testing.T) {
	iface := testpeer.MulticastInterface(t)
	port := testpeer.FreeUDPPort(t)
	group := &net.UDPAddr{IP: net.IPv4(239, 255, 42, 99), Port: port}

	l, err := NewListener(Config{Address: group.String(), Interface: iface, RetryDelay: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	if err := l.Open(context.Background()); err != nil {
		t.Skipf("join %s on %s: %v", group, iface.Name, err)
	}

	sender := testpeer.NewMulticastSender(t, iface, group)
	require.NoError(t, sender.Send([]byte("to the group")))
	assert.Equal(t, "to the group", string(next(t, l).Data))

	sock, err := l.current()
	require.NoError(t, err)
	require.NoError(t, sock.Close())
	require.Eventually(t, func() bool {
		return l.IsBound() && l.Reconnects() == 1
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, sender.Send([]byte("rejoined")))
	assert.Equal(t, "rejoined", string(next(t, l).Data))
}
