package testpeer

import (
	"net"
	"testing"
	"time"

	"golang.org/x/net/ipv4"
)

// ListenUDP opens a UDP socket on 127.0.0.1 with an ephemeral port, closed
// when the test ends.
func ListenUDP(t testing.TB) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ReadDatagram reads one datagram from conn within timeout.
func ReadDatagram(conn net.PacketConn, timeout time.Duration) ([]byte, net.Addr, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, 65535)
	n, from, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], from, nil
}

// FreeUDPPort returns a UDP port that was free a moment ago.
func FreeUDPPort(t testing.TB) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// MulticastInterface returns an up, multicast-capable interface with an
// IPv4 address, or skips the test when the host has none.
func MulticastInterface(t testing.TB) *net.Interface {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("list interfaces: %v", err)
	}
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return iface
			}
		}
	}
	t.Skip("no multicast-capable IPv4 interface")
	return nil
}

// MulticastSender sends datagrams to an IPv4 group with loopback enabled so
// members on the same host receive them.
type MulticastSender struct {
	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
}

// NewMulticastSender opens a sender for group on iface.
func NewMulticastSender(t testing.TB, iface *net.Interface, group *net.UDPAddr) *MulticastSender {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatalf("open multicast sender: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastInterface(iface); err != nil {
		t.Skipf("set multicast interface %s: %v", iface.Name, err)
	}
	_ = pc.SetMulticastLoopback(true)
	_ = pc.SetMulticastTTL(1)

	return &MulticastSender{conn: conn, pc: pc, group: group}
}

// Send writes p to the group.
func (s *MulticastSender) Send(p []byte) error {
	_, err := s.pc.WriteTo(p, nil, s.group)
	return err
}
