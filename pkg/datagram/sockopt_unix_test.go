//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package datagram

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamelink-protocol/gamelink-go/internal/testpeer"
)

func TestSocketReuseAddress(t *testing.T) {
	port := testpeer.FreeUDPPort(t)
	group := (&net.UDPAddr{IP: net.IPv4(239, 255, 77, 12), Port: port}).String()

	first, _ := newConnected(t, Config{Address: group, Multicast: true, ReuseAddress: true})
	second, _ := newConnected(t, Config{Address: group, Multicast: true, ReuseAddress: true})

	assert.Equal(t, port, first.LocalAddr().Port)
	assert.Equal(t, port, second.LocalAddr().Port)
}

func TestSocketExclusiveBind(t *testing.T) {
	port := testpeer.FreeUDPPort(t)
	group := (&net.UDPAddr{IP: net.IPv4(239, 255, 77, 13), Port: port}).String()

	newConnected(t, Config{Address: group, Multicast: true, ExclusiveAddressUse: true})

	s, err := NewSocket(Config{Address: group, Multicast: true, ReuseAddress: true, ExclusiveAddressUse: true})
	require.NoError(t, err)
	err = s.Connect()
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "bind", opErr.Op)
	assert.False(t, s.IsConnected())
}
