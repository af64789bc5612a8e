package datagram

import "net"

// Handler receives Socket notifications.
type Handler interface {
	// OnConnected is called after the socket is bound.
	OnConnected()

	// OnDisconnected is called once per completed disconnect.
	OnDisconnected()

	// OnReceived is called for each datagram delivered by ReceiveAsync.
	// data aliases the receive buffer and is only valid during the call.
	// Calling ReceiveAsync from inside OnReceived is allowed.
	OnReceived(from *net.UDPAddr, data []byte)

	// OnSent is called after each asynchronous send completes.
	OnSent(to *net.UDPAddr, sent int)

	// OnError is called for failures that are not ordinary disconnects.
	OnError(err error)
}

// HandlerFuncs adapts optional closures to the Handler interface.
type HandlerFuncs struct {
	Connected    func()
	Disconnected func()
	Received     func(from *net.UDPAddr, data []byte)
	Sent         func(to *net.UDPAddr, sent int)
	Error        func(err error)
}

func (h HandlerFuncs) OnConnected() {
	if h.Connected != nil {
		h.Connected()
	}
}

func (h HandlerFuncs) OnDisconnected() {
	if h.Disconnected != nil {
		h.Disconnected()
	}
}

func (h HandlerFuncs) OnReceived(from *net.UDPAddr, data []byte) {
	if h.Received != nil {
		h.Received(from, data)
	}
}

func (h HandlerFuncs) OnSent(to *net.UDPAddr, sent int) {
	if h.Sent != nil {
		h.Sent(to, sent)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// NopHandler ignores all notifications.
type NopHandler = HandlerFuncs

var _ Handler = HandlerFuncs{}
