package transport

// Handler receives Client lifecycle notifications.
//
// Callbacks run on the client's I/O goroutines. OnReceived is never called
// concurrently with itself. The data slice passed to OnReceived aliases the
// receive buffer and must not be retained after the call returns.
type Handler interface {
	// OnConnected is called when the TCP connection is established.
	OnConnected()

	// OnHandshaked is called when the TLS handshake completes.
	OnHandshaked()

	// OnDisconnected is called once per completed disconnect.
	OnDisconnected()

	// OnReceived is called with each chunk read from the TLS stream.
	OnReceived(data []byte)

	// OnSent is called after each asynchronous write with the number of
	// bytes written and the bytes still pending.
	OnSent(sent, pending int64)

	// OnEmpty is called when both send buffers have drained.
	OnEmpty()

	// OnError is called for failures that are not ordinary disconnects.
	OnError(err error)
}

// HandlerFuncs adapts optional closures to the Handler interface.
// Nil fields are ignored.
type HandlerFuncs struct {
	Connected    func()
	Handshaked   func()
	Disconnected func()
	Received     func(data []byte)
	Sent         func(sent, pending int64)
	Empty        func()
	Error        func(err error)
}

func (h HandlerFuncs) OnConnected() {
	if h.Connected != nil {
		h.Connected()
	}
}

func (h HandlerFuncs) OnHandshaked() {
	if h.Handshaked != nil {
		h.Handshaked()
	}
}

func (h HandlerFuncs) OnDisconnected() {
	if h.Disconnected != nil {
		h.Disconnected()
	}
}

func (h HandlerFuncs) OnReceived(data []byte) {
	if h.Received != nil {
		h.Received(data)
	}
}

func (h HandlerFuncs) OnSent(sent, pending int64) {
	if h.Sent != nil {
		h.Sent(sent, pending)
	}
}

func (h HandlerFuncs) OnEmpty() {
	if h.Empty != nil {
		h.Empty()
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// NopHandler ignores all notifications.
type NopHandler = HandlerFuncs

// Compile-time interface satisfaction check.
var _ Handler = HandlerFuncs{}
