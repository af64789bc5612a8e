package transport

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates a TCP connect in progress.
	StateConnecting

	// StateConnected indicates an open TCP connection before the handshake.
	StateConnected

	// StateHandshaking indicates the TLS handshake is in progress.
	StateHandshaking

	// StateHandshaked indicates an established TLS session; payloads may flow.
	StateHandshaked

	// StateDisconnecting indicates teardown in progress.
	StateDisconnecting
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateHandshaked:
		return "HANDSHAKED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// connected reports whether a TCP connection is open in this state.
func (s ConnectionState) connected() bool {
	return s == StateConnected || s == StateHandshaking || s == StateHandshaked
}
