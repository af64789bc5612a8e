package log

import (
	"time"
)

// MaxPayloadDataSize is the maximum payload size to include in events (4 KB).
// Larger payloads are truncated to avoid excessive memory usage.
const MaxPayloadDataSize = 4096

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the session that produced the event (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates payload flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalAddr is the local address (IP:port), if bound.
	LocalAddr string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer or group address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Group is the multicast group IP the event concerns, if any.
	Group string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Payload     *PayloadEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of payload flow.
type Direction uint8

const (
	// DirectionIn indicates incoming bytes.
	DirectionIn Direction = 0
	// DirectionOut indicates outgoing bytes.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which transport captured the event.
type Layer uint8

const (
	// LayerStream is the TLS-over-TCP client.
	LayerStream Layer = 0
	// LayerDatagram is the UDP socket.
	LayerDatagram Layer = 1
	// LayerMulticast is the resilient multicast listener.
	LayerMulticast Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerStream:
		return "STREAM"
	case LayerDatagram:
		return "DATAGRAM"
	case LayerMulticast:
		return "MULTICAST"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryData indicates payload bytes.
	CategoryData Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryData:
		return "DATA"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// PayloadEvent captures bytes moving through a transport.
type PayloadEvent struct {
	// Size is the payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw payload (may be truncated for large payloads).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewPayloadEvent copies at most MaxPayloadDataSize bytes of data into a
// PayloadEvent. The copy lets callers reuse data after logging.
func NewPayloadEvent(data []byte) *PayloadEvent {
	captured := data
	truncated := false
	if len(captured) > MaxPayloadDataSize {
		captured = captured[:MaxPayloadDataSize]
		truncated = true
	}
	return &PayloadEvent{
		Size:      len(data),
		Data:      append([]byte(nil), captured...),
		Truncated: truncated,
	}
}

// StateChangeEvent captures transport lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityGroup indicates a multicast group membership change.
	StateEntityGroup StateEntity = 1
	// StateEntityListener indicates a listener (reconnect loop) state change.
	StateEntityListener StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityGroup:
		return "GROUP"
	case StateEntityListener:
		return "LISTENER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
