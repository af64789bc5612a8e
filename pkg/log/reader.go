package log

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events from a capture. A zero field places no constraint.
type Filter struct {
	// ConnectionID selects one session.
	ConnectionID string

	// Direction selects payload events flowing one way. Events without a
	// payload never match a direction.
	Direction *Direction

	// Layer selects the capturing transport.
	Layer *Layer

	// Category selects data, state or error events.
	Category *Category

	// Entity selects state changes of one kind (connection, group
	// membership or listener). Events that are not state changes never
	// match it.
	Entity *StateEntity

	// TimeStart and TimeEnd bound the window [TimeStart, TimeEnd).
	TimeStart *time.Time
	TimeEnd   *time.Time

	// RemoteAddr selects a peer. "host:port" must match exactly; a bare
	// host matches any port on that host.
	RemoteAddr string

	// Group selects traffic of one multicast group, given as an IP or
	// IP:port. It matches on Event.Group.
	Group string
}

// Matches reports whether event satisfies every criterion of f.
func (f *Filter) Matches(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	if f.Direction != nil && (event.Payload == nil || event.Direction != *f.Direction) {
		return false
	}
	if f.Entity != nil && (event.StateChange == nil || event.StateChange.Entity != *f.Entity) {
		return false
	}
	if f.RemoteAddr != "" && !matchAddr(f.RemoteAddr, event.RemoteAddr) {
		return false
	}
	if f.Group != "" && (event.Group == "" || !sameIP(hostOf(f.Group), event.Group)) {
		return false
	}
	return true
}

// matchAddr compares a filter address with an event address. A filter
// without a port compares hosts only.
func matchAddr(want, got string) bool {
	if got == "" {
		return false
	}
	if _, _, err := net.SplitHostPort(want); err == nil {
		return want == got
	}
	return sameIP(want, hostOf(got))
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// sameIP compares two hosts, treating equivalent IP spellings as equal.
func sameIP(a, b string) bool {
	ipA, ipB := net.ParseIP(a), net.ParseIP(b)
	if ipA != nil && ipB != nil {
		return ipA.Equal(ipB)
	}
	return a == b
}

// Reader streams events from a capture file, one Decode per event.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens path for reading every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path for reading the events that match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.decoder.Decode(&event)
		switch {
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, err
		case r.filter.Matches(event):
			return event, nil
		}
	}
}

// Close releases the file.
func (r *Reader) Close() error {
	return r.file.Close()
}
