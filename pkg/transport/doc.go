// Package transport provides the TLS-over-TCP client used by gamelink
// protocol clients.
//
// The client handles:
//   - TCP connect (blocking or asynchronous) with keep-alive and no-delay options
//   - Client-side TLS handshake from a SessionConfig
//   - Double-buffered asynchronous send
//   - A continuous receive loop delivering opaque payloads
//   - Disconnect and reconnect
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Game protocol (external)     │
//	├────────────────────────────────┤
//	│   Opaque payloads (no framing) │
//	├────────────────────────────────┤
//	│         TLS 1.2 / 1.3          │
//	├────────────────────────────────┤
//	│             TCP                │
//	└────────────────────────────────┘
//
// # States
//
//	DISCONNECTED → CONNECTING → CONNECTED → HANDSHAKING → HANDSHAKED
//	      ↑                                                   │
//	      └──────────────── DISCONNECTING ←───────────────────┘
//
// # Sending
//
// SendAsync appends to a main buffer under a lock. A single drain goroutine
// swaps the main buffer with an empty flush buffer and writes the flush
// buffer to the TLS stream, repeating until both are empty. Callers keep
// appending while a write is in flight; exactly one write is ever
// outstanding, so bytes reach the wire in call order.
//
// # Receiving
//
// After the handshake a single goroutine reads into the receive buffer and
// hands each chunk to Handler.OnReceived before issuing the next read. A
// read that fills the buffer doubles its capacity.
//
// The client never reconnects on its own. Callers that want resilience wrap
// it in a connection.Manager.
package transport
