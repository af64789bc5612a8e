// Package connection provides reconnection management for gamelink
// transports.
//
// The transports themselves never retry: a TLS client or datagram socket
// that fails reports the failure and returns to its disconnected state.
// Callers that want a durable session wrap the connect step in a Manager,
// which re-runs it on a Backoff schedule until it succeeds or the manager
// is closed.
//
// # Backoff
//
// The default schedule is exponential with jitter:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Reset to 1s on successful reconnection
//
// Jitter spreads clients that lost the same server:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A Backoff with Initial == Max and no jitter retries at a fixed interval;
// the multicast listener uses one with a 5 second delay.
package connection
