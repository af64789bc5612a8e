// Package datagram provides the UDP socket used for unicast, broadcast and
// multicast traffic.
//
// A Socket binds either to the configured multicast group port or to an
// ephemeral local port. Sends and receives come in blocking and
// asynchronous forms. Unlike the TLS client, asynchronous sends are not
// queued: SendAsync reports false while a previous datagram is still in
// flight. ReceiveAsync delivers exactly one datagram and must be called
// again for the next one.
//
// Group membership uses golang.org/x/net/ipv4 or ipv6 depending on the
// address family of the socket, and is only valid while connected.
//
// Socket options (address reuse, exclusive address use, broadcast) are set
// on the raw descriptor before bind through net.ListenConfig.
package datagram
