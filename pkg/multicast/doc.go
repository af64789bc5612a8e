// Package multicast provides a long-lived inbound datagram stream.
//
// A Listener binds a UDP port, joins the configured multicast group (or
// enables broadcast reception for the broadcast address) and delivers every
// received datagram on the channel returned by Payloads. When a read fails
// the socket is discarded and a fixed-delay reconnect loop recreates it
// until it succeeds or the listener is closed. Datagrams that arrive while
// no socket is bound are lost; nothing is buffered or replayed.
//
//	l, err := multicast.NewListener(multicast.Config{Address: "239.1.2.3:5000"})
//	if err != nil {
//		return err
//	}
//	defer l.Close()
//	if err := l.Open(ctx); err != nil {
//		log.Printf("first bind failed, retrying: %v", err)
//	}
//	for d := range l.Payloads() {
//		handle(d.Data)
//	}
package multicast
