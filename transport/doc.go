// Package transport provides the datagram plumbing for the cyxnet
// connectivity layer: packet framing, the UDP transport, STUN-based
// public address discovery, hole-punch probes and the TCP relay client.
//
// # Architecture
//
// The core abstraction is the Transport interface, which the DHT, the
// name service and the connection manager all send through:
//
//	type Transport interface {
//	    Send(packet *Packet, addr net.Addr) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    RegisterHandler(packetType PacketType, handler PacketHandler)
//	}
//
// Handlers are invoked synchronously from the transport's read loop, in
// arrival order. They must not block or re-enter subsystem poll logic;
// the usual pattern is to enqueue the packet into the owning subsystem's
// inbox and return, letting the subsystem drain the queue on its next
// Poll call.
//
// # Address discovery
//
// StunResolver wraps pion/stun. It queries multiple servers and compares
// the mapped addresses they report to classify the local NAT: mappings
// that differ between servers indicate a symmetric NAT, where the
// external port is unpredictable and hole punching cannot work.
//
// # Relay
//
// RelayClient maintains a TCP session to a relay server and forwards
// framed packets between peers that could not establish a direct path.
// It is the fallback the connection manager promotes to after punch
// attempts are exhausted.
package transport
