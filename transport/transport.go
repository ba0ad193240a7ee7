package transport

import (
	"net"
)

// PacketHandler is a function that processes incoming packets.
//
// Handlers run on the transport's read loop and must return quickly;
// long-running work belongs in the owning subsystem's poll cycle.
type PacketHandler func(packet *Packet, addr net.Addr) error

// Transport defines the interface for network transports used by cyxnet.
// This abstraction lets the subsystems run over the real UDP transport
// in production and an in-memory transport in tests.
type Transport interface {
	// Send sends a packet to the specified address.
	Send(packet *Packet, addr net.Addr) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// RegisterHandler registers a handler for a specific packet type.
	RegisterHandler(packetType PacketType, handler PacketHandler)
}
