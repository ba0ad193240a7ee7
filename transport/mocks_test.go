package transport

import (
	"net"
	"sync"
)

// MockTransport captures outgoing packets for inspection in tests.
type MockTransport struct {
	mu       sync.Mutex
	sent     []sentPacket
	sendErr  error
	handlers map[PacketType]PacketHandler
	local    net.Addr
}

type sentPacket struct {
	packet *Packet
	addr   net.Addr
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		handlers: make(map[PacketType]PacketHandler),
		local:    &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345},
	}
}

func (mt *MockTransport) Send(packet *Packet, addr net.Addr) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.sendErr != nil {
		return mt.sendErr
	}
	mt.sent = append(mt.sent, sentPacket{packet: packet, addr: addr})
	return nil
}

func (mt *MockTransport) Close() error {
	return nil
}

func (mt *MockTransport) LocalAddr() net.Addr {
	return mt.local
}

func (mt *MockTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.handlers[packetType] = handler
}

// SentPackets returns a snapshot of everything sent so far.
func (mt *MockTransport) SentPackets() []sentPacket {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	packets := make([]sentPacket, len(mt.sent))
	copy(packets, mt.sent)
	return packets
}

// SetSendError makes subsequent Send calls fail with err.
func (mt *MockTransport) SetSendError(err error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.sendErr = err
}

// Deliver simulates an inbound packet by invoking the registered
// handler the way the UDP transport would.
func (mt *MockTransport) Deliver(packet *Packet, from net.Addr) error {
	mt.mu.Lock()
	handler := mt.handlers[packet.PacketType]
	mt.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(packet, from)
}
