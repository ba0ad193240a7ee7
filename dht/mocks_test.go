package dht

import (
	"errors"
	"net"
	"sync"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

// MockTransport implements transport.Transport for tests.
type MockTransport struct {
	sendFunc      func(packet *transport.Packet, addr net.Addr) error
	localAddr     net.Addr
	handlers      map[transport.PacketType]transport.PacketHandler
	sentPackets   []*transport.Packet
	sentAddresses []net.Addr
	mu            sync.Mutex
}

func newMockTransport() *MockTransport {
	return &MockTransport{
		localAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 33445},
		handlers:  make(map[transport.PacketType]transport.PacketHandler),
		sendFunc:  func(packet *transport.Packet, addr net.Addr) error { return nil },
	}
}

func (m *MockTransport) Send(packet *transport.Packet, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentPackets = append(m.sentPackets, packet)
	m.sentAddresses = append(m.sentAddresses, addr)
	return m.sendFunc(packet, addr)
}

func (m *MockTransport) Close() error {
	return nil
}

func (m *MockTransport) LocalAddr() net.Addr {
	return m.localAddr
}

func (m *MockTransport) RegisterHandler(packetType transport.PacketType, handler transport.PacketHandler) {
	m.handlers[packetType] = handler
}

func (m *MockTransport) GetSentPackets() ([]*transport.Packet, []net.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	packets := make([]*transport.Packet, len(m.sentPackets))
	addrs := make([]net.Addr, len(m.sentAddresses))
	copy(packets, m.sentPackets)
	copy(addrs, m.sentAddresses)
	return packets, addrs
}

// SetSendError makes every subsequent Send fail with err.
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = func(packet *transport.Packet, addr net.Addr) error { return err }
}

func (m *MockTransport) ResetSentPackets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentPackets = nil
	m.sentAddresses = nil
}

// CountSentByType returns how many sent packets carried the given type.
func (m *MockTransport) CountSentByType(packetType transport.PacketType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, packet := range m.sentPackets {
		if packet.PacketType == packetType {
			count++
		}
	}
	return count
}

// SimulateReceive invokes the registered handler as the transport
// would for an inbound packet.
func (m *MockTransport) SimulateReceive(packet *transport.Packet, from net.Addr) error {
	handler, ok := m.handlers[packet.PacketType]
	if !ok {
		return errors.New("no handler registered for packet type")
	}
	return handler(packet, from)
}

// createTestID builds a peer ID filled with the given byte.
func createTestID(fill byte) crypto.PeerID {
	var id crypto.PeerID
	for i := range id {
		id[i] = fill
	}
	return id
}

func testUDPAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: port}
}
