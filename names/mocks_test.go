package names

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/dht"
	"github.com/code3hr/cyxnet/transport"
)

// MockTransport captures outgoing packets and lets tests inject
// inbound ones through the registered handlers.
type MockTransport struct {
	mu            sync.Mutex
	sendFunc      func(packet *transport.Packet, addr net.Addr) error
	localAddr     net.Addr
	handlers      map[transport.PacketType]transport.PacketHandler
	sentPackets   []*transport.Packet
	sentAddresses []net.Addr
}

func newMockTransport() *MockTransport {
	return &MockTransport{
		localAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 33445},
		handlers:  make(map[transport.PacketType]transport.PacketHandler),
	}
}

func (m *MockTransport) Send(packet *transport.Packet, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sentPackets = append(m.sentPackets, packet)
	m.sentAddresses = append(m.sentAddresses, addr)
	if m.sendFunc != nil {
		return m.sendFunc(packet, addr)
	}
	return nil
}

func (m *MockTransport) Close() error { return nil }

func (m *MockTransport) LocalAddr() net.Addr { return m.localAddr }

func (m *MockTransport) RegisterHandler(packetType transport.PacketType, handler transport.PacketHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[packetType] = handler
}

// SimulateReceive feeds a packet through the registered handler as if
// it arrived from addr.
func (m *MockTransport) SimulateReceive(packet *transport.Packet, addr net.Addr) error {
	m.mu.Lock()
	handler, ok := m.handlers[packet.PacketType]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no handler registered for packet type %d", packet.PacketType)
	}
	return handler(packet, addr)
}

func (m *MockTransport) GetSentPackets() ([]*transport.Packet, []net.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	packets := make([]*transport.Packet, len(m.sentPackets))
	copy(packets, m.sentPackets)
	addresses := make([]net.Addr, len(m.sentAddresses))
	copy(addresses, m.sentAddresses)
	return packets, addresses
}

func (m *MockTransport) ResetSentPackets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentPackets = nil
	m.sentAddresses = nil
}

func (m *MockTransport) CountSentByType(packetType transport.PacketType) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, p := range m.sentPackets {
		if p.PacketType == packetType {
			count++
		}
	}
	return count
}

// testUDPAddr returns a stable test address on a documentation prefix.
func testUDPAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: port}
}

// testKeyPair derives a deterministic key pair from a seed byte.
func testKeyPair(t *testing.T, fill byte) *crypto.KeyPair {
	t.Helper()

	var seed [32]byte
	for i := range seed {
		seed[i] = fill
	}
	keys, err := crypto.FromSecretKey(seed)
	if err != nil {
		t.Fatalf("FromSecretKey failed: %v", err)
	}
	return keys
}

// testService wires a name service to a mock transport plus a real
// in-process peer directory.
type testService struct {
	service   *Service
	mock      *MockTransport
	directory *dht.DHT
	keys      *crypto.KeyPair
}

func newTestService(t *testing.T, config *Config) *testService {
	t.Helper()

	keys := testKeyPair(t, 0xA1)
	mock := newMockTransport()
	directory := dht.New(keys.PeerID(), mock, nil)
	directory.RegisterHandlers()

	service := NewService(keys, mock, directory, config)
	service.RegisterHandlers()

	return &testService{
		service:   service,
		mock:      mock,
		directory: directory,
		keys:      keys,
	}
}

// addDirectoryPeer inserts a peer so gossip has somewhere to go.
func (ts *testService) addDirectoryPeer(t *testing.T, fill byte, port int) crypto.PeerID {
	t.Helper()

	var id crypto.PeerID
	for i := range id {
		id[i] = fill
	}
	if !ts.directory.AddPeer(id, testUDPAddr(port)) {
		t.Fatalf("failed to add directory peer %x", fill)
	}
	return id
}

// signedRecord builds and signs a registration for the given keys.
func signedRecord(t *testing.T, keys *crypto.KeyPair, name string, at time.Time) *NameRecord {
	t.Helper()

	record := &NameRecord{
		Name:         name,
		Owner:        keys.PeerID(),
		RegisteredAt: at.Truncate(time.Millisecond),
	}
	if err := record.SignWith(keys); err != nil {
		t.Fatalf("SignWith failed: %v", err)
	}
	return record
}

// receiveAnnounce injects an announce packet from addr.
func (ts *testService) receiveAnnounce(t *testing.T, payload *AnnouncePayload, from net.Addr) {
	t.Helper()

	data, err := payload.Serialize()
	if err != nil {
		t.Fatalf("serialize announce: %v", err)
	}
	packet := &transport.Packet{PacketType: transport.PacketNameAnnounce, Data: data}
	if err := ts.mock.SimulateReceive(packet, from); err != nil {
		t.Fatalf("receive announce: %v", err)
	}
}

func (ts *testService) receiveQuery(t *testing.T, payload *QueryPayload, from net.Addr) {
	t.Helper()

	data, err := payload.Serialize()
	if err != nil {
		t.Fatalf("serialize query: %v", err)
	}
	packet := &transport.Packet{PacketType: transport.PacketNameQuery, Data: data}
	if err := ts.mock.SimulateReceive(packet, from); err != nil {
		t.Fatalf("receive query: %v", err)
	}
}

func (ts *testService) receiveResponse(t *testing.T, payload *ResponsePayload, from net.Addr) {
	t.Helper()

	data, err := payload.Serialize()
	if err != nil {
		t.Fatalf("serialize response: %v", err)
	}
	packet := &transport.Packet{PacketType: transport.PacketNameResponse, Data: data}
	if err := ts.mock.SimulateReceive(packet, from); err != nil {
		t.Fatalf("receive response: %v", err)
	}
}

func (ts *testService) receiveRevoke(t *testing.T, payload *RevokePayload, from net.Addr) {
	t.Helper()

	data, err := payload.Serialize()
	if err != nil {
		t.Fatalf("serialize revoke: %v", err)
	}
	packet := &transport.Packet{PacketType: transport.PacketNameRevoke, Data: data}
	if err := ts.mock.SimulateReceive(packet, from); err != nil {
		t.Fatalf("receive revoke: %v", err)
	}
}
