package connection

import (
	"context"
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

// StubDiscoverer returns a canned discovery result and counts probes.
type StubDiscoverer struct {
	mu     sync.Mutex
	result *transport.DiscoveryResult
	err    error
	calls  int
}

func (d *StubDiscoverer) Discover(ctx context.Context) (*transport.DiscoveryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.result == nil && d.err == nil {
		return nil, fmt.Errorf("no discovery result configured")
	}
	return d.result, d.err
}

func (d *StubDiscoverer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// MockRelay records relayed packets and simulates the relay session
// life cycle.
type MockRelay struct {
	mu           sync.Mutex
	servers      []transport.RelayServerInfo
	connected    bool
	connectErr   error
	connectCalls int
	relayed      []*transport.Packet
	targets      []crypto.PeerID
}

func newMockRelay() *MockRelay {
	return &MockRelay{}
}

func (r *MockRelay) AddRelayServer(server transport.RelayServerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = append(r.servers, server)
}

func (r *MockRelay) GetServerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.servers)
}

func (r *MockRelay) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *MockRelay) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectCalls++
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connected = true
	return nil
}

func (r *MockRelay) RelayTo(packet *transport.Packet, target crypto.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.relayed = append(r.relayed, packet)
	r.targets = append(r.targets, target)
	return nil
}

func (r *MockRelay) setConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
}

func (r *MockRelay) ConnectCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectCalls
}

func (r *MockRelay) RelayedPackets() ([]*transport.Packet, []crypto.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packets := make([]*transport.Packet, len(r.relayed))
	copy(packets, r.relayed)
	targets := make([]crypto.PeerID, len(r.targets))
	copy(targets, r.targets)
	return packets, targets
}

// stateRecorder collects state transitions. Callbacks fire on the
// polling goroutine, so no locking is needed in sequential tests.
type stateRecorder struct {
	peers  []crypto.PeerID
	states []State
}

func (r *stateRecorder) callback() StateCallback {
	return func(peer crypto.PeerID, state State) {
		r.peers = append(r.peers, peer)
		r.states = append(r.states, state)
	}
}

func (r *stateRecorder) statesFor(peer crypto.PeerID) []State {
	var states []State
	for i, p := range r.peers {
		if p == peer {
			states = append(states, r.states[i])
		}
	}
	return states
}

func (r *stateRecorder) sawState(peer crypto.PeerID, state State) bool {
	for _, s := range r.statesFor(peer) {
		if s == state {
			return true
		}
	}
	return false
}

// testManager wires a manager to a mock transport, a real in-process
// directory, a mock relay and a recorder for transitions.
type testManager struct {
	manager   *Manager
	mock      *MockTransport
	directory *dht.DHT
	relay     *MockRelay
	recorder  *stateRecorder
	selfID    crypto.PeerID
}

func newTestManager(t *testing.T, config *Config) *testManager {
	t.Helper()

	keys, err := crypto.FromSecretKey(seedOf(0xC7))
	if err != nil {
		t.Fatalf("FromSecretKey failed: %v", err)
	}
	mock := newMockTransport()
	directory := dht.New(keys.PeerID(), mock, nil)

	manager := NewManager(keys.PeerID(), mock, directory, config)
	manager.RegisterHandlers()

	recorder := &stateRecorder{}
	manager.SetStateCallback(recorder.callback())

	relay := newMockRelay()
	manager.SetRelayClient(relay)

	return &testManager{
		manager:   manager,
		mock:      mock,
		directory: directory,
		relay:     relay,
		recorder:  recorder,
		selfID:    keys.PeerID(),
	}
}

func seedOf(fill byte) [32]byte {
	var seed [32]byte
	for i := range seed {
		seed[i] = fill
	}
	return seed
}

// testPeerID builds a deterministic peer identifier.
func testPeerID(fill byte) crypto.PeerID {
	var id crypto.PeerID
	for i := range id {
		id[i] = fill
	}
	return id
}

// testUDPAddr returns a stable test address on a documentation prefix.
func testUDPAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: port}
}

func connTestTime() time.Time {
	return time.Date(2026, 7, 8, 9, 10, 11, 0, time.UTC)
}

// deliverStun injects a finished discovery outcome for the next Poll,
// bypassing the background probe goroutine so tests stay
// deterministic.
func (tm *testManager) deliverStun(addr *net.UDPAddr, natType transport.NATType) {
	tm.manager.stunResults <- &stunOutcome{
		result: &transport.DiscoveryResult{PublicAddr: addr, NATType: natType},
	}
}

// discoverAt completes discovery with a default public address.
func (tm *testManager) discoverAt(now time.Time) {
	tm.deliverStun(&net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 40000}, transport.NATTypeCone)
	tm.manager.Poll(now)
}

// connectPeer runs Connect plus the Poll that fires the first punch
// round.
func (tm *testManager) connectPeer(t *testing.T, peer crypto.PeerID, hint net.Addr, now time.Time) {
	t.Helper()

	if err := tm.manager.Connect(peer, hint, now); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tm.manager.Poll(now)
}

// establishDirect walks a peer to Connected via a punch exchange.
func (tm *testManager) establishDirect(t *testing.T, peer crypto.PeerID, addr *net.UDPAddr, now time.Time) {
	t.Helper()

	tm.connectPeer(t, peer, addr, now)
	tm.receivePunchResponse(t, peer, transport.NATTypeCone, addr)
	tm.manager.Poll(now)
	if state := tm.manager.GetState(peer); state != StateConnected {
		t.Fatalf("expected Connected after punch exchange, got %v", state)
	}
}

func (tm *testManager) receivePunchRequest(t *testing.T, sender crypto.PeerID, natType transport.NATType, from net.Addr) {
	t.Helper()

	payload := &transport.PunchPayload{Sender: sender, NATType: natType}
	packet := &transport.Packet{PacketType: transport.PacketPunchRequest, Data: payload.Serialize()}
	if err := tm.mock.SimulateReceive(packet, from); err != nil {
		t.Fatalf("receive punch request: %v", err)
	}
}

func (tm *testManager) receivePunchResponse(t *testing.T, sender crypto.PeerID, natType transport.NATType, from net.Addr) {
	t.Helper()

	payload := &transport.PunchPayload{Sender: sender, NATType: natType}
	packet := &transport.Packet{PacketType: transport.PacketPunchResponse, Data: payload.Serialize()}
	if err := tm.mock.SimulateReceive(packet, from); err != nil {
		t.Fatalf("receive punch response: %v", err)
	}
}

func (tm *testManager) receiveData(t *testing.T, sender crypto.PeerID, payload []byte, from net.Addr) {
	t.Helper()

	data := &DataPayload{Sender: sender, Payload: payload}
	packet := &transport.Packet{PacketType: transport.PacketData, Data: data.Serialize()}
	if err := tm.mock.SimulateReceive(packet, from); err != nil {
		t.Fatalf("receive data: %v", err)
	}
}
