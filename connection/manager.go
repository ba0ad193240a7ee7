package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/dht"
	"github.com/code3hr/cyxnet/transport"
)

const (
	// DefaultMaxPunchAttempts is how many punch rounds run before the
	// manager falls back to a relay.
	DefaultMaxPunchAttempts = 5
	// DefaultPunchInterval is the delay between punch rounds.
	DefaultPunchInterval = 500 * time.Millisecond
	// DefaultBackgroundPunchInterval paces punch rounds while relayed.
	DefaultBackgroundPunchInterval = 5 * time.Second
	// DefaultRelayDrainGrace is how long relayed traffic may keep
	// arriving after a peer migrated to a direct path.
	DefaultRelayDrainGrace = 2 * time.Second
	// DefaultLivenessTimeout demotes a silent established peer.
	DefaultLivenessTimeout = 30 * time.Second
	// DefaultStunRefreshInterval is the public address re-check cadence.
	DefaultStunRefreshInterval = 45 * time.Second

	// maxInboxSize bounds queued inbound events between polls.
	maxInboxSize = 512
)

var (
	// ErrNotInitialized is returned by Connect before public address
	// discovery has completed when no bootstrap or relay is configured
	// either.
	ErrNotInitialized = errors.New("address discovery incomplete and no bootstrap or relay configured")
	// ErrNotConnected is returned when sending to a peer with no
	// established path.
	ErrNotConnected = errors.New("peer is not connected")
	// ErrPeerBlocked is returned for operations against a blocked peer.
	ErrPeerBlocked = errors.New("peer is blocked")
	// ErrNoRelayAvailable is returned when a relay is required but none
	// is configured or reachable.
	ErrNoRelayAvailable = errors.New("no relay server available")
)

// Config collects the connection manager tunables.
type Config struct {
	MaxPunchAttempts        int
	PunchInterval           time.Duration
	BackgroundPunchInterval time.Duration
	RelayDrainGrace         time.Duration
	LivenessTimeout         time.Duration
	StunRefreshInterval     time.Duration
}

// DefaultConfig returns the standard connection manager configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxPunchAttempts:        DefaultMaxPunchAttempts,
		PunchInterval:           DefaultPunchInterval,
		BackgroundPunchInterval: DefaultBackgroundPunchInterval,
		RelayDrainGrace:         DefaultRelayDrainGrace,
		LivenessTimeout:         DefaultLivenessTimeout,
		StunRefreshInterval:     DefaultStunRefreshInterval,
	}
}

// NetworkState is the node's own network identity as the manager
// currently knows it.
type NetworkState struct {
	// PublicAddr is the STUN-discovered public address.
	PublicAddr *net.UDPAddr
	// NATType is the local NAT classification.
	NATType transport.NATType
	// LastStunCheck is when discovery last succeeded; zero means it
	// never has.
	LastStunCheck time.Time
	// BootstrapAddr is the configured bootstrap node, used as a
	// readiness signal when discovery has not completed yet.
	BootstrapAddr net.Addr
}

// AddressDiscoverer resolves the node's public address. Satisfied by
// transport.StunResolver.
type AddressDiscoverer interface {
	Discover(ctx context.Context) (*transport.DiscoveryResult, error)
}

// RelaySession is the relay client surface the manager drives.
// Satisfied by transport.RelayClient.
type RelaySession interface {
	AddRelayServer(server transport.RelayServerInfo)
	GetServerCount() int
	IsConnected() bool
	Connect(ctx context.Context) error
	RelayTo(packet *transport.Packet, target crypto.PeerID) error
}

// StateCallback observes peer state transitions.
type StateCallback func(peer crypto.PeerID, state State)

// AddressChangeCallback observes public address changes.
type AddressChangeCallback func(previous, current *net.UDPAddr)

// DataCallback receives application payloads from established peers.
type DataCallback func(peer crypto.PeerID, payload []byte)

type eventKind uint8

const (
	eventState eventKind = iota
	eventData
	eventAddressChange
)

// pendingEvent is a callback invocation collected under the lock and
// emitted after it is released, always from the polling goroutine.
type pendingEvent struct {
	kind     eventKind
	peer     crypto.PeerID
	state    State
	payload  []byte
	prevAddr *net.UDPAddr
	newAddr  *net.UDPAddr
}

// Manager runs the per-peer connection state machines: candidate
// gathering, paced hole punching, relay fallback and migration,
// IP-change bridging, and liveness. All transitions happen inside
// Poll, Connect, Disconnect, Block or ForceRelay; transport handlers
// only enqueue.
type Manager struct {
	selfID    crypto.PeerID
	transport transport.Transport
	directory *dht.DHT
	puncher   *transport.HolePuncher
	monitor   *transport.NetworkMonitor
	config    Config

	mu      sync.Mutex
	peers   map[crypto.PeerID]*Record
	blocked map[crypto.PeerID]struct{}
	network NetworkState
	inbox   []*inboundPacket
	events  []pendingEvent

	discoverer        AddressDiscoverer
	relay             RelaySession
	stunResults       chan *stunOutcome
	stunInFlight      bool
	nextStunAt        time.Time
	relayDialInFlight bool

	onState         StateCallback
	onAddressChange AddressChangeCallback
	onData          DataCallback
}

// NewManager creates a connection manager for the local identity. The
// directory supplies last-known peer addresses for punching; a nil
// config uses defaults. The STUN discoverer and relay client are wired
// separately by the embedding node.
func NewManager(selfID crypto.PeerID, trans transport.Transport, directory *dht.DHT, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxPunchAttempts <= 0 {
		config.MaxPunchAttempts = DefaultMaxPunchAttempts
	}
	if config.PunchInterval <= 0 {
		config.PunchInterval = DefaultPunchInterval
	}
	if config.BackgroundPunchInterval <= 0 {
		config.BackgroundPunchInterval = DefaultBackgroundPunchInterval
	}
	if config.RelayDrainGrace <= 0 {
		config.RelayDrainGrace = DefaultRelayDrainGrace
	}
	if config.LivenessTimeout <= 0 {
		config.LivenessTimeout = DefaultLivenessTimeout
	}
	if config.StunRefreshInterval <= 0 {
		config.StunRefreshInterval = DefaultStunRefreshInterval
	}

	return &Manager{
		selfID:      selfID,
		transport:   trans,
		directory:   directory,
		puncher:     transport.NewHolePuncher(trans, selfID),
		monitor:     transport.NewNetworkMonitor(),
		config:      *config,
		peers:       make(map[crypto.PeerID]*Record),
		blocked:     make(map[crypto.PeerID]struct{}),
		stunResults: make(chan *stunOutcome, 1),
	}
}

// SetDiscoverer wires the public address discoverer. Without one the
// manager never learns its public address and relies on a configured
// bootstrap or relay for readiness.
func (m *Manager) SetDiscoverer(discoverer AddressDiscoverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverer = discoverer
}

// SetRelayClient wires the relay session used for fallback paths.
func (m *Manager) SetRelayClient(relay RelaySession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relay = relay
}

// SetBootstrapAddr records the bootstrap node address. Its presence
// lets Connect proceed before the first discovery completes.
func (m *Manager) SetBootstrapAddr(addr net.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.network.BootstrapAddr = addr
}

// SetStateCallback registers the peer state observer. Callbacks run
// from the polling goroutine, never from transport read loops.
func (m *Manager) SetStateCallback(callback StateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = callback
}

// SetAddressChangeCallback registers the public address observer.
func (m *Manager) SetAddressChangeCallback(callback AddressChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAddressChange = callback
}

// SetDataCallback registers the receiver for peer application data.
func (m *Manager) SetDataCallback(callback DataCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onData = callback
}

// Connect starts establishing a session with the peer. It is
// idempotent while a session exists. Before the node's own public
// address is known the peer waits in Discovering; without any
// discovery, bootstrap or relay configured, Connect fails with
// ErrNotInitialized.
func (m *Manager) Connect(peer crypto.PeerID, hint net.Addr, now time.Time) error {
	m.mu.Lock()

	if _, blocked := m.blocked[peer]; blocked {
		m.mu.Unlock()
		return ErrPeerBlocked
	}

	record := m.peers[peer]
	if record != nil && record.State.Established() {
		m.mu.Unlock()
		return nil
	}
	if !m.readyLocked() {
		m.mu.Unlock()
		return ErrNotInitialized
	}

	if record == nil {
		record = &Record{Peer: peer}
		m.peers[peer] = record
	}
	if hint != nil {
		record.hint = hint
	}
	record.LastSeenAt = now

	if m.discoveryCompleteLocked() {
		m.toConnectingLocked(record, now)
	} else if record.State != StateDiscovering {
		record.State = StateDiscovering
		m.emitStateLocked(record)
		// Pull the first discovery forward so the gate opens soon.
		m.nextStunAt = now
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"peer":     peer.String()[:16],
		"state":    record.State.String(),
	}).Info("Connection requested")

	m.mu.Unlock()
	m.flush()
	return nil
}

// Disconnect tears down any session with the peer. It always succeeds
// and is idempotent on unknown peers.
func (m *Manager) Disconnect(peer crypto.PeerID) {
	m.mu.Lock()

	record := m.peers[peer]
	if record == nil || record.State == StateDisconnected {
		m.mu.Unlock()
		return
	}

	record.State = StateDisconnected
	record.Relayed = false
	record.clearPunchState()
	record.drainingUntil = time.Time{}
	m.emitStateLocked(record)

	logrus.WithFields(logrus.Fields{
		"function": "Disconnect",
		"peer":     peer.String()[:16],
	}).Info("Disconnected peer")

	m.mu.Unlock()
	m.flush()
}

// Send forwards application bytes to the peer over whichever path is
// active; the caller never learns which. It fails with ErrNotConnected
// unless the peer is Connected or Relaying.
func (m *Manager) Send(peer crypto.PeerID, payload []byte) error {
	m.mu.Lock()
	if _, blocked := m.blocked[peer]; blocked {
		m.mu.Unlock()
		return ErrPeerBlocked
	}

	record := m.peers[peer]
	if record == nil || !record.State.Established() {
		m.mu.Unlock()
		return ErrNotConnected
	}
	state := record.State
	addr := record.PublicAddr
	relay := m.relay
	m.mu.Unlock()

	data := &DataPayload{Sender: m.selfID, Payload: payload}
	packet := &transport.Packet{PacketType: transport.PacketData, Data: data.Serialize()}

	if state == StateRelaying {
		if relay == nil {
			return ErrNoRelayAvailable
		}
		return relay.RelayTo(packet, peer)
	}
	return m.transport.Send(packet, addr)
}

// GetState returns the peer's connection state; unknown peers are
// Disconnected.
func (m *Manager) GetState(peer crypto.PeerID) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := m.peers[peer]
	if record == nil {
		return StateDisconnected
	}
	return record.State
}

// IsRelayed reports whether the peer's traffic goes through a relay.
func (m *Manager) IsRelayed(peer crypto.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := m.peers[peer]
	return record != nil && record.Relayed
}

// PeerRecord returns a copy of the peer's connection record.
func (m *Manager) PeerRecord(peer crypto.PeerID) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := m.peers[peer]
	if record == nil {
		return Record{}, false
	}
	return *record, true
}

// Network returns a copy of the node's current network state.
func (m *Manager) Network() NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.network
	if state.PublicAddr != nil {
		addr := *state.PublicAddr
		state.PublicAddr = &addr
	}
	return state
}

// PublicAddress returns the discovered public address, or nil before
// the first discovery completes.
func (m *Manager) PublicAddress() *net.UDPAddr {
	return m.Network().PublicAddr
}

// Block cuts the peer off: any active session ends, data-plane calls
// fail with ErrPeerBlocked, and inbound traffic from it is dropped.
func (m *Manager) Block(peer crypto.PeerID) {
	m.mu.Lock()
	m.blocked[peer] = struct{}{}

	if record := m.peers[peer]; record != nil && record.State != StateDisconnected {
		record.State = StateDisconnected
		record.Relayed = false
		record.clearPunchState()
		m.emitStateLocked(record)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Block",
		"peer":     peer.String()[:16],
	}).Info("Blocked peer")

	m.mu.Unlock()
	m.flush()
}

// Unblock lifts a block. The peer must be reconnected explicitly.
func (m *Manager) Unblock(peer crypto.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, peer)
}

// IsBlocked reports whether the peer is blocked.
func (m *Manager) IsBlocked(peer crypto.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, blocked := m.blocked[peer]
	return blocked
}

// AddRelay adds a relay server and dials it in the background when no
// relay connection exists yet.
func (m *Manager) AddRelay(address string, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.relay == nil {
		return ErrNoRelayAvailable
	}
	m.relay.AddRelayServer(transport.RelayServerInfo{
		Address:  address,
		Port:     port,
		Priority: m.relay.GetServerCount(),
	})
	m.ensureRelayDialLocked()
	return nil
}

// ForceRelay pins the peer to the relay path: an active direct session
// migrates and future connects skip hole punching.
func (m *Manager) ForceRelay(peer crypto.PeerID, now time.Time) error {
	m.mu.Lock()

	if m.relay == nil || m.relay.GetServerCount() == 0 {
		m.mu.Unlock()
		return ErrNoRelayAvailable
	}

	record := m.peers[peer]
	if record == nil {
		record = &Record{Peer: peer}
		m.peers[peer] = record
	}
	record.forceRelay = true

	if (record.State == StateConnected || record.State == StateConnecting) && m.relayReadyLocked() {
		m.toRelayingLocked(record, now)
	} else {
		m.ensureRelayDialLocked()
	}

	m.mu.Unlock()
	m.flush()
	return nil
}

// Touch refreshes the peer's liveness clock. The embedding node calls
// it when control-plane traffic from the peer arrives outside the
// manager's own packet types. Safe from any goroutine; it never
// transitions state.
func (m *Manager) Touch(peer crypto.PeerID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record := m.peers[peer]; record != nil {
		record.LastSeenAt = now
	}
}

// readyLocked reports whether Connect may proceed: the public address
// is known, or a bootstrap or relay exists to lean on meanwhile.
func (m *Manager) readyLocked() bool {
	if m.discoveryCompleteLocked() {
		return true
	}
	if m.network.BootstrapAddr != nil {
		return true
	}
	return m.relay != nil && m.relay.GetServerCount() > 0
}

func (m *Manager) discoveryCompleteLocked() bool {
	return !m.network.LastStunCheck.IsZero()
}

func (m *Manager) relayReadyLocked() bool {
	return m.relay != nil && m.relay.IsConnected()
}

// ensureRelayDialLocked starts one background relay dial when servers
// are configured but no connection exists.
func (m *Manager) ensureRelayDialLocked() {
	if m.relay == nil || m.relay.IsConnected() || m.relayDialInFlight {
		return
	}
	if m.relay.GetServerCount() == 0 {
		return
	}
	m.relayDialInFlight = true

	relay := m.relay
	go func() {
		err := relay.Connect(context.Background())
		m.mu.Lock()
		m.relayDialInFlight = false
		m.mu.Unlock()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ensureRelayDial",
				"error":    err.Error(),
			}).Warn("Relay connection failed")
		}
	}()
}

// toConnectingLocked starts (or restarts) hole punching for the peer.
func (m *Manager) toConnectingLocked(record *Record, now time.Time) {
	record.State = StateConnecting
	record.Relayed = false
	record.candidates = m.candidateAddrsLocked(record)
	record.resetPunchState(now)
	record.LastSeenAt = now
	m.emitStateLocked(record)
}

// toConnectedLocked confirms a direct path at addr.
func (m *Manager) toConnectedLocked(record *Record, addr net.Addr, now time.Time) {
	record.State = StateConnected
	record.Relayed = false
	record.PublicAddr = addr
	record.LastSeenAt = now
	record.clearPunchState()
	m.emitStateLocked(record)

	logrus.WithFields(logrus.Fields{
		"function": "toConnected",
		"peer":     record.Peer.String()[:16],
		"addr":     addr.String(),
	}).Info("Direct path established")
}

// toRelayingLocked moves the peer onto the relay path and schedules
// background punching.
func (m *Manager) toRelayingLocked(record *Record, now time.Time) {
	record.State = StateRelaying
	record.Relayed = true
	record.LastSeenAt = now
	record.bridging = false
	record.punchAttempts = 0
	record.nextPunchAt = now.Add(m.config.BackgroundPunchInterval)
	m.emitStateLocked(record)

	logrus.WithFields(logrus.Fields{
		"function": "toRelaying",
		"peer":     record.Peer.String()[:16],
	}).Info("Falling back to relay path")
}

// candidateAddrsLocked gathers punch targets in priority order: the
// caller's hint, the last confirmed address, then the directory's
// last-known address. Punching the peer's public address also covers
// peers behind the same NAT when the router hairpins.
func (m *Manager) candidateAddrsLocked(record *Record) []net.Addr {
	var candidates []net.Addr
	seen := make(map[string]struct{})

	add := func(addr net.Addr) {
		if addr == nil {
			return
		}
		key := addr.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, addr)
	}

	add(record.hint)
	add(record.PublicAddr)
	if m.directory != nil {
		if node := m.directory.GetPeer(record.Peer); node != nil {
			add(node.Address)
		}
	}
	return candidates
}

// emitStateLocked queues the peer's current state for callback
// delivery after the lock is released.
func (m *Manager) emitStateLocked(record *Record) {
	if m.onState == nil {
		return
	}
	m.events = append(m.events, pendingEvent{
		kind:  eventState,
		peer:  record.Peer,
		state: record.State,
	})
}

// flush delivers queued events outside the lock, in order.
func (m *Manager) flush() {
	m.mu.Lock()
	events := m.events
	m.events = nil
	onState := m.onState
	onData := m.onData
	onAddressChange := m.onAddressChange
	m.mu.Unlock()

	for _, event := range events {
		switch event.kind {
		case eventState:
			if onState != nil {
				onState(event.peer, event.state)
			}
		case eventData:
			if onData != nil {
				onData(event.peer, event.payload)
			}
		case eventAddressChange:
			if onAddressChange != nil {
				onAddressChange(event.prevAddr, event.newAddr)
			}
		}
	}
}
