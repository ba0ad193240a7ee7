package cyxnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/connection"
	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/dht"
	"github.com/code3hr/cyxnet/names"
	"github.com/code3hr/cyxnet/transport"
)

// PeerID is the node identity: an Ed25519 public key.
type PeerID = crypto.PeerID

// PeerState is a peer's connection state as reported by callbacks and
// GetConnectionState.
type PeerState = connection.State

// Node is a running network node: one identity on one UDP socket, with
// the peer directory, the name service and the connection manager
// wired together behind a single iteration loop.
type Node struct {
	options *Options
	keys    *crypto.KeyPair
	clock   crypto.TimeProvider

	udpTransport *transport.UDPTransport
	stunResolver *transport.StunResolver
	relayClient  *transport.RelayClient

	directory   *dht.DHT
	names       *names.Service
	connections *connection.Manager

	mu            sync.Mutex
	running       bool
	iterationTime time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Node with the given options. A nil options uses
// defaults. The node binds the first free UDP port in the configured
// range, registers every packet handler, and is ready to Iterate.
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}

	keys, err := deriveIdentity(options)
	if err != nil {
		return nil, err
	}
	udp, err := bindTransport(options)
	if err != nil {
		return nil, err
	}

	directory := dht.New(keys.PeerID(), udp, nil)
	nameService := names.NewService(keys, udp, directory, options.namesConfig())
	manager := connection.NewManager(keys.PeerID(), udp, directory, options.connectionConfig())

	stun := transport.NewStunResolver(options.STUNServers)
	relay := transport.NewRelayClient(keys.PeerID())
	manager.SetDiscoverer(stun)
	manager.SetRelayClient(relay)
	relay.SetDataHandler(manager.HandleRelayedPacket)

	clock := crypto.GetDefaultTimeProvider()

	// Directory traffic doubles as a peer sighting: it feeds the
	// crypto-name index and refreshes connection liveness.
	directory.SetPeerObserver(func(id crypto.PeerID, addr net.Addr) {
		nameService.IndexPeer(id)
		manager.Touch(id, clock.Now())
	})

	directory.RegisterHandlers()
	nameService.RegisterHandlers()
	manager.RegisterHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	node := &Node{
		options:       options,
		keys:          keys,
		clock:         clock,
		udpTransport:  udp,
		stunResolver:  stun,
		relayClient:   relay,
		directory:     directory,
		names:         nameService,
		connections:   manager,
		running:       true,
		iterationTime: 50 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := node.seedFromOptions(); err != nil {
		cancel()
		udp.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"self":     keys.PeerID().String()[:16],
		"addr":     udp.LocalAddr().String(),
	}).Info("Node created")

	return node, nil
}

// deriveIdentity loads the configured seed or generates a fresh key
// pair.
func deriveIdentity(options *Options) (*crypto.KeyPair, error) {
	if len(options.SecretKey) == 0 {
		return crypto.GenerateKeyPair()
	}
	if len(options.SecretKey) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(options.SecretKey))
	}
	var seed [32]byte
	copy(seed[:], options.SecretKey)
	return crypto.FromSecretKey(seed)
}

// bindTransport binds the first free UDP port in the options range.
func bindTransport(options *Options) (*transport.UDPTransport, error) {
	if !options.UDPEnabled {
		return nil, errors.New("the UDP transport is required")
	}

	start := int(options.StartPort)
	end := int(options.EndPort)
	if end < start {
		end = start
	}
	for port := start; port <= end; port++ {
		addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
		udp, err := transport.NewUDPTransport(addr)
		if err == nil {
			return udp, nil
		}
	}
	return nil, fmt.Errorf("failed to bind any UDP port in %d-%d", start, end)
}

// seedFromOptions applies the configured bootstrap and relay lists.
func (n *Node) seedFromOptions() error {
	for i, seed := range n.options.BootstrapNodes {
		addr, err := resolveUDP(seed.Address, seed.Port)
		if err != nil {
			return fmt.Errorf("bootstrap node %s: %w", seed.Address, err)
		}
		if err := n.directory.AddSeedNode(addr, seed.PeerID); err != nil {
			return fmt.Errorf("bootstrap node %s: %w", seed.Address, err)
		}
		if i == 0 {
			n.connections.SetBootstrapAddr(addr)
		}
	}
	for _, relay := range n.options.RelayServers {
		if err := n.connections.AddRelay(relay.Address, relay.Port); err != nil {
			return fmt.Errorf("relay server %s: %w", relay.Address, err)
		}
	}
	return nil
}

func resolveUDP(address string, port uint16) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(int(port))))
}

// Iterate performs a single pass of the node's event loop: it advances
// connections, directory maintenance and name gossip with one shared
// clock reading. All registered callbacks fire from inside this call.
func (n *Node) Iterate() {
	if !n.IsRunning() {
		return
	}
	now := n.clock.Now()
	n.connections.Poll(now)
	n.directory.Poll(now)
	n.names.Poll(now)
}

// IterationInterval returns the recommended delay between Iterate
// calls.
func (n *Node) IterationInterval() time.Duration {
	return n.iterationTime
}

// IsRunning reports whether the node has not been killed.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Kill stops the node and releases the socket and relay connections.
// It is safe to call more than once.
func (n *Node) Kill() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	n.cancel()
	if n.relayClient != nil {
		n.relayClient.Close()
	}
	if n.udpTransport != nil {
		n.udpTransport.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Kill",
		"self":     n.keys.PeerID().String()[:16],
	}).Info("Node stopped")
}

// SelfID returns the node's identity.
func (n *Node) SelfID() crypto.PeerID {
	return n.keys.PeerID()
}

// SelfSecretKey returns the identity seed, for persisting across
// restarts via Options.SecretKey.
func (n *Node) SelfSecretKey() [32]byte {
	return n.keys.Seed()
}

// LocalAddr returns the bound UDP address.
func (n *Node) LocalAddr() net.Addr {
	return n.udpTransport.LocalAddr()
}

// Bootstrap adds a seed node to the directory and joins the network
// through it, bounded by the options' bootstrap timeout.
func (n *Node) Bootstrap(address string, port uint16, peerIDHex string) error {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return fmt.Errorf("resolve bootstrap address: %w", err)
	}
	if err := n.directory.AddSeedNode(addr, peerIDHex); err != nil {
		return err
	}
	n.connections.SetBootstrapAddr(addr)

	ctx, cancel := context.WithTimeout(n.ctx, n.options.BootstrapTimeout)
	defer cancel()
	return n.directory.Bootstrap(ctx)
}

// Connect starts establishing a direct or relayed session with the
// peer. The optional address hint ("ip:port") seeds hole punching when
// the directory has no entry yet.
func (n *Node) Connect(peer crypto.PeerID, addressHint string) error {
	var hint net.Addr
	if addressHint != "" {
		addr, err := net.ResolveUDPAddr("udp", addressHint)
		if err != nil {
			return fmt.Errorf("resolve address hint: %w", err)
		}
		hint = addr
	}
	return n.connections.Connect(peer, hint, n.clock.Now())
}

// Disconnect tears down any session with the peer.
func (n *Node) Disconnect(peer crypto.PeerID) {
	n.connections.Disconnect(peer)
}

// Send delivers application bytes to a connected peer over whichever
// path is active.
func (n *Node) Send(peer crypto.PeerID, data []byte) error {
	return n.connections.Send(peer, data)
}

// GetConnectionState returns the peer's connection state.
func (n *Node) GetConnectionState(peer crypto.PeerID) PeerState {
	return n.connections.GetState(peer)
}

// IsRelayed reports whether the peer's traffic goes through a relay.
func (n *Node) IsRelayed(peer crypto.PeerID) bool {
	return n.connections.IsRelayed(peer)
}

// GetPublicAddress returns the STUN-discovered public address, or nil
// before the first discovery completes.
func (n *Node) GetPublicAddress() *net.UDPAddr {
	return n.connections.PublicAddress()
}

// AddRelay registers a relay server for fallback paths.
func (n *Node) AddRelay(address string, port uint16) error {
	return n.connections.AddRelay(address, port)
}

// ForceRelay pins the peer's traffic to the relay path.
func (n *Node) ForceRelay(peer crypto.PeerID) error {
	return n.connections.ForceRelay(peer, n.clock.Now())
}

// Block cuts the peer off from all data-plane traffic.
func (n *Node) Block(peer crypto.PeerID) {
	n.connections.Block(peer)
}

// Unblock lifts a block.
func (n *Node) Unblock(peer crypto.PeerID) {
	n.connections.Unblock(peer)
}

// IsBlocked reports whether the peer is blocked.
func (n *Node) IsBlocked(peer crypto.PeerID) bool {
	return n.connections.IsBlocked(peer)
}

// OnPeerState registers the observer for peer connection state
// changes. It runs from Iterate, never from network goroutines.
func (n *Node) OnPeerState(callback func(peer crypto.PeerID, state PeerState)) {
	n.connections.SetStateCallback(connection.StateCallback(callback))
}

// OnPublicAddressChange registers the observer for changes of the
// node's own public address.
func (n *Node) OnPublicAddressChange(callback func(previous, current *net.UDPAddr)) {
	n.connections.SetAddressChangeCallback(connection.AddressChangeCallback(callback))
}

// OnPeerData registers the receiver for application payloads from
// connected peers.
func (n *Node) OnPeerData(callback func(peer crypto.PeerID, payload []byte)) {
	n.connections.SetDataCallback(connection.DataCallback(callback))
}

// AddNode inserts a peer into the directory by address.
func (n *Node) AddNode(id crypto.PeerID, address string, port uint16) error {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return fmt.Errorf("resolve node address: %w", err)
	}
	n.directory.AddPeer(id, addr)
	return nil
}

// FindNode returns the directory entry for the peer, or nil.
func (n *Node) FindNode(id crypto.PeerID) *dht.Node {
	return n.directory.GetPeer(id)
}

// GetClosest returns the directory's closest known peers to target.
func (n *Node) GetClosest(target crypto.PeerID, count int) []*dht.Node {
	return n.directory.FindClosest(target, count)
}

// DHTReady reports whether the directory has joined the network.
func (n *Node) DHTReady() bool {
	return n.directory.IsReady()
}

// StoreRecord writes a value under key to the directory: locally and
// on the closest known peers.
func (n *Node) StoreRecord(key [32]byte, value []byte) error {
	return n.directory.Store(key, value, n.clock.Now())
}

// RetrieveRecord starts a directory value lookup; the result arrives
// on the returned lookup's channel as later iterations drain it.
func (n *Node) RetrieveRecord(key [32]byte) *dht.ValueLookup {
	return n.directory.Retrieve(key, n.clock.Now())
}

// RegisterName claims a human-readable name for this node and
// announces it.
func (n *Node) RegisterName(name string) error {
	return n.names.Register(name, n.clock.Now())
}

// RefreshName re-announces the node's registered name.
func (n *Node) RefreshName() error {
	return n.names.Refresh(n.clock.Now())
}

// UnregisterName releases the node's registered name.
func (n *Node) UnregisterName() error {
	return n.names.Unregister(n.clock.Now())
}

// OwnName returns the name this node has registered, if any.
func (n *Node) OwnName() string {
	return n.names.OwnName()
}

// LookupName resolves a name to its owner, consulting the local cache,
// the gossip network and the directory. The result arrives on the
// returned lookup's channel as later iterations drain it.
func (n *Node) LookupName(name string) (*names.NameLookup, error) {
	return n.names.Lookup(name, n.clock.Now())
}

// ResolveName answers a name from the local cache only.
func (n *Node) ResolveName(name string) (*names.NameRecord, error) {
	return n.names.Resolve(name, n.clock.Now())
}

// IsNameCached reports whether the name resolves locally right now.
func (n *Node) IsNameCached(name string) bool {
	return n.names.IsCached(name, n.clock.Now())
}

// InvalidateName drops the cached record for a name.
func (n *Node) InvalidateName(name string) bool {
	return n.names.Invalidate(name)
}

// SetPetname assigns a local-only display name to the peer; an empty
// name clears it.
func (n *Node) SetPetname(peer crypto.PeerID, name string) {
	n.names.SetPetname(peer, name)
}

// GetPetname returns the peer's local display name.
func (n *Node) GetPetname(peer crypto.PeerID) (string, bool) {
	return n.names.GetPetname(peer)
}

// DisplayName returns the best available name for the peer: petname,
// then globally registered name, then crypto-name.
func (n *Node) DisplayName(peer crypto.PeerID) string {
	return n.names.DisplayName(peer)
}

// CryptoName returns this node's derived crypto-name.
func (n *Node) CryptoName() string {
	return names.CryptoNameOf(n.keys.PeerID())
}

// IsCryptoName reports whether the name has crypto-name shape.
func IsCryptoName(name string) bool {
	return names.IsCryptoName(name)
}

// ValidateName reports whether the name is acceptable for
// registration.
func ValidateName(name string) bool {
	return names.Validate(name)
}

// NormalizeName canonicalizes a name the way registration and lookup
// do.
func NormalizeName(name string) (string, error) {
	return names.Normalize(name)
}
