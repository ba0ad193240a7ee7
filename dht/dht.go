package dht

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

// Config collects the tunables of the peer directory.
type Config struct {
	// BucketSize is the k parameter: nodes per bucket and default
	// width of closest-node queries.
	BucketSize int
	// StorageCapacity bounds the records held for the network.
	StorageCapacity int
	// RecordTTL is the lifetime of stored records.
	RecordTTL time.Duration
	// Maintenance sets the upkeep cadence; nil uses defaults.
	Maintenance *MaintenanceConfig
}

// DefaultConfig returns the standard directory configuration.
func DefaultConfig() *Config {
	return &Config{
		BucketSize:      BucketSize,
		StorageCapacity: DefaultStorageCapacity,
		RecordTTL:       DefaultRecordTTL,
		Maintenance:     DefaultMaintenanceConfig(),
	}
}

// DHT is the peer directory: a Kademlia routing table with iterative
// lookups, plus a small record store for signed network records.
type DHT struct {
	selfID     crypto.PeerID
	transport  transport.Transport
	routing    *RoutingTable
	bootstrap  *BootstrapManager
	storage    *Storage
	lookups    *LookupManager
	maintainer *Maintainer
	observer   func(id crypto.PeerID, addr net.Addr)
}

// New creates a peer directory for the local peer. A nil config uses
// defaults. Call RegisterHandlers before polling so directory traffic
// reaches it.
func New(selfID crypto.PeerID, trans transport.Transport, config *Config) *DHT {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BucketSize <= 0 {
		config.BucketSize = BucketSize
	}

	routing := NewRoutingTable(selfID, config.BucketSize)
	bootstrap := NewBootstrapManager(selfID, trans, routing)
	lookups := NewLookupManager(selfID, trans, routing)

	return &DHT{
		selfID:     selfID,
		transport:  trans,
		routing:    routing,
		bootstrap:  bootstrap,
		storage:    NewStorage(config.StorageCapacity, config.RecordTTL),
		lookups:    lookups,
		maintainer: NewMaintainer(routing, bootstrap, lookups, trans, selfID, config.Maintenance),
	}
}

// RegisterHandlers subscribes the directory to its packet types on the
// transport.
func (d *DHT) RegisterHandlers() {
	d.transport.RegisterHandler(transport.PacketGetNodes, d.handleGetNodes)
	d.transport.RegisterHandler(transport.PacketSendNodes, d.handleSendNodes)
	d.transport.RegisterHandler(transport.PacketPingRequest, d.handlePingRequest)
	d.transport.RegisterHandler(transport.PacketPingResponse, d.handlePingResponse)
	d.transport.RegisterHandler(transport.PacketStoreRequest, d.handleStoreRequest)
	d.transport.RegisterHandler(transport.PacketStoreResponse, d.handleStoreResponse)
	d.transport.RegisterHandler(transport.PacketRetrieveRequest, d.handleRetrieveRequest)
	d.transport.RegisterHandler(transport.PacketRetrieveResponse, d.handleRetrieveResponse)
}

// SelfID returns the local peer ID the directory is keyed around.
func (d *DHT) SelfID() crypto.PeerID {
	return d.selfID
}

// SetPeerObserver registers a hook invoked whenever directory traffic
// confirms a live peer. Set it before RegisterHandlers; the hook runs
// on transport goroutines and must be safe for concurrent use.
func (d *DHT) SetPeerObserver(observer func(id crypto.PeerID, addr net.Addr)) {
	d.observer = observer
}

// AddPeer inserts or refreshes a directory entry for the peer at addr.
func (d *DHT) AddPeer(id crypto.PeerID, addr net.Addr) bool {
	return d.routing.AddNode(NewNode(id, addr))
}

// RemovePeer drops the peer's directory entry.
func (d *DHT) RemovePeer(id crypto.PeerID) bool {
	return d.routing.RemoveNode(id)
}

// GetPeer returns the directory entry for the peer, or nil.
func (d *DHT) GetPeer(id crypto.PeerID) *Node {
	return d.routing.FindNode(id)
}

// FindClosest returns up to count known nodes closest to target,
// nearest first.
func (d *DHT) FindClosest(target crypto.PeerID, count int) []*Node {
	return d.routing.FindClosestNodes(target, count)
}

// Lookup starts an iterative lookup for the nodes closest to target
// across the network. The result arrives on the returned lookup's
// Results channel once rounds complete.
func (d *DHT) Lookup(target crypto.PeerID, now time.Time) *Lookup {
	return d.lookups.StartLookup(target, now)
}

// Store keeps the record locally and replicates it to the closest
// known nodes.
func (d *DHT) Store(key [32]byte, value []byte, now time.Time) error {
	if err := d.storage.Put(key, value, d.selfID); err != nil {
		return err
	}

	payload := &StoreRequestPayload{
		Sender: d.selfID,
		Key:    key,
		Value:  value,
	}
	data, err := payload.Serialize()
	if err != nil {
		return err
	}
	packet := &transport.Packet{
		PacketType: transport.PacketStoreRequest,
		Data:       data,
	}

	var keyID crypto.PeerID
	copy(keyID[:], key[:])
	targets := d.routing.FindClosestNodes(keyID, ReplicationFactor)
	for _, node := range targets {
		_ = d.transport.Send(packet, node.Address)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Store",
		"replicas":   len(targets),
		"value_size": len(value),
	}).Debug("Record stored and replicated")

	return nil
}

// Retrieve resolves the value stored under key. A locally held record
// answers immediately; otherwise the closest nodes are queried and the
// result arrives on the returned lookup's Results channel.
func (d *DHT) Retrieve(key [32]byte, now time.Time) *ValueLookup {
	if value, ok := d.storage.Get(key); ok {
		lookup := &ValueLookup{
			Key:      key,
			Results:  make(chan *RetrieveResult, 1),
			finished: true,
		}
		lookup.Results <- &RetrieveResult{
			Key:   key,
			Value: value,
			Found: true,
			From:  d.selfID,
		}
		return lookup
	}
	return d.lookups.StartRetrieve(key, now)
}

// AddSeedNode registers a bootstrap seed.
func (d *DHT) AddSeedNode(addr net.Addr, peerIDHex string) error {
	return d.bootstrap.AddNode(addr, peerIDHex)
}

// Bootstrap joins the network through the configured seeds.
func (d *DHT) Bootstrap(ctx context.Context) error {
	return d.bootstrap.Bootstrap(ctx)
}

// IsReady reports whether the directory has at least one entry not
// known to be dead, which is the minimum to route queries anywhere.
func (d *DHT) IsReady() bool {
	for _, node := range d.routing.GetAllNodes() {
		if node.Status != StatusBad {
			return true
		}
	}
	return false
}

// Poll advances in-flight lookups and runs due maintenance.
func (d *DHT) Poll(now time.Time) {
	d.lookups.Poll(now)
	d.maintainer.Poll(now)
}

// RoutingTable exposes the underlying table.
func (d *DHT) RoutingTable() *RoutingTable {
	return d.routing
}

// Storage exposes the local record store.
func (d *DHT) Storage() *Storage {
	return d.storage
}
