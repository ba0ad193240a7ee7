package dht

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

// MaintenanceConfig holds the cadence of directory upkeep.
type MaintenanceConfig struct {
	// How often to ping nodes that have gone quiet.
	PingInterval time.Duration
	// How often to look up random IDs to keep buckets populated.
	LookupInterval time.Duration
	// How long a node may be silent before being marked bad.
	NodeTimeout time.Duration
	// How long a bad node lingers before removal.
	PruneTimeout time.Duration
}

// DefaultMaintenanceConfig returns the standard upkeep cadence.
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		PingInterval:   1 * time.Minute,
		LookupInterval: 5 * time.Minute,
		NodeTimeout:    10 * time.Minute,
		PruneTimeout:   1 * time.Hour,
	}
}

// Maintainer keeps the routing table fresh: pinging quiet nodes,
// demoting and pruning dead ones, and running refresh lookups. It does
// no background work of its own; Poll runs whatever is due.
type Maintainer struct {
	routingTable *RoutingTable
	bootstrapper *BootstrapManager
	lookups      *LookupManager
	transport    transport.Transport
	selfID       crypto.PeerID
	config       *MaintenanceConfig

	mu           sync.Mutex
	nextPingAt   time.Time
	nextLookupAt time.Time
	nextPruneAt  time.Time
}

// NewMaintainer creates a directory maintainer.
func NewMaintainer(routingTable *RoutingTable, bootstrapper *BootstrapManager,
	lookups *LookupManager, trans transport.Transport, selfID crypto.PeerID,
	config *MaintenanceConfig,
) *Maintainer {
	if config == nil {
		config = DefaultMaintenanceConfig()
	}
	return &Maintainer{
		routingTable: routingTable,
		bootstrapper: bootstrapper,
		lookups:      lookups,
		transport:    trans,
		selfID:       selfID,
		config:       config,
	}
}

// Poll runs every maintenance task whose interval has elapsed.
func (m *Maintainer) Poll(now time.Time) {
	m.mu.Lock()
	pingDue := !now.Before(m.nextPingAt)
	lookupDue := !now.Before(m.nextLookupAt)
	pruneDue := !now.Before(m.nextPruneAt)
	if pingDue {
		m.nextPingAt = now.Add(m.config.PingInterval)
	}
	if lookupDue {
		m.nextLookupAt = now.Add(m.config.LookupInterval)
	}
	if pruneDue {
		m.nextPruneAt = now.Add(m.config.PingInterval)
	}
	m.mu.Unlock()

	if pingDue {
		m.pingQuietNodes()
	}
	if lookupDue {
		m.refreshLookups(now)
	}
	if pruneDue {
		m.pruneDeadNodes(now)
	}
}

// pingQuietNodes pings every node not seen for half the node timeout.
// With an empty table the configured seeds are pinged instead so the
// directory can recover from a full outage.
func (m *Maintainer) pingQuietNodes() {
	var targets []*Node
	for _, node := range m.routingTable.GetAllNodes() {
		if node.IsActive(m.config.NodeTimeout / 2) {
			continue
		}
		targets = append(targets, node)
	}

	payload := &PingPayload{Sender: m.selfID}
	packet := &transport.Packet{
		PacketType: transport.PacketPingRequest,
		Data:       payload.Serialize(),
	}

	for _, node := range targets {
		node.RecordPingSent()
		_ = m.transport.Send(packet, node.Address)
	}

	if m.routingTable.NodeCount() == 0 && m.bootstrapper != nil {
		for _, seed := range m.bootstrapper.GetNodes() {
			_ = m.transport.Send(packet, seed.Address)
		}
	}
}

// refreshLookups keeps buckets populated: one lookup toward our own ID
// and one toward a random ID.
func (m *Maintainer) refreshLookups(now time.Time) {
	if m.routingTable.NodeCount() == 0 {
		return
	}

	m.lookups.StartLookup(m.selfID, now)

	var randomID crypto.PeerID
	if _, err := rand.Read(randomID[:]); err == nil {
		m.lookups.StartLookup(randomID, now)
	}
}

// pruneDeadNodes demotes silent nodes to bad and removes nodes that
// stayed bad past the prune timeout.
func (m *Maintainer) pruneDeadNodes(now time.Time) {
	for _, node := range m.routingTable.GetAllNodes() {
		if now.Sub(node.LastSeen) > m.config.NodeTimeout && node.Status == StatusGood {
			node.Status = StatusBad
		}
		if node.Status == StatusBad && now.Sub(node.LastSeen) > m.config.PruneTimeout {
			m.routingTable.RemoveNode(node.ID)
		}
	}
}
