package dht

import (
	"net"
	"strconv"
	"time"

	"github.com/code3hr/cyxnet/crypto"
)

// NodeStatus represents the liveness assessment of a node.
type NodeStatus uint8

const (
	StatusUnknown NodeStatus = iota
	StatusBad
	StatusGood
)

// PingStats tracks ping bookkeeping for a node.
type PingStats struct {
	LastPingSent     time.Time
	LastPingReceived time.Time
	PingCount        uint32
	SuccessCount     uint32
	FailureCount     uint32
}

// Node is one entry in the peer directory: a peer ID and where that
// peer was last reachable.
type Node struct {
	ID        crypto.PeerID
	Address   net.Addr
	LastSeen  time.Time
	Status    NodeStatus
	PingStats PingStats
}

// NewNode creates a directory entry for the given peer at addr.
func NewNode(id crypto.PeerID, addr net.Addr) *Node {
	return &Node{
		ID:       id,
		Address:  addr,
		LastSeen: crypto.GetDefaultTimeProvider().Now(),
		Status:   StatusUnknown,
	}
}

// Distance returns the XOR distance between this node and another.
func (n *Node) Distance(other *Node) [crypto.PeerIDSize]byte {
	return n.ID.XOR(other.ID)
}

// IsActive checks if the node has been seen within the timeout period.
func (n *Node) IsActive(timeout time.Duration) bool {
	return crypto.GetDefaultTimeProvider().Since(n.LastSeen) < timeout
}

// Update marks the node as recently seen with the given status.
func (n *Node) Update(status NodeStatus) {
	n.LastSeen = crypto.GetDefaultTimeProvider().Now()
	n.Status = status
}

// IPPort splits the node address into host and port. Addresses that do
// not carry a port, such as relayed addresses, return port 0.
func (n *Node) IPPort() (string, uint16) {
	host, portStr, err := net.SplitHostPort(n.Address.String())
	if err != nil {
		return n.Address.String(), 0
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, 0
	}
	return host, uint16(port)
}

// RecordPingSent marks that a ping was sent to this node.
func (n *Node) RecordPingSent() {
	n.PingStats.LastPingSent = crypto.GetDefaultTimeProvider().Now()
	n.PingStats.PingCount++
}

// RecordPingResponse records the outcome of a ping round trip. Nodes
// that fail more than they succeed are marked bad.
func (n *Node) RecordPingResponse(success bool) {
	if success {
		n.PingStats.LastPingReceived = crypto.GetDefaultTimeProvider().Now()
		n.PingStats.SuccessCount++
		n.Update(StatusGood)
		return
	}

	n.PingStats.FailureCount++
	if n.PingStats.FailureCount > n.PingStats.SuccessCount {
		n.Update(StatusBad)
	}
}

// Reliability returns the ping success ratio for this node (0.0-1.0).
func (n *Node) Reliability() float64 {
	if n.PingStats.PingCount == 0 {
		return 0.0
	}
	return float64(n.PingStats.SuccessCount) / float64(n.PingStats.PingCount)
}
