package connection

import (
	"net"
	"time"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

// State is the connection state of one peer.
type State uint8

const (
	// StateDisconnected means no session exists. Unknown peers report
	// this state.
	StateDisconnected State = iota
	// StateDiscovering means the peer is waiting for the node's own
	// public-address discovery to complete before punching can start.
	StateDiscovering
	// StateConnecting means hole punches are in flight.
	StateConnecting
	// StateConnected means a direct UDP path is confirmed.
	StateConnected
	// StateRelaying means traffic flows through a relay server while
	// background punches keep trying for a direct path.
	StateRelaying
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateDiscovering:
		return "Discovering"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateRelaying:
		return "Relaying"
	default:
		return "Invalid"
	}
}

// Established reports whether the state carries application traffic.
func (s State) Established() bool {
	return s == StateConnected || s == StateRelaying
}

// Record tracks one peer's connection. The exported fields are the
// peer's observable status; the rest is punch and bridge bookkeeping
// owned by the Manager.
type Record struct {
	// Peer is the peer this record belongs to.
	Peer crypto.PeerID
	// State is the current connection state.
	State State
	// NATType is the peer's NAT classification, learned from its punch
	// probes.
	NATType transport.NATType
	// PublicAddr is the confirmed direct address while Connected, or
	// the last confirmed one otherwise.
	PublicAddr net.Addr
	// Relayed reports whether traffic currently flows through a relay.
	Relayed bool
	// LastSeenAt is when the peer was last heard from on any path.
	LastSeenAt time.Time

	hint          net.Addr
	candidates    []net.Addr
	punchAttempts int
	nextPunchAt   time.Time
	bridging      bool
	forceRelay    bool
	drainingUntil time.Time
}

// resetPunchState rearms the punch schedule so the next Poll fires a
// fresh round immediately.
func (r *Record) resetPunchState(now time.Time) {
	r.punchAttempts = 0
	r.nextPunchAt = now
}

// clearPunchState drops all punch bookkeeping after a path is settled.
func (r *Record) clearPunchState() {
	r.punchAttempts = 0
	r.nextPunchAt = time.Time{}
	r.bridging = false
}
