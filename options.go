package cyxnet

import (
	"time"

	"github.com/code3hr/cyxnet/connection"
	"github.com/code3hr/cyxnet/names"
	"github.com/code3hr/cyxnet/transport"
)

// BootstrapNode identifies a well-known directory entry point.
type BootstrapNode struct {
	Address string
	Port    uint16
	// PeerID is the node's identity in hex.
	PeerID string
}

// RelayServer identifies a relay the node may fall back to when hole
// punching fails.
type RelayServer struct {
	Address string
	Port    uint16
}

// Options contains configuration for creating a Node.
type Options struct {
	// UDPEnabled turns the UDP transport on. The node cannot start
	// without it.
	UDPEnabled bool
	// StartPort and EndPort bound the local bind range; the first free
	// port wins.
	StartPort uint16
	EndPort   uint16

	// STUNServers are queried for the public address; empty uses the
	// built-in list.
	STUNServers []string
	// StunRefreshInterval paces public address re-checks.
	StunRefreshInterval time.Duration

	// BootstrapNodes seed the peer directory.
	BootstrapNodes []BootstrapNode
	// BootstrapTimeout bounds one Bootstrap call.
	BootstrapTimeout time.Duration
	// RelayServers are added to the relay client at startup.
	RelayServers []RelayServer

	// LivenessTimeout demotes an established peer after silence.
	LivenessTimeout time.Duration
	// MaxPunchAttempts is the punch budget before relay fallback.
	MaxPunchAttempts int

	// GossipFanout is the per-broadcast peer count of the name service.
	GossipFanout int
	// LookupTimeout bounds a network name lookup.
	LookupTimeout time.Duration

	// SecretKey is a 32-byte identity seed for reuse across restarts;
	// empty generates a fresh identity.
	SecretKey []byte
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	servers := make([]string, len(transport.DefaultStunServers))
	copy(servers, transport.DefaultStunServers)

	return &Options{
		UDPEnabled:          true,
		StartPort:           33445,
		EndPort:             33545,
		STUNServers:         servers,
		StunRefreshInterval: connection.DefaultStunRefreshInterval,
		BootstrapTimeout:    5 * time.Second,
		LivenessTimeout:     connection.DefaultLivenessTimeout,
		MaxPunchAttempts:    connection.DefaultMaxPunchAttempts,
		GossipFanout:        names.DefaultGossipFanout,
		LookupTimeout:       names.DefaultLookupTimeout,
	}
}

// connectionConfig translates the option knobs the connection manager
// understands; zero fields fall back to package defaults.
func (o *Options) connectionConfig() *connection.Config {
	config := connection.DefaultConfig()
	if o.MaxPunchAttempts > 0 {
		config.MaxPunchAttempts = o.MaxPunchAttempts
	}
	if o.LivenessTimeout > 0 {
		config.LivenessTimeout = o.LivenessTimeout
	}
	if o.StunRefreshInterval > 0 {
		config.StunRefreshInterval = o.StunRefreshInterval
	}
	return config
}

// namesConfig translates the option knobs the name service understands.
func (o *Options) namesConfig() *names.Config {
	config := names.DefaultConfig()
	if o.GossipFanout > 0 {
		config.GossipFanout = o.GossipFanout
	}
	if o.LookupTimeout > 0 {
		config.LookupTimeout = o.LookupTimeout
	}
	return config
}
