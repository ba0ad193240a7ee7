package cyxnet

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the YAML layout of a node configuration file.
// Durations are plain seconds so files stay hand-editable.
type FileConfig struct {
	Network struct {
		UDPEnabled *bool  `yaml:"udp_enabled,omitempty"`
		StartPort  uint16 `yaml:"start_port,omitempty"`
		EndPort    uint16 `yaml:"end_port,omitempty"`
	} `yaml:"network,omitempty"`

	Stun struct {
		Servers    []string `yaml:"servers,omitempty"`
		RefreshSec int      `yaml:"refresh_sec,omitempty"`
	} `yaml:"stun,omitempty"`

	Bootstrap []struct {
		Address string `yaml:"address"`
		Port    uint16 `yaml:"port"`
		PeerID  string `yaml:"peer_id"`
	} `yaml:"bootstrap,omitempty"`

	Relays []struct {
		Address string `yaml:"address"`
		Port    uint16 `yaml:"port"`
	} `yaml:"relays,omitempty"`

	Connection struct {
		LivenessSec      int `yaml:"liveness_sec,omitempty"`
		MaxPunchAttempts int `yaml:"max_punch_attempts,omitempty"`
	} `yaml:"connection,omitempty"`

	Names struct {
		GossipFanout int `yaml:"gossip_fanout,omitempty"`
		LookupSec    int `yaml:"lookup_sec,omitempty"`
	} `yaml:"names,omitempty"`

	Identity struct {
		// SecretKey is the 32-byte identity seed in hex.
		SecretKey string `yaml:"secret_key,omitempty"`
	} `yaml:"identity,omitempty"`
}

// LoadConfig reads a YAML config file and returns Options with the
// file's settings applied over the defaults.
func LoadConfig(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.Apply(NewOptions())
}

// Apply overlays the file settings onto options and returns it.
func (c *FileConfig) Apply(options *Options) (*Options, error) {
	if c.Network.UDPEnabled != nil {
		options.UDPEnabled = *c.Network.UDPEnabled
	}
	if c.Network.StartPort != 0 {
		options.StartPort = c.Network.StartPort
	}
	if c.Network.EndPort != 0 {
		options.EndPort = c.Network.EndPort
	}

	if len(c.Stun.Servers) > 0 {
		options.STUNServers = append([]string(nil), c.Stun.Servers...)
	}
	if c.Stun.RefreshSec > 0 {
		options.StunRefreshInterval = time.Duration(c.Stun.RefreshSec) * time.Second
	}

	for _, node := range c.Bootstrap {
		if node.Address == "" || node.Port == 0 {
			return nil, fmt.Errorf("bootstrap entry needs address and port")
		}
		options.BootstrapNodes = append(options.BootstrapNodes, BootstrapNode{
			Address: node.Address,
			Port:    node.Port,
			PeerID:  node.PeerID,
		})
	}
	for _, relay := range c.Relays {
		if relay.Address == "" || relay.Port == 0 {
			return nil, fmt.Errorf("relay entry needs address and port")
		}
		options.RelayServers = append(options.RelayServers, RelayServer{
			Address: relay.Address,
			Port:    relay.Port,
		})
	}

	if c.Connection.LivenessSec > 0 {
		options.LivenessTimeout = time.Duration(c.Connection.LivenessSec) * time.Second
	}
	if c.Connection.MaxPunchAttempts > 0 {
		options.MaxPunchAttempts = c.Connection.MaxPunchAttempts
	}

	if c.Names.GossipFanout > 0 {
		options.GossipFanout = c.Names.GossipFanout
	}
	if c.Names.LookupSec > 0 {
		options.LookupTimeout = time.Duration(c.Names.LookupSec) * time.Second
	}

	if c.Identity.SecretKey != "" {
		seed, err := hex.DecodeString(c.Identity.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("decode identity secret key: %w", err)
		}
		if len(seed) != 32 {
			return nil, fmt.Errorf("identity secret key must be 32 bytes, got %d", len(seed))
		}
		options.SecretKey = seed
	}

	return options, nil
}
