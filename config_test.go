package cyxnet

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigOverlay(t *testing.T) {
	path := writeConfigFile(t, `
network:
  udp_enabled: true
  start_port: 40000
  end_port: 40010
stun:
  servers:
    - stun.example.org:3478
  refresh_sec: 120
bootstrap:
  - address: seed.example.org
    port: 33445
    peer_id: 00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff
relays:
  - address: relay.example.org
    port: 3478
connection:
  liveness_sec: 60
  max_punch_attempts: 8
names:
  gossip_fanout: 6
  lookup_sec: 2
identity:
  secret_key: 5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a
`)

	options, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if options.StartPort != 40000 || options.EndPort != 40010 {
		t.Errorf("Unexpected port range %d-%d", options.StartPort, options.EndPort)
	}
	if len(options.STUNServers) != 1 || options.STUNServers[0] != "stun.example.org:3478" {
		t.Errorf("Unexpected STUN servers %v", options.STUNServers)
	}
	if options.StunRefreshInterval != 2*time.Minute {
		t.Errorf("Expected refresh interval 2m, got %v", options.StunRefreshInterval)
	}
	if len(options.BootstrapNodes) != 1 {
		t.Fatalf("Expected one bootstrap node, got %d", len(options.BootstrapNodes))
	}
	seed := options.BootstrapNodes[0]
	if seed.Address != "seed.example.org" || seed.Port != 33445 || len(seed.PeerID) != 64 {
		t.Errorf("Unexpected bootstrap node %+v", seed)
	}
	if len(options.RelayServers) != 1 || options.RelayServers[0].Address != "relay.example.org" {
		t.Errorf("Unexpected relay servers %+v", options.RelayServers)
	}
	if options.LivenessTimeout != time.Minute {
		t.Errorf("Expected liveness timeout 1m, got %v", options.LivenessTimeout)
	}
	if options.MaxPunchAttempts != 8 {
		t.Errorf("Expected punch budget 8, got %d", options.MaxPunchAttempts)
	}
	if options.GossipFanout != 6 {
		t.Errorf("Expected gossip fanout 6, got %d", options.GossipFanout)
	}
	if options.LookupTimeout != 2*time.Second {
		t.Errorf("Expected lookup timeout 2s, got %v", options.LookupTimeout)
	}
	if len(options.SecretKey) != 32 || options.SecretKey[0] != 0x5A {
		t.Errorf("Unexpected secret key %x", options.SecretKey)
	}
}

func TestLoadConfigKeepsDefaultsForAbsentSections(t *testing.T) {
	path := writeConfigFile(t, "network:\n  start_port: 40000\n")

	options, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if options.StartPort != 40000 {
		t.Errorf("Expected start port 40000, got %d", options.StartPort)
	}

	defaults := NewOptions()
	if options.EndPort != defaults.EndPort {
		t.Errorf("Absent end port should keep the default, got %d", options.EndPort)
	}
	if !options.UDPEnabled {
		t.Error("Absent udp_enabled should keep the default")
	}
	if len(options.STUNServers) != len(defaults.STUNServers) {
		t.Errorf("Absent STUN servers should keep the defaults, got %v", options.STUNServers)
	}
	if options.LookupTimeout != defaults.LookupTimeout {
		t.Errorf("Absent lookup timeout should keep the default, got %v", options.LookupTimeout)
	}
}

func TestLoadConfigDisablesUDPExplicitly(t *testing.T) {
	path := writeConfigFile(t, "network:\n  udp_enabled: false\n")

	options, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if options.UDPEnabled {
		t.Error("udp_enabled: false should override the default")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("Expected error for a missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfigFile(t, "network: [not a mapping\n")
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected error for malformed YAML")
		}
	})

	t.Run("bootstrap entry without port", func(t *testing.T) {
		path := writeConfigFile(t, "bootstrap:\n  - address: seed.example.org\n")
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected error for a bootstrap entry without a port")
		}
	})

	t.Run("relay entry without address", func(t *testing.T) {
		path := writeConfigFile(t, "relays:\n  - port: 3478\n")
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected error for a relay entry without an address")
		}
	})

	t.Run("secret key not hex", func(t *testing.T) {
		path := writeConfigFile(t, "identity:\n  secret_key: nothex\n")
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected error for a non-hex secret key")
		}
	})

	t.Run("secret key wrong length", func(t *testing.T) {
		path := writeConfigFile(t, "identity:\n  secret_key: 5a5a5a5a\n")
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected error for a short secret key")
		}
	})
}
