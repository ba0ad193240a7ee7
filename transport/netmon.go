package transport

import (
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LocalNetworkState is a snapshot of the node's network identity: the
// local interface addresses, the public address learned from STUN, and
// the NAT classification in front of the node.
type LocalNetworkState struct {
	LocalAddrs []net.IP
	PublicAddr *net.UDPAddr
	NATType    NATType
}

// Clone returns a deep copy so callers can hold the snapshot without
// racing the monitor.
func (s LocalNetworkState) Clone() LocalNetworkState {
	cloned := LocalNetworkState{NATType: s.NATType}
	if s.PublicAddr != nil {
		addr := *s.PublicAddr
		cloned.PublicAddr = &addr
	}
	cloned.LocalAddrs = make([]net.IP, len(s.LocalAddrs))
	copy(cloned.LocalAddrs, s.LocalAddrs)
	return cloned
}

// NetworkMonitor tracks the local address set across poll cycles so the
// node can notice when it moved networks. It does no background work;
// the owner calls Refresh on its own schedule.
type NetworkMonitor struct {
	mu    sync.RWMutex
	state LocalNetworkState
}

// NewNetworkMonitor creates a monitor with an empty snapshot. The first
// Refresh populates it without reporting a change.
func NewNetworkMonitor() *NetworkMonitor {
	return &NetworkMonitor{
		state: LocalNetworkState{NATType: NATTypeUnknown},
	}
}

// Refresh re-enumerates local interface addresses and reports whether
// the set differs from the previous snapshot. The very first refresh
// establishes the baseline and never counts as a change.
func (nm *NetworkMonitor) Refresh() (bool, error) {
	addrs, err := enumerateLocalAddrs()
	if err != nil {
		return false, err
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	previous := nm.state.LocalAddrs
	nm.state.LocalAddrs = addrs

	if previous == nil {
		return false, nil
	}
	if addrSetEqual(previous, addrs) {
		return false, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Refresh",
		"old":      formatAddrs(previous),
		"new":      formatAddrs(addrs),
	}).Info("Local address set changed")

	return true, nil
}

// SetPublicAddr records the STUN-discovered public address.
func (nm *NetworkMonitor) SetPublicAddr(addr *net.UDPAddr) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.state.PublicAddr = addr
}

// SetNATType records the STUN-derived NAT classification.
func (nm *NetworkMonitor) SetNATType(natType NATType) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.state.NATType = natType
}

// State returns a copy of the current snapshot.
func (nm *NetworkMonitor) State() LocalNetworkState {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.state.Clone()
}

// enumerateLocalAddrs collects the IPv4 unicast addresses of all active
// non-loopback interfaces, sorted for stable comparison.
func enumerateLocalAddrs() ([]net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var addrs []net.IP
	for _, iface := range interfaces {
		if !isInterfaceActive(iface) {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range ifaceAddrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				addrs = append(addrs, ipv4)
			}
		}
	}

	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
	if addrs == nil {
		addrs = []net.IP{}
	}
	return addrs, nil
}

// isInterfaceActive checks if an interface is up and not loopback.
func isInterfaceActive(iface net.Interface) bool {
	return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0
}

// addrSetEqual compares two sorted address lists.
func addrSetEqual(a, b []net.IP) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func formatAddrs(addrs []net.IP) string {
	parts := make([]string, len(addrs))
	for i, addr := range addrs {
		parts[i] = addr.String()
	}
	return strings.Join(parts, ",")
}
