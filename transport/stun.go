package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
	"github.com/sirupsen/logrus"
)

// DiscoveryResult carries the outcome of a public address discovery run.
type DiscoveryResult struct {
	// PublicAddr is the address the internet sees for this node.
	PublicAddr *net.UDPAddr
	// NATType is the classification derived from comparing the mapped
	// addresses reported by different STUN servers.
	NATType NATType
}

// StunResolver discovers the local node's public address through STUN
// binding requests (RFC 5389) using pion/stun.
type StunResolver struct {
	servers []string
	timeout time.Duration
}

// DefaultStunServers are queried when the embedder configures none.
var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

// NewStunResolver creates a resolver for the given server list. An empty
// list falls back to DefaultStunServers.
func NewStunResolver(servers []string) *StunResolver {
	if len(servers) == 0 {
		servers = DefaultStunServers
	}
	list := make([]string, len(servers))
	copy(list, servers)
	return &StunResolver{
		servers: list,
		timeout: 3 * time.Second,
	}
}

// SetTimeout overrides the per-server query timeout.
func (sr *StunResolver) SetTimeout(timeout time.Duration) {
	sr.timeout = timeout
}

// Servers returns the configured STUN server list.
func (sr *StunResolver) Servers() []string {
	list := make([]string, len(sr.servers))
	copy(list, sr.servers)
	return list
}

// Discover queries the configured STUN servers for this node's public
// address. At least two servers must answer for a NAT classification;
// with a single answer the type stays NATTypeUnknown. Symmetric NATs are
// recognized by servers reporting different mapped addresses.
func (sr *StunResolver) Discover(ctx context.Context) (*DiscoveryResult, error) {
	var (
		mapped  []*net.UDPAddr
		local   []*net.UDPAddr
		lastErr error
	)

	for _, server := range sr.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		addr, localAddr, err := sr.queryServer(ctx, server)
		if err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"function": "Discover",
				"server":   server,
				"error":    err.Error(),
			}).Debug("STUN query failed")
			continue
		}
		mapped = append(mapped, addr)
		local = append(local, localAddr)
	}

	if len(mapped) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no STUN servers configured")
		}
		return nil, fmt.Errorf("all STUN servers failed: %w", lastErr)
	}

	result := &DiscoveryResult{
		PublicAddr: mapped[0],
		NATType:    classifyMappings(mapped, local),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Discover",
		"public_addr": result.PublicAddr.String(),
		"nat_type":    result.NATType.String(),
		"servers_ok":  len(mapped),
	}).Debug("Public address discovered")

	return result, nil
}

// queryServer performs a single binding round trip and returns the
// mapped address together with the local socket address used for it.
func (sr *StunResolver) queryServer(ctx context.Context, server string) (*net.UDPAddr, *net.UDPAddr, error) {
	conn, err := net.DialTimeout("udp4", server, sr.timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reach STUN server %s: %w", server, err)
	}
	localAddr, _ := conn.LocalAddr().(*net.UDPAddr)

	client, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	resultCh := make(chan *net.UDPAddr, 1)
	failCh := make(chan error, 1)

	go func() {
		var xorAddr stun.XORMappedAddress
		doErr := client.Do(message, func(res stun.Event) {
			if res.Error != nil {
				failCh <- res.Error
				return
			}
			if getErr := xorAddr.GetFrom(res.Message); getErr != nil {
				failCh <- getErr
				return
			}
			resultCh <- &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}
		})
		if doErr != nil {
			failCh <- doErr
		}
	}()

	queryCtx, cancel := context.WithTimeout(ctx, sr.timeout)
	defer cancel()

	select {
	case addr := <-resultCh:
		return addr, localAddr, nil
	case err := <-failCh:
		return nil, nil, err
	case <-queryCtx.Done():
		return nil, nil, queryCtx.Err()
	}
}

// classifyMappings derives the NAT type from the mapped addresses the
// servers reported and the local socket addresses behind them.
func classifyMappings(mapped, local []*net.UDPAddr) NATType {
	if len(mapped) == 0 {
		return NATTypeUnknown
	}

	// A mapped address matching the local interface address means the
	// node is directly on the public internet.
	if len(local) > 0 && local[0] != nil && mapped[0].IP.Equal(local[0].IP) {
		return NATTypeNone
	}

	if len(mapped) < 2 {
		return NATTypeUnknown
	}

	first := mapped[0].String()
	for _, addr := range mapped[1:] {
		if addr.String() != first {
			return NATTypeSymmetric
		}
	}
	return NATTypeCone
}
