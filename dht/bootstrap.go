package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

// maxBootstrapAttempts caps consecutive failed joins before the caller
// has to intervene with fresh seeds or a network change.
const maxBootstrapAttempts = 5

// BootstrapError carries which seed and which phase a bootstrap attempt
// failed in.
type BootstrapError struct {
	Type  string
	Node  string
	Cause error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap %s failed for %s: %v", e.Type, e.Node, e.Cause)
}

func (e *BootstrapError) Unwrap() error {
	return e.Cause
}

// BootstrapNode is one configured seed.
type BootstrapNode struct {
	Address  net.Addr
	ID       crypto.PeerID
	LastUsed time.Time
	Success  bool
}

// BootstrapManager joins the peer directory through seed nodes: it
// sends each seed a closest-nodes query for our own ID and seeds the
// routing table from the answers.
type BootstrapManager struct {
	selfID    crypto.PeerID
	transport transport.Transport
	routing   *RoutingTable

	mu       sync.RWMutex
	seeds    []*BootstrapNode
	attempts int
}

// NewBootstrapManager creates a bootstrap manager.
func NewBootstrapManager(selfID crypto.PeerID, trans transport.Transport, routingTable *RoutingTable) *BootstrapManager {
	return &BootstrapManager{
		selfID:    selfID,
		transport: trans,
		routing:   routingTable,
	}
}

// AddNode adds a seed node given its address and hex-encoded peer ID.
// Adding an address a second time updates the stored ID in place.
func (bm *BootstrapManager) AddNode(address net.Addr, peerIDHex string) error {
	id, err := crypto.ParsePeerID(peerIDHex)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AddNode",
			"address":  address.String(),
			"error":    err.Error(),
		}).Error("Seed peer ID validation failed")
		return fmt.Errorf("invalid seed peer ID: %w", err)
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()

	if seed := bm.findSeedLocked(address); seed != nil {
		seed.ID = id
		logrus.WithFields(logrus.Fields{
			"function": "AddNode",
			"address":  address.String(),
		}).Info("Seed node updated")
		return nil
	}

	bm.seeds = append(bm.seeds, &BootstrapNode{Address: address, ID: id})

	logrus.WithFields(logrus.Fields{
		"function": "AddNode",
		"address":  address.String(),
		"seeds":    len(bm.seeds),
	}).Info("Seed node added")

	return nil
}

// findSeedLocked returns the stored seed with the given address, or
// nil. Caller holds bm.mu.
func (bm *BootstrapManager) findSeedLocked(address net.Addr) *BootstrapNode {
	for _, seed := range bm.seeds {
		if seed.Address.String() == address.String() {
			return seed
		}
	}
	return nil
}

// Bootstrap contacts all configured seeds concurrently. It succeeds
// when at least one seed could be queried; the routing table fills
// further as their answers arrive. After maxBootstrapAttempts
// consecutive failures it refuses to try again.
func (bm *BootstrapManager) Bootstrap(ctx context.Context) error {
	seeds, err := bm.takeAttempt()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bootstrap",
			"error":    err.Error(),
		}).Error("Bootstrap refused")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bootstrap",
		"seeds":    len(seeds),
	}).Info("Starting bootstrap")

	outcomes := make(chan error, len(seeds))
	var wg sync.WaitGroup
	for _, seed := range seeds {
		wg.Add(1)
		go func(seed *BootstrapNode) {
			defer wg.Done()
			outcomes <- bm.querySeed(seed)
		}(seed)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	joined := 0
	var lastErr error
collect:
	for {
		select {
		case err, ok := <-outcomes:
			if !ok {
				break collect
			}
			if err != nil {
				lastErr = err
				continue
			}
			joined++
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if joined == 0 {
		if lastErr != nil {
			return fmt.Errorf("bootstrap failed: %w", lastErr)
		}
		return errors.New("bootstrap failed: no seeds could be contacted")
	}

	bm.mu.Lock()
	bm.attempts = 0
	bm.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Bootstrap",
		"seeded":   joined,
	}).Info("Bootstrap completed")

	return nil
}

// takeAttempt counts one attempt against the cap and snapshots the
// seed list for the query workers.
func (bm *BootstrapManager) takeAttempt() ([]*BootstrapNode, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if len(bm.seeds) == 0 {
		return nil, errors.New("no bootstrap nodes available")
	}

	bm.attempts++
	if bm.attempts > maxBootstrapAttempts {
		return nil, errors.New("maximum bootstrap attempts reached")
	}
	return append([]*BootstrapNode(nil), bm.seeds...), nil
}

// querySeed asks one seed for the nodes closest to our own ID and, if
// the query could be sent, enters the seed into the routing table.
func (bm *BootstrapManager) querySeed(seed *BootstrapNode) error {
	query := GetNodesPayload{
		Sender: bm.selfID,
		Target: bm.selfID,
	}
	packet := &transport.Packet{
		PacketType: transport.PacketGetNodes,
		Data:       query.Serialize(),
	}

	if err := bm.transport.Send(packet, seed.Address); err != nil {
		return &BootstrapError{
			Type:  "query",
			Node:  seed.Address.String(),
			Cause: err,
		}
	}

	bm.mu.Lock()
	seed.LastUsed = crypto.GetDefaultTimeProvider().Now()
	bm.mu.Unlock()

	if !bm.routing.AddNode(NewNode(seed.ID, seed.Address)) {
		return &BootstrapError{
			Type:  "routing",
			Node:  seed.Address.String(),
			Cause: errors.New("seed not admitted to routing table"),
		}
	}
	return nil
}

// MarkSeedSuccess records that a seed answered, by peer ID.
func (bm *BootstrapManager) MarkSeedSuccess(id crypto.PeerID) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	for _, seed := range bm.seeds {
		if seed.ID == id {
			seed.Success = true
			seed.LastUsed = crypto.GetDefaultTimeProvider().Now()
		}
	}
}

// GetNodes returns a copy of the configured seed list.
func (bm *BootstrapManager) GetNodes() []*BootstrapNode {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return append([]*BootstrapNode(nil), bm.seeds...)
}

// ClearNodes removes all seed nodes.
func (bm *BootstrapManager) ClearNodes() {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.seeds = nil
}
