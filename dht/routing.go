package dht

import (
	"container/heap"
	"sync"

	"github.com/code3hr/cyxnet/crypto"
)

// BucketSize is the maximum number of nodes per k-bucket and the
// default result width for closest-node queries.
const BucketSize = 8

// KBucket holds up to maxSize nodes at one distance range, ordered
// least-recently-seen first.
type KBucket struct {
	nodes   []*Node
	maxSize int
	mu      sync.RWMutex
}

// NewKBucket creates a k-bucket with the specified maximum size.
func NewKBucket(maxSize int) *KBucket {
	return &KBucket{
		nodes:   make([]*Node, 0, maxSize),
		maxSize: maxSize,
	}
}

// AddNode adds a node to the bucket. Re-adding an existing node moves
// it to the most-recently-seen position; a full bucket only accepts the
// node if a bad node can be evicted for it.
func (kb *KBucket) AddNode(node *Node) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, existing := range kb.nodes {
		if existing.ID == node.ID {
			kb.nodes = append(kb.nodes[:i], kb.nodes[i+1:]...)
			kb.nodes = append(kb.nodes, node)
			return true
		}
	}

	if len(kb.nodes) < kb.maxSize {
		kb.nodes = append(kb.nodes, node)
		return true
	}

	for i, existing := range kb.nodes {
		if existing.Status == StatusBad {
			kb.nodes[i] = node
			return true
		}
	}

	return false
}

// GetNodes returns a copy of all nodes in the bucket.
func (kb *KBucket) GetNodes() []*Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	result := make([]*Node, len(kb.nodes))
	copy(result, kb.nodes)
	return result
}

// RemoveNode removes the node with the given ID from the bucket.
// Returns true if the node was found and removed.
func (kb *KBucket) RemoveNode(nodeID crypto.PeerID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, node := range kb.nodes {
		if node.ID == nodeID {
			lastIndex := len(kb.nodes) - 1
			if i != lastIndex {
				kb.nodes[i] = kb.nodes[lastIndex]
			}
			kb.nodes = kb.nodes[:lastIndex]
			return true
		}
	}
	return false
}

// RoutingTable manages the 256 k-buckets of the peer directory, one per
// leading-bit position of the XOR distance from the local node.
type RoutingTable struct {
	kBuckets [256]*KBucket
	selfID   crypto.PeerID
	mu       sync.RWMutex
}

// NewRoutingTable creates a routing table for the given local peer ID.
func NewRoutingTable(selfID crypto.PeerID, maxBucketSize int) *RoutingTable {
	rt := &RoutingTable{selfID: selfID}
	for i := 0; i < 256; i++ {
		rt.kBuckets[i] = NewKBucket(maxBucketSize)
	}
	return rt
}

// AddNode places the node in its distance bucket. The local node itself
// is never added.
func (rt *RoutingTable) AddNode(node *Node) bool {
	if node.ID == rt.selfID {
		return false
	}

	dist := node.ID.XOR(rt.selfID)
	bucketIndex := getBucketIndex(dist)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.kBuckets[bucketIndex].AddNode(node)
}

// RemoveNode removes the node with the given ID from the table.
func (rt *RoutingTable) RemoveNode(nodeID crypto.PeerID) bool {
	dist := nodeID.XOR(rt.selfID)
	bucketIndex := getBucketIndex(dist)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.kBuckets[bucketIndex].RemoveNode(nodeID)
}

// FindNode returns the table entry for the given peer ID, or nil.
func (rt *RoutingTable) FindNode(nodeID crypto.PeerID) *Node {
	dist := nodeID.XOR(rt.selfID)
	bucketIndex := getBucketIndex(dist)

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, node := range rt.kBuckets[bucketIndex].GetNodes() {
		if node.ID == nodeID {
			return node
		}
	}
	return nil
}

// nodeHeap is a max-heap by distance used to keep only the k closest
// nodes while scanning the table.
type nodeHeap struct {
	nodes     []*Node
	distances [][crypto.PeerIDSize]byte
	target    crypto.PeerID
}

func (h *nodeHeap) Len() int { return len(h.nodes) }

func (h *nodeHeap) Less(i, j int) bool {
	// Max-heap: i sorts first when it is farther than j.
	return !lessDistance(h.distances[i], h.distances[j])
}

func (h *nodeHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.distances[i], h.distances[j] = h.distances[j], h.distances[i]
}

func (h *nodeHeap) Push(x interface{}) {
	item := x.(*Node)
	h.nodes = append(h.nodes, item)
	h.distances = append(h.distances, item.ID.XOR(h.target))
}

func (h *nodeHeap) Pop() interface{} {
	old := h.nodes
	n := len(old)
	item := old[n-1]
	h.nodes = old[0 : n-1]
	h.distances = h.distances[0 : n-1]
	return item
}

// FindClosestNodes finds up to count nodes closest to the target ID,
// ordered nearest first.
func (rt *RoutingTable) FindClosestNodes(targetID crypto.PeerID, count int) []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if count <= 0 {
		return []*Node{}
	}

	h := &nodeHeap{
		nodes:     make([]*Node, 0, count),
		distances: make([][crypto.PeerIDSize]byte, 0, count),
		target:    targetID,
	}

	for _, bucket := range rt.kBuckets {
		for _, node := range bucket.GetNodes() {
			if len(h.nodes) < count {
				heap.Push(h, node)
				continue
			}
			dist := node.ID.XOR(targetID)
			if lessDistance(dist, h.distances[0]) {
				heap.Pop(h)
				heap.Push(h, node)
			}
		}
	}

	// Popping the max-heap yields farthest first; fill back to front so
	// the result is ordered nearest first.
	result := make([]*Node, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(*Node)
	}
	return result
}

// GetAllNodes returns all nodes from all k-buckets.
func (rt *RoutingTable) GetAllNodes() []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var allNodes []*Node
	for _, bucket := range rt.kBuckets {
		allNodes = append(allNodes, bucket.GetNodes()...)
	}
	return allNodes
}

// NodeCount returns the number of nodes currently in the table.
func (rt *RoutingTable) NodeCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	count := 0
	for _, bucket := range rt.kBuckets {
		count += len(bucket.GetNodes())
	}
	return count
}

// getBucketIndex maps an XOR distance to its bucket: the position of
// the first set bit.
func getBucketIndex(distance [crypto.PeerIDSize]byte) int {
	for i := 0; i < crypto.PeerIDSize; i++ {
		if distance[i] == 0 {
			continue
		}
		b := distance[i]
		for j := 0; j < 8; j++ {
			if (b>>(7-j))&1 == 1 {
				return i*8 + j
			}
		}
	}
	return 255
}

// lessDistance compares two distances, true when a is closer than b.
func lessDistance(a, b [crypto.PeerIDSize]byte) bool {
	for i := 0; i < crypto.PeerIDSize; i++ {
		if a[i] < b[i] {
			return true
		}
		if a[i] > b[i] {
			return false
		}
	}
	return false
}
