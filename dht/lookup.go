package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

const (
	// Alpha is the number of parallel queries per lookup round.
	Alpha = 3
	// MaxLookupRounds bounds how many query rounds a lookup may take.
	MaxLookupRounds = 5
	// LookupRoundTimeout is how long a round waits for answers before
	// the next round starts.
	LookupRoundTimeout = time.Second
	// LookupTimeout bounds a whole lookup.
	LookupTimeout = 5 * time.Second
	// ReplicationFactor is how many closest nodes receive a stored
	// record or a retrieve query.
	ReplicationFactor = 4
)

// Lookup is one in-flight iterative node lookup. The result is
// delivered exactly once on Results.
type Lookup struct {
	Target crypto.PeerID
	// Results receives the closest nodes found, nearest first. The
	// channel is buffered; the lookup never blocks on it.
	Results chan []*Node

	queried       map[crypto.PeerID]bool
	inFlight      map[crypto.PeerID]bool
	shortlist     []*Node
	round         int
	startedAt     time.Time
	roundDeadline time.Time
	advance       bool
	finished      bool
}

// RetrieveResult is the outcome of a value lookup.
type RetrieveResult struct {
	Key   [32]byte
	Value []byte
	Found bool
	From  crypto.PeerID
}

// ValueLookup is one in-flight retrieve operation. The result is
// delivered exactly once on Results.
type ValueLookup struct {
	Key     [32]byte
	Results chan *RetrieveResult

	deadline time.Time
	finished bool
}

// LookupManager drives iterative node lookups and value retrieves. All
// timing is advanced by Poll; packet handlers only feed in responses.
type LookupManager struct {
	selfID    crypto.PeerID
	transport transport.Transport
	routing   *RoutingTable

	mu           sync.Mutex
	nodeLookups  []*Lookup
	valueLookups map[[32]byte]*ValueLookup
}

// NewLookupManager creates a lookup manager backed by the given
// routing table.
func NewLookupManager(selfID crypto.PeerID, trans transport.Transport, routing *RoutingTable) *LookupManager {
	return &LookupManager{
		selfID:       selfID,
		transport:    trans,
		routing:      routing,
		valueLookups: make(map[[32]byte]*ValueLookup),
	}
}

// StartLookup begins an iterative lookup for the nodes closest to
// target. The first query round is sent immediately.
func (lm *LookupManager) StartLookup(target crypto.PeerID, now time.Time) *Lookup {
	lookup := &Lookup{
		Target:    target,
		Results:   make(chan []*Node, 1),
		queried:   make(map[crypto.PeerID]bool),
		inFlight:  make(map[crypto.PeerID]bool),
		startedAt: now,
	}
	lookup.shortlist = lm.routing.FindClosestNodes(target, BucketSize)

	lm.mu.Lock()
	lm.nodeLookups = append(lm.nodeLookups, lookup)
	lm.advanceLookup(lookup, now)
	lm.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "StartLookup",
		"target":    target.String()[:16],
		"shortlist": len(lookup.shortlist),
	}).Debug("Iterative lookup started")

	return lookup
}

// StartRetrieve begins a value lookup for key, querying the closest
// known nodes.
func (lm *LookupManager) StartRetrieve(key [32]byte, now time.Time) *ValueLookup {
	lm.mu.Lock()
	if existing, ok := lm.valueLookups[key]; ok {
		lm.mu.Unlock()
		return existing
	}

	lookup := &ValueLookup{
		Key:      key,
		Results:  make(chan *RetrieveResult, 1),
		deadline: now.Add(LookupTimeout),
	}
	lm.valueLookups[key] = lookup
	lm.mu.Unlock()

	var keyID crypto.PeerID
	copy(keyID[:], key[:])
	targets := lm.routing.FindClosestNodes(keyID, ReplicationFactor)

	payload := &RetrieveRequestPayload{Sender: lm.selfID, Key: key}
	packet := &transport.Packet{
		PacketType: transport.PacketRetrieveRequest,
		Data:       payload.Serialize(),
	}
	for _, node := range targets {
		_ = lm.transport.Send(packet, node.Address)
	}

	if len(targets) == 0 {
		// Nothing to ask; the deadline will report not-found.
		logrus.WithField("function", "StartRetrieve").Debug("No nodes available for retrieve")
	}

	return lookup
}

// ProcessNodes feeds a send_nodes response into every lookup that was
// waiting on the sender, extending shortlists with the new entries.
// Rounds never advance here; once the last answer of a round arrives
// the lookup is flagged and the next Poll starts the following round,
// keeping all timing on the poll clock.
func (lm *LookupManager) ProcessNodes(sender crypto.PeerID, entries []NodeEntry) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, lookup := range lm.nodeLookups {
		if lookup.finished || !lookup.inFlight[sender] {
			continue
		}
		delete(lookup.inFlight, sender)

		for _, entry := range entries {
			if entry.ID == lm.selfID {
				continue
			}
			lm.mergeIntoShortlist(lookup, NewNode(entry.ID, entry.Addr))
		}

		// All answers for this round arrived; do not wait out the
		// round timer.
		if len(lookup.inFlight) == 0 {
			lookup.advance = true
		}
	}
}

// ProcessRetrieveResponse resolves the value lookup waiting on key.
// Not-found answers are ignored; the deadline handles the case where
// nobody has the record.
func (lm *LookupManager) ProcessRetrieveResponse(payload *RetrieveResponsePayload) {
	if !payload.Found {
		return
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lookup, ok := lm.valueLookups[payload.Key]
	if !ok || lookup.finished {
		return
	}
	lookup.finished = true
	delete(lm.valueLookups, payload.Key)

	result := &RetrieveResult{
		Key:   payload.Key,
		Value: payload.Value,
		Found: true,
		From:  payload.Sender,
	}
	select {
	case lookup.Results <- result:
	default:
	}
}

// Poll advances rounds whose timers expired and finishes lookups that
// ran out of rounds or time.
func (lm *LookupManager) Poll(now time.Time) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, lookup := range lm.nodeLookups {
		if lookup.finished {
			continue
		}
		if now.Sub(lookup.startedAt) >= LookupTimeout {
			lm.finishLookup(lookup)
			continue
		}
		if lookup.advance || !now.Before(lookup.roundDeadline) {
			lookup.advance = false
			lm.advanceLookup(lookup, now)
		}
	}
	lm.compactLookups()

	for key, lookup := range lm.valueLookups {
		if lookup.finished || now.Before(lookup.deadline) {
			continue
		}
		lookup.finished = true
		delete(lm.valueLookups, key)
		select {
		case lookup.Results <- &RetrieveResult{Key: key, Found: false}:
		default:
		}
	}
}

// advanceLookup sends the next query round, or finishes the lookup
// when the round budget or candidate list is exhausted. Callers hold
// the manager lock.
func (lm *LookupManager) advanceLookup(lookup *Lookup, now time.Time) {
	if lookup.finished {
		return
	}
	if lookup.round >= MaxLookupRounds {
		lm.finishLookup(lookup)
		return
	}

	candidates := lm.nextCandidates(lookup)
	if len(candidates) == 0 {
		lm.finishLookup(lookup)
		return
	}

	lookup.round++
	lookup.roundDeadline = now.Add(LookupRoundTimeout)
	lookup.inFlight = make(map[crypto.PeerID]bool)

	payload := &GetNodesPayload{Sender: lm.selfID, Target: lookup.Target}
	packet := &transport.Packet{
		PacketType: transport.PacketGetNodes,
		Data:       payload.Serialize(),
	}

	for _, node := range candidates {
		lookup.queried[node.ID] = true
		lookup.inFlight[node.ID] = true
		_ = lm.transport.Send(packet, node.Address)
	}
}

// nextCandidates picks up to Alpha unqueried nodes nearest the target.
func (lm *LookupManager) nextCandidates(lookup *Lookup) []*Node {
	var candidates []*Node
	for _, node := range lookup.shortlist {
		if lookup.queried[node.ID] {
			continue
		}
		candidates = append(candidates, node)
		if len(candidates) == Alpha {
			break
		}
	}
	return candidates
}

// mergeIntoShortlist inserts a node unless already present, keeping the
// list ordered by distance to the target.
func (lm *LookupManager) mergeIntoShortlist(lookup *Lookup, node *Node) {
	for _, existing := range lookup.shortlist {
		if existing.ID == node.ID {
			return
		}
	}
	lookup.shortlist = append(lookup.shortlist, node)
	sort.Slice(lookup.shortlist, func(i, j int) bool {
		return lessDistance(
			lookup.shortlist[i].ID.XOR(lookup.Target),
			lookup.shortlist[j].ID.XOR(lookup.Target),
		)
	})
	if len(lookup.shortlist) > BucketSize*2 {
		lookup.shortlist = lookup.shortlist[:BucketSize*2]
	}
}

// finishLookup delivers the closest nodes found. Callers hold the
// manager lock.
func (lm *LookupManager) finishLookup(lookup *Lookup) {
	lookup.finished = true

	result := lookup.shortlist
	if len(result) > BucketSize {
		result = result[:BucketSize]
	}
	out := make([]*Node, len(result))
	copy(out, result)

	select {
	case lookup.Results <- out:
	default:
	}

	logrus.WithFields(logrus.Fields{
		"function": "finishLookup",
		"target":   lookup.Target.String()[:16],
		"found":    len(out),
		"rounds":   lookup.round,
	}).Debug("Iterative lookup finished")
}

// compactLookups drops finished lookups from the active list.
func (lm *LookupManager) compactLookups() {
	active := lm.nodeLookups[:0]
	for _, lookup := range lm.nodeLookups {
		if !lookup.finished {
			active = append(active, lookup)
		}
	}
	lm.nodeLookups = active
}

// ActiveLookups returns the number of unfinished node lookups.
func (lm *LookupManager) ActiveLookups() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	count := 0
	for _, lookup := range lm.nodeLookups {
		if !lookup.finished {
			count++
		}
	}
	return count
}
