package names

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/dht"
	"github.com/code3hr/cyxnet/transport"
)

const (
	// DefaultGossipFanout is how many peers receive a broadcast or a
	// forwarded record.
	DefaultGossipFanout = 4
	// DefaultHopBudget bounds how many times a record is forwarded.
	DefaultHopBudget = 3

	// maxInboxSize bounds the unprocessed inbound queue between polls.
	maxInboxSize = 256
)

var (
	// ErrAlreadyRegistered is returned when a different name already
	// occupies the local registration slot.
	ErrAlreadyRegistered = errors.New("a different name is already registered")
	// ErrNotRegistered is returned by refresh and unregister when no
	// name is registered.
	ErrNotRegistered = errors.New("no name registered")
	// ErrNameNotFound is returned when a name resolves to nothing.
	ErrNameNotFound = errors.New("name not found")
	// ErrLookupTimeout is delivered when a lookup exhausts its wait.
	ErrLookupTimeout = errors.New("name lookup timed out")
)

// Config collects the tunables of the name service.
type Config struct {
	// GossipFanout is the number of peers per broadcast.
	GossipFanout int
	// HopBudget is the forward budget of announces and revokes.
	HopBudget int
	// LookupTimeout bounds a network name lookup.
	LookupTimeout time.Duration
	// RecordTTL is the cache lifetime of a registration.
	RecordTTL time.Duration
	// RefreshInterval is how often the own name is re-announced.
	RefreshInterval time.Duration
	// AcceptUnsigned admits records without a signature. Off by
	// default: a record that cannot be verified against its claimed
	// owner is dropped.
	AcceptUnsigned bool
}

// DefaultConfig returns the standard name service configuration.
func DefaultConfig() *Config {
	return &Config{
		GossipFanout:    DefaultGossipFanout,
		HopBudget:       DefaultHopBudget,
		LookupTimeout:   DefaultLookupTimeout,
		RecordTTL:       NameRecordTTL,
		RefreshInterval: RefreshInterval,
	}
}

type inboundKind uint8

const (
	inboundAnnounce inboundKind = iota
	inboundQuery
	inboundResponse
	inboundRevoke
)

// inboundMessage is one parsed name packet waiting for Poll.
type inboundMessage struct {
	kind     inboundKind
	announce *AnnouncePayload
	query    *QueryPayload
	response *ResponsePayload
	revoke   *RevokePayload
	from     net.Addr
}

// Service is the gossip name service. Transport handlers only enqueue;
// Poll drains the queue, merges records under last-writer-wins,
// answers queries, and keeps the own registration alive.
type Service struct {
	selfID    crypto.PeerID
	keys      *crypto.KeyPair
	transport transport.Transport
	directory *dht.DHT
	config    Config

	mu            sync.Mutex
	cache         *Cache
	petnames      *PetnameStore
	pending       map[string]*NameLookup
	cryptoIndex   map[string]crypto.PeerID
	inbox         []*inboundMessage
	ownName       string
	ownRecord     *NameRecord
	nextRefreshAt time.Time
}

// NewService creates a name service for the local identity. The
// directory is used for gossip peer selection and as the durable side
// of registrations. A nil config uses defaults.
func NewService(keys *crypto.KeyPair, trans transport.Transport, directory *dht.DHT, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.GossipFanout <= 0 {
		config.GossipFanout = DefaultGossipFanout
	}
	if config.HopBudget <= 0 {
		config.HopBudget = DefaultHopBudget
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = RefreshInterval
	}

	s := &Service{
		selfID:      keys.PeerID(),
		keys:        keys,
		transport:   trans,
		directory:   directory,
		config:      *config,
		cache:       NewCache(config.RecordTTL),
		petnames:    NewPetnameStore(),
		pending:     make(map[string]*NameLookup),
		cryptoIndex: make(map[string]crypto.PeerID),
	}
	s.indexPeerLocked(s.selfID)
	return s
}

// RegisterHandlers subscribes the service to its packet types on the
// transport. Handlers parse and enqueue; processing happens in Poll.
func (s *Service) RegisterHandlers() {
	s.transport.RegisterHandler(transport.PacketNameAnnounce, s.handleAnnounce)
	s.transport.RegisterHandler(transport.PacketNameQuery, s.handleQuery)
	s.transport.RegisterHandler(transport.PacketNameResponse, s.handleResponse)
	s.transport.RegisterHandler(transport.PacketNameRevoke, s.handleRevoke)
}

// SelfID returns the local peer ID.
func (s *Service) SelfID() crypto.PeerID {
	return s.selfID
}

// OwnName returns the currently registered own name, if any.
func (s *Service) OwnName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownName
}

// Register claims a global name for the local peer: the signed record
// is cached, broadcast to the gossip fanout, and stored in the peer
// directory under the name's digest. Registration is best-effort, not
// exclusive; conflicting claims converge by last-writer-wins.
// Re-registering the currently held name acts as a refresh, while a
// second, different name is rejected with ErrAlreadyRegistered.
func (s *Service) Register(name string, now time.Time) error {
	normalized, err := Normalize(name)
	if err != nil {
		return err
	}
	if IsCryptoName(normalized) {
		return errors.New("crypto-name shape is derived, not registrable")
	}

	record := &NameRecord{
		Name:         normalized,
		Owner:        s.selfID,
		RegisteredAt: now.Truncate(time.Millisecond),
	}
	if err := record.SignWith(s.keys); err != nil {
		return err
	}

	s.mu.Lock()
	if s.ownName != "" && s.ownName != normalized {
		s.mu.Unlock()
		return ErrAlreadyRegistered
	}
	s.ownName = normalized
	s.ownRecord = record
	s.nextRefreshAt = now.Add(s.config.RefreshInterval)
	s.cache.Apply(record)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"name":     normalized,
	}).Info("Registered own name")

	s.broadcastAnnounce(record, uint8(s.config.HopBudget), nil)
	s.storeInDirectory(record, now)
	return nil
}

// Refresh re-announces and re-stores the own name with a fresh
// timestamp, renewing its lifetime at every observer.
func (s *Service) Refresh(now time.Time) error {
	record, err := s.renewOwnRecord(now)
	if err != nil {
		return err
	}
	s.broadcastAnnounce(record, uint8(s.config.HopBudget), nil)
	s.storeInDirectory(record, now)
	return nil
}

// Unregister retracts the own name: a signed tombstone is broadcast
// and the directory record is dropped locally. Observers remove their
// cached entry when the tombstone is at least as fresh as it.
func (s *Service) Unregister(now time.Time) error {
	s.mu.Lock()
	if s.ownRecord == nil {
		s.mu.Unlock()
		return ErrNotRegistered
	}
	name := s.ownName
	tombstone := &NameRecord{
		Name:         name,
		Owner:        s.selfID,
		RegisteredAt: now.Truncate(time.Millisecond),
	}
	if err := tombstone.SignWith(s.keys); err != nil {
		s.mu.Unlock()
		return err
	}
	// Revoking through the cache keeps the tombstone, so echoes of the
	// old announce cannot re-register the name locally.
	s.cache.Revoke(tombstone)
	s.ownName = ""
	s.ownRecord = nil
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Unregister",
		"name":     name,
	}).Info("Unregistered own name")

	s.broadcastRevoke(tombstone, uint8(s.config.HopBudget), nil)
	s.directory.Storage().Delete(crypto.NameDigest(name))
	return nil
}

// Lookup resolves a name. Cached entries and crypto-names answer
// immediately on the returned lookup; otherwise a query goes to the
// gossip fanout and the peer directory in parallel, and the first
// verified answer wins. Concurrent lookups for one name share a single
// in-flight entry.
func (s *Service) Lookup(name string, now time.Time) (*NameLookup, error) {
	normalized, err := Normalize(name)
	if err != nil {
		return nil, err
	}

	if IsCryptoName(normalized) {
		return resolvedLookup(normalized, s.resolveCryptoNameResult(normalized, now)), nil
	}

	s.mu.Lock()
	if record, ok := s.cache.Resolve(normalized, now); ok {
		s.mu.Unlock()
		return resolvedLookup(normalized, &LookupResult{Record: record}), nil
	}
	if existing, ok := s.pending[normalized]; ok {
		s.mu.Unlock()
		return existing, nil
	}

	lookup := &NameLookup{
		Name:     normalized,
		Results:  make(chan *LookupResult, 1),
		deadline: now.Add(s.config.LookupTimeout),
	}
	lookup.dhtLookup = s.directory.Retrieve(crypto.NameDigest(normalized), now)
	s.pending[normalized] = lookup

	// The directory may have answered from its local store already.
	s.checkDirectoryAnswer(lookup, now)
	if lookup.finished {
		delete(s.pending, normalized)
		s.mu.Unlock()
		return lookup, nil
	}
	s.mu.Unlock()

	s.broadcastQuery(normalized)
	return lookup, nil
}

// Resolve answers from the cache only: it never touches the network,
// making it safe for synchronous best-effort checks. Unknown or
// expired names return ErrNameNotFound.
func (s *Service) Resolve(name string, now time.Time) (*NameRecord, error) {
	normalized, err := Normalize(name)
	if err != nil {
		return nil, err
	}

	if IsCryptoName(normalized) {
		result := s.resolveCryptoNameResult(normalized, now)
		return result.Record, result.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cache.Resolve(normalized, now)
	if !ok {
		return nil, ErrNameNotFound
	}
	return record, nil
}

// IsCached reports whether the name currently resolves locally.
func (s *Service) IsCached(name string, now time.Time) bool {
	_, err := s.Resolve(name, now)
	return err == nil
}

// Invalidate drops the cached record for the name, reporting whether
// one existed. The own registration slot is unaffected; the record
// returns with the next refresh.
func (s *Service) Invalidate(name string) bool {
	normalized, err := Normalize(name)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(normalized)
}

// SetPetname assigns a private local alias to the peer; empty removes.
func (s *Service) SetPetname(peer crypto.PeerID, name string) {
	s.petnames.Set(peer, name)
}

// GetPetname returns the private alias for the peer, if set.
func (s *Service) GetPetname(peer crypto.PeerID) (string, bool) {
	return s.petnames.Get(peer)
}

// DisplayName builds the best available human-readable handle for a
// peer: the private petname first, then a cached global name, then the
// peer's crypto-name.
func (s *Service) DisplayName(peer crypto.PeerID) string {
	if petname, ok := s.petnames.Get(peer); ok {
		return petname
	}

	s.mu.Lock()
	name, ok := s.cache.NameOf(peer)
	s.mu.Unlock()
	if ok {
		return name
	}
	return CryptoNameOf(peer)
}

// ResolveCryptoName maps a crypto-name back to a peer ID using the
// locally observed peer index. Peers this service has never seen
// cannot be resolved; the digest is not invertible.
func (s *Service) ResolveCryptoName(name string) (crypto.PeerID, error) {
	normalized, err := Normalize(name)
	if err != nil {
		return crypto.PeerID{}, err
	}
	if !IsCryptoName(normalized) {
		return crypto.PeerID{}, ErrNameNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.cryptoIndex[normalized]
	if !ok {
		return crypto.PeerID{}, ErrNameNotFound
	}
	return id, nil
}

// IndexPeer records an observed peer ID so its crypto-name resolves
// locally. Gossip senders and record owners are indexed automatically;
// the embedding node feeds directory peers through here.
func (s *Service) IndexPeer(id crypto.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexPeerLocked(id)
}

// Poll drains the inbound queue, merges and answers what arrived,
// expires the cache, times out pending lookups, and re-announces the
// own name when due.
func (s *Service) Poll(now time.Time) {
	s.mu.Lock()
	queue := s.inbox
	s.inbox = nil
	s.mu.Unlock()

	for _, msg := range queue {
		switch msg.kind {
		case inboundAnnounce:
			s.processAnnounce(msg.announce, msg.from, now)
		case inboundQuery:
			s.processQuery(msg.query, msg.from, now)
		case inboundResponse:
			s.processResponse(msg.response, now)
		case inboundRevoke:
			s.processRevoke(msg.revoke, msg.from, now)
		}
	}

	s.settlePendingLookups(now)

	s.mu.Lock()
	s.cache.Expire(now)
	s.mu.Unlock()

	s.refreshOwnNameIfDue(now)
}

// handleAnnounce queues an inbound announce for the next Poll.
func (s *Service) handleAnnounce(packet *transport.Packet, from net.Addr) error {
	payload, err := ParseAnnouncePayload(packet.Data)
	if err != nil {
		return err
	}
	s.enqueue(&inboundMessage{kind: inboundAnnounce, announce: payload, from: from})
	return nil
}

func (s *Service) handleQuery(packet *transport.Packet, from net.Addr) error {
	payload, err := ParseQueryPayload(packet.Data)
	if err != nil {
		return err
	}
	s.enqueue(&inboundMessage{kind: inboundQuery, query: payload, from: from})
	return nil
}

func (s *Service) handleResponse(packet *transport.Packet, from net.Addr) error {
	payload, err := ParseResponsePayload(packet.Data)
	if err != nil {
		return err
	}
	s.enqueue(&inboundMessage{kind: inboundResponse, response: payload, from: from})
	return nil
}

func (s *Service) handleRevoke(packet *transport.Packet, from net.Addr) error {
	payload, err := ParseRevokePayload(packet.Data)
	if err != nil {
		return err
	}
	s.enqueue(&inboundMessage{kind: inboundRevoke, revoke: payload, from: from})
	return nil
}

// enqueue appends to the inbound queue, dropping when the service is
// not being polled fast enough to keep up.
func (s *Service) enqueue(msg *inboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inbox) >= maxInboxSize {
		logrus.WithField("function", "enqueue").Trace("Inbound name queue full, dropping")
		return
	}
	s.inbox = append(s.inbox, msg)
}

// processAnnounce merges a gossiped record and forwards it while it is
// news and hop budget remains.
func (s *Service) processAnnounce(payload *AnnouncePayload, from net.Addr, now time.Time) {
	record := payload.Record
	if !s.admissible(record) {
		return
	}

	s.mu.Lock()
	s.indexPeerLocked(payload.Sender)
	s.indexPeerLocked(record.Owner)
	applied := s.cache.Apply(record)
	if applied {
		s.resolvePendingLocked(record)
	}
	s.mu.Unlock()

	if applied && payload.Hops > 0 {
		s.forwardAnnounce(record, payload.Hops-1, from)
	}
}

// processQuery answers from the cache, which includes the own name.
// Misses stay silent; there are no negative responses.
func (s *Service) processQuery(payload *QueryPayload, from net.Addr, now time.Time) {
	s.mu.Lock()
	s.indexPeerLocked(payload.Sender)
	record, ok := s.cache.Resolve(payload.Name, now)
	s.mu.Unlock()
	if !ok {
		return
	}

	response := &ResponsePayload{Sender: s.selfID, Record: record}
	data, err := response.Serialize()
	if err != nil {
		return
	}
	packet := &transport.Packet{PacketType: transport.PacketNameResponse, Data: data}
	if err := s.transport.Send(packet, from); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "processQuery",
			"error":    err.Error(),
		}).Debug("Failed to answer name query")
	}
}

// processResponse merges a directed answer and resolves whoever was
// waiting on it.
func (s *Service) processResponse(payload *ResponsePayload, now time.Time) {
	record := payload.Record
	if !s.admissible(record) {
		return
	}

	s.mu.Lock()
	s.indexPeerLocked(payload.Sender)
	s.indexPeerLocked(record.Owner)
	if s.cache.Apply(record) {
		s.resolvePendingLocked(record)
	}
	s.mu.Unlock()
}

// processRevoke honors a tombstone when it verifies and is at least as
// fresh as the cached record, then forwards it like an announce.
func (s *Service) processRevoke(payload *RevokePayload, from net.Addr, now time.Time) {
	tombstone := payload.Record
	if !s.admissible(tombstone) {
		return
	}

	s.mu.Lock()
	s.indexPeerLocked(payload.Sender)
	revoked := s.cache.Revoke(tombstone)
	s.mu.Unlock()

	if revoked && payload.Hops > 0 {
		s.forwardRevoke(tombstone, payload.Hops-1, from)
	}
}

// admissible applies the record acceptance policy: the name must be in
// normalized global form and the signature must verify against the
// claimed owner. Unsigned records pass only with AcceptUnsigned.
func (s *Service) admissible(record *NameRecord) bool {
	normalized, err := Normalize(record.Name)
	if err != nil || normalized != record.Name || IsCryptoName(record.Name) {
		logrus.WithFields(logrus.Fields{
			"function": "admissible",
			"name":     record.Name,
		}).Trace("Dropped record with malformed name")
		return false
	}

	if record.Signed() {
		if !record.VerifySignature() {
			logrus.WithFields(logrus.Fields{
				"function": "admissible",
				"name":     record.Name,
			}).Debug("Dropped record with invalid signature")
			return false
		}
		return true
	}
	return s.config.AcceptUnsigned
}

// resolvePendingLocked delivers a freshly cached record to a waiting
// lookup. Callers hold the service lock.
func (s *Service) resolvePendingLocked(record *NameRecord) {
	lookup, ok := s.pending[record.Name]
	if !ok {
		return
	}
	delete(s.pending, record.Name)
	lookup.deliver(&LookupResult{Record: record})
}

// settlePendingLookups drains directory answers into waiting lookups
// and times out the rest.
func (s *Service) settlePendingLookups(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, lookup := range s.pending {
		s.checkDirectoryAnswer(lookup, now)
		if lookup.finished {
			delete(s.pending, name)
			continue
		}
		if !now.Before(lookup.deadline) {
			delete(s.pending, name)
			lookup.deliver(&LookupResult{Err: ErrLookupTimeout})
		}
	}
}

// checkDirectoryAnswer consumes a directory retrieve result if one is
// ready, resolving the lookup when the stored record verifies. Callers
// hold the service lock.
func (s *Service) checkDirectoryAnswer(lookup *NameLookup, now time.Time) {
	if lookup.dhtLookup == nil {
		return
	}

	select {
	case result := <-lookup.dhtLookup.Results:
		lookup.dhtLookup = nil
		if result == nil || !result.Found {
			return
		}
		record, _, err := UnmarshalNameRecord(result.Value)
		if err != nil || record.Name != lookup.Name || !s.admissible(record) {
			logrus.WithFields(logrus.Fields{
				"function": "checkDirectoryAnswer",
				"name":     lookup.Name,
			}).Debug("Discarded unusable directory record")
			return
		}
		s.cache.Apply(record)
		s.indexPeerLocked(record.Owner)
		lookup.deliver(&LookupResult{Record: record})
	default:
	}
}

// refreshOwnNameIfDue re-announces and re-stores the own name on the
// refresh cadence so observers' TTLs keep renewing.
func (s *Service) refreshOwnNameIfDue(now time.Time) {
	s.mu.Lock()
	due := s.ownRecord != nil && !now.Before(s.nextRefreshAt)
	s.mu.Unlock()
	if !due {
		return
	}

	record, err := s.renewOwnRecord(now)
	if err != nil {
		return
	}
	s.broadcastAnnounce(record, uint8(s.config.HopBudget), nil)
	s.storeInDirectory(record, now)
}

// renewOwnRecord re-signs the own registration with a fresh timestamp.
func (s *Service) renewOwnRecord(now time.Time) (*NameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ownRecord == nil {
		return nil, ErrNotRegistered
	}

	record := &NameRecord{
		Name:         s.ownName,
		Owner:        s.selfID,
		RegisteredAt: now.Truncate(time.Millisecond),
	}
	if err := record.SignWith(s.keys); err != nil {
		return nil, err
	}
	s.ownRecord = record
	s.nextRefreshAt = now.Add(s.config.RefreshInterval)
	s.cache.Apply(record)
	return record, nil
}

// storeInDirectory writes the record into the peer directory under the
// name's digest, placing it on the nodes closest to the digest.
// Best-effort: failures are logged, gossip still propagates the name.
func (s *Service) storeInDirectory(record *NameRecord, now time.Time) {
	data, err := record.Marshal()
	if err != nil {
		return
	}
	if err := s.directory.Store(crypto.NameDigest(record.Name), data, now); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "storeInDirectory",
			"name":     record.Name,
			"error":    err.Error(),
		}).Warn("Failed to store name record in directory")
	}
}

// broadcastAnnounce sends the record to the gossip fanout.
func (s *Service) broadcastAnnounce(record *NameRecord, hops uint8, exclude net.Addr) {
	payload := &AnnouncePayload{Sender: s.selfID, Hops: hops, Record: record}
	data, err := payload.Serialize()
	if err != nil {
		return
	}
	s.sendToFanout(&transport.Packet{PacketType: transport.PacketNameAnnounce, Data: data}, exclude)
}

func (s *Service) forwardAnnounce(record *NameRecord, hops uint8, exclude net.Addr) {
	s.broadcastAnnounce(record, hops, exclude)
}

// broadcastRevoke sends the tombstone to the gossip fanout.
func (s *Service) broadcastRevoke(tombstone *NameRecord, hops uint8, exclude net.Addr) {
	payload := &RevokePayload{Sender: s.selfID, Hops: hops, Record: tombstone}
	data, err := payload.Serialize()
	if err != nil {
		return
	}
	s.sendToFanout(&transport.Packet{PacketType: transport.PacketNameRevoke, Data: data}, exclude)
}

func (s *Service) forwardRevoke(tombstone *NameRecord, hops uint8, exclude net.Addr) {
	s.broadcastRevoke(tombstone, hops, exclude)
}

// broadcastQuery asks the gossip fanout who holds the name.
func (s *Service) broadcastQuery(name string) {
	payload := &QueryPayload{Sender: s.selfID, Name: name}
	data, err := payload.Serialize()
	if err != nil {
		return
	}
	s.sendToFanout(&transport.Packet{PacketType: transport.PacketNameQuery, Data: data}, nil)
}

// sendToFanout delivers the packet to up to GossipFanout directory
// peers, excluding the address a forwarded record arrived from.
func (s *Service) sendToFanout(packet *transport.Packet, exclude net.Addr) {
	targets := s.gossipTargets(exclude)
	for _, node := range targets {
		if err := s.transport.Send(packet, node.Address); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sendToFanout",
				"peer":     node.ID.String()[:16],
				"error":    err.Error(),
			}).Trace("Gossip send failed")
		}
	}
}

// gossipTargets picks a random fanout-sized subset of directory peers.
func (s *Service) gossipTargets(exclude net.Addr) []*dht.Node {
	all := s.directory.RoutingTable().GetAllNodes()

	candidates := make([]*dht.Node, 0, len(all))
	for _, node := range all {
		if node.Address == nil {
			continue
		}
		if exclude != nil && node.Address.String() == exclude.String() {
			continue
		}
		candidates = append(candidates, node)
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > s.config.GossipFanout {
		candidates = candidates[:s.config.GossipFanout]
	}
	return candidates
}

// resolveCryptoNameResult answers a crypto-name from the observed-peer
// index. A synthesized record keeps the lookup surface uniform.
func (s *Service) resolveCryptoNameResult(name string, now time.Time) *LookupResult {
	s.mu.Lock()
	id, ok := s.cryptoIndex[name]
	s.mu.Unlock()

	if !ok {
		return &LookupResult{Err: ErrNameNotFound}
	}
	return &LookupResult{Record: &NameRecord{
		Name:         name,
		Owner:        id,
		RegisteredAt: now,
	}}
}

// indexPeerLocked records a peer in the crypto-name reverse index.
// Callers hold the service lock.
func (s *Service) indexPeerLocked(id crypto.PeerID) {
	if id.IsZero() {
		return
	}
	s.cryptoIndex[CryptoNameOf(id)] = id
}
