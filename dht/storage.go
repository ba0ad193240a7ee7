package dht

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
)

const (
	// DefaultStorageCapacity bounds how many records a node holds for
	// the network before the least recently used one is evicted.
	DefaultStorageCapacity = 1024
	// DefaultRecordTTL is how long a stored record stays retrievable.
	// Publishers refresh well before this elapses.
	DefaultRecordTTL = 24 * time.Hour
)

// StoredRecord is one key/value entry held on behalf of the network.
type StoredRecord struct {
	Value    []byte
	Origin   crypto.PeerID
	StoredAt time.Time
}

// Storage holds the small records this node stores for the network,
// with LRU eviction and per-record expiry.
type Storage struct {
	records *expirable.LRU[[32]byte, StoredRecord]
}

// NewStorage creates a record store. Zero capacity or TTL fall back to
// the defaults.
func NewStorage(capacity int, ttl time.Duration) *Storage {
	if capacity <= 0 {
		capacity = DefaultStorageCapacity
	}
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &Storage{
		records: expirable.NewLRU[[32]byte, StoredRecord](capacity, nil, ttl),
	}
}

// Put stores a value under key. Storing again resets the record's
// expiry, which is how publishers keep records alive.
func (s *Storage) Put(key [32]byte, value []byte, origin crypto.PeerID) error {
	if len(value) > maxWireValueSize {
		return errValueTooLarge
	}

	stored := StoredRecord{
		Value:    make([]byte, len(value)),
		Origin:   origin,
		StoredAt: crypto.GetDefaultTimeProvider().Now(),
	}
	copy(stored.Value, value)
	s.records.Add(key, stored)

	logrus.WithFields(logrus.Fields{
		"function":   "Put",
		"value_size": len(value),
	}).Trace("Record stored")

	return nil
}

// Get returns the value stored under key, if present and unexpired.
func (s *Storage) Get(key [32]byte) ([]byte, bool) {
	record, ok := s.records.Get(key)
	if !ok {
		return nil, false
	}
	value := make([]byte, len(record.Value))
	copy(value, record.Value)
	return value, true
}

// Delete removes the record under key, reporting whether it existed.
func (s *Storage) Delete(key [32]byte) bool {
	return s.records.Remove(key)
}

// Len returns the number of live records.
func (s *Storage) Len() int {
	return s.records.Len()
}
