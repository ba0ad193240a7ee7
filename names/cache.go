package names

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
)

const (
	// NameRecordTTL is how long a cached registration stays
	// resolvable without being refreshed.
	NameRecordTTL = 24 * time.Hour
	// RefreshInterval is how often a registrant re-announces its own
	// name, well inside the record TTL.
	RefreshInterval = time.Hour
)

// Cache is the name service's view of the network's registrations,
// merged under last-writer-wins. It also keeps a reverse owner→name
// index for building display names. The cache is not safe for
// concurrent use; the owning Service serializes access.
type Cache struct {
	ttl        time.Duration
	records    map[string]*NameRecord
	byOwner    map[crypto.PeerID]string
	tombstones map[string]*NameRecord
}

// NewCache creates a name cache. Non-positive ttl uses NameRecordTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = NameRecordTTL
	}
	return &Cache{
		ttl:        ttl,
		records:    make(map[string]*NameRecord),
		byOwner:    make(map[crypto.PeerID]string),
		tombstones: make(map[string]*NameRecord),
	}
}

// Apply merges a record under last-writer-wins, reporting whether it
// replaced the cached view. Records losing the timestamp order (or the
// owner tie-break at identical timestamps) leave the cache unchanged,
// as does any record no fresher than a remembered tombstone — gossip
// redelivers old announces after a revoke, and ordering is decided by
// the record timestamps, not by arrival order.
func (c *Cache) Apply(record *NameRecord) bool {
	if tombstone, ok := c.tombstones[record.Name]; ok {
		if !record.RegisteredAt.After(tombstone.RegisteredAt) {
			return false
		}
		delete(c.tombstones, record.Name)
	}

	existing, ok := c.records[record.Name]
	if ok && !record.Supersedes(existing) {
		return false
	}

	if ok && existing.Owner != record.Owner {
		delete(c.byOwner, existing.Owner)
		logrus.WithFields(logrus.Fields{
			"function": "Apply",
			"name":     record.Name,
		}).Debug("Name changed owner")
	}

	c.records[record.Name] = record
	c.byOwner[record.Owner] = record.Name
	return true
}

// Revoke removes the cached record if the tombstone is at least as
// fresh as it, reporting whether anything was removed. Stale
// tombstones arriving out of order lose to the newer registration.
// An honored tombstone is remembered for the record lifetime so a
// redelivered older announce cannot resurrect the name; only a record
// strictly newer than the tombstone registers it again.
func (c *Cache) Revoke(tombstone *NameRecord) bool {
	existing, ok := c.records[tombstone.Name]
	if ok {
		if tombstone.RegisteredAt.Before(existing.RegisteredAt) {
			return false
		}
		if existing.Owner != tombstone.Owner {
			return false
		}
		c.remove(tombstone.Name, existing)
	}

	if prior, held := c.tombstones[tombstone.Name]; !held || tombstone.RegisteredAt.After(prior.RegisteredAt) {
		c.tombstones[tombstone.Name] = tombstone
	}
	return ok
}

// Resolve returns the unexpired record for name, if cached.
func (c *Cache) Resolve(name string, now time.Time) (*NameRecord, bool) {
	record, ok := c.records[name]
	if !ok || record.Expired(now, c.ttl) {
		return nil, false
	}
	return record, true
}

// NameOf returns the cached global name owned by the peer, if any.
func (c *Cache) NameOf(owner crypto.PeerID) (string, bool) {
	name, ok := c.byOwner[owner]
	return name, ok
}

// Contains reports whether an unexpired record for name is cached.
func (c *Cache) Contains(name string, now time.Time) bool {
	_, ok := c.Resolve(name, now)
	return ok
}

// Remove drops the record for name, reporting whether it existed.
func (c *Cache) Remove(name string) bool {
	record, ok := c.records[name]
	if !ok {
		return false
	}
	c.remove(name, record)
	return true
}

// Expire sweeps out records past their lifetime, returning how many
// were dropped. Tombstones age out on the same schedule.
func (c *Cache) Expire(now time.Time) int {
	expired := 0
	for name, record := range c.records {
		if record.Expired(now, c.ttl) {
			c.remove(name, record)
			expired++
		}
	}
	for name, tombstone := range c.tombstones {
		if tombstone.Expired(now, c.ttl) {
			delete(c.tombstones, name)
		}
	}
	if expired > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Expire",
			"expired":  expired,
		}).Debug("Expired name records")
	}
	return expired
}

// Len returns the number of cached records, expired or not.
func (c *Cache) Len() int {
	return len(c.records)
}

func (c *Cache) remove(name string, record *NameRecord) {
	delete(c.records, name)
	if c.byOwner[record.Owner] == name {
		delete(c.byOwner, record.Owner)
	}
}
