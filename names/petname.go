package names

import (
	"sync"

	"github.com/code3hr/cyxnet/crypto"
)

// PetnameStore holds the user's private aliases for peers. Petnames
// never expire, never travel the network, and take priority over any
// global name when building a display string. Persistence is the
// embedding application's job.
type PetnameStore struct {
	mu    sync.RWMutex
	names map[crypto.PeerID]string
}

// NewPetnameStore creates an empty petname store.
func NewPetnameStore() *PetnameStore {
	return &PetnameStore{names: make(map[crypto.PeerID]string)}
}

// Set assigns a petname to the peer. An empty name removes the entry.
func (ps *PetnameStore) Set(peer crypto.PeerID, name string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if name == "" {
		delete(ps.names, peer)
		return
	}
	ps.names[peer] = name
}

// Get returns the petname for the peer, if one is set.
func (ps *PetnameStore) Get(peer crypto.PeerID) (string, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	name, ok := ps.names[peer]
	return name, ok
}

// Len returns the number of stored petnames.
func (ps *PetnameStore) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.names)
}
