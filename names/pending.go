package names

import (
	"time"

	"github.com/code3hr/cyxnet/dht"
)

// DefaultLookupTimeout bounds how long a name lookup waits for the
// network before resolving to not-found.
const DefaultLookupTimeout = 5 * time.Second

// LookupResult is the outcome of a name lookup.
type LookupResult struct {
	Record *NameRecord
	Err    error
}

// NameLookup is one in-flight name resolution. The result is delivered
// exactly once on Results: the first verified matching record, or
// ErrLookupTimeout at the deadline. Concurrent lookups for the same
// name share one NameLookup.
type NameLookup struct {
	Name    string
	Results chan *LookupResult

	deadline  time.Time
	finished  bool
	dhtLookup *dht.ValueLookup
}

// resolvedLookup builds an already-finished lookup carrying result,
// for cache hits and synchronous failures.
func resolvedLookup(name string, result *LookupResult) *NameLookup {
	lookup := &NameLookup{
		Name:     name,
		Results:  make(chan *LookupResult, 1),
		finished: true,
	}
	lookup.Results <- result
	return lookup
}

// deliver hands the result to the waiter exactly once.
func (l *NameLookup) deliver(result *LookupResult) {
	if l.finished {
		return
	}
	l.finished = true
	select {
	case l.Results <- result:
	default:
	}
}
