// Package names implements the gossip name service: human-chosen
// global names propagated and resolved best-effort over the peer
// network, deterministic crypto-names derived from peer IDs, and
// private local petnames.
//
// Global names are not exclusive. Registration broadcasts a signed
// record and stores it in the peer directory; conflicting claims are
// resolved at each observer by last-writer-wins timestamp ordering, so
// two peers can transiently believe they own the same name until
// gossip converges. Crypto-names sidestep all of that: they are a
// fixed encoding of the peer ID's digest and resolve locally with no
// network round trip.
//
// The Service does no background work. Inbound packets are queued by
// the transport handlers and drained by Poll, which also expires cache
// entries, times out pending lookups, and re-announces the own name.
// All waiting is expressed against caller-supplied timestamps.
package names
