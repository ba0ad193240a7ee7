// Package connection establishes and maintains direct peer-to-peer
// paths across NATs.
//
// Each peer moves through a small state machine: Disconnected →
// Discovering → Connecting → {Connected | Relaying} → Disconnected.
// Discovering gates on the node's own public-address discovery;
// Connecting fires paced UDP hole punches at the peer's candidate
// addresses; exhausted punches fall back to a relay session. A relayed
// peer keeps punching in the background and migrates to a direct path
// the moment one opens.
//
// The Manager does all state work inside Poll, which the embedding
// node drives from its iteration loop. Transport handlers only enqueue
// inbound events; no timers or background state threads exist beyond
// the guarded STUN probe whose result the next Poll drains.
package connection
