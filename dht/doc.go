// Package dht implements the Kademlia peer directory for cyxnet.
//
// The DHT answers one question: given a peer ID, where is that peer
// reachable right now? Peers publish their current address on every
// connect and IP change, and look up others through iterative queries
// that converge on the nodes closest to the target ID.
//
// # Structure
//
// RoutingTable holds known nodes in 256 distance-indexed k-buckets.
// BootstrapManager joins the network through seed nodes. LookupManager
// runs iterative node and value lookups. Storage keeps key/value
// records with expiry for the small record types the network stores,
// such as signed name records. Maintainer keeps the table fresh.
//
// All waiting is timestamp-based: the owning node calls Poll(now) on
// each tick and the DHT advances whatever is due. Packet handlers only
// enqueue work; nothing blocks on the network.
package dht
