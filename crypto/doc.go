// Package crypto implements the identity primitives for the cyxnet
// connectivity layer.
//
// Every peer is identified by a 32-byte [PeerID], which is the peer's
// Ed25519 public key. The private half of the identity signs name
// registration records so observers can verify ownership without any
// directory service. Payload encryption and onion routing are owned by
// the external protocol library and are deliberately absent here.
//
// # Core Types
//
//   - [PeerID]: 32-byte peer identifier, rendered as 64 hex characters
//   - [KeyPair]: Ed25519 identity key pair
//   - [TimeProvider]: injectable clock for deterministic testing
//
// # Identity
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("peer id:", keys.PeerID())
//
// # Digests
//
// BLAKE2b-256 digests derive the DHT storage key for a registered name
// and the short crypto-name of a peer:
//
//	key := crypto.NameDigest("alice")     // DHT storage key for the name
//	d := crypto.CryptoNameDigest(peerID)  // input to names.CryptoNameOf
package crypto
