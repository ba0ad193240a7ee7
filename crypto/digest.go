package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// NameDigest returns the 32-byte BLAKE2b digest of a normalized name.
// It is the key under which the name's registration record is stored in
// the DHT, placing the record on the nodes closest to the digest rather
// than closest to the registrant.
func NameDigest(name string) [32]byte {
	return blake2b.Sum256([]byte(name))
}

// CryptoNameDigest returns the BLAKE2b digest of a peer ID. The names
// package encodes the leading bytes as the peer's 8-character
// crypto-name; the full digest is returned so the encoding policy stays
// out of this package.
func CryptoNameDigest(id PeerID) [32]byte {
	return blake2b.Sum256(id[:])
}
