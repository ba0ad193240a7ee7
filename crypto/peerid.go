package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
)

// PeerIDSize is the length of a peer identifier in bytes.
const PeerIDSize = 32

// PeerID is the long-lived identifier of a peer. It is the peer's
// Ed25519 public key, so any record signed by the peer can be verified
// against the identifier itself. Equality is byte-wise.
type PeerID [PeerIDSize]byte

// ParsePeerID parses a peer ID from its 64-character hexadecimal string
// representation. Malformed input is rejected, never coerced.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	if len(s) != PeerIDSize*2 {
		return id, errors.New("invalid peer ID length")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.New("invalid peer ID encoding")
	}
	copy(id[:], data)
	return id, nil
}

// PeerIDFromBytes copies a 32-byte slice into a PeerID.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != PeerIDSize {
		return id, errors.New("invalid peer ID length")
	}
	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hexadecimal representation of the peer ID.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the peer ID is all zeros. The zero ID is not a
// valid peer identity and is used as the "unset" value.
func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

// XOR returns the Kademlia distance between two peer IDs.
func (id PeerID) XOR(other PeerID) [PeerIDSize]byte {
	var dist [PeerIDSize]byte
	for i := 0; i < PeerIDSize; i++ {
		dist[i] = id[i] ^ other[i]
	}
	return dist
}

// Less reports whether id orders before other byte-wise. Used as the
// deterministic tie-break when two name records carry the same timestamp.
func (id PeerID) Less(other PeerID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}
