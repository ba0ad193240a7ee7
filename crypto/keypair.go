package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// SignatureSize is the length of an Ed25519 record signature in bytes.
const SignatureSize = ed25519.SignatureSize

// KeyPair is a peer's Ed25519 identity. The public key doubles as the
// peer identifier, so there is no separate address-book entry to
// distribute: knowing a PeerID is knowing the verification key.
type KeyPair struct {
	Public  PeerID
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random identity key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// FromSecretKey reconstructs a key pair from a 32-byte Ed25519 seed,
// typically one the embedding application persisted across restarts.
func FromSecretKey(seed [32]byte) (*KeyPair, error) {
	if isZeroKey(seed) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	priv := ed25519.NewKeyFromSeed(seed[:])
	kp := &KeyPair{private: priv}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// PeerID returns the peer identifier derived from this key pair.
func (kp *KeyPair) PeerID() PeerID {
	return kp.Public
}

// Seed returns the 32-byte seed of the private key for persistence by
// the embedding application. This layer never persists it itself.
func (kp *KeyPair) Seed() [32]byte {
	var seed [32]byte
	copy(seed[:], kp.private.Seed())
	return seed
}

// Sign signs a message with the identity key.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.private, message)
}

// Verify checks a signature against the claimed signer's peer ID.
func Verify(signer PeerID, message, signature []byte) bool {
	if len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, signature)
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
