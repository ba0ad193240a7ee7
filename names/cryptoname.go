package names

import (
	"encoding/base32"
	"strings"

	"github.com/code3hr/cyxnet/crypto"
)

// CryptoNameLength is the fixed length of a crypto-name.
const CryptoNameLength = 8

// cryptoNameAlphabet is the RFC 4648 base-32 alphabet, lowercased. It
// carries no 0, 1, 8 or 9, which is what keeps crypto-names
// recognizable by shape alone.
const cryptoNameAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

var cryptoNameEncoding = base32.NewEncoding(cryptoNameAlphabet).WithPadding(base32.NoPadding)

// CryptoNameOf derives the peer's crypto-name: the first 40 bits of
// the peer ID's digest, encoded as 8 base-32 characters. The same peer
// ID always yields the same name, so it resolves with no registration
// and no network round trip.
func CryptoNameOf(id crypto.PeerID) string {
	digest := crypto.CryptoNameDigest(id)
	return cryptoNameEncoding.EncodeToString(digest[:5])
}

// IsCryptoName reports whether name has the crypto-name shape: exactly
// 8 characters of the base-32 alphabet, case-insensitive.
func IsCryptoName(name string) bool {
	if len(name) != CryptoNameLength {
		return false
	}
	for _, c := range strings.ToLower(name) {
		if !strings.ContainsRune(cryptoNameAlphabet, c) {
			return false
		}
	}
	return true
}
