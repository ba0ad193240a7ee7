package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotNil(t, kp)

	assert.False(t, kp.PeerID().IsZero())

	// Two generated identities must differ.
	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, kp.PeerID(), other.PeerID())
}

func TestFromSecretKey_RoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	restored, err := FromSecretKey(kp.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.PeerID(), restored.PeerID())
}

func TestFromSecretKey_RejectsZeroSeed(t *testing.T) {
	var zero [32]byte

	kp, err := FromSecretKey(zero)
	assert.Nil(t, kp)
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("register alice 1700000000")
	sig := kp.Sign(message)
	require.Len(t, sig, SignatureSize)

	assert.True(t, Verify(kp.PeerID(), message, sig))

	// Tampered message fails.
	assert.False(t, Verify(kp.PeerID(), []byte("register mallory 1700000000"), sig))

	// Wrong signer fails.
	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, Verify(other.PeerID(), message, sig))
}

func TestVerify_RejectsMalformedSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.False(t, Verify(kp.PeerID(), []byte("msg"), nil))
	assert.False(t, Verify(kp.PeerID(), []byte("msg"), []byte{1, 2, 3}))
}
