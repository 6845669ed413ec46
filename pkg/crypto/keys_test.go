package crypto_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrownet/escrowd/pkg/crypto"
)

func TestSignAndVerify(t *testing.T) {
	keyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("test"))
	signature, err := keyPair.Sign(digest[:])
	require.NoError(t, err)
	require.True(t, keyPair.Verify(digest[:], signature))

	tamperedDigest := make([]byte, len(digest))
	copy(tamperedDigest, digest[:])
	tamperedDigest[0] ^= 0x01
	require.False(t, keyPair.Verify(tamperedDigest, signature))

	tamperedSignature := make([]byte, len(signature))
	copy(tamperedSignature, signature)
	tamperedSignature[0] ^= 0x01
	require.False(t, keyPair.Verify(digest[:], tamperedSignature))
}

func TestAsymmetricEncryptAndDecrypt(t *testing.T) {
	keyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)

	original := []byte("test")
	ciphertext, err := keyPair.Encrypt(original)
	require.NoError(t, err)
	require.False(t, bytes.Equal(original, ciphertext))

	decrypted, err := keyPair.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, original, decrypted)
}

func TestKeyPairBytesRoundTrip(t *testing.T) {
	keyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)

	restored, err := crypto.KeyPairFromBytes(
		keyPair.PublicKeyBytes(), keyPair.PrivateKeyBytes(),
	)
	require.NoError(t, err)
	require.Equal(t, keyPair.InterfaceID, restored.InterfaceID)
	require.Equal(t, keyPair.PrivateKeyBytes(), restored.PrivateKeyBytes())
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	keyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)

	restored, err := crypto.PublicKeyFromBytes(keyPair.PublicKeyBytes())
	require.NoError(t, err)
	require.Equal(t, keyPair.InterfaceID, restored.InterfaceID)

	digest := sha256.Sum256([]byte("test"))
	signature, err := keyPair.Sign(digest[:])
	require.NoError(t, err)
	require.True(t, restored.Verify(digest[:], signature))
}

func TestInterfaceIDIsPublicKeyHash(t *testing.T) {
	keyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)

	digest := sha256.Sum256(keyPair.PublicKeyBytes())
	require.Equal(t, digest[:], keyPair.InterfaceID)
	require.Equal(t, digest[:], keyPair.Public().InterfaceID)
}
