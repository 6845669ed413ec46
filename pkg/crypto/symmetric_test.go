package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrownet/escrowd/pkg/crypto"
)

func TestSymmetricEncryptAndDecrypt(t *testing.T) {
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)

	original := []byte("test")
	encrypted, err := key.Encrypt(original)
	require.NoError(t, err)
	require.NotEqual(t, original, encrypted.Ciphertext)

	decrypted, err := key.Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, original, decrypted)
}

func TestSymmetricFreshIVPerEncryption(t *testing.T) {
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)

	first, err := key.Encrypt([]byte("test"))
	require.NoError(t, err)
	second, err := key.Encrypt([]byte("test"))
	require.NoError(t, err)
	require.NotEqual(t, first.IV, second.IV)
	require.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestSymmetricKeyFromBytes(t *testing.T) {
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)

	restored, err := crypto.SymmetricKeyFromBytes(key.Bytes)
	require.NoError(t, err)

	encrypted, err := key.Encrypt([]byte("test"))
	require.NoError(t, err)
	decrypted, err := restored.Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, []byte("test"), decrypted)

	_, err = crypto.SymmetricKeyFromBytes([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestSymmetricDecryptRejectsMalformedInput(t *testing.T) {
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)

	encrypted, err := key.Encrypt([]byte("test"))
	require.NoError(t, err)

	_, err = key.Decrypt(&crypto.SymmetricallyEncryptedData{
		Ciphertext: encrypted.Ciphertext[:5], IV: encrypted.IV,
	})
	require.Error(t, err)

	_, err = key.Decrypt(&crypto.SymmetricallyEncryptedData{
		Ciphertext: encrypted.Ciphertext, IV: encrypted.IV[:3],
	})
	require.Error(t, err)
}
