package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// symmetricKeySize is the length in bytes of every symmetric key.
const symmetricKeySize = 32

// SymmetricKey is an AES-256 key used to encrypt message payloads in CBC
// mode with a fresh random initialization vector per encryption.
type SymmetricKey struct {
	Bytes []byte
}

// SymmetricallyEncryptedData holds a ciphertext together with the
// initialization vector it was produced with.
type SymmetricallyEncryptedData struct {
	Ciphertext []byte
	IV         []byte
}

// NewSymmetricKey generates a new random symmetric key.
func NewSymmetricKey() (*SymmetricKey, error) {
	buf := make([]byte, symmetricKeySize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating symmetric key: %w", err)
	}
	return &SymmetricKey{Bytes: buf}, nil
}

// SymmetricKeyFromBytes restores a symmetric key from its raw bytes.
func SymmetricKeyFromBytes(keyBytes []byte) (*SymmetricKey, error) {
	if len(keyBytes) != symmetricKeySize {
		return nil, fmt.Errorf("invalid symmetric key length %d", len(keyBytes))
	}
	return &SymmetricKey{Bytes: keyBytes}, nil
}

// Encrypt encrypts data under this key with AES-CBC and PKCS#7 padding,
// using a newly generated random initialization vector.
func (k *SymmetricKey) Encrypt(data []byte) (*SymmetricallyEncryptedData, error) {
	block, err := aes.NewCipher(k.Bytes)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating initialization vector: %w", err)
	}
	padded := pkcs7Pad(data, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return &SymmetricallyEncryptedData{Ciphertext: ciphertext, IV: iv}, nil
}

// Decrypt decrypts data that was encrypted under this key.
func (k *SymmetricKey) Decrypt(data *SymmetricallyEncryptedData) ([]byte, error) {
	block, err := aes.NewCipher(k.Bytes)
	if err != nil {
		return nil, err
	}
	if len(data.IV) != aes.BlockSize {
		return nil, fmt.Errorf("invalid initialization vector length %d", len(data.IV))
	}
	if len(data.Ciphertext) == 0 || len(data.Ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext length %d", len(data.Ciphertext))
	}
	plaintext := make([]byte, len(data.Ciphertext))
	cipher.NewCBCDecrypter(block, data.IV).CryptBlocks(plaintext, data.Ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded data length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
