package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// keySize is the modulus size in bits of every generated key pair.
const keySize = 2048

// KeyPair is an asymmetric key pair used for signing, verification,
// encryption and decryption of peer-to-peer messages. Its interface ID, the
// SHA-256 hash of the PKCS#1 encoding of its public key, is the stable
// identity under which the owner appears in all messages.
type KeyPair struct {
	InterfaceID []byte
	private     *rsa.PrivateKey
}

// NewKeyPair generates a new 2048-bit RSA key pair.
func NewKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &KeyPair{
		InterfaceID: interfaceID(&priv.PublicKey),
		private:     priv,
	}, nil
}

// KeyPairFromBytes restores a key pair from the PKCS#1 encodings of its
// public and private keys, as produced by PublicKeyBytes and PrivateKeyBytes.
func KeyPairFromBytes(pubBytes, privBytes []byte) (*KeyPair, error) {
	priv, err := x509.ParsePKCS1PrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	pub, err := x509.ParsePKCS1PublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 || pub.E != priv.PublicKey.E {
		return nil, fmt.Errorf("public key does not match private key")
	}
	return &KeyPair{
		InterfaceID: interfaceID(pub),
		private:     priv,
	}, nil
}

// Public returns the public half of the key pair.
func (k *KeyPair) Public() *PublicKey {
	return &PublicKey{
		InterfaceID: k.InterfaceID,
		key:         &k.private.PublicKey,
	}
}

// PublicKeyBytes returns the PKCS#1 encoding of the public key.
func (k *KeyPair) PublicKeyBytes() []byte {
	return x509.MarshalPKCS1PublicKey(&k.private.PublicKey)
}

// PrivateKeyBytes returns the PKCS#1 encoding of the private key.
func (k *KeyPair) PrivateKeyBytes() []byte {
	return x509.MarshalPKCS1PrivateKey(k.private)
}

// Sign signs data with RSASSA-PSS over its SHA-256 digest.
func (k *KeyPair) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, k.private, crypto.SHA256, digest[:], nil)
}

// Verify reports whether signature is a valid signature of data made with
// this key pair.
func (k *KeyPair) Verify(data, signature []byte) bool {
	return k.Public().Verify(data, signature)
}

// Encrypt encrypts data to the public half of this key pair with RSAES-OAEP.
func (k *KeyPair) Encrypt(data []byte) ([]byte, error) {
	return k.Public().Encrypt(data)
}

// Decrypt decrypts an RSAES-OAEP ciphertext encrypted to this key pair's
// public key.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, ciphertext, nil)
}

// PublicKey is the public half of a peer's key pair, used to verify the
// peer's message signatures and to encrypt data that only the peer can read.
type PublicKey struct {
	InterfaceID []byte
	key         *rsa.PublicKey
}

// PublicKeyFromBytes restores a public key from its PKCS#1 encoding.
func PublicKeyFromBytes(pubBytes []byte) (*PublicKey, error) {
	pub, err := x509.ParsePKCS1PublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return &PublicKey{
		InterfaceID: interfaceID(pub),
		key:         pub,
	}, nil
}

// Bytes returns the PKCS#1 encoding of the public key.
func (p *PublicKey) Bytes() []byte {
	return x509.MarshalPKCS1PublicKey(p.key)
}

// Verify reports whether signature is a valid RSASSA-PSS signature of data
// made with the key pair this public key belongs to.
func (p *PublicKey) Verify(data, signature []byte) bool {
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(p.key, crypto.SHA256, digest[:], signature, nil) == nil
}

// Encrypt encrypts data to this public key with RSAES-OAEP.
func (p *PublicKey) Encrypt(data []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, p.key, data, nil)
}

func interfaceID(pub *rsa.PublicKey) []byte {
	digest := sha256.Sum256(x509.MarshalPKCS1PublicKey(pub))
	return digest[:]
}
