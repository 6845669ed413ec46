package domain

import "context"

// StoredKeyPair is the persisted form of a key pair: its interface ID and
// the PKCS#1 encodings of its keys, all Base64 encoded.
type StoredKeyPair struct {
	InterfaceID string
	PublicKey   string
	PrivateKey  string
}

// StoredPublicKey is the persisted form of a peer's public key.
type StoredPublicKey struct {
	InterfaceID string
	PublicKey   string
}

// KeyRepository is the abstraction for any kind of database intended to
// persist the user's key pairs and peers' public keys, keyed by Base64
// interface ID.
type KeyRepository interface {
	// StoreKeyPair inserts the given key pair.
	StoreKeyPair(ctx context.Context, kp StoredKeyPair) error
	// GetKeyPair returns the key pair with the given interface ID, or
	// ErrKeyNotFound.
	GetKeyPair(ctx context.Context, interfaceID string) (StoredKeyPair, error)
	// StorePublicKey inserts the given public key.
	StorePublicKey(ctx context.Context, pk StoredPublicKey) error
	// GetPublicKey returns the public key with the given interface ID, or
	// ErrKeyNotFound.
	GetPublicKey(ctx context.Context, interfaceID string) (StoredPublicKey, error)
}
