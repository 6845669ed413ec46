package application

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/pkg/crypto"
)

// KeyManagerService generates and persists the user's key pairs and the
// public keys announced by peers. It satisfies the messaging layer's key
// store contract: lookups return nil without error when nothing is stored
// under the given interface ID.
type KeyManagerService struct {
	repo domain.KeyRepository
}

func NewKeyManagerService(repo domain.KeyRepository) *KeyManagerService {
	return &KeyManagerService{repo: repo}
}

// GenerateKeyPair generates a new key pair and persists it.
func (s *KeyManagerService) GenerateKeyPair(ctx context.Context) (*crypto.KeyPair, error) {
	keyPair, err := crypto.NewKeyPair()
	if err != nil {
		return nil, err
	}
	stored := domain.StoredKeyPair{
		InterfaceID: base64.StdEncoding.EncodeToString(keyPair.InterfaceID),
		PublicKey:   base64.StdEncoding.EncodeToString(keyPair.PublicKeyBytes()),
		PrivateKey:  base64.StdEncoding.EncodeToString(keyPair.PrivateKeyBytes()),
	}
	if err := s.repo.StoreKeyPair(ctx, stored); err != nil {
		return nil, err
	}
	return keyPair, nil
}

// GetKeyPair returns the stored key pair with the given interface ID, or
// nil when none is stored.
func (s *KeyManagerService) GetKeyPair(interfaceID []byte) (*crypto.KeyPair, error) {
	encoded := base64.StdEncoding.EncodeToString(interfaceID)
	stored, err := s.repo.GetKeyPair(context.Background(), encoded)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pubBytes, err := base64.StdEncoding.DecodeString(stored.PublicKey)
	if err != nil {
		return nil, err
	}
	privBytes, err := base64.StdEncoding.DecodeString(stored.PrivateKey)
	if err != nil {
		return nil, err
	}
	return crypto.KeyPairFromBytes(pubBytes, privBytes)
}

// StorePublicKey persists a peer's announced public key.
func (s *KeyManagerService) StorePublicKey(ctx context.Context, pk *crypto.PublicKey) error {
	return s.repo.StorePublicKey(ctx, domain.StoredPublicKey{
		InterfaceID: base64.StdEncoding.EncodeToString(pk.InterfaceID),
		PublicKey:   base64.StdEncoding.EncodeToString(pk.Bytes()),
	})
}

// GetPublicKey returns the stored public key with the given interface ID,
// or nil when none is stored.
func (s *KeyManagerService) GetPublicKey(interfaceID []byte) (*crypto.PublicKey, error) {
	encoded := base64.StdEncoding.EncodeToString(interfaceID)
	stored, err := s.repo.GetPublicKey(context.Background(), encoded)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pubBytes, err := base64.StdEncoding.DecodeString(stored.PublicKey)
	if err != nil {
		return nil, err
	}
	return crypto.PublicKeyFromBytes(pubBytes)
}
