package dbbadger

import (
	"context"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrownet/escrowd/internal/core/domain"
)

type keyRepositoryImpl struct {
	db *DbManager
}

// NewKeyRepositoryImpl initialize a badger implementation of the
// domain.KeyRepository
func NewKeyRepositoryImpl(db *DbManager) domain.KeyRepository {
	return keyRepositoryImpl{db: db}
}

func (r keyRepositoryImpl) StoreKeyPair(ctx context.Context, kp domain.StoredKeyPair) error {
	record := keyPairRecord{
		InterfaceID: kp.InterfaceID,
		PublicKey:   kp.PublicKey,
		PrivateKey:  kp.PrivateKey,
	}
	err := r.db.Store.Insert(kp.InterfaceID, &record)
	if err == badgerhold.ErrKeyExists {
		return nil
	}
	return err
}

func (r keyRepositoryImpl) GetKeyPair(
	ctx context.Context, interfaceID string,
) (domain.StoredKeyPair, error) {
	var record keyPairRecord
	err := r.db.Store.Get(interfaceID, &record)
	if err == badgerhold.ErrNotFound {
		return domain.StoredKeyPair{}, domain.ErrKeyNotFound
	}
	if err != nil {
		return domain.StoredKeyPair{}, err
	}
	return domain.StoredKeyPair{
		InterfaceID: record.InterfaceID,
		PublicKey:   record.PublicKey,
		PrivateKey:  record.PrivateKey,
	}, nil
}

func (r keyRepositoryImpl) StorePublicKey(ctx context.Context, pk domain.StoredPublicKey) error {
	record := publicKeyRecord{
		InterfaceID: pk.InterfaceID,
		PublicKey:   pk.PublicKey,
	}
	err := r.db.Store.Insert(pk.InterfaceID, &record)
	if err == badgerhold.ErrKeyExists {
		return nil
	}
	return err
}

func (r keyRepositoryImpl) GetPublicKey(
	ctx context.Context, interfaceID string,
) (domain.StoredPublicKey, error) {
	var record publicKeyRecord
	err := r.db.Store.Get(interfaceID, &record)
	if err == badgerhold.ErrNotFound {
		return domain.StoredPublicKey{}, domain.ErrKeyNotFound
	}
	if err != nil {
		return domain.StoredPublicKey{}, err
	}
	return domain.StoredPublicKey{
		InterfaceID: record.InterfaceID,
		PublicKey:   record.PublicKey,
	}, nil
}
