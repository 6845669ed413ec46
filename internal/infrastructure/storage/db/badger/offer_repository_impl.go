package dbbadger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrownet/escrowd/internal/core/domain"
)

type offerRepositoryImpl struct {
	db *DbManager
}

// NewOfferRepositoryImpl initialize a badger implementation of the
// domain.OfferRepository
func NewOfferRepositoryImpl(db *DbManager) domain.OfferRepository {
	return offerRepositoryImpl{db: db}
}

func (r offerRepositoryImpl) StoreOffer(ctx context.Context, offer *domain.Offer) error {
	key := entityKey(encodeEntityID(offer.ID), offer.ChainID.String())
	return r.db.Store.Upsert(key, offerToRecord(key, offer))
}

func (r offerRepositoryImpl) GetOffer(
	ctx context.Context, offerID, chainID string,
) (*domain.Offer, error) {
	record, err := r.getRecord(offerID, chainID)
	if err != nil {
		return nil, err
	}
	return offerFromRecord(record), nil
}

func (r offerRepositoryImpl) DeleteOffer(ctx context.Context, offerID, chainID string) error {
	err := r.db.Store.Delete(entityKey(offerID, chainID), offerRecord{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

func (r offerRepositoryImpl) UpdateOfferState(
	ctx context.Context, offerID, chainID, state string,
) error {
	return r.updateRecord(offerID, chainID, func(record *offerRecord) {
		record.State = state
	})
}

func (r offerRepositoryImpl) UpdateOfferHavePublicKey(
	ctx context.Context, offerID, chainID string, have bool,
) error {
	return r.updateRecord(offerID, chainID, func(record *offerRecord) {
		record.HavePublicKey = have
	})
}

func (r offerRepositoryImpl) UpdateOfferActionState(
	ctx context.Context, offerID, chainID string,
	txType domain.TransactionType, state string,
) error {
	return r.updateRecord(offerID, chainID, func(record *offerRecord) {
		action := record.Actions[actionKey(txType)]
		action.State = state
		record.Actions[actionKey(txType)] = action
	})
}

func (r offerRepositoryImpl) UpdateOfferTransactionData(
	ctx context.Context, offerID, chainID string,
	txType domain.TransactionType, txHash, creationTime string, blockNumber int64,
) error {
	txTime, err := time.Parse(time.RFC3339, creationTime)
	if err != nil {
		return err
	}
	return r.updateRecord(offerID, chainID, func(record *offerRecord) {
		action := record.Actions[actionKey(txType)]
		setActionTransactionData(&action, txType, txHash, txTime, blockNumber)
		record.Actions[actionKey(txType)] = action
	})
}

func (r offerRepositoryImpl) StoreSettlementMethods(
	ctx context.Context, offerID, chainID string, methods []domain.SettlementMethod,
) error {
	key := entityKey(offerID, chainID)
	return r.db.Store.Upsert(key, &settlementMethodsRecord{
		Key:     key,
		Methods: settlementMethodsToRecords(methods),
	})
}

func (r offerRepositoryImpl) GetSettlementMethods(
	ctx context.Context, offerID, chainID string,
) ([]domain.SettlementMethod, error) {
	var record settlementMethodsRecord
	err := r.db.Store.Get(entityKey(offerID, chainID), &record)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return settlementMethodsFromRecords(record.Methods), nil
}

func (r offerRepositoryImpl) DeleteSettlementMethods(
	ctx context.Context, offerID, chainID string,
) error {
	err := r.db.Store.Delete(entityKey(offerID, chainID), settlementMethodsRecord{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

func (r offerRepositoryImpl) StorePendingSettlementMethods(
	ctx context.Context, offerID, chainID string, methods []domain.SettlementMethod,
) error {
	key := entityKey(offerID, chainID)
	return r.db.Store.Upsert(key, &pendingSettlementMethodsRecord{
		Key:     key,
		Methods: settlementMethodsToRecords(methods),
	})
}

func (r offerRepositoryImpl) GetPendingSettlementMethods(
	ctx context.Context, offerID, chainID string,
) ([]domain.SettlementMethod, error) {
	var record pendingSettlementMethodsRecord
	err := r.db.Store.Get(entityKey(offerID, chainID), &record)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return settlementMethodsFromRecords(record.Methods), nil
}

func (r offerRepositoryImpl) DeletePendingSettlementMethods(
	ctx context.Context, offerID, chainID string,
) error {
	err := r.db.Store.Delete(entityKey(offerID, chainID), pendingSettlementMethodsRecord{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

func (r offerRepositoryImpl) getRecord(offerID, chainID string) (*offerRecord, error) {
	var record offerRecord
	err := r.db.Store.Get(entityKey(offerID, chainID), &record)
	if err == badgerhold.ErrNotFound {
		return nil, domain.ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r offerRepositoryImpl) updateRecord(
	offerID, chainID string, update func(*offerRecord),
) error {
	record, err := r.getRecord(offerID, chainID)
	if err != nil {
		return err
	}
	update(record)
	return r.db.Store.Update(record.Key, record)
}
