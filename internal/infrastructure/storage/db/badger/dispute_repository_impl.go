package dbbadger

import (
	"context"
	"encoding/base64"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrownet/escrowd/internal/core/domain"
)

type disputeRepositoryImpl struct {
	db *DbManager
}

// NewDisputeRepositoryImpl initialize a badger implementation of the
// domain.DisputeRepository
func NewDisputeRepositoryImpl(db *DbManager) domain.DisputeRepository {
	return disputeRepositoryImpl{db: db}
}

func (r disputeRepositoryImpl) StoreSwapAndDispute(
	ctx context.Context, sad *domain.SwapAndDispute,
) error {
	key := entityKey(encodeEntityID(sad.ID), sad.ChainID.String())
	return r.db.Store.Upsert(key, swapAndDisputeToRecord(key, sad))
}

func (r disputeRepositoryImpl) GetSwapAndDispute(
	ctx context.Context, id, chainID string,
) (*domain.SwapAndDispute, error) {
	record, err := r.getRecord(id, chainID)
	if err != nil {
		return nil, err
	}
	return swapAndDisputeFromRecord(record)
}

func (r disputeRepositoryImpl) UpdateSwapAndDisputeState(
	ctx context.Context, id, chainID, state string,
) error {
	return r.updateRecord(id, chainID, func(record *swapAndDisputeRecord) error {
		record.State = state
		return nil
	})
}

func (r disputeRepositoryImpl) UpdateSwapAndDisputeAgent0InterfaceID(
	ctx context.Context, id, chainID, interfaceID string,
) error {
	decoded, err := base64.StdEncoding.DecodeString(interfaceID)
	if err != nil {
		return err
	}
	return r.updateRecord(id, chainID, func(record *swapAndDisputeRecord) error {
		record.Agent0InterfaceID = decoded
		return nil
	})
}

func (r disputeRepositoryImpl) UpdateMakerCommunicationKey(
	ctx context.Context, id, chainID, key string,
) error {
	return r.updateRecord(id, chainID, func(record *swapAndDisputeRecord) error {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return err
		}
		record.MakerCommunicationKey = decoded
		return nil
	})
}

func (r disputeRepositoryImpl) UpdateTakerCommunicationKey(
	ctx context.Context, id, chainID, key string,
) error {
	return r.updateRecord(id, chainID, func(record *swapAndDisputeRecord) error {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return err
		}
		record.TakerCommunicationKey = decoded
		return nil
	})
}

func (r disputeRepositoryImpl) UpdateAgentCommunicationKey(
	ctx context.Context, id, chainID, key string,
) error {
	return r.updateRecord(id, chainID, func(record *swapAndDisputeRecord) error {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return err
		}
		record.AgentCommunicationKey = decoded
		return nil
	})
}

func (r disputeRepositoryImpl) getRecord(id, chainID string) (*swapAndDisputeRecord, error) {
	var record swapAndDisputeRecord
	err := r.db.Store.Get(entityKey(id, chainID), &record)
	if err == badgerhold.ErrNotFound {
		return nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r disputeRepositoryImpl) updateRecord(
	id, chainID string, update func(*swapAndDisputeRecord) error,
) error {
	record, err := r.getRecord(id, chainID)
	if err != nil {
		return err
	}
	if err := update(record); err != nil {
		return err
	}
	return r.db.Store.Update(record.Key, record)
}
