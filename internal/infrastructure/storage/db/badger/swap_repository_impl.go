package dbbadger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrownet/escrowd/internal/core/domain"
)

type swapRepositoryImpl struct {
	db *DbManager
}

// NewSwapRepositoryImpl initialize a badger implementation of the
// domain.SwapRepository
func NewSwapRepositoryImpl(db *DbManager) domain.SwapRepository {
	return swapRepositoryImpl{db: db}
}

func (r swapRepositoryImpl) StoreSwap(ctx context.Context, swap *domain.Swap) error {
	key := entityKey(encodeEntityID(swap.ID), swap.ChainID.String())
	return r.db.Store.Upsert(key, swapToRecord(key, swap))
}

func (r swapRepositoryImpl) GetSwap(
	ctx context.Context, swapID, chainID string,
) (*domain.Swap, error) {
	record, err := r.getRecord(swapID, chainID)
	if err != nil {
		return nil, err
	}
	return swapFromRecord(record), nil
}

func (r swapRepositoryImpl) UpdateSwapState(
	ctx context.Context, swapID, chainID, state string,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.State = state
	})
}

func (r swapRepositoryImpl) UpdateSwapRequiresFill(
	ctx context.Context, swapID, chainID string, requiresFill bool,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.RequiresFill = requiresFill
	})
}

func (r swapRepositoryImpl) UpdateSwapIsPaymentSent(
	ctx context.Context, swapID, chainID string, isPaymentSent bool,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.IsPaymentSent = isPaymentSent
	})
}

func (r swapRepositoryImpl) UpdateSwapIsPaymentReceived(
	ctx context.Context, swapID, chainID string, isPaymentReceived bool,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.IsPaymentReceived = isPaymentReceived
	})
}

func (r swapRepositoryImpl) UpdateSwapHasBuyerClosed(
	ctx context.Context, swapID, chainID string, hasBuyerClosed bool,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.HasBuyerClosed = hasBuyerClosed
	})
}

func (r swapRepositoryImpl) UpdateSwapHasSellerClosed(
	ctx context.Context, swapID, chainID string, hasSellerClosed bool,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.HasSellerClosed = hasSellerClosed
	})
}

func (r swapRepositoryImpl) UpdateSwapMakerPrivateData(
	ctx context.Context, swapID, chainID, data string,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.MakerPrivateData = data
	})
}

func (r swapRepositoryImpl) UpdateSwapTakerPrivateData(
	ctx context.Context, swapID, chainID, data string,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.TakerPrivateData = data
	})
}

func (r swapRepositoryImpl) UpdateSwapDisputeState(
	ctx context.Context, swapID, chainID, state string,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		record.DisputeState = state
	})
}

func (r swapRepositoryImpl) UpdateSwapActionState(
	ctx context.Context, swapID, chainID string,
	txType domain.TransactionType, state string,
) error {
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		action := record.Actions[actionKey(txType)]
		action.State = state
		record.Actions[actionKey(txType)] = action
	})
}

func (r swapRepositoryImpl) UpdateSwapTransactionData(
	ctx context.Context, swapID, chainID string,
	txType domain.TransactionType, txHash, creationTime string, blockNumber int64,
) error {
	txTime, err := time.Parse(time.RFC3339, creationTime)
	if err != nil {
		return err
	}
	return r.updateRecord(swapID, chainID, func(record *swapRecord) {
		action := record.Actions[actionKey(txType)]
		setActionTransactionData(&action, txType, txHash, txTime, blockNumber)
		record.Actions[actionKey(txType)] = action
	})
}

func (r swapRepositoryImpl) getRecord(swapID, chainID string) (*swapRecord, error) {
	var record swapRecord
	err := r.db.Store.Get(entityKey(swapID, chainID), &record)
	if err == badgerhold.ErrNotFound {
		return nil, domain.ErrSwapNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r swapRepositoryImpl) updateRecord(
	swapID, chainID string, update func(*swapRecord),
) error {
	record, err := r.getRecord(swapID, chainID)
	if err != nil {
		return err
	}
	update(record)
	return r.db.Store.Update(record.Key, record)
}
