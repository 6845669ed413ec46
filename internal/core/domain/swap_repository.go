package domain

import "context"

// SwapRepository is the abstraction for any kind of database intended to
// persist Swaps, keyed like offers by (swap ID Base64, chain ID decimal
// string).
type SwapRepository interface {
	// StoreSwap inserts or replaces the given swap.
	StoreSwap(ctx context.Context, swap *Swap) error
	// GetSwap returns the swap with the given identity, or ErrSwapNotFound.
	GetSwap(ctx context.Context, swapID, chainID string) (*Swap, error)
	// UpdateSwapState updates the persisted lifecycle state of a swap.
	UpdateSwapState(ctx context.Context, swapID, chainID, state string) error
	// UpdateSwapRequiresFill updates the persisted requires-fill flag.
	UpdateSwapRequiresFill(ctx context.Context, swapID, chainID string, requiresFill bool) error
	// UpdateSwapIsPaymentSent updates the persisted payment-sent milestone.
	UpdateSwapIsPaymentSent(ctx context.Context, swapID, chainID string, isPaymentSent bool) error
	// UpdateSwapIsPaymentReceived updates the persisted payment-received
	// milestone.
	UpdateSwapIsPaymentReceived(ctx context.Context, swapID, chainID string, isPaymentReceived bool) error
	// UpdateSwapHasBuyerClosed updates the persisted buyer-closed milestone.
	UpdateSwapHasBuyerClosed(ctx context.Context, swapID, chainID string, hasBuyerClosed bool) error
	// UpdateSwapHasSellerClosed updates the persisted seller-closed
	// milestone.
	UpdateSwapHasSellerClosed(ctx context.Context, swapID, chainID string, hasSellerClosed bool) error
	// UpdateSwapMakerPrivateData updates the persisted private
	// settlement-method details of the swap's maker.
	UpdateSwapMakerPrivateData(ctx context.Context, swapID, chainID, data string) error
	// UpdateSwapTakerPrivateData updates the persisted private
	// settlement-method details of the swap's taker.
	UpdateSwapTakerPrivateData(ctx context.Context, swapID, chainID, data string) error
	// UpdateSwapDisputeState updates the persisted user-side dispute state.
	UpdateSwapDisputeState(ctx context.Context, swapID, chainID, state string) error
	// UpdateSwapActionState updates the persisted action state of one of
	// the swap's mutating actions.
	UpdateSwapActionState(
		ctx context.Context, swapID, chainID string,
		txType TransactionType, state string,
	) error
	// UpdateSwapTransactionData updates the persisted transaction hash,
	// creation time and creation block number of one of the swap's
	// mutating actions.
	UpdateSwapTransactionData(
		ctx context.Context, swapID, chainID string,
		txType TransactionType, txHash, creationTime string, blockNumber int64,
	) error
}
