package domain

import "context"

// OfferRepository is the abstraction for any kind of database intended to
// persist Offers and their settlement methods. Entities are keyed by the
// pair (offer ID as Base64 of its raw bytes, chain ID as decimal string).
type OfferRepository interface {
	// StoreOffer inserts or replaces the given offer.
	StoreOffer(ctx context.Context, offer *Offer) error
	// GetOffer returns the offer with the given identity, or
	// ErrOfferNotFound.
	GetOffer(ctx context.Context, offerID, chainID string) (*Offer, error)
	// DeleteOffer removes the offer with the given identity, if present.
	DeleteOffer(ctx context.Context, offerID, chainID string) error
	// UpdateOfferState updates the persisted lifecycle state of an offer.
	UpdateOfferState(ctx context.Context, offerID, chainID, state string) error
	// UpdateOfferHavePublicKey updates the persisted have-public-key flag.
	UpdateOfferHavePublicKey(ctx context.Context, offerID, chainID string, have bool) error
	// UpdateOfferActionState updates the persisted action state of one of
	// the offer's mutating actions.
	UpdateOfferActionState(
		ctx context.Context, offerID, chainID string,
		txType TransactionType, state string,
	) error
	// UpdateOfferTransactionData updates the persisted transaction hash,
	// creation time and creation block number of one of the offer's
	// mutating actions.
	UpdateOfferTransactionData(
		ctx context.Context, offerID, chainID string,
		txType TransactionType, txHash, creationTime string, blockNumber int64,
	) error

	// StoreSettlementMethods replaces the stored settlement methods of the
	// given offer with the given list.
	StoreSettlementMethods(
		ctx context.Context, offerID, chainID string, methods []SettlementMethod,
	) error
	// GetSettlementMethods returns the stored settlement methods of the
	// given offer, or an empty list.
	GetSettlementMethods(ctx context.Context, offerID, chainID string) ([]SettlementMethod, error)
	// DeleteSettlementMethods removes the stored settlement methods of the
	// given offer, if present.
	DeleteSettlementMethods(ctx context.Context, offerID, chainID string) error
	// StorePendingSettlementMethods replaces the pending settlement methods
	// of the given offer, the set that takes effect once an in-flight edit
	// confirms.
	StorePendingSettlementMethods(
		ctx context.Context, offerID, chainID string, methods []SettlementMethod,
	) error
	// GetPendingSettlementMethods returns the pending settlement methods of
	// the given offer, or an empty list.
	GetPendingSettlementMethods(ctx context.Context, offerID, chainID string) ([]SettlementMethod, error)
	// DeletePendingSettlementMethods removes the pending settlement methods
	// of the given offer, if present.
	DeletePendingSettlementMethods(ctx context.Context, offerID, chainID string) error
}
