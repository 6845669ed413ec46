package domain

import (
	"math/big"

	"github.com/google/uuid"
)

// Offer is an on-chain advertised intent to exchange stablecoin for fiat via
// one of a set of settlement methods. Its identity is the pair of its
// 128-bit ID and the ID of the chain it lives on.
type Offer struct {
	ID                uuid.UUID
	ChainID           *big.Int
	IsCreated         bool
	IsTaken           bool
	Maker             string
	InterfaceID       []byte
	Stablecoin        string
	AmountLowerBound  *big.Int
	AmountUpperBound  *big.Int
	SecurityDeposit   *big.Int
	ServiceFeeRate    *big.Int
	Direction         OfferDirection
	SettlementMethods []SettlementMethod
	ProtocolVersion   *big.Int
	HavePublicKey     bool
	IsUserMaker       bool
	State             OfferState

	Approving Action
	Opening   Action
	Canceling Action
	Editing   Action
	Taking    Action

	// SettlementMethods replacing the current ones once an in-flight edit
	// confirms, nil when no edit is in flight.
	PendingSettlementMethods []SettlementMethod
}

// NewOffer returns an offer with the given identity in the
// AwaitingOpening state.
func NewOffer(id uuid.UUID, chainID *big.Int) *Offer {
	return &Offer{ID: id, ChainID: chainID, State: OfferStateAwaitingOpening}
}

// UpdateState advances the offer state. States before Taken only move
// forward; Canceled is absorbing and Taken cannot be left.
func (o *Offer) UpdateState(state OfferState) {
	if o.State == OfferStateCanceled || o.State == OfferStateTaken {
		return
	}
	o.State = state
}

// Cancel moves the offer to the Canceled state. An offer that has already
// been taken cannot be canceled.
func (o *Offer) Cancel() error {
	if o.State == OfferStateTaken {
		return ErrOfferTaken
	}
	o.State = OfferStateCanceled
	o.IsCreated = false
	return nil
}

// Take marks the offer taken.
func (o *Offer) Take() error {
	if o.State == OfferStateCanceled {
		return ErrOfferCanceled
	}
	o.State = OfferStateTaken
	o.IsTaken = true
	return nil
}

// IsOpen reports whether the offer is open on chain and not yet taken or
// canceled.
func (o *Offer) IsOpen() bool {
	return o.IsCreated && !o.IsTaken && o.State != OfferStateCanceled
}

// ActionFor returns the action tracking the given transaction type, or nil
// if the type does not belong to an offer.
func (o *Offer) ActionFor(txType TransactionType) *Action {
	switch txType {
	case TxTypeApproveTransferToOpenOffer, TxTypeApproveTransferToTakeOffer:
		return &o.Approving
	case TxTypeOpenOffer:
		return &o.Opening
	case TxTypeCancelOffer:
		return &o.Canceling
	case TxTypeEditOffer:
		return &o.Editing
	case TxTypeTakeOffer:
		return &o.Taking
	}
	return nil
}
