package chain

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/escrownet/escrowd/internal/core/domain"
)

// Event is a decoded escrow-contract event. Every event carries the ID of
// the chain it was observed on, since the contract does not embed it.
type Event interface {
	EventChainID() *big.Int
}

// EventBase carries the fields common to every decoded event.
type EventBase struct {
	ChainID         *big.Int
	TransactionHash string
}

func (e EventBase) EventChainID() *big.Int { return e.ChainID }

// OfferOpenedEvent signals that an offer has been opened on chain.
type OfferOpenedEvent struct {
	EventBase
	OfferID     uuid.UUID
	InterfaceID []byte
}

// OfferEditedEvent signals that an open offer's settlement methods have been
// edited.
type OfferEditedEvent struct {
	EventBase
	OfferID uuid.UUID
}

// OfferCanceledEvent signals that an open offer has been canceled.
type OfferCanceledEvent struct {
	EventBase
	OfferID uuid.UUID
}

// OfferTakenEvent signals that an open offer has been taken.
type OfferTakenEvent struct {
	EventBase
	OfferID          uuid.UUID
	TakerInterfaceID []byte
}

// ServiceFeeRateChangedEvent signals that the protocol service fee rate has
// changed.
type ServiceFeeRateChangedEvent struct {
	EventBase
	NewServiceFeeRate *big.Int
}

// SwapFilledEvent signals that a maker-as-seller swap has been filled.
type SwapFilledEvent struct {
	EventBase
	SwapID uuid.UUID
}

// PaymentSentEvent signals that the buyer has reported sending payment.
type PaymentSentEvent struct {
	EventBase
	SwapID uuid.UUID
}

// PaymentReceivedEvent signals that the seller has reported receiving
// payment.
type PaymentReceivedEvent struct {
	EventBase
	SwapID uuid.UUID
}

// BuyerClosedEvent signals that the buyer has closed a swap.
type BuyerClosedEvent struct {
	EventBase
	SwapID uuid.UUID
}

// SellerClosedEvent signals that the seller has closed a swap.
type SellerClosedEvent struct {
	EventBase
	SwapID uuid.UUID
}

// DisputeRaisedEvent signals that a dispute has been raised for a swap.
type DisputeRaisedEvent struct {
	EventBase
	SwapID        uuid.UUID
	DisputeAgent0 string
	DisputeAgent1 string
	DisputeAgent2 string
}

// OfferEventHandler receives offer-related events decoded by the monitor,
// in block and receipt order.
type OfferEventHandler interface {
	HandleOfferOpenedEvent(event OfferOpenedEvent) error
	HandleOfferEditedEvent(event OfferEditedEvent) error
	HandleOfferCanceledEvent(event OfferCanceledEvent) error
	HandleOfferTakenEvent(event OfferTakenEvent) error
	HandleServiceFeeRateChangedEvent(event ServiceFeeRateChangedEvent) error
}

// SwapEventHandler receives swap-related events decoded by the monitor.
type SwapEventHandler interface {
	HandleSwapFilledEvent(event SwapFilledEvent) error
	HandlePaymentSentEvent(event PaymentSentEvent) error
	HandlePaymentReceivedEvent(event PaymentReceivedEvent) error
	HandleBuyerClosedEvent(event BuyerClosedEvent) error
	HandleSellerClosedEvent(event SellerClosedEvent) error
}

// DisputeEventHandler receives dispute-related events decoded by the
// monitor.
type DisputeEventHandler interface {
	HandleDisputeRaisedEvent(event DisputeRaisedEvent) error
}

// TransactionHandler is notified of the fate of a monitored transaction:
// confirmed with a successful status, confirmed but reverted, or dropped
// from the network.
type TransactionHandler interface {
	HandleConfirmedTransaction(tx *domain.BlockchainTransaction) error
	HandleFailedTransaction(tx *domain.BlockchainTransaction, err error) error
}

// ExceptionHandler receives every error raised inside the listen loop.
type ExceptionHandler interface {
	HandleBlockchainException(err error)
}
