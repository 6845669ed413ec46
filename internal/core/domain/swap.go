package domain

import (
	"math/big"

	"github.com/google/uuid"
)

// Swap is a taken Offer: a bilateral escrowed trade in progress. Like Offer,
// its identity is the pair of its 128-bit ID and chain ID, and its state
// only advances, never rolls back, except when a failed or dropped
// transaction is retried.
type Swap struct {
	ID                   uuid.UUID
	ChainID              *big.Int
	IsCreated            bool
	RequiresFill         bool
	Maker                string
	MakerInterfaceID     []byte
	Taker                string
	TakerInterfaceID     []byte
	Stablecoin           string
	AmountLowerBound     *big.Int
	AmountUpperBound     *big.Int
	SecurityDeposit      *big.Int
	TakenSwapAmount      *big.Int
	ServiceFeeAmount     *big.Int
	ServiceFeeRate       *big.Int
	Direction            OfferDirection
	SettlementMethod     SettlementMethod
	ProtocolVersion      *big.Int
	IsPaymentSent        bool
	IsPaymentReceived    bool
	HasBuyerClosed       bool
	HasSellerClosed      bool
	OnChainDisputeRaiser *big.Int
	Role                 SwapRole
	State                SwapState

	// Private settlement-method details exchanged over the messaging layer.
	MakerPrivateData string
	TakerPrivateData string

	Approving                Action
	Filling                  Action
	ReportingPaymentSent     Action
	ReportingPaymentReceived Action
	Closing                  Action
	RaisingDispute           Action

	DisputeState DisputeState
}

// NewSwap returns a swap with the given identity, role and initial state.
func NewSwap(id uuid.UUID, chainID *big.Int, role SwapRole, state SwapState) *Swap {
	return &Swap{ID: id, ChainID: chainID, Role: role, State: state}
}

// UpdateState advances the swap state. A closed swap stays closed.
func (s *Swap) UpdateState(state SwapState) {
	if s.State == SwapStateClosed {
		return
	}
	s.State = state
}

// IsDisputed reports whether a dispute has been raised for the swap.
func (s *Swap) IsDisputed() bool {
	return s.OnChainDisputeRaiser != nil && s.OnChainDisputeRaiser.Sign() != 0
}

// ActionFor returns the action tracking the given transaction type, or nil
// if the type does not belong to a swap.
func (s *Swap) ActionFor(txType TransactionType) *Action {
	switch txType {
	case TxTypeApproveTransferToFillSwap:
		return &s.Approving
	case TxTypeFillSwap:
		return &s.Filling
	case TxTypeReportPaymentSent:
		return &s.ReportingPaymentSent
	case TxTypeReportPaymentReceived:
		return &s.ReportingPaymentReceived
	case TxTypeCloseSwap:
		return &s.Closing
	case TxTypeRaiseDispute:
		return &s.RaisingDispute
	}
	return nil
}

// UserIsDisputeRaiser reports whether the local user raised the dispute
// recorded on chain: a raiser value of 1 marks the maker, 2 the taker.
func (s *Swap) UserIsDisputeRaiser() bool {
	if s.OnChainDisputeRaiser == nil {
		return false
	}
	switch s.OnChainDisputeRaiser.Int64() {
	case 1:
		return s.Role.IsMaker()
	case 2:
		return !s.Role.IsMaker()
	}
	return false
}
