package domain

import (
	"math/big"
	"time"
)

// TransactionType identifies what the on-chain transaction wrapped by a
// BlockchainTransaction does.
type TransactionType int

const (
	TxTypeApproveTransferToOpenOffer TransactionType = iota
	TxTypeOpenOffer
	TxTypeCancelOffer
	TxTypeEditOffer
	TxTypeApproveTransferToTakeOffer
	TxTypeTakeOffer
	TxTypeApproveTransferToFillSwap
	TxTypeFillSwap
	TxTypeReportPaymentSent
	TxTypeReportPaymentReceived
	TxTypeCloseSwap
	TxTypeRaiseDispute
)

var txTypeStrings = map[TransactionType]string{
	TxTypeApproveTransferToOpenOffer: "approveTransferToOpenOffer",
	TxTypeOpenOffer:                  "openOffer",
	TxTypeCancelOffer:                "cancelOffer",
	TxTypeEditOffer:                  "editOffer",
	TxTypeApproveTransferToTakeOffer: "approveTransferToTakeOffer",
	TxTypeTakeOffer:                  "takeOffer",
	TxTypeApproveTransferToFillSwap:  "approveTransferToFillSwap",
	TxTypeFillSwap:                   "fillSwap",
	TxTypeReportPaymentSent:          "reportPaymentSent",
	TxTypeReportPaymentReceived:      "reportPaymentReceived",
	TxTypeCloseSwap:                  "closeSwap",
	TxTypeRaiseDispute:               "raiseDispute",
}

// String returns the persistence/display form of the transaction type.
func (t TransactionType) String() string {
	return txTypeStrings[t]
}

// TransactionTypeFromString returns the TransactionType whose persistence
// form is s. The second return value reports whether such a type exists.
func TransactionTypeFromString(s string) (TransactionType, bool) {
	for txType, str := range txTypeStrings {
		if str == s {
			return txType, true
		}
	}
	return TxTypeOpenOffer, false
}

// BlockchainTransaction wraps a transaction submitted to the chain. It is
// immutable once created; confirmation is tracked externally.
type BlockchainTransaction struct {
	Hash                        string
	TimeOfCreation              time.Time
	LatestBlockNumberAtCreation *big.Int
	Type                        TransactionType
}

// NewBlockchainTransaction returns a BlockchainTransaction created now.
func NewBlockchainTransaction(
	hash string, latestBlockNumber *big.Int, txType TransactionType,
) *BlockchainTransaction {
	return &BlockchainTransaction{
		Hash:                        hash,
		TimeOfCreation:              time.Now(),
		LatestBlockNumberAtCreation: latestBlockNumber,
		Type:                        txType,
	}
}

// ActionState is the lifecycle state tracked for each mutating on-chain
// action of an entity. Transitions are monotonic forward, except that
// Exception is reachable from every non-terminal state and an action in
// Exception may be retried from Validating.
type ActionState int

const (
	ActionStateNone ActionState = iota
	ActionStateValidating
	ActionStateSendingTransaction
	ActionStateAwaitingTransactionConfirmation
	ActionStateCompleted
	ActionStateException
)

var actionStateStrings = map[ActionState]string{
	ActionStateNone:                            "none",
	ActionStateValidating:                      "validating",
	ActionStateSendingTransaction:              "sendingTransaction",
	ActionStateAwaitingTransactionConfirmation: "awaitingTransactionConfirmation",
	ActionStateCompleted:                       "completed",
	ActionStateException:                       "error",
}

// String returns the persistence form of the action state.
func (s ActionState) String() string {
	return actionStateStrings[s]
}

// ActionStateFromString returns the ActionState whose persistence form is s,
// or ActionStateNone if there is none.
func ActionStateFromString(s string) ActionState {
	for state, str := range actionStateStrings {
		if str == s {
			return state
		}
	}
	return ActionStateNone
}

// Action tracks one kind of mutating on-chain action for one entity: its
// lifecycle state, the wrapped transaction once one has been built, and the
// error that put the action into the Exception state, if any.
type Action struct {
	State       ActionState
	Transaction *BlockchainTransaction
	Err         error
}

// CanStart reports whether a new attempt of the action may begin. An attempt
// may begin from the initial state, from a previous attempt's validation, or
// after a previous attempt failed; it may not begin while an attempt is in
// flight or after one has completed.
func (a *Action) CanStart() bool {
	return a.State == ActionStateNone ||
		a.State == ActionStateValidating ||
		a.State == ActionStateException
}

// Fail moves the action to the Exception state, recording err.
func (a *Action) Fail(err error) {
	a.State = ActionStateException
	a.Err = err
}
