package domain

// SwapState describes the lifecycle state of a Swap, in the order in which a
// swap moves through them.
type SwapState int

const (
	SwapStateTakeOfferTransactionSent SwapState = iota
	SwapStateAwaitingTakerInformation
	SwapStateAwaitingMakerInformation
	SwapStateAwaitingFilling
	SwapStateFillSwapTransactionSent
	SwapStateAwaitingPaymentSent
	SwapStateReportPaymentSentTransactionSent
	SwapStateAwaitingPaymentReceived
	SwapStateReportPaymentReceivedTransactionSent
	SwapStateAwaitingClosing
	SwapStateCloseSwapTransactionSent
	SwapStateClosed
)

var swapStateStrings = map[SwapState]string{
	SwapStateTakeOfferTransactionSent:             "takeOfferTransactionSent",
	SwapStateAwaitingTakerInformation:             "awaitingTakerInformation",
	SwapStateAwaitingMakerInformation:             "awaitingMakerInformation",
	SwapStateAwaitingFilling:                      "awaitingFilling",
	SwapStateFillSwapTransactionSent:              "fillSwapTransactionSent",
	SwapStateAwaitingPaymentSent:                  "awaitingPaymentSent",
	SwapStateReportPaymentSentTransactionSent:     "reportPaymentSentTransactionSent",
	SwapStateAwaitingPaymentReceived:              "awaitingPaymentReceived",
	SwapStateReportPaymentReceivedTransactionSent: "reportPaymentReceivedTransactionSent",
	SwapStateAwaitingClosing:                      "awaitingClosing",
	SwapStateCloseSwapTransactionSent:             "closeSwapTransactionSent",
	SwapStateClosed:                               "closed",
}

// String returns the persistence form of the swap state.
func (s SwapState) String() string {
	return swapStateStrings[s]
}

// SwapStateFromString returns the SwapState whose persistence form is s. The
// second return value reports whether such a state exists.
func SwapStateFromString(s string) (SwapState, bool) {
	for state, str := range swapStateStrings {
		if str == s {
			return state, true
		}
	}
	return SwapStateAwaitingTakerInformation, false
}

// SwapRole is the role of the local user within a swap.
type SwapRole int

const (
	SwapRoleMakerAndBuyer SwapRole = iota
	SwapRoleMakerAndSeller
	SwapRoleTakerAndBuyer
	SwapRoleTakerAndSeller
)

var swapRoleStrings = map[SwapRole]string{
	SwapRoleMakerAndBuyer:  "makerAndBuyer",
	SwapRoleMakerAndSeller: "makerAndSeller",
	SwapRoleTakerAndBuyer:  "takerAndBuyer",
	SwapRoleTakerAndSeller: "takerAndSeller",
}

// String returns the persistence form of the swap role.
func (r SwapRole) String() string {
	return swapRoleStrings[r]
}

// IsMaker reports whether the role is a maker-side role.
func (r SwapRole) IsMaker() bool {
	return r == SwapRoleMakerAndBuyer || r == SwapRoleMakerAndSeller
}

// IsBuyer reports whether the role is a buyer-side role.
func (r SwapRole) IsBuyer() bool {
	return r == SwapRoleMakerAndBuyer || r == SwapRoleTakerAndBuyer
}

// DisputeState describes the state of a swap's dispute from the perspective
// of the maker or taker.
type DisputeState int

const (
	DisputeStateNone DisputeState = iota
	DisputeStateSentPKA
)

// String returns the persistence form of the dispute state.
func (s DisputeState) String() string {
	if s == DisputeStateSentPKA {
		return "sentDisputePka"
	}
	return "none"
}

// DisputeStateFromString returns the DisputeState whose persistence form
// is s.
func DisputeStateFromString(s string) DisputeState {
	if s == "sentDisputePka" {
		return DisputeStateSentPKA
	}
	return DisputeStateNone
}
