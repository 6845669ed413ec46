package domain

// OfferState describes the lifecycle state of an Offer. The
// non-cancellation states are listed in the order in which an offer moves
// through them; OfferStateCanceled is absorbing and reachable from any state
// before OfferStateTaken.
type OfferState int

const (
	OfferStateTransferApprovalFailed OfferState = iota
	OfferStateApprovingTransfer
	OfferStateApproveTransferTransactionSent
	OfferStateAwaitingOpening
	OfferStateOpenOfferTransactionSent
	OfferStateAwaitingPublicKeyAnnouncement
	OfferStateOpened
	OfferStateTaken
	OfferStateCanceled
)

var offerStateStrings = map[OfferState]string{
	OfferStateTransferApprovalFailed:         "transferApprovalFailed",
	OfferStateApprovingTransfer:              "approvingTransfer",
	OfferStateApproveTransferTransactionSent: "approveTransferTransactionSent",
	OfferStateAwaitingOpening:                "awaitingOpening",
	OfferStateOpenOfferTransactionSent:       "openOfferTransactionSent",
	OfferStateAwaitingPublicKeyAnnouncement:  "awaitingPKAnnouncement",
	OfferStateOpened:                         "offerOpened",
	OfferStateTaken:                          "taken",
	OfferStateCanceled:                       "canceled",
}

// String returns the persistence form of the offer state.
func (s OfferState) String() string {
	return offerStateStrings[s]
}

// OfferStateFromString returns the OfferState whose persistence form is s.
// The second return value reports whether such a state exists.
func OfferStateFromString(s string) (OfferState, bool) {
	for state, str := range offerStateStrings {
		if str == s {
			return state, true
		}
	}
	return OfferStateAwaitingOpening, false
}

// OfferDirection indicates whether the maker of an offer is buying or
// selling stablecoin.
type OfferDirection int

const (
	OfferDirectionBuy OfferDirection = iota
	OfferDirectionSell
)

// String returns the persistence form of the direction.
func (d OfferDirection) String() string {
	if d == OfferDirectionSell {
		return "sell"
	}
	return "buy"
}
