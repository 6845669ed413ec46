package application

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/pkg/crypto"
)

// takeOfferAsTaker drives a foreign offer through approval and takeOffer,
// leaving the tracked swap in the TakeOfferTransactionSent state.
func takeOfferAsTaker(t *testing.T, f *fixture) (*domain.Swap, *crypto.KeyPair) {
	t.Helper()
	offer, makerKeyPair := openForeignOffer(t, f)
	require.NoError(t, f.offers.HandlePublicKeyAnnouncement(&p2p.PublicKeyAnnouncement{
		OfferID:   offer.ID,
		PublicKey: makerKeyPair.Public(),
	}))

	offerID, chainID := f.offerKey(offer)
	takenAmount := big.NewInt(500_000_000)
	require.NoError(t, f.offers.ApproveTransferToTakeOffer(
		testCtx, offerID, chainID, takenAmount, nil,
	))
	approval := f.blockchain.lastMonitored(t)
	require.Equal(t, domain.TxTypeApproveTransferToTakeOffer, approval.tx.Type)
	require.NoError(t, approval.handler.HandleConfirmedTransaction(approval.tx))
	require.Equal(t, domain.ActionStateCompleted, offer.Approving.State)

	method := domain.SettlementMethod{
		Currency: "EUR", Price: "0.94", Method: "SEPA",
		PrivateData: "taker iban details",
	}
	require.NoError(t, f.offers.TakeOffer(
		testCtx, offerID, chainID, takenAmount, method, nil, nil,
	))

	swap := f.swapTruth.Get(truthSourceKey(offer.ID, offer.ChainID))
	require.NotNil(t, swap)
	require.Equal(t, domain.SwapStateTakeOfferTransactionSent, swap.State)
	require.Equal(t, domain.SwapRoleTakerAndBuyer, swap.Role)
	require.Equal(t, "taker iban details", swap.TakerPrivateData)
	require.True(t, swap.RequiresFill)
	return swap, makerKeyPair
}

func TestTakeOfferSendsTakerInformationOnConfirmation(t *testing.T) {
	f := newFixture(t)
	swap, _ := takeOfferAsTaker(t, f)
	sentBefore := f.messenger.count()

	require.NoError(t, f.offers.HandleOfferTakenEvent(chain.OfferTakenEvent{
		EventBase:        chain.EventBase{ChainID: testChainID},
		OfferID:          swap.ID,
		TakerInterfaceID: swap.TakerInterfaceID,
	}))

	require.Equal(t, domain.SwapStateAwaitingMakerInformation, swap.State)
	require.True(t, swap.IsCreated)
	require.Equal(t, sentBefore+1, f.messenger.count())

	offer := f.offerTruth.Get(truthSourceKey(swap.ID, swap.ChainID))
	require.Equal(t, domain.OfferStateTaken, offer.State)
}

func TestTakeOfferRejectsUnknownSettlementMethod(t *testing.T) {
	f := newFixture(t)
	offer, makerKeyPair := openForeignOffer(t, f)
	require.NoError(t, f.offers.HandlePublicKeyAnnouncement(&p2p.PublicKeyAnnouncement{
		OfferID:   offer.ID,
		PublicKey: makerKeyPair.Public(),
	}))

	offerID, chainID := f.offerKey(offer)
	takenAmount := big.NewInt(500_000_000)
	require.NoError(t, f.offers.ApproveTransferToTakeOffer(
		testCtx, offerID, chainID, takenAmount, nil,
	))
	approval := f.blockchain.lastMonitored(t)
	require.NoError(t, approval.handler.HandleConfirmedTransaction(approval.tx))

	unknown := domain.SettlementMethod{Currency: "USD", Price: "1.00", Method: "SWIFT"}
	err := f.offers.TakeOffer(testCtx, offerID, chainID, takenAmount, unknown, nil, nil)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	_, swap := f.swapTruth.Find(func(*domain.Swap) bool { return true })
	require.Nil(t, swap)
}

func TestMakerTracksSwapAndAnswersTakerInformation(t *testing.T) {
	f := newFixture(t)

	// The user opens an offer and it gets taken by someone else.
	offer, err := f.offers.OpenOffer(testCtx, testOfferData())
	require.NoError(t, err)
	offer.IsCreated = true
	offer.State = domain.OfferStateOpened
	offer.HavePublicKey = true

	takerKeyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)
	method := offer.SettlementMethods[0]
	f.blockchain.onChainSwaps[offer.ID] = &chain.OnChainSwap{
		IsCreated:             true,
		RequiresFill:          true,
		Maker:                 f.blockchain.address,
		MakerInterfaceID:      offer.InterfaceID,
		Taker:                 "0x4444444444444444444444444444444444444444",
		TakerInterfaceID:      takerKeyPair.InterfaceID,
		Stablecoin:            offer.Stablecoin,
		AmountLowerBound:      offer.AmountLowerBound,
		AmountUpperBound:      offer.AmountUpperBound,
		SecurityDepositAmount: offer.SecurityDeposit,
		TakenSwapAmount:       big.NewInt(500_000_000),
		ServiceFeeAmount:      big.NewInt(5_000_000),
		ServiceFeeRate:        offer.ServiceFeeRate,
		Direction:             uint8(offer.Direction),
		SettlementMethod:      method.OnChainData(),
		ProtocolVersion:       big.NewInt(1),
	}

	require.NoError(t, f.offers.HandleOfferTakenEvent(chain.OfferTakenEvent{
		EventBase:        chain.EventBase{ChainID: testChainID},
		OfferID:          offer.ID,
		TakerInterfaceID: takerKeyPair.InterfaceID,
	}))

	swap := f.swapTruth.Get(truthSourceKey(offer.ID, offer.ChainID))
	require.NotNil(t, swap)
	require.Equal(t, domain.SwapStateAwaitingTakerInformation, swap.State)
	require.Equal(t, domain.SwapRoleMakerAndSeller, swap.Role)
	require.Equal(t, method.PrivateData, swap.MakerPrivateData)

	sentBefore := f.messenger.count()
	require.NoError(t, f.swaps.HandleTakerInformationMessage(&p2p.TakerInformationMessage{
		SwapID:                  swap.ID,
		PublicKey:               takerKeyPair.Public(),
		SettlementMethodDetails: "taker iban details",
	}))
	require.Equal(t, sentBefore+1, f.messenger.count())
	require.Equal(t, "taker iban details", swap.TakerPrivateData)
	require.Equal(t, domain.SwapStateAwaitingFilling, swap.State)

	swapID, chainID := splitKey(truthSourceKey(swap.ID, swap.ChainID))
	restored, err := f.swapRepo.GetSwap(testCtx, swapID, chainID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStateAwaitingFilling, restored.State)
	require.Equal(t, "taker iban details", restored.TakerPrivateData)
}

func TestMakerInformationAdvancesTaker(t *testing.T) {
	f := newFixture(t)
	swap, makerKeyPair := takeOfferAsTaker(t, f)
	require.NoError(t, f.offers.HandleOfferTakenEvent(chain.OfferTakenEvent{
		EventBase:        chain.EventBase{ChainID: testChainID},
		OfferID:          swap.ID,
		TakerInterfaceID: swap.TakerInterfaceID,
	}))
	require.Equal(t, domain.SwapStateAwaitingMakerInformation, swap.State)

	require.NoError(t, f.swaps.HandleMakerInformationMessage(
		&p2p.MakerInformationMessage{
			SwapID:                  swap.ID,
			SettlementMethodDetails: "maker iban details",
		},
		makerKeyPair.InterfaceID, swap.TakerInterfaceID,
	))
	require.Equal(t, "maker iban details", swap.MakerPrivateData)
	require.Equal(t, domain.SwapStateAwaitingFilling, swap.State)
}

func TestMakerInformationWrongRecipientIsIgnored(t *testing.T) {
	f := newFixture(t)
	swap, makerKeyPair := takeOfferAsTaker(t, f)
	require.NoError(t, f.offers.HandleOfferTakenEvent(chain.OfferTakenEvent{
		EventBase:        chain.EventBase{ChainID: testChainID},
		OfferID:          swap.ID,
		TakerInterfaceID: swap.TakerInterfaceID,
	}))

	require.NoError(t, f.swaps.HandleMakerInformationMessage(
		&p2p.MakerInformationMessage{
			SwapID:                  swap.ID,
			SettlementMethodDetails: "maker iban details",
		},
		makerKeyPair.InterfaceID, []byte("someone else"),
	))
	require.Empty(t, swap.MakerPrivateData)
	require.Equal(t, domain.SwapStateAwaitingMakerInformation, swap.State)
}

func TestFillReportAndCloseFlow(t *testing.T) {
	f := newFixture(t)

	swap := domain.NewSwap(
		uuid.New(), testChainID,
		domain.SwapRoleMakerAndSeller, domain.SwapStateAwaitingFilling,
	)
	swap.IsCreated = true
	swap.RequiresFill = true
	swap.Stablecoin = "0x6b175474e89094c44da98b954eedeac495271d0f"
	swap.TakenSwapAmount = big.NewInt(500_000_000)
	require.NoError(t, f.swaps.TrackNewSwap(testCtx, swap))
	swapID, chainID := splitKey(truthSourceKey(swap.ID, swap.ChainID))

	require.NoError(t, f.swaps.ApproveTransferToFillSwap(testCtx, swapID, chainID, nil))
	approval := f.blockchain.lastMonitored(t)
	require.NoError(t, approval.handler.HandleConfirmedTransaction(approval.tx))
	require.Equal(t, domain.ActionStateCompleted, swap.Approving.State)

	require.NoError(t, f.swaps.FillSwap(testCtx, swapID, chainID, nil))
	require.Equal(t, domain.SwapStateFillSwapTransactionSent, swap.State)

	require.NoError(t, f.swaps.HandleSwapFilledEvent(chain.SwapFilledEvent{
		EventBase: chain.EventBase{ChainID: testChainID}, SwapID: swap.ID,
	}))
	require.False(t, swap.RequiresFill)
	require.Equal(t, domain.ActionStateCompleted, swap.Filling.State)
	require.Equal(t, domain.SwapStateAwaitingPaymentSent, swap.State)

	// The buyer reports payment on their side; the seller only observes
	// the event.
	require.NoError(t, f.swaps.HandlePaymentSentEvent(chain.PaymentSentEvent{
		EventBase: chain.EventBase{ChainID: testChainID}, SwapID: swap.ID,
	}))
	require.True(t, swap.IsPaymentSent)
	require.Equal(t, domain.SwapStateAwaitingPaymentReceived, swap.State)

	require.NoError(t, f.swaps.ReportPaymentReceived(testCtx, swapID, chainID, nil))
	require.Equal(t, domain.SwapStateReportPaymentReceivedTransactionSent, swap.State)
	require.NoError(t, f.swaps.HandlePaymentReceivedEvent(chain.PaymentReceivedEvent{
		EventBase: chain.EventBase{ChainID: testChainID}, SwapID: swap.ID,
	}))
	require.True(t, swap.IsPaymentReceived)
	require.Equal(t, domain.SwapStateAwaitingClosing, swap.State)

	require.NoError(t, f.swaps.CloseSwap(testCtx, swapID, chainID, nil))
	require.Equal(t, domain.SwapStateCloseSwapTransactionSent, swap.State)

	// Buyer closes first: only the milestone is recorded for the seller.
	require.NoError(t, f.swaps.HandleBuyerClosedEvent(chain.BuyerClosedEvent{
		EventBase: chain.EventBase{ChainID: testChainID}, SwapID: swap.ID,
	}))
	require.True(t, swap.HasBuyerClosed)
	require.NotEqual(t, domain.SwapStateClosed, swap.State)

	require.NoError(t, f.swaps.HandleSellerClosedEvent(chain.SellerClosedEvent{
		EventBase: chain.EventBase{ChainID: testChainID}, SwapID: swap.ID,
	}))
	require.True(t, swap.HasSellerClosed)
	require.Equal(t, domain.SwapStateClosed, swap.State)
	require.Equal(t, domain.ActionStateCompleted, swap.Closing.State)

	restored, err := f.swapRepo.GetSwap(testCtx, swapID, chainID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStateClosed, restored.State)
}

func TestReportPaymentSentRequiresBuyerRole(t *testing.T) {
	f := newFixture(t)

	swap := domain.NewSwap(
		uuid.New(), testChainID,
		domain.SwapRoleMakerAndSeller, domain.SwapStateAwaitingPaymentSent,
	)
	require.NoError(t, f.swaps.TrackNewSwap(testCtx, swap))
	swapID, chainID := splitKey(truthSourceKey(swap.ID, swap.ChainID))

	err := f.swaps.ReportPaymentSent(testCtx, swapID, chainID, nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, domain.ActionStateException, swap.ReportingPaymentSent.State)
}

func TestFailedTransactionSetsException(t *testing.T) {
	f := newFixture(t)

	swap := domain.NewSwap(
		uuid.New(), testChainID,
		domain.SwapRoleTakerAndBuyer, domain.SwapStateAwaitingPaymentSent,
	)
	swap.IsCreated = true
	require.NoError(t, f.swaps.TrackNewSwap(testCtx, swap))
	swapID, chainID := splitKey(truthSourceKey(swap.ID, swap.ChainID))

	require.NoError(t, f.swaps.ReportPaymentSent(testCtx, swapID, chainID, nil))
	monitored := f.blockchain.lastMonitored(t)
	require.NoError(t, monitored.handler.HandleFailedTransaction(
		monitored.tx, chain.ErrTransactionReverted,
	))
	require.Equal(t, domain.ActionStateException, swap.ReportingPaymentSent.State)
	require.ErrorIs(t, swap.ReportingPaymentSent.Err, chain.ErrTransactionReverted)

	restored, err := f.swapRepo.GetSwap(testCtx, swapID, chainID)
	require.NoError(t, err)
	require.Equal(t, domain.ActionStateException, restored.ReportingPaymentSent.State)
}
