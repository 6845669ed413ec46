package application

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/pkg/crypto"
)

var testCtx = context.Background()

func testOfferData() NewOfferData {
	return NewOfferData{
		Stablecoin:            "0x6b175474e89094c44da98b954eedeac495271d0f",
		StablecoinDecimals:    6,
		MinimumAmount:         decimal.NewFromInt(100),
		MaximumAmount:         decimal.NewFromInt(1000),
		SecurityDepositAmount: decimal.NewFromInt(100),
		Direction:             domain.OfferDirectionSell,
		SettlementMethods: []domain.SettlementMethod{
			{Currency: "EUR", Price: "0.94", Method: "SEPA", PrivateData: "iban details"},
		},
	}
}

func TestOpenOfferLifecycle(t *testing.T) {
	f := newFixture(t)

	offer, err := f.offers.OpenOffer(testCtx, testOfferData())
	require.NoError(t, err)
	require.Equal(t, domain.OfferStateApproveTransferTransactionSent, offer.State)
	require.Equal(t, domain.ActionStateAwaitingTransactionConfirmation, offer.Approving.State)
	require.True(t, offer.IsUserMaker)
	require.Len(t, f.blockchain.broadcast, 1)

	offerID, chainID := f.offerKey(offer)

	// The transfer approval confirms.
	approval := f.blockchain.lastMonitored(t)
	require.Equal(t, domain.TxTypeApproveTransferToOpenOffer, approval.tx.Type)
	require.NoError(t, approval.handler.HandleConfirmedTransaction(approval.tx))
	require.Equal(t, domain.OfferStateAwaitingOpening, offer.State)
	require.Equal(t, domain.ActionStateCompleted, offer.Approving.State)

	require.NoError(t, f.offers.SendOpenOfferTransaction(testCtx, offerID, chainID, nil))
	require.Equal(t, domain.OfferStateOpenOfferTransactionSent, offer.State)
	require.Len(t, f.blockchain.broadcast, 2)

	// The openOffer transaction confirms and the OfferOpened event fires;
	// the maker announces its public key right away.
	require.NoError(t, f.offers.HandleOfferOpenedEvent(chain.OfferOpenedEvent{
		EventBase:   chain.EventBase{ChainID: testChainID},
		OfferID:     offer.ID,
		InterfaceID: offer.InterfaceID,
	}))
	require.Equal(t, domain.OfferStateOpened, offer.State)
	require.True(t, offer.HavePublicKey)
	require.Equal(t, 1, f.messenger.count())

	restored, err := f.offerRepo.GetOffer(testCtx, offerID, chainID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferStateOpened, restored.State)
	require.True(t, restored.HavePublicKey)
}

func TestOpenOfferRejectsInvalidData(t *testing.T) {
	f := newFixture(t)

	data := testOfferData()
	data.SecurityDepositAmount = decimal.NewFromInt(1)
	_, err := f.offers.OpenOffer(testCtx, data)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Empty(t, f.blockchain.broadcast)
}

func TestOpenOfferBroadcastFailureSetsException(t *testing.T) {
	f := newFixture(t)
	wantErr := errors.New("node unavailable")
	f.blockchain.broadcastErr = wantErr

	_, err := f.offers.OpenOffer(testCtx, testOfferData())
	require.ErrorIs(t, err, wantErr)

	_, offer := f.offerTruth.Find(func(*domain.Offer) bool { return true })
	require.NotNil(t, offer)
	require.Equal(t, domain.ActionStateException, offer.Approving.State)
	require.ErrorIs(t, offer.Approving.Err, wantErr)

	offerID, chainID := f.offerKey(offer)
	restored, err := f.offerRepo.GetOffer(testCtx, offerID, chainID)
	require.NoError(t, err)
	require.Equal(t, domain.ActionStateException, restored.Approving.State)
}

func TestSendOpenOfferTransactionRejectsMismatchedPayload(t *testing.T) {
	f := newFixture(t)

	offer, err := f.offers.OpenOffer(testCtx, testOfferData())
	require.NoError(t, err)
	approval := f.blockchain.lastMonitored(t)
	require.NoError(t, approval.handler.HandleConfirmedTransaction(approval.tx))

	offerID, chainID := f.offerKey(offer)
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	stale := types.NewTx(&types.LegacyTx{
		Nonce: 9, GasPrice: big.NewInt(1), Gas: 500000,
		To: &to, Value: new(big.Int), Data: []byte("stale payload"),
	})

	err = f.offers.SendOpenOfferTransaction(testCtx, offerID, chainID, stale)
	require.ErrorIs(t, err, ErrTransactionMismatch)
	require.Equal(t, domain.ActionStateException, offer.Opening.State)
	require.Len(t, f.blockchain.broadcast, 1)
}

func TestActionCannotBeStartedTwice(t *testing.T) {
	f := newFixture(t)

	offer, err := f.offers.OpenOffer(testCtx, testOfferData())
	require.NoError(t, err)
	approval := f.blockchain.lastMonitored(t)
	require.NoError(t, approval.handler.HandleConfirmedTransaction(approval.tx))

	offerID, chainID := f.offerKey(offer)
	require.NoError(t, f.offers.SendOpenOfferTransaction(testCtx, offerID, chainID, nil))
	err = f.offers.SendOpenOfferTransaction(testCtx, offerID, chainID, nil)
	require.ErrorIs(t, err, ErrActionInProgress)
}

func TestForeignOfferBecomesTakeable(t *testing.T) {
	f := newFixture(t)
	offer, makerKeyPair := openForeignOffer(t, f)

	require.Equal(t, domain.OfferStateAwaitingPublicKeyAnnouncement, offer.State)
	require.False(t, offer.IsUserMaker)

	require.NoError(t, f.offers.HandlePublicKeyAnnouncement(&p2p.PublicKeyAnnouncement{
		OfferID:   offer.ID,
		PublicKey: makerKeyPair.Public(),
	}))
	require.Equal(t, domain.OfferStateOpened, offer.State)
	require.True(t, offer.HavePublicKey)

	stored, err := f.keyManager.GetPublicKey(makerKeyPair.InterfaceID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestPublicKeyAnnouncementInterfaceIDMismatchIsIgnored(t *testing.T) {
	f := newFixture(t)
	offer, _ := openForeignOffer(t, f)

	stranger, err := crypto.NewKeyPair()
	require.NoError(t, err)
	require.NoError(t, f.offers.HandlePublicKeyAnnouncement(&p2p.PublicKeyAnnouncement{
		OfferID:   offer.ID,
		PublicKey: stranger.Public(),
	}))
	require.False(t, offer.HavePublicKey)
	require.Equal(t, domain.OfferStateAwaitingPublicKeyAnnouncement, offer.State)
}

func TestEditOfferSwapsPendingSettlementMethods(t *testing.T) {
	f := newFixture(t)

	offer, err := f.offers.OpenOffer(testCtx, testOfferData())
	require.NoError(t, err)
	offer.IsCreated = true
	offer.State = domain.OfferStateOpened

	offerID, chainID := f.offerKey(offer)
	edited := []domain.SettlementMethod{
		{Currency: "CHF", Price: "0.91", Method: "SWIFT", PrivateData: "account details"},
	}
	require.NoError(t, f.offers.EditOffer(testCtx, offerID, chainID, edited, nil))
	require.Equal(t, edited, offer.PendingSettlementMethods)

	require.NoError(t, f.offers.HandleOfferEditedEvent(chain.OfferEditedEvent{
		EventBase: chain.EventBase{ChainID: testChainID},
		OfferID:   offer.ID,
	}))
	require.Equal(t, edited, offer.SettlementMethods)
	require.Nil(t, offer.PendingSettlementMethods)

	methods, err := f.offerRepo.GetSettlementMethods(testCtx, offerID, chainID)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	require.Equal(t, "SWIFT", methods[0].Method)
}

func TestCancelOfferFlow(t *testing.T) {
	f := newFixture(t)

	offer, err := f.offers.OpenOffer(testCtx, testOfferData())
	require.NoError(t, err)
	offer.IsCreated = true
	offer.State = domain.OfferStateOpened

	offerID, chainID := f.offerKey(offer)
	require.NoError(t, f.offers.CancelOffer(testCtx, offerID, chainID, nil))
	require.Equal(t, domain.ActionStateAwaitingTransactionConfirmation, offer.Canceling.State)

	require.NoError(t, f.offers.HandleOfferCanceledEvent(chain.OfferCanceledEvent{
		EventBase: chain.EventBase{ChainID: testChainID},
		OfferID:   offer.ID,
	}))
	require.Equal(t, domain.OfferStateCanceled, offer.State)
	require.Equal(t, domain.ActionStateCompleted, offer.Canceling.State)
	require.False(t, offer.IsCreated)
}

// openForeignOffer puts an offer made by another maker into the truth
// source, the way the listener does when it sees an OfferOpened event for an
// unknown offer.
func openForeignOffer(t *testing.T, f *fixture) (*domain.Offer, *crypto.KeyPair) {
	t.Helper()
	makerKeyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)

	offerID := uuid.New()
	method := domain.SettlementMethod{Currency: "EUR", Price: "0.94", Method: "SEPA"}
	f.blockchain.onChainOffers[offerID] = &chain.OnChainOffer{
		IsCreated:             true,
		Maker:                 "0x3333333333333333333333333333333333333333",
		InterfaceID:           makerKeyPair.InterfaceID,
		Stablecoin:            "0x6b175474e89094c44da98b954eedeac495271d0f",
		AmountLowerBound:      big.NewInt(100_000_000),
		AmountUpperBound:      big.NewInt(1_000_000_000),
		SecurityDepositAmount: big.NewInt(100_000_000),
		ServiceFeeRate:        big.NewInt(100),
		Direction:             uint8(domain.OfferDirectionSell),
		SettlementMethods:     [][]byte{method.OnChainData()},
		ProtocolVersion:       big.NewInt(1),
	}

	require.NoError(t, f.offers.HandleOfferOpenedEvent(chain.OfferOpenedEvent{
		EventBase:   chain.EventBase{ChainID: testChainID},
		OfferID:     offerID,
		InterfaceID: makerKeyPair.InterfaceID,
	}))
	offer := f.offerTruth.Get(truthSourceKey(offerID, testChainID))
	require.NotNil(t, offer)
	return offer, makerKeyPair
}
