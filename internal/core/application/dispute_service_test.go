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

var testAgents = []string{
	"0x5555555555555555555555555555555555555555",
	"0x6666666666666666666666666666666666666666",
	"0x7777777777777777777777777777777777777777",
	"0x8888888888888888888888888888888888888888",
}

// trackDisputableSwap puts a swap the user is a party to into the payment
// phase, where a dispute may still be raised.
func trackDisputableSwap(t *testing.T, f *fixture) (*domain.Swap, string, string) {
	t.Helper()
	swap := domain.NewSwap(
		uuid.New(), testChainID,
		domain.SwapRoleTakerAndBuyer, domain.SwapStateAwaitingPaymentReceived,
	)
	swap.IsCreated = true
	swap.IsPaymentSent = true
	require.NoError(t, f.swaps.TrackNewSwap(testCtx, swap))
	swapID, chainID := splitKey(truthSourceKey(swap.ID, swap.ChainID))
	return swap, swapID, chainID
}

func TestCreateRaiseDisputeTransactionRequiresThreeAgents(t *testing.T) {
	f := newFixture(t)
	f.blockchain.agents = testAgents[:2]
	_, swapID, chainID := trackDisputableSwap(t, f)

	_, _, err := f.disputes.CreateRaiseDisputeTransaction(testCtx, swapID, chainID)
	require.ErrorIs(t, err, ErrInsufficientDisputeAgents)
}

func TestCreateRaiseDisputeTransactionSelectsDistinctAgents(t *testing.T) {
	f := newFixture(t)
	f.blockchain.agents = testAgents
	_, swapID, chainID := trackDisputableSwap(t, f)

	tx, selected, err := f.disputes.CreateRaiseDisputeTransaction(testCtx, swapID, chainID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Len(t, selected, 3)
	seen := make(map[string]bool)
	for _, agent := range selected {
		require.Contains(t, testAgents, agent)
		require.False(t, seen[agent])
		seen[agent] = true
	}
}

func TestRaiseDisputeRejectedOnceClosing(t *testing.T) {
	f := newFixture(t)
	f.blockchain.agents = testAgents
	swap, swapID, chainID := trackDisputableSwap(t, f)
	swap.UpdateState(domain.SwapStateAwaitingClosing)

	err := f.disputes.RaiseDispute(testCtx, swapID, chainID, testAgents[:3], nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, domain.ActionStateException, swap.RaisingDispute.State)
	require.Empty(t, f.blockchain.broadcast)
}

func TestRaiseDisputeRejectsInactiveAgent(t *testing.T) {
	f := newFixture(t)
	f.blockchain.agents = testAgents[:3]
	_, swapID, chainID := trackDisputableSwap(t, f)

	stale := []string{testAgents[0], testAgents[1], testAgents[3]}
	err := f.disputes.RaiseDispute(testCtx, swapID, chainID, stale, nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestRaiseDisputeFlowAsUser(t *testing.T) {
	f := newFixture(t)
	f.blockchain.agents = testAgents
	swap, swapID, chainID := trackDisputableSwap(t, f)

	require.NoError(t, f.disputes.RaiseDispute(testCtx, swapID, chainID, testAgents[:3], nil))
	require.Len(t, f.blockchain.broadcast, 1)
	monitored := f.blockchain.lastMonitored(t)
	require.Equal(t, domain.TxTypeRaiseDispute, monitored.tx.Type)

	f.blockchain.onChainSwaps[swap.ID] = &chain.OnChainSwap{
		IsCreated:     true,
		DisputeRaiser: big.NewInt(1),
	}
	require.NoError(t, f.disputes.HandleDisputeRaisedEvent(chain.DisputeRaisedEvent{
		EventBase:     chain.EventBase{ChainID: testChainID},
		SwapID:        swap.ID,
		DisputeAgent0: testAgents[0],
		DisputeAgent1: testAgents[1],
		DisputeAgent2: testAgents[2],
	}))

	require.Equal(t, domain.ActionStateCompleted, swap.RaisingDispute.State)
	require.Equal(t, big.NewInt(1), swap.OnChainDisputeRaiser)
	require.Equal(t, domain.DisputeStateSentPKA, swap.DisputeState)
	require.Equal(t, 1, f.messenger.count())

	restored, err := f.swapRepo.GetSwap(testCtx, swapID, chainID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStateSentPKA, restored.DisputeState)
}

// raiseDisputeAsAgent emits a DisputeRaised event that selects this node in
// the given agent slot and returns the tracked record together with the
// disputing parties' key pairs.
func raiseDisputeAsAgent(
	t *testing.T, f *fixture, role domain.DisputeRole,
) (*domain.SwapAndDispute, *crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()
	swapID := uuid.New()
	agents := []string{testAgents[0], testAgents[1], testAgents[2]}
	agents[int(role)] = f.blockchain.address

	makerKeyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)
	takerKeyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)
	f.blockchain.onChainSwaps[swapID] = &chain.OnChainSwap{
		IsCreated:        true,
		Maker:            "0x3333333333333333333333333333333333333333",
		MakerInterfaceID: makerKeyPair.InterfaceID,
		Taker:            "0x4444444444444444444444444444444444444444",
		TakerInterfaceID: takerKeyPair.InterfaceID,
		TakenSwapAmount:  big.NewInt(500_000_000),
		DisputeRaiser:    big.NewInt(0),
	}
	f.blockchain.onChainDisputes[swapID] = &chain.OnChainDispute{
		DisputeRaisedBlockNum: big.NewInt(99),
		DisputeAgent0:         agents[0],
		DisputeAgent1:         agents[1],
		DisputeAgent2:         agents[2],
	}

	require.NoError(t, f.disputes.HandleDisputeRaisedEvent(chain.DisputeRaisedEvent{
		EventBase:     chain.EventBase{ChainID: testChainID},
		SwapID:        swapID,
		DisputeAgent0: agents[0],
		DisputeAgent1: agents[1],
		DisputeAgent2: agents[2],
	}))
	sad := f.disputeTruth.Get(truthSourceKey(swapID, testChainID))
	require.NotNil(t, sad)
	return sad, makerKeyPair, takerKeyPair
}

func TestDisputeRaisedAsFirstAgentCreatesChannelKeys(t *testing.T) {
	f := newFixture(t)
	sad, _, _ := raiseDisputeAsAgent(t, f, domain.DisputeRoleAgent0)

	require.Equal(t, domain.DisputeRoleAgent0, sad.Role)
	require.Equal(t, domain.DisputeStateAsAgentCreatedCommunicationKeys, sad.State)
	require.NotEmpty(t, sad.Agent0InterfaceID)
	require.NotNil(t, sad.MakerCommunicationKey)
	require.NotNil(t, sad.TakerCommunicationKey)
	require.NotNil(t, sad.AgentCommunicationKey)
	require.Equal(t, 1, f.messenger.count())

	swapID, chainID := splitKey(truthSourceKey(sad.ID, sad.ChainID))
	restored, err := f.disputeRepo.GetSwapAndDispute(testCtx, swapID, chainID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStateAsAgentCreatedCommunicationKeys, restored.State)
}

func TestFirstAgentAnswersDisputingPartyWithChannelKey(t *testing.T) {
	f := newFixture(t)
	sad, makerKeyPair, _ := raiseDisputeAsAgent(t, f, domain.DisputeRoleAgent0)

	sentBefore := f.messenger.count()
	require.NoError(t, f.disputes.HandlePublicKeyAnnouncementAsUserForDispute(
		&p2p.PublicKeyAnnouncementAsUserForDispute{
			SwapID:    sad.ID,
			ChainID:   sad.ChainID,
			PublicKey: makerKeyPair.Public(),
		},
	))
	require.Equal(t, sentBefore+1, f.messenger.count())
}

func TestFirstAgentIgnoresUnknownDisputeKeyAnnouncement(t *testing.T) {
	f := newFixture(t)
	sad, _, _ := raiseDisputeAsAgent(t, f, domain.DisputeRoleAgent0)

	stranger, err := crypto.NewKeyPair()
	require.NoError(t, err)
	sentBefore := f.messenger.count()
	require.NoError(t, f.disputes.HandlePublicKeyAnnouncementAsUserForDispute(
		&p2p.PublicKeyAnnouncementAsUserForDispute{
			SwapID:    sad.ID,
			ChainID:   sad.ChainID,
			PublicKey: stranger.Public(),
		},
	))
	require.Equal(t, sentBefore, f.messenger.count())
}

func TestSecondaryAgentCollectsChannelKeys(t *testing.T) {
	f := newFixture(t)
	sad, _, _ := raiseDisputeAsAgent(t, f, domain.DisputeRoleAgent1)
	require.Equal(t, domain.DisputeRoleAgent1, sad.Role)
	require.Nil(t, sad.MakerCommunicationKey)

	agent0Key, err := crypto.NewKeyPair()
	require.NoError(t, err)
	require.NoError(t, f.disputes.HandlePublicKeyAnnouncementAsAgentForDispute(
		&p2p.PublicKeyAnnouncementAsAgentForDispute{
			SwapID:          sad.ID,
			Role:            domain.DisputeRoleAgent0,
			PublicKey:       agent0Key.Public(),
			EthereumAddress: sad.DisputeAgent0,
		},
	))
	require.Equal(t, agent0Key.InterfaceID, sad.Agent0InterfaceID)

	makerChannelKey, err := crypto.NewSymmetricKey()
	require.NoError(t, err)
	require.NoError(t, f.disputes.HandleCommunicationKeyMessage(&p2p.CommunicationKeyMessage{
		Type:    p2p.MakerCommunicationKey,
		SwapID:  sad.ID,
		ChainID: sad.ChainID,
		Key:     makerChannelKey,
	}))
	require.NotNil(t, sad.MakerCommunicationKey)
	require.NotEqual(t, domain.DisputeStateAsAgentCreatedCommunicationKeys, sad.State)

	takerChannelKey, err := crypto.NewSymmetricKey()
	require.NoError(t, err)
	require.NoError(t, f.disputes.HandleCommunicationKeyMessage(&p2p.CommunicationKeyMessage{
		Type:    p2p.TakerCommunicationKey,
		SwapID:  sad.ID,
		ChainID: sad.ChainID,
		Key:     takerChannelKey,
	}))
	require.Equal(t, domain.DisputeStateAsAgentCreatedCommunicationKeys, sad.State)
}

func TestChannelKeyForUntrackedSwapIsIgnored(t *testing.T) {
	f := newFixture(t)
	channelKey, err := crypto.NewSymmetricKey()
	require.NoError(t, err)
	require.NoError(t, f.disputes.HandleCommunicationKeyMessage(&p2p.CommunicationKeyMessage{
		Type:    p2p.MakerCommunicationKey,
		SwapID:  uuid.New(),
		ChainID: testChainID,
		Key:     channelKey,
	}))
}
