package application

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"math/rand"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/pkg/crypto"
)

// DisputeServiceOpts groups the dependencies of NewDisputeService.
type DisputeServiceOpts struct {
	Blockchain  BlockchainService
	Messenger   Messenger
	KeyManager  *KeyManagerService
	Swaps       domain.SwapRepository
	SwapTruth   *SwapTruthSource
	Repository  domain.DisputeRepository
	TruthSource *DisputeTruthSource

	// OnChainKey is the key controlling the node's address, used to
	// co-sign dispute agent announcements.
	OnChainKey *ecdsa.PrivateKey
}

// DisputeService owns the dispute flows: raising a dispute as maker or
// taker, and serving as one of the three selected dispute agents.
type DisputeService struct {
	blockchain  BlockchainService
	messenger   Messenger
	keyManager  *KeyManagerService
	swaps       domain.SwapRepository
	swapTruth   *SwapTruthSource
	repo        domain.DisputeRepository
	truthSource *DisputeTruthSource
	onChainKey  *ecdsa.PrivateKey
	locks       *entityLocks
}

func NewDisputeService(opts DisputeServiceOpts) *DisputeService {
	return &DisputeService{
		blockchain:  opts.Blockchain,
		messenger:   opts.Messenger,
		keyManager:  opts.KeyManager,
		swaps:       opts.Swaps,
		swapTruth:   opts.SwapTruth,
		repo:        opts.Repository,
		truthSource: opts.TruthSource,
		onChainKey:  opts.OnChainKey,
		locks:       newEntityLocks(),
	}
}

// CreateRaiseDisputeTransaction selects three distinct dispute agents
// uniformly at random from the currently active set and builds the unsigned
// raiseDispute transaction around them. The selected agents must be passed
// back to RaiseDispute unchanged.
func (s *DisputeService) CreateRaiseDisputeTransaction(
	ctx context.Context, swapID, chainID string,
) (*types.Transaction, []string, error) {
	key := entityStoreKey(swapID, chainID)
	swap := s.swapTruth.Get(key)
	if swap == nil {
		return nil, nil, domain.ErrSwapNotFound
	}
	active, err := s.blockchain.ActiveDisputeAgents(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(active) < 3 {
		return nil, nil, ErrInsufficientDisputeAgents
	}
	perm := rand.Perm(len(active))
	selected := []string{active[perm[0]], active[perm[1]], active[perm[2]]}

	calldata, err := chain.PackRaiseDispute(
		swap.ID, selected[0], selected[1], selected[2],
	)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.blockchain.BuildContractTransaction(ctx, calldata)
	if err != nil {
		return nil, nil, err
	}
	return tx, selected, nil
}

// RaiseDispute sends the raiseDispute transaction for a swap the user is a
// party to. agents must be the three agents the transaction was created
// with; they are validated against the active set again but never redrawn,
// so a previously built transaction still matches.
func (s *DisputeService) RaiseDispute(
	ctx context.Context, swapID, chainID string,
	agents []string, supplied *types.Transaction,
) error {
	key := entityStoreKey(swapID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.swapTruth.Get(key)
	if swap == nil {
		return domain.ErrSwapNotFound
	}
	if len(agents) != 3 {
		return domain.NewValidationError("exactly three dispute agents must be selected")
	}
	calldata, err := chain.PackRaiseDispute(swap.ID, agents[0], agents[1], agents[2])
	if err != nil {
		return err
	}
	return runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &swap.RaisingDispute,
		txType: domain.TxTypeRaiseDispute,
		validate: func(ctx context.Context) error {
			return s.validateRaisingDispute(ctx, swap, agents)
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState: func(ctx context.Context, state domain.ActionState) error {
			return s.swaps.UpdateSwapActionState(
				ctx, swapID, chainID, domain.TxTypeRaiseDispute, state.String(),
			)
		},
		persistTransaction: func(ctx context.Context, tx *domain.BlockchainTransaction) error {
			return s.swaps.UpdateSwapTransactionData(
				ctx, swapID, chainID, domain.TxTypeRaiseDispute,
				tx.Hash, tx.TimeOfCreation.Format(timeFormat),
				tx.LatestBlockNumberAtCreation.Int64(),
			)
		},
		handler: s,
	})
}

func (s *DisputeService) validateRaisingDispute(
	ctx context.Context, swap *domain.Swap, agents []string,
) error {
	if swap.IsDisputed() {
		return domain.NewValidationError("a dispute has already been raised for the swap")
	}
	switch swap.State {
	case domain.SwapStateAwaitingClosing,
		domain.SwapStateCloseSwapTransactionSent,
		domain.SwapStateClosed:
		return domain.NewValidationError(
			"a dispute cannot be raised once the swap is closing",
		)
	}
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			if strings.EqualFold(agents[i], agents[j]) {
				return domain.NewValidationError("the dispute agents must be distinct")
			}
		}
	}
	active, err := s.blockchain.ActiveDisputeAgents(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if !containsAddress(active, agent) {
			return domain.NewValidationError(
				"a selected dispute agent is no longer active",
			)
		}
	}
	return nil
}

// HandleDisputeRaisedEvent reacts to a dispute being raised: as a party to
// the swap the user announces a fresh dispute key, and as a selected agent
// the node starts tracking the disputed swap.
func (s *DisputeService) HandleDisputeRaisedEvent(event chain.DisputeRaisedEvent) error {
	ctx := context.Background()
	if swap := s.swapTruth.Get(truthSourceKey(event.SwapID, event.ChainID)); swap != nil {
		if err := s.handleDisputeRaisedAsUser(ctx, event, swap); err != nil {
			return err
		}
	}
	role, selected := s.agentRole(event)
	if !selected {
		return nil
	}
	return s.handleDisputeRaisedAsAgent(ctx, event, role)
}

func (s *DisputeService) handleDisputeRaisedAsUser(
	ctx context.Context, event chain.DisputeRaisedEvent, swap *domain.Swap,
) error {
	key := truthSourceKey(event.SwapID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swapID, chainID := splitKey(key)
	onChain, err := s.blockchain.GetSwap(ctx, event.SwapID)
	if err != nil {
		return err
	}
	swap.OnChainDisputeRaiser = onChain.DisputeRaiser

	if swap.RaisingDispute.State == domain.ActionStateAwaitingTransactionConfirmation {
		swap.RaisingDispute.State = domain.ActionStateCompleted
		if err := s.swaps.UpdateSwapActionState(
			ctx, swapID, chainID,
			domain.TxTypeRaiseDispute, domain.ActionStateCompleted.String(),
		); err != nil {
			return err
		}
	}

	keyPair, err := s.keyManager.GenerateKeyPair(ctx)
	if err != nil {
		return err
	}
	announcement, err := p2p.BuildPublicKeyAnnouncementAsUserForDispute(
		keyPair, swap.ID, swap.ChainID,
	)
	if err != nil {
		return err
	}
	if err := s.messenger.SendMessage(ctx, announcement); err != nil {
		return err
	}
	swap.DisputeState = domain.DisputeStateSentPKA
	return s.swaps.UpdateSwapDisputeState(
		ctx, swapID, chainID, swap.DisputeState.String(),
	)
}

func (s *DisputeService) agentRole(event chain.DisputeRaisedEvent) (domain.DisputeRole, bool) {
	address := s.blockchain.Address()
	switch {
	case strings.EqualFold(event.DisputeAgent0, address):
		return domain.DisputeRoleAgent0, true
	case strings.EqualFold(event.DisputeAgent1, address):
		return domain.DisputeRoleAgent1, true
	case strings.EqualFold(event.DisputeAgent2, address):
		return domain.DisputeRoleAgent2, true
	}
	return 0, false
}

func (s *DisputeService) handleDisputeRaisedAsAgent(
	ctx context.Context, event chain.DisputeRaisedEvent, role domain.DisputeRole,
) error {
	key := truthSourceKey(event.SwapID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	if s.truthSource.Get(key) != nil {
		return nil
	}
	sad, err := s.fetchSwapAndDispute(ctx, event, role)
	if err != nil {
		return err
	}

	keyPair, err := s.keyManager.GenerateKeyPair(ctx)
	if err != nil {
		return err
	}
	announcement, err := p2p.BuildPublicKeyAnnouncementAsAgentForDispute(
		keyPair, sad.ID, role, s.onChainKey,
	)
	if err != nil {
		return err
	}
	if err := s.messenger.SendMessage(ctx, announcement); err != nil {
		return err
	}

	if role == domain.DisputeRoleAgent0 {
		sad.Agent0InterfaceID = keyPair.InterfaceID
		sad.State = domain.DisputeStateAsAgentSentAgent0PKA
		if err := s.createCommunicationKeys(sad); err != nil {
			return err
		}
		sad.State = domain.DisputeStateAsAgentCreatedCommunicationKeys
	}

	if err := s.repo.StoreSwapAndDispute(ctx, sad); err != nil {
		return err
	}
	s.truthSource.Put(key, sad)
	return nil
}

func (s *DisputeService) fetchSwapAndDispute(
	ctx context.Context, event chain.DisputeRaisedEvent, role domain.DisputeRole,
) (*domain.SwapAndDispute, error) {
	onChainSwap, err := s.blockchain.GetSwap(ctx, event.SwapID)
	if err != nil {
		return nil, err
	}
	onChainDispute, err := s.blockchain.GetDispute(ctx, event.SwapID)
	if err != nil {
		return nil, err
	}
	return &domain.SwapAndDispute{
		ID:                      event.SwapID,
		ChainID:                 event.EventChainID(),
		IsCreated:               onChainSwap.IsCreated,
		RequiresFill:            onChainSwap.RequiresFill,
		Maker:                   onChainSwap.Maker,
		MakerInterfaceID:        onChainSwap.MakerInterfaceID,
		Taker:                   onChainSwap.Taker,
		TakerInterfaceID:        onChainSwap.TakerInterfaceID,
		Stablecoin:              onChainSwap.Stablecoin,
		AmountLowerBound:        onChainSwap.AmountLowerBound,
		AmountUpperBound:        onChainSwap.AmountUpperBound,
		SecurityDeposit:         onChainSwap.SecurityDepositAmount,
		TakenSwapAmount:         onChainSwap.TakenSwapAmount,
		ServiceFeeAmount:        onChainSwap.ServiceFeeAmount,
		ServiceFeeRate:          onChainSwap.ServiceFeeRate,
		Direction:               domain.OfferDirection(onChainSwap.Direction),
		OnChainSettlementMethod: onChainSwap.SettlementMethod,
		ProtocolVersion:         onChainSwap.ProtocolVersion,
		IsPaymentSent:           onChainSwap.IsPaymentSent,
		IsPaymentReceived:       onChainSwap.IsPaymentReceived,
		HasBuyerClosed:          onChainSwap.HasBuyerClosed,
		HasSellerClosed:         onChainSwap.HasSellerClosed,
		OnChainDisputeRaiser:    onChainSwap.DisputeRaiser,

		DisputeRaisedBlockNumber: onChainDispute.DisputeRaisedBlockNum,
		DisputeAgent0:            onChainDispute.DisputeAgent0,
		DisputeAgent1:            onChainDispute.DisputeAgent1,
		DisputeAgent2:            onChainDispute.DisputeAgent2,
		HasAgent0Proposed:        onChainDispute.HasDA0Proposed,
		Agent0MakerPayout:        onChainDispute.DA0MakerPayout,
		Agent0TakerPayout:        onChainDispute.DA0TakerPayout,
		Agent0ConfiscationPayout: onChainDispute.DA0ConfiscationPayout,
		HasAgent1Proposed:        onChainDispute.HasDA1Proposed,
		Agent1MakerPayout:        onChainDispute.DA1MakerPayout,
		Agent1TakerPayout:        onChainDispute.DA1TakerPayout,
		Agent1ConfiscationPayout: onChainDispute.DA1ConfiscationPayout,
		HasAgent2Proposed:        onChainDispute.HasDA2Proposed,
		Agent2MakerPayout:        onChainDispute.DA2MakerPayout,
		Agent2TakerPayout:        onChainDispute.DA2TakerPayout,
		Agent2ConfiscationPayout: onChainDispute.DA2ConfiscationPayout,
		OnChainMatchingProposals: onChainDispute.MatchingProposals,
		MakerReaction:            onChainDispute.MakerReaction,
		TakerReaction:            onChainDispute.TakerReaction,
		OnChainState:             onChainDispute.State,

		HasMakerPaidOut:              onChainDispute.HasMakerPaidOut,
		HasTakerPaidOut:              onChainDispute.HasTakerPaidOut,
		TotalWithoutSpentServiceFees: onChainDispute.TotalWithoutSpentServiceFees,

		Role: role,
	}, nil
}

// createCommunicationKeys generates the symmetric keys of the three dispute
// channels. Only the maker and taker keys are ever sent over the wire; the
// agent channel key stays with the first agent until another agent requests
// it.
func (s *DisputeService) createCommunicationKeys(sad *domain.SwapAndDispute) error {
	var err error
	if sad.MakerCommunicationKey, err = crypto.NewSymmetricKey(); err != nil {
		return err
	}
	if sad.TakerCommunicationKey, err = crypto.NewSymmetricKey(); err != nil {
		return err
	}
	sad.AgentCommunicationKey, err = crypto.NewSymmetricKey()
	return err
}

// HandlePublicKeyAnnouncementAsUserForDispute stores a disputing maker's or
// taker's announced key. The first dispute agent answers with that party's
// channel key.
func (s *DisputeService) HandlePublicKeyAnnouncementAsUserForDispute(
	msg *p2p.PublicKeyAnnouncementAsUserForDispute,
) error {
	ctx := context.Background()
	key := truthSourceKey(msg.SwapID, msg.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	sad := s.truthSource.Get(key)
	if sad == nil {
		return nil
	}
	if err := s.keyManager.StorePublicKey(ctx, msg.PublicKey); err != nil {
		return err
	}
	if sad.Role != domain.DisputeRoleAgent0 {
		return nil
	}

	var keyType p2p.CommunicationKeyType
	var channelKey *crypto.SymmetricKey
	switch {
	case bytes.Equal(msg.PublicKey.InterfaceID, sad.MakerInterfaceID):
		keyType, channelKey = p2p.MakerCommunicationKey, sad.MakerCommunicationKey
	case bytes.Equal(msg.PublicKey.InterfaceID, sad.TakerInterfaceID):
		keyType, channelKey = p2p.TakerCommunicationKey, sad.TakerCommunicationKey
	default:
		log.Debugf(
			"ignoring dispute key announcement for swap %s: unknown interface ID",
			msg.SwapID,
		)
		return nil
	}
	return s.sendCommunicationKey(ctx, sad, msg.PublicKey, keyType, channelKey)
}

// HandlePublicKeyAnnouncementAsAgentForDispute stores another dispute
// agent's announced key. The first agent answers the other two with the
// maker and taker channel keys so every agent can follow both channels.
func (s *DisputeService) HandlePublicKeyAnnouncementAsAgentForDispute(
	msg *p2p.PublicKeyAnnouncementAsAgentForDispute,
) error {
	ctx := context.Background()
	key := truthSourceKey(msg.SwapID, s.blockchain.ChainID())
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	sad := s.truthSource.Get(key)
	if sad == nil {
		return nil
	}
	if !strings.EqualFold(msg.EthereumAddress, s.agentAddress(sad, msg.Role)) {
		log.Debugf(
			"ignoring agent key announcement for swap %s: address does not match %s",
			msg.SwapID, msg.Role,
		)
		return nil
	}
	if err := s.keyManager.StorePublicKey(ctx, msg.PublicKey); err != nil {
		return err
	}

	if msg.Role == domain.DisputeRoleAgent0 {
		sad.Agent0InterfaceID = msg.PublicKey.InterfaceID
		id, chainID := splitKey(key)
		if err := s.repo.UpdateSwapAndDisputeAgent0InterfaceID(
			ctx, id, chainID,
			base64.StdEncoding.EncodeToString(msg.PublicKey.InterfaceID),
		); err != nil {
			return err
		}
		return nil
	}
	if sad.Role != domain.DisputeRoleAgent0 {
		return nil
	}
	if err := s.sendCommunicationKey(
		ctx, sad, msg.PublicKey, p2p.MakerCommunicationKey, sad.MakerCommunicationKey,
	); err != nil {
		return err
	}
	return s.sendCommunicationKey(
		ctx, sad, msg.PublicKey, p2p.TakerCommunicationKey, sad.TakerCommunicationKey,
	)
}

func (s *DisputeService) agentAddress(
	sad *domain.SwapAndDispute, role domain.DisputeRole,
) string {
	switch role {
	case domain.DisputeRoleAgent0:
		return sad.DisputeAgent0
	case domain.DisputeRoleAgent1:
		return sad.DisputeAgent1
	}
	return sad.DisputeAgent2
}

func (s *DisputeService) sendCommunicationKey(
	ctx context.Context,
	sad *domain.SwapAndDispute,
	recipient *crypto.PublicKey,
	keyType p2p.CommunicationKeyType,
	channelKey *crypto.SymmetricKey,
) error {
	keyPair, err := s.keyManager.GetKeyPair(sad.Agent0InterfaceID)
	if err != nil {
		return err
	}
	if keyPair == nil {
		return domain.ErrKeyNotFound
	}
	message, err := p2p.BuildCommunicationKeyMessage(
		keyPair, recipient, keyType, sad.ID, sad.ChainID, channelKey,
	)
	if err != nil {
		return err
	}
	return s.messenger.SendMessage(ctx, message)
}

// HandleCommunicationKeyMessage stores a dispute channel key received from
// the first dispute agent.
func (s *DisputeService) HandleCommunicationKeyMessage(msg *p2p.CommunicationKeyMessage) error {
	ctx := context.Background()
	key := truthSourceKey(msg.SwapID, msg.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	sad := s.truthSource.Get(key)
	if sad == nil {
		// Makers and takers follow the dispute chat interactively, so a
		// channel key addressed to them is only logged here.
		log.Debugf("received dispute channel key for untracked swap %s", msg.SwapID)
		return nil
	}
	id, chainID := splitKey(key)
	encoded := base64.StdEncoding.EncodeToString(msg.Key.Bytes)
	if msg.Type == p2p.MakerCommunicationKey {
		sad.MakerCommunicationKey = msg.Key
		if err := s.repo.UpdateMakerCommunicationKey(ctx, id, chainID, encoded); err != nil {
			return err
		}
	} else {
		sad.TakerCommunicationKey = msg.Key
		if err := s.repo.UpdateTakerCommunicationKey(ctx, id, chainID, encoded); err != nil {
			return err
		}
	}
	if sad.MakerCommunicationKey != nil && sad.TakerCommunicationKey != nil &&
		sad.State != domain.DisputeStateAsAgentCreatedCommunicationKeys {
		sad.State = domain.DisputeStateAsAgentCreatedCommunicationKeys
		return s.repo.UpdateSwapAndDisputeState(ctx, id, chainID, sad.State.String())
	}
	return nil
}

// HandleConfirmedTransaction marks a raiseDispute transaction confirmed;
// the rest of the dispute flow is driven by the DisputeRaised event.
func (s *DisputeService) HandleConfirmedTransaction(tx *domain.BlockchainTransaction) error {
	return nil
}

// HandleFailedTransaction puts the raising action of the swap the failed
// raiseDispute transaction belongs to into the exception state.
func (s *DisputeService) HandleFailedTransaction(
	tx *domain.BlockchainTransaction, txErr error,
) error {
	ctx := context.Background()
	key, swap := s.swapTruth.Find(func(swap *domain.Swap) bool {
		return swap.RaisingDispute.Transaction != nil &&
			swap.RaisingDispute.Transaction.Hash == tx.Hash
	})
	if swap == nil {
		return ErrUnknownTransaction
	}
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swapID, chainID := splitKey(key)
	swap.RaisingDispute.State = domain.ActionStateException
	swap.RaisingDispute.Err = txErr
	return s.swaps.UpdateSwapActionState(
		ctx, swapID, chainID,
		domain.TxTypeRaiseDispute, domain.ActionStateException.String(),
	)
}

func containsAddress(addresses []string, candidate string) bool {
	for _, address := range addresses {
		if strings.EqualFold(address, candidate) {
			return true
		}
	}
	return false
}
