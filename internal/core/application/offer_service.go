package application

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/pkg/crypto"
	"github.com/google/uuid"
)

// protocolVersion is the escrow protocol revision new offers are opened
// under.
var protocolVersion = big.NewInt(1)

// SwapTracker is the swap service surface the offer service hands taken
// offers over to.
type SwapTracker interface {
	TrackNewSwap(ctx context.Context, swap *domain.Swap) error
	HandleOfferTaken(event chain.OfferTakenEvent) error
}

// OfferServiceOpts groups the dependencies of NewOfferService.
type OfferServiceOpts struct {
	Blockchain  BlockchainService
	Messenger   Messenger
	KeyManager  *KeyManagerService
	Repository  domain.OfferRepository
	TruthSource *OfferTruthSource
	SwapTracker SwapTracker
}

// OfferService owns the Offer state machine: the user-driven mutating
// actions, the contract events that advance offers, and the public-key
// announcements that complete the opening handshake.
type OfferService struct {
	blockchain  BlockchainService
	messenger   Messenger
	keyManager  *KeyManagerService
	repo        domain.OfferRepository
	truthSource *OfferTruthSource
	swapTracker SwapTracker
	locks       *entityLocks
}

func NewOfferService(opts OfferServiceOpts) *OfferService {
	return &OfferService{
		blockchain:  opts.Blockchain,
		messenger:   opts.Messenger,
		keyManager:  opts.KeyManager,
		repo:        opts.Repository,
		truthSource: opts.TruthSource,
		swapTracker: opts.SwapTracker,
		locks:       newEntityLocks(),
	}
}

// OpenOffer validates the given offer data, creates the offer with a fresh
// key pair and sends the transfer approval that precedes opening. The offer
// is returned in the APPROVE_TRANSFER_TRANSACTION_SENT state.
func (s *OfferService) OpenOffer(
	ctx context.Context, data NewOfferData,
) (*domain.Offer, error) {
	serviceFeeRate, err := s.blockchain.ServiceFeeRate(ctx)
	if err != nil {
		return nil, err
	}
	validated, err := validateNewOfferData(data, serviceFeeRate)
	if err != nil {
		return nil, err
	}
	keyPair, err := s.keyManager.GenerateKeyPair(ctx)
	if err != nil {
		return nil, err
	}

	offer := domain.NewOffer(uuid.New(), s.blockchain.ChainID())
	offer.Maker = s.blockchain.Address()
	offer.InterfaceID = keyPair.InterfaceID
	offer.Stablecoin = validated.stablecoin
	offer.AmountLowerBound = validated.amountLowerBound
	offer.AmountUpperBound = validated.amountUpperBound
	offer.SecurityDeposit = validated.securityDeposit
	offer.ServiceFeeRate = validated.serviceFeeRate
	offer.Direction = validated.direction
	offer.SettlementMethods = validated.settlementMethods
	offer.ProtocolVersion = protocolVersion
	offer.IsUserMaker = true
	offer.State = domain.OfferStateApprovingTransfer

	key := truthSourceKey(offer.ID, offer.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.StoreOffer(ctx, offer); err != nil {
		return nil, err
	}
	offerID, chainID := splitKey(key)
	if err := s.repo.StoreSettlementMethods(
		ctx, offerID, chainID, offer.SettlementMethods,
	); err != nil {
		return nil, err
	}
	s.truthSource.Put(key, offer)

	allowance := approvalAmount(
		validated.amountUpperBound, validated.securityDeposit, validated.serviceFeeRate,
	)
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action:   &offer.Approving,
		txType:   domain.TxTypeApproveTransferToOpenOffer,
		validate: func(context.Context) error { return nil },
		buildTx: func(ctx context.Context, _ []byte) (*types.Transaction, error) {
			return s.blockchain.BuildApproveTransaction(ctx, offer.Stablecoin, allowance)
		},
		persistState:       s.actionStatePersister(offerID, chainID, domain.TxTypeApproveTransferToOpenOffer),
		persistTransaction: s.transactionPersister(offerID, chainID, domain.TxTypeApproveTransferToOpenOffer),
		handler:            s,
	})
	if err != nil {
		return nil, err
	}

	offer.UpdateState(domain.OfferStateApproveTransferTransactionSent)
	if err := s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String()); err != nil {
		return nil, err
	}
	return offer, nil
}

// SendOpenOfferTransaction sends the openOffer transaction of an offer whose
// transfer approval has confirmed.
func (s *OfferService) SendOpenOfferTransaction(
	ctx context.Context, offerID, chainID string, supplied *types.Transaction,
) error {
	key := entityStoreKey(offerID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return domain.ErrOfferNotFound
	}
	calldata, err := chain.PackOpenOffer(chain.OpenOfferParams{
		OfferID:               offer.ID,
		Stablecoin:            offer.Stablecoin,
		AmountLowerBound:      offer.AmountLowerBound,
		AmountUpperBound:      offer.AmountUpperBound,
		SecurityDepositAmount: offer.SecurityDeposit,
		Direction:             uint8(offer.Direction),
		SettlementMethods:     onChainSettlementMethods(offer.SettlementMethods),
		ProtocolVersion:       offer.ProtocolVersion,
		InterfaceID:           offer.InterfaceID,
	})
	if err != nil {
		return err
	}
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &offer.Opening,
		txType: domain.TxTypeOpenOffer,
		validate: func(context.Context) error {
			if !offer.IsUserMaker {
				return domain.NewValidationError("the offer was not made by this user")
			}
			if offer.State != domain.OfferStateAwaitingOpening {
				return domain.NewValidationError("the offer is not awaiting opening")
			}
			return nil
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(offerID, chainID, domain.TxTypeOpenOffer),
		persistTransaction: s.transactionPersister(offerID, chainID, domain.TxTypeOpenOffer),
		handler:            s,
	})
	if err != nil {
		return err
	}
	offer.UpdateState(domain.OfferStateOpenOfferTransactionSent)
	return s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String())
}

// CancelOffer cancels an open offer of the user's.
func (s *OfferService) CancelOffer(
	ctx context.Context, offerID, chainID string, supplied *types.Transaction,
) error {
	key := entityStoreKey(offerID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return domain.ErrOfferNotFound
	}
	calldata, err := chain.PackCancelOffer(offer.ID)
	if err != nil {
		return err
	}
	return runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &offer.Canceling,
		txType: domain.TxTypeCancelOffer,
		validate: func(context.Context) error {
			if !offer.IsUserMaker {
				return domain.NewValidationError("the offer was not made by this user")
			}
			if offer.IsTaken {
				return domain.NewValidationError("a taken offer cannot be canceled")
			}
			if !offer.IsOpen() {
				return domain.NewValidationError("the offer is not open")
			}
			return nil
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(offerID, chainID, domain.TxTypeCancelOffer),
		persistTransaction: s.transactionPersister(offerID, chainID, domain.TxTypeCancelOffer),
		handler:            s,
	})
}

// EditOffer replaces the settlement methods of an open offer of the user's.
// The new set takes effect once the corresponding OfferEdited event
// confirms; until then it is held as the offer's pending set.
func (s *OfferService) EditOffer(
	ctx context.Context, offerID, chainID string,
	methods []domain.SettlementMethod, supplied *types.Transaction,
) error {
	key := entityStoreKey(offerID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return domain.ErrOfferNotFound
	}
	calldata, err := chain.PackEditOffer(offer.ID, onChainSettlementMethods(methods))
	if err != nil {
		return err
	}
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &offer.Editing,
		txType: domain.TxTypeEditOffer,
		validate: func(context.Context) error {
			if !offer.IsUserMaker {
				return domain.NewValidationError("the offer was not made by this user")
			}
			if !offer.IsOpen() {
				return domain.NewValidationError("the offer is not open")
			}
			return validateSettlementMethods(methods)
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(offerID, chainID, domain.TxTypeEditOffer),
		persistTransaction: s.transactionPersister(offerID, chainID, domain.TxTypeEditOffer),
		handler:            s,
	})
	if err != nil {
		return err
	}
	offer.PendingSettlementMethods = methods
	return s.repo.StorePendingSettlementMethods(ctx, offerID, chainID, methods)
}

// ApproveTransferToTakeOffer sends the transfer approval that precedes
// taking another maker's open offer.
func (s *OfferService) ApproveTransferToTakeOffer(
	ctx context.Context, offerID, chainID string,
	takenAmount *big.Int, supplied *types.Transaction,
) error {
	key := entityStoreKey(offerID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return domain.ErrOfferNotFound
	}
	allowance := approvalAmount(takenAmount, offer.SecurityDeposit, offer.ServiceFeeRate)
	return runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &offer.Approving,
		txType: domain.TxTypeApproveTransferToTakeOffer,
		validate: func(context.Context) error {
			return s.validateTaking(offer, takenAmount)
		},
		buildTx: func(ctx context.Context, _ []byte) (*types.Transaction, error) {
			return s.blockchain.BuildApproveTransaction(ctx, offer.Stablecoin, allowance)
		},
		supplied:           supplied,
		persistState:       s.actionStatePersister(offerID, chainID, domain.TxTypeApproveTransferToTakeOffer),
		persistTransaction: s.transactionPersister(offerID, chainID, domain.TxTypeApproveTransferToTakeOffer),
		handler:            s,
	})
}

// CreateTakeOfferTransaction generates the taker's key pair and builds the
// unsigned takeOffer transaction. The returned interface ID must be passed
// back to TakeOffer so resubmission rebuilds identical calldata.
func (s *OfferService) CreateTakeOfferTransaction(
	ctx context.Context, offerID, chainID string,
	takenAmount *big.Int, method domain.SettlementMethod,
) (*types.Transaction, []byte, error) {
	key := entityStoreKey(offerID, chainID)
	offer := s.truthSource.Get(key)
	if offer == nil {
		return nil, nil, domain.ErrOfferNotFound
	}
	keyPair, err := s.keyManager.GenerateKeyPair(ctx)
	if err != nil {
		return nil, nil, err
	}
	calldata, err := chain.PackTakeOffer(
		offer.ID, takenAmount, method.OnChainData(), keyPair.InterfaceID,
	)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.blockchain.BuildContractTransaction(ctx, calldata)
	if err != nil {
		return nil, nil, err
	}
	return tx, keyPair.InterfaceID, nil
}

// TakeOffer sends the takeOffer transaction for another maker's open offer
// and starts tracking the resulting swap. takerInterfaceID identifies the
// key pair the taker will exchange messages under; when nil a fresh one is
// generated.
func (s *OfferService) TakeOffer(
	ctx context.Context, offerID, chainID string,
	takenAmount *big.Int, method domain.SettlementMethod,
	takerInterfaceID []byte, supplied *types.Transaction,
) error {
	key := entityStoreKey(offerID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return domain.ErrOfferNotFound
	}
	keyPair, err := s.takerKeyPair(ctx, takerInterfaceID)
	if err != nil {
		return err
	}
	calldata, err := chain.PackTakeOffer(
		offer.ID, takenAmount, method.OnChainData(), keyPair.InterfaceID,
	)
	if err != nil {
		return err
	}
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &offer.Taking,
		txType: domain.TxTypeTakeOffer,
		validate: func(context.Context) error {
			if err := s.validateTaking(offer, takenAmount); err != nil {
				return err
			}
			if !containsSettlementMethod(offer.SettlementMethods, method) {
				return domain.NewValidationError(
					"the chosen settlement method is not offered by the maker",
				)
			}
			return nil
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(offerID, chainID, domain.TxTypeTakeOffer),
		persistTransaction: s.transactionPersister(offerID, chainID, domain.TxTypeTakeOffer),
		handler:            s,
	})
	if err != nil {
		return err
	}

	swap := domain.NewSwap(
		offer.ID, offer.ChainID,
		takerRole(offer.Direction), domain.SwapStateTakeOfferTransactionSent,
	)
	swap.Maker = offer.Maker
	swap.MakerInterfaceID = offer.InterfaceID
	swap.Taker = s.blockchain.Address()
	swap.TakerInterfaceID = keyPair.InterfaceID
	swap.Stablecoin = offer.Stablecoin
	swap.AmountLowerBound = offer.AmountLowerBound
	swap.AmountUpperBound = offer.AmountUpperBound
	swap.SecurityDeposit = offer.SecurityDeposit
	swap.TakenSwapAmount = takenAmount
	swap.ServiceFeeAmount = serviceFeeOn(takenAmount, offer.ServiceFeeRate)
	swap.ServiceFeeRate = offer.ServiceFeeRate
	swap.Direction = offer.Direction
	swap.SettlementMethod = method
	swap.ProtocolVersion = offer.ProtocolVersion
	swap.RequiresFill = offer.Direction == domain.OfferDirectionSell
	swap.TakerPrivateData = method.PrivateData
	return s.swapTracker.TrackNewSwap(ctx, swap)
}

func (s *OfferService) validateTaking(offer *domain.Offer, takenAmount *big.Int) error {
	if offer.IsUserMaker {
		return domain.NewValidationError("the user cannot take their own offer")
	}
	if !offer.IsOpen() {
		return domain.NewValidationError("the offer is not open")
	}
	if !offer.HavePublicKey {
		return domain.NewValidationError(
			"the maker's public key has not been announced yet",
		)
	}
	if takenAmount.Cmp(offer.AmountLowerBound) < 0 ||
		takenAmount.Cmp(offer.AmountUpperBound) > 0 {
		return domain.NewValidationError("the taken amount is out of the offer's bounds")
	}
	return nil
}

func (s *OfferService) takerKeyPair(ctx context.Context, interfaceID []byte) (*crypto.KeyPair, error) {
	if interfaceID == nil {
		return s.keyManager.GenerateKeyPair(ctx)
	}
	keyPair, err := s.keyManager.GetKeyPair(interfaceID)
	if err != nil {
		return nil, err
	}
	if keyPair == nil {
		return nil, domain.ErrKeyNotFound
	}
	return keyPair, nil
}

// HandleOfferOpenedEvent advances a user-made offer past opening, or starts
// tracking an offer another maker opened.
func (s *OfferService) HandleOfferOpenedEvent(event chain.OfferOpenedEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.OfferID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offerID, chainID := splitKey(key)
	offer := s.truthSource.Get(key)
	if offer == nil {
		return s.trackForeignOffer(ctx, event, key)
	}

	offer.IsCreated = true
	offer.Opening.State = domain.ActionStateCompleted
	if err := s.repo.UpdateOfferActionState(
		ctx, offerID, chainID,
		domain.TxTypeOpenOffer, domain.ActionStateCompleted.String(),
	); err != nil {
		return err
	}
	offer.UpdateState(domain.OfferStateAwaitingPublicKeyAnnouncement)
	if err := s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String()); err != nil {
		return err
	}
	if !offer.IsUserMaker {
		return nil
	}

	// The maker announces the key the offer was opened under.
	keyPair, err := s.keyManager.GetKeyPair(offer.InterfaceID)
	if err != nil {
		return err
	}
	if keyPair == nil {
		return domain.ErrKeyNotFound
	}
	announcement, err := p2p.BuildPublicKeyAnnouncement(keyPair, offer.ID)
	if err != nil {
		return err
	}
	if err := s.messenger.SendMessage(ctx, announcement); err != nil {
		return err
	}
	offer.HavePublicKey = true
	if err := s.repo.UpdateOfferHavePublicKey(ctx, offerID, chainID, true); err != nil {
		return err
	}
	offer.UpdateState(domain.OfferStateOpened)
	return s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String())
}

func (s *OfferService) trackForeignOffer(
	ctx context.Context, event chain.OfferOpenedEvent, key string,
) error {
	onChain, err := s.blockchain.GetOffer(ctx, event.OfferID)
	if err != nil {
		return err
	}
	if !onChain.IsCreated {
		log.Debugf("ignoring OfferOpened for unknown offer %s", event.OfferID)
		return nil
	}
	offer := domain.NewOffer(event.OfferID, event.ChainID)
	offer.IsCreated = true
	offer.IsTaken = onChain.IsTaken
	offer.Maker = onChain.Maker
	offer.InterfaceID = onChain.InterfaceID
	offer.Stablecoin = onChain.Stablecoin
	offer.AmountLowerBound = onChain.AmountLowerBound
	offer.AmountUpperBound = onChain.AmountUpperBound
	offer.SecurityDeposit = onChain.SecurityDepositAmount
	offer.ServiceFeeRate = onChain.ServiceFeeRate
	offer.Direction = domain.OfferDirection(onChain.Direction)
	offer.SettlementMethods = decodeOnChainSettlementMethods(onChain.SettlementMethods)
	offer.ProtocolVersion = onChain.ProtocolVersion
	offer.State = domain.OfferStateAwaitingPublicKeyAnnouncement

	if err := s.repo.StoreOffer(ctx, offer); err != nil {
		return err
	}
	offerID, chainID := splitKey(key)
	if err := s.repo.StoreSettlementMethods(
		ctx, offerID, chainID, offer.SettlementMethods,
	); err != nil {
		return err
	}
	s.truthSource.Put(key, offer)
	return nil
}

// HandleOfferEditedEvent swaps a confirmed pending settlement-method set in
// as the offer's current one.
func (s *OfferService) HandleOfferEditedEvent(event chain.OfferEditedEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.OfferID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return nil
	}
	offerID, chainID := splitKey(key)

	if offer.IsUserMaker {
		offer.Editing.State = domain.ActionStateCompleted
		if err := s.repo.UpdateOfferActionState(
			ctx, offerID, chainID,
			domain.TxTypeEditOffer, domain.ActionStateCompleted.String(),
		); err != nil {
			return err
		}
		if offer.PendingSettlementMethods != nil {
			offer.SettlementMethods = offer.PendingSettlementMethods
			offer.PendingSettlementMethods = nil
		}
	} else {
		// Another maker edited: refresh from the chain.
		onChain, err := s.blockchain.GetOffer(ctx, event.OfferID)
		if err != nil {
			return err
		}
		offer.SettlementMethods = decodeOnChainSettlementMethods(onChain.SettlementMethods)
	}
	if err := s.repo.StoreSettlementMethods(
		ctx, offerID, chainID, offer.SettlementMethods,
	); err != nil {
		return err
	}
	return s.repo.DeletePendingSettlementMethods(ctx, offerID, chainID)
}

// HandleOfferCanceledEvent marks an offer canceled.
func (s *OfferService) HandleOfferCanceledEvent(event chain.OfferCanceledEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.OfferID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return nil
	}
	offerID, chainID := splitKey(key)
	if err := offer.Cancel(); err != nil {
		return err
	}
	if offer.IsUserMaker {
		offer.Canceling.State = domain.ActionStateCompleted
		if err := s.repo.UpdateOfferActionState(
			ctx, offerID, chainID,
			domain.TxTypeCancelOffer, domain.ActionStateCompleted.String(),
		); err != nil {
			return err
		}
	}
	return s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String())
}

// HandleOfferTakenEvent marks an offer taken and hands it to the swap
// service when the user is a party to the resulting swap.
func (s *OfferService) HandleOfferTakenEvent(event chain.OfferTakenEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.OfferID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil {
		return nil
	}
	offerID, chainID := splitKey(key)
	if err := offer.Take(); err != nil {
		return err
	}
	if err := s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String()); err != nil {
		return err
	}

	if offer.Taking.State == domain.ActionStateAwaitingTransactionConfirmation {
		offer.Taking.State = domain.ActionStateCompleted
		if err := s.repo.UpdateOfferActionState(
			ctx, offerID, chainID,
			domain.TxTypeTakeOffer, domain.ActionStateCompleted.String(),
		); err != nil {
			return err
		}
	}
	return s.swapTracker.HandleOfferTaken(event)
}

// HandleServiceFeeRateChangedEvent logs the new protocol fee rate. Open
// offers keep the rate they were opened under.
func (s *OfferService) HandleServiceFeeRateChangedEvent(
	event chain.ServiceFeeRateChangedEvent,
) error {
	log.Infof("service fee rate changed to %s", event.NewServiceFeeRate)
	return nil
}

// HandlePublicKeyAnnouncement completes the opening handshake of an offer
// another maker opened: the announced key is stored and the offer becomes
// takeable.
func (s *OfferService) HandlePublicKeyAnnouncement(msg *p2p.PublicKeyAnnouncement) error {
	ctx := context.Background()
	key := truthSourceKey(msg.OfferID, s.blockchain.ChainID())
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offer := s.truthSource.Get(key)
	if offer == nil || offer.HavePublicKey {
		return nil
	}
	if !bytes.Equal(msg.PublicKey.InterfaceID, offer.InterfaceID) {
		log.Debugf(
			"ignoring public key announcement for offer %s: interface ID mismatch",
			msg.OfferID,
		)
		return nil
	}
	if err := s.keyManager.StorePublicKey(ctx, msg.PublicKey); err != nil {
		return err
	}
	offerID, chainID := splitKey(key)
	offer.HavePublicKey = true
	if err := s.repo.UpdateOfferHavePublicKey(ctx, offerID, chainID, true); err != nil {
		return err
	}
	offer.UpdateState(domain.OfferStateOpened)
	return s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String())
}

// HandleConfirmedTransaction advances the action a confirmed monitored
// transaction belongs to. State advances driven by contract events are left
// to the event handlers.
func (s *OfferService) HandleConfirmedTransaction(tx *domain.BlockchainTransaction) error {
	ctx := context.Background()
	key, offer := s.findByTransaction(tx)
	if offer == nil {
		return ErrUnknownTransaction
	}
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offerID, chainID := splitKey(key)
	action := offer.ActionFor(tx.Type)
	action.State = domain.ActionStateCompleted
	if err := s.repo.UpdateOfferActionState(
		ctx, offerID, chainID, tx.Type, domain.ActionStateCompleted.String(),
	); err != nil {
		return err
	}
	if tx.Type == domain.TxTypeApproveTransferToOpenOffer {
		offer.UpdateState(domain.OfferStateAwaitingOpening)
		return s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String())
	}
	return nil
}

// HandleFailedTransaction puts the action a reverted or dropped transaction
// belongs to into the exception state.
func (s *OfferService) HandleFailedTransaction(
	tx *domain.BlockchainTransaction, txErr error,
) error {
	ctx := context.Background()
	key, offer := s.findByTransaction(tx)
	if offer == nil {
		return ErrUnknownTransaction
	}
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	offerID, chainID := splitKey(key)
	action := offer.ActionFor(tx.Type)
	action.State = domain.ActionStateException
	action.Err = txErr
	if err := s.repo.UpdateOfferActionState(
		ctx, offerID, chainID, tx.Type, domain.ActionStateException.String(),
	); err != nil {
		return err
	}
	if tx.Type == domain.TxTypeApproveTransferToOpenOffer {
		offer.State = domain.OfferStateTransferApprovalFailed
		return s.repo.UpdateOfferState(ctx, offerID, chainID, offer.State.String())
	}
	return nil
}

func (s *OfferService) findByTransaction(
	tx *domain.BlockchainTransaction,
) (string, *domain.Offer) {
	return s.truthSource.Find(func(offer *domain.Offer) bool {
		action := offer.ActionFor(tx.Type)
		return action != nil && action.Transaction != nil &&
			action.Transaction.Hash == tx.Hash
	})
}

func (s *OfferService) actionStatePersister(
	offerID, chainID string, txType domain.TransactionType,
) func(context.Context, domain.ActionState) error {
	return func(ctx context.Context, state domain.ActionState) error {
		return s.repo.UpdateOfferActionState(ctx, offerID, chainID, txType, state.String())
	}
}

func (s *OfferService) transactionPersister(
	offerID, chainID string, txType domain.TransactionType,
) func(context.Context, *domain.BlockchainTransaction) error {
	return func(ctx context.Context, tx *domain.BlockchainTransaction) error {
		return s.repo.UpdateOfferTransactionData(
			ctx, offerID, chainID, txType,
			tx.Hash, tx.TimeOfCreation.Format(timeFormat),
			tx.LatestBlockNumberAtCreation.Int64(),
		)
	}
}
