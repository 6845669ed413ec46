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
	"github.com/google/uuid"
)

// SwapServiceOpts groups the dependencies of NewSwapService.
type SwapServiceOpts struct {
	Blockchain  BlockchainService
	Messenger   Messenger
	KeyManager  *KeyManagerService
	Repository  domain.SwapRepository
	TruthSource *SwapTruthSource
	Offers      *OfferTruthSource
}

// SwapService owns the Swap state machine: the exchange of private
// settlement details between maker and taker, the fill/report/close actions
// and the contract events that advance swaps.
type SwapService struct {
	blockchain  BlockchainService
	messenger   Messenger
	keyManager  *KeyManagerService
	repo        domain.SwapRepository
	truthSource *SwapTruthSource
	offers      *OfferTruthSource
	locks       *entityLocks
}

func NewSwapService(opts SwapServiceOpts) *SwapService {
	return &SwapService{
		blockchain:  opts.Blockchain,
		messenger:   opts.Messenger,
		keyManager:  opts.KeyManager,
		repo:        opts.Repository,
		truthSource: opts.TruthSource,
		offers:      opts.Offers,
		locks:       newEntityLocks(),
	}
}

// TrackNewSwap persists a swap the user just created by taking an offer and
// adds it to the in-memory truth source.
func (s *SwapService) TrackNewSwap(ctx context.Context, swap *domain.Swap) error {
	key := truthSourceKey(swap.ID, swap.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.StoreSwap(ctx, swap); err != nil {
		return err
	}
	s.truthSource.Put(key, swap)
	return nil
}

// HandleOfferTaken reacts to the confirmation of an offer being taken. For
// the taker it sends the taker's settlement details to the maker; for the
// maker it builds the swap from its on-chain record and waits for those
// details.
func (s *SwapService) HandleOfferTaken(event chain.OfferTakenEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.OfferID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return s.trackSwapAsMaker(ctx, event, key)
	}

	// The user is the taker: the swap is now live on chain and the maker
	// is waiting for the taker's payment details.
	swap.IsCreated = true
	makerKey, err := s.keyManager.GetPublicKey(swap.MakerInterfaceID)
	if err != nil {
		return err
	}
	if makerKey == nil {
		return domain.ErrKeyNotFound
	}
	takerKeyPair, err := s.keyManager.GetKeyPair(swap.TakerInterfaceID)
	if err != nil {
		return err
	}
	if takerKeyPair == nil {
		return domain.ErrKeyNotFound
	}
	message, err := p2p.BuildTakerInformationMessage(
		takerKeyPair, makerKey, swap.ID, swap.TakerPrivateData,
	)
	if err != nil {
		return err
	}
	if err := s.messenger.SendMessage(ctx, message); err != nil {
		return err
	}
	swap.UpdateState(domain.SwapStateAwaitingMakerInformation)
	return s.repo.StoreSwap(ctx, swap)
}

func (s *SwapService) trackSwapAsMaker(
	ctx context.Context, event chain.OfferTakenEvent, key string,
) error {
	offer := s.offers.Get(key)
	if offer == nil || !offer.IsUserMaker {
		return nil
	}
	onChain, err := s.blockchain.GetSwap(ctx, event.OfferID)
	if err != nil {
		return err
	}
	if !onChain.IsCreated {
		log.Debugf("ignoring OfferTaken for unknown swap %s", event.OfferID)
		return nil
	}
	method, err := domain.SettlementMethodFromOnChainData(onChain.SettlementMethod)
	if err != nil {
		return err
	}

	direction := domain.OfferDirection(onChain.Direction)
	swap := domain.NewSwap(
		event.OfferID, event.ChainID,
		makerRole(direction), domain.SwapStateAwaitingTakerInformation,
	)
	swap.IsCreated = true
	swap.RequiresFill = onChain.RequiresFill
	swap.Maker = onChain.Maker
	swap.MakerInterfaceID = onChain.MakerInterfaceID
	swap.Taker = onChain.Taker
	swap.TakerInterfaceID = onChain.TakerInterfaceID
	swap.Stablecoin = onChain.Stablecoin
	swap.AmountLowerBound = onChain.AmountLowerBound
	swap.AmountUpperBound = onChain.AmountUpperBound
	swap.SecurityDeposit = onChain.SecurityDepositAmount
	swap.TakenSwapAmount = onChain.TakenSwapAmount
	swap.ServiceFeeAmount = onChain.ServiceFeeAmount
	swap.ServiceFeeRate = onChain.ServiceFeeRate
	swap.Direction = direction
	swap.SettlementMethod = method
	swap.ProtocolVersion = onChain.ProtocolVersion

	// The maker's own payment details for the method the taker chose.
	for _, offered := range offer.SettlementMethods {
		if bytes.Equal(offered.OnChainData(), onChain.SettlementMethod) {
			swap.MakerPrivateData = offered.PrivateData
			swap.SettlementMethod.PrivateData = offered.PrivateData
			break
		}
	}

	if err := s.repo.StoreSwap(ctx, swap); err != nil {
		return err
	}
	s.truthSource.Put(key, swap)
	return nil
}

// HandleTakerInformationMessage processes a taker's settlement details as
// the maker: the taker's key and details are stored and the maker's own
// details are sent back.
func (s *SwapService) HandleTakerInformationMessage(msg *p2p.TakerInformationMessage) error {
	ctx := context.Background()
	key := truthSourceKey(msg.SwapID, s.blockchain.ChainID())
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil || !swap.Role.IsMaker() ||
		swap.State != domain.SwapStateAwaitingTakerInformation {
		return nil
	}
	if !bytes.Equal(msg.PublicKey.InterfaceID, swap.TakerInterfaceID) {
		log.Debugf(
			"ignoring taker information for swap %s: interface ID mismatch", msg.SwapID,
		)
		return nil
	}
	if err := s.keyManager.StorePublicKey(ctx, msg.PublicKey); err != nil {
		return err
	}
	swapID, chainID := splitKey(key)
	swap.TakerPrivateData = msg.SettlementMethodDetails
	if err := s.repo.UpdateSwapTakerPrivateData(
		ctx, swapID, chainID, msg.SettlementMethodDetails,
	); err != nil {
		return err
	}

	makerKeyPair, err := s.keyManager.GetKeyPair(swap.MakerInterfaceID)
	if err != nil {
		return err
	}
	if makerKeyPair == nil {
		return domain.ErrKeyNotFound
	}
	reply, err := p2p.BuildMakerInformationMessage(
		makerKeyPair, msg.PublicKey, swap.ID, swap.MakerPrivateData,
	)
	if err != nil {
		return err
	}
	if err := s.messenger.SendMessage(ctx, reply); err != nil {
		return err
	}
	return s.advancePastInformationExchange(ctx, swap, swapID, chainID)
}

// HandleMakerInformationMessage processes a maker's settlement details as
// the taker.
func (s *SwapService) HandleMakerInformationMessage(
	msg *p2p.MakerInformationMessage, senderID, recipientID []byte,
) error {
	ctx := context.Background()
	key := truthSourceKey(msg.SwapID, s.blockchain.ChainID())
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil || swap.Role.IsMaker() ||
		swap.State != domain.SwapStateAwaitingMakerInformation {
		return nil
	}
	if !bytes.Equal(recipientID, swap.TakerInterfaceID) ||
		!bytes.Equal(senderID, swap.MakerInterfaceID) {
		log.Debugf(
			"ignoring maker information for swap %s: interface ID mismatch", msg.SwapID,
		)
		return nil
	}
	swapID, chainID := splitKey(key)
	swap.MakerPrivateData = msg.SettlementMethodDetails
	if err := s.repo.UpdateSwapMakerPrivateData(
		ctx, swapID, chainID, msg.SettlementMethodDetails,
	); err != nil {
		return err
	}
	return s.advancePastInformationExchange(ctx, swap, swapID, chainID)
}

func (s *SwapService) advancePastInformationExchange(
	ctx context.Context, swap *domain.Swap, swapID, chainID string,
) error {
	if swap.RequiresFill {
		swap.UpdateState(domain.SwapStateAwaitingFilling)
	} else {
		swap.UpdateState(domain.SwapStateAwaitingPaymentSent)
	}
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

// ApproveTransferToFillSwap sends the transfer approval a maker-as-seller
// needs before filling the swap.
func (s *SwapService) ApproveTransferToFillSwap(
	ctx context.Context, swapID, chainID string, supplied *types.Transaction,
) error {
	key := entityStoreKey(swapID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return domain.ErrSwapNotFound
	}
	return runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &swap.Approving,
		txType: domain.TxTypeApproveTransferToFillSwap,
		validate: func(context.Context) error {
			return s.validateFilling(swap)
		},
		buildTx: func(ctx context.Context, _ []byte) (*types.Transaction, error) {
			return s.blockchain.BuildApproveTransaction(
				ctx, swap.Stablecoin, swap.TakenSwapAmount,
			)
		},
		supplied:           supplied,
		persistState:       s.actionStatePersister(swapID, chainID, domain.TxTypeApproveTransferToFillSwap),
		persistTransaction: s.transactionPersister(swapID, chainID, domain.TxTypeApproveTransferToFillSwap),
		handler:            s,
	})
}

// FillSwap sends the fillSwap transaction that escrows the maker-as-seller's
// stablecoin.
func (s *SwapService) FillSwap(
	ctx context.Context, swapID, chainID string, supplied *types.Transaction,
) error {
	key := entityStoreKey(swapID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return domain.ErrSwapNotFound
	}
	calldata, err := chain.PackFillSwap(swap.ID)
	if err != nil {
		return err
	}
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &swap.Filling,
		txType: domain.TxTypeFillSwap,
		validate: func(context.Context) error {
			if err := s.validateFilling(swap); err != nil {
				return err
			}
			if swap.Approving.State != domain.ActionStateCompleted {
				return domain.NewValidationError(
					"the transfer approval for filling has not confirmed yet",
				)
			}
			return nil
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(swapID, chainID, domain.TxTypeFillSwap),
		persistTransaction: s.transactionPersister(swapID, chainID, domain.TxTypeFillSwap),
		handler:            s,
	})
	if err != nil {
		return err
	}
	swap.UpdateState(domain.SwapStateFillSwapTransactionSent)
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

func (s *SwapService) validateFilling(swap *domain.Swap) error {
	if swap.Role != domain.SwapRoleMakerAndSeller {
		return domain.NewValidationError("only the maker as seller fills a swap")
	}
	if !swap.RequiresFill {
		return domain.NewValidationError("the swap does not require filling")
	}
	if swap.State != domain.SwapStateAwaitingFilling {
		return domain.NewValidationError("the swap is not awaiting filling")
	}
	return nil
}

// ReportPaymentSent sends the reportPaymentSent transaction as the buyer.
func (s *SwapService) ReportPaymentSent(
	ctx context.Context, swapID, chainID string, supplied *types.Transaction,
) error {
	key := entityStoreKey(swapID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return domain.ErrSwapNotFound
	}
	calldata, err := chain.PackReportPaymentSent(swap.ID)
	if err != nil {
		return err
	}
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &swap.ReportingPaymentSent,
		txType: domain.TxTypeReportPaymentSent,
		validate: func(context.Context) error {
			if !swap.Role.IsBuyer() {
				return domain.NewValidationError("only the buyer reports sending payment")
			}
			if swap.State != domain.SwapStateAwaitingPaymentSent {
				return domain.NewValidationError("the swap is not awaiting payment")
			}
			if swap.IsPaymentSent {
				return domain.NewValidationError("payment has already been reported sent")
			}
			return nil
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(swapID, chainID, domain.TxTypeReportPaymentSent),
		persistTransaction: s.transactionPersister(swapID, chainID, domain.TxTypeReportPaymentSent),
		handler:            s,
	})
	if err != nil {
		return err
	}
	swap.UpdateState(domain.SwapStateReportPaymentSentTransactionSent)
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

// ReportPaymentReceived sends the reportPaymentReceived transaction as the
// seller.
func (s *SwapService) ReportPaymentReceived(
	ctx context.Context, swapID, chainID string, supplied *types.Transaction,
) error {
	key := entityStoreKey(swapID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return domain.ErrSwapNotFound
	}
	calldata, err := chain.PackReportPaymentReceived(swap.ID)
	if err != nil {
		return err
	}
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &swap.ReportingPaymentReceived,
		txType: domain.TxTypeReportPaymentReceived,
		validate: func(context.Context) error {
			if swap.Role.IsBuyer() {
				return domain.NewValidationError("only the seller reports receiving payment")
			}
			if swap.State != domain.SwapStateAwaitingPaymentReceived {
				return domain.NewValidationError("the swap is not awaiting payment receipt")
			}
			if !swap.IsPaymentSent {
				return domain.NewValidationError("payment has not been reported sent yet")
			}
			return nil
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(swapID, chainID, domain.TxTypeReportPaymentReceived),
		persistTransaction: s.transactionPersister(swapID, chainID, domain.TxTypeReportPaymentReceived),
		handler:            s,
	})
	if err != nil {
		return err
	}
	swap.UpdateState(domain.SwapStateReportPaymentReceivedTransactionSent)
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

// CloseSwap sends the closeSwap transaction that returns the user's escrowed
// funds once the trade has completed.
func (s *SwapService) CloseSwap(
	ctx context.Context, swapID, chainID string, supplied *types.Transaction,
) error {
	key := entityStoreKey(swapID, chainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return domain.ErrSwapNotFound
	}
	calldata, err := chain.PackCloseSwap(swap.ID)
	if err != nil {
		return err
	}
	err = runTransactionPipeline(ctx, s.blockchain, pipelineOpts{
		action: &swap.Closing,
		txType: domain.TxTypeCloseSwap,
		validate: func(context.Context) error {
			if swap.State != domain.SwapStateAwaitingClosing {
				return domain.NewValidationError("the swap is not awaiting closing")
			}
			if swap.IsDisputed() {
				return domain.NewValidationError("a disputed swap cannot be closed")
			}
			return nil
		},
		calldata:           calldata,
		supplied:           supplied,
		persistState:       s.actionStatePersister(swapID, chainID, domain.TxTypeCloseSwap),
		persistTransaction: s.transactionPersister(swapID, chainID, domain.TxTypeCloseSwap),
		handler:            s,
	})
	if err != nil {
		return err
	}
	swap.UpdateState(domain.SwapStateCloseSwapTransactionSent)
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

// HandleSwapFilledEvent records the fill of a swap and moves it to the
// payment phase.
func (s *SwapService) HandleSwapFilledEvent(event chain.SwapFilledEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.SwapID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return nil
	}
	swapID, chainID := splitKey(key)
	swap.RequiresFill = false
	if err := s.repo.UpdateSwapRequiresFill(ctx, swapID, chainID, false); err != nil {
		return err
	}
	if swap.Role == domain.SwapRoleMakerAndSeller {
		swap.Filling.State = domain.ActionStateCompleted
		if err := s.repo.UpdateSwapActionState(
			ctx, swapID, chainID,
			domain.TxTypeFillSwap, domain.ActionStateCompleted.String(),
		); err != nil {
			return err
		}
	}
	swap.UpdateState(domain.SwapStateAwaitingPaymentSent)
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

// HandlePaymentSentEvent records the buyer's payment report.
func (s *SwapService) HandlePaymentSentEvent(event chain.PaymentSentEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.SwapID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return nil
	}
	swapID, chainID := splitKey(key)
	swap.IsPaymentSent = true
	if err := s.repo.UpdateSwapIsPaymentSent(ctx, swapID, chainID, true); err != nil {
		return err
	}
	if swap.Role.IsBuyer() {
		swap.ReportingPaymentSent.State = domain.ActionStateCompleted
		if err := s.repo.UpdateSwapActionState(
			ctx, swapID, chainID,
			domain.TxTypeReportPaymentSent, domain.ActionStateCompleted.String(),
		); err != nil {
			return err
		}
	}
	swap.UpdateState(domain.SwapStateAwaitingPaymentReceived)
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

// HandlePaymentReceivedEvent records the seller's payment receipt report.
func (s *SwapService) HandlePaymentReceivedEvent(event chain.PaymentReceivedEvent) error {
	ctx := context.Background()
	key := truthSourceKey(event.SwapID, event.ChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return nil
	}
	swapID, chainID := splitKey(key)
	swap.IsPaymentReceived = true
	if err := s.repo.UpdateSwapIsPaymentReceived(ctx, swapID, chainID, true); err != nil {
		return err
	}
	if !swap.Role.IsBuyer() {
		swap.ReportingPaymentReceived.State = domain.ActionStateCompleted
		if err := s.repo.UpdateSwapActionState(
			ctx, swapID, chainID,
			domain.TxTypeReportPaymentReceived, domain.ActionStateCompleted.String(),
		); err != nil {
			return err
		}
	}
	swap.UpdateState(domain.SwapStateAwaitingClosing)
	return s.repo.UpdateSwapState(ctx, swapID, chainID, swap.State.String())
}

// HandleBuyerClosedEvent records the buyer's closure. The swap reaches its
// terminal state for the user once their own side has closed.
func (s *SwapService) HandleBuyerClosedEvent(event chain.BuyerClosedEvent) error {
	return s.handleClosed(event.EventChainID(), event.SwapID, true)
}

// HandleSellerClosedEvent records the seller's closure.
func (s *SwapService) HandleSellerClosedEvent(event chain.SellerClosedEvent) error {
	return s.handleClosed(event.EventChainID(), event.SwapID, false)
}

func (s *SwapService) handleClosed(
	eventChainID *big.Int, swapID uuid.UUID, buyerClosed bool,
) error {
	ctx := context.Background()
	key := truthSourceKey(swapID, eventChainID)
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swap := s.truthSource.Get(key)
	if swap == nil {
		return nil
	}
	id, chainID := splitKey(key)
	if buyerClosed {
		swap.HasBuyerClosed = true
		if err := s.repo.UpdateSwapHasBuyerClosed(ctx, id, chainID, true); err != nil {
			return err
		}
	} else {
		swap.HasSellerClosed = true
		if err := s.repo.UpdateSwapHasSellerClosed(ctx, id, chainID, true); err != nil {
			return err
		}
	}
	if swap.Role.IsBuyer() != buyerClosed {
		return nil
	}
	swap.Closing.State = domain.ActionStateCompleted
	if err := s.repo.UpdateSwapActionState(
		ctx, id, chainID,
		domain.TxTypeCloseSwap, domain.ActionStateCompleted.String(),
	); err != nil {
		return err
	}
	swap.UpdateState(domain.SwapStateClosed)
	return s.repo.UpdateSwapState(ctx, id, chainID, swap.State.String())
}

// HandleConfirmedTransaction advances the action a confirmed monitored
// transaction belongs to. Lifecycle advances driven by contract events are
// left to the event handlers.
func (s *SwapService) HandleConfirmedTransaction(tx *domain.BlockchainTransaction) error {
	ctx := context.Background()
	key, swap := s.findByTransaction(tx)
	if swap == nil {
		return ErrUnknownTransaction
	}
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swapID, chainID := splitKey(key)
	action := swap.ActionFor(tx.Type)
	action.State = domain.ActionStateCompleted
	return s.repo.UpdateSwapActionState(
		ctx, swapID, chainID, tx.Type, domain.ActionStateCompleted.String(),
	)
}

// HandleFailedTransaction puts the action a reverted or dropped transaction
// belongs to into the exception state.
func (s *SwapService) HandleFailedTransaction(
	tx *domain.BlockchainTransaction, txErr error,
) error {
	ctx := context.Background()
	key, swap := s.findByTransaction(tx)
	if swap == nil {
		return ErrUnknownTransaction
	}
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	swapID, chainID := splitKey(key)
	action := swap.ActionFor(tx.Type)
	action.State = domain.ActionStateException
	action.Err = txErr
	return s.repo.UpdateSwapActionState(
		ctx, swapID, chainID, tx.Type, domain.ActionStateException.String(),
	)
}

func (s *SwapService) findByTransaction(
	tx *domain.BlockchainTransaction,
) (string, *domain.Swap) {
	return s.truthSource.Find(func(swap *domain.Swap) bool {
		action := swap.ActionFor(tx.Type)
		return action != nil && action.Transaction != nil &&
			action.Transaction.Hash == tx.Hash
	})
}

func (s *SwapService) actionStatePersister(
	swapID, chainID string, txType domain.TransactionType,
) func(context.Context, domain.ActionState) error {
	return func(ctx context.Context, state domain.ActionState) error {
		return s.repo.UpdateSwapActionState(ctx, swapID, chainID, txType, state.String())
	}
}

func (s *SwapService) transactionPersister(
	swapID, chainID string, txType domain.TransactionType,
) func(context.Context, *domain.BlockchainTransaction) error {
	return func(ctx context.Context, tx *domain.BlockchainTransaction) error {
		return s.repo.UpdateSwapTransactionData(
			ctx, swapID, chainID, txType,
			tx.Hash, tx.TimeOfCreation.Format(timeFormat),
			tx.LatestBlockNumberAtCreation.Int64(),
		)
	}
}
