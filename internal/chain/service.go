package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/escrownet/escrowd/internal/core/domain"
)

// droppedTransactionThreshold is the number of blocks after which a
// monitored transaction that the node no longer knows about is considered
// dropped from the mempool.
const droppedTransactionThreshold = 24

var (
	// ErrNodeUnreachable wraps transport failures talking to the node.
	// It is fatal to the listen loop.
	ErrNodeUnreachable = errors.New("blockchain node unreachable")
	// ErrTransactionReverted marks a monitored transaction confirmed with
	// a failed status.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrTransactionDropped marks a monitored transaction the node lost
	// track of for longer than the drop threshold.
	ErrTransactionDropped = errors.New("transaction dropped")
)

// ServiceOpts groups the arguments of NewService.
type ServiceOpts struct {
	NodeURL         string
	ContractAddress string
	// Key signs every outgoing transaction and every dispute agent
	// announcement.
	Key *ecdsa.PrivateKey
	// PollInterval is the sleep between iterations when no new block is
	// available.
	PollInterval time.Duration
	// StartBlock is the last parsed block to resume from. Zero means
	// start from the current chain head.
	StartBlock uint64

	ExceptionHandler ExceptionHandler
}

// Service monitors the escrow contract for events, exposes on-demand reads
// of its state and provides the transaction build, sign and broadcast
// primitives the entity services drive their actions with.
type Service struct {
	node            node
	chainID         *big.Int
	contractAddress common.Address
	key             *ecdsa.PrivateKey
	address         common.Address
	pollInterval    time.Duration

	offerHandler     OfferEventHandler
	swapHandler      SwapEventHandler
	disputeHandler   DisputeEventHandler
	exceptionHandler ExceptionHandler

	lastParsedBlock uint64

	monitoredLock sync.Mutex
	monitored     map[common.Hash]monitoredTransaction

	stopLock sync.Mutex
	stop     context.CancelFunc
	done     chan struct{}
}

type monitoredTransaction struct {
	tx      *domain.BlockchainTransaction
	handler TransactionHandler
}

// NewService dials the node, queries its chain ID and returns a service
// ready to Listen.
func NewService(ctx context.Context, opts ServiceOpts) (*Service, error) {
	n, err := dialNode(ctx, opts.NodeURL)
	if err != nil {
		return nil, fmt.Errorf("dialing node: %w", err)
	}
	return newService(ctx, n, opts)
}

func newService(ctx context.Context, n node, opts ServiceOpts) (*Service, error) {
	chainID, err := n.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying chain ID: %w", err)
	}
	lastParsed := opts.StartBlock
	if lastParsed == 0 {
		if lastParsed, err = n.BlockNumber(ctx); err != nil {
			return nil, fmt.Errorf("querying block number: %w", err)
		}
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %s", opts.ContractAddress)
	}
	svc := &Service{
		node:             n,
		chainID:          chainID,
		contractAddress:  common.HexToAddress(opts.ContractAddress),
		key:              opts.Key,
		pollInterval:     pollInterval,
		exceptionHandler: opts.ExceptionHandler,
		lastParsedBlock:  lastParsed,
		monitored:        make(map[common.Hash]monitoredTransaction),
	}
	if opts.Key != nil {
		svc.address = gethcrypto.PubkeyToAddress(opts.Key.PublicKey)
	}
	return svc, nil
}

// RegisterHandlers wires the entity services the decoded events are
// dispatched to. It must be called before Listen.
func (s *Service) RegisterHandlers(
	offer OfferEventHandler, swap SwapEventHandler, dispute DisputeEventHandler,
) {
	s.offerHandler = offer
	s.swapHandler = swap
	s.disputeHandler = dispute
}

// ChainID returns the chain ID of the connected node.
func (s *Service) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// Address returns the lowercase hex address derived from the signing key.
func (s *Service) Address() string {
	return lowercaseAddress(s.address)
}

// LastParsedBlock returns the monitor watermark.
func (s *Service) LastParsedBlock() uint64 { return s.lastParsedBlock }

// Listen starts the polling loop in its own goroutine. Calling it while a
// loop is already running is a no-op.
func (s *Service) Listen(ctx context.Context) {
	s.stopLock.Lock()
	defer s.stopLock.Unlock()
	if s.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.done = make(chan struct{})
	go s.listen(ctx)
}

// StopListening halts the loop and waits for the current iteration to
// finish. It is idempotent.
func (s *Service) StopListening() {
	s.stopLock.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.stopLock.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (s *Service) listen(ctx context.Context) {
	defer close(s.done)
	log.WithField("block", s.lastParsedBlock).Info("blockchain monitor started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		newest, err := s.node.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.raiseException(fmt.Errorf("%w: %s", ErrNodeUnreachable, err))
			return
		}
		if newest <= s.lastParsedBlock {
			if err := s.checkMonitoredTransactions(ctx, newest); err != nil {
				s.raiseException(err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
			continue
		}

		next := s.lastParsedBlock + 1
		if err := s.parseBlock(ctx, next); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.raiseException(err)
			if errors.Is(err, ErrNodeUnreachable) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
			continue
		}
		s.lastParsedBlock = next

		if err := s.checkMonitoredTransactions(ctx, newest); err != nil {
			s.raiseException(err)
		}
	}
}

func (s *Service) raiseException(err error) {
	log.WithError(err).Warn("blockchain monitor")
	if s.exceptionHandler != nil {
		s.exceptionHandler.HandleBlockchainException(err)
	}
}

// parseBlock fetches the block at the given height, collects the receipts
// of all its transactions concurrently and dispatches the decoded contract
// events in receipt order.
func (s *Service) parseBlock(ctx context.Context, number uint64) error {
	block, err := s.node.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return fmt.Errorf("%w: fetching block %d: %s", ErrNodeUnreachable, number, err)
	}

	receipts := make([]*types.Receipt, len(block.TransactionHashes))
	g, gctx := errgroup.WithContext(ctx)
	for i, hash := range block.TransactionHashes {
		i, hash := i, hash
		g.Go(func() error {
			receipt, err := s.node.TransactionReceipt(gctx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					return nil
				}
				return fmt.Errorf("%w: fetching receipt %s: %s", ErrNodeUnreachable, hash, err)
			}
			receipts[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, receipt := range receipts {
		if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}
		for _, l := range receipt.Logs {
			if l.Address != s.contractAddress {
				continue
			}
			event, err := decodeLog(l, s.ChainID())
			if err != nil {
				log.WithError(err).WithField("tx", l.TxHash.Hex()).
					Warn("skipping undecodable contract log")
				continue
			}
			if event == nil {
				continue
			}
			if err := s.dispatch(event); err != nil {
				return fmt.Errorf("dispatching %T at block %d: %w", event, number, err)
			}
		}
	}
	log.WithFields(log.Fields{
		"block": number, "txs": len(block.TransactionHashes),
	}).Debug("parsed block")
	return nil
}

func (s *Service) dispatch(event Event) error {
	switch e := event.(type) {
	case OfferOpenedEvent:
		return s.offerHandler.HandleOfferOpenedEvent(e)
	case OfferEditedEvent:
		return s.offerHandler.HandleOfferEditedEvent(e)
	case OfferCanceledEvent:
		return s.offerHandler.HandleOfferCanceledEvent(e)
	case OfferTakenEvent:
		return s.offerHandler.HandleOfferTakenEvent(e)
	case ServiceFeeRateChangedEvent:
		return s.offerHandler.HandleServiceFeeRateChangedEvent(e)
	case SwapFilledEvent:
		return s.swapHandler.HandleSwapFilledEvent(e)
	case PaymentSentEvent:
		return s.swapHandler.HandlePaymentSentEvent(e)
	case PaymentReceivedEvent:
		return s.swapHandler.HandlePaymentReceivedEvent(e)
	case BuyerClosedEvent:
		return s.swapHandler.HandleBuyerClosedEvent(e)
	case SellerClosedEvent:
		return s.swapHandler.HandleSellerClosedEvent(e)
	case DisputeRaisedEvent:
		return s.disputeHandler.HandleDisputeRaisedEvent(e)
	default:
		return fmt.Errorf("unhandled event type %T", event)
	}
}

// MonitorTransaction registers a broadcast transaction so that its
// confirmation, revert or drop is reported to the owning service.
func (s *Service) MonitorTransaction(
	tx *domain.BlockchainTransaction, handler TransactionHandler,
) {
	s.monitoredLock.Lock()
	defer s.monitoredLock.Unlock()
	s.monitored[common.HexToHash(tx.Hash)] = monitoredTransaction{tx, handler}
}

func (s *Service) checkMonitoredTransactions(
	ctx context.Context, newestBlock uint64,
) error {
	s.monitoredLock.Lock()
	pending := make(map[common.Hash]monitoredTransaction, len(s.monitored))
	for hash, m := range s.monitored {
		pending[hash] = m
	}
	s.monitoredLock.Unlock()

	for hash, m := range pending {
		receipt, err := s.node.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				createdAt := m.tx.LatestBlockNumberAtCreation.Uint64()
				if newestBlock > createdAt+droppedTransactionThreshold {
					s.unmonitor(hash)
					m.handler.HandleFailedTransaction(m.tx, ErrTransactionDropped)
				}
				continue
			}
			return fmt.Errorf("%w: checking monitored tx %s: %s", ErrNodeUnreachable, hash, err)
		}
		s.unmonitor(hash)
		if receipt.Status != types.ReceiptStatusSuccessful {
			m.handler.HandleFailedTransaction(m.tx, ErrTransactionReverted)
			continue
		}
		if err := m.handler.HandleConfirmedTransaction(m.tx); err != nil {
			log.WithError(err).Warnf("handling confirmed tx %s", hash)
		}
	}
	return nil
}

func (s *Service) unmonitor(hash common.Hash) {
	s.monitoredLock.Lock()
	delete(s.monitored, hash)
	s.monitoredLock.Unlock()
}

// CurrentBlockNumber queries the chain head.
func (s *Service) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	return s.node.BlockNumber(ctx)
}

// BuildContractTransaction assembles an unsigned transaction addressed to
// the escrow contract carrying the given calldata.
func (s *Service) BuildContractTransaction(
	ctx context.Context, data []byte,
) (*types.Transaction, error) {
	return s.buildTransaction(ctx, s.contractAddress, contractGasLimit, data)
}

// BuildApproveTransaction assembles an unsigned ERC-20 approval granting
// the escrow contract the given allowance on the stablecoin.
func (s *Service) BuildApproveTransaction(
	ctx context.Context, stablecoin string, amount *big.Int,
) (*types.Transaction, error) {
	if !common.IsHexAddress(stablecoin) {
		return nil, fmt.Errorf("invalid stablecoin address %s", stablecoin)
	}
	data, err := erc20ABI.Pack("approve", s.contractAddress, amount)
	if err != nil {
		return nil, err
	}
	return s.buildTransaction(ctx, common.HexToAddress(stablecoin), approveGasLimit, data)
}

func (s *Service) buildTransaction(
	ctx context.Context, to common.Address, gasLimit uint64, data []byte,
) (*types.Transaction, error) {
	nonce, err := s.node.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, fmt.Errorf("querying nonce: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: new(big.Int).Set(fixedGasPrice),
		Gas:      gasLimit,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	}), nil
}

// SignTransaction signs with the wallet key under the connected chain's ID.
func (s *Service) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}

// BroadcastTransaction submits a signed transaction to the node.
func (s *Service) BroadcastTransaction(
	ctx context.Context, signed *types.Transaction,
) error {
	raw, err := signed.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.node.SendRawTransaction(ctx, raw); err != nil {
		return fmt.Errorf("broadcasting %s: %w", signed.Hash().Hex(), err)
	}
	log.WithField("tx", signed.Hash().Hex()).Info("broadcast transaction")
	return nil
}

// SignHashWithOnChainKey signs a 32-byte digest with the wallet's
// secp256k1 key, binding the signed content to the wallet address.
func (s *Service) SignHashWithOnChainKey(digest []byte) ([]byte, error) {
	return gethcrypto.Sign(digest, s.key)
}

func (s *Service) callContract(ctx context.Context, data []byte) ([]byte, error) {
	to := s.contractAddress
	out, err := s.node.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeUnreachable, err)
	}
	return out, nil
}

// ServiceFeeRate reads the current protocol fee rate, in hundredths of a
// percent.
func (s *Service) ServiceFeeRate(ctx context.Context) (*big.Int, error) {
	data, err := escrowABI.Pack("serviceFeeRate")
	if err != nil {
		return nil, err
	}
	out, err := s.callContract(ctx, data)
	if err != nil {
		return nil, err
	}
	values, err := escrowABI.Unpack("serviceFeeRate", out)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// ActiveDisputeAgents reads the addresses currently accepting dispute
// assignments, rendered as lowercase hex.
func (s *Service) ActiveDisputeAgents(ctx context.Context) ([]string, error) {
	data, err := escrowABI.Pack("getActiveDisputeAgents")
	if err != nil {
		return nil, err
	}
	out, err := s.callContract(ctx, data)
	if err != nil {
		return nil, err
	}
	values, err := escrowABI.Unpack("getActiveDisputeAgents", out)
	if err != nil {
		return nil, err
	}
	addrs := values[0].([]common.Address)
	agents := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		agents = append(agents, lowercaseAddress(addr))
	}
	return agents, nil
}
