package application

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
	dbbadger "github.com/escrownet/escrowd/internal/infrastructure/storage/db/badger"
)

var testChainID = big.NewInt(31337)

type monitoredCall struct {
	tx      *domain.BlockchainTransaction
	handler chain.TransactionHandler
}

// fakeBlockchain substitutes the chain service with canned on-chain state
// and records of everything the services build, broadcast and monitor.
type fakeBlockchain struct {
	mtx sync.Mutex

	address     string
	blockNumber uint64
	feeRate     *big.Int
	agents      []string

	onChainOffers   map[uuid.UUID]*chain.OnChainOffer
	onChainSwaps    map[uuid.UUID]*chain.OnChainSwap
	onChainDisputes map[uuid.UUID]*chain.OnChainDispute

	nonce        uint64
	broadcastErr error
	broadcast    []*types.Transaction
	monitored    []monitoredCall
}

func newFakeBlockchain() *fakeBlockchain {
	return &fakeBlockchain{
		address:         "0x1111111111111111111111111111111111111111",
		blockNumber:     100,
		feeRate:         big.NewInt(100),
		onChainOffers:   make(map[uuid.UUID]*chain.OnChainOffer),
		onChainSwaps:    make(map[uuid.UUID]*chain.OnChainSwap),
		onChainDisputes: make(map[uuid.UUID]*chain.OnChainDispute),
	}
}

func (b *fakeBlockchain) ChainID() *big.Int { return new(big.Int).Set(testChainID) }
func (b *fakeBlockchain) Address() string   { return b.address }

func (b *fakeBlockchain) CurrentBlockNumber(context.Context) (uint64, error) {
	return b.blockNumber, nil
}

func (b *fakeBlockchain) ServiceFeeRate(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.feeRate), nil
}

func (b *fakeBlockchain) ActiveDisputeAgents(context.Context) ([]string, error) {
	return b.agents, nil
}

func (b *fakeBlockchain) GetOffer(_ context.Context, id uuid.UUID) (*chain.OnChainOffer, error) {
	if offer, ok := b.onChainOffers[id]; ok {
		return offer, nil
	}
	return &chain.OnChainOffer{}, nil
}

func (b *fakeBlockchain) GetSwap(_ context.Context, id uuid.UUID) (*chain.OnChainSwap, error) {
	if swap, ok := b.onChainSwaps[id]; ok {
		return swap, nil
	}
	return &chain.OnChainSwap{}, nil
}

func (b *fakeBlockchain) GetDispute(_ context.Context, id uuid.UUID) (*chain.OnChainDispute, error) {
	if dispute, ok := b.onChainDisputes[id]; ok {
		return dispute, nil
	}
	return &chain.OnChainDispute{}, nil
}

func (b *fakeBlockchain) BuildContractTransaction(
	_ context.Context, data []byte,
) (*types.Transaction, error) {
	return b.buildTx(data), nil
}

func (b *fakeBlockchain) BuildApproveTransaction(
	_ context.Context, stablecoin string, amount *big.Int,
) (*types.Transaction, error) {
	data := append(gethcrypto.Keccak256([]byte("approve"))[:4],
		common.LeftPadBytes(common.HexToAddress(stablecoin).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return b.buildTx(data), nil
}

func (b *fakeBlockchain) buildTx(data []byte) *types.Transaction {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	nonce := b.nonce
	b.nonce++
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1),
		Gas:      500000,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
}

func (b *fakeBlockchain) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func (b *fakeBlockchain) BroadcastTransaction(
	_ context.Context, signed *types.Transaction,
) error {
	if b.broadcastErr != nil {
		return b.broadcastErr
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.broadcast = append(b.broadcast, signed)
	return nil
}

func (b *fakeBlockchain) MonitorTransaction(
	tx *domain.BlockchainTransaction, handler chain.TransactionHandler,
) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.monitored = append(b.monitored, monitoredCall{tx: tx, handler: handler})
}

func (b *fakeBlockchain) lastMonitored(t *testing.T) monitoredCall {
	t.Helper()
	b.mtx.Lock()
	defer b.mtx.Unlock()
	require.NotEmpty(t, b.monitored)
	return b.monitored[len(b.monitored)-1]
}

// fakeMessenger collects every message the services publish.
type fakeMessenger struct {
	mtx  sync.Mutex
	sent []string
}

func (m *fakeMessenger) SendMessage(_ context.Context, message string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.sent = append(m.sent, message)
	return nil
}

func (m *fakeMessenger) count() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.sent)
}

// fixture wires the three entity services around the fakes and an in-memory
// store, mirroring the daemon's wiring.
type fixture struct {
	blockchain *fakeBlockchain
	messenger  *fakeMessenger
	keyManager *KeyManagerService

	offerRepo   domain.OfferRepository
	swapRepo    domain.SwapRepository
	disputeRepo domain.DisputeRepository

	offerTruth   *OfferTruthSource
	swapTruth    *SwapTruthSource
	disputeTruth *DisputeTruthSource

	offers   *OfferService
	swaps    *SwapService
	disputes *DisputeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := dbbadger.NewDbManager("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		blockchain:   newFakeBlockchain(),
		messenger:    &fakeMessenger{},
		keyManager:   NewKeyManagerService(dbbadger.NewKeyRepositoryImpl(db)),
		offerRepo:    dbbadger.NewOfferRepositoryImpl(db),
		swapRepo:     dbbadger.NewSwapRepositoryImpl(db),
		disputeRepo:  dbbadger.NewDisputeRepositoryImpl(db),
		offerTruth:   NewOfferTruthSource(),
		swapTruth:    NewSwapTruthSource(),
		disputeTruth: NewDisputeTruthSource(),
	}
	f.swaps = NewSwapService(SwapServiceOpts{
		Blockchain:  f.blockchain,
		Messenger:   f.messenger,
		KeyManager:  f.keyManager,
		Repository:  f.swapRepo,
		TruthSource: f.swapTruth,
		Offers:      f.offerTruth,
	})
	f.offers = NewOfferService(OfferServiceOpts{
		Blockchain:  f.blockchain,
		Messenger:   f.messenger,
		KeyManager:  f.keyManager,
		Repository:  f.offerRepo,
		TruthSource: f.offerTruth,
		SwapTracker: f.swaps,
	})
	onChainKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	f.disputes = NewDisputeService(DisputeServiceOpts{
		Blockchain:  f.blockchain,
		Messenger:   f.messenger,
		KeyManager:  f.keyManager,
		Swaps:       f.swapRepo,
		SwapTruth:   f.swapTruth,
		Repository:  f.disputeRepo,
		TruthSource: f.disputeTruth,
		OnChainKey:  onChainKey,
	})
	return f
}

func (f *fixture) offerKey(offer *domain.Offer) (string, string) {
	return splitKey(truthSourceKey(offer.ID, offer.ChainID))
}
