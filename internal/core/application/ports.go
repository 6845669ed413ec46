package application

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
)

// BlockchainService is the subset of the chain service the entity services
// drive their on-chain actions with. Tests substitute a fake.
type BlockchainService interface {
	ChainID() *big.Int
	Address() string
	CurrentBlockNumber(ctx context.Context) (uint64, error)

	ServiceFeeRate(ctx context.Context) (*big.Int, error)
	ActiveDisputeAgents(ctx context.Context) ([]string, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*chain.OnChainOffer, error)
	GetSwap(ctx context.Context, id uuid.UUID) (*chain.OnChainSwap, error)
	GetDispute(ctx context.Context, id uuid.UUID) (*chain.OnChainDispute, error)

	BuildContractTransaction(ctx context.Context, data []byte) (*types.Transaction, error)
	BuildApproveTransaction(
		ctx context.Context, stablecoin string, amount *big.Int,
	) (*types.Transaction, error)
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	BroadcastTransaction(ctx context.Context, signed *types.Transaction) error
	MonitorTransaction(tx *domain.BlockchainTransaction, handler chain.TransactionHandler)
}

// Messenger sends envelopes over the peer-to-peer transport.
type Messenger interface {
	SendMessage(ctx context.Context, message string) error
}
