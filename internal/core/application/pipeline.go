package application

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
)

// pipelineOpts parameterizes one attempt of a mutating on-chain action.
type pipelineOpts struct {
	// action is the entity's tracker for this transaction type. The
	// caller must hold the owning entity's lock.
	action *domain.Action
	txType domain.TransactionType

	// validate checks the action-specific preconditions against the
	// entity's current state.
	validate func(ctx context.Context) error

	// calldata is the freshly rebuilt transaction payload.
	calldata []byte
	// supplied is a previously built but unsent transaction, optional.
	// Its payload must match the freshly rebuilt one byte for byte.
	supplied *types.Transaction
	// buildTx assembles the unsigned transaction around calldata. When
	// nil the transaction is addressed to the escrow contract.
	buildTx func(ctx context.Context, calldata []byte) (*types.Transaction, error)

	// persistState writes the action state to the persistent store.
	persistState func(ctx context.Context, state domain.ActionState) error
	// persistTransaction writes the wrapped transaction's hash, creation
	// time and creation block number to the persistent store.
	persistTransaction func(ctx context.Context, tx *domain.BlockchainTransaction) error

	// handler is told the monitored transaction's eventual fate.
	handler chain.TransactionHandler
}

// runTransactionPipeline drives one action attempt through validate, build,
// sign, persist-sending, broadcast and persist-awaiting. Any failure puts
// the action into the exception state, persists the marker and returns the
// original error.
func runTransactionPipeline(
	ctx context.Context, blockchain BlockchainService, opts pipelineOpts,
) error {
	if !opts.action.CanStart() {
		return ErrActionInProgress
	}

	opts.action.State = domain.ActionStateValidating
	opts.action.Err = nil
	if err := opts.persistState(ctx, domain.ActionStateValidating); err != nil {
		return failAction(ctx, opts, err)
	}
	if err := opts.validate(ctx); err != nil {
		return failAction(ctx, opts, err)
	}

	buildTx := opts.buildTx
	if buildTx == nil {
		buildTx = blockchain.BuildContractTransaction
	}
	unsigned, err := buildTx(ctx, opts.calldata)
	if err != nil {
		return failAction(ctx, opts, err)
	}
	// A previously built transaction is only accepted if its payload
	// matches the one rebuilt from current state byte for byte.
	if opts.supplied != nil {
		if !bytes.Equal(opts.supplied.Data(), unsigned.Data()) {
			return failAction(ctx, opts, ErrTransactionMismatch)
		}
		unsigned = opts.supplied
	}
	signed, err := blockchain.SignTransaction(unsigned)
	if err != nil {
		return failAction(ctx, opts, err)
	}

	blockNumber, err := blockchain.CurrentBlockNumber(ctx)
	if err != nil {
		return failAction(ctx, opts, err)
	}
	blockchainTx := domain.NewBlockchainTransaction(
		signed.Hash().Hex(), new(big.Int).SetUint64(blockNumber), opts.txType,
	)

	// Store first, then the in-memory truth source, then broadcast: a
	// crash between the store write and the broadcast leaves a monitored
	// hash that the drop detector eventually reports.
	if err := opts.persistTransaction(ctx, blockchainTx); err != nil {
		return failAction(ctx, opts, err)
	}
	if err := opts.persistState(ctx, domain.ActionStateSendingTransaction); err != nil {
		return failAction(ctx, opts, err)
	}
	opts.action.Transaction = blockchainTx
	opts.action.State = domain.ActionStateSendingTransaction

	if err := blockchain.BroadcastTransaction(ctx, signed); err != nil {
		return failAction(ctx, opts, err)
	}

	if err := opts.persistState(ctx, domain.ActionStateAwaitingTransactionConfirmation); err != nil {
		return failAction(ctx, opts, err)
	}
	opts.action.State = domain.ActionStateAwaitingTransactionConfirmation

	blockchain.MonitorTransaction(blockchainTx, opts.handler)
	return nil
}

func failAction(ctx context.Context, opts pipelineOpts, err error) error {
	opts.action.State = domain.ActionStateException
	opts.action.Err = err
	if persistErr := opts.persistState(ctx, domain.ActionStateException); persistErr != nil {
		log.WithError(persistErr).Warnf(
			"persisting exception state of %s", opts.txType,
		)
	}
	return err
}
