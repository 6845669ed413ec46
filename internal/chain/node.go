package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// blockStub is a block fetched without full transaction bodies. Only the
// transaction hashes are needed, receipts are fetched separately.
type blockStub struct {
	Number            *hexutil.Big   `json:"number"`
	Hash              common.Hash    `json:"hash"`
	TransactionHashes []common.Hash  `json:"transactions"`
	Timestamp         hexutil.Uint64 `json:"timestamp"`
}

// node is the subset of Ethereum node RPC the service depends on.
type node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*blockStub, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) error
}

type rpcNode struct {
	client *rpc.Client
}

func dialNode(ctx context.Context, url string) (*rpcNode, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &rpcNode{client: client}, nil
}

func (n *rpcNode) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := n.client.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func (n *rpcNode) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := n.client.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// BlockByNumber fetches the block at the given height with transaction
// hashes only.
func (n *rpcNode) BlockByNumber(ctx context.Context, number *big.Int) (*blockStub, error) {
	var result *blockStub
	err := n.client.CallContext(
		ctx, &result, "eth_getBlockByNumber", hexutil.EncodeBig(number), false,
	)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ethereum.NotFound
	}
	return result, nil
}

func (n *rpcNode) TransactionReceipt(
	ctx context.Context, txHash common.Hash,
) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := n.client.CallContext(ctx, &receipt, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (n *rpcNode) PendingNonceAt(
	ctx context.Context, account common.Address,
) (uint64, error) {
	var result hexutil.Uint64
	err := n.client.CallContext(
		ctx, &result, "eth_getTransactionCount", account, "pending",
	)
	return uint64(result), err
}

func (n *rpcNode) CallContract(
	ctx context.Context, msg ethereum.CallMsg,
) ([]byte, error) {
	var result hexutil.Bytes
	arg := map[string]interface{}{
		"to":   msg.To,
		"data": hexutil.Bytes(msg.Data),
	}
	if msg.From != (common.Address{}) {
		arg["from"] = msg.From
	}
	if err := n.client.CallContext(ctx, &result, "eth_call", arg, "latest"); err != nil {
		return nil, err
	}
	return result, nil
}

func (n *rpcNode) SendRawTransaction(ctx context.Context, rawTx []byte) error {
	return n.client.CallContext(
		ctx, nil, "eth_sendRawTransaction", hexutil.Encode(rawTx),
	)
}
