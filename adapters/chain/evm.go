package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
)

const erc20TransferABI = `
[
  {
    "name": "transfer",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "to", "type": "address" },
      { "name": "amount", "type": "uint256" }
    ],
    "outputs": [{ "name": "", "type": "bool" }]
  }
]
`

// EVMReader is the subset of ethclient.Client used for verification
type EVMReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMVerifier confirms ERC-20 transfer transactions
type EVMVerifier struct {
	client   EVMReader
	tokenABI abi.ABI
}

var _ ports.ChainVerifier = (*EVMVerifier)(nil)

// NewEVMVerifier creates a verifier for the base chain
func NewEVMVerifier(client EVMReader) (*EVMVerifier, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	return &EVMVerifier{
		client:   client,
		tokenABI: parsed,
	}, nil
}

// Chain implements ports.ChainVerifier.
func (v *EVMVerifier) Chain() core.Chain {
	return core.ChainBase
}

// ValidateAddress implements ports.ChainVerifier.
func (v *EVMVerifier) ValidateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid EVM address %q", addr)
	}
	return nil
}

// Verify checks that txHash is a successful transfer(to, amount) call on the
// token contract paying at least option.Amount to option.Recipient.
func (v *EVMVerifier) Verify(ctx context.Context, txHash string, option core.PaymentOption) core.VerifyResult {
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) != common.HashLength {
		return core.Rejected("malformed transaction hash")
	}
	hash := common.BytesToHash(raw)

	tx, pending, err := v.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return core.Rejected("transaction not found")
	}
	if err != nil {
		return core.Rejected("failed to fetch transaction: %v", err)
	}
	if pending {
		return core.Rejected("transaction not confirmed")
	}

	receipt, err := v.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return core.Rejected("failed to fetch receipt: %v", err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return core.Rejected("transaction failed")
	}

	// common.Address compares bytes, so hex case does not matter
	if tx.To() == nil || *tx.To() != common.HexToAddress(option.Asset) {
		return core.Rejected("transaction is not to the token contract")
	}

	to, amount, err := v.decodeTransfer(tx.Data())
	if err != nil {
		return core.Rejected("transaction is not a transfer: %v", err)
	}

	if to != common.HexToAddress(option.Recipient) {
		return core.Rejected("recipient mismatch: %s", to.Hex())
	}

	expected, err := core.BaseUnits(option.Amount, option.Decimals)
	if err != nil {
		return core.Rejected("%v", err)
	}
	if amount.Cmp(expected) < 0 {
		return core.Rejected("amount too low: got %s, want %s", amount, expected)
	}

	return core.Verified()
}

func (v *EVMVerifier) decodeTransfer(data []byte) (common.Address, *big.Int, error) {
	if len(data) < 4 {
		return common.Address{}, nil, fmt.Errorf("call data too short")
	}

	method, err := v.tokenABI.MethodById(data[:4])
	if err != nil {
		return common.Address{}, nil, err
	}
	if method.Name != "transfer" {
		return common.Address{}, nil, fmt.Errorf("unexpected method %s", method.Name)
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, err
	}
	if len(args) != 2 {
		return common.Address{}, nil, fmt.Errorf("unexpected argument count %d", len(args))
	}

	to, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("bad recipient argument")
	}
	amount, ok := args[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("bad amount argument")
	}

	return to, amount, nil
}
