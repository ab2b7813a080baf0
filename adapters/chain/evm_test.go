package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/layer-3/tollgate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUSDC      = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	testRecipient = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testTxHash    = common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000001")
)

type fakeEVM struct {
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	pending  bool
	err      error
}

func (f *fakeEVM) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, f.pending, nil
}

func (f *fakeEVM) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func evmOption() core.PaymentOption {
	return core.PaymentOption{
		Chain: core.ChainBase,
		Token: core.TokenUSDC,
		// lower case on purpose: comparison must ignore hex case
		Recipient: strings.ToLower(testRecipient.Hex()),
		Amount:    "0.1",
		Asset:     strings.ToUpper(testUSDC.Hex()[2:]),
		Decimals:  core.USDCDecimals,
	}
}

func newTransferTx(t *testing.T, v *EVMVerifier, contract, to common.Address, amount int64) *types.Transaction {
	t.Helper()
	data, err := v.tokenABI.Pack("transfer", to, big.NewInt(amount))
	require.NoError(t, err)
	return types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &contract,
		Gas:      60000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
}

func setupEVM(t *testing.T, build func(v *EVMVerifier) *types.Transaction, status uint64) (*EVMVerifier, *fakeEVM) {
	t.Helper()
	client := &fakeEVM{
		txs:      map[common.Hash]*types.Transaction{},
		receipts: map[common.Hash]*types.Receipt{},
	}
	v, err := NewEVMVerifier(client)
	require.NoError(t, err)

	if build != nil {
		client.txs[testTxHash] = build(v)
		client.receipts[testTxHash] = &types.Receipt{Status: status}
	}
	return v, client
}

func TestEVMVerifier_ExactAmount(t *testing.T) {
	v, _ := setupEVM(t, func(v *EVMVerifier) *types.Transaction {
		return newTransferTx(t, v, testUSDC, testRecipient, 100_000)
	}, types.ReceiptStatusSuccessful)

	res := v.Verify(context.Background(), testTxHash.Hex(), evmOption())
	assert.True(t, res.OK, res.Reason)
}

func TestEVMVerifier_Overpayment(t *testing.T) {
	v, _ := setupEVM(t, func(v *EVMVerifier) *types.Transaction {
		return newTransferTx(t, v, testUSDC, testRecipient, 5_000_000)
	}, types.ReceiptStatusSuccessful)

	res := v.Verify(context.Background(), testTxHash.Hex(), evmOption())
	assert.True(t, res.OK, res.Reason)
}

func TestEVMVerifier_Rejections(t *testing.T) {
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	tests := []struct {
		name   string
		build  func(v *EVMVerifier) *types.Transaction
		status uint64
		reason string
	}{
		{
			name: "underpayment",
			build: func(v *EVMVerifier) *types.Transaction {
				return newTransferTx(t, v, testUSDC, testRecipient, 99_999)
			},
			status: types.ReceiptStatusSuccessful,
			reason: "amount too low",
		},
		{
			name: "different recipient",
			build: func(v *EVMVerifier) *types.Transaction {
				return newTransferTx(t, v, testUSDC, other, 100_000)
			},
			status: types.ReceiptStatusSuccessful,
			reason: "recipient mismatch",
		},
		{
			name: "not the token contract",
			build: func(v *EVMVerifier) *types.Transaction {
				return newTransferTx(t, v, other, testRecipient, 100_000)
			},
			status: types.ReceiptStatusSuccessful,
			reason: "not to the token contract",
		},
		{
			name: "failed receipt",
			build: func(v *EVMVerifier) *types.Transaction {
				return newTransferTx(t, v, testUSDC, testRecipient, 100_000)
			},
			status: types.ReceiptStatusFailed,
			reason: "transaction failed",
		},
		{
			name: "not a transfer call",
			build: func(v *EVMVerifier) *types.Transaction {
				return types.NewTx(&types.LegacyTx{To: &testUSDC, Data: []byte{0xa9, 0x05, 0x9c, 0xbb, 0x00}})
			},
			status: types.ReceiptStatusSuccessful,
			reason: "not a transfer",
		},
		{
			name: "unknown selector",
			build: func(v *EVMVerifier) *types.Transaction {
				return types.NewTx(&types.LegacyTx{To: &testUSDC, Data: []byte{0x01, 0x02, 0x03, 0x04}})
			},
			status: types.ReceiptStatusSuccessful,
			reason: "not a transfer",
		},
		{
			name: "contract creation",
			build: func(v *EVMVerifier) *types.Transaction {
				return types.NewTx(&types.LegacyTx{Data: []byte{0x60, 0x80}})
			},
			status: types.ReceiptStatusSuccessful,
			reason: "not to the token contract",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := setupEVM(t, tt.build, tt.status)
			res := v.Verify(context.Background(), testTxHash.Hex(), evmOption())
			assert.False(t, res.OK)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}
}

func TestEVMVerifier_TransactionNotFound(t *testing.T) {
	v, _ := setupEVM(t, nil, 0)

	res := v.Verify(context.Background(), testTxHash.Hex(), evmOption())
	assert.False(t, res.OK)
	assert.Equal(t, "transaction not found", res.Reason)
}

func TestEVMVerifier_PendingTransaction(t *testing.T) {
	v, client := setupEVM(t, func(v *EVMVerifier) *types.Transaction {
		return newTransferTx(t, v, testUSDC, testRecipient, 100_000)
	}, types.ReceiptStatusSuccessful)
	client.pending = true

	res := v.Verify(context.Background(), testTxHash.Hex(), evmOption())
	assert.False(t, res.OK)
}

func TestEVMVerifier_RPCErrorIsRejection(t *testing.T) {
	v, client := setupEVM(t, nil, 0)
	client.err = errors.New("connection refused")

	res := v.Verify(context.Background(), testTxHash.Hex(), evmOption())
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "connection refused")
}

func TestEVMVerifier_MalformedHash(t *testing.T) {
	v, _ := setupEVM(t, nil, 0)

	for _, ref := range []string{"", "0xdead", "deadbeef", "0xzz"} {
		res := v.Verify(context.Background(), ref, evmOption())
		assert.False(t, res.OK, ref)
		assert.Equal(t, "malformed transaction hash", res.Reason)
	}
}

func TestEVMVerifier_ValidateAddress(t *testing.T) {
	v, _ := setupEVM(t, nil, 0)

	assert.NoError(t, v.ValidateAddress(testRecipient.Hex()))
	assert.Error(t, v.ValidateAddress(""))
	assert.Error(t, v.ValidateAddress("0x1234"))
	assert.Equal(t, core.ChainBase, v.Chain())
}
