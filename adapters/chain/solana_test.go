package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/layer-3/tollgate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

type fakeSolana struct {
	result *rpc.GetTransactionResult
	err    error
	opts   *rpc.GetTransactionOpts
}

func (f *fakeSolana) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testSignature() string {
	var sig solana.Signature
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	return sig.String()
}

func balance(index uint16, owner solana.PublicKey, mint solana.PublicKey, amount string) rpc.TokenBalance {
	return rpc.TokenBalance{
		AccountIndex:  index,
		Owner:         &owner,
		Mint:          mint,
		UiTokenAmount: &rpc.UiTokenAmount{Amount: amount, Decimals: core.USDCDecimals},
	}
}

func solanaOption(recipient solana.PublicKey) core.PaymentOption {
	return core.PaymentOption{
		Chain:     core.ChainSolana,
		Token:     core.TokenUSDC,
		Recipient: recipient.String(),
		Amount:    "0.1",
		Asset:     testMint.String(),
		Decimals:  core.USDCDecimals,
	}
}

func TestSolanaVerifier_Transfer(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()

	client := &fakeSolana{result: &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				balance(1, payer, testMint, "5000000"),
				balance(2, recipient, testMint, "250000"),
			},
			PostTokenBalances: []rpc.TokenBalance{
				balance(1, payer, testMint, "4900000"),
				balance(2, recipient, testMint, "350000"),
			},
		},
	}}
	v := NewSolanaVerifier(client)

	res := v.Verify(context.Background(), testSignature(), solanaOption(recipient))
	assert.True(t, res.OK, res.Reason)

	require.NotNil(t, client.opts)
	assert.Equal(t, rpc.CommitmentConfirmed, client.opts.Commitment)
	require.NotNil(t, client.opts.MaxSupportedTransactionVersion)
	assert.Equal(t, uint64(0), *client.opts.MaxSupportedTransactionVersion)
}

func TestSolanaVerifier_NewTokenAccount(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()

	// the recipient's token account is created by the payment, so it has no
	// pre balance entry
	client := &fakeSolana{result: &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PostTokenBalances: []rpc.TokenBalance{
				balance(2, recipient, testMint, "100000"),
			},
		},
	}}
	v := NewSolanaVerifier(client)

	res := v.Verify(context.Background(), testSignature(), solanaOption(recipient))
	assert.True(t, res.OK, res.Reason)
}

func TestSolanaVerifier_Rejections(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	otherMint := solana.NewWallet().PublicKey()

	tests := []struct {
		name   string
		client *fakeSolana
		reason string
	}{
		{
			name:   "not found",
			client: &fakeSolana{err: rpc.ErrNotFound},
			reason: "transaction not found",
		},
		{
			name:   "rpc failure",
			client: &fakeSolana{err: errors.New("context deadline exceeded")},
			reason: "failed to fetch transaction",
		},
		{
			name:   "no meta",
			client: &fakeSolana{result: &rpc.GetTransactionResult{}},
			reason: "no meta",
		},
		{
			name: "execution error",
			client: &fakeSolana{result: &rpc.GetTransactionResult{
				Meta: &rpc.TransactionMeta{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
			}},
			reason: "transaction failed",
		},
		{
			name: "underpayment",
			client: &fakeSolana{result: &rpc.GetTransactionResult{
				Meta: &rpc.TransactionMeta{
					PreTokenBalances:  []rpc.TokenBalance{balance(2, recipient, testMint, "0")},
					PostTokenBalances: []rpc.TokenBalance{balance(2, recipient, testMint, "99999")},
				},
			}},
			reason: "amount too low",
		},
		{
			name: "paid someone else",
			client: &fakeSolana{result: &rpc.GetTransactionResult{
				Meta: &rpc.TransactionMeta{
					PreTokenBalances:  []rpc.TokenBalance{balance(2, other, testMint, "0")},
					PostTokenBalances: []rpc.TokenBalance{balance(2, other, testMint, "100000")},
				},
			}},
			reason: "amount too low",
		},
		{
			name: "wrong mint",
			client: &fakeSolana{result: &rpc.GetTransactionResult{
				Meta: &rpc.TransactionMeta{
					PreTokenBalances:  []rpc.TokenBalance{balance(2, recipient, otherMint, "0")},
					PostTokenBalances: []rpc.TokenBalance{balance(2, recipient, otherMint, "100000")},
				},
			}},
			reason: "amount too low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewSolanaVerifier(tt.client)
			res := v.Verify(context.Background(), testSignature(), solanaOption(recipient))
			assert.False(t, res.OK)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}
}

func TestSolanaVerifier_MalformedSignature(t *testing.T) {
	v := NewSolanaVerifier(&fakeSolana{})

	res := v.Verify(context.Background(), "not-base58-0OIl", solanaOption(solana.NewWallet().PublicKey()))
	assert.False(t, res.OK)
	assert.Equal(t, "malformed transaction signature", res.Reason)
}

func TestSolanaVerifier_ValidateAddress(t *testing.T) {
	v := NewSolanaVerifier(&fakeSolana{})

	assert.NoError(t, v.ValidateAddress(testMint.String()))
	assert.Error(t, v.ValidateAddress("0x1111111111111111111111111111111111111111"))
	assert.Error(t, v.ValidateAddress(""))
	assert.Equal(t, core.ChainSolana, v.Chain())
}
