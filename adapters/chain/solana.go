package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
)

// SolanaReader is the subset of rpc.Client used for verification
type SolanaReader interface {
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// SolanaVerifier confirms SPL token transfers by the token balance change at
// the recipient.
type SolanaVerifier struct {
	client     SolanaReader
	commitment rpc.CommitmentType
}

var _ ports.ChainVerifier = (*SolanaVerifier)(nil)

// NewSolanaVerifier creates a verifier reading confirmed transactions
func NewSolanaVerifier(client SolanaReader) *SolanaVerifier {
	return &SolanaVerifier{
		client:     client,
		commitment: rpc.CommitmentConfirmed,
	}
}

// Chain implements ports.ChainVerifier.
func (v *SolanaVerifier) Chain() core.Chain {
	return core.ChainSolana
}

// ValidateAddress implements ports.ChainVerifier.
func (v *SolanaVerifier) ValidateAddress(addr string) error {
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return fmt.Errorf("invalid Solana address %q: %w", addr, err)
	}
	return nil
}

// Verify checks that the transaction succeeded and increased the recipient's
// token balance for the option's mint by at least option.Amount.
func (v *SolanaVerifier) Verify(ctx context.Context, signature string, option core.PaymentOption) core.VerifyResult {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return core.Rejected("malformed transaction signature")
	}

	recipient, err := solana.PublicKeyFromBase58(option.Recipient)
	if err != nil {
		return core.Rejected("invalid recipient: %v", err)
	}
	mint, err := solana.PublicKeyFromBase58(option.Asset)
	if err != nil {
		return core.Rejected("invalid mint: %v", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return core.Rejected("failed to derive token account: %v", err)
	}

	maxVersion := uint64(0)
	out, err := v.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     v.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return core.Rejected("transaction not found")
	}
	if err != nil {
		return core.Rejected("failed to fetch transaction: %v", err)
	}
	if out == nil || out.Meta == nil {
		return core.Rejected("transaction not found or no meta")
	}
	if out.Meta.Err != nil {
		return core.Rejected("transaction failed: %v", out.Meta.Err)
	}

	received, err := receivedAmount(out, recipient, ata, mint)
	if err != nil {
		return core.Rejected("%v", err)
	}

	expected, err := core.BaseUnits(option.Amount, option.Decimals)
	if err != nil {
		return core.Rejected("%v", err)
	}
	if received.Cmp(expected) < 0 {
		return core.Rejected("amount too low: got %s, want %s", received, expected)
	}

	return core.Verified()
}

// receivedAmount is post minus pre balance over the recipient's token
// accounts for mint. Balances without an owner are matched against the
// associated token account by account index.
func receivedAmount(out *rpc.GetTransactionResult, owner, ata, mint solana.PublicKey) (*big.Int, error) {
	var keys solana.PublicKeySlice
	keysLoaded := false
	accountKey := func(index uint16) (solana.PublicKey, bool) {
		if !keysLoaded {
			keysLoaded = true
			keys = accountKeys(out)
		}
		if int(index) >= len(keys) {
			return solana.PublicKey{}, false
		}
		return keys[index], true
	}

	matches := func(tb rpc.TokenBalance) bool {
		if !tb.Mint.Equals(mint) {
			return false
		}
		if tb.Owner != nil {
			return tb.Owner.Equals(owner)
		}
		key, ok := accountKey(tb.AccountIndex)
		return ok && key.Equals(ata)
	}

	sum := func(balances []rpc.TokenBalance) (*big.Int, error) {
		total := new(big.Int)
		for _, tb := range balances {
			if !matches(tb) || tb.UiTokenAmount == nil {
				continue
			}
			n, ok := new(big.Int).SetString(tb.UiTokenAmount.Amount, 10)
			if !ok {
				return nil, fmt.Errorf("bad token amount %q", tb.UiTokenAmount.Amount)
			}
			total.Add(total, n)
		}
		return total, nil
	}

	pre, err := sum(out.Meta.PreTokenBalances)
	if err != nil {
		return nil, err
	}
	post, err := sum(out.Meta.PostTokenBalances)
	if err != nil {
		return nil, err
	}

	return post.Sub(post, pre), nil
}

// accountKeys returns static keys followed by address table lookups, which is
// the order token balance indexes refer to.
func accountKeys(out *rpc.GetTransactionResult) solana.PublicKeySlice {
	if out.Transaction == nil {
		return nil
	}
	tx, err := out.Transaction.GetTransaction()
	if err != nil || tx == nil {
		return nil
	}

	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	keys = append(keys, out.Meta.LoadedAddresses.Writable...)
	keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)
	return keys
}
