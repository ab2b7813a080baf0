package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Chain identifies a supported settlement chain.
type Chain string

const (
	ChainBase   Chain = "base"
	ChainSolana Chain = "solana"
)

// TokenUSDC is the only token accepted on either chain.
const TokenUSDC = "USDC"

// NonceBytes is the entropy of a challenge nonce.
const NonceBytes = 16

// ParseChain maps a wire chain name to a Chain. "evm" is an alias for base.
func ParseChain(s string) (Chain, bool) {
	switch strings.ToLower(s) {
	case "base", "evm":
		return ChainBase, true
	case "solana":
		return ChainSolana, true
	}
	return "", false
}

// NewNonce returns a fresh hex encoded challenge nonce.
func NewNonce() (string, error) {
	b := make([]byte, NonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PaymentOption is the static payment configuration for one chain.
type PaymentOption struct {
	Chain     Chain
	Token     string
	Recipient string // EVM address or base58 wallet
	Amount    string // decimal, e.g. "0.1"
	Asset     string // ERC-20 contract or SPL mint
	Decimals  int32
}

// Challenge is a payment request bound to a nonce
type Challenge struct {
	Nonce     string
	Chain     Chain
	Token     string
	Recipient string
	Amount    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PaymentProof is what the client submits after paying on chain.
type PaymentProof struct {
	Chain     string `json:"chain" validate:"required,max=16"`
	Token     string `json:"token" validate:"required,max=16"`
	Tx        string `json:"tx,omitempty" validate:"max=128"`
	Signature string `json:"signature,omitempty" validate:"max=128"`
	Nonce     string `json:"nonce" validate:"required,max=128"`
}

// Reference returns the chain specific transaction reference: the tx hash on
// base, the transaction signature on solana.
func (p PaymentProof) Reference(chain Chain) string {
	if chain == ChainSolana {
		return p.Signature
	}
	return p.Tx
}

// License asserts that the payment for Nonce was confirmed.
type License struct {
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature string
}

// Expired reports whether the license is past its expiry at t.
func (l *License) Expired(t time.Time) bool {
	return t.After(l.ExpiresAt)
}

// Redemption is the outcome of a successful proof submission.
type Redemption struct {
	Nonce     string
	Chain     Chain
	Reference string
	License   string
	ExpiresIn time.Duration
	IssuedAt  time.Time
}

// VerifyResult is what a chain verifier reports. Failures carry a reason and
// are never surfaced as errors.
type VerifyResult struct {
	OK     bool
	Reason string
}

// Verified is a successful VerifyResult.
func Verified() VerifyResult { return VerifyResult{OK: true} }

// Rejected builds a failed VerifyResult.
func Rejected(format string, args ...any) VerifyResult {
	return VerifyResult{Reason: fmt.Sprintf(format, args...)}
}
