package core

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the fixed-point precision of USDC on both chains.
const USDCDecimals = 6

// BaseUnits converts a decimal amount such as "0.1" into integer token units.
// Fractions finer than the token precision round up so that an underpayment
// can never pass.
func BaseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %s", amount)
	}

	return d.Shift(decimals).Ceil().BigInt(), nil
}

// ValidateAmount checks that amount is a positive decimal
func ValidateAmount(amount string) error {
	_, err := BaseUnits(amount, 0)
	return err
}
