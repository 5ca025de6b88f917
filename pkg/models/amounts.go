package models

import (
	"math/big"

	"github.com/shopspring/decimal"

	errs "github.com/openbourse/bourse/common/errors"
)

var baseUnitScale = decimal.New(1, PriceDecimals)

// ToBaseUnits converts a human-readable decimal amount into uint64 base
// units. Values that are negative, carry more than PriceDecimals fractional
// digits, or do not fit in a uint64 are rejected.
func ToBaseUnits(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, errs.ErrInvalidAmount
	}
	scaled := d.Mul(baseUnitScale)
	if !scaled.IsInteger() {
		return 0, errs.ErrInvalidAmount
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, errs.ErrInvalidAmount
	}
	return bi.Uint64(), nil
}

// FromBaseUnits converts base units back into the decimal representation.
func FromBaseUnits(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -PriceDecimals)
}
