// Package money implements the monetary arithmetic of the settlement engine:
// two-decimal rounding, the commission split between seller and platform,
// the amount a winner still owes after their held deposit, and the deposit
// derived from a starting price.
//
// Amounts are shopspring/decimal values; float64 never carries money.
// Every computed quantity is rounded to Scale places before it is returned,
// so no unrounded fraction can reach a persisted ledger entry.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRate is returned when a rate is outside [0, 1).
	ErrInvalidRate = errors.New("money: rate must be in [0, 1)")

	// ErrTooPrecise is returned when an amount carries more than Scale
	// decimal places.
	ErrTooPrecise = errors.New("money: amount has more than two decimal places")

	// ErrNotPositive is returned when an amount must be strictly positive.
	ErrNotPositive = errors.New("money: amount must be positive")

	// Scale is the number of decimal places for every persisted amount.
	Scale int32 = 2

	// Cent is the smallest representable amount.
	Cent = decimal.New(1, -Scale)
)

// Round rounds d to Scale places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ValidateRate checks that r is a usable commission or deposit rate.
func ValidateRate(r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidRate
	}
	return nil
}

// ValidateAmount checks that d is positive and expressible in cents.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}
	if !d.Equal(Round(d)) {
		return ErrTooPrecise
	}
	return nil
}

// Split is the division of a final sale price between seller and platform.
type Split struct {
	Commission  decimal.Decimal `json:"commission"`
	SellerShare decimal.Decimal `json:"seller_share"`
}

// SplitCommission computes commission = round(final × rate, 2) and
// sellerShare = final − commission. The two legs always sum to final.
//
//	final=1000.00 rate=0.05 → commission=50.00 sellerShare=950.00
func SplitCommission(final, rate decimal.Decimal) (Split, error) {
	if err := ValidateRate(rate); err != nil {
		return Split{}, err
	}
	commission := Round(final.Mul(rate))
	return Split{
		Commission:  commission,
		SellerShare: Round(final.Sub(commission)),
	}, nil
}

// Owed returns max(0, final − held): what a winner still has to pay once
// their held deposit is counted toward the price.
func Owed(final, held decimal.Decimal) decimal.Decimal {
	owed := Round(final.Sub(held))
	if owed.IsNegative() {
		return decimal.Zero
	}
	return owed
}

// DeriveDeposit computes the refundable hold required from every bidder,
// fixed when the auction is created: round(startPrice × rate, 2).
func DeriveDeposit(startPrice, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, err
	}
	return Round(startPrice.Mul(rate)), nil
}

// Sum adds amounts. Sum() is zero.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
