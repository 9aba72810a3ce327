// Package bidding implements the bid acceptance rules for a single auction.
//
// Validate is pure: it receives a snapshot of the auction (read under a row
// lock by the caller), the candidate bid and the bidder's available balance,
// and decides. It never touches storage. Rules are evaluated in a fixed
// order and the first failing rule wins:
//
//  1. status must be APPROVED                         → NOT_ACTIVE
//  2. now must be before the end timestamp            → ENDED
//  3. amount == buy-now price exactly                 → buy-now bid, skip 4–5
//  4. amount ≥ current price + min increment          → BELOW_MIN_INCREMENT
//  5. amount ≤ current price + max increment (if set) → ABOVE_MAX_INCREMENT
//  6. deposit ≥ required deposit (if positive)        → DEPOSIT_TOO_LOW
//  7. balance ≥ deposit (if a hold is taken)          → INSUFFICIENT_BALANCE
//
// A bid strictly above the buy-now price is not a buy-now bid; it falls
// through to the increment checks like any other bid. The same holds for a
// buy-now amount once the current price has moved past it.
package bidding

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/model"
)

// Candidate is a bid being considered against an auction snapshot.
type Candidate struct {
	// Amount is the offered price. Must be positive.
	Amount decimal.Decimal

	// Deposit is the refundable hold the bidder posts with this bid.
	Deposit decimal.Decimal

	// Balance is the bidder's available balance at validation time.
	Balance decimal.Decimal

	// Now is the wall-clock time the bid is evaluated at.
	Now time.Time
}

// Decision is the outcome of an accepted bid.
type Decision struct {
	// BuyNow is set when the amount equals the auction's buy-now price.
	// The caller must close the auction in the same transaction.
	BuyNow bool

	// TakesHold is set when a positive deposit will be debited.
	TakesHold bool
}

// MinAllowed returns the lowest non-buy-now amount the auction accepts.
func MinAllowed(a *model.Auction) decimal.Decimal {
	return a.CurrentPrice.Add(a.MinIncrement)
}

// MaxAllowed returns the highest non-buy-now amount the auction accepts and
// false when the auction has no max increment.
func MaxAllowed(a *model.Auction) (decimal.Decimal, bool) {
	if a.MaxIncrement == nil {
		return decimal.Zero, false
	}
	return a.CurrentPrice.Add(*a.MaxIncrement), true
}

// IsBuyNow reports whether amount triggers the auction's buy-now price.
// Once bidding has pushed the current price above the buy-now price the
// option has lapsed, so the price never moves backwards.
func IsBuyNow(a *model.Auction, amount decimal.Decimal) bool {
	if a.BuyNowPrice == nil || !amount.Equal(*a.BuyNowPrice) {
		return false
	}
	return !a.BuyNowPrice.LessThan(a.CurrentPrice)
}

// Validate decides whether c may be applied to the auction snapshot a.
// It returns a Decision, or an *apperr.Error naming the first failed rule
// together with the boundary the caller needs to correct the bid.
func Validate(a *model.Auction, c Candidate) (Decision, error) {
	if !c.Amount.IsPositive() {
		return Decision{}, apperr.New(apperr.Validation, apperr.CodeInvalidInput,
			"bid amount must be positive")
	}
	if c.Deposit.IsNegative() {
		return Decision{}, apperr.New(apperr.Validation, apperr.CodeInvalidInput,
			"deposit must not be negative")
	}

	// 1. Only approved auctions take bids.
	if a.Status != model.StatusApproved {
		return Decision{}, apperr.New(apperr.StateConflict, apperr.CodeNotActive,
			"auction is not active (status %s)", a.Status)
	}

	// 2. Timing.
	if !c.Now.Before(a.EndsAt) {
		return Decision{}, apperr.New(apperr.StateConflict, apperr.CodeEnded,
			"auction ended at %s", a.EndsAt.UTC().Format(time.RFC3339))
	}

	// 3. Exact buy-now equality bypasses the increment bounds.
	buyNow := IsBuyNow(a, c.Amount)

	if !buyNow {
		// 4. Minimum increment.
		minAllowed := MinAllowed(a)
		if c.Amount.LessThan(minAllowed) {
			return Decision{}, apperr.New(apperr.StateConflict, apperr.CodeBelowMinIncrement,
				"bid must be at least %s higher than current price (minimum allowed is %s)",
				a.MinIncrement.StringFixed(2), minAllowed.StringFixed(2))
		}

		// 5. Maximum increment.
		if maxAllowed, ok := MaxAllowed(a); ok && c.Amount.GreaterThan(maxAllowed) {
			return Decision{}, apperr.New(apperr.Validation, apperr.CodeAboveMaxIncrement,
				"bid cannot exceed max increment of %s (maximum allowed is %s)",
				a.MaxIncrement.StringFixed(2), maxAllowed.StringFixed(2))
		}
	}

	// 6. Required deposit.
	if a.DepositAmount.IsPositive() && c.Deposit.LessThan(a.DepositAmount) {
		return Decision{}, apperr.New(apperr.Validation, apperr.CodeDepositTooLow,
			"a refundable deposit of at least %s is required", a.DepositAmount.StringFixed(2))
	}

	// 7. The hold must be covered by the available balance.
	takesHold := c.Deposit.IsPositive()
	if takesHold && c.Balance.LessThan(c.Deposit) {
		return Decision{}, apperr.New(apperr.Resource, apperr.CodeInsufficientBalance,
			"available balance %s does not cover deposit %s",
			c.Balance.StringFixed(2), c.Deposit.StringFixed(2))
	}

	return Decision{BuyNow: buyNow, TakesHold: takesHold}, nil
}
