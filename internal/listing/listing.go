// Package listing handles auction listing parameters: validation of what a
// seller submits, derivation of the deposit every bidder must hold, and the
// moderation lifecycle PENDING → APPROVED | REJECTED.
package listing

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/money"
)

// MaxTitleLen bounds the listing title, in characters.
const MaxTitleLen = 200

// DefaultMinIncrement applies when a listing does not set one.
var DefaultMinIncrement = decimal.New(100, -money.Scale)

var (
	ErrInvalidListing = errors.New("listing: invalid parameters")
	ErrInvalidPrice   = errors.New("listing: invalid price")
	ErrInvalidEnd     = errors.New("listing: invalid end time")
)

// Params is what a seller submits when listing an item.
type Params struct {
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	StartPrice   decimal.Decimal  `json:"start_price"`
	MinIncrement *decimal.Decimal `json:"min_increment,omitempty"`
	MaxIncrement *decimal.Decimal `json:"max_increment,omitempty"`
	ReservePrice *decimal.Decimal `json:"reserve_price,omitempty"`
	BuyNowPrice  *decimal.Decimal `json:"buy_now_price,omitempty"`
	EndsAt       time.Time        `json:"ends_at"`
}

// Terms are validated listing parameters with defaults applied and the
// deposit fixed.
type Terms struct {
	Title         string
	Description   string
	StartPrice    decimal.Decimal
	MinIncrement  decimal.Decimal
	MaxIncrement  *decimal.Decimal
	ReservePrice  *decimal.Decimal
	BuyNowPrice   *decimal.Decimal
	DepositAmount decimal.Decimal
	EndsAt        time.Time
}

// Parse validates p and derives the deposit as round(start × depositRate, 2).
//
// Rules, first failure wins: title present and at most MaxTitleLen
// characters; start > 0; min increment > 0 (default 1.00); max increment ≥
// min; reserve ≥ start; buy-now ≥ start and ≥ reserve when both are set;
// end strictly after now. Every amount must be expressible in cents.
func Parse(p Params, depositRate decimal.Decimal, now time.Time) (*Terms, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidListing)
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, fmt.Errorf("%w: title longer than %d characters", ErrInvalidListing, MaxTitleLen)
	}

	if err := money.ValidateAmount(p.StartPrice); err != nil {
		return nil, fmt.Errorf("%w: start price %s: %v", ErrInvalidPrice, p.StartPrice, err)
	}

	minInc := DefaultMinIncrement
	if p.MinIncrement != nil {
		if err := money.ValidateAmount(*p.MinIncrement); err != nil {
			return nil, fmt.Errorf("%w: min increment %s: %v", ErrInvalidPrice, p.MinIncrement, err)
		}
		minInc = *p.MinIncrement
	}

	if p.MaxIncrement != nil {
		if err := money.ValidateAmount(*p.MaxIncrement); err != nil {
			return nil, fmt.Errorf("%w: max increment %s: %v", ErrInvalidPrice, p.MaxIncrement, err)
		}
		if p.MaxIncrement.LessThan(minInc) {
			return nil, fmt.Errorf("%w: max increment %s below min increment %s",
				ErrInvalidPrice, p.MaxIncrement, minInc)
		}
	}

	if p.ReservePrice != nil {
		if err := money.ValidateAmount(*p.ReservePrice); err != nil {
			return nil, fmt.Errorf("%w: reserve price %s: %v", ErrInvalidPrice, p.ReservePrice, err)
		}
		if p.ReservePrice.LessThan(p.StartPrice) {
			return nil, fmt.Errorf("%w: reserve price %s below start price %s",
				ErrInvalidPrice, p.ReservePrice, p.StartPrice)
		}
	}

	if p.BuyNowPrice != nil {
		if err := money.ValidateAmount(*p.BuyNowPrice); err != nil {
			return nil, fmt.Errorf("%w: buy-now price %s: %v", ErrInvalidPrice, p.BuyNowPrice, err)
		}
		if p.BuyNowPrice.LessThan(p.StartPrice) {
			return nil, fmt.Errorf("%w: buy-now price %s below start price %s",
				ErrInvalidPrice, p.BuyNowPrice, p.StartPrice)
		}
		if p.ReservePrice != nil && p.BuyNowPrice.LessThan(*p.ReservePrice) {
			return nil, fmt.Errorf("%w: buy-now price %s below reserve price %s",
				ErrInvalidPrice, p.BuyNowPrice, p.ReservePrice)
		}
	}

	if !p.EndsAt.After(now) {
		return nil, fmt.Errorf("%w: %s is not in the future", ErrInvalidEnd, p.EndsAt.Format(time.RFC3339))
	}

	deposit, err := money.DeriveDeposit(p.StartPrice, depositRate)
	if err != nil {
		return nil, fmt.Errorf("deposit rate %s: %w", depositRate, err)
	}

	return &Terms{
		Title:         title,
		Description:   strings.TrimSpace(p.Description),
		StartPrice:    p.StartPrice,
		MinIncrement:  minInc,
		MaxIncrement:  p.MaxIncrement,
		ReservePrice:  p.ReservePrice,
		BuyNowPrice:   p.BuyNowPrice,
		DepositAmount: deposit,
		EndsAt:        p.EndsAt.UTC(),
	}, nil
}
