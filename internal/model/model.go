// Package model defines the core domain types shared across the auction engine.
// Money is shopspring/decimal throughout, held at two decimal places.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the capability tag the identity provider attaches to a caller.
type Role string

const (
	RoleBidder Role = "BIDDER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

// Identity is the (account, role) pair the core trusts for every request.
type Identity struct {
	AccountID string `json:"account_id"`
	Role      Role   `json:"role"`
}

// Account holds an available balance. The balance is only ever changed
// together with a LedgerEntry of equal amount.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryTopUp             EntryKind = "TOPUP"
	EntryDepositHold       EntryKind = "DEPOSIT_HOLD"
	EntryDepositRefund     EntryKind = "DEPOSIT_REFUND"
	EntryAuctionPayment    EntryKind = "AUCTION_PAYMENT"
	EntrySaleProceeds      EntryKind = "SALE_PROCEEDS"
	EntryCommission        EntryKind = "COMMISSION"
	EntryInsufficientFunds EntryKind = "INSUFFICIENT_FUNDS"
)

// LedgerEntry is an immutable record of a balance movement.
// Once created, these are never modified or deleted.
// INSUFFICIENT_FUNDS entries are audit markers and always carry a zero amount.
type LedgerEntry struct {
	ID               string          `json:"id" db:"id"`
	AccountID        string          `json:"account_id" db:"account_id"`
	Kind             EntryKind       `json:"kind" db:"kind"`
	Amount           decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	RelatedAccountID *string         `json:"related_account_id,omitempty" db:"related_account_id"`
	AuctionID        *string         `json:"auction_id,omitempty" db:"auction_id"`
	Note             string          `json:"note,omitempty" db:"note"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// AuctionStatus is the auction lifecycle state.
type AuctionStatus string

const (
	StatusPending  AuctionStatus = "PENDING"
	StatusApproved AuctionStatus = "APPROVED"
	StatusRejected AuctionStatus = "REJECTED"
	StatusClosed   AuctionStatus = "CLOSED"
)

// Auction is a single listing and its bidding state.
type Auction struct {
	ID            string           `json:"id" db:"id"`
	SellerID      string           `json:"seller_id" db:"seller_id"`
	Title         string           `json:"title" db:"title"`
	Description   string           `json:"description,omitempty" db:"description"`
	StartPrice    decimal.Decimal  `json:"start_price" db:"start_price"`
	CurrentPrice  decimal.Decimal  `json:"current_price" db:"current_price"`
	MinIncrement  decimal.Decimal  `json:"min_increment" db:"min_increment"`
	MaxIncrement  *decimal.Decimal `json:"max_increment,omitempty" db:"max_increment"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty" db:"reserve_price"`
	BuyNowPrice   *decimal.Decimal `json:"buy_now_price,omitempty" db:"buy_now_price"`
	DepositAmount decimal.Decimal  `json:"deposit_amount" db:"deposit_amount"`
	EndsAt        time.Time        `json:"ends_at" db:"ends_at"`
	Status        AuctionStatus    `json:"status" db:"status"`
	WinnerID      *string          `json:"winner_id,omitempty" db:"winner_id"`
	FinalPrice    *decimal.Decimal `json:"final_price,omitempty" db:"final_price"`
	Paid          bool             `json:"paid" db:"paid"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
}

// Bid is an accepted bid. Only the refund fields change after insert.
type Bid struct {
	ID              string          `json:"id" db:"id"`
	AuctionID       string          `json:"auction_id" db:"auction_id"`
	BidderID        string          `json:"bidder_id" db:"bidder_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	DepositPaid     decimal.Decimal `json:"deposit_paid" db:"deposit_paid"`
	DepositRefunded bool            `json:"deposit_refunded" db:"deposit_refunded"`
	RefundAmount    decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// TopUpStatus is the moderation state of a wallet top-up request.
type TopUpStatus string

const (
	TopUpPending  TopUpStatus = "PENDING"
	TopUpApproved TopUpStatus = "APPROVED"
	TopUpRejected TopUpStatus = "REJECTED"
)

// TopUp is a request to credit an account, approved by an admin.
type TopUp struct {
	ID          string          `json:"id" db:"id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      TopUpStatus     `json:"status" db:"status"`
	Note        string          `json:"note,omitempty" db:"note"`
	AdminID     *string         `json:"admin_id,omitempty" db:"admin_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// Notification is a persisted message for one account.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	AuctionID *string   `json:"auction_id,omitempty" db:"auction_id"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Wallet aggregates an account balance with its recent history.
type Wallet struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Entries   []LedgerEntry   `json:"entries"`
	TopUps    []TopUp         `json:"topups"`
}

// Ptr returns a pointer to v. Handy for the optional fields above.
func Ptr[T any](v T) *T {
	return &v
}
