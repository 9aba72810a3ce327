// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every state change happens inside WithTx. Reads that inform a decision are
// taken through the Tx lock methods, which hold an exclusive row lock until
// the transaction ends; this is the only serialization point between
// concurrent bids and closes on the same auction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// WithTx runs fn inside a single transaction. If fn returns an error or
	// ctx is done before commit, every write made through tx is discarded.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Auction reads ---

	// GetAuction retrieves an auction by ID without locking it.
	GetAuction(ctx context.Context, id string) (*model.Auction, error)

	// ListAuctionsBySeller returns a seller's auctions, newest first.
	ListAuctionsBySeller(ctx context.Context, sellerID string) ([]model.Auction, error)

	// ListAuctionsByStatus returns auctions in the given status, oldest first.
	ListAuctionsByStatus(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error)

	// ListExpiredAuctions returns APPROVED auctions whose end time is at or
	// before now, earliest end first, at most limit rows (all when limit <= 0).
	ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]model.Auction, error)

	// --- Bid reads ---

	// ListBidsByAuction returns an auction's bids in submission order.
	ListBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)

	// ListBidsByBidder returns a bidder's bids, newest first.
	ListBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error)

	// --- Ledger reads ---

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// ListLedgerEntries returns an account's entries, newest first, at most
	// limit rows (all when limit <= 0).
	ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error)

	// ListLedgerEntriesByAuction returns every entry referencing an auction.
	ListLedgerEntriesByAuction(ctx context.Context, auctionID string) ([]model.LedgerEntry, error)

	// --- Wallet and notification reads ---

	// ListTopUps returns top-up requests, newest first. An empty accountID
	// lists every account's requests.
	ListTopUps(ctx context.Context, accountID string) ([]model.TopUp, error)

	// ListNotifications returns an account's notifications, newest first.
	ListNotifications(ctx context.Context, accountID string) ([]model.Notification, error)

	// MarkNotificationRead flags one of the account's notifications as read.
	MarkNotificationRead(ctx context.Context, id, accountID string) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// --- Auctions ---

	// CreateAuction persists a new auction.
	CreateAuction(ctx context.Context, a *model.Auction) error

	// LockAuction reads an auction under an exclusive row lock
	// (SELECT ... FOR UPDATE).
	LockAuction(ctx context.Context, id string) (*model.Auction, error)

	// SetAuctionStatus changes the moderation status.
	SetAuctionStatus(ctx context.Context, id string, status model.AuctionStatus) error

	// UpdateAuctionPrice sets the current price after an accepted bid.
	UpdateAuctionPrice(ctx context.Context, id string, price decimal.Decimal) error

	// CloseAuction sets status CLOSED, winner and final price in one update.
	CloseAuction(ctx context.Context, id string, winnerID *string, finalPrice *decimal.Decimal, closedAt time.Time) error

	// MarkAuctionPaid sets the paid flag.
	MarkAuctionPaid(ctx context.Context, id string) error

	// --- Bids ---

	// InsertBid appends a bid.
	InsertBid(ctx context.Context, b *model.Bid) error

	// ListBids returns the auction's bids in submission order.
	ListBids(ctx context.Context, auctionID string) ([]model.Bid, error)

	// RefundDeposits marks every un-refunded, deposit-bearing bid of bidderID
	// on auctionID as refunded with refund_amount = deposit_paid, and returns
	// the refunded total. Rows already refunded are left untouched.
	RefundDeposits(ctx context.Context, auctionID, bidderID string) (decimal.Decimal, error)

	// --- Accounts and ledger ---

	// LockAccount reads an account under an exclusive row lock, creating it
	// with a zero balance first if it does not exist.
	LockAccount(ctx context.Context, id string) (*model.Account, error)

	// AdjustBalance adds delta to the balance and returns the new balance.
	// It fails if the result would be negative.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error)

	// InsertLedgerEntry appends an immutable ledger record.
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error

	// --- Top-ups ---

	// InsertTopUp persists a new top-up request.
	InsertTopUp(ctx context.Context, t *model.TopUp) error

	// LockTopUp reads a top-up request under an exclusive row lock.
	LockTopUp(ctx context.Context, id string) (*model.TopUp, error)

	// UpdateTopUp writes the status, admin and processed time of a request.
	UpdateTopUp(ctx context.Context, t *model.TopUp) error

	// --- Notifications ---

	// InsertNotification persists a notification.
	InsertNotification(ctx context.Context, n *model.Notification) error
}

// ErrNegativeBalance is returned by AdjustBalance when a debit would take
// the balance below zero.
var ErrNegativeBalance = errors.New("store: balance would become negative")
