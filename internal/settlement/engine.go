// Package settlement is the auction settlement engine: bid application,
// auction close with winner selection, and the payment that moves funds
// between winner, seller and platform.
//
// Every operation runs in one store transaction. The auction row is locked
// first, then every account the operation touches in ascending ID order, so
// two operations never wait on each other's locks in opposite orders. Events
// are collected while the transaction runs and published after commit;
// publish failures are logged and never undo a committed change.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/money"
	"github.com/atmx/auction-engine/internal/store"
)

// Config holds the engine's economic parameters.
type Config struct {
	// CommissionRate is the platform's share of every final price, in [0, 1).
	CommissionRate decimal.Decimal
	// PlatformAccountID receives commissions.
	PlatformAccountID string
}

// Engine applies bids, closes auctions and settles payments.
type Engine struct {
	store  store.Store
	events event.Broadcaster
	cfg    Config
	now    func() time.Time
	log    *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine. events may be nil.
func NewEngine(s store.Store, events event.Broadcaster, cfg Config, opts ...Option) (*Engine, error) {
	if err := money.ValidateRate(cfg.CommissionRate); err != nil {
		return nil, fmt.Errorf("commission rate %s: %w", cfg.CommissionRate, err)
	}
	if cfg.PlatformAccountID == "" {
		return nil, errors.New("platform account id is required")
	}
	if events == nil {
		events = event.Nop{}
	}
	e := &Engine{
		store:  s,
		events: events,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// fail turns an untyped failure into an INTEGRITY error and logs it. Typed
// business errors pass through unlogged.
func (e *Engine) fail(op, auctionID string, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	e.log.Error("settlement operation failed", "op", op, "auction_id", auctionID, "err", err)
	return apperr.Wrap(err, "%s %s failed", op, auctionID)
}

// lockAuction maps a missing row to a NOT_FOUND error.
func lockAuction(ctx context.Context, tx store.Tx, id string) (*model.Auction, error) {
	a, err := tx.LockAuction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, apperr.CodeNotFound, "auction %s not found", id)
	}
	return a, err
}

// lockAccounts locks the given accounts in ascending ID order, skipping
// duplicates and empty IDs.
func lockAccounts(ctx context.Context, tx store.Tx, ids ...string) (map[string]*model.Account, error) {
	uniq := make(map[string]bool, len(ids))
	var sorted []string
	for _, id := range ids {
		if id != "" && !uniq[id] {
			uniq[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	locked := make(map[string]*model.Account, len(sorted))
	for _, id := range sorted {
		acct, err := tx.LockAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		locked[id] = acct
	}
	return locked, nil
}

// post applies a posting, skipping zero amounts.
func post(ctx context.Context, tx store.Tx, p ledger.Posting, at time.Time) error {
	if p.Amount.IsZero() {
		return nil
	}
	_, err := ledger.Post(ctx, tx, p, at)
	return err
}

// heldDeposit sums bidderID's deposits on the auction that are still held.
func heldDeposit(bids []model.Bid, bidderID string) decimal.Decimal {
	total := decimal.Zero
	for _, b := range bids {
		if b.BidderID == bidderID && !b.DepositRefunded {
			total = total.Add(b.DepositPaid)
		}
	}
	return total
}

func fixed(d decimal.Decimal) string { return d.StringFixed(money.Scale) }

func title(a *model.Auction) string {
	if a.Title != "" {
		return fmt.Sprintf("%q", a.Title)
	}
	return a.ID
}
