package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction holds the store's write lock for its whole duration and works
// on a private copy of the data, which replaces the live data only on commit.
// All transactions are therefore serialized, not just those on one auction.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	auctions      map[string]*model.Auction
	accounts      map[string]*model.Account
	topups        map[string]*model.TopUp
	bids          []model.Bid
	ledger        []model.LedgerEntry
	notifications []model.Notification
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			auctions: make(map[string]*model.Auction),
			accounts: make(map[string]*model.Account),
			topups:   make(map[string]*model.TopUp),
		},
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		auctions:      make(map[string]*model.Auction, len(d.auctions)),
		accounts:      make(map[string]*model.Account, len(d.accounts)),
		topups:        make(map[string]*model.TopUp, len(d.topups)),
		bids:          append([]model.Bid(nil), d.bids...),
		ledger:        append([]model.LedgerEntry(nil), d.ledger...),
		notifications: append([]model.Notification(nil), d.notifications...),
	}
	for id, a := range d.auctions {
		cp := *a
		c.auctions[id] = &cp
	}
	for id, a := range d.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	for id, t := range d.topups {
		cp := *t
		c.topups[id] = &cp
	}
	return c
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memTx{d: work}); err != nil {
		return err
	}
	// A request that timed out while fn ran must not commit.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

// --- Reads ---

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAuctionsBySeller(_ context.Context, sellerID string) ([]model.Auction, error) {
	return s.filterAuctions(func(a *model.Auction) bool { return a.SellerID == sellerID }, true), nil
}

func (s *MemoryStore) ListAuctionsByStatus(_ context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	return s.filterAuctions(func(a *model.Auction) bool { return a.Status == status }, false), nil
}

func (s *MemoryStore) ListExpiredAuctions(_ context.Context, now time.Time, limit int) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Auction
	for _, a := range s.data.auctions {
		if a.Status == model.StatusApproved && !a.EndsAt.After(now) {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EndsAt.Equal(result[j].EndsAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].EndsAt.Before(result[j].EndsAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) filterAuctions(keep func(*model.Auction) bool, newestFirst bool) []model.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Auction
	for _, a := range s.data.auctions {
		if keep(a) {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if newestFirst {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *MemoryStore) ListBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return bidsOf(s.data.bids, auctionID), nil
}

func (s *MemoryStore) ListBidsByBidder(_ context.Context, bidderID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for i := len(s.data.bids) - 1; i >= 0; i-- {
		if s.data.bids[i].BidderID == bidderID {
			result = append(result, s.data.bids[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for i := len(s.data.ledger) - 1; i >= 0; i-- {
		if s.data.ledger[i].AccountID != accountID {
			continue
		}
		result = append(result, s.data.ledger[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListLedgerEntriesByAuction(_ context.Context, auctionID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.data.ledger {
		if e.AuctionID != nil && *e.AuctionID == auctionID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTopUps(_ context.Context, accountID string) ([]model.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TopUp
	for _, t := range s.data.topups {
		if accountID == "" || t.AccountID == accountID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, accountID string) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Notification
	for i := len(s.data.notifications) - 1; i >= 0; i-- {
		if s.data.notifications[i].AccountID == accountID {
			result = append(result, s.data.notifications[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.notifications {
		n := &s.data.notifications[i]
		if n.ID == id && n.AccountID == accountID {
			n.Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

func bidsOf(bids []model.Bid, auctionID string) []model.Bid {
	var result []model.Bid
	for _, b := range bids {
		if b.AuctionID == auctionID {
			result = append(result, b)
		}
	}
	return result
}

// --- Transaction ---

// memTx operates on the private copy owned by one WithTx call. The store's
// write lock is already held, so no further locking happens here.
type memTx struct {
	d *memData
}

func (t *memTx) CreateAuction(_ context.Context, a *model.Auction) error {
	if _, ok := t.d.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	cp := *a
	t.d.auctions[a.ID] = &cp
	return nil
}

func (t *memTx) LockAuction(_ context.Context, id string) (*model.Auction, error) {
	a, ok := t.d.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) auction(id string) (*model.Auction, error) {
	a, ok := t.d.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (t *memTx) SetAuctionStatus(_ context.Context, id string, status model.AuctionStatus) error {
	a, err := t.auction(id)
	if err != nil {
		return err
	}
	a.Status = status
	return nil
}

func (t *memTx) UpdateAuctionPrice(_ context.Context, id string, price decimal.Decimal) error {
	a, err := t.auction(id)
	if err != nil {
		return err
	}
	a.CurrentPrice = price
	return nil
}

func (t *memTx) CloseAuction(_ context.Context, id string, winnerID *string, finalPrice *decimal.Decimal, closedAt time.Time) error {
	a, err := t.auction(id)
	if err != nil {
		return err
	}
	a.Status = model.StatusClosed
	a.WinnerID = winnerID
	a.FinalPrice = finalPrice
	a.ClosedAt = &closedAt
	return nil
}

func (t *memTx) MarkAuctionPaid(_ context.Context, id string) error {
	a, err := t.auction(id)
	if err != nil {
		return err
	}
	a.Paid = true
	return nil
}

func (t *memTx) InsertBid(_ context.Context, b *model.Bid) error {
	t.d.bids = append(t.d.bids, *b)
	return nil
}

func (t *memTx) ListBids(_ context.Context, auctionID string) ([]model.Bid, error) {
	return bidsOf(t.d.bids, auctionID), nil
}

func (t *memTx) RefundDeposits(_ context.Context, auctionID, bidderID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for i := range t.d.bids {
		b := &t.d.bids[i]
		if b.AuctionID != auctionID || b.BidderID != bidderID {
			continue
		}
		if b.DepositRefunded || !b.DepositPaid.IsPositive() {
			continue
		}
		b.DepositRefunded = true
		b.RefundAmount = b.DepositPaid
		total = total.Add(b.DepositPaid)
	}
	return total, nil
}

func (t *memTx) LockAccount(_ context.Context, id string) (*model.Account, error) {
	a, ok := t.d.accounts[id]
	if !ok {
		a = &model.Account{ID: id, Balance: decimal.Zero, CreatedAt: time.Now().UTC()}
		t.d.accounts[id] = a
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) AdjustBalance(_ context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	a, ok := t.d.accounts[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("account %s: %w", id, ErrNegativeBalance)
	}
	a.Balance = next
	return next, nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	t.d.ledger = append(t.d.ledger, *e)
	return nil
}

func (t *memTx) InsertTopUp(_ context.Context, tu *model.TopUp) error {
	if _, ok := t.d.topups[tu.ID]; ok {
		return fmt.Errorf("topup %s already exists", tu.ID)
	}
	cp := *tu
	t.d.topups[tu.ID] = &cp
	return nil
}

func (t *memTx) LockTopUp(_ context.Context, id string) (*model.TopUp, error) {
	tu, ok := t.d.topups[id]
	if !ok {
		return nil, fmt.Errorf("topup %s: %w", id, ErrNotFound)
	}
	cp := *tu
	return &cp, nil
}

func (t *memTx) UpdateTopUp(_ context.Context, tu *model.TopUp) error {
	existing, ok := t.d.topups[tu.ID]
	if !ok {
		return fmt.Errorf("topup %s: %w", tu.ID, ErrNotFound)
	}
	existing.Status = tu.Status
	existing.AdminID = tu.AdminID
	existing.ProcessedAt = tu.ProcessedAt
	return nil
}

func (t *memTx) InsertNotification(_ context.Context, n *model.Notification) error {
	t.d.notifications = append(t.d.notifications, *n)
	return nil
}
