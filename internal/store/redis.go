package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for auctions. Transactions go to the primary store; every auction a
// committed transaction wrote is invalidated afterwards, so the next read
// re-populates it. Locked reads inside a transaction never touch the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Transactions (primary, then invalidate) ---

func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&touchTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		// The transaction is committed; eviction must not be skipped just
		// because the request went away.
		s.invalidate(context.WithoutCancel(ctx), touched)
	}
	return nil
}

// invalidate bumps each auction's cache version and drops the cached copy.
// A reader that loaded the row before the bump will not write it back.
func (s *CachedStore) invalidate(ctx context.Context, ids []string) {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.Incr(ctx, versionKey(id))
			p.Del(ctx, auctionKey(id))
		}
		return nil
	})
	if err != nil {
		slog.Warn("auction cache invalidation failed", "auction_ids", ids, "err", err)
	}
}

// touchTx records the auctions a transaction writes.
type touchTx struct {
	Tx
	touched *[]string
}

func (t *touchTx) touch(id string) { *t.touched = append(*t.touched, id) }

func (t *touchTx) CreateAuction(ctx context.Context, a *model.Auction) error {
	t.touch(a.ID)
	return t.Tx.CreateAuction(ctx, a)
}

func (t *touchTx) SetAuctionStatus(ctx context.Context, id string, status model.AuctionStatus) error {
	t.touch(id)
	return t.Tx.SetAuctionStatus(ctx, id, status)
}

func (t *touchTx) UpdateAuctionPrice(ctx context.Context, id string, price decimal.Decimal) error {
	t.touch(id)
	return t.Tx.UpdateAuctionPrice(ctx, id, price)
}

func (t *touchTx) CloseAuction(ctx context.Context, id string, winnerID *string, finalPrice *decimal.Decimal, closedAt time.Time) error {
	t.touch(id)
	return t.Tx.CloseAuction(ctx, id, winnerID, finalPrice, closedAt)
}

func (t *touchTx) MarkAuctionPaid(ctx context.Context, id string) error {
	t.touch(id)
	return t.Tx.MarkAuctionPaid(ctx, id)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err == nil {
		var a model.Auction
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	// Cache miss: note the version, then read from primary.
	ver, err := s.rdb.Get(ctx, versionKey(id)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s.primary.GetAuction(ctx, id)
	}
	a, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, a, ver)
	return a, nil
}

// fill caches a unless the auction was invalidated since version ver was
// read. WATCH aborts the write if an invalidation lands in between.
func (s *CachedStore) fill(ctx context.Context, a *model.Auction, ver int64) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	vk := versionKey(a.ID)
	_ = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != ver {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, auctionKey(a.ID), data, s.ttl)
			return nil
		})
		return err
	}, vk)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctionsBySeller(ctx context.Context, sellerID string) ([]model.Auction, error) {
	return s.primary.ListAuctionsBySeller(ctx, sellerID)
}

func (s *CachedStore) ListAuctionsByStatus(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	return s.primary.ListAuctionsByStatus(ctx, status)
}

func (s *CachedStore) ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]model.Auction, error) {
	return s.primary.ListExpiredAuctions(ctx, now, limit)
}

func (s *CachedStore) ListBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return s.primary.ListBidsByAuction(ctx, auctionID)
}

func (s *CachedStore) ListBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	return s.primary.ListBidsByBidder(ctx, bidderID)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, accountID, limit)
}

func (s *CachedStore) ListLedgerEntriesByAuction(ctx context.Context, auctionID string) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntriesByAuction(ctx, auctionID)
}

func (s *CachedStore) ListTopUps(ctx context.Context, accountID string) ([]model.TopUp, error) {
	return s.primary.ListTopUps(ctx, accountID)
}

func (s *CachedStore) ListNotifications(ctx context.Context, accountID string) ([]model.Notification, error) {
	return s.primary.ListNotifications(ctx, accountID)
}

func (s *CachedStore) MarkNotificationRead(ctx context.Context, id, accountID string) error {
	return s.primary.MarkNotificationRead(ctx, id, accountID)
}

func auctionKey(id string) string { return fmt.Sprintf("auction:%s", id) }

func versionKey(id string) string { return fmt.Sprintf("auction:%s:ver", id) }
