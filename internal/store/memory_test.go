package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-engine/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAuction(t *testing.T, s *MemoryStore, id string, endsAt time.Time, status model.AuctionStatus) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.CreateAuction(context.Background(), &model.Auction{
			ID:           id,
			SellerID:     "seller",
			StartPrice:   d("100.00"),
			CurrentPrice: d("100.00"),
			MinIncrement: d("1.00"),
			EndsAt:       endsAt,
			Status:       status,
			CreatedAt:    t0,
		})
	})
	require.NoError(t, err)
}

func TestMemoryStore_CommitPersistsWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAuction(t, s, "a1", t0.Add(time.Hour), model.StatusApproved)

	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockAccount(ctx, "u1"); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, "u1", d("50.00")); err != nil {
			return err
		}
		return tx.UpdateAuctionPrice(ctx, "a1", d("120.00"))
	})
	require.NoError(t, err)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.True(t, acct.Balance.Equal(d("50.00")))

	a, err := s.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(d("120.00")))
}

func TestMemoryStore_ErrorRollsBackEverything(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAuction(t, s, "a1", t0.Add(time.Hour), model.StatusApproved)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		_, _ = tx.LockAccount(ctx, "u1")
		_, _ = tx.AdjustBalance(ctx, "u1", d("50.00"))
		_ = tx.InsertBid(ctx, &model.Bid{ID: "b1", AuctionID: "a1", BidderID: "u1", Amount: d("101.00")})
		_ = tx.CloseAuction(ctx, "a1", model.Ptr("u1"), model.Ptr(d("101.00")), t0)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetAccount(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	bids, err := s.ListBidsByAuction(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, bids)

	a, err := s.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, a.Status)
	require.Nil(t, a.WinnerID)
}

func TestMemoryStore_CancelledContextDoesNotCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockAccount(ctx, "u1")
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.GetAccount(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_AdjustBalanceRejectsNegative(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockAccount(ctx, "u1"); err != nil {
			return err
		}
		_, err := tx.AdjustBalance(ctx, "u1", d("-0.01"))
		return err
	})
	require.ErrorIs(t, err, ErrNegativeBalance)
}

func TestMemoryStore_RefundDepositsOnlyOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAuction(t, s, "a1", t0.Add(time.Hour), model.StatusApproved)

	var first, second decimal.Decimal
	err := s.WithTx(ctx, func(tx Tx) error {
		for i, amt := range []string{"101.00", "102.00"} {
			_ = tx.InsertBid(ctx, &model.Bid{
				ID: []string{"b1", "b2"}[i], AuctionID: "a1", BidderID: "u1",
				Amount: d(amt), DepositPaid: d("25.00"),
			})
		}
		_ = tx.InsertBid(ctx, &model.Bid{ID: "b3", AuctionID: "a1", BidderID: "u2", Amount: d("103.00"), DepositPaid: d("25.00")})

		var err error
		if first, err = tx.RefundDeposits(ctx, "a1", "u1"); err != nil {
			return err
		}
		second, err = tx.RefundDeposits(ctx, "a1", "u1")
		return err
	})
	require.NoError(t, err)
	require.True(t, first.Equal(d("50.00")))
	require.True(t, second.IsZero())

	bids, _ := s.ListBidsByAuction(ctx, "a1")
	require.Len(t, bids, 3)
	require.True(t, bids[0].DepositRefunded)
	require.True(t, bids[0].RefundAmount.Equal(d("25.00")))
	require.False(t, bids[2].DepositRefunded)
}

func TestMemoryStore_ListExpiredAuctions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAuction(t, s, "late", t0.Add(-time.Minute), model.StatusApproved)
	seedAuction(t, s, "early", t0.Add(-time.Hour), model.StatusApproved)
	seedAuction(t, s, "open", t0.Add(time.Hour), model.StatusApproved)
	seedAuction(t, s, "closed", t0.Add(-time.Hour), model.StatusClosed)
	seedAuction(t, s, "pending", t0.Add(-time.Hour), model.StatusPending)

	got, err := s.ListExpiredAuctions(ctx, t0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "early", got[0].ID)
	require.Equal(t, "late", got[1].ID)

	got, err = s.ListExpiredAuctions(ctx, t0, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMemoryStore_NotificationsNewestFirstAndMarkRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		_ = tx.InsertNotification(ctx, &model.Notification{ID: "n1", AccountID: "u1", Message: "first"})
		_ = tx.InsertNotification(ctx, &model.Notification{ID: "n2", AccountID: "u1", Message: "second"})
		return tx.InsertNotification(ctx, &model.Notification{ID: "n3", AccountID: "u2", Message: "other"})
	})
	require.NoError(t, err)

	notes, err := s.ListNotifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.Equal(t, "n2", notes[0].ID)

	require.ErrorIs(t, s.MarkNotificationRead(ctx, "n3", "u1"), ErrNotFound)
	require.NoError(t, s.MarkNotificationRead(ctx, "n1", "u1"))

	notes, _ = s.ListNotifications(ctx, "u1")
	require.True(t, notes[1].Read)
}

func TestMemoryStore_ReadsReturnCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAuction(t, s, "a1", t0.Add(time.Hour), model.StatusApproved)

	a, _ := s.GetAuction(ctx, "a1")
	a.Status = model.StatusClosed

	again, _ := s.GetAuction(ctx, "a1")
	require.Equal(t, model.StatusApproved, again.Status)
}
