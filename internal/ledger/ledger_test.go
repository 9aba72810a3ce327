package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/store"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func post(t *testing.T, s store.Store, p Posting) error {
	t.Helper()
	ctx := context.Background()
	return s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, p.AccountID); err != nil {
			return err
		}
		_, err := Post(ctx, tx, p, at)
		return err
	})
}

func TestPost_CreditAndDebit(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, post(t, s, Posting{AccountID: "u1", Kind: model.EntryTopUp, Amount: d("100.00")}))
	require.NoError(t, post(t, s, Posting{AccountID: "u1", Kind: model.EntryDepositHold, Amount: d("-75.00"), AuctionID: "a1"}))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.True(t, acct.Balance.Equal(d("25.00")))

	entries, err := s.ListLedgerEntries(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, model.EntryDepositHold, entries[0].Kind)
	require.Equal(t, "a1", *entries[0].AuctionID)
	require.Nil(t, entries[0].RelatedAccountID)
}

func TestPost_OverdraftIsResourceError(t *testing.T) {
	s := store.NewMemoryStore()

	err := post(t, s, Posting{AccountID: "u1", Kind: model.EntryDepositHold, Amount: d("-1.00")})
	require.True(t, errors.Is(err, apperr.ErrInsufficientBalance))
	require.Equal(t, apperr.Resource, apperr.KindOf(err))

	// The lock's implicit account creation rolled back too.
	_, err = s.GetAccount(context.Background(), "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPost_InsufficientFundsMarkerIsZero(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, post(t, s, Posting{
		AccountID: "u1", Kind: model.EntryInsufficientFunds, Amount: d("-225.00"), Note: "amount due 225.00",
	}))

	entries, _ := s.ListLedgerEntries(ctx, "u1", 0)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Amount.IsZero())
	require.Equal(t, "amount due 225.00", entries[0].Note)

	acct, _ := s.GetAccount(ctx, "u1")
	require.True(t, acct.Balance.IsZero())
}

func TestReconcile_UnknownAccount(t *testing.T) {
	_, err := Reconcile(context.Background(), store.NewMemoryStore(), "ghost")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

// Any sequence of postings, accepted or rejected, leaves balance == Σ entries.
func TestProperty_BalanceEqualsLedgerSum(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := store.NewMemoryStore()
		n := rapid.IntRange(1, 40).Draw(rt, "postings")
		for i := 0; i < n; i++ {
			cents := rapid.Int64Range(-50_000, 50_000).Draw(rt, "cents")
			kind := model.EntryTopUp
			if cents < 0 {
				kind = model.EntryDepositHold
			}
			_ = post(t, s, Posting{AccountID: "u1", Kind: kind, Amount: decimal.New(cents, -2)})
		}

		rep, err := Reconcile(context.Background(), s, "u1")
		if errors.Is(err, apperr.ErrNotFound) {
			return
		}
		if err != nil {
			rt.Fatalf("reconcile: %v", err)
		}
		if !rep.Balanced {
			rt.Fatalf("balance %s != ledger sum %s", rep.Balance, rep.LedgerSum)
		}
		if rep.Balance.IsNegative() {
			rt.Fatalf("negative balance %s", rep.Balance)
		}
	})
}
