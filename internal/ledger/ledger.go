// Package ledger is the only path through which account balances change.
//
// Post applies a signed amount to an account and appends the matching entry
// inside the caller's transaction, so the sum of an account's entries always
// equals its balance. Reconcile checks that property after the fact.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/money"
	"github.com/atmx/auction-engine/internal/store"
)

// Posting describes one balance movement.
type Posting struct {
	AccountID        string
	Kind             model.EntryKind
	Amount           decimal.Decimal // signed: +credit, -debit
	RelatedAccountID string
	AuctionID        string
	Note             string
}

// Post adjusts the account balance by p.Amount and records the entry.
// The account must already be locked by the caller's transaction.
//
// INSUFFICIENT_FUNDS postings are audit markers: they carry a zero amount
// and leave the balance untouched.
func Post(ctx context.Context, tx store.Tx, p Posting, at time.Time) (*model.LedgerEntry, error) {
	amount := money.Round(p.Amount)
	if p.Kind == model.EntryInsufficientFunds {
		amount = decimal.Zero
	}

	if !amount.IsZero() {
		if _, err := tx.AdjustBalance(ctx, p.AccountID, amount); err != nil {
			if errors.Is(err, store.ErrNegativeBalance) {
				return nil, apperr.New(apperr.Resource, apperr.CodeInsufficientBalance,
					"account %s cannot cover %s", p.AccountID, amount.Neg().StringFixed(2))
			}
			return nil, fmt.Errorf("adjust balance %s: %w", p.AccountID, err)
		}
	}

	e := &model.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: p.AccountID,
		Kind:      p.Kind,
		Amount:    amount,
		Note:      p.Note,
		CreatedAt: at,
	}
	if p.RelatedAccountID != "" {
		e.RelatedAccountID = model.Ptr(p.RelatedAccountID)
	}
	if p.AuctionID != "" {
		e.AuctionID = model.Ptr(p.AuctionID)
	}
	if err := tx.InsertLedgerEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("insert ledger entry %s: %w", p.Kind, err)
	}
	return e, nil
}

// Report is the outcome of a reconciliation.
type Report struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Entries   int             `json:"entries"`
	Balanced  bool            `json:"balanced"`
}

// Reconcile compares an account's balance with the sum of its entries.
func Reconcile(ctx context.Context, s store.Store, accountID string) (*Report, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, apperr.CodeNotFound, "account %s not found", accountID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "reconcile %s", accountID)
	}

	entries, err := s.ListLedgerEntries(ctx, accountID, 0)
	if err != nil {
		return nil, apperr.Wrap(err, "reconcile %s", accountID)
	}

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}

	return &Report{
		AccountID: accountID,
		Balance:   acct.Balance,
		LedgerSum: sum,
		Entries:   len(entries),
		Balanced:  sum.Equal(acct.Balance),
	}, nil
}
