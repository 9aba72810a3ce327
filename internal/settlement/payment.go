package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/money"
	"github.com/atmx/auction-engine/internal/notify"
	"github.com/atmx/auction-engine/internal/store"
)

// PaymentResult is the outcome of a settlement attempt. When Paid is false
// the winner could not cover AmountDue and nothing but an audit marker was
// written.
type PaymentResult struct {
	AuctionID   string          `json:"auction_id"`
	WinnerID    string          `json:"winner_id"`
	SellerID    string          `json:"seller_id"`
	Paid        bool            `json:"paid"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	Commission  decimal.Decimal `json:"commission"`
	SellerShare decimal.Decimal `json:"seller_share"`
	Deposit     decimal.Decimal `json:"deposit"`
	AmountDue   decimal.Decimal `json:"amount_due"`
}

// SettlePayment settles a closed, unpaid auction for its winner.
func (e *Engine) SettlePayment(ctx context.Context, auctionID, winnerID string) (*PaymentResult, error) {
	var (
		res *PaymentResult
		out event.Outbox
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res, out = nil, nil
		now := e.now()

		a, err := lockAuction(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusClosed {
			return apperr.New(apperr.StateConflict, apperr.CodeNotClosed,
				"auction %s is not closed (status %s)", a.ID, a.Status)
		}
		if a.WinnerID == nil || *a.WinnerID != winnerID {
			return apperr.New(apperr.Forbidden, apperr.CodeNotWinner,
				"account %s did not win auction %s", winnerID, a.ID)
		}
		if a.Paid {
			return apperr.New(apperr.StateConflict, apperr.CodeAlreadyPaid,
				"auction %s is already paid", a.ID)
		}

		if _, err := lockAccounts(ctx, tx, winnerID, a.SellerID, e.cfg.PlatformAccountID); err != nil {
			return err
		}

		res, err = e.settleLocked(ctx, tx, a, &out, now)
		return err
	})
	if err != nil {
		return nil, e.fail("settle_payment", auctionID, err)
	}

	e.recordPayment(res)
	event.Deliver(ctx, e.events, out, e.log)
	return res, nil
}

// ConfirmPayment is the winner's explicit retry of a payment that could not
// be covered at close time.
func (e *Engine) ConfirmPayment(ctx context.Context, auctionID string, caller model.Identity) (*PaymentResult, error) {
	if caller.Role != model.RoleBidder {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s cannot pay for auctions", caller.Role)
	}
	return e.SettlePayment(ctx, auctionID, caller.AccountID)
}

func (e *Engine) recordPayment(res *PaymentResult) {
	if res == nil {
		return
	}
	if !res.Paid {
		metrics.SettlementsTotal.WithLabelValues("insufficient_funds").Inc()
		e.log.Warn("payment pending, insufficient funds",
			"auction_id", res.AuctionID,
			"winner_id", res.WinnerID,
			"amount_due", fixed(res.AmountDue),
		)
		return
	}
	metrics.SettlementsTotal.WithLabelValues("paid").Inc()
	metrics.CommissionTotal.Add(res.Commission.InexactFloat64())
	e.log.Info("payment settled",
		"auction_id", res.AuctionID,
		"winner_id", res.WinnerID,
		"final_price", fixed(res.FinalPrice),
		"commission", fixed(res.Commission),
	)
}

// settleLocked moves the funds for a closed auction whose row and
// participant accounts are locked by tx.
//
// With F the final price, D the winner's held deposit and r the commission
// rate: commission = round(F×r), seller share = F − commission and the
// winner owes max(0, F − D) on top of the deposit. The deposit is returned
// before the full price is charged, so the balance never dips below zero
// between postings.
func (e *Engine) settleLocked(ctx context.Context, tx store.Tx, a *model.Auction, out *event.Outbox, now time.Time) (*PaymentResult, error) {
	winner := *a.WinnerID
	final := *a.FinalPrice

	split, err := money.SplitCommission(final, e.cfg.CommissionRate)
	if err != nil {
		return nil, err
	}

	bids, err := tx.ListBids(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	held := heldDeposit(bids, winner)
	owed := money.Owed(final, held)

	acct, err := tx.LockAccount(ctx, winner)
	if err != nil {
		return nil, err
	}

	res := &PaymentResult{
		AuctionID:   a.ID,
		WinnerID:    winner,
		SellerID:    a.SellerID,
		FinalPrice:  final,
		Commission:  split.Commission,
		SellerShare: split.SellerShare,
		Deposit:     held,
		AmountDue:   owed,
	}

	if acct.Balance.LessThan(owed) {
		_, err := ledger.Post(ctx, tx, ledger.Posting{
			AccountID:        winner,
			Kind:             model.EntryInsufficientFunds,
			RelatedAccountID: a.SellerID,
			AuctionID:        a.ID,
			Note:             "amount due " + fixed(owed) + ", available " + fixed(acct.Balance),
		}, now)
		if err != nil {
			return nil, err
		}
		msg := "Payment for " + title(a) + " is pending: " + fixed(owed) +
			" is due but your balance is " + fixed(acct.Balance) + ". Top up and confirm payment."
		if err := notify.Send(ctx, tx, out, winner, a.ID, msg, now); err != nil {
			return nil, err
		}
		out.Add(event.UserTopic(winner), event.Event{
			Type:      event.PaymentInsufficient,
			AuctionID: a.ID,
			WinnerID:  &winner,
			AmountDue: fixed(owed),
			At:        now,
		})
		return res, nil
	}

	refunded, err := tx.RefundDeposits(ctx, a.ID, winner)
	if err != nil {
		return nil, err
	}
	postings := []ledger.Posting{
		{AccountID: winner, Kind: model.EntryDepositRefund, Amount: refunded,
			AuctionID: a.ID, Note: "deposit applied to payment"},
		{AccountID: winner, Kind: model.EntryAuctionPayment, Amount: final.Neg(),
			RelatedAccountID: a.SellerID, AuctionID: a.ID},
		{AccountID: a.SellerID, Kind: model.EntrySaleProceeds, Amount: split.SellerShare,
			RelatedAccountID: winner, AuctionID: a.ID},
		{AccountID: e.cfg.PlatformAccountID, Kind: model.EntryCommission, Amount: split.Commission,
			RelatedAccountID: winner, AuctionID: a.ID},
	}
	for _, p := range postings {
		if err := post(ctx, tx, p, now); err != nil {
			return nil, err
		}
	}
	if err := tx.MarkAuctionPaid(ctx, a.ID); err != nil {
		return nil, err
	}
	a.Paid = true
	res.Paid = true
	res.Deposit = refunded

	if err := notify.Send(ctx, tx, out, winner, a.ID,
		"Payment of "+fixed(final)+" for "+title(a)+" completed.", now); err != nil {
		return nil, err
	}
	if err := notify.Send(ctx, tx, out, a.SellerID, a.ID,
		"Your item "+title(a)+" sold for "+fixed(final)+". "+fixed(split.SellerShare)+
			" was credited after "+fixed(split.Commission)+" commission.", now); err != nil {
		return nil, err
	}

	settled := event.Event{
		Type:        event.PaymentSettled,
		AuctionID:   a.ID,
		WinnerID:    &winner,
		SellerID:    a.SellerID,
		FinalPrice:  model.Ptr(fixed(final)),
		Commission:  fixed(split.Commission),
		SellerShare: fixed(split.SellerShare),
		At:          now,
	}
	out.Add(event.AuctionTopic(a.ID), settled)
	out.Add(event.UserTopic(a.SellerID), settled)
	return res, nil
}
