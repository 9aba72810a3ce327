package settlement

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/notify"
	"github.com/atmx/auction-engine/internal/store"
)

// CloseResult is the outcome of closing an auction. WinnerID and FinalPrice
// are nil when the auction closed without a winner.
type CloseResult struct {
	AuctionID  string           `json:"auction_id"`
	WinnerID   *string          `json:"winner_id"`
	FinalPrice *decimal.Decimal `json:"final_price"`
	// Refunded maps each non-winning bidder to the deposit returned to them.
	Refunded map[string]decimal.Decimal `json:"refunded,omitempty"`
	// Payment is the inline settlement attempt; nil without a winner.
	Payment *PaymentResult `json:"payment,omitempty"`
}

// HasWinner reports whether the auction was won.
func (r *CloseResult) HasWinner() bool { return r != nil && r.WinnerID != nil }

// Close closes an approved auction: it picks the winner under the reserve
// rule, refunds every other bidder's deposits and attempts the winner's
// payment, all in one transaction.
//
// Closing an already closed auction changes nothing. It returns the stored
// outcome together with an IDEMPOTENCY_VIOLATION error, so a repeated close
// always observes the same winner and final price.
func (e *Engine) Close(ctx context.Context, auctionID string) (*CloseResult, error) {
	var (
		res *CloseResult
		out event.Outbox
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res, out = nil, nil
		now := e.now()

		a, err := lockAuction(ctx, tx, auctionID)
		if err != nil {
			return err
		}

		switch a.Status {
		case model.StatusClosed:
			res = &CloseResult{AuctionID: a.ID, WinnerID: a.WinnerID, FinalPrice: a.FinalPrice}
			return apperr.New(apperr.StateConflict, apperr.CodeIdempotencyViolation,
				"auction %s is already closed", a.ID)
		case model.StatusApproved:
		default:
			return apperr.New(apperr.StateConflict, apperr.CodeInvalidTransition,
				"auction %s cannot be closed from status %s", a.ID, a.Status)
		}

		res, err = e.closeLocked(ctx, tx, a, &out, now)
		return err
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeIdempotencyViolation {
			metrics.ClosesTotal.WithLabelValues("already_closed").Inc()
			return res, err
		}
		return nil, e.fail("close", auctionID, err)
	}

	e.recordClose(res)
	event.Deliver(ctx, e.events, out, e.log)
	return res, nil
}

// recordClose logs and counts a committed close.
func (e *Engine) recordClose(res *CloseResult) {
	if res == nil {
		return
	}
	if !res.HasWinner() {
		metrics.ClosesTotal.WithLabelValues("no_winner").Inc()
		e.log.Info("auction closed without winner", "auction_id", res.AuctionID)
		return
	}
	metrics.ClosesTotal.WithLabelValues("winner").Inc()
	e.log.Info("auction closed",
		"auction_id", res.AuctionID,
		"winner_id", *res.WinnerID,
		"final_price", fixed(*res.FinalPrice),
	)
	e.recordPayment(res.Payment)
}

// bestBid returns the highest bid, the earliest one among equal amounts.
// bids must be in submission order.
func bestBid(bids []model.Bid) *model.Bid {
	var best *model.Bid
	for i := range bids {
		if best == nil || bids[i].Amount.GreaterThan(best.Amount) {
			best = &bids[i]
		}
	}
	return best
}

// closeLocked performs the close on an auction already locked by tx.
func (e *Engine) closeLocked(ctx context.Context, tx store.Tx, a *model.Auction, out *event.Outbox, now time.Time) (*CloseResult, error) {
	bids, err := tx.ListBids(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	res := &CloseResult{AuctionID: a.ID, Refunded: map[string]decimal.Decimal{}}
	if best := bestBid(bids); best != nil {
		if a.ReservePrice == nil || !best.Amount.LessThan(*a.ReservePrice) {
			res.WinnerID = model.Ptr(best.BidderID)
			res.FinalPrice = model.Ptr(best.Amount)
		}
	}

	if err := tx.CloseAuction(ctx, a.ID, res.WinnerID, res.FinalPrice, now); err != nil {
		return nil, err
	}
	a.Status = model.StatusClosed
	a.WinnerID = res.WinnerID
	a.FinalPrice = res.FinalPrice
	a.ClosedAt = &now

	// Everyone but the winner gets their held deposits back.
	var losers []string
	seen := map[string]bool{}
	for _, b := range bids {
		if seen[b.BidderID] || (res.WinnerID != nil && b.BidderID == *res.WinnerID) {
			continue
		}
		seen[b.BidderID] = true
		if heldDeposit(bids, b.BidderID).IsPositive() {
			losers = append(losers, b.BidderID)
		}
	}
	sort.Strings(losers)

	lockIDs := append([]string(nil), losers...)
	if res.WinnerID != nil {
		lockIDs = append(lockIDs, *res.WinnerID, a.SellerID, e.cfg.PlatformAccountID)
	}
	if _, err := lockAccounts(ctx, tx, lockIDs...); err != nil {
		return nil, err
	}

	for _, bidder := range losers {
		refunded, err := tx.RefundDeposits(ctx, a.ID, bidder)
		if err != nil {
			return nil, err
		}
		if !refunded.IsPositive() {
			continue
		}
		err = post(ctx, tx, ledger.Posting{
			AccountID: bidder,
			Kind:      model.EntryDepositRefund,
			Amount:    refunded,
			AuctionID: a.ID,
			Note:      "auction closed, deposit returned",
		}, now)
		if err != nil {
			return nil, err
		}
		res.Refunded[bidder] = refunded

		msg := "Your deposit of " + fixed(refunded) + " for " + title(a) + " has been refunded."
		if err := notify.Send(ctx, tx, out, bidder, a.ID, msg, now); err != nil {
			return nil, err
		}
		out.Add(event.UserTopic(bidder), event.Event{
			Type:      event.DepositRefunded,
			AccountID: bidder,
			AuctionID: a.ID,
			Amount:    fixed(refunded),
			At:        now,
		})
	}

	closed := event.Event{Type: event.AuctionClosed, AuctionID: a.ID, At: now}
	if res.WinnerID != nil {
		closed.WinnerID = res.WinnerID
		closed.FinalPrice = model.Ptr(fixed(*res.FinalPrice))
	}
	out.Add(event.AuctionTopic(a.ID), closed)
	out.Add(event.AuctionsTopic, closed)

	if res.WinnerID == nil {
		msg := "Your auction " + title(a) + " closed without a winning bid."
		if err := notify.Send(ctx, tx, out, a.SellerID, a.ID, msg, now); err != nil {
			return nil, err
		}
		return res, nil
	}

	winner := *res.WinnerID
	held := heldDeposit(bids, winner)
	msg := "Congratulations, you won " + title(a) + " at " + fixed(*res.FinalPrice) + "."
	if held.IsPositive() {
		msg += " Your deposit of " + fixed(held) + " is held pending payment."
	}
	if err := notify.Send(ctx, tx, out, winner, a.ID, msg, now); err != nil {
		return nil, err
	}

	payment, err := e.settleLocked(ctx, tx, a, out, now)
	if err != nil {
		return nil, err
	}
	res.Payment = payment
	return res, nil
}
