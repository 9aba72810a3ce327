package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/bidding"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/money"
	"github.com/atmx/auction-engine/internal/notify"
	"github.com/atmx/auction-engine/internal/store"
)

// BidRequest is a bid submitted by an authenticated bidder.
type BidRequest struct {
	AuctionID string
	Bidder    model.Identity
	Amount    decimal.Decimal
	// Deposit is the hold offered with the bid. Nil means the auction's
	// required deposit.
	Deposit *decimal.Decimal
}

// BidResult is the outcome of an accepted bid.
type BidResult struct {
	Bid          model.Bid       `json:"bid"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	BuyNow       bool            `json:"buy_now"`
	// Close is set when the bid hit the buy-now price and closed the auction.
	Close *CloseResult `json:"close,omitempty"`
}

// PlaceBid validates a bid against the locked auction and applies it: the
// bid row, the deposit hold and the new current price are written together.
// A buy-now bid closes the auction in the same transaction.
func (e *Engine) PlaceBid(ctx context.Context, req BidRequest) (*BidResult, error) {
	start := time.Now()
	defer func() { metrics.BidLatency.Observe(time.Since(start).Seconds()) }()

	res, err := e.placeBid(ctx, req)
	if err != nil {
		metrics.BidsTotal.WithLabelValues(string(apperr.CodeOf(err))).Inc()
		return nil, e.fail("place_bid", req.AuctionID, err)
	}

	outcome := "accepted"
	if res.BuyNow {
		outcome = "buy_now"
		e.recordClose(res.Close)
	}
	metrics.BidsTotal.WithLabelValues(outcome).Inc()

	e.log.Info("bid accepted",
		"auction_id", req.AuctionID,
		"bidder_id", req.Bidder.AccountID,
		"amount", fixed(req.Amount),
		"buy_now", res.BuyNow,
	)
	return res, nil
}

func (e *Engine) placeBid(ctx context.Context, req BidRequest) (*BidResult, error) {
	if req.Bidder.Role != model.RoleBidder {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s cannot place bids", req.Bidder.Role)
	}
	if req.AuctionID == "" || req.Bidder.AccountID == "" {
		return nil, apperr.New(apperr.Validation, apperr.CodeInvalidInput,
			"auction id and bidder id are required")
	}
	if err := money.ValidateAmount(req.Amount); err != nil {
		return nil, apperr.New(apperr.Validation, apperr.CodeInvalidInput, "bid amount: %v", err)
	}
	if req.Deposit != nil && !req.Deposit.Equal(money.Round(*req.Deposit)) {
		return nil, apperr.New(apperr.Validation, apperr.CodeInvalidInput,
			"deposit: %v", money.ErrTooPrecise)
	}

	var (
		res *BidResult
		out event.Outbox
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res, out = nil, nil
		now := e.now()

		a, err := lockAuction(ctx, tx, req.AuctionID)
		if err != nil {
			return err
		}
		if a.SellerID == req.Bidder.AccountID {
			return apperr.New(apperr.Validation, apperr.CodeSelfBid,
				"sellers cannot bid on their own auction")
		}

		acct, err := lockBidder(ctx, tx, a, req, e.cfg.PlatformAccountID)
		if err != nil {
			return err
		}

		deposit := a.DepositAmount
		if req.Deposit != nil {
			deposit = *req.Deposit
		}

		dec, err := bidding.Validate(a, bidding.Candidate{
			Amount:  req.Amount,
			Deposit: deposit,
			Balance: acct.Balance,
			Now:     now,
		})
		if err != nil {
			return err
		}

		bid := model.Bid{
			ID:           uuid.NewString(),
			AuctionID:    a.ID,
			BidderID:     req.Bidder.AccountID,
			Amount:       req.Amount,
			DepositPaid:  deposit,
			RefundAmount: decimal.Zero,
			CreatedAt:    now,
		}
		if err := tx.InsertBid(ctx, &bid); err != nil {
			return err
		}

		if dec.TakesHold {
			err := post(ctx, tx, ledger.Posting{
				AccountID: bid.BidderID,
				Kind:      model.EntryDepositHold,
				Amount:    deposit.Neg(),
				AuctionID: a.ID,
				Note:      "deposit held for bid " + bid.ID,
			}, now)
			if err != nil {
				return err
			}
			msg := "A refundable deposit of " + fixed(deposit) + " is held for your bid on " + title(a) + "."
			if err := notify.Send(ctx, tx, &out, bid.BidderID, a.ID, msg, now); err != nil {
				return err
			}
		}

		if err := tx.UpdateAuctionPrice(ctx, a.ID, req.Amount); err != nil {
			return err
		}
		a.CurrentPrice = req.Amount

		out.Add(event.AuctionTopic(a.ID), event.Event{
			Type:      event.BidAccepted,
			AuctionID: a.ID,
			BidderID:  bid.BidderID,
			Amount:    fixed(bid.Amount),
			BuyNow:    dec.BuyNow,
			At:        now,
		})

		res = &BidResult{Bid: bid, CurrentPrice: a.CurrentPrice, BuyNow: dec.BuyNow}
		if dec.BuyNow {
			closed, err := e.closeLocked(ctx, tx, a, &out, now)
			if err != nil {
				return err
			}
			res.Close = closed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	event.Deliver(ctx, e.events, out, e.log)
	return res, nil
}

// lockBidder locks the bidder's account. A buy-now bid closes the auction
// in the same transaction, so every account the close will touch is locked
// up front in ID order, the same order a plain close uses.
func lockBidder(ctx context.Context, tx store.Tx, a *model.Auction, req BidRequest, platformID string) (*model.Account, error) {
	if !bidding.IsBuyNow(a, req.Amount) {
		return tx.LockAccount(ctx, req.Bidder.AccountID)
	}
	bids, err := tx.ListBids(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	ids := []string{req.Bidder.AccountID, a.SellerID, platformID}
	for _, b := range bids {
		ids = append(ids, b.BidderID)
	}
	locked, err := lockAccounts(ctx, tx, ids...)
	if err != nil {
		return nil, err
	}
	return locked[req.Bidder.AccountID], nil
}
