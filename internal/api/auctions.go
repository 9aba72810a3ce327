package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/listing"
	"github.com/atmx/auction-engine/internal/settlement"
)

// PlaceBidRequest is the JSON body for POST /bids.
type PlaceBidRequest struct {
	AuctionID string          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
	// Deposit overrides the auction's required deposit; it may only be
	// higher.
	Deposit *decimal.Decimal `json:"deposit,omitempty"`
}

// RejectRequest is the optional JSON body for rejecting a listing.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// PaymentResponse wraps a settlement attempt.
type PaymentResponse struct {
	*settlement.PaymentResult
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// CreateAuction handles POST /auctions.
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var p listing.Params
	if !decode(w, r, &p) {
		return
	}
	a, err := h.Listings.Create(r.Context(), caller(r), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAuction handles GET /auctions/{auctionID}.
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.Listings.Get(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListMyAuctions handles GET /auctions/mine.
func (h *Handler) ListMyAuctions(w http.ResponseWriter, r *http.Request) {
	out, err := h.Listings.ListBySeller(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(out))
}

// ListAuctionBids handles GET /auctions/{auctionID}/bids.
func (h *Handler) ListAuctionBids(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auctionID")
	if _, err := h.Listings.Get(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	bids, err := h.Store.ListBidsByAuction(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(bids))
}

// PlaceBid handles POST /bids.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.PlaceBid(r.Context(), settlement.BidRequest{
		AuctionID: req.AuctionID,
		Bidder:    caller(r),
		Amount:    req.Amount,
		Deposit:   req.Deposit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListMyBids handles GET /bids/mine.
func (h *Handler) ListMyBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.Store.ListBidsByBidder(r.Context(), caller(r).AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(bids))
}

// Pay handles POST /auctions/{auctionID}/pay. A winner who still cannot
// cover the amount due gets 402 with the computed settlement.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ConfirmPayment(r.Context(), chi.URLParam(r, "auctionID"), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !res.Paid {
		writeJSON(w, http.StatusPaymentRequired, PaymentResponse{
			PaymentResult: res,
			Error:         "insufficient balance, amount due " + res.AmountDue.StringFixed(2),
			Code:          string(apperr.CodeInsufficientBalance),
		})
		return
	}
	writeJSON(w, http.StatusOK, PaymentResponse{PaymentResult: res})
}

// ListPendingAuctions handles GET /admin/auctions/pending.
func (h *Handler) ListPendingAuctions(w http.ResponseWriter, r *http.Request) {
	out, err := h.Listings.ListPending(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(out))
}

// ApproveAuction handles POST /admin/auctions/{auctionID}/approve.
func (h *Handler) ApproveAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.Listings.Approve(r.Context(), caller(r), chi.URLParam(r, "auctionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RejectAuction handles POST /admin/auctions/{auctionID}/reject. The body
// is optional.
func (h *Handler) RejectAuction(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	a, err := h.Listings.Reject(r.Context(), caller(r), chi.URLParam(r, "auctionID"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CloseAuction handles POST /admin/auctions/{auctionID}/close. Closing an
// auction twice answers 409 with the stored outcome.
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Close(r.Context(), chi.URLParam(r, "auctionID"))
	var e *apperr.Error
	if errors.As(err, &e) && e.Code == apperr.CodeIdempotencyViolation && res != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  e.Message,
			"code":   e.Code,
			"result": res,
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// orEmpty keeps empty lists encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
