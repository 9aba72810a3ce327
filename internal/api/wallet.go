package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/ledger"
)

// TopUpRequest is the JSON body for POST /wallet/topups.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// GetWallet handles GET /wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Wallets.Summary(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	wl.Entries = orEmpty(wl.Entries)
	wl.TopUps = orEmpty(wl.TopUps)
	writeJSON(w, http.StatusOK, wl)
}

// RequestTopUp handles POST /wallet/topups.
func (h *Handler) RequestTopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Wallets.RequestTopUp(r.Context(), caller(r), req.Amount, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListNotifications handles GET /notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	out, err := h.Wallets.Notifications(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(out))
}

// MarkNotificationRead handles POST /notifications/{notificationID}/read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.Wallets.MarkRead(r.Context(), caller(r), chi.URLParam(r, "notificationID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTopUps handles GET /admin/topups.
func (h *Handler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	out, err := h.Wallets.ListTopUps(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(out))
}

// ApproveTopUp handles POST /admin/topups/{topUpID}/approve.
func (h *Handler) ApproveTopUp(w http.ResponseWriter, r *http.Request) {
	t, err := h.Wallets.ApproveTopUp(r.Context(), caller(r), chi.URLParam(r, "topUpID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RejectTopUp handles POST /admin/topups/{topUpID}/reject.
func (h *Handler) RejectTopUp(w http.ResponseWriter, r *http.Request) {
	t, err := h.Wallets.RejectTopUp(r.Context(), caller(r), chi.URLParam(r, "topUpID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Sweep handles POST /admin/sweep.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sweeper.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconcile handles GET /admin/accounts/{accountID}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := ledger.Reconcile(r.Context(), h.Store, chi.URLParam(r, "accountID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
