// Package api provides the HTTP handlers of the auction service.
//
// Handlers decode the request, take the caller's identity from the auth
// middleware, call exactly one core operation and encode its result. Core
// errors are mapped to HTTP statuses in one place, statusFor.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/auth"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/listing"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/settlement"
	"github.com/atmx/auction-engine/internal/store"
	"github.com/atmx/auction-engine/internal/sweep"
	"github.com/atmx/auction-engine/internal/throttle"
	"github.com/atmx/auction-engine/internal/wallet"
)

// Deps are the collaborators of the handlers. Limiter and Hub are optional,
// and a zero Timeout leaves requests unbounded.
type Deps struct {
	Store    store.Store
	Engine   *settlement.Engine
	Listings *listing.Service
	Wallets  *wallet.Service
	Sweeper  *sweep.Sweeper
	Auth     *auth.Issuer
	Limiter  *throttle.Limiter
	Hub      *event.Hub
	Timeout  time.Duration
	Log      *slog.Logger
}

// Handler serves the /api/v1 routes.
type Handler struct {
	Deps
}

// New creates a Handler.
func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Handler{Deps: d}
}

// Routes returns the router to mount under /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// The websocket stays open past any request timeout.
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		if h.Timeout > 0 {
			r.Use(middleware.Timeout(h.Timeout))
		}
		r.Get("/auctions/{auctionID}", h.GetAuction)
		r.Get("/auctions/{auctionID}/bids", h.ListAuctionBids)

		h.private(r)
	})
	return r
}

func (h *Handler) private(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(model.RoleSeller))
			r.Post("/auctions", h.CreateAuction)
			r.Get("/auctions/mine", h.ListMyAuctions)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(model.RoleBidder))
			if h.Limiter != nil {
				r.With(h.Limiter.Middleware(callerID)).Post("/bids", h.PlaceBid)
			} else {
				r.Post("/bids", h.PlaceBid)
			}
			r.Get("/bids/mine", h.ListMyBids)
			r.Post("/auctions/{auctionID}/pay", h.Pay)
		})

		r.Get("/wallet", h.GetWallet)
		r.Post("/wallet/topups", h.RequestTopUp)
		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{notificationID}/read", h.MarkNotificationRead)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(model.RoleAdmin))
			r.Get("/auctions/pending", h.ListPendingAuctions)
			r.Post("/auctions/{auctionID}/approve", h.ApproveAuction)
			r.Post("/auctions/{auctionID}/reject", h.RejectAuction)
			r.Post("/auctions/{auctionID}/close", h.CloseAuction)
			r.Get("/topups", h.ListTopUps)
			r.Post("/topups/{topUpID}/approve", h.ApproveTopUp)
			r.Post("/topups/{topUpID}/reject", h.RejectTopUp)
			r.Post("/sweep", h.Sweep)
			r.Get("/accounts/{accountID}/reconcile", h.Reconcile)
		})
	})
}

func callerID(r *http.Request) string {
	id, _ := auth.IdentityFrom(r.Context())
	return id.AccountID
}

// caller returns the authenticated identity. Routes behind Authenticate
// always have one.
func caller(r *http.Request) model.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, "invalid request body", string(apperr.CodeInvalidInput), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// fail maps a core error to its HTTP response. INTEGRITY details stay in
// the logs.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.Integrity {
		h.Log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", string(apperr.CodeInternal), status)
		return
	}
	writeError(w, e.Message, string(e.Code), status)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.StateConflict:
		return http.StatusConflict
	case apperr.Resource:
		return http.StatusPaymentRequired
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
