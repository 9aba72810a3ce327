package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/money"
	"github.com/atmx/auction-engine/internal/notify"
	"github.com/atmx/auction-engine/internal/store"
)

// Service creates listings and moderates them.
type Service struct {
	store       store.Store
	events      event.Broadcaster
	depositRate decimal.Decimal
	now         func() time.Time
	log         *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a listing service. events may be nil.
func NewService(s store.Store, events event.Broadcaster, depositRate decimal.Decimal, opts ...Option) (*Service, error) {
	if err := money.ValidateRate(depositRate); err != nil {
		return nil, fmt.Errorf("deposit rate %s: %w", depositRate, err)
	}
	if events == nil {
		events = event.Nop{}
	}
	svc := &Service{
		store:       s,
		events:      events,
		depositRate: depositRate,
		now:         func() time.Time { return time.Now().UTC() },
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create lists an item for seller. The auction starts PENDING and is not
// open for bids until an admin approves it.
func (s *Service) Create(ctx context.Context, seller model.Identity, p Params) (*model.Auction, error) {
	if seller.Role != model.RoleSeller {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s cannot create listings", seller.Role)
	}
	now := s.now()
	terms, err := Parse(p, s.depositRate, now)
	if err != nil {
		return nil, apperr.New(apperr.Validation, apperr.CodeInvalidInput, "%v", err)
	}

	a := &model.Auction{
		ID:            uuid.NewString(),
		SellerID:      seller.AccountID,
		Title:         terms.Title,
		Description:   terms.Description,
		StartPrice:    terms.StartPrice,
		CurrentPrice:  terms.StartPrice,
		MinIncrement:  terms.MinIncrement,
		MaxIncrement:  terms.MaxIncrement,
		ReservePrice:  terms.ReservePrice,
		BuyNowPrice:   terms.BuyNowPrice,
		DepositAmount: terms.DepositAmount,
		EndsAt:        terms.EndsAt,
		Status:        model.StatusPending,
		CreatedAt:     now,
	}

	var out event.Outbox
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		out = nil
		if err := tx.CreateAuction(ctx, a); err != nil {
			return err
		}
		msg := fmt.Sprintf("Your auction %q was submitted and awaits approval.", a.Title)
		return notify.Send(ctx, tx, &out, a.SellerID, a.ID, msg, now)
	})
	if err != nil {
		return nil, s.fail("create_listing", a.ID, err)
	}

	s.log.Info("listing created",
		"auction_id", a.ID,
		"seller_id", a.SellerID,
		"start_price", a.StartPrice.StringFixed(money.Scale),
		"deposit", a.DepositAmount.StringFixed(money.Scale),
	)
	s.deliver(ctx, out, now)
	return a, nil
}

// Approve opens a pending auction for bidding.
func (s *Service) Approve(ctx context.Context, admin model.Identity, auctionID string) (*model.Auction, error) {
	return s.moderate(ctx, admin, auctionID, model.StatusApproved, "")
}

// Reject turns a pending auction down. reason is passed on to the seller.
func (s *Service) Reject(ctx context.Context, admin model.Identity, auctionID, reason string) (*model.Auction, error) {
	return s.moderate(ctx, admin, auctionID, model.StatusRejected, reason)
}

func (s *Service) moderate(ctx context.Context, admin model.Identity, auctionID string, to model.AuctionStatus, reason string) (*model.Auction, error) {
	if admin.Role != model.RoleAdmin {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s cannot moderate listings", admin.Role)
	}

	var (
		a   *model.Auction
		out event.Outbox
	)
	now := s.now()
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		out = nil
		var err error
		a, err = tx.LockAuction(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.NotFound, apperr.CodeNotFound, "auction %s not found", auctionID)
		}
		if err != nil {
			return err
		}
		if a.Status != model.StatusPending {
			return apperr.New(apperr.StateConflict, apperr.CodeInvalidTransition,
				"auction %s cannot move from %s to %s", a.ID, a.Status, to)
		}
		if err := tx.SetAuctionStatus(ctx, a.ID, to); err != nil {
			return err
		}
		a.Status = to

		var msg string
		if to == model.StatusApproved {
			msg = fmt.Sprintf("Your auction %q was approved and is open for bids.", a.Title)
			ev := event.Event{Type: event.AuctionApproved, AuctionID: a.ID, SellerID: a.SellerID, At: now}
			out.Add(event.AuctionsTopic, ev)
			out.Add(event.AuctionTopic(a.ID), ev)
		} else {
			msg = fmt.Sprintf("Your auction %q was rejected.", a.Title)
			if reason != "" {
				msg += " Reason: " + reason
			}
			out.Add(event.UserTopic(a.SellerID), event.Event{
				Type:      event.AuctionRejected,
				AuctionID: a.ID,
				SellerID:  a.SellerID,
				Message:   reason,
				At:        now,
			})
		}
		return notify.Send(ctx, tx, &out, a.SellerID, a.ID, msg, now)
	})
	if err != nil {
		return nil, s.fail("moderate_listing", auctionID, err)
	}

	s.log.Info("listing moderated", "auction_id", a.ID, "admin_id", admin.AccountID, "status", a.Status)
	s.deliver(ctx, out, now)
	return a, nil
}

// Get returns one auction.
func (s *Service) Get(ctx context.Context, auctionID string) (*model.Auction, error) {
	a, err := s.store.GetAuction(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, apperr.CodeNotFound, "auction %s not found", auctionID)
	}
	if err != nil {
		return nil, s.fail("get_auction", auctionID, err)
	}
	return a, nil
}

// ListBySeller returns the seller's own auctions, newest first.
func (s *Service) ListBySeller(ctx context.Context, seller model.Identity) ([]model.Auction, error) {
	if seller.Role != model.RoleSeller {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s has no listings", seller.Role)
	}
	out, err := s.store.ListAuctionsBySeller(ctx, seller.AccountID)
	if err != nil {
		return nil, s.fail("list_seller_auctions", "", err)
	}
	return out, nil
}

// ListPending returns the moderation queue, oldest first.
func (s *Service) ListPending(ctx context.Context, admin model.Identity) ([]model.Auction, error) {
	if admin.Role != model.RoleAdmin {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s cannot moderate listings", admin.Role)
	}
	out, err := s.store.ListAuctionsByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, s.fail("list_pending_auctions", "", err)
	}
	return out, nil
}

// deliver publishes the committed events followed by a refreshed admin badge.
func (s *Service) deliver(ctx context.Context, out event.Outbox, now time.Time) {
	badge, err := notify.AdminBadge(ctx, s.store, now)
	if err != nil {
		s.log.Warn("admin badge unavailable", "err", err)
	} else {
		out.Add(event.AdminsTopic, badge)
	}
	event.Deliver(ctx, s.events, out, s.log)
}

func (s *Service) fail(op, auctionID string, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	s.log.Error("listing operation failed", "op", op, "auction_id", auctionID, "err", err)
	return apperr.Wrap(err, "%s %s failed", op, auctionID)
}
