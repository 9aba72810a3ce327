// Package wallet handles account funding and the account-facing views of
// balances, ledger history and notifications.
//
// Money only enters the system through an approved top-up: the request is
// stored PENDING, and an admin's approval credits the balance together with
// a TOPUP ledger entry in one transaction.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/money"
	"github.com/atmx/auction-engine/internal/notify"
	"github.com/atmx/auction-engine/internal/store"
)

// HistoryLimit is how many ledger entries a wallet summary carries.
const HistoryLimit = 100

// Service runs wallet operations.
type Service struct {
	store  store.Store
	events event.Broadcaster
	now    func() time.Time
	log    *slog.Logger
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

// NewService creates a wallet service. events may be nil.
func NewService(s store.Store, events event.Broadcaster, opts ...Option) *Service {
	if events == nil {
		events = event.Nop{}
	}
	svc := &Service{
		store:  s,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// RequestTopUp records a pending request to credit the caller's account.
func (s *Service) RequestTopUp(ctx context.Context, caller model.Identity, amount decimal.Decimal, note string) (*model.TopUp, error) {
	if caller.AccountID == "" {
		return nil, apperr.New(apperr.Validation, apperr.CodeInvalidInput, "account id is required")
	}
	if err := money.ValidateAmount(amount); err != nil {
		return nil, apperr.New(apperr.Validation, apperr.CodeInvalidInput, "top-up amount: %v", err)
	}

	now := s.now()
	t := &model.TopUp{
		ID:        uuid.NewString(),
		AccountID: caller.AccountID,
		Amount:    amount,
		Status:    model.TopUpPending,
		Note:      note,
		CreatedAt: now,
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertTopUp(ctx, t)
	})
	if err != nil {
		return nil, s.fail("request_topup", t.ID, err)
	}

	s.log.Info("topup requested", "topup_id", t.ID, "account_id", t.AccountID, "amount", amount.StringFixed(money.Scale))
	s.deliver(ctx, nil, now)
	return t, nil
}

// ApproveTopUp credits a pending top-up to its account.
func (s *Service) ApproveTopUp(ctx context.Context, admin model.Identity, topUpID string) (*model.TopUp, error) {
	return s.process(ctx, admin, topUpID, model.TopUpApproved)
}

// RejectTopUp declines a pending top-up. No money moves.
func (s *Service) RejectTopUp(ctx context.Context, admin model.Identity, topUpID string) (*model.TopUp, error) {
	return s.process(ctx, admin, topUpID, model.TopUpRejected)
}

func (s *Service) process(ctx context.Context, admin model.Identity, topUpID string, to model.TopUpStatus) (*model.TopUp, error) {
	if admin.Role != model.RoleAdmin {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s cannot process top-ups", admin.Role)
	}

	var (
		t   *model.TopUp
		out event.Outbox
	)
	now := s.now()
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		out = nil
		var err error
		t, err = tx.LockTopUp(ctx, topUpID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.NotFound, apperr.CodeNotFound, "top-up %s not found", topUpID)
		}
		if err != nil {
			return err
		}
		if t.Status != model.TopUpPending {
			return apperr.New(apperr.StateConflict, apperr.CodeAlreadyProcessed,
				"top-up %s is already %s", t.ID, t.Status)
		}

		var msg string
		if to == model.TopUpApproved {
			if _, err := tx.LockAccount(ctx, t.AccountID); err != nil {
				return err
			}
			_, err := ledger.Post(ctx, tx, ledger.Posting{
				AccountID:        t.AccountID,
				Kind:             model.EntryTopUp,
				Amount:           t.Amount,
				RelatedAccountID: admin.AccountID,
				Note:             "top-up " + t.ID,
			}, now)
			if err != nil {
				return err
			}
			msg = "Your top-up of " + t.Amount.StringFixed(money.Scale) + " was approved."
		} else {
			msg = "Your top-up of " + t.Amount.StringFixed(money.Scale) + " was rejected."
		}

		t.Status = to
		t.AdminID = model.Ptr(admin.AccountID)
		t.ProcessedAt = &now
		if err := tx.UpdateTopUp(ctx, t); err != nil {
			return err
		}

		out.Add(event.UserTopic(t.AccountID), event.Event{
			Type:      event.TopUpProcessed,
			AccountID: t.AccountID,
			Amount:    t.Amount.StringFixed(money.Scale),
			Message:   string(to),
			At:        now,
		})
		return notify.Send(ctx, tx, &out, t.AccountID, "", msg, now)
	})
	if err != nil {
		return nil, s.fail("process_topup", topUpID, err)
	}

	s.log.Info("topup processed",
		"topup_id", t.ID,
		"account_id", t.AccountID,
		"admin_id", admin.AccountID,
		"status", t.Status,
	)
	s.deliver(ctx, out, now)
	return t, nil
}

// ListTopUps returns every account's top-up requests for moderation,
// newest first.
func (s *Service) ListTopUps(ctx context.Context, admin model.Identity) ([]model.TopUp, error) {
	if admin.Role != model.RoleAdmin {
		return nil, apperr.New(apperr.Forbidden, apperr.CodeWrongRole,
			"role %s cannot list top-ups", admin.Role)
	}
	out, err := s.store.ListTopUps(ctx, "")
	if err != nil {
		return nil, s.fail("list_topups", "", err)
	}
	return out, nil
}

// Summary returns the caller's balance, their most recent ledger entries
// and their top-up requests. An account that never held money reports a
// zero balance.
func (s *Service) Summary(ctx context.Context, caller model.Identity) (*model.Wallet, error) {
	w := &model.Wallet{AccountID: caller.AccountID, Balance: decimal.Zero}

	acct, err := s.store.GetAccount(ctx, caller.AccountID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, s.fail("wallet_summary", caller.AccountID, err)
	default:
		w.Balance = acct.Balance
	}

	if w.Entries, err = s.store.ListLedgerEntries(ctx, caller.AccountID, HistoryLimit); err != nil {
		return nil, s.fail("wallet_summary", caller.AccountID, err)
	}
	if w.TopUps, err = s.store.ListTopUps(ctx, caller.AccountID); err != nil {
		return nil, s.fail("wallet_summary", caller.AccountID, err)
	}
	return w, nil
}

// Notifications returns the caller's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, caller model.Identity) ([]model.Notification, error) {
	out, err := s.store.ListNotifications(ctx, caller.AccountID)
	if err != nil {
		return nil, s.fail("list_notifications", caller.AccountID, err)
	}
	return out, nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *Service) MarkRead(ctx context.Context, caller model.Identity, notificationID string) error {
	err := s.store.MarkNotificationRead(ctx, notificationID, caller.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.NotFound, apperr.CodeNotFound, "notification %s not found", notificationID)
	}
	if err != nil {
		return s.fail("mark_notification_read", caller.AccountID, err)
	}
	return nil
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

func (s *Service) fail(op, id string, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	s.log.Error("wallet operation failed", "op", op, "id", id, "err", err)
	return apperr.Wrap(err, "%s %s failed", op, id)
}
