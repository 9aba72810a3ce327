// Package notify persists per-account notifications inside the caller's
// transaction and queues their real-time copies for delivery after commit.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/store"
)

// Send stores a notification for accountID and queues a notification event
// on the account's private topic. auctionID may be empty.
func Send(ctx context.Context, tx store.Tx, out *event.Outbox, accountID, auctionID, msg string, at time.Time) error {
	n := &model.Notification{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Message:   msg,
		CreatedAt: at,
	}
	if auctionID != "" {
		n.AuctionID = model.Ptr(auctionID)
	}
	if err := tx.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	out.Add(event.UserTopic(accountID), event.Event{
		Type:      event.NewNotification,
		AccountID: accountID,
		AuctionID: auctionID,
		Message:   msg,
		At:        at,
	})
	return nil
}

// AdminBadge counts the items waiting for moderation (pending listings and
// pending top-ups) and returns the admin_badge event announcing it.
func AdminBadge(ctx context.Context, s store.Store, at time.Time) (event.Event, error) {
	auctions, err := s.ListAuctionsByStatus(ctx, model.StatusPending)
	if err != nil {
		return event.Event{}, fmt.Errorf("list pending auctions: %w", err)
	}
	topups, err := s.ListTopUps(ctx, "")
	if err != nil {
		return event.Event{}, fmt.Errorf("list topups: %w", err)
	}
	n := len(auctions)
	for _, t := range topups {
		if t.Status == model.TopUpPending {
			n++
		}
	}
	return event.Event{Type: event.AdminBadge, Count: &n, At: at}, nil
}
