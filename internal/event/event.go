// Package event carries domain events from the settlement engine to
// connected clients and downstream consumers.
//
// Publishing is fire-and-forget from the engine's point of view: events are
// collected while a transaction runs and delivered only after it commits.
// A failed delivery is logged and counted, never rolled back.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/auction-engine/internal/metrics"
)

// Type names a domain event.
type Type string

const (
	BidAccepted         Type = "bid_accepted"
	AuctionClosed       Type = "auction_closed"
	DepositRefunded     Type = "deposit_refunded"
	PaymentSettled      Type = "payment_settled"
	PaymentInsufficient Type = "payment_insufficient"
	AuctionApproved     Type = "auction_approved"
	AuctionRejected     Type = "auction_rejected"
	TopUpProcessed      Type = "topup_processed"
	NewNotification     Type = "notification"
	AdminBadge          Type = "admin_badge"
)

// Event is the JSON payload sent to subscribers. Amounts are decimal strings
// with two places. Fields that do not apply to a type are omitted, except
// winner_id and final_price, which are null when the auction closed with no
// winner.
type Event struct {
	Type        Type      `json:"type"`
	AuctionID   string    `json:"auction_id,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	BidderID    string    `json:"bidder_id,omitempty"`
	WinnerID    *string   `json:"winner_id"`
	SellerID    string    `json:"seller_id,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	FinalPrice  *string   `json:"final_price"`
	Commission  string    `json:"commission,omitempty"`
	SellerShare string    `json:"seller_share,omitempty"`
	AmountDue   string    `json:"amount_due,omitempty"`
	BuyNow      bool      `json:"buy_now,omitempty"`
	Message     string    `json:"message,omitempty"`
	Count       *int      `json:"count,omitempty"`
	At          time.Time `json:"at"`
}

// Envelope pairs an event with the topic it is published on.
type Envelope struct {
	Topic string `json:"topic"`
	Event
}

// Topics.
const (
	// AdminsTopic reaches every connected admin.
	AdminsTopic = "admins"
	// AuctionsTopic reaches every client watching the listing index.
	AuctionsTopic = "auctions"
)

// AuctionTopic is the room of everyone watching one auction.
func AuctionTopic(auctionID string) string { return "auction:" + auctionID }

// UserTopic is the private room of one account.
func UserTopic(accountID string) string { return "user:" + accountID }

// Broadcaster delivers an event to the subscribers of a topic.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

// Outbox collects events while a transaction runs.
type Outbox []Envelope

// Add queues ev for topic.
func (o *Outbox) Add(topic string, ev Event) {
	*o = append(*o, Envelope{Topic: topic, Event: ev})
}

// Deliver publishes every queued event in order. Failures are logged at warn
// level and swallowed.
func Deliver(ctx context.Context, b Broadcaster, o Outbox, log *slog.Logger) {
	for _, env := range o {
		if err := b.Publish(ctx, env.Topic, env.Event); err != nil {
			log.Warn("event publish failed",
				"type", env.Type, "topic", env.Topic, "auction_id", env.AuctionID, "err", err)
		}
	}
}

// Fanout publishes every event to each of its sinks.
type Fanout struct {
	sinks []sink
}

type sink struct {
	name string
	b    Broadcaster
}

// NewFanout creates an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a named sink. The name labels failure metrics.
func (f *Fanout) Add(name string, b Broadcaster) *Fanout {
	f.sinks = append(f.sinks, sink{name: name, b: b})
	return f
}

// Publish delivers to every sink even when an earlier one fails.
func (f *Fanout) Publish(ctx context.Context, topic string, ev Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.b.Publish(ctx, topic, ev); err != nil {
			metrics.PublishFailures.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
