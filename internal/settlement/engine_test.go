package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/event/eventmock"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const platform = "platform"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// recorder is a Broadcaster that keeps every published envelope.
type recorder struct {
	mu   sync.Mutex
	envs []event.Envelope
}

func (r *recorder) Publish(_ context.Context, topic string, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, event.Envelope{Topic: topic, Event: ev})
	return nil
}

func (r *recorder) ofType(t event.Type) []event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Envelope
	for _, e := range r.envs {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newEngine(t *testing.T, s store.Store, b event.Broadcaster) *Engine {
	t.Helper()
	e, err := NewEngine(s, b, Config{CommissionRate: d("0.05"), PlatformAccountID: platform},
		WithClock(func() time.Time { return now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return e
}

type auctionOpt func(*model.Auction)

func seedAuction(t *testing.T, s store.Store, id string, opts ...auctionOpt) {
	t.Helper()
	a := &model.Auction{
		ID:            id,
		SellerID:      "seller",
		Title:         "Vintage camera",
		StartPrice:    d("300.00"),
		CurrentPrice:  d("300.00"),
		MinIncrement:  d("1.00"),
		DepositAmount: d("75.00"),
		EndsAt:        now.Add(time.Hour),
		Status:        model.StatusApproved,
		CreatedAt:     now.Add(-time.Hour),
	}
	for _, opt := range opts {
		opt(a)
	}
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateAuction(ctx, a) }))
}

func fund(t *testing.T, s store.Store, accountID, amount string) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, accountID); err != nil {
			return err
		}
		_, err := ledger.Post(ctx, tx, ledger.Posting{AccountID: accountID, Kind: model.EntryTopUp, Amount: d(amount)}, now)
		return err
	})
	require.NoError(t, err)
}

func balance(t *testing.T, s store.Store, accountID string) decimal.Decimal {
	t.Helper()
	acct, err := s.GetAccount(context.Background(), accountID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero
	}
	require.NoError(t, err)
	return acct.Balance
}

func bidder(id string) model.Identity {
	return model.Identity{AccountID: id, Role: model.RoleBidder}
}

func bid(t *testing.T, e *Engine, auctionID, bidderID, amount string) (*BidResult, error) {
	t.Helper()
	return e.PlaceBid(context.Background(), BidRequest{
		AuctionID: auctionID,
		Bidder:    bidder(bidderID),
		Amount:    d(amount),
	})
}

func requireBalanced(t *testing.T, s store.Store, accountIDs ...string) {
	t.Helper()
	for _, id := range accountIDs {
		rep, err := ledger.Reconcile(context.Background(), s, id)
		if apperr.KindOf(err) == apperr.NotFound {
			continue
		}
		require.NoError(t, err)
		require.True(t, rep.Balanced, "account %s: balance %s, ledger %s", id, rep.Balance, rep.LedgerSum)
	}
}

// --- Scenarios ---

func TestPlaceBid_FirstBidHoldsDeposit(t *testing.T) {
	s := store.NewMemoryStore()
	rec := &recorder{}
	e := newEngine(t, s, rec)
	seedAuction(t, s, "a1")
	fund(t, s, "A", "100.00")

	res, err := e.PlaceBid(context.Background(), BidRequest{
		AuctionID: "a1", Bidder: bidder("A"), Amount: d("301.00"), Deposit: dp("75.00"),
	})
	require.NoError(t, err)
	require.False(t, res.BuyNow)
	require.True(t, res.CurrentPrice.Equal(d("301.00")))

	require.True(t, balance(t, s, "A").Equal(d("25.00")))
	a, _ := s.GetAuction(context.Background(), "a1")
	require.True(t, a.CurrentPrice.Equal(d("301.00")))

	entries, _ := s.ListLedgerEntries(context.Background(), "A", 1)
	require.Equal(t, model.EntryDepositHold, entries[0].Kind)
	require.True(t, entries[0].Amount.Equal(d("-75.00")))

	accepted := rec.ofType(event.BidAccepted)
	require.Len(t, accepted, 1)
	require.Equal(t, "auction:a1", accepted[0].Topic)
	require.Equal(t, "301.00", accepted[0].Amount)
	requireBalanced(t, s, "A")
}

func TestPlaceBid_BelowMinIncrementChangesNothing(t *testing.T) {
	s := store.NewMemoryStore()
	rec := &recorder{}
	e := newEngine(t, s, rec)
	seedAuction(t, s, "a1")
	fund(t, s, "A", "100.00")
	fund(t, s, "B", "100.00")

	_, err := bid(t, e, "a1", "A", "301.00")
	require.NoError(t, err)

	_, err = bid(t, e, "a1", "B", "301.00")
	require.True(t, errors.Is(err, apperr.ErrBelowMinIncrement))
	require.True(t, strings.Contains(err.Error(), "minimum allowed is 302.00"))

	require.True(t, balance(t, s, "B").Equal(d("100.00")))
	bids, _ := s.ListBidsByAuction(context.Background(), "a1")
	require.Len(t, bids, 1)
	require.Len(t, rec.ofType(event.BidAccepted), 1)
}

func TestPlaceBid_BuyNowClosesAndRefundsOthers(t *testing.T) {
	s := store.NewMemoryStore()
	rec := &recorder{}
	e := newEngine(t, s, rec)
	seedAuction(t, s, "a1", func(a *model.Auction) { a.BuyNowPrice = dp("500.00") })
	fund(t, s, "A", "100.00")
	fund(t, s, "B", "1000.00")

	_, err := bid(t, e, "a1", "A", "400.00")
	require.NoError(t, err)
	require.True(t, balance(t, s, "A").Equal(d("25.00")))

	res, err := bid(t, e, "a1", "B", "500.00")
	require.NoError(t, err)
	require.True(t, res.BuyNow)
	require.NotNil(t, res.Close)
	require.Equal(t, "B", *res.Close.WinnerID)
	require.True(t, res.Close.FinalPrice.Equal(d("500.00")))
	require.True(t, res.Close.Refunded["A"].Equal(d("75.00")))

	a, _ := s.GetAuction(context.Background(), "a1")
	require.Equal(t, model.StatusClosed, a.Status)
	require.Equal(t, "B", *a.WinnerID)
	require.True(t, a.Paid)

	require.True(t, balance(t, s, "A").Equal(d("100.00")))
	require.True(t, balance(t, s, "B").Equal(d("500.00")))
	require.True(t, balance(t, s, "seller").Equal(d("475.00")))
	require.True(t, balance(t, s, platform).Equal(d("25.00")))

	require.Len(t, rec.ofType(event.AuctionClosed), 2) // auction room and listing room
	require.Len(t, rec.ofType(event.DepositRefunded), 1)
	require.NotEmpty(t, rec.ofType(event.PaymentSettled))
	requireBalanced(t, s, "A", "B", "seller", platform)

	_, err = bid(t, e, "a1", "A", "600.00")
	require.True(t, errors.Is(err, apperr.ErrNotActive))
}

func TestClose_ReserveNotMetRefundsEveryone(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, nil)
	seedAuction(t, s, "a1", func(a *model.Auction) { a.ReservePrice = dp("1000.00") })
	fund(t, s, "A", "100.00")
	fund(t, s, "B", "100.00")

	_, err := bid(t, e, "a1", "A", "700.00")
	require.NoError(t, err)
	_, err = bid(t, e, "a1", "B", "800.00")
	require.NoError(t, err)

	res, err := e.Close(context.Background(), "a1")
	require.NoError(t, err)
	require.Nil(t, res.WinnerID)
	require.Nil(t, res.FinalPrice)
	require.Nil(t, res.Payment)

	require.True(t, balance(t, s, "A").Equal(d("100.00")))
	require.True(t, balance(t, s, "B").Equal(d("100.00")))

	entries, _ := s.ListLedgerEntriesByAuction(context.Background(), "a1")
	for _, en := range entries {
		require.NotEqual(t, model.EntryAuctionPayment, en.Kind)
	}
	bids, _ := s.ListBidsByAuction(context.Background(), "a1")
	for _, b := range bids {
		require.True(t, b.DepositRefunded)
		require.True(t, b.RefundAmount.Equal(b.DepositPaid))
	}
}

func TestClose_NoBids(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, nil)
	seedAuction(t, s, "a1")

	res, err := e.Close(context.Background(), "a1")
	require.NoError(t, err)
	require.False(t, res.HasWinner())

	notes, _ := s.ListNotifications(context.Background(), "seller")
	require.Len(t, notes, 1)
}

func TestClose_InsufficientFundsThenConfirm(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, &recorder{})
	seedAuction(t, s, "a1", func(a *model.Auction) {
		a.StartPrice = d("299.00")
		a.CurrentPrice = d("299.00")
	})
	fund(t, s, "W", "125.00")

	_, err := bid(t, e, "a1", "W", "300.00")
	require.NoError(t, err)
	require.True(t, balance(t, s, "W").Equal(d("50.00")))

	res, err := e.Close(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "W", *res.WinnerID)
	require.NotNil(t, res.Payment)
	require.False(t, res.Payment.Paid)
	require.True(t, res.Payment.AmountDue.Equal(d("225.00")))

	require.True(t, balance(t, s, "W").Equal(d("50.00")))
	require.True(t, balance(t, s, "seller").IsZero())

	entries, _ := s.ListLedgerEntries(context.Background(), "W", 1)
	require.Equal(t, model.EntryInsufficientFunds, entries[0].Kind)
	require.True(t, entries[0].Amount.IsZero())

	a, _ := s.GetAuction(context.Background(), "a1")
	require.False(t, a.Paid)

	// Still short.
	pay, err := e.ConfirmPayment(context.Background(), "a1", bidder("W"))
	require.NoError(t, err)
	require.False(t, pay.Paid)

	fund(t, s, "W", "200.00")
	pay, err = e.ConfirmPayment(context.Background(), "a1", bidder("W"))
	require.NoError(t, err)
	require.True(t, pay.Paid)

	// 250 + 75 deposit back − 300 price.
	require.True(t, balance(t, s, "W").Equal(d("25.00")))
	require.True(t, balance(t, s, "seller").Equal(d("285.00")))
	require.True(t, balance(t, s, platform).Equal(d("15.00")))
	requireBalanced(t, s, "W", "seller", platform)

	_, err = e.ConfirmPayment(context.Background(), "a1", bidder("W"))
	require.Equal(t, apperr.CodeAlreadyPaid, apperr.CodeOf(err))
}

func TestSettlePayment_CommissionSplit(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, nil)
	seedAuction(t, s, "a1", func(a *model.Auction) {
		a.StartPrice = d("999.00")
		a.CurrentPrice = d("999.00")
		a.DepositAmount = decimal.Zero
	})
	fund(t, s, "W", "1000.00")

	_, err := bid(t, e, "a1", "W", "1000.00")
	require.NoError(t, err)

	res, err := e.Close(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, res.Payment.Paid)
	require.True(t, res.Payment.Commission.Equal(d("50.00")))
	require.True(t, res.Payment.SellerShare.Equal(d("950.00")))

	require.True(t, balance(t, s, "seller").Equal(d("950.00")))
	require.True(t, balance(t, s, platform).Equal(d("50.00")))
	require.True(t, balance(t, s, "W").IsZero())
}

func TestClose_SecondCloseObservesSameOutcome(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, nil)
	seedAuction(t, s, "a1")
	fund(t, s, "A", "1000.00")

	_, err := bid(t, e, "a1", "A", "350.00")
	require.NoError(t, err)

	first, err := e.Close(context.Background(), "a1")
	require.NoError(t, err)
	before := balance(t, s, "A")

	second, err := e.Close(context.Background(), "a1")
	require.True(t, errors.Is(err, apperr.ErrIdempotencyViolation))
	require.Equal(t, apperr.StateConflict, apperr.KindOf(err))
	require.Equal(t, *first.WinnerID, *second.WinnerID)
	require.True(t, first.FinalPrice.Equal(*second.FinalPrice))
	require.True(t, balance(t, s, "A").Equal(before))
}

func TestClose_RejectsPendingAndUnknown(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, nil)
	seedAuction(t, s, "p1", func(a *model.Auction) { a.Status = model.StatusPending })

	_, err := e.Close(context.Background(), "p1")
	require.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))

	_, err = e.Close(context.Background(), "missing")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestPlaceBid_Preconditions(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, nil)
	seedAuction(t, s, "a1")
	fund(t, s, "seller", "1000.00")

	_, err := e.PlaceBid(context.Background(), BidRequest{
		AuctionID: "a1", Bidder: model.Identity{AccountID: "seller", Role: model.RoleSeller}, Amount: d("301.00"),
	})
	require.Equal(t, apperr.CodeWrongRole, apperr.CodeOf(err))

	_, err = bid(t, e, "a1", "seller", "301.00")
	require.Equal(t, apperr.CodeSelfBid, apperr.CodeOf(err))

	_, err = bid(t, e, "a1", "A", "301.001")
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = bid(t, e, "a1", "A", "301.00")
	require.True(t, errors.Is(err, apperr.ErrInsufficientBalance))
}

func TestSettlePayment_OnlyWinnerOfClosedAuction(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEngine(t, s, nil)
	seedAuction(t, s, "a1")
	fund(t, s, "A", "100.00")

	_, err := bid(t, e, "a1", "A", "301.00")
	require.NoError(t, err)

	_, err = e.SettlePayment(context.Background(), "a1", "A")
	require.Equal(t, apperr.CodeNotClosed, apperr.CodeOf(err))

	_, err = e.Close(context.Background(), "a1")
	require.NoError(t, err)

	_, err = e.ConfirmPayment(context.Background(), "a1", bidder("B"))
	require.Equal(t, apperr.CodeNotWinner, apperr.CodeOf(err))
}

// --- Events ---

func TestPlaceBid_EventsPublishedAfterCommitOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := store.NewMemoryStore()
	b := eventmock.NewMockBroadcaster(ctrl)
	e := newEngine(t, s, b)
	seedAuction(t, s, "a1", func(a *model.Auction) { a.DepositAmount = decimal.Zero })

	b.EXPECT().Publish(gomock.Any(), "auction:a1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, ev event.Event) error {
			require.Equal(t, event.BidAccepted, ev.Type)
			// The bid is already visible when the event goes out.
			a, err := s.GetAuction(context.Background(), "a1")
			require.NoError(t, err)
			require.True(t, a.CurrentPrice.Equal(d("301.00")))
			return nil
		}).Times(1)

	_, err := bid(t, e, "a1", "A", "301.00")
	require.NoError(t, err)

	// Rejected bids publish nothing.
	_, err = bid(t, e, "a1", "A", "301.00")
	require.Error(t, err)
}

func TestPlaceBid_PublishFailureDoesNotRollBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := store.NewMemoryStore()
	b := eventmock.NewMockBroadcaster(ctrl)
	e := newEngine(t, s, b)
	seedAuction(t, s, "a1")
	fund(t, s, "A", "100.00")

	b.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker down")).AnyTimes()

	_, err := bid(t, e, "a1", "A", "301.00")
	require.NoError(t, err)
	require.True(t, balance(t, s, "A").Equal(d("25.00")))
}

// --- Atomicity ---

// failingStore fails a chosen Tx method, to check that nothing before it in
// the same transaction survives.
type failingStore struct {
	store.Store
	failOn string
}

type failingTx struct {
	store.Tx
	failOn string
}

var errInjected = errors.New("injected store failure")

func (s *failingStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: s.failOn})
	})
}

func (t *failingTx) MarkAuctionPaid(ctx context.Context, id string) error {
	if t.failOn == "MarkAuctionPaid" {
		return errInjected
	}
	return t.Tx.MarkAuctionPaid(ctx, id)
}

func (t *failingTx) UpdateAuctionPrice(ctx context.Context, id string, price decimal.Decimal) error {
	if t.failOn == "UpdateAuctionPrice" {
		return errInjected
	}
	return t.Tx.UpdateAuctionPrice(ctx, id, price)
}

func TestClose_FailureRollsBackEverything(t *testing.T) {
	mem := store.NewMemoryStore()
	seedAuction(t, mem, "a1")
	fund(t, mem, "A", "100.00")
	fund(t, mem, "B", "1000.00")

	ok := newEngine(t, mem, nil)
	_, err := bid(t, ok, "a1", "A", "301.00")
	require.NoError(t, err)
	_, err = bid(t, ok, "a1", "B", "302.00")
	require.NoError(t, err)

	broken := newEngine(t, &failingStore{Store: mem, failOn: "MarkAuctionPaid"}, nil)
	_, err = broken.Close(context.Background(), "a1")
	require.Equal(t, apperr.Integrity, apperr.KindOf(err))
	require.ErrorIs(t, err, errInjected)

	a, _ := mem.GetAuction(context.Background(), "a1")
	require.Equal(t, model.StatusApproved, a.Status)
	require.Nil(t, a.WinnerID)
	require.True(t, balance(t, mem, "A").Equal(d("25.00")))
	require.True(t, balance(t, mem, "B").Equal(d("925.00")))
	require.True(t, balance(t, mem, "seller").IsZero())

	bids, _ := mem.ListBidsByAuction(context.Background(), "a1")
	for _, b := range bids {
		require.False(t, b.DepositRefunded)
	}
}

func TestPlaceBid_FailureRollsBackHold(t *testing.T) {
	mem := store.NewMemoryStore()
	seedAuction(t, mem, "a1")
	fund(t, mem, "A", "100.00")

	broken := newEngine(t, &failingStore{Store: mem, failOn: "UpdateAuctionPrice"}, nil)
	_, err := bid(t, broken, "a1", "A", "301.00")
	require.Equal(t, apperr.Integrity, apperr.KindOf(err))

	require.True(t, balance(t, mem, "A").Equal(d("100.00")))
	bids, _ := mem.ListBidsByAuction(context.Background(), "a1")
	require.Empty(t, bids)
}

func TestBestBid_TieGoesToEarliest(t *testing.T) {
	bids := []model.Bid{
		{ID: "1", BidderID: "A", Amount: d("10.00")},
		{ID: "2", BidderID: "B", Amount: d("12.00")},
		{ID: "3", BidderID: "C", Amount: d("12.00")},
	}
	require.Equal(t, "2", bestBid(bids).ID)
	require.Nil(t, bestBid(nil))
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	_, err := NewEngine(store.NewMemoryStore(), nil, Config{CommissionRate: d("1.0"), PlatformAccountID: platform})
	require.Error(t, err)

	_, err = NewEngine(store.NewMemoryStore(), nil, Config{CommissionRate: d("0.05")})
	require.Error(t, err)
}
