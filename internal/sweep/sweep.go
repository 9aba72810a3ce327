// Package sweep closes auctions whose end time has passed.
//
// The engine has no timers of its own. A sweep lists expired APPROVED
// auctions and closes each through the settlement engine; run it from a cron
// job (cmd/sweeper), on an interval inside the server, or on demand.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/auction-engine/internal/apperr"
	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/settlement"
	"github.com/atmx/auction-engine/internal/store"
)

// Closer closes one auction. *settlement.Engine satisfies it.
type Closer interface {
	Close(ctx context.Context, auctionID string) (*settlement.CloseResult, error)
}

// Result summarizes one sweep.
type Result struct {
	// Expired is how many expired auctions were found.
	Expired int `json:"expired"`
	// Closed counts auctions this sweep closed.
	Closed int `json:"closed"`
	// AlreadyClosed counts auctions someone else closed first.
	AlreadyClosed int `json:"already_closed"`
	// Failed maps auction id to the error that kept it open.
	Failed map[string]string `json:"failed,omitempty"`
}

// Sweeper runs sweeps.
type Sweeper struct {
	store       store.Store
	closer      Closer
	concurrency int
	batch       int
	now         func() time.Time
	log         *slog.Logger
}

// New creates a sweeper that closes at most batch auctions per run, with
// at most concurrency closes in flight.
func New(s store.Store, c Closer, concurrency, batch int, log *slog.Logger) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:       s,
		closer:      c,
		concurrency: concurrency,
		batch:       batch,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// Run performs one sweep. A failure to close one auction does not stop the
// others; Run returns an error only when the expired list cannot be read or
// ctx ends.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	expired, err := s.store.ListExpiredAuctions(ctx, s.now(), s.batch)
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}

	res := &Result{Expired: len(expired), Failed: map[string]string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, a := range expired {
		id := a.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := s.closer.Close(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Closed++
				metrics.SweepClosed.Inc()
			case apperr.CodeOf(err) == apperr.CodeIdempotencyViolation:
				res.AlreadyClosed++
			default:
				res.Failed[id] = err.Error()
				s.log.Warn("sweep close failed", "auction_id", id, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	if res.Expired > 0 {
		s.log.Info("sweep finished",
			"expired", res.Expired,
			"closed", res.Closed,
			"already_closed", res.AlreadyClosed,
			"failed", len(res.Failed),
		)
	}
	return res, nil
}

// Loop sweeps every interval until ctx ends.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", "err", err)
			}
		}
	}
}
