// Command sweeper runs a single expiry sweep against the database and exits.
// It suits cron-style scheduling when the server's own sweep loop is off.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/auction-engine/internal/config"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/settlement"
	"github.com/atmx/auction-engine/internal/store"
	"github.com/atmx/auction-engine/internal/sweep"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var st store.Store = store.NewPostgresStore(pool)
	events := event.NewFanout()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		// Closes must evict cached auctions and reach the servers' hubs.
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		events.Add("redis", event.NewRedisPublisher(rdb))
	}
	if cfg.AMQPURL != "" {
		pub, err := event.DialAMQP(cfg.AMQPURL)
		if err != nil {
			slog.Error("amqp connection failed", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		events.Add("amqp", pub)
	}

	engine, err := settlement.NewEngine(st, events, settlement.Config{
		CommissionRate:    cfg.CommissionRate,
		PlatformAccountID: cfg.PlatformAccountID,
	}, settlement.WithLogger(logger))
	if err != nil {
		slog.Error("settlement engine", "err", err)
		os.Exit(1)
	}

	res, err := sweep.New(st, engine, cfg.SweepConcurrency, cfg.SweepBatch, logger).Run(ctx)
	if err != nil {
		slog.Error("sweep failed", "err", err)
		os.Exit(1)
	}
	slog.Info("sweep finished",
		"expired", res.Expired,
		"closed", res.Closed,
		"already_closed", res.AlreadyClosed,
		"failed", len(res.Failed),
	)
	if len(res.Failed) > 0 {
		os.Exit(2)
	}
}
