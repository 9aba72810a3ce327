package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/auction-engine/internal/api"
	"github.com/atmx/auction-engine/internal/auth"
	"github.com/atmx/auction-engine/internal/config"
	"github.com/atmx/auction-engine/internal/event"
	"github.com/atmx/auction-engine/internal/listing"
	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/settlement"
	"github.com/atmx/auction-engine/internal/store"
	"github.com/atmx/auction-engine/internal/sweep"
	"github.com/atmx/auction-engine/internal/throttle"
	"github.com/atmx/auction-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)

	// --- Event delivery ---
	// With Redis, every instance's hub is fed by the relay so a client sees
	// events committed anywhere.
	hub := event.NewHub(issuer.Identify)
	go hub.Run(ctx)

	events := event.NewFanout()
	if rdb != nil {
		events.Add("redis", event.NewRedisPublisher(rdb))
		relay := event.NewRedisRelay(rdb, hub)
		go func() {
			if err := relay.Run(ctx); err != nil {
				slog.Error("redis event relay stopped", "err", err)
			}
		}()
	} else {
		events.Add("hub", hub)
	}
	if cfg.AMQPURL != "" {
		pub, err := event.DialAMQP(cfg.AMQPURL)
		if err != nil {
			slog.Error("amqp connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pub.Close)
		events.Add("amqp", pub)
		slog.Info("AMQP event export enabled")
	}

	// --- Core services ---
	engine, err := settlement.NewEngine(st, events, settlement.Config{
		CommissionRate:    cfg.CommissionRate,
		PlatformAccountID: cfg.PlatformAccountID,
	}, settlement.WithLogger(logger))
	if err != nil {
		slog.Error("settlement engine", "err", err)
		os.Exit(1)
	}
	listings, err := listing.NewService(st, events, cfg.DepositRate, listing.WithLogger(logger))
	if err != nil {
		slog.Error("listing service", "err", err)
		os.Exit(1)
	}
	wallets := wallet.NewService(st, events, wallet.WithLogger(logger))

	sweeper := sweep.New(st, engine, cfg.SweepConcurrency, cfg.SweepBatch, logger)
	go sweeper.Loop(ctx, cfg.SweepInterval)

	limiter := throttle.NewLimiter(cfg.BidRate, cfg.BidBurst)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Prune(10 * time.Minute)
			}
		}
	}()

	handler := api.New(api.Deps{
		Store:    st,
		Engine:   engine,
		Listings: listings,
		Wallets:  wallets,
		Sweeper:  sweeper,
		Auth:     issuer,
		Limiter:  limiter,
		Hub:      hub,
		Timeout:  cfg.RequestTimeout,
		Log:      logger,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"auction-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", handler.Routes())

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("auction-engine listening", "addr", cfg.Addr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down auction-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
