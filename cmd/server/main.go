// Package main runs the ledger HTTP server:
// - JSON API over accounts, issuance, transfers, exchange and engagement
// - live trade feed on /ws/trades
// - Prometheus metrics on /metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"amm-ledger/internal/accounts"
	"amm-ledger/internal/api"
	"amm-ledger/internal/config"
	"amm-ledger/internal/engagement"
	"amm-ledger/internal/exchange"
	"amm-ledger/internal/feed"
	"amm-ledger/internal/issuance"
	"amm-ledger/internal/logger"
	"amm-ledger/internal/queries"
	"amm-ledger/internal/storage"
	chstore "amm-ledger/internal/storage/clickhouse"
	"amm-ledger/internal/storage/memory"
	"amm-ledger/internal/storage/migrations"
	pgstore "amm-ledger/internal/storage/postgres"
	"amm-ledger/internal/transfer"
)

// stores holds the ledger and the optional trade archive.
type stores struct {
	ledger  storage.Ledger
	archive storage.TradeArchive // nil when no archive is configured
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default configs/config.yaml)")
	migrate := flag.Bool("migrate", true, "Apply embedded migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *migrate, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, migrate bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := createStores(ctx, cfg, migrate)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	acc := accounts.New(accounts.Options{Ledger: st.ledger, Logger: log.Named("accounts")})
	system, err := acc.EnsureSystemAccount(ctx, cfg.System.SeedBalance)
	if err != nil {
		return fmt.Errorf("seed system account: %w", err)
	}
	log.Info("system account ready", zap.Int64("id", system.ID), zap.Float64("balance", system.Balance))

	hub := feed.NewHub(&feed.Config{
		WriteTimeout: cfg.Feed.WriteTimeout,
		PingInterval: cfg.Feed.PingInterval,
		ReadTimeout:  cfg.Feed.ReadTimeout,
		Buffer:       cfg.Feed.Buffer,
	}, log.Named("feed"))

	sinks := []exchange.TradeSink{hub}
	if st.archive != nil {
		sinks = append(sinks, exchange.ArchiveSink(st.archive))
	}

	srv := api.New(api.Options{
		Accounts:   acc,
		Issuance:   issuance.New(issuance.Options{Ledger: st.ledger, Logger: log.Named("issuance")}),
		Transfer:   transfer.New(transfer.Options{Ledger: st.ledger, Logger: log.Named("transfer")}),
		Exchange:   exchange.New(exchange.Options{Ledger: st.ledger, Logger: log.Named("exchange"), Sinks: sinks}),
		Engagement: engagement.New(engagement.Options{Ledger: st.ledger, Logger: log.Named("engagement")}),
		Queries:    queries.New(queries.Options{Ledger: st.ledger, Logger: log.Named("queries"), Archive: st.archive}),
		Users:      st.ledger,
		Feed:       hub,
		JWTSecret:  []byte(cfg.JWT.Secret),
		RateLimit:  cfg.RateLimit.RPS,
		Burst:      cfg.RateLimit.Burst,
		Logger:     log.Named("api"),
	})
	if cfg.JWT.Secret == "" {
		log.Warn("jwt.secret is empty, authenticated routes will reject every request")
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		// Websocket connections are hijacked, so the hub closes them separately.
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// createStores creates the ledger store and, when configured, the trade archive.
func createStores(ctx context.Context, cfg *config.Config, migrate bool) (*stores, func(), error) {
	if cfg.Storage.UseMemory {
		return &stores{
			ledger:  memory.NewLedger(),
			archive: memory.NewTradeArchive(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}
	st := &stores{ledger: pgstore.NewLedger(pool)}

	if cfg.ClickHouse.DSN == "" {
		return st, pool.Close, nil
	}

	// ClickHouse
	var chConn *chstore.Conn
	if migrate {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.ClickHouse.DSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	st.archive = chstore.NewTradeArchive(chConn)

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return st, cleanup, nil
}

