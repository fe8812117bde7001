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

	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/auctionops/internal/api"
	"github.com/punchamoorthee/auctionops/internal/config"
	"github.com/punchamoorthee/auctionops/internal/events"
	"github.com/punchamoorthee/auctionops/internal/service"
	"github.com/punchamoorthee/auctionops/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", "auctionops", "environment", cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	publishers := events.Fanout{events.NewLoggingPublisher(logger)}
	var cache service.PriceCache
	if cfg.RedisURL != "" {
		client, err := events.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		projector := events.NewRedisProjector(client)
		publishers = append(publishers, projector)
		cache = projector
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		publishers = append(publishers, kafka)
	}
	dispatcher := events.NewDispatcher(logger, publishers, cfg.EventBuffer)

	engine := service.NewEngine(st, service.Config{
		MaxAttempts: cfg.BidMaxAttempts,
		Logger:      logger,
		Events:      dispatcher,
	})
	sweeper := service.NewSweeper(engine, logger, cfg.SweepInterval, 0)

	handler := api.NewHandler(api.Services{
		Engine:   engine,
		Queries:  service.NewQueries(st, cache, nil, logger),
		Wallets:  service.NewWallets(st, cfg.DefaultCurrency),
		Auctions: service.NewAuctions(st, cfg.DefaultCurrency, nil),
		Keys:     st,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore uses Postgres when DB_SOURCE is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DBSource == "" {
		logger.Warn("DB_SOURCE not set, using in-memory store")
		return store.NewMemoryStore(nil), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
