package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
	"github.com/punchamoorthee/auctionops/internal/store"
)

// Sweeper marks auctions closed once they pass EndsAt and announces the
// result. Bids are already refused by the engine at EndsAt; the sweeper only
// makes the terminal state explicit and emits auction_closed.
type Sweeper struct {
	engine    *Engine
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewSweeper(engine *Engine, logger *slog.Logger, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = engine.logger
	}
	return &Sweeper{engine: engine, logger: logger, interval: interval, batchSize: batchSize}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "sweep iteration failed",
				"module", "service.sweeper",
				"operation", "sweep_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce closes one batch of expired auctions and returns how many it closed.
// An auction that loses its close commit to a concurrent write is left for the
// next pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.engine.now()
	expired, err := s.engine.store.ExpiredOpen(ctx, now, s.engine.haltedIDs(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired auctions: %w", err)
	}

	closed := 0
	for _, snap := range expired {
		if s.engine.Halted(snap.ID) {
			continue
		}
		after, err := s.engine.closeAuction(ctx, snap)
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrInvariantViolation) {
			continue
		}
		if err != nil {
			return closed, err
		}
		closed++

		result := "sold"
		if !after.HasLeader() {
			result = "unsold"
		}
		auctionsClosed.WithLabelValues(string(after.Format), result).Inc()
		s.logger.InfoContext(ctx, "auction closed",
			"module", "service.sweeper",
			"operation", "close",
			"outcome", result,
			"auction_id", after.ID,
			"leader_id", after.LeaderID,
			"price", after.DisplayedPrice,
		)
		s.engine.events.Emit(closedEvent(after, now.UTC()))
	}
	return closed, nil
}

func (e *Engine) haltedIDs() []string {
	var ids []string
	e.halted.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}

func (e *Engine) closeAuction(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	next := snap.Projection
	next.Closed = true

	var committed domain.Snapshot
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		committed, err = e.commit(ctx, tx, snap, next)
		return err
	})
	if errors.Is(err, domain.ErrInvariantViolation) {
		e.halt(ctx, snap.ID, err)
	}
	return committed, err
}
