package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
	"github.com/punchamoorthee/auctionops/internal/events"
	"github.com/punchamoorthee/auctionops/internal/pricing"
	"github.com/punchamoorthee/auctionops/internal/store"
)

// PriceCache is an eventually consistent price read model.
type PriceCache interface {
	Price(ctx context.Context, auctionID string) (events.PriceView, bool, error)
}

// Queries serves the public read surface. Nothing here enters an admission unit.
type Queries struct {
	store  store.Store
	cache  PriceCache
	now    func() time.Time
	logger *slog.Logger
}

// NewQueries builds the read side. cache may be nil.
func NewQueries(s store.Store, cache PriceCache, now func() time.Time, logger *slog.Logger) *Queries {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queries{store: s, cache: cache, now: now, logger: logger}
}

// AuctionView is a snapshot plus the values that depend on the read time.
type AuctionView struct {
	domain.Snapshot
	CurrentPrice int64 `json:"current_price"`
	Terminal     bool  `json:"terminal"`
}

func (q *Queries) Auction(ctx context.Context, auctionID string) (AuctionView, error) {
	snap, err := q.store.Snapshot(ctx, auctionID)
	if err != nil {
		return AuctionView{}, err
	}
	now := q.now()
	return AuctionView{Snapshot: snap, CurrentPrice: livePrice(snap, now), Terminal: snap.Terminal(now)}, nil
}

// livePrice is the displayed price, except for an unsold open Dutch auction
// where it is the price the clock has fallen to.
func livePrice(s domain.Snapshot, now time.Time) int64 {
	if s.Format == domain.FormatDutch && !s.HasLeader() && !s.Terminal(now) {
		return pricing.CurrentPrice(s.Auction, now)
	}
	return s.DisplayedPrice
}

// CurrentPrice serves the cached projection when it holds a leader or a close
// and is not behind the registry snapshot; a dropped event therefore never
// leaves an older leader or price on display. Everything else is computed from
// the snapshot.
func (q *Queries) CurrentPrice(ctx context.Context, auctionID string) (events.PriceView, error) {
	snap, err := q.store.Snapshot(ctx, auctionID)
	if err != nil {
		return events.PriceView{}, err
	}
	now := q.now()
	fresh := events.PriceView{
		AuctionID: snap.ID,
		Price:     livePrice(snap, now),
		LeaderID:  snap.LeaderID,
		Version:   snap.Version,
		Closed:    snap.Terminal(now),
	}
	if q.cache == nil {
		return fresh, nil
	}

	view, ok, err := q.cache.Price(ctx, auctionID)
	switch {
	case err != nil:
		q.logger.WarnContext(ctx, "price cache read failed",
			"module", "service.queries",
			"operation", "current_price",
			"auction_id", auctionID,
			"error", err,
		)
	case ok && view.Version < snap.Version:
		q.logger.DebugContext(ctx, "price cache behind registry",
			"module", "service.queries",
			"operation", "current_price",
			"auction_id", auctionID,
			"cached_version", view.Version,
			"version", snap.Version,
		)
	case ok && (view.LeaderID != "" || view.Closed):
		view.Closed = view.Closed || fresh.Closed
		return view, nil
	}
	return fresh, nil
}

// History lists every bid on an auction ordered by submission time, then id.
func (q *Queries) History(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	if _, err := q.store.Snapshot(ctx, auctionID); err != nil {
		return nil, err
	}
	return q.store.AuctionBids(ctx, auctionID)
}

// BidderBids lists a bidder's bids. With activeOnly it keeps bids on open
// auctions that still lead, plus accepted below-reserve bids.
func (q *Queries) BidderBids(ctx context.Context, bidderID string, activeOnly bool) ([]domain.Bid, error) {
	bids, err := q.store.BidderBids(ctx, bidderID)
	if err != nil || !activeOnly {
		return bids, err
	}

	now := q.now()
	snaps := make(map[string]domain.Snapshot)
	active := make([]domain.Bid, 0, len(bids))
	for _, b := range bids {
		if b.Outcome == domain.OutcomeRejected {
			continue
		}
		snap, ok := snaps[b.AuctionID]
		if !ok {
			if snap, err = q.store.Snapshot(ctx, b.AuctionID); err != nil {
				return nil, err
			}
			snaps[b.AuctionID] = snap
		}
		if snap.Terminal(now) {
			continue
		}
		if b.Outcome == domain.OutcomeNonLeading || snap.LeadingBidID == b.ID {
			active = append(active, b)
		}
	}
	return active, nil
}
