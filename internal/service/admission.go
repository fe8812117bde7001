// Package service implements bid admission and the read and funding paths
// around it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
	"github.com/punchamoorthee/auctionops/internal/events"
	"github.com/punchamoorthee/auctionops/internal/pricing"
	"github.com/punchamoorthee/auctionops/internal/store"
)

const DefaultMaxAttempts = 5

type Config struct {
	// MaxAttempts bounds the optimistic retries of one bid before it is
	// answered with ReasonContended.
	MaxAttempts int
	Now         func() time.Time
	Logger      *slog.Logger
	Events      events.Emitter
}

// Engine is the single entry point for placing bids.
type Engine struct {
	store       store.Store
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
	events      events.Emitter

	// auctions that failed an invariant check; they take no further writes
	halted sync.Map
}

func NewEngine(s store.Store, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	return &Engine{
		store:       s,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		logger:      cfg.Logger,
		events:      cfg.Events,
	}
}

// BidRequest is a bid from an already authenticated bidder.
type BidRequest struct {
	AuctionID string
	BidderID  string
	Amount    int64
}

// BidResult is the typed answer to a bid. Rejection is set exactly when
// Bid.Outcome is rejected.
type BidResult struct {
	Bid       domain.Bid
	Rejection *domain.Rejection
	Auction   domain.Snapshot
	Attempts  int
}

func (r *BidResult) Accepted() bool {
	return r.Rejection == nil
}

// Halted reports whether auctionID was stopped after an invariant violation.
func (e *Engine) Halted(auctionID string) bool {
	_, ok := e.halted.Load(auctionID)
	return ok
}

// PlaceBid admits or rejects one bid.
//
// User-facing outcomes, including contention, are returned in the result.
// The error is reserved for infrastructure failures, ErrAuctionHalted and
// ErrInvariantViolation.
func (e *Engine) PlaceBid(ctx context.Context, req BidRequest) (*BidResult, error) {
	if e.Halted(req.AuctionID) {
		return nil, domain.ErrAuctionHalted
	}

	bid := domain.Bid{
		ID:          domain.NewID(),
		AuctionID:   req.AuctionID,
		BidderID:    req.BidderID,
		Amount:      req.Amount,
		SubmittedAt: e.now().UTC(),
	}

	var snap domain.Snapshot
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		var err error
		snap, err = e.store.Snapshot(ctx, req.AuctionID)
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return e.finish(bid, snap, attempt, domain.Reject(domain.ReasonAuctionNotFound, "auction not found")), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read auction %s: %w", req.AuctionID, err)
		}

		res, retry, err := e.attempt(ctx, bid, snap, attempt)
		if err != nil {
			return nil, err
		}
		if !retry {
			return res, nil
		}
		versionConflicts.Inc()
	}

	e.logger.WarnContext(ctx, "bid contended",
		"module", "service.admission",
		"operation", "place_bid",
		"outcome", "contended",
		"auction_id", req.AuctionID,
		"bid_id", bid.ID,
		"attempts", e.maxAttempts,
	)
	res := e.finish(bid, snap, e.maxAttempts, domain.Reject(domain.ReasonContended, "auction is busy, try again"))
	return res, e.record(ctx, res)
}

// attempt evaluates bid against one snapshot. retry is true when the registry
// commit lost a race and the whole decision must be re-run.
func (e *Engine) attempt(ctx context.Context, bid domain.Bid, snap domain.Snapshot, n int) (*BidResult, bool, error) {
	now := e.now()

	if bid.Amount <= 0 {
		return e.reject(ctx, bid, snap, n, domain.Reject(domain.ReasonInvalidAmount, "amount must be positive"))
	}
	if snap.Terminal(now) {
		return e.reject(ctx, bid, snap, n, domain.Reject(domain.ReasonAuctionEnded, "auction has ended"))
	}

	strategy, err := pricing.For(snap.Format)
	if err != nil {
		return nil, false, err
	}
	d := strategy.Decide(snap, pricing.Candidate{BidderID: bid.BidderID, Amount: bid.Amount}, now)
	if d.Rejection != nil {
		return e.reject(ctx, bid, snap, n, d.Rejection)
	}

	wallet, err := e.store.Wallet(ctx, bid.BidderID)
	switch {
	case errors.Is(err, domain.ErrWalletNotFound):
		return e.reject(ctx, bid, snap, n, domain.Reject(domain.ReasonWalletNotFound, "wallet not found"))
	case err != nil:
		return nil, false, fmt.Errorf("read wallet: %w", err)
	case wallet.Currency != snap.Currency:
		return e.reject(ctx, bid, snap, n, domain.Reject(domain.ReasonCurrencyMismatch,
			fmt.Sprintf("wallet currency %s does not match auction currency %s", wallet.Currency, snap.Currency)))
	}

	if !d.Leading {
		return e.acceptNonLeading(ctx, bid, snap, wallet.Balance, n)
	}
	return e.acceptLeading(ctx, bid, snap, d, n)
}

// acceptNonLeading records a below-reserve bid. The bidder must be able to
// cover the amount now, but nothing is held. The commit only raises BestBid so
// that later bids rank against it.
func (e *Engine) acceptNonLeading(ctx context.Context, bid domain.Bid, snap domain.Snapshot, balance int64, n int) (*BidResult, bool, error) {
	if balance < bid.Amount {
		return e.reject(ctx, bid, snap, n, insufficient(bid.Amount, snap.Currency))
	}

	bid.Outcome = domain.OutcomeNonLeading
	next := snap.Projection
	next.BestBid = bid.Amount

	var committed domain.Snapshot
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if committed, err = e.commit(ctx, tx, snap, next); err != nil {
			return err
		}
		return tx.AppendBid(ctx, bid)
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrVersionConflict):
		return nil, true, nil
	case errors.Is(err, domain.ErrAuctionNotFound):
		return e.reject(ctx, bid, snap, n, domain.Reject(domain.ReasonAuctionNotFound, "auction not found"))
	case errors.Is(err, domain.ErrInvariantViolation):
		e.halt(ctx, snap.ID, err)
		return nil, false, err
	default:
		return nil, false, fmt.Errorf("admit bid %s: %w", bid.ID, err)
	}
	return e.finish(bid, committed, n, nil), false, nil
}

// commit writes next at the snapshot's version and checks that the stored
// state is exactly what was asked for.
func (e *Engine) commit(ctx context.Context, tx store.Tx, snap domain.Snapshot, next domain.Projection) (domain.Snapshot, error) {
	committed, err := tx.Commit(ctx, snap.ID, snap.Version, next)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if committed.Projection != next || committed.Version != snap.Version+1 {
		return domain.Snapshot{}, fmt.Errorf("%w: auction %s committed %+v at version %d, want %+v at version %d",
			domain.ErrInvariantViolation, snap.ID, committed.Projection, committed.Version, next, snap.Version+1)
	}
	return committed, nil
}

func (e *Engine) acceptLeading(ctx context.Context, bid domain.Bid, snap domain.Snapshot, d pricing.Decision, n int) (*BidResult, bool, error) {
	bid.Outcome = domain.OutcomeLeading
	bid.Price = d.Price
	next := domain.Projection{
		DisplayedPrice: d.Price,
		LeadingBidID:   bid.ID,
		LeaderID:       bid.BidderID,
		LeaderHold:     d.Price,
		BestBid:        d.Price,
		BidCount:       snap.BidCount + 1,
		Closed:         snap.Closed || d.Close,
	}

	var committed domain.Snapshot
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		wallets := []string{bid.BidderID}
		refund := snap.HasLeader() && snap.LeaderHold > 0
		if refund {
			wallets = append(wallets, snap.LeaderID)
		}
		if err := tx.LockWallets(ctx, wallets...); err != nil {
			return err
		}
		// Release first so a leader raising their own bid only needs the difference.
		if refund {
			if _, err := tx.Release(ctx, snap.LeaderID, snap.LeaderHold, snap.LeadingBidID); err != nil {
				return err
			}
		}
		if _, err := tx.Hold(ctx, bid.BidderID, d.Price, bid.ID); err != nil {
			return err
		}

		var err error
		if committed, err = e.commit(ctx, tx, snap, next); err != nil {
			return err
		}
		return tx.AppendBid(ctx, bid)
	})

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrVersionConflict):
		return nil, true, nil
	case errors.Is(err, domain.ErrInsufficientBalance):
		return e.reject(ctx, bid, snap, n, insufficient(d.Price, snap.Currency))
	case errors.Is(err, domain.ErrWalletNotFound):
		return e.reject(ctx, bid, snap, n, domain.Reject(domain.ReasonWalletNotFound, "wallet not found"))
	case errors.Is(err, domain.ErrAuctionNotFound):
		return e.reject(ctx, bid, snap, n, domain.Reject(domain.ReasonAuctionNotFound, "auction not found"))
	case errors.Is(err, domain.ErrInvariantViolation):
		e.halt(ctx, snap.ID, err)
		return nil, false, err
	default:
		return nil, false, fmt.Errorf("admit bid %s: %w", bid.ID, err)
	}

	res := e.finish(bid, committed, n, nil)
	e.logger.DebugContext(ctx, "bid admitted",
		"module", "service.admission",
		"operation", "place_bid",
		"outcome", bid.Outcome,
		"auction_id", snap.ID,
		"bid_id", bid.ID,
		"price", d.Price,
		"attempts", n,
	)
	e.events.Emit(leaderEvents(snap, committed, bid, e.now().UTC())...)
	return res, false, nil
}

func (e *Engine) halt(ctx context.Context, auctionID string, err error) {
	e.halted.Store(auctionID, struct{}{})
	invariantViolations.Inc()
	e.logger.ErrorContext(ctx, "auction halted",
		"module", "service.admission",
		"operation", "commit",
		"outcome", "invariant_violation",
		"auction_id", auctionID,
		"error", err,
	)
}

// reject records the bid as rejected for audit and returns a final result.
func (e *Engine) reject(ctx context.Context, bid domain.Bid, snap domain.Snapshot, n int, r *domain.Rejection) (*BidResult, bool, error) {
	res := e.finish(bid, snap, n, r)
	if err := e.record(ctx, res); err != nil {
		return nil, false, err
	}
	return res, false, nil
}

func (e *Engine) record(ctx context.Context, res *BidResult) error {
	if err := e.store.AppendBid(ctx, res.Bid); err != nil {
		return fmt.Errorf("record bid %s: %w", res.Bid.ID, err)
	}
	return nil
}

func (e *Engine) finish(bid domain.Bid, snap domain.Snapshot, attempts int, r *domain.Rejection) *BidResult {
	outcome := string(bid.Outcome)
	if r != nil {
		bid.Outcome = domain.OutcomeRejected
		bid.Reason = r.Reason
		bid.Price = 0
		outcome = string(r.Reason)
	}
	admissionAttempts.Observe(float64(attempts))
	format := string(snap.Format)
	if format == "" {
		format = "unknown"
	}
	bidsTotal.WithLabelValues(format, outcome).Inc()
	return &BidResult{Bid: bid, Rejection: r, Auction: snap, Attempts: attempts}
}

func insufficient(amount int64, currency string) *domain.Rejection {
	return domain.Reject(domain.ReasonInsufficientBalance,
		fmt.Sprintf("wallet balance does not cover %s", domain.FormatAmount(amount, currency)))
}

func leaderEvents(before, after domain.Snapshot, bid domain.Bid, at time.Time) []events.Event {
	out := []events.Event{{
		ID:         domain.NewID(),
		Type:       events.LeaderChanged,
		AuctionID:  after.ID,
		Version:    after.Version,
		OccurredAt: at,
		Currency:   after.Currency,
		BidID:      bid.ID,
		BidderID:   bid.BidderID,
		Price:      after.DisplayedPrice,
	}}
	if before.HasLeader() {
		out = append(out, events.Event{
			ID:               domain.NewID(),
			Type:             events.BidderOutbid,
			AuctionID:        after.ID,
			Version:          after.Version,
			OccurredAt:       at,
			Currency:         after.Currency,
			BidID:            bid.ID,
			BidderID:         bid.BidderID,
			Price:            after.DisplayedPrice,
			PreviousBidID:    before.LeadingBidID,
			PreviousBidderID: before.LeaderID,
			Refunded:         before.LeaderHold,
		})
	}
	if after.Closed && !before.Closed {
		out = append(out, closedEvent(after, at))
	}
	return out
}

func closedEvent(s domain.Snapshot, at time.Time) events.Event {
	return events.Event{
		ID:         domain.NewID(),
		Type:       events.AuctionClosed,
		AuctionID:  s.ID,
		Version:    s.Version,
		OccurredAt: at,
		Currency:   s.Currency,
		BidID:      s.LeadingBidID,
		BidderID:   s.LeaderID,
		Price:      s.DisplayedPrice,
		ReserveMet: s.HasLeader(),
		Unsold:     !s.HasLeader(),
	}
}
