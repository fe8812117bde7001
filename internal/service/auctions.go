package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/auctionops/internal/domain"
	"github.com/punchamoorthee/auctionops/internal/store"
)

// Auctions creates listings on behalf of the catalog workflow.
type Auctions struct {
	store    store.Store
	currency string
	now      func() time.Time
}

func NewAuctions(s store.Store, defaultCurrency string, now func() time.Time) *Auctions {
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}
	if now == nil {
		now = time.Now
	}
	return &Auctions{store: s, currency: defaultCurrency, now: now}
}

// Create stamps id, currency and creation time where missing, validates the
// pricing parameters and registers the auction at version 1.
func (a *Auctions) Create(ctx context.Context, auction domain.Auction) (domain.Snapshot, error) {
	if auction.ID == "" {
		auction.ID = uuid.NewString()
	}
	if auction.Currency == "" {
		auction.Currency = a.currency
	}
	auction.Currency = strings.ToUpper(auction.Currency)
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = a.now().UTC()
	}
	if err := auction.Validate(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.store.CreateAuction(ctx, auction)
}
