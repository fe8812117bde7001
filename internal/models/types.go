// Package models holds the HTTP request and response bodies.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

// PlaceBidRequest is the payload from the bidder. The bidder id comes from
// the X-Bidder-ID header set by the authenticating gateway.
type PlaceBidRequest struct {
	Amount int64 `json:"amount"`
}

// CreateAuctionRequest is the listing payload. DutchInterval accepts a Go
// duration string such as "30s".
type CreateAuctionRequest struct {
	ID             string    `json:"id,omitempty"`
	SellerID       string    `json:"seller_id"`
	Format         string    `json:"format"`
	Currency       string    `json:"currency,omitempty"`
	StartingPrice  int64     `json:"starting_price"`
	BidIncrement   int64     `json:"bid_increment,omitempty"`
	ReservePrice   int64     `json:"reserve_price,omitempty"`
	MinimumBid     int64     `json:"minimum_bid,omitempty"`
	DutchDecrement int64     `json:"dutch_decrement,omitempty"`
	DutchInterval  string    `json:"dutch_interval,omitempty"`
	DutchFloor     int64     `json:"dutch_floor,omitempty"`
	EndsAt         time.Time `json:"ends_at"`
}

// Auction converts the payload into a registry record.
func (r CreateAuctionRequest) Auction() (domain.Auction, error) {
	a := domain.Auction{
		ID:             strings.TrimSpace(r.ID),
		SellerID:       strings.TrimSpace(r.SellerID),
		Format:         domain.Format(strings.ToLower(r.Format)),
		Currency:       r.Currency,
		StartingPrice:  r.StartingPrice,
		BidIncrement:   r.BidIncrement,
		ReservePrice:   r.ReservePrice,
		MinimumBid:     r.MinimumBid,
		DutchDecrement: r.DutchDecrement,
		DutchFloor:     r.DutchFloor,
		EndsAt:         r.EndsAt.UTC(),
	}
	if r.DutchInterval != "" {
		d, err := time.ParseDuration(r.DutchInterval)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("%w: dutch_interval: %v", domain.ErrInvalidAuction, err)
		}
		a.DutchInterval = d
	}
	return a, nil
}

type OpenWalletRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency,omitempty"`
}

// TopUpRequest credits a wallet. Reference is the payment gateway's id.
type TopUpRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// BidResponse is the canonical answer to a bid, accepted or not.
type BidResponse struct {
	Bid            domain.Bid     `json:"bid"`
	Outcome        domain.Outcome `json:"outcome"`
	Reason         domain.Reason  `json:"reason,omitempty"`
	Message        string         `json:"message,omitempty"`
	MinimumAmount  int64          `json:"minimum_amount,omitempty"`
	MaximumAmount  int64          `json:"maximum_amount,omitempty"`
	DisplayedPrice int64          `json:"displayed_price"`
	LeaderID       string         `json:"leader_id,omitempty"`
	Version        int64          `json:"version"`
}

// NewBidResponse flattens an admission outcome.
func NewBidResponse(bid domain.Bid, r *domain.Rejection, snap domain.Snapshot) BidResponse {
	resp := BidResponse{
		Bid:            bid,
		Outcome:        bid.Outcome,
		DisplayedPrice: snap.DisplayedPrice,
		LeaderID:       snap.LeaderID,
		Version:        snap.Version,
	}
	if r != nil {
		resp.Reason = r.Reason
		resp.Message = r.Message
		resp.MinimumAmount = r.Minimum
		resp.MaximumAmount = r.Maximum
	}
	return resp
}

// WalletResponse shows a wallet with its balance rendered for display.
type WalletResponse struct {
	domain.WalletAccount
	Display string `json:"display"`
}

func NewWalletResponse(w domain.WalletAccount) WalletResponse {
	return WalletResponse{WalletAccount: w, Display: domain.FormatAmount(w.Balance, w.Currency)}
}

type ErrorResponse struct {
	Error string `json:"error"`
}
