package domain

import (
	"strings"
	"time"
)

// Format selects the winner-determination rule of an auction.
type Format string

const (
	FormatStandard Format = "standard"
	FormatReserve  Format = "reserve"
	FormatDutch    Format = "dutch"
	FormatTender   Format = "tender"
)

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case FormatStandard, FormatReserve, FormatDutch, FormatTender:
		return true
	}
	return false
}

// Auction is the listing record created by the catalog workflow.
// Pricing parameters are immutable once the auction exists.
type Auction struct {
	ID             string        `json:"id"`
	SellerID       string        `json:"seller_id"`
	Format         Format        `json:"format"`
	Currency       string        `json:"currency"`
	StartingPrice  int64         `json:"starting_price"`
	BidIncrement   int64         `json:"bid_increment,omitempty"`
	ReservePrice   int64         `json:"reserve_price,omitempty"`
	MinimumBid     int64         `json:"minimum_bid,omitempty"`
	DutchDecrement int64         `json:"dutch_decrement,omitempty"`
	DutchInterval  time.Duration `json:"dutch_interval,omitempty"`
	DutchFloor     int64         `json:"dutch_floor,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	EndsAt         time.Time     `json:"ends_at"`
}

// Projection is the mutable pricing state of an auction.
// DisplayedPrice and the leader fields only ever change together.
// BestBid is the best accepted amount, leading or not; a Reserve auction
// ranks below-reserve bids against it while DisplayedPrice stays put.
type Projection struct {
	DisplayedPrice int64  `json:"displayed_price"`
	LeadingBidID   string `json:"leading_bid_id,omitempty"`
	LeaderID       string `json:"leader_id,omitempty"`
	LeaderHold     int64  `json:"leader_hold,omitempty"`
	BestBid        int64  `json:"best_bid,omitempty"`
	BidCount       int64  `json:"bid_count"`
	Closed         bool   `json:"closed"`
}

// HasLeader reports whether a bid currently leads.
func (p Projection) HasLeader() bool {
	return p.LeadingBidID != ""
}

// Snapshot is an immutable view of an auction at a given version.
type Snapshot struct {
	Auction
	Projection
	Version int64 `json:"version"`
}

// Terminal reports whether the auction accepts no further bids at now.
func (s Snapshot) Terminal(now time.Time) bool {
	return s.Closed || !now.Before(s.EndsAt)
}

// Outcome is the admission result recorded on a Bid.
type Outcome string

const (
	OutcomeLeading    Outcome = "accepted_leading"
	OutcomeNonLeading Outcome = "accepted_non_leading"
	OutcomeRejected   Outcome = "rejected"
)

// Bid is an immutable bid record. History is ordered by SubmittedAt, then ID.
type Bid struct {
	ID          string    `json:"id"`
	AuctionID   string    `json:"auction_id"`
	BidderID    string    `json:"bidder_id"`
	Amount      int64     `json:"amount"`
	Price       int64     `json:"price,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Outcome     Outcome   `json:"outcome"`
	Reason      Reason    `json:"reject_reason,omitempty"`
}

// WalletAccount holds a user's balance in minor currency units.
type WalletAccount struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryReason tags why a ledger entry exists.
type EntryReason string

const (
	EntryTopUp     EntryReason = "top_up"
	EntryBidHold   EntryReason = "bid_hold"
	EntryBidRefund EntryReason = "bid_refund"
)

// LedgerEntry is one immutable balance movement.
// The sum of Deltas for a wallet always equals its balance.
type LedgerEntry struct {
	ID           string      `json:"id"`
	WalletUserID string      `json:"wallet_user_id"`
	Delta        int64       `json:"delta"`
	Reason       EntryReason `json:"reason"`
	RelatedBidID string      `json:"related_bid_id,omitempty"`
	Reference    string      `json:"reference,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// CompareBids orders bids by SubmittedAt, breaking ties by ID.
func CompareBids(a, b Bid) int {
	if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
