// Package events carries auction notifications to settlement and notification
// collaborators. Delivery is fire-and-forget: nothing here can fail a bid.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type names an auction event on the wire.
type Type string

const (
	LeaderChanged Type = "leader_changed"
	BidderOutbid  Type = "bidder_outbid"
	AuctionClosed Type = "auction_closed"
)

// Event is emitted after an admission unit or a close has been committed.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	AuctionID  string    `json:"auction_id"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
	Currency   string    `json:"currency,omitempty"`

	// leader_changed and auction_closed
	BidID    string `json:"bid_id,omitempty"`
	BidderID string `json:"bidder_id,omitempty"`
	Price    int64  `json:"price,omitempty"`

	// bidder_outbid
	PreviousBidID    string `json:"previous_bid_id,omitempty"`
	PreviousBidderID string `json:"previous_bidder_id,omitempty"`
	Refunded         int64  `json:"refunded,omitempty"`

	// auction_closed
	ReserveMet bool `json:"reserve_met,omitempty"`
	Unsold     bool `json:"unsold,omitempty"`
}

// PartitionKey keeps every event of one auction on one partition.
func (e Event) PartitionKey() string {
	return e.AuctionID
}

func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers a single event.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(events ...Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(...Event) {}
