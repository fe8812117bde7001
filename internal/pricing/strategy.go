// Package pricing holds the per-format bid acceptance rules.
//
// Strategies are pure: they read an immutable auction snapshot and a candidate
// bid and return a Decision. They hold no state and are safe for concurrent use.
package pricing

import (
	"fmt"
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

// Candidate is a bid being evaluated for admission.
type Candidate struct {
	BidderID string
	Amount   int64
}

// Decision is the outcome of evaluating a candidate against a snapshot.
//
// When Leading is true the candidate becomes the new leader, Price is the new
// displayed price and the amount to hold from the bidder's wallet.
// Accept without Leading records the bid as non-leading (Reserve below reserve).
type Decision struct {
	Accept    bool
	Leading   bool
	Price     int64
	Close     bool
	Rejection *domain.Rejection
}

// Strategy decides acceptance for one auction format.
type Strategy interface {
	Decide(s domain.Snapshot, c Candidate, now time.Time) Decision
}

// For returns the strategy matching an auction format.
func For(format domain.Format) (Strategy, error) {
	switch format {
	case domain.FormatStandard:
		return Standard{}, nil
	case domain.FormatReserve:
		return Reserve{}, nil
	case domain.FormatDutch:
		return Dutch{}, nil
	case domain.FormatTender:
		return Tender{}, nil
	default:
		return nil, fmt.Errorf("no pricing strategy for format %q", format)
	}
}

func leading(price int64) Decision {
	return Decision{Accept: true, Leading: true, Price: price}
}

func rejected(r *domain.Rejection) Decision {
	return Decision{Rejection: r}
}

// step is the smallest improvement over the current leader. A zero increment
// still requires a strictly better amount.
func step(increment int64) int64 {
	if increment < 1 {
		return 1
	}
	return increment
}
