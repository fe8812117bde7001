package pricing

import (
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

// MaximumTender returns the highest amount a Tender bid may carry and still
// displace the current leader. Zero or less means nothing can qualify.
func MaximumTender(s domain.Snapshot) int64 {
	if !s.HasLeader() {
		return s.MinimumBid
	}
	return min(s.DisplayedPrice-step(s.BidIncrement), s.MinimumBid)
}

// Tender inverts the ranking: the lowest bid not above minimumBid leads.
// Ties keep the earlier leader.
type Tender struct{}

func (Tender) Decide(s domain.Snapshot, c Candidate, _ time.Time) Decision {
	if c.Amount > s.MinimumBid {
		return rejected(domain.TooHigh(domain.ReasonBidAboveCeiling, s.MinimumBid, s.Currency))
	}
	maximum := MaximumTender(s)
	if c.Amount > maximum {
		return rejected(domain.TooHigh(domain.ReasonBidTooLow, maximum, s.Currency))
	}
	return leading(c.Amount)
}
