package pricing

import (
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

// MinimumAscending returns the lowest amount that ranks above the current
// state of an ascending (Standard or Reserve) auction.
func MinimumAscending(s domain.Snapshot) int64 {
	best := s.BestBid
	if s.HasLeader() {
		best = max(best, s.DisplayedPrice)
	}
	if best <= 0 {
		return s.StartingPrice
	}
	return best + step(s.BidIncrement)
}

// Standard is the classic English auction: the highest bid leads.
type Standard struct{}

func (Standard) Decide(s domain.Snapshot, c Candidate, _ time.Time) Decision {
	minimum := MinimumAscending(s)
	if c.Amount < minimum {
		return rejected(domain.TooLow(minimum, s.Currency))
	}
	return leading(c.Amount)
}

// Reserve ranks like Standard, against the best accepted bid, but a bid only
// becomes the displayed leader once it reaches the reserve price. Lower
// qualifying bids are accepted as non-leading.
type Reserve struct{}

func (Reserve) Decide(s domain.Snapshot, c Candidate, _ time.Time) Decision {
	minimum := MinimumAscending(s)
	if c.Amount < minimum {
		return rejected(domain.TooLow(minimum, s.Currency))
	}
	if c.Amount < s.ReservePrice {
		return Decision{Accept: true}
	}
	return leading(c.Amount)
}
