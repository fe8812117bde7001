package pricing

import (
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

// CurrentPrice is the live Dutch price at now:
// max(startingPrice - floor(elapsed/interval)*decrement, floor).
func CurrentPrice(a domain.Auction, now time.Time) int64 {
	if a.DutchInterval <= 0 || a.DutchDecrement <= 0 {
		return a.StartingPrice
	}
	elapsed := now.Sub(a.CreatedAt)
	if elapsed <= 0 {
		return a.StartingPrice
	}
	steps := int64(elapsed / a.DutchInterval)

	// Past this many steps the price is pinned to the floor; checking first
	// keeps steps*decrement from overflowing on long-lived auctions.
	if steps >= (a.StartingPrice-a.DutchFloor)/a.DutchDecrement+1 {
		return a.DutchFloor
	}
	return max(a.StartingPrice-steps*a.DutchDecrement, a.DutchFloor)
}

// Dutch is a descending-price auction: the first bid at or above the live
// price wins immediately and pays the live price, never the offered amount.
type Dutch struct{}

func (Dutch) Decide(s domain.Snapshot, c Candidate, now time.Time) Decision {
	if s.HasLeader() {
		return rejected(domain.Reject(domain.ReasonAuctionEnded, "auction already sold"))
	}
	price := CurrentPrice(s.Auction, now)
	if c.Amount < price {
		return rejected(domain.BelowCurrentPrice(price, s.Currency))
	}
	d := leading(price)
	d.Close = true
	return d
}
