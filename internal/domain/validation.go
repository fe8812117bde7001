package domain

import "fmt"

// Validate checks the per-format pricing parameters of a new auction.
func (a Auction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidAuction)
	}
	if !a.Format.Valid() {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidAuction, a.Format)
	}
	if !a.EndsAt.After(a.CreatedAt) {
		return fmt.Errorf("%w: ends_at must be after created_at", ErrInvalidAuction)
	}
	if a.StartingPrice < 0 || a.BidIncrement < 0 {
		return fmt.Errorf("%w: prices must not be negative", ErrInvalidAuction)
	}

	switch a.Format {
	case FormatStandard:
		if a.StartingPrice <= 0 {
			return fmt.Errorf("%w: starting_price required", ErrInvalidAuction)
		}
	case FormatReserve:
		if a.StartingPrice <= 0 {
			return fmt.Errorf("%w: starting_price required", ErrInvalidAuction)
		}
		if a.ReservePrice < a.StartingPrice {
			return fmt.Errorf("%w: reserve_price must be at least starting_price", ErrInvalidAuction)
		}
	case FormatDutch:
		if a.StartingPrice <= 0 {
			return fmt.Errorf("%w: starting_price required", ErrInvalidAuction)
		}
		if a.DutchInterval <= 0 || a.DutchDecrement <= 0 {
			return fmt.Errorf("%w: dutch_interval and dutch_decrement must be positive", ErrInvalidAuction)
		}
		if a.DutchFloor <= 0 || a.DutchFloor > a.StartingPrice {
			return fmt.Errorf("%w: dutch_floor must be in (0, starting_price]", ErrInvalidAuction)
		}
	case FormatTender:
		if a.MinimumBid <= 0 {
			return fmt.Errorf("%w: minimum_bid required", ErrInvalidAuction)
		}
	}
	return nil
}

// InitialProjection is the pricing state of an auction with no bids.
func (a Auction) InitialProjection() Projection {
	price := a.StartingPrice
	if a.Format == FormatTender {
		price = a.MinimumBid
	}
	return Projection{DisplayedPrice: price}
}
