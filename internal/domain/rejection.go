package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Reason is the machine-readable rejection code returned to bidders.
type Reason string

const (
	ReasonAuctionEnded        Reason = "auction_ended"
	ReasonAuctionNotFound     Reason = "auction_not_found"
	ReasonBidTooLow           Reason = "bid_too_low"
	ReasonBidAboveCeiling     Reason = "bid_above_ceiling"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonWalletNotFound      Reason = "wallet_not_found"
	ReasonCurrencyMismatch    Reason = "currency_mismatch"
	ReasonContended           Reason = "contended"
	ReasonInvalidAmount       Reason = "invalid_amount"
)

// minorUnitExponent is the number of decimal places in every supported currency.
const minorUnitExponent int32 = -2

// FormatAmount renders minor units as a major-unit string, e.g. 12050 INR -> "INR 120.50".
func FormatAmount(amount int64, currency string) string {
	value := decimal.New(amount, minorUnitExponent).StringFixed(-minorUnitExponent)
	if currency == "" {
		return value
	}
	return currency + " " + value
}

// Rejection explains why a bid was not admitted. Minimum and Maximum carry the
// qualifying bound when one exists so the caller can guide the next attempt.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	Minimum int64  `json:"minimum_amount,omitempty"`
	Maximum int64  `json:"maximum_amount,omitempty"`
}

func (r *Rejection) Error() string {
	return r.Message
}

// TooLow rejects a bid that must be at least minimum.
func TooLow(minimum int64, currency string) *Rejection {
	return &Rejection{
		Reason:  ReasonBidTooLow,
		Message: fmt.Sprintf("bid must be at least %s", FormatAmount(minimum, currency)),
		Minimum: minimum,
	}
}

// TooHigh rejects a Tender bid that must be at most maximum.
func TooHigh(reason Reason, maximum int64, currency string) *Rejection {
	return &Rejection{
		Reason:  reason,
		Message: fmt.Sprintf("bid must be at most %s", FormatAmount(maximum, currency)),
		Maximum: maximum,
	}
}

// BelowCurrentPrice rejects a Dutch bid that does not meet the live price.
func BelowCurrentPrice(price int64, currency string) *Rejection {
	return &Rejection{
		Reason:  ReasonBidAboveCeiling,
		Message: fmt.Sprintf("bid must be at least the current price %s", FormatAmount(price, currency)),
		Minimum: price,
	}
}

// Reject builds a rejection without an amount bound.
func Reject(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}
