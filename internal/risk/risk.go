// Package risk converts edge into bet size and guards the bankroll with a circuit breaker.
package risk

import (
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Sizer applies fractional Kelly bounded by absolute floors, ceilings, and available cash.
type Sizer struct {
	KellyFraction decimal.Decimal
	Floor         decimal.Decimal
	Ceiling       decimal.Decimal
	MinViable     decimal.Decimal
	ShareDecimals int32
}

// NewSizer builds a Sizer from plain config values.
func NewSizer(kellyFraction, floor, ceiling, minViable float64, shareDecimals int) Sizer {
	return Sizer{
		KellyFraction: decimal.NewFromFloat(kellyFraction),
		Floor:         decimal.NewFromFloat(floor),
		Ceiling:       decimal.NewFromFloat(ceiling),
		MinViable:     decimal.NewFromFloat(minViable),
		ShareDecimals: int32(shareDecimals),
	}
}

// KellyFraction returns the full-Kelly fraction for a binary contract paying $1,
// clamped at zero. ok is false when venuePrice >= 1 and the fraction is undefined.
func KellyFraction(fairValue, venuePrice decimal.Decimal) (f decimal.Decimal, ok bool) {
	if venuePrice.GreaterThanOrEqual(one) {
		return decimal.Zero, false
	}
	f = fairValue.Sub(venuePrice).Div(one.Sub(venuePrice))
	if f.IsNegative() {
		return decimal.Zero, true
	}
	return f, true
}

// Size returns the dollar stake for a bet, or zero when no viable size fits.
func (s Sizer) Size(fairValue, venuePrice, available decimal.Decimal) decimal.Decimal {
	hi := decimal.Min(s.Ceiling, available)
	if !hi.IsPositive() {
		return decimal.Zero
	}
	lo := decimal.Min(s.Floor, hi)

	var bet decimal.Decimal
	f, ok := KellyFraction(fairValue, venuePrice)
	if !ok {
		bet = hi
	} else {
		bet = available.Mul(f).Mul(s.KellyFraction)
	}
	bet = decimal.Max(lo, decimal.Min(bet, hi)).RoundDown(2)
	if bet.LessThan(s.MinViable) {
		return decimal.Zero
	}
	return bet
}

// Shares converts a dollar stake into whole venue units at price, rounding down.
func (s Sizer) Shares(size, price decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	return size.Div(price).RoundDown(s.ShareDecimals)
}

// Breaker halts trading once cumulative P&L falls to or below Floor.
type Breaker struct {
	Floor decimal.Decimal
}

// Tripped reports whether pnl has reached the floor.
func (b Breaker) Tripped(pnl decimal.Decimal) bool {
	return pnl.LessThanOrEqual(b.Floor)
}
