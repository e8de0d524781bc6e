// Package strategy turns a live price move and a venue quote into a trade or no-trade signal.
package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/pricing"
	"polyarb-go/internal/signal"
)

var (
	half    = decimal.NewFromFloat(0.5)
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// fairValueFunc returns the undamped probability that dir wins.
type fairValueFunc func(in Input, dir signal.Direction, absPercent decimal.Decimal) (float64, error)

// LatencyArb buys the side a fresh reference move favours while the venue still lags.
// The two variants differ only in how they price fair value.
type LatencyArb struct {
	name   string
	params Params
	fair   fairValueFunc
}

// NewOptionArb prices fair value with the binary option model.
func NewOptionArb(params Params) *LatencyArb {
	return &LatencyArb{name: "OptionArb", params: params.withDefaults(), fair: optionFairValue}
}

// NewLinearArb prices fair value as a linear function of the absolute percent move.
func NewLinearArb(params Params) *LatencyArb {
	p := params.withDefaults()
	slope := decimal.NewFromFloat(p.LinearSlope)
	return &LatencyArb{
		name:   "LinearArb",
		params: p,
		fair: func(_ Input, _ signal.Direction, absPercent decimal.Decimal) (float64, error) {
			return half.Add(absPercent.Mul(slope)).InexactFloat64(), nil
		},
	}
}

// Name returns the identifier for the strategy implementation.
func (s *LatencyArb) Name() string { return s.name }

// Params returns the effective parameters after defaults.
func (s *LatencyArb) Params() Params { return s.params }

type move struct {
	delta      decimal.Decimal
	percent    decimal.Decimal
	absDelta   decimal.Decimal
	absPercent decimal.Decimal
	scale      decimal.Decimal
	minUSD     decimal.Decimal
	minPercent decimal.Decimal
}

func (s *LatencyArb) measure(in Input) (move, error) {
	if !in.OpenPrice.IsPositive() || !in.CurrentPrice.IsPositive() {
		return move{}, fmt.Errorf("%w: open=%s current=%s", pricing.ErrInvalidInput, in.OpenPrice, in.CurrentPrice)
	}
	m := move{delta: in.CurrentPrice.Sub(in.OpenPrice)}
	m.percent = m.delta.Div(in.OpenPrice).Mul(hundred)
	m.absDelta = m.delta.Abs()
	m.absPercent = m.percent.Abs()
	m.scale = s.thresholdScale(in)
	m.minUSD = decimal.NewFromFloat(s.params.MinDeltaUSD).Mul(m.scale)
	m.minPercent = decimal.NewFromFloat(s.params.MinDeltaPercent).Mul(m.scale)
	return m, nil
}

// thresholdScale shrinks linearly from EarlyScale at window open to 1 at the late mark.
func (s *LatencyArb) thresholdScale(in Input) decimal.Decimal {
	early := decimal.NewFromFloat(s.params.EarlyScale)
	lateMark := decimal.NewFromInt(int64(s.params.LateMarkSecs))
	elapsed := decimal.NewFromFloat(math.Max(0, in.Elapsed.Seconds()))
	frac := decimal.Min(elapsed.Div(lateMark), one)
	return early.Sub(early.Sub(one).Mul(frac))
}

func (m move) passes() bool {
	return !m.absDelta.LessThan(m.minUSD) && !m.absPercent.LessThan(m.minPercent)
}

func (m move) describe() string {
	return fmt.Sprintf("delta=$%s (%s%%) threshold=$%s/%s%% scale=%s",
		m.delta.StringFixed(2), m.percent.StringFixed(4),
		m.minUSD.StringFixed(2), m.minPercent.StringFixed(4), m.scale.StringFixed(2))
}

// PreCheck applies the time-scaled minimum-move filter only.
func (s *LatencyArb) PreCheck(in Input) (bool, string) {
	m, err := s.measure(in)
	if err != nil {
		return false, err.Error()
	}
	if !m.passes() {
		return false, "move too small: " + m.describe()
	}
	return true, m.describe()
}

// Evaluate runs the full edge pipeline.
func (s *LatencyArb) Evaluate(in Input) (signal.Signal, error) {
	m, err := s.measure(in)
	if err != nil {
		return signal.Signal{}, err
	}
	out := signal.NoTrade(signal.SkipNone, in.Now)
	out.WindowStart = in.WindowStart
	out.Elapsed = in.Elapsed
	out.DeltaUSD = m.delta
	out.DeltaPercent = m.percent

	if !m.passes() {
		return out.Reject(signal.SkipSmallMove, "move too small: "+m.describe()), nil
	}
	out.Reasons = append(out.Reasons, "move ok: "+m.describe())

	dir := signal.Up
	if m.delta.IsNegative() {
		dir = signal.Down
	}
	out.Reasons = append(out.Reasons, fmt.Sprintf("candidate=%s", dir))

	raw, err := s.fair(in, dir, m.absPercent)
	if err != nil {
		return signal.Signal{}, err
	}
	weight := s.timeWeight(in)
	fair := 0.5 + (math.Min(raw, s.params.MaxFairValue)-0.5)*weight
	fairValue := decimal.NewFromFloat(fair).Round(4)
	out.FairValue = fairValue
	out.Reasons = append(out.Reasons, fmt.Sprintf("fair=%s raw=%.4f weight=%.3f vol=%.3f", fairValue.StringFixed(4), raw, weight, in.Volatility))

	if in.Quote == nil || !in.Quote.Price(dir).IsPositive() {
		return out.Reject(signal.SkipNoMarket, "no market quote for "+string(dir)), nil
	}
	venue := in.Quote.Price(dir)
	out.VenuePrice = venue
	ceiling := decimal.NewFromFloat(s.params.PricedInCeiling)
	if venue.GreaterThanOrEqual(ceiling) {
		return out.Reject(signal.SkipPricedIn, fmt.Sprintf("already priced in: venue=%s >= ceiling=%s", venue.StringFixed(3), ceiling.StringFixed(3))), nil
	}

	disagree := decimal.NewFromFloat(s.params.DisagreeBelow)
	if venue.LessThan(disagree) {
		override := decimal.NewFromFloat(s.params.MinDeltaPercent * s.params.OverrideMultiple)
		if m.absPercent.LessThan(override) {
			return out.Reject(signal.SkipDisagree, fmt.Sprintf("venue disagrees: venue=%s < %s and move %s%% < override %s%%",
				venue.StringFixed(3), disagree.StringFixed(2), m.absPercent.StringFixed(4), override.StringFixed(4))), nil
		}
		out.Reasons = append(out.Reasons, fmt.Sprintf("override: move %s%% >= %s%% despite venue=%s",
			m.absPercent.StringFixed(4), override.StringFixed(4), venue.StringFixed(3)))
	}

	edge := fairValue.Sub(venue)
	edgeCents := edge.Mul(hundred)
	out.EdgeCents = edgeCents
	minEdge := decimal.NewFromFloat(s.params.MinEdgeCents)
	if edgeCents.LessThan(minEdge) {
		return out.Reject(signal.SkipLowEdge, fmt.Sprintf("edge too small: %s¢ < %s¢", edgeCents.StringFixed(2), minEdge.StringFixed(2))), nil
	}

	out.Direction = dir
	out.Skip = signal.SkipNone
	out.Confidence = decimal.Min(decimal.NewFromFloat(s.params.MaxConfidence), half.Add(edge))
	out.Reasons = append(out.Reasons, fmt.Sprintf("edge=%s¢ venue=%s confidence=%s", edgeCents.StringFixed(2), venue.StringFixed(3), out.Confidence.StringFixed(3)))
	return out, nil
}

// timeWeight grows from TimeWeightFloor at window open to 1 at the deadline.
func (s *LatencyArb) timeWeight(in Input) float64 {
	if in.Window <= 0 {
		return 1
	}
	frac := clamp(in.Elapsed.Seconds()/in.Window.Seconds(), 0, 1)
	return s.params.TimeWeightFloor + (1-s.params.TimeWeightFloor)*frac
}

func optionFairValue(in Input, dir signal.Direction, _ decimal.Decimal) (float64, error) {
	up, err := pricing.ProbUp(in.CurrentPrice, in.OpenPrice, in.Remaining(), in.Volatility)
	if err != nil {
		return 0, err
	}
	if dir == signal.Down {
		return 1 - up, nil
	}
	return up, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
