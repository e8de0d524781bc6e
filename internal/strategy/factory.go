package strategy

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	sig "polyarb-go/internal/signal"
)

// Strategy defines behaviour shared by the interchangeable edge evaluators.
type Strategy interface {
	// PreCheck runs only the cheap move filter so callers can skip venue lookups.
	PreCheck(in Input) (bool, string)
	// Evaluate scores one tick against a venue quote. Errors are input errors only;
	// every routine rejection is a None signal.
	Evaluate(in Input) (sig.Signal, error)
	Name() string
}

// Input is everything an evaluator needs for one decision.
type Input struct {
	WindowStart  time.Time
	Window       time.Duration
	OpenPrice    decimal.Decimal
	CurrentPrice decimal.Decimal
	Elapsed      time.Duration
	Quote        *sig.MarketQuote
	Volatility   float64
	Now          time.Time
}

// Remaining returns the time left until the window deadline.
func (in Input) Remaining() time.Duration { return in.Window - in.Elapsed }

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	MinDeltaUSD      float64 `yaml:"min_delta_usd" json:"min_delta_usd"`
	MinDeltaPercent  float64 `yaml:"min_delta_percent" json:"min_delta_percent"`
	EarlyScale       float64 `yaml:"early_scale" json:"early_scale"`
	LateMarkSecs     int     `yaml:"late_mark_secs" json:"late_mark_secs"`
	PricedInCeiling  float64 `yaml:"priced_in_ceiling" json:"priced_in_ceiling"`
	DisagreeBelow    float64 `yaml:"disagree_below" json:"disagree_below"`
	OverrideMultiple float64 `yaml:"override_multiple" json:"override_multiple"`
	MinEdgeCents     float64 `yaml:"min_edge_cents" json:"min_edge_cents"`
	MaxConfidence    float64 `yaml:"max_confidence" json:"max_confidence"`
	TimeWeightFloor  float64 `yaml:"time_weight_floor" json:"time_weight_floor"`
	LinearSlope      float64 `yaml:"linear_slope" json:"linear_slope"`
	MaxFairValue     float64 `yaml:"max_fair_value" json:"max_fair_value"`
}

// DefaultParams returns the calibrated starting point for a 5 minute BTC window.
func DefaultParams() Params {
	return Params{
		MinDeltaUSD:      40,
		MinDeltaPercent:  0.06,
		EarlyScale:       2,
		LateMarkSecs:     180,
		PricedInCeiling:  0.55,
		DisagreeBelow:    0.50,
		OverrideMultiple: 3,
		MinEdgeCents:     8,
		MaxConfidence:    0.95,
		TimeWeightFloor:  0.5,
		LinearSlope:      2.5,
		MaxFairValue:     0.97,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MinDeltaUSD <= 0 {
		p.MinDeltaUSD = d.MinDeltaUSD
	}
	if p.MinDeltaPercent <= 0 {
		p.MinDeltaPercent = d.MinDeltaPercent
	}
	if p.EarlyScale < 1 {
		p.EarlyScale = d.EarlyScale
	}
	if p.LateMarkSecs <= 0 {
		p.LateMarkSecs = d.LateMarkSecs
	}
	if p.PricedInCeiling <= 0 || p.PricedInCeiling > 1 {
		p.PricedInCeiling = d.PricedInCeiling
	}
	if p.DisagreeBelow <= 0 || p.DisagreeBelow > 1 {
		p.DisagreeBelow = d.DisagreeBelow
	}
	if p.OverrideMultiple <= 0 {
		p.OverrideMultiple = d.OverrideMultiple
	}
	if p.MinEdgeCents <= 0 {
		p.MinEdgeCents = d.MinEdgeCents
	}
	if p.MaxConfidence <= 0 || p.MaxConfidence > 0.95 {
		p.MaxConfidence = d.MaxConfidence
	}
	if p.TimeWeightFloor <= 0 || p.TimeWeightFloor > 1 {
		p.TimeWeightFloor = d.TimeWeightFloor
	}
	if p.LinearSlope <= 0 {
		p.LinearSlope = d.LinearSlope
	}
	if p.MaxFairValue <= 0.5 || p.MaxFairValue >= 1 {
		p.MaxFairValue = d.MaxFairValue
	}
	return p
}

const (
	// ModeArb prices fair value with the binary option model.
	ModeArb = "arb"
	// ModeArbLinear prices fair value with a linear map of the percent move.
	ModeArbLinear = "arb_linear"
)

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params) Strategy {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeArbLinear, "linear":
		return NewLinearArb(params)
	default:
		return NewOptionArb(params)
	}
}

// ValidMode reports whether Build recognizes mode. Empty selects the default.
func ValidMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeArb, ModeArbLinear, "linear":
		return true
	}
	return false
}
