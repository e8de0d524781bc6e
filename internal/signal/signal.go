// Package signal standardizes payloads shared between data ingestion, strategy, and execution layers.
package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which feed produced a price observation.
type Source string

const (
	// Primary is the fast reference feed that drives evaluation.
	Primary Source = "primary"
	// Secondary is the optional confirmation feed (e.g. an on-chain oracle).
	Secondary Source = "secondary"
)

// PriceObservation is a single reference price tick.
type PriceObservation struct {
	Price      decimal.Decimal
	Source     Source
	ObservedAt time.Time
}

// Direction is the outcome a signal bets on.
type Direction string

const (
	None Direction = "NONE"
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// WindowStart aligns t to the start of its fixed-duration betting window.
func WindowStart(t time.Time, duration time.Duration) time.Time {
	secs := int64(duration / time.Second)
	if secs <= 0 {
		return t.UTC().Truncate(time.Second)
	}
	unix := t.Unix()
	return time.Unix(unix-unix%secs, 0).UTC()
}

// Window is a discrete betting period anchored on its first observed price.
type Window struct {
	Start     time.Time
	OpenPrice decimal.Decimal
	Deadline  time.Time
}

// ID returns the deterministic window identifier (unix seconds of the start).
func (w Window) ID() int64 { return w.Start.Unix() }

// Elapsed reports how far into the window t is.
func (w Window) Elapsed(t time.Time) time.Duration { return t.Sub(w.Start) }

// Remaining reports how long until the window deadline from t.
func (w Window) Remaining(t time.Time) time.Duration { return w.Deadline.Sub(t) }

// MarketQuote is a venue snapshot of both outcome prices for one window.
// Up and Down are quoted independently and need not sum to one.
type MarketQuote struct {
	WindowStart time.Time
	Up          decimal.Decimal
	Down        decimal.Decimal
	UpBestBid   decimal.Decimal
	UpBestAsk   decimal.Decimal
	DownBestBid decimal.Decimal
	DownBestAsk decimal.Decimal
	AskDepth    decimal.Decimal
}

// Price returns the quoted probability for the given direction.
func (q MarketQuote) Price(d Direction) decimal.Decimal {
	switch d {
	case Up:
		return q.Up
	case Down:
		return q.Down
	default:
		return decimal.Zero
	}
}

// BestAsk returns the best ask for the given direction, falling back to the quoted price.
func (q MarketQuote) BestAsk(d Direction) decimal.Decimal {
	ask := q.UpBestAsk
	if d == Down {
		ask = q.DownBestAsk
	}
	if ask.IsPositive() {
		return ask
	}
	return q.Price(d)
}

// SkipReason is a short machine-readable code attached to no-trade signals.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipBreaker       SkipReason = "circuit_breaker"
	SkipPaused        SkipReason = "paused"
	SkipBusy          SkipReason = "busy"
	SkipNoWindow      SkipReason = "no_window"
	SkipOutsideRange  SkipReason = "outside_time_range"
	SkipTraded        SkipReason = "window_traded"
	SkipCooldown      SkipReason = "cooldown"
	SkipStalePrice    SkipReason = "stale_price"
	SkipSmallMove     SkipReason = "move_too_small"
	SkipNoMarket      SkipReason = "no_market"
	SkipPricedIn      SkipReason = "priced_in"
	SkipDisagree      SkipReason = "market_disagrees"
	SkipLowEdge       SkipReason = "edge_too_small"
	SkipConfirmation  SkipReason = "confirmation"
	SkipSize          SkipReason = "size"
	SkipInvalidInput  SkipReason = "invalid_input"
	SkipExecutionFail SkipReason = "execution_failed"
)

// Signal is the outcome of one evaluation. A signal with Direction None always
// carries zero size and zero confidence.
type Signal struct {
	Direction       Direction       `json:"direction"`
	EdgeCents       decimal.Decimal `json:"edge_cents"`
	Confidence      decimal.Decimal `json:"confidence"`
	FairValue       decimal.Decimal `json:"fair_value"`
	VenuePrice      decimal.Decimal `json:"venue_price"`
	RecommendedSize decimal.Decimal `json:"recommended_size"`
	Shares          decimal.Decimal `json:"shares"`
	DeltaUSD        decimal.Decimal `json:"delta_usd"`
	DeltaPercent    decimal.Decimal `json:"delta_percent"`
	Elapsed         time.Duration   `json:"elapsed"`
	WindowStart     time.Time       `json:"window_start"`
	Skip            SkipReason      `json:"skip,omitempty"`
	Reasons         []string        `json:"reasons"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

// Tradeable reports whether the signal asks for an order.
func (s Signal) Tradeable() bool { return s.Direction == Up || s.Direction == Down }

// NoTrade builds a None signal carrying the skip code and reasons gathered so far.
func NoTrade(skip SkipReason, at time.Time, reasons ...string) Signal {
	return Signal{
		Direction:       None,
		EdgeCents:       decimal.Zero,
		Confidence:      decimal.Zero,
		FairValue:       decimal.Zero,
		VenuePrice:      decimal.Zero,
		RecommendedSize: decimal.Zero,
		Shares:          decimal.Zero,
		DeltaUSD:        decimal.Zero,
		DeltaPercent:    decimal.Zero,
		Skip:            skip,
		Reasons:         append([]string(nil), reasons...),
		EvaluatedAt:     at,
	}
}

// Reject converts a candidate signal into a None signal, keeping diagnostics but
// zeroing size and confidence.
func (s Signal) Reject(skip SkipReason, reason string) Signal {
	s.Direction = None
	s.Confidence = decimal.Zero
	s.RecommendedSize = decimal.Zero
	s.Shares = decimal.Zero
	s.Skip = skip
	s.Reasons = append(append([]string(nil), s.Reasons...), reason)
	return s
}

// BankrollState is a read-only view of capital and performance counters.
type BankrollState struct {
	Available     decimal.Decimal `json:"available"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	Paused        bool            `json:"paused"`
}
