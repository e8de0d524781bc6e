// Package analytics ships post-mortem records for losing trades to external consumers.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/signal"
)

// LossRecord captures the conditions under which a settled trade lost.
type LossRecord struct {
	TradeID      string           `json:"trade_id"`
	WindowStart  time.Time        `json:"window_start"`
	Direction    signal.Direction `json:"direction"`
	Outcome      signal.Direction `json:"outcome"`
	DeltaUSD     decimal.Decimal  `json:"delta_usd"`
	DeltaPercent decimal.Decimal  `json:"delta_percent"`
	TimeInWindow float64          `json:"time_in_window_secs"`
	VenuePrice   decimal.Decimal  `json:"venue_price"`
	FairValue    decimal.Decimal  `json:"fair_value"`
	Stake        decimal.Decimal  `json:"stake"`
	PnL          decimal.Decimal  `json:"pnl"`
	SettledAt    time.Time        `json:"settled_at"`
}

// Sink accepts loss records.
type Sink interface {
	RecordLoss(ctx context.Context, rec LossRecord) error
	Close() error
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) RecordLoss(ctx context.Context, rec LossRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordLoss(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
