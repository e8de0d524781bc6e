// Package execution handles order placement against the prediction-market venue.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyarb-go/internal/metrics"
	"polyarb-go/internal/signal"
)

// Order is a buy request for one outcome of a window's market.
type Order struct {
	WindowStart time.Time
	Direction   signal.Direction
	Price       decimal.Decimal
	Shares      decimal.Decimal
	AskDepth    decimal.Decimal
}

// Fill reports what the venue actually executed.
type Fill struct {
	OrderID     string           `json:"order_id"`
	WindowStart time.Time        `json:"window_start"`
	Direction   signal.Direction `json:"direction"`
	Price       decimal.Decimal  `json:"price"`
	Shares      decimal.Decimal  `json:"shares"`
	Cost        decimal.Decimal  `json:"cost"`
	FilledAt    time.Time        `json:"filled_at"`
}

// Executor submits orders and reports fills.
type Executor interface {
	Submit(ctx context.Context, order Order) (Fill, error)
}

// PaperExecutor fills orders immediately at the requested price, capped by visible ask depth.
type PaperExecutor struct {
	log zerolog.Logger
	now func() time.Time
}

// NewPaperExecutor wraps a zerolog logger for simulated order submissions.
func NewPaperExecutor(log zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{log: log, now: time.Now}
}

// Submit simulates a fill and logs the order.
func (p *PaperExecutor) Submit(ctx context.Context, order Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if !order.Price.IsPositive() || !order.Shares.IsPositive() {
		return Fill{}, errors.New("order needs positive price and shares")
	}
	shares := order.Shares
	if order.AskDepth.IsPositive() && order.AskDepth.LessThan(shares) {
		shares = order.AskDepth
	}
	fill := Fill{
		OrderID:     uuid.NewString(),
		WindowStart: order.WindowStart,
		Direction:   order.Direction,
		Price:       order.Price,
		Shares:      shares,
		Cost:        shares.Mul(order.Price).Round(2),
		FilledAt:    p.now().UTC(),
	}
	metrics.OrdersTotal.WithLabelValues(string(order.Direction)).Inc()
	p.log.Info().
		Str("order_id", fill.OrderID).
		Str("side", string(order.Direction)).
		Int64("window", order.WindowStart.Unix()).
		Str("px", order.Price.String()).
		Str("shares", shares.String()).
		Str("cost", fill.Cost.String()).
		Msg("submit order (paper)")
	return fill, nil
}
