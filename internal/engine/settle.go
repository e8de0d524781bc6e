package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/analytics"
	"polyarb-go/internal/metrics"
	"polyarb-go/internal/paper"
	"polyarb-go/internal/signal"
)

// SettleResult summarizes one settlement pass.
type SettleResult struct {
	Checked    int
	Settled    int
	Unresolved int
	Errors     int
}

// Settle resolves pending trades whose window has closed. Unresolvable trades
// stay pending for the next pass, so calling Settle repeatedly is safe.
func (c *Controller) Settle(ctx context.Context) SettleResult {
	c.settleMu.Lock()
	defer c.settleMu.Unlock()

	now := c.now()
	var res SettleResult
	for _, tr := range c.ledger.Pending() {
		if now.Before(tr.WindowStart.Add(c.window)) {
			continue
		}
		res.Checked++
		winner, resolved, err := c.venue.Resolution(ctx, tr.WindowStart)
		if err != nil {
			res.Errors++
			metrics.VenueErrorsTotal.Inc()
			c.log.Warn().Err(err).Str("trade_id", tr.ID).Int64("window", tr.WindowStart.Unix()).Msg("resolution lookup failed")
			continue
		}
		if !resolved {
			res.Unresolved++
			c.log.Debug().Str("trade_id", tr.ID).Int64("window", tr.WindowStart.Unix()).Msg("window not resolved yet")
			continue
		}
		c.settleTrade(ctx, tr, winner, now)
		res.Settled++
	}

	if res.Settled > 0 {
		state := c.bank.Snapshot()
		c.mu.Lock()
		breaker := c.breaker
		c.mu.Unlock()
		if breaker.Tripped(state.CumulativePnL) {
			c.trip(ctx, state.CumulativePnL)
		}
	}
	c.ledger.Prune(now.Add(-c.retention))
	return res
}

func (c *Controller) settleTrade(ctx context.Context, tr paper.Trade, winner signal.Direction, now time.Time) {
	payout := decimal.Zero
	tr.Status = paper.StatusLost
	if winner == tr.Direction {
		payout = tr.Shares
		tr.Status = paper.StatusWon
	}
	tr.Payout = payout
	tr.PnL = c.bank.Settle(tr.Stake, payout)
	tr.SettledAt = now
	c.ledger.Record(tr)
	c.persistSettlement(ctx, tr)
	metrics.SettlementsTotal.WithLabelValues(string(tr.Status)).Inc()

	c.log.Info().
		Str("trade_id", tr.ID).
		Int64("window", tr.WindowStart.Unix()).
		Str("direction", string(tr.Direction)).
		Str("winner", string(winner)).
		Str("pnl", tr.PnL.StringFixed(2)).
		Msg("trade settled")

	if tr.Status != paper.StatusLost || c.sink == nil {
		return
	}
	rec := analytics.LossRecord{
		TradeID:      tr.ID,
		WindowStart:  tr.WindowStart,
		Direction:    tr.Direction,
		Outcome:      winner,
		DeltaUSD:     tr.DeltaUSD,
		DeltaPercent: tr.DeltaPercent,
		TimeInWindow: tr.Elapsed.Seconds(),
		VenuePrice:   tr.Price,
		FairValue:    tr.FairValue,
		Stake:        tr.Stake,
		PnL:          tr.PnL,
		SettledAt:    now,
	}
	if err := c.sink.RecordLoss(ctx, rec); err != nil {
		c.log.Warn().Err(err).Str("trade_id", tr.ID).Msg("loss record not delivered")
	}
}

func (c *Controller) persistSettlement(ctx context.Context, tr paper.Trade) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSettlement(context.WithoutCancel(ctx), tr, c.bank.Snapshot()); err != nil {
		c.log.Error().Err(err).Str("trade_id", tr.ID).Msg("persist settlement")
	}
}
