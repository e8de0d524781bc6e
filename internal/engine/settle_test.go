package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"polyarb-go/internal/paper"
	"polyarb-go/internal/signal"
)

func placeScenarioA(t *testing.T, h *harness) paper.Trade {
	t.Helper()
	h.primeScenarioA()
	if sig := h.evaluateAt(200 * time.Second); sig.Direction != signal.Up {
		t.Fatalf("expected trade, got %s %v", sig.Skip, sig.Reasons)
	}
	trades := h.ctrl.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(trades))
	}
	return trades[0]
}

func TestSettleWaitsForWindowClose(t *testing.T) {
	h := newHarness(t, nil)
	placeScenarioA(t, h)
	h.venue.Resolve(windowStart, signal.Up)

	h.clock.Set(windowStart.Add(250 * time.Second))
	if res := h.ctrl.Settle(context.Background()); res.Checked != 0 || res.Settled != 0 {
		t.Fatalf("open window must not settle: %+v", res)
	}
}

func TestSettleWin(t *testing.T) {
	h := newHarness(t, nil)
	tr := placeScenarioA(t, h)
	h.venue.Resolve(windowStart, signal.Up)

	h.clock.Set(windowStart.Add(301 * time.Second))
	res := h.ctrl.Settle(context.Background())
	if res.Settled != 1 || res.Errors != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	state := h.bank.Snapshot()
	if !state.Available.Equal(dec("1050")) || !state.CumulativePnL.Equal(dec("50")) || state.Wins != 1 {
		t.Fatalf("unexpected bankroll %+v", state)
	}
	settled := h.store.trades[tr.ID]
	if settled.Status != paper.StatusWon || !settled.Payout.Equal(dec("100")) || !settled.PnL.Equal(dec("50")) {
		t.Fatalf("unexpected persisted trade %+v", settled)
	}
	if len(h.sink.records) != 0 {
		t.Fatalf("wins must not be recorded as losses")
	}

	// A second pass finds nothing pending.
	if res := h.ctrl.Settle(context.Background()); res.Checked != 0 {
		t.Fatalf("expected idempotent settle, got %+v", res)
	}
	if !h.bank.Snapshot().Available.Equal(dec("1050")) {
		t.Fatalf("bankroll changed on repeat settle")
	}
}

func TestSettleWritesTradeWithBankroll(t *testing.T) {
	h := newHarness(t, nil)
	tr := placeScenarioA(t, h)
	h.venue.Resolve(windowStart, signal.Up)

	h.clock.Set(windowStart.Add(301 * time.Second))
	if res := h.ctrl.Settle(context.Background()); res.Settled != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.store.settlements) != 1 {
		t.Fatalf("expected one settlement write, got %d", len(h.store.settlements))
	}
	w := h.store.settlements[0]
	if w.trade.ID != tr.ID || w.trade.Status != paper.StatusWon {
		t.Fatalf("unexpected settled trade %+v", w.trade)
	}
	if !w.bankroll.Available.Equal(dec("1050")) || w.bankroll.Wins != 1 {
		t.Fatalf("bankroll must carry the credit in the same write, got %+v", w.bankroll)
	}
}

func TestSettleLossRecordsAnalytics(t *testing.T) {
	h := newHarness(t, nil)
	tr := placeScenarioA(t, h)
	h.venue.Resolve(windowStart, signal.Down)

	h.clock.Set(windowStart.Add(310 * time.Second))
	if res := h.ctrl.Settle(context.Background()); res.Settled != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	state := h.bank.Snapshot()
	if !state.Available.Equal(dec("950")) || !state.CumulativePnL.Equal(dec("-50")) || state.Losses != 1 {
		t.Fatalf("unexpected bankroll %+v", state)
	}
	if len(h.sink.records) != 1 {
		t.Fatalf("expected one loss record, got %d", len(h.sink.records))
	}
	rec := h.sink.records[0]
	if rec.TradeID != tr.ID || rec.Direction != signal.Up || rec.Outcome != signal.Down {
		t.Fatalf("unexpected loss record %+v", rec)
	}
	if !rec.DeltaUSD.Equal(dec("60")) || rec.TimeInWindow != 200 || !rec.PnL.Equal(dec("-50")) {
		t.Fatalf("loss record lost context: %+v", rec)
	}
}

func TestSettleLeavesUnresolvedPending(t *testing.T) {
	h := newHarness(t, nil)
	placeScenarioA(t, h)

	h.clock.Set(windowStart.Add(301 * time.Second))
	res := h.ctrl.Settle(context.Background())
	if res.Unresolved != 1 || res.Settled != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.ctrl.Status().PendingTrades != 1 {
		t.Fatalf("trade should remain pending")
	}

	h.venue.Resolve(windowStart, signal.Up)
	if res := h.ctrl.Settle(context.Background()); res.Settled != 1 {
		t.Fatalf("expected settlement on retry, got %+v", res)
	}
}

func TestSettleResolvesFromObservedPrices(t *testing.T) {
	h := newHarness(t, nil)
	placeScenarioA(t, h)
	h.venue.Observe(signal.PriceObservation{Price: dec("100000"), Source: signal.Primary, ObservedAt: windowStart.Add(time.Second)})
	h.venue.Observe(signal.PriceObservation{Price: dec("99900"), Source: signal.Primary, ObservedAt: windowStart.Add(299 * time.Second)})
	h.venue.Observe(signal.PriceObservation{Price: dec("99950"), Source: signal.Primary, ObservedAt: windowStart.Add(301 * time.Second)})

	h.clock.Set(windowStart.Add(302 * time.Second))
	if res := h.ctrl.Settle(context.Background()); res.Settled != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.ctrl.Trades()[0].Status; got != paper.StatusLost {
		t.Fatalf("expected loss from a lower close, got %s", got)
	}
}

func TestSettleResolutionErrorKeepsTradePending(t *testing.T) {
	h := newHarness(t, nil)
	placeScenarioA(t, h)
	ctrl := h.ctrl
	ctrl.venue = errVenue{Venue: ctrl.venue}

	h.clock.Set(windowStart.Add(301 * time.Second))
	res := ctrl.Settle(context.Background())
	if res.Errors != 1 || res.Settled != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ctrl.Trades()[0].Status != paper.StatusPending {
		t.Fatalf("trade should stay pending after a lookup error")
	}
}

type errVenue struct {
	Venue
}

func (errVenue) Resolution(context.Context, time.Time) (signal.Direction, bool, error) {
	return signal.None, false, errors.New("gamma unavailable")
}

func TestSettleLossTripsBreaker(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.PnLFloor = -50 })
	placeScenarioA(t, h)
	h.venue.Resolve(windowStart, signal.Down)

	h.clock.Set(windowStart.Add(301 * time.Second))
	h.ctrl.Settle(context.Background())
	if !h.bank.Paused() || !h.ctrl.Status().BreakerTripped {
		t.Fatalf("loss to the floor should trip the breaker")
	}
	h.tick(signal.Primary, 302*time.Second, "100000")
	h.tick(signal.Primary, 500*time.Second, "100100")
	assertNoTrade(t, h.evaluateAt(500*time.Second), signal.SkipBreaker)
}

func TestSettlePrunesOldTrades(t *testing.T) {
	h := newHarness(t, nil)
	placeScenarioA(t, h)
	h.venue.Resolve(windowStart, signal.Up)
	h.clock.Set(windowStart.Add(301 * time.Second))
	h.ctrl.Settle(context.Background())

	h.clock.Set(windowStart.Add(2 * time.Hour))
	h.ctrl.Settle(context.Background())
	if n := len(h.ctrl.Trades()); n != 0 {
		t.Fatalf("expected settled trades past retention to be pruned, got %d", n)
	}
}
