// Package engine drives the per-tick signal pipeline: window tracking, gating,
// edge evaluation, sizing, order submission, and settlement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyarb-go/internal/analytics"
	"polyarb-go/internal/execution"
	"polyarb-go/internal/metrics"
	"polyarb-go/internal/paper"
	"polyarb-go/internal/pricing"
	"polyarb-go/internal/risk"
	"polyarb-go/internal/signal"
	"polyarb-go/internal/strategy"
)

// Venue quotes and resolves per-window markets.
type Venue interface {
	Quote(ctx context.Context, windowStart time.Time) (signal.MarketQuote, error)
	Resolution(ctx context.Context, windowStart time.Time) (signal.Direction, bool, error)
}

// Store persists trades and the bankroll. SaveSettlement must write both atomically.
type Store interface {
	SaveTrade(ctx context.Context, tr paper.Trade) error
	SaveBankroll(ctx context.Context, state signal.BankrollState) error
	SaveSettlement(ctx context.Context, tr paper.Trade, state signal.BankrollState) error
}

// Deps are the collaborators a Controller drives. Store, Sink, and Volatility are optional.
type Deps struct {
	Venue        Venue
	Executor     execution.Executor
	Bankroll     *paper.Bankroll
	Ledger       *paper.Ledger
	Store        Store
	Sink         analytics.Sink
	Volatility   *pricing.Sampler
	Window       time.Duration
	QuoteTimeout time.Duration
	Retention    time.Duration
	Now          func() time.Time
}

// Controller owns all mutable trading state. Evaluations are non-reentrant: at
// most one runs at a time and ticks that arrive meanwhile are dropped.
type Controller struct {
	log          zerolog.Logger
	venue        Venue
	exec         execution.Executor
	bank         *paper.Bankroll
	ledger       *paper.Ledger
	store        Store
	sink         analytics.Sink
	vol          *pricing.Sampler
	window       time.Duration
	quoteTimeout time.Duration
	retention    time.Duration
	now          func() time.Time

	busy     atomic.Bool
	settleMu sync.Mutex

	mu         sync.Mutex
	settings   Settings
	strat      strategy.Strategy
	sizer      risk.Sizer
	breaker    risk.Breaker
	books      map[signal.Source]*windowBook
	traded     map[int64]struct{}
	lastTrade  time.Time
	lastSignal signal.Signal
	tripped    bool
}

// New validates settings and wires a controller.
func New(settings Settings, deps Deps, log zerolog.Logger) (*Controller, error) {
	if deps.Venue == nil || deps.Executor == nil || deps.Bankroll == nil {
		return nil, errors.New("engine: venue, executor, and bankroll are required")
	}
	if deps.Window <= 0 {
		deps.Window = 5 * time.Minute
	}
	if deps.QuoteTimeout <= 0 {
		deps.QuoteTimeout = 2 * time.Second
	}
	if deps.Retention <= 0 {
		deps.Retention = time.Hour
	}
	if deps.Ledger == nil {
		deps.Ledger = paper.NewLedger(64)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if err := settings.validate(deps.Window); err != nil {
		return nil, fmt.Errorf("engine settings: %w", err)
	}
	c := &Controller{
		log:          log.With().Str("component", "engine").Logger(),
		venue:        deps.Venue,
		exec:         deps.Executor,
		bank:         deps.Bankroll,
		ledger:       deps.Ledger,
		store:        deps.Store,
		sink:         deps.Sink,
		vol:          deps.Volatility,
		window:       deps.Window,
		quoteTimeout: deps.QuoteTimeout,
		retention:    deps.Retention,
		now:          deps.Now,
		books: map[signal.Source]*windowBook{
			signal.Primary:   newWindowBook(deps.Window),
			signal.Secondary: newWindowBook(deps.Window),
		},
		traded: make(map[int64]struct{}),
	}
	c.apply(settings)
	return c, nil
}

func (c *Controller) apply(s Settings) {
	c.settings = s
	c.strat = strategy.Build(s.Strategy, s.Params)
	c.sizer = s.sizer()
	c.breaker = s.breaker()
}

// Restore seeds the ledger and traded-window set from persisted trades.
func (c *Controller) Restore(trades []paper.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tr := range trades {
		c.ledger.Record(tr)
		c.traded[tr.WindowStart.Unix()] = struct{}{}
		if tr.CreatedAt.After(c.lastTrade) {
			c.lastTrade = tr.CreatedAt
		}
	}
}

// MarkTraded records windows that already carry a trade.
func (c *Controller) MarkTraded(windows []time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range windows {
		c.traded[w.Unix()] = struct{}{}
	}
}

// Observe folds a price tick into the window books and the volatility sampler.
func (c *Controller) Observe(obs signal.PriceObservation) {
	if !obs.Price.IsPositive() {
		return
	}
	c.mu.Lock()
	book, ok := c.books[obs.Source]
	if !ok {
		book = newWindowBook(c.window)
		c.books[obs.Source] = book
	}
	if book.observe(obs) {
		cutoff := obs.ObservedAt.Add(-c.retention)
		book.prune(cutoff)
		for id := range c.traded {
			if id < cutoff.Unix() {
				delete(c.traded, id)
			}
		}
	}
	c.mu.Unlock()

	if obs.Source == signal.Primary && c.vol != nil {
		c.vol.Add(obs.Price, obs.ObservedAt)
	}
}

// Run consumes ticks until ctx ends or the channel closes. Every tick is
// observed; primary ticks start an evaluation unless one is already in flight,
// in which case the tick is dropped rather than queued.
func (c *Controller) Run(ctx context.Context, ticks <-chan signal.PriceObservation) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-ticks:
			if !ok {
				return nil
			}
			c.Observe(obs)
			if obs.Source != signal.Primary {
				continue
			}
			if !c.busy.CompareAndSwap(false, true) {
				metrics.DroppedTicksTotal.Inc()
				continue
			}
			wg.Add(1)
			go func(at time.Time) {
				defer wg.Done()
				defer c.busy.Store(false)
				c.evaluate(ctx, at)
			}(c.now())
		}
	}
}

// Evaluate runs one gated evaluation at now. A call that overlaps another
// evaluation returns a busy no-trade signal immediately.
func (c *Controller) Evaluate(ctx context.Context, now time.Time) signal.Signal {
	if !c.busy.CompareAndSwap(false, true) {
		return c.finish(signal.NoTrade(signal.SkipBusy, now, "evaluation already in flight"))
	}
	defer c.busy.Store(false)
	return c.evaluate(ctx, now)
}

// snapshot is the state an evaluation reads, captured under one lock.
type snapshot struct {
	settings  Settings
	strat     strategy.Strategy
	sizer     risk.Sizer
	start     time.Time
	win       signal.Window
	hasOpen   bool
	current   signal.PriceObservation
	hasTick   bool
	traded    bool
	lastTrade time.Time
}

func (c *Controller) snapshot(now time.Time) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := snapshot{
		settings:  c.settings,
		strat:     c.strat,
		sizer:     c.sizer,
		start:     signal.WindowStart(now, c.window),
		lastTrade: c.lastTrade,
	}
	book := c.books[signal.Primary]
	s.win, s.hasOpen = book.open(s.start)
	s.current, s.hasTick = book.last()
	if s.hasOpen {
		_, s.traded = c.traded[s.win.ID()]
	}
	return s
}

func (c *Controller) evaluate(ctx context.Context, now time.Time) signal.Signal {
	if sig, halted := c.halted(ctx, now); halted {
		return c.finish(sig)
	}

	snap := c.snapshot(now)
	if !snap.hasOpen || !snap.hasTick {
		return c.skip(snap.start, signal.SkipNoWindow, now, "no open price recorded for window")
	}
	elapsed := snap.win.Elapsed(now)
	if elapsed < snap.settings.minElapsed() || elapsed > snap.settings.maxElapsed() {
		return c.skip(snap.start, signal.SkipOutsideRange, now,
			fmt.Sprintf("outside trading range: elapsed=%s remaining=%s bounds=[%s, %s]",
				elapsed, snap.win.Remaining(now), snap.settings.minElapsed(), snap.settings.maxElapsed()))
	}
	if snap.traded {
		return c.skip(snap.start, signal.SkipTraded, now, fmt.Sprintf("window %d already traded", snap.win.ID()))
	}
	if !snap.lastTrade.IsZero() && now.Sub(snap.lastTrade) < snap.settings.cooldown() {
		return c.skip(snap.start, signal.SkipCooldown, now,
			fmt.Sprintf("cooldown: %s since last trade < %s", now.Sub(snap.lastTrade).Round(time.Second), snap.settings.cooldown()))
	}
	if age := now.Sub(snap.current.ObservedAt); snap.settings.maxTickAge() > 0 && age > snap.settings.maxTickAge() {
		return c.skip(snap.start, signal.SkipStalePrice, now,
			fmt.Sprintf("stale price: last tick age=%s > %s", age.Round(time.Millisecond), snap.settings.maxTickAge()))
	}

	in := strategy.Input{
		WindowStart:  snap.start,
		Window:       snap.win.Deadline.Sub(snap.win.Start),
		OpenPrice:    snap.win.OpenPrice,
		CurrentPrice: snap.current.Price,
		Elapsed:      elapsed,
		Volatility:   pricing.DefaultVol,
		Now:          now,
	}
	if c.vol != nil {
		in.Volatility = c.vol.Vol()
	}
	if ok, reason := snap.strat.PreCheck(in); !ok {
		return c.skip(snap.start, signal.SkipSmallMove, now, reason)
	}

	quote, err := c.fetchQuote(ctx, snap.start)
	if err != nil {
		metrics.VenueErrorsTotal.Inc()
		c.log.Warn().Err(err).Int64("window", snap.start.Unix()).Msg("venue quote unavailable")
	} else {
		in.Quote = &quote
	}

	sig, err := snap.strat.Evaluate(in)
	if err != nil {
		c.log.Error().Err(err).Int64("window", snap.start.Unix()).Msg("evaluation input error")
		return c.skip(snap.start, signal.SkipInvalidInput, now, err.Error())
	}
	if !sig.Tradeable() {
		return c.finish(sig)
	}

	if snap.settings.RequireConfirmation {
		reason, ok := c.confirm(sig, snap, now)
		if !ok {
			return c.finish(sig.Reject(signal.SkipConfirmation, reason))
		}
		sig.Reasons = append(sig.Reasons, reason)
	}

	price := quote.BestAsk(sig.Direction)
	if price.GreaterThanOrEqual(sig.FairValue) {
		return c.finish(sig.Reject(signal.SkipLowEdge, fmt.Sprintf("best ask %s >= fair %s", price, sig.FairValue)))
	}
	size := snap.sizer.Size(sig.FairValue, sig.VenuePrice, c.bank.Snapshot().Available)
	if size.IsZero() {
		return c.finish(sig.Reject(signal.SkipSize, "size below minimum viable bet"))
	}
	shares := snap.sizer.Shares(size, price)
	if !shares.IsPositive() {
		return c.finish(sig.Reject(signal.SkipSize, fmt.Sprintf("size $%s rounds to zero shares at %s", size.StringFixed(2), price)))
	}
	sig.RecommendedSize = size
	sig.Shares = shares
	sig.Reasons = append(sig.Reasons, fmt.Sprintf("size=$%s shares=%s @ %s", size.StringFixed(2), shares, price))

	return c.finish(c.submit(ctx, sig, quote, price, now))
}

func (c *Controller) skip(start time.Time, reason signal.SkipReason, now time.Time, msg string) signal.Signal {
	sig := signal.NoTrade(reason, now, msg)
	sig.WindowStart = start
	return c.finish(sig)
}

func (c *Controller) fetchQuote(ctx context.Context, start time.Time) (signal.MarketQuote, error) {
	qctx, cancel := context.WithTimeout(ctx, c.quoteTimeout)
	defer cancel()
	return c.venue.Quote(qctx, start)
}

// confirm requires the secondary source to be fresh and to have moved the same
// way as the signal since its own window open.
func (c *Controller) confirm(sig signal.Signal, snap snapshot, now time.Time) (string, bool) {
	c.mu.Lock()
	book := c.books[signal.Secondary]
	obs, seen := book.last()
	win, hasOpen := book.open(snap.start)
	c.mu.Unlock()

	if !seen {
		return "confirmation unavailable: no secondary price", false
	}
	age := now.Sub(obs.ObservedAt)
	if age > snap.settings.confirmStale() {
		return fmt.Sprintf("confirmation stale: age=%s > %s", age.Round(time.Millisecond), snap.settings.confirmStale()), false
	}
	if !hasOpen {
		return "confirmation unavailable: no secondary open for window", false
	}
	delta := obs.Price.Sub(win.OpenPrice)
	agrees := (sig.Direction == signal.Up && delta.IsPositive()) || (sig.Direction == signal.Down && delta.IsNegative())
	if !agrees {
		return fmt.Sprintf("confirmation disagrees: secondary delta=$%s for %s", delta.StringFixed(2), sig.Direction), false
	}
	return fmt.Sprintf("confirmed: secondary delta=$%s age=%s", delta.StringFixed(2), age.Round(time.Millisecond)), true
}

func (c *Controller) submit(ctx context.Context, sig signal.Signal, quote signal.MarketQuote, price decimal.Decimal, now time.Time) signal.Signal {
	fill, err := c.exec.Submit(ctx, execution.Order{
		WindowStart: sig.WindowStart,
		Direction:   sig.Direction,
		Price:       price,
		Shares:      sig.Shares,
		AskDepth:    quote.AskDepth,
	})
	if err != nil {
		c.log.Error().Err(err).Int64("window", sig.WindowStart.Unix()).Msg("order submission failed")
		return sig.Reject(signal.SkipExecutionFail, "execution failed: "+err.Error())
	}
	if err := c.bank.Reserve(fill.Cost); err != nil {
		c.log.Error().Err(err).Str("cost", fill.Cost.String()).Msg("stake reservation failed")
		return sig.Reject(signal.SkipExecutionFail, "stake reservation failed: "+err.Error())
	}

	trade := paper.Trade{
		ID:           fill.OrderID,
		WindowStart:  sig.WindowStart,
		Direction:    sig.Direction,
		Price:        fill.Price,
		Shares:       fill.Shares,
		Stake:        fill.Cost,
		FairValue:    sig.FairValue,
		EdgeCents:    sig.EdgeCents,
		DeltaUSD:     sig.DeltaUSD,
		DeltaPercent: sig.DeltaPercent,
		Elapsed:      sig.Elapsed,
		Status:       paper.StatusPending,
		CreatedAt:    now,
	}
	c.ledger.Record(trade)

	c.mu.Lock()
	c.traded[sig.WindowStart.Unix()] = struct{}{}
	c.lastTrade = now
	c.mu.Unlock()

	c.persistTrade(ctx, trade)
	c.persistBankroll(ctx)
	metrics.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
	c.log.Info().
		Str("trade_id", trade.ID).
		Str("direction", string(sig.Direction)).
		Int64("window", sig.WindowStart.Unix()).
		Str("fair", sig.FairValue.String()).
		Str("venue", sig.VenuePrice.String()).
		Str("edge_cents", sig.EdgeCents.StringFixed(2)).
		Str("stake", fill.Cost.String()).
		Msg("trade placed")
	return sig
}

// halted applies the breaker and the operator pause.
func (c *Controller) halted(ctx context.Context, now time.Time) (signal.Signal, bool) {
	state := c.bank.Snapshot()
	c.mu.Lock()
	breaker := c.breaker
	c.mu.Unlock()
	if breaker.Tripped(state.CumulativePnL) {
		c.trip(ctx, state.CumulativePnL)
		return signal.NoTrade(signal.SkipBreaker, now,
			fmt.Sprintf("circuit breaker: pnl=%s <= floor=%s", state.CumulativePnL.StringFixed(2), breaker.Floor.StringFixed(2))), true
	}
	if state.Paused {
		return signal.NoTrade(signal.SkipPaused, now, "trading paused"), true
	}
	return signal.Signal{}, false
}

// trip pauses trading until an operator resumes. Repeat calls are no-ops.
func (c *Controller) trip(ctx context.Context, pnl decimal.Decimal) {
	c.mu.Lock()
	already := c.tripped && c.bank.Paused()
	c.tripped = true
	floor := c.breaker.Floor
	c.mu.Unlock()
	if already {
		return
	}
	c.bank.SetPaused(true)
	metrics.BreakerTripped.Set(1)
	c.persistBankroll(ctx)
	c.log.Error().
		Str("pnl", pnl.StringFixed(2)).
		Str("floor", floor.StringFixed(2)).
		Msg("circuit breaker tripped, trading paused until resumed")
}

func (c *Controller) finish(sig signal.Signal) signal.Signal {
	c.mu.Lock()
	c.lastSignal = sig
	c.mu.Unlock()
	if sig.Tradeable() {
		return sig
	}
	metrics.SkipsTotal.WithLabelValues(string(sig.Skip)).Inc()
	var evt *zerolog.Event
	switch sig.Skip {
	case signal.SkipSmallMove, signal.SkipOutsideRange, signal.SkipTraded, signal.SkipCooldown, signal.SkipStalePrice, signal.SkipNoWindow, signal.SkipBusy, signal.SkipPaused, signal.SkipBreaker:
		evt = c.log.Debug()
	default:
		evt = c.log.Info()
	}
	reason := ""
	if n := len(sig.Reasons); n > 0 {
		reason = sig.Reasons[n-1]
	}
	evt.Str("skip", string(sig.Skip)).Int64("window", sig.WindowStart.Unix()).Str("reason", reason).Msg("no trade")
	return sig
}

func (c *Controller) persistTrade(ctx context.Context, tr paper.Trade) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveTrade(context.WithoutCancel(ctx), tr); err != nil {
		c.log.Error().Err(err).Str("trade_id", tr.ID).Msg("persist trade")
	}
}

func (c *Controller) persistBankroll(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveBankroll(context.WithoutCancel(ctx), c.bank.Snapshot()); err != nil {
		c.log.Error().Err(err).Msg("persist bankroll")
	}
}

// Pause halts new trades. Settlement keeps running.
func (c *Controller) Pause(ctx context.Context) {
	c.bank.SetPaused(true)
	c.persistBankroll(ctx)
	c.log.Warn().Msg("trading paused by operator")
}

// Resume clears an operator pause or a tripped breaker. If P&L is still at or
// below the floor the breaker trips again on the next evaluation.
func (c *Controller) Resume(ctx context.Context) {
	c.mu.Lock()
	c.tripped = false
	c.mu.Unlock()
	c.bank.SetPaused(false)
	metrics.BreakerTripped.Set(0)
	c.persistBankroll(ctx)
	c.log.Info().Msg("trading resumed")
}

// Settings returns the active settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Reconfigure validates and swaps in new settings.
func (c *Controller) Reconfigure(s Settings) error {
	if err := s.validate(c.window); err != nil {
		return err
	}
	c.mu.Lock()
	c.apply(s)
	c.mu.Unlock()
	c.log.Info().Str("strategy", s.Strategy).Msg("settings updated")
	return nil
}

// Status is an operator-facing summary.
type Status struct {
	Bankroll       signal.BankrollState `json:"bankroll"`
	StartingCash   decimal.Decimal      `json:"starting_cash"`
	BreakerTripped bool                 `json:"breaker_tripped"`
	Evaluating     bool                 `json:"evaluating"`
	Strategy       string               `json:"strategy"`
	PendingTrades  int                  `json:"pending_trades"`
	TradedWindows  int                  `json:"traded_windows"`
	LastTrade      time.Time            `json:"last_trade"`
	LastSignal     signal.Signal        `json:"last_signal"`
	Volatility     float64              `json:"volatility"`
}

// Status returns a point-in-time view of the controller.
func (c *Controller) Status() Status {
	st := Status{
		Bankroll:      c.bank.Snapshot(),
		StartingCash:  c.bank.StartingCash(),
		Evaluating:    c.busy.Load(),
		PendingTrades: len(c.ledger.Pending()),
		Volatility:    pricing.DefaultVol,
	}
	if c.vol != nil {
		st.Volatility = c.vol.Vol()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st.BreakerTripped = c.tripped
	st.Strategy = c.strat.Name()
	st.TradedWindows = len(c.traded)
	st.LastTrade = c.lastTrade
	st.LastSignal = c.lastSignal
	return st
}

// Trades returns the in-memory trade log, oldest first.
func (c *Controller) Trades() []paper.Trade {
	return c.ledger.Snapshot()
}
