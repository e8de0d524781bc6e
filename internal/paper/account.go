// Package paper tracks virtual capital and the trade log while the bot runs against a simulated executor.
package paper

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/metrics"
	"polyarb-go/internal/signal"
)

// ErrInsufficientCash is returned when a stake exceeds available balance.
var ErrInsufficientCash = errors.New("insufficient cash for stake")

// Bankroll owns the BankrollState. Stakes are debited when a fill arrives and
// payouts credited at settlement; every read-modify-write happens under mu.
type Bankroll struct {
	mu           sync.Mutex
	startingCash decimal.Decimal
	available    decimal.Decimal
	pnl          decimal.Decimal
	wins         int
	losses       int
	paused       bool
}

// NewBankroll constructs a bankroll funded with startingCash.
func NewBankroll(startingCash decimal.Decimal) *Bankroll {
	b := &Bankroll{startingCash: startingCash, available: startingCash}
	b.publish()
	return b
}

// StartingCash returns the initial bankroll.
func (b *Bankroll) StartingCash() decimal.Decimal { return b.startingCash }

// Restore replaces the live state, e.g. after loading a persisted snapshot.
func (b *Bankroll) Restore(state signal.BankrollState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = state.Available
	b.pnl = state.CumulativePnL
	b.wins = state.Wins
	b.losses = state.Losses
	b.paused = state.Paused
	b.publish()
}

// Reserve debits a stake for a newly filled order.
func (b *Bankroll) Reserve(cost decimal.Decimal) error {
	if !cost.IsPositive() {
		return errors.New("stake must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cost.GreaterThan(b.available) {
		return ErrInsufficientCash
	}
	b.available = b.available.Sub(cost)
	b.publish()
	return nil
}

// Settle credits payout for a resolved stake and returns the realized P&L.
func (b *Bankroll) Settle(stake, payout decimal.Decimal) decimal.Decimal {
	realized := payout.Sub(stake)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = b.available.Add(payout)
	b.pnl = b.pnl.Add(realized)
	if payout.GreaterThan(stake) {
		b.wins++
	} else {
		b.losses++
	}
	b.publish()
	return realized
}

// SetPaused toggles the global trading halt.
func (b *Bankroll) SetPaused(paused bool) {
	b.mu.Lock()
	b.paused = paused
	b.mu.Unlock()
}

// Paused reports whether trading is halted.
func (b *Bankroll) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Snapshot returns a copy of the current state.
func (b *Bankroll) Snapshot() signal.BankrollState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return signal.BankrollState{
		Available:     b.available,
		CumulativePnL: b.pnl,
		Wins:          b.wins,
		Losses:        b.losses,
		Paused:        b.paused,
	}
}

func (b *Bankroll) publish() {
	metrics.AvailableBalance.Set(b.available.InexactFloat64())
	metrics.CumulativePnL.Set(b.pnl.InexactFloat64())
}
