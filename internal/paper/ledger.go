package paper

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/signal"
)

// TradeStatus tracks a trade through settlement.
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusWon     TradeStatus = "won"
	StatusLost    TradeStatus = "lost"
)

// Trade is one filled order and, once resolved, its outcome.
type Trade struct {
	ID           string           `json:"id"`
	WindowStart  time.Time        `json:"window_start"`
	Direction    signal.Direction `json:"direction"`
	Price        decimal.Decimal  `json:"price"`
	Shares       decimal.Decimal  `json:"shares"`
	Stake        decimal.Decimal  `json:"stake"`
	FairValue    decimal.Decimal  `json:"fair_value"`
	EdgeCents    decimal.Decimal  `json:"edge_cents"`
	DeltaUSD     decimal.Decimal  `json:"delta_usd"`
	DeltaPercent decimal.Decimal  `json:"delta_percent"`
	Elapsed      time.Duration    `json:"elapsed"`
	Status       TradeStatus      `json:"status"`
	Payout       decimal.Decimal  `json:"payout"`
	PnL          decimal.Decimal  `json:"pnl"`
	CreatedAt    time.Time        `json:"created_at"`
	SettledAt    time.Time        `json:"settled_at,omitempty"`
}

// Ledger stores trades in memory keyed by ID for quick inspection.
type Ledger struct {
	mu     sync.Mutex
	trades map[string]Trade
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{trades: make(map[string]Trade, capacity)}
}

// Record inserts or replaces a trade.
func (l *Ledger) Record(trade Trade) {
	l.mu.Lock()
	l.trades[trade.ID] = trade
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded trades, oldest first.
func (l *Ledger) Snapshot() []Trade {
	l.mu.Lock()
	out := make([]Trade, 0, len(l.trades))
	for _, tr := range l.trades {
		out = append(out, tr)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Pending returns unresolved trades, oldest first.
func (l *Ledger) Pending() []Trade {
	all := l.Snapshot()
	out := all[:0]
	for _, tr := range all {
		if tr.Status == StatusPending {
			out = append(out, tr)
		}
	}
	return out
}

// Prune drops settled trades created before cutoff.
func (l *Ledger) Prune(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, tr := range l.trades {
		if tr.Status != StatusPending && tr.CreatedAt.Before(cutoff) {
			delete(l.trades, id)
		}
	}
}

