package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/signal"
)

// windowBook remembers each window's open price for one source. The first
// observation inside a window fixes its open; later ticks never move it.
type windowBook struct {
	window time.Duration
	opens  map[int64]decimal.Decimal
	latest signal.PriceObservation
	seen   bool
}

func newWindowBook(window time.Duration) *windowBook {
	return &windowBook{window: window, opens: make(map[int64]decimal.Decimal)}
}

// observe records obs and reports whether it opened a new window.
func (b *windowBook) observe(obs signal.PriceObservation) bool {
	if !b.seen || !obs.ObservedAt.Before(b.latest.ObservedAt) {
		b.latest = obs
		b.seen = true
	}
	id := signal.WindowStart(obs.ObservedAt, b.window).Unix()
	if _, ok := b.opens[id]; ok {
		return false
	}
	b.opens[id] = obs.Price
	return true
}

func (b *windowBook) open(start time.Time) (signal.Window, bool) {
	px, ok := b.opens[start.Unix()]
	if !ok {
		return signal.Window{}, false
	}
	return signal.Window{Start: start, OpenPrice: px, Deadline: start.Add(b.window)}, true
}

func (b *windowBook) last() (signal.PriceObservation, bool) {
	return b.latest, b.seen
}

// prune drops windows that started before cutoff.
func (b *windowBook) prune(cutoff time.Time) {
	for id := range b.opens {
		if id < cutoff.Unix() {
			delete(b.opens, id)
		}
	}
}
