package pricing

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultVol is used when there is not enough history to estimate.
	DefaultVol = 0.60
	// MinVol and MaxVol bound every estimate.
	MinVol = 0.20
	MaxVol = 1.50
)

// AnnualizedVol estimates annualized volatility from prices sampled every interval.
// Fewer than three usable samples yield DefaultVol; the result is clamped to [MinVol, MaxVol].
func AnnualizedVol(prices []decimal.Decimal, interval time.Duration) float64 {
	if len(prices) < 3 || interval <= 0 {
		return DefaultVol
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if !prev.IsPositive() || !cur.IsPositive() {
			continue
		}
		returns = append(returns, math.Log(cur.InexactFloat64()/prev.InexactFloat64()))
	}
	if len(returns) < 2 {
		return DefaultVol
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	vol := std * math.Sqrt(SecondsPerYear/interval.Seconds())
	if math.IsNaN(vol) {
		return DefaultVol
	}
	return clamp(vol, MinVol, MaxVol)
}

// Sampler keeps the last price of each fixed interval in a bounded ring, turning an
// irregular tick stream into the evenly spaced series AnnualizedVol expects.
type Sampler struct {
	mu       sync.Mutex
	interval time.Duration
	capacity int
	samples  []decimal.Decimal
	lastSlot int64
}

// NewSampler builds a sampler retaining capacity samples spaced interval apart.
func NewSampler(interval time.Duration, capacity int) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	if capacity < 3 {
		capacity = 3
	}
	return &Sampler{interval: interval, capacity: capacity, lastSlot: math.MinInt64}
}

// Add records price at t. A later tick in the same slot overwrites the slot's sample.
func (s *Sampler) Add(price decimal.Decimal, t time.Time) {
	if !price.IsPositive() {
		return
	}
	slot := t.UnixNano() / int64(s.interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case slot == s.lastSlot && len(s.samples) > 0:
		s.samples[len(s.samples)-1] = price
	case slot > s.lastSlot:
		s.samples = append(s.samples, price)
		if len(s.samples) > s.capacity {
			s.samples = s.samples[len(s.samples)-s.capacity:]
		}
		s.lastSlot = slot
	}
}

// Snapshot returns a copy of the retained samples, oldest first.
func (s *Sampler) Snapshot() []decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]decimal.Decimal, len(s.samples))
	copy(out, s.samples)
	return out
}

// Vol estimates annualized volatility over the retained samples.
func (s *Sampler) Vol() float64 {
	return AnnualizedVol(s.Snapshot(), s.interval)
}

// Interval returns the sampling interval.
func (s *Sampler) Interval() time.Duration { return s.interval }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
