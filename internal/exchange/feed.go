// Package exchange hosts the reference price feeds and the prediction venue client.
package exchange

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyarb-go/internal/metrics"
	"polyarb-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"
	// ProviderRTDS streams Chainlink reference prices from Polymarket's real-time data socket.
	ProviderRTDS = "rtds"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbol       string
	source       signal.Source
	url          string
	log          zerolog.Logger
	pollInterval time.Duration
	pingInterval time.Duration
	stubBase     decimal.Decimal
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPingInterval = 15 * time.Second
	maxBackoff          = 30 * time.Second
)

// WithPollInterval overrides the stub tick cadence.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithURL points a streaming provider at a non-default endpoint.
func WithURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.url = url
		}
	}
}

// WithPingInterval overrides the websocket keepalive cadence.
func WithPingInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pingInterval = d
		}
	}
}

// WithStubBase sets the price the stub walk oscillates around.
func WithStubBase(px decimal.Decimal) Option {
	return func(f *Feed) {
		if px.IsPositive() {
			f.stubBase = px
		}
	}
}

// NewFeed constructs a feed backed by the requested provider. Every observation
// it emits is tagged with source.
func NewFeed(provider, symbol string, source signal.Source, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		symbol:       strings.TrimSpace(symbol),
		source:       source,
		log:          log.With().Str("feed", string(source)).Logger(),
		pollInterval: defaultPollInterval,
		pingInterval: defaultPingInterval,
		stubBase:     decimal.NewFromInt(100_000),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider returns the normalized provider name.
func (f *Feed) Provider() string { return f.provider }

// Run pushes observations onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.PriceObservation) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	case ProviderRTDS:
		return f.runRTDS(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- signal.PriceObservation, obs signal.PriceObservation) error {
	select {
	case out <- obs:
		metrics.TicksTotal.WithLabelValues(string(obs.Source)).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.PriceObservation) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			n++
			offset := decimal.NewFromFloat(80 * math.Sin(float64(n)/40)).Round(2)
			obs := signal.PriceObservation{Price: f.stubBase.Add(offset), Source: f.source, ObservedAt: ts}
			if err := f.emit(ctx, out, obs); err != nil {
				return err
			}
		}
	}
}

// reconnect runs consume until ctx ends, backing off between failed sessions.
func (f *Feed) reconnect(ctx context.Context, consume func(context.Context) error) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		f.log.Warn().Err(err).Str("provider", f.provider).Msg("feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}
