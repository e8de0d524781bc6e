package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/signal"
)

const (
	// DefaultGammaURL is Polymarket's public market metadata API.
	DefaultGammaURL = "https://gamma-api.polymarket.com"

	VenuePolymarket = "polymarket"
	VenueStub       = "stub"
)

// ErrNoMarket is returned when a window has no tradable market.
var ErrNoMarket = errors.New("no market for window")

// PolymarketVenue looks up per-window UP/DOWN markets by their deterministic slug.
type PolymarketVenue struct {
	host         string
	slugPrefix   string
	minLiquidity decimal.Decimal
	httpClient   *http.Client
}

// NewPolymarketVenue builds a Gamma client. Markets are addressed as <slugPrefix>-<windowStartUnix>.
func NewPolymarketVenue(host, slugPrefix string, timeout time.Duration) (*PolymarketVenue, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = DefaultGammaURL
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}
	if slugPrefix == "" {
		return nil, errors.New("slug prefix required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PolymarketVenue{
		host:       host,
		slugPrefix: slugPrefix,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// WithMinLiquidity treats markets with less USD liquidity as absent.
func (v *PolymarketVenue) WithMinLiquidity(min decimal.Decimal) *PolymarketVenue {
	v.minLiquidity = min
	return v
}

// Slug returns the market slug for a window.
func (v *PolymarketVenue) Slug(windowStart time.Time) string {
	return fmt.Sprintf("%s-%d", v.slugPrefix, windowStart.Unix())
}

// stringList decodes Gamma lists that arrive either as arrays or as JSON-encoded strings.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		b = []byte(raw)
	}
	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

type gammaMarket struct {
	Slug          string              `json:"slug"`
	Active        bool                `json:"active"`
	Closed        bool                `json:"closed"`
	Outcomes      stringList          `json:"outcomes"`
	OutcomePrices stringList          `json:"outcomePrices"`
	BestBid       decimal.NullDecimal `json:"bestBid"`
	BestAsk       decimal.NullDecimal `json:"bestAsk"`
	LiquidityNum  decimal.NullDecimal `json:"liquidityNum"`
}

// outcomePrice returns the quoted price for the outcome whose label matches dir.
func (m gammaMarket) outcomePrice(dir signal.Direction) (decimal.Decimal, bool) {
	for i, label := range m.Outcomes {
		if !strings.EqualFold(strings.TrimSpace(label), string(dir)) || i >= len(m.OutcomePrices) {
			continue
		}
		px, err := decimal.NewFromString(strings.TrimSpace(m.OutcomePrices[i]))
		if err != nil {
			return decimal.Zero, false
		}
		return px, true
	}
	return decimal.Zero, false
}

func (v *PolymarketVenue) fetch(ctx context.Context, windowStart time.Time) (gammaMarket, error) {
	slug := v.Slug(windowStart)
	q := url.Values{}
	q.Set("slug", slug)
	endpoint := v.host + "/markets?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gammaMarket{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polyarb-go/1.0 (paper)")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return gammaMarket{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return gammaMarket{}, fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return gammaMarket{}, fmt.Errorf("gamma decode: %w", err)
	}
	for _, m := range markets {
		if strings.TrimSpace(m.Slug) == slug {
			return m, nil
		}
	}
	// Anything else belongs to another window.
	return gammaMarket{}, fmt.Errorf("%w: slug %s (%d unrelated markets)", ErrNoMarket, slug, len(markets))
}

// firstOutcome returns the direction listed at index 0, which Gamma's
// bestBid/bestAsk describe.
func (m gammaMarket) firstOutcome() signal.Direction {
	if len(m.Outcomes) == 0 {
		return signal.None
	}
	switch {
	case strings.EqualFold(strings.TrimSpace(m.Outcomes[0]), string(signal.Up)):
		return signal.Up
	case strings.EqualFold(strings.TrimSpace(m.Outcomes[0]), string(signal.Down)):
		return signal.Down
	default:
		return signal.None
	}
}

// Quote returns both outcome prices for a window.
func (v *PolymarketVenue) Quote(ctx context.Context, windowStart time.Time) (signal.MarketQuote, error) {
	m, err := v.fetch(ctx, windowStart)
	if err != nil {
		return signal.MarketQuote{}, err
	}
	if m.Closed {
		return signal.MarketQuote{}, fmt.Errorf("%w: %s closed", ErrNoMarket, m.Slug)
	}
	if v.minLiquidity.IsPositive() && m.LiquidityNum.Valid && m.LiquidityNum.Decimal.LessThan(v.minLiquidity) {
		return signal.MarketQuote{}, fmt.Errorf("%w: liquidity %s below %s", ErrNoMarket, m.LiquidityNum.Decimal, v.minLiquidity)
	}
	up, okUp := m.outcomePrice(signal.Up)
	down, okDown := m.outcomePrice(signal.Down)
	if !okUp || !okDown {
		return signal.MarketQuote{}, fmt.Errorf("%w: %s missing outcome prices", ErrNoMarket, m.Slug)
	}

	quote := signal.MarketQuote{WindowStart: windowStart, Up: up, Down: down}
	// Gamma's top of book refers to the first listed outcome; the other book mirrors it.
	first := m.firstOutcome()
	if first == signal.None {
		return quote, nil
	}
	bid, ask := &quote.UpBestBid, &quote.UpBestAsk
	mirrorBid, mirrorAsk := &quote.DownBestBid, &quote.DownBestAsk
	if first == signal.Down {
		bid, ask = &quote.DownBestBid, &quote.DownBestAsk
		mirrorBid, mirrorAsk = &quote.UpBestBid, &quote.UpBestAsk
	}
	one := decimal.NewFromInt(1)
	if m.BestBid.Valid && m.BestBid.Decimal.IsPositive() {
		*bid = m.BestBid.Decimal
		*mirrorAsk = one.Sub(m.BestBid.Decimal)
	}
	if m.BestAsk.Valid && m.BestAsk.Decimal.IsPositive() {
		*ask = m.BestAsk.Decimal
		*mirrorBid = one.Sub(m.BestAsk.Decimal)
	}
	return quote, nil
}

// Resolution reports the winning outcome once the window's market has closed
// with one outcome priced at 1.
func (v *PolymarketVenue) Resolution(ctx context.Context, windowStart time.Time) (signal.Direction, bool, error) {
	m, err := v.fetch(ctx, windowStart)
	if err != nil {
		return signal.None, false, err
	}
	if !m.Closed {
		return signal.None, false, nil
	}
	one := decimal.NewFromInt(1)
	for _, dir := range []signal.Direction{signal.Up, signal.Down} {
		if px, ok := m.outcomePrice(dir); ok && px.Equal(one) {
			return dir, true, nil
		}
	}
	return signal.None, false, nil
}

// StubVenue serves fixed quotes and resolves windows either from explicit
// outcomes or from the reference prices it has observed. It backs offline
// paper runs and tests.
type StubVenue struct {
	mu       sync.Mutex
	quote    signal.MarketQuote
	err      error
	window   time.Duration
	outcomes map[int64]signal.Direction
	opens    map[int64]decimal.Decimal
	closes   map[int64]decimal.Decimal
	latest   time.Time
}

// NewStubVenue quotes both outcomes at the given prices for windows of the given length.
func NewStubVenue(up, down decimal.Decimal, window time.Duration) *StubVenue {
	return &StubVenue{
		quote:    signal.MarketQuote{Up: up, Down: down},
		window:   window,
		outcomes: make(map[int64]signal.Direction),
		opens:    make(map[int64]decimal.Decimal),
		closes:   make(map[int64]decimal.Decimal),
	}
}

// SetQuote replaces the quote returned for every window.
func (s *StubVenue) SetQuote(q signal.MarketQuote) {
	s.mu.Lock()
	s.quote = q
	s.mu.Unlock()
}

// SetError makes subsequent Quote calls fail.
func (s *StubVenue) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Resolve records the winner of a window.
func (s *StubVenue) Resolve(windowStart time.Time, winner signal.Direction) {
	s.mu.Lock()
	s.outcomes[windowStart.Unix()] = winner
	s.mu.Unlock()
}

// Observe records a reference price so windows can later resolve on their own.
func (s *StubVenue) Observe(obs signal.PriceObservation) {
	if s.window <= 0 {
		return
	}
	id := signal.WindowStart(obs.ObservedAt, s.window).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.opens[id]; !ok {
		s.opens[id] = obs.Price
	}
	s.closes[id] = obs.Price
	if obs.ObservedAt.After(s.latest) {
		s.latest = obs.ObservedAt
	}
	for k := range s.opens {
		if k < id-int64(24*time.Hour/time.Second) {
			delete(s.opens, k)
			delete(s.closes, k)
		}
	}
}

func (s *StubVenue) Quote(ctx context.Context, windowStart time.Time) (signal.MarketQuote, error) {
	if err := ctx.Err(); err != nil {
		return signal.MarketQuote{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return signal.MarketQuote{}, s.err
	}
	q := s.quote
	q.WindowStart = windowStart
	return q, nil
}

// Resolution prefers an explicit outcome; otherwise a window whose end has been
// observed resolves Up when it closed at or above its open.
func (s *StubVenue) Resolution(_ context.Context, windowStart time.Time) (signal.Direction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := windowStart.Unix()
	if winner, ok := s.outcomes[id]; ok {
		return winner, true, nil
	}
	open, ok := s.opens[id]
	if !ok || s.latest.Before(windowStart.Add(s.window)) {
		return signal.None, false, nil
	}
	if s.closes[id].GreaterThanOrEqual(open) {
		return signal.Up, true, nil
	}
	return signal.Down, true, nil
}
