package strategy

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/pricing"
	"polyarb-go/internal/signal"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var windowStart = time.Unix(1_700_000_100, 0).UTC()

func input(open, current string, elapsed time.Duration, up, down string) Input {
	in := Input{
		WindowStart:  windowStart,
		Window:       5 * time.Minute,
		OpenPrice:    dec(open),
		CurrentPrice: dec(current),
		Elapsed:      elapsed,
		Volatility:   pricing.DefaultVol,
		Now:          windowStart.Add(elapsed),
	}
	if up != "" || down != "" {
		q := signal.MarketQuote{WindowStart: windowStart}
		if up != "" {
			q.Up = dec(up)
		}
		if down != "" {
			q.Down = dec(down)
		}
		in.Quote = &q
	}
	return in
}

func hasReason(s signal.Signal, fragment string) bool {
	for _, r := range s.Reasons {
		if strings.Contains(r, fragment) {
			return true
		}
	}
	return false
}

func TestScenarioAUpSignal(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	sig, err := strat.Evaluate(input("100000", "100060", 200*time.Second, "0.50", "0.50"))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig.Direction != signal.Up {
		t.Fatalf("expected UP, got %s reasons=%v", sig.Direction, sig.Reasons)
	}
	if !sig.EdgeCents.IsPositive() {
		t.Fatalf("expected positive edge, got %s", sig.EdgeCents)
	}
	if sig.Confidence.GreaterThan(dec("0.95")) || !sig.Confidence.IsPositive() {
		t.Fatalf("confidence out of range: %s", sig.Confidence)
	}
	if !sig.VenuePrice.Equal(dec("0.50")) {
		t.Fatalf("expected venue price recorded, got %s", sig.VenuePrice)
	}
	if sig.Skip != signal.SkipNone {
		t.Fatalf("expected no skip code, got %s", sig.Skip)
	}
}

func TestScenarioBAlreadyPricedIn(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	sig, err := strat.Evaluate(input("100000", "100060", 200*time.Second, "0.70", "0.30"))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig.Direction != signal.None || sig.Skip != signal.SkipPricedIn {
		t.Fatalf("expected priced-in skip, got %s/%s", sig.Direction, sig.Skip)
	}
	if !hasReason(sig, "already priced in") {
		t.Fatalf("expected priced-in reason, got %v", sig.Reasons)
	}
}

func TestScenarioCEarlySmallMove(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	sig, err := strat.Evaluate(input("100000", "100010", 30*time.Second, "0.50", "0.50"))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig.Direction != signal.None || sig.Skip != signal.SkipSmallMove {
		t.Fatalf("expected small-move skip, got %s/%s", sig.Direction, sig.Skip)
	}
	if !hasReason(sig, "move too small") {
		t.Fatalf("expected move-too-small reason, got %v", sig.Reasons)
	}
	if ok, reason := strat.PreCheck(input("100000", "100010", 30*time.Second, "", "")); ok || !strings.Contains(reason, "move too small") {
		t.Fatalf("pre-check should reject: %v %s", ok, reason)
	}
}

func TestEarlyThresholdIsStricter(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	// $60 clears the base threshold late but not the doubled threshold at open.
	if ok, _ := strat.PreCheck(input("100000", "100060", 200*time.Second, "", "")); !ok {
		t.Fatalf("expected late move to pass")
	}
	if ok, _ := strat.PreCheck(input("100000", "100060", 0, "", "")); ok {
		t.Fatalf("expected early move to fail")
	}
}

func TestDownSignal(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	sig, err := strat.Evaluate(input("100000", "99920", 240*time.Second, "0.52", "0.50"))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig.Direction != signal.Down {
		t.Fatalf("expected DOWN, got %s reasons=%v", sig.Direction, sig.Reasons)
	}
	if !sig.DeltaUSD.IsNegative() {
		t.Fatalf("expected negative delta, got %s", sig.DeltaUSD)
	}
}

func TestMissingQuoteIsNoMarket(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	for _, in := range []Input{
		input("100000", "100060", 200*time.Second, "", ""),
		input("100000", "100060", 200*time.Second, "0", "0.5"),
	} {
		sig, err := strat.Evaluate(in)
		if err != nil {
			t.Fatalf("Evaluate returned error: %v", err)
		}
		if sig.Skip != signal.SkipNoMarket {
			t.Fatalf("expected no-market skip, got %s", sig.Skip)
		}
	}
}

func TestVenueDisagreementAndOverride(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	sig, err := strat.Evaluate(input("100000", "100070", 200*time.Second, "0.45", "0.55"))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig.Skip != signal.SkipDisagree {
		t.Fatalf("expected disagreement skip, got %s reasons=%v", sig.Skip, sig.Reasons)
	}

	sig, err = strat.Evaluate(input("100000", "100200", 200*time.Second, "0.45", "0.55"))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig.Direction != signal.Up {
		t.Fatalf("expected override to allow UP, got %s reasons=%v", sig.Direction, sig.Reasons)
	}
	if !hasReason(sig, "override") {
		t.Fatalf("expected override reason, got %v", sig.Reasons)
	}
}

func TestEdgeTooSmall(t *testing.T) {
	params := DefaultParams()
	params.MinEdgeCents = 40
	strat := NewOptionArb(params)
	sig, err := strat.Evaluate(input("100000", "100060", 200*time.Second, "0.50", "0.50"))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig.Skip != signal.SkipLowEdge || !hasReason(sig, "edge too small") {
		t.Fatalf("expected low-edge skip, got %s %v", sig.Skip, sig.Reasons)
	}
}

func TestNoneSignalsCarryZeroSizeAndConfidence(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	inputs := []Input{
		input("100000", "100010", 30*time.Second, "0.50", "0.50"),
		input("100000", "100060", 200*time.Second, "0.70", "0.30"),
		input("100000", "100060", 200*time.Second, "", ""),
		input("100000", "100070", 200*time.Second, "0.45", "0.55"),
	}
	for _, in := range inputs {
		sig, err := strat.Evaluate(in)
		if err != nil {
			t.Fatalf("Evaluate returned error: %v", err)
		}
		if sig.Direction != signal.None {
			continue
		}
		if !sig.RecommendedSize.IsZero() || !sig.Confidence.IsZero() {
			t.Fatalf("None signal carried size=%s confidence=%s", sig.RecommendedSize, sig.Confidence)
		}
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	in := input("100000", "100060", 200*time.Second, "0.50", "0.50")
	first, err := strat.Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	second, err := strat.Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical signals:\n%+v\n%+v", first, second)
	}
}

func TestInvalidInputPropagates(t *testing.T) {
	strat := NewOptionArb(DefaultParams())
	if _, err := strat.Evaluate(input("0", "100060", 200*time.Second, "0.5", "0.5")); !errors.Is(err, pricing.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	in := input("100000", "100060", 200*time.Second, "0.5", "0.5")
	in.Volatility = 0
	if _, err := strat.Evaluate(in); !errors.Is(err, pricing.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero vol, got %v", err)
	}
}

func TestLinearFairValueMonotonic(t *testing.T) {
	strat := NewLinearArb(DefaultParams())
	prev := decimal.Zero
	for _, cur := range []string{"100060", "100100", "100200"} {
		sig, err := strat.Evaluate(input("100000", cur, 200*time.Second, "0.30", "0.70"))
		if err != nil {
			t.Fatalf("Evaluate returned error: %v", err)
		}
		if !sig.FairValue.GreaterThan(prev) {
			t.Fatalf("fair value not increasing in move: %s after %s", sig.FairValue, prev)
		}
		if sig.FairValue.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			t.Fatalf("fair value must stay below 1, got %s", sig.FairValue)
		}
		prev = sig.FairValue
	}

	early, _ := strat.Evaluate(input("100000", "100200", 100*time.Second, "0.30", "0.70"))
	late, _ := strat.Evaluate(input("100000", "100200", 280*time.Second, "0.30", "0.70"))
	if !late.FairValue.GreaterThan(early.FairValue) {
		t.Fatalf("fair value should grow with time: early=%s late=%s", early.FairValue, late.FairValue)
	}
}

func TestBuildSelectsMode(t *testing.T) {
	if Build("arb_linear", DefaultParams()).Name() != "LinearArb" {
		t.Fatalf("expected linear variant")
	}
	if Build("", DefaultParams()).Name() != "OptionArb" {
		t.Fatalf("expected option variant by default")
	}
}
