package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyarb-go/internal/engine"
	"polyarb-go/internal/exchange"
	"polyarb-go/internal/execution"
	"polyarb-go/internal/paper"
	"polyarb-go/internal/signal"
)

var start = time.Unix(1_700_000_100, 0).UTC()

func newServer(t *testing.T) (*httptest.Server, *engine.Controller) {
	t.Helper()
	ctrl, err := engine.New(engine.DefaultSettings(), engine.Deps{
		Venue:    exchange.NewStubVenue(decimal.RequireFromString("0.5"), decimal.RequireFromString("0.5"), 5*time.Minute),
		Executor: execution.NewPaperExecutor(zerolog.Nop()),
		Bankroll: paper.NewBankroll(decimal.NewFromInt(1000)),
		Window:   5 * time.Minute,
		Now:      func() time.Time { return start.Add(200 * time.Second) },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	mux := http.NewServeMux()
	Register(mux, ctrl, zerolog.Nop())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, ctrl
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	srv, ctrl := newServer(t)

	resp, err := http.Post(srv.URL+"/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	var st engine.Status
	decodeBody(t, resp, &st)
	if !st.Bankroll.Paused {
		t.Fatalf("expected paused status, got %+v", st.Bankroll)
	}
	if sig := ctrl.Evaluate(context.Background(), start.Add(200*time.Second)); sig.Skip != signal.SkipPaused {
		t.Fatalf("expected paused skip, got %q", sig.Skip)
	}

	resp, err = http.Post(srv.URL+"/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	decodeBody(t, resp, &st)
	if st.Bankroll.Paused || st.BreakerTripped {
		t.Fatalf("expected running status, got %+v", st)
	}
}

func TestPauseRequiresPost(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/pause")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestConfigPartialUpdate(t *testing.T) {
	srv, ctrl := newServer(t)

	body := `{"kelly_fraction":0.5,"params":{"min_edge_cents":12}}`
	resp, err := http.Post(srv.URL+"/config", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got engine.Settings
	decodeBody(t, resp, &got)
	if got.KellyFraction != 0.5 || got.Params.MinEdgeCents != 12 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.BetCeiling != 50 || got.Params.MinDeltaUSD != 40 {
		t.Fatalf("omitted fields must keep their values: %+v", got)
	}
	if ctrl.Settings().KellyFraction != 0.5 {
		t.Fatalf("controller not reconfigured")
	}
}

func TestConfigRejectsInvalid(t *testing.T) {
	srv, ctrl := newServer(t)
	cases := map[string]string{
		"out of range": `{"kelly_fraction":2}`,
		"unknown":      `{"kelly":0.5}`,
		"malformed":    `{"kelly_fraction":`,
		"strategy":     `{"strategy":"obi"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/config", "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			var out map[string]string
			decodeBody(t, resp, &out)
			if resp.StatusCode != http.StatusBadRequest || out["error"] == "" {
				t.Fatalf("expected 400 with error, got %d %v", resp.StatusCode, out)
			}
		})
	}
	if ctrl.Settings().KellyFraction != 0.25 {
		t.Fatalf("rejected update leaked into settings")
	}
}

func TestTradesAndStatus(t *testing.T) {
	srv, ctrl := newServer(t)
	ctrl.Observe(signal.PriceObservation{Price: decimal.NewFromInt(100000), Source: signal.Primary, ObservedAt: start.Add(time.Second)})
	ctrl.Observe(signal.PriceObservation{Price: decimal.NewFromInt(100060), Source: signal.Primary, ObservedAt: start.Add(200 * time.Second)})
	if sig := ctrl.Evaluate(context.Background(), start.Add(200*time.Second)); sig.Direction != signal.Up {
		t.Fatalf("expected a trade, got %s %v", sig.Skip, sig.Reasons)
	}

	resp, err := http.Get(srv.URL + "/trades?limit=5")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	var trades []paper.Trade
	decodeBody(t, resp, &trades)
	if len(trades) != 1 || trades[0].Direction != signal.Up || trades[0].Status != paper.StatusPending {
		t.Fatalf("unexpected trades %+v", trades)
	}

	resp, err = http.Get(srv.URL + "/trades?limit=x")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st engine.Status
	decodeBody(t, resp, &st)
	if st.PendingTrades != 1 || st.TradedWindows != 1 || st.LastSignal.Direction != signal.Up {
		t.Fatalf("unexpected status %+v", st)
	}
	if !st.Bankroll.Available.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("unexpected available %s", st.Bankroll.Available)
	}
}
