package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"polyarb-go/internal/analytics"
	"polyarb-go/internal/config"
	"polyarb-go/internal/control"
	"polyarb-go/internal/engine"
	"polyarb-go/internal/exchange"
	"polyarb-go/internal/execution"
	"polyarb-go/internal/metrics"
	"polyarb-go/internal/paper"
	"polyarb-go/internal/pricing"
	sig "polyarb-go/internal/signal"
	"polyarb-go/internal/store"
	"polyarb-go/internal/util"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	envFile := flag.String("env", ".env", "optional dotenv file with POLYARB_* overrides")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	if err := cfg.ApplyEnv(*envFile); err != nil {
		boot.Fatal().Err(err).Msg("apply env overrides")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid config after env overrides")
	}
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.Paper.DBPath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}
	db, err := store.OpenSQLite(cfg.Paper.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Paper.DBPath).Msg("open store")
	}
	defer db.Close()

	bank := paper.NewBankroll(decimal.NewFromFloat(cfg.Paper.StartingCash))
	if state, ok, err := db.LoadBankroll(ctx); err != nil {
		log.Fatal().Err(err).Msg("load bankroll")
	} else if ok {
		bank.Restore(state)
		log.Info().Str("available", state.Available.StringFixed(2)).Str("pnl", state.CumulativePnL.StringFixed(2)).Bool("paused", state.Paused).Msg("bankroll restored")
	}

	window := time.Duration(cfg.Venue.WindowSecs) * time.Second
	venue, stub, err := buildVenue(cfg, window)
	if err != nil {
		log.Fatal().Err(err).Msg("build venue")
	}

	sink, err := buildSink(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build analytics sink")
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("close analytics sink")
		}
	}()

	ctrl, err := engine.New(settingsFrom(cfg), engine.Deps{
		Venue:        venue,
		Executor:     execution.NewPaperExecutor(log),
		Bankroll:     bank,
		Ledger:       paper.NewLedger(256),
		Store:        db,
		Sink:         sink,
		Volatility:   pricing.NewSampler(time.Duration(cfg.Controller.VolSampleSecs)*time.Second, cfg.Controller.VolHistory),
		Window:       window,
		QuoteTimeout: time.Duration(cfg.Venue.RequestTimeoutMs) * time.Millisecond,
		Retention:    time.Duration(cfg.Controller.WindowRetentionMins) * time.Minute,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	recent, err := db.RecentTrades(ctx, 256)
	if err != nil {
		log.Fatal().Err(err).Msg("load recent trades")
	}
	pending, err := db.PendingTrades(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load pending trades")
	}
	ctrl.Restore(append(recent, pending...))
	retention := time.Duration(cfg.Controller.WindowRetentionMins) * time.Minute
	windows, err := db.TradedWindows(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Fatal().Err(err).Msg("load traded windows")
	}
	ctrl.MarkTraded(windows)
	log.Info().Int("recent", len(recent)).Int("pending", len(pending)).Int("traded_windows", len(windows)).Msg("engine state restored")

	mux := metrics.Handler()
	control.Register(mux, ctrl, log)
	srv := metrics.Serve(cfg.App.MetricsAddr, mux)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics and control up")

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.Settlement.Schedule, func() {
		res := ctrl.Settle(ctx)
		if res.Checked > 0 {
			log.Info().Int("checked", res.Checked).Int("settled", res.Settled).Int("unresolved", res.Unresolved).Int("errors", res.Errors).Msg("settlement pass")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Settlement.Schedule).Msg("schedule settlement")
	}
	scheduler.Start()

	ticks := make(chan sig.PriceObservation, 1024)
	feeds := []*exchange.Feed{exchange.NewFeed(cfg.Feed.Provider, cfg.Feed.Symbol, sig.Primary, log, feedOpts(cfg.Feed.URL, cfg.Feed.StubBase)...)}
	if cfg.Feed.Secondary.Enabled {
		feeds = append(feeds, exchange.NewFeed(cfg.Feed.Secondary.Provider, cfg.Feed.Secondary.Symbol, sig.Secondary, log, feedOpts(cfg.Feed.Secondary.URL, cfg.Feed.StubBase)...))
	}
	raw := make(chan sig.PriceObservation, 1024)
	for _, feed := range feeds {
		go func(f *exchange.Feed) {
			if err := f.Run(ctx, raw); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("provider", f.Provider()).Msg("feed stopped")
				cancel()
			}
		}(feed)
	}
	go tee(ctx, raw, ticks, stub)

	log.Info().
		Str("strategy", cfg.Strategy.Mode).
		Str("feed", cfg.Feed.Provider).
		Str("venue", cfg.Venue.Provider).
		Bool("confirmation", cfg.Controller.RequireConfirmation).
		Msg("paper engine started")
	if err := ctrl.Run(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped")
	}

	log.Info().Msg("shutting down")
	<-scheduler.Stop().Done()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}

func settingsFrom(cfg *config.Config) engine.Settings {
	return engine.Settings{
		Strategy:            cfg.Strategy.Mode,
		Params:              cfg.Strategy.Params,
		KellyFraction:       cfg.Risk.KellyFraction,
		BetFloor:            cfg.Risk.BetFloor,
		BetCeiling:          cfg.Risk.BetCeiling,
		MinViableBet:        cfg.Risk.MinViableBet,
		PnLFloor:            cfg.Risk.PnLFloor,
		CooldownSecs:        cfg.Controller.CooldownSecs,
		MinElapsedSecs:      cfg.Controller.MinElapsedSecs,
		MaxElapsedSecs:      cfg.Controller.MaxElapsedSecs,
		RequireConfirmation: cfg.Controller.RequireConfirmation,
		ConfirmStaleSecs:    cfg.Controller.ConfirmStaleSecs,
		ShareDecimals:       cfg.Controller.ShareDecimals,
		MaxTickAgeSecs:      cfg.Controller.MaxTickAgeSecs,
	}
}

// buildVenue returns the configured venue. The stub is also returned so ticks
// can drive its self-resolution.
func buildVenue(cfg *config.Config, window time.Duration) (engine.Venue, *exchange.StubVenue, error) {
	if cfg.Venue.Provider == exchange.VenuePolymarket {
		v, err := exchange.NewPolymarketVenue(cfg.Venue.GammaURL, cfg.Venue.SlugPrefix, time.Duration(cfg.Venue.RequestTimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, nil, err
		}
		return v.WithMinLiquidity(decimal.NewFromFloat(cfg.Venue.MinLiquidityUSD)), nil, nil
	}
	stub := exchange.NewStubVenue(decimal.NewFromFloat(cfg.Venue.StubUp), decimal.NewFromFloat(cfg.Venue.StubDown), window)
	return stub, stub, nil
}

func buildSink(cfg *config.Config) (analytics.Sink, error) {
	recorder, err := analytics.NewJSONLRecorder(cfg.Paper.LossesPath)
	if err != nil {
		return nil, err
	}
	sinks := analytics.Multi{recorder}
	if cfg.Analytics.Kafka.Enabled {
		kafka, err := analytics.NewKafkaSink(cfg.Analytics.Kafka.Brokers, cfg.Analytics.Kafka.Topic)
		if err != nil {
			recorder.Close()
			return nil, err
		}
		sinks = append(sinks, kafka)
	}
	return sinks, nil
}

func feedOpts(url string, stubBase float64) []exchange.Option {
	var opts []exchange.Option
	if url != "" {
		opts = append(opts, exchange.WithURL(url))
	}
	if stubBase > 0 {
		opts = append(opts, exchange.WithStubBase(decimal.NewFromFloat(stubBase)))
	}
	return opts
}

// tee forwards feed ticks to the engine, letting a stub venue watch primary prices.
func tee(ctx context.Context, in <-chan sig.PriceObservation, out chan<- sig.PriceObservation, stub *exchange.StubVenue) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-in:
			if stub != nil && obs.Source == sig.Primary {
				stub.Observe(obs)
			}
			select {
			case out <- obs:
			case <-ctx.Done():
				return
			}
		}
	}
}
