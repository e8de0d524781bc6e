// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"polyarb-go/internal/strategy"
)

// App captures process-wide runtime settings such as name, environment, listeners, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// SecondaryFeed configures the optional confirmation source.
type SecondaryFeed struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	URL      string `yaml:"url"`
	Symbol   string `yaml:"symbol"`
}

// Feed selects the primary reference price stream.
type Feed struct {
	Provider  string        `yaml:"provider"`
	Symbol    string        `yaml:"symbol"`
	URL       string        `yaml:"url"`
	StubBase  float64       `yaml:"stub_base"`
	Secondary SecondaryFeed `yaml:"secondary"`
}

// Venue describes where per-window markets are quoted.
type Venue struct {
	Provider         string  `yaml:"provider"`
	GammaURL         string  `yaml:"gamma_url"`
	SlugPrefix       string  `yaml:"slug_prefix"`
	WindowSecs       int     `yaml:"window_secs"`
	RequestTimeoutMs int     `yaml:"request_timeout_ms"`
	MinLiquidityUSD  float64 `yaml:"min_liquidity_usd"`
	StubUp           float64 `yaml:"stub_up"`
	StubDown         float64 `yaml:"stub_down"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode   string          `yaml:"mode"`
	Params strategy.Params `yaml:"params"`
}

// Risk encodes guard-rails for how much size a signal may take on.
type Risk struct {
	KellyFraction float64 `yaml:"kelly_fraction"`
	BetFloor      float64 `yaml:"bet_floor"`
	BetCeiling    float64 `yaml:"bet_ceiling"`
	MinViableBet  float64 `yaml:"min_viable_bet"`
	PnLFloor      float64 `yaml:"pnl_floor"`
}

// Controller tunes the per-tick gating pipeline.
type Controller struct {
	CooldownSecs        int  `yaml:"cooldown_secs"`
	MinElapsedSecs      int  `yaml:"min_elapsed_secs"`
	MaxElapsedSecs      int  `yaml:"max_elapsed_secs"`
	RequireConfirmation bool `yaml:"require_confirmation"`
	ConfirmStaleSecs    int  `yaml:"confirm_stale_secs"`
	ShareDecimals       int  `yaml:"share_decimals"`
	MaxTickAgeSecs      int  `yaml:"max_tick_age_secs"`
	VolSampleSecs       int  `yaml:"vol_sample_secs"`
	VolHistory          int  `yaml:"vol_history"`
	WindowRetentionMins int  `yaml:"window_retention_mins"`
}

// Paper captures paper-trading account settings and output paths.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash"`
	DBPath       string  `yaml:"db_path"`
	LossesPath   string  `yaml:"losses_path"`
}

// Settlement configures the resolution retry timer.
type Settlement struct {
	Schedule string `yaml:"schedule"`
}

// Kafka configures the optional loss record publisher.
type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Analytics groups post-mortem outputs beyond the JSONL file.
type Analytics struct {
	Kafka Kafka `yaml:"kafka"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Feed       Feed       `yaml:"feed"`
	Venue      Venue      `yaml:"venue"`
	Strategy   Strategy   `yaml:"strategy"`
	Risk       Risk       `yaml:"risk"`
	Controller Controller `yaml:"controller"`
	Paper      Paper      `yaml:"paper"`
	Settlement Settlement `yaml:"settlement"`
	Analytics  Analytics  `yaml:"analytics"`
}

// Defaults returns a config that runs offline against stub feeds.
func Defaults() Config {
	return Config{
		App: App{Name: "polyarb", Env: "dev", MetricsAddr: ":9102", LogLevel: "info"},
		Feed: Feed{
			Provider: "stub",
			Symbol:   "BTCUSDT",
			StubBase: 100_000,
			Secondary: SecondaryFeed{
				Provider: "rtds",
				Symbol:   "btc/usd",
			},
		},
		Venue: Venue{
			Provider:         "stub",
			GammaURL:         "https://gamma-api.polymarket.com",
			SlugPrefix:       "btc-updown-5m",
			WindowSecs:       300,
			RequestTimeoutMs: 2000,
			StubUp:           0.5,
			StubDown:         0.5,
		},
		Strategy: Strategy{Mode: strategy.ModeArb, Params: strategy.DefaultParams()},
		Risk: Risk{
			KellyFraction: 0.25,
			BetFloor:      10,
			BetCeiling:    50,
			MinViableBet:  5,
			PnLFloor:      -100,
		},
		Controller: Controller{
			CooldownSecs:        30,
			MinElapsedSecs:      10,
			MaxElapsedSecs:      285,
			ConfirmStaleSecs:    30,
			ShareDecimals:       2,
			MaxTickAgeSecs:      10,
			VolSampleSecs:       5,
			VolHistory:          120,
			WindowRetentionMins: 60,
		},
		Paper:      Paper{StartingCash: 1000, DBPath: "data/polyarb.db", LossesPath: "data/losses.jsonl"},
		Settlement: Settlement{Schedule: "@every 15s"},
		Analytics:  Analytics{Kafka: Kafka{Topic: "polyarb.losses"}},
	}
}

// Load reads a YAML file from disk on top of Defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Defaults()
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Venue.WindowSecs <= 0 {
		errs = append(errs, errors.New("venue.window_secs must be positive"))
	}
	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		errs = append(errs, errors.New("risk.kelly_fraction must be in (0, 1]"))
	}
	if c.Risk.BetFloor < 0 || c.Risk.BetCeiling < c.Risk.BetFloor {
		errs = append(errs, errors.New("risk.bet_ceiling must be >= risk.bet_floor >= 0"))
	}
	if c.Risk.PnLFloor > 0 {
		errs = append(errs, errors.New("risk.pnl_floor must not be positive"))
	}
	if c.Controller.MaxElapsedSecs > 0 && c.Controller.MaxElapsedSecs <= c.Controller.MinElapsedSecs {
		errs = append(errs, errors.New("controller.max_elapsed_secs must exceed min_elapsed_secs"))
	}
	if c.Controller.MaxElapsedSecs > c.Venue.WindowSecs {
		errs = append(errs, errors.New("controller.max_elapsed_secs must fit inside the window"))
	}
	if c.Controller.MaxTickAgeSecs < 0 {
		errs = append(errs, errors.New("controller.max_tick_age_secs must not be negative"))
	}
	if c.Feed.StubBase < 0 {
		errs = append(errs, errors.New("feed.stub_base must not be negative"))
	}
	if c.Paper.StartingCash <= 0 {
		errs = append(errs, errors.New("paper.starting_cash must be positive"))
	}
	if c.Analytics.Kafka.Enabled && len(c.Analytics.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("analytics.kafka.brokers required when enabled"))
	}
	if !strategy.ValidMode(c.Strategy.Mode) {
		errs = append(errs, fmt.Errorf("unknown strategy.mode %q", c.Strategy.Mode))
	}
	return errors.Join(errs...)
}

// ApplyEnv loads an optional .env file and overlays POLYARB_* variables.
// A missing envFile is not an error.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *float64) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("POLYARB_LOG_LEVEL", &c.App.LogLevel)
	str("POLYARB_METRICS_ADDR", &c.App.MetricsAddr)
	str("POLYARB_FEED_PROVIDER", &c.Feed.Provider)
	str("POLYARB_VENUE_PROVIDER", &c.Venue.Provider)
	str("POLYARB_GAMMA_URL", &c.Venue.GammaURL)
	str("POLYARB_STRATEGY_MODE", &c.Strategy.Mode)
	str("POLYARB_DB_PATH", &c.Paper.DBPath)
	num("POLYARB_STARTING_CASH", &c.Paper.StartingCash)
	num("POLYARB_PNL_FLOOR", &c.Risk.PnLFloor)
	num("POLYARB_KELLY_FRACTION", &c.Risk.KellyFraction)
	flag("POLYARB_REQUIRE_CONFIRMATION", &c.Controller.RequireConfirmation)
	flag("POLYARB_KAFKA_ENABLED", &c.Analytics.Kafka.Enabled)
	if v := strings.TrimSpace(os.Getenv("POLYARB_KAFKA_BROKERS")); v != "" {
		c.Analytics.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Analytics.Kafka.Brokers = append(c.Analytics.Kafka.Brokers, b)
			}
		}
	}
	return errors.Join(errs...)
}
