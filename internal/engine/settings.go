package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/risk"
	"polyarb-go/internal/strategy"
)

// Settings are the operator-tunable knobs. They can be replaced at runtime
// through Reconfigure without restarting feeds.
type Settings struct {
	Strategy            string          `json:"strategy"`
	Params              strategy.Params `json:"params"`
	KellyFraction       float64         `json:"kelly_fraction"`
	BetFloor            float64         `json:"bet_floor"`
	BetCeiling          float64         `json:"bet_ceiling"`
	MinViableBet        float64         `json:"min_viable_bet"`
	PnLFloor            float64         `json:"pnl_floor"`
	CooldownSecs        int             `json:"cooldown_secs"`
	MinElapsedSecs      int             `json:"min_elapsed_secs"`
	MaxElapsedSecs      int             `json:"max_elapsed_secs"`
	RequireConfirmation bool            `json:"require_confirmation"`
	ConfirmStaleSecs    int             `json:"confirm_stale_secs"`
	ShareDecimals       int             `json:"share_decimals"`
	MaxTickAgeSecs      int             `json:"max_tick_age_secs"`
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		Strategy:         strategy.ModeArb,
		Params:           strategy.DefaultParams(),
		KellyFraction:    0.25,
		BetFloor:         10,
		BetCeiling:       50,
		MinViableBet:     5,
		PnLFloor:         -100,
		CooldownSecs:     30,
		MinElapsedSecs:   10,
		MaxElapsedSecs:   285,
		ConfirmStaleSecs: 30,
		ShareDecimals:    2,
		MaxTickAgeSecs:   10,
	}
}

func (s Settings) validate(window time.Duration) error {
	var errs []error
	if !strategy.ValidMode(s.Strategy) {
		errs = append(errs, fmt.Errorf("unknown strategy %q", s.Strategy))
	}
	if s.KellyFraction <= 0 || s.KellyFraction > 1 {
		errs = append(errs, errors.New("kelly_fraction must be in (0, 1]"))
	}
	if s.BetFloor < 0 || s.BetCeiling < s.BetFloor {
		errs = append(errs, errors.New("bet_ceiling must be >= bet_floor >= 0"))
	}
	if s.MinViableBet < 0 {
		errs = append(errs, errors.New("min_viable_bet must not be negative"))
	}
	if s.PnLFloor > 0 {
		errs = append(errs, errors.New("pnl_floor must not be positive"))
	}
	if s.CooldownSecs < 0 || s.ConfirmStaleSecs < 0 || s.ShareDecimals < 0 || s.MaxTickAgeSecs < 0 {
		errs = append(errs, errors.New("durations and share_decimals must not be negative"))
	}
	if s.MinElapsedSecs < 0 || s.MaxElapsedSecs <= s.MinElapsedSecs {
		errs = append(errs, errors.New("max_elapsed_secs must exceed min_elapsed_secs >= 0"))
	}
	if time.Duration(s.MaxElapsedSecs)*time.Second > window {
		errs = append(errs, fmt.Errorf("max_elapsed_secs must fit inside the %s window", window))
	}
	return errors.Join(errs...)
}

func (s Settings) sizer() risk.Sizer {
	return risk.NewSizer(s.KellyFraction, s.BetFloor, s.BetCeiling, s.MinViableBet, s.ShareDecimals)
}

func (s Settings) breaker() risk.Breaker {
	return risk.Breaker{Floor: decimal.NewFromFloat(s.PnLFloor)}
}

func (s Settings) cooldown() time.Duration { return time.Duration(s.CooldownSecs) * time.Second }
func (s Settings) minElapsed() time.Duration {
	return time.Duration(s.MinElapsedSecs) * time.Second
}
func (s Settings) maxElapsed() time.Duration {
	return time.Duration(s.MaxElapsedSecs) * time.Second
}
func (s Settings) confirmStale() time.Duration {
	return time.Duration(s.ConfirmStaleSecs) * time.Second
}

// maxTickAge bounds how old the primary price may be at evaluation. Zero disables the check.
func (s Settings) maxTickAge() time.Duration {
	return time.Duration(s.MaxTickAgeSecs) * time.Second
}
