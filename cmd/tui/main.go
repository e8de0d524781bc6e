package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"polyarb-go/internal/config"
	"polyarb-go/internal/exchange"
	"polyarb-go/internal/strategy"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	path := flag.String("config", defaultConfigPath, "path to the YAML config")
	flag.Parse()
	configPath := filepath.Clean(*path)

	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== PolyArb Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit bankroll and risk knobs")
		fmt.Println("3) Edit strategy thresholds")
		fmt.Println("4) Edit timing and confirmation")
		fmt.Println("5) Edit feed and venue providers")
		fmt.Println("6) Save config")
		fmt.Println("7) Launch paper bot")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editStrategy(reader, cfg)
		case "4":
			editTiming(reader, cfg)
		case "5":
			editProviders(reader, cfg)
		case "6":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved, config invalid: %v\n", err)
			} else if err := config.Save(configPath, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "7":
			launchPaper(reader, configPath)
		case "8":
			reloaded, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	p := cfg.Strategy.Params
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Starting cash: $%.2f | P&L floor: $%.2f\n", cfg.Paper.StartingCash, cfg.Risk.PnLFloor)
	fmt.Printf("Kelly fraction: %.2f | bet range: $%.2f-$%.2f (min viable $%.2f)\n",
		cfg.Risk.KellyFraction, cfg.Risk.BetFloor, cfg.Risk.BetCeiling, cfg.Risk.MinViableBet)
	fmt.Printf("Strategy: %s | min move: $%.0f / %.3f%% | min edge: %.1fc\n",
		cfg.Strategy.Mode, p.MinDeltaUSD, p.MinDeltaPercent, p.MinEdgeCents)
	fmt.Printf("Priced-in ceiling: %.2f | disagree below: %.2f (override x%.1f)\n",
		p.PricedInCeiling, p.DisagreeBelow, p.OverrideMultiple)
	fmt.Printf("Trading range: %ds-%ds | cooldown: %ds\n",
		cfg.Controller.MinElapsedSecs, cfg.Controller.MaxElapsedSecs, cfg.Controller.CooldownSecs)
	fmt.Printf("Confirmation: %t (stale after %ds)\n", cfg.Controller.RequireConfirmation, cfg.Controller.ConfirmStaleSecs)
	fmt.Printf("Feed: %s %s | secondary: %s %s (enabled %t)\n",
		cfg.Feed.Provider, cfg.Feed.Symbol, cfg.Feed.Secondary.Provider, cfg.Feed.Secondary.Symbol, cfg.Feed.Secondary.Enabled)
	fmt.Printf("Venue: %s (%s, %ds windows)\n", cfg.Venue.Provider, cfg.Venue.SlugPrefix, cfg.Venue.WindowSecs)
	fmt.Printf("Settlement: %s | losses: %s | kafka: %t\n", cfg.Settlement.Schedule, cfg.Paper.LossesPath, cfg.Analytics.Kafka.Enabled)
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Bankroll ---")
	cfg.Paper.StartingCash = promptFloat(reader, "Starting cash", cfg.Paper.StartingCash)
	cfg.Risk.KellyFraction = promptFloat(reader, "Kelly fraction (0-1]", cfg.Risk.KellyFraction)
	cfg.Risk.BetFloor = promptFloat(reader, "Bet floor (USD)", cfg.Risk.BetFloor)
	cfg.Risk.BetCeiling = promptFloat(reader, "Bet ceiling (USD)", cfg.Risk.BetCeiling)
	cfg.Risk.MinViableBet = promptFloat(reader, "Min viable bet (USD)", cfg.Risk.MinViableBet)
	cfg.Risk.PnLFloor = promptFloat(reader, "Circuit breaker P&L floor (USD, <= 0)", cfg.Risk.PnLFloor)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	fmt.Printf("Mode [%s] (%s or %s): ", cfg.Strategy.Mode, strategy.ModeArb, strategy.ModeArbLinear)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		mode := strings.TrimSpace(line)
		if strategy.ValidMode(mode) {
			cfg.Strategy.Mode = mode
		} else {
			fmt.Printf("unknown mode, keeping %s\n", cfg.Strategy.Mode)
		}
	}
	p := &cfg.Strategy.Params
	p.MinDeltaUSD = promptFloat(reader, "Min move (USD)", p.MinDeltaUSD)
	p.MinDeltaPercent = promptFloat(reader, "Min move (%)", p.MinDeltaPercent)
	p.MinEdgeCents = promptFloat(reader, "Min edge (cents)", p.MinEdgeCents)
	p.PricedInCeiling = promptFloat(reader, "Priced-in ceiling", p.PricedInCeiling)
	p.DisagreeBelow = promptFloat(reader, "Market disagrees below", p.DisagreeBelow)
	p.OverrideMultiple = promptFloat(reader, "Disagreement override multiple", p.OverrideMultiple)
	p.MaxConfidence = promptFloat(reader, "Max confidence", p.MaxConfidence)
}

func editTiming(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Timing / Confirmation ---")
	c := &cfg.Controller
	c.MinElapsedSecs = promptInt(reader, "Earliest trade (secs into window)", c.MinElapsedSecs)
	c.MaxElapsedSecs = promptInt(reader, "Latest trade (secs into window)", c.MaxElapsedSecs)
	c.CooldownSecs = promptInt(reader, "Cooldown between trades (secs)", c.CooldownSecs)
	c.RequireConfirmation = promptBool(reader, "Require secondary confirmation", c.RequireConfirmation)
	c.ConfirmStaleSecs = promptInt(reader, "Confirmation stale after (secs)", c.ConfirmStaleSecs)
	c.MaxTickAgeSecs = promptInt(reader, "Skip when primary price older than (secs, 0=off)", c.MaxTickAgeSecs)
}

func editProviders(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Providers ---")
	cfg.Feed.Provider = promptChoice(reader, "Primary feed", cfg.Feed.Provider, exchange.ProviderStub, exchange.ProviderBinance, exchange.ProviderRTDS)
	cfg.Feed.Symbol = promptString(reader, "Primary symbol", cfg.Feed.Symbol)
	cfg.Feed.Secondary.Enabled = promptBool(reader, "Enable secondary feed", cfg.Feed.Secondary.Enabled)
	if cfg.Feed.Secondary.Enabled {
		cfg.Feed.Secondary.Provider = promptChoice(reader, "Secondary feed", cfg.Feed.Secondary.Provider, exchange.ProviderStub, exchange.ProviderBinance, exchange.ProviderRTDS)
		cfg.Feed.Secondary.Symbol = promptString(reader, "Secondary symbol", cfg.Feed.Secondary.Symbol)
	}
	cfg.Venue.Provider = promptChoice(reader, "Venue", cfg.Venue.Provider, exchange.VenueStub, exchange.VenuePolymarket)
}

func launchPaper(reader *bufio.Reader, configPath string) {
	fmt.Println("Launching paper bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/paper", "-config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return current
}

func promptChoice(reader *bufio.Reader, label, current string, options ...string) string {
	val := promptString(reader, fmt.Sprintf("%s (%s)", label, strings.Join(options, "/")), current)
	for _, opt := range options {
		if strings.EqualFold(val, opt) {
			return opt
		}
	}
	fmt.Printf("unknown option, keeping %s\n", current)
	return current
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	return int(promptFloat(reader, label, float64(current)))
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	fmt.Printf("%s [%t]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseBool(line)
	if err != nil {
		fmt.Printf("invalid value, keeping %t\n", current)
		return current
	}
	return val
}
