package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"papertrader-go/internal/config"
	"papertrader-go/internal/strategy"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== PaperTrader Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit bankroll and risk limits")
		fmt.Println("3) Edit strategy")
		fmt.Println("4) List strategies")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch paper trader")
		fmt.Println("7) Reload config from disk")
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
			listStrategies()
		case "5":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchPaper(reader)
		case "7":
			reloaded, err := loadConfig()
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
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Starting cash: $%s\n", decimal.NewFromFloat(cfg.Paper.StartingCash).StringFixed(2))
	fmt.Printf("Trade quantity: %d\n", cfg.Paper.TradeQuantity)
	fmt.Printf("Stop-loss: %.2f%%\n", cfg.Risk.StopLossPct*100)
	fmt.Printf("Max position: %.2f%%\n", cfg.Risk.MaxPositionPct*100)
	fmt.Printf("Max drawdown: %.2f%%\n", cfg.Risk.MaxDrawdownPct*100)
	fmt.Printf("Strategy: %s %v\n", cfg.Strategy.ID, cfg.Strategy.Params)
	fmt.Printf("Chart interval: %s\n", cfg.Simulation.ChartInterval)
	for _, f := range cfg.Simulation.Feeds {
		fmt.Printf("Feed %s: start %.2f, vol %.4f, every %s\n", f.Symbol, f.InitialPrice, f.Volatility, f.Interval)
	}
	fmt.Printf("Snapshots: %s | Recorder: %s | API: %s\n", cfg.Snapshot.Backend, cfg.Recorder.Type, cfg.API.Addr)
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Bankroll ---")
	cfg.Paper.StartingCash = promptFloat(reader, "Starting cash", cfg.Paper.StartingCash)
	cfg.Paper.TradeQuantity = int64(promptFloat(reader, "Trade quantity", float64(cfg.Paper.TradeQuantity)))
	cfg.Risk.StopLossPct = promptPercent(reader, "Stop-loss (%)", cfg.Risk.StopLossPct)
	cfg.Risk.MaxPositionPct = promptPercent(reader, "Max position (%)", cfg.Risk.MaxPositionPct)
	cfg.Risk.MaxDrawdownPct = promptPercent(reader, "Max drawdown (%)", cfg.Risk.MaxDrawdownPct)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func listStrategies() {
	fmt.Println("\n--- Strategies ---")
	for _, spec := range strategy.Available() {
		fmt.Printf("%s: %s\n", spec.ID, spec.Description)
		for _, p := range spec.Params {
			req := ""
			if p.Required {
				req = " (required)"
			}
			fmt.Printf("  %s %s default=%v%s\n", p.Name, p.Type, p.Default, req)
		}
	}
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	fmt.Printf("Strategy id [%s]: ", cfg.Strategy.ID)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Strategy.ID = strings.TrimSpace(line)
		cfg.Strategy.Params = nil
	}
	spec, ok := strategy.Lookup(cfg.Strategy.ID)
	if !ok {
		fmt.Printf("unknown strategy %q\n", cfg.Strategy.ID)
		return
	}
	if cfg.Strategy.Params == nil {
		cfg.Strategy.Params = map[string]any{}
	}
	for _, p := range spec.Params {
		current, ok := cfg.Strategy.Params[p.Name]
		if !ok {
			current = p.Default
		}
		fmt.Printf("%s [%v]: ", p.Name, current)
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if current != nil {
				cfg.Strategy.Params[p.Name] = current
			}
			continue
		}
		cfg.Strategy.Params[p.Name] = parseParam(p.Type, line)
	}
	if _, err := strategy.Build(cfg.Strategy.ID, cfg.Strategy.Params); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func parseParam(t strategy.ParamType, raw string) any {
	switch t {
	case strategy.ParamInt:
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	case strategy.ParamFloat:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

func launchPaper(reader *bufio.Reader) {
	fmt.Println("Launching paper trader (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/paper")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start paper trader: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the trader and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
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

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func loadConfig() (*config.Config, error) {
	path := locateConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("no config at %s, starting from defaults\n", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
