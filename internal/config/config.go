// Package config loads, validates, and saves GridConfig documents (§6,
// §B.2). JSON and YAML are both accepted, selected by file extension,
// mirroring original_source/gridbot/config.py's load_from_file; field
// validation runs through go-playground/validator against the struct
// tags already carried on types.GridConfig.
package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gridbot/internal/kernel/errs"
	"gridbot/internal/kernel/types"
)

var validate = validator.New()

// Load reads a GridConfig from path, dispatching on the .json/.yaml/.yml
// extension, then runs struct-tag and cross-field validation.
func Load(path string) (*types.GridConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &errs.ConfigInvalidError{Reason: fmt.Sprintf("configuration file not found: %s", path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigInvalidError{Reason: err.Error()}
	}

	var cfg types.GridConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return nil, &errs.ConfigInvalidError{Reason: "configuration file must be JSON or YAML"}
	}
	if err != nil {
		return nil, &errs.ConfigInvalidError{Reason: err.Error()}
	}

	normalizeEnums(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct-tag validation plus the cross-field invariants
// GridConfig.Validate expresses, wrapping both into a single
// ConfigInvalidError.
func Validate(cfg *types.GridConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return &errs.ConfigInvalidError{Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return &errs.ConfigInvalidError{Reason: err.Error()}
	}
	return nil
}

// normalizeEnums makes the enum-valued fields case-insensitive, matching
// §6's "Enum values are strings, case-insensitive."
func normalizeEnums(cfg *types.GridConfig) {
	cfg.GridType = types.GridType(strings.ToLower(string(cfg.GridType)))
	cfg.Direction = types.PositionDirection(strings.ToUpper(string(cfg.Direction)))
	if cfg.TimeInForce != "" {
		cfg.TimeInForce = types.TimeInForce(strings.ToUpper(string(cfg.TimeInForce)))
	}
}

// Save writes cfg to path in the format selected by its extension.
func Save(cfg *types.GridConfig, path string) error {
	var data []byte
	var err error

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("configuration file must be JSON or YAML")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns a sensible starting configuration for symbol, matching
// create_default_config's defaults (arithmetic, neutral, 20 grids, 1000
// investment, 1x leverage, 20% drawdown cap); the price band is left to
// the caller to fill in.
func Default(symbol string) *types.GridConfig {
	drawdown := 20.0
	return &types.GridConfig{
		Symbol:             symbol,
		GridType:           types.GridTypeArithmetic,
		Direction:          types.PositionNeutral,
		GridCount:          20,
		TotalInvest:        1000,
		Leverage:           1,
		MaxDrawdownPct:     &drawdown,
		OrderType:          "LIMIT",
		TimeInForce:        types.TimeInForceGTC,
		PostOnly:           true,
		CancelOrdersOnStop: true,
	}
}

// RunWizard walks the operator through building a GridConfig on stdin,
// re-prompting on validation failure, mirroring
// original_source/gridbot/config.py:create_from_wizard (`start --wizard`,
// §6).
func RunWizard(stdin *bufio.Reader, stdout *bufio.Writer) (*types.GridConfig, error) {
	for {
		cfg, err := promptOnce(stdin, stdout)
		if err != nil {
			return nil, err
		}
		if err := Validate(cfg); err != nil {
			fmt.Fprintf(stdout, "\nConfiguration errors: %v\n", err)
			stdout.Flush()
			continue
		}

		printSummary(stdout, cfg)
		fmt.Fprint(stdout, "\nConfirm configuration? (y/n): ")
		stdout.Flush()
		answer, _ := stdin.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) == "y" {
			return cfg, nil
		}
	}
}

func promptOnce(stdin *bufio.Reader, stdout *bufio.Writer) (*types.GridConfig, error) {
	fmt.Fprint(stdout, "\n=== Grid Bot Configuration Wizard ===\n\n")

	symbol := promptString(stdin, stdout, "Enter trading symbol (e.g., BTCUSDT): ")
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	fmt.Fprint(stdout, "\nGrid Type:\n1. Arithmetic (equal price intervals)\n2. Geometric (percentage-based intervals)\n")
	gridChoice := promptString(stdin, stdout, "Select grid type (1 or 2): ")
	gridType := types.GridTypeArithmetic
	if strings.TrimSpace(gridChoice) == "2" {
		gridType = types.GridTypeGeometric
	}

	fmt.Fprint(stdout, "\nPosition Direction:\n1. Long only\n2. Short only\n3. Neutral (both directions)\n")
	dirChoice := promptString(stdin, stdout, "Select position direction (1, 2, or 3): ")
	direction := types.PositionNeutral
	switch strings.TrimSpace(dirChoice) {
	case "1":
		direction = types.PositionLong
	case "2":
		direction = types.PositionShort
	}

	fmt.Fprint(stdout, "\nPrice Range:\n")
	lower := promptFloat(stdin, stdout, "Enter lower price: $")
	upper := promptFloat(stdin, stdout, "Enter upper price: $")

	gridCount := promptInt(stdin, stdout, "\nNumber of grid levels (e.g., 20): ", 20)
	totalInvest := promptFloat(stdin, stdout, "Total investment amount: $")
	leverage := promptInt(stdin, stdout, "\nLeverage (1-125, default 1): ", 1)

	fmt.Fprint(stdout, "\nRisk Management (press Enter to skip):\n")
	var stopLoss, takeProfit *float64
	if v := promptOptionalFloat(stdin, stdout, "Stop loss price: $"); v != nil {
		stopLoss = v
	}
	if v := promptOptionalFloat(stdin, stdout, "Take profit percentage (e.g., 50): "); v != nil {
		takeProfit = v
	}

	drawdown := 20.0
	return &types.GridConfig{
		Symbol:         symbol,
		GridType:       gridType,
		Direction:      direction,
		LowerPrice:     lower,
		UpperPrice:     upper,
		GridCount:      gridCount,
		TotalInvest:    totalInvest,
		Leverage:       leverage,
		StopLoss:       stopLoss,
		TakeProfitPct:  takeProfit,
		MaxDrawdownPct: &drawdown,
		OrderType:      "LIMIT",
		TimeInForce:    types.TimeInForceGTC,
		PostOnly:       true,
	}, nil
}

func printSummary(stdout *bufio.Writer, cfg *types.GridConfig) {
	fmt.Fprint(stdout, "\n=== Configuration Summary ===\n")
	fmt.Fprintf(stdout, "Symbol: %s\n", cfg.Symbol)
	fmt.Fprintf(stdout, "Grid Type: %s\n", cfg.GridType)
	fmt.Fprintf(stdout, "Position Direction: %s\n", cfg.Direction)
	fmt.Fprintf(stdout, "Price Range: $%v - $%v\n", cfg.LowerPrice, cfg.UpperPrice)
	fmt.Fprintf(stdout, "Grid Count: %d\n", cfg.GridCount)
	fmt.Fprintf(stdout, "Grid Spacing: $%.2f\n", cfg.Spacing())
	fmt.Fprintf(stdout, "Total Investment: $%v\n", cfg.TotalInvest)
	fmt.Fprintf(stdout, "Investment per Grid: $%.2f\n", cfg.InvestmentPerGrid())
	fmt.Fprintf(stdout, "Leverage: %dx\n", cfg.Leverage)
	if cfg.StopLoss != nil {
		fmt.Fprintf(stdout, "Stop Loss: $%v\n", *cfg.StopLoss)
	}
	if cfg.TakeProfitPct != nil {
		fmt.Fprintf(stdout, "Take Profit: %v%%\n", *cfg.TakeProfitPct)
	}
	stdout.Flush()
}

func promptString(stdin *bufio.Reader, stdout *bufio.Writer, label string) string {
	fmt.Fprint(stdout, label)
	stdout.Flush()
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptFloat(stdin *bufio.Reader, stdout *bufio.Writer, label string) float64 {
	v, _ := strconv.ParseFloat(promptString(stdin, stdout, label), 64)
	return v
}

func promptOptionalFloat(stdin *bufio.Reader, stdout *bufio.Writer, label string) *float64 {
	s := promptString(stdin, stdout, label)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func promptInt(stdin *bufio.Reader, stdout *bufio.Writer, label string, def int) int {
	s := promptString(stdin, stdout, label)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
