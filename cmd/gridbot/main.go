// Command gridbot is the CLI entrypoint for the grid-engine kernel (§6),
// grounded in original_source/gridbot/cli.py's verb set
// (start/stop/status/monitor/history/export) and the teacher's main.go
// process-lifecycle shape: load .env credentials, initialize logging,
// wire the store and exchange adapter, then either run the engine
// in the foreground (`start`) or report against persisted state
// (`status`/`history`/`export`).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gridbot/internal/api"
	"gridbot/internal/config"
	"gridbot/internal/exchange/binance"
	"gridbot/internal/kernel/calculator"
	"gridbot/internal/kernel/engine"
	"gridbot/internal/kernel/types"
	"gridbot/internal/logging"
	"gridbot/internal/store"
)

func main() {
	_ = godotenv.Load()
	if err := logging.Init(logging.Config{Level: envOr("GRIDBOT_LOG_LEVEL", "info")}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "monitor":
		err = cmdMonitor(os.Args[2:])
	case "history":
		err = cmdHistory(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "suggest":
		err = cmdSuggest(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: gridbot <command> [flags]

commands:
  start   [--config path] [--wizard] [--resume|--auto-resume] [--db path] [--api-addr addr] [--retention-days N]
  status  [--symbol SYM] [--db path]
  monitor [--symbol SYM] [--db path] [--interval SECONDS]
  history [--symbol SYM] [--db path] [--limit N]
  export  [--symbol SYM] [--db path] <output-path>
  suggest --price N --volatility PCT`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func flagString(args []string, name, def string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return def
}

func flagBool(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func cmdStart(args []string) error {
	var cfg *types.GridConfig
	var err error

	cfgPath := flagString(args, "--config", "")
	switch {
	case flagBool(args, "--wizard"):
		stdin := bufio.NewReader(os.Stdin)
		stdout := bufio.NewWriter(os.Stdout)
		cfg, err = config.RunWizard(stdin, stdout)
	case cfgPath != "":
		cfg, err = config.Load(cfgPath)
	default:
		return fmt.Errorf("provide --config <path> or --wizard")
	}
	if err != nil {
		return err
	}

	autoResume := flagBool(args, "--resume") || flagBool(args, "--auto-resume")
	if autoResume {
		os.Setenv("GRIDBOT_AUTO_RESUME", "true")
	}

	dbPath := flagString(args, "--db", fmt.Sprintf("gridbot_%s.db", cfg.Symbol))
	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	log := logging.New("engine")

	if retentionDays, _ := strconv.Atoi(flagString(args, "--retention-days", "0")); retentionDays > 0 {
		if err := st.CleanupOlderThan(retentionDays); err != nil {
			log.WithError(err).Warn("retention cleanup failed")
		}
	}

	exch := binance.New(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY"), envOr("BINANCE_TESTNET", "") == "true")

	eng := engine.New(engine.Config{
		GridConfig:        cfg,
		Exchange:          exch,
		Store:             st,
		Log:               log,
		AutoResume:        autoResume,
		PricePrecision:    2,
		QuantityPrecision: 4,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	fmt.Println("grid engine started, type 'help' for interactive commands")

	apiAddr := flagString(args, "--api-addr", "")
	if apiAddr != "" {
		srv := api.New(api.Config{
			Engine:    eng,
			Store:     st,
			Symbol:    cfg.Symbol,
			JWTSecret: envOr("GRIDBOT_JWT_SECRET", "change-me-in-production"),
			Log:       logging.New("api"),
		})
		go func() {
			if err := srv.Run(apiAddr); err != nil {
				log.WithError(err).Error("api server exited")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go runInteractive(eng)

	<-sigCh
	fmt.Println("\nshutting down...")
	return eng.Stop(context.Background())
}

func runInteractive(eng *engine.Engine) {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		switch trimLine(line) {
		case "status":
			printSnapshot(eng.Snapshot())
		case "pause":
			eng.Pause()
			fmt.Println("paused")
		case "resume":
			eng.Resume()
			fmt.Println("resumed")
		case "stop", "quit":
			_ = eng.Stop(context.Background())
			os.Exit(0)
		case "help":
			fmt.Println("commands: status, pause, resume, stop, quit")
		}
	}
}

func trimLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func printSnapshot(snap engine.Snapshot) {
	fmt.Printf("state=%s position=%.6f entry=%.2f unrealized=%.2f realized=%.2f trades=%d profit=%.2f\n",
		snap.State, snap.Position.Size, snap.Position.EntryPrice, snap.Position.UnrealizedPnL,
		snap.Position.RealizedPnL, snap.Stats.TotalTrades, snap.Stats.TotalProfit)
}

func cmdStatus(args []string) error {
	symbol := flagString(args, "--symbol", "")
	dbPath := flagString(args, "--db", fmt.Sprintf("gridbot_%s.db", symbol))
	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	blob, err := st.LoadState(symbol)
	if err != nil {
		return fmt.Errorf("no persisted state for %s: %w", symbol, err)
	}
	fmt.Println(string(blob))
	return nil
}

// cmdMonitor polls and re-prints persisted state at a fixed interval,
// standing in for an attached live view against a bot running in another
// process (§6's `monitor` verb): it reads the same bot_state row `status`
// reports once, repeated until interrupted.
func cmdMonitor(args []string) error {
	symbol := flagString(args, "--symbol", "")
	dbPath := flagString(args, "--db", fmt.Sprintf("gridbot_%s.db", symbol))
	interval, _ := strconv.Atoi(flagString(args, "--interval", "5"))
	if interval <= 0 {
		interval = 5
	}

	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		blob, err := st.LoadState(symbol)
		if err != nil {
			fmt.Printf("no persisted state for %s yet\n", symbol)
		} else {
			fmt.Println(string(blob))
		}

		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
		}
	}
}

func cmdHistory(args []string) error {
	symbol := flagString(args, "--symbol", "")
	dbPath := flagString(args, "--db", fmt.Sprintf("gridbot_%s.db", symbol))
	limit, _ := strconv.Atoi(flagString(args, "--limit", "10"))

	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	trades, err := st.TradeHistory(symbol, limit)
	if err != nil {
		return err
	}
	for _, t := range trades {
		fmt.Printf("%s  buy=%.4f sell=%.4f qty=%.6f profit=%.4f\n",
			t.CompletedAt.Format("2006-01-02 15:04:05"), t.BuyPrice, t.SellPrice, t.Quantity, t.Profit)
	}
	return nil
}

func cmdExport(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("export requires an output path")
	}
	outPath := args[len(args)-1]
	symbol := flagString(args, "--symbol", "")
	dbPath := flagString(args, "--db", fmt.Sprintf("gridbot_%s.db", symbol))

	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.ExportSymbol(symbol, outPath)
}

func cmdSuggest(args []string) error {
	price, _ := strconv.ParseFloat(flagString(args, "--price", "0"), 64)
	volatility, _ := strconv.ParseFloat(flagString(args, "--volatility", "0"), 64)
	lower, upper, count, gridType := calculator.SuggestParameters(price, volatility)
	fmt.Printf("grid_type=%s lower=%.2f upper=%.2f grid_count=%d\n", gridType, lower, upper, count)
	return nil
}
