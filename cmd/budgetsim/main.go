// BudgetSim - turn-based public-budget allocation simulator
// License: MIT
//
// Copyright (c) 2026 BudgetSim contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/budgetsim/pkg/catalog"
	"github.com/dotsetgreg/budgetsim/pkg/config"
	"github.com/dotsetgreg/budgetsim/pkg/embedding"
	"github.com/dotsetgreg/budgetsim/pkg/game"
	"github.com/dotsetgreg/budgetsim/pkg/ledger"
	"github.com/dotsetgreg/budgetsim/pkg/logger"
	"github.com/dotsetgreg/budgetsim/pkg/server"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "budgetsim"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".budgetsim", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Printf("Error reading input: %v\n", readErr)
			fmt.Println("Aborted.")
			return
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		fmt.Printf("Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Place the events catalog at %s\n", cfg.CatalogCSVPath())
	fmt.Println("     (columns: event_id, name, summary, issues, ministry, bureau,")
	fmt.Println("      initial_budget, final_budget, url, embedding)")
	fmt.Println("  2. Check the catalog: budgetsim catalog validate")
	fmt.Println("  3. Play locally: budgetsim play")
	fmt.Println("  4. Run the API: budgetsim serve")
	fmt.Println("  5. Check readiness: budgetsim status")
}

// buildService loads the catalog and wires the full game service from config.
func buildService(cfg *config.Config) (*game.Service, error) {
	cat, err := catalog.Load(cfg.CatalogCSVPath(), cfg.CatalogSnapshotPath())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	var history *game.HistoryStore
	if cfg.History.Enabled {
		history, err = game.OpenHistory(cfg.HistoryPath())
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
	}

	return game.New(cfg, cat, emb, history), nil
}

func serveCmd() {
	args := os.Args[2:]
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("Debug mode enabled")
			break
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	svc, err := buildService(cfg)
	if err != nil {
		fmt.Printf("Error building service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Println("\nCatalog:")
	fmt.Printf("  • Items: %d loaded\n", svc.Catalog().Len())
	fmt.Printf("  • Embedding dim: %d\n", svc.Catalog().Dim())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := ledger.NewSweeper(
		svc.Store(),
		cfg.Sessions.SweepSchedule,
		time.Duration(cfg.Sessions.IdleTTLMinutes)*time.Minute,
	)
	go sweeper.Run(ctx)
	fmt.Println("✓ Session sweeper started")

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.New(svc).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("server", "HTTP server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ API started on http://%s (health at /health)\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("server", "shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	fmt.Println("✓ Server stopped")
}

func playCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	svc, err := buildService(cfg)
	if err != nil {
		fmt.Printf("Error building service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	st := svc.StartSession()
	fmt.Printf("%s Interactive play (Ctrl+C to exit)\n", appName)
	fmt.Printf("Session %s: %d years, %d events/year, %.0f %s/year\n\n",
		st.ID, st.YearsTotal, st.EventsPerYear, st.BudgetPerYear, svc.Currency())
	fmt.Println("Commands: next, alloc <amount>, year, metrics, state, estimate <text>, history, help, exit")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".budgetsim_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	repl := &playSession{svc: svc, sessionID: st.ID}
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}
		repl.handle(input)
	}
}

// playSession tracks the REPL's position in the game: the active session and
// the event awaiting an allocation.
type playSession struct {
	svc       *game.Service
	sessionID string
	current   *game.EventView
}

func (p *playSession) handle(input string) {
	fields := strings.Fields(input)
	cmd := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(input, cmd))

	switch cmd {
	case "help":
		fmt.Println("  next              Present the next event of the year")
		fmt.Println("  alloc <amount>    Allocate budget to the current event")
		fmt.Println("  year              Advance to the next year")
		fmt.Println("  metrics           Score the current year")
		fmt.Println("  state             Show session state")
		fmt.Println("  estimate <text>   Ask for a budget estimate from free text")
		fmt.Println("  history           Show completed-year outcomes")
		fmt.Println("  exit              Quit")
	case "next":
		ev, err := p.svc.NextEvent(p.sessionID)
		if err != nil {
			printGameError(err)
			return
		}
		p.current = &ev
		fmt.Printf("Year %d event: %s (%s)\n", ev.Year, ev.Name, ev.EventID)
		if ev.Ministry != "" {
			fmt.Printf("  Ministry: %s / %s\n", ev.Ministry, ev.Bureau)
		}
		if ev.Summary != "" {
			fmt.Printf("  %s\n", ev.Summary)
		}
		fmt.Printf("  Remaining this year: %d\n", ev.RemainingInYear)
	case "alloc":
		if p.current == nil {
			fmt.Println("No current event. Use 'next' first.")
			return
		}
		amount, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			fmt.Printf("Invalid amount %q\n", rest)
			return
		}
		remaining, err := p.svc.Allocate(p.sessionID, p.current.EventID, amount)
		if err != nil {
			printGameError(err)
			return
		}
		fmt.Printf("Allocated %.0f to %s. Remaining: %.0f %s\n",
			amount, p.current.EventID, remaining, p.svc.Currency())
	case "year":
		st, err := p.svc.AdvanceYear(p.sessionID)
		if err != nil {
			printGameError(err)
			return
		}
		p.current = nil
		fmt.Printf("Moved to year %d/%d. Budget reset to %.0f. %d events queued.\n",
			st.Year, st.YearsTotal, st.BudgetRemaining, len(st.Queue))
	case "metrics":
		report, err := p.svc.YearMetrics(context.Background(), p.sessionID)
		if err != nil {
			printGameError(err)
			return
		}
		if len(report.Months) == 0 {
			fmt.Println("Nothing presented this year yet.")
			return
		}
		for _, m := range report.Months {
			verdict := "-"
			if m.HasVerdict {
				if m.Within {
					verdict = "within ±20%"
				} else {
					verdict = "off target"
				}
			}
			fmt.Printf("  month %2d  %-12s actual=%s allocated=%s ai=%s  %s\n",
				m.Month, m.EventID, fmtAmount(m.Actual), fmtAllocated(m), fmtAmount(m.AIEstimate), verdict)
		}
	case "state":
		st, err := p.svc.State(p.sessionID)
		if err != nil {
			printGameError(err)
			return
		}
		fmt.Printf("Year %d/%d  remaining %.0f/%.0f %s  queued %d  allocations %d\n",
			st.Year, st.YearsTotal, st.BudgetRemaining, st.BudgetPerYear,
			p.svc.Currency(), len(st.Queue), len(st.Allocations))
	case "estimate":
		if rest == "" {
			fmt.Println("Usage: estimate <free text>")
			return
		}
		res, err := p.svc.EstimateText(context.Background(), rest)
		if err != nil {
			printGameError(err)
			return
		}
		fmt.Printf("Estimate: %.0f %s\n", res.EstimateInitial, p.svc.Currency())
		for _, ev := range res.Evidence {
			fmt.Printf("  #%d %-30s sim=%.3f weight=%.3f budget=%s\n",
				ev.Rank, ev.Name, ev.Similarity, ev.Weight, fmtAmount(ev.InitialBudget))
		}
	case "history":
		records, err := p.svc.SessionHistory(p.sessionID)
		if err != nil {
			printGameError(err)
			return
		}
		if len(records) == 0 {
			fmt.Println("No completed years yet.")
			return
		}
		for _, r := range records {
			verdict := "-"
			if r.HasVerdict {
				if r.Within {
					verdict = "within"
				} else {
					verdict = "off"
				}
			}
			fmt.Printf("  year %d  %-12s allocated=%.0f actual=%s  %s\n",
				r.Year, r.EventID, r.Allocated, fmtAmount(r.Actual), verdict)
		}
	default:
		fmt.Printf("Unknown command: %s (try 'help')\n", cmd)
	}
}

func fmtAmount(v float64) string {
	if v != v { // NaN
		return "n/a"
	}
	return fmt.Sprintf("%.0f", v)
}

func fmtAllocated(m game.MonthMetric) string {
	if !m.HasAlloc {
		return "n/a"
	}
	return fmt.Sprintf("%.0f", m.Allocated)
}

func printGameError(err error) {
	switch {
	case errors.Is(err, ledger.ErrScheduleExhausted):
		fmt.Println("Year drained. Use 'year' to advance.")
	case errors.Is(err, ledger.ErrYearConflict):
		fmt.Println("Cannot advance: events remain this year, or this is the final year.")
	case errors.Is(err, ledger.ErrBudgetExceeded):
		fmt.Printf("%v\n", err)
	default:
		fmt.Printf("Error: %v\n", err)
	}
}

func estimateCmd(text string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	svc, err := buildService(cfg)
	if err != nil {
		fmt.Printf("Error building service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	res, err := svc.EstimateText(context.Background(), text)
	if err != nil {
		fmt.Printf("Cannot estimate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Estimated initial budget: %.0f %s\n", res.EstimateInitial, svc.Currency())
	if res.Ratio == res.Ratio { // finite ratio implies a final estimate too
		fmt.Printf("Estimated final budget:   %.0f %s (ratio %.3f)\n", res.EstimateFinal, svc.Currency(), res.Ratio)
	}
	fmt.Println("\nEvidence:")
	for _, ev := range res.Evidence {
		fmt.Printf("  #%d %-30s id=%s sim=%.3f weight=%.3f budget=%s\n",
			ev.Rank, ev.Name, ev.SourceID, ev.Similarity, ev.Weight, fmtAmount(ev.InitialBudget))
	}
}

func catalogValidateCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.CatalogCSVPath(), cfg.CatalogSnapshotPath())
	if err != nil {
		fmt.Printf("Catalog invalid: %v\n", err)
		os.Exit(1)
	}

	missingInitial := 0
	missingFinal := 0
	for i := 0; i < cat.Len(); i++ {
		item, _ := cat.Item(i)
		if !item.HasInitial() {
			missingInitial++
		}
		if !item.HasFinal() {
			missingFinal++
		}
	}

	fmt.Printf("Catalog OK: %d items, embedding dim %d\n", cat.Len(), cat.Dim())
	fmt.Printf("  Missing initial budgets: %d\n", missingInitial)
	fmt.Printf("  Missing final budgets:   %d\n", missingFinal)
	if cfg.Embedding.Dim != cat.Dim() {
		fmt.Printf("  WARNING: embedding.dim is %d but the catalog uses %d;\n", cfg.Embedding.Dim, cat.Dim())
		fmt.Println("  text queries will fail with a dimension mismatch until they agree")
	}
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	csvPath := cfg.CatalogCSVPath()
	if _, err := os.Stat(csvPath); err == nil {
		fmt.Println("Catalog CSV:", csvPath, "✓")
	} else {
		fmt.Println("Catalog CSV:", csvPath, "✗")
	}
	snapPath := cfg.CatalogSnapshotPath()
	if _, err := os.Stat(snapPath); err == nil {
		fmt.Println("Catalog snapshot:", snapPath, "✓")
	} else {
		fmt.Println("Catalog snapshot:", snapPath, "not built")
	}
	if cfg.History.Enabled {
		histPath := cfg.HistoryPath()
		if _, err := os.Stat(histPath); err == nil {
			fmt.Println("History DB:", histPath, "✓")
		} else {
			fmt.Println("History DB:", histPath, "not initialized")
		}
	}

	status := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}
	fmt.Printf("Embedding provider: %s\n", cfg.Embedding.Provider)
	if strings.EqualFold(cfg.Embedding.Provider, "openai") {
		fmt.Println("OpenAI API key:", status(strings.TrimSpace(cfg.Embedding.OpenAI.APIKey) != ""))
	}
	fmt.Printf("Game: %d years, %d events/year, %.0f %s/year\n",
		cfg.Game.Years, cfg.Game.EventsPerYear, cfg.Game.BudgetPerYear, cfg.Game.Currency)
}
