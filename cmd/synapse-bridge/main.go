package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/synapse-bridge/internal/api"
	"github.com/mattjoyce/synapse-bridge/internal/bridge"
	"github.com/mattjoyce/synapse-bridge/internal/chat"
	"github.com/mattjoyce/synapse-bridge/internal/chat/telegram"
	"github.com/mattjoyce/synapse-bridge/internal/chat/wsgateway"
	"github.com/mattjoyce/synapse-bridge/internal/config"
	"github.com/mattjoyce/synapse-bridge/internal/dashboard"
	"github.com/mattjoyce/synapse-bridge/internal/events"
	"github.com/mattjoyce/synapse-bridge/internal/lock"
	"github.com/mattjoyce/synapse-bridge/internal/log"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
	"github.com/mattjoyce/synapse-bridge/internal/poller"
	"github.com/mattjoyce/synapse-bridge/internal/state"
	"github.com/mattjoyce/synapse-bridge/internal/storage"
	tuidash "github.com/mattjoyce/synapse-bridge/internal/tui/dashboard"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "bridge":
		return runBridgeNoun(args)
	case "config":
		return runConfigNoun(args)
	case "dashboard":
		if hasHelpFlag(args) {
			printDashboardHelp()
			return 0
		}
		return runDashboard(args)

	// --- ROOT ALIASES ---
	case "start":
		return runBridgeStart(args)
	case "status":
		return runBridgeStatus(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: synapse-bridge version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("synapse-bridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`synapse-bridge - Chat bridge and dashboard for the Synapse orchestrator

Usage:
  synapse-bridge <noun> <action> [flags]

Bridge Commands:
  bridge start      Run the chat bridge in the foreground
  bridge status     Show bridge process, session and orchestrator health

Dashboard:
  dashboard         Terminal dashboard for orchestrator logs and plugins

Config Commands:
  config check      Validate configuration
  config show       Print the resolved configuration (secrets redacted)

General:
  version           Show version information
  help              Show this help message

Use 'synapse-bridge <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runBridgeNoun(args []string) int {
	if len(args) < 1 {
		printBridgeNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printBridgeNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printBridgeStartHelp()
			return 0
		}
		return runBridgeStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printBridgeStatusHelp()
			return 0
		}
		return runBridgeStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown bridge action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func printBridgeNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: synapse-bridge bridge <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: synapse-bridge config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printBridgeStartHelp() {
	fmt.Println("Usage: synapse-bridge bridge start [--config PATH]")
	fmt.Println("Connect the chat transport and relay slash commands to Synapse.")
}

func printBridgeStatusHelp() {
	fmt.Println("Usage: synapse-bridge bridge status [--config PATH] [--json]")
	fmt.Println("Show config, state database, bridge process and orchestrator reachability.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printDashboardHelp() {
	fmt.Println("Usage: synapse-bridge dashboard [--config PATH] [--api URL]")
	fmt.Println()
	fmt.Println("Terminal dashboard showing orchestrator plugins and the task log.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api URL        Orchestrator API base URL (default from config)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  Enter            Send command")
	fmt.Println("  Tab/Shift+Tab    Cycle command prefix")
	fmt.Println("  Ctrl+X           Stop the active task")
	fmt.Println("  PgUp/PgDn        Scroll the task log")
	fmt.Println("  Esc, Ctrl+C      Quit")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: synapse-bridge config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration. --strict exits 2 on warnings.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: synapse-bridge config show [--config PATH]")
	fmt.Println("Print the resolved configuration as YAML with secrets redacted.")
}

// loadConfig resolves and loads the configuration for a command.
func loadConfig(configPath string) (*config.Config, error) {
	path, err := config.Discover(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// getPIDLockPath places the lock next to the state database.
func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.State.Path
	base := filepath.Base(dbPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(dbPath), name+".lock")
}

func runBridgeStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("synapse-bridge starting", "version", version, "config", cfg.SourceFile, "transport", cfg.Transport.Kind)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open state database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	logger.Info("state database opened", "path", cfg.State.Path)

	sessions := state.NewStore(db)
	hub := events.NewHub(256)
	orch := orchestrator.NewClient(cfg.Orchestrator.BaseURL, cfg.Orchestrator.Timeout)

	transport, err := newTransport(cfg, sessions)
	if err != nil {
		logger.Error("failed to configure transport", "error", err)
		return 1
	}
	defer func() { _ = transport.Close() }()
	log.WithTransport(transport.Name()).Info("chat transport configured")

	deduper, err := bridge.NewDeduper(cfg.Dedupe.TTL, log.Get())
	if err != nil {
		logger.Error("failed to create de-duplication cache", "error", err)
		return 1
	}
	defer deduper.Close()

	tp := poller.New(orch, transport, poller.PolicyFromConfig(cfg.Poller), log.Get(), poller.WithEvents(hub))
	b := bridge.New(transport, orch, tp, log.Get(),
		bridge.WithDeduper(deduper),
		bridge.WithSessionStore(sessions),
		bridge.WithEvents(hub),
		bridge.WithConsole(os.Stdout),
		bridge.WithReconnectDelay(cfg.Transport.ReconnectDelay),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := b.Run(gctx); err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	})

	if cfg.API.Enabled {
		srv := api.New(api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.APIKey}, b, hub, log.Get())
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("synapse-bridge running (press Ctrl+C to stop)", "orchestrator", orch.BaseURL())

	runErr := g.Wait()
	// Pollers stop without delivering once the root context is gone.
	stop()
	b.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("component failed", "error", runErr)
		return 1
	}
	logger.Info("synapse-bridge stopped")
	return 0
}

func newTransport(cfg *config.Config, sessions chat.SessionStore) (chat.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportGateway:
		return wsgateway.New(wsgateway.Config{
			URL:       cfg.Transport.Gateway.URL,
			Token:     cfg.Transport.Gateway.Token,
			PingEvery: cfg.Transport.Gateway.PingEvery,
			Sessions:  sessions,
		}, log.Get()), nil
	case config.TransportTelegram:
		return telegram.New(telegram.Config{
			Token:       cfg.Transport.Telegram.Token,
			APIBase:     cfg.Transport.Telegram.APIBase,
			PollTimeout: cfg.Transport.Telegram.PollTimeout,
			Sessions:    sessions,
		}, log.Get()), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

func runDashboard(args []string) int {
	fs := flag.NewFlagSet("dashboard", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	apiURL := fs.String("api", "", "Orchestrator API base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	base := cfg.Orchestrator.BaseURL
	if *apiURL != "" {
		base = strings.TrimRight(*apiURL, "/")
	}

	client := dashboard.New(orchestrator.NewClient(base, cfg.Orchestrator.Timeout), cfg.Dashboard.Prefixes)
	m := tuidash.New(client, base, cfg.Dashboard.RefreshInterval)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
