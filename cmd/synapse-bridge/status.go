package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/config"
	"github.com/mattjoyce/synapse-bridge/internal/lock"
	"github.com/mattjoyce/synapse-bridge/internal/orchestrator"
	"github.com/mattjoyce/synapse-bridge/internal/state"
	"github.com/mattjoyce/synapse-bridge/internal/storage"
)

// statusProbeTimeout bounds the orchestrator reachability check.
var statusProbeTimeout = 3 * time.Second

type statusCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail"`
	ActivePID int    `json:"active_pid,omitempty"`
}

type statusReport struct {
	Healthy   bool          `json:"healthy"`
	Transport string        `json:"transport,omitempty"`
	Checks    []statusCheck `json:"checks"`
}

func runBridgeStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := collectStatus(context.Background(), *configPath)

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		printStatus(report)
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func collectStatus(ctx context.Context, configPath string) statusReport {
	var report statusReport

	cfg, err := loadConfig(configPath)
	if err != nil {
		report.Checks = append(report.Checks,
			statusCheck{Name: "config_load", Detail: err.Error()},
			statusCheck{Name: "state_db", Detail: "skipped: config not loaded"},
			statusCheck{Name: "pid_lock", Detail: "skipped: config not loaded"},
			statusCheck{Name: "orchestrator", Detail: "skipped: config not loaded"},
		)
		return report
	}
	report.Transport = cfg.Transport.Kind

	source := cfg.SourceFile
	if source == "" {
		source = "defaults"
	}
	report.Checks = append(report.Checks,
		statusCheck{Name: "config_load", OK: true, Detail: source},
		checkStateDB(ctx, cfg),
		checkPIDLock(cfg),
		checkOrchestrator(ctx, cfg),
	)

	report.Healthy = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Healthy = false
		}
	}
	return report
}

func checkStateDB(ctx context.Context, cfg *config.Config) statusCheck {
	c := statusCheck{Name: "state_db"}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		c.Detail = fmt.Sprintf("%s not initialized (bridge never started?)", cfg.State.Path)
		return c
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	defer func() { _ = db.Close() }()

	at, ok, err := state.NewStore(db).UpdatedAt(ctx, cfg.Transport.Kind)
	switch {
	case err != nil:
		c.Detail = err.Error()
	case !ok:
		c.OK = true
		c.Detail = fmt.Sprintf("%s: no %s session stored yet", cfg.State.Path, cfg.Transport.Kind)
	default:
		c.OK = true
		c.Detail = fmt.Sprintf("%s: %s session updated %s", cfg.State.Path, cfg.Transport.Kind, at.Format(time.RFC3339))
	}
	return c
}

func checkPIDLock(cfg *config.Config) statusCheck {
	path := getPIDLockPath(cfg)
	c := statusCheck{Name: "pid_lock"}
	if !lock.Held(path) {
		c.Detail = "bridge not running (" + path + " not held)"
		return c
	}
	c.OK = true
	if pid, ok := lock.HolderPID(path); ok {
		c.ActivePID = pid
		c.Detail = fmt.Sprintf("bridge running (pid %d)", pid)
	} else {
		c.Detail = "bridge running"
	}
	return c
}

func checkOrchestrator(ctx context.Context, cfg *config.Config) statusCheck {
	c := statusCheck{Name: "orchestrator"}
	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	client := orchestrator.NewClient(cfg.Orchestrator.BaseURL, statusProbeTimeout)
	plugins, err := client.Plugins(ctx)
	if err != nil {
		c.Detail = fmt.Sprintf("%s unreachable: %v", cfg.Orchestrator.BaseURL, err)
		return c
	}
	c.OK = true
	c.Detail = fmt.Sprintf("%s (%d plugin(s))", cfg.Orchestrator.BaseURL, len(plugins))
	return c
}

func printStatus(r statusReport) {
	for _, c := range r.Checks {
		verdict := "OK"
		if !c.OK {
			verdict = "FAIL"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, verdict, c.Detail)
	}
	if r.Healthy {
		fmt.Println("Status: healthy")
	} else {
		fmt.Println("Status: unhealthy")
	}
}
