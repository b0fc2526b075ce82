// Package doctor checks a loaded synapse-bridge configuration for settings
// that parse fine but will misbehave at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/synapse-bridge/internal/config"
	"github.com/mattjoyce/synapse-bridge/internal/storage"
)

var (
	envVarRe        = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	telegramTokenRe = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]{20,}$`)
	minPollWindow   = 10 * time.Second
	maxPollWindow   = 2 * time.Hour
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
	// fsCheck is swapped in tests.
	fsCheck func(path string) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, fsCheck: storage.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStatePath(r)
	d.validatePoller(r)
	d.validateTransport(r)
	d.validateAPI(r)
	d.warnDashboard(r)
	d.warnDedupe(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateStatePath checks the session database can live where configured.
func (d *Doctor) validateStatePath(r *Result) {
	path := d.cfg.State.Path
	if path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
		return
	}
	if d.fsCheck != nil {
		if err := d.fsCheck(path); err != nil {
			d.addError(r, "state", "state.path", err.Error())
		}
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		d.addError(r, "state", "state.path", fmt.Sprintf("%q is a directory, expected a database file", path))
	}
}

// validatePoller checks the polling window is sensible.
func (d *Doctor) validatePoller(r *Result) {
	p := d.cfg.Poller
	if p.Interval <= 0 || p.MaxAttempts <= 0 {
		d.addError(r, "poller", "poller", "poller.interval and poller.max_attempts must be positive")
		return
	}

	window := p.Interval * time.Duration(p.MaxAttempts)
	switch {
	case window < minPollWindow:
		d.addWarning(r, "poller", "poller.max_attempts",
			fmt.Sprintf("tasks time out after %s; most commands will report \"Task timed out.\"", window))
	case window > maxPollWindow:
		d.addWarning(r, "poller", "poller.max_attempts",
			fmt.Sprintf("tasks are polled for up to %s", window))
	}
	if p.Interval < 500*time.Millisecond {
		d.addWarning(r, "poller", "poller.interval",
			fmt.Sprintf("poll interval %s is very short; every in-flight task polls at this rate", p.Interval))
	}
	if p.MaxConsecutiveErrors > p.MaxAttempts {
		d.addWarning(r, "poller", "poller.max_consecutive_errors",
			fmt.Sprintf("max_consecutive_errors (%d) exceeds max_attempts (%d) and never triggers",
				p.MaxConsecutiveErrors, p.MaxAttempts))
	}
	if t := d.cfg.Orchestrator.Timeout; t > 0 && t > p.Interval*5 {
		d.addWarning(r, "poller", "orchestrator.timeout",
			fmt.Sprintf("orchestrator.timeout %s is much longer than poller.interval %s; a hung request stalls that task's polling", t, p.Interval))
	}
}

// validateTransport checks the selected transport's endpoint and credentials.
func (d *Doctor) validateTransport(r *Result) {
	t := d.cfg.Transport
	switch t.Kind {
	case config.TransportGateway:
		u, err := url.Parse(t.Gateway.URL)
		if err != nil {
			d.addError(r, "transport", "transport.gateway.url", err.Error())
			return
		}
		if !isLoopback(u.Hostname()) {
			if u.Scheme == "ws" {
				d.addWarning(r, "transport", "transport.gateway.url",
					"gateway is remote but uses ws://; pairing credentials travel unencrypted")
			}
			if t.Gateway.Token == "" {
				d.addWarning(r, "transport", "transport.gateway.token",
					"gateway is remote but no token is configured")
			}
		}
	case config.TransportTelegram:
		if t.Telegram.Token == "" {
			d.addError(r, "transport", "transport.telegram.token", "telegram token is required")
		} else if !telegramTokenRe.MatchString(t.Telegram.Token) {
			d.addWarning(r, "transport", "transport.telegram.token",
				"token does not look like a bot token (<id>:<secret>)")
		}
	default:
		d.addError(r, "transport", "transport.kind", fmt.Sprintf("unknown transport %q", t.Kind))
	}
	if t.ReconnectDelay > 0 && t.ReconnectDelay < 500*time.Millisecond {
		d.addWarning(r, "transport", "transport.reconnect_delay",
			fmt.Sprintf("reconnect delay %s may hammer the gateway while it is down", t.ReconnectDelay))
	}
}

// validateAPI checks ops API exposure.
func (d *Doctor) validateAPI(r *Result) {
	a := d.cfg.API
	if !a.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", a.Listen, err))
		return
	}
	if a.APIKey != "" {
		return
	}
	if isLoopback(host) {
		d.addWarning(r, "api", "api.api_key", "API enabled without api_key; /tasks and /events are open to local users")
		return
	}
	d.addError(r, "api", "api.api_key",
		fmt.Sprintf("API listens on %q without api_key; task recipients would be exposed", a.Listen))
}

func (d *Doctor) warnDashboard(r *Result) {
	seen := make(map[string]int)
	for i, p := range d.cfg.Dashboard.Prefixes {
		if prev, ok := seen[p]; ok {
			d.addWarning(r, "dashboard", fmt.Sprintf("dashboard.prefixes[%d]", i),
				fmt.Sprintf("prefix %q duplicates dashboard.prefixes[%d]", p, prev))
			continue
		}
		seen[p] = i
	}
}

func (d *Doctor) warnDedupe(r *Result) {
	if d.cfg.Dedupe.TTL < 0 {
		d.addWarning(r, "dedupe", "dedupe.ttl", "de-duplication disabled; redelivered messages will be submitted again")
	}
}

// warnMissingEnvVars warns about ${VAR} references in the config file
// where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	if d.cfg.SourceFile == "" {
		return
	}
	data, err := os.ReadFile(d.cfg.SourceFile)
	if err != nil {
		d.addWarning(r, "env_vars", "", fmt.Sprintf("cannot re-read %s: %v", d.cfg.SourceFile, err))
		return
	}
	reported := make(map[string]bool)
	for _, m := range envVarRe.FindAllStringSubmatch(string(data), -1) {
		name := m[1]
		if reported[name] {
			continue
		}
		reported[name] = true
		if _, ok := os.LookupEnv(name); !ok {
			d.addWarning(r, "env_vars", "", fmt.Sprintf("environment variable ${%s} not set", name))
		}
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
