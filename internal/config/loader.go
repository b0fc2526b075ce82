package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "synapse-bridge.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Discover resolves the config file to load.
// Priority order: explicit path, $SYNAPSE_BRIDGE_CONFIG, ./synapse-bridge.yaml.
// An empty result means "run on defaults".
func Discover(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	if p := os.Getenv("SYNAPSE_BRIDGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file from $SYNAPSE_BRIDGE_CONFIG not found: %s", p)
		}
		return p, nil
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile, nil
	}
	return "", nil
}

// Load reads configuration from path (or defaults when path is empty),
// applies environment overrides and validates the result.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
		}
		if err := loadConfigFile(absPath, cfg); err != nil {
			return nil, err
		}
		cfg.SourceFile = absPath
	}

	applyEnvOverrides(cfg)
	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile overlays the YAML at path onto cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments repoint endpoints and
// secrets without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SYNAPSE_API")); v != "" {
		// Legacy form: the full command endpoint URL.
		cfg.Orchestrator.BaseURL = strings.TrimSuffix(strings.TrimRight(v, "/"), "/command")
	}
	if v := strings.TrimSpace(os.Getenv("SYNAPSE_API_BASE")); v != "" {
		cfg.Orchestrator.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Transport.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_GATEWAY_URL")); v != "" {
		cfg.Transport.Gateway.URL = v
	}
	cfg.Orchestrator.BaseURL = strings.TrimRight(cfg.Orchestrator.BaseURL, "/")
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.Orchestrator.BaseURL == "" {
		cfg.Orchestrator.BaseURL = defaults.Orchestrator.BaseURL
	}
	if cfg.Orchestrator.Timeout == 0 {
		cfg.Orchestrator.Timeout = defaults.Orchestrator.Timeout
	}
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = defaults.Poller.Interval
	}
	if cfg.Poller.MaxAttempts == 0 {
		cfg.Poller.MaxAttempts = defaults.Poller.MaxAttempts
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = defaults.Transport.Kind
	}
	if cfg.Transport.ReconnectDelay == 0 {
		cfg.Transport.ReconnectDelay = defaults.Transport.ReconnectDelay
	}
	if cfg.Transport.Gateway.PingEvery == 0 {
		cfg.Transport.Gateway.PingEvery = defaults.Transport.Gateway.PingEvery
	}
	if cfg.Transport.Telegram.APIBase == "" {
		cfg.Transport.Telegram.APIBase = defaults.Transport.Telegram.APIBase
	}
	if cfg.Transport.Telegram.PollTimeout == 0 {
		cfg.Transport.Telegram.PollTimeout = defaults.Transport.Telegram.PollTimeout
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = defaults.Dedupe.TTL
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Dashboard.RefreshInterval == 0 {
		cfg.Dashboard.RefreshInterval = defaults.Dashboard.RefreshInterval
	}
	if len(cfg.Dashboard.Prefixes) == 0 {
		cfg.Dashboard.Prefixes = defaults.Dashboard.Prefixes
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if err := validateURL("orchestrator.base_url", cfg.Orchestrator.BaseURL, "http", "https"); err != nil {
		return err
	}
	if cfg.Orchestrator.Timeout < 0 {
		return errors.New("orchestrator.timeout must not be negative")
	}

	if cfg.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if cfg.Poller.MaxAttempts <= 0 {
		return errors.New("poller.max_attempts must be positive")
	}
	if cfg.Poller.MaxConsecutiveErrors < 0 {
		return errors.New("poller.max_consecutive_errors must not be negative")
	}

	switch cfg.Transport.Kind {
	case TransportGateway:
		if err := validateURL("transport.gateway.url", cfg.Transport.Gateway.URL, "ws", "wss"); err != nil {
			return err
		}
		if err := checkUnresolved("transport.gateway.token", cfg.Transport.Gateway.Token); err != nil {
			return err
		}
	case TransportTelegram:
		if err := checkUnresolved("transport.telegram.token", cfg.Transport.Telegram.Token); err != nil {
			return err
		}
		if cfg.Transport.Telegram.Token == "" {
			return errors.New("transport.telegram.token is required (or set TELEGRAM_TOKEN)")
		}
		if err := validateURL("transport.telegram.api_base", cfg.Transport.Telegram.APIBase, "http", "https"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("transport.kind must be %s or %s (got %q)", TransportGateway, TransportTelegram, cfg.Transport.Kind)
	}
	if cfg.Transport.ReconnectDelay < 0 {
		return errors.New("transport.reconnect_delay must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return errors.New("api.listen is required when api.enabled is true")
		}
		if err := checkUnresolved("api.api_key", cfg.API.APIKey); err != nil {
			return err
		}
	}

	if cfg.Dashboard.RefreshInterval <= 0 {
		return errors.New("dashboard.refresh_interval must be positive")
	}
	for i, p := range cfg.Dashboard.Prefixes {
		if p != "" && !strings.HasPrefix(p, "/") {
			return fmt.Errorf("dashboard.prefixes[%d] must start with '/' (got %q)", i, p)
		}
	}

	if cfg.State.Path == "" {
		return errors.New("state.path is required")
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL (got %q)", field, strings.Join(schemes, "/"), raw)
}

// checkUnresolved reports a ${VAR} placeholder left behind by interpolateEnv.
func checkUnresolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}
