package config

import "time"

// Transport kinds understood by the bridge.
const (
	TransportGateway  = "wsgateway"
	TransportTelegram = "telegram"
)

// Config represents the complete synapse-bridge configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	State        StateConfig        `yaml:"state"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Poller       PollerConfig       `yaml:"poller"`
	Transport    TransportConfig    `yaml:"transport"`
	Dedupe       DedupeConfig       `yaml:"dedupe"`
	API          APIConfig          `yaml:"api,omitempty"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`

	// SourceFile is the path the config was read from; empty when running on defaults.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where transport session state is kept.
type StateConfig struct {
	Path string `yaml:"path"`
}

// OrchestratorConfig points at the Synapse command API.
type OrchestratorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PollerConfig is the result polling policy applied to every submitted task.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	// MaxConsecutiveErrors ends polling early when that many ticks in a row
	// fail to reach the orchestrator. Zero keeps polling until MaxAttempts.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// TransportConfig selects and configures the chat transport.
type TransportConfig struct {
	Kind           string         `yaml:"kind"`
	ReconnectDelay time.Duration  `yaml:"reconnect_delay"`
	Gateway        GatewayConfig  `yaml:"gateway"`
	Telegram       TelegramConfig `yaml:"telegram"`
}

// GatewayConfig configures the WebSocket chat-gateway sidecar.
type GatewayConfig struct {
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"`
	PingEvery time.Duration `yaml:"ping_every"`
}

// TelegramConfig configures the Telegram Bot API transport.
type TelegramConfig struct {
	Token       string        `yaml:"token"`
	APIBase     string        `yaml:"api_base"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// DedupeConfig controls inbound redelivery suppression.
type DedupeConfig struct {
	// TTL is how long a message fingerprint is remembered. Zero or unset
	// means the default; a negative value turns suppression off.
	TTL time.Duration `yaml:"ttl"`
}

// APIConfig defines the bridge ops HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// DashboardConfig configures the terminal dashboard.
type DashboardConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Prefixes        []string      `yaml:"prefixes"`
}

// Defaults returns a Config with the stock polling policy and local endpoints.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "synapse-bridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/bridge.db",
		},
		Orchestrator: OrchestratorConfig{
			BaseURL: "http://127.0.0.1:8000/api",
			Timeout: 10 * time.Second,
		},
		Poller: PollerConfig{
			Interval:    2 * time.Second,
			MaxAttempts: 60,
		},
		Transport: TransportConfig{
			Kind:           TransportGateway,
			ReconnectDelay: 3 * time.Second,
			Gateway: GatewayConfig{
				URL:       "ws://127.0.0.1:8765/ws",
				PingEvery: 30 * time.Second,
			},
			Telegram: TelegramConfig{
				APIBase:     "https://api.telegram.org",
				PollTimeout: 30 * time.Second,
			},
		},
		Dedupe: DedupeConfig{
			TTL: 10 * time.Minute,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8090",
		},
		Dashboard: DashboardConfig{
			RefreshInterval: 2 * time.Second,
			Prefixes:        []string{"", "/ag", "/gcli", "/sys"},
		},
	}
}
