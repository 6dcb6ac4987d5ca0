package config

import "time"

// Default ledger endpoints (AO testnet units) and scheduler.
const (
	DefaultMUURL     = "https://mu.ao-testnet.xyz"
	DefaultCUURL     = "https://cu.ao-testnet.xyz"
	DefaultScheduler = "_GQ33BkPtZrqxA84vM8Zk-N2aO0toNNu_C-l-rawrBA"
)

// Config represents the complete aobridge configuration.
type Config struct {
	Service    ServiceConfig `yaml:"service"`
	WalletPath string        `yaml:"wallet_path,omitempty"`
	Worker     WorkerConfig  `yaml:"worker"`
	Ledger     LedgerConfig  `yaml:"ledger"`
	State      StateConfig   `yaml:"state"`
	API        APIConfig     `yaml:"api,omitempty"`

	// SourcePath is the absolute path of the file Load read, if any.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// WorkerConfig describes how the bridge worker is launched.
// The command line is `<runtime> <entrypoint> <json>`; runtime may be empty.
type WorkerConfig struct {
	Runtime    string            `yaml:"runtime,omitempty"`
	Entrypoint string            `yaml:"entrypoint"`
	Env        map[string]string `yaml:"env,omitempty"`
	Timeouts   TimeoutsConfig    `yaml:"timeouts"`
}

// TimeoutsConfig defines command-specific timeouts. Zero falls back to Default.
type TimeoutsConfig struct {
	Default      time.Duration `yaml:"default"`
	CreateWallet time.Duration `yaml:"create_wallet,omitempty"`
	Spawn        time.Duration `yaml:"spawn,omitempty"`
	Message      time.Duration `yaml:"message,omitempty"`
	Results      time.Duration `yaml:"results,omitempty"`
	SingleResult time.Duration `yaml:"single_result,omitempty"`
	Dryrun       time.Duration `yaml:"dryrun,omitempty"`
	Health       time.Duration `yaml:"health,omitempty"`
}

// LedgerConfig points the worker at the ledger units.
type LedgerConfig struct {
	MUURL       string        `yaml:"mu_url"`
	CUURL       string        `yaml:"cu_url"`
	Scheduler   string        `yaml:"scheduler"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	Metrics bool          `yaml:"metrics"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token with full access.
	APIKey string        `yaml:"api_key"`
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig is a scoped bearer token.
type TokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "aobridge",
			LogLevel: "info",
		},
		Worker: WorkerConfig{
			Entrypoint: "aobridge-worker",
			Timeouts: TimeoutsConfig{
				Default:      60 * time.Second,
				CreateWallet: 120 * time.Second,
				Results:      30 * time.Second,
				SingleResult: 30 * time.Second,
				Dryrun:       30 * time.Second,
				Health:       10 * time.Second,
			},
		},
		Ledger: LedgerConfig{
			MUURL:       DefaultMUURL,
			CUURL:       DefaultCUURL,
			Scheduler:   DefaultScheduler,
			HTTPTimeout: 30 * time.Second,
		},
		State: StateConfig{
			Path: "./data/aobridge.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			Metrics: true,
		},
	}
}

// For returns the timeout configured for a command name, falling back to Default.
func (t TimeoutsConfig) For(command string) time.Duration {
	var d time.Duration
	switch command {
	case "create_wallet":
		d = t.CreateWallet
	case "spawn":
		d = t.Spawn
	case "message":
		d = t.Message
	case "results":
		d = t.Results
	case "single_result":
		d = t.SingleResult
	case "dryrun":
		d = t.Dryrun
	case "health":
		d = t.Health
	}
	if d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return 60 * time.Second
}
