package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by Discover when no config file exists in any standard location.
var ErrNoConfig = errors.New("no config found")

// Load reads a YAML config file on top of Defaults, interpolates ${VAR}
// references, resolves relative paths against the file's directory and validates.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes over Defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $AOBRIDGE_CONFIG, ~/.config/aobridge/config.yaml, ./aobridge.yaml
func Discover() (string, error) {
	if p := os.Getenv("AOBRIDGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "aobridge", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("./aobridge.yaml"); err == nil {
		return "./aobridge.yaml", nil
	}

	return "", fmt.Errorf("%w (checked: $AOBRIDGE_CONFIG, ~/.config/aobridge/config.yaml, ./aobridge.yaml)", ErrNoConfig)
}

// resolvePaths makes file references relative to the config file's directory.
// A bare entrypoint name (no separator) is left for PATH lookup.
func resolvePaths(cfg *Config, baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.WalletPath = resolve(cfg.WalletPath)
	cfg.State.Path = resolve(cfg.State.Path)
	if strings.ContainsRune(cfg.Worker.Entrypoint, filepath.Separator) {
		cfg.Worker.Entrypoint = resolve(cfg.Worker.Entrypoint)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables keep their placeholder so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// UnresolvedEnvVar returns the first ${VAR} name left in s, or "".
func UnresolvedEnvVar(s string) string {
	m := envVarPattern.FindStringSubmatch(s)
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

// Validate performs basic validation on the configuration.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if strings.TrimSpace(cfg.Worker.Entrypoint) == "" {
		return fmt.Errorf("worker.entrypoint is required")
	}
	if cfg.Worker.Timeouts.Default < 0 {
		return fmt.Errorf("worker.timeouts.default must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"create_wallet": cfg.Worker.Timeouts.CreateWallet,
		"spawn":         cfg.Worker.Timeouts.Spawn,
		"message":       cfg.Worker.Timeouts.Message,
		"results":       cfg.Worker.Timeouts.Results,
		"single_result": cfg.Worker.Timeouts.SingleResult,
		"dryrun":        cfg.Worker.Timeouts.Dryrun,
		"health":        cfg.Worker.Timeouts.Health,
	} {
		if d < 0 {
			return fmt.Errorf("worker.timeouts.%s must not be negative", name)
		}
	}

	if v := UnresolvedEnvVar(cfg.WalletPath); v != "" {
		return fmt.Errorf("wallet_path: environment variable ${%s} is not set", v)
	}

	for field, raw := range map[string]string{"ledger.mu_url": cfg.Ledger.MUURL, "ledger.cu_url": cfg.Ledger.CUURL} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if cfg.Ledger.HTTPTimeout <= 0 {
		return fmt.Errorf("ledger.http_timeout must be positive")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if v := UnresolvedEnvVar(cfg.API.Auth.APIKey); v != "" {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", v)
		}
		for i, t := range cfg.API.Auth.Tokens {
			if v := UnresolvedEnvVar(t.Token); v != "" {
				return fmt.Errorf("api.auth.tokens[%d]: environment variable ${%s} is not set", i, v)
			}
			if t.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d]: token is empty", i)
			}
			if len(t.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d]: at least one scope is required", i)
			}
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth: api_key or tokens required when the API is enabled")
		}
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}
