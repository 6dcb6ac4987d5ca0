package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
service:
  log_level: debug
wallet_path: wallet.json
worker:
  runtime: node
  entrypoint: ./workers/ao_connect.js
  timeouts:
    spawn: 45s
ledger:
  cu_url: http://localhost:6363
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "aobridge" {
		t.Errorf("default service name lost, got %q", cfg.Service.Name)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.Service.LogLevel)
	}
	if want := filepath.Join(dir, "wallet.json"); cfg.WalletPath != want {
		t.Errorf("wallet_path = %q, want %q", cfg.WalletPath, want)
	}
	if want := filepath.Join(dir, "workers", "ao_connect.js"); cfg.Worker.Entrypoint != want {
		t.Errorf("entrypoint = %q, want %q", cfg.Worker.Entrypoint, want)
	}
	if cfg.Worker.Runtime != "node" {
		t.Errorf("runtime = %q, want node", cfg.Worker.Runtime)
	}
	if got := cfg.Worker.Timeouts.For("spawn"); got != 45*time.Second {
		t.Errorf("spawn timeout = %v, want 45s", got)
	}
	if got := cfg.Worker.Timeouts.For("dryrun"); got != 30*time.Second {
		t.Errorf("dryrun timeout = %v, want default 30s", got)
	}
	if cfg.Ledger.CUURL != "http://localhost:6363" {
		t.Errorf("cu_url = %q", cfg.Ledger.CUURL)
	}
	if cfg.Ledger.MUURL != DefaultMUURL {
		t.Errorf("mu_url default lost, got %q", cfg.Ledger.MUURL)
	}
	if cfg.SourcePath != path {
		t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
	}
}

func TestLoad_BareEntrypointStaysOnPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "worker:\n  entrypoint: aobridge-worker\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.Entrypoint != "aobridge-worker" {
		t.Errorf("entrypoint = %q, want bare name", cfg.Worker.Entrypoint)
	}
}

func TestLoad_DirectoryArgument(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "service:\n  name: from-dir\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("AOBRIDGE_TEST_WALLET", "/secure/wallet.json")
	dir := t.TempDir()
	path := writeConfig(t, dir, "wallet_path: ${AOBRIDGE_TEST_WALLET}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WalletPath != "/secure/wallet.json" {
		t.Errorf("wallet_path = %q", cfg.WalletPath)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad log level", "service:\n  log_level: loud\n", "service.log_level"},
		{"bad cu url", "ledger:\n  cu_url: ftp://cu\n", "ledger.cu_url"},
		{"negative timeout", "worker:\n  timeouts:\n    message: -1s\n", "worker.timeouts.message"},
		{"unset api key", "api:\n  enabled: true\n  auth:\n    api_key: ${AOBRIDGE_UNSET_KEY_FOR_TEST}\n", "AOBRIDGE_UNSET_KEY_FOR_TEST"},
		{"api without credentials", "api:\n  enabled: true\n", "api_key or tokens required"},
		{"token without scopes", "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n", "at least one scope"},
		{"empty entrypoint", "worker:\n  entrypoint: \"\"\n", "worker.entrypoint"},
		{"not yaml", "service: [", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDiscover_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: x\n")
	t.Setenv("AOBRIDGE_CONFIG", path)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got != path {
		t.Errorf("Discover() = %q, want %q", got, path)
	}
}

func TestDiscover_NothingFound(t *testing.T) {
	t.Setenv("AOBRIDGE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, err := Discover()
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("Discover() error = %v, want ErrNoConfig", err)
	}
}

func TestTimeoutsFor_FallsBack(t *testing.T) {
	var empty TimeoutsConfig
	if got := empty.For("spawn"); got != 60*time.Second {
		t.Errorf("zero config fallback = %v, want 60s", got)
	}
	tc := TimeoutsConfig{Default: 5 * time.Second}
	if got := tc.For("unknown"); got != 5*time.Second {
		t.Errorf("unknown command = %v, want default 5s", got)
	}
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "wallet.json")
	if err := os.WriteFile(p, []byte(`{"kty":"RSA"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	fp, err := FileFingerprint(p)
	if err != nil {
		t.Fatalf("FileFingerprint() error = %v", err)
	}
	if !strings.HasPrefix(fp, "blake3:") || len(fp) != len("blake3:")+64 {
		t.Errorf("unexpected fingerprint %q", fp)
	}
	if fp != Fingerprint([]byte(`{"kty":"RSA"}`)) {
		t.Error("file and byte fingerprints differ")
	}
	if got := ShortFingerprint(fp); len(got) != len("blake3:")+12 {
		t.Errorf("ShortFingerprint() = %q", got)
	}
}
