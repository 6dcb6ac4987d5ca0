// Package doctor validates aobridge configuration and the local worker setup.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/aobridge/internal/auth"
	"github.com/mattjoyce/aobridge/internal/config"
	"github.com/mattjoyce/aobridge/internal/ledger"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool              `json:"valid"`
	Errors   []Issue           `json:"errors,omitempty"`
	Warnings []Issue           `json:"warnings,omitempty"`
	Facts    map[string]string `json:"facts,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Prober asks a worker to report its health. Implemented by *dispatch.Client.
type Prober interface {
	Health(ctx context.Context) (*protocol.Result, error)
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	prober   Prober
	lookPath func(string) (string, error)
	mountOf  func(string) (storage.Mount, error)
}

// New creates a Doctor. prober may be nil to skip the worker health probe.
func New(cfg *config.Config, prober Prober) *Doctor {
	return &Doctor{cfg: cfg, prober: prober, lookPath: exec.LookPath, mountOf: storage.Inspect}
}

// Validate runs all checks and returns a result. The worker probe honours ctx.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true, Facts: map[string]string{}}

	d.reportConfigSource(r)
	d.validateService(r)
	d.validateWorker(r)
	d.validateWallet(r)
	d.validateLedger(r)
	d.validateTimeouts(r)
	d.validateState(r)
	d.validateAPI(r)
	d.warnDeprecatedSyntax(r)
	if len(r.Errors) == 0 {
		d.probeWorker(ctx, r)
	}

	r.Valid = len(r.Errors) == 0
	if len(r.Facts) == 0 {
		r.Facts = nil
	}
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) reportConfigSource(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	r.Facts["config"] = d.cfg.SourcePath
	if fp, err := config.FileFingerprint(d.cfg.SourcePath); err == nil {
		r.Facts["config_fingerprint"] = fp
	}
}

func (d *Doctor) validateService(r *Result) {
	if d.cfg.Service.Name == "" {
		d.addWarning(r, "service", "service.name", "service.name is empty")
	}
}

// validateWorker checks the runtime and entrypoint can be launched.
func (d *Doctor) validateWorker(r *Result) {
	w := d.cfg.Worker
	if w.Entrypoint == "" {
		d.addError(r, "worker", "worker.entrypoint", "worker.entrypoint is required")
		return
	}

	if w.Runtime != "" {
		path, err := d.lookPath(w.Runtime)
		if err != nil {
			d.addError(r, "worker", "worker.runtime", fmt.Sprintf("runtime %q not found on PATH", w.Runtime))
		} else {
			r.Facts["runtime"] = path
		}
		info, err := os.Stat(w.Entrypoint)
		switch {
		case err != nil:
			d.addError(r, "worker", "worker.entrypoint", fmt.Sprintf("entrypoint %q: %v", w.Entrypoint, err))
		case info.IsDir():
			d.addError(r, "worker", "worker.entrypoint", fmt.Sprintf("entrypoint %q is a directory", w.Entrypoint))
		default:
			r.Facts["entrypoint"] = w.Entrypoint
		}
		return
	}

	path, err := d.lookPath(w.Entrypoint)
	if err != nil {
		d.addError(r, "worker", "worker.entrypoint", fmt.Sprintf("entrypoint %q is not executable: %v", w.Entrypoint, err))
		return
	}
	r.Facts["entrypoint"] = path
}

// validateWallet checks the wallet file parses as an RSA JWK.
func (d *Doctor) validateWallet(r *Result) {
	path := d.cfg.WalletPath
	if path == "" {
		d.addWarning(r, "wallet", "wallet_path", "wallet_path not set; spawn and message will fail")
		return
	}
	if unresolved := config.UnresolvedEnvVar(path); unresolved != "" {
		d.addError(r, "wallet", "wallet_path", fmt.Sprintf("environment variable ${%s} not set", unresolved))
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		d.addError(r, "wallet", "wallet_path", fmt.Sprintf("wallet %q: %v", path, err))
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		d.addWarning(r, "wallet", "wallet_path",
			fmt.Sprintf("wallet %q is readable by other users (mode %04o)", path, info.Mode().Perm()))
	}

	w, err := ledger.LoadWallet(path)
	if err != nil {
		d.addError(r, "wallet", "wallet_path", err.Error())
		return
	}
	r.Facts["wallet_address"] = w.Address()
	if m, err := d.mountOf(path); err == nil && m.Remote() {
		d.addWarning(r, "wallet", "wallet_path",
			fmt.Sprintf("wallet %q is on network filesystem %s; its key is readable wherever that share is mounted", path, m.Type))
	}
	if fp, err := config.FileFingerprint(path); err == nil {
		r.Facts["wallet_fingerprint"] = config.ShortFingerprint(fp)
	}
}

func (d *Doctor) validateLedger(r *Result) {
	l := d.cfg.Ledger
	for field, raw := range map[string]string{"ledger.mu_url": l.MUURL, "ledger.cu_url": l.CUURL} {
		if raw == "" {
			d.addError(r, "ledger", field, field+" is required")
			continue
		}
		if strings.HasPrefix(raw, "http://") && !isLoopback(raw) {
			d.addWarning(r, "ledger", field, fmt.Sprintf("%s uses plain http: %s", field, raw))
		}
	}
	if l.Scheduler == "" {
		d.addWarning(r, "ledger", "ledger.scheduler", "no default scheduler; spawn requires --scheduler")
	} else if len(l.Scheduler) != 43 {
		d.addWarning(r, "ledger", "ledger.scheduler",
			fmt.Sprintf("scheduler %q is not a 43 character transaction id", l.Scheduler))
	}
}

func isLoopback(raw string) bool {
	host := strings.TrimPrefix(raw, "http://")
	return strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.") || strings.HasPrefix(host, "[::1]")
}

func (d *Doctor) validateTimeouts(r *Result) {
	t := d.cfg.Worker.Timeouts
	if t.Default <= 0 {
		d.addWarning(r, "timeouts", "worker.timeouts.default", "no default timeout; commands fall back to 60s")
	}
	http := d.cfg.Ledger.HTTPTimeout
	for _, name := range protocol.Names() {
		if name == protocol.CommandHealth || name == protocol.CommandCreateWallet {
			continue // no ledger round trip
		}
		limit := t.For(string(name))
		if http > 0 && limit < http {
			d.addWarning(r, "timeouts", "worker.timeouts."+string(name),
				fmt.Sprintf("%s timeout %v is shorter than ledger.http_timeout %v", name, limit, http))
		}
	}
}

func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
		return
	}
	m, err := d.mountOf(d.cfg.State.Path)
	if err != nil {
		d.addWarning(r, "state", "state.path", fmt.Sprintf("cannot inspect filesystem: %v", err))
	} else if m.Remote() {
		d.addError(r, "state", "state.path",
			fmt.Sprintf("state database %q is on network filesystem %s; SQLite needs a local disk", d.cfg.State.Path, m.Type))
		return
	}
	if _, err := os.Stat(d.cfg.State.Path); os.IsNotExist(err) {
		d.addWarning(r, "state", "state.path",
			fmt.Sprintf("state database %q does not exist yet; run `aobridge system setup`", d.cfg.State.Path))
		return
	}
	r.Facts["state"] = filepath.Clean(d.cfg.State.Path)
}

func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addError(r, "api", "api.auth", "API enabled but no authentication configured")
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.KnownScope(scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// probeWorker runs the health command through the real worker.
func (d *Doctor) probeWorker(ctx context.Context, r *Result) {
	if d.prober == nil {
		return
	}
	res, err := d.prober.Health(ctx)
	if err != nil {
		d.addError(r, "probe", "", fmt.Sprintf("health probe: %v", err))
		return
	}
	if !res.Success {
		d.addError(r, "probe", "", fmt.Sprintf("health probe failed (%s): %s", res.Kind, res.Error))
		return
	}
	if res.Health != nil {
		r.Facts["worker_version"] = res.Health.Version
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	keys := make([]string, 0, len(r.Facts))
	for k := range r.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %-18s %s\n", k, r.Facts[k])
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
