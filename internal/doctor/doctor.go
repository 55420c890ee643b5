// Package doctor checks a telbridge configuration against the environment it will
// run in.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/telbridge/internal/auth"
	"github.com/mattjoyce/telbridge/internal/config"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/permission"
	"github.com/mattjoyce/telbridge/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Config      string  `json:"config,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Valid       bool    `json:"valid"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Config: d.cfg.Path, Fingerprint: d.cfg.Fingerprint, Valid: true}

	d.validateConfig(r)
	d.validateHelper(r)
	d.validateTokens(r)
	d.validateState(r)
	d.warnDryRun(r)
	d.warnPermissions(r)
	d.warnLegacyAuth(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateConfig(r *Result) {
	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
}

// validateHelper checks that the helper executable can be started.
func (d *Doctor) validateHelper(r *Result) {
	cmd := d.cfg.Helper.Command
	if !d.cfg.UsesHelper() {
		if cmd != "" {
			d.addWarning(r, "helper", "helper.command", "helper configured but no backend uses it")
		}
		return
	}
	if cmd == "" {
		return // reported by validateConfig
	}
	if _, err := d.lookPath(cmd); err != nil {
		d.addError(r, "helper", "helper.command", fmt.Sprintf("helper %q is not executable: %v", cmd, err))
	}
}

func (d *Doctor) validateTokens(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	seen := make(map[string]int)
	for i, tok := range d.cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if prev, dup := seen[tok.Token]; dup && tok.Token != "" {
			d.addError(r, "token_scopes", field+".token",
				fmt.Sprintf("token value duplicates api.auth.tokens[%d]", prev))
		}
		seen[tok.Token] = i
		if tok.Token != "" && tok.Token == d.cfg.API.Auth.APIKey {
			d.addError(r, "token_scopes", field+".token", "token value equals api_key, scopes would be ignored")
		}
		for j, s := range tok.Scopes {
			if !auth.IsKnownScope(strings.TrimSpace(s)) {
				d.addError(r, "token_scopes", fmt.Sprintf("%s.scopes[%d]", field, j),
					fmt.Sprintf("unknown scope %q (known: %s)", s, strings.Join(auth.KnownScopes, ", ")))
			}
		}
	}
}

// validateState checks the state database directory can be created.
func (d *Doctor) validateState(r *Result) {
	if !d.cfg.UsesSQLite() || d.cfg.State.Path == "" {
		return
	}
	if err := storage.RequireLocal(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
	dir := filepath.Dir(d.cfg.State.Path)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				d.addError(r, "state", "state.path", fmt.Sprintf("%s is not a directory", dir))
			}
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func (d *Doctor) warnDryRun(r *Result) {
	if d.cfg.SMS.Backend == "log" {
		d.addWarning(r, "dry_run", "sms.backend", "sendSms only logs; no message will be sent")
	}
	if d.cfg.Calls.Backend == "log" {
		d.addWarning(r, "dry_run", "calls.backend", "callNumber only logs; no call will be placed")
	}
}

func (d *Doctor) warnPermissions(r *Result) {
	p := d.cfg.Permissions
	if p.Backend == config.PermissionBackendStatic {
		grants := permission.NewStatic(p.Static)
		if !grants[dispatch.PermissionCallPhone] {
			d.addWarning(r, "permissions", "permissions.static",
				"CALL_PHONE is not granted; callNumber will always be denied")
		}
		if !p.AssumeSMSGranted && !grants[dispatch.PermissionSendSMS] {
			d.addWarning(r, "permissions", "permissions.static",
				"SEND_SMS is not granted; sendSms will always be denied")
		}
	}
	if p.AssumeSMSGranted {
		d.addWarning(r, "permissions", "permissions.assume_sms_granted",
			"SEND_SMS is never checked")
	}
}

func (d *Doctor) warnLegacyAuth(r *Result) {
	a := d.cfg.API.Auth
	if !d.cfg.API.Enabled || a.APIKey == "" {
		return
	}
	if len(a.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
		return
	}
	d.addWarning(r, "deprecated", "api.auth.api_key",
		"legacy api_key grants every scope; migrate to tokens array with scopes")
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

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
