package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/telbridge/internal/auth"
	"github.com/mattjoyce/telbridge/internal/permission"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for tools that report problems themselves.
func Read(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Path = absPath
	cfg.Fingerprint = Fingerprint(data)
	return cfg, nil
}

// Parse decodes YAML over Defaults(). Unknown keys are rejected. The result is not
// validated.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validation where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// Validate checks a configuration for internal consistency.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}

	if cfg.UsesSQLite() && cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if err := validatePermissions(&cfg.Permissions); err != nil {
		return err
	}

	switch cfg.SMS.Backend {
	case "helper", "log":
	case "outbox":
		o := cfg.SMS.Outbox
		if o.MaxAttempts <= 0 {
			return fmt.Errorf("sms.outbox.max_attempts must be positive")
		}
		if o.BackoffBase <= 0 || o.DrainInterval <= 0 {
			return fmt.Errorf("sms.outbox.backoff_base and sms.outbox.drain_interval must be positive")
		}
	default:
		return fmt.Errorf("sms.backend must be one of: helper, outbox, log (got %q)", cfg.SMS.Backend)
	}

	switch cfg.Calls.Backend {
	case "helper", "log":
	default:
		return fmt.Errorf("calls.backend must be one of: helper, log (got %q)", cfg.Calls.Backend)
	}

	if cfg.UsesHelper() {
		if cfg.Helper.Command == "" {
			return fmt.Errorf("helper.command is required when a helper backend is selected")
		}
		if cfg.Helper.Timeout <= 0 {
			return fmt.Errorf("helper.timeout must be positive")
		}
	}

	if !cfg.API.Enabled && !cfg.Stdio.Enabled {
		return fmt.Errorf("at least one of api.enabled or stdio.enabled must be true")
	}
	if cfg.API.Enabled {
		if err := validateAPI(&cfg.API); err != nil {
			return err
		}
	}
	return nil
}

func validatePermissions(p *PermissionsConfig) error {
	switch p.Backend {
	case PermissionBackendStatic:
		for name := range p.Static {
			if _, ok := permission.Known(name); !ok {
				return fmt.Errorf("permissions.static: unknown permission %q", name)
			}
		}
	case PermissionBackendSQLite:
	case PermissionBackendRedis:
		if p.Redis.Addr == "" {
			return fmt.Errorf("permissions.redis.addr is required for the redis backend")
		}
		if err := unresolved("permissions.redis.password", p.Redis.Password); err != nil {
			return err
		}
	default:
		return fmt.Errorf("permissions.backend must be one of: static, sqlite, redis (got %q)", p.Backend)
	}
	return nil
}

func validateAPI(a *APIConfig) error {
	if a.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if err := unresolved("api.auth.api_key", a.Auth.APIKey); err != nil {
		return err
	}
	if a.Auth.APIKey == "" && len(a.Auth.Tokens) == 0 {
		return fmt.Errorf("api.auth: api_key or tokens is required when the API is enabled")
	}
	for i, tok := range a.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if tok.Token == "" {
			return fmt.Errorf("%s.token is required", field)
		}
		if err := unresolved(field+".token", tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", field)
		}
		for _, s := range tok.Scopes {
			if !auth.IsKnownScope(strings.TrimSpace(s)) {
				return fmt.Errorf("%s: unknown scope %q", field, s)
			}
		}
	}
	return nil
}

// AuthTokens converts configured tokens for the auth package.
func (c *Config) AuthTokens() []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(c.API.Auth.Tokens))
	for i, t := range c.API.Auth.Tokens {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("token-%d", i)
		}
		out = append(out, auth.TokenConfig{Name: name, Token: t.Token, Scopes: t.Scopes})
	}
	return out
}
