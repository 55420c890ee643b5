package config

import (
	"sort"
	"time"
)

// Config represents the complete telbridge configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	State       StateConfig       `yaml:"state"`
	API         APIConfig         `yaml:"api"`
	Stdio       StdioConfig       `yaml:"stdio"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Helper      HelperConfig      `yaml:"helper"`
	SMS         SMSConfig         `yaml:"sms"`
	Calls       CallsConfig       `yaml:"calls"`
	Events      EventsConfig      `yaml:"events"`
	Audit       AuditConfig       `yaml:"audit"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-"`
	// Fingerprint is the BLAKE3 hash of the file as read, before interpolation.
	Fingerprint string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name          string `yaml:"name"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
}

// StateConfig defines where the SQLite database lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Metrics bool          `yaml:"metrics"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token with every scope.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Name   string   `yaml:"name"`
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// StdioConfig enables the line-delimited JSON channel on stdin/stdout.
type StdioConfig struct {
	Enabled bool `yaml:"enabled"`
}

const (
	PermissionBackendStatic = "static"
	PermissionBackendSQLite = "sqlite"
	PermissionBackendRedis  = "redis"
)

// PermissionsConfig selects where permission grants are read from.
type PermissionsConfig struct {
	Backend string `yaml:"backend"`
	// Static maps permission names to grant state for the static backend.
	Static map[string]bool `yaml:"static,omitempty"`
	// AssumeSMSGranted skips the SEND_SMS check, matching platforms that grant it
	// at install time.
	AssumeSMSGranted bool        `yaml:"assume_sms_granted"`
	Redis            RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// HelperConfig describes the external platform helper.
type HelperConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Timeout time.Duration     `yaml:"timeout"`
}

// SMSConfig selects the message sender.
type SMSConfig struct {
	Backend string       `yaml:"backend"` // helper | outbox | log
	Outbox  OutboxConfig `yaml:"outbox"`
}

type OutboxConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}

// CallsConfig selects the action launcher.
type CallsConfig struct {
	Backend string `yaml:"backend"` // helper | log
}

type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a configuration with sensible defaults: HTTP on loopback,
// dry-run backends and permissions denied until granted.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "telbridge",
			LogLevel:      "info",
			LogFormat:     "json",
			LogMaxSizeMB:  10,
			LogMaxBackups: 5,
			LogMaxAgeDays: 28,
		},
		State: StateConfig{
			Path: "./data/telbridge.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8087",
			Metrics: true,
		},
		Permissions: PermissionsConfig{
			Backend: PermissionBackendSQLite,
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "telbridge:",
			},
		},
		Helper: HelperConfig{
			Timeout: 10 * time.Second,
		},
		SMS: SMSConfig{
			Backend: "log",
			Outbox: OutboxConfig{
				MaxAttempts:   5,
				BackoffBase:   30 * time.Second,
				DrainInterval: time.Second,
			},
		},
		Calls: CallsConfig{
			Backend: "log",
		},
		Events: EventsConfig{
			Buffer: 256,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// UsesHelper reports whether any backend spawns the helper.
func (c *Config) UsesHelper() bool {
	return c.SMS.Backend == "helper" || c.SMS.Backend == "outbox" || c.Calls.Backend == "helper"
}

// UsesSQLite reports whether the state database is needed.
func (c *Config) UsesSQLite() bool {
	return c.Permissions.Backend == PermissionBackendSQLite || c.SMS.Backend == "outbox" || c.Audit.Enabled
}

// HelperEnv renders Helper.Env as KEY=VALUE pairs in a stable order.
func (c *Config) HelperEnv() []string {
	keys := make([]string, 0, len(c.Helper.Env))
	for k := range c.Helper.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Helper.Env[k])
	}
	return out
}
