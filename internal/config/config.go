// Package config loads the read-only configuration surface described in
// spec §6: rules, retry policies, vendor config, and global limits, plus
// the ambient server/logging/database/redis sections every binary needs.
// Loading happens once at process start; nothing in this package is
// consulted after Load returns (SPEC_FULL.md §4.3: "Rules table: read-only
// after load").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	MetricsPort    string   `yaml:"metrics_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig configures the Postgres store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the shared-state cache backing the rate limiter
// and circuit breaker.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// SchedulerConfig tunes the background action poller.
type SchedulerConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	Jitter         float64       `yaml:"jitter"`
	BatchSize      int           `yaml:"batch_size"`
	Concurrency    int           `yaml:"concurrency"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// LoggingConfig configures the structured logging sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClassifierConfig configures which classifier.Adapter implementation is
// constructed, and its call timeout (spec §4.6: "arbitrary latency bounded
// by a timeout").
type ClassifierConfig struct {
	Provider string        `yaml:"provider"` // "rule_based" | "mock" | "llm"
	Timeout  time.Duration `yaml:"timeout"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
}

// NotifyConfig configures the escalation dispatcher (spec §4.5). Empty
// SlackToken means no channel is configured and the coordinator falls
// back to notify.NoopDispatcher.
type NotifyConfig struct {
	SlackToken    string            `yaml:"slack_token"`
	SlackChannels map[string]string `yaml:"slack_channels"` // "team" | "oncall" | "management" -> channel
}

// SafetyConfig configures the ambient defaults for the safety fabric.
type SafetyConfig struct {
	MaxRetriesPerWorkflow       int `yaml:"max_retries_per_workflow"`
	MaxRetriesPerVendorPerHour int `yaml:"max_retries_per_vendor_per_hour"`
	TenantRateLimitPerMinute   int `yaml:"tenant_rate_limit_per_minute"`
}

// RetryPolicy is a named retry schedule (spec §6 "Retry policies").
type RetryPolicy struct {
	Retryable    bool          `yaml:"retryable"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"` // fractional half-width, e.g. 0.2 for +/-20%
}

// Rule maps an error code to severity, retry policy, and retryability
// (spec §4.3.4).
type Rule struct {
	Severity    string `yaml:"severity"`
	RetryPolicy string `yaml:"retry_policy"`
	Retryable   bool   `yaml:"retryable"`
}

// VendorBreakerConfig is the per-vendor breaker tuning (spec §6).
type VendorBreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
	ProbeCap  int           `yaml:"probe_cap"`
}

// VendorRateLimitConfig is the per-vendor rate limit tuning.
type VendorRateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
}

// VendorConfig is the named vendor configuration (spec §6).
type VendorConfig struct {
	Breaker   VendorBreakerConfig   `yaml:"breaker"`
	RateLimit VendorRateLimitConfig `yaml:"rate_limit"`
}

// Config is the full read-only configuration surface.
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	Database      DatabaseConfig          `yaml:"database"`
	Redis         RedisConfig             `yaml:"redis"`
	Scheduler     SchedulerConfig         `yaml:"scheduler"`
	Logging       LoggingConfig           `yaml:"logging"`
	Classifier    ClassifierConfig        `yaml:"classifier"`
	Notify        NotifyConfig            `yaml:"notify"`
	Safety        SafetyConfig            `yaml:"safety"`
	Rules         map[string]Rule         `yaml:"rules"`
	RetryPolicies map[string]RetryPolicy  `yaml:"retry_policies"`
	Vendors       map[string]VendorConfig `yaml:"vendors"`
}

// DefaultRule is the documented default for error codes absent from Rules
// (spec §4.3.4).
var DefaultRule = Rule{Severity: "medium", RetryPolicy: "default", Retryable: true}

// DefaultRetryPolicy backs DefaultRule.RetryPolicy when the named policy is
// not configured.
var DefaultRetryPolicy = RetryPolicy{
	Retryable:    true,
	MaxRetries:   3,
	InitialDelay: 2 * time.Second,
	MaxDelay:     2 * time.Minute,
	Multiplier:   2.0,
	Jitter:       0.2,
}

func applyDefaults(c *Config) {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 5 * time.Second
	}
	if c.Scheduler.Jitter == 0 {
		c.Scheduler.Jitter = 0.1
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 50
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 8
	}
	if c.Scheduler.WebhookTimeout == 0 {
		c.Scheduler.WebhookTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Classifier.Provider == "" {
		c.Classifier.Provider = "rule_based"
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 10 * time.Second
	}
	if c.Safety.MaxRetriesPerWorkflow == 0 {
		c.Safety.MaxRetriesPerWorkflow = 3
	}
	if c.Safety.MaxRetriesPerVendorPerHour == 0 {
		c.Safety.MaxRetriesPerVendorPerHour = 100
	}
	if c.Safety.TenantRateLimitPerMinute == 0 {
		c.Safety.TenantRateLimitPerMinute = 1000
	}
	if c.Rules == nil {
		c.Rules = map[string]Rule{}
	}
	if c.RetryPolicies == nil {
		c.RetryPolicies = map[string]RetryPolicy{}
	}
	if _, ok := c.RetryPolicies["default"]; !ok {
		c.RetryPolicies["default"] = DefaultRetryPolicy
	}
	if c.Vendors == nil {
		c.Vendors = map[string]VendorConfig{}
	}
}

// Load reads and parses the YAML config file at path, applying documented
// defaults for missing values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(c *Config) error {
	switch c.Classifier.Provider {
	case "rule_based", "mock", "llm":
	default:
		return fmt.Errorf("unsupported classifier provider: %s", c.Classifier.Provider)
	}
	if c.Classifier.Provider == "llm" && c.Classifier.Model == "" {
		return fmt.Errorf("classifier.model is required for the llm provider")
	}
	return nil
}

// RuleFor returns the rule for errorCode, falling back to DefaultRule.
func (c *Config) RuleFor(errorCode string) Rule {
	if r, ok := c.Rules[errorCode]; ok {
		return r
	}
	return DefaultRule
}

// PolicyFor returns the named retry policy, falling back to the "default"
// policy (always present after Load).
func (c *Config) PolicyFor(name string) RetryPolicy {
	if p, ok := c.RetryPolicies[name]; ok {
		return p
	}
	return c.RetryPolicies["default"]
}
