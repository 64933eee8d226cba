// Package config provides environment-variable-first configuration loading
// with an optional YAML file as the base layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by the transport key.
const (
	TransportSMTP   = "smtp"
	TransportGraph  = "graph"
	TransportSES    = "ses"
	TransportStdout = "stdout"
)

const redacted = "********"

// Config holds the complete application configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	TLS        TLSConfig        `yaml:"tls"`
	Transport  string           `yaml:"transport"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Graph      GraphConfig      `yaml:"graph"`
	SES        SESConfig        `yaml:"ses"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Features   FeaturesConfig   `yaml:"features"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig holds the HTTP listener configuration.
type HTTPConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TLSConfig holds TLS settings for the HTTP listener. With Enabled set and no
// certificate files, a self-signed certificate is generated at startup.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SESConfig holds AWS SES configuration. Credentials are optional; the
// default AWS chain is used when they are empty.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// DispatcherConfig holds background dispatcher settings.
type DispatcherConfig struct {
	Workers         int           `yaml:"workers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DispatchConfig holds the response interception policy.
type DispatchConfig struct {
	SendOnFault bool `yaml:"send_on_fault"`
}

// FeaturesConfig holds the global feature toggles.
type FeaturesConfig struct {
	SendEmail bool `yaml:"send_email"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Transport {
	case "", TransportSMTP, TransportGraph, TransportSES, TransportStdout:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher.workers must be at least 1, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.ShutdownTimeout <= 0 {
		return fmt.Errorf("dispatcher.shutdown_timeout must be positive, got %s", c.Dispatcher.ShutdownTimeout)
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port out of range: %d", c.SMTP.Port)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	return nil
}

// SMTPConfigured returns true if an SMTP relay host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SMTPAuthEnabled returns true if both SMTP username and password are set.
func (c *Config) SMTPAuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// Redacted returns a copy with every secret masked, suitable for printing.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.SMTP.Password)
	mask(&out.Graph.ClientSecret)
	mask(&out.SES.SecretAccessKey)
	return &out
}

// YAML renders the configuration in the same shape LoadFromFile reads.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8080"
	c.HTTP.ReadTimeout = 15 * time.Second
	c.HTTP.WriteTimeout = 30 * time.Second
	c.SMTP.Port = 25
	c.Dispatcher.Workers = 1
	c.Dispatcher.ShutdownTimeout = 30 * time.Second
	c.Features.SendEmail = true
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setDuration(&c.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDuration(&c.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")

	setBool(&c.TLS.Enabled, "TLS_ENABLED")
	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	if v := os.Getenv("MAIL_TRANSPORT"); v != "" {
		c.Transport = v
	}
	c.Transport = strings.ToLower(c.Transport)

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.From, "SMTP_FROM")
	setBool(&c.SMTP.InsecureSkipVerify, "SMTP_INSECURE_SKIP_VERIFY")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setInt(&c.Dispatcher.Workers, "DISPATCHER_WORKERS")
	setDuration(&c.Dispatcher.ShutdownTimeout, "DISPATCHER_SHUTDOWN_TIMEOUT")
	setBool(&c.Dispatch.SendOnFault, "DISPATCH_SEND_ON_FAULT")
	setBool(&c.Features.SendEmail, "FEATURE_SEND_EMAIL")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
