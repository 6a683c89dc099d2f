// Package config provides YAML-based configuration loading for Ledgerline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Ledgerline configuration, loaded from ledgerline.yaml.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Tenant      TenantConfig      `yaml:"tenant"`
	Relay       RelayConfig       `yaml:"relay"`
	Translation TranslationConfig `yaml:"translation"`
	Storage     StorageConfig     `yaml:"storage"`
	Companies   []CompanyConfig   `yaml:"companies"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds connection settings. Driver is "mysql" or "sqlite".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite file path
}

// AuthConfig holds JWT settings. JWTSecretParam names an SSM parameter that
// holds the secret; it is used when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	JWTSecretParam  string `yaml:"jwt_secret_param"`
	AWSRegion       string `yaml:"aws_region"`
	Issuer          string `yaml:"issuer"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// TokenTTL returns the configured token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// TenantConfig controls how a request's company is resolved. Resolvers are
// evaluated in order; known names are "header" and "principal".
type TenantConfig struct {
	Header    string   `yaml:"header"`
	Resolvers []string `yaml:"resolvers"`
}

// RelayConfig tunes the realtime websocket relay.
type RelayConfig struct {
	PingIntervalSec   int   `yaml:"ping_interval_sec"`
	ReadTimeoutSec    int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int   `yaml:"write_timeout_sec"`
	MaxMessageBytes   int64 `yaml:"max_message_bytes"`
	SendBuffer        int   `yaml:"send_buffer"`
	MaxConcurrentJobs int64 `yaml:"max_concurrent_jobs"`
}

// TranslationConfig selects the translation/transcription provider.
type TranslationConfig struct {
	Provider           string `yaml:"provider"` // "passthrough" or "openai"
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	TranscriptionModel string `yaml:"transcription_model"`
	TimeoutSec         int    `yaml:"timeout_sec"`
}

// StorageConfig controls where audio artifacts live and how long they are kept.
type StorageConfig struct {
	AudioDir      string `yaml:"audio_dir"`
	RetentionDays int    `yaml:"retention_days"`
	SweepCron     string `yaml:"sweep_cron"`
}

// CompanyConfig seeds a tenant row.
type CompanyConfig struct {
	ID    uint   `yaml:"id"`
	Name  string `yaml:"name"`
	TaxID string `yaml:"tax_id"`
}

// Known values for enumerated settings.
var (
	knownDrivers   = []string{"mysql", "sqlite"}
	knownResolvers = []string{"header", "principal"}
	knownProviders = []string{"passthrough", "openai"}
)

// cronParser matches the 5-field expressions used by the storage sweeper.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	db := &c.Database
	if db.Driver == "" {
		db.Driver = "mysql"
	}
	if db.Host == "" {
		db.Host = "127.0.0.1"
	}
	if db.Port == 0 {
		db.Port = 3306
	}
	if db.User == "" {
		db.User = "root"
	}
	if db.Database == "" {
		db.Database = "ledgerline"
	}
	if db.Path == "" {
		db.Path = "ledgerline.db"
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "ledgerline"
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 720
	}

	if c.Tenant.Header == "" {
		c.Tenant.Header = "X-Company-Id"
	}
	if len(c.Tenant.Resolvers) == 0 {
		c.Tenant.Resolvers = []string{"header", "principal"}
	}

	r := &c.Relay
	if r.PingIntervalSec == 0 {
		r.PingIntervalSec = 30
	}
	if r.ReadTimeoutSec == 0 {
		r.ReadTimeoutSec = 60
	}
	if r.WriteTimeoutSec == 0 {
		r.WriteTimeoutSec = 10
	}
	if r.MaxMessageBytes == 0 {
		r.MaxMessageBytes = 10 << 20
	}
	if r.SendBuffer == 0 {
		r.SendBuffer = 256
	}
	if r.MaxConcurrentJobs == 0 {
		r.MaxConcurrentJobs = 8
	}

	t := &c.Translation
	if t.Provider == "" {
		t.Provider = "passthrough"
	}
	if t.Model == "" {
		t.Model = "gpt-4o-mini"
	}
	if t.TranscriptionModel == "" {
		t.TranscriptionModel = "whisper-1"
	}
	if t.TimeoutSec == 0 {
		t.TimeoutSec = 30
	}

	s := &c.Storage
	if s.AudioDir == "" {
		s.AudioDir = "data/audio"
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = 30
	}
	if s.SweepCron == "" {
		s.SweepCron = "0 3 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	if !contains(knownDrivers, c.Database.Driver) {
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of %s", c.Database.Driver, strings.Join(knownDrivers, ", ")))
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWTSecretParam == "" {
		errs = append(errs, "auth.jwt_secret or auth.jwt_secret_param is required")
	}
	if c.Auth.TokenTTLMinutes < 0 {
		errs = append(errs, "auth.token_ttl_minutes must not be negative")
	}
	for i, name := range c.Tenant.Resolvers {
		if !contains(knownResolvers, name) {
			errs = append(errs, fmt.Sprintf("tenant.resolvers[%d] %q is not one of %s", i, name, strings.Join(knownResolvers, ", ")))
		}
	}
	if !contains(knownProviders, c.Translation.Provider) {
		errs = append(errs, fmt.Sprintf("translation.provider %q is not one of %s", c.Translation.Provider, strings.Join(knownProviders, ", ")))
	}
	if c.Translation.Provider == "openai" && c.Translation.BaseURL == "" {
		errs = append(errs, "translation.base_url is required for the openai provider")
	}
	if c.Relay.MaxConcurrentJobs < 0 {
		errs = append(errs, "relay.max_concurrent_jobs must not be negative")
	}
	if _, err := cronParser.Parse(c.Storage.SweepCron); err != nil {
		errs = append(errs, fmt.Sprintf("storage.sweep_cron %q: %v", c.Storage.SweepCron, err))
	}

	seen := make(map[uint]bool)
	for i, co := range c.Companies {
		if co.ID == 0 {
			errs = append(errs, fmt.Sprintf("companies[%d].id is required", i))
		} else if seen[co.ID] {
			errs = append(errs, fmt.Sprintf("companies[%d].id %d is duplicated", i, co.ID))
		}
		seen[co.ID] = true
		if co.Name == "" {
			errs = append(errs, fmt.Sprintf("companies[%d].name is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
