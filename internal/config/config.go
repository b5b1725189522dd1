// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AREA_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Session       SessionConfig       `yaml:"session"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	Composer      ComposerConfig      `yaml:"composer"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	PublicURL       string        `yaml:"public_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// BackendConfig describes the Area REST API.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	MaxBodyBytes   int64                `yaml:"max_body_bytes"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings for the backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SessionConfig describes where the bearer token lives between requests.
// The BFF keeps it in a signed and encrypted cookie; the CLI keeps it in a
// local file.
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	HashKey    string `yaml:"hash_key"`
	BlockKey   string `yaml:"block_key"`
	MaxAge     int    `yaml:"max_age"`
	Secure     bool   `yaml:"secure"`
	File       string `yaml:"file"`
}

// OAuthConfig describes the connect flow and its providers.
type OAuthConfig struct {
	PendingTTL        time.Duration    `yaml:"pending_ttl"`
	MobileRedirectURI string           `yaml:"mobile_redirect_uri"`
	Providers         []ProviderConfig `yaml:"providers"`
}

// ProviderConfig overrides or adds one OAuth provider. Fields left empty
// keep the built-in value for a known provider.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	Service      string   `yaml:"service"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
	PKCE         *bool    `yaml:"pkce"`
	Exchange     string   `yaml:"exchange"`
	Mobile       *bool    `yaml:"mobile"`
	Disabled     bool     `yaml:"disabled"`
}

// ComposerConfig describes draft persistence and submission locking.
type ComposerConfig struct {
	Store StoreConfig `yaml:"store"`
	Guard GuardConfig `yaml:"guard"`
}

// StoreConfig describes draft persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// GuardConfig describes the submission lock settings.
type GuardConfig struct {
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			PublicURL:       "http://localhost:3000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Backend: BackendConfig{
			BaseURL:      "http://server:8080/api/v1",
			Timeout:      10 * time.Second,
			MaxBodyBytes: 10 << 20,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Session: SessionConfig{
			CookieName: "area_session",
			MaxAge:     7 * 24 * 3600,
		},
		OAuth: OAuthConfig{
			PendingTTL:        10 * time.Minute,
			MobileRedirectURI: "com.perimeter-epitech://oauthredirect",
		},
		Composer: ComposerConfig{
			Store: StoreConfig{
				Driver:          "memory",
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Guard: GuardConfig{
				Driver: "memory",
				TTL:    30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. An empty path skips the file and uses
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "backend.base_url must be an absolute URL")
	}
	if c.OAuth.PendingTTL <= 0 {
		errs = append(errs, "oauth.pending_ttl must be positive")
	}

	switch c.Composer.Store.Driver {
	case "memory", "file", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("composer.store.driver %q is not one of memory, file, sqlite, postgres", c.Composer.Store.Driver))
	}
	if c.Composer.Store.Driver == "postgres" && c.Composer.Store.DSNEnv == "" {
		errs = append(errs, "composer.store.dsn_env is required for postgres")
	}
	switch c.Composer.Guard.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("composer.guard.driver %q is not one of memory, redis", c.Composer.Guard.Driver))
	}
	// A lock that expires mid-call would admit a second POST /area.
	if c.Composer.Guard.TTL <= c.Backend.Timeout {
		errs = append(errs, fmt.Sprintf("composer.guard.ttl (%s) must exceed backend.timeout (%s)", c.Composer.Guard.TTL, c.Backend.Timeout))
	}

	seen := make(map[string]bool, len(c.OAuth.Providers))
	for i, p := range c.OAuth.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("oauth.providers[%d].name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("oauth.providers[%d]: duplicate provider %q", i, p.Name))
		}
		seen[p.Name] = true
		switch p.Exchange {
		case "", "code", "token":
		default:
			errs = append(errs, fmt.Sprintf("oauth.providers[%d].exchange %q is not one of code, token", i, p.Exchange))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// envOverrides holds the AREA_* variables. Zero values leave the file or
// default value untouched.
type envOverrides struct {
	ServerPort        int           `env:"SERVER_PORT"`
	PublicURL         string        `env:"PUBLIC_URL"`
	BackendBaseURL    string        `env:"BACKEND_BASE_URL"`
	BackendTimeout    time.Duration `env:"BACKEND_TIMEOUT"`
	SessionHashKey    string        `env:"SESSION_HASH_KEY"`
	SessionBlockKey   string        `env:"SESSION_BLOCK_KEY"`
	SessionFile       string        `env:"SESSION_FILE"`
	CORSOrigins       []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	OAuthPendingTTL   time.Duration `env:"OAUTH_PENDING_TTL"`
	StoreDriver       string        `env:"COMPOSER_STORE_DRIVER"`
	StorePath         string        `env:"COMPOSER_STORE_PATH"`
	GuardDriver       string        `env:"COMPOSER_GUARD_DRIVER"`
	GuardTTL          time.Duration `env:"COMPOSER_GUARD_TTL"`
	LogLevel          string        `env:"OBSERVABILITY_LOG_LEVEL"`
	TracingEnabled    *bool         `env:"OBSERVABILITY_TRACING_ENABLED"`
	TracingEndpoint   string        `env:"OBSERVABILITY_TRACING_ENDPOINT"`
	MetricsEnabled    *bool         `env:"OBSERVABILITY_METRICS_ENABLED"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME"`
}

// providerEnv holds per-provider credentials, read under
// AREA_OAUTH_<NAME>_.
type providerEnv struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURI  string   `env:"REDIRECT_URI"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

// KnownProviders are the provider names whose credentials are read from
// the environment even when the YAML file does not list them.
var KnownProviders = []string{"github", "discord", "spotify", "microsoft", "dropbox", "google"}

func applyEnvOverrides(cfg *Config) error {
	var raw envOverrides
	if err := env.ParseWithOptions(&raw, env.Options{Prefix: EnvPrefix}); err != nil {
		return err
	}

	if raw.ServerPort != 0 {
		cfg.Server.Port = raw.ServerPort
	}
	setString(&cfg.Server.PublicURL, raw.PublicURL)
	setString(&cfg.Backend.BaseURL, raw.BackendBaseURL)
	if raw.BackendTimeout > 0 {
		cfg.Backend.Timeout = raw.BackendTimeout
	}
	setString(&cfg.Session.HashKey, raw.SessionHashKey)
	setString(&cfg.Session.BlockKey, raw.SessionBlockKey)
	setString(&cfg.Session.File, raw.SessionFile)
	setString(&cfg.Session.CookieName, raw.SessionCookieName)
	if len(raw.CORSOrigins) > 0 {
		cfg.Server.CORS.AllowedOrigins = raw.CORSOrigins
	}
	if raw.OAuthPendingTTL > 0 {
		cfg.OAuth.PendingTTL = raw.OAuthPendingTTL
	}
	if raw.GuardTTL > 0 {
		cfg.Composer.Guard.TTL = raw.GuardTTL
	}
	setString(&cfg.Composer.Store.Driver, raw.StoreDriver)
	setString(&cfg.Composer.Store.Path, raw.StorePath)
	setString(&cfg.Composer.Guard.Driver, raw.GuardDriver)
	setString(&cfg.Observability.LogLevel, raw.LogLevel)
	setString(&cfg.Observability.Tracing.Endpoint, raw.TracingEndpoint)
	if raw.TracingEnabled != nil {
		cfg.Observability.Tracing.Enabled = *raw.TracingEnabled
	}
	if raw.MetricsEnabled != nil {
		cfg.Observability.Metrics.Enabled = *raw.MetricsEnabled
	}

	return applyProviderEnv(cfg)
}

func applyProviderEnv(cfg *Config) error {
	names := append([]string(nil), KnownProviders...)
	for _, p := range cfg.OAuth.Providers {
		if !contains(names, p.Name) {
			names = append(names, p.Name)
		}
	}

	for _, name := range names {
		var pe providerEnv
		prefix := EnvPrefix + "OAUTH_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		if err := env.ParseWithOptions(&pe, env.Options{Prefix: prefix}); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		if pe.empty() {
			continue
		}

		idx := -1
		for i := range cfg.OAuth.Providers {
			if cfg.OAuth.Providers[i].Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			cfg.OAuth.Providers = append(cfg.OAuth.Providers, ProviderConfig{Name: name})
			idx = len(cfg.OAuth.Providers) - 1
		}
		p := &cfg.OAuth.Providers[idx]
		setString(&p.ClientID, pe.ClientID)
		setString(&p.ClientSecret, pe.ClientSecret)
		setString(&p.RedirectURI, pe.RedirectURI)
		if len(pe.Scopes) > 0 {
			p.Scopes = pe.Scopes
		}
	}
	return nil
}

func (pe providerEnv) empty() bool {
	return pe.ClientID == "" && pe.ClientSecret == "" && pe.RedirectURI == "" && len(pe.Scopes) == 0
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
