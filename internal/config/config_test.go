package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("Backend.Timeout = %v, want 5s", cfg.Backend.Timeout)
	}
	if cfg.Backend.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("CircuitBreaker.FailureThreshold = %d, want 3", cfg.Backend.CircuitBreaker.FailureThreshold)
	}
	if cfg.OAuth.PendingTTL != 5*time.Minute {
		t.Errorf("OAuth.PendingTTL = %v, want 5m", cfg.OAuth.PendingTTL)
	}
	if len(cfg.OAuth.Providers) != 2 {
		t.Fatalf("OAuth.Providers = %d entries, want 2", len(cfg.OAuth.Providers))
	}
	if cfg.OAuth.Providers[1].Scopes[0] != "read_user" {
		t.Errorf("gitlab scopes = %v", cfg.OAuth.Providers[1].Scopes)
	}
	if cfg.Composer.Store.Driver != "sqlite" {
		t.Errorf("Composer.Store.Driver = %q, want sqlite", cfg.Composer.Store.Driver)
	}
	if cfg.Composer.Guard.Driver != "redis" {
		t.Errorf("Composer.Guard.Driver = %q, want redis", cfg.Composer.Guard.Driver)
	}
	// Unset in the file, so the default survives.
	if cfg.Session.MaxAge != 7*24*3600 {
		t.Errorf("Session.MaxAge = %d, want default", cfg.Session.MaxAge)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_empty_path_uses_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://server:8080/api/v1" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
}

func TestLoad_invalid_driver(t *testing.T) {
	_, err := Load("testdata/invalid_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unknown store driver should return error")
	}
	if !strings.Contains(err.Error(), "composer.store.driver") {
		t.Errorf("error = %v, want mention of composer.store.driver", err)
	}
}

func TestLoad_duplicate_provider(t *testing.T) {
	_, err := Load("testdata/duplicate_provider.yaml")
	if err == nil || !strings.Contains(err.Error(), "duplicate provider") {
		t.Fatalf("Load() error = %v, want duplicate provider", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.OAuth.MobileRedirectURI != "com.perimeter-epitech://oauthredirect" {
		t.Errorf("default MobileRedirectURI = %q", cfg.OAuth.MobileRedirectURI)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() error = %v", err)
	}
}

func TestValidate_bad_port(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail for port 0")
	}
}

func TestValidate_relative_backend(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "/api/v1"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail for a relative backend URL")
	}
}

func TestValidate_guard_ttl_exceeds_backend_timeout(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		wantErr bool
	}{
		{"longer", 11 * time.Second, false},
		{"equal", 10 * time.Second, true},
		{"shorter", 5 * time.Second, true},
		{"unset", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Backend.Timeout = 10 * time.Second
			cfg.Composer.Guard.TTL = tt.ttl
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "composer.guard.ttl") {
				t.Errorf("error %q does not name composer.guard.ttl", err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AREA_SERVER_PORT", "7070")
	t.Setenv("AREA_BACKEND_BASE_URL", "http://10.0.0.2:8080/api/v1")
	t.Setenv("AREA_OBSERVABILITY_LOG_LEVEL", "warn")
	t.Setenv("AREA_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("AREA_OBSERVABILITY_METRICS_ENABLED", "false")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://10.0.0.2:8080/api/v1" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Observability.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.Observability.LogLevel)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 2 {
		t.Errorf("CORS.AllowedOrigins = %v, want 2 entries", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Observability.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
}

func TestEnvOverrides_provider_credentials(t *testing.T) {
	t.Setenv("AREA_OAUTH_GITHUB_CLIENT_SECRET", "from-env")
	t.Setenv("AREA_OAUTH_SPOTIFY_CLIENT_ID", "spotify-id")
	t.Setenv("AREA_OAUTH_SPOTIFY_SCOPES", "user-read-email,playlist-modify-public")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	byName := map[string]ProviderConfig{}
	for _, p := range cfg.OAuth.Providers {
		byName[p.Name] = p
	}
	if byName["github"].ClientSecret != "from-env" {
		t.Errorf("github secret = %q, want from-env", byName["github"].ClientSecret)
	}
	if byName["github"].ClientID != "gh-client" {
		t.Errorf("github client id = %q, want file value", byName["github"].ClientID)
	}
	sp, ok := byName["spotify"]
	if !ok {
		t.Fatal("spotify provider not added from environment")
	}
	if sp.ClientID != "spotify-id" || len(sp.Scopes) != 2 {
		t.Errorf("spotify = %+v", sp)
	}
}
