package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected memory storage backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Search.DecayRate != 0.3 || cfg.Search.DecayFloor != 0.05 {
		t.Fatalf("unexpected decay defaults: %+v", cfg.Search)
	}
	if got := cfg.RetryBaseDelay(); got != 5*time.Second {
		t.Fatalf("expected retry base delay 5s, got %v", got)
	}
	if got := cfg.RetryMaxDelay(); got != 30*time.Minute {
		t.Fatalf("expected retry max delay 30m, got %v", got)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Fatalf("expected embedding dimension 384, got %d", cfg.Embedding.Dimension)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
runner:
  concurrency: 6
  poll_interval_seconds: 1
  batch_size: 32
  vectorize_topic: custom-topic
fetch:
  timeout_seconds: 45
  max_bytes: 1048576
  user_agent: lorekeep-test
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
retry:
  base_delay_seconds: 2
  max_delay_minutes: 10
  max_attempts: 5
search:
  overfetch_multiplier: 4
  web_base_url: https://search.internal
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: artifacts
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Runner.Concurrency != 6 || cfg.Runner.VectorizeTopic != "custom-topic" {
		t.Fatalf("expected runner overrides to apply: %+v", cfg.Runner)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("expected retry.max_attempts 5, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected gcs storage overrides: %+v", cfg.Storage)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Fetch:   FetchConfig{TimeoutSeconds: 10, MaxBytes: 1024},
		Retry:   RetryConfig{MaxAttempts: 3},
		Storage: StorageConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid fetch timeout",
			cfg: func() Config {
				c := base
				c.Fetch.TimeoutSeconds = 0
				return c
			}(),
			want: "fetch.timeout_seconds",
		},
		{
			name: "invalid max attempts",
			cfg: func() Config {
				c := base
				c.Retry.MaxAttempts = 0
				return c
			}(),
			want: "retry.max_attempts",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "local backend without dir",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "local"
				return c
			}(),
			want: "storage.local_dir",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
