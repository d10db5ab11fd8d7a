package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Repo    RepoConfig    `yaml:"repo"`
	Auth    AuthConfig    `yaml:"auth"`
	Tracing TracingConfig `yaml:"tracing"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	TrustedProxies     []string `yaml:"trusted_proxies"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// RepoConfig controls where bare repositories live and whether the server
// will git-init one on first contact instead of 404ing.
type RepoConfig struct {
	Root       string `yaml:"root"`
	AutoCreate bool   `yaml:"auto_create"`
}

type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Driver             string `yaml:"driver"` // "sqlite" or "postgres"
	DSN                string `yaml:"dsn"`     // file path for sqlite, connection string for postgres
	JWTSecret          string `yaml:"jwt_secret"`
	TokenDuration      string `yaml:"token_duration"` // e.g. "24h"
	EnablePasswordAuth bool   `yaml:"enable_password_auth"`
}

// TracingConfig configures the optional OTLP exporter; an empty Endpoint
// disables tracing and the server falls back to a no-op tracer provider.
type TracingConfig struct {
	Endpoint    string  `yaml:"otlp_endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type WebhookConfig struct {
	Workers       int                  `yaml:"workers"`
	Subscriptions []WebhookSubscription `yaml:"subscriptions"`
}

type WebhookSubscription struct {
	URL         string   `yaml:"url"`
	Secret      string   `yaml:"secret"`
	RepoPattern string   `yaml:"repo_pattern"`
	Events      []string `yaml:"events"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Repo.Root == "" {
		return fmt.Errorf("repo.root must be configured")
	}
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "change-me-in-production" {
			return fmt.Errorf("SMARTGIT_JWT_SECRET must be set to a non-default value (example: SMARTGIT_JWT_SECRET=dev-jwt-secret-change-this)")
		}
		if len(c.Auth.JWTSecret) < 16 {
			return fmt.Errorf("SMARTGIT_JWT_SECRET must be at least 16 characters (current length: %d)", len(c.Auth.JWTSecret))
		}
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Repo: RepoConfig{
			Root:       "data/repos",
			AutoCreate: false,
		},
		Auth: AuthConfig{
			Enabled:       false,
			Driver:        "sqlite",
			DSN:           "smartgit-auth.db",
			JWTSecret:     "change-me-in-production",
			TokenDuration: "24h",
		},
		Tracing: TracingConfig{
			ServiceName: "smartgitd",
			SampleRatio: 1.0,
		},
		Webhook: WebhookConfig{
			Workers: 2,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SMARTGIT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SMARTGIT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("SMARTGIT_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = parseCSV(v)
	}
	if v := os.Getenv("SMARTGIT_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.Server.CORSAllowedOrigins = parseCSV(v)
	}
	if v := os.Getenv("SMARTGIT_REPO_ROOT"); v != "" {
		cfg.Repo.Root = v
	}
	if v := os.Getenv("SMARTGIT_AUTO_CREATE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Repo.AutoCreate = enabled
		}
	}
	if v := os.Getenv("SMARTGIT_ENABLE_AUTH"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = enabled
		}
	}
	if v := os.Getenv("SMARTGIT_AUTH_DRIVER"); v != "" {
		cfg.Auth.Driver = v
	}
	if v := os.Getenv("SMARTGIT_AUTH_DSN"); v != "" {
		cfg.Auth.DSN = v
	}
	if v := os.Getenv("SMARTGIT_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("SMARTGIT_ENABLE_PASSWORD_AUTH"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.EnablePasswordAuth = enabled
		}
	}
	if v := os.Getenv("SMARTGIT_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("SMARTGIT_WEBHOOK_WORKERS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.Webhook.Workers = value
		}
	}
}

func parseCSV(v string) []string {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
