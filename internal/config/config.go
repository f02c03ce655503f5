// Package config loads bridge configuration from an optional YAML file
// merged with environment variables. Environment wins over file values,
// and for the three SSO service settings a renamed variable wins over
// its legacy alias.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default remote endpoint pieces. The domain hosts both the RPC endpoint
// (/mmserver) and the browser-facing login/logout pages.
const (
	DefaultServiceDomain = "tunnistus.avoine.fi"
	DefaultSessionTTL    = 48 * time.Hour
)

type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// SiteURL is the public base URL of the host site, used for
		// synthetic provisioning emails and the logout message link.
		SiteURL string `yaml:"site_url"`
	} `yaml:"server"`

	SSO struct {
		// ServiceID identifies this site to the remote SSO service.
		ServiceID string `yaml:"service_id"`
		// Domain of the remote SSO service.
		Domain string `yaml:"domain"`
		// Key is the shared secret sent as the first RPC parameter.
		Key string `yaml:"key"`
	} `yaml:"sso"`

	Session struct {
		CookieName string `yaml:"cookie_name"`
		// Secret signs session cookies. Falls back to the SSO shared
		// key when unset.
		Secret string `yaml:"secret"`
		Secure bool   `yaml:"secure"`
		TTL    string `yaml:"ttl"`
	} `yaml:"session"`

	Cache struct {
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Storage struct {
		Driver string `yaml:"driver"` // "memory" | "postgres"
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist) and overlays environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overlays environment variables. The SSO values each accept a
// legacy-named alias kept from the original deployment scripts; the new
// name takes precedence when both are set.
func (c *Config) applyEnv() {
	if v := os.Getenv("SSOBRIDGE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SSOBRIDGE_SITE_URL"); v != "" {
		c.Server.SiteURL = v
	}
	if v := os.Getenv("SSOBRIDGE_ENV"); v != "" {
		c.App.Env = v
	}

	c.SSO.ServiceID = firstEnv("SSO_SERVICE_ID", "AVOINE_SSO_SERVICE_ID", c.SSO.ServiceID)
	c.SSO.Domain = firstEnv("SSO_SERVICE_DOMAIN", "AVOINE_SSO_DOMAIN", c.SSO.Domain)
	c.SSO.Key = firstEnv("SSO_SERVICE_KEY", "AVOINE_SSO_KEY", c.SSO.Key)

	if v := os.Getenv("SSOBRIDGE_SESSION_SECRET"); v != "" {
		c.Session.Secret = v
	}
	if v := os.Getenv("SSOBRIDGE_CACHE"); v != "" {
		c.Cache.Kind = v
	}
	if v := os.Getenv("SSOBRIDGE_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("SSOBRIDGE_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("SSOBRIDGE_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.SiteURL == "" {
		c.Server.SiteURL = "http://localhost:8080"
	}
	if c.SSO.Domain == "" {
		c.SSO.Domain = DefaultServiceDomain
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "ssobridge_sess"
	}
	if c.Session.Secret == "" {
		c.Session.Secret = c.SSO.Key
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
}

// SessionTTL parses the configured session lifetime, falling back to the
// 48h default the liveness cache also inherits.
func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTL == "" {
		return DefaultSessionTTL
	}
	d, err := time.ParseDuration(c.Session.TTL)
	if err != nil || d <= 0 {
		return DefaultSessionTTL
	}
	return d
}

// firstEnv returns the first set variable among name and its legacy
// alias, or fallback when neither is set.
func firstEnv(name, legacy, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if v := os.Getenv(legacy); v != "" {
		return v
	}
	return fallback
}
