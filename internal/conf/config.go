package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"kestrel/internal/logger"
)

// S3Config points at S3-compatible object storage holding the TLS key and
// certificate PEM objects.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	CertKey   string `yaml:"cert_key"`
	KeyKey    string `yaml:"key_key"`
	CAKey     string `yaml:"ca_key"`
}

// TLSConfig describes the TLS material for both implicit-TLS listeners and
// STARTTLS upgrades. When S3 is enabled the PEM material is fetched from
// object storage instead of the local files.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	// Implicit serves TLS on the listener itself instead of offering
	// STARTTLS on a plaintext port.
	Implicit bool     `yaml:"implicit"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	CAFile   string   `yaml:"ca_file"`
	S3       S3Config `yaml:"s3"`
}

// SessionStoreConfig selects the session store backend.
type SessionStoreConfig struct {
	Backend string `yaml:"backend"` // memory (default) or sqlite
	Path    string `yaml:"path"`    // sqlite database file
}

// BackendUser is a static credential entry for the bundled backend.
type BackendUser struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// BackendMailbox is a static mailbox entry for the bundled backend.
type BackendMailbox struct {
	Name        string `yaml:"name"`
	HasChildren bool   `yaml:"has_children"`
}

// BackendConfig configures the bundled demo backend wired in cmd/server.
type BackendConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Users     []BackendUser    `yaml:"users"`
	JWTSecret string           `yaml:"jwt_secret"`
	Mailboxes []BackendMailbox `yaml:"mailboxes"`
}

type Config struct {
	Host           string             `yaml:"host"`
	Port           int                `yaml:"port"`
	Welcome        string             `yaml:"welcome"`
	TLS            TLSConfig          `yaml:"tls"`
	IdleTimeoutMS  int                `yaml:"idle_timeout_ms"` // 0 disables
	MaxConnections int                `yaml:"max_connections"` // 0 is unlimited
	IDLength       int                `yaml:"id_length"`
	SessionStore   SessionStoreConfig `yaml:"session_store"`
	MetricsAddr    string             `yaml:"metrics_addr"` // empty disables
	Logging        logger.Config      `yaml:"logging"`
	Backend        BackendConfig      `yaml:"backend"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads and validates the yaml configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     143,
		Welcome:  "IMAP4rev1 server ready",
		IDLength: 16,
		SessionStore: SessionStoreConfig{
			Backend: "memory",
		},
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if c.IdleTimeoutMS < 0 {
		return fmt.Errorf("idle_timeout_ms must not be negative")
	}
	if c.IDLength <= 0 {
		return fmt.Errorf("id_length must be positive")
	}
	switch c.SessionStore.Backend {
	case "memory":
	case "sqlite":
		if c.SessionStore.Path == "" {
			return fmt.Errorf("session_store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown session store backend %q", c.SessionStore.Backend)
	}
	if c.TLS.Implicit && !c.TLS.Enabled {
		return fmt.Errorf("tls.implicit requires tls.enabled")
	}
	if c.TLS.Enabled && !c.TLS.S3.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	return nil
}
