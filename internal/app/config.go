package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/switchboard/internal/authfile"
	"github.com/florianilch/switchboard/internal/persist"
	"github.com/florianilch/switchboard/internal/reflock"
	"github.com/florianilch/switchboard/internal/usage"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StoreBackendType represents the storage backends supported for the account
// store document.
type StoreBackendType string

const (
	StoreBackendFile    StoreBackendType = "file"
	StoreBackendKeyring StoreBackendType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4179
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigStoreBackend    = StoreBackendFile
	DefaultConfigUsageBaseURL    = usage.DefaultBaseURL
	DefaultConfigLockTimeout     = reflock.DefaultTimeout

	keyringService = "switchboard-accounts"
)

// ServerConfig holds the local API server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// StoreConfig describes where the account store document lives.
type StoreConfig struct {
	Backend StoreBackendType `json:"backend" validate:"required,oneof=file keyring"`

	// Backend-specific settings (mutually exclusive based on Backend type)
	File        string `json:"file,omitempty"`         // For file storage: path to the store document
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewBackend creates a persistence backend from the store configuration.
func (s *StoreConfig) NewBackend() (persist.Backend, error) {
	switch s.Backend {
	case StoreBackendFile:
		return persist.NewFileBackend(s.File)
	case StoreBackendKeyring:
		return persist.NewKeyringBackend(keyringService, s.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", s.Backend)
	}
}

// CodexConfig locates the externally-owned credential file.
type CodexConfig struct {
	AuthFile string `json:"auth_file" validate:"required"`
}

// UsageConfig holds the quota API configuration.
type UsageConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// LocksConfig holds the per-account refresh lock configuration.
type LocksConfig struct {
	// AcquireTimeout bounds the wait for a contended account lock.
	AcquireTimeout time.Duration `json:"acquire_timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Store     StoreConfig    `json:"store"`
	Codex     CodexConfig    `json:"codex"`
	Usage     UsageConfig    `json:"usage"`
	Locks     LocksConfig    `json:"locks"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultConfigStoreBackend
	}
	if c.Codex.AuthFile == "" {
		path, err := authfile.DefaultPath()
		if err != nil {
			return fmt.Errorf("codex.auth_file required (auto-detect failed: %w)", err)
		}
		c.Codex.AuthFile = path
	}
	if c.Usage.BaseURL == "" {
		c.Usage.BaseURL = DefaultConfigUsageBaseURL
	}
	if c.Locks.AcquireTimeout == 0 {
		c.Locks.AcquireTimeout = DefaultConfigLockTimeout
	}

	// Dynamic defaults based on backend type
	switch c.Store.Backend {
	case StoreBackendFile:
		if c.Store.File == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("store.file required (auto-detect failed: %w)", err)
			}
			c.Store.File = filepath.Join(home, ".codex-switcher", "accounts.json")
		}
	case StoreBackendKeyring:
		if c.Store.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("store.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Store.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Store.Backend {
	case StoreBackendFile:
		if c.Store.File == "" {
			return fmt.Errorf("file path required for file storage")
		}
	case StoreBackendKeyring:
		if c.Store.KeyringUser == "" {
			return fmt.Errorf("keyring_user required for keyring storage")
		}
	}

	return nil
}
