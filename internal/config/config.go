// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chat-ai-agent.
//
// Configuration lives in TOML at ~/.chat-ai-agent/config.toml, with sensible
// defaults, environment variable overrides, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chat-ai-agent/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chat-ai-agent configuration.
type Config struct {
	Version string `toml:"version"`

	Storage  StorageConfig  `toml:"storage"`
	Security SecurityConfig `toml:"security"`
}

// StorageConfig contains database and key material locations.
type StorageConfig struct {
	// DataDir is the root directory for application data
	// (empty = ~/.chat-ai-agent)
	DataDir string `toml:"data_dir"`
	// DatabaseFile is the encrypted database filename inside DataDir/db
	DatabaseFile string `toml:"database_file"`
	// KeystoreDir overrides the key material directory
	// (empty = DataDir/keys)
	KeystoreDir string `toml:"keystore_dir"`
}

// SecurityConfig contains session and lockout configuration.
type SecurityConfig struct {
	// AutoLogoutMinutes is the idle timeout before the session expires.
	// Valid range is 1-120 minutes.
	AutoLogoutMinutes int `toml:"auto_logout_minutes"`
	// MaxLoginAttempts is the failed-login limit before lockout (3-10)
	MaxLoginAttempts int `toml:"max_login_attempts"`
	// LockoutDurationMinutes is how long login stays locked out (1-60)
	LockoutDurationMinutes int `toml:"lockout_duration_minutes"`
	// LockoutEnabled enables the failed-login lockout mechanism
	LockoutEnabled bool `toml:"lockout_enabled"`
	// MinPasswordLength is the minimum accepted password length (8-128)
	MinPasswordLength int `toml:"min_password_length"`
	// AuditEnabled enables security event logging
	AuditEnabled bool `toml:"audit_enabled"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Storage: StorageConfig{
			DataDir:      "",
			DatabaseFile: "chat_sessions_encrypted.db",
			KeystoreDir:  "",
		},

		Security: SecurityConfig{
			AutoLogoutMinutes:      30,
			MaxLoginAttempts:       3,
			LockoutDurationMinutes: 15,
			LockoutEnabled:         true,
			MinPasswordLength:      8,
			AuditEnabled:           true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chat-ai-agent configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chat-ai-agent"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on the config file.
// Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// IdleTimeout returns the auto-logout timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Security.AutoLogoutMinutes) * time.Minute
}

// LockoutDuration returns the lockout window as a duration.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.Security.LockoutDurationMinutes) * time.Minute
}

// DataDir returns the resolved data directory.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	return ConfigDir()
}

// DatabasePath returns the resolved encrypted database path.
func (c *Config) DatabasePath() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "db", c.Storage.DatabaseFile), nil
}

// KeystoreDir returns the resolved key material directory.
func (c *Config) KeystoreDir() (string, error) {
	if c.Storage.KeystoreDir != "" {
		return c.Storage.KeystoreDir, nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "keys"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back to
// defaults when the file does not exist. Environment overrides apply last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full
// validation. A missing file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath saves the configuration to a TOML file with 0600 permissions.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# chat-ai-agent configuration file\n")
	sb.WriteString("# Generated by chat-ai-agent - edit with care\n\n")

	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Security.AutoLogoutMinutes < 1 || c.Security.AutoLogoutMinutes > 120 {
		errs = append(errs, ValidationError{
			Field:   "security.auto_logout_minutes",
			Message: fmt.Sprintf("must be 1-120, got %d", c.Security.AutoLogoutMinutes),
		})
	}

	if c.Security.MaxLoginAttempts < 3 || c.Security.MaxLoginAttempts > 10 {
		errs = append(errs, ValidationError{
			Field:   "security.max_login_attempts",
			Message: fmt.Sprintf("must be 3-10, got %d", c.Security.MaxLoginAttempts),
		})
	}

	if c.Security.LockoutDurationMinutes < 1 || c.Security.LockoutDurationMinutes > 60 {
		errs = append(errs, ValidationError{
			Field:   "security.lockout_duration_minutes",
			Message: fmt.Sprintf("must be 1-60, got %d", c.Security.LockoutDurationMinutes),
		})
	}

	if c.Security.MinPasswordLength < 8 || c.Security.MinPasswordLength > 128 {
		errs = append(errs, ValidationError{
			Field:   "security.min_password_length",
			Message: fmt.Sprintf("must be 8-128, got %d", c.Security.MinPasswordLength),
		})
	}

	if c.Storage.DatabaseFile == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.database_file",
			Message: "must not be empty",
		})
	} else if strings.ContainsAny(c.Storage.DatabaseFile, "/\\") {
		errs = append(errs, ValidationError{
			Field:   "storage.database_file",
			Message: "must be a bare filename, not a path",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills in any missing or zero-value configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Storage.DatabaseFile == "" {
		c.Storage.DatabaseFile = defaults.Storage.DatabaseFile
	}
	if c.Security.AutoLogoutMinutes == 0 {
		c.Security.AutoLogoutMinutes = defaults.Security.AutoLogoutMinutes
	}
	if c.Security.MaxLoginAttempts == 0 {
		c.Security.MaxLoginAttempts = defaults.Security.MaxLoginAttempts
	}
	if c.Security.LockoutDurationMinutes == 0 {
		c.Security.LockoutDurationMinutes = defaults.Security.LockoutDurationMinutes
	}
	if c.Security.MinPasswordLength == 0 {
		c.Security.MinPasswordLength = defaults.Security.MinPasswordLength
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHAT_AGENT_DATA_DIR: overrides storage.data_dir
//   - CHAT_AGENT_KEYSTORE_DIR: overrides storage.keystore_dir
//   - CHAT_AGENT_AUTO_LOGOUT_MINUTES: overrides security.auto_logout_minutes
//   - CHAT_AGENT_LOCKOUT: set to "0" or "false" to disable lockout
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("CHAT_AGENT_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}

	if dir := os.Getenv("CHAT_AGENT_KEYSTORE_DIR"); dir != "" {
		c.Storage.KeystoreDir = dir
	}

	if mins := os.Getenv("CHAT_AGENT_AUTO_LOGOUT_MINUTES"); mins != "" {
		if n, err := strconv.Atoi(mins); err == nil && n > 0 {
			c.Security.AutoLogoutMinutes = n
		}
	}

	if lockout := os.Getenv("CHAT_AGENT_LOCKOUT"); lockout != "" {
		c.Security.LockoutEnabled = lockout != "0" && strings.ToLower(lockout) != "false"
	}
}
