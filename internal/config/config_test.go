// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// DEFAULTS TESTS
// =============================================================================

// TestConfig_Defaults tests the default configuration values.
func TestConfig_Defaults(t *testing.T) {
	cfg := Default()

	require.Equal(t, "chat_sessions_encrypted.db", cfg.Storage.DatabaseFile)
	require.Equal(t, 30, cfg.Security.AutoLogoutMinutes)
	require.Equal(t, 3, cfg.Security.MaxLoginAttempts)
	require.Equal(t, 15, cfg.Security.LockoutDurationMinutes)
	require.True(t, cfg.Security.LockoutEnabled)
	require.Equal(t, 8, cfg.Security.MinPasswordLength)
	require.True(t, cfg.Security.AuditEnabled)

	require.NoError(t, cfg.Validate())
}

// TestConfig_DerivedValues tests duration and path derivation.
func TestConfig_DerivedValues(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/tmp/agent-data"

	require.Equal(t, 30*time.Minute, cfg.IdleTimeout())
	require.Equal(t, 15*time.Minute, cfg.LockoutDuration())

	dbPath, err := cfg.DatabasePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/agent-data", "db", "chat_sessions_encrypted.db"), dbPath)

	keyDir, err := cfg.KeystoreDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/agent-data", "keys"), keyDir)

	cfg.Storage.KeystoreDir = "/tmp/keys-elsewhere"
	keyDir, err = cfg.KeystoreDir()
	require.NoError(t, err)
	require.Equal(t, "/tmp/keys-elsewhere", keyDir)
}

// =============================================================================
// LOAD / SAVE TESTS
// =============================================================================

// TestConfig_LoadMissingFile tests that a missing file yields defaults.
func TestConfig_LoadMissingFile(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().Security.AutoLogoutMinutes, cfg.Security.AutoLogoutMinutes)
}

// TestConfig_SaveLoadRoundTrip tests TOML persistence.
func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Storage.DataDir = "/tmp/roundtrip"
	cfg.Security.AutoLogoutMinutes = 45
	cfg.Security.LockoutEnabled = false
	require.NoError(t, SaveToPath(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/roundtrip", loaded.Storage.DataDir)
	require.Equal(t, 45, loaded.Security.AutoLogoutMinutes)
	require.False(t, loaded.Security.LockoutEnabled)
}

// TestConfig_LoadPartialFile tests that omitted fields fall back to defaults.
func TestConfig_LoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := "[security]\nauto_logout_minutes = 5\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Security.AutoLogoutMinutes)
	require.Equal(t, 3, cfg.Security.MaxLoginAttempts)
	require.Equal(t, "chat_sessions_encrypted.db", cfg.Storage.DatabaseFile)
}

// TestConfig_LoadFixesPermissions tests the world-readable fixup.
func TestConfig_LoadFixesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// TestConfig_LoadMalformedFile tests that bad TOML is an error.
func TestConfig_LoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

// TestConfig_ValidationRanges tests the per-field range checks.
func TestConfig_ValidationRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"auto logout too low", func(c *Config) { c.Security.AutoLogoutMinutes = 0 }},
		{"auto logout too high", func(c *Config) { c.Security.AutoLogoutMinutes = 121 }},
		{"max attempts too low", func(c *Config) { c.Security.MaxLoginAttempts = 2 }},
		{"max attempts too high", func(c *Config) { c.Security.MaxLoginAttempts = 11 }},
		{"lockout too long", func(c *Config) { c.Security.LockoutDurationMinutes = 61 }},
		{"min password too short", func(c *Config) { c.Security.MinPasswordLength = 4 }},
		{"empty database file", func(c *Config) { c.Storage.DatabaseFile = "" }},
		{"database file is a path", func(c *Config) { c.Storage.DatabaseFile = "sub/dir.db" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

// TestConfig_ValidationCollectsAll tests that every failing field is reported.
func TestConfig_ValidationCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Security.AutoLogoutMinutes = 0
	cfg.Security.MaxLoginAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)

	var errs ValidateErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 2)
}

// =============================================================================
// ENVIRONMENT OVERRIDE TESTS
// =============================================================================

// TestConfig_EnvOverrides tests environment variable precedence.
func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CHAT_AGENT_DATA_DIR", "/tmp/env-data")
	t.Setenv("CHAT_AGENT_KEYSTORE_DIR", "/tmp/env-keys")
	t.Setenv("CHAT_AGENT_AUTO_LOGOUT_MINUTES", "10")
	t.Setenv("CHAT_AGENT_LOCKOUT", "false")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/env-data", cfg.Storage.DataDir)
	require.Equal(t, "/tmp/env-keys", cfg.Storage.KeystoreDir)
	require.Equal(t, 10, cfg.Security.AutoLogoutMinutes)
	require.False(t, cfg.Security.LockoutEnabled)
}

// TestConfig_EnvOverrideIgnoresGarbage tests that unparseable values are ignored.
func TestConfig_EnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("CHAT_AGENT_AUTO_LOGOUT_MINUTES", "soon")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, 30, cfg.Security.AutoLogoutMinutes)
}
