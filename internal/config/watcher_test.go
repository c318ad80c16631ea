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
// WATCHER TESTS
// =============================================================================

// TestWatcher_ReloadOnChange tests that editing the config file fires
// the reload callback with the new values.
func TestWatcher_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveToPath(Default(), path))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	cfg := Default()
	cfg.Security.AutoLogoutMinutes = 7
	require.NoError(t, SaveToPath(cfg, path))

	select {
	case got := <-reloaded:
		require.Equal(t, 7, got.Security.AutoLogoutMinutes)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

// TestWatcher_IgnoresInvalidConfig tests that a broken file never
// reaches the callback.
func TestWatcher_IgnoresInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveToPath(Default(), path))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0600))

	select {
	case <-reloaded:
		t.Fatal("callback fired for an invalid config")
	case <-time.After(1 * time.Second):
	}
}
