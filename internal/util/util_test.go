// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

// TestUtil_AtomicWriteFile tests content, permissions, and overwrite.
func TestUtil_AtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Overwrite replaces the content in full.
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0600))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
}

// TestUtil_AtomicWriteFileCreatesParent tests parent directory creation.
func TestUtil_AtomicWriteFileCreatesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "data.bin")

	require.NoError(t, AtomicWriteFile(path, []byte("x"), 0600))
	require.FileExists(t, path)
}

// TestUtil_AtomicWriteFileLeavesNoTemp tests temp file cleanup.
func TestUtil_AtomicWriteFileLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AtomicWriteFile(filepath.Join(dir, "data.bin"), []byte("x"), 0600))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "data.bin", entries[0].Name())
}

// TestUtil_AtomicWriteFileWithDir tests directory permission control.
func TestUtil_AtomicWriteFileWithDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	path := filepath.Join(dir, "entry")

	require.NoError(t, AtomicWriteFileWithDir(path, []byte("secret"), 0600, 0700))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0700), info.Mode().Perm())

	info, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// =============================================================================
// STRING HELPER TESTS
// =============================================================================

// TestUtil_TruncateString tests rune-aware truncation.
func TestUtil_TruncateString(t *testing.T) {
	require.Equal(t, "hello", TruncateString("hello", 10))
	require.Equal(t, "hello", TruncateString("hello", 5))
	require.Equal(t, "he...", TruncateString("hello world", 5))
	require.Equal(t, "hel", TruncateString("hello", 3))
	require.Equal(t, "", TruncateString("hello", 0))
	require.Equal(t, "日本...", TruncateString("日本語のテキスト", 5))
}

// TestUtil_PadString tests space padding.
func TestUtil_PadString(t *testing.T) {
	require.Equal(t, "ab   ", PadString("ab", 5))
	require.Equal(t, "abcdef", PadString("abcdef", 5))
	require.Equal(t, "     ", PadString("", 5))
}
