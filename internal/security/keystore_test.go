// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows
// +build !windows

package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// FILE KEYSTORE TESTS
// =============================================================================

// testKeyDir returns a not-yet-created key directory. t.TempDir itself
// is umask-subject and often 0755; the store creates this subdirectory
// as 0700.
func testKeyDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "keys")
}

// TestKeyStore_SetGetRoundTrip tests basic entry storage.
func TestKeyStore_SetGetRoundTrip(t *testing.T) {
	ks := NewKeyStoreAt(testKeyDir(t))

	value := []byte{0x00, 0x01, 0xfe, 0xff, 0x42}
	require.NoError(t, ks.Set(EntrySalt, value))

	got, err := ks.Get(EntrySalt)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

// TestKeyStore_GetMissing tests the not-found sentinel.
func TestKeyStore_GetMissing(t *testing.T) {
	ks := NewKeyStoreAt(testKeyDir(t))

	_, err := ks.Get(EntryDEK)
	require.ErrorIs(t, err, ErrEntryNotFound)
}

// TestKeyStore_Exists tests presence reporting.
func TestKeyStore_Exists(t *testing.T) {
	ks := NewKeyStoreAt(testKeyDir(t))

	require.False(t, ks.Exists(EntrySalt))
	require.NoError(t, ks.Set(EntrySalt, []byte("v")))
	require.True(t, ks.Exists(EntrySalt))
}

// TestKeyStore_DeleteIdempotent tests that double deletes are fine.
func TestKeyStore_DeleteIdempotent(t *testing.T) {
	ks := NewKeyStoreAt(testKeyDir(t))

	require.NoError(t, ks.Set(EntryDEK, []byte("wrapped")))
	require.NoError(t, ks.Delete(EntryDEK))
	require.False(t, ks.Exists(EntryDEK))
	require.NoError(t, ks.Delete(EntryDEK), "Deleting an absent entry must not error")
}

// TestKeyStore_Overwrite tests that Set replaces an existing value.
func TestKeyStore_Overwrite(t *testing.T) {
	ks := NewKeyStoreAt(testKeyDir(t))

	require.NoError(t, ks.Set(EntrySalt, []byte("first")))
	require.NoError(t, ks.Set(EntrySalt, []byte("second")))

	got, err := ks.Get(EntrySalt)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

// TestKeyStore_FilePermissions tests that entries land as 0600 under 0700.
func TestKeyStore_FilePermissions(t *testing.T) {
	dir := testKeyDir(t)
	ks := NewKeyStoreAt(dir)
	require.NoError(t, ks.Set(EntrySalt, []byte("secret material")))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	require.Zero(t, dirInfo.Mode().Perm()&0077, "Key directory must not be group/world accessible")

	fileInfo, err := os.Stat(filepath.Join(dir, EntrySalt))
	require.NoError(t, err)
	require.Zero(t, fileInfo.Mode().Perm()&0077, "Key file must not be group/world accessible")
}

// TestKeyStore_InsecurePermissionsRejected tests that a loosened key
// file is refused on read.
func TestKeyStore_InsecurePermissionsRejected(t *testing.T) {
	dir := testKeyDir(t)
	ks := NewKeyStoreAt(dir)
	require.NoError(t, ks.Set(EntrySalt, []byte("secret")))

	require.NoError(t, os.Chmod(filepath.Join(dir, EntrySalt), 0644))

	_, err := ks.Get(EntrySalt)
	require.Error(t, err)
	require.Contains(t, err.Error(), "insecure permissions")
}

// TestKeyStore_CorruptedEntry tests that non-hex content is reported
// as corruption, not silently decoded.
func TestKeyStore_CorruptedEntry(t *testing.T) {
	dir := testKeyDir(t)
	ks := NewKeyStoreAt(dir)
	require.NoError(t, ks.Set(EntryDEK, []byte("valid")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, EntryDEK), []byte("not-hex!"), 0600))

	_, err := ks.Get(EntryDEK)
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupted")
}
