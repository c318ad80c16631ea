// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *EncryptionManager {
	t.Helper()
	return NewEncryptionManager(NewKeyStoreAt(filepath.Join(t.TempDir(), "keys")))
}

// =============================================================================
// SETUP TESTS
// =============================================================================

// TestManager_SetupFirstTime tests first-time setup leaves the user logged in.
func TestManager_SetupFirstTime(t *testing.T) {
	mgr := newTestManager(t)
	require.True(t, mgr.IsSetupRequired())
	require.False(t, mgr.IsLoggedIn())

	require.NoError(t, mgr.SetupFirstTime("correct horse battery staple"))
	require.False(t, mgr.IsSetupRequired())
	require.True(t, mgr.IsLoggedIn())
}

// TestManager_SetupRejectsEmptyPassword tests the empty-password guard.
func TestManager_SetupRejectsEmptyPassword(t *testing.T) {
	mgr := newTestManager(t)
	require.ErrorIs(t, mgr.SetupFirstTime(""), ErrInvalidCredentials)
	require.True(t, mgr.IsSetupRequired())
}

// TestManager_SetupTwiceFails tests that repeated setup is rejected.
func TestManager_SetupTwiceFails(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetupFirstTime("password-one"))
	require.ErrorIs(t, mgr.SetupFirstTime("password-two"), ErrAlreadySetup)
}

// =============================================================================
// LOGIN TESTS
// =============================================================================

// TestManager_LoginRoundTrip tests login with the correct password
// against a fresh manager sharing the same key store.
func TestManager_LoginRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	mgr := NewEncryptionManager(NewKeyStoreAt(dir))
	require.NoError(t, mgr.SetupFirstTime("the master password"))

	blob, version, err := mgr.Encrypt("persisted secret")
	require.NoError(t, err)
	mgr.Logout()

	// Fresh manager, same key store: simulates a process restart.
	mgr2 := NewEncryptionManager(NewKeyStoreAt(dir))
	require.False(t, mgr2.IsSetupRequired())
	require.NoError(t, mgr2.Login("the master password"))

	got, err := mgr2.Decrypt(blob, version)
	require.NoError(t, err)
	require.Equal(t, "persisted secret", got)
}

// TestManager_LoginWrongPassword tests the generic failure on wrong password.
func TestManager_LoginWrongPassword(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetupFirstTime("right password"))
	mgr.Logout()

	require.ErrorIs(t, mgr.Login("wrong password"), ErrInvalidCredentials)
	require.False(t, mgr.IsLoggedIn(), "Failed login must leave no key material")
}

// TestManager_LoginBeforeSetup tests login against an empty key store.
func TestManager_LoginBeforeSetup(t *testing.T) {
	mgr := newTestManager(t)
	require.ErrorIs(t, mgr.Login("any password"), ErrSetupRequired)
}

// TestManager_LoginReplacesSession tests implicit logout on re-login.
func TestManager_LoginReplacesSession(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetupFirstTime("password"))

	// Wrong password on re-login drops the existing session too.
	require.ErrorIs(t, mgr.Login("not the password"), ErrInvalidCredentials)
	require.False(t, mgr.IsLoggedIn())

	require.NoError(t, mgr.Login("password"))
	require.True(t, mgr.IsLoggedIn())
}

// =============================================================================
// ENCRYPT / DECRYPT GATING TESTS
// =============================================================================

// TestManager_EncryptRequiresLogin tests the logged-out gate.
func TestManager_EncryptRequiresLogin(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetupFirstTime("password"))

	blob, version, err := mgr.Encrypt("data")
	require.NoError(t, err)
	require.Equal(t, CurrentScheme, version)

	mgr.Logout()

	_, _, err = mgr.Encrypt("data")
	require.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = mgr.Decrypt(blob, version)
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

// TestManager_EncryptDecryptRoundTrip tests same-session round-trips.
func TestManager_EncryptDecryptRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetupFirstTime("password"))

	for _, pt := range []string{"", "hello", "unicode 你好 🔐"} {
		blob, version, err := mgr.Encrypt(pt)
		require.NoError(t, err)

		got, err := mgr.Decrypt(blob, version)
		require.NoError(t, err)
		require.Equal(t, pt, got)
	}
}

// TestManager_DecryptUnknownVersion tests fail-closed version handling.
func TestManager_DecryptUnknownVersion(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetupFirstTime("password"))

	blob, _, err := mgr.Encrypt("data")
	require.NoError(t, err)

	_, err = mgr.Decrypt(blob, 42)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

// =============================================================================
// RESET TESTS
// =============================================================================

// TestManager_ResetPassword tests that reset destroys access to old data.
func TestManager_ResetPassword(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetupFirstTime("old password"))

	blob, version, err := mgr.Encrypt("pre-reset secret")
	require.NoError(t, err)

	require.NoError(t, mgr.ResetPassword("new password"))
	require.True(t, mgr.IsLoggedIn(), "Reset should leave the user logged in")

	// Old ciphertext was produced under the discarded DEK.
	_, err = mgr.Decrypt(blob, version)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	// New data round-trips under the new keys.
	blob2, version2, err := mgr.Encrypt("post-reset secret")
	require.NoError(t, err)
	got, err := mgr.Decrypt(blob2, version2)
	require.NoError(t, err)
	require.Equal(t, "post-reset secret", got)

	// Old password no longer works.
	mgr.Logout()
	require.ErrorIs(t, mgr.Login("old password"), ErrInvalidCredentials)
	require.NoError(t, mgr.Login("new password"))
}

// TestManager_ResetBeforeSetup tests reset acts as setup on a fresh store.
func TestManager_ResetBeforeSetup(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.ResetPassword("brand new password"))
	require.True(t, mgr.IsLoggedIn())
}
