// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"sync"
)

// =============================================================================
// ENCRYPTION MANAGER
// =============================================================================

// EncryptionManager is the sole in-memory holder of cryptographic
// secrets. It translates the user's password into usable encrypt and
// decrypt operations via the master-key/DEK hierarchy.
//
// Key state is guarded by a mutex: a login racing a decrypt either
// observes the old key material or the new, never a half-swapped pair.
type EncryptionManager struct {
	mu       sync.RWMutex
	keyStore KeyStore

	// masterKey and dek are present only while logged in.
	masterKey []byte
	dek       []byte
}

// NewEncryptionManager creates an encryption manager backed by the
// given key store.
func NewEncryptionManager(ks KeyStore) *EncryptionManager {
	return &EncryptionManager{keyStore: ks}
}

// =============================================================================
// SETUP AND LOGIN
// =============================================================================

// IsSetupRequired reports whether first-time setup is needed: true iff
// the key store holds no salt/DEK pair.
func (e *EncryptionManager) IsSetupRequired() bool {
	return !e.keyStore.Exists(EntrySalt) || !e.keyStore.Exists(EntryDEK)
}

// SetupFirstTime performs first-time setup: generates a salt and DEK,
// wraps the DEK under the password-derived master key, and persists
// salt and wrapped DEK to the key store. On success the caller is
// logged in. Any key store failure rolls back both entries and clears
// key material from memory.
//
// Password length policy is enforced at the CLI boundary; an empty
// password is rejected here as a last line of defense.
func (e *EncryptionManager) SetupFirstTime(password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidCredentials)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isSetupRequiredLocked() {
		return ErrAlreadySetup
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}

	masterKey := DeriveKey(password, salt)
	dek, err := GenerateDEK()
	if err != nil {
		ZeroBytes(masterKey)
		return err
	}

	wrapped, err := sealGCM(masterKey, dek)
	if err != nil {
		ZeroBytes(masterKey)
		ZeroBytes(dek)
		return fmt.Errorf("failed to wrap data encryption key: %w", err)
	}

	if err := e.keyStore.Set(EntrySalt, salt); err != nil {
		ZeroBytes(masterKey)
		ZeroBytes(dek)
		return fmt.Errorf("failed to persist salt: %w", err)
	}
	if err := e.keyStore.Set(EntryDEK, wrapped); err != nil {
		_ = e.keyStore.Delete(EntrySalt)
		ZeroBytes(masterKey)
		ZeroBytes(dek)
		return fmt.Errorf("failed to persist wrapped key: %w", err)
	}

	e.masterKey = masterKey
	e.dek = dek

	AuditLogEvent("ENCRYPTION_SETUP", map[string]string{
		"scheme":         fmt.Sprintf("v%d", CurrentScheme),
		"key_derivation": "PBKDF2-SHA-256",
	})
	return nil
}

// Login derives the master key from the supplied password and unwraps
// the stored DEK. A failed unwrap (wrong password or corrupted wrap)
// returns ErrInvalidCredentials and leaves no key material in memory.
// Logging in while already logged in implicitly logs out first.
func (e *EncryptionManager) Login(password string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Implicit logout: drop any existing session's keys first.
	e.clearKeysLocked()

	if e.isSetupRequiredLocked() {
		return ErrSetupRequired
	}

	salt, err := e.keyStore.Get(EntrySalt)
	if err != nil {
		return fmt.Errorf("failed to load salt: %w", err)
	}
	wrapped, err := e.keyStore.Get(EntryDEK)
	if err != nil {
		return fmt.Errorf("failed to load wrapped key: %w", err)
	}

	masterKey := DeriveKey(password, salt)
	dek, err := openGCM(masterKey, wrapped)
	if err != nil || len(dek) != KeySize {
		ZeroBytes(masterKey)
		if dek != nil {
			ZeroBytes(dek)
		}
		AuditLogEvent("LOGIN_FAILED", map[string]string{"reason": "unwrap_failed"})
		return ErrInvalidCredentials
	}

	e.masterKey = masterKey
	e.dek = dek

	AuditLogEvent("LOGIN_SUCCESS", nil)
	return nil
}

// IsLoggedIn reports whether both master key and DEK are in memory.
func (e *EncryptionManager) IsLoggedIn() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.masterKey != nil && e.dek != nil
}

// Logout zeros and releases all in-memory key material.
func (e *EncryptionManager) Logout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearKeysLocked()
	AuditLogEvent("LOGOUT", nil)
}

// ResetPassword deletes the existing key store entries and re-runs
// first-time setup with the new password.
//
// DESTRUCTIVE: the old DEK is discarded, so all previously encrypted
// data becomes permanently unrecoverable. This is the documented
// "forgot password" escape hatch, not a bug.
func (e *EncryptionManager) ResetPassword(newPassword string) error {
	e.mu.Lock()
	e.clearKeysLocked()

	// Deletes are idempotent; a half-complete previous reset is fine.
	if err := e.keyStore.Delete(EntryDEK); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to delete wrapped key: %w", err)
	}
	if err := e.keyStore.Delete(EntrySalt); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to delete salt: %w", err)
	}
	e.mu.Unlock()

	AuditLogEvent("PASSWORD_RESET", map[string]string{"data_recoverable": "false"})
	return e.SetupFirstTime(newPassword)
}

// =============================================================================
// ENCRYPT / DECRYPT
// =============================================================================

// Encrypt encrypts a UTF-8 plaintext under the DEK with the current
// scheme. Returns the ciphertext blob and the scheme version it was
// produced with. Fails with ErrNotLoggedIn if no DEK is in memory.
func (e *EncryptionManager) Encrypt(plaintext string) ([]byte, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.dek == nil {
		return nil, 0, ErrNotLoggedIn
	}

	blob, err := sealGCM(e.dek, []byte(plaintext))
	if err != nil {
		return nil, 0, err
	}
	return blob, CurrentScheme, nil
}

// Decrypt decrypts a ciphertext blob produced with the given scheme
// version. Fails with ErrNotLoggedIn if no DEK is in memory, with
// ErrUnsupportedVersion for unknown versions, and with a generic
// ErrDecryptionFailed for any corrupted or tampered blob.
func (e *EncryptionManager) Decrypt(blob []byte, version int) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.dek == nil {
		return "", ErrNotLoggedIn
	}

	plaintext, err := openScheme(e.dek, blob, version)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// =============================================================================
// INTERNAL
// =============================================================================

func (e *EncryptionManager) isSetupRequiredLocked() bool {
	return !e.keyStore.Exists(EntrySalt) || !e.keyStore.Exists(EntryDEK)
}

func (e *EncryptionManager) clearKeysLocked() {
	if e.masterKey != nil {
		ZeroBytes(e.masterKey)
		e.masterKey = nil
	}
	if e.dek != nil {
		ZeroBytes(e.dek)
		e.dek = nil
	}
}
