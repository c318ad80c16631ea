// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Platform-agnostic key storage for credential material.
//
// The store holds named entries under the chat-ai-agent service:
//
//	encryption_salt      32-byte PBKDF2 salt
//	data_encryption_key  master-key-wrapped DEK
//
// Values are hex-encoded on disk. Only wrapped key material and the
// public salt are ever stored; the master key and cleartext DEK never
// reach the store.
package security

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// KEYSTORE INTERFACE
// =============================================================================

const (
	// ServiceName identifies this application's entries in the key store.
	ServiceName = "chat-ai-agent"

	// EntrySalt is the key store entry holding the PBKDF2 salt.
	EntrySalt = "encryption_salt"

	// EntryDEK is the key store entry holding the wrapped DEK.
	EntryDEK = "data_encryption_key"
)

// ErrEntryNotFound indicates a key store entry does not exist.
var ErrEntryNotFound = errors.New("key store entry not found")

// KeyStore is the interface for secure credential storage.
// Implementations are platform-specific:
//   - Windows: DPAPI-wrapped files
//   - Unix: permission-checked files (0600 under a 0700 directory),
//     a portable fallback for systems without a native keychain
type KeyStore interface {
	// Set stores an entry, replacing any existing value.
	Set(entry string, value []byte) error
	// Get retrieves an entry. Returns ErrEntryNotFound if absent.
	Get(entry string) ([]byte, error)
	// Delete removes an entry. Deleting an absent entry is not an error.
	Delete(entry string) error
	// Exists reports whether an entry is stored.
	Exists(entry string) bool
}

// =============================================================================
// FILE-BASED KEYSTORE
// =============================================================================

// fileKeyStore stores hex-encoded entries as individual files.
// It is the portable core shared by the platform implementations.
type fileKeyStore struct {
	dir string

	// encode/decode hooks let the Windows store wrap entries with
	// DPAPI before they reach disk. Nil means store plain.
	encode func([]byte) ([]byte, error)
	decode func([]byte) ([]byte, error)
}

func (f *fileKeyStore) entryPath(entry string) string {
	return filepath.Join(f.dir, entry)
}

// Set hex-encodes the value and writes it with restricted permissions.
func (f *fileKeyStore) Set(entry string, value []byte) error {
	data := []byte(hex.EncodeToString(value))

	if f.encode != nil {
		var err error
		data, err = f.encode(data)
		if err != nil {
			return fmt.Errorf("failed to protect key store entry: %w", err)
		}
	}

	if err := writeProtectedFile(f.entryPath(entry), data, f.dir); err != nil {
		return fmt.Errorf("failed to store %s: %w", entry, err)
	}
	return nil
}

// Get reads and hex-decodes an entry.
func (f *fileKeyStore) Get(entry string) ([]byte, error) {
	data, err := readProtectedFile(f.entryPath(entry))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entry)
		}
		return nil, fmt.Errorf("failed to read %s: %w", entry, err)
	}

	if f.decode != nil {
		data, err = f.decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unprotect key store entry: %w", err)
		}
	}

	value, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("corrupted key store entry %s: %w", entry, err)
	}
	return value, nil
}

// Delete removes an entry. Idempotent: an absent entry is not an error,
// so reset flows can always converge on an empty store.
func (f *fileKeyStore) Delete(entry string) error {
	if err := os.Remove(f.entryPath(entry)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", entry, err)
	}
	return nil
}

// Exists checks whether an entry file is present.
func (f *fileKeyStore) Exists(entry string) bool {
	_, err := os.Stat(f.entryPath(entry))
	return err == nil
}

// =============================================================================
// HELPERS
// =============================================================================

// DefaultKeyStoreDir returns the default directory for key storage
// (~/.chat-ai-agent/keys).
func DefaultKeyStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+ServiceName, "keys")
	}
	return filepath.Join(home, "."+ServiceName, "keys")
}
