// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows
// +build !windows

// Unix key storage.
//
// On Unix systems (Linux, macOS, BSD) entries are stored as files with
// restricted permissions (0600 under a 0700 directory), verified on
// every read and write. This is a portable fallback; users who want
// the native keychain can point the key directory at a mount backed by
// one (macOS Keychain via `security`, Linux via `secret-tool`).
package security

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/chat-ai-agent/internal/util"
)

// NewKeyStore returns the Unix file-based key store rooted at the
// default key directory.
func NewKeyStore() KeyStore {
	return NewKeyStoreAt(DefaultKeyStoreDir())
}

// NewKeyStoreAt returns a file-based key store rooted at dir.
// Used directly by tests and the migration tools.
func NewKeyStoreAt(dir string) KeyStore {
	return &fileKeyStore{dir: dir}
}

// writeProtectedFile writes data with 0600 permissions under a 0700
// directory and verifies both modes afterward. A key file that ends up
// group- or world-readable is deleted rather than left in place.
func writeProtectedFile(path string, data []byte, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	if err := checkPerm(dir, "key directory", 0700); err != nil {
		return err
	}

	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	if err := checkPerm(path, "key file", 0600); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("%w (the insecure file has been deleted, retry the operation)", err)
	}

	return nil
}

// readProtectedFile reads a key file after verifying that neither the
// file nor its directory grants group/world access.
func readProtectedFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if err := checkPerm(filepath.Dir(path), "key directory", 0700); err != nil {
		return nil, err
	}
	if err := checkPerm(path, "key file", 0600); err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}

// checkPerm verifies that a path has no group/world permission bits.
func checkPerm(path, what string, want os.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", what, err)
	}

	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("%s has insecure permissions (%o), must be %o or more restrictive: "+
			"fix with chmod %o %s", what, mode, want, want, path)
	}
	return nil
}
