// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package migrate handles encryption-version compatibility checks and
// the one-time migration from a legacy plaintext database to the
// encrypted store.
//
// Migration is deliberately operator-invoked: it never runs implicitly
// on application startup. The procedure is backup-first and
// verify-after, and any failure aborts with the backup path reported.
package migrate

import (
	"fmt"

	"github.com/jeranaias/chat-ai-agent/internal/security"
	"github.com/jeranaias/chat-ai-agent/internal/store"
)

// =============================================================================
// VERSION COMPATIBILITY
// =============================================================================

// SupportedVersions is the statically supported set of encryption
// scheme versions, oldest first.
var SupportedVersions = []int{security.SchemeV1, security.SchemeV2}

// VersionCompat describes how one on-disk encryption version relates
// to what this build supports.
type VersionCompat struct {
	Version int `json:"version"`

	// Supported means this build can decrypt rows of this version.
	// Unsupported versions fail closed: rows are skipped, never
	// best-effort decrypted.
	Supported bool `json:"supported"`

	// NeedsUpgrade means the version is below the current scheme and
	// its rows would benefit from re-encryption.
	NeedsUpgrade bool `json:"needs_upgrade"`

	// CanDowngrade means the version is above the oldest supported
	// scheme, so an older build could still read this database's
	// newer rows after a re-encryption downgrade.
	CanDowngrade bool `json:"can_downgrade"`
}

// CheckVersion classifies a single encryption version.
func CheckVersion(version int) VersionCompat {
	return VersionCompat{
		Version:      version,
		Supported:    security.SchemeSupported(version),
		NeedsUpgrade: version < security.CurrentScheme,
		CanDowngrade: version > SupportedVersions[0],
	}
}

// DatabaseCompat aggregates the compatibility of every version present
// in a database.
type DatabaseCompat struct {
	Versions []VersionCompat `json:"versions"`

	// FullySupported is false if any row carries an unknown version.
	FullySupported bool `json:"fully_supported"`

	// NeedsUpgrade is true if any row is below the current scheme.
	NeedsUpgrade bool `json:"needs_upgrade"`
}

// CheckDatabase reports version compatibility for every encryption
// version found in the store.
func CheckDatabase(db *store.EncryptedDB) (*DatabaseCompat, error) {
	stats, err := db.GetEncryptionStats()
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption stats: %w", err)
	}

	seen := make(map[int]bool)
	for v := range stats.SessionCounts {
		seen[v] = true
	}
	for v := range stats.MessageCounts {
		seen[v] = true
	}

	compat := &DatabaseCompat{FullySupported: true}
	for v := range seen {
		vc := CheckVersion(v)
		compat.Versions = append(compat.Versions, vc)
		if !vc.Supported {
			compat.FullySupported = false
		}
		if vc.NeedsUpgrade {
			compat.NeedsUpgrade = true
		}
	}
	return compat, nil
}
