// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements the encryption-at-rest core for
// chat-ai-agent: password-based key derivation, OS-backed key storage,
// and versioned symmetric encryption of chat content.
//
// Key hierarchy:
//
//	password --PBKDF2-SHA-256--> master key --unwraps--> DEK --encrypts--> content
//
// The master key exists only in memory for the lifetime of a login.
// The DEK is generated once at first setup, wrapped under the master
// key and persisted in the key store; its cleartext form never touches
// disk. All persisted ciphertext carries an encryption scheme version
// so that older blobs remain readable after the cipher changes.
package security
