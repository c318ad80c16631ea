// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Versioned cipher schemes for data at rest.
//
// Scheme v1 is the legacy AES-256-CBC format produced by earlier
// releases: IV(16 bytes) || ciphertext with PKCS7 padding, no
// authentication tag. It is supported for decryption only.
//
// Scheme v2 is the current AES-256-GCM format: nonce(12 bytes) ||
// ciphertext || tag. Authenticated encryption removes the CBC
// padding-oracle surface and detects tampering.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// SchemeV1 is the legacy AES-256-CBC + PKCS7 scheme (decrypt only).
	SchemeV1 = 1

	// SchemeV2 is the current AES-256-GCM scheme.
	SchemeV2 = 2

	// CurrentScheme is the scheme used for all new ciphertext.
	CurrentScheme = SchemeV2
)

const (
	// KeySize is the size of master key and DEK (32 bytes / 256 bits).
	KeySize = 32

	// SaltSize is the size of the PBKDF2 salt (32 bytes).
	SaltSize = 32

	// GCMNonceSize is the nonce size for scheme v2 (12 bytes / 96 bits).
	GCMNonceSize = 12

	// CBCIVSize is the IV size for legacy scheme v1 (one AES block).
	CBCIVSize = aes.BlockSize

	// PBKDF2Iterations is the iteration count for key derivation.
	// Fixed, not user-configurable: all blobs of one scheme version
	// must stay decryptable with the same derivation parameters.
	PBKDF2Iterations = 100_000
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotLoggedIn indicates an encrypt/decrypt call with no active session.
	ErrNotLoggedIn = errors.New("not logged in: no key material in memory")

	// ErrInvalidCredentials indicates a wrong password or corrupted key wrap.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDecryptionFailed indicates decryption failed. The cause (bad
	// padding, tag mismatch, truncated blob) is deliberately not
	// distinguished to avoid acting as a decryption oracle.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrUnsupportedVersion indicates an unknown encryption scheme version.
	// Unknown versions fail closed; there is no best-effort path.
	ErrUnsupportedVersion = errors.New("unsupported encryption version")

	// ErrSetupRequired indicates the key store holds no salt/DEK pair yet.
	ErrSetupRequired = errors.New("encryption not set up: run 'chat-ai-agent setup'")

	// ErrAlreadySetup indicates first-time setup was attempted twice.
	ErrAlreadySetup = errors.New("encryption already set up")
)

// =============================================================================
// HELPERS
// =============================================================================

// ZeroBytes zeros a sensitive byte slice to limit the window in which
// key material is recoverable from memory or crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateDEK generates a cryptographically secure random
// data-encryption key.
func GenerateDEK() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate data encryption key: %w", err)
	}
	return key, nil
}

// DeriveKey derives the master key from a password and salt using
// PBKDF2-SHA-256 per NIST SP 800-132.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// =============================================================================
// SCHEME V2 (AES-256-GCM)
// =============================================================================

// sealGCM encrypts plaintext under key using AES-256-GCM.
// Returns nonce || ciphertext || tag.
func sealGCM(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// openGCM decrypts a nonce || ciphertext || tag blob under key.
func openGCM(key, blob []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < GCMNonceSize {
		return nil, ErrDecryptionFailed
	}

	nonce := blob[:GCMNonceSize]
	plaintext, err := aead.Open(nil, nonce, blob[GCMNonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return aead, nil
}

// =============================================================================
// SCHEME V1 (LEGACY AES-256-CBC + PKCS7, DECRYPT ONLY)
// =============================================================================

// openCBC decrypts a legacy IV || ciphertext blob under key and strips
// PKCS7 padding. CBC carries no authentication tag, so a decode that
// produces invalid padding or invalid UTF-8 is the only corruption
// signal available; both surface as the same generic error.
func openCBC(key, blob []byte) ([]byte, error) {
	if len(blob) < CBCIVSize+aes.BlockSize || (len(blob)-CBCIVSize)%aes.BlockSize != 0 {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	iv := blob[:CBCIVSize]
	ciphertext := blob[CBCIVSize:]

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	if !utf8.Valid(plaintext) {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// pkcs7Unpad removes PKCS7 padding from a decrypted block.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, errors.New("invalid padding length")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-pad], nil
}

// =============================================================================
// VERSION DISPATCH
// =============================================================================

// openScheme decrypts blob under key according to the given scheme
// version. Unknown versions fail closed.
func openScheme(key, blob []byte, version int) ([]byte, error) {
	switch version {
	case SchemeV1:
		return openCBC(key, blob)
	case SchemeV2:
		return openGCM(key, blob)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

// SchemeSupported reports whether a scheme version can be decrypted.
func SchemeSupported(version int) bool {
	return version == SchemeV1 || version == SchemeV2
}
