// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows
// +build windows

// Windows key storage using DPAPI.
//
// DPAPI (Data Protection API) encrypts data with credentials derived
// from the current user's logon, so entries are unreadable by other
// accounts on the machine without any separate password. Entries live
// under %LOCALAPPDATA%\chat-ai-agent\keys.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/jeranaias/chat-ai-agent/internal/util"
)

// NewKeyStore returns a Windows DPAPI-backed key store rooted at the
// default key directory.
func NewKeyStore() KeyStore {
	return NewKeyStoreAt(defaultWindowsKeyDir())
}

// NewKeyStoreAt returns a DPAPI-backed key store rooted at dir.
func NewKeyStoreAt(dir string) KeyStore {
	return &fileKeyStore{
		dir:    dir,
		encode: dpAPIEncrypt,
		decode: dpAPIDecrypt,
	}
}

func defaultWindowsKeyDir() string {
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		return filepath.Join(local, ServiceName, "keys")
	}
	return DefaultKeyStoreDir()
}

// writeProtectedFile writes a DPAPI-wrapped entry. Filesystem ACLs are
// secondary on Windows; DPAPI itself binds the entry to the user.
func writeProtectedFile(path string, data []byte, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// readProtectedFile reads a DPAPI-wrapped entry.
func readProtectedFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// =============================================================================
// DPAPI IMPLEMENTATION
// =============================================================================

// dataBLOB is the Windows DPAPI DATA_BLOB structure.
type dataBLOB struct {
	cbData uint32
	pbData *byte
}

var (
	crypt32                = windows.NewLazySystemDLL("crypt32.dll")
	procCryptProtectData   = crypt32.NewProc("CryptProtectData")
	procCryptUnprotectData = crypt32.NewProc("CryptUnprotectData")
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procLocalFree          = kernel32.NewProc("LocalFree")
)

// dpAPIEncrypt encrypts data bound to the current user's credentials.
func dpAPIEncrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	dataIn := dataBLOB{
		cbData: uint32(len(data)),
		pbData: &data[0],
	}
	var dataOut dataBLOB

	// CRYPTPROTECT_UI_FORBIDDEN (0x01): never show UI prompts.
	ret, _, err := procCryptProtectData.Call(
		uintptr(unsafe.Pointer(&dataIn)),
		0, // szDataDescr
		0, // pOptionalEntropy
		0, // pvReserved
		0, // pPromptStruct
		0x01,
		uintptr(unsafe.Pointer(&dataOut)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("CryptProtectData failed: %w", err)
	}

	encrypted := make([]byte, dataOut.cbData)
	copy(encrypted, unsafe.Slice(dataOut.pbData, dataOut.cbData))
	procLocalFree.Call(uintptr(unsafe.Pointer(dataOut.pbData)))

	return encrypted, nil
}

// dpAPIDecrypt decrypts a DPAPI-wrapped entry.
func dpAPIDecrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	dataIn := dataBLOB{
		cbData: uint32(len(data)),
		pbData: &data[0],
	}
	var dataOut dataBLOB

	ret, _, err := procCryptUnprotectData.Call(
		uintptr(unsafe.Pointer(&dataIn)),
		0, // ppszDataDescr
		0, // pOptionalEntropy
		0, // pvReserved
		0, // pPromptStruct
		0x01,
		uintptr(unsafe.Pointer(&dataOut)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("CryptUnprotectData failed: %w", err)
	}

	decrypted := make([]byte, dataOut.cbData)
	copy(decrypted, unsafe.Slice(dataOut.pbData, dataOut.cbData))
	procLocalFree.Call(uintptr(unsafe.Pointer(dataOut.pbData)))

	return decrypted, nil
}
