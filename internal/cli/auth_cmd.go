// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - Setup, login, and password lifecycle commands.

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/chat-ai-agent/internal/auth"
	"github.com/jeranaias/chat-ai-agent/internal/security"
)

// =============================================================================
// SETUP
// =============================================================================

// HandleSetup performs first-time encryption setup: prompts for a new
// master password and provisions the key material.
func (a *App) HandleSetup() error {
	if !a.Auth.IsSetupRequired() {
		return fmt.Errorf("encryption is already set up; use reset-password to start over")
	}

	fmt.Println("First-time encryption setup.")
	fmt.Println("Choose a master password. It is never stored; if you forget it,")
	fmt.Println("your chat history cannot be recovered.")
	fmt.Println()

	password, err := promptNewPassword(a.Config.Security.MinPasswordLength)
	if err != nil {
		return err
	}

	if err := a.Auth.SetupFirstTime(password); err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	fmt.Println("Encryption setup complete. You are now logged in.")
	return nil
}

// =============================================================================
// LOGIN / STATUS
// =============================================================================

// login prompts for the master password and unlocks the session.
// Authentication failures print a deliberately generic message.
func (a *App) login() error {
	if a.Auth.IsSetupRequired() {
		return fmt.Errorf("no encryption setup found; run 'chat-ai-agent setup' first")
	}

	password, err := promptPassword("Master password: ")
	if err != nil {
		return err
	}

	err = a.Auth.Login(password)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrLockedOut):
		return fmt.Errorf("too many failed attempts; try again later")
	case errors.Is(err, security.ErrInvalidCredentials):
		return fmt.Errorf("invalid password")
	default:
		return err
	}
}

// requireLogin ensures the session is unlocked, prompting if needed.
func (a *App) requireLogin() error {
	if a.Auth.IsLoggedIn() {
		return nil
	}
	return a.login()
}

// HandleStatus reports setup state and, when a database exists,
// encryption version counts.
func (a *App) HandleStatus(parser *ArgParser) error {
	if a.Auth.IsSetupRequired() {
		fmt.Println("Setup:    not configured (run 'chat-ai-agent setup')")
		return nil
	}
	fmt.Println("Setup:    configured")

	if a.Auth.IsLoggedIn() {
		fmt.Printf("Session:  unlocked (%d minutes remaining)\n", a.Auth.SessionRemainingMinutes())
	} else {
		fmt.Println("Session:  locked")
	}

	dbPath, err := a.Config.DatabasePath()
	if err != nil {
		return err
	}
	fmt.Printf("Database: %s\n", dbPath)
	return nil
}

// =============================================================================
// RESET PASSWORD
// =============================================================================

// HandleResetPassword destroys all key material and provisions fresh
// keys. Previously encrypted data becomes permanently unreadable.
func (a *App) HandleResetPassword() error {
	fmt.Println("WARNING: resetting the master password destroys the current")
	fmt.Println("encryption keys. All previously encrypted chat history becomes")
	fmt.Println("permanently unreadable. This cannot be undone.")
	fmt.Println()

	ok, err := promptExactPhrase("This will erase access to all existing data.", "reset everything")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Aborted.")
		return nil
	}

	password, err := promptNewPassword(a.Config.Security.MinPasswordLength)
	if err != nil {
		return err
	}

	if err := a.Auth.ResetPassword(password); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	fmt.Println("Password reset complete. New encryption keys are in place.")
	return nil
}
