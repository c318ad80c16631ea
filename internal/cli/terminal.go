// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// =============================================================================
// TERMINAL INPUT HELPERS
// =============================================================================

// promptPassword reads a password from stdin without echoing.
// Uses golang.org/x/term for secure cross-platform password input.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println() // Add newline after hidden input

	return string(passBytes), nil
}

// promptNewPassword prompts for a new password twice and verifies both
// entries match and meet the minimum length.
func promptNewPassword(minLength int) (string, error) {
	password, err := promptPassword("New master password: ")
	if err != nil {
		return "", err
	}
	if len(password) < minLength {
		return "", fmt.Errorf("password must be at least %d characters", minLength)
	}

	confirm, err := promptPassword("Confirm master password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}

	return password, nil
}

// promptConfirm asks a yes/no question and returns true for yes.
func promptConfirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// promptExactPhrase requires the user to type an exact phrase. Used to
// gate destructive operations.
func promptExactPhrase(prompt, phrase string) (bool, error) {
	fmt.Printf("%s\nType %q to continue: ", prompt, phrase)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	return strings.TrimSpace(line) == phrase, nil
}
