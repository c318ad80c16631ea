// args_test.go - Tests for unified argument parsing.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// ARG PARSER TESTS
// =============================================================================

// TestArgs_Subcommand tests subcommand extraction.
func TestArgs_Subcommand(t *testing.T) {
	p := NewArgParser([]string{"list", "--limit", "20"})
	require.Equal(t, "list", p.Subcommand())

	p = NewArgParser([]string{})
	require.Equal(t, "", p.Subcommand())

	p = NewArgParser([]string{"--json"})
	require.Equal(t, "", p.Subcommand())
}

// TestArgs_FlagFormats tests --flag value and --flag=value.
func TestArgs_FlagFormats(t *testing.T) {
	p := NewArgParser([]string{"export", "--format", "json", "--out=chat.json"})
	require.Equal(t, "json", p.Flag("format"))
	require.Equal(t, "chat.json", p.Flag("out"))
	require.Equal(t, "", p.Flag("missing"))
}

// TestArgs_BoolFlags tests bare and explicit boolean flags.
func TestArgs_BoolFlags(t *testing.T) {
	p := NewArgParser([]string{"migrate", "--dry-run", "--force=false"})
	require.True(t, p.BoolFlag("dry-run"))
	require.False(t, p.BoolFlag("force"))
	require.False(t, p.BoolFlag("missing"))

	// A flag followed by another flag takes no value.
	p = NewArgParser([]string{"--yes", "--out", "file.md"})
	require.True(t, p.BoolFlag("yes"))
	require.Equal(t, "file.md", p.Flag("out"))
}

// TestArgs_Defaults tests the OrDefault helpers.
func TestArgs_Defaults(t *testing.T) {
	p := NewArgParser([]string{"show", "--limit", "25"})
	require.Equal(t, 25, p.FlagIntOrDefault("limit", 100))
	require.Equal(t, 100, p.FlagIntOrDefault("offset", 100))
	require.Equal(t, "markdown", p.FlagOrDefault("format", "markdown"))

	p = NewArgParser([]string{"show", "--limit", "lots"})
	require.Equal(t, 100, p.FlagIntOrDefault("limit", 100))
}

// TestArgs_Positionals tests positional access.
func TestArgs_Positionals(t *testing.T) {
	p := NewArgParser([]string{"show", "42", "--limit", "10", "extra"})
	require.Equal(t, 3, p.PositionalCount())
	require.Equal(t, "show", p.Positional(0))
	require.Equal(t, "42", p.Positional(1))
	require.Equal(t, "", p.Positional(9))
	require.Equal(t, []string{"42", "extra"}, p.PositionalFrom(1))
	require.Empty(t, p.PositionalFrom(9))
}

// TestArgs_HasFlag tests presence checks across both flag kinds.
func TestArgs_HasFlag(t *testing.T) {
	p := NewArgParser([]string{"delete", "3", "--yes", "--db", "x.db"})
	require.True(t, p.HasFlag("yes"))
	require.True(t, p.HasFlag("db"))
	require.True(t, p.HasFlag("--db"))
	require.False(t, p.HasFlag("force"))
}
