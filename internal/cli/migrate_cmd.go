// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// migrate_cmd.go - Plaintext database migration and version
// verification commands.

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/chat-ai-agent/internal/migrate"
)

// =============================================================================
// MIGRATE
// =============================================================================

// HandleMigrate migrates a legacy plaintext database into the
// encrypted store.
//
// Flags:
//
//	--old-db PATH   legacy plaintext database (required)
//	--new-db PATH   target encrypted database (default: configured path)
//	--dry-run       count rows without writing anything
//	--force         overwrite an existing target database
func (a *App) HandleMigrate(parser *ArgParser) error {
	oldPath := parser.Flag("old-db")
	if oldPath == "" {
		return fmt.Errorf("--old-db is required")
	}

	newPath := parser.Flag("new-db")
	if newPath == "" {
		var err error
		newPath, err = a.Config.DatabasePath()
		if err != nil {
			return err
		}
	}

	dryRun := parser.BoolFlag("dry-run")
	if !dryRun {
		if err := a.requireLogin(); err != nil {
			return err
		}
	}

	m := &migrate.Migrator{
		OldPath: oldPath,
		NewPath: newPath,
		Crypter: a.Auth,
		DryRun:  dryRun,
		Force:   parser.BoolFlag("force"),
	}

	result, err := m.Run()
	if err != nil {
		var merr *migrate.MigrationError
		if errors.As(err, &merr) && merr.BackupPath != "" {
			fmt.Printf("Migration failed. Your original database is untouched;\n")
			fmt.Printf("a backup copy is preserved at:\n  %s\n", merr.BackupPath)
		}
		return err
	}

	if result.DryRun {
		fmt.Printf("Dry run: would migrate %d sessions and %d messages.\n",
			result.SessionsMigrated, result.MessagesMigrated)
		return nil
	}

	fmt.Printf("Migrated %d sessions and %d messages.\n",
		result.SessionsMigrated, result.MessagesMigrated)
	fmt.Printf("Backup:   %s\n", result.BackupPath)
	fmt.Printf("Rollback: %s\n", result.RollbackScript)
	fmt.Println()
	fmt.Println("Verify your data, then delete the plaintext original and backup.")
	return nil
}

// =============================================================================
// VERIFY
// =============================================================================

// HandleVerify reports the encryption versions present in a database
// and whether this build supports them all.
//
// Flags:
//
//	--db PATH    database to check (default: configured path)
//	--detailed   also print row counts per version
func (a *App) HandleVerify(parser *ArgParser) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.openDB(parser.Flag("db")); err != nil {
		return err
	}

	compat, err := migrate.CheckDatabase(a.DB)
	if err != nil {
		return err
	}

	if len(compat.Versions) == 0 {
		fmt.Println("Database is empty.")
		return nil
	}

	for _, v := range compat.Versions {
		status := "supported"
		if !v.Supported {
			status = "UNSUPPORTED"
		}
		if v.NeedsUpgrade {
			status += ", upgrade recommended"
		}
		fmt.Printf("  v%d: %s\n", v.Version, status)
	}

	if parser.BoolFlag("detailed") {
		stats, err := a.DB.GetEncryptionStats()
		if err != nil {
			return err
		}
		fmt.Println()
		printVersionCounts("  sessions", stats.SessionCounts)
		printVersionCounts("  messages", stats.MessageCounts)
	}

	if !compat.FullySupported {
		return fmt.Errorf("database contains rows with unsupported encryption versions")
	}
	fmt.Println("\nAll rows use supported encryption versions.")
	return nil
}
