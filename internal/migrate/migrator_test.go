// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package migrate

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/chat-ai-agent/internal/security"
	"github.com/jeranaias/chat-ai-agent/internal/store"
)

const legacySchema = `
CREATE TABLE sessions (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	topic_category TEXT,
	model_used TEXT,
	created_at INTEGER NOT NULL,
	last_used_at INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE messages (
	id INTEGER PRIMARY KEY,
	session_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	content_html TEXT,
	timestamp INTEGER NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	tool_calls TEXT
);`

// buildLegacyDB creates a plaintext database with two sessions (with
// deliberately non-contiguous ids) and three messages.
func buildLegacyDB(t *testing.T, path string) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(legacySchema)
	require.NoError(t, err)

	base := time.Date(2024, 11, 5, 8, 30, 0, 0, time.UTC).Unix()
	_, err = db.Exec(`INSERT INTO sessions (id, title, topic_category, model_used, created_at, last_used_at, message_count, is_active)
		VALUES (3, 'First chat', 'general', 'llama3', ?, ?, 2, 1),
		       (7, 'Second chat', NULL, NULL, ?, ?, 1, 0)`,
		base, base+100, base+200, base+300)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO messages (session_id, role, content, content_html, timestamp, token_count, tool_calls)
		VALUES (3, 'user', 'hello there', NULL, ?, 3, NULL),
		       (3, 'assistant', 'hi, how can I help?', '<p>hi</p>', ?, 6, NULL),
		       (7, 'user', 'second session message', NULL, ?, 4, NULL)`,
		base+10, base+20, base+210)
	require.NoError(t, err)
}

func newTestCrypter(t *testing.T) *security.EncryptionManager {
	t.Helper()
	enc := security.NewEncryptionManager(security.NewKeyStoreAt(filepath.Join(t.TempDir(), "keys")))
	require.NoError(t, enc.SetupFirstTime("migration password"))
	return enc
}

// =============================================================================
// MIGRATION TESTS
// =============================================================================

// TestMigrator_DryRun tests that a dry run counts rows without writing.
func TestMigrator_DryRun(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "legacy.db")
	newPath := filepath.Join(dir, "encrypted.db")
	buildLegacyDB(t, oldPath)

	m := &Migrator{
		OldPath: oldPath,
		NewPath: newPath,
		Crypter: newTestCrypter(t),
		DryRun:  true,
	}

	result, err := m.Run()
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Equal(t, 2, result.SessionsMigrated)
	require.Equal(t, 3, result.MessagesMigrated)

	_, err = os.Stat(newPath)
	require.True(t, os.IsNotExist(err), "Dry run must not create the target")
	require.Empty(t, result.BackupPath, "Dry run must not create a backup")
}

// TestMigrator_FullRun tests the complete migration pipeline: backup,
// rollback script, id remapping, metadata preservation, and content
// round-trip through the encrypted store.
func TestMigrator_FullRun(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "legacy.db")
	newPath := filepath.Join(dir, "encrypted.db")
	buildLegacyDB(t, oldPath)

	crypter := newTestCrypter(t)
	m := &Migrator{OldPath: oldPath, NewPath: newPath, Crypter: crypter}

	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, 2, result.SessionsMigrated)
	require.Equal(t, 3, result.MessagesMigrated)
	require.NotEmpty(t, result.RunID)

	// Backup and rollback artifacts exist.
	require.FileExists(t, result.BackupPath)
	info, err := os.Stat(result.RollbackScript)
	require.NoError(t, err)
	require.NotZero(t, info.Mode().Perm()&0100, "Rollback script must be executable")

	// The legacy database is untouched.
	require.FileExists(t, oldPath)

	// Content round-trips through the encrypted store.
	enc, err := store.Open(newPath, crypter)
	require.NoError(t, err)
	defer enc.Close()

	sessions, err := enc.GetSessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "The soft-deleted legacy session stays hidden")
	require.Equal(t, "First chat", sessions[0].Title)
	require.Equal(t, "general", sessions[0].TopicCategory)
	require.Equal(t, "llama3", sessions[0].ModelUsed)
	require.Equal(t, 2, sessions[0].MessageCount)

	msgs, err := enc.GetMessages(sessions[0].ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hello there", msgs[0].Content)
	require.Equal(t, "hi, how can I help?", msgs[1].Content)
	require.Equal(t, "<p>hi</p>", msgs[1].ContentHTML)

	// Both rows (including the inactive one) made it across.
	gotSessions, gotMessages, err := enc.CountRows()
	require.NoError(t, err)
	require.Equal(t, 2, gotSessions)
	require.Equal(t, 3, gotMessages)
}

// TestMigrator_MissingLegacyTable tests schema verification.
func TestMigrator_MissingLegacyTable(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "legacy.db")

	db, err := sql.Open("sqlite", oldPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE sessions (id INTEGER PRIMARY KEY, title TEXT,
		topic_category TEXT, model_used TEXT, created_at INTEGER, last_used_at INTEGER,
		message_count INTEGER, is_active INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	m := &Migrator{
		OldPath: oldPath,
		NewPath: filepath.Join(dir, "encrypted.db"),
		Crypter: newTestCrypter(t),
	}

	_, err = m.Run()
	require.ErrorIs(t, err, ErrLegacySchemaMismatch)

	var merr *MigrationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "verify-legacy-schema", merr.Step)
}

// TestMigrator_ExistingTarget tests the overwrite guard and --force.
func TestMigrator_ExistingTarget(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "legacy.db")
	newPath := filepath.Join(dir, "encrypted.db")
	buildLegacyDB(t, oldPath)
	require.NoError(t, os.WriteFile(newPath, []byte("existing"), 0600))

	crypter := newTestCrypter(t)
	m := &Migrator{OldPath: oldPath, NewPath: newPath, Crypter: crypter}

	_, err := m.Run()
	require.Error(t, err)
	var merr *MigrationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "create-target", merr.Step)
	require.NotEmpty(t, merr.BackupPath, "Failure after backup must report the backup path")

	m.Force = true
	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, 2, result.SessionsMigrated)
}

// TestMigrator_RequiresLogin tests the precheck gate.
func TestMigrator_RequiresLogin(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "legacy.db")
	buildLegacyDB(t, oldPath)

	enc := security.NewEncryptionManager(security.NewKeyStoreAt(filepath.Join(t.TempDir(), "keys")))
	require.NoError(t, enc.SetupFirstTime("password"))
	enc.Logout()

	m := &Migrator{
		OldPath: oldPath,
		NewPath: filepath.Join(dir, "encrypted.db"),
		Crypter: enc,
	}

	_, err := m.Run()
	var merr *MigrationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "precheck", merr.Step)
}

// TestMigrator_MissingLegacyDB tests a non-existent source path.
func TestMigrator_MissingLegacyDB(t *testing.T) {
	dir := t.TempDir()
	m := &Migrator{
		OldPath: filepath.Join(dir, "does-not-exist.db"),
		NewPath: filepath.Join(dir, "encrypted.db"),
		Crypter: newTestCrypter(t),
	}

	_, err := m.Run()
	var merr *MigrationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "open-legacy", merr.Step)
}

// =============================================================================
// LEGACY TIME PARSING TESTS
// =============================================================================

// TestMigrator_ParseLegacyTime tests the timestamp encodings seen in
// old databases.
func TestMigrator_ParseLegacyTime(t *testing.T) {
	want := time.Date(2024, 11, 5, 8, 30, 0, 0, time.UTC)

	require.Equal(t, want.Unix(), parseLegacyTime(want.Unix()).Unix())
	require.Equal(t, want.Unix(), parseLegacyTime(float64(want.Unix())).Unix())
	require.Equal(t, want.Unix(), parseLegacyTime("2024-11-05T08:30:00Z").Unix())
	require.Equal(t, want.Unix(), parseLegacyTime("2024-11-05 08:30:00").Unix())
	require.Equal(t, want.Unix(), parseLegacyTime([]byte("2024-11-05 08:30:00")).Unix())
}
