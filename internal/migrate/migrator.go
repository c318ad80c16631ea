// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chat-ai-agent/internal/security"
	"github.com/jeranaias/chat-ai-agent/internal/store"
	"github.com/jeranaias/chat-ai-agent/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// MigrationError reports which step of the migration failed and where
// the pre-migration backup lives, so the operator can roll back. The
// generated rollback script performs the same restore.
type MigrationError struct {
	Step       string
	BackupPath string
	Err        error
}

func (e *MigrationError) Error() string {
	if e.BackupPath != "" {
		return fmt.Sprintf("migration failed at step %q: %v (backup preserved at %s)",
			e.Step, e.Err, e.BackupPath)
	}
	return fmt.Sprintf("migration failed at step %q: %v", e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// ErrLegacySchemaMismatch indicates the old database does not look
// like a legacy plaintext chat store.
var ErrLegacySchemaMismatch = errors.New("legacy database missing expected sessions/messages tables")

// =============================================================================
// MIGRATOR
// =============================================================================

// Migrator performs the one-time migration of a legacy plaintext
// SQLite database into a fresh encrypted store.
type Migrator struct {
	// OldPath is the legacy plaintext database.
	OldPath string

	// NewPath is where the encrypted database is created. Must not
	// already contain data unless Force is set.
	NewPath string

	// Crypter encrypts migrated content; the operator must be logged
	// in before running.
	Crypter store.Crypter

	// DryRun verifies the legacy database and reports row counts
	// without writing anything.
	DryRun bool

	// Force allows overwriting an existing (non-empty) target database.
	Force bool

	// SmokeTestSample is how many migrated messages to decrypt and
	// compare against their plaintext source during verification.
	SmokeTestSample int
}

// Result reports what a migration run did.
type Result struct {
	RunID            string `json:"run_id"`
	BackupPath       string `json:"backup_path,omitempty"`
	RollbackScript   string `json:"rollback_script,omitempty"`
	SessionsMigrated int    `json:"sessions_migrated"`
	MessagesMigrated int    `json:"messages_migrated"`
	DryRun           bool   `json:"dry_run"`
}

// legacySession mirrors a row of the legacy plaintext sessions table.
type legacySession struct {
	id            int64
	title         string
	topicCategory string
	modelUsed     string
	createdAt     time.Time
	lastUsedAt    time.Time
	messageCount  int
	isActive      bool
}

// legacyMessage mirrors a row of the legacy plaintext messages table.
type legacyMessage struct {
	sessionID   int64
	role        string
	content     string
	contentHTML string
	timestamp   time.Time
	tokenCount  int
	toolCalls   string
}

// Run executes the migration:
//
//  1. copy the legacy database to a timestamped backup
//  2. verify the legacy database has the expected tables
//  3. create a fresh encrypted store
//  4. migrate sessions, building an old-id -> new-id map
//  5. migrate messages through that map
//  6. verify row counts and decrypt a sample of migrated messages
//
// Any failing step aborts the whole run; the backup and a generated
// rollback shell script are left in place and reported in the error.
func (m *Migrator) Run() (*Result, error) {
	if m.Crypter == nil {
		return nil, &MigrationError{Step: "precheck", Err: errors.New("crypter is nil")}
	}
	if !m.DryRun && !m.Crypter.IsLoggedIn() {
		return nil, &MigrationError{Step: "precheck", Err: errors.New("not logged in")}
	}

	result := &Result{
		RunID:  uuid.NewString(),
		DryRun: m.DryRun,
	}

	// Step 2 runs before the backup copy on dry runs; nothing is
	// written, so there is nothing to protect.
	old, err := openLegacy(m.OldPath)
	if err != nil {
		return nil, &MigrationError{Step: "open-legacy", Err: err}
	}
	defer old.Close()

	if err := verifyLegacySchema(old); err != nil {
		return nil, &MigrationError{Step: "verify-legacy-schema", Err: err}
	}

	sessions, err := readLegacySessions(old)
	if err != nil {
		return nil, &MigrationError{Step: "read-legacy-sessions", Err: err}
	}
	messages, err := readLegacyMessages(old)
	if err != nil {
		return nil, &MigrationError{Step: "read-legacy-messages", Err: err}
	}

	result.SessionsMigrated = len(sessions)
	result.MessagesMigrated = len(messages)

	if m.DryRun {
		security.AuditLogEvent("MIGRATION_DRY_RUN", map[string]string{
			"run_id":   result.RunID,
			"sessions": fmt.Sprintf("%d", len(sessions)),
			"messages": fmt.Sprintf("%d", len(messages)),
		})
		return result, nil
	}

	// Step 1: backup before any write.
	backupPath, err := m.backupLegacy(result.RunID)
	if err != nil {
		return nil, &MigrationError{Step: "backup", Err: err}
	}
	result.BackupPath = backupPath

	scriptPath, err := m.writeRollbackScript(backupPath)
	if err != nil {
		return nil, &MigrationError{Step: "rollback-script", BackupPath: backupPath, Err: err}
	}
	result.RollbackScript = scriptPath

	// Step 3: fresh encrypted store.
	if err := m.ensureTargetFresh(); err != nil {
		return nil, &MigrationError{Step: "create-target", BackupPath: backupPath, Err: err}
	}
	enc, err := store.Open(m.NewPath, m.Crypter)
	if err != nil {
		return nil, &MigrationError{Step: "create-target", BackupPath: backupPath, Err: err}
	}
	defer enc.Close()

	// Step 4: sessions first, mapping old ids to new.
	idMap := make(map[int64]int64, len(sessions))
	for _, ls := range sessions {
		newID, err := enc.ImportSession(store.Session{
			Title:         ls.title,
			TopicCategory: ls.topicCategory,
			ModelUsed:     ls.modelUsed,
			CreatedAt:     ls.createdAt,
			LastUsedAt:    ls.lastUsedAt,
			MessageCount:  ls.messageCount,
			IsActive:      ls.isActive,
		})
		if err != nil {
			return nil, &MigrationError{Step: "migrate-sessions", BackupPath: backupPath, Err: err}
		}
		idMap[ls.id] = newID
	}

	// Step 5: messages through the id map.
	for _, lm := range messages {
		newSessionID, ok := idMap[lm.sessionID]
		if !ok {
			return nil, &MigrationError{
				Step:       "migrate-messages",
				BackupPath: backupPath,
				Err:        fmt.Errorf("message references unknown session %d", lm.sessionID),
			}
		}
		if _, err := enc.ImportMessage(store.Message{
			SessionID:   newSessionID,
			Role:        lm.role,
			Content:     lm.content,
			ContentHTML: lm.contentHTML,
			Timestamp:   lm.timestamp,
			TokenCount:  lm.tokenCount,
			ToolCalls:   lm.toolCalls,
		}); err != nil {
			return nil, &MigrationError{Step: "migrate-messages", BackupPath: backupPath, Err: err}
		}
	}

	// Step 6: verify counts and run the decryption smoke test.
	if err := m.verifyMigration(enc, sessions, messages, idMap); err != nil {
		return nil, &MigrationError{Step: "verify", BackupPath: backupPath, Err: err}
	}

	security.AuditLogEvent("MIGRATION_COMPLETE", map[string]string{
		"run_id":   result.RunID,
		"sessions": fmt.Sprintf("%d", result.SessionsMigrated),
		"messages": fmt.Sprintf("%d", result.MessagesMigrated),
	})
	return result, nil
}

// =============================================================================
// STEPS
// =============================================================================

// backupLegacy copies the legacy database to a timestamped sibling.
func (m *Migrator) backupLegacy(runID string) (string, error) {
	stamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s.backup-%s-%s", m.OldPath, stamp, runID[:8])

	src, err := os.Open(m.OldPath)
	if err != nil {
		return "", fmt.Errorf("failed to open legacy database: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return "", fmt.Errorf("failed to copy legacy database: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return "", fmt.Errorf("failed to sync backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to close backup: %w", err)
	}

	return backupPath, nil
}

// writeRollbackScript generates a shell script next to the backup that
// restores the legacy database and removes the partially built target.
func (m *Migrator) writeRollbackScript(backupPath string) (string, error) {
	scriptPath := backupPath + ".rollback.sh"
	script := fmt.Sprintf(`#!/bin/sh
# Rollback script generated by chat-ai-agent migrate.
# Restores the legacy plaintext database from its pre-migration backup
# and removes the (possibly partial) encrypted target database.
set -e
cp %q %q
rm -f %q %q-wal %q-shm
echo "rollback complete: legacy database restored from backup"
`, backupPath, m.OldPath, m.NewPath, m.NewPath, m.NewPath)

	if err := util.AtomicWriteFile(scriptPath, []byte(script), 0700); err != nil {
		return "", err
	}
	return scriptPath, nil
}

// ensureTargetFresh refuses to migrate onto an existing target unless
// Force is set, in which case the old target is removed.
func (m *Migrator) ensureTargetFresh() error {
	if _, err := os.Stat(m.NewPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !m.Force {
		return fmt.Errorf("target database already exists: %s (use --force to overwrite)", m.NewPath)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(m.NewPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing target: %w", err)
		}
	}
	return nil
}

// verifyMigration checks row counts and decrypts a sample of migrated
// messages, comparing them to their plaintext source.
func (m *Migrator) verifyMigration(enc *store.EncryptedDB, sessions []legacySession, messages []legacyMessage, idMap map[int64]int64) error {
	gotSessions, gotMessages, err := enc.CountRows()
	if err != nil {
		return err
	}
	if gotSessions != len(sessions) {
		return fmt.Errorf("session count mismatch: migrated %d, expected %d", gotSessions, len(sessions))
	}
	if gotMessages != len(messages) {
		return fmt.Errorf("message count mismatch: migrated %d, expected %d", gotMessages, len(messages))
	}

	sample := m.SmokeTestSample
	if sample <= 0 {
		sample = 10
	}

	// Sample evenly across the message list; decrypted content must
	// equal its plaintext source byte for byte.
	checked := 0
	step := len(messages)/sample + 1
	for i := 0; i < len(messages); i += step {
		lm := messages[i]
		newSessionID := idMap[lm.sessionID]

		msgs, err := enc.GetMessages(newSessionID, 1_000_000, 0)
		if err != nil {
			return fmt.Errorf("smoke test failed reading session %d: %w", newSessionID, err)
		}

		found := false
		for _, got := range msgs {
			if got.Content == lm.content && got.Role == lm.role {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("smoke test failed: migrated content for session %d does not match source", newSessionID)
		}
		checked++
	}

	security.AuditLogEvent("MIGRATION_SMOKE_TEST", map[string]string{
		"sampled": fmt.Sprintf("%d", checked),
	})
	return nil
}

// =============================================================================
// LEGACY DATABASE ACCESS
// =============================================================================

func openLegacy(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("legacy database not found: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// verifyLegacySchema checks both expected tables exist.
func verifyLegacySchema(db *sql.DB) error {
	for _, table := range []string{"sessions", "messages"} {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: missing %q", ErrLegacySchemaMismatch, table)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readLegacySessions(db *sql.DB) ([]legacySession, error) {
	rows, err := db.Query(`
		SELECT id, title, topic_category, model_used, created_at, last_used_at, message_count, is_active
		FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []legacySession
	for rows.Next() {
		var (
			ls           legacySession
			topic, model sql.NullString
			created, used any
			active       int
		)
		if err := rows.Scan(&ls.id, &ls.title, &topic, &model, &created, &used,
			&ls.messageCount, &active); err != nil {
			return nil, err
		}
		ls.topicCategory = topic.String
		ls.modelUsed = model.String
		ls.createdAt = parseLegacyTime(created)
		ls.lastUsedAt = parseLegacyTime(used)
		ls.isActive = active != 0
		sessions = append(sessions, ls)
	}
	return sessions, rows.Err()
}

func readLegacyMessages(db *sql.DB) ([]legacyMessage, error) {
	rows, err := db.Query(`
		SELECT session_id, role, content, content_html, timestamp, token_count, tool_calls
		FROM messages ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []legacyMessage
	for rows.Next() {
		var (
			lm          legacyMessage
			html, tools sql.NullString
			ts          any
		)
		if err := rows.Scan(&lm.sessionID, &lm.role, &lm.content, &html, &ts,
			&lm.tokenCount, &tools); err != nil {
			return nil, err
		}
		lm.contentHTML = html.String
		lm.toolCalls = tools.String
		lm.timestamp = parseLegacyTime(ts)
		messages = append(messages, lm)
	}
	return messages, rows.Err()
}

// parseLegacyTime accepts the timestamp encodings seen in legacy
// databases: Unix seconds, RFC 3339, or "2006-01-02 15:04:05".
func parseLegacyTime(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case float64:
		return time.Unix(int64(t), 0)
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04:05.999999"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	case []byte:
		return parseLegacyTime(string(t))
	}
	return time.Now()
}
