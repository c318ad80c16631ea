// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the encrypted-at-rest SQLite store for chat
// sessions and messages. It is the single reader/writer of the
// database file; every sensitive column goes through the Crypter
// before it touches disk.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chat-ai-agent/internal/security"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when a session id does not match
	// an active row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCorrupted is returned by single-row reads whose
	// encrypted fields cannot be decrypted. List operations skip such
	// rows instead.
	ErrSessionCorrupted = errors.New("session row could not be decrypted")

	// ErrInvalidRole is returned for a message role outside
	// user/assistant/system.
	ErrInvalidRole = errors.New("invalid message role")
)

// =============================================================================
// CRYPTER
// =============================================================================

// Crypter is the encryption surface the store depends on. Satisfied by
// *auth.Manager; every call is gated on an active login session and
// refreshes the session's activity timer.
type Crypter interface {
	Encrypt(plaintext string) (blob []byte, version int, err error)
	Decrypt(blob []byte, version int) (string, error)
	IsLoggedIn() bool
}

// =============================================================================
// ENCRYPTED DATABASE
// =============================================================================

// EncryptedDB is the SQLite-backed session/message store.
type EncryptedDB struct {
	db      *sql.DB
	crypter Crypter
	path    string
}

// DefaultDBPath returns the default database location:
// ~/.chat-ai-agent/db/chat_sessions_encrypted.db, or the equivalent
// under %LOCALAPPDATA% on Windows.
func DefaultDBPath() string {
	base := ""
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		base = filepath.Join(local, security.ServiceName)
	} else if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, "."+security.ServiceName)
	} else {
		base = filepath.Join(".", "."+security.ServiceName)
	}
	return filepath.Join(base, "db", "chat_sessions_encrypted.db")
}

// Open opens (creating if needed) the encrypted store at path.
// Schema setup is idempotent and runs on every open.
func Open(path string, crypter Crypter) (*EncryptedDB, error) {
	if crypter == nil {
		return nil, errors.New("crypter cannot be nil")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn. WAL allows readers alongside the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &EncryptedDB{db: db, crypter: crypter, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates tables/indexes and registers the current
// encryption scheme as the single active row in encryption_keys.
func (s *EncryptedDB) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}

	now := time.Now().Unix()
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO encryption_keys (version, created_at, is_active) VALUES (?, ?, 0)`,
		security.CurrentScheme, now,
	); err != nil {
		return err
	}
	if _, err := s.db.Exec(`UPDATE encryption_keys SET is_active = (version = ?)`,
		security.CurrentScheme); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *EncryptedDB) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *EncryptedDB) Path() string {
	return s.path
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession creates a new chat session and returns its id. The
// title is intentionally stored plaintext so listing and search never
// need decryption. topicCategory and modelUsed are optional; when
// non-empty they are encrypted, which requires an active login
// session.
func (s *EncryptedDB) CreateSession(title, topicCategory, modelUsed string) (int64, error) {
	if strings.TrimSpace(title) == "" {
		return 0, errors.New("session title cannot be empty")
	}

	version := security.CurrentScheme

	var topicBlob, modelBlob []byte
	if topicCategory != "" {
		blob, v, err := s.crypter.Encrypt(topicCategory)
		if err != nil {
			return 0, fmt.Errorf("failed to encrypt topic category: %w", err)
		}
		topicBlob, version = blob, v
	}
	if modelUsed != "" {
		blob, v, err := s.crypter.Encrypt(modelUsed)
		if err != nil {
			return 0, fmt.Errorf("failed to encrypt model name: %w", err)
		}
		modelBlob, version = blob, v
	}

	now := time.Now().Unix()
	result, err := s.db.Exec(`
		INSERT INTO sessions (title, topic_category, created_at, last_used_at, message_count, model_used, is_active, encryption_version)
		VALUES (?, ?, ?, ?, 0, ?, 1, ?)`,
		title, nullableBlob(topicBlob), now, now, nullableBlob(modelBlob), version)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	return result.LastInsertId()
}

// GetSession returns one active session by id, with its optional
// encrypted fields decrypted. Returns ErrSessionNotFound if no active
// row matches and ErrSessionCorrupted if decryption of the row fails.
func (s *EncryptedDB) GetSession(id int64) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, title, topic_category, created_at, last_used_at, message_count, model_used, is_active, encryption_version
		FROM sessions WHERE id = ? AND is_active = 1`, id)

	sess, err := s.scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		if errors.Is(err, security.ErrDecryptionFailed) || errors.Is(err, security.ErrUnsupportedVersion) {
			security.AuditLogEvent("SESSION_ROW_UNREADABLE", map[string]string{
				"session_id": strconv.FormatInt(id, 10),
			})
			return nil, ErrSessionCorrupted
		}
		return nil, err
	}
	return sess, nil
}

// GetSessions returns up to limit active sessions, most recently used
// first. A row whose encrypted fields cannot be decrypted (corrupted
// blob, unknown version) is logged and skipped; one bad row must not
// break the session list.
func (s *EncryptedDB) GetSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, title, topic_category, created_at, last_used_at, message_count, model_used, is_active, encryption_version
		FROM sessions WHERE is_active = 1
		ORDER BY last_used_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return s.collectSessions(rows)
}

// collectSessions drains a session query, skipping rows whose
// encrypted fields cannot be decrypted.
func (s *EncryptedDB) collectSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			if errors.Is(err, security.ErrDecryptionFailed) || errors.Is(err, security.ErrUnsupportedVersion) {
				security.AuditLogEvent("SESSION_ROW_SKIPPED", map[string]string{"reason": "undecryptable"})
				continue
			}
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SearchSessions returns active sessions whose plaintext title
// contains the query, case-insensitively, most recently used first.
// Unlike GetSessions, search scans every active session; the title
// index stays small because titles are plaintext.
func (s *EncryptedDB) SearchSessions(query string) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, title, topic_category, created_at, last_used_at, message_count, model_used, is_active, encryption_version
		FROM sessions WHERE is_active = 1
		ORDER BY last_used_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	all, err := s.collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}

	query = strings.ToLower(query)
	var results []Session
	for _, sess := range all {
		if strings.Contains(strings.ToLower(sess.Title), query) {
			results = append(results, sess)
		}
	}
	return results, nil
}

// DeleteSession soft-deletes a session by flipping is_active. Rows are
// never hard-deleted; the history stays on disk, encrypted, until a
// future purge tool removes it. Returns false if no active row matched.
func (s *EncryptedDB) DeleteSession(id int64) (bool, error) {
	result, err := s.db.Exec(`UPDATE sessions SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AddMessage appends a message to a session. Content is always
// encrypted (never optional), and the parent session's message_count
// and last_used_at are bumped in the same transaction.
func (s *EncryptedDB) AddMessage(msg NewMessage) (int64, error) {
	switch msg.Role {
	case "user", "assistant", "system":
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}

	contentBlob, version, err := s.crypter.Encrypt(msg.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt content: %w", err)
	}

	var htmlBlob, toolsBlob []byte
	if msg.ContentHTML != "" {
		if htmlBlob, _, err = s.crypter.Encrypt(msg.ContentHTML); err != nil {
			return 0, fmt.Errorf("failed to encrypt rendered content: %w", err)
		}
	}
	if msg.ToolCalls != "" {
		if toolsBlob, _, err = s.crypter.Encrypt(msg.ToolCalls); err != nil {
			return 0, fmt.Errorf("failed to encrypt tool calls: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Bump the parent counters first: zero rows matched means the
	// session is missing or soft-deleted, reported as ErrSessionNotFound
	// rather than the foreign-key violation the insert would raise.
	now := time.Now().Unix()
	upd, err := tx.Exec(`
		UPDATE sessions SET message_count = message_count + 1, last_used_at = ?
		WHERE id = ? AND is_active = 1`, now, msg.SessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to update session counters: %w", err)
	}
	if n, err := upd.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, ErrSessionNotFound
	}

	result, err := tx.Exec(`
		INSERT INTO messages (session_id, role, content, content_html, timestamp, token_count, tool_calls, encryption_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, contentBlob, nullableBlob(htmlBlob), now,
		msg.TokenCount, nullableBlob(toolsBlob), version)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit message: %w", err)
	}
	return id, nil
}

// GetMessages returns messages for a session in chronological order.
//
// Internally it queries the newest rows in descending order and
// reverses them: loading "the most recent N" is the hot path for
// rebuilding chat context, so the window always anchors to the newest
// messages. offset pages backward within that same descending window
// (offset 0 = newest limit rows, offset limit = the limit rows before
// those), not forward from the start of history.
//
// A message row whose content cannot be decrypted is logged and
// dropped from the result; a single corrupted row must not break
// loading the conversation.
func (s *EncryptedDB) GetMessages(sessionID int64, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, content_html, timestamp, token_count, tool_calls, encryption_version
		FROM messages WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		var (
			m          Message
			content    []byte
			html       sql.Null[[]byte]
			tools      sql.Null[[]byte]
			ts         int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &content, &html, &ts,
			&m.TokenCount, &tools, &m.EncryptionVersion); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)

		m.Content, err = s.crypter.Decrypt(content, m.EncryptionVersion)
		if err != nil {
			if errors.Is(err, security.ErrDecryptionFailed) || errors.Is(err, security.ErrUnsupportedVersion) {
				security.AuditLogEvent("MESSAGE_ROW_SKIPPED", map[string]string{
					"message_id": strconv.FormatInt(m.ID, 10),
					"version":    strconv.Itoa(m.EncryptionVersion),
				})
				continue
			}
			return nil, err
		}

		if html.Valid && len(html.V) > 0 {
			if m.ContentHTML, err = s.decryptOptional(html.V, m.EncryptionVersion); err != nil {
				continue
			}
		}
		if tools.Valid && len(tools.V) > 0 {
			if m.ToolCalls, err = s.decryptOptional(tools.V, m.EncryptionVersion); err != nil {
				continue
			}
		}

		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// =============================================================================
// STATS
// =============================================================================

// GetEncryptionStats returns row counts grouped by encryption scheme
// version for both tables.
func (s *EncryptedDB) GetEncryptionStats() (*EncryptionStats, error) {
	stats := &EncryptionStats{
		SessionCounts: make(map[int]int),
		MessageCounts: make(map[int]int),
	}

	if err := s.countByVersion("sessions", stats.SessionCounts); err != nil {
		return nil, err
	}
	if err := s.countByVersion("messages", stats.MessageCounts); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *EncryptedDB) countByVersion(table string, out map[int]int) error {
	// table is one of two compile-time constants, never user input.
	rows, err := s.db.Query(
		"SELECT encryption_version, COUNT(*) FROM " + table + " GROUP BY encryption_version")
	if err != nil {
		return fmt.Errorf("failed to count %s by version: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return err
		}
		out[version] = count
	}
	return rows.Err()
}

// =============================================================================
// INTERNAL
// =============================================================================

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *EncryptedDB) scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		topic     sql.Null[[]byte]
		model     sql.Null[[]byte]
		createdAt int64
		lastUsed  int64
		active    int
	)
	if err := row.Scan(&sess.ID, &sess.Title, &topic, &createdAt, &lastUsed,
		&sess.MessageCount, &model, &active, &sess.EncryptionVersion); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastUsedAt = time.Unix(lastUsed, 0)
	sess.IsActive = active != 0

	var err error
	if topic.Valid && len(topic.V) > 0 {
		if sess.TopicCategory, err = s.crypter.Decrypt(topic.V, sess.EncryptionVersion); err != nil {
			return nil, err
		}
	}
	if model.Valid && len(model.V) > 0 {
		if sess.ModelUsed, err = s.crypter.Decrypt(model.V, sess.EncryptionVersion); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// decryptOptional decrypts an optional column, logging failures.
func (s *EncryptedDB) decryptOptional(blob []byte, version int) (string, error) {
	plaintext, err := s.crypter.Decrypt(blob, version)
	if err != nil {
		security.AuditLogEvent("MESSAGE_ROW_SKIPPED", map[string]string{
			"reason": "optional_field_undecryptable",
		})
		return "", err
	}
	return plaintext, nil
}

// nullableBlob maps an empty blob to SQL NULL.
func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
