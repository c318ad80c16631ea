// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"fmt"

	"github.com/jeranaias/chat-ai-agent/internal/security"
)

// Import operations preserve source timestamps and counters instead of
// stamping the current time. They exist for the legacy-database
// migration path only; normal writes go through CreateSession and
// AddMessage.

// ImportSession inserts a session row with its original timestamps,
// message count and active flag, encrypting the optional fields with
// the current scheme. Returns the new session id.
func (s *EncryptedDB) ImportSession(sess Session) (int64, error) {
	version := security.CurrentScheme

	var topicBlob, modelBlob []byte
	var err error
	if sess.TopicCategory != "" {
		if topicBlob, version, err = s.crypter.Encrypt(sess.TopicCategory); err != nil {
			return 0, fmt.Errorf("failed to encrypt topic category: %w", err)
		}
	}
	if sess.ModelUsed != "" {
		if modelBlob, version, err = s.crypter.Encrypt(sess.ModelUsed); err != nil {
			return 0, fmt.Errorf("failed to encrypt model name: %w", err)
		}
	}

	active := 0
	if sess.IsActive {
		active = 1
	}

	result, err := s.db.Exec(`
		INSERT INTO sessions (title, topic_category, created_at, last_used_at, message_count, model_used, is_active, encryption_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.Title, nullableBlob(topicBlob), sess.CreatedAt.Unix(), sess.LastUsedAt.Unix(),
		sess.MessageCount, nullableBlob(modelBlob), active, version)
	if err != nil {
		return 0, fmt.Errorf("failed to import session: %w", err)
	}
	return result.LastInsertId()
}

// ImportMessage inserts a message row with its original timestamp,
// without touching the parent session's counters (the imported session
// row already carries its final message_count).
func (s *EncryptedDB) ImportMessage(msg Message) (int64, error) {
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

	result, err := s.db.Exec(`
		INSERT INTO messages (session_id, role, content, content_html, timestamp, token_count, tool_calls, encryption_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, contentBlob, nullableBlob(htmlBlob),
		msg.Timestamp.Unix(), msg.TokenCount, nullableBlob(toolsBlob), version)
	if err != nil {
		return 0, fmt.Errorf("failed to import message: %w", err)
	}
	return result.LastInsertId()
}

// CountRows returns the total number of session and message rows,
// including soft-deleted sessions. Used by migration verification.
func (s *EncryptedDB) CountRows() (sessions, messages int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&messages); err != nil {
		return 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return sessions, messages, nil
}
