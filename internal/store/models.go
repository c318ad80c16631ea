// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "time"

// Session represents one chat conversation. Optional encrypted fields
// are empty strings when unset.
type Session struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	TopicCategory string    `json:"topic_category,omitempty"`
	ModelUsed     string    `json:"model_used,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
	MessageCount  int       `json:"message_count"`
	IsActive      bool      `json:"is_active"`

	// EncryptionVersion is the scheme the row's ciphertext was
	// produced with.
	EncryptionVersion int `json:"encryption_version"`
}

// Message represents one chat turn. Messages are immutable after
// creation; only the parent session's aggregate counters change.
type Message struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	Role        string    `json:"role"` // "user", "assistant", "system"
	Content     string    `json:"content"`
	ContentHTML string    `json:"content_html,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	TokenCount  int       `json:"token_count"`
	ToolCalls   string    `json:"tool_calls,omitempty"`

	EncryptionVersion int `json:"encryption_version"`
}

// NewMessage carries the fields for a message append. Content is
// required and always encrypted; ContentHTML and ToolCalls are
// optional and encrypted when present.
type NewMessage struct {
	SessionID   int64
	Role        string
	Content     string
	ContentHTML string
	TokenCount  int
	ToolCalls   string
}

// EncryptionStats reports row counts grouped by encryption scheme
// version, for audit and migration planning.
type EncryptionStats struct {
	SessionCounts map[int]int `json:"session_counts"`
	MessageCounts map[int]int `json:"message_counts"`
}
