// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

// Schema creates the encrypted chat store tables. It is idempotent and
// runs on every open.
//
// Sensitive columns (topic_category, model_used, content, content_html,
// tool_calls) hold ciphertext BLOBs; title and role stay plaintext so
// listing and search work without decryption. messages.session_id
// declares ON DELETE CASCADE for referential integrity, but the
// application removal path is the sessions.is_active soft-delete flag;
// rows are never hard-deleted in normal operation.
const Schema = `
CREATE TABLE IF NOT EXISTS encryption_keys (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	version    INTEGER NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	title              TEXT    NOT NULL,
	topic_category     BLOB,
	created_at         INTEGER NOT NULL,
	last_used_at       INTEGER NOT NULL,
	message_count      INTEGER NOT NULL DEFAULT 0,
	model_used         BLOB,
	is_active          INTEGER NOT NULL DEFAULT 1,
	encryption_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id         INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role               TEXT    NOT NULL,
	content            BLOB    NOT NULL,
	content_html       BLOB,
	timestamp          INTEGER NOT NULL,
	token_count        INTEGER NOT NULL DEFAULT 0,
	tool_calls         BLOB,
	encryption_version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session_time ON messages(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_sessions_last_used    ON sessions(last_used_at);
CREATE INDEX IF NOT EXISTS idx_sessions_active       ON sessions(is_active);
`
