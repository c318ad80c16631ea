// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"strings"
	"time"
)

// ExportedSession bundles a decrypted session with its messages for
// export.
type ExportedSession struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}

// Export loads a session and all of its messages in decrypted form.
// Undecryptable message rows are skipped, matching GetMessages.
func (s *EncryptedDB) Export(sessionID int64) (*ExportedSession, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	// The full history: window large enough for any realistic session.
	msgs, err := s.GetMessages(sessionID, 1_000_000, 0)
	if err != nil {
		return nil, err
	}

	return &ExportedSession{Session: *sess, Messages: msgs}, nil
}

// ExportMarkdown renders the session as Markdown with role labels and
// timestamps.
func (e *ExportedSession) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + e.Session.Title + "\n\n")
	sb.WriteString("Created: " + e.Session.CreatedAt.Format(time.RFC3339) + "\n")
	if e.Session.ModelUsed != "" {
		sb.WriteString("Model: " + e.Session.ModelUsed + "\n")
	}
	sb.WriteString("\n---\n\n")

	for _, msg := range e.Messages {
		role := "**User**"
		switch msg.Role {
		case "assistant":
			role = "**Assistant**"
		case "system":
			role = "**System**"
		}
		sb.WriteString(role + " (" + msg.Timestamp.Format("2006-01-02 15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders the session as pretty-printed JSON.
func (e *ExportedSession) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
