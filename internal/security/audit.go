// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"log"
	"sort"
	"strings"
	"time"
)

// AuditLogEvent logs a security-relevant event as a single structured
// line. Events never include key material, passwords, or plaintext
// content; they record what happened, not what the data was.
//
// Format: 2006-01-02 15:04:05 UTC | EVENT_TYPE | key=value key=value
func AuditLogEvent(eventType string, fields map[string]string) {
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05 UTC")

	if len(fields) == 0 {
		log.Printf("%s | %s", timestamp, eventType)
		return
	}

	// Deterministic field order keeps log lines diffable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(fields[k])
	}

	log.Printf("%s | %s | %s", timestamp, eventType, sb.String())
}
