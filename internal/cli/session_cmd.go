// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - Session management commands: list, show, search,
// export, delete, stats.

package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jeranaias/chat-ai-agent/internal/util"
)

// =============================================================================
// DISPATCH
// =============================================================================

// HandleSessions handles the "sessions" command and its subcommands.
func (a *App) HandleSessions(parser *ArgParser) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.openDB(parser.Flag("db")); err != nil {
		return err
	}

	switch parser.Subcommand() {
	case "", "list":
		return a.sessionsList(parser)
	case "show":
		return a.sessionsShow(parser)
	case "search":
		return a.sessionsSearch(parser)
	case "export":
		return a.sessionsExport(parser)
	case "delete":
		return a.sessionsDelete(parser)
	case "stats":
		return a.sessionsStats()
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", parser.Subcommand())
	}
}

// parseSessionID reads the session id from the second positional arg.
func parseSessionID(parser *ArgParser) (int64, error) {
	raw := parser.Positional(1)
	if raw == "" {
		return 0, fmt.Errorf("session id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id: %s", raw)
	}
	return id, nil
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

func (a *App) sessionsList(parser *ArgParser) error {
	limit := parser.FlagIntOrDefault("limit", 50)

	sessions, err := a.DB.GetSessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	// PadString keeps multi-byte titles aligned where %-40s would
	// count bytes instead of runes.
	fmt.Printf("%-6s  %s  %-16s  %s\n", "ID", util.PadString("TITLE", 40), "LAST USED", "MSGS")
	for _, s := range sessions {
		fmt.Printf("%-6d  %s  %-16s  %d\n",
			s.ID,
			util.PadString(util.TruncateString(s.Title, 40), 40),
			s.LastUsedAt.Format("2006-01-02 15:04"),
			s.MessageCount)
	}
	return nil
}

func (a *App) sessionsSearch(parser *ArgParser) error {
	query := strings.Join(parser.PositionalFrom(1), " ")
	if query == "" {
		return fmt.Errorf("search query is required")
	}

	sessions, err := a.DB.SearchSessions(query)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No matching sessions.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%6d  %s (%d messages)\n", s.ID, s.Title, s.MessageCount)
	}
	return nil
}

// =============================================================================
// SHOW
// =============================================================================

func (a *App) sessionsShow(parser *ArgParser) error {
	id, err := parseSessionID(parser)
	if err != nil {
		return err
	}

	session, err := a.DB.GetSession(id)
	if err != nil {
		return err
	}

	limit := parser.FlagIntOrDefault("limit", 100)
	offset := parser.FlagIntOrDefault("offset", 0)
	messages, err := a.DB.GetMessages(id, limit, offset)
	if err != nil {
		return err
	}

	fmt.Printf("Session %d: %s\n", session.ID, session.Title)
	if session.TopicCategory != "" {
		fmt.Printf("Topic: %s\n", session.TopicCategory)
	}
	fmt.Printf("Created %s, %d messages\n\n",
		session.CreatedAt.Format("2006-01-02 15:04"), session.MessageCount)

	for _, m := range messages {
		fmt.Printf("[%s] %s:\n%s\n\n",
			m.Timestamp.Format("15:04:05"), strings.ToUpper(m.Role), m.Content)
	}
	return nil
}

// =============================================================================
// EXPORT
// =============================================================================

func (a *App) sessionsExport(parser *ArgParser) error {
	id, err := parseSessionID(parser)
	if err != nil {
		return err
	}

	exported, err := a.DB.Export(id)
	if err != nil {
		return err
	}

	var data []byte
	switch format := parser.FlagOrDefault("format", "markdown"); format {
	case "markdown", "md":
		data = []byte(exported.ExportMarkdown())
	case "json":
		data, err = exported.ExportJSON()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export format: %s (use markdown or json)", format)
	}

	out := parser.Flag("out")
	if out == "" {
		fmt.Print(string(data))
		return nil
	}

	if err := util.AtomicWriteFile(out, data, 0600); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Printf("Exported session %d to %s\n", id, out)
	return nil
}

// =============================================================================
// DELETE
// =============================================================================

func (a *App) sessionsDelete(parser *ArgParser) error {
	id, err := parseSessionID(parser)
	if err != nil {
		return err
	}

	if !parser.BoolFlag("yes") {
		ok, err := promptConfirm(fmt.Sprintf("Delete session %d?", id))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	matched, err := a.DB.DeleteSession(id)
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("session %d not found", id)
	}
	fmt.Printf("Session %d deleted.\n", id)
	return nil
}

// =============================================================================
// STATS
// =============================================================================

func (a *App) sessionsStats() error {
	stats, err := a.DB.GetEncryptionStats()
	if err != nil {
		return err
	}

	fmt.Println("Rows by encryption version:")
	printVersionCounts("  sessions", stats.SessionCounts)
	printVersionCounts("  messages", stats.MessageCounts)
	return nil
}

func printVersionCounts(label string, counts map[int]int) {
	if len(counts) == 0 {
		fmt.Printf("%s: none\n", label)
		return
	}
	versions := make([]int, 0, len(counts))
	for v := range counts {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	for _, v := range versions {
		fmt.Printf("%s: v%d = %d\n", label, v, counts[v])
	}
}
