// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// interactive.go - Interactive shell. Keeps the session unlocked
// across commands until idle timeout, logout, or exit.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jeranaias/chat-ai-agent/internal/config"
	"github.com/jeranaias/chat-ai-agent/internal/store"
)

// runInteractive starts the interactive shell.
func (a *App) runInteractive() error {
	if a.Auth.IsSetupRequired() {
		fmt.Println("No encryption setup found.")
		if err := a.HandleSetup(); err != nil {
			return err
		}
	} else if err := a.login(); err != nil {
		return err
	}

	if err := a.openDB(""); err != nil {
		return err
	}

	// Config edits take effect live: a changed auto_logout_minutes
	// applies to the running session. Watch failures are not fatal;
	// the shell just runs with the startup config.
	if w := a.watchConfig(); w != nil {
		defer w.Close()
	}

	fmt.Println("chat-ai-agent interactive shell. Type 'help' for commands.")

	reader := bufio.NewReader(os.Stdin)
	for {
		// Idle expiry is evaluated lazily; a long pause at the prompt
		// locks the session.
		if !a.Auth.IsLoggedIn() {
			fmt.Println("Session locked. Enter your password to continue.")
			if err := a.login(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return nil
			}
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if done, err := a.dispatchInteractive(fields); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else if done {
			return nil
		}
	}
}

// watchConfig starts a config file watcher that applies the reloaded
// idle timeout to the live session. Returns nil when watching cannot
// be set up.
func (a *App) watchConfig() *config.Watcher {
	path, err := config.ConfigPath()
	if err != nil {
		return nil
	}

	// The callback runs on the watcher goroutine; it must only touch
	// state that is locked, which the idle timeout is.
	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		a.Auth.SetIdleTimeout(cfg.IdleTimeout())
	})
	if err != nil {
		return nil
	}
	if err := w.Watch(); err != nil {
		w.Close()
		return nil
	}
	return w
}

// dispatchInteractive runs one shell command. Returns true to exit.
func (a *App) dispatchInteractive(fields []string) (bool, error) {
	cmd, rest := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		printInteractiveHelp()
		return false, nil

	case "lock", "logout":
		a.Auth.Logout()
		return false, nil

	case "status":
		return false, a.HandleStatus(nil)

	case "list", "ls":
		return false, a.sessionsList(NewArgParser(rest))

	case "search":
		return false, a.sessionsSearch(NewArgParser(append([]string{"search"}, rest...)))

	case "show":
		return false, a.sessionsShow(NewArgParser(append([]string{"show"}, rest...)))

	case "stats":
		return false, a.sessionsStats()

	case "new":
		title := strings.Join(rest, " ")
		id, err := a.DB.CreateSession(title, "", "")
		if err != nil {
			return false, err
		}
		fmt.Printf("Created session %d.\n", id)
		return false, nil

	case "add":
		return false, a.interactiveAdd(rest)

	case "delete", "rm":
		return false, a.sessionsDelete(NewArgParser(append([]string{"delete"}, rest...)))

	case "export":
		return false, a.sessionsExport(NewArgParser(append([]string{"export"}, rest...)))

	default:
		return false, fmt.Errorf("unknown command: %s (try 'help')", cmd)
	}
}

// interactiveAdd appends a message: add <session-id> <role> <text...>
func (a *App) interactiveAdd(rest []string) error {
	if len(rest) < 3 {
		return fmt.Errorf("usage: add <session-id> <role> <text>")
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id: %s", rest[0])
	}

	msgID, err := a.DB.AddMessage(store.NewMessage{
		SessionID: id,
		Role:      rest[1],
		Content:   strings.Join(rest[2:], " "),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added message %d to session %d.\n", msgID, id)
	return nil
}

func printInteractiveHelp() {
	fmt.Print(`Commands:
  list [--limit N]              List sessions
  show <id> [--limit N]         Show a session's messages
  search <query>                Search session titles
  new <title>                   Create a session
  add <id> <role> <text>        Append a message
  delete <id>                   Soft-delete a session
  export <id> [--format F]      Export a session
  stats                         Encryption version counts
  status                        Session and database status
  lock                          Lock the session (stay in shell)
  quit                          Exit
`)
}
