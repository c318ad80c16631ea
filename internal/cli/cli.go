// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chat-ai-agent command-line interface.
//
// Commands operate against the encrypted session store. State-changing
// commands require an unlocked session; one-shot commands prompt for
// the master password, perform the operation, and log out.
package cli

import (
	"fmt"
	"os"

	"github.com/jeranaias/chat-ai-agent/internal/auth"
	"github.com/jeranaias/chat-ai-agent/internal/config"
	"github.com/jeranaias/chat-ai-agent/internal/security"
	"github.com/jeranaias/chat-ai-agent/internal/store"
)

// Version is the application version, set at build time.
var Version = "1.0.0"

// =============================================================================
// APP WIRING
// =============================================================================

// App bundles the configured subsystems a command needs.
type App struct {
	Config *config.Config
	Auth   *auth.Manager
	DB     *store.EncryptedDB
}

// newApp loads configuration and constructs the key store and managers.
// The database is opened separately because its path can be overridden
// per command.
func newApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	keyDir, err := cfg.KeystoreDir()
	if err != nil {
		return nil, err
	}
	enc := security.NewEncryptionManager(security.NewKeyStoreAt(keyDir))

	opts := []auth.Option{
		auth.WithIdleTimeout(cfg.IdleTimeout()),
	}
	if cfg.Security.LockoutEnabled {
		opts = append(opts, auth.WithLockout(cfg.Security.MaxLoginAttempts, cfg.LockoutDuration()))
	}

	return &App{
		Config: cfg,
		Auth:   auth.NewManager(enc, opts...),
	}, nil
}

// openDB opens the encrypted database at the configured (or overridden)
// path, keeping it on the App for later commands.
func (a *App) openDB(override string) error {
	path := override
	if path == "" {
		var err error
		path, err = a.Config.DatabasePath()
		if err != nil {
			return err
		}
	}

	db, err := store.Open(path, a.Auth)
	if err != nil {
		return err
	}
	a.DB = db
	return nil
}

// Close releases the database and clears session keys.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
	a.Auth.Logout()
}

// =============================================================================
// COMMAND DISPATCH
// =============================================================================

// Run executes the CLI with the given arguments (excluding the program
// name) and returns an exit code.
func Run(args []string) int {
	command := ""
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "version", "--version", "-v":
		fmt.Printf("chat-ai-agent %s\n", Version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	}

	app, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.Close()

	parser := NewArgParser(args)

	switch command {
	case "", "run", "login":
		// Login cannot outlive the process, so "login" opens the
		// interactive shell; "logout"/"lock" are commands inside it.
		err = app.runInteractive()
	case "setup":
		err = app.HandleSetup()
	case "status":
		err = app.HandleStatus(parser)
	case "reset-password":
		err = app.HandleResetPassword()
	case "sessions":
		err = app.HandleSessions(parser)
	case "migrate":
		err = app.HandleMigrate(parser)
	case "verify":
		err = app.HandleVerify(parser)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Print(`chat-ai-agent - encrypted chat history store

Usage:
  chat-ai-agent [command]

Commands:
  run                Start the interactive shell (default; "login" is an alias)
  setup              First-time encryption setup
  status             Show setup and database status
  reset-password     Destroy key material and start over (DESTRUCTIVE)
  sessions           Manage stored sessions (list|show|search|export|delete|stats)
  migrate            Migrate a plaintext database into the encrypted store
  verify             Check database encryption versions
  version            Show version
  help               Show this help

Session commands:
  sessions list [--limit N]
  sessions show <id> [--limit N] [--offset N]
  sessions search <query>
  sessions export <id> [--format markdown|json] [--out FILE]
  sessions delete <id> [--yes]
  sessions stats

Migration:
  migrate --old-db PATH [--new-db PATH] [--dry-run] [--force]
  verify [--db PATH] [--detailed]
`)
}
