// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth layers session-lifecycle policy on top of the
// encryption core. It is the only surface the rest of the application
// talks to for authentication and encrypt/decrypt access.
//
// Expiry is lazy: an idle session is detected and terminated on the
// next status query or encrypt/decrypt call, not by a background
// timer. Nothing interrupts an in-flight operation.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/chat-ai-agent/internal/security"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultIdleTimeout is the default auto-logout threshold.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultMaxLoginAttempts is the number of consecutive failed
	// logins before lockout.
	DefaultMaxLoginAttempts = 3

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute
)

var (
	// ErrNotAuthenticated indicates an encrypt/decrypt call without an
	// active login session.
	ErrNotAuthenticated = errors.New("not authenticated: login required")

	// ErrLockedOut indicates too many consecutive failed logins.
	ErrLockedOut = errors.New("account locked due to failed login attempts")
)

// =============================================================================
// AUTH MANAGER
// =============================================================================

// Manager tracks login state and last-activity time, enforces the
// idle auto-logout policy, and gates encrypt/decrypt on login state.
type Manager struct {
	mu  sync.Mutex
	enc *security.EncryptionManager

	idleTimeout time.Duration

	// lastActivity is meaningful only while logged in.
	lastActivity time.Time

	// onLogout fires when lazy expiry forces a logout, so the caller
	// can prompt for re-authentication. Never fired for explicit Logout.
	onLogout func()

	// now is injectable for idle-expiry tests.
	now func() time.Time

	// limiter throttles password attempts regardless of outcome.
	limiter *rate.Limiter

	// Lockout state for consecutive failed logins.
	maxAttempts     int
	lockoutDuration time.Duration
	failedAttempts  int
	lockedUntil     time.Time
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithIdleTimeout sets the auto-logout threshold. Zero or negative
// means the session expires on the next status check.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.idleTimeout = d
	}
}

// WithLogoutCallback registers a callback invoked when idle expiry
// forces a logout.
func WithLogoutCallback(fn func()) Option {
	return func(m *Manager) {
		m.onLogout = fn
	}
}

// WithClock replaces the time source. Tests use this to advance past
// the idle threshold without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLockout configures the failed-login lockout policy.
// maxAttempts <= 0 disables lockout.
func WithLockout(maxAttempts int, duration time.Duration) Option {
	return func(m *Manager) {
		m.maxAttempts = maxAttempts
		m.lockoutDuration = duration
	}
}

// NewManager creates a Manager wrapping the given encryption manager.
func NewManager(enc *security.EncryptionManager, opts ...Option) *Manager {
	m := &Manager{
		enc:             enc,
		idleTimeout:     DefaultIdleTimeout,
		now:             time.Now,
		maxAttempts:     DefaultMaxLoginAttempts,
		lockoutDuration: DefaultLockoutDuration,
		// One password attempt per second sustained, small burst.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// IsSetupRequired reports whether first-time setup is needed.
func (m *Manager) IsSetupRequired() bool {
	return m.enc.IsSetupRequired()
}

// SetupFirstTime performs first-time setup and starts a session.
func (m *Manager) SetupFirstTime(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enc.SetupFirstTime(password); err != nil {
		return err
	}

	m.lastActivity = m.now()
	m.resetLockoutLocked()
	return nil
}

// Login authenticates with the given password and resets the activity
// timer. Returns security.ErrInvalidCredentials on a wrong password
// and ErrLockedOut while the lockout window is active. Callers must
// surface only a generic failure message to the user.
func (m *Manager) Login(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLockoutLocked(); err != nil {
		return err
	}

	// Throttle brute-force attempts even below the lockout threshold.
	if !m.limiter.AllowN(m.now(), 1) {
		security.AuditLogEvent("LOGIN_THROTTLED", nil)
		return fmt.Errorf("%w: too many attempts, slow down", ErrLockedOut)
	}

	if err := m.enc.Login(password); err != nil {
		if errors.Is(err, security.ErrInvalidCredentials) {
			m.recordFailureLocked()
		}
		return err
	}

	m.lastActivity = m.now()
	m.resetLockoutLocked()
	return nil
}

// IsLoggedIn reports whether a session is active. If the idle timeout
// has been exceeded it forces a logout first (lazy expiry) and invokes
// the registered logout callback.
func (m *Manager) IsLoggedIn() bool {
	m.mu.Lock()
	expired := m.expireIfIdleLocked()
	loggedIn := !expired && m.enc.IsLoggedIn()
	callback := m.onLogout
	m.mu.Unlock()

	if expired && callback != nil {
		callback()
	}
	return loggedIn
}

// SetIdleTimeout replaces the auto-logout threshold at runtime. The
// new value applies to the current session from its last activity, so
// shortening the timeout can expire the session on the next check.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleTimeout = d
}

// UpdateActivity resets the idle timer. Called implicitly by
// Encrypt/Decrypt.
func (m *Manager) UpdateActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enc.IsLoggedIn() {
		m.lastActivity = m.now()
	}
}

// SessionRemaining returns the time until idle expiry, clamped to >= 0.
func (m *Manager) SessionRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enc.IsLoggedIn() {
		return 0
	}
	remaining := m.idleTimeout - m.now().Sub(m.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SessionRemainingMinutes returns whole minutes until idle expiry,
// clamped to >= 0.
func (m *Manager) SessionRemainingMinutes() int {
	return int(m.SessionRemaining() / time.Minute)
}

// Logout explicitly terminates the session. The logout callback is
// not invoked; it signals forced expiry only.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enc.Logout()
	m.lastActivity = time.Time{}
}

// ResetPassword deletes all key material and re-runs setup with the
// new password. All previously encrypted data becomes permanently
// unrecoverable; the CLI requires explicit confirmation before calling
// this.
func (m *Manager) ResetPassword(newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enc.ResetPassword(newPassword); err != nil {
		return err
	}
	m.lastActivity = m.now()
	m.resetLockoutLocked()
	return nil
}

// =============================================================================
// GATED ENCRYPT / DECRYPT
// =============================================================================

// Encrypt encrypts plaintext if a session is active, refreshing the
// activity timer. Returns the ciphertext blob and its scheme version.
func (m *Manager) Encrypt(plaintext string) ([]byte, int, error) {
	if err := m.requireSession(); err != nil {
		return nil, 0, err
	}
	return m.enc.Encrypt(plaintext)
}

// Decrypt decrypts a blob of the given scheme version if a session is
// active, refreshing the activity timer.
func (m *Manager) Decrypt(blob []byte, version int) (string, error) {
	if err := m.requireSession(); err != nil {
		return "", err
	}
	return m.enc.Decrypt(blob, version)
}

// requireSession applies lazy expiry, then refreshes activity.
func (m *Manager) requireSession() error {
	if !m.IsLoggedIn() {
		return ErrNotAuthenticated
	}
	m.UpdateActivity()
	return nil
}

// =============================================================================
// INTERNAL: EXPIRY AND LOCKOUT
// =============================================================================

// expireIfIdleLocked forces a logout if the idle timeout is exceeded.
// Returns true when an expiry happened.
func (m *Manager) expireIfIdleLocked() bool {
	if !m.enc.IsLoggedIn() {
		return false
	}
	if m.now().Sub(m.lastActivity) <= m.idleTimeout {
		return false
	}

	m.enc.Logout()
	m.lastActivity = time.Time{}
	security.AuditLogEvent("SESSION_EXPIRED", map[string]string{
		"idle_timeout": m.idleTimeout.String(),
	})
	return true
}

func (m *Manager) checkLockoutLocked() error {
	if m.maxAttempts <= 0 {
		return nil
	}
	if m.lockedUntil.IsZero() || m.now().After(m.lockedUntil) {
		return nil
	}
	remaining := m.lockedUntil.Sub(m.now()).Round(time.Second)
	return fmt.Errorf("%w: try again in %s", ErrLockedOut, remaining)
}

func (m *Manager) recordFailureLocked() {
	if m.maxAttempts <= 0 {
		return
	}
	m.failedAttempts++
	if m.failedAttempts >= m.maxAttempts {
		m.lockedUntil = m.now().Add(m.lockoutDuration)
		m.failedAttempts = 0
		security.AuditLogEvent("LOGIN_LOCKOUT", map[string]string{
			"duration": m.lockoutDuration.String(),
		})
	}
}

func (m *Manager) resetLockoutLocked() {
	m.failedAttempts = 0
	m.lockedUntil = time.Time{}
}
