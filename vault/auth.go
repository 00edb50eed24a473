// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/gatehouse-project/gatehouse/lib/secret"
)

// TOTP parameters. These are the RFC 6238 defaults every mainstream
// authenticator app implements; the one-step skew tolerates clock
// drift between the operator's phone and this host.
const (
	totpPeriod uint = 30
	totpSkew   uint = 1
)

// Session is a short-lived proof that the TOTP challenge was passed.
// with_auth credentials release against an unexpired session token.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// AuthConfig configures an Authenticator. Zero values take defaults.
type AuthConfig struct {
	// FailureLimit is the number of wrong codes inside FailureWindow
	// that triggers a lockout. Default 5.
	FailureLimit int

	// FailureWindow bounds how far back failures count. Default 5m.
	FailureWindow time.Duration

	// LockoutDuration is how long authentication stays refused after
	// the limit is hit. Correct codes are refused too. Default 15m.
	LockoutDuration time.Duration

	// SessionTTL is how long an issued session stays valid. Default 10m.
	SessionTTL time.Duration

	// Logger for lockout events. Codes and seeds are never logged.
	Logger *slog.Logger
}

// Authenticator verifies TOTP codes and issues sessions. Repeated
// failures lock it out: during a lockout even correct codes are
// rejected, which is what makes brute-forcing the 6-digit space
// impractical.
type Authenticator struct {
	seed            *secret.Buffer // base32 TOTP seed
	failureLimit    int
	failureWindow   time.Duration
	lockoutDuration time.Duration
	sessionTTL      time.Duration
	logger          *slog.Logger
	now             func() time.Time

	mu          sync.Mutex
	failures    []time.Time
	lockedUntil time.Time
	sessions    map[string]time.Time
}

// NewAuthenticator creates an authenticator over a base32 TOTP seed.
// The seed buffer is owned by the authenticator.
func NewAuthenticator(seed *secret.Buffer, config AuthConfig) *Authenticator {
	if config.FailureLimit <= 0 {
		config.FailureLimit = 5
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = 5 * time.Minute
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 10 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		seed:            seed,
		failureLimit:    config.FailureLimit,
		failureWindow:   config.FailureWindow,
		lockoutDuration: config.LockoutDuration,
		sessionTTL:      config.SessionTTL,
		logger:          logger.With("component", "vault-auth"),
		now:             time.Now,
		sessions:        make(map[string]time.Time),
	}
}

// GenerateSeed creates a fresh TOTP seed. Returns the seed in a
// protected buffer plus the otpauth:// provisioning URL for enrolling
// an authenticator app.
func GenerateSeed(issuer, account string) (*secret.Buffer, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: account})
	if err != nil {
		return nil, "", fmt.Errorf("generating TOTP seed: %w", err)
	}
	seed, err := secret.FromString(key.Secret())
	if err != nil {
		return nil, "", fmt.Errorf("protecting TOTP seed: %w", err)
	}
	return seed, key.URL(), nil
}

// Authenticate verifies a TOTP code. On success it issues a session;
// on failure it records the attempt and, once the failure limit is
// reached, locks authentication out entirely for the lockout duration.
func (a *Authenticator) Authenticate(code string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()

	// The lockout gate comes first: a correct code during a lockout is
	// still refused.
	if now.Before(a.lockedUntil) {
		return nil, &RateLimitedError{RetryAfter: a.lockedUntil.Sub(now)}
	}

	valid, err := totp.ValidateCustom(code, a.seed.String(), now, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("validating code: %w", err)
	}
	if !valid {
		a.recordFailureLocked(now)
		if !a.lockedUntil.IsZero() && now.Before(a.lockedUntil) {
			return nil, &RateLimitedError{RetryAfter: a.lockedUntil.Sub(now)}
		}
		return nil, ErrInvalidCode
	}

	a.failures = nil
	session := &Session{Token: uuid.NewString(), ExpiresAt: now.Add(a.sessionTTL)}
	a.sessions[session.Token] = session.ExpiresAt
	return session, nil
}

// recordFailureLocked appends a failure, prunes attempts that left the
// window, and arms the lockout when the limit is reached.
func (a *Authenticator) recordFailureLocked(now time.Time) {
	a.failures = append(a.failures, now)
	cutoff := now.Add(-a.failureWindow)
	recent := a.failures[:0]
	for _, at := range a.failures {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	a.failures = recent

	if len(a.failures) >= a.failureLimit {
		a.lockedUntil = now.Add(a.lockoutDuration)
		a.failures = nil
		a.logger.Warn("authentication locked out",
			"failures", a.failureLimit,
			"window", a.failureWindow,
			"until", a.lockedUntil,
		)
	}
}

// Verify checks a session token. Expired sessions are removed and
// reported as ErrExpired; unknown tokens as ErrAuthRequired.
func (a *Authenticator) Verify(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	expires, ok := a.sessions[token]
	if !ok {
		return ErrAuthRequired
	}
	if a.now().After(expires) {
		delete(a.sessions, token)
		return ErrExpired
	}
	return nil
}

// Revoke invalidates one session.
func (a *Authenticator) Revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, token)
}

// RevokeAll invalidates every session. Called when the vault relocks.
func (a *Authenticator) RevokeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = make(map[string]time.Time)
}

// Close zeros the TOTP seed.
func (a *Authenticator) Close() error {
	return a.seed.Close()
}
