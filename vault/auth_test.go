// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func newTestAuthenticator(t *testing.T, config AuthConfig) (*Authenticator, string, *time.Time) {
	t.Helper()
	seed, _, err := GenerateSeed("gatehouse-test", "operator")
	if err != nil {
		t.Fatalf("GenerateSeed failed: %v", err)
	}
	seedValue := seed.String()

	auth := NewAuthenticator(seed, config)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return clock }
	return auth, seedValue, &clock
}

func codeAt(t *testing.T, seed string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(seed, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generating test code: %v", err)
	}
	return code
}

// wrongCodeAt returns a six-digit code guaranteed not to validate at
// the given time: the correct code with its first digit changed.
func wrongCodeAt(t *testing.T, seed string, at time.Time) string {
	t.Helper()
	code := []byte(codeAt(t, seed, at))
	code[0] = '0' + (code[0]-'0'+1)%10
	// The altered code could coincide with the adjacent time step's
	// code inside the skew window; shift a second digit if so.
	for _, neighbor := range []time.Time{at.Add(-30 * time.Second), at.Add(30 * time.Second)} {
		if string(code) == codeAt(t, seed, neighbor) {
			code[1] = '0' + (code[1]-'0'+1)%10
		}
	}
	return string(code)
}

func TestAuthenticateIssuesSession(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{})

	session, err := auth.Authenticate(codeAt(t, seed, *clock))
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if session.Token == "" {
		t.Fatal("session has no token")
	}
	if err := auth.Verify(session.Token); err != nil {
		t.Errorf("Verify = %v, want nil", err)
	}
}

func TestAuthenticateRejectsWrongCode(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{})
	if _, err := auth.Authenticate(wrongCodeAt(t, seed, *clock)); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("wrong code = %v, want ErrInvalidCode", err)
	}
}

func TestSkewAcceptsAdjacentStep(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{})
	// A code from the previous 30-second step is within the one-step
	// skew.
	if _, err := auth.Authenticate(codeAt(t, seed, clock.Add(-30*time.Second))); err != nil {
		t.Errorf("previous-step code rejected: %v", err)
	}
}

func TestLockoutRejectsCorrectCode(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{
		FailureLimit:    3,
		LockoutDuration: 10 * time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := auth.Authenticate(wrongCodeAt(t, seed, *clock)); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("failure %d = %v, want ErrInvalidCode", i+1, err)
		}
	}

	// The third failure trips the lockout.
	var limited *RateLimitedError
	if _, err := auth.Authenticate(wrongCodeAt(t, seed, *clock)); !errors.As(err, &limited) {
		t.Fatalf("limit-hitting failure = %v, want RateLimitedError", err)
	}
	if limited.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", limited.RetryAfter)
	}

	// A correct code during the lockout is still refused.
	if _, err := auth.Authenticate(codeAt(t, seed, *clock)); !errors.As(err, &limited) {
		t.Fatalf("correct code during lockout = %v, want RateLimitedError", err)
	}

	// After the lockout elapses the correct code works again.
	*clock = clock.Add(11 * time.Minute)
	if _, err := auth.Authenticate(codeAt(t, seed, *clock)); err != nil {
		t.Errorf("correct code after lockout = %v, want success", err)
	}
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{
		FailureLimit:  3,
		FailureWindow: time.Minute,
	})

	for i := 0; i < 5; i++ {
		if _, err := auth.Authenticate(wrongCodeAt(t, seed, *clock)); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("spaced failure %d = %v, want ErrInvalidCode (no lockout)", i+1, err)
		}
		*clock = clock.Add(2 * time.Minute)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{FailureLimit: 3})

	auth.Authenticate(wrongCodeAt(t, seed, *clock))
	auth.Authenticate(wrongCodeAt(t, seed, *clock))
	if _, err := auth.Authenticate(codeAt(t, seed, *clock)); err != nil {
		t.Fatalf("correct code failed: %v", err)
	}

	// Two more failures stay under the limit after the reset.
	auth.Authenticate(wrongCodeAt(t, seed, *clock))
	if _, err := auth.Authenticate(wrongCodeAt(t, seed, *clock)); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("post-reset failure = %v, want ErrInvalidCode", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{SessionTTL: time.Minute})

	session, err := auth.Authenticate(codeAt(t, seed, *clock))
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	*clock = clock.Add(2 * time.Minute)
	if err := auth.Verify(session.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired session = %v, want ErrExpired", err)
	}
	// The expired session was removed; a retry is indistinguishable
	// from an unknown token.
	if err := auth.Verify(session.Token); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("second Verify = %v, want ErrAuthRequired", err)
	}
}

func TestRevoke(t *testing.T) {
	auth, seed, clock := newTestAuthenticator(t, AuthConfig{})

	session, err := auth.Authenticate(codeAt(t, seed, *clock))
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	auth.Revoke(session.Token)
	if err := auth.Verify(session.Token); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("revoked session = %v, want ErrAuthRequired", err)
	}
}

func TestGenerateSeedProvisioningURL(t *testing.T) {
	seed, url, err := GenerateSeed("gatehouse", "operator@example.com")
	if err != nil {
		t.Fatalf("GenerateSeed failed: %v", err)
	}
	defer seed.Close()
	if seed.Len() == 0 {
		t.Error("seed is empty")
	}
	if url == "" || url[:10] != "otpauth://" {
		t.Errorf("provisioning URL = %q, want otpauth:// form", url)
	}
}
