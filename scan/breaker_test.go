// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	breaker := NewBreaker(3, time.Minute, nil)
	failure := errors.New("classifier timeout")

	for i := 0; i < 2; i++ {
		breaker.Failure(failure)
		if !breaker.Allow() {
			t.Fatalf("breaker opened after %d failures, limit is 3", i+1)
		}
	}
	breaker.Failure(failure)
	if breaker.Allow() {
		t.Fatal("breaker still closed after reaching the failure limit")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	breaker := NewBreaker(3, time.Minute, nil)
	failure := errors.New("boom")

	breaker.Failure(failure)
	breaker.Failure(failure)
	breaker.Success()
	breaker.Failure(failure)
	breaker.Failure(failure)
	if !breaker.Allow() {
		t.Fatal("breaker opened although successes interleaved the failures")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	breaker := NewBreaker(1, time.Minute, nil)
	clock := time.Unix(1000, 0)
	breaker.now = func() time.Time { return clock }

	breaker.Failure(errors.New("boom"))
	if breaker.Allow() {
		t.Fatal("breaker closed immediately after opening")
	}

	// Cooldown elapses: one probe is allowed.
	clock = clock.Add(2 * time.Minute)
	if !breaker.Allow() {
		t.Fatal("breaker did not half-open after the cooldown")
	}

	// The probe fails: cooldown re-arms from now.
	breaker.Failure(errors.New("still down"))
	clock = clock.Add(30 * time.Second)
	if breaker.Allow() {
		t.Fatal("breaker allowed before the re-armed cooldown elapsed")
	}

	// Another cooldown, and this time the probe succeeds.
	clock = clock.Add(time.Minute)
	if !breaker.Allow() {
		t.Fatal("breaker did not half-open a second time")
	}
	breaker.Success()
	if !breaker.Allow() {
		t.Fatal("breaker did not close after a successful probe")
	}
}
