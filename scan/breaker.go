// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Classifier is an optional second-pass scorer (typically an external
// LLM-based classifier). It returns a risk score in [0,1]. The policy
// engine treats it as advisory: the pattern table is the floor, and a
// failing classifier never blocks a decision from being made.
type Classifier interface {
	Classify(ctx context.Context, text string) (float64, error)
}

// Breaker disables a failing classifier. After Limit consecutive
// failures the breaker opens for Cooldown; while open, every
// Allow call reports false and decisions are pattern-only. A single
// success closes the breaker.
type Breaker struct {
	limit    int
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
}

// NewBreaker creates a breaker that opens after limit consecutive
// failures and stays open for cooldown.
func NewBreaker(limit int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 3
	}
	return &Breaker{limit: limit, cooldown: cooldown, logger: logger, now: time.Now}
}

// Allow reports whether the classifier may be consulted. An open
// breaker whose cooldown has elapsed transitions to half-open: the
// next call is allowed, and its outcome decides whether the breaker
// closes or re-opens.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		b.logger.Info("classifier breaker half-open, probing")
		return true
	}
	return false
}

// Failure records a classifier failure or timeout.
func (b *Breaker) Failure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.limit && !b.open {
		b.open = true
		b.openedAt = b.now()
		b.logger.Warn("classifier breaker opened, falling back to pattern-only decisions",
			"consecutive_failures", b.failures,
			"cooldown", b.cooldown,
			"error", err,
		)
		return
	}
	if b.open {
		// Half-open probe failed; restart the cooldown.
		b.openedAt = b.now()
	}
}

// Success records a successful classification and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		b.logger.Info("classifier breaker closed")
	}
	b.failures = 0
	b.open = false
}
