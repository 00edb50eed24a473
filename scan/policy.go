// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Mode is the configured enforcement mode.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeWarn     Mode = "warn"
	ModeBlock    Mode = "block"
	ModeSanitize Mode = "sanitize"
)

// ParseMode parses a mode string. Unknown values default to warn
// rather than off: a typo in configuration must not silently disable
// enforcement.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "ignore", "disabled":
		return ModeOff
	case "warn", "":
		return ModeWarn
	case "block":
		return ModeBlock
	case "sanitize":
		return ModeSanitize
	default:
		return ModeWarn
	}
}

// Action is the decision rendered for one candidate payload.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionWarn     Action = "warn"
	ActionBlock    Action = "block"
	ActionSanitize Action = "sanitize"
)

// Decision is the policy engine's verdict.
type Decision struct {
	Action    Action
	Rationale string

	// Score is the risk score that drove the decision.
	Score float64

	// Categories that matched with a non-zero sub-score.
	Categories []Category

	// Rewritten is the sanitized payload. Set only when Action is
	// ActionSanitize.
	Rewritten string
}

// Allowed reports whether the payload may proceed (possibly rewritten).
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow || d.Action == ActionWarn || d.Action == ActionSanitize
}

// Rewriter rewrites a payload to neutralize matches of one category.
// The engine calls it one non-overlapping span at a time, back to
// front, so the span offsets always index into the text argument.
type Rewriter func(text string, matches []Match) string

// DefaultRewriters returns the built-in rewrite rules. Categories
// absent from the map have no safe mechanical rewrite — sanitize
// decisions touching them degrade to block.
func DefaultRewriters() map[Category]Rewriter {
	return map[Category]Rewriter{
		CategoryCommandInjection: escapeShellMetacharacters,
		CategorySystemOverride:   redactSpans,
		CategorySecretExtraction: redactSpans,
	}
}

// escapeShellMetacharacters backslash-escapes the shell metacharacters
// inside each matched span, leaving the surrounding text readable.
func escapeShellMetacharacters(text string, matches []Match) string {
	replacer := strings.NewReplacer(
		"$(", `\$(`,
		"`", "\\`",
		"&&", `\&\&`,
		"||", `\|\|`,
		";", `\;`,
		"|", `\|`,
	)
	for i := len(matches) - 1; i >= 0; i-- {
		match := matches[i]
		if match.End > len(text) || match.Start > match.End {
			continue
		}
		text = text[:match.Start] + replacer.Replace(text[match.Start:match.End]) + text[match.End:]
	}
	return text
}

// redactSpans replaces each matched span with a [removed] marker,
// working back-to-front so earlier offsets stay valid.
func redactSpans(text string, matches []Match) string {
	for i := len(matches) - 1; i >= 0; i-- {
		match := matches[i]
		if match.End > len(text) || match.Start > match.End {
			continue
		}
		text = text[:match.Start] + "[removed]" + text[match.End:]
	}
	return text
}

// Engine combines scan results, the configured mode, and the
// sensitivity threshold into decisions.
type Engine struct {
	mode       Mode
	threshold  float64
	rewriters  map[Category]Rewriter
	classifier Classifier
	breaker    *Breaker
	logger     *slog.Logger
}

// EngineConfig configures a policy engine.
type EngineConfig struct {
	// Mode is the enforcement mode.
	Mode Mode

	// Threshold is the sensitivity τ in [0,1]; a score at or above it
	// triggers the mode's action.
	Threshold float64

	// Rewriters override the default rewrite rules. Nil uses
	// DefaultRewriters.
	Rewriters map[Category]Rewriter

	// Classifier is an optional second-pass scorer.
	Classifier Classifier

	// BreakerLimit and BreakerCooldown configure the classifier's
	// circuit breaker; zero values take the breaker defaults.
	BreakerLimit    int
	BreakerCooldown int // seconds

	// Logger for degradation events.
	Logger *slog.Logger
}

// NewEngine creates a policy engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [0,1]", config.Threshold)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rewriters := config.Rewriters
	if rewriters == nil {
		rewriters = DefaultRewriters()
	}
	engine := &Engine{
		mode:       config.Mode,
		threshold:  config.Threshold,
		rewriters:  rewriters,
		classifier: config.Classifier,
		logger:     logger,
	}
	if config.Classifier != nil {
		cooldown := config.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 60
		}
		engine.breaker = NewBreaker(config.BreakerLimit, time.Duration(cooldown)*time.Second, logger)
	}
	return engine, nil
}

// Mode returns the configured enforcement mode.
func (e *Engine) Mode() Mode { return e.mode }

// Threshold returns the configured sensitivity.
func (e *Engine) Threshold() float64 { return e.threshold }

// Decide renders a decision for the text that produced result. The
// classifier, when configured and its breaker closed, can only raise
// the score — a classifier failure leaves the pattern score standing.
func (e *Engine) Decide(ctx context.Context, text string, result Result) Decision {
	if e.mode == ModeOff {
		return Decision{Action: ActionAllow, Score: result.Score, Categories: result.MatchedCategories()}
	}

	score := result.Score
	if e.classifier != nil && e.breaker.Allow() {
		classifierScore, err := e.classifier.Classify(ctx, text)
		if err != nil {
			e.breaker.Failure(err)
		} else {
			e.breaker.Success()
			if classifierScore > score {
				score = classifierScore
			}
		}
	}

	categories := result.MatchedCategories()
	if score < e.threshold {
		return Decision{Action: ActionAllow, Score: score, Categories: categories}
	}

	rationale := describeMatches(score, result)
	switch e.mode {
	case ModeWarn:
		return Decision{Action: ActionWarn, Rationale: rationale, Score: score, Categories: categories}
	case ModeBlock:
		return Decision{Action: ActionBlock, Rationale: rationale, Score: score, Categories: categories}
	case ModeSanitize:
		return e.sanitize(text, score, categories, result, rationale)
	default:
		// Fail closed on an unknown mode.
		return Decision{Action: ActionBlock, Rationale: rationale, Score: score, Categories: categories}
	}
}

// sanitize applies the rewrite rule of every matched category. A
// matched category without a rule degrades the whole decision to
// block: a partially sanitized payload is not a safe payload.
//
// All matches are merged into non-overlapping spans and rewritten in
// one back-to-front pass over the original text, so every span's
// offsets stay valid no matter how earlier rewrites changed the
// length. Interleaving categories front to back would leave later
// categories holding stale offsets into a text that already shrank.
func (e *Engine) sanitize(text string, score float64, categories []Category, result Result, rationale string) Decision {
	for _, category := range categories {
		if _, ok := e.rewriters[category]; !ok {
			return Decision{
				Action:     ActionBlock,
				Rationale:  fmt.Sprintf("%s; no rewrite rule for %s, degraded to block", rationale, category),
				Score:      score,
				Categories: categories,
			}
		}
	}

	spans := mergeSpans(result.Matches)
	rewritten := text
	for i := len(spans) - 1; i >= 0; i-- {
		rewritten = e.rewriters[spans[i].Category](rewritten, spans[i:i+1])
	}
	return Decision{
		Action:     ActionSanitize,
		Rationale:  rationale,
		Score:      score,
		Categories: categories,
		Rewritten:  rewritten,
	}
}

// mergeSpans collapses overlapping matches into non-overlapping spans
// ordered by position. A merged span takes the category of its
// strongest match, so the strictest rewrite covers the whole region.
func mergeSpans(matches []Match) []Match {
	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	var spans []Match
	for _, match := range sorted {
		if len(spans) > 0 && match.Start < spans[len(spans)-1].End {
			last := &spans[len(spans)-1]
			if match.End > last.End {
				last.End = match.End
			}
			if match.Score > last.Score {
				last.Rule = match.Rule
				last.Category = match.Category
				last.Score = match.Score
			}
			continue
		}
		spans = append(spans, match)
	}
	return spans
}

func describeMatches(score float64, result Result) string {
	var names []string
	seen := make(map[string]bool)
	for _, match := range result.Matches {
		if !seen[match.Rule] {
			seen[match.Rule] = true
			names = append(names, match.Rule)
		}
	}
	return fmt.Sprintf("score %.2f, matched: %s", score, strings.Join(names, ", "))
}
