// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import "sort"

// Match records one rule hit: which rule, which category, and where in
// the input the match sits. Spans index into the scanned text so the
// policy engine can redact them.
type Match struct {
	Rule     string
	Category Category
	Start    int
	End      int
	Score    float64
}

// Result is the outcome of scanning one text. It is a pure function of
// the input and the table: no state, no randomness, no clock.
type Result struct {
	// Score is the overall risk score in [0,1]: the maximum category
	// sub-score. Maximum, not average — a lone unambiguous override
	// phrase must clear the threshold on its own instead of being
	// diluted by five clean categories.
	Score float64

	// SubScores holds the per-category sub-score for every category,
	// zero where nothing matched.
	SubScores map[Category]float64

	// Matches lists every rule hit, ordered by position.
	Matches []Match
}

// Clean reports whether nothing matched.
func (r *Result) Clean() bool { return len(r.Matches) == 0 }

// MatchedCategories returns the categories with a non-zero sub-score,
// in reporting order.
func (r *Result) MatchedCategories() []Category {
	var matched []Category
	for _, category := range Categories {
		if r.SubScores[category] > 0 {
			matched = append(matched, category)
		}
	}
	return matched
}

// Scanner matches text against a compiled pattern table.
type Scanner struct {
	table *Table
}

// Input validation limits. These run before the rule table: a payload
// this malformed gets flagged no matter what the table says.
const (
	// maxScanBytes is the input size beyond which the scanner flags
	// context-stuffing. Legitimate tool output stays far below this.
	maxScanBytes = 64 << 10

	// controlRunLimit is the number of non-whitespace control bytes
	// (escape sequences, NULs, zero-width smuggling) tolerated before
	// the input is flagged.
	controlRunLimit = 8
)

// NewScanner creates a scanner over the given table. A nil table uses
// the built-in default.
func NewScanner(table *Table) *Scanner {
	if table == nil {
		table = DefaultTable()
	}
	return &Scanner{table: table}
}

// Table returns the scanner's compiled table.
func (s *Scanner) Table() *Table { return s.table }

// Scan evaluates every rule against text. Within a category the
// sub-score is the highest score among matching rules; the overall
// score is the highest sub-score across categories.
func (s *Scanner) Scan(text string) Result {
	result := Result{SubScores: make(map[Category]float64, len(Categories))}
	for _, category := range Categories {
		result.SubScores[category] = 0
	}

	for _, match := range validateInput(text) {
		result.Matches = append(result.Matches, match)
		if match.Score > result.SubScores[match.Category] {
			result.SubScores[match.Category] = match.Score
		}
		if match.Score > result.Score {
			result.Score = match.Score
		}
	}

	for _, rule := range s.table.rules {
		// Every occurrence gets a match: sanitization rewrites spans,
		// so a repeated attack phrase must yield a span per repeat.
		locations := rule.regex.FindAllStringIndex(text, -1)
		if len(locations) == 0 {
			continue
		}
		for _, location := range locations {
			result.Matches = append(result.Matches, Match{
				Rule:     rule.Name,
				Category: rule.Category,
				Start:    location[0],
				End:      location[1],
				Score:    rule.Score,
			})
		}
		if rule.Score > result.SubScores[rule.Category] {
			result.SubScores[rule.Category] = rule.Score
		}
		if rule.Score > result.Score {
			result.Score = rule.Score
		}
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		if result.Matches[i].Start != result.Matches[j].Start {
			return result.Matches[i].Start < result.Matches[j].Start
		}
		return result.Matches[i].Rule < result.Matches[j].Rule
	})
	return result
}

// validateInput runs the table-independent checks: oversized payloads
// and control-character smuggling. Tabs and line endings are ordinary.
func validateInput(text string) []Match {
	var matches []Match
	if len(text) > maxScanBytes {
		matches = append(matches, Match{
			Rule:     "oversized_input",
			Category: CategoryJailbreak,
			Start:    0,
			End:      len(text),
			Score:    0.6,
		})
	}

	controls := 0
	for i := 0; i < len(text); i++ {
		b := text[i]
		if b < 0x20 && b != '\n' && b != '\r' && b != '\t' {
			controls++
			if controls > controlRunLimit {
				matches = append(matches, Match{
					Rule:     "control_characters",
					Category: CategoryToolInjection,
					Start:    0,
					End:      len(text),
					Score:    0.7,
				})
				break
			}
		}
	}
	return matches
}
