// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

// Category identifies one injection-detection family. The set is
// closed: detection capability grows by adding rows to the table, not
// categories to the code.
type Category string

const (
	CategorySystemOverride   Category = "system_prompt_override"
	CategoryRoleConfusion    Category = "role_confusion"
	CategorySecretExtraction Category = "secret_extraction"
	CategoryJailbreak        Category = "jailbreak_attempt"
	CategoryToolInjection    Category = "tool_call_injection"
	CategoryCommandInjection Category = "command_injection"
)

// Categories lists every scanner category in reporting order.
var Categories = []Category{
	CategorySystemOverride,
	CategoryRoleConfusion,
	CategorySecretExtraction,
	CategoryJailbreak,
	CategoryToolInjection,
	CategoryCommandInjection,
}

// Rule is one row of the pattern table: a regular expression, the
// category it detects, and the sub-score a match contributes.
type Rule struct {
	// Name identifies the rule in audit records and rationales.
	Name string `json:"name"`

	// Category the rule detects.
	Category Category `json:"category"`

	// Pattern is a Go regular expression. Case-insensitivity must be
	// written into the pattern ((?i)...) — the loader compiles it
	// verbatim.
	Pattern string `json:"pattern"`

	// Score in [0,1] that a match contributes to the category
	// sub-score. When several rules of one category match, the
	// category takes the highest score.
	Score float64 `json:"score"`
}

// Table is a compiled, versioned pattern table.
type Table struct {
	rules    []compiledRule
	version  string
	revision int
}

type compiledRule struct {
	Rule
	regex *regexp.Regexp
}

// tableFile is the on-disk JSONC shape.
type tableFile struct {
	Revision int    `json:"revision"`
	Rules    []Rule `json:"rules"`
}

// CompileTable compiles a rule set into a Table. Rules with unknown
// categories, out-of-range scores, or invalid patterns are rejected.
func CompileTable(revision int, rules []Rule) (*Table, error) {
	known := make(map[Category]bool, len(Categories))
	for _, c := range Categories {
		known[c] = true
	}

	table := &Table{revision: revision}
	for _, rule := range rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("pattern table: rule with empty name")
		}
		if !known[rule.Category] {
			return nil, fmt.Errorf("pattern table: rule %q has unknown category %q", rule.Name, rule.Category)
		}
		if rule.Score < 0 || rule.Score > 1 {
			return nil, fmt.Errorf("pattern table: rule %q score %v outside [0,1]", rule.Name, rule.Score)
		}
		regex, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern table: rule %q: %w", rule.Name, err)
		}
		table.rules = append(table.rules, compiledRule{Rule: rule, regex: regex})
	}

	table.version = tableDigest(revision, rules)
	return table, nil
}

// tableDigest computes a stable blake3 hash over the table contents so
// two processes can cheaply agree they loaded the same rules.
func tableDigest(revision int, rules []Rule) string {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	hasher := blake3.New()
	fmt.Fprintf(hasher, "revision=%d\n", revision)
	for _, rule := range sorted {
		fmt.Fprintf(hasher, "%s\x00%s\x00%s\x00%v\n", rule.Name, rule.Category, rule.Pattern, rule.Score)
	}
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

// Version returns the content hash of the loaded table.
func (t *Table) Version() string { return t.version }

// Revision returns the operator-assigned revision number.
func (t *Table) Revision() int { return t.revision }

// Len returns the number of compiled rules.
func (t *Table) Len() int { return len(t.rules) }

// LoadTable reads a JSONC pattern-table file and compiles it. Comments
// and trailing commas are permitted so operators can annotate rows.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable compiles a pattern table from JSONC bytes.
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("parsing pattern table: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("pattern table has no rules")
	}
	return CompileTable(file.Revision, file.Rules)
}

// DefaultTable compiles the built-in rule set.
func DefaultTable() *Table {
	table, err := ParseTable([]byte(defaultTableJSONC))
	if err != nil {
		panic("scan: built-in pattern table is invalid: " + err.Error())
	}
	return table
}

// The built-in table. Sub-scores reflect how unambiguous a match is:
// an explicit "ignore previous instructions" is a stronger signal than
// a lone pipe character that shows up in ordinary shell discussion.
const defaultTableJSONC = `{
  "revision": 1,
  "rules": [
    // system prompt override
    {"name": "ignore_previous", "category": "system_prompt_override",
     "pattern": "(?i)ignore\\s+(all\\s+)?(previous|above|prior|all)\\s+(instructions?|prompts?|commands?)", "score": 1.0},
    {"name": "disregard_previous", "category": "system_prompt_override",
     "pattern": "(?i)disregard\\s+(previous|all|above|prior)", "score": 1.0},
    {"name": "forget_previous", "category": "system_prompt_override",
     "pattern": "(?i)forget\\s+(previous|all|everything|above)", "score": 1.0},
    {"name": "new_instructions", "category": "system_prompt_override",
     "pattern": "(?i)new\\s+(instructions?|rules?|system\\s+prompt)", "score": 0.9},
    {"name": "override_system", "category": "system_prompt_override",
     "pattern": "(?i)override\\s+(system|instructions?|rules?)", "score": 1.0},
    {"name": "reset_instructions", "category": "system_prompt_override",
     "pattern": "(?i)reset\\s+(instructions?|context|system)", "score": 0.9},

    // role confusion
    {"name": "you_are_now", "category": "role_confusion",
     "pattern": "(?i)(you\\s+are\\s+now|act\\s+as|pretend\\s+(you're|to\\s+be))\\s+(a|an|the)?", "score": 0.9},
    {"name": "new_role", "category": "role_confusion",
     "pattern": "(?i)(your\\s+new\\s+role|you\\s+have\\s+become|you\\s+must\\s+be)", "score": 0.9},
    {"name": "from_now_on", "category": "role_confusion",
     "pattern": "(?i)from\\s+now\\s+on\\s+(you\\s+are|act\\s+as|pretend)", "score": 0.9},
    {"name": "fake_speaker_tag", "category": "role_confusion",
     "pattern": "(?i)(assistant|AI|system|model):\\s*\\[?(system|override|new\\s+role)", "score": 0.9},

    // secret extraction
    {"name": "list_secrets", "category": "secret_extraction",
     "pattern": "(?i)(list|show|print|display|reveal|tell\\s+me)\\s+(all\\s+)?(secrets?|credentials?|passwords?|tokens?|keys?)", "score": 0.95},
    {"name": "reveal_prompt", "category": "secret_extraction",
     "pattern": "(?i)reveal\\s+(your|the)\\s+(system\\s+)?prompt", "score": 0.95},
    {"name": "whats_your_key", "category": "secret_extraction",
     "pattern": "(?i)(what|show)\\s+(are|is|me)\\s+(your|the)\\s+(api\\s+)?(keys?|secrets?|credentials?)", "score": 0.95},
    {"name": "vault_contents", "category": "secret_extraction",
     "pattern": "(?i)contents?\\s+of\\s+(vault|secrets?|credentials?)", "score": 0.95},
    {"name": "dump_vault", "category": "secret_extraction",
     "pattern": "(?i)(dump|export)\\s+(vault|secrets?|credentials?)", "score": 0.95},

    // jailbreak attempts
    {"name": "dan_mode", "category": "jailbreak_attempt",
     "pattern": "(?i)DAN\\s+mode", "score": 0.85},
    {"name": "privileged_mode", "category": "jailbreak_attempt",
     "pattern": "(?i)(developer|admin|root)\\s+mode", "score": 0.85},
    {"name": "bypass_restrictions", "category": "jailbreak_attempt",
     "pattern": "(?i)bypass\\s+(restrictions?|limitations?|rules?)", "score": 0.85},
    {"name": "unlock_capabilities", "category": "jailbreak_attempt",
     "pattern": "(?i)unlock\\s+(all|full)\\s+(capabilities|features)", "score": 0.85},
    {"name": "disable_safety", "category": "jailbreak_attempt",
     "pattern": "(?i)(disable|remove|turn\\s+off)\\s+(safety|guardrails|filters?)", "score": 0.85},

    // tool call injection
    {"name": "inline_tool_call", "category": "tool_call_injection",
     "pattern": "(tool_calls|function_call).{0,80}\\{\"(type|name)\":", "score": 0.8},
    {"name": "json_escape", "category": "tool_call_injection",
     "pattern": "\\}\"\\}\"|\\}'", "score": 0.7},

    // command injection (shell metacharacters)
    {"name": "command_substitution", "category": "command_injection",
     "pattern": "\\$\\(", "score": 0.7},
    {"name": "backtick_execution", "category": "command_injection",
     "pattern": "` + "`" + `", "score": 0.7},
    {"name": "command_chaining", "category": "command_injection",
     "pattern": "&&|\\|\\|", "score": 0.5},
    {"name": "pipe_operator", "category": "command_injection",
     "pattern": "\\|", "score": 0.3},
    {"name": "command_separator", "category": "command_injection",
     "pattern": ";", "score": 0.3},
    {"name": "dev_redirect", "category": "command_injection",
     "pattern": ">/dev/", "score": 0.5},
    {"name": "stderr_redirect", "category": "command_injection",
     "pattern": "2>&1", "score": 0.4}
  ]
}`
