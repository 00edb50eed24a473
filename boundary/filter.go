// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"fmt"
	"strings"
)

// CommandFilter validates a command line against glob patterns before
// the sandbox runs anything. Blocked patterns win over allowed ones;
// an empty Allowed list admits everything not blocked.
type CommandFilter struct {
	Allowed []string `yaml:"allowed"`
	Blocked []string `yaml:"blocked"`
}

// Check validates the joined command line.
func (f *CommandFilter) Check(command []string) error {
	line := strings.Join(command, " ")

	for _, pattern := range f.Blocked {
		if matchGlob(pattern, line) {
			return fmt.Errorf("command matches blocked pattern %q", pattern)
		}
	}
	if len(f.Allowed) == 0 {
		return nil
	}
	for _, pattern := range f.Allowed {
		if matchGlob(pattern, line) {
			return nil
		}
	}
	return fmt.Errorf("command matches no allowed pattern")
}

// matchGlob matches with * as the only wildcard. Good enough for
// command-line prefixes like "git *" without pulling in a regexp per
// check.
func matchGlob(pattern, str string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == str
	}
	if !strings.HasPrefix(str, parts[0]) {
		return false
	}
	str = str[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(str, parts[i])
		if idx == -1 {
			return false
		}
		str = str[idx+len(parts[i]):]
	}
	return strings.HasSuffix(str, parts[len(parts)-1])
}
