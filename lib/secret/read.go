// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"golang.org/x/term"
)

// ReadFromPath reads a secret from a file, or from stdin when path is
// "-". Leading and trailing whitespace is trimmed. The intermediate
// copies are zeroed; the returned buffer must be closed by the caller.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	buffer, err := FromBytes(trimmed)
	// trimmed is zeroed by FromBytes; scrub any whitespace remainder.
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// Prompt reads a secret interactively without echoing it to the
// terminal. fd is the terminal file descriptor (usually stdin's).
func Prompt(fd int, label string) (*Buffer, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(bytes.TrimSpace(line)) == 0 {
		Zero(line)
		return nil, fmt.Errorf("passphrase is empty")
	}
	return FromBytes(line)
}
