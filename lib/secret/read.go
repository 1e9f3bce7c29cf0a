// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrEmpty is returned when a secret source holds only whitespace.
var ErrEmpty = errors.New("secret is empty")

// ReadFromPath reads a secret from a file, or the first line of stdin
// when path is "-". Surrounding whitespace is trimmed.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return readFirstLine(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer Zero(data)
	return fromTrimmed(data)
}

// FromEnvironment reads the secret in the named environment variable
// and clears the variable so child processes do not inherit it. It
// returns nil, nil when the variable is unset.
func FromEnvironment(name string) (*Buffer, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, nil
	}
	os.Unsetenv(name)
	data := []byte(value)
	defer Zero(data)
	buffer, err := fromTrimmed(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return buffer, nil
}

// Prompt writes prompt to output and reads a line from the terminal
// behind input with echo disabled.
func Prompt(input *os.File, output io.Writer, prompt string) (*Buffer, error) {
	descriptor := int(input.Fd())
	if !term.IsTerminal(descriptor) {
		return nil, errors.New("cannot prompt for a passphrase: stdin is not a terminal")
	}
	fmt.Fprint(output, prompt)
	data, err := term.ReadPassword(descriptor)
	fmt.Fprintln(output)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer Zero(data)
	return fromTrimmed(data)
}

func readFirstLine(reader io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, ErrEmpty
	}
	line := scanner.Bytes()
	defer Zero(line)
	return fromTrimmed(line)
}

func fromTrimmed(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmpty
	}
	return NewFromBytes(trimmed)
}
