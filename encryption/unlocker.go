/*
 * Copyright (c) 2020 Siemens AG
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of
 * this software and associated documentation files (the "Software"), to deal in
 * the Software without restriction, including without limitation the rights to
 * use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
 * the Software, and to permit persons to whom the Software is furnished to do so,
 * subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
 * FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
 * COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
 * IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
 * CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 *
 * Author(s): Demian Kellermann, Jonas Plum
 */

package encryption

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// ConsoleUnlocker uses the Keyring first and asks on the console when no
// supplied credential is left.
type ConsoleUnlocker struct {
	keyring    *Keyring
	in         *bufio.Reader
	out        io.Writer
	readSecret func() (string, error)
	logger     *zap.Logger
}

// ConsoleOption configures a ConsoleUnlocker.
type ConsoleOption func(*ConsoleUnlocker)

// WithConsole replaces stdin and stdout.
func WithConsole(in io.Reader, out io.Writer) ConsoleOption {
	return func(c *ConsoleUnlocker) {
		c.in = bufio.NewReader(in)
		c.out = out
		c.readSecret = c.readLine
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			c.readSecret = terminalSecret(f, out)
		}
	}
}

// WithConsoleLogger sets the logger.
func WithConsoleLogger(logger *zap.Logger) ConsoleOption {
	return func(c *ConsoleUnlocker) { c.logger = logger }
}

// NewConsoleUnlocker creates an interactive Unlocker on stdin and stdout.
func NewConsoleUnlocker(keyring *Keyring, opts ...ConsoleOption) *ConsoleUnlocker {
	c := &ConsoleUnlocker{keyring: keyring, logger: zap.NewNop()}
	WithConsole(os.Stdin, os.Stdout)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Unlock implements Unlocker.
func (c *ConsoleUnlocker) Unlock(volume string, kinds []string) (Credential, error) {
	if credential, ok := c.keyring.Next(volume, kinds); ok {
		c.logger.Debug("trying supplied credential", zap.String("volume", volume), zap.String("kind", credential.Kind))
		return credential, nil
	}

	session := NewSession(volume, kinds)
	fmt.Fprintln(c.out, "Encrypted volume:", volume)
	fmt.Fprintln(c.out, "Supported credentials:")
	fmt.Fprintln(c.out)
	for i, option := range session.Options() {
		fmt.Fprintf(c.out, "  %d. %s\n", i, option)
	}
	fmt.Fprintln(c.out)

	for {
		var line string
		var err error
		switch session.State() {
		case AwaitingSelection:
			fmt.Fprint(c.out, "Select a credential to unlock the volume: ")
			line, err = c.readLine()
		case AwaitingCredentialData:
			fmt.Fprint(c.out, "Enter credential data: ")
			line, err = c.readSecret()
		case Resolved:
			fmt.Fprintln(c.out)
			return session.Credential(), nil
		case Skipped:
			return Credential{}, ErrSkip
		}
		if err != nil {
			return Credential{}, errors.Wrapf(err, "could not read credential for %s", volume)
		}
		if err := session.Feed(line); err != nil {
			if !errors.Is(err, ErrInvalidInput) {
				return Credential{}, err
			}
			fmt.Fprintln(c.out, err)
		}
	}
}

func (c *ConsoleUnlocker) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	if err == io.EOF {
		return "", io.ErrUnexpectedEOF
	}
	return line, err
}

func terminalSecret(f *os.File, out io.Writer) func() (string, error) {
	return func() (string, error) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		return string(b), err
	}
}

// KeyringUnlocker never asks. Volumes are skipped once the Keyring has no
// more matching credentials.
type KeyringUnlocker struct {
	keyring *Keyring
	logger  *zap.Logger
}

// NewKeyringUnlocker creates a non-interactive Unlocker.
func NewKeyringUnlocker(keyring *Keyring, logger *zap.Logger) *KeyringUnlocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyringUnlocker{keyring: keyring, logger: logger}
}

// Unlock implements Unlocker.
func (k *KeyringUnlocker) Unlock(volume string, kinds []string) (Credential, error) {
	if credential, ok := k.keyring.Next(volume, kinds); ok {
		return credential, nil
	}
	k.logger.Warn("no credential left, skipping volume", zap.String("volume", volume), zap.Strings("kinds", kinds))
	return Credential{}, ErrSkip
}

// ReadKeyList reads ;-separated (kind;credential) rows. Rows with less than
// two fields are skipped.
func ReadKeyList(r io.Reader, logger *zap.Logger) ([]Credential, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var keys []Credential
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "could not read key list")
		}
		if len(row) > 1 {
			keys = append(keys, Credential{Kind: row[0], Data: []byte(row[1])})
		} else if len(row) == 1 && strings.TrimSpace(row[0]) != "" {
			logger.Warn("could not parse malformed password entry", zap.Strings("row", row))
		}
	}
	return keys, nil
}
