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
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidInput marks input a Session rejected. The Session stays usable.
var ErrInvalidInput = errors.New("invalid input")

const skip = "skip"

// KindKey is the credential kind for raw keys, which are entered as hex.
const KindKey = "key"

// State of a Session.
type State int

// Session states.
const (
	AwaitingSelection State = iota
	AwaitingCredentialData
	Resolved
	Skipped
)

func (s State) String() string {
	switch s {
	case AwaitingSelection:
		return "awaiting selection"
	case AwaitingCredentialData:
		return "awaiting credential data"
	case Resolved:
		return "resolved"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// InputError is the feedback for rejected input.
type InputError struct {
	message string
}

func (e *InputError) Error() string { return e.message }

// Is reports ErrInvalidInput.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// Session is the credential dialog for one volume. The user first selects
// one of the supported kinds (or skip) by name or index, then enters the
// credential data. Rejected input never ends a Session.
type Session struct {
	volume     string
	options    []string
	state      State
	kind       string
	credential Credential
}

// NewSession starts a dialog for volume.
func NewSession(volume string, kinds []string) *Session {
	options := make([]string, 0, len(kinds)+1)
	options = append(options, kinds...)
	options = append(options, skip)
	return &Session{volume: volume, options: options}
}

// Volume returns the volume the Session asks for.
func (s *Session) Volume() string { return s.volume }

// Options returns the selectable kinds, the last one is always skip.
func (s *Session) Options() []string { return s.options }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Credential returns the entered credential once the Session is Resolved.
func (s *Session) Credential() Credential { return s.credential }

// Feed advances the Session by one line of input.
func (s *Session) Feed(line string) error {
	switch s.state {
	case AwaitingSelection:
		return s.selectKind(strings.TrimSpace(line))
	case AwaitingCredentialData:
		return s.enterData(strings.TrimRight(line, "\r\n"))
	default:
		return errors.Errorf("session for %s is %s", s.volume, s.state)
	}
}

func (s *Session) selectKind(input string) error {
	kind := ""
	for _, option := range s.options {
		if option == input {
			kind = option
			break
		}
	}
	if kind == "" {
		i, err := strconv.Atoi(input)
		if err != nil || i < 0 || i >= len(s.options) {
			return &InputError{fmt.Sprintf("Unsupported credential: %s", input)}
		}
		kind = s.options[i]
	}

	if kind == skip {
		s.state = Skipped
		return nil
	}
	s.kind = kind
	s.state = AwaitingCredentialData
	return nil
}

func (s *Session) enterData(input string) error {
	data := []byte(input)
	if s.kind == KindKey {
		var err error
		data, err = hex.DecodeString(input)
		if err != nil {
			s.kind = ""
			s.state = AwaitingSelection
			return &InputError{"Unsupported credential data."}
		}
	}
	s.credential = Credential{Kind: s.kind, Data: data}
	s.state = Resolved
	return nil
}
