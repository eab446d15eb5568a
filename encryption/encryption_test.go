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
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyring_Next(t *testing.T) {
	keyring := NewKeyring([]Credential{
		{Kind: "password", Data: []byte("first")},
		{Kind: "key", Data: []byte{0xca, 0xfe}},
		{Kind: "password", Data: []byte("second")},
	})

	var got []string
	for {
		credential, ok := keyring.Next("vol1", []string{"password"})
		if !ok {
			break
		}
		got = append(got, string(credential.Data))
	}
	assert.Equal(t, []string{"second", "first"}, got)

	// other volumes get their own list
	credential, ok := keyring.Next("vol2", []string{"password", "key"})
	require.True(t, ok)
	assert.Equal(t, "second", string(credential.Data))

	// kinds of later calls do not change the list of a known volume
	_, ok = keyring.Next("vol1", []string{"key"})
	assert.False(t, ok)
}

func TestSession_Feed(t *testing.T) {
	tests := []struct {
		name      string
		kinds     []string
		lines     []string
		wantState State
		wantCred  Credential
		wantFeed  []string
	}{
		{"skip by index", []string{"password"}, []string{"1"}, Skipped, Credential{}, []string{""}},
		{"skip by name", []string{"password"}, []string{"skip"}, Skipped, Credential{}, []string{""}},
		{"password by name", []string{"password"}, []string{"password", "secret\n"}, Resolved,
			Credential{Kind: "password", Data: []byte("secret")}, []string{"", ""}},
		{"unknown name", []string{"password"}, []string{"recovery_password"}, AwaitingSelection, Credential{},
			[]string{"Unsupported credential: recovery_password"}},
		{"index out of range", []string{"password"}, []string{"2", "-1"}, AwaitingSelection, Credential{},
			[]string{"Unsupported credential: 2", "Unsupported credential: -1"}},
		{"hex key", []string{"password", "key"}, []string{"1", "cafe"}, Resolved,
			Credential{Kind: "key", Data: []byte{0xca, 0xfe}}, []string{"", ""}},
		{"bad hex", []string{"key"}, []string{"0", "xyz"}, AwaitingSelection, Credential{},
			[]string{"", "Unsupported credential data."}},
		{"retry after bad hex", []string{"key"}, []string{"key", "x", "key", "00ff"}, Resolved,
			Credential{Kind: "key", Data: []byte{0x00, 0xff}}, []string{"", "Unsupported credential data.", "", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewSession("vol", tt.kinds)
			var feedback []string
			for _, line := range tt.lines {
				err := session.Feed(line)
				if err != nil {
					assert.ErrorIs(t, err, ErrInvalidInput)
					feedback = append(feedback, err.Error())
				} else {
					feedback = append(feedback, "")
				}
			}
			assert.Equal(t, tt.wantFeed, feedback)
			assert.Equal(t, tt.wantState, session.State())
			if diff := cmp.Diff(tt.wantCred, session.Credential()); diff != "" {
				t.Errorf("Credential() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSession_FeedFinished(t *testing.T) {
	session := NewSession("vol", nil)
	require.NoError(t, session.Feed("0"))
	require.Equal(t, Skipped, session.State())

	err := session.Feed("0")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestConsoleUnlocker_Exhaustion(t *testing.T) {
	keyring := NewKeyring([]Credential{
		{Kind: "password", Data: []byte("a")},
		{Kind: "password", Data: []byte("b")},
	})
	out := &bytes.Buffer{}
	unlocker := NewConsoleUnlocker(keyring, WithConsole(strings.NewReader("password\nc\n"), out))

	for _, want := range []string{"b", "a"} {
		credential, err := unlocker.Unlock("vol", []string{"password"})
		require.NoError(t, err)
		assert.Equal(t, want, string(credential.Data))
	}
	assert.Empty(t, out.String())

	credential, err := unlocker.Unlock("vol", []string{"password"})
	require.NoError(t, err)
	assert.Equal(t, Credential{Kind: "password", Data: []byte("c")}, credential)
	assert.Contains(t, out.String(), "Encrypted volume: vol")
	assert.Contains(t, out.String(), "  0. password\n  1. skip\n")
}

func TestConsoleUnlocker_Skip(t *testing.T) {
	out := &bytes.Buffer{}
	unlocker := NewConsoleUnlocker(NewKeyring(nil), WithConsole(strings.NewReader("7\nfoo\n1\n"), out))

	_, err := unlocker.Unlock("vol", []string{"password"})
	assert.ErrorIs(t, err, ErrSkip)
	assert.Contains(t, out.String(), "Unsupported credential: 7")
	assert.Contains(t, out.String(), "Unsupported credential: foo")
}

func TestConsoleUnlocker_EOF(t *testing.T) {
	unlocker := NewConsoleUnlocker(NewKeyring(nil), WithConsole(strings.NewReader(""), &bytes.Buffer{}))

	_, err := unlocker.Unlock("vol", []string{"password"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSkip)
}

func TestKeyringUnlocker(t *testing.T) {
	unlocker := NewKeyringUnlocker(NewKeyring([]Credential{{Kind: "identity", Data: []byte("x")}}), nil)

	credential, err := unlocker.Unlock("vol", []string{"password", "identity"})
	require.NoError(t, err)
	assert.Equal(t, "identity", credential.Kind)

	_, err = unlocker.Unlock("vol", []string{"password", "identity"})
	assert.ErrorIs(t, err, ErrSkip)
}

func TestReadKeyList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Credential
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"rows", "password;secret\nkey;cafe\n", []Credential{
			{Kind: "password", Data: []byte("secret")},
			{Kind: "key", Data: []byte("cafe")},
		}, false},
		{"quoted", `"password";"with;semicolon"` + "\n", []Credential{
			{Kind: "password", Data: []byte("with;semicolon")},
		}, false},
		{"malformed rows skipped", "lonely\npassword;x;extra\n\n", []Credential{
			{Kind: "password", Data: []byte("x")},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadKeyList(strings.NewReader(tt.input), nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
