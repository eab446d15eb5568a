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

// Package registry provides access to the registry of a Windows partition.
// Hives are opened on demand through a FileOpener, keys are addressed with
// their usual paths like HKLM\SOFTWARE\Microsoft.
package registry

import (
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrHiveNotFound is returned if the hive file of a key does not exist.
	ErrHiveNotFound = errors.New("hive not found")
	// ErrHiveOpenFailed is returned if a hive file exists but cannot be read.
	ErrHiveOpenFailed = errors.New("hive could not be opened")
	// ErrKeyNotFound is returned for missing keys and values.
	ErrKeyNotFound = errors.New("key not found")
)

// Root key names.
const (
	HKLM = "HKEY_LOCAL_MACHINE"
	HKU  = "HKEY_USERS"
	HKCU = "HKEY_CURRENT_USER"
)

// Value is a registry value.
type Value interface {
	Name() string
	Type() string
	Data() []byte
	// String returns text values as is, numbers in decimal and anything
	// else in hex.
	String() string
}

// Key is a registry key.
type Key interface {
	Name() string
	LastWritten() time.Time
	Subkeys() []Key
	Values() []Value
}

// Hive is a parsed hive file.
type Hive interface {
	// Key returns the key at the hive relative, backslash separated path.
	// The empty path is the root key.
	Key(path string) (Key, error)
}

// Parser parses a hive file. Codepage is used for names that are not stored
// as UTF-16.
type Parser func(r io.ReaderAt, codepage string) (Hive, error)

// FileOpener opens hive files by their path on the partition. Paths may
// contain variables like %SystemRoot%.
type FileOpener interface {
	Open(path string) (Hive, error)
}

// ProfileLookup returns the profile directory of a user SID.
type ProfileLookup func(sid string) (string, bool)

var machineHives = map[string]string{
	"SOFTWARE": `%SystemRoot%\System32\config\SOFTWARE`,
	"SYSTEM":   `%SystemRoot%\System32\config\SYSTEM`,
	"SAM":      `%SystemRoot%\System32\config\SAM`,
	"SECURITY": `%SystemRoot%\System32\config\SECURITY`,
}

const defaultUserHive = `%SystemRoot%\System32\config\DEFAULT`

// Registry maps key paths to hive files.
type Registry struct {
	opener   FileOpener
	profiles ProfileLookup
	hives    map[string]Hive
}

// New creates a Registry on top of opener.
func New(opener FileOpener) *Registry {
	return &Registry{opener: opener, hives: map[string]Hive{}}
}

// SetProfileLookup enables HKEY_USERS\<SID> keys.
func (r *Registry) SetProfileLookup(lookup ProfileLookup) {
	r.profiles = lookup
}

// Match is a key found by Find.
type Match struct {
	Path string
	Key  Key
}

// Key returns the key at keyPath.
func (r *Registry) Key(keyPath string) (Key, error) {
	root, hivePath, rest, err := r.split(keyPath)
	if err != nil {
		return nil, err
	}
	hive, err := r.hive(hivePath)
	if err != nil {
		return nil, err
	}
	rest, err = r.resolveControlSet(root, rest)
	if err != nil {
		return nil, err
	}
	key, err := hive.Key(strings.Join(rest, `\`))
	if err != nil {
		return nil, errors.Wrap(err, keyPath)
	}
	return key, nil
}

// Value returns the value name of the key at keyPath. An empty name is the
// default value.
func (r *Registry) Value(keyPath, name string) (Value, error) {
	key, err := r.Key(keyPath)
	if err != nil {
		return nil, err
	}
	value, ok := GetValue(key, name)
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, `%s\%s`, keyPath, name)
	}
	return value, nil
}

// Find returns all keys matching pattern. Path segments below the hive may
// contain path.Match wildcards. Missing hives are not an error.
func (r *Registry) Find(pattern string) ([]Match, error) {
	root, hivePath, rest, err := r.split(pattern)
	if err != nil {
		return nil, err
	}
	hive, err := r.hive(hivePath)
	if errors.Is(err, ErrHiveNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rest, err = r.resolveControlSet(root, rest)
	if err != nil {
		return nil, err
	}
	base, err := hive.Key("")
	if err != nil {
		return nil, err
	}

	var matches []Match
	var walk func(key Key, keyPath string, rest []string)
	walk = func(key Key, keyPath string, rest []string) {
		if len(rest) == 0 {
			matches = append(matches, Match{Path: keyPath, Key: key})
			return
		}
		lower := strings.ToLower(rest[0])
		for _, subkey := range key.Subkeys() {
			if ok, _ := path.Match(lower, strings.ToLower(subkey.Name())); ok {
				walk(subkey, keyPath+`\`+subkey.Name(), rest[1:])
			}
		}
	}
	walk(base, root, rest)
	return matches, nil
}

func segments(keyPath string) []string {
	var parts []string
	for _, part := range strings.Split(strings.ReplaceAll(keyPath, "/", `\`), `\`) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// split returns the canonical root, the hive file and the hive relative
// path segments.
func (r *Registry) split(keyPath string) (string, string, []string, error) {
	parts := segments(keyPath)
	if len(parts) < 2 {
		return "", "", nil, errors.Wrapf(ErrKeyNotFound, "%s has no hive", keyPath)
	}

	switch strings.ToUpper(parts[0]) {
	case HKLM, "HKLM":
		hivePath, ok := machineHives[strings.ToUpper(parts[1])]
		if !ok {
			return "", "", nil, errors.Wrapf(ErrHiveNotFound, "unknown hive %s", parts[1])
		}
		return HKLM + `\` + strings.ToUpper(parts[1]), hivePath, parts[2:], nil
	case HKU, "HKU":
		if strings.EqualFold(parts[1], ".DEFAULT") {
			return HKU + `\.DEFAULT`, defaultUserHive, parts[2:], nil
		}
		if r.profiles == nil {
			return "", "", nil, errors.Wrapf(ErrHiveNotFound, "unknown user %s", parts[1])
		}
		profile, ok := r.profiles(parts[1])
		if !ok || profile == "" {
			return "", "", nil, errors.Wrapf(ErrHiveNotFound, "unknown user %s", parts[1])
		}
		return HKU + `\` + parts[1], strings.TrimRight(profile, `/\`) + `\NTUSER.DAT`, parts[2:], nil
	}
	return "", "", nil, errors.Wrapf(ErrKeyNotFound, "unsupported root key %s", parts[0])
}

func (r *Registry) hive(hivePath string) (Hive, error) {
	if hive, ok := r.hives[hivePath]; ok {
		return hive, nil
	}
	hive, err := r.opener.Open(hivePath)
	if err != nil {
		return nil, err
	}
	r.hives[hivePath] = hive
	return hive, nil
}

// resolveControlSet replaces CurrentControlSet with the control set that
// SYSTEM\Select\Current points to.
func (r *Registry) resolveControlSet(root string, rest []string) ([]string, error) {
	if root != HKLM+`\SYSTEM` || len(rest) == 0 || !strings.EqualFold(rest[0], "CurrentControlSet") {
		return rest, nil
	}
	value, err := r.Value(HKLM+`\SYSTEM\Select`, "Current")
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve CurrentControlSet")
	}
	current, err := strconv.Atoi(value.String())
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve CurrentControlSet")
	}
	resolved := append([]string{fmt.Sprintf("ControlSet%03d", current)}, rest[1:]...)
	return resolved, nil
}

// Subkey returns the subkey name of key, compared case insensitive.
func Subkey(key Key, name string) (Key, bool) {
	for _, subkey := range key.Subkeys() {
		if strings.EqualFold(subkey.Name(), name) {
			return subkey, true
		}
	}
	return nil, false
}

// GetValue returns the value name of key, compared case insensitive.
func GetValue(key Key, name string) (Value, bool) {
	for _, value := range key.Values() {
		if strings.EqualFold(value.Name(), name) {
			return value, true
		}
	}
	return nil, false
}

// Walk returns the key at the backslash separated path below key.
func Walk(key Key, keyPath string) (Key, error) {
	for _, part := range segments(keyPath) {
		subkey, ok := Subkey(key, part)
		if !ok {
			return nil, errors.Wrapf(ErrKeyNotFound, "%s", keyPath)
		}
		key = subkey
	}
	return key, nil
}
