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

package registry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MemoryKey is a registry key held in memory. It is used for hives that are
// described in YAML instead of stored as REGF file.
type MemoryKey struct {
	KeyName  string         `yaml:"name"`
	Modified time.Time      `yaml:"modified,omitempty"`
	Keys     []*MemoryKey   `yaml:"keys,omitempty"`
	Vals     []*MemoryValue `yaml:"values,omitempty"`
}

// MemoryValue is a registry value held in memory. Data of REG_DWORD and
// REG_QWORD values is given in decimal, REG_BINARY in hex.
type MemoryValue struct {
	ValueName string `yaml:"name"`
	ValueType string `yaml:"type"`
	Value     string `yaml:"data"`
}

// Name implements Key.
func (k *MemoryKey) Name() string { return k.KeyName }

// LastWritten implements Key.
func (k *MemoryKey) LastWritten() time.Time { return k.Modified }

// Subkeys implements Key.
func (k *MemoryKey) Subkeys() []Key {
	keys := make([]Key, 0, len(k.Keys))
	for _, key := range k.Keys {
		keys = append(keys, key)
	}
	return keys
}

// Values implements Key.
func (k *MemoryKey) Values() []Value {
	values := make([]Value, 0, len(k.Vals))
	for _, value := range k.Vals {
		values = append(values, value)
	}
	return values
}

// Add creates the key at the backslash separated path below k and returns
// it. Existing keys are reused.
func (k *MemoryKey) Add(keyPath string, values ...*MemoryValue) *MemoryKey {
	key := k
	for _, part := range segments(keyPath) {
		var next *MemoryKey
		for _, subkey := range key.Keys {
			if strings.EqualFold(subkey.KeyName, part) {
				next = subkey
				break
			}
		}
		if next == nil {
			next = &MemoryKey{KeyName: part}
			key.Keys = append(key.Keys, next)
		}
		key = next
	}
	key.Vals = append(key.Vals, values...)
	return key
}

// Name implements Value.
func (v *MemoryValue) Name() string { return v.ValueName }

// Type implements Value.
func (v *MemoryValue) Type() string {
	if v.ValueType == "" {
		return "REG_SZ"
	}
	return v.ValueType
}

// String implements Value.
func (v *MemoryValue) String() string { return v.Value }

// Data implements Value.
func (v *MemoryValue) Data() []byte {
	switch v.Type() {
	case "REG_DWORD", "REG_QWORD":
		var n uint64
		if _, err := fmt.Sscan(v.Value, &n); err != nil {
			return nil
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, n)
		if v.Type() == "REG_DWORD" {
			return b[:4]
		}
		return b
	case "REG_BINARY":
		b, _ := hex.DecodeString(v.Value)
		return b
	}
	return []byte(v.Value)
}

// MemoryHive is a Hive of MemoryKeys.
type MemoryHive struct {
	Root *MemoryKey
}

// NewMemoryHive creates an empty hive.
func NewMemoryHive() *MemoryHive {
	return &MemoryHive{Root: &MemoryKey{}}
}

// Key implements Hive.
func (h *MemoryHive) Key(keyPath string) (Key, error) {
	return Walk(h.Root, keyPath)
}

// ParseYAML is a Parser for hives in YAML form.
func ParseYAML(r io.ReaderAt, _ string) (Hive, error) {
	root := &MemoryKey{}
	if err := yaml.NewDecoder(io.NewSectionReader(r, 0, 1<<62)).Decode(root); err != nil {
		return nil, errors.Wrap(ErrHiveOpenFailed, err.Error())
	}
	return &MemoryHive{Root: root}, nil
}
