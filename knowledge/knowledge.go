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

// Package knowledge builds the knowledge base of a partition: the operating
// system, its variables like %SystemRoot% and its users. The knowledge base
// is used to turn artifact paths into paths on the partition.
package knowledge

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport/registry"
)

// User is a user account found on a system.
type User struct {
	SID         string `json:"sid"`
	Username    string `json:"username"`
	UserProfile string `json:"userprofile"`
	HomeDir     string `json:"homedir"`
}

// OperatingSystem is the knowledge base of one partition.
type OperatingSystem interface {
	// Name returns the name as used in artifact definitions, or "" if the
	// system is unknown.
	Name() string
	// Registry returns nil for systems without registry.
	Registry() *registry.Registry
	Var(key string) (string, bool)
	Users() []User
	// Close releases opened hives and scratch files.
	Close() error
}

// VarGetter resolves variables.
type VarGetter interface {
	Var(key string) (string, bool)
}

// NormalizeVar returns the key under which a variable is stored:
// %SystemRoot%, SystemRoot, environ_SystemRoot and %environ_SystemRoot% are
// all systemroot.
func NormalizeVar(key string) string {
	key = strings.ReplaceAll(key, "%", "")
	key = strings.ReplaceAll(key, "environ_", "")
	return strings.ToLower(key)
}

// Variables is a variable store with normalized keys.
type Variables struct {
	vars   map[string]string
	logger *zap.Logger
}

// NewVariables creates an empty store.
func NewVariables(logger *zap.Logger) *Variables {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Variables{vars: map[string]string{}, logger: logger}
}

// Set stores a variable. Existing values are overwritten.
func (v *Variables) Set(key, value string) {
	clean := NormalizeVar(key)
	if _, ok := v.vars[clean]; ok {
		v.logger.Info("overwriting already existing variable", zap.String("variable", clean))
	}
	v.vars[clean] = value
}

// Var returns a variable.
func (v *Variables) Var(key string) (string, bool) {
	value, ok := v.vars[NormalizeVar(key)]
	return value, ok
}

// Keys returns the normalized names of all variables.
func (v *Variables) Keys() []string {
	keys := make([]string, 0, len(v.vars))
	for key := range v.vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Unknown is the knowledge base of partitions without detected operating
// system. It knows nothing, so artifacts are not restricted.
type Unknown struct{}

// Name returns "".
func (Unknown) Name() string { return "" }

// Registry returns nil.
func (Unknown) Registry() *registry.Registry { return nil }

// Var never resolves.
func (Unknown) Var(string) (string, bool) { return "", false }

// Users returns nil.
func (Unknown) Users() []User { return nil }

// Close does nothing.
func (Unknown) Close() error { return nil }
