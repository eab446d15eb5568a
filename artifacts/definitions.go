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

// Package artifacts reads ForensicArtifacts definitions and resolves them
// against the knowledge base of a partition.
package artifacts

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source types.
const (
	TypeArtifactGroup = "ARTIFACT_GROUP"
	TypeDirectory     = "DIRECTORY"
	TypeFile          = "FILE"
	TypePath          = "PATH"
	TypeRegistryKey   = "REGISTRY_KEY"
	TypeRegistryValue = "REGISTRY_VALUE"
)

// ErrUnknownArtifact is returned for artifact names without definition.
var ErrUnknownArtifact = errors.New("unknown artifact")

// KeyValuePair addresses a registry value.
type KeyValuePair struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Attributes of a source. Which attributes are used depends on the type.
type Attributes struct {
	Names         []string       `yaml:"names,omitempty"`
	Paths         []string       `yaml:"paths,omitempty"`
	Separator     string         `yaml:"separator,omitempty"`
	Keys          []string       `yaml:"keys,omitempty"`
	KeyValuePairs []KeyValuePair `yaml:"key_value_pairs,omitempty"`
}

// Source is where an artifact can be found.
type Source struct {
	Type        string     `yaml:"type"`
	Attributes  Attributes `yaml:"attributes"`
	SupportedOS []string   `yaml:"supported_os,omitempty"`
}

// Definition is a single artifact definition.
type Definition struct {
	Name        string   `yaml:"name"`
	Doc         string   `yaml:"doc"`
	Sources     []Source `yaml:"sources"`
	SupportedOS []string `yaml:"supported_os,omitempty"`
	Labels      []string `yaml:"labels,omitempty"`
	URLs        []string `yaml:"urls,omitempty"`
}

// Registry holds artifact definitions by name.
type Registry struct {
	definitions map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: map[string]Definition{}}
}

// Add adds definitions. Names must be unique.
func (r *Registry) Add(definitions ...Definition) error {
	for _, definition := range definitions {
		if definition.Name == "" {
			return errors.New("artifact definition without name")
		}
		if _, ok := r.definitions[definition.Name]; ok {
			return errors.Errorf("duplicate artifact definition %s", definition.Name)
		}
		r.definitions[definition.Name] = definition
	}
	return nil
}

// Read adds the definitions of a YAML stream with one document per
// definition.
func (r *Registry) Read(reader io.Reader) error {
	decoder := yaml.NewDecoder(reader)
	for {
		var definition Definition
		err := decoder.Decode(&definition)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "could not decode artifact definition")
		}
		if definition.Name == "" && len(definition.Sources) == 0 {
			continue
		}
		if err := r.Add(definition); err != nil {
			return err
		}
	}
}

// ReadFile adds the definitions of a YAML file.
func (r *Registry) ReadFile(name string) error {
	f, err := os.Open(name) // #nosec
	if err != nil {
		return err
	}
	defer f.Close() // nolint:errcheck
	return errors.Wrap(r.Read(f), name)
}

// ReadFolder adds the definitions of all .yaml and .yml files in dir.
func (r *Registry) ReadFolder(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if err := r.ReadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the definition of an artifact.
func (r *Registry) Get(name string) (Definition, bool) {
	definition, ok := r.definitions[name]
	return definition, ok
}

// Names returns the names of all definitions.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// supported reports whether an artifact for supportedOS applies to a system
// named osName. Unknown systems support everything.
func supported(supportedOS []string, osName string) bool {
	if osName == "" || len(supportedOS) == 0 {
		return true
	}
	for _, name := range supportedOS {
		if strings.EqualFold(name, osName) {
			return true
		}
	}
	return false
}
