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
 * Author(s): Jonas Plum
 */

package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// WorkerRoot is the directory that exists when running as elementary worker.
const WorkerRoot = "/elementary"

const (
	defaultArtifactsDir       = "artifacts"
	workerBuiltinArtifactsDir = "/artifacts"
	workerDefaultArtifact     = "DefaultCollection1"
)

// Config are the settings of an extraction. Flags take precedence over the
// config file.
type Config struct {
	PartitionZips bool     `yaml:"partition_zips"`
	ArtifactsDir  string   `yaml:"artifacts_dir"`
	Keyfile       string   `yaml:"keyfile"`
	Output        string   `yaml:"output"`
	Artifacts     []string `yaml:"artifacts"`
	Inputs        []string `yaml:"inputs"`
	InputDir      string   `yaml:"input_dir"`
	Verbose       int      `yaml:"verbose"`
	Codepage      string   `yaml:"codepage"`
	NoPrompt      bool     `yaml:"no_prompt"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(name string) (*Config, error) {
	b, err := os.ReadFile(name) // #nosec
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", name)
	}
	return config, nil
}

// Prepare merges the config file into config, applies the worker layout if
// workerRoot exists and resolves the inputs.
func (config *Config) Prepare(configFile, workerRoot string) error {
	if configFile != "" {
		fileConfig, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		if err := mergo.Merge(config, fileConfig); err != nil {
			return errors.Wrap(err, "could not merge config")
		}
	}

	if info, err := os.Stat(workerRoot); err == nil && info.IsDir() {
		config.workerDefaults(workerRoot)
	}
	if config.ArtifactsDir == "" {
		config.ArtifactsDir = defaultArtifactsDir
	}

	config.Inputs = splitList(config.Inputs)
	config.Artifacts = splitList(config.Artifacts)
	if config.InputDir != "" {
		for i, input := range config.Inputs {
			if !filepath.IsAbs(input) {
				config.Inputs[i] = filepath.Join(config.InputDir, input)
			}
		}
	}
	return nil
}

// workerDefaults sets the fixed paths of the worker layout.
func (config *Config) workerDefaults(root string) {
	config.InputDir = filepath.Join(root, "input-dir")

	if config.Keyfile != "" {
		config.Keyfile = filepath.Join(config.InputDir, config.Keyfile)
	}

	for _, output := range []string{"input.forensicstore", "input"} {
		if _, err := os.Stat(filepath.Join(root, output)); err == nil {
			config.Output = filepath.Join(root, output)
			break
		}
	}

	config.ArtifactsDir = workerBuiltinArtifactsDir
	if info, err := os.Stat(filepath.Join(root, "artifacts-dir")); err == nil && info.IsDir() {
		config.ArtifactsDir = filepath.Join(root, "artifacts-dir")
	}

	if len(config.Artifacts) == 0 {
		config.Artifacts = []string{workerDefaultArtifact}
	}
}

// Validate checks that all paths exist.
func (config *Config) Validate() error {
	if info, err := os.Stat(config.ArtifactsDir); err != nil || !info.IsDir() {
		return errors.Errorf("not a directory: %s", config.ArtifactsDir)
	}
	if len(config.Inputs) == 0 {
		return errors.New("no input given")
	}
	for _, input := range config.Inputs {
		if _, err := os.Stat(input); err != nil {
			return errors.Errorf("input does not exist: %s", input)
		}
	}
	if config.Output == "" {
		return errors.New("no output forensicstore given")
	}
	if len(config.Artifacts) == 0 {
		return errors.New("no artifact given")
	}
	return nil
}

// splitList splits comma separated values.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}
