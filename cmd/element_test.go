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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const hostsArtifact = `
name: WindowsHostsFile
doc: The hosts file.
sources:
- type: FILE
  attributes:
    paths: ['%%environ_systemroot%%\System32\drivers\etc\hosts']
    separator: '\'
supported_os: [Windows]
---
name: LinuxPasswd
doc: Users.
sources:
- type: FILE
  attributes:
    paths: ['/etc/passwd']
supported_os: [Linux]
`

func writeFile(t *testing.T, name, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
}

// setup creates a partition directory, artifact definitions and an output
// path.
func setup(t *testing.T) (string, string, string) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "input", "etc", "passwd"), "root:x:0:0")
	writeFile(t, filepath.Join(dir, "artifacts", "artifacts.yaml"), hostsArtifact)
	return filepath.Join(dir, "input"), filepath.Join(dir, "artifacts"), filepath.Join(dir, "out.forensicstore")
}

func extract(t *testing.T) string {
	input, artifactsDir, output := setup(t)
	config := &Config{
		ArtifactsDir: artifactsDir,
		Output:       output,
		Inputs:       []string{input},
		Artifacts:    []string{"LinuxPasswd"},
		NoPrompt:     true,
	}
	var out bytes.Buffer
	require.NoError(t, Run(config, zap.NewNop(), strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "Using output forensicstore: "+output)
	assert.Contains(t, out.String(), "Extract LinuxPasswd")
	return output
}

func run(t *testing.T, args ...string) (string, error) {
	command := Extract()
	command.AddCommand(Element(), Validate())
	command.SetArgs(args)
	var out bytes.Buffer
	command.SetOut(&out)
	err := command.Execute()
	return out.String(), err
}

func TestRun(t *testing.T) {
	output := extract(t)

	out, err := run(t, "element", "select", "file", output)
	require.NoError(t, err)
	var files []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "passwd", files[0]["name"])
	assert.Equal(t, "LinuxPasswd/passwd", files[0]["export_path"])
	assert.Equal(t, "LinuxPasswd", files[0]["artifact"])

	out, err = run(t, "element", "get", files[0]["id"].(string), output)
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"passwd"`)

	out, err = run(t, "element", "all", output)
	require.NoError(t, err)
	var all []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all, 1)

	out, err = run(t, "validate", output)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, "validate", output+".missing")
	assert.Error(t, err)
}

func TestRun_ExistingStore(t *testing.T) {
	output := extract(t)
	input := filepath.Join(filepath.Dir(output), "input")

	config := &Config{
		ArtifactsDir: filepath.Join(filepath.Dir(output), "artifacts"),
		Output:       output,
		Inputs:       []string{input},
		Artifacts:    []string{"LinuxPasswd"},
		NoPrompt:     true,
	}
	require.NoError(t, Run(config, zap.NewNop(), strings.NewReader(""), &bytes.Buffer{}))

	out, err := run(t, "element", "select", "file", output)
	require.NoError(t, err)
	var files []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	assert.Len(t, files, 2)
}

func TestRun_MissingKeyfile(t *testing.T) {
	input, artifactsDir, output := setup(t)
	config := &Config{
		ArtifactsDir: artifactsDir,
		Output:       output,
		Inputs:       []string{input},
		Artifacts:    []string{"LinuxPasswd"},
		Keyfile:      filepath.Join(t.TempDir(), "missing.csv"),
		NoPrompt:     true,
	}
	assert.NoError(t, Run(config, zap.NewNop(), strings.NewReader(""), &bytes.Buffer{}))
}

func TestRun_TooManyImages(t *testing.T) {
	input, artifactsDir, output := setup(t)
	config := &Config{
		ArtifactsDir: artifactsDir,
		Output:       output,
		Inputs:       []string{input, input},
		Artifacts:    []string{"LinuxPasswd"},
		NoPrompt:     true,
	}
	assert.Error(t, Run(config, zap.NewNop(), strings.NewReader(""), &bytes.Buffer{}))

	config.PartitionZips = true
	assert.NoError(t, Run(config, zap.NewNop(), strings.NewReader(""), &bytes.Buffer{}))
}

func TestConfig_Prepare(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	writeFile(t, configFile, "artifacts_dir: /defs\noutput: from-file.forensicstore\nartifacts: [A, B]\nverbose: 2\n")

	tests := []struct {
		name       string
		config     Config
		configFile string
		want       Config
	}{
		{
			"defaults",
			Config{Inputs: []string{"a.dd"}},
			"",
			Config{ArtifactsDir: "artifacts", Inputs: []string{"a.dd"}},
		},
		{
			"comma separated",
			Config{Inputs: []string{"c.zip, d.zip", "e.zip"}, Artifacts: []string{"A,B"}},
			"",
			Config{ArtifactsDir: "artifacts", Inputs: []string{"c.zip", "d.zip", "e.zip"}, Artifacts: []string{"A", "B"}},
		},
		{
			"input dir",
			Config{Inputs: []string{"c.zip", "/abs/d.zip"}, InputDir: "/evidence"},
			"",
			Config{ArtifactsDir: "artifacts", Inputs: []string{"/evidence/c.zip", "/abs/d.zip"}, InputDir: "/evidence"},
		},
		{
			"config file",
			Config{Output: "flag.forensicstore"},
			configFile,
			Config{ArtifactsDir: "/defs", Output: "flag.forensicstore", Artifacts: []string{"A", "B"}, Verbose: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.config
			require.NoError(t, config.Prepare(tt.configFile, filepath.Join(dir, "no-worker")))
			assert.Equal(t, tt.want, config)
		})
	}

	config := Config{}
	assert.Error(t, config.Prepare(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "no-worker")))
}

func TestConfig_Worker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "input-dir"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "input.forensicstore"), 0755))

	config := Config{Inputs: []string{"image.dd"}, Keyfile: "keys.csv"}
	require.NoError(t, config.Prepare("", root))
	assert.Equal(t, Config{
		ArtifactsDir: "/artifacts",
		Keyfile:      filepath.Join(root, "input-dir", "keys.csv"),
		Output:       filepath.Join(root, "input.forensicstore"),
		Artifacts:    []string{"DefaultCollection1"},
		Inputs:       []string{filepath.Join(root, "input-dir", "image.dd")},
		InputDir:     filepath.Join(root, "input-dir"),
	}, config)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "artifacts-dir"), 0755))
	config = Config{Artifacts: []string{"WindowsRunKeys"}}
	require.NoError(t, config.Prepare("", root))
	assert.Equal(t, filepath.Join(root, "artifacts-dir"), config.ArtifactsDir)
	assert.Equal(t, []string{"WindowsRunKeys"}, config.Artifacts)
}

func TestConfig_Validate(t *testing.T) {
	input, artifactsDir, output := setup(t)

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{ArtifactsDir: artifactsDir, Inputs: []string{input}, Output: output, Artifacts: []string{"A"}}, false},
		{"no artifacts dir", Config{ArtifactsDir: input + "/missing", Inputs: []string{input}, Output: output, Artifacts: []string{"A"}}, true},
		{"missing input", Config{ArtifactsDir: artifactsDir, Inputs: []string{input + ".dd"}, Output: output, Artifacts: []string{"A"}}, true},
		{"no input", Config{ArtifactsDir: artifactsDir, Output: output, Artifacts: []string{"A"}}, true},
		{"no output", Config{ArtifactsDir: artifactsDir, Inputs: []string{input}, Artifacts: []string{"A"}}, true},
		{"no artifact", Config{ArtifactsDir: artifactsDir, Inputs: []string{input}, Output: output}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, Level(0))
	assert.Equal(t, zapcore.InfoLevel, Level(1))
	assert.Equal(t, zapcore.DebugLevel, Level(2))
	assert.Equal(t, zapcore.DebugLevel, Level(5))
	assert.Equal(t, zapcore.WarnLevel, Level(-1))
}
