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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport"
	"github.com/forensicanalysis/imageimport/artifacts"
	"github.com/forensicanalysis/imageimport/encryption"
	"github.com/forensicanalysis/imageimport/forensicstore"
	"github.com/forensicanalysis/imageimport/knowledge"
	"github.com/forensicanalysis/imageimport/volume"
)

// Extract is the imageimport extraction command
func Extract() *cobra.Command {
	config := &Config{}
	var configFile string
	command := &cobra.Command{
		Use:   "imageimport [input...]",
		Short: "Process forensic images and extract artifacts",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Inputs = append(config.Inputs, args...)
			if err := config.Prepare(configFile, WorkerRoot); err != nil {
				return err
			}
			if err := config.Validate(); err != nil {
				return err
			}
			logger := NewLogger(config.Verbose, os.Stderr)
			defer logger.Sync() // nolint:errcheck
			return Run(config, logger, os.Stdin, cmd.OutOrStdout())
		},
	}
	flags := command.Flags()
	flags.BoolVar(&config.PartitionZips, "partition-zips", false, "use zip processing mode, each containing files from one partition")
	flags.StringVarP(&config.ArtifactsDir, "artifacts-dir", "a", "", "path where to search for artifact definitions (default \"artifacts\")")
	flags.StringVarP(&config.Keyfile, "keyfile", "k", "", "keyfile for decryption")
	flags.StringVarP(&config.Output, "dir", "d", "", "output forensicstore")
	flags.StringSliceVarP(&config.Artifacts, "artifact", "e", nil, "which artifacts to extract")
	flags.StringSliceVarP(&config.Inputs, "input-file", "i", nil, "input files (or folders) to process")
	flags.StringVar(&config.InputDir, "input-dir", "", "input folder root path, relative inputs are resolved against it")
	flags.CountVarP(&config.Verbose, "verbose", "v", "increase verbosity")
	flags.StringVar(&config.Codepage, "codepage", "", "codepage of registry hive names")
	flags.BoolVar(&config.NoPrompt, "no-prompt", false, "skip encrypted volumes without matching key instead of asking")
	flags.StringVar(&configFile, "config", "", "YAML config file")
	return command
}

// Run extracts the configured artifacts. The store is created if it does not
// exist.
func Run(config *Config, logger *zap.Logger, in io.Reader, out io.Writer) error {
	definitions := artifacts.NewRegistry()
	if err := definitions.ReadFolder(config.ArtifactsDir); err != nil {
		return err
	}
	if len(definitions.Names()) == 0 {
		logger.Warn("could not read any artifact definition", zap.String("dir", config.ArtifactsDir))
	}

	keyring := encryption.NewKeyring(readKeys(config.Keyfile, logger))
	var unlocker encryption.Unlocker
	if config.NoPrompt {
		unlocker = encryption.NewKeyringUnlocker(keyring, logger)
	} else {
		unlocker = encryption.NewConsoleUnlocker(keyring, encryption.WithConsole(in, out), encryption.WithConsoleLogger(logger))
	}

	fmt.Fprintln(out, "Using output forensicstore:", config.Output)
	store, err := openStore(config.Output)
	if err != nil {
		return err
	}

	var volumes []volume.Accessor
	for _, input := range config.Inputs {
		v, err := volume.Open(input, unlocker, volume.WithLogger(logger))
		if err != nil {
			closeAll(store, volumes, logger)
			return err
		}
		volumes = append(volumes, v)
	}

	opts := []imageimport.Option{imageimport.WithLogger(logger)}
	if config.PartitionZips {
		opts = append(opts, imageimport.WithContainerMode())
	}
	if config.Codepage != "" {
		opts = append(opts, imageimport.WithSystemOptions(knowledge.WithCodepage(config.Codepage)))
	}
	resolver := artifacts.NewResolver(definitions, artifacts.WithLogger(logger))
	extractor, err := imageimport.New(volumes, resolver, store, opts...)
	if err != nil {
		closeAll(store, volumes, logger)
		return err
	}

	fmt.Fprintf(out, "Extract %s\n", strings.Join(config.Artifacts, ", "))
	err = extractor.Extract(config.Artifacts...)
	if closeErr := extractor.Close(); err == nil {
		err = closeErr
	}
	return err
}

func readKeys(keyfile string, logger *zap.Logger) []encryption.Credential {
	if keyfile == "" {
		return nil
	}
	f, err := os.Open(keyfile) // #nosec
	if err != nil {
		logger.Error("could not open key file", zap.Error(err))
		return nil
	}
	defer f.Close() // nolint:errcheck
	keys, err := encryption.ReadKeyList(f, logger)
	if err != nil {
		logger.Error("could not read key file", zap.Error(err))
		return nil
	}
	return keys
}

func openStore(name string) (*forensicstore.ForensicStore, error) {
	if _, err := os.Stat(name); err == nil {
		return forensicstore.Open(name)
	}
	return forensicstore.New(name)
}

func closeAll(store imageimport.Store, volumes []volume.Accessor, logger *zap.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn("could not close store", zap.Error(err))
	}
	for _, v := range volumes {
		if err := v.Close(); err != nil {
			logger.Warn("could not close volume", zap.String("volume", v.Name()), zap.Error(err))
		}
	}
}
