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

package artifacts

import (
	"crypto/md5"  // #nosec
	"crypto/sha1" // #nosec
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport"
	"github.com/forensicanalysis/imageimport/forensicstore"
	"github.com/forensicanalysis/imageimport/knowledge"
	"github.com/forensicanalysis/imageimport/registry"
	"github.com/forensicanalysis/imageimport/volume"
)

const timeFormat = "2006-01-02T15:04:05.000Z"

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver collects artifacts of a Registry from partitions.
type Resolver struct {
	definitions *Registry
	logger      *zap.Logger
}

// NewResolver creates a Resolver for the definitions.
func NewResolver(definitions *Registry, opts ...Option) *Resolver {
	r := &Resolver{definitions: definitions, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessArtifact collects the artifact name from partition and stores the
// results. Sources that do not apply to the operating system are skipped.
func (r *Resolver) ProcessArtifact(name string, system knowledge.OperatingSystem, partition imageimport.PartitionContext, store imageimport.Store) error {
	definition, ok := r.definitions.Get(name)
	if !ok {
		return errors.Wrap(ErrUnknownArtifact, name)
	}
	c := &collection{
		Resolver:  r,
		system:    system,
		partition: partition,
		store:     store,
		visited:   map[string]bool{},
		logger:    r.logger.With(zap.String("label", partition.Name)),
	}
	return c.process(definition)
}

// collection is a single ProcessArtifact run.
type collection struct {
	*Resolver
	system    knowledge.OperatingSystem
	partition imageimport.PartitionContext
	store     imageimport.Store
	visited   map[string]bool
	logger    *zap.Logger
}

func (c *collection) process(definition Definition) error {
	if c.visited[definition.Name] {
		c.logger.Warn("artifact group cycle", zap.String("artifact", definition.Name))
		return nil
	}
	c.visited[definition.Name] = true

	if !supported(definition.SupportedOS, c.system.Name()) {
		c.logger.Debug("artifact not supported", zap.String("artifact", definition.Name), zap.String("os", c.system.Name()))
		return nil
	}
	c.logger.Info("collecting artifact", zap.String("artifact", definition.Name))

	for _, source := range definition.Sources {
		if !supported(source.SupportedOS, c.system.Name()) {
			continue
		}
		if err := c.processSource(definition.Name, source); err != nil {
			return errors.Wrapf(err, "%s source %s", definition.Name, source.Type)
		}
	}
	return nil
}

func (c *collection) processSource(artifact string, source Source) error {
	switch source.Type {
	case TypeArtifactGroup:
		for _, name := range source.Attributes.Names {
			member, ok := c.definitions.Get(name)
			if !ok {
				c.logger.Warn("unknown artifact in group", zap.String("group", artifact), zap.String("artifact", name))
				continue
			}
			if err := c.process(member); err != nil {
				return err
			}
		}
		return nil
	case TypeFile:
		return c.collectPaths(artifact, source, c.storeFile)
	case TypeDirectory:
		return c.collectPaths(artifact, source, c.storeDirectory)
	case TypePath:
		return c.collectPaths(artifact, source, c.storePath)
	case TypeRegistryKey:
		return c.collectKeys(artifact, source)
	case TypeRegistryValue:
		return c.collectValues(artifact, source)
	}
	c.logger.Warn("unsupported source type", zap.String("artifact", artifact), zap.String("type", source.Type))
	return nil
}

func (c *collection) collectPaths(artifact string, source Source, collect func(string, volume.PathSpec, os.FileInfo) error) error {
	var patterns []string
	for _, p := range source.Attributes.Paths {
		expanded := expandPath(p, c.system)
		if len(expanded) == 0 {
			c.logger.Debug("could not expand path", zap.String("artifact", artifact), zap.String("path", p))
		}
		patterns = append(patterns, expanded...)
	}
	if len(patterns) == 0 {
		return nil
	}

	specs, err := c.partition.Volume.FindPaths(patterns, []volume.Partition{c.partition.Partition})
	if err != nil {
		return err
	}
	for _, spec := range specs {
		info, err := c.partition.Volume.Stat(spec)
		if err != nil {
			c.logger.Warn("could not stat", zap.String("path", spec.String()), zap.Error(err))
			continue
		}
		if err := collect(artifact, spec, info); err != nil {
			return err
		}
	}
	return nil
}

func (c *collection) origin(spec volume.PathSpec) map[string]interface{} {
	return map[string]interface{}{
		"path":      c.partition.Volume.RelativePath(spec),
		"partition": c.partition.Name,
		"volume":    c.partition.Volume.Name(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func (c *collection) fileElement(artifact string, spec volume.PathSpec, info os.FileInfo) *forensicstore.File {
	times := volume.FileTimes(info)
	file := forensicstore.NewFile()
	file.Artifact = artifact
	file.Name = info.Name()
	file.Size = float64(info.Size())
	file.Created = formatTime(times.Created)
	file.Modified = formatTime(times.Modified)
	file.Accessed = formatTime(times.Accessed)
	file.Origin = c.origin(spec)
	return file
}

func (c *collection) storeFile(artifact string, spec volume.PathSpec, info os.FileInfo) error {
	if info.IsDir() {
		return nil
	}
	file := c.fileElement(artifact, spec, info)

	exportPath, size, hashes, err := c.export(artifact, spec)
	if err != nil {
		c.logger.Warn("could not export file", zap.String("path", spec.String()), zap.Error(err))
		file.AddError(err.Error())
	} else {
		file.ExportPath = exportPath
		file.Size = float64(size)
		file.Hashes = hashes
	}

	_, err = c.store.InsertStruct(file)
	return err
}

func (c *collection) export(artifact string, spec volume.PathSpec) (string, int64, map[string]interface{}, error) {
	src, err := c.partition.Volume.Open(spec)
	if err != nil {
		return "", 0, nil, err
	}
	defer src.Close() // nolint:errcheck

	base := path.Base(c.partition.Volume.RelativePath(spec))
	exportPath, dst, err := c.store.StoreFile(path.Join(artifact, base))
	if err != nil {
		return "", 0, nil, err
	}

	hashes := map[string]hash.Hash{
		"MD5":     md5.New(),  // #nosec
		"SHA-1":   sha1.New(), // #nosec
		"SHA-256": sha256.New(),
	}
	writers := []io.Writer{dst}
	for _, h := range hashes {
		writers = append(writers, h)
	}
	size, err := io.Copy(io.MultiWriter(writers...), src)
	if err != nil {
		dst.Close() // nolint:errcheck
		return "", 0, nil, err
	}
	if err := dst.Close(); err != nil {
		return "", 0, nil, err
	}

	sums := map[string]interface{}{}
	for algorithm, h := range hashes {
		sums[algorithm] = fmt.Sprintf("%x", h.Sum(nil))
	}
	return exportPath, size, sums, nil
}

func (c *collection) directoryElement(artifact string, spec volume.PathSpec, info os.FileInfo) *forensicstore.Directory {
	times := volume.FileTimes(info)
	directory := forensicstore.NewDirectory()
	directory.Artifact = artifact
	directory.Path = c.partition.Volume.RelativePath(spec)
	directory.Created = formatTime(times.Created)
	directory.Modified = formatTime(times.Modified)
	directory.Accessed = formatTime(times.Accessed)
	directory.Origin = c.origin(spec)
	return directory
}

// storeDirectory records a directory and the metadata of its entries.
func (c *collection) storeDirectory(artifact string, spec volume.PathSpec, info os.FileInfo) error {
	if !info.IsDir() {
		return nil
	}
	directory := c.directoryElement(artifact, spec, info)

	entries, err := c.partition.Volume.ReadDir(spec)
	if err != nil {
		directory.AddError(err.Error())
	}
	if _, err := c.store.InsertStruct(directory); err != nil {
		return err
	}

	for _, entry := range entries {
		entryInfo, err := c.partition.Volume.Stat(entry)
		if err != nil {
			c.logger.Warn("could not stat", zap.String("path", entry.String()), zap.Error(err))
			continue
		}
		var element interface{} = c.fileElement(artifact, entry, entryInfo)
		if entryInfo.IsDir() {
			element = c.directoryElement(artifact, entry, entryInfo)
		}
		if _, err := c.store.InsertStruct(element); err != nil {
			return err
		}
	}
	return nil
}

// storePath records that a path exists.
func (c *collection) storePath(artifact string, spec volume.PathSpec, info os.FileInfo) error {
	_, err := c.store.InsertStruct(c.directoryElement(artifact, spec, info))
	return err
}

func (c *collection) keyElement(artifact string, match registry.Match) *forensicstore.RegistryKey {
	key := forensicstore.NewRegistryKey()
	key.Artifact = artifact
	key.Key = match.Path
	key.ModifiedTime = formatTime(match.Key.LastWritten())
	key.Origin = map[string]interface{}{"partition": c.partition.Name, "volume": c.partition.Volume.Name()}
	return key
}

func registryValue(value registry.Value) forensicstore.RegistryValue {
	return forensicstore.RegistryValue{Name: value.Name(), Data: value.String(), DataType: value.Type()}
}

func (c *collection) find(artifact, pattern string) []registry.Match {
	reg := c.system.Registry()
	var matches []registry.Match
	for _, key := range expandKey(pattern, c.system) {
		found, err := reg.Find(key)
		if err != nil {
			c.logger.Warn("could not read registry", zap.String("artifact", artifact), zap.String("key", key), zap.Error(err))
			continue
		}
		matches = append(matches, found...)
	}
	return matches
}

func (c *collection) collectKeys(artifact string, source Source) error {
	if c.system.Registry() == nil {
		c.logger.Debug("no registry", zap.String("artifact", artifact))
		return nil
	}
	for _, pattern := range source.Attributes.Keys {
		for _, match := range c.find(artifact, pattern) {
			key := c.keyElement(artifact, match)
			for _, value := range match.Key.Values() {
				key.Values = append(key.Values, registryValue(value))
			}
			if _, err := c.store.InsertStruct(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *collection) collectValues(artifact string, source Source) error {
	if c.system.Registry() == nil {
		c.logger.Debug("no registry", zap.String("artifact", artifact))
		return nil
	}
	for _, pair := range source.Attributes.KeyValuePairs {
		for _, match := range c.find(artifact, pair.Key) {
			value, ok := registry.GetValue(match.Key, pair.Value)
			if !ok {
				continue
			}
			key := c.keyElement(artifact, match)
			key.Values = []forensicstore.RegistryValue{registryValue(value)}
			if _, err := c.store.InsertStruct(key); err != nil {
				return err
			}
		}
	}
	return nil
}
