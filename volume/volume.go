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

// Package volume provides read access to the partitions of forensic images,
// directories, partition zips and encrypted containers. All inputs are
// exposed as an Accessor with root relative, case insensitive path lookup.
package volume

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Partition types.
const (
	TypeNTFS      = "NTFS"
	TypeVSHADOW   = "VSHADOW"
	TypeDirectory = "DIRECTORY"
	TypeZIP       = "ZIP"
	TypeBDE       = "BDE"
)

// ErrLocked is returned by Partitions if a volume could not be unlocked.
var ErrLocked = errors.New("volume is locked")

// ErrNotFound is returned for unknown partitions and missing files.
var ErrNotFound = errors.New("not found")

// PathSpec locates a file or directory within a partition.
type PathSpec struct {
	Partition string
	Location  string
}

func (p PathSpec) String() string {
	return p.Partition + ":" + p.Location
}

// Partition is a single filesystem in a volume.
type Partition struct {
	ID   string
	Type string
	Root PathSpec
}

// Accessor gives access to the partitions of one input.
type Accessor interface {
	Name() string
	Partitions() ([]Partition, error)
	FindPaths(patterns []string, partitions []Partition) ([]PathSpec, error)
	RelativePath(spec PathSpec) string
	ExportFile(spec PathSpec, fs afero.Fs, name string) error
	Stat(spec PathSpec) (os.FileInfo, error)
	Open(spec PathSpec) (io.ReadCloser, error)
	ReadDir(spec PathSpec) ([]PathSpec, error)
	Close() error
}

// Filesystem is the read only view of a single partition. Names are
// slash separated and absolute.
type Filesystem interface {
	Stat(name string) (os.FileInfo, error)
	ReadDir(name string) ([]os.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
}

// Mount is a partition with its filesystem. Partitions without a filesystem
// are listed but cannot be searched.
type Mount struct {
	Partition Partition
	FS        Filesystem
}

// LoadFunc opens the mounts of a volume. The returned closer is called once
// when the volume is closed.
type LoadFunc func() ([]Mount, io.Closer, error)

// Option configures a Volume.
type Option func(*Volume)

// WithLogger sets the logger of a Volume.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Volume) { v.logger = logger }
}

// Volume is the Accessor for all inputs. The mounts are loaded on first use,
// which may ask for credentials.
type Volume struct {
	name   string
	load   LoadFunc
	logger *zap.Logger

	mu      sync.Mutex
	loaded  bool
	loadErr error
	mounts  []Mount
	byID    map[string]Filesystem
	closer  io.Closer

	closeOnce sync.Once
	closeErr  error
}

// NewVolume creates a Volume whose mounts are opened by load.
func NewVolume(name string, load LoadFunc, opts ...Option) *Volume {
	v := &Volume{name: name, load: load, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name returns the input path of the volume.
func (v *Volume) Name() string {
	return v.name
}

func (v *Volume) ensureLoaded() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return v.loadErr
	}
	v.loaded = true

	mounts, closer, err := v.load()
	if err != nil {
		v.loadErr = err
		return err
	}
	v.closer = closer
	v.byID = map[string]Filesystem{}
	for _, mount := range mounts {
		if mount.Partition.Root.Partition == "" {
			mount.Partition.Root = PathSpec{Partition: mount.Partition.ID, Location: "/"}
		}
		v.mounts = append(v.mounts, mount)
		if mount.FS != nil {
			v.byID[mount.Partition.ID] = mount.FS
		}
	}
	return nil
}

// Partitions lists the partitions in on disk order.
func (v *Volume) Partitions() ([]Partition, error) {
	if err := v.ensureLoaded(); err != nil {
		return nil, err
	}
	partitions := make([]Partition, 0, len(v.mounts))
	for _, mount := range v.mounts {
		partitions = append(partitions, mount.Partition)
	}
	return partitions, nil
}

// FindPaths resolves glob patterns on the given partitions, or on all
// partitions if none are given. Results are sorted per partition and
// pattern.
func (v *Volume) FindPaths(patterns []string, partitions []Partition) ([]PathSpec, error) {
	if err := v.ensureLoaded(); err != nil {
		return nil, err
	}
	if partitions == nil {
		for _, mount := range v.mounts {
			partitions = append(partitions, mount.Partition)
		}
	}

	var specs []PathSpec
	for _, partition := range partitions {
		fs, ok := v.byID[partition.ID]
		if !ok {
			v.logger.Debug("partition has no filesystem", zap.String("partition", partition.ID), zap.String("type", partition.Type))
			continue
		}
		seen := map[string]bool{}
		for _, pattern := range patterns {
			locations, err := Glob(fs, pattern)
			if err != nil {
				return nil, errors.Wrapf(err, "could not resolve %s", pattern)
			}
			for _, location := range locations {
				if !seen[location] {
					seen[location] = true
					specs = append(specs, PathSpec{Partition: partition.ID, Location: location})
				}
			}
		}
	}
	return specs, nil
}

// RelativePath returns the partition relative path of spec.
func (v *Volume) RelativePath(spec PathSpec) string {
	return spec.Location
}

func (v *Volume) filesystem(spec PathSpec) (Filesystem, error) {
	if err := v.ensureLoaded(); err != nil {
		return nil, err
	}
	fs, ok := v.byID[spec.Partition]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "partition %s", spec.Partition)
	}
	return fs, nil
}

// Stat returns the file info of spec.
func (v *Volume) Stat(spec PathSpec) (os.FileInfo, error) {
	fs, err := v.filesystem(spec)
	if err != nil {
		return nil, err
	}
	return fs.Stat(spec.Location)
}

// Open opens the file at spec.
func (v *Volume) Open(spec PathSpec) (io.ReadCloser, error) {
	fs, err := v.filesystem(spec)
	if err != nil {
		return nil, err
	}
	return fs.Open(spec.Location)
}

// ReadDir lists the directory at spec sorted by name.
func (v *Volume) ReadDir(spec PathSpec) ([]PathSpec, error) {
	fs, err := v.filesystem(spec)
	if err != nil {
		return nil, err
	}
	infos, err := fs.ReadDir(spec.Location)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	specs := make([]PathSpec, 0, len(infos))
	for _, info := range infos {
		specs = append(specs, PathSpec{Partition: spec.Partition, Location: path.Join(spec.Location, info.Name())})
	}
	return specs, nil
}

// ExportFile copies the file at spec to name in fs.
func (v *Volume) ExportFile(spec PathSpec, fs afero.Fs, name string) error {
	src, err := v.Open(spec)
	if err != nil {
		return errors.Wrapf(err, "could not open %s", spec)
	}
	defer src.Close() // nolint:errcheck

	dst, err := fs.Create(name)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", name)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close() // nolint:errcheck
		return errors.Wrapf(err, "could not export %s", spec)
	}
	return dst.Close()
}

// Close releases the volume. Later calls return the result of the first.
func (v *Volume) Close() error {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closer != nil {
			v.closeErr = v.closer.Close()
		}
	})
	return v.closeErr
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Clean("/" + name)
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }
