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

package volume

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/afero/zipfs"
)

// aferoFS serves a partition from an afero filesystem.
type aferoFS struct {
	fs afero.Fs
}

// FromAfero wraps an afero filesystem as partition filesystem.
func FromAfero(fs afero.Fs) Filesystem {
	return &aferoFS{fs: afero.NewReadOnlyFs(fs)}
}

func (a *aferoFS) Stat(name string) (os.FileInfo, error) {
	return a.fs.Stat(cleanName(name))
}

func (a *aferoFS) ReadDir(name string) ([]os.FileInfo, error) {
	return afero.ReadDir(a.fs, cleanName(name))
}

func (a *aferoFS) Open(name string) (io.ReadCloser, error) {
	info, err := a.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", name)
	}
	return a.fs.Open(cleanName(name))
}

// NewAferoVolume creates a single partition volume from fs.
func NewAferoVolume(name string, fs afero.Fs, partitionType string, opts ...Option) *Volume {
	return NewVolume(name, func() ([]Mount, io.Closer, error) {
		return []Mount{{Partition: Partition{ID: "p1", Type: partitionType}, FS: FromAfero(fs)}}, nil, nil
	}, opts...)
}

// NewDirectory creates a volume for a directory, e.g. a mounted partition.
func NewDirectory(dir string, opts ...Option) *Volume {
	return NewAferoVolume(dir, afero.NewBasePathFs(afero.NewOsFs(), dir), TypeDirectory, opts...)
}

// NewZip creates a volume for a zip file that contains the files of one
// partition.
func NewZip(name string, opts ...Option) *Volume {
	return NewVolume(name, func() ([]Mount, io.Closer, error) {
		f, err := os.Open(name) // #nosec
		if err != nil {
			return nil, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close() // nolint:errcheck
			return nil, nil, err
		}
		mount, err := zipMount("p1", f, info.Size())
		if err != nil {
			f.Close() // nolint:errcheck
			return nil, nil, err
		}
		return []Mount{mount}, f, nil
	}, opts...)
}

func zipMount(id string, r io.ReaderAt, size int64) (Mount, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Mount{}, errors.Wrap(err, "could not read zip")
	}
	addImplicitDirs(zr)
	return Mount{Partition: Partition{ID: id, Type: TypeZIP}, FS: FromAfero(zipfs.New(zr))}, nil
}

// addImplicitDirs adds directory entries for parents that are only part of
// file names, so that they can be listed.
func addImplicitDirs(zr *zip.Reader) {
	known := map[string]bool{}
	for _, file := range zr.File {
		known[strings.TrimSuffix(file.Name, "/")] = true
	}
	for _, file := range zr.File {
		for dir := path.Dir(strings.TrimSuffix(file.Name, "/")); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if known[dir] {
				break
			}
			known[dir] = true
			zr.File = append(zr.File, &zip.File{FileHeader: zip.FileHeader{Name: dir + "/"}})
		}
	}
}
