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
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	ntfs "www.velocidex.com/golang/go-ntfs/parser"
)

const rootMFTEntry = 5

// ntfsFS reads a NTFS partition with go-ntfs.
type ntfsFS struct {
	mu     sync.Mutex
	ctx    *ntfs.NTFSContext
	reader io.ReaderAt
}

func newNTFS(r io.ReaderAt) (fs *ntfsFS, err error) {
	defer recoverParser(&err)

	reader, err := ntfs.NewPagedReader(r, 1024, 10000)
	if err != nil {
		return nil, err
	}
	ctx, err := ntfs.GetNTFSContext(reader, 0)
	if err != nil {
		return nil, errors.Wrap(err, "could not open ntfs")
	}
	return &ntfsFS{ctx: ctx, reader: reader}, nil
}

// go-ntfs panics on some corrupted structures.
func recoverParser(err *error) {
	if r := recover(); r != nil {
		*err = errors.Errorf("ntfs parser: %v", r)
	}
}

func (n *ntfsFS) entry(name string) (*ntfs.MFT_ENTRY, error) {
	root, err := n.ctx.GetMFT(rootMFTEntry)
	if err != nil {
		return nil, err
	}
	name = strings.Trim(cleanName(name), "/")
	if name == "" {
		return root, nil
	}
	return root.Open(n.ctx, name)
}

func (n *ntfsFS) ReadDir(name string) (infos []os.FileInfo, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer recoverParser(&err)

	dir, err := n.entry(name)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "%s: %s", name, err)
	}
	seen := map[string]bool{}
	for _, info := range ntfs.ListDir(n.ctx, dir) {
		if info == nil || info.Name == "." || info.Name == ".." || seen[info.Name] {
			continue
		}
		seen[info.Name] = true
		infos = append(infos, newNTFSInfo(info))
	}
	return infos, nil
}

func (n *ntfsFS) Stat(name string) (info os.FileInfo, err error) {
	name = cleanName(name)
	if name == "/" {
		return &fileInfo{name: "/", dir: true}, nil
	}
	infos, err := n.ReadDir(path.Dir(name))
	if err != nil {
		return nil, err
	}
	base := strings.ToLower(path.Base(name))
	for _, info := range infos {
		if strings.ToLower(info.Name()) == base {
			return info, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "%s", name)
}

func (n *ntfsFS) Open(name string) (r io.ReadCloser, err error) {
	info, err := n.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", name)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	defer recoverParser(&err)

	data, err := ntfs.GetDataForPath(n.ctx, strings.TrimPrefix(cleanName(name), "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", name)
	}
	return io.NopCloser(io.NewSectionReader(&lockedReaderAt{mu: &n.mu, r: data}, 0, info.Size())), nil
}

type lockedReaderAt struct {
	mu *sync.Mutex
	r  io.ReaderAt
}

func (l *lockedReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer recoverParser(&err)
	return l.r.ReadAt(p, off)
}

// fileInfo carries the MAC times that os.FileInfo lacks.
type fileInfo struct {
	name     string
	size     int64
	dir      bool
	modified time.Time
	accessed time.Time
	created  time.Time
	changed  time.Time
}

func newNTFSInfo(info *ntfs.FileInfo) *fileInfo {
	return &fileInfo{
		name:     info.Name,
		size:     info.Size,
		dir:      info.IsDir,
		modified: info.Mtime,
		accessed: info.Atime,
		created:  info.Btime,
		changed:  info.Ctime,
	}
}

func (f *fileInfo) Name() string       { return f.name }
func (f *fileInfo) Size() int64        { return f.size }
func (f *fileInfo) ModTime() time.Time { return f.modified }
func (f *fileInfo) IsDir() bool        { return f.dir }
func (f *fileInfo) Sys() interface{}   { return nil }
func (f *fileInfo) Times() Times {
	return Times{Accessed: f.accessed, Modified: f.modified, Created: f.created, Changed: f.changed}
}

func (f *fileInfo) Mode() os.FileMode {
	if f.dir {
		return os.ModeDir | 0555
	}
	return 0444
}

func (f *fileInfo) String() string {
	return fmt.Sprintf("%s (%d bytes)", f.name, f.size)
}

// Times are the timestamps of a file. Unknown times are zero.
type Times struct {
	Accessed time.Time
	Modified time.Time
	Created  time.Time
	Changed  time.Time
}

// FileTimes returns the timestamps of info. Filesystems that only know the
// modification time report just that.
func FileTimes(info os.FileInfo) Times {
	if t, ok := info.(interface{ Times() Times }); ok {
		return t.Times()
	}
	return Times{Modified: info.ModTime()}
}
