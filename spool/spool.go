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

// Package spool provides a temporary file that is kept in memory until it
// grows beyond a size limit and is then rolled over to disk.
package spool

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

// DefaultMaxSize is the in-memory limit used by callers that do not care.
const DefaultMaxSize = 32 << 20

// TemporaryFile is an io.ReadWriteCloser and io.ReaderAt backed by memory or
// by a file in Dir once more than maxSize bytes were written.
type TemporaryFile struct {
	dir        string
	size       int64
	maxSize    int64
	readOffset int64
	buffer     *bytes.Buffer
	tempFile   *os.File
	rolledOver bool
}

// New creates a TemporaryFile that rolls over into the default temp directory.
func New(maxSize int64) (*TemporaryFile, func() error) {
	return NewInDir("", maxSize)
}

// NewInDir creates a TemporaryFile that rolls over into dir.
func NewInDir(dir string, maxSize int64) (*TemporaryFile, func() error) {
	t := &TemporaryFile{dir: dir, buffer: &bytes.Buffer{}, maxSize: maxSize}
	return t, t.Close
}

func (t *TemporaryFile) Read(p []byte) (n int, err error) {
	n, err = t.ReadAt(p, t.readOffset)
	t.readOffset += int64(n)
	return n, err
}

// ReadAt reads independent of the sequential read offset.
func (t *TemporaryFile) ReadAt(p []byte, off int64) (n int, err error) {
	if t.rolledOver {
		return t.tempFile.ReadAt(p, off)
	}
	data := t.buffer.Bytes()
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n = copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (t *TemporaryFile) Write(p []byte) (n int, err error) {
	if !t.rolledOver && t.size+int64(len(p)) > t.maxSize {
		if err := t.Rollover(); err != nil {
			return 0, err
		}
	}

	if t.rolledOver {
		n, err = t.tempFile.WriteAt(p, t.size)
	} else {
		n, err = t.buffer.Write(p)
	}
	t.size += int64(n)
	return n, err
}

// Rollover moves the buffered content into a file on disk.
func (t *TemporaryFile) Rollover() (err error) {
	if t.rolledOver {
		return nil
	}
	t.tempFile, err = os.CreateTemp(t.dir, "spool")
	if err != nil {
		return errors.Wrap(err, "could not create tmp file")
	}
	t.rolledOver = true
	_, err = t.tempFile.Write(t.buffer.Bytes())
	if err != nil {
		return errors.Wrap(err, "could not fill tmp file")
	}
	t.buffer.Reset()
	return nil
}

// Rewind resets the sequential read offset.
func (t *TemporaryFile) Rewind() {
	t.readOffset = 0
}

// Close releases the buffer and removes the file on disk if any.
func (t *TemporaryFile) Close() error {
	if t.rolledOver {
		t.rolledOver = false
		name := t.tempFile.Name()
		if err := t.tempFile.Close(); err != nil {
			return err
		}
		return os.Remove(name)
	}
	t.buffer.Reset()
	return nil
}

// Size returns the number of bytes written.
func (t *TemporaryFile) Size() int64 {
	return t.size
}
