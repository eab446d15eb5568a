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
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/imageimport/encryption"
)

// Open detects the type of the input at name and creates the matching
// volume: directories, partition zips, age encrypted containers and raw
// images are supported.
func Open(name string, unlocker encryption.Unlocker, opts ...Option) (*Volume, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", name)
	}
	if info.IsDir() {
		return NewDirectory(name, opts...), nil
	}

	f, err := os.Open(name) // #nosec
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", name)
	}
	head := make([]byte, 64)
	n, err := io.ReadFull(f, head)
	f.Close() // nolint:errcheck
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrapf(err, "could not read %s", name)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return NewZip(name, opts...), nil
	case isEncrypted(head):
		if unlocker == nil {
			return nil, errors.Wrapf(ErrLocked, "%s is encrypted", name)
		}
		return NewEncrypted(name, unlocker, opts...), nil
	default:
		return NewImage(name, opts...), nil
	}
}
