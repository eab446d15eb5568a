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

package forensicstore

import (
	"crypto/md5"  // #nosec
	"crypto/sha1" // #nosec
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Validate checks that every file referenced by an element exists in the
// store and matches the recorded size and hashes.
func (store *ForensicStore) Validate() (flaws []string, err error) {
	flaws = []string{}

	elements, err := store.All()
	if err != nil {
		return nil, err
	}
	for _, element := range elements {
		elementFlaws, err := store.validateElement(element)
		if err != nil {
			return nil, err
		}
		flaws = append(flaws, elementFlaws...)
	}
	return flaws, nil
}

func (store *ForensicStore) validateElement(element JSONElement) (flaws []string, err error) {
	if !gjson.GetBytes(element, discriminator).Exists() {
		flaws = append(flaws, "element needs to have a type")
	}

	gjson.ParseBytes(element).ForEach(func(key, value gjson.Result) bool {
		if !strings.HasSuffix(key.String(), "_path") {
			return true
		}
		exportPath := value.String()
		if strings.Contains(exportPath, "..") {
			flaws = append(flaws, fmt.Sprintf("'..' in %s", exportPath))
			return true
		}

		var fileFlaws []string
		fileFlaws, err = store.validateFile(exportPath, element)
		flaws = append(flaws, fileFlaws...)
		return err == nil
	})
	return flaws, err
}

func (store *ForensicStore) validateFile(exportPath string, element JSONElement) ([]string, error) {
	exists, err := store.fileExists(normalizeFilename(exportPath))
	if err != nil {
		return nil, err
	}
	if !exists {
		return []string{fmt.Sprintf("missing files: ('%s')", exportPath)}, nil
	}

	hashers := map[string]hash.Hash{}
	var flaws []string
	gjson.GetBytes(element, "hashes").ForEach(func(algorithm, _ gjson.Result) bool {
		switch algorithm.String() {
		case "MD5":
			hashers["MD5"] = md5.New() // #nosec
		case "SHA-1", "SHA1":
			hashers[algorithm.String()] = sha1.New() // #nosec
		case "SHA-256":
			hashers["SHA-256"] = sha256.New()
		default:
			flaws = append(flaws, fmt.Sprintf("unsupported hash %s for %s", algorithm, exportPath))
		}
		return true
	})

	writers := []io.Writer{}
	for _, h := range hashers {
		writers = append(writers, h)
	}

	f, err := store.LoadFile(exportPath)
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(io.MultiWriter(writers...), f)
	f.Close() // nolint:errcheck
	if err != nil {
		return nil, err
	}

	if s := gjson.GetBytes(element, "size"); s.Exists() && s.Int() != size {
		flaws = append(flaws, fmt.Sprintf("wrong size for %s (is %d, expected %d)", exportPath, size, s.Int()))
	}
	for algorithm, h := range hashers {
		if fmt.Sprintf("%x", h.Sum(nil)) != gjson.GetBytes(element, "hashes."+algorithm).String() {
			flaws = append(flaws, fmt.Sprintf("hashvalue mismatch %s for %s", algorithm, exportPath))
		}
	}
	return flaws, nil
}
