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

// Package encryption negotiates credentials for encrypted volumes. A Keyring
// holds the keys supplied up front, the unlockers decide what happens once
// these are used up.
package encryption

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrSkip is returned by an Unlocker if the volume should not be opened.
var ErrSkip = errors.New("volume skipped")

// Credential is a single secret for a volume, e.g. a password or a raw key.
type Credential struct {
	Kind string
	Data []byte
}

// Unlocker returns credentials for locked volumes. It is called again for
// the same volume as long as the returned credentials do not work.
type Unlocker interface {
	Unlock(volume string, kinds []string) (Credential, error)
}

// Keyring hands out every supplied credential at most once per volume.
type Keyring struct {
	mu       sync.Mutex
	keys     []Credential
	byVolume map[string][]Credential
}

// NewKeyring creates a Keyring for the given credentials.
func NewKeyring(keys []Credential) *Keyring {
	return &Keyring{keys: keys, byVolume: map[string][]Credential{}}
}

// Next returns the next untried credential for volume whose kind is in
// kinds. Credentials are tried from the end of the list.
func (k *Keyring) Next(volume string, kinds []string) (Credential, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	remaining, ok := k.byVolume[volume]
	if !ok {
		supported := map[string]bool{}
		for _, kind := range kinds {
			supported[kind] = true
		}
		for _, key := range k.keys {
			if supported[key.Kind] {
				remaining = append(remaining, key)
			}
		}
	}
	if len(remaining) == 0 {
		k.byVolume[volume] = remaining
		return Credential{}, false
	}

	next := remaining[len(remaining)-1]
	k.byVolume[volume] = remaining[:len(remaining)-1]
	return next, true
}
