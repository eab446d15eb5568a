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
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport/encryption"
	"github.com/forensicanalysis/imageimport/spool"
)

// Credential kinds for encrypted containers.
const (
	KindPassword = "password"
	KindIdentity = "identity"
)

var (
	ageMagic      = []byte("age-encryption.org/")
	ageArmorMagic = []byte(armor.Header)
	zipMagic      = []byte("PK\x03\x04")
)

// NewEncrypted creates a volume for an age encrypted partition zip or image.
// The unlocker is asked for credentials when the partitions are listed
// first. If it skips, Partitions returns ErrLocked.
func NewEncrypted(name string, unlocker encryption.Unlocker, opts ...Option) *Volume {
	v := NewVolume(name, nil, opts...)
	v.load = func() ([]Mount, io.Closer, error) {
		plain, cleanup, err := decryptContainer(name, unlocker, v.logger)
		if err != nil {
			return nil, nil, err
		}

		head := make([]byte, len(zipMagic))
		if _, err := plain.ReadAt(head, 0); err != nil && err != io.EOF {
			cleanup() // nolint:errcheck
			return nil, nil, err
		}
		var mounts []Mount
		if bytes.Equal(head, zipMagic) {
			var mount Mount
			mount, err = zipMount("p1", plain, plain.Size())
			mounts = []Mount{mount}
		} else {
			mounts, err = imageMounts(plain, plain.Size(), v.logger)
		}
		if err != nil {
			cleanup() // nolint:errcheck
			return nil, nil, err
		}
		return mounts, closeFunc(cleanup), nil
	}
	return v
}

func decryptContainer(name string, unlocker encryption.Unlocker, logger *zap.Logger) (*spool.TemporaryFile, func() error, error) {
	for {
		credential, err := unlocker.Unlock(name, []string{KindPassword, KindIdentity})
		if errors.Is(err, encryption.ErrSkip) {
			return nil, nil, errors.Wrap(ErrLocked, name)
		}
		if err != nil {
			return nil, nil, err
		}

		identity, err := ageIdentity(credential)
		if err != nil {
			logger.Warn("invalid credential", zap.String("volume", name), zap.Error(err))
			continue
		}

		plain, cleanup, err := decryptFile(name, identity)
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			logger.Warn("credential does not unlock volume", zap.String("volume", name), zap.String("kind", credential.Kind))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return plain, cleanup, nil
	}
}

func ageIdentity(credential encryption.Credential) (age.Identity, error) {
	switch credential.Kind {
	case KindPassword:
		return age.NewScryptIdentity(string(credential.Data))
	case KindIdentity:
		return age.ParseX25519Identity(strings.TrimSpace(string(credential.Data)))
	}
	return nil, errors.Errorf("unsupported credential kind %s", credential.Kind)
}

func decryptFile(name string, identity age.Identity) (*spool.TemporaryFile, func() error, error) {
	f, err := os.Open(name) // #nosec
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() // nolint:errcheck

	var in io.Reader = bufio.NewReader(f)
	peek, _ := in.(*bufio.Reader).Peek(len(ageArmorMagic))
	if bytes.Equal(peek, ageArmorMagic) {
		in = armor.NewReader(in)
	}

	r, err := age.Decrypt(in, identity)
	if err != nil {
		return nil, nil, err
	}

	plain, cleanup := spool.New(spool.DefaultMaxSize)
	if _, err := io.Copy(plain, r); err != nil {
		cleanup() // nolint:errcheck
		return nil, nil, errors.Wrapf(err, "could not decrypt %s", name)
	}
	return plain, cleanup, nil
}

func isEncrypted(head []byte) bool {
	return bytes.HasPrefix(head, ageMagic) || bytes.HasPrefix(head, ageArmorMagic)
}
