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

package knowledge

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport/registry"
	"github.com/forensicanalysis/imageimport/volume"
)

// ErrNoSystemRoot is returned if a partition has no Windows directory.
var ErrNoSystemRoot = errors.New("no windows directory found")

const profileListKey = `HKLM\SOFTWARE\Microsoft\Windows NT\CurrentVersion\ProfileList`

type config struct {
	logger   *zap.Logger
	parser   registry.Parser
	codepage string
	scratch  afero.Fs
}

// Option configures the knowledge base.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithHiveParser replaces the REGF parser.
func WithHiveParser(parser registry.Parser) Option {
	return func(c *config) { c.parser = parser }
}

// WithCodepage sets the codepage of hive names.
func WithCodepage(codepage string) Option {
	return func(c *config) { c.codepage = codepage }
}

// WithScratch sets the filesystem hives are exported to. By default a
// temporary directory is used.
func WithScratch(fs afero.Fs) Option {
	return func(c *config) { c.scratch = fs }
}

func newConfig(opts []Option) *config {
	c := &config{logger: zap.NewNop(), parser: registry.Parse, codepage: registry.DefaultCodepage}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Windows is the knowledge base of a Windows installation.
type Windows struct {
	vars     *Variables
	users    map[string]User
	opener   *HiveOpener
	registry *registry.Registry
	logger   *zap.Logger
}

// NewWindows bootstraps the knowledge base of the Windows installation on
// partition. %SystemRoot% is set first, because registry access needs it.
func NewWindows(accessor volume.Accessor, partition volume.Partition, opts ...Option) (*Windows, error) {
	c := newConfig(opts)
	logger := c.logger.With(zap.String("partition", partition.ID))
	logger.Info("creating new windows system")

	w := &Windows{vars: NewVariables(logger), users: map[string]User{}, logger: logger}
	if err := w.readSystemInfos(accessor, partition); err != nil {
		return nil, err
	}

	opener, err := NewHiveOpener(accessor, partition, w, append(opts, WithLogger(logger))...)
	if err != nil {
		return nil, err
	}
	w.opener = opener
	w.registry = registry.New(opener)
	w.registry.SetProfileLookup(w.profile)
	w.readUsers()
	return w, nil
}

func (w *Windows) readSystemInfos(accessor volume.Accessor, partition volume.Partition) error {
	specs, err := accessor.FindPaths([]string{"/Windows", "/WINNT"}, []volume.Partition{partition})
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return errors.Wrapf(ErrNoSystemRoot, "on %s", partition.ID)
	}
	if len(specs) > 1 {
		w.logger.Warn("more than one installation of windows detected", zap.String("using", specs[0].String()))
	}
	w.SetVar("%SystemRoot%", accessor.RelativePath(specs[0]))

	// all paths are relative to the partition root
	w.SetVar("%SystemDrive%", "/")
	return nil
}

func (w *Windows) readUsers() {
	profileList, err := w.registry.Key(profileListKey)
	if err != nil {
		w.logger.Error("could not get SOFTWARE key for ProfileList", zap.Error(err))
		return
	}

	for _, subkey := range profileList.Subkeys() {
		sid := subkey.Name()
		user, profilePath := "", ""
		if value, ok := registry.GetValue(subkey, "ProfileImagePath"); ok {
			profilePath = value.String()
			parts := strings.Split(profilePath, `\`)
			user = parts[len(parts)-1]
		}
		w.logger.Info("found user", zap.String("user", user), zap.String("sid", sid))

		// ProfileImagePath is C:\Users\Someone or %SystemRoot%\Something
		relProfilePath := strings.ReplaceAll(profilePath, `\`, "/")
		if len(profilePath) > 1 && profilePath[1] == ':' {
			relProfilePath = relProfilePath[2:]
		}
		w.users[sid] = User{SID: sid, Username: user, UserProfile: relProfilePath, HomeDir: relProfilePath}
	}
}

func (w *Windows) profile(sid string) (string, bool) {
	user, ok := w.users[sid]
	return user.UserProfile, ok
}

// Name returns "Windows".
func (w *Windows) Name() string { return string(OSWindows) }

// Registry returns the registry of the installation.
func (w *Windows) Registry() *registry.Registry { return w.registry }

// SetVar stores a variable, key may be decorated with % and environ_.
func (w *Windows) SetVar(key, value string) { w.vars.Set(key, value) }

// Var returns a variable, key may be decorated with % and environ_.
func (w *Windows) Var(key string) (string, bool) { return w.vars.Var(key) }

// User returns the user with the given SID.
func (w *Windows) User(sid string) (User, bool) {
	user, ok := w.users[sid]
	return user, ok
}

// Users returns all users sorted by SID.
func (w *Windows) Users() []User {
	users := make([]User, 0, len(w.users))
	for _, user := range w.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].SID < users[j].SID })
	return users
}

// Close releases the opened hives.
func (w *Windows) Close() error {
	if w.opener == nil {
		return nil
	}
	return w.opener.Close()
}
