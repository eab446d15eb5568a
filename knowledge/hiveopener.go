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
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport/registry"
	"github.com/forensicanalysis/imageimport/volume"
)

var variablePattern = regexp.MustCompile(`%[a-zA-Z0-9_]+%`)

type openHive struct {
	name string
	file afero.File
	hive registry.Hive
}

// HiveOpener opens hive files of a partition. Hives are exported into
// scratch storage and parsed from there. Paths that do not exist are
// remembered and never looked up again.
type HiveOpener struct {
	accessor  volume.Accessor
	partition volume.Partition
	vars      VarGetter
	parser    registry.Parser
	codepage  string
	logger    *zap.Logger

	scratch    afero.Fs
	scratchDir string

	notPresent map[string]bool
	open       map[string]*openHive
	handles    []*openHive
}

// NewHiveOpener creates a HiveOpener. vars is borrowed and must outlive the
// opener.
func NewHiveOpener(accessor volume.Accessor, partition volume.Partition, vars VarGetter, opts ...Option) (*HiveOpener, error) {
	c := newConfig(opts)
	opener := &HiveOpener{
		accessor:   accessor,
		partition:  partition,
		vars:       vars,
		parser:     c.parser,
		codepage:   c.codepage,
		logger:     c.logger,
		scratch:    c.scratch,
		notPresent: map[string]bool{},
		open:       map[string]*openHive{},
	}
	if opener.scratch == nil {
		dir, err := os.MkdirTemp("", "hives")
		if err != nil {
			return nil, errors.Wrap(err, "could not create scratch directory")
		}
		opener.scratchDir = dir
		opener.scratch = afero.NewBasePathFs(afero.NewOsFs(), dir)
	}
	return opener, nil
}

// Open implements registry.FileOpener.
func (o *HiveOpener) Open(hivePath string) (registry.Hive, error) {
	o.logger.Info("open registry", zap.String("path", hivePath))
	if o.notPresent[hivePath] {
		return nil, errors.Wrap(registry.ErrHiveNotFound, hivePath)
	}

	realPath := hivePath
	for _, variable := range variablePattern.FindAllString(hivePath, -1) {
		value, ok := o.vars.Var(variable)
		if !ok || value == "" {
			o.logger.Warn("could not resolve variable", zap.String("variable", variable), zap.String("path", hivePath))
			return nil, errors.Wrapf(registry.ErrHiveNotFound, "unresolved variable %s in %s", variable, hivePath)
		}
		realPath = strings.ReplaceAll(realPath, variable, value)
	}
	realPath = normalizeHivePath(realPath)

	if o.notPresent[realPath] {
		return nil, errors.Wrap(registry.ErrHiveNotFound, hivePath)
	}
	if open, ok := o.open[realPath]; ok {
		return open.hive, nil
	}

	specs, err := o.accessor.FindPaths([]string{realPath}, []volume.Partition{o.partition})
	if err != nil {
		return nil, errors.Wrapf(registry.ErrHiveOpenFailed, "%s: %s", hivePath, err)
	}
	if len(specs) == 0 {
		o.logger.Warn("could not find requested registry hive", zap.String("path", hivePath), zap.String("resolved", realPath))
		o.notPresent[hivePath] = true
		o.notPresent[realPath] = true
		return nil, errors.Wrap(registry.ErrHiveNotFound, hivePath)
	}
	if len(specs) > 1 {
		o.logger.Warn("found multiple registry hives, using the first",
			zap.String("path", hivePath), zap.String("using", specs[0].String()))
	}

	name := strings.ReplaceAll(realPath, "/", "_")
	if err := o.accessor.ExportFile(specs[0], o.scratch, name); err != nil {
		return nil, errors.Wrapf(registry.ErrHiveOpenFailed, "%s: %s", hivePath, err)
	}
	file, err := o.scratch.Open(name)
	if err != nil {
		o.logger.Warn("could not open registry hive", zap.String("path", hivePath), zap.String("resolved", realPath), zap.Error(err))
		return nil, errors.Wrapf(registry.ErrHiveOpenFailed, "%s: %s", hivePath, err)
	}
	hive, err := o.parser(file, o.codepage)
	if err != nil {
		file.Close() // nolint:errcheck
		o.scratch.Remove(name) // nolint:errcheck
		return nil, errors.Wrap(err, hivePath)
	}

	handle := &openHive{name: name, file: file, hive: hive}
	o.handles = append(o.handles, handle)
	o.open[realPath] = handle
	return hive, nil
}

// normalizeHivePath converts a Windows path to a partition root relative
// path.
func normalizeHivePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(strings.ToLower(p), "c:/") {
		p = "/" + p[3:]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Close closes all hives and removes the scratch files. Errors are logged.
func (o *HiveOpener) Close() error {
	for _, handle := range o.handles {
		if err := handle.file.Close(); err != nil {
			o.logger.Warn("error cleaning up", zap.String("file", handle.name), zap.Error(err))
		}
		if err := o.scratch.Remove(handle.name); err != nil {
			o.logger.Warn("error cleaning up", zap.String("file", handle.name), zap.Error(err))
		}
	}
	o.handles = nil
	o.open = map[string]*openHive{}

	if o.scratchDir != "" {
		if err := os.RemoveAll(o.scratchDir); err != nil {
			o.logger.Warn("error removing scratch directory", zap.String("dir", o.scratchDir), zap.Error(err))
		}
		o.scratchDir = ""
	}
	return nil
}
