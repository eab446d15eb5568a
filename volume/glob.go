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
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultRecursionDepth is the depth of a bare ** segment.
const DefaultRecursionDepth = 3

// Glob returns all locations in fs that match pattern. Segments may use the
// path.Match syntax, matching is case insensitive. A ** segment matches zero
// up to three directory levels, **N zero up to N levels.
func Glob(fs Filesystem, pattern string) ([]string, error) {
	pattern = cleanName(pattern)
	var segments []string
	for _, segment := range strings.Split(pattern, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	for _, segment := range segments {
		if _, err := path.Match(strings.ToLower(segment), ""); err != nil {
			return nil, errors.Wrapf(err, "bad pattern %s", pattern)
		}
	}

	g := &globber{fs: fs, seen: map[string]bool{}}
	g.walk("/", segments)
	sort.Strings(g.matches)
	return g.matches, nil
}

type globber struct {
	fs      Filesystem
	seen    map[string]bool
	matches []string
}

func (g *globber) walk(dir string, segments []string) {
	if len(segments) == 0 {
		if _, err := g.fs.Stat(dir); err == nil && !g.seen[dir] {
			g.seen[dir] = true
			g.matches = append(g.matches, dir)
		}
		return
	}

	segment := segments[0]
	if depth, ok := recursionDepth(segment); ok {
		g.walk(dir, segments[1:])
		if depth == 0 {
			return
		}
		next := append([]string{"**" + strconv.Itoa(depth-1)}, segments[1:]...)
		for _, entry := range g.readDir(dir) {
			if entry.IsDir() {
				g.walk(path.Join(dir, entry.Name()), next)
			}
		}
		return
	}

	lower := strings.ToLower(segment)
	for _, entry := range g.readDir(dir) {
		if len(segments) > 1 && !entry.IsDir() {
			continue
		}
		if ok, _ := path.Match(lower, strings.ToLower(entry.Name())); ok {
			g.walk(path.Join(dir, entry.Name()), segments[1:])
		}
	}
}

func (g *globber) readDir(dir string) []os.FileInfo {
	entries, err := g.fs.ReadDir(dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries
}

func recursionDepth(segment string) (int, bool) {
	if !strings.HasPrefix(segment, "**") {
		return 0, false
	}
	if segment == "**" {
		return DefaultRecursionDepth, true
	}
	depth, err := strconv.Atoi(segment[2:])
	if err != nil || depth < 0 {
		return 0, false
	}
	return depth, true
}
