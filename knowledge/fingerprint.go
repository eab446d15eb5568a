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
	"strings"

	"github.com/forensicanalysis/imageimport/volume"
)

// OSKind is a detected operating system.
type OSKind string

// Operating systems, named like in artifact definitions.
const (
	OSWindows OSKind = "Windows"
	OSMacOS   OSKind = "Darwin"
	OSLinux   OSKind = "Linux"
	OSUnknown OSKind = "Unknown"
)

var probePaths = []string{
	"/etc",
	"/System/Library",
	"/Windows/System32",
	"/WINNT/System32",
	"/WINNT35/System32",
	"/WTSRV/System32",
}

// Path specs of some accessors use backslashes.
var windowsLocations = map[string]bool{
	"/windows/system32": true,
	`\windows\system32`: true,
	"/winnt/system32":   true,
	`\winnt\system32`:   true,
	"/winnt35/system32": true,
	`\winnt35\system32`: true,
	"/wtsrv/system32":   true,
	`\wtsrv\system32`:   true,
}

// GuessOS detects the operating system of partition by looking for well
// known directories. No hits are not an error, but OSUnknown.
func GuessOS(accessor volume.Accessor, partition volume.Partition) (OSKind, error) {
	specs, err := accessor.FindPaths(probePaths, []volume.Partition{partition})
	if err != nil {
		return OSUnknown, err
	}
	var locations []string
	for _, spec := range specs {
		if location := accessor.RelativePath(spec); location != "" {
			locations = append(locations, location)
		}
	}
	return Classify(locations), nil
}

// Classify detects the operating system from the probe paths found on a
// partition. Windows wins over macOS, macOS over Linux.
func Classify(locations []string) OSKind {
	found := map[string]bool{}
	for _, location := range locations {
		found[strings.TrimRight(strings.ToLower(location), "/")] = true
	}
	for location := range windowsLocations {
		if found[location] {
			return OSWindows
		}
	}
	if found["/system/library"] {
		return OSMacOS
	}
	if found["/etc"] {
		return OSLinux
	}
	return OSUnknown
}
