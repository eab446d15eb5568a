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

package artifacts

import (
	"path"
	"regexp"
	"strings"

	"github.com/forensicanalysis/imageimport/knowledge"
	"github.com/forensicanalysis/imageimport/registry"
)

var (
	artifactVariable = regexp.MustCompile(`%%([a-zA-Z0-9_.]+)%%`)
	systemVariable   = regexp.MustCompile(`%([a-zA-Z0-9_]+)%`)
)

var userAttributes = map[string]func(knowledge.User) string{
	"sid":          func(u knowledge.User) string { return u.SID },
	"username":     func(u knowledge.User) string { return u.Username },
	"userprofile":  func(u knowledge.User) string { return u.UserProfile },
	"homedir":      func(u knowledge.User) string { return u.HomeDir },
	"appdata":      profileDir("AppData/Roaming"),
	"localappdata": profileDir("AppData/Local"),
	"temp":         profileDir("AppData/Local/Temp"),
}

func profileDir(dir string) func(knowledge.User) string {
	return func(u knowledge.User) string {
		if u.UserProfile == "" {
			return ""
		}
		return u.UserProfile + "/" + dir
	}
}

// expand replaces the %%variables%% of value. Every %%users.attribute%%
// yields one result per user. Values with unresolvable variables are
// dropped. Remaining %SystemRoot% style variables are replaced where known.
func expand(value string, system knowledge.OperatingSystem) []string {
	match := artifactVariable.FindStringSubmatch(value)
	if match == nil {
		return []string{expandSystem(value, system)}
	}

	variable, name := match[0], match[1]
	if strings.HasPrefix(strings.ToLower(name), "users.") {
		var results []string
		for _, user := range system.Users() {
			if expanded, ok := expandUser(value, user); ok {
				results = append(results, expand(expanded, system)...)
			}
		}
		return results
	}

	replacement, ok := system.Var(name)
	if !ok || replacement == "" {
		return nil
	}
	return expand(strings.ReplaceAll(value, variable, replacement), system)
}

// expandUser replaces all %%users.attribute%% variables with the attributes of
// one user.
func expandUser(value string, user knowledge.User) (string, bool) {
	ok := true
	expanded := artifactVariable.ReplaceAllStringFunc(value, func(variable string) string {
		name := strings.ToLower(strings.Trim(variable, "%"))
		if !strings.HasPrefix(name, "users.") {
			return variable
		}
		attribute, known := userAttributes[strings.TrimPrefix(name, "users.")]
		if !known || attribute(user) == "" {
			ok = false
			return variable
		}
		return attribute(user)
	})
	return expanded, ok
}

func expandSystem(value string, system knowledge.OperatingSystem) string {
	return systemVariable.ReplaceAllStringFunc(value, func(variable string) string {
		if replacement, ok := system.Var(variable); ok && replacement != "" {
			return replacement
		}
		return variable
	})
}

// expandPath returns the partition relative glob patterns for a file path.
func expandPath(value string, system knowledge.OperatingSystem) []string {
	var patterns []string
	for _, expanded := range expand(value, system) {
		expanded = strings.ReplaceAll(expanded, `\`, "/")
		if len(expanded) > 1 && expanded[1] == ':' {
			expanded = expanded[2:]
		}
		patterns = append(patterns, path.Clean("/"+expanded))
	}
	return patterns
}

// expandKey returns the registry key patterns for a key. HKEY_CURRENT_USER
// is a key per user.
func expandKey(value string, system knowledge.OperatingSystem) []string {
	var keys []string
	for _, expanded := range expand(value, system) {
		root, rest := expanded, ""
		if i := strings.IndexAny(expanded, `\/`); i >= 0 {
			root, rest = expanded[:i], expanded[i:]
		}
		if !strings.EqualFold(root, registry.HKCU) && !strings.EqualFold(root, "HKCU") {
			keys = append(keys, expanded)
			continue
		}
		for _, user := range system.Users() {
			keys = append(keys, registry.HKU+`\`+user.SID+rest)
		}
	}
	return keys
}
