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
	"encoding/json"
	"reflect"
	"sync"

	"github.com/fatih/structs"
	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
)

var hashNames = map[string]bool{
	"MD5":        true,
	"MD6":        true,
	"RIPEMD-160": true,
	"SHA-1":      true,
	"SHA-224":    true,
	"SHA-256":    true,
	"SHA-384":    true,
	"SHA-512":    true,
	"SHA3-224":   true,
	"SHA3-256":   true,
	"SHA3-384":   true,
	"SHA3-512":   true,
	"SSDEEP":     true,
	"WHIRLPOOL":  true,
}

func structToJSON(element interface{}) (JSONElement, error) {
	var m interface{} = element
	if structs.IsStruct(element) {
		m = structs.Map(element)
	}
	return json.Marshal(lower(m))
}

// lower converts struct field names to snake case and drops empty values.
// Hash algorithm names keep their spelling.
func lower(f interface{}) interface{} {
	switch f := f.(type) {
	case []interface{}:
		for i := range f {
			if !isEmptyValue(reflect.ValueOf(f[i])) {
				f[i] = lower(f[i])
			}
		}
		return f
	case []map[string]interface{}:
		l := make([]interface{}, 0, len(f))
		for _, m := range f {
			l = append(l, lower(m))
		}
		return l
	case map[string]interface{}:
		lf := make(map[string]interface{}, len(f))
		for k, v := range f {
			if isEmptyValue(reflect.ValueOf(v)) {
				continue
			}
			if hashNames[k] {
				lf[k] = lower(v)
			} else {
				lf[strcase.ToSnake(k)] = lower(v)
			}
		}
		return lf
	default:
		return f
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	case reflect.Invalid:
		return true
	}
	return false
}

func withID(element JSONElement, id string) JSONElement {
	m := map[string]interface{}{}
	if err := json.Unmarshal(element, &m); err != nil {
		return element
	}
	m["id"] = id
	b, err := json.Marshal(m)
	if err != nil {
		return element
	}
	return b
}

// flatFields lists the dotted field names of nested objects. Arrays are
// not descended into.
func flatFields(prefix string, value gjson.Result) []string {
	var fields []string
	value.ForEach(func(key, child gjson.Result) bool {
		name := key.String()
		if prefix != "" {
			name = prefix + "." + name
		}
		if child.IsObject() {
			fields = append(fields, flatFields(name, child)...)
		} else {
			fields = append(fields, name)
		}
		return true
	})
	return fields
}

type typeMap struct {
	sync.Mutex
	changed bool
	types   map[string]map[string]bool
}

func newTypeMap() *typeMap {
	return &typeMap{types: map[string]map[string]bool{}}
}

func (rm *typeMap) all() map[string]map[string]bool {
	rm.Lock()
	defer rm.Unlock()
	return rm.types
}

func (rm *typeMap) addAll(name string, fields []string) {
	rm.Lock()
	defer rm.Unlock()
	if _, ok := rm.types[name]; !ok {
		rm.types[name] = map[string]bool{}
	}
	for _, field := range fields {
		if !rm.types[name][field] {
			rm.types[name][field] = true
			rm.changed = true
		}
	}
}
