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
	"github.com/google/uuid"
)

// JSONElement is a single entry in the database.
type JSONElement []byte

// Element is a generic, not yet serialized element.
type Element map[string]interface{}

// File implements a STIX 2.1 File Object.
type File struct {
	ID         string                 `json:"id"`
	Artifact   string                 `json:"artifact,omitempty"`
	Type       string                 `json:"type"`
	Hashes     map[string]interface{} `json:"hashes,omitempty"`
	Size       float64                `json:"size,omitempty"`
	Name       string                 `json:"name"`
	Created    string                 `json:"created,omitempty"`
	Modified   string                 `json:"modified,omitempty"`
	Accessed   string                 `json:"accessed,omitempty"`
	Origin     map[string]interface{} `json:"origin,omitempty"`
	ExportPath string                 `json:"export_path,omitempty"`
	Errors     []interface{}          `json:"errors,omitempty"`
}

// NewFile creates a new STIX 2.1 File Object.
func NewFile() *File {
	return &File{ID: "file--" + uuid.New().String(), Type: "file"}
}

// AddError adds an error string to a File and returns this File.
func (i *File) AddError(err string) *File {
	i.Errors = append(i.Errors, err)
	return i
}

// Directory implements a STIX 2.1 Directory Object.
type Directory struct {
	ID       string                 `json:"id"`
	Artifact string                 `json:"artifact,omitempty"`
	Type     string                 `json:"type"`
	Path     string                 `json:"path"`
	Created  string                 `json:"created,omitempty"`
	Modified string                 `json:"modified,omitempty"`
	Accessed string                 `json:"accessed,omitempty"`
	Origin   map[string]interface{} `json:"origin,omitempty"`
	Errors   []interface{}          `json:"errors,omitempty"`
}

// NewDirectory creates a new STIX 2.1 Directory Object.
func NewDirectory() *Directory {
	return &Directory{ID: "directory--" + uuid.New().String(), Type: "directory"}
}

// AddError adds an error string to a Directory and returns this Directory.
func (i *Directory) AddError(err string) *Directory {
	i.Errors = append(i.Errors, err)
	return i
}

// RegistryValue implements a STIX 2.1 Windows™ Registry Value Type.
type RegistryValue struct {
	Name     string `json:"name"`
	Data     string `json:"data,omitempty"`
	DataType string `json:"data_type,omitempty"`
}

// RegistryKey implements a STIX 2.1 Windows™ Registry Key Object.
type RegistryKey struct {
	ID           string                 `json:"id"`
	Artifact     string                 `json:"artifact,omitempty"`
	Type         string                 `json:"type"`
	Key          string                 `json:"key"`
	Values       []RegistryValue        `json:"values,omitempty"`
	ModifiedTime string                 `json:"modified_time,omitempty"`
	Origin       map[string]interface{} `json:"origin,omitempty"`
	Errors       []interface{}          `json:"errors,omitempty"`
}

// NewRegistryKey creates a new STIX 2.1 Windows™ Registry Key Object.
func NewRegistryKey() *RegistryKey {
	return &RegistryKey{ID: "windows-registry-key--" + uuid.New().String(), Type: "windows-registry-key"}
}

// AddError adds an error string to a RegistryKey and returns this RegistryKey.
func (i *RegistryKey) AddError(err string) *RegistryKey {
	i.Errors = append(i.Errors, err)
	return i
}
