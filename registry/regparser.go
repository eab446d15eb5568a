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

package registry

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"www.velocidex.com/golang/regparser"
)

// DefaultCodepage is used for hive names that are not stored as UTF-16.
const DefaultCodepage = "cp1252"

var codepages = map[string]*charmap.Charmap{
	"cp437":      charmap.CodePage437,
	"cp850":      charmap.CodePage850,
	"cp852":      charmap.CodePage852,
	"cp866":      charmap.CodePage866,
	"cp1250":     charmap.Windows1250,
	"cp1251":     charmap.Windows1251,
	"cp1252":     charmap.Windows1252,
	"cp1253":     charmap.Windows1253,
	"cp1254":     charmap.Windows1254,
	"cp1255":     charmap.Windows1255,
	"cp1256":     charmap.Windows1256,
	"cp1257":     charmap.Windows1257,
	"cp1258":     charmap.Windows1258,
	"iso-8859-1": charmap.ISO8859_1,
}

// Parse reads a REGF hive file.
func Parse(r io.ReaderAt, codepage string) (hive Hive, err error) {
	cm, ok := codepages[strings.ToLower(codepage)]
	if !ok {
		return nil, errors.Errorf("unsupported codepage %s", codepage)
	}

	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, 0); err != nil || string(magic) != "regf" {
		return nil, errors.Wrap(ErrHiveOpenFailed, "missing regf signature")
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrHiveOpenFailed, "%v", r)
		}
	}()

	reg, err := regparser.NewRegistry(r)
	if err != nil {
		return nil, errors.Wrap(ErrHiveOpenFailed, err.Error())
	}
	return &regfHive{reg: reg, decoder: cm.NewDecoder()}, nil
}

type regfHive struct {
	reg     *regparser.Registry
	decoder *encoding.Decoder
}

func (h *regfHive) Key(keyPath string) (Key, error) {
	key := h.reg.OpenKey(strings.Join(segments(keyPath), `\`))
	if key == nil {
		return nil, errors.Wrapf(ErrKeyNotFound, "%s", keyPath)
	}
	return &regfKey{key: key, hive: h}, nil
}

// decode converts names that regparser returned as raw single byte strings.
func (h *regfHive) decode(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := h.decoder.String(s)
	if err != nil {
		return s
	}
	return decoded
}

type regfKey struct {
	key  *regparser.CM_KEY_NODE
	hive *regfHive
}

func (k *regfKey) Name() string {
	return k.hive.decode(k.key.Name())
}

func (k *regfKey) LastWritten() time.Time {
	return k.key.LastWriteTime().Time
}

func (k *regfKey) Subkeys() []Key {
	var keys []Key
	for _, subkey := range k.key.Subkeys() {
		keys = append(keys, &regfKey{key: subkey, hive: k.hive})
	}
	return keys
}

func (k *regfKey) Values() []Value {
	var values []Value
	for _, value := range k.key.Values() {
		values = append(values, &regfValue{value: value, hive: k.hive})
	}
	return values
}

type regfValue struct {
	value *regparser.CM_KEY_VALUE
	hive  *regfHive
}

func (v *regfValue) Name() string {
	return v.hive.decode(v.value.ValueName())
}

func (v *regfValue) Type() string {
	return v.value.TypeString()
}

func (v *regfValue) Data() []byte {
	return v.value.ValueData().Data
}

func (v *regfValue) String() string {
	data := v.value.ValueData()
	switch data.Type {
	case regparser.REG_SZ, regparser.REG_EXPAND_SZ, regparser.REG_MULTI_SZ:
		return v.hive.decode(strings.TrimRight(data.String, "\x00"))
	case regparser.REG_DWORD, regparser.REG_QWORD, regparser.REG_DWORD_BIG_ENDIAN:
		return fmt.Sprint(data.Uint64)
	}
	return hex.EncodeToString(data.Data)
}
