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

// Package forensicstore is the evidence store extracted artifacts are written
// to. A forensicstore is a single sqlite file with an elements table for the
// item metadata (json, one row per item) and an sqlar table for file content.
package forensicstore

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/forensicanalysis/imageimport/spool"
)

const forensicstoreVersion = 2
const elementaryApplicationID = 1701602669
const discriminator = "type"

const sqlarTable = `CREATE TABLE IF NOT EXISTS sqlar(
  name TEXT PRIMARY KEY,
  mode INT,
  mtime INT,
  sz INT,
  data BLOB
);`

// ErrStoreExists is returned by New if the file already exists.
var ErrStoreExists = errors.New("store already exists")

// ErrStoreNotExists is returned by Open if the file is missing.
var ErrStoreNotExists = errors.New("store does not exist")

// ErrElementNotExists is returned by Get for unknown ids.
var ErrElementNotExists = errors.New("element does not exist")

// ForensicStore stores the items and exported files of one investigation.
type ForensicStore struct {
	cursor    *sqlite.Conn
	types     *typeMap
	closeOnce sync.Once
	closeErr  error
}

// New creates a new forensicstore.
func New(url string) (*ForensicStore, error) {
	return open(url, true)
}

// Open opens an existing forensicstore.
func Open(url string) (*ForensicStore, error) {
	return open(url, false)
}

func open(url string, create bool) (*ForensicStore, error) { // nolint:gocyclo,funlen
	if url != ":memory:" {
		exists := true
		_, err := os.Stat(url)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			exists = false
		}

		if create && exists {
			return nil, ErrStoreExists
		}
		if !create && !exists {
			return nil, ErrStoreNotExists
		}

		if create {
			if err := os.MkdirAll(path.Dir(url), 0750); err != nil {
				return nil, err
			}
		}
	}

	store := &ForensicStore{types: newTypeMap()}

	var err error
	store.cursor, err = sqlite.OpenConn(url, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", url)
	}

	if create {
		if err := setPragma(store.cursor, "application_id", elementaryApplicationID); err != nil {
			return nil, err
		}
		if err := setPragma(store.cursor, "user_version", forensicstoreVersion); err != nil {
			return nil, err
		}
		err = store.exec("CREATE VIRTUAL TABLE `elements` " +
			"USING fts5(id UNINDEXED, json, insert_time UNINDEXED, tokenize=\"unicode61 tokenchars '/.'\")")
		if err != nil {
			return nil, err
		}
	} else {
		applicationID, err := pragma(store.cursor, "application_id")
		if err != nil {
			return nil, err
		}
		if applicationID != elementaryApplicationID {
			return nil, fmt.Errorf("wrong file format (application_id is %d, requires %d)", applicationID, elementaryApplicationID)
		}
		version, err := pragma(store.cursor, "user_version")
		if err != nil {
			return nil, err
		}
		if version != forensicstoreVersion {
			return nil, fmt.Errorf("wrong file format (user_version is %d, requires %d)", version, forensicstoreVersion)
		}
	}

	if err := store.exec(sqlarTable); err != nil {
		return nil, err
	}

	return store, nil
}

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	stmt, _, err := conn.PrepareTransient("PRAGMA " + name)
	if err != nil {
		return 0, err
	}
	if _, err = stmt.Step(); err != nil {
		return 0, err
	}
	i := stmt.GetInt64(name)
	return i, stmt.Finalize()
}

func setPragma(conn *sqlite.Conn, name string, i int64) error {
	stmt, _, err := conn.PrepareTransient("PRAGMA " + name + " = " + fmt.Sprint(i))
	if err != nil {
		return err
	}
	if _, err = stmt.Step(); err != nil {
		return err
	}
	return stmt.Finalize()
}

/* ################################
#   API
################################ */

// Insert adds a single element. Elements without id get a new one.
func (store *ForensicStore) Insert(element JSONElement) (string, error) {
	if !gjson.ValidBytes(element) {
		return "", errors.New("element is not valid json")
	}

	elementType := gjson.GetBytes(element, discriminator)
	if !elementType.Exists() || elementType.String() == "" {
		return "", errors.New("element requires type")
	}

	id := gjson.GetBytes(element, "id").String()
	if id == "" {
		id = elementType.String() + "--" + uuid.New().String()
		element = withID(element, id)
	}

	store.types.addAll(elementType.String(), flatFields("", gjson.ParseBytes(element)))

	stmt, err := store.cursor.Prepare("INSERT INTO `elements` (id, json, insert_time) VALUES ($id, $json, $time)")
	if err != nil {
		return "", errors.Wrap(err, "could not prepare insert")
	}
	stmt.SetText("$id", id)
	stmt.SetText("$json", string(element))
	stmt.SetText("$time", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if _, err = stmt.Step(); err != nil {
		return "", errors.Wrap(err, "could not insert element")
	}
	return id, stmt.Reset()
}

// InsertStruct converts a Go struct to an element and inserts it.
func (store *ForensicStore) InsertStruct(element interface{}) (string, error) {
	b, err := structToJSON(element)
	if err != nil {
		return "", err
	}
	return store.Insert(b)
}

// Get retrieves a single element.
func (store *ForensicStore) Get(id string) (JSONElement, error) {
	stmt, err := store.cursor.Prepare("SELECT json FROM `elements` WHERE id = $id")
	if err != nil {
		return nil, err
	}
	stmt.SetText("$id", id)

	elements, err := store.rowsToElements(stmt)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, ErrElementNotExists
	}
	return elements[0], nil
}

// Select retrieves all elements that match at least one of the conditions.
// Each condition maps json fields to LIKE patterns that all have to match.
func (store *ForensicStore) Select(conditions []map[string]string) ([]JSONElement, error) {
	var ors []string
	var args []string
	for _, condition := range conditions {
		keys := make([]string, 0, len(condition))
		for key := range condition {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var ands []string
		for _, key := range keys {
			args = append(args, condition[key])
			ands = append(ands, fmt.Sprintf("json_extract(json, '$.%s') LIKE $p%d", strings.ReplaceAll(key, "'", ""), len(args)))
		}
		if len(ands) > 0 {
			ors = append(ors, "("+strings.Join(ands, " AND ")+")")
		}
	}

	query := "SELECT json FROM `elements`"
	if len(ors) > 0 {
		query += " WHERE " + strings.Join(ors, " OR ")
	}
	stmt, err := store.cursor.Prepare(query)
	if err != nil {
		return nil, err
	}
	for i, arg := range args {
		stmt.SetText(fmt.Sprintf("$p%d", i+1), arg)
	}
	return store.rowsToElements(stmt)
}

// Query runs a raw sql query. The query needs to return a json column.
func (store *ForensicStore) Query(query string) ([]JSONElement, error) {
	stmt, _, err := store.cursor.PrepareTransient(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Finalize() // nolint:errcheck
	return store.rowsToElements(stmt)
}

// All returns every element.
func (store *ForensicStore) All() ([]JSONElement, error) {
	return store.Select(nil)
}

// StoreFile reserves filePath in the store and returns a writer for the
// content. If filePath is taken, a numbered variant is used. The content is
// written to the store when the writer is closed.
func (store *ForensicStore) StoreFile(filePath string) (string, io.WriteCloser, error) {
	storePath := normalizeFilename(filePath)

	ext := path.Ext(storePath)
	base := storePath[:len(storePath)-len(ext)]
	for i := 0; ; i++ {
		if i > 0 {
			storePath = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		exists, err := store.fileExists(storePath)
		if err != nil {
			return "", nil, err
		}
		if !exists {
			break
		}
	}

	stmt := store.cursor.Prep("INSERT INTO sqlar (name, mode, mtime, sz) VALUES ($name, $mode, $mtime, 0)")
	stmt.SetText("$name", storePath)
	stmt.SetInt64("$mode", 0644)
	stmt.SetInt64("$mtime", time.Now().Unix())
	if err := step(stmt); err != nil {
		return "", nil, errors.Wrapf(err, "could not create %s", storePath)
	}

	w, err := newFileWriter(store, store.cursor.LastInsertRowID(), storePath)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimPrefix(storePath, "/"), w, nil
}

// LoadFile opens a file that was added with StoreFile.
func (store *ForensicStore) LoadFile(filePath string) (io.ReadCloser, error) {
	stmt := store.cursor.Prep("SELECT rowid FROM sqlar WHERE name = $name")
	stmt.SetText("$name", normalizeFilename(filePath))
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset() // nolint:errcheck
		return nil, os.ErrNotExist
	}
	id := stmt.GetInt64("rowid")
	if err := stmt.Reset(); err != nil {
		return nil, err
	}

	blob, err := store.cursor.OpenBlob("", "sqlar", "data", id, false)
	if err != nil {
		return nil, err
	}
	if blob.Size() == 0 {
		return blob, nil
	}
	zr, err := zlib.NewReader(blob)
	if err != nil {
		blob.Close() // nolint:errcheck
		return nil, err
	}
	return &fileReader{ReadCloser: zr, blob: blob}, nil
}

// Close creates the type views and closes the database. Later calls return
// the result of the first one.
func (store *ForensicStore) Close() error {
	store.closeOnce.Do(func() {
		if store.types.changed {
			if err := store.createViews(); err != nil {
				store.closeErr = err
			}
		}
		if err := store.cursor.Close(); err != nil && store.closeErr == nil {
			store.closeErr = err
		}
	})
	return store.closeErr
}

/* ################################
#   Intern
################################ */

func (store *ForensicStore) fileExists(name string) (bool, error) {
	stmt := store.cursor.Prep("SELECT count(*) AS n FROM sqlar WHERE name = $name")
	stmt.SetText("$name", name)
	if _, err := stmt.Step(); err != nil {
		return false, err
	}
	n := stmt.GetInt64("n")
	return n > 0, stmt.Reset()
}

func (store *ForensicStore) createViews() error {
	for typeName, fields := range store.types.all() {
		if err := store.exec(fmt.Sprintf("DROP VIEW IF EXISTS '%s'", typeName)); err != nil {
			return err
		}
		var columns []string
		for field := range fields {
			columns = append(columns, fmt.Sprintf("json_extract(json, '$.%s') as '%s'", field, field))
		}
		sort.Strings(columns)
		err := store.exec(fmt.Sprintf("CREATE VIEW '%s' AS SELECT %s FROM elements WHERE json_extract(json, '$.%s') = '%s'",
			typeName, strings.Join(columns, ", "), discriminator, typeName))
		if err != nil {
			return err
		}
	}
	return nil
}

func (store *ForensicStore) rowsToElements(stmt *sqlite.Stmt) ([]JSONElement, error) {
	elements := []JSONElement{}
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasRow {
			break
		}
		elements = append(elements, JSONElement(stmt.GetText("json")))
	}
	return elements, stmt.Reset()
}

func (store *ForensicStore) exec(query string) error {
	stmt, _, err := store.cursor.PrepareTransient(query)
	if err != nil {
		return err
	}
	if _, err = stmt.Step(); err != nil {
		return err
	}
	return stmt.Finalize()
}

func step(stmt *sqlite.Stmt) error {
	if _, err := stmt.Step(); err != nil {
		return err
	}
	return stmt.Reset()
}

// fileWriter compresses into a spool file and copies the result into the
// sqlar blob on Close.
type fileWriter struct {
	store  *ForensicStore
	id     int64
	name   string
	size   int64
	buf    *spool.TemporaryFile
	zw     *zlib.Writer
	closed bool
}

func newFileWriter(store *ForensicStore, id int64, name string) (*fileWriter, error) {
	buf, _ := spool.New(spool.DefaultMaxSize)
	return &fileWriter{store: store, id: id, name: name, buf: buf, zw: zlib.NewWriter(buf)}, nil
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.zw.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *fileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.buf.Close() // nolint:errcheck

	if err := w.zw.Close(); err != nil {
		return err
	}

	stmt := w.store.cursor.Prep("UPDATE sqlar SET sz = $sz, data = $data WHERE rowid = $id")
	stmt.SetInt64("$id", w.id)
	stmt.SetInt64("$sz", w.size)
	stmt.SetZeroBlob("$data", w.buf.Size())
	if err := step(stmt); err != nil {
		return errors.Wrapf(err, "could not update %s", w.name)
	}

	blob, err := w.store.cursor.OpenBlob("", "sqlar", "data", w.id, true)
	if err != nil {
		return err
	}
	w.buf.Rewind()
	if _, err := io.Copy(blob, w.buf); err != nil {
		blob.Close() // nolint:errcheck
		return errors.Wrapf(err, "could not write %s", w.name)
	}
	return blob.Close()
}

type fileReader struct {
	io.ReadCloser
	blob io.Closer
}

func (r *fileReader) Close() error {
	err := r.ReadCloser.Close()
	if berr := r.blob.Close(); err == nil {
		err = berr
	}
	return err
}

func normalizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return "/" + strings.Trim(name, "/")
}
