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
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport/encryption"
)

func testFs(t *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/Windows/System32/config/SOFTWARE": "software hive",
		"/Windows/System32/config/SYSTEM":   "system hive",
		"/Users/alice/NTUSER.DAT":           "alice",
		"/Users/bob/NTUSER.DAT":             "bob",
		"/Users/bob/AppData/Local/a/b/c.db": "deep",
		"/etc/passwd":                       "root:x:0:0",
	}
	for name, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
	}
	return fs
}

func TestGlob(t *testing.T) {
	fs := FromAfero(testFs(t))

	tests := []struct {
		name    string
		pattern string
		want    []string
		wantErr bool
	}{
		{"case insensitive", "/windows/system32", []string{"/Windows/System32"}, false},
		{"backslashes", `\WINDOWS\System32\config\software`, []string{"/Windows/System32/config/SOFTWARE"}, false},
		{"star", "/Users/*/NTUSER.DAT", []string{"/Users/alice/NTUSER.DAT", "/Users/bob/NTUSER.DAT"}, false},
		{"class", "/Users/[a]*", []string{"/Users/alice"}, false},
		{"question mark", "/etc/passw?", []string{"/etc/passwd"}, false},
		{"recursive", "/Users/**/*.db", nil, false},
		{"recursive depth", "/Users/**5/*.db", []string{"/Users/bob/AppData/Local/a/b/c.db"}, false},
		{"recursive zero levels", "/Users/**/NTUSER.DAT", []string{"/Users/alice/NTUSER.DAT", "/Users/bob/NTUSER.DAT"}, false},
		{"root", "/", []string{"/"}, false},
		{"file is no directory", "/etc/passwd/x", nil, false},
		{"missing", "/WINNT", nil, false},
		{"bad pattern", "/Users/[", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Glob(fs, tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type countingCloser struct{ n int }

func (c *countingCloser) Close() error {
	c.n++
	return nil
}

func TestVolume(t *testing.T) {
	closer := &countingCloser{}
	loads := 0
	v := NewVolume("test", func() ([]Mount, io.Closer, error) {
		loads++
		return []Mount{
			{Partition: Partition{ID: "p1", Type: TypeNTFS}, FS: FromAfero(testFs(t))},
			{Partition: Partition{ID: "p2", Type: TypeBDE}},
		}, closer, nil
	})

	partitions, err := v.Partitions()
	require.NoError(t, err)
	assert.Equal(t, []Partition{
		{ID: "p1", Type: TypeNTFS, Root: PathSpec{Partition: "p1", Location: "/"}},
		{ID: "p2", Type: TypeBDE, Root: PathSpec{Partition: "p2", Location: "/"}},
	}, partitions)

	specs, err := v.FindPaths([]string{"/Windows", "/WINDOWS", "/WINNT", "/etc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []PathSpec{{Partition: "p1", Location: "/Windows"}, {Partition: "p1", Location: "/etc"}}, specs)
	assert.Equal(t, "/Windows", v.RelativePath(specs[0]))

	specs, err = v.ReadDir(PathSpec{Partition: "p1", Location: "/Users"})
	require.NoError(t, err)
	assert.Equal(t, []PathSpec{{Partition: "p1", Location: "/Users/alice"}, {Partition: "p1", Location: "/Users/bob"}}, specs)

	scratch := afero.NewMemMapFs()
	require.NoError(t, v.ExportFile(PathSpec{Partition: "p1", Location: "/Users/alice/NTUSER.DAT"}, scratch, "alice.dat"))
	b, err := afero.ReadFile(scratch, "alice.dat")
	require.NoError(t, err)
	assert.Equal(t, "alice", string(b))

	info, err := v.Stat(PathSpec{Partition: "p1", Location: "/etc/passwd"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())
	assert.Equal(t, info.ModTime(), FileTimes(info).Modified)

	_, err = v.Stat(PathSpec{Partition: "p2", Location: "/"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = v.Open(PathSpec{Partition: "p1", Location: "/Users"})
	assert.Error(t, err)

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	assert.Equal(t, 1, closer.n)
	assert.Equal(t, 1, loads)
}

func TestVolume_LoadError(t *testing.T) {
	loads := 0
	v := NewVolume("locked", func() ([]Mount, io.Closer, error) {
		loads++
		return nil, nil, ErrLocked
	})

	for i := 0; i < 2; i++ {
		_, err := v.Partitions()
		assert.ErrorIs(t, err, ErrLocked)
	}
	_, err := v.FindPaths([]string{"/"}, nil)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 1, loads)
	assert.NoError(t, v.Close())
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "partition", "Windows", "System32"), 0755))
	zipPath := filepath.Join(dir, "partition.zip")
	require.NoError(t, os.WriteFile(zipPath, zipBytes(t, map[string]string{"Windows/System32/config/SAM": "sam"}), 0600))

	tests := []struct {
		name     string
		input    string
		wantType string
		wantPath string
	}{
		{"directory", filepath.Join(dir, "partition"), TypeDirectory, "/Windows/System32"},
		{"zip", zipPath, TypeZIP, "/Windows/System32/config/SAM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Open(tt.input, nil)
			require.NoError(t, err)
			defer v.Close() // nolint:errcheck

			partitions, err := v.Partitions()
			require.NoError(t, err)
			require.Len(t, partitions, 1)
			assert.Equal(t, tt.wantType, partitions[0].Type)

			specs, err := v.FindPaths([]string{tt.wantPath}, partitions)
			require.NoError(t, err)
			assert.Equal(t, []PathSpec{{Partition: "p1", Location: tt.wantPath}}, specs)
		})
	}

	_, err := Open(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestEncrypted(t *testing.T) {
	dir := t.TempDir()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	scrypt, err := age.NewScryptRecipient("right")
	require.NoError(t, err)
	scrypt.SetWorkFactor(10)

	encrypt := func(name string, recipient age.Recipient) string {
		buf := &bytes.Buffer{}
		w, err := age.Encrypt(buf, recipient)
		require.NoError(t, err)
		_, err = w.Write(zipBytes(t, map[string]string{"Windows/System32/config/SYSTEM": "system"}))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, buf.Bytes(), 0600))
		return p
	}
	passwordContainer := encrypt("password.age", scrypt)
	identityContainer := encrypt("identity.age", identity.Recipient())

	tests := []struct {
		name       string
		input      string
		keys       []encryption.Credential
		wantLocked bool
	}{
		{"wrong then right password", passwordContainer, []encryption.Credential{
			{Kind: KindPassword, Data: []byte("right")},
			{Kind: KindPassword, Data: []byte("wrong")},
		}, false},
		{"identity", identityContainer, []encryption.Credential{
			{Kind: KindIdentity, Data: []byte(identity.String() + "\n")},
		}, false},
		{"no keys", passwordContainer, nil, true},
		{"only wrong key", passwordContainer, []encryption.Credential{{Kind: KindPassword, Data: []byte("wrong")}}, true},
		{"unsupported kind", passwordContainer, []encryption.Credential{{Kind: "key", Data: []byte("right")}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unlocker := encryption.NewKeyringUnlocker(encryption.NewKeyring(tt.keys), nil)
			v, err := Open(tt.input, unlocker)
			require.NoError(t, err)
			defer v.Close() // nolint:errcheck

			partitions, err := v.Partitions()
			if tt.wantLocked {
				assert.ErrorIs(t, err, ErrLocked)
				return
			}
			require.NoError(t, err)
			require.Len(t, partitions, 1)

			specs, err := v.FindPaths([]string{"/windows/system32/config/system"}, partitions)
			require.NoError(t, err)
			require.Len(t, specs, 1)
			r, err := v.Open(specs[0])
			require.NoError(t, err)
			b, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "system", string(b))
		})
	}
}

func writeBootSector(image []byte, offset int, signature []byte) {
	copy(image[offset+3:offset+11], signature)
	image[offset+510] = 0x55
	image[offset+511] = 0xaa
}

func TestImageMounts_MBR(t *testing.T) {
	image := make([]byte, 64*sectorSize)
	entries := []struct {
		partitionType byte
		start, length uint32
	}{
		{0x07, 8, 16},
		{0x05, 24, 8},
		{0x07, 32, 16},
		{0x83, 48, 1024},
	}
	for i, e := range entries {
		entry := image[446+16*i:]
		entry[4] = e.partitionType
		binary.LittleEndian.PutUint32(entry[8:], e.start)
		binary.LittleEndian.PutUint32(entry[12:], e.length)
	}
	image[510], image[511] = 0x55, 0xaa
	writeBootSector(image, 8*sectorSize, bdeSignature)
	copy(image[32*sectorSize+3:], "MSDOS5.0")

	regions, err := partitionTable(bytes.NewReader(image), int64(len(image)))
	require.NoError(t, err)
	assert.Equal(t, []region{{offset: 8 * sectorSize, size: 16 * sectorSize}, {offset: 32 * sectorSize, size: 16 * sectorSize}}, regions)

	mounts, err := imageMounts(bytes.NewReader(image), int64(len(image)), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, Partition{ID: "p1", Type: TypeBDE}, mounts[0].Partition)
	assert.Nil(t, mounts[0].FS)
}

// writeGPT writes a primary GPT with 128 entries at LBA 2 and valid checksums.
func writeGPT(image []byte, partitions [][2]uint64) {
	image[446+4] = 0xee
	binary.LittleEndian.PutUint32(image[446+8:], 1)
	binary.LittleEndian.PutUint32(image[446+12:], uint32(len(image)/sectorSize-1))
	image[510], image[511] = 0x55, 0xaa

	entries := image[2*sectorSize : 2*sectorSize+128*128]
	for i, lba := range partitions {
		if lba[0] == 0 {
			continue
		}
		entry := entries[i*128:]
		copy(entry, []byte{0xa2, 0xa0, 0xd0, 0xeb, 0xe5, 0xb9, 0x33, 0x44, 0x87, 0xc0, 0x68, 0xb6, 0xb7, 0x26, 0x99, 0xc7})
		entry[16] = byte(i + 1)
		binary.LittleEndian.PutUint64(entry[32:], lba[0])
		binary.LittleEndian.PutUint64(entry[40:], lba[1])
	}

	header := image[sectorSize : sectorSize+92]
	copy(header, "EFI PART")
	copy(header[8:], []byte{0x00, 0x00, 0x01, 0x00})
	binary.LittleEndian.PutUint32(header[12:], 92)
	binary.LittleEndian.PutUint64(header[24:], 1)
	binary.LittleEndian.PutUint64(header[32:], uint64(len(image)/sectorSize-1))
	binary.LittleEndian.PutUint64(header[40:], 34)
	binary.LittleEndian.PutUint64(header[48:], uint64(len(image)/sectorSize-34))
	header[56] = 0x01
	binary.LittleEndian.PutUint64(header[72:], 2)
	binary.LittleEndian.PutUint32(header[80:], 128)
	binary.LittleEndian.PutUint32(header[84:], 128)
	binary.LittleEndian.PutUint32(header[88:], crc32.ChecksumIEEE(entries))
	binary.LittleEndian.PutUint32(header[16:], crc32.ChecksumIEEE(header))
}

func TestImageMounts_GPT(t *testing.T) {
	image := make([]byte, 128*sectorSize)
	writeGPT(image, [][2]uint64{{34, 65}, {0, 0}, {66, 97}})
	writeBootSector(image, 66*sectorSize, bdeSignature)

	regions, err := partitionTable(bytes.NewReader(image), int64(len(image)))
	require.NoError(t, err)
	assert.Equal(t, []region{{offset: 34 * sectorSize, size: 32 * sectorSize}, {offset: 66 * sectorSize, size: 32 * sectorSize}}, regions)

	mounts, err := imageMounts(bytes.NewReader(image), int64(len(image)), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, "p2", mounts[0].Partition.ID)

	image[2*sectorSize+32]++
	_, err = partitionTable(bytes.NewReader(image), int64(len(image)))
	assert.Error(t, err)
}

func TestShadowCopies(t *testing.T) {
	partition := make([]byte, 16*sectorSize)
	assert.False(t, hasShadowCopies(bytes.NewReader(partition)))
	assert.False(t, hasShadowCopies(bytes.NewReader(nil)))

	copy(partition[vssHeaderOffset:], vssIdentifier)
	assert.True(t, hasShadowCopies(bytes.NewReader(partition)))

	assert.Equal(t, []Mount{
		{Partition: Partition{ID: "p1-vss1", Type: TypeVSHADOW}},
		{Partition: Partition{ID: "p1-vss2", Type: TypeVSHADOW}},
	}, shadowPartitions("p1", []string{"{a}", "{b}"}))
	assert.Empty(t, shadowPartitions("p1", nil))
}

func TestPartitionTable_Invalid(t *testing.T) {
	_, err := partitionTable(bytes.NewReader(make([]byte, sectorSize)), sectorSize)
	assert.Error(t, err)

	_, err = partitionTable(bytes.NewReader(nil), 0)
	assert.Error(t, err)
}
