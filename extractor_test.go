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

package imageimport

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/forensicanalysis/imageimport/knowledge"
	"github.com/forensicanalysis/imageimport/registry"
	"github.com/forensicanalysis/imageimport/volume"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	Artifact  string
	OS        string
	Label     string
	Partition string
}

// fakeResolver records its calls. fail is keyed by partition id or by
// artifact name, panics by artifact name.
type fakeResolver struct {
	calls  []call
	fail   map[string]error
	panics map[string]bool
}

func (r *fakeResolver) ProcessArtifact(name string, system knowledge.OperatingSystem, partition PartitionContext, _ Store) error {
	r.calls = append(r.calls, call{Artifact: name, OS: system.Name(), Label: partition.Name, Partition: partition.Partition.ID})
	if r.panics[name] {
		panic("corrupted hive")
	}
	if err, ok := r.fail[name]; ok {
		return err
	}
	return r.fail[partition.Partition.ID]
}

func (r *fakeResolver) attempts() []string {
	var attempts []string
	for _, c := range r.calls {
		attempts = append(attempts, c.Label+":"+c.Artifact)
	}
	return attempts
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type fakeStore struct {
	closes int
}

func (s *fakeStore) InsertStruct(interface{}) (string, error) { return "", nil }

func (s *fakeStore) StoreFile(filePath string) (string, io.WriteCloser, error) {
	return filePath, nopWriteCloser{&bytes.Buffer{}}, nil
}

func (s *fakeStore) Close() error {
	s.closes++
	return nil
}

type countingCloser struct{ closes int }

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func emptyFs() volume.Filesystem {
	return volume.FromAfero(afero.NewMemMapFs())
}

func linuxFs(t *testing.T) volume.Filesystem {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/etc", 0755))
	return volume.FromAfero(fs)
}

func newVolume(name string, closer io.Closer, mounts ...volume.Mount) *volume.Volume {
	return volume.NewVolume(name, func() ([]volume.Mount, io.Closer, error) {
		return mounts, closer, nil
	})
}

func lockedVolume(name string) *volume.Volume {
	return volume.NewVolume(name, func() ([]volume.Mount, io.Closer, error) {
		return nil, nil, errors.Wrap(volume.ErrLocked, name)
	})
}

func mount(id, partitionType string, fs volume.Filesystem) volume.Mount {
	return volume.Mount{Partition: volume.Partition{ID: id, Type: partitionType}, FS: fs}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		volumes int
		opts    []Option
		wantErr bool
	}{
		{"image", 1, nil, false},
		{"no image", 0, nil, true},
		{"two images", 2, nil, true},
		{"containers", 3, []Option{WithContainerMode()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var volumes []volume.Accessor
			for i := 0; i < tt.volumes; i++ {
				volumes = append(volumes, newVolume("v", nil))
			}
			_, err := New(volumes, &fakeResolver{}, &fakeStore{}, tt.opts...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrContainerArity)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestExtractor_ShadowCopies(t *testing.T) {
	image := newVolume("image.dd", nil,
		mount("p1", volume.TypeNTFS, emptyFs()),
		mount("vss1", volume.TypeVSHADOW, emptyFs()),
		mount("p2", volume.TypeNTFS, linuxFs(t)),
	)
	resolver := &fakeResolver{}
	extractor, err := New([]volume.Accessor{image}, resolver, &fakeStore{})
	require.NoError(t, err)
	defer extractor.Close() // nolint:errcheck

	require.NoError(t, extractor.Extract("A", "B"))

	want := []call{
		{Artifact: "A", OS: "", Label: "c", Partition: "p1"},
		{Artifact: "B", OS: "", Label: "c", Partition: "p1"},
		{Artifact: "A", OS: "", Label: "d", Partition: "p2"},
		{Artifact: "B", OS: "", Label: "d", Partition: "p2"},
	}
	if diff := cmp.Diff(want, resolver.calls); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractor_Containers(t *testing.T) {
	locked := lockedVolume("locked.age")
	first := newVolume("c.zip", nil, mount("p1", volume.TypeZIP, emptyFs()))
	multi := newVolume("multi.dd", nil,
		mount("p1", volume.TypeNTFS, emptyFs()),
		mount("p2", volume.TypeNTFS, emptyFs()),
	)
	second := newVolume("d.zip", nil, mount("p1", volume.TypeZIP, emptyFs()))

	resolver := &fakeResolver{}
	extractor, err := New([]volume.Accessor{locked, first, multi, second}, resolver, &fakeStore{}, WithContainerMode())
	require.NoError(t, err)
	defer extractor.Close() // nolint:errcheck

	require.NoError(t, extractor.Extract("A"))

	var labels []string
	for _, c := range resolver.calls {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{"c", "d"}, labels)
}

func TestExtractor_Strict(t *testing.T) {
	cause := errors.New("resolver failed")
	for _, strict := range []bool{true, false} {
		image := newVolume("image.dd", nil,
			mount("p1", volume.TypeNTFS, emptyFs()),
			mount("p2", volume.TypeNTFS, emptyFs()),
		)
		resolver := &fakeResolver{fail: map[string]error{"p1": cause}}
		extractor, err := New([]volume.Accessor{image}, resolver, &fakeStore{}, WithStrict(strict))
		require.NoError(t, err)

		err = extractor.Extract("A")
		if strict {
			var perr *PartitionError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "c", perr.Label)
			assert.Equal(t, "p1", perr.Partition)
			assert.ErrorIs(t, err, cause)
			assert.Len(t, resolver.calls, 1)
		} else {
			assert.NoError(t, err)
			assert.Len(t, resolver.calls, 2)
		}
		require.NoError(t, extractor.Close())
	}
}

func TestExtractor_DefaultStrict(t *testing.T) {
	extractor, err := New([]volume.Accessor{newVolume("v", nil)}, &fakeResolver{}, &fakeStore{})
	require.NoError(t, err)
	assert.False(t, extractor.strict)
}

func brokenVolume(name string) *volume.Volume {
	return volume.NewVolume(name, func() ([]volume.Mount, io.Closer, error) {
		return nil, nil, errors.New("not a zip file")
	})
}

func TestExtractor_Continue(t *testing.T) {
	cause := errors.New("resolver failed")
	tests := []struct {
		name    string
		volumes func() []volume.Accessor
		opts    []Option
		fail    map[string]error
		panics  map[string]bool
		want    []string
	}{
		{
			"failing artifact",
			func() []volume.Accessor {
				return []volume.Accessor{newVolume("image.dd", nil,
					mount("p1", volume.TypeNTFS, emptyFs()),
					mount("p2", volume.TypeNTFS, emptyFs()),
				)}
			},
			nil,
			map[string]error{"A": cause},
			nil,
			[]string{"c:A", "c:B", "d:A", "d:B"},
		},
		{
			"panicking artifact",
			func() []volume.Accessor {
				return []volume.Accessor{newVolume("image.dd", nil, mount("p1", volume.TypeNTFS, emptyFs()))}
			},
			nil,
			nil,
			map[string]bool{"A": true},
			[]string{"c:A", "c:B"},
		},
		{
			"locked volume before good volume",
			func() []volume.Accessor {
				return []volume.Accessor{
					lockedVolume("c.age"),
					newVolume("d.zip", nil, mount("p1", volume.TypeZIP, emptyFs())),
				}
			},
			[]Option{WithContainerMode()},
			nil,
			nil,
			[]string{"c:A", "c:B"},
		},
		{
			"broken container before good container",
			func() []volume.Accessor {
				return []volume.Accessor{
					brokenVolume("broken.zip"),
					newVolume("good.zip", nil, mount("p1", volume.TypeZIP, emptyFs())),
				}
			},
			[]Option{WithContainerMode()},
			nil,
			nil,
			[]string{"c:A", "c:B"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{fail: tt.fail, panics: tt.panics}
			extractor, err := New(tt.volumes(), resolver, &fakeStore{}, tt.opts...)
			require.NoError(t, err)
			defer extractor.Close() // nolint:errcheck

			assert.NoError(t, extractor.Extract("A", "B"))
			assert.Equal(t, tt.want, resolver.attempts())
		})
	}
}

func TestExtractor_StrictArtifact(t *testing.T) {
	resolver := &fakeResolver{panics: map[string]bool{"A": true}}
	image := newVolume("image.dd", nil, mount("p1", volume.TypeNTFS, emptyFs()))
	extractor, err := New([]volume.Accessor{image}, resolver, &fakeStore{}, WithStrict(true))
	require.NoError(t, err)
	defer extractor.Close() // nolint:errcheck

	err = extractor.Extract("A", "B")
	var perr *PartitionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "A", perr.Artifact)
	assert.Contains(t, err.Error(), "panic: corrupted hive")
	assert.Equal(t, []string{"c:A"}, resolver.attempts())
}

func TestDriveLabel(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "c"},
		{1, "d"},
		{23, "z"},
		{24, "p24"},
		{30, "p30"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, driveLabel(tt.n))
	}
}

func TestExtractor_Locked(t *testing.T) {
	resolver := &fakeResolver{}
	extractor, err := New([]volume.Accessor{lockedVolume("image.age")}, resolver, &fakeStore{})
	require.NoError(t, err)
	defer extractor.Close() // nolint:errcheck

	assert.NoError(t, extractor.Extract("A"))
	assert.Empty(t, resolver.calls)
}

func TestExtractor_UnexpectedError(t *testing.T) {
	broken := brokenVolume("broken.dd")
	extractor, err := New([]volume.Accessor{broken}, &fakeResolver{}, &fakeStore{}, WithStrict(true))
	require.NoError(t, err)
	defer extractor.Close() // nolint:errcheck

	err = extractor.Extract("A")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, volume.ErrLocked)

	lenient, err := New([]volume.Accessor{broken}, &fakeResolver{}, &fakeStore{})
	require.NoError(t, err)
	defer lenient.Close() // nolint:errcheck
	assert.NoError(t, lenient.Extract("A"))
}

func TestExtractor_Windows(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/Windows/System32/config", 0755))
	require.NoError(t, afero.WriteFile(fs, "/Windows/System32/config/SOFTWARE", []byte(`
keys:
  - name: Microsoft
    keys:
      - name: Windows NT
        keys:
          - name: CurrentVersion
            keys:
              - name: ProfileList
                keys:
                  - name: S-1-5-21-1-1001
                    values:
                      - name: ProfileImagePath
                        data: 'C:\Users\alice'
`), 0644))

	var users []knowledge.User
	resolver := resolverFunc(func(name string, system knowledge.OperatingSystem, partition PartitionContext, _ Store) error {
		assert.Equal(t, "Windows", system.Name())
		users = system.Users()
		return nil
	})
	image := newVolume("image.dd", nil, mount("p1", volume.TypeNTFS, volume.FromAfero(fs)))
	extractor, err := New([]volume.Accessor{image}, resolver, &fakeStore{},
		WithSystemOptions(knowledge.WithHiveParser(registry.ParseYAML), knowledge.WithScratch(afero.NewMemMapFs())))
	require.NoError(t, err)
	defer extractor.Close() // nolint:errcheck

	require.NoError(t, extractor.Extract("A"))
	assert.Equal(t, []knowledge.User{
		{SID: "S-1-5-21-1-1001", Username: "alice", UserProfile: "/Users/alice", HomeDir: "/Users/alice"},
	}, users)
}

type resolverFunc func(name string, system knowledge.OperatingSystem, partition PartitionContext, store Store) error

func (f resolverFunc) ProcessArtifact(name string, system knowledge.OperatingSystem, partition PartitionContext, store Store) error {
	return f(name, system, partition, store)
}

func TestExtractor_Close(t *testing.T) {
	store := &fakeStore{}
	closers := []*countingCloser{{}, {}}
	volumes := []volume.Accessor{
		newVolume("c.zip", closers[0], mount("p1", volume.TypeZIP, emptyFs())),
		newVolume("d.zip", closers[1], mount("p1", volume.TypeZIP, emptyFs())),
	}
	extractor, err := New(volumes, &fakeResolver{}, store, WithContainerMode())
	require.NoError(t, err)
	require.NoError(t, extractor.Extract("A"))

	for i := 0; i < 3; i++ {
		assert.NoError(t, extractor.Close())
	}
	assert.Equal(t, 1, store.closes)
	for _, closer := range closers {
		assert.Equal(t, 1, closer.closes)
	}
}
