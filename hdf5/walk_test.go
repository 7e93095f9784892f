package hdf5

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) *File {
	t.Helper()
	f, _ := newFile(t)
	root := f.Root()

	entry, err := root.CreateGroup("entry")
	require.NoError(t, err)
	require.NoError(t, entry.WriteAttr("NX_class", "NXentry"))
	data, err := entry.CreateGroup("data")
	require.NoError(t, err)
	ds, err := data.CreateDatasetFrom("counts", []int32{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, ds.WriteAttr("units", "counts"))
	require.NoError(t, root.CreateSoftLink("shortcut", "/entry/data"))
	require.NoError(t, root.CreateSoftLink("broken", "/nowhere"))
	return f
}

func TestWalk(t *testing.T) {
	f := buildTree(t)

	var paths []string
	var failed []string
	err := Walk(f.Root(), func(p string, obj Object, err error) error {
		if err != nil {
			failed = append(failed, p)
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	require.NoError(t, err)

	// The soft link reaches a group already visited, so it is not entered again.
	assert.Equal(t, []string{"/", "/entry", "/entry/data", "/entry/data/counts"}, paths)
	assert.Equal(t, []string{"/broken"}, failed)
}

func TestWalkStop(t *testing.T) {
	f := buildTree(t)

	var n int
	err := Walk(f.Root(), func(string, Object, error) error {
		n++
		if n == 2 {
			return SkipAll
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	boom := errors.New("boom")
	err = Walk(f.Root(), func(string, Object, error) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWalkSkipGroup(t *testing.T) {
	f := buildTree(t)

	var paths []string
	err := Walk(f.Root(), func(p string, obj Object, err error) error {
		paths = append(paths, p)
		if p == "/entry" {
			return SkipGroup
		}
		return nil
	})
	require.NoError(t, err)
	// The shortcut reaches the skipped group's member, which was never entered.
	assert.Equal(t, []string{"/", "/entry", "/shortcut", "/shortcut/counts", "/broken"}, paths)
}

func TestWalkAttrs(t *testing.T) {
	f := buildTree(t)

	got := make(map[string]any)
	err := f.WalkAttrs(func(info AttrInfo) error {
		require.NoError(t, info.Err)
		got[info.Path] = info.Value
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"/entry@NX_class":          "NXentry",
		"/entry/data/counts@units": "counts",
	}, got)
}
