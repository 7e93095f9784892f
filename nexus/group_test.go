package nexus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-nexus/hdf5"
)

// buildEntry creates /entry:NXentry holding a field, a plain group and a
// dangling link.
func buildEntry(t *testing.T, f *File) *Group {
	t.Helper()
	entry, err := mustRoot(t, f).CreateGroup("entry", "NXentry")
	require.NoError(t, err)
	_, err = entry.CreateField("data", Int32, WithShape(3))
	require.NoError(t, err)
	_, err = entry.CreateGroup("raw", "")
	require.NoError(t, err)
	_, err = entry.Link("/nowhere", "ghost")
	require.NoError(t, err)
	return entry
}

func TestNodePaths(t *testing.T) {
	f, _ := newNexus(t)
	entry := buildEntry(t, f)
	assert.Equal(t, "/entry:NXentry", entry.Path())
	assert.Equal(t, "entry", entry.Name())
	assert.Equal(t, "NXentry", entry.NXClass())

	data, err := entry.OpenField("data")
	require.NoError(t, err)
	assert.Equal(t, "/entry:NXentry/data", data.Path())

	raw, err := entry.OpenGroup("raw")
	require.NoError(t, err)
	assert.Equal(t, "/entry:NXentry/raw", raw.Path())

	require.NoError(t, data.Attributes().Set("units", "counts"))
	units, err := data.Attributes().Get("units")
	require.NoError(t, err)
	assert.Equal(t, "/entry:NXentry/data@units", units.Path())

	class, err := f.Attributes().Get("NX_class")
	require.NoError(t, err)
	assert.Equal(t, "/@NX_class", class.Path())
}

func TestPathIsNotRecomputed(t *testing.T) {
	f, _ := newNexus(t)
	entry := buildEntry(t, f)
	require.NoError(t, entry.Attributes().Set("NX_class", "NXsubentry"))
	require.NoError(t, entry.Reopen())
	assert.Equal(t, "/entry:NXentry", entry.Path())

	again, err := mustRoot(t, f).OpenGroup("entry")
	require.NoError(t, err)
	assert.Equal(t, "/entry:NXsubentry", again.Path())
}

func TestOpenDispatch(t *testing.T) {
	f, _ := newNexus(t)
	entry := buildEntry(t, f)

	tests := []struct {
		name string
		want Node
	}{
		{"raw", (*Group)(nil)},
		{"data", (*Field)(nil)},
		{"NX_class", (*Attribute)(nil)},
		{"ghost", (*Link)(nil)},
	}
	for _, tt := range tests {
		n, err := entry.Open(tt.name)
		require.NoError(t, err, tt.name)
		assert.IsType(t, tt.want, n, tt.name)
		assert.Equal(t, tt.name, n.Name())
	}

	_, err := entry.Open("nothing")
	assert.ErrorIs(t, err, ErrNotFound)

	// A child wins over an attribute of the same name.
	_, err = entry.CreateField("NX_class", String)
	require.NoError(t, err)
	n, err := entry.Open("NX_class")
	require.NoError(t, err)
	assert.IsType(t, (*Field)(nil), n)

	l, err := entry.OpenLink("raw")
	require.NoError(t, err)
	assert.Equal(t, hdf5.LinkHard, l.Type())
	_, err = entry.OpenLink("nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNamesAndIter(t *testing.T) {
	f, _ := newNexus(t)
	entry := buildEntry(t, f)

	names, err := entry.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "raw", "ghost"}, names)

	n, err := entry.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ok, err := entry.Exists("ghost")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = entry.Exists("NX_class")
	require.NoError(t, err)
	assert.False(t, ok, "attributes are not children")

	collect := func(it *Iter) []string {
		var got []string
		for it.Next() {
			got = append(got, it.Node().Name())
		}
		require.NoError(t, it.Err())
		return got
	}

	it := entry.Iter()
	assert.Equal(t, names, collect(it))
	assert.False(t, it.Next(), "an iterator is consumed once")
	assert.Nil(t, it.Node())

	// Every call starts over.
	assert.Equal(t, names, collect(entry.Iter()))
}

func TestCreateGroupExisting(t *testing.T) {
	f, _ := newNexus(t)
	entry := buildEntry(t, f)

	_, err := entry.CreateGroup("raw", "NXdata")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = entry.CreateField("data", Float64)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = entry.CreateField("bad", DType("complex"))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestLinks(t *testing.T) {
	f, path := newNexus(t)
	entry := buildEntry(t, f)

	short, err := entry.Link("/entry/data", "shortcut")
	require.NoError(t, err)
	assert.Equal(t, "/entry:NXentry/shortcut", short.Path())
	assert.Equal(t, hdf5.LinkSoft, short.Type())
	assert.Equal(t, path+":/entry/data", short.TargetPath())
	assert.True(t, short.IsValid())

	target, err := short.Resolve()
	require.NoError(t, err)
	assert.IsType(t, (*Field)(nil), target)

	rel, err := entry.Link("data", "relative")
	require.NoError(t, err)
	assert.Equal(t, path+":/entry/data", rel.TargetPath())

	// A file-qualified target naming this file stays internal.
	self, err := entry.Link(path+":/entry/raw", "self")
	require.NoError(t, err)
	assert.False(t, self.IsExternal())
	assert.True(t, self.IsValid())

	ghost, err := entry.OpenLink("ghost")
	require.NoError(t, err)
	assert.False(t, ghost.IsValid())
	assert.Equal(t, path+":/nowhere", ghost.TargetPath())
	_, err = ghost.Resolve()
	assert.ErrorIs(t, err, ErrNotFound)

	links, err := entry.Links()
	require.NoError(t, err)
	var names []string
	for _, l := range links {
		names = append(names, l.Name())
	}
	assert.Equal(t, []string{"data", "raw", "ghost", "shortcut", "relative", "self"}, names)
	assert.Equal(t, path+":/entry/data", links[0].TargetPath())

	_, err = entry.Link("/entry/raw", "self")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestLinkReopenAfterRemoval(t *testing.T) {
	f, _ := newNexus(t)
	entry := buildEntry(t, f)

	ghost, err := entry.OpenLink("ghost")
	require.NoError(t, err)
	require.NoError(t, entry.Handle().Unlink("ghost"))

	require.NoError(t, ghost.Reopen())
	assert.False(t, ghost.IsValid())
	assert.Equal(t, "", ghost.TargetPath())
	require.NoError(t, ghost.Close())
}

func TestExternalLink(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "raw.nxs")
	raw, err := Create(rawPath)
	require.NoError(t, err)
	scan, err := mustRoot(t, raw).CreateGroup("scan", "NXdata")
	require.NoError(t, err)
	counts, err := scan.CreateField("counts", Int64, WithShape(3))
	require.NoError(t, err)
	require.NoError(t, counts.Write([]int64{7, 8, 9}))
	require.NoError(t, raw.Close())

	f, err := Create(filepath.Join(dir, "master.nxs"))
	require.NoError(t, err)
	defer f.Close()
	entry, err := mustRoot(t, f).CreateGroup("entry", "NXentry")
	require.NoError(t, err)

	l, err := entry.Link(rawPath+":/scan", "raw")
	require.NoError(t, err)
	assert.True(t, l.IsExternal())
	assert.True(t, l.IsValid())
	assert.Equal(t, "raw.nxs:/scan", l.TargetPath())

	n, err := entry.Open("raw")
	require.NoError(t, err)
	g, ok := n.(*Group)
	require.True(t, ok)
	assert.Equal(t, "/entry:NXentry/raw:NXdata", g.Path())

	c, err := g.OpenField("counts")
	require.NoError(t, err)
	v, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, v.Data)

	missing, err := entry.Link(filepath.Join(dir, "gone.nxs")+":/scan", "gone")
	require.NoError(t, err)
	assert.False(t, missing.IsValid())
	assert.Equal(t, "gone.nxs:/scan", missing.TargetPath())
}
