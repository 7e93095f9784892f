package hdf5

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func TestCreateAndReopen(t *testing.T) {
	path := tempFile(t, "empty.h5")

	f, err := Create(path)
	require.NoError(t, err)
	assert.True(t, f.IsWritable())
	assert.Equal(t, 3, f.Version())
	assert.Equal(t, LibVerLatest, f.LibVer())
	assert.NotZero(t, f.ConsistencyFlags())
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, f.IsWritable())
	assert.Equal(t, FlagReadOnly, f.Intent())
	assert.Zero(t, f.ConsistencyFlags(), "close clears the consistency flags")

	members, err := f.Root().Members()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestCreateEarliest(t *testing.T) {
	path := tempFile(t, "v2.h5")

	f, err := Create(path, WithLibVer(LibVerEarliest))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Version())
	assert.Equal(t, LibVerEarliest, f.LibVer())
	assert.Zero(t, f.ConsistencyFlags())
	require.NoError(t, f.Close())

	_, err = OpenFile(path, FlagSWMRRead)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = OpenFile(path, FlagReadWrite|FlagSWMRWrite)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = OpenFile(tempFile(t, "swmr.h5"), FlagTruncate|FlagSWMRWrite, WithLibVer(LibVerEarliest))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSWMRFlags(t *testing.T) {
	path := tempFile(t, "swmr.h5")

	f, err := OpenFile(path, FlagTruncate|FlagSWMRWrite)
	require.NoError(t, err)
	assert.True(t, f.Intent().SWMR())
	assert.Equal(t, uint8(0x05), f.ConsistencyFlags())
	require.NoError(t, f.Close())

	_, err = OpenFile(path, FlagReadWrite|FlagSWMRRead)
	assert.ErrorIs(t, err, ErrUnsupported)

	r, err := OpenFile(path, FlagSWMRRead)
	require.NoError(t, err)
	assert.Equal(t, "swmr-read", r.Intent().String())
	require.NoError(t, r.Close())
}

func TestCreateExclusive(t *testing.T) {
	path := tempFile(t, "excl.h5")

	f, err := OpenFile(path, FlagExclusive)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = OpenFile(path, FlagExclusive)
	assert.ErrorIs(t, err, ErrExists)
}

func TestOpenNotHDF5(t *testing.T) {
	path := tempFile(t, "text.h5")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrNotHDF5)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	path := tempFile(t, "ro.h5")
	f, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Root().CreateGroup("entry")
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, f.Root().WriteAttr("title", "x"), ErrReadOnly)
	assert.NoError(t, f.Flush())
}

func TestClosedFile(t *testing.T) {
	f, err := Create(tempFile(t, "closed.h5"))
	require.NoError(t, err)
	root := f.Root()
	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "second close is a no-op")

	assert.Nil(t, f.Root())
	assert.False(t, root.Valid())
	assert.ErrorIs(t, f.Flush(), ErrClosed)
	_, err = f.OpenGroup("/entry")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = root.CreateGroup("entry")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "r", FlagReadOnly.String())
	assert.Equal(t, "rw|swmr-write", (FlagReadWrite | FlagSWMRWrite).String())
	assert.True(t, FlagTruncate.Writable())
	assert.False(t, FlagSWMRRead.Writable())
}

func TestParseLibVer(t *testing.T) {
	v, err := ParseLibVer("earliest")
	require.NoError(t, err)
	assert.Equal(t, LibVerEarliest, v)

	v, err = ParseLibVer("latest")
	require.NoError(t, err)
	assert.Equal(t, LibVerLatest, v)

	_, err = ParseLibVer("v110")
	assert.Error(t, err)
}

func TestRefreshSeesNewObjects(t *testing.T) {
	path := tempFile(t, "refresh.h5")

	w, err := OpenFile(path, FlagTruncate|FlagSWMRWrite)
	require.NoError(t, err)
	defer w.Close()

	r, err := OpenFile(path, FlagSWMRRead)
	require.NoError(t, err)
	defer r.Close()

	_, err = w.Root().CreateGroup("entry")
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	kind, err := r.Root().Kind("entry")
	require.NoError(t, err)
	assert.Equal(t, KindMissing, kind)

	require.NoError(t, r.Refresh())
	kind, err = r.Root().Kind("entry")
	require.NoError(t, err)
	assert.Equal(t, KindGroup, kind)
}

func TestFileGetAttr(t *testing.T) {
	path := tempFile(t, "attrs.h5")
	f, err := Create(path)
	require.NoError(t, err)
	g, err := f.Root().CreateGroup("entry")
	require.NoError(t, err)
	require.NoError(t, g.WriteAttr("NX_class", "NXentry"))
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.ReadAttr("/entry@NX_class")
	require.NoError(t, err)
	assert.Equal(t, "NXentry", v)

	_, err = f.GetAttr("/entry@missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.GetAttr("/entry")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
