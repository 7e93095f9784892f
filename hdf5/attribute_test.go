package hdf5

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAttrInference(t *testing.T) {
	f, path := newFile(t)
	root := f.Root()

	require.NoError(t, root.WriteAttr("title", "scan 42"))
	require.NoError(t, root.WriteAttr("count", int64(3)))
	require.NoError(t, root.WriteAttr("offsets", []float64{0.5, 1.5}))
	require.NoError(t, root.WriteAttr("flag", true))
	require.NoError(t, root.WriteAttr("axes", []string{"x", "y"}))

	// Replacing keeps a single attribute of the new type.
	require.NoError(t, root.WriteAttr("count", uint8(4)))

	f = reopen(t, f, path)
	root = f.Root()
	assert.Equal(t, []string{"title", "count", "offsets", "flag", "axes"}, root.Attrs())

	for name, want := range map[string]interface{}{
		"title":   "scan 42",
		"count":   uint64(4),
		"offsets": []float64{0.5, 1.5},
		"flag":    true,
		"axes":    []string{"x", "y"},
	} {
		v, err := root.Attr(name).Value()
		require.NoError(t, err, name)
		assert.Equal(t, want, v, name)
	}

	a := root.Attr("offsets")
	assert.Equal(t, []uint64{2}, a.Shape())
	assert.False(t, a.IsScalar())
	assert.Equal(t, "float64", a.Type().String())
	assert.True(t, root.Attr("title").IsScalar())
	assert.Nil(t, root.Attr("missing"))
}

func TestCreateAttrAndWrite(t *testing.T) {
	f, path := newFile(t)
	g, err := f.Root().CreateGroup("entry")
	require.NoError(t, err)

	a, err := g.CreateAttr("temps", mustFloat(t, 4), []uint64{3})
	require.NoError(t, err)
	vals, err := a.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, vals)

	require.NoError(t, a.Write([]float32{1, 2, 3}))
	assert.Error(t, a.Write([]float32{1, 2}))

	_, err = g.CreateAttr("temps", mustFloat(t, 4), nil)
	assert.ErrorIs(t, err, ErrExists)

	s, err := g.CreateAttr("label", StringType(), nil)
	require.NoError(t, err)
	str, err := s.ReadScalarString()
	require.NoError(t, err)
	assert.Equal(t, "", str)
	require.NoError(t, s.Write("detector"))

	f = reopen(t, f, path)
	g, err = f.OpenGroup("entry")
	require.NoError(t, err)

	vals, err = g.Attr("temps").ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vals)

	str, err = g.Attr("label").ReadScalarString()
	require.NoError(t, err)
	assert.Equal(t, "detector", str)
}

func TestDeleteAttr(t *testing.T) {
	f, _ := newFile(t)
	ds, err := f.Root().CreateDatasetFrom("data", []int32{1, 2})
	require.NoError(t, err)

	require.NoError(t, ds.WriteAttr("units", "mm"))
	a := ds.Attr("units")
	require.NotNil(t, a)
	assert.True(t, a.Valid())

	require.NoError(t, ds.DeleteAttr("units"))
	assert.False(t, a.Valid())
	assert.False(t, ds.HasAttr("units"))
	assert.ErrorIs(t, ds.DeleteAttr("units"), ErrNotFound)

	_, err = a.Value()
	assert.ErrorIs(t, err, ErrNotFound)

	// The data is untouched by attribute edits.
	vals, err := ds.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, vals)
}

func TestAttributeTooLarge(t *testing.T) {
	f, _ := newFile(t)
	err := f.Root().WriteAttr("big", make([]float64, 10000))
	assert.ErrorIs(t, err, ErrUnsupported)

	// Long strings live in the global heap, so only the reference counts.
	require.NoError(t, f.Root().WriteAttr("note", strings.Repeat("x", 100000)))
	v, err := f.Root().Attr("note").Value()
	require.NoError(t, err)
	assert.Len(t, v, 100000)
}

func TestAttrOnClosedFile(t *testing.T) {
	f, err := Create(tempFile(t, "closed.h5"))
	require.NoError(t, err)
	require.NoError(t, f.Root().WriteAttr("x", int32(1)))
	a := f.Root().Attr("x")
	require.NoError(t, f.Close())

	_, err = a.Value()
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, a.Valid())
}
