package nexus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T) *Group {
	t.Helper()
	f, _ := newNexus(t)
	entry, err := mustRoot(t, f).CreateGroup("entry", "NXentry")
	require.NoError(t, err)
	return entry
}

func TestCreateFieldDefaults(t *testing.T) {
	entry := newEntry(t)

	x, err := entry.CreateField("x", Float64)
	require.NoError(t, err)
	shape, err := x.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, shape)
	chunk, err := x.Chunk()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, chunk)
	d, err := x.Filters()
	require.NoError(t, err)
	assert.Nil(t, d)

	y, err := entry.CreateField("y", Uint16, WithShape(0, 4))
	require.NoError(t, err)
	chunk, err = y.Chunk()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, chunk)
	n, err := y.Size()
	require.NoError(t, err)
	assert.Zero(t, n)

	z, err := entry.CreateField("z", Int, WithShape(10), WithChunk(5))
	require.NoError(t, err)
	chunk, err = z.Chunk()
	require.NoError(t, err)
	assert.Equal(t, []int{5}, chunk)
	dt, err := z.DType()
	require.NoError(t, err)
	assert.Equal(t, Int64, dt)

	_, err = entry.CreateField("bad", Int8, WithShape(2, 2), WithChunk(2))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFieldDeflate(t *testing.T) {
	entry := newEntry(t)

	f, err := entry.CreateField("image", Float32, WithShape(64, 64), WithDeflate(&Deflate{Rate: 6, Shuffle: true}))
	require.NoError(t, err)
	d, err := f.Filters()
	require.NoError(t, err)
	assert.Equal(t, &Deflate{Rate: 6, Shuffle: true}, d)

	data := make([]float32, 64*64)
	for i := range data {
		data[i] = float32(i % 7)
	}
	require.NoError(t, f.Write(data))
	v, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, []int{64, 64}, v.Shape)
	assert.Equal(t, data, v.Data)

	plain, err := entry.CreateField("plain", Int8, WithShape(4), WithDeflate(NewDeflate()))
	require.NoError(t, err)
	d, err = plain.Filters()
	require.NoError(t, err)
	assert.Equal(t, &Deflate{}, d)
}

func TestGrowPreservesValues(t *testing.T) {
	entry := newEntry(t)

	counts, err := entry.CreateField("counts", Int32, WithShape(3))
	require.NoError(t, err)
	require.NoError(t, counts.Write([]int32{1, 2, 3}))
	require.NoError(t, counts.Grow(0, 2))
	v, err := counts.Read()
	require.NoError(t, err)
	assert.Equal(t, []int{5}, v.Shape)
	assert.Equal(t, []int32{1, 2, 3, 0, 0}, v.Data)

	image, err := entry.CreateField("image", Float64, WithShape(2, 2))
	require.NoError(t, err)
	require.NoError(t, image.Write([][]float64{{1, 2}, {3, 4}}))
	require.NoError(t, image.Grow(1, 1))
	require.NoError(t, image.Grow(0, 1))
	v, err = image.Read()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, v.Shape)
	assert.Equal(t, []float64{1, 2, 0, 3, 4, 0, 0, 0, 0}, v.Data)

	assert.ErrorIs(t, image.Grow(2, 1), ErrMalformedSelection)
	assert.ErrorIs(t, image.Grow(0, -1), ErrShapeMismatch)

	// Appending to an empty field.
	series, err := entry.CreateField("series", Float64, WithShape(0))
	require.NoError(t, err)
	require.NoError(t, series.Grow(0, 2))
	require.NoError(t, series.Write([]float64{0.5, 1.5}))
	v, err = series.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, v.Data)
}

func TestFieldWriteConversions(t *testing.T) {
	entry := newEntry(t)

	f, err := entry.CreateField("m", Float64, WithShape(2, 3))
	require.NoError(t, err)
	require.NoError(t, f.Write([]int{1, 2, 3, 4, 5, 6}))
	v, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, v.Data)

	m, err := v.Dense()
	require.NoError(t, err)
	m.Scale(2, m)
	require.NoError(t, f.Write(m))
	v, err = f.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6, 8, 10, 12}, v.Data)

	assert.ErrorIs(t, f.Write([]float64{1, 2}), ErrShapeMismatch)
	assert.ErrorIs(t, f.Write([]string{"a", "b", "c", "d", "e", "f"}), ErrTypeMismatch)
}

func TestStringAndBoolFields(t *testing.T) {
	entry := newEntry(t)

	names, err := entry.CreateField("names", String, WithShape(2))
	require.NoError(t, err)
	dt, err := names.DType()
	require.NoError(t, err)
	assert.Equal(t, String, dt)
	require.NoError(t, names.Write([]string{"alpha", "β-decay"}))
	v, err := names.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "β-decay"}, v.Data)

	empty, err := entry.CreateField("empty", String, WithShape(0))
	require.NoError(t, err)
	v, err = empty.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{}, v.Data)

	mask, err := entry.CreateField("mask", Bool, WithShape(3))
	require.NoError(t, err)
	require.NoError(t, mask.Write([]int{1, 0, 5}))
	v, err = mask.Read()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, v.Data)
}

func TestFieldGetSet(t *testing.T) {
	entry := newEntry(t)

	img, err := entry.CreateField("img", Int32, WithShape(3, 4))
	require.NoError(t, err)
	require.NoError(t, img.Write(seq(12)))

	v, err := img.Get(Tuple{SpanStep(0, 3, 2), Span(1, 3)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, v.Shape)
	assert.Equal(t, []int32{1, 2, 9, 10}, v.Data)

	v, err = img.Get(Tuple{Ellipsis{}, Index(-1)})
	require.NoError(t, err)
	assert.Nil(t, v.Shape, "a 3x1 selection squeezes to its first element")
	assert.Equal(t, int32(3), v.Value())

	v, err = img.Get(Ellipsis{})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, v.Shape)

	_, err = img.Get(Tuple{Index(0), Index(0), Index(0)})
	assert.ErrorIs(t, err, ErrMalformedSelection)

	require.NoError(t, img.Set(Tuple{Index(0), Ellipsis{}}, 7))
	require.NoError(t, img.Set(Tuple{Index(2), Span(0, 2)}, []int64{-1, -2}))
	assert.ErrorIs(t, img.Set(Index(1), []int32{1, 2}), ErrShapeMismatch)
	v, err = img.Read()
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 7, 7, 7, 4, 5, 6, 7, -1, -2, 10, 11}, v.Data)

	// No selection returns the stored array without squeezing singletons.
	row, err := entry.CreateField("row", Int32, WithShape(1, 5))
	require.NoError(t, err)
	require.NoError(t, row.Write([]int32{1, 2, 3, 4, 5}))
	whole, err := row.Read()
	require.NoError(t, err)
	for _, sel := range []Selection{Ellipsis{}, nil} {
		v, err = row.Get(sel)
		require.NoError(t, err)
		assert.Equal(t, whole, v)
		assert.Equal(t, []int{1, 5}, v.Shape)
		assert.Equal(t, []int32{1, 2, 3, 4, 5}, v.Data)
	}
	require.NoError(t, row.Set(Ellipsis{}, []int32{5, 4, 3, 2, 1}))
	v, err = row.Read()
	require.NoError(t, err)
	assert.Equal(t, []int32{5, 4, 3, 2, 1}, v.Data)

	line, err := entry.CreateField("line", Float32, WithShape(5))
	require.NoError(t, err)
	require.NoError(t, line.Set(From(-2), []float64{1.5, 2.5}))
	v, err = line.Get(SpanStep(1, 5, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, v.Shape)
	assert.Equal(t, []float32{0, 1.5}, v.Data)
}

func TestScalarFastPath(t *testing.T) {
	entry := newEntry(t)

	energy, err := entry.CreateField("energy", Float64)
	require.NoError(t, err)
	require.NoError(t, energy.Set(Index(0), 12.5))

	v, err := energy.Get(Index(0))
	require.NoError(t, err)
	assert.Equal(t, 0, v.Rank())
	assert.Equal(t, 12.5, v.Value())

	v, err = energy.Read()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, v.Shape)

	assert.ErrorIs(t, energy.Set(Index(0), []float64{1, 2}), ErrShapeMismatch)
}

func TestFieldRefresh(t *testing.T) {
	entry := newEntry(t)
	f, err := entry.CreateField("counts", Int16, WithShape(2))
	require.NoError(t, err)
	require.NoError(t, f.Refresh())
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Refresh(), ErrInvalidHandle)
	require.NoError(t, f.Reopen())
	assert.True(t, f.IsValid())
}

func TestGetReadsFrameOfChunkedStack(t *testing.T) {
	entry := newEntry(t)

	stack, err := entry.CreateField("data", Int32, WithShape(4, 3, 4), WithChunk(1, 3, 2),
		WithDeflate(&Deflate{Rate: 4}))
	require.NoError(t, err)
	require.NoError(t, stack.Write(seq(48)))

	frame, err := stack.Get(Index(2))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, frame.Shape)
	assert.Equal(t, seq(48)[24:36], frame.Data)

	v, err := stack.Get(Tuple{Span(1, 3), Index(1), SpanStep(0, 4, 3)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, v.Shape)
	assert.Equal(t, []int32{16, 19, 28, 31}, v.Data)

	v, err = stack.Get(Tuple{Index(-1), Index(-1), Index(-1)})
	require.NoError(t, err)
	assert.Equal(t, int32(47), v.Value())
}
