package nexus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		data  any
		shape []int
	}{
		{"scalar", 2.5, []float64{2.5}, nil},
		{"string", "x", []string{"x"}, nil},
		{"vector", []int16{1, 2}, []int16{1, 2}, []int{2}},
		{"matrix", [][]int32{{1, 2, 3}, {4, 5, 6}}, []int32{1, 2, 3, 4, 5, 6}, []int{2, 3}},
		{"array value", [2]bool{true, false}, []bool{true, false}, []int{2}},
		{"empty", [][]float32{}, []float32{}, []int{0, 0}},
		{"wrapped", &Array{Shape: []int{2}, Data: []uint8{1, 2}}, []uint8{1, 2}, []int{2}},
		{"dense", mat.NewDense(2, 2, []float64{1, 2, 3, 4}), []float64{1, 2, 3, 4}, []int{2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, shape, err := flatten(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.data, data)
			assert.Equal(t, tt.shape, shape)
		})
	}

	_, _, err := flatten([][]int{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, _, err = flatten(nil)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCoerce(t *testing.T) {
	got, err := coerce([]int{1, 2}, Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)

	got, err = coerce([]float64{0, 2.5}, Bool)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, got)

	got, err = coerce([]bool{true, false}, Uint8)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 0}, got)

	got, err = coerce([]float64{-1.9}, Int16)
	require.NoError(t, err)
	assert.Equal(t, []int16{-1}, got)

	_, err = coerce([]string{"1"}, Int32)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = coerce([]int{1}, String)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = coerce([]int{1}, Unknown)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
