package hdf5

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttrPath(t *testing.T) {
	tests := []struct {
		path     string
		wantObj  string
		wantAttr string
		wantErr  bool
	}{
		{"/@title", "/", "title", false},
		{"/entry@NX_class", "/entry", "NX_class", false},
		{"/entry/data/counts@units", "/entry/data/counts", "units", false},
		{"entry@NX_class", "/entry", "NX_class", false},
		{"/a@b@c", "/a@b", "c", false},
		{"", "", "", true},
		{"/entry", "", "", true},
		{"/entry@", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			obj, attr, err := ParseAttrPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantObj, obj)
			assert.Equal(t, tt.wantAttr, attr)
		})
	}
}

func TestJoinAttrPath(t *testing.T) {
	assert.Equal(t, "/@title", JoinAttrPath("/", "title"))
	assert.Equal(t, "/entry@NX_class", JoinAttrPath("/entry", "NX_class"))
}

func TestSplitAndCleanPath(t *testing.T) {
	assert.Empty(t, SplitPath("/"))
	assert.Equal(t, []string{"entry", "data"}, SplitPath("/entry/data/"))
	assert.Equal(t, "/", CleanPath(""))
	assert.Equal(t, "/entry/data", CleanPath("entry/data/"))
	assert.Equal(t, "/entry/data", CleanPath("//entry/./data"))
	assert.Equal(t, []string{"entry"}, SplitPath("./entry"))
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b"} {
		assert.ErrorIs(t, validName(name), ErrInvalidPath, "name %q", name)
	}
	assert.NoError(t, validName("entry"))
}
