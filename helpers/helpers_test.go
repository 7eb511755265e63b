package helpers

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadThroughMemFs(t *testing.T) {
	old := Fs
	Fs = afero.NewMemMapFs()
	defer func() { Fs = old }()

	require.NoError(t, WriteOutput("image.dsk", []byte{1, 2, 3}, false))
	got, err := FileContentsOrStdIn("image.dsk")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	assert.Error(t, WriteOutput("image.dsk", []byte{9}, false), "refuses to overwrite without force")
	require.NoError(t, WriteOutput("image.dsk", []byte{9}, true))
	got, err = FileContentsOrStdIn("image.dsk")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got)

	_, err = FileContentsOrStdIn("missing.dsk")
	assert.Error(t, err)
}
