package prodos

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/sparse"
	"github.com/zellyn/diskii/types"
)

func TestPutAnySaplingPromotion(t *testing.T) {
	op := operator{data: blankVolume(280)}
	sf := sparse.New(512)
	sf.Chunks[0] = bytes.Repeat([]byte{0xaa}, 512)
	sf.Chunks[1] = bytes.Repeat([]byte{0xbb}, 512)

	existed, err := op.PutAny(types.FileInfo{
		Descriptor: types.Descriptor{Name: "TWOBLOCKS", Type: types.FiletypeBinary},
	}, sf, false)
	require.NoError(t, err)
	assert.False(t, existed)

	_, desc, found, err := findTopLevelEntry(op.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Name() == "TWOBLOCKS"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, byte(TypeSapling), desc.Type())
	assert.Equal(t, uint16(3), desc.BlocksUsed, "index + 2 data")
	assert.Equal(t, [3]byte{0x00, 0x04, 0x00}, desc.EOF, "EOF = 1024")

	// Index block: low bytes of the two data pointers at 0 and 1,
	// high bytes at 256 and 257.
	idx, err := readIndexBlock(op.data, desc.KeyPointer)
	require.NoError(t, err)
	b0, b1 := idx.Get(0), idx.Get(1)
	assert.NotZero(t, b0)
	assert.NotZero(t, b1)
	assert.Equal(t, byte(b0), idx[0])
	assert.Equal(t, byte(b1), idx[1])
	assert.Equal(t, byte(b0>>8), idx[256])
	assert.Equal(t, byte(b1>>8), idx[257])

	got, err := op.GetAny("TWOBLOCKS")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got.OrderedIndices())
	assert.Equal(t, sf.Chunks[0], got.Chunks[0])
}

func TestPutAnySparseHoles(t *testing.T) {
	op := operator{data: blankVolume(280)}
	sf := sparse.New(512)
	sf.Chunks[0] = []byte{1}
	sf.Chunks[9] = []byte{9}

	_, err := op.PutAny(types.FileInfo{
		Descriptor: types.Descriptor{Name: "HOLEY", Type: types.FiletypeBinary},
	}, sf, false)
	require.NoError(t, err)

	_, desc, found, err := findTopLevelEntry(op.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Name() == "HOLEY"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, byte(TypeSapling), desc.Type())
	assert.Equal(t, uint16(3), desc.BlocksUsed, "index + 2 data; holes cost nothing")

	idx, err := readIndexBlock(op.data, desc.KeyPointer)
	require.NoError(t, err)
	for i := 1; i <= 8; i++ {
		assert.Zero(t, idx.Get(byte(i)), "entry %d should be a hole", i)
	}

	got, err := op.GetAny("HOLEY")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 9}, got.OrderedIndices())
	assert.Equal(t, []byte{9}, got.Chunks[9], "last chunk trimmed to EOF")
}

func TestPutAnySeedling(t *testing.T) {
	op := operator{data: blankVolume(280)}
	sf := sparse.New(512)
	sf.Chunks[0] = []byte{1, 2, 3}

	_, err := op.PutAny(types.FileInfo{
		Descriptor: types.Descriptor{Name: "SEED", Type: types.FiletypeBinary},
	}, sf, false)
	require.NoError(t, err)

	_, desc, _, err := findTopLevelEntry(op.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Name() == "SEED"
	})
	require.NoError(t, err)
	assert.Equal(t, byte(TypeSeedling), desc.Type())
	assert.Equal(t, uint16(1), desc.BlocksUsed)

	got, err := op.GetAny("SEED")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.Chunks[0])
}

func TestPutAnyDiskFullLeavesBitmapUntouched(t *testing.T) {
	op := operator{data: blankVolume(16)}
	before := append([]byte(nil), op.data...)

	sf := sparse.New(512)
	for i := 0; i < 32; i++ {
		sf.Chunks[i] = bytes.Repeat([]byte{byte(i)}, 512)
	}
	_, err := op.PutAny(types.FileInfo{
		Descriptor: types.Descriptor{Name: "TOOBIG", Type: types.FiletypeBinary},
	}, sf, false)
	require.Error(t, err)
	assert.True(t, diskerr.IsDiskFull(err))
	assert.Equal(t, before, op.data)
}

func TestProdosEntryMutations(t *testing.T) {
	op := operator{data: blankVolume(280)}
	_, err := op.PutFile(types.FileInfo{
		Descriptor: types.Descriptor{Name: "NOTES", Type: types.FiletypeASCIIText},
		Data:       []byte("HELLO"),
	}, false)
	require.NoError(t, err)

	require.NoError(t, op.Lock("NOTES"))
	assert.Error(t, op.Rename("NOTES", "NOTES2"), "read-only file cannot be renamed")
	_, err = op.Delete("NOTES")
	assert.True(t, diskerr.IsFileLocked(err))

	require.NoError(t, op.Unlock("NOTES"))
	require.NoError(t, op.Rename("NOTES", "NOTES2"))
	require.NoError(t, op.Retype("NOTES2", types.FiletypeBinary))

	_, desc, found, err := findTopLevelEntry(op.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Name() == "NOTES2"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, byte(types.FiletypeBinary), desc.FileType)

	assert.True(t, diskerr.IsFileNotFound(op.Lock("NOPE")))
}

func TestStandardizeMasksTimestamps(t *testing.T) {
	op := operator{data: blankVolume(280)}
	offsets := op.Standardize()
	require.NotEmpty(t, offsets)
	base := int(VolumeDirectoryKeyBlockNumber) * 512
	assert.Contains(t, offsets, base+0x04+0x18, "volume header creation time")
	assert.Contains(t, offsets, base+0x2b+0x18, "first entry creation time")
	for _, off := range offsets {
		assert.Less(t, off, len(op.data))
	}
}
