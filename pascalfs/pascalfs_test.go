package pascalfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/types"
)

func TestVolumeHeaderRoundtrip(t *testing.T) {
	h := VolumeHeader{
		LastDirBlock: 6,
		Name:         "TESTVOL",
		TotalBlocks:  280,
		NumFiles:     2,
		LastAccess:   0x1234,
		SetDate:      0x5678,
	}
	buf := make([]byte, EntrySize)
	require.NoError(t, h.ToBlockBytes(buf))
	back, err := VolumeHeaderFromBlockBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, h, back)
}

func TestDirectoryEntryRoundtrip(t *testing.T) {
	e := DirectoryEntry{
		FirstBlock:       10,
		NextBlock:        15,
		FileType:         3,
		Name:             "HELLO.TEXT",
		BytesInLastBlock: 200,
		ModDate:          0x4242,
	}
	buf := make([]byte, EntrySize)
	e.toBytes(buf)
	back := directoryEntryFromBytes(buf)
	assert.Equal(t, e, back)
	assert.Equal(t, 5, e.Blocks())
	assert.False(t, e.Unused())

	var empty DirectoryEntry
	assert.True(t, empty.Unused())
}

// newBlankVolume builds a 280-block (140K) Pascal volume image with an
// empty directory spanning blocks 2-5.
func newBlankVolume(t *testing.T) []byte {
	t.Helper()
	const totalBlocks = 280
	diskbytes := make([]byte, totalBlocks*512)
	dir := Directory{
		Header: VolumeHeader{
			LastDirBlock: 6,
			Name:         "TESTVOL",
			TotalBlocks:  totalBlocks,
		},
	}
	require.NoError(t, WriteDirectory(diskbytes, dir))
	return diskbytes
}

func TestReadWriteDirectoryRoundtrip(t *testing.T) {
	diskbytes := newBlankVolume(t)
	dir, err := ReadDirectory(diskbytes)
	require.NoError(t, err)
	assert.Equal(t, "TESTVOL", dir.Header.Name)
	assert.Equal(t, uint16(280), dir.Header.TotalBlocks)
	assert.Empty(t, dir.Entries)
}

func TestIsBlockFreeAndGetAvailableBlocks(t *testing.T) {
	diskbytes := newBlankVolume(t)
	dir, err := ReadDirectory(diskbytes)
	require.NoError(t, err)

	assert.False(t, dir.IsBlockFree(0), "boot block is never free")
	assert.False(t, dir.IsBlockFree(5), "directory block is never free")
	assert.True(t, dir.IsBlockFree(6), "first data block should be free on a blank volume")

	free, largest := dir.NumFreeBlocks()
	assert.Equal(t, 280-6, free)
	assert.Equal(t, 280-6, largest)

	start, ok := dir.GetAvailableBlocks(10)
	require.True(t, ok)
	assert.Equal(t, uint16(6), start)

	_, ok = dir.GetAvailableBlocks(10000)
	assert.False(t, ok, "a run longer than the volume must fail")
}

func TestOperatorPutGetDeleteRoundtrip(t *testing.T) {
	diskbytes := newBlankVolume(t)
	of := OperatorFactory{}
	op, err := of.Operator(diskbytes, false)
	require.NoError(t, err)

	data := make([]byte, 1300)
	for i := range data {
		data[i] = byte(i)
	}
	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "HELLO.TEXT", Type: types.FiletypeASCIIText},
		Data:       data,
	}
	existed, err := op.PutFile(fi, false)
	require.NoError(t, err)
	assert.False(t, existed)

	cat, err := op.Catalog("")
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, "HELLO.TEXT", cat[0].Name)
	assert.Equal(t, 3, cat[0].Blocks)

	got, err := op.GetFile("hello.text")
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)

	_, err = op.PutFile(fi, false)
	assert.Error(t, err, "writing an existing file without overwrite must fail")

	deleted, err := op.Delete("HELLO.TEXT")
	require.NoError(t, err)
	assert.True(t, deleted)

	cat, err = op.Catalog("")
	require.NoError(t, err)
	assert.Empty(t, cat)
}

func TestPutFileNoRoom(t *testing.T) {
	diskbytes := newBlankVolume(t)
	of := OperatorFactory{}
	op, err := of.Operator(diskbytes, false)
	require.NoError(t, err)

	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "BIG", Type: types.FiletypeBinary},
		Data:       make([]byte, 1<<20),
	}
	_, err = op.PutFile(fi, false)
	require.Error(t, err)
	assert.True(t, diskerr.IsDiskFull(err))
}

func TestSeemsToMatch(t *testing.T) {
	diskbytes := newBlankVolume(t)
	of := OperatorFactory{}
	assert.True(t, of.SeemsToMatch(diskbytes, false))
	assert.False(t, of.SeemsToMatch(make([]byte, 512), false))
}
