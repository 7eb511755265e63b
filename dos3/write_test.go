package dos3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/sparse"
	"github.com/zellyn/diskii/types"
)

func TestCreateDiskBytes(t *testing.T) {
	data, err := CreateDiskBytes(254)
	require.NoError(t, err)
	require.Equal(t, disk.FloppyDiskBytes, len(data))

	vtocBase := VTOCTrack * disk.FloppyTrackBytes
	assert.Equal(t, byte(254), data[vtocBase+0x06], "volume number")
	assert.Equal(t, byte(17), data[vtocBase+0x01], "catalog track")
	assert.Equal(t, byte(15), data[vtocBase+0x02], "catalog sector")
	assert.Equal(t, byte(3), data[vtocBase+0x03], "DOS release")
	assert.Equal(t, byte(0x7a), data[vtocBase+0x27], "max T/S pairs")
	assert.Equal(t, byte(35), data[vtocBase+0x34], "tracks")
	assert.Equal(t, byte(16), data[vtocBase+0x35], "sectors")

	// Boot track and catalog track fully used; track 1 fully free.
	assert.Equal(t, []byte{0, 0, 0, 0}, data[vtocBase+0x38:vtocBase+0x3c])
	assert.Equal(t, []byte{0xff, 0xff, 0, 0}, data[vtocBase+0x38+4:vtocBase+0x3c+4])
	assert.Equal(t, []byte{0, 0, 0, 0}, data[vtocBase+0x38+4*17:vtocBase+0x3c+4*17])

	// Catalog chain: (17,15) links to (17,14); (17,1) terminates.
	cs15 := vtocBase + 15*256
	assert.Equal(t, []byte{17, 14}, data[cs15+1:cs15+3])
	cs1 := vtocBase + 1*256
	assert.Equal(t, []byte{0, 0}, data[cs1+1:cs1+3])

	assert.True(t, OperatorFactory{}.SeemsToMatch(data, false))

	_, err = CreateDiskBytes(255)
	assert.Error(t, err)
}

func freshOperator(t *testing.T) operator {
	t.Helper()
	data, err := CreateDiskBytes(254)
	require.NoError(t, err)
	return operator{data: data}
}

func TestBSaveLayout(t *testing.T) {
	op := freshOperator(t)
	existed, err := op.PutFile(types.FileInfo{
		Descriptor: types.Descriptor{
			Name: "HELLO",
			Type: types.FiletypeBinary,
		},
		Data:         []byte{0x01, 0x02, 0x03, 0x04},
		StartAddress: 0x0803,
	}, false)
	require.NoError(t, err)
	assert.False(t, existed)

	// Catalog entry: type B, 2 sectors (1 T/S list + 1 data).
	_, fd, found, err := findInCatalog(op.data, func(f FileDesc) bool {
		return f.Status() == FileDescStatusNormal && f.FilenameString() == "HELLO"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, FiletypeBinary, fd.Filetype)
	assert.Equal(t, uint16(2), fd.SectorCount)
	assert.Equal(t, byte('H')|0x80, fd.Filename[0])
	assert.Equal(t, byte(' ')|0x80, fd.Filename[5], "name is space padded in negative ASCII")

	// Data sector: LE start address, LE length, payload, zero fill.
	sf, err := op.GetAny("HELLO")
	require.NoError(t, err)
	require.Contains(t, sf.Chunks, 0)
	want := make([]byte, 256)
	copy(want, []byte{0x03, 0x08, 0x04, 0x00, 0x01, 0x02, 0x03, 0x04})
	assert.Equal(t, want, sf.Chunks[0])

	// And a full GetFile round-trip strips the header back off.
	fi, err := op.GetFile("HELLO")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0803), fi.StartAddress)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, fi.Data)
}

func TestPutAnySparseHoles(t *testing.T) {
	op := freshOperator(t)
	sf := sparse.New(256)
	sf.Chunks[0] = bytes.Repeat([]byte{0x11}, 256)
	sf.Chunks[5] = bytes.Repeat([]byte{0x55}, 256)

	existed, err := op.PutAny(types.FileInfo{
		Descriptor: types.Descriptor{Name: "SPARSE", Type: types.FiletypeBinary},
	}, sf, false)
	require.NoError(t, err)
	assert.False(t, existed)

	// The T/S list records zero pairs for chunks 1-4.
	_, fd, found, err := findInCatalog(op.data, func(f FileDesc) bool {
		return f.Status() == FileDescStatusNormal && f.FilenameString() == "SPARSE"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint16(3), fd.SectorCount, "1 T/S list + 2 data sectors")
	tsl := TrackSectorList{}
	require.NoError(t, disk.UnmarshalLogicalSector(op.data, &tsl, fd.TrackSectorListTrack, fd.TrackSectorListSector))
	for i := 1; i <= 4; i++ {
		assert.Equal(t, disk.TrackSector{}, tsl.TrackSectors[i], "pair %d should be a hole", i)
	}
	assert.NotEqual(t, disk.TrackSector{}, tsl.TrackSectors[0])
	assert.NotEqual(t, disk.TrackSector{}, tsl.TrackSectors[5])

	// read_any recovers exactly the two present indices.
	got, err := op.GetAny("SPARSE")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 5}, got.OrderedIndices())
	assert.Equal(t, sf.Chunks[0], got.Chunks[0])
	assert.Equal(t, sf.Chunks[5], got.Chunks[5])
}

func TestPutFileDiskFullLeavesVTOCUntouched(t *testing.T) {
	op := freshOperator(t)
	vtocBefore, err := disk.ReadSector(op.data, VTOCTrack, VTOCSector)
	require.NoError(t, err)
	before := append([]byte(nil), vtocBefore...)

	// 33 free tracks * 16 sectors is 528 free; ask for far more.
	_, err = op.PutFile(types.FileInfo{
		Descriptor: types.Descriptor{Name: "TOOBIG", Type: types.FiletypeBinary},
		Data:       make([]byte, 600*256),
	}, false)
	require.Error(t, err)
	assert.True(t, diskerr.IsDiskFull(err))

	vtocAfter, err := disk.ReadSector(op.data, VTOCTrack, VTOCSector)
	require.NoError(t, err)
	assert.Equal(t, before, vtocAfter, "VTOC must be byte-identical after a DiskFull rejection")
}

func TestEntryMutations(t *testing.T) {
	op := freshOperator(t)
	_, err := op.PutFile(types.FileInfo{
		Descriptor: types.Descriptor{Name: "PROG", Type: types.FiletypeApplesoftBASIC},
		Data:       []byte{0xde, 0xad},
	}, false)
	require.NoError(t, err)

	require.NoError(t, op.Lock("PROG"))
	assert.Error(t, op.Rename("PROG", "PROG2"), "locked file cannot be renamed")
	_, err = op.Delete("PROG")
	assert.True(t, diskerr.IsFileLocked(err))

	require.NoError(t, op.Unlock("PROG"))
	require.NoError(t, op.Rename("PROG", "PROG2"))
	_, err = op.GetFile("PROG2")
	require.NoError(t, err)

	require.NoError(t, op.Retype("PROG2", types.FiletypeBinary))
	_, fd, found, err := findInCatalog(op.data, func(f FileDesc) bool {
		return f.Status() == FileDescStatusNormal && f.FilenameString() == "PROG2"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, FiletypeBinary, fd.Filetype)

	assert.Error(t, op.Rename("PROG2", "PROG2"), "rename onto an existing name is rejected")
	assert.True(t, diskerr.IsFileNotFound(op.Lock("NOPE")))
}
