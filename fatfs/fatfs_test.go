package fatfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/diskii/types"
)

// newTestVolume builds a tiny FAT12 image: 512-byte sectors, 1
// sector/cluster, 1 reserved sector, 1 FAT, a 16-entry root directory,
// and 10 data clusters - just enough geometry to exercise every code
// path without a realistic-sized image.
func newTestVolume(t *testing.T) []byte {
	t.Helper()
	bpb := BPB{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           1,
		RootEntryCount:    16,
		SectorsPerFAT:     1,
		TotalSectors:      13,
	}
	diskbytes := make([]byte, int(bpb.TotalSectors)*int(bpb.BytesPerSector))
	require.NoError(t, WriteBootSector(diskbytes, bpb))
	return diskbytes
}

func TestBootSectorRoundtrip(t *testing.T) {
	diskbytes := newTestVolume(t)
	bpb, err := BootSector(diskbytes)
	require.NoError(t, err)
	assert.Equal(t, uint16(512), bpb.BytesPerSector)
	assert.Equal(t, byte(1), bpb.SectorsPerCluster)
	assert.Equal(t, uint16(1), bpb.ReservedSectors)
	assert.Equal(t, byte(1), bpb.NumFATs)
	assert.Equal(t, uint16(16), bpb.RootEntryCount)
	assert.Equal(t, uint32(13), bpb.TotalSectors)
	assert.Equal(t, uint32(1), bpb.SectorsPerFAT)
	assert.Equal(t, uint32(10), bpb.ClusterCount())
	assert.Equal(t, FAT12, bpb.Type())
}

func TestClusterLinkRoundtripFAT12(t *testing.T) {
	fat := make([]byte, 32)
	SetCluster(2, 5, FAT12, fat)
	SetCluster(3, 0x0FFF, FAT12, fat)
	assert.Equal(t, uint32(5), GetCluster(2, FAT12, fat))
	assert.Equal(t, uint32(0x0FFF), GetCluster(3, FAT12, fat))
	assert.True(t, IsEOC(GetCluster(3, FAT12, fat), FAT12))
	assert.False(t, IsEOC(GetCluster(2, FAT12, fat), FAT12))
}

func TestDirEntryRoundtrip(t *testing.T) {
	name, ext := packName8_3("HELLO.TXT")
	e := DirEntry{Name: name, Ext: ext, Attr: AttrArchive, FirstClusterLo: 2, Size: 99}
	buf := make([]byte, 32)
	e.toBytes(buf)
	back := dirEntryFromBytes(buf)
	assert.Equal(t, e, back)
	assert.Equal(t, "HELLO.TXT", e.NameString())
}

func TestOperatorPutGetDeleteRoundtrip(t *testing.T) {
	diskbytes := newTestVolume(t)
	of := OperatorFactory{}
	op, err := of.Operator(diskbytes, false)
	require.NoError(t, err)

	data := make([]byte, 1200) // spans 3 clusters of 512 bytes
	for i := range data {
		data[i] = byte(i)
	}
	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "HELLO.TXT"},
		Data:       data,
	}
	existed, err := op.PutFile(fi, false)
	require.NoError(t, err)
	assert.False(t, existed)

	cat, err := op.Catalog("")
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, "HELLO.TXT", cat[0].Name)
	assert.Equal(t, 1200, cat[0].Length)

	got, err := op.GetFile("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)

	_, err = op.PutFile(fi, false)
	assert.Error(t, err)

	deleted, err := op.Delete("HELLO.TXT")
	require.NoError(t, err)
	assert.True(t, deleted)

	cat, err = op.Catalog("")
	require.NoError(t, err)
	assert.Empty(t, cat)
}

func TestPutFileDiskFull(t *testing.T) {
	diskbytes := newTestVolume(t)
	of := OperatorFactory{}
	op, err := of.Operator(diskbytes, false)
	require.NoError(t, err)

	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "BIG.DAT"},
		Data:       make([]byte, 512*20),
	}
	_, err = op.PutFile(fi, false)
	require.Error(t, err)
}

func TestSeemsToMatch(t *testing.T) {
	diskbytes := newTestVolume(t)
	of := OperatorFactory{}
	assert.True(t, of.SeemsToMatch(diskbytes, false))
	assert.False(t, of.SeemsToMatch(make([]byte, 10), false))
}
