package cpm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/diskii/types"
)

func TestDPBDerivedValues(t *testing.T) {
	dpb := StandardDPB525SSSD
	assert.Equal(t, 1024, dpb.BlockSize())
	assert.Equal(t, 243, dpb.UserBlocks())
	assert.Equal(t, 64, dpb.DirEntries())
	assert.Equal(t, 16384, dpb.ExtentCapacity())
	assert.False(t, dpb.WidePointers())
	assert.Equal(t, 16, dpb.PointersPerEntry())
	assert.Equal(t, 2, dpb.DirBlocks())
	assert.True(t, dpb.Verify())
}

func imageSize(dpb DPB) int {
	return (dpb.UserBlocks()+int(dpb.OFF))*dpb.BlockSize()
}

func newBlankVolume(t *testing.T, dpb DPB) []byte {
	t.Helper()
	diskbytes := make([]byte, imageSize(dpb))
	var dir Directory
	for i := 0; i < dpb.DirEntries(); i++ {
		var entry [DirEntrySize]byte
		entry[0] = Deleted
		dir.Raw = append(dir.Raw, entry)
	}
	require.NoError(t, WriteDirectory(diskbytes, dpb, dir))
	return diskbytes
}

func TestExtentNameRoundtrip(t *testing.T) {
	name, typ := packName8_3("HELLO.TXT")
	e := Extent{User: 0, Name: name, Type: typ}
	assert.Equal(t, "HELLO.TXT", e.NameString())

	buf := make([]byte, DirEntrySize)
	e.toBytes(buf)
	back := extentFromBytes(buf)
	assert.Equal(t, e, back)
}

func TestOperatorPutGetDeleteRoundtrip(t *testing.T) {
	dpb := StandardDPB525SSSD
	diskbytes := newBlankVolume(t, dpb)
	of := OperatorFactory{DPB: dpb}
	op, err := of.Operator(diskbytes, false)
	require.NoError(t, err)

	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i * 3)
	}
	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "BIGFILE.DAT"},
		Data:       data,
	}
	existed, err := op.PutFile(fi, false)
	require.NoError(t, err)
	assert.False(t, existed)

	cat, err := op.Catalog("")
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, "BIGFILE.DAT", cat[0].Name)
	assert.Equal(t, len(data), cat[0].Length)

	got, err := op.GetFile("bigfile.dat")
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)

	_, err = op.PutFile(fi, false)
	assert.Error(t, err, "writing an existing file without overwrite must fail")

	deleted, err := op.Delete("BIGFILE.DAT")
	require.NoError(t, err)
	assert.True(t, deleted)

	cat, err = op.Catalog("")
	require.NoError(t, err)
	assert.Empty(t, cat)
}

func TestUserNumberScoping(t *testing.T) {
	dpb := StandardDPB525SSSD
	diskbytes := newBlankVolume(t, dpb)
	of := OperatorFactory{DPB: dpb}
	op, err := of.Operator(diskbytes, false)
	require.NoError(t, err)

	fi0 := types.FileInfo{Descriptor: types.Descriptor{Name: "SAME.TXT"}, Data: []byte("user zero")}
	fi1 := types.FileInfo{Descriptor: types.Descriptor{Name: "1:SAME.TXT"}, Data: []byte("user one data")}
	_, err = op.PutFile(fi0, false)
	require.NoError(t, err)
	_, err = op.PutFile(fi1, false)
	require.NoError(t, err)

	got0, err := op.GetFile("SAME.TXT")
	require.NoError(t, err)
	assert.Equal(t, []byte("user zero"), got0.Data)

	got1, err := op.GetFile("1:SAME.TXT")
	require.NoError(t, err)
	assert.Equal(t, []byte("user one data"), got1.Data)
}

func TestPutFileDiskFull(t *testing.T) {
	dpb := StandardDPB525SSSD
	diskbytes := newBlankVolume(t, dpb)
	of := OperatorFactory{DPB: dpb}
	op, err := of.Operator(diskbytes, false)
	require.NoError(t, err)

	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "HUGE.DAT"},
		Data:       make([]byte, dpb.DiskCapacity()*2),
	}
	_, err = op.PutFile(fi, false)
	require.Error(t, err)
}

func TestSeemsToMatch(t *testing.T) {
	dpb := StandardDPB525SSSD
	diskbytes := newBlankVolume(t, dpb)
	of := OperatorFactory{DPB: dpb}
	assert.True(t, of.SeemsToMatch(diskbytes, false))
	assert.False(t, of.SeemsToMatch(make([]byte, 10), false))
}
