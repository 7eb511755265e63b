package prodos

import (
	"bytes"
	"testing"

	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/types"
)

// blankVolume builds an empty, formatted ProDOS volume of the given
// size, with blocks 0-5 (boot blocks plus the directory key block)
// and the volume bitmap's own blocks marked used.
func blankVolume(totalBlocks uint16) []byte {
	data := make([]byte, int(totalBlocks)*512)

	kb := &VolumeDirectoryKeyBlock{}
	kb.SetBlock(VolumeDirectoryKeyBlockNumber)
	kb.Header = VolumeDirectoryHeader{
		TypeAndNameLength: byte(TypeVolumeDirectoryHeader)<<4 | 4,
		VolumeName:        [15]byte{'T', 'E', 'S', 'T'},
		Access:            AccessReadable | AccessWritable | AccessRenamable | AccessDestroyable,
		EntryLength:       0x27,
		EntriesPerBlock:   0x0d,
		BitMapPointer:     6,
		TotalBlocks:       totalBlocks,
	}
	if err := disk.MarshalBlock(data, kb); err != nil {
		panic(err)
	}

	bitmap := NewVolumeBitMap(6, totalBlocks)
	for b := uint16(0); b < 6; b++ {
		bitmap.MarkUsed(b)
	}
	for b := uint16(0); b < uint16(len(bitmap)); b++ {
		bitmap.MarkUsed(6 + b)
	}
	if err := bitmap.Write(data); err != nil {
		panic(err)
	}
	return data
}

func TestPutGetDeleteSeedling(t *testing.T) {
	op := operator{data: blankVolume(280)}

	fi := types.FileInfo{
		Descriptor:   types.Descriptor{Name: "HELLO", Type: types.FiletypeBinary},
		Data:         []byte("hi there"),
		StartAddress: 0x2000,
	}

	existed, err := op.PutFile(fi, false)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("expected existed=false for new file")
	}

	got, err := op.GetFile("HELLO")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, fi.Data) {
		t.Errorf("got data %q; want %q", got.Data, fi.Data)
	}
	if got.StartAddress != fi.StartAddress {
		t.Errorf("got aux type %#x; want %#x", got.StartAddress, fi.StartAddress)
	}
	if got.Descriptor.Blocks != 1 {
		t.Errorf("got %d blocks used; want 1 (seedling)", got.Descriptor.Blocks)
	}

	// Putting again without overwrite should fail.
	if _, err := op.PutFile(fi, false); !diskerr.IsFileExists(err) {
		t.Errorf("expected FileExists error; got %v", err)
	}

	deleted, err := op.Delete("HELLO")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("expected Delete to report deleted=true")
	}

	if _, err := op.GetFile("HELLO"); !diskerr.IsFileNotFound(err) {
		t.Errorf("expected FileNotFound after delete; got %v", err)
	}
}

func TestPutFileSaplingPromotion(t *testing.T) {
	op := operator{data: blankVolume(280)}

	data := make([]byte, 3000) // 6 data blocks: crosses seedling -> sapling.
	for i := range data {
		data[i] = byte(i)
	}

	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "BIGFILE", Type: types.FiletypeBinary},
		Data:       data,
	}
	if _, err := op.PutFile(fi, false); err != nil {
		t.Fatal(err)
	}

	got, err := op.GetFile("BIGFILE")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, data) {
		t.Error("sapling roundtrip data mismatch")
	}
	// 6 data blocks + 1 index block.
	if got.Descriptor.Blocks != 7 {
		t.Errorf("got %d blocks used; want 7 (sapling)", got.Descriptor.Blocks)
	}
}

func TestPutFileOverwrite(t *testing.T) {
	op := operator{data: blankVolume(280)}

	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "F", Type: types.FiletypeBinary},
		Data:       bytes.Repeat([]byte{1}, 10),
	}
	if _, err := op.PutFile(fi, false); err != nil {
		t.Fatal(err)
	}

	fi2 := types.FileInfo{
		Descriptor: types.Descriptor{Name: "F", Type: types.FiletypeBinary},
		Data:       bytes.Repeat([]byte{2}, 4000),
	}
	existed, err := op.PutFile(fi2, true)
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Error("expected existed=true when overwriting")
	}

	got, err := op.GetFile("F")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, fi2.Data) {
		t.Error("overwrite did not take effect")
	}
}

func TestPutFileDiskFullLeavesBitmapUntouched(t *testing.T) {
	// A tiny volume with only one free block after formatting.
	op := operator{data: blankVolume(8)}

	kb, err := readKeyBlock(op.data)
	if err != nil {
		t.Fatal(err)
	}
	before, err := readVolumeBitMap(op.data, kb.Header.BitMapPointer)
	if err != nil {
		t.Fatal(err)
	}
	beforeBytes := make([]byte, len(op.data))
	copy(beforeBytes, op.data)

	fi := types.FileInfo{
		Descriptor: types.Descriptor{Name: "TOOBIG", Type: types.FiletypeBinary},
		Data:       bytes.Repeat([]byte{9}, 3000), // needs 6 data blocks + 1 index block; only 1 free.
	}
	if _, err := op.PutFile(fi, false); !diskerr.IsDiskFull(err) {
		t.Fatalf("expected DiskFull error; got %v", err)
	}

	if !bytes.Equal(beforeBytes, op.data) {
		t.Error("device bytes changed despite DiskFull: pre-check should reject before any write")
	}

	after, err := readVolumeBitMap(op.data, kb.Header.BitMapPointer)
	if err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if before[i].data != after[i].data {
			t.Errorf("bitmap block %d changed after a rejected write", i)
		}
	}
}
