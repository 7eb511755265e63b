// create.go builds freshly formatted ProDOS volumes: a four-block
// volume directory chain starting at block 2, and a volume bitmap at
// block 6 with the boot, directory, and bitmap blocks reserved.

package prodos

import (
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
)

// CreateVolumeBytes returns a formatted ProDOS volume of totalBlocks
// 512-byte blocks (280 for a 140KiB diskette) in ProDOS (PO) order.
func CreateVolumeBytes(volumeName string, totalBlocks uint16) ([]byte, error) {
	nameBytes, nameLen, err := encodeProDOSName(volumeName)
	if err != nil {
		return nil, err
	}
	if totalBlocks < 8 {
		return nil, diskerr.OutOfRangef("a ProDOS volume needs at least 8 blocks; got %d", totalBlocks)
	}
	data := make([]byte, int(totalBlocks)*512)

	kb := &VolumeDirectoryKeyBlock{}
	kb.SetBlock(VolumeDirectoryKeyBlockNumber)
	kb.Next = VolumeDirectoryKeyBlockNumber + 1
	kb.Header = VolumeDirectoryHeader{
		TypeAndNameLength: byte(TypeVolumeDirectoryHeader)<<4 | nameLen,
		VolumeName:        nameBytes,
		Access:            AccessReadable | AccessWritable | AccessRenamable | AccessDestroyable,
		EntryLength:       0x27,
		EntriesPerBlock:   0x0d,
		BitMapPointer:     6,
		TotalBlocks:       totalBlocks,
	}
	if err := disk.MarshalBlock(data, kb); err != nil {
		return nil, err
	}
	for block := uint16(3); block <= 5; block++ {
		vdb := &VolumeDirectoryBlock{Prev: block - 1}
		vdb.SetBlock(block)
		if block < 5 {
			vdb.Next = block + 1
		}
		if err := disk.MarshalBlock(data, vdb); err != nil {
			return nil, err
		}
	}

	bitmap := NewVolumeBitMap(6, totalBlocks)
	for b := uint16(0); b < 6; b++ {
		bitmap.MarkUsed(b)
	}
	for b := uint16(0); b < uint16(len(bitmap)); b++ {
		bitmap.MarkUsed(6 + b)
	}
	if err := bitmap.Write(data); err != nil {
		return nil, err
	}
	return data, nil
}
