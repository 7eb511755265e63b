// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

// Package disk contains routines for reading and writing various disk
// file formats.
package disk

import "github.com/zellyn/diskii/types"

// Various DOS33 disk characteristics.
const (
	FloppyTracks  = 35
	FloppySectors = 16 // Sectors per track
	// FloppyDiskBytes is the number of bytes on a DOS 3.3 disk.
	FloppyDiskBytes  = 143360              // 35 tracks * 16 sectors * 256 bytes
	FloppyTrackBytes = 256 * FloppySectors // Bytes per track
	// FloppyDiskBytes13Sector is the size of an older 13-sector-per-track image.
	FloppyDiskBytes13Sector = 35 * 13 * 256
)

// Dos33LogicalToPhysicalSectorMap maps logical sector numbers to physical ones.
// See [UtA2 9-42 - Read Routines].
var Dos33LogicalToPhysicalSectorMap = []int{
	0x00, 0x0D, 0x0B, 0x09, 0x07, 0x05, 0x03, 0x01,
	0x0E, 0x0C, 0x0A, 0x08, 0x06, 0x04, 0x02, 0x0F,
}

// Dos33PhysicalToLogicalSectorMap maps physical sector numbers to logical ones.
// See [UtA2 9-42 - Read Routines].
var Dos33PhysicalToLogicalSectorMap = []int{
	0x00, 0x07, 0x0E, 0x06, 0x0D, 0x05, 0x0C, 0x04,
	0x0B, 0x03, 0x0A, 0x02, 0x09, 0x01, 0x08, 0x0F,
}

// ProDOSLogicalToPhysicalSectorMap maps logical sector numbers to pysical ones.
// See [UtA2e 9-43 - Sectors vs. Blocks].
var ProDOSLogicalToPhysicalSectorMap = []int{
	0x00, 0x02, 0x04, 0x06, 0x08, 0x0A, 0x0C, 0x0E,
	0x01, 0x03, 0x05, 0x07, 0x09, 0x0B, 0x0D, 0x0F,
}

// ProDosPhysicalToLogicalSectorMap maps physical sector numbers to logical ones.
// See [UtA2e 9-43 - Sectors vs. Blocks].
var ProDosPhysicalToLogicalSectorMap = []int{
	0x00, 0x08, 0x01, 0x09, 0x02, 0x0A, 0x03, 0x0B,
	0x04, 0x0C, 0x05, 0x0D, 0x06, 0x0E, 0x07, 0x0F,
}

// rawOrderMap is the identity permutation used for types.DiskOrderRaw:
// Swizzle-ing by it leaves sector order untouched.
var rawOrderMap = []int{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
}

// LogicalToPhysicalByName maps a types.DiskOrder to the permutation table
// that turns DOS-ordered (logical) sectors into on-disk physical ones.
var LogicalToPhysicalByName = map[types.DiskOrder][]int{
	types.DiskOrderDO:  Dos33LogicalToPhysicalSectorMap,
	types.DiskOrderPO:  ProDOSLogicalToPhysicalSectorMap,
	types.DiskOrderRaw: rawOrderMap,
}

// PhysicalToLogicalByName maps a types.DiskOrder to the permutation table
// that turns on-disk physical sectors into DOS-ordered (logical) ones.
var PhysicalToLogicalByName = map[types.DiskOrder][]int{
	types.DiskOrderDO:  Dos33PhysicalToLogicalSectorMap,
	types.DiskOrderPO:  ProDosPhysicalToLogicalSectorMap,
	types.DiskOrderRaw: rawOrderMap,
}

// TrackSector is a pair of track/sector bytes.
type TrackSector struct {
	Track  byte
	Sector byte
}

// blockOffset and byteOffset implement the block = 8*track +
// blockOffset[sector] / byte-in-block = byteOffset[sector] mapping
// from §6: two sectors share each 512-byte block.
var blockOffset = [16]byte{0, 7, 6, 6, 5, 5, 4, 4, 3, 3, 2, 2, 1, 1, 0, 7}
var byteOffset = [16]int{0, 0, 256, 0, 256, 0, 256, 0, 256, 0, 256, 0, 256, 0, 256, 256}

// BlockFromTS returns the block number and the byte offset within
// that block (0 or 256) holding the given track/sector pair.
func BlockFromTS(track, sector byte) (block uint16, offset int) {
	return uint16(track)*8 + uint16(blockOffset[sector]), byteOffset[sector]
}

// TSFromBlock returns the two (track, sector) pairs that make up the
// given 512-byte block, in (first-half, second-half) order.
func TSFromBlock(block uint16) (first, second TrackSector) {
	sector1 := [8]byte{0, 13, 11, 9, 7, 5, 3, 1}
	sector2 := [8]byte{14, 12, 10, 8, 6, 4, 2, 15}
	track := byte(block / 8)
	idx := block % 8
	return TrackSector{Track: track, Sector: sector1[idx]}, TrackSector{Track: track, Sector: sector2[idx]}
}
