// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package disk

import (
	"fmt"

	"github.com/zellyn/diskii/diskerr"
)

// doToPoSector maps a DOS-logical sector number to the ProDOS-logical
// sector that occupies the same physical position on the track. The
// composition of the two permutation tables works out to
// {0,14,13,12,11,10,9,8,7,6,5,4,3,2,1,15}, and it is its own inverse.
var doToPoSector [16]int

func init() {
	for s := 0; s < FloppySectors; s++ {
		doToPoSector[s] = ProDosPhysicalToLogicalSectorMap[Dos33LogicalToPhysicalSectorMap[s]]
	}
}

// SectorImage is a validated flat sector dump: 256-byte sectors in
// 16-sector tracks, held internally in DOS (DO) logical order. The
// same bytes reordered by the fixed per-track sector permutation give
// the ProDOS (PO) ordering.
type SectorImage struct {
	data []byte
}

func validateImageSize(size int) error {
	if size%512 != 0 {
		return diskerr.OutOfRangef("sector image must be a multiple of 512 bytes; got %d", size)
	}
	blocks := size / 512
	if blocks < 280 || blocks > 65535 {
		return diskerr.OutOfRangef("sector image must hold 280 to 65535 blocks; got %d", blocks)
	}
	if blocks%8 != 0 {
		return diskerr.OutOfRangef("sector image must hold whole 8-block tracks; got %d blocks", blocks)
	}
	return nil
}

// NewSectorImageFromDO wraps a DOS-ordered buffer, copying it.
func NewSectorImageFromDO(buf []byte) (*SectorImage, error) {
	if err := validateImageSize(len(buf)); err != nil {
		return nil, err
	}
	data := make([]byte, len(buf))
	copy(data, buf)
	return &SectorImage{data: data}, nil
}

// NewSectorImageFromPO wraps a ProDOS-ordered buffer, converting it
// to internal DO order.
func NewSectorImageFromPO(buf []byte) (*SectorImage, error) {
	if err := validateImageSize(len(buf)); err != nil {
		return nil, err
	}
	return &SectorImage{data: permuteSectors(buf)}, nil
}

// permuteSectors applies the (self-inverse) DO↔PO sector permutation
// to every 4096-byte track of buf, returning a fresh buffer.
func permuteSectors(buf []byte) []byte {
	out := make([]byte, len(buf))
	for trackOff := 0; trackOff < len(buf); trackOff += FloppyTrackBytes {
		for sector := 0; sector < FloppySectors; sector++ {
			src := trackOff + sector*256
			dst := trackOff + doToPoSector[sector]*256
			copy(out[dst:dst+256], buf[src:src+256])
		}
	}
	return out
}

// Blocks returns the image size in 512-byte blocks.
func (si *SectorImage) Blocks() int { return len(si.data) / 512 }

// ToDO returns a fresh DOS-ordered copy of the image.
func (si *SectorImage) ToDO() []byte {
	out := make([]byte, len(si.data))
	copy(out, si.data)
	return out
}

// ToPO returns a fresh ProDOS-ordered copy of the image.
func (si *SectorImage) ToPO() []byte {
	return permuteSectors(si.data)
}

// UpdateFromDO replaces the image contents from a DOS-ordered buffer
// of the same size.
func (si *SectorImage) UpdateFromDO(buf []byte) error {
	if len(buf) != len(si.data) {
		return diskerr.OutOfRangef("replacement image is %d bytes; image is %d", len(buf), len(si.data))
	}
	copy(si.data, buf)
	return nil
}

// UpdateFromPO replaces the image contents from a ProDOS-ordered
// buffer of the same size.
func (si *SectorImage) UpdateFromPO(buf []byte) error {
	if len(buf) != len(si.data) {
		return diskerr.OutOfRangef("replacement image is %d bytes; image is %d", len(buf), len(si.data))
	}
	copy(si.data, permuteSectors(buf))
	return nil
}

// String implements fmt.Stringer.
func (si *SectorImage) String() string {
	return fmt.Sprintf("SectorImage(%d blocks)", si.Blocks())
}
