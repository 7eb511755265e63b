package woz

import (
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/track"
)

// bitstreamStart is the file offset of the first track's bitstream in
// the v2 images this package emits: 12-byte header, INFO and TMAP
// chunks, then the TRKS chunk header and 160-record index table. The
// total lands exactly on the 512-byte boundary at byte 1536 (block 3).
const bitstreamStart = 12 + (8 + 60) + (8 + 160) + 8 + trkIndexTableSize

// blocksPerTrack is the v2 block footprint of one standard-density
// 5.25" track: 6656 bytes of bitstream, 13 blocks.
const blocksPerTrack = TrackLength / 512

// FromDO builds a WOZ v2 image from a 143360-byte DOS-ordered sector
// image, nibble-encoding each of the 35 tracks. Each whole track is
// mapped at quarter-track positions 4T-1, 4T, and 4T+1.
func FromDO(doImg []byte, physicalSector func(logical byte) byte) (*Woz, error) {
	const floppyTracks = 35
	if len(doImg) != floppyTracks*16*256 {
		return nil, diskerr.OutOfRangef("DO image is %d bytes; expected %d", len(doImg), floppyTracks*16*256)
	}
	w := &Woz{
		Info: Info{
			Version:          2,
			DiskType:         DiskType525,
			Creator:          "diskii",
			DiskSides:        1,
			BootSectorFormat: 1, // 16-sector
			OptimalBitTiming: 32,
			LargestTrack:     blocksPerTrack,
		},
		TrkIndex:        make([]TrkIndex, 160),
		trackBitsOffset: bitstreamStart,
	}
	for i := range w.TMap {
		w.TMap[i] = 0xff
	}
	for t := 0; t < floppyTracks; t++ {
		bits := track.FromDO(doImg, byte(t), physicalSector)
		buf := bits.ToBuffer()
		if len(buf) != TrackLength {
			return nil, diskerr.BadTrackf("encoded track %d is %d bytes; expected %d", t, len(buf), TrackLength)
		}
		w.Bits = append(w.Bits, buf...)
		w.TrkIndex[t] = TrkIndex{
			StartingBlock: uint16(bitstreamStart/512 + t*blocksPerTrack),
			BlockCount:    blocksPerTrack,
			BitCount:      uint32(TrackLength * 8),
		}
		for _, q := range []int{4*t - 1, 4 * t, 4*t + 1} {
			if q >= 0 && q < len(w.TMap) {
				w.TMap[q] = uint8(t)
			}
		}
	}
	return w, nil
}
