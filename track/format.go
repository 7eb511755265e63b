package track

import (
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/nibble"
)

// NibbleKind selects which group-coding scheme a field uses.
type NibbleKind int

const (
	Enc44 NibbleKind = iota
	Enc53
	Enc62
)

// Special selects a copy-protection timing variant understood by
// FindSectorData.
type Special int

const (
	// SpecialNone is the standard Apple DOS/ProDOS sector layout.
	SpecialNone Special = iota
	// SpecialMuse is the Castle Wolfenstein "MUSE" variant: the
	// encoded sector number is halved for tracks >= 3 and must be
	// even in the raw address field.
	SpecialMuse
	// SpecialSkipFirstAddrByte matches only the last two bytes of the
	// address prolog (used by a handful of non-standard formats).
	SpecialSkipFirstAddrByte
)

// AddressFormat describes the on-track layout of a sector's address
// field.
type AddressFormat struct {
	Prolog             [3]byte
	Epilog             [3]byte
	ChkSeed            byte
	VerifyChk          bool
	VerifyTrack        bool
	VerifyEpilogCount  int
	Nib                NibbleKind
}

// StdAddressFormat is the standard Apple DOS 3.3/ProDOS address field
// format: prolog D5 AA 96, epilog DE AA EB, verifying both checksum
// and track number against two of the three epilog bytes.
func StdAddressFormat() AddressFormat {
	return AddressFormat{
		Prolog:            [3]byte{0xd5, 0xaa, 0x96},
		Epilog:            [3]byte{0xde, 0xaa, 0xeb},
		ChkSeed:           0x00,
		VerifyChk:         true,
		VerifyTrack:       true,
		VerifyEpilogCount: 2,
		Nib:               Enc62,
	}
}

// DataFormat describes the on-track layout of a sector's data field.
type DataFormat struct {
	Prolog            [3]byte
	Epilog            [3]byte
	ChkSeed           byte
	VerifyChk         bool
	VerifyEpilogCount int
	Nib               NibbleKind
}

// StdDataFormat is the standard Apple DOS 3.3/ProDOS data field
// format: prolog D5 AA AD, epilog DE AA EB, 6-and-2 encoding.
func StdDataFormat() DataFormat {
	return DataFormat{
		Prolog:            [3]byte{0xd5, 0xaa, 0xad},
		Epilog:            [3]byte{0xde, 0xaa, 0xeb},
		ChkSeed:           0x00,
		VerifyChk:         true,
		VerifyEpilogCount: 2,
		Nib:               Enc62,
	}
}

// pack left-aligns up to 4 bytes into the top bits of a uint32, MSB
// first: pack(D5,AA,96) with length 24 yields a pattern whose bit 31
// is D5's MSB, matching the chronological order bits arrive in from
// Bits.Next (earliest-read bit compared against the pattern's MSB).
func pack(bs []byte) uint32 {
	var v uint32
	for i, b := range bs {
		if i >= 4 {
			break
		}
		v |= uint32(b) << uint(24-8*i)
	}
	return v
}

func decodeAddr(t *Bits) (vol, trk, sector, chk byte) {
	var buf [8]byte
	t.Read(buf[:], 64)
	vol = nibble.Decode44([2]byte{buf[0], buf[1]})
	trk = nibble.Decode44([2]byte{buf[2], buf[3]})
	sector = nibble.Decode44([2]byte{buf[4], buf[5]})
	chk = nibble.Decode44([2]byte{buf[6], buf[7]})
	return
}

// FindSectorData advances t's bit pointer to the first data nibble of
// the sector addressed by (wantTrack, wantSector), returning the
// volume number found in the address field. It tries up to 32 prolog
// matches before giving up.
func FindSectorData(t *Bits, wantTrack, wantSector byte, adr AddressFormat, dat DataFormat, special Special) (volume byte, err error) {
	var prologLen int
	var prologPatt uint32
	if special == SpecialSkipFirstAddrByte {
		prologLen, prologPatt = 16, pack(adr.Prolog[1:3])
	} else {
		prologLen, prologPatt = 24, pack(adr.Prolog[:])
	}
	epilogLen := adr.VerifyEpilogCount * 8
	epilogPatt := pack(adr.Epilog[:])
	dataLen := 24
	dataPatt := pack(dat.Prolog[:])

	for try := 0; try < 32; try++ {
		if _, ok := t.FindBitPattern(prologPatt, prologLen); !ok {
			return 0, diskerr.BitPatternNotFoundf("address prolog not found on track")
		}
		vol, trk, sector, chk := decodeAddr(t)
		sum := adr.ChkSeed ^ vol ^ trk ^ sector ^ chk
		if adr.VerifyTrack && trk != wantTrack {
			continue
		}
		if adr.VerifyChk && sum != 0 {
			continue
		}
		if _, ok := t.FindBitPattern(epilogPatt, epilogLen); !ok {
			continue
		}
		if special == SpecialMuse {
			if wantTrack > 2 {
				if sector&0x01 != 0 {
					continue
				}
				sector /= 2
			}
		}
		if wantSector != sector {
			continue
		}
		if _, ok := t.FindBitPattern(dataPatt, dataLen); !ok {
			return 0, diskerr.BitPatternNotFoundf("data prolog not found for track %d sector %d", wantTrack, wantSector)
		}
		return vol, nil
	}
	return 0, diskerr.BadTrackf("could not locate track %d sector %d after 32 tries", wantTrack, wantSector)
}

// EncodeSector writes a 256-byte sector's 6&2-encoded form directly at
// the current bit position.
func EncodeSector(t *Bits, data [256]byte, dat DataFormat) {
	if dat.Nib != Enc62 {
		panic("track: only 6&2 nibbles are supported for sector data")
	}
	nibs := nibble.EncodeSector62(data, dat.ChkSeed)
	t.Write(nibs[:], 343*8)
}

// DecodeSector reads and decodes a 256-byte sector from the current
// bit position.
func DecodeSector(t *Bits, dat DataFormat) ([256]byte, error) {
	if dat.Nib != Enc62 {
		panic("track: only 6&2 nibbles are supported for sector data")
	}
	var nibs [343]byte
	t.Read(nibs[:], 343*8)
	return nibble.DecodeSector62(nibs, dat.ChkSeed, dat.VerifyChk)
}

func writeSyncGap(t *Bits, num int) {
	for i := 0; i < num; i++ {
		t.Write([]byte{0xff, 0x00}, 10)
	}
}

// CreateTrack emits a blank (zero-data) track: a 40 sync-byte pre-gap
// followed by 16 address/data segments, each separated by a 10-byte
// post-address and 20-byte post-data sync gap.
func CreateTrack(vol, trackNum byte, adr AddressFormat, dat DataFormat, special Special) *Bits {
	if dat.Nib != Enc62 {
		panic("track: only 6&2 nibbles are supported for sector data")
	}
	t := New(make([]byte, 13*512))
	writeSyncGap(t, 40)
	for sector := byte(0); sector < 16; sector++ {
		t.Write(adr.Prolog[:], 24)
		v44 := nibble.Encode44(vol)
		t.Write(v44[:], 16)
		tr44 := nibble.Encode44(trackNum)
		t.Write(tr44[:], 16)
		se44 := nibble.Encode44(sector)
		t.Write(se44[:], 16)
		chksum := adr.ChkSeed ^ vol ^ trackNum ^ sector
		ck44 := nibble.Encode44(chksum)
		t.Write(ck44[:], 16)
		t.Write(adr.Epilog[:], 24)
		writeSyncGap(t, 10)
		t.Write(dat.Prolog[:], 24)
		var empty [256]byte
		EncodeSector(t, empty, dat)
		t.Write(dat.Epilog[:], 24)
		writeSyncGap(t, 20)
	}
	t.Reset()
	return t
}

// FromDO builds the nibble-level track bits for one track of a DOS-
// ordered sector image, using physicalSector to place each of the 16
// logical sectors at its interleaved physical position.
func FromDO(doImg []byte, trackNum byte, physicalSector func(logical byte) byte) *Bits {
	vol := doImg[17*4096+6]
	adr := StdAddressFormat()
	dat := StdDataFormat()
	t := CreateTrack(vol, trackNum, adr, dat, SpecialNone)
	for logical := byte(0); logical < 16; logical++ {
		phys := physicalSector(logical)
		if _, err := FindSectorData(t, trackNum, phys, adr, dat, SpecialNone); err != nil {
			continue
		}
		off := int(trackNum)*4096 + int(logical)*256
		var sec [256]byte
		copy(sec[:], doImg[off:off+256])
		EncodeSector(t, sec, dat)
	}
	t.Reset()
	return t
}

// ToDO reads one track's worth of nibble-encoded sectors back into a
// DOS-ordered image buffer.
func ToDO(doImg []byte, trackNum byte, t *Bits, adr AddressFormat, dat DataFormat, special Special, physicalSector func(logical byte) byte) error {
	for logical := byte(0); logical < 16; logical++ {
		phys := physicalSector(logical)
		off := int(trackNum)*4096 + int(logical)*256
		if _, err := FindSectorData(t, trackNum, phys, adr, dat, special); err != nil {
			return err
		}
		sec, err := DecodeSector(t, dat)
		if err != nil {
			return err
		}
		copy(doImg[off:off+256], sec[:])
	}
	return nil
}
