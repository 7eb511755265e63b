package track

import (
	"crypto/rand"
	"testing"

	"github.com/zellyn/diskii/disk"
)

func physFromLogical(logical byte) byte {
	return byte(disk.Dos33LogicalToPhysicalSectorMap[logical])
}

func TestFindBitPatternAtOffset(t *testing.T) {
	buf := make([]byte, 64)
	tb := New(buf)
	// Place the pattern 0xFF96 (16 bits) starting at bit offset 37.
	const offset = 37
	tb.ShiftFwd(offset)
	tb.Write([]byte{0xff, 0x96}, 16)
	tb.Reset()
	consumed, ok := tb.FindBitPattern(pack([]byte{0xff, 0x96}), 16)
	if !ok {
		t.Fatal("expected to find pattern")
	}
	if consumed != offset+16 {
		t.Fatalf("consumed = %d, want %d", consumed, offset+16)
	}
}

func TestCreateTrackThenFindEverySector(t *testing.T) {
	adr := StdAddressFormat()
	dat := StdDataFormat()
	tb := CreateTrack(254, 17, adr, dat, SpecialNone)
	for sector := byte(0); sector < 16; sector++ {
		if _, err := FindSectorData(tb, 17, sector, adr, dat, SpecialNone); err != nil {
			t.Fatalf("sector %d: %v", sector, err)
		}
	}
}

func TestTrackDORoundTrip(t *testing.T) {
	doImg := make([]byte, disk.FloppyDiskBytes)
	doImg[17*4096+6] = 254 // volume number byte the DO bridge reads
	var payload [256]byte
	if _, err := rand.Read(payload[:]); err != nil {
		t.Fatal(err)
	}
	const trackNum = 3
	off := trackNum * 4096
	copy(doImg[off:off+256], payload[:])

	tb := FromDO(doImg, trackNum, physFromLogical)

	out := make([]byte, disk.FloppyDiskBytes)
	adr := StdAddressFormat()
	dat := StdDataFormat()
	if err := ToDO(out, trackNum, tb, adr, dat, SpecialNone, physFromLogical); err != nil {
		t.Fatalf("ToDO: %v", err)
	}
	for i := 0; i < 256; i++ {
		if out[off+i] != payload[i] {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, out[off+i], payload[i])
		}
	}
}
