// Package img implements the disk image container formats that are
// not worth their own package: flat nibble dumps (NIB/NB2), ImageDisk
// (IMD), and Teledisk (TD0). The sector-ordered DO/PO formats live in
// package disk, and the bit-level WOZ format lives in package woz.
//
// IMD and TD0 are cylinder/head/sector record formats used for CP/M
// and FAT media; both store an explicit per-track sector map rather
// than assuming a fixed geometry.
package img

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/zellyn/diskii/diskerr"
)

var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// Decompress expands an xz-wrapped disk image to its raw bytes.
// Images that don't start with the xz magic are returned unchanged,
// so callers can pass every input through this unconditionally.
func Decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, xzMagic) {
		return data, nil
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, diskerr.Wrap(diskerr.BadFormat, err, "xz wrapper rejected")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, diskerr.Wrap(diskerr.BadFormat, err, "xz stream truncated or corrupt")
	}
	return out, nil
}

// isUniform reports whether every byte of slice equals the first.
func isUniform(slice []byte) bool {
	for i := 1; i < len(slice); i++ {
		if slice[i] != slice[0] {
			return false
		}
	}
	return true
}
