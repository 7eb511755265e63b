// Package nibble provides the table-driven GCR nibble codec used by
// 5.25" Apple II disk images: 4-and-4, 5-and-3, and 6-and-2 group
// coding, plus the inverse lookup tables needed to decode a disk
// nibble back into data bits.
//
// A "nibble" here is an 8-bit on-disk symbol with the high bit always
// set, chosen from a restricted alphabet so the disk controller's
// self-clocking logic never sees more than a couple of consecutive
// zero bits.
package nibble

import "github.com/zellyn/diskii/diskerr"

// Invalid marks a disk byte that doesn't correspond to any legal
// nibble in the decode direction.
const Invalid = 0xff

// chunk62 is the number of "twos" nibbles folded into a 6&2-encoded
// sector (0x56 == 86).
const chunk62 = 0x56

// Disk53 is the 32-entry encoding table for 5-and-3 nibbles: index i
// (a 5-bit value) maps to the disk byte used to represent it.
var Disk53 = [32]byte{
	0xab, 0xad, 0xae, 0xaf, 0xb5, 0xb6, 0xb7, 0xba,
	0xbb, 0xbd, 0xbe, 0xbf, 0xd6, 0xd7, 0xda, 0xdb,
	0xdd, 0xde, 0xdf, 0xea, 0xeb, 0xed, 0xee, 0xef,
	0xf5, 0xf6, 0xf7, 0xfa, 0xfb, 0xfd, 0xfe, 0xff,
}

// Disk62 is the 64-entry encoding table for 6-and-2 nibbles: index i
// (a 6-bit value) maps to the disk byte used to represent it.
var Disk62 = [64]byte{
	0x96, 0x97, 0x9a, 0x9b, 0x9d, 0x9e, 0x9f, 0xa6,
	0xa7, 0xab, 0xac, 0xad, 0xae, 0xaf, 0xb2, 0xb3,
	0xb4, 0xb5, 0xb6, 0xb7, 0xb9, 0xba, 0xbb, 0xbc,
	0xbd, 0xbe, 0xbf, 0xcb, 0xcd, 0xce, 0xcf, 0xd3,
	0xd6, 0xd7, 0xd9, 0xda, 0xdb, 0xdc, 0xdd, 0xde,
	0xdf, 0xe5, 0xe6, 0xe7, 0xe9, 0xea, 0xeb, 0xec,
	0xed, 0xee, 0xef, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6,
	0xf7, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff,
}

// inverse53 and inverse62 are the 256-entry inverse lookup tables,
// memoized once at package init: deterministic and idempotent, as
// required of any shared nibble-table state.
var inverse53 = invert(Disk53[:])
var inverse62 = invert(Disk62[:])

func invert(table []byte) [256]byte {
	var ans [256]byte
	for i := range ans {
		ans[i] = Invalid
	}
	for i, b := range table {
		ans[b] = byte(i)
	}
	return ans
}

// Encode44 encodes one byte of data into the two disk bytes of 4-and-4
// encoding.
func Encode44(val byte) [2]byte {
	return [2]byte{(val >> 1) | 0xaa, val | 0xaa}
}

// Decode44 decodes the two disk bytes of 4-and-4 encoding back into
// one data byte.
func Decode44(nibs [2]byte) byte {
	return ((nibs[0] << 1) | 0x01) & nibs[1]
}

// Encode53 encodes a 5-bit value into its disk byte.
func Encode53(nib5 byte) byte {
	return Disk53[nib5&0x1f]
}

// Decode53 decodes a disk byte into a 5-bit value, or Invalid if the
// byte isn't a legal 5-and-3 nibble.
func Decode53(b byte) byte {
	return inverse53[b]
}

// Encode62 encodes a 6-bit value into its disk byte.
func Encode62(nib6 byte) byte {
	return Disk62[nib6&0x3f]
}

// Decode62 decodes a disk byte into a 6-bit value, or Invalid if the
// byte isn't a legal 6-and-2 nibble.
func Decode62(b byte) byte {
	return inverse62[b]
}

// chunk53 is the number of 5-byte groups in a 5&3-encoded sector
// (0x33 == 51); the 256th byte is handled separately.
const chunk53 = 0x33

// EncodeSector53 encodes a 256-byte sector into 411 5-and-3 disk
// nibbles (154 "threes" nibbles in reverse order carrying the low
// three bits of every byte, then 256 "top" nibbles carrying the high
// five bits, then a trailing checksum nibble), using seed as the
// initial running XOR value. Not used by 16-sector DOS 3.3 disks, but
// required for 13-sector (DOS 3.2) images.
func EncodeSector53(data [256]byte, seed byte) [411]byte {
	var out [411]byte
	var top [256]byte
	var threes [chunk53*3 + 1]byte
	for c := 0; c < chunk53; c++ {
		var t [5]byte
		for i := 0; i < 5; i++ {
			v := data[c*5+i]
			top[c*5+i] = v >> 3
			t[i] = v & 0x07
		}
		threes[c] = t[0]<<2 | (t[3]&0x04)>>1 | (t[4]&0x04)>>2
		threes[c+chunk53] = t[1]<<2 | (t[3] & 0x02) | (t[4]&0x02)>>1
		threes[c+chunk53*2] = t[2]<<2 | (t[3]&0x01)<<1 | (t[4] & 0x01)
	}
	top[255] = data[255] >> 3
	threes[chunk53*3] = data[255] & 0x07

	// Only the low five bits of the seed can survive nibble encoding,
	// so fold it down for encode/decode symmetry.
	chksum := seed & 0x1f
	idx := 0
	for i := chunk53 * 3; i >= 0; i-- {
		out[idx] = Encode53(threes[i] ^ chksum)
		chksum = threes[i]
		idx++
	}
	for i := 0; i < 256; i++ {
		out[idx] = Encode53(top[i] ^ chksum)
		chksum = top[i]
		idx++
	}
	out[idx] = Encode53(chksum)
	return out
}

// DecodeSector53 decodes 411 5-and-3 disk nibbles back into a
// 256-byte sector, verifying the running-XOR checksum if verify is
// true.
func DecodeSector53(nibs [411]byte, seed byte, verify bool) ([256]byte, error) {
	var ans [256]byte
	var threes [chunk53*3 + 1]byte
	chksum := seed & 0x1f
	idx := 0
	for i := chunk53 * 3; i >= 0; i-- {
		val := Decode53(nibs[idx])
		if val == Invalid {
			return ans, diskerr.InvalidBytef("invalid 5&3 nibble 0x%02x at threes position %d", nibs[idx], i)
		}
		chksum ^= val
		threes[i] = chksum
		idx++
	}
	var top [256]byte
	for i := 0; i < 256; i++ {
		val := Decode53(nibs[idx])
		if val == Invalid {
			return ans, diskerr.InvalidBytef("invalid 5&3 nibble 0x%02x at data position %d", nibs[idx], i)
		}
		chksum ^= val
		top[i] = chksum
		idx++
	}
	val := Decode53(nibs[idx])
	if val == Invalid {
		return ans, diskerr.InvalidBytef("invalid 5&3 checksum nibble 0x%02x", nibs[idx])
	}
	chksum ^= val
	if verify && chksum != 0 {
		return ans, diskerr.BadChecksumf("5&3 sector checksum did not resolve to zero (got 0x%02x)", chksum)
	}

	for c := 0; c < chunk53; c++ {
		t1 := threes[c] >> 2
		t2 := threes[c+chunk53] >> 2
		t3 := threes[c+chunk53*2] >> 2
		t4 := (threes[c]&0x02)<<1 | (threes[c+chunk53] & 0x02) | (threes[c+chunk53*2]&0x02)>>1
		t5 := (threes[c]&0x01)<<2 | (threes[c+chunk53]&0x01)<<1 | (threes[c+chunk53*2] & 0x01)
		ans[c*5+0] = top[c*5+0]<<3 | t1
		ans[c*5+1] = top[c*5+1]<<3 | t2
		ans[c*5+2] = top[c*5+2]<<3 | t3
		ans[c*5+3] = top[c*5+3]<<3 | t4
		ans[c*5+4] = top[c*5+4]<<3 | t5
	}
	ans[255] = top[255]<<3 | threes[chunk53*3]
	return ans, nil
}

// EncodeSector62 encodes a 256-byte sector into 343 6-and-2 disk
// nibbles (86 "twos" nibbles carrying the low two bits of every byte,
// followed by 256 "top" nibbles carrying the high six bits, followed
// by a trailing checksum nibble), using seed as the initial running
// XOR value. This is a direct port of CiderPress's EncodeNibble62 via
// disk525.rs.
func EncodeSector62(data [256]byte, seed byte) [343]byte {
	var out [343]byte
	var top [256]byte
	var twos [chunk62]byte
	twoShift := uint(0)
	twoPosN := chunk62 - 1
	for i := 0; i < 256; i++ {
		val := data[i]
		top[i] = val >> 2
		twos[twoPosN] |= ((val&1)<<1 | (val&2)>>1) << twoShift
		if twoPosN == 0 {
			twoPosN = chunk62
			twoShift += 2
		}
		twoPosN--
	}
	// Only the low six bits of the seed can survive nibble encoding,
	// so fold it down for encode/decode symmetry.
	chksum := seed & 0x3f
	idx := 0
	for i := chunk62 - 1; i >= 0; i-- {
		out[idx] = Encode62(twos[i] ^ chksum)
		chksum = twos[i]
		idx++
	}
	for i := 0; i < 256; i++ {
		out[idx] = Encode62(top[i] ^ chksum)
		chksum = top[i]
		idx++
	}
	out[idx] = Encode62(chksum)
	return out
}

// DecodeSector62 decodes 343 6-and-2 disk nibbles back into a 256-byte
// sector, verifying the running-XOR checksum if verify is true.
func DecodeSector62(nibs [343]byte, seed byte, verify bool) ([256]byte, error) {
	var ans [256]byte
	var twos [chunk62 * 3]byte
	chksum := seed & 0x3f
	idx := 0
	for i := 0; i < chunk62; i++ {
		val := Decode62(nibs[idx])
		if val == Invalid {
			return ans, diskerr.InvalidBytef("invalid 6&2 nibble 0x%02x at twos position %d", nibs[idx], i)
		}
		chksum ^= val
		twos[i] = ((chksum & 0x01) << 1) | ((chksum & 0x02) >> 1)
		twos[i+chunk62] = ((chksum & 0x04) >> 1) | ((chksum & 0x08) >> 3)
		twos[i+chunk62*2] = ((chksum & 0x10) >> 3) | ((chksum & 0x20) >> 5)
		idx++
	}
	for i := 0; i < 256; i++ {
		val := Decode62(nibs[idx])
		if val == Invalid {
			return ans, diskerr.InvalidBytef("invalid 6&2 nibble 0x%02x at data position %d", nibs[idx], i)
		}
		chksum ^= val
		ans[i] = (chksum << 2) | twos[i]
		idx++
	}
	val := Decode62(nibs[idx])
	if val == Invalid {
		return ans, diskerr.InvalidBytef("invalid 6&2 checksum nibble 0x%02x", nibs[idx])
	}
	chksum ^= val
	if verify && chksum != 0 {
		return ans, diskerr.BadChecksumf("6&2 sector checksum did not resolve to zero (got 0x%02x)", chksum)
	}
	return ans, nil
}
