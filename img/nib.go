package img

import (
	"github.com/sirupsen/logrus"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/track"
)

// Track byte capacities for the two flat nibble dump variants. NIB
// and WOZ share the same nibble machinery; the only difference is
// that NIB records sync bytes as plain 8-bit FF bytes, so a NIB track
// is an even number of whole bytes with no bit count.
const (
	TrackCapacityNib = 6656
	TrackCapacityNB2 = 6384
)

const nibTracks = 35

// Nib is a flat nibble dump: 35 tracks of raw disk nibbles with no
// header, recognized purely by file size (35×6656 for NIB, 35×6384
// for NB2).
type Nib struct {
	trackCap int
	data     []byte
}

// NewNib formats a blank 16-sector NIB image with the given volume
// number in every address field.
func NewNib(vol byte) *Nib {
	data := make([]byte, 0, nibTracks*TrackCapacityNib)
	adr := track.StdAddressFormat()
	dat := track.StdDataFormat()
	for t := byte(0); t < nibTracks; t++ {
		bits := track.CreateTrack(vol, t, adr, dat, track.SpecialNone)
		data = append(data, bits.ToBuffer()...)
	}
	return &Nib{trackCap: TrackCapacityNib, data: data}
}

// NibFromBytes interprets buf as a NIB or NB2 dump, distinguishing
// the two by total size. The buffer may be xz-wrapped.
func NibFromBytes(buf []byte) (*Nib, error) {
	buf, err := Decompress(buf)
	if err != nil {
		return nil, err
	}
	switch len(buf) {
	case nibTracks * TrackCapacityNib:
		return &Nib{trackCap: TrackCapacityNib, data: buf}, nil
	case nibTracks * TrackCapacityNB2:
		return &Nib{trackCap: TrackCapacityNB2, data: buf}, nil
	}
	logrus.Debugf("img: buffer size %d matches neither nib nor nb2", len(buf))
	return nil, diskerr.BadFormatf("buffer size %d matches neither nib (%d) nor nb2 (%d)",
		len(buf), nibTracks*TrackCapacityNib, nibTracks*TrackCapacityNB2)
}

// Bytes returns the raw dump bytes.
func (n *Nib) Bytes() []byte { return n.data }

// Tracks returns the track count (always 35).
func (n *Nib) Tracks() int { return nibTracks }

// TrackCapacity returns the per-track byte capacity (6656 or 6384).
func (n *Nib) TrackCapacity() int { return n.trackCap }

// trackBits returns a mutable bit-cursor view over track t's bytes.
// The view aliases the image buffer, so writes through it land in the
// image directly.
func (n *Nib) trackBits(t byte) (*track.Bits, error) {
	if int(t) >= nibTracks {
		return nil, diskerr.OutOfRangef("track %d out of range", t)
	}
	return track.New(n.data[int(t)*n.trackCap : (int(t)+1)*n.trackCap]), nil
}

// GetTrack returns a copy of track t's bits.
func (n *Nib) GetTrack(t byte) (*track.Bits, error) {
	bits, err := n.trackBits(t)
	if err != nil {
		return nil, err
	}
	return track.New(bits.ToBuffer()), nil
}

// SetTrack replaces track t's bytes with bits' backing buffer, which
// must be exactly the track capacity.
func (n *Nib) SetTrack(t byte, bits *track.Bits) error {
	if int(t) >= nibTracks {
		return diskerr.OutOfRangef("track %d out of range", t)
	}
	if bits.Len() != n.trackCap {
		return diskerr.OutOfRangef("track buffer is %d bytes; image tracks are %d", bits.Len(), n.trackCap)
	}
	copy(n.data[int(t)*n.trackCap:], bits.ToBuffer())
	return nil
}

// ReadSector decodes physical sector s of track t.
func (n *Nib) ReadSector(t, s byte) ([256]byte, error) {
	var zero [256]byte
	bits, err := n.trackBits(t)
	if err != nil {
		return zero, err
	}
	adr := track.StdAddressFormat()
	dat := track.StdDataFormat()
	if _, err := track.FindSectorData(bits, t, s, adr, dat, track.SpecialNone); err != nil {
		return zero, err
	}
	return track.DecodeSector(bits, dat)
}

// WriteSector re-encodes physical sector s of track t in place.
func (n *Nib) WriteSector(t, s byte, data [256]byte) error {
	bits, err := n.trackBits(t)
	if err != nil {
		return err
	}
	adr := track.StdAddressFormat()
	dat := track.StdDataFormat()
	if _, err := track.FindSectorData(bits, t, s, adr, dat, track.SpecialNone); err != nil {
		return err
	}
	track.EncodeSector(bits, data, dat)
	return nil
}

// ToDO decodes every track into a 143360-byte DOS-ordered sector
// image, using physicalSector to undo the interleave.
func (n *Nib) ToDO(physicalSector func(logical byte) byte) ([]byte, error) {
	doImg := make([]byte, nibTracks*16*256)
	adr := track.StdAddressFormat()
	dat := track.StdDataFormat()
	for t := byte(0); t < nibTracks; t++ {
		bits, err := n.trackBits(t)
		if err != nil {
			return nil, err
		}
		if err := track.ToDO(doImg, t, bits, adr, dat, track.SpecialNone, physicalSector); err != nil {
			return nil, err
		}
	}
	return doImg, nil
}

// NibFromDO encodes a 143360-byte DOS-ordered sector image as a
// freshly formatted NIB dump.
func NibFromDO(doImg []byte, physicalSector func(logical byte) byte) (*Nib, error) {
	if len(doImg) != nibTracks*16*256 {
		return nil, diskerr.OutOfRangef("DO image is %d bytes; expected %d", len(doImg), nibTracks*16*256)
	}
	n := &Nib{trackCap: TrackCapacityNib, data: make([]byte, 0, nibTracks*TrackCapacityNib)}
	for t := byte(0); t < nibTracks; t++ {
		bits := track.FromDO(doImg, t, physicalSector)
		n.data = append(n.data, bits.ToBuffer()...)
	}
	return n, nil
}
