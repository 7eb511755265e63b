package img

import (
	"bytes"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/zellyn/diskii/diskerr"
)

// IMD sector data type codes. The even codes are the compressed
// ("uniform fill byte") forms of the odd code below them; tracks are
// held expanded in memory and re-compressed on emit.
const (
	imdSecNone              = 0
	imdSecNormal            = 1
	imdSecNormalCompressed  = 2
	imdSecNormalDeleted     = 3
	imdSecNormalCompDeleted = 4
	imdSecError             = 5
	imdSecErrorCompressed   = 6
	imdSecErrorDeleted      = 7
	imdSecErrorCompDeleted  = 8
)

const (
	imdSectorSizeBase = 128
	imdCylMapFlag     = 0x80
	imdHeadMapFlag    = 0x40
	imdHeadMask       = 0x0f
	imdTerminator     = 0x1a
)

// ImdTrack is one track record of an IMD image. The sector map gives
// the physical order sectors appear in on the track; the optional
// cylinder and head maps override the per-sector address fields for
// copy-protected layouts.
type ImdTrack struct {
	Mode        byte
	Cylinder    byte
	Head        byte // low nibble; map-presence flags are tracked separately
	SectorShift byte
	SectorMap   []byte
	CylinderMap []byte
	HeadMap     []byte

	codes []byte   // expanded data type code per sector, in sector-map order
	data  [][]byte // expanded payload per sector; nil for unreadable sectors
}

// SectorSize returns the track's uniform sector size in bytes.
func (t *ImdTrack) SectorSize() int { return imdSectorSizeBase << t.SectorShift }

// Imd is an ImageDisk container: an ASCII header line, a free-text
// comment terminated by 0x1A, then a sequence of track records.
type Imd struct {
	Header  string // "IMD v.vv: date time", without the comment
	Comment string
	Tracks  []ImdTrack
}

// ParseImd decodes an IMD image. The buffer may be xz-wrapped.
// Compressed (uniform-fill) sectors are expanded on parse so the
// in-memory form is always directly addressable.
func ParseImd(data []byte) (*Imd, error) {
	data, err := Decompress(data)
	if err != nil {
		return nil, err
	}
	if len(data) < 29 || !bytes.HasPrefix(data, []byte("IMD ")) {
		return nil, diskerr.BadFormatf("no IMD header")
	}
	switch data[4] {
	case '0', '1':
		logrus.Debugf("img: identified IMD v%c.x header", data[4])
	default:
		return nil, diskerr.BadFormatf("unknown IMD major version %c", data[4])
	}
	term := bytes.IndexByte(data[29:], imdTerminator)
	if term < 0 {
		return nil, diskerr.BadFormatf("IMD comment terminator missing")
	}
	im := &Imd{
		Header:  string(data[:29]),
		Comment: string(data[29 : 29+term]),
	}
	ptr := 29 + term + 1
	for ptr < len(data) {
		trk, n, err := parseImdTrack(data[ptr:])
		if err != nil {
			return nil, err
		}
		im.Tracks = append(im.Tracks, trk)
		ptr += n
	}
	return im, nil
}

func parseImdTrack(b []byte) (ImdTrack, int, error) {
	var trk ImdTrack
	if len(b) < 5 {
		return trk, 0, diskerr.BadFormatf("truncated IMD track header")
	}
	trk.Mode = b[0]
	trk.Cylinder = b[1]
	trk.Head = b[2] & imdHeadMask
	numSecs := int(b[3])
	trk.SectorShift = b[4]
	if trk.SectorShift == 0xff {
		return trk, 0, diskerr.BadFormatf("inhomogeneous sector sizes are not supported")
	}
	logrus.Debugf("img: IMD cylinder %d, head %d: %d sectors x %d bytes",
		trk.Cylinder, trk.Head, numSecs, imdSectorSizeBase<<trk.SectorShift)
	ptr := 5
	take := func(n int) ([]byte, error) {
		if ptr+n > len(b) {
			return nil, diskerr.BadFormatf("truncated IMD track record")
		}
		s := b[ptr : ptr+n]
		ptr += n
		return s, nil
	}
	m, err := take(numSecs)
	if err != nil {
		return trk, 0, err
	}
	trk.SectorMap = append([]byte(nil), m...)
	if b[2]&imdCylMapFlag != 0 {
		m, err := take(numSecs)
		if err != nil {
			return trk, 0, err
		}
		trk.CylinderMap = append([]byte(nil), m...)
	}
	if b[2]&imdHeadMapFlag != 0 {
		m, err := take(numSecs)
		if err != nil {
			return trk, 0, err
		}
		trk.HeadMap = append([]byte(nil), m...)
	}
	secSize := trk.SectorSize()
	for i := 0; i < numSecs; i++ {
		c, err := take(1)
		if err != nil {
			return trk, 0, err
		}
		code := c[0]
		switch code {
		case imdSecNone:
			trk.codes = append(trk.codes, code)
			trk.data = append(trk.data, nil)
		case imdSecNormal, imdSecNormalDeleted, imdSecError, imdSecErrorDeleted:
			d, err := take(secSize)
			if err != nil {
				return trk, 0, err
			}
			trk.codes = append(trk.codes, code)
			trk.data = append(trk.data, append([]byte(nil), d...))
		case imdSecNormalCompressed, imdSecNormalCompDeleted, imdSecErrorCompressed, imdSecErrorCompDeleted:
			f, err := take(1)
			if err != nil {
				return trk, 0, err
			}
			trk.codes = append(trk.codes, code-1)
			trk.data = append(trk.data, bytes.Repeat(f[:1], secSize))
		default:
			return trk, 0, diskerr.BadFormatf("unexpected IMD sector data type %d", code)
		}
	}
	return trk, ptr, nil
}

// Bytes re-emits the image, compressing any sector whose payload is a
// single repeated byte.
func (im *Imd) Bytes() []byte {
	var out bytes.Buffer
	out.WriteString(im.Header)
	out.WriteString(im.Comment)
	out.WriteByte(imdTerminator)
	for i := range im.Tracks {
		trk := &im.Tracks[i]
		head := trk.Head
		if len(trk.CylinderMap) > 0 {
			head |= imdCylMapFlag
		}
		if len(trk.HeadMap) > 0 {
			head |= imdHeadMapFlag
		}
		out.Write([]byte{trk.Mode, trk.Cylinder, head, byte(len(trk.SectorMap)), trk.SectorShift})
		out.Write(trk.SectorMap)
		out.Write(trk.CylinderMap)
		out.Write(trk.HeadMap)
		for j, code := range trk.codes {
			dat := trk.data[j]
			if code == imdSecNone {
				out.WriteByte(imdSecNone)
				continue
			}
			if isUniform(dat) {
				out.WriteByte(code + 1)
				out.WriteByte(dat[0])
				continue
			}
			out.WriteByte(code)
			out.Write(dat)
		}
	}
	return out.Bytes()
}

func (im *Imd) findTrack(cyl, head int) (*ImdTrack, error) {
	for i := range im.Tracks {
		trk := &im.Tracks[i]
		if int(trk.Cylinder) == cyl && int(trk.Head) == head {
			return trk, nil
		}
	}
	return nil, diskerr.OutOfRangef("no track at cylinder %d head %d", cyl, head)
}

func (trk *ImdTrack) sectorIndex(sec int) (int, error) {
	for i, id := range trk.SectorMap {
		if int(id) == sec {
			return i, nil
		}
	}
	return 0, diskerr.OutOfRangef("sector %d not in track's sector map", sec)
}

// ReadSector returns the payload of the sector with map id sec on the
// given cylinder and head. Sectors recorded with a data error are
// still returned; only data-less sectors fail.
func (im *Imd) ReadSector(cyl, head, sec int) ([]byte, error) {
	trk, err := im.findTrack(cyl, head)
	if err != nil {
		return nil, err
	}
	i, err := trk.sectorIndex(sec)
	if err != nil {
		return nil, err
	}
	if trk.codes[i] == imdSecNone {
		return nil, diskerr.EndOfDataf("cylinder %d head %d sector %d is marked unreadable", cyl, head, sec)
	}
	return append([]byte(nil), trk.data[i]...), nil
}

// WriteSector replaces the payload of the sector with map id sec.
// Short writes are zero-padded to the sector size.
func (im *Imd) WriteSector(cyl, head, sec int, dat []byte) error {
	trk, err := im.findTrack(cyl, head)
	if err != nil {
		return err
	}
	i, err := trk.sectorIndex(sec)
	if err != nil {
		return err
	}
	secSize := trk.SectorSize()
	if len(dat) > secSize {
		return diskerr.OutOfRangef("sector write of %d bytes exceeds sector size %d", len(dat), secSize)
	}
	padded := make([]byte, secSize)
	copy(padded, dat)
	if trk.codes[i] == imdSecNone {
		trk.codes[i] = imdSecNormal
	}
	trk.data[i] = padded
	return nil
}

// ToLogical flattens the image into one contiguous buffer with each
// track's sectors in ascending sector-id order, suitable for handing
// to a sector-addressed file system driver. Unreadable sectors appear
// as zero-filled runs.
func (im *Imd) ToLogical() []byte {
	var out bytes.Buffer
	for i := range im.Tracks {
		trk := &im.Tracks[i]
		secSize := trk.SectorSize()
		ids := append([]byte(nil), trk.SectorMap...)
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		for _, id := range ids {
			idx, _ := trk.sectorIndex(int(id))
			if trk.codes[idx] == imdSecNone {
				out.Write(make([]byte, secSize))
				continue
			}
			out.Write(trk.data[idx])
		}
	}
	return out.Bytes()
}
