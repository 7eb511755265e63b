package img

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/zellyn/diskii/diskerr"
)

// TD0 sector data encodings, from Dave Dunfield's ImageDisk notes.
const (
	td0EncRaw       = 0
	td0EncRepeated  = 1
	td0EncRunLength = 2
)

const (
	td0SectorSizeBase = 128
	td0NoDataMask     = 0x30
	td0CommentMask    = 0x80
	td0HeadMask       = 0x01
	td0EndOfTracks    = 0xff
)

// crc16 is the Teledisk checksum: CCITT-style shift register with
// polynomial 0xA097 and no final XOR.
func crc16(seed uint16, buf []byte) uint16 {
	crc := seed
	for _, b := range buf {
		crc ^= uint16(b) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0xa097
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Td0Sector is one sector record: an address header plus the packed
// data block (length prefix, encoding byte, payload), kept packed so
// unusual encodings round-trip byte-for-byte.
type Td0Sector struct {
	Cylinder    byte // as encoded in the sector's address field
	Head        byte
	ID          byte // logical sector number
	SectorShift byte
	Flags       byte
	packed      []byte // absent when Flags says the sector has no data
}

// Size returns the sector's payload size in bytes.
func (s *Td0Sector) Size() int { return td0SectorSizeBase << s.SectorShift }

// HasData reports whether the sector carries a data block.
func (s *Td0Sector) HasData() bool { return s.Flags&td0NoDataMask == 0 }

// Td0Track is one track record: the physical cylinder/head plus the
// sectors captured on it, in capture order.
type Td0Track struct {
	Cylinder byte
	Head     byte // bit 7 set means the track is FM
	Sectors  []Td0Sector
}

// Td0 is a Teledisk container in its "normal compression" form. The
// "advanced compression" variant (lowercase "td" signature) wraps the
// whole post-header stream in an undocumented Huffman+LZ scheme and
// is rejected at parse with a named error.
type Td0 struct {
	Sequence      byte
	CheckSequence byte
	Version       byte // major in high nibble, minor in low
	DataRate      byte // 0/1/2 = 250/300/500 kbps; bit 7 set = FM
	DriveType     byte
	Stepping      byte // bit 7 indicates a comment block is present
	DosAllocFlag  byte
	Sides         byte
	CommentTime   [6]byte // year-1900, month, day, hour, minute, second
	Comment       string
	Tracks        []Td0Track
}

// ParseTd0 decodes a Teledisk image. The buffer may be xz-wrapped.
func ParseTd0(data []byte) (*Td0, error) {
	data, err := Decompress(data)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 {
		return nil, diskerr.BadFormatf("too short for a TD0 header")
	}
	switch {
	case data[0] == 't' && data[1] == 'd':
		return nil, diskerr.BadFormatf("TD0 advanced compression (signature \"td\") is not supported; re-save the image without advanced compression")
	case data[0] == 'T' && data[1] == 'D':
		logrus.Debug("img: TD0 signature found")
	default:
		return nil, diskerr.BadFormatf("no TD0 signature")
	}
	declared := binary.LittleEndian.Uint16(data[10:12])
	if computed := crc16(0, data[:10]); computed != declared {
		return nil, diskerr.BadChecksumf("TD0 header checksum: declared=%04x computed=%04x", declared, computed)
	}
	td := &Td0{
		Sequence:      data[2],
		CheckSequence: data[3],
		Version:       data[4],
		DataRate:      data[5],
		DriveType:     data[6],
		Stepping:      data[7],
		DosAllocFlag:  data[8],
		Sides:         data[9],
	}
	ptr := 12
	if td.Stepping&td0CommentMask != 0 {
		if ptr+10 > len(data) {
			return nil, diskerr.BadFormatf("truncated TD0 comment header")
		}
		commentLen := int(binary.LittleEndian.Uint16(data[ptr+2 : ptr+4]))
		copy(td.CommentTime[:], data[ptr+4:ptr+10])
		if ptr+10+commentLen > len(data) {
			return nil, diskerr.BadFormatf("truncated TD0 comment data")
		}
		// newlines are stored as NULs inside the file
		td.Comment = string(bytes.ReplaceAll(data[ptr+10:ptr+10+commentLen], []byte{0}, []byte{'\n'}))
		ptr += 10 + commentLen
	}
	for ptr < len(data) {
		if data[ptr] == td0EndOfTracks {
			break
		}
		trk, n, err := parseTd0Track(data[ptr:])
		if err != nil {
			return nil, err
		}
		td.Tracks = append(td.Tracks, trk)
		ptr += n
	}
	return td, nil
}

func parseTd0Track(b []byte) (Td0Track, int, error) {
	var trk Td0Track
	if len(b) < 4 {
		return trk, 0, diskerr.BadFormatf("truncated TD0 track header")
	}
	numSecs := int(b[0])
	trk.Cylinder = b[1]
	trk.Head = b[2]
	if declared := b[3]; declared != byte(crc16(0, b[:3])) {
		logrus.Warnf("img: TD0 track header checksum mismatch on cylinder %d", trk.Cylinder)
	}
	ptr := 4
	for i := 0; i < numSecs; i++ {
		if ptr+6 > len(b) {
			return trk, 0, diskerr.BadFormatf("truncated TD0 sector header")
		}
		sec := Td0Sector{
			Cylinder:    b[ptr],
			Head:        b[ptr+1],
			ID:          b[ptr+2],
			SectorShift: b[ptr+3],
			Flags:       b[ptr+4],
		}
		ptr += 6
		if sec.HasData() {
			if ptr+2 > len(b) {
				return trk, 0, diskerr.BadFormatf("truncated TD0 sector data block")
			}
			blockLen := int(binary.LittleEndian.Uint16(b[ptr : ptr+2]))
			if ptr+2+blockLen > len(b) {
				return trk, 0, diskerr.BadFormatf("truncated TD0 sector data block")
			}
			sec.packed = append([]byte(nil), b[ptr:ptr+2+blockLen]...)
			ptr += 2 + blockLen
		}
		trk.Sectors = append(trk.Sectors, sec)
	}
	return trk, ptr, nil
}

// Unpack expands the sector's packed data block to raw payload bytes.
func (s *Td0Sector) Unpack() ([]byte, error) {
	if !s.HasData() {
		return nil, diskerr.EndOfDataf("cylinder %d sector %d has no data", s.Cylinder, s.ID)
	}
	size := s.Size()
	ptr := 2 // skip the length prefix
	buf := s.packed
	if len(buf) < 3 {
		return nil, diskerr.BadFormatf("sector %d data block too short", s.ID)
	}
	encoding := buf[ptr]
	ptr++
	take := func(n int) ([]byte, error) {
		if ptr+n > len(buf) {
			return nil, diskerr.BadFormatf("out of data in sector %d", s.ID)
		}
		sl := buf[ptr : ptr+n]
		ptr += n
		return sl, nil
	}
	ans := make([]byte, 0, size)
	switch encoding {
	case td0EncRaw:
		d, err := take(size)
		if err != nil {
			return nil, err
		}
		ans = append(ans, d...)
	case td0EncRepeated:
		for len(ans) < size {
			b, err := take(4)
			if err != nil {
				return nil, err
			}
			count := int(binary.LittleEndian.Uint16(b[0:2]))
			for i := 0; i < count; i++ {
				ans = append(ans, b[2], b[3])
			}
		}
	case td0EncRunLength:
		for len(ans) < size {
			b, err := take(1)
			if err != nil {
				return nil, err
			}
			readCount := 2 * int(b[0])
			if readCount == 0 {
				n, err := take(1)
				if err != nil {
					return nil, err
				}
				lit, err := take(int(n[0]))
				if err != nil {
					return nil, err
				}
				ans = append(ans, lit...)
			} else {
				r, err := take(1)
				if err != nil {
					return nil, err
				}
				pat, err := take(readCount)
				if err != nil {
					return nil, err
				}
				for i := 0; i < int(r[0]); i++ {
					ans = append(ans, pat...)
				}
			}
		}
	default:
		return nil, diskerr.BadFormatf("unknown TD0 sector encoding %d", encoding)
	}
	if len(ans) != size {
		return nil, diskerr.BadFormatf("sector %d decoded to %d bytes; expected %d", s.ID, len(ans), size)
	}
	return ans, nil
}

// Pack replaces the sector's data block with dat, compressing a
// uniform sector to the Repeated encoding.
func (s *Td0Sector) Pack(dat []byte) error {
	if len(dat) != s.Size() {
		return diskerr.OutOfRangef("sector write of %d bytes; sector size is %d", len(dat), s.Size())
	}
	if !s.HasData() {
		logrus.Warnf("img: clearing no-data flags in TD0 sector %d", s.ID)
		s.Flags &^= td0NoDataMask
	}
	var block bytes.Buffer
	if isUniform(dat) {
		var hdr [5]byte
		binary.LittleEndian.PutUint16(hdr[0:2], 5)
		hdr[2] = td0EncRepeated
		binary.LittleEndian.PutUint16(hdr[3:5], uint16(len(dat)/2))
		block.Write(hdr[:])
		block.WriteByte(dat[0])
		block.WriteByte(dat[0])
	} else {
		var hdr [3]byte
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(dat)+1))
		hdr[2] = td0EncRaw
		block.Write(hdr[:])
		block.Write(dat)
	}
	s.packed = block.Bytes()
	return nil
}

// Bytes re-emits the image, recomputing the header, track, and sector
// checksums.
func (td *Td0) Bytes() []byte {
	var out bytes.Buffer
	hdr := []byte{'T', 'D', td.Sequence, td.CheckSequence, td.Version,
		td.DataRate, td.DriveType, td.Stepping, td.DosAllocFlag, td.Sides}
	var crcBuf [2]byte
	binary.LittleEndian.PutUint16(crcBuf[:], crc16(0, hdr))
	out.Write(hdr)
	out.Write(crcBuf[:])
	if td.Stepping&td0CommentMask != 0 {
		comment := bytes.ReplaceAll([]byte(td.Comment), []byte{'\n'}, []byte{0})
		body := make([]byte, 0, 8+len(comment))
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(comment)))
		body = append(body, lenBuf[:]...)
		body = append(body, td.CommentTime[:]...)
		body = append(body, comment...)
		binary.LittleEndian.PutUint16(crcBuf[:], crc16(0, body))
		out.Write(crcBuf[:])
		out.Write(body)
	}
	for i := range td.Tracks {
		trk := &td.Tracks[i]
		thdr := []byte{byte(len(trk.Sectors)), trk.Cylinder, trk.Head}
		out.Write(thdr)
		out.WriteByte(byte(crc16(0, thdr)))
		for j := range trk.Sectors {
			sec := &trk.Sectors[j]
			crc := byte(0)
			if unpacked, err := sec.Unpack(); err == nil {
				crc = byte(crc16(0, unpacked))
			}
			out.Write([]byte{sec.Cylinder, sec.Head, sec.ID, sec.SectorShift, sec.Flags, crc})
			if sec.HasData() {
				out.Write(sec.packed)
			}
		}
	}
	out.WriteByte(td0EndOfTracks)
	return out.Bytes()
}

func (td *Td0) findSector(cyl, head, sec int) (*Td0Sector, error) {
	for i := range td.Tracks {
		trk := &td.Tracks[i]
		if int(trk.Cylinder) != cyl || int(trk.Head&td0HeadMask) != head {
			continue
		}
		for j := range trk.Sectors {
			if int(trk.Sectors[j].ID) == sec {
				return &trk.Sectors[j], nil
			}
		}
	}
	return nil, diskerr.OutOfRangef("no sector at cylinder %d head %d id %d", cyl, head, sec)
}

// ReadSector returns the unpacked payload of the addressed sector.
func (td *Td0) ReadSector(cyl, head, sec int) ([]byte, error) {
	s, err := td.findSector(cyl, head, sec)
	if err != nil {
		return nil, err
	}
	return s.Unpack()
}

// WriteSector repacks the addressed sector with dat.
func (td *Td0) WriteSector(cyl, head, sec int, dat []byte) error {
	s, err := td.findSector(cyl, head, sec)
	if err != nil {
		return err
	}
	return s.Pack(dat)
}

// ToLogical flattens the image into one contiguous buffer with each
// track's sectors in ascending id order. Data-less sectors appear as
// zero-filled runs.
func (td *Td0) ToLogical() ([]byte, error) {
	var out bytes.Buffer
	for i := range td.Tracks {
		trk := &td.Tracks[i]
		ids := make([]int, 0, len(trk.Sectors))
		for j := range trk.Sectors {
			ids = append(ids, int(trk.Sectors[j].ID))
		}
		sort.Ints(ids)
		for _, id := range ids {
			var s *Td0Sector
			for j := range trk.Sectors {
				if int(trk.Sectors[j].ID) == id {
					s = &trk.Sectors[j]
					break
				}
			}
			if !s.HasData() {
				out.Write(make([]byte, s.Size()))
				continue
			}
			d, err := s.Unpack()
			if err != nil {
				return nil, err
			}
			out.Write(d)
		}
	}
	return out.Bytes(), nil
}
