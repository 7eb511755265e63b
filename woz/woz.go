// Package woz decodes and encodes WOZ disk images: the bit-accurate
// nibble-stream container format documented at
// https://applesaucefdc.com/woz/reference2/. Both the v1 (fixed
// 6646-byte-per-track TRKS records) and v2 (variable-length,
// block-addressed TRKS records) chunk layouts are supported.
package woz

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/track"
)

const wozHeader1 = "WOZ1\xFF\n\r\n"
const wozHeader2 = "WOZ2\xFF\n\r\n"

// TrackLength is the fixed per-track chunk size used by WOZ v1 images.
const TrackLength = 6656

// trkIndexTableSize is the number of bytes the 160 fixed-size TRK
// index records occupy at the start of a v2 TRKS chunk.
const trkIndexTableSize = 160 * 8

// Woz holds the decoded contents of a WOZ disk image, v1 or v2.
type Woz struct {
	Info     Info
	Unknowns []UnknownChunk
	TMap     [160]uint8
	TRKS     []TRK      // populated for v1 images
	TrkIndex []TrkIndex // populated for v2 images
	Bits     []byte     // v2 images: the flat bitstream region that TrkIndex entries index into
	Metadata Metadata

	// trackBitsOffset is the absolute offset, measured from the start
	// of the file, that TrkIndex.StartingBlock is relative to. It is
	// recorded on decode and recomputed on encode.
	trackBitsOffset int
}

// UnknownChunk preserves a chunk type this package doesn't interpret,
// so re-encoding an image round-trips it unchanged.
type UnknownChunk struct {
	Id   string
	Data []byte
}

// DiskType distinguishes 5.25" from 3.5" media, per the INFO chunk.
type DiskType uint8

const (
	DiskType525 DiskType = 1
	DiskType35  DiskType = 2
)

// Info mirrors the WOZ INFO chunk. The v2-only fields are left at
// their zero value when decoding a v1 image.
type Info struct {
	Version            uint8
	DiskType           DiskType
	WriteProtected     bool
	Synchronized       bool
	Cleaned            bool
	Creator            string
	DiskSides          uint8  // v2+
	BootSectorFormat   uint8  // v2+
	OptimalBitTiming   uint8  // v2+
	CompatibleHardware uint16 // v2+: bitfield, see COMPATIBLE_HARDWARE in the WOZ spec
	RequiredRAM        uint16 // v2+: in K, 0 means unknown
	LargestTrack       uint16 // v2+: in 512-byte blocks
}

// TRK is a v1 fixed-size per-track record: 6646 bytes of bitstream
// plus a small trailer of track metrics.
type TRK struct {
	BitStream      [6646]uint8
	BytesUsed      uint16
	BitCount       uint16
	SplicePoint    uint16
	SpliceNibble   uint8
	SpliceBitCount uint8
	Reserved       uint16
}

// TrkIndex is a v2 TRKS index record: it locates one track's
// variable-length bitstream within the shared Bits blob.
type TrkIndex struct {
	StartingBlock uint16 // in 512-byte blocks, from start of file
	BlockCount    uint16
	BitCount      uint32
}

// Metadata holds the WOZ META chunk's tab/newline-delimited key-value
// records, in file order.
type Metadata struct {
	Keys      []string
	RawValues map[string]string
}

type decoder struct {
	r      io.Reader
	woz    *Woz
	crc    hash.Hash32
	tmp    [3 * 256]byte
	crcVal uint32
	pos    int // bytes consumed so far, including the 12-byte header
}

// FormatError reports that the input is not a valid woz file.
type FormatError string

func (e FormatError) Error() string { return "woz: invalid format: " + string(e) }

// CRCError reports that a decoded image's declared CRC32 doesn't
// match its computed one.
type CRCError struct {
	Declared uint32
	Computed uint32
}

func (e CRCError) Error() string {
	return fmt.Sprintf("woz: failed checksum: declared=%d; computed=%d", e.Declared, e.Computed)
}

func (d *decoder) checkHeader() error {
	_, err := io.ReadFull(d.r, d.tmp[:8])
	if err != nil {
		return err
	}
	header := string(d.tmp[:8])
	var version uint8
	switch header {
	case wozHeader1:
		version = 1
	case wozHeader2:
		version = 2
	default:
		return FormatError("not a woz file")
	}
	if err := binary.Read(d.r, binary.LittleEndian, &d.crcVal); err != nil {
		return err
	}
	d.woz.Info.Version = version
	d.pos = 12
	logrus.WithField("version", version).Debug("woz: identified header")
	return nil
}

func (d *decoder) parseChunk() (done bool, err error) {
	chunkPos := d.pos
	n, err := io.ReadFull(d.r, d.tmp[:8])
	if err != nil {
		if n == 0 && err == io.EOF {
			return true, nil
		}
		return false, err
	}
	length := binary.LittleEndian.Uint32(d.tmp[4:8])
	d.crc.Write(d.tmp[:8])
	d.pos += 8
	id := string(d.tmp[:4])
	switch id {
	case "INFO":
		return false, d.parseINFO(length)
	case "TMAP":
		return false, d.parseTMAP(length)
	case "TRKS":
		return false, d.parseTRKS(chunkPos, length)
	case "FLUX":
		return false, d.parseUnknown(id, length) // flux track support is out of scope; preserved as an unknown chunk
	case "META":
		return false, d.parseMETA(length)
	default:
		return false, d.parseUnknown(id, length)
	}
}

func (d *decoder) parseINFO(length uint32) error {
	logrus.Debug("woz: INFO chunk")
	if length != 60 {
		logrus.Warnf("woz: expected INFO chunk length of 60; got %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	d.pos += int(length)

	info := &d.woz.Info
	info.DiskType = DiskType(buf[1])
	info.WriteProtected = buf[2] == 1
	info.Synchronized = buf[3] == 1
	info.Cleaned = buf[4] == 1
	info.Creator = strings.TrimRight(string(buf[5:37]), " ")
	if info.Version >= 2 && len(buf) >= 60 {
		info.DiskSides = buf[37]
		info.BootSectorFormat = buf[38]
		info.OptimalBitTiming = buf[39]
		info.CompatibleHardware = binary.LittleEndian.Uint16(buf[40:42])
		info.RequiredRAM = binary.LittleEndian.Uint16(buf[42:44])
		info.LargestTrack = binary.LittleEndian.Uint16(buf[44:46])
	}
	return nil
}

func (d *decoder) parseTMAP(length uint32) error {
	logrus.Debug("woz: TMAP chunk")
	if length != 160 {
		logrus.Warnf("woz: expected TMAP chunk length of 160; got %d", length)
	}
	if _, err := io.ReadFull(d.r, d.woz.TMap[:]); err != nil {
		return err
	}
	d.crc.Write(d.woz.TMap[:])
	d.pos += 160
	return nil
}

func (d *decoder) parseTRKS(chunkPos int, length uint32) error {
	logrus.Debug("woz: TRKS chunk")
	if d.woz.Info.Version >= 2 {
		return d.parseTRKS2(chunkPos, length)
	}
	return d.parseTRKS1(length)
}

func (d *decoder) parseTRKS1(length uint32) error {
	if length%TrackLength != 0 {
		return FormatError(fmt.Sprintf("expected TRKS chunk length to be a multiple of %d; got %d", TrackLength, length))
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	d.pos += int(length)

	for offset := 0; offset < int(length); offset += TrackLength {
		b := buf[offset : offset+TrackLength]
		t := TRK{
			BytesUsed:      binary.LittleEndian.Uint16(b[6646:6648]),
			BitCount:       binary.LittleEndian.Uint16(b[6648:6650]),
			SplicePoint:    binary.LittleEndian.Uint16(b[6650:6652]),
			SpliceNibble:   b[6652],
			SpliceBitCount: b[6653],
			Reserved:       binary.LittleEndian.Uint16(b[6654:6656]),
		}
		copy(t.BitStream[:], b)
		d.woz.TRKS = append(d.woz.TRKS, t)
	}
	return nil
}

func (d *decoder) parseTRKS2(chunkPos int, length uint32) error {
	if length < trkIndexTableSize {
		return FormatError(fmt.Sprintf("TRKS chunk too short for index table: %d", length))
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	d.pos += int(length)

	d.woz.TrkIndex = make([]TrkIndex, 160)
	for i := 0; i < 160; i++ {
		b := buf[i*8 : i*8+8]
		d.woz.TrkIndex[i] = TrkIndex{
			StartingBlock: binary.LittleEndian.Uint16(b[0:2]),
			BlockCount:    binary.LittleEndian.Uint16(b[2:4]),
			BitCount:      binary.LittleEndian.Uint32(b[4:8]),
		}
	}
	d.woz.Bits = buf[trkIndexTableSize:]
	// chunkPos is the offset of the chunk's 8-byte id/size header;
	// StartingBlock counts 512-byte blocks from the start of the
	// file, so the offset Bits[0] corresponds to is the chunk's data
	// start plus the index table.
	d.woz.trackBitsOffset = chunkPos + 8 + trkIndexTableSize
	return nil
}

func (d *decoder) parseMETA(length uint32) error {
	logrus.Debug("woz: META chunk")
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	d.pos += int(length)
	rows := strings.Split(string(buf), "\n")
	m := &d.woz.Metadata
	m.RawValues = make(map[string]string, len(rows))
	for _, row := range rows {
		if row == "" {
			continue
		}
		parts := strings.SplitN(row, "\t", 2)
		if len(parts) == 1 {
			return FormatError("strange metadata line with no tab: " + parts[0])
		}
		m.Keys = append(m.Keys, parts[0])
		m.RawValues[parts[0]] = parts[1]
	}
	return nil
}

func (d *decoder) parseUnknown(id string, length uint32) error {
	logrus.WithField("chunk", id).Debug("woz: unknown chunk type, preserving verbatim")
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	d.crc.Write(buf)
	d.pos += int(length)
	d.woz.Unknowns = append(d.woz.Unknowns, UnknownChunk{Id: id, Data: buf})
	return nil
}

// Decode reads a WOZ disk image (v1 or v2) from r and returns it as a
// *Woz.
func Decode(r io.Reader) (*Woz, error) {
	d := &decoder{
		r:   r,
		crc: crc32.NewIEEE(),
		woz: &Woz{},
	}
	if err := d.checkHeader(); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	for {
		done, err := d.parseChunk()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	if d.crcVal != d.crc.Sum32() {
		return d.woz, CRCError{Declared: d.crcVal, Computed: d.crc.Sum32()}
	}

	return d.woz, nil
}

// Encode serializes w back to WOZ bytes, in the version it was
// decoded (or built) as, recomputing the CRC32 over everything after
// the 12-byte header.
func (w *Woz) Encode() ([]byte, error) {
	var body bytes.Buffer

	infoBuf := w.encodeInfo()
	writeChunk(&body, "INFO", infoBuf)
	writeChunk(&body, "TMAP", w.TMap[:])

	var trksBuf []byte
	var err error
	if w.Info.Version >= 2 {
		trksBuf, err = w.encodeTRKS2()
	} else {
		trksBuf, err = w.encodeTRKS1()
	}
	if err != nil {
		return nil, err
	}
	writeChunk(&body, "TRKS", trksBuf)

	if len(w.Metadata.Keys) > 0 {
		writeChunk(&body, "META", w.encodeMeta())
	}
	for _, u := range w.Unknowns {
		writeChunk(&body, u.Id, u.Data)
	}

	crc := crc32.ChecksumIEEE(body.Bytes())

	var out bytes.Buffer
	if w.Info.Version >= 2 {
		out.WriteString(wozHeader2)
	} else {
		out.WriteString(wozHeader1)
	}
	binary.Write(&out, binary.LittleEndian, crc)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeChunk(buf *bytes.Buffer, id string, data []byte) {
	buf.WriteString(id)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func (w *Woz) encodeInfo() []byte {
	size := 60
	buf := make([]byte, size)
	buf[0] = w.Info.Version
	buf[1] = byte(w.Info.DiskType)
	if w.Info.WriteProtected {
		buf[2] = 1
	}
	if w.Info.Synchronized {
		buf[3] = 1
	}
	if w.Info.Cleaned {
		buf[4] = 1
	}
	creator := w.Info.Creator
	if len(creator) > 32 {
		creator = creator[:32]
	}
	copy(buf[5:37], []byte(creator))
	for i := 5 + len(creator); i < 37; i++ {
		buf[i] = ' '
	}
	if w.Info.Version >= 2 {
		buf[37] = w.Info.DiskSides
		buf[38] = w.Info.BootSectorFormat
		buf[39] = w.Info.OptimalBitTiming
		binary.LittleEndian.PutUint16(buf[40:42], w.Info.CompatibleHardware)
		binary.LittleEndian.PutUint16(buf[42:44], w.Info.RequiredRAM)
		binary.LittleEndian.PutUint16(buf[44:46], w.Info.LargestTrack)
	}
	return buf
}

func (w *Woz) encodeTRKS1() ([]byte, error) {
	buf := make([]byte, 0, len(w.TRKS)*TrackLength)
	for _, t := range w.TRKS {
		var rec [TrackLength]byte
		copy(rec[:6646], t.BitStream[:])
		binary.LittleEndian.PutUint16(rec[6646:6648], t.BytesUsed)
		binary.LittleEndian.PutUint16(rec[6648:6650], t.BitCount)
		binary.LittleEndian.PutUint16(rec[6650:6652], t.SplicePoint)
		rec[6652] = t.SpliceNibble
		rec[6653] = t.SpliceBitCount
		binary.LittleEndian.PutUint16(rec[6654:6656], t.Reserved)
		buf = append(buf, rec[:]...)
	}
	return buf, nil
}

func (w *Woz) encodeTRKS2() ([]byte, error) {
	index := make([]byte, trkIndexTableSize)
	for i := 0; i < 160 && i < len(w.TrkIndex); i++ {
		b := index[i*8 : i*8+8]
		binary.LittleEndian.PutUint16(b[0:2], w.TrkIndex[i].StartingBlock)
		binary.LittleEndian.PutUint16(b[2:4], w.TrkIndex[i].BlockCount)
		binary.LittleEndian.PutUint32(b[4:8], w.TrkIndex[i].BitCount)
	}
	out := make([]byte, 0, len(index)+len(w.Bits))
	out = append(out, index...)
	out = append(out, w.Bits...)
	return out, nil
}

func (w *Woz) encodeMeta() []byte {
	var sb strings.Builder
	for _, k := range w.Metadata.Keys {
		sb.WriteString(k)
		sb.WriteByte('\t')
		sb.WriteString(w.Metadata.RawValues[k])
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// GetTrack returns a cyclic bit-level view over the nibble data for
// quarter-track index qtrack (an index into TMap, 0-159), or an error
// if that quarter-track holds no data.
func (w *Woz) GetTrack(qtrack int) (*track.Bits, error) {
	if qtrack < 0 || qtrack >= len(w.TMap) {
		return nil, diskerr.OutOfRangef("quarter-track %d out of range", qtrack)
	}
	slot := w.TMap[qtrack]
	if slot == 0xff {
		return nil, diskerr.BadTrackf("quarter-track %d has no data (blank media)", qtrack)
	}
	if w.Info.Version >= 2 {
		if int(slot) >= len(w.TrkIndex) {
			return nil, diskerr.BadTrackf("TMAP entry %d points past TRKS index", slot)
		}
		idx := w.TrkIndex[slot]
		begin := int(idx.StartingBlock)*512 - w.trackBitsOffset
		end := begin + int(idx.BlockCount)*512
		if begin < 0 || end > len(w.Bits) {
			return nil, diskerr.BadTrackf("TRKS index %d out of range of bitstream blob", slot)
		}
		buf := make([]byte, end-begin)
		copy(buf, w.Bits[begin:end])
		return track.New(buf), nil
	}
	if int(slot) >= len(w.TRKS) {
		return nil, diskerr.BadTrackf("TMAP entry %d points past TRKS records", slot)
	}
	buf := make([]byte, len(w.TRKS[slot].BitStream))
	copy(buf, w.TRKS[slot].BitStream[:])
	return track.New(buf), nil
}

// UpdateTrack writes t's bits back to quarter-track qtrack. The
// track's encoded length may not change: WOZ v2 bitstream regions are
// shared and contiguous, and growing one in place would require
// shifting every later track's StartingBlock, which this package does
// not attempt.
func (w *Woz) UpdateTrack(qtrack int, t *track.Bits) error {
	if qtrack < 0 || qtrack >= len(w.TMap) {
		return diskerr.OutOfRangef("quarter-track %d out of range", qtrack)
	}
	slot := w.TMap[qtrack]
	if slot == 0xff {
		return diskerr.BadTrackf("quarter-track %d has no data (blank media)", qtrack)
	}
	if w.Info.Version >= 2 {
		if int(slot) >= len(w.TrkIndex) {
			return diskerr.BadTrackf("TMAP entry %d points past TRKS index", slot)
		}
		idx := w.TrkIndex[slot]
		begin := int(idx.StartingBlock)*512 - w.trackBitsOffset
		end := begin + int(idx.BlockCount)*512
		if end-begin != t.Len() {
			return diskerr.BadTrackf("track %d is %d bytes, new data is %d bytes", qtrack, end-begin, t.Len())
		}
		copy(w.Bits[begin:end], t.ToBuffer())
		return nil
	}
	if int(slot) >= len(w.TRKS) {
		return diskerr.BadTrackf("TMAP entry %d points past TRKS records", slot)
	}
	if t.Len() != len(w.TRKS[slot].BitStream) {
		return diskerr.BadTrackf("track %d is %d bytes, new data is %d bytes", qtrack, len(w.TRKS[slot].BitStream), t.Len())
	}
	copy(w.TRKS[slot].BitStream[:], t.ToBuffer())
	return nil
}

// ToDO reads every track of a 5.25" disk image (quarter-tracks 0, 4,
// 8, ... 136, i.e. whole-track stepping) and decodes it into a
// 143360-byte DOS-ordered sector image.
func (w *Woz) ToDO(physicalSector func(logical byte) byte) ([]byte, error) {
	const floppyTracks = 35
	const floppyDiskBytes = floppyTracks * 16 * 256
	doImg := make([]byte, floppyDiskBytes)
	adr := track.StdAddressFormat()
	dat := track.StdDataFormat()
	for trackNum := byte(0); trackNum < floppyTracks; trackNum++ {
		t, err := w.GetTrack(int(trackNum) * 4)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", trackNum, err)
		}
		if err := track.ToDO(doImg, trackNum, t, adr, dat, track.SpecialNone, physicalSector); err != nil {
			return nil, fmt.Errorf("track %d: %w", trackNum, err)
		}
	}
	return doImg, nil
}

// ToPO is ToDO with the standard DOS-to-ProDOS logical-sector mapping
// already composed in; callers that already have a physical-sector
// function should call ToDO directly.
func (w *Woz) ToPO(physicalSector func(logical byte) byte) ([]byte, error) {
	// dosFromPO[s] is the DOS logical sector held at ProDOS-order
	// position s within a track.
	dosFromPO := [16]byte{0, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 15}
	return w.ToDO(func(po byte) byte { return physicalSector(dosFromPO[po]) })
}
