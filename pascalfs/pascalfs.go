// Package pascalfs reads and writes Apple Pascal filesystem images: a
// single contiguous directory (blocks 2 through 5 of the volume) of
// fixed-size entries, each describing a run of contiguous blocks. It
// has no subdirectories and no free-block bitmap; free space is
// computed by subtracting every entry's block range from the volume.
package pascalfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/types"
)

// Layout constants for the Pascal volume directory, mirrored from the
// UCSD Pascal filesystem: a 4-block (8-sector) directory starting at
// block 2, holding fixed 26-byte entries, the first of which is the
// volume header rather than a file.
const (
	// VolHeaderBlock is the block holding the volume header and the
	// start of the directory entry list.
	VolHeaderBlock = 2
	// EntrySize is the size in bytes of one directory entry
	// (including the volume header, which shares the layout).
	EntrySize = 26
	// MaxVolNameLen is the maximum length of a volume name.
	MaxVolNameLen = 7
	// MaxFileNameLen is the maximum length of a file name.
	MaxFileNameLen = 15
	// BootBlocks is the number of blocks reserved for the boot
	// loader at the start of every Pascal volume (blocks 0-1).
	BootBlocks = 2
)

// VolumeHeader is the first 26-byte entry of the directory: it
// describes the volume as a whole instead of a file.
type VolumeHeader struct {
	// FirstBlock is always 0 for the header.
	FirstBlock uint16
	// LastDirBlock is the block number one past the end of the
	// directory (typically 6, since the directory spans blocks 2-5).
	LastDirBlock uint16
	// FileType is 0 for a volume header.
	FileType uint16
	// Name is the volume name (1-7 chars).
	Name string
	// TotalBlocks is the number of blocks on the volume.
	TotalBlocks uint16
	// NumFiles is the count of file entries in the directory (not
	// counting the header itself).
	NumFiles uint16
	// LastAccess and SetDate are packed Pascal dates; diskii treats
	// them as opaque except for preserving them on rewrite.
	LastAccess uint16
	SetDate    uint16
}

// ToBlockBytes packs the header into the first EntrySize bytes of a block.
func (h VolumeHeader) ToBlockBytes(buf []byte) error {
	if len(buf) < EntrySize {
		return fmt.Errorf("buffer too small for volume header: %d < %d", len(buf), EntrySize)
	}
	binary.LittleEndian.PutUint16(buf[0x00:0x02], h.FirstBlock)
	binary.LittleEndian.PutUint16(buf[0x02:0x04], h.LastDirBlock)
	binary.LittleEndian.PutUint16(buf[0x04:0x06], h.FileType)
	name := packPascalString(h.Name, MaxVolNameLen)
	copy(buf[0x06:0x0E], name)
	binary.LittleEndian.PutUint16(buf[0x12:0x14], h.TotalBlocks)
	binary.LittleEndian.PutUint16(buf[0x14:0x16], h.NumFiles)
	binary.LittleEndian.PutUint16(buf[0x16:0x18], h.LastAccess)
	binary.LittleEndian.PutUint16(buf[0x18:0x1A], h.SetDate)
	return nil
}

// VolumeHeaderFromBlockBytes unpacks a volume header from the first
// EntrySize bytes of a block.
func VolumeHeaderFromBlockBytes(buf []byte) (VolumeHeader, error) {
	var h VolumeHeader
	if len(buf) < EntrySize {
		return h, fmt.Errorf("buffer too small for volume header: %d < %d", len(buf), EntrySize)
	}
	h.FirstBlock = binary.LittleEndian.Uint16(buf[0x00:0x02])
	h.LastDirBlock = binary.LittleEndian.Uint16(buf[0x02:0x04])
	h.FileType = binary.LittleEndian.Uint16(buf[0x04:0x06])
	h.Name = unpackPascalString(buf[0x06:0x0E])
	h.TotalBlocks = binary.LittleEndian.Uint16(buf[0x12:0x14])
	h.NumFiles = binary.LittleEndian.Uint16(buf[0x14:0x16])
	h.LastAccess = binary.LittleEndian.Uint16(buf[0x16:0x18])
	h.SetDate = binary.LittleEndian.Uint16(buf[0x18:0x1A])
	return h, nil
}

// DirectoryEntry describes one file: a contiguous run of blocks
// [FirstBlock, NextBlock).
type DirectoryEntry struct {
	FirstBlock       uint16
	NextBlock        uint16
	FileType         uint16
	Name             string
	BytesInLastBlock uint16
	ModDate          uint16
}

// Unused reports whether this entry slot holds no file (FileType 0 and
// an empty name signal a never-used or deleted slot).
func (e DirectoryEntry) Unused() bool {
	return e.FileType == 0 && e.Name == ""
}

// Blocks returns the number of blocks occupied by the file.
func (e DirectoryEntry) Blocks() int {
	return int(e.NextBlock) - int(e.FirstBlock)
}

func (e DirectoryEntry) toBytes(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0x00:0x02], e.FirstBlock)
	binary.LittleEndian.PutUint16(buf[0x02:0x04], e.NextBlock)
	binary.LittleEndian.PutUint16(buf[0x04:0x06], e.FileType)
	name := packPascalString(e.Name, MaxFileNameLen)
	copy(buf[0x06:0x16], name)
	binary.LittleEndian.PutUint16(buf[0x16:0x18], e.BytesInLastBlock)
	binary.LittleEndian.PutUint16(buf[0x18:0x1A], e.ModDate)
}

func directoryEntryFromBytes(buf []byte) DirectoryEntry {
	var e DirectoryEntry
	e.FirstBlock = binary.LittleEndian.Uint16(buf[0x00:0x02])
	e.NextBlock = binary.LittleEndian.Uint16(buf[0x02:0x04])
	e.FileType = binary.LittleEndian.Uint16(buf[0x04:0x06])
	e.Name = unpackPascalString(buf[0x06:0x16])
	e.BytesInLastBlock = binary.LittleEndian.Uint16(buf[0x16:0x18])
	e.ModDate = binary.LittleEndian.Uint16(buf[0x18:0x1A])
	return e
}

// packPascalString encodes txt as a length-prefixed Pascal string in a
// maxLen+1 byte field, truncating if necessary.
func packPascalString(txt string, maxLen int) []byte {
	if len(txt) > maxLen {
		txt = txt[:maxLen]
	}
	buf := make([]byte, maxLen+1)
	buf[0] = byte(len(txt))
	copy(buf[1:], txt)
	return buf
}

// unpackPascalString decodes a length-prefixed Pascal string, clamping
// the stored length to the available bytes to tolerate corrupt input.
func unpackPascalString(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	n := int(buf[0])
	if n > len(buf)-1 {
		n = len(buf) - 1
	}
	return string(buf[1 : 1+n])
}

// Directory is the in-memory form of a Pascal volume directory: the
// header plus its first Header.NumFiles entries, in on-disk order.
// Entries are kept packed, so slots past NumFiles are not read.
type Directory struct {
	Header  VolumeHeader
	Entries []DirectoryEntry
}

// ReadDirectory reads and parses the directory from a device image.
// The header block is read first to learn the directory's extent,
// then the whole span is reread as one buffer and sliced into
// entries.
func ReadDirectory(diskbytes []byte) (Directory, error) {
	headerBlock, err := disk.ReadBlock(diskbytes, VolHeaderBlock)
	if err != nil {
		return Directory{}, diskerr.Wrap(diskerr.BadFormat, err, "reading Pascal volume header")
	}
	header, err := VolumeHeaderFromBlockBytes(headerBlock[:])
	if err != nil {
		return Directory{}, diskerr.Wrap(diskerr.BadFormat, err, "parsing Pascal volume header")
	}
	if header.FirstBlock != 0 {
		return Directory{}, diskerr.BadFormatf("Pascal volume header FirstBlock must be 0, got %d", header.FirstBlock)
	}
	if header.LastDirBlock <= VolHeaderBlock {
		return Directory{}, diskerr.BadFormatf("Pascal volume header LastDirBlock %d must be greater than %d", header.LastDirBlock, VolHeaderBlock)
	}

	var buf []byte
	for b := uint16(VolHeaderBlock); b < header.LastDirBlock; b++ {
		block, err := disk.ReadBlock(diskbytes, b)
		if err != nil {
			return Directory{}, diskerr.Wrap(diskerr.BadFormat, err, "reading Pascal directory block %d", b)
		}
		buf = append(buf, block[:]...)
	}

	maxEntries := len(buf)/EntrySize - 1
	if int(header.NumFiles) < maxEntries {
		maxEntries = int(header.NumFiles)
	}
	dir := Directory{Header: header}
	for i := 0; i < maxEntries; i++ {
		start := (i + 1) * EntrySize
		dir.Entries = append(dir.Entries, directoryEntryFromBytes(buf[start:start+EntrySize]))
	}
	return dir, nil
}

// WriteDirectory writes the directory back to its original span of
// blocks.
func WriteDirectory(diskbytes []byte, dir Directory) error {
	buf := make([]byte, int(dir.Header.LastDirBlock-VolHeaderBlock)*512)
	if err := dir.Header.ToBlockBytes(buf[:EntrySize]); err != nil {
		return err
	}
	for i, e := range dir.Entries {
		start := (i + 1) * EntrySize
		if start+EntrySize > len(buf) {
			return diskerr.DirectoryFullf("too many Pascal directory entries (%d) for directory span", len(dir.Entries))
		}
		e.toBytes(buf[start : start+EntrySize])
	}
	for b := uint16(VolHeaderBlock); b < dir.Header.LastDirBlock; b++ {
		off := int(b-VolHeaderBlock) * 512
		if err := disk.WriteBlock(diskbytes, b, 0, buf[off:off+512]); err != nil {
			return err
		}
	}
	return nil
}

// NamedEntry returns the index and entry matching name (case
// insensitive, as Pascal volumes uppercase names), or -1 if absent.
func (d Directory) NamedEntry(name string) (int, DirectoryEntry, bool) {
	upper := strings.ToUpper(name)
	for i, e := range d.Entries {
		if e.Unused() {
			continue
		}
		if strings.ToUpper(e.Name) == upper {
			return i, e, true
		}
	}
	return -1, DirectoryEntry{}, false
}

// IsBlockFree reports whether iblock belongs to no file and isn't part
// of the reserved header/boot/directory span.
func (d Directory) IsBlockFree(iblock uint16) bool {
	if iblock < d.Header.LastDirBlock {
		return false
	}
	if iblock >= d.Header.TotalBlocks {
		return false
	}
	for _, e := range d.Entries {
		if e.Unused() {
			continue
		}
		if iblock >= e.FirstBlock && iblock < e.NextBlock {
			return false
		}
	}
	return true
}

// NumFreeBlocks returns the total number of free blocks and the size
// of the largest contiguous free run, mirroring the original
// implementation's num_free_blocks.
func (d Directory) NumFreeBlocks() (free int, largestRun int) {
	run := 0
	for b := uint16(0); b < d.Header.TotalBlocks; b++ {
		if d.IsBlockFree(b) {
			free++
			run++
			if run > largestRun {
				largestRun = run
			}
		} else {
			run = 0
		}
	}
	return free, largestRun
}

// GetAvailableBlocks scans for the first contiguous run of num free
// blocks and returns its starting block, or ok=false if the volume has
// no run that long. This is the whole allocator: Pascal has no
// fragmentation-tolerant scheme, so files must sit in one run.
func (d Directory) GetAvailableBlocks(num int) (start uint16, ok bool) {
	if num <= 0 {
		return 0, true
	}
	run := 0
	for b := uint16(0); b < d.Header.TotalBlocks; b++ {
		if d.IsBlockFree(b) {
			run++
			if run == num {
				return b - uint16(num) + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// operator is a types.Operator for Pascal volumes.
type operator struct {
	data  []byte
	debug bool
}

var _ types.Operator = operator{}

const operatorName = "pascal"

func (o operator) Name() string { return operatorName }

func (o operator) HasSubdirs() bool { return false }

func (o operator) DiskOrder() types.DiskOrder { return types.DiskOrderPO }

func (o operator) GetBytes() []byte { return o.data }

// Catalog returns a catalog of disk entries. Pascal has no
// subdirectories, so subdir must be empty.
func (o operator) Catalog(subdir string) ([]types.Descriptor, error) {
	if subdir != "" {
		return nil, diskerr.UnsupportedItemTypef("pascal volumes have no subdirectories")
	}
	dir, err := ReadDirectory(o.data)
	if err != nil {
		return nil, err
	}
	if o.debug {
		fmt.Fprintf(os.Stderr, "Catalog of Pascal volume %q: %d entries\n", dir.Header.Name, len(dir.Entries))
	}
	var result []types.Descriptor
	for _, e := range dir.Entries {
		if e.Unused() {
			continue
		}
		result = append(result, types.Descriptor{
			Name:    e.Name,
			Blocks:  e.Blocks(),
			Length:  e.Blocks() * 512,
			Type:    pascalFiletype(e.FileType),
			Locked:  false,
		})
	}
	return result, nil
}

// pascalFiletype maps a Pascal on-disk file type code to the shared
// types.Filetype enum; Pascal codetype 3 is untyped text, 2 is Pascal
// code, 4 is data.
func pascalFiletype(code uint16) types.Filetype {
	switch code {
	case 2:
		return types.FiletypeSOSPascalCode
	case 3:
		return types.FiletypeASCIIText
	default:
		return types.FiletypeBinary
	}
}

func filetypePascalCode(t types.Filetype) uint16 {
	switch t {
	case types.FiletypeSOSPascalCode:
		return 2
	case types.FiletypeASCIIText:
		return 3
	default:
		return 4
	}
}

// GetFile retrieves a file by name.
func (o operator) GetFile(filename string) (types.FileInfo, error) {
	dir, err := ReadDirectory(o.data)
	if err != nil {
		return types.FileInfo{}, err
	}
	_, entry, ok := dir.NamedEntry(filename)
	if !ok {
		return types.FileInfo{}, diskerr.FileNotFoundf("file %q not found", filename)
	}

	var data []byte
	for b := entry.FirstBlock; b < entry.NextBlock; b++ {
		block, err := disk.ReadBlock(o.data, b)
		if err != nil {
			return types.FileInfo{}, diskerr.Wrap(diskerr.BadFormat, err, "reading block %d of %q", b, filename)
		}
		if b == entry.NextBlock-1 && entry.BytesInLastBlock > 0 && entry.BytesInLastBlock <= 512 {
			data = append(data, block[:entry.BytesInLastBlock]...)
		} else {
			data = append(data, block[:]...)
		}
	}

	return types.FileInfo{
		Descriptor: types.Descriptor{
			Name:   entry.Name,
			Blocks: entry.Blocks(),
			Length: len(data),
			Type:   pascalFiletype(entry.FileType),
		},
		Data: data,
	}, nil
}

// Delete deletes a file by name, shifting later entries down to close
// the gap: Pascal directories have no tombstones, entries are kept
// packed.
func (o operator) Delete(filename string) (bool, error) {
	dir, err := ReadDirectory(o.data)
	if err != nil {
		return false, err
	}
	idx, _, ok := dir.NamedEntry(filename)
	if !ok {
		return false, nil
	}
	dir.Entries = append(dir.Entries[:idx], dir.Entries[idx+1:]...)
	dir.Header.NumFiles--
	if err := WriteDirectory(o.data, dir); err != nil {
		return false, err
	}
	return true, nil
}

// PutFile writes a file by name. It pre-checks that enough contiguous
// free space exists before making any change, so a failed write never
// leaves a partial file behind.
func (o operator) PutFile(fileInfo types.FileInfo, overwrite bool) (existed bool, err error) {
	dir, err := ReadDirectory(o.data)
	if err != nil {
		return false, err
	}
	idx, _, found := dir.NamedEntry(fileInfo.Descriptor.Name)
	if found {
		if !overwrite {
			return false, diskerr.FileExistsf("file %q already exists", fileInfo.Descriptor.Name)
		}
	}

	numBlocks := (len(fileInfo.Data) + 511) / 512
	if numBlocks == 0 {
		numBlocks = 1
	}
	start, ok := dir.GetAvailableBlocks(numBlocks)
	if !ok {
		return false, diskerr.NoRoomf("no contiguous run of %d free blocks for %q", numBlocks, fileInfo.Descriptor.Name)
	}

	entry := DirectoryEntry{
		FirstBlock:       start,
		NextBlock:        start + uint16(numBlocks),
		FileType:         filetypePascalCode(fileInfo.Descriptor.Type),
		Name:             fileInfo.Descriptor.Name,
		BytesInLastBlock: uint16(len(fileInfo.Data) - (numBlocks-1)*512),
	}

	if found {
		dir.Entries[idx] = entry
	} else {
		dir.Entries = append(dir.Entries, entry)
		dir.Header.NumFiles++
	}
	if err := WriteDirectory(o.data, dir); err != nil {
		return false, err
	}

	for i := 0; i < numBlocks; i++ {
		b := start + uint16(i)
		chunkStart := i * 512
		chunkEnd := chunkStart + 512
		if chunkEnd > len(fileInfo.Data) {
			chunkEnd = len(fileInfo.Data)
		}
		chunk := fileInfo.Data[chunkStart:chunkEnd]
		var block disk.Block
		copy(block[:], chunk)
		if err := disk.WriteBlock(o.data, b, 0, block[:]); err != nil {
			return found, err
		}
	}

	return found, nil
}

// OperatorFactory is a types.OperatorFactory for Pascal volumes.
type OperatorFactory struct{}

func (of OperatorFactory) Name() string { return operatorName }

func (of OperatorFactory) DiskOrder() types.DiskOrder { return types.DiskOrderPO }

// SeemsToMatch returns true if the []byte disk image seems to be a
// Pascal volume: its directory must parse and every used entry's
// block range must fall within the volume.
func (of OperatorFactory) SeemsToMatch(diskbytes []byte, debug bool) bool {
	dir, err := ReadDirectory(diskbytes)
	if err != nil {
		return false
	}
	if dir.Header.TotalBlocks == 0 || int(dir.Header.TotalBlocks)*512 > len(diskbytes) {
		return false
	}
	for _, e := range dir.Entries {
		if e.Unused() {
			continue
		}
		if e.FirstBlock < dir.Header.LastDirBlock || e.NextBlock > dir.Header.TotalBlocks || e.NextBlock <= e.FirstBlock {
			return false
		}
	}
	return true
}

func (of OperatorFactory) Operator(diskbytes []byte, debug bool) (types.Operator, error) {
	return operator{data: diskbytes, debug: debug}, nil
}
