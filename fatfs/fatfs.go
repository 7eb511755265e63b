// Package fatfs reads and writes FAT12/FAT16/FAT32 filesystem images:
// a BIOS Parameter Block (BPB) describes geometry, a packed table of
// cluster links (12, 16, or 32 bits wide) tracks allocation, and fixed
// 32-byte 8.3 directory entries form catalogs (the root directory is a
// fixed-size area for FAT12/16, or an ordinary cluster chain for
// FAT32).
package fatfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/types"
)

// FirstDataCluster is the first valid cluster number; clusters 0 and 1
// are reserved (0 means free, 1 is historically the root-directory
// marker on media descriptors that predate FAT's general cluster
// chaining).
const FirstDataCluster = 2

// BPB is the subset of the BIOS Parameter Block diskii needs to walk a
// FAT volume: sector/cluster geometry and the location of the FAT
// tables, root directory, and data region.
type BPB struct {
	BytesPerSector    uint16
	SectorsPerCluster byte
	ReservedSectors    uint16
	NumFATs           byte
	RootEntryCount    uint16 // 0 for FAT32
	TotalSectors      uint32
	SectorsPerFAT     uint32
	RootCluster       uint32 // FAT32 only
}

// FATType identifies the cluster-link width, determined from the
// total cluster count per the standard FAT rule of thumb.
type FATType int

const (
	FAT12 FATType = 12
	FAT16 FATType = 16
	FAT32 FATType = 32
)

// BootSector parses the BPB from the first sector of a FAT image.
// Layout follows the standard BPB found at offset 0x0B of boot sector.
func BootSector(diskbytes []byte) (BPB, error) {
	if len(diskbytes) < 512 {
		return BPB{}, diskerr.BadFormatf("image too small to hold a FAT boot sector")
	}
	b := diskbytes
	bpb := BPB{
		BytesPerSector:    binary.LittleEndian.Uint16(b[0x0B:0x0D]),
		SectorsPerCluster: b[0x0D],
		ReservedSectors:   binary.LittleEndian.Uint16(b[0x0E:0x10]),
		NumFATs:           b[0x10],
		RootEntryCount:    binary.LittleEndian.Uint16(b[0x11:0x13]),
		TotalSectors:      uint32(binary.LittleEndian.Uint16(b[0x13:0x15])),
		SectorsPerFAT:     uint32(binary.LittleEndian.Uint16(b[0x16:0x18])),
	}
	if bpb.TotalSectors == 0 {
		bpb.TotalSectors = binary.LittleEndian.Uint32(b[0x20:0x24])
	}
	if bpb.SectorsPerFAT == 0 {
		bpb.SectorsPerFAT = binary.LittleEndian.Uint32(b[0x24:0x28])
		bpb.RootCluster = binary.LittleEndian.Uint32(b[0x2C:0x30])
	}
	if bpb.BytesPerSector == 0 || bpb.SectorsPerCluster == 0 || bpb.NumFATs == 0 {
		return BPB{}, diskerr.BadFormatf("BPB has a zero field that must be nonzero")
	}
	return bpb, nil
}

// WriteBootSector writes bpb's fields into the first sector of
// diskbytes, leaving the rest of the boot sector (jump instruction,
// OEM name, boot code, signature) untouched; callers that format a
// fresh volume are expected to have zeroed the image first.
func WriteBootSector(diskbytes []byte, bpb BPB) error {
	if len(diskbytes) < 512 {
		return diskerr.BadFormatf("image too small to hold a FAT boot sector")
	}
	b := diskbytes
	binary.LittleEndian.PutUint16(b[0x0B:0x0D], bpb.BytesPerSector)
	b[0x0D] = bpb.SectorsPerCluster
	binary.LittleEndian.PutUint16(b[0x0E:0x10], bpb.ReservedSectors)
	b[0x10] = bpb.NumFATs
	binary.LittleEndian.PutUint16(b[0x11:0x13], bpb.RootEntryCount)
	if bpb.TotalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(b[0x13:0x15], uint16(bpb.TotalSectors))
	} else {
		binary.LittleEndian.PutUint32(b[0x20:0x24], bpb.TotalSectors)
	}
	if bpb.RootEntryCount == 0 {
		binary.LittleEndian.PutUint32(b[0x24:0x28], bpb.SectorsPerFAT)
		binary.LittleEndian.PutUint32(b[0x2C:0x30], bpb.RootCluster)
	} else {
		binary.LittleEndian.PutUint16(b[0x16:0x18], uint16(bpb.SectorsPerFAT))
	}
	b[0x1FE] = 0x55
	b[0x1FF] = 0xAA
	return nil
}

// ClusterCount returns the number of data-region clusters, the value
// the FAT12-vs-16-vs-32 rule of thumb is based on.
func (b BPB) ClusterCount() uint32 {
	rootDirSectors := (uint32(b.RootEntryCount)*32 + uint32(b.BytesPerSector) - 1) / uint32(b.BytesPerSector)
	dataSectors := b.TotalSectors - uint32(b.ReservedSectors) - uint32(b.NumFATs)*b.SectorsPerFAT - rootDirSectors
	return dataSectors / uint32(b.SectorsPerCluster)
}

// Type classifies the volume using the standard Microsoft cluster
// count thresholds.
func (b BPB) Type() FATType {
	cc := b.ClusterCount()
	switch {
	case cc < 4085:
		return FAT12
	case cc < 65525:
		return FAT16
	default:
		return FAT32
	}
}

func (b BPB) ClusterSize() int { return int(b.SectorsPerCluster) * int(b.BytesPerSector) }

// FATOffset returns the byte offset of FAT number n (0-based).
func (b BPB) FATOffset(n int) int {
	return (int(b.ReservedSectors) + n*int(b.SectorsPerFAT)) * int(b.BytesPerSector)
}

// RootDirOffset returns the byte offset and size in bytes of the
// fixed-size root directory area (FAT12/16 only; FAT32 has none).
func (b BPB) RootDirOffset() (offset, size int) {
	offset = b.FATOffset(0) + int(b.NumFATs)*int(b.SectorsPerFAT)*int(b.BytesPerSector)
	size = int(b.RootEntryCount) * 32
	return offset, size
}

// DataOffset returns the byte offset of cluster FirstDataCluster.
func (b BPB) DataOffset() int {
	rootOff, rootSize := b.RootDirOffset()
	return rootOff + rootSize
}

// ClusterOffset returns the byte offset of the given cluster's data.
func (b BPB) ClusterOffset(cluster uint32) int {
	return b.DataOffset() + int(cluster-FirstDataCluster)*b.ClusterSize()
}

// GetCluster reads the FAT entry for cluster n from a FAT table
// buffer, honoring the table's bit width.
func GetCluster(n uint32, typ FATType, fat []byte) uint32 {
	switch typ {
	case FAT12:
		idx := n + n/2
		if int(idx)+1 >= len(fat) {
			return 0
		}
		v := uint16(fat[idx]) | uint16(fat[idx+1])<<8
		if n%2 == 0 {
			return uint32(v & 0x0FFF)
		}
		return uint32(v >> 4)
	case FAT16:
		return uint32(binary.LittleEndian.Uint16(fat[n*2 : n*2+2]))
	default: // FAT32
		return binary.LittleEndian.Uint32(fat[n*4:n*4+4]) & 0x0FFFFFFF
	}
}

// SetCluster writes the FAT entry for cluster n into a FAT table
// buffer, honoring the table's bit width and preserving the
// neighboring nibble for FAT12.
func SetCluster(n uint32, val uint32, typ FATType, fat []byte) {
	switch typ {
	case FAT12:
		idx := n + n/2
		v := uint16(fat[idx]) | uint16(fat[idx+1])<<8
		if n%2 == 0 {
			v = (v &^ 0x0FFF) | uint16(val&0x0FFF)
		} else {
			v = (v & 0x000F) | uint16(val&0x0FFF)<<4
		}
		fat[idx] = byte(v)
		fat[idx+1] = byte(v >> 8)
	case FAT16:
		binary.LittleEndian.PutUint16(fat[n*2:n*2+2], uint16(val))
	default:
		old := binary.LittleEndian.Uint32(fat[n*4 : n*4+4])
		binary.LittleEndian.PutUint32(fat[n*4:n*4+4], (old&0xF0000000)|(val&0x0FFFFFFF))
	}
}

// IsEOC reports whether a cluster-link value marks the end of a chain.
func IsEOC(val uint32, typ FATType) bool {
	switch typ {
	case FAT12:
		return val >= 0x0FF8
	case FAT16:
		return val >= 0xFFF8
	default:
		return val >= 0x0FFFFFF8
	}
}

// DirEntry is one 32-byte FAT directory entry. Long file names are not
// supported: names are truncated to 8.3 on write and read back as-is.
type DirEntry struct {
	Name        [8]byte
	Ext         [3]byte
	Attr        byte
	FirstClusterHi uint16 // high word, FAT32 only
	FirstClusterLo uint16
	Size        uint32
}

const (
	AttrReadOnly = 0x01
	AttrHidden   = 0x02
	AttrSystem   = 0x04
	AttrVolumeID = 0x08
	AttrDirectory = 0x10
	AttrArchive  = 0x20
)

// FreeMarker and DeletedMarker are the special first-byte values used
// for an unused directory slot and a deleted one.
const (
	FreeMarker    = 0x00
	DeletedMarker = 0xE5
)

func (e DirEntry) FirstCluster() uint32 {
	return uint32(e.FirstClusterHi)<<16 | uint32(e.FirstClusterLo)
}

func (e DirEntry) NameString() string {
	name := strings.TrimRight(string(e.Name[:]), " ")
	ext := strings.TrimRight(string(e.Ext[:]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func dirEntryFromBytes(buf []byte) DirEntry {
	var e DirEntry
	copy(e.Name[:], buf[0:8])
	copy(e.Ext[:], buf[8:11])
	e.Attr = buf[11]
	e.FirstClusterHi = binary.LittleEndian.Uint16(buf[20:22])
	e.FirstClusterLo = binary.LittleEndian.Uint16(buf[26:28])
	e.Size = binary.LittleEndian.Uint32(buf[28:32])
	return e
}

func (e DirEntry) toBytes(buf []byte) {
	copy(buf[0:8], e.Name[:])
	copy(buf[8:11], e.Ext[:])
	buf[11] = e.Attr
	binary.LittleEndian.PutUint16(buf[20:22], e.FirstClusterHi)
	binary.LittleEndian.PutUint16(buf[26:28], e.FirstClusterLo)
	binary.LittleEndian.PutUint32(buf[28:32], e.Size)
}

func packName8_3(name string) ([8]byte, [3]byte) {
	var n [8]byte
	var x [3]byte
	for i := range n {
		n[i] = ' '
	}
	for i := range x {
		x[i] = ' '
	}
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	for i := 0; i < len(base) && i < 8; i++ {
		n[i] = base[i]
	}
	for i := 0; i < len(ext) && i < 3; i++ {
		x[i] = ext[i]
	}
	return n, x
}

// operator is a types.Operator for FAT12/16/32 volumes. Subdirectories
// are addressed by a "/"-separated path rooted at the volume root.
type operator struct {
	data  []byte
	bpb   BPB
	debug bool
}

var _ types.Operator = operator{}

const operatorName = "fat"

func (o operator) Name() string { return operatorName }

func (o operator) HasSubdirs() bool { return true }

func (o operator) DiskOrder() types.DiskOrder { return types.DiskOrderPO }

func (o operator) GetBytes() []byte { return o.data }

// fatTable returns the bytes of FAT copy 0.
func (o operator) fatTable() []byte {
	off := o.bpb.FATOffset(0)
	return o.data[off : off+int(o.bpb.SectorsPerFAT)*int(o.bpb.BytesPerSector)]
}

// readClusterChain follows a cluster chain and returns its data
// concatenated in order.
func (o operator) readClusterChain(first uint32) ([]byte, error) {
	typ := o.bpb.Type()
	fat := o.fatTable()
	var data []byte
	cluster := first
	maxClusters := int(o.bpb.ClusterCount()) + 1
	for i := 0; i < maxClusters; i++ {
		if cluster < FirstDataCluster {
			return nil, diskerr.FirstClusterInvalidf("cluster %d is out of range", cluster)
		}
		start := o.bpb.ClusterOffset(cluster)
		end := start + o.bpb.ClusterSize()
		if end > len(o.data) {
			return nil, diskerr.BadFATf("cluster %d falls outside image", cluster)
		}
		data = append(data, o.data[start:end]...)
		next := GetCluster(cluster, typ, fat)
		if IsEOC(next, typ) {
			return data, nil
		}
		if next == 0 {
			return nil, diskerr.BadFATf("unexpected free cluster in chain at %d", cluster)
		}
		cluster = next
	}
	logrus.Warnf("fatfs: cluster chain starting at %d never reached end-of-chain; probable FAT corruption", first)
	return nil, diskerr.BadFATf("cluster chain starting at %d is longer than the volume", first)
}

// rootDirEntries reads the FAT12/16 fixed root directory. FAT32's
// cluster-chained root is not yet supported (see DESIGN.md).
func (o operator) rootDirEntries() ([]DirEntry, error) {
	if o.bpb.Type() == FAT32 {
		return nil, diskerr.UnsupportedItemTypef("FAT32 cluster-chained root directory not yet supported")
	}
	off, size := o.bpb.RootDirOffset()
	if off+size > len(o.data) {
		return nil, diskerr.BadFormatf("root directory falls outside image")
	}
	buf := o.data[off : off+size]
	var entries []DirEntry
	for i := 0; i*32 < len(buf); i++ {
		raw := buf[i*32 : i*32+32]
		if raw[0] == FreeMarker {
			break
		}
		if raw[0] == DeletedMarker {
			continue
		}
		entries = append(entries, dirEntryFromBytes(raw))
	}
	return entries, nil
}

func (o operator) writeRootDirEntries(entries []DirEntry) error {
	off, size := o.bpb.RootDirOffset()
	buf := make([]byte, size)
	for i, e := range entries {
		if (i+1)*32 > size {
			return diskerr.DirectoryFullf("too many root directory entries (%d)", len(entries))
		}
		e.toBytes(buf[i*32 : i*32+32])
	}
	copy(o.data[off:off+size], buf)
	return nil
}

// Catalog returns the entries of the root directory; subdirectory
// traversal is not yet implemented (see DESIGN.md), so subdir must be
// empty.
func (o operator) Catalog(subdir string) ([]types.Descriptor, error) {
	if subdir != "" {
		return nil, diskerr.UnsupportedItemTypef("fatfs subdirectory traversal not yet implemented")
	}
	entries, err := o.rootDirEntries()
	if err != nil {
		return nil, err
	}
	if o.debug {
		fmt.Fprintf(os.Stderr, "Catalog of FAT volume: %d entries\n", len(entries))
	}
	var result []types.Descriptor
	for _, e := range entries {
		if e.Attr&AttrVolumeID != 0 {
			continue
		}
		result = append(result, types.Descriptor{
			Name:   e.NameString(),
			Length: int(e.Size),
			Locked: e.Attr&AttrReadOnly != 0,
			Type:   types.FiletypeBinary,
		})
	}
	return result, nil
}

func (o operator) findEntry(name string) (int, DirEntry, error) {
	entries, err := o.rootDirEntries()
	if err != nil {
		return -1, DirEntry{}, err
	}
	upper := strings.ToUpper(name)
	for i, e := range entries {
		if strings.ToUpper(e.NameString()) == upper {
			return i, e, nil
		}
	}
	return -1, DirEntry{}, nil
}

// GetFile retrieves a file by name from the root directory.
func (o operator) GetFile(filename string) (types.FileInfo, error) {
	idx, entry, err := o.findEntry(filename)
	if err != nil {
		return types.FileInfo{}, err
	}
	if idx < 0 {
		return types.FileInfo{}, diskerr.FileNotFoundf("file %q not found", filename)
	}
	if entry.Size == 0 {
		return types.FileInfo{Descriptor: types.Descriptor{Name: entry.NameString()}}, nil
	}
	data, err := o.readClusterChain(entry.FirstCluster())
	if err != nil {
		return types.FileInfo{}, err
	}
	if uint32(len(data)) > entry.Size {
		data = data[:entry.Size]
	}
	return types.FileInfo{
		Descriptor: types.Descriptor{Name: entry.NameString(), Length: len(data), Locked: entry.Attr&AttrReadOnly != 0, Type: types.FiletypeBinary},
		Data:       data,
	}, nil
}

// Delete deletes a file by name, freeing its cluster chain and
// tombstoning its directory slot.
func (o operator) Delete(filename string) (bool, error) {
	entries, err := o.rootDirEntries()
	if err != nil {
		return false, err
	}
	upper := strings.ToUpper(filename)
	idx := -1
	for i, e := range entries {
		if strings.ToUpper(e.NameString()) == upper {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	if entries[idx].Size > 0 {
		if err := o.freeClusterChain(entries[idx].FirstCluster()); err != nil {
			return false, err
		}
	}
	off, _ := o.bpb.RootDirOffset()
	var tomb [32]byte
	tomb[0] = DeletedMarker
	copy(o.data[off+idx*32:off+idx*32+32], tomb[:])
	return true, nil
}

func (o operator) freeClusterChain(first uint32) error {
	typ := o.bpb.Type()
	fat := o.fatTable()
	cluster := first
	maxClusters := int(o.bpb.ClusterCount()) + 1
	for i := 0; i < maxClusters; i++ {
		next := GetCluster(cluster, typ, fat)
		SetCluster(cluster, 0, typ, fat)
		if IsEOC(next, typ) {
			return nil
		}
		cluster = next
	}
	return diskerr.BadFATf("cluster chain starting at %d is longer than the volume", first)
}

// allocateChain finds numClusters free clusters (fragmentation
// tolerant, first-fit per cluster) and links them into a chain,
// returning the first cluster number.
func (o operator) allocateChain(numClusters int) (uint32, error) {
	typ := o.bpb.Type()
	fat := o.fatTable()
	var free []uint32
	for c := uint32(FirstDataCluster); c < FirstDataCluster+o.bpb.ClusterCount() && len(free) < numClusters; c++ {
		if GetCluster(c, typ, fat) == 0 {
			free = append(free, c)
		}
	}
	if len(free) < numClusters {
		return 0, diskerr.DiskFullf("need %d free clusters, have %d", numClusters, len(free))
	}
	for i, c := range free {
		if i == len(free)-1 {
			SetCluster(c, eocValue(typ), typ, fat)
		} else {
			SetCluster(c, free[i+1], typ, fat)
		}
	}
	return free[0], nil
}

func eocValue(typ FATType) uint32 {
	switch typ {
	case FAT12:
		return 0x0FFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// PutFile writes a file into the root directory, allocating a fresh
// cluster chain. If the file already exists and overwrite is set, its
// old chain is freed first.
func (o operator) PutFile(fileInfo types.FileInfo, overwrite bool) (existed bool, err error) {
	entries, err := o.rootDirEntries()
	if err != nil {
		return false, err
	}
	upper := strings.ToUpper(fileInfo.Descriptor.Name)
	idx := -1
	for i, e := range entries {
		if strings.ToUpper(e.NameString()) == upper {
			idx = i
			break
		}
	}
	if idx >= 0 {
		if !overwrite {
			return false, diskerr.FileExistsf("file %q already exists", fileInfo.Descriptor.Name)
		}
		existed = true
		if entries[idx].Size > 0 {
			if err := o.freeClusterChain(entries[idx].FirstCluster()); err != nil {
				return existed, err
			}
		}
	}

	clusterSize := o.bpb.ClusterSize()
	numClusters := (len(fileInfo.Data) + clusterSize - 1) / clusterSize
	var first uint32
	if numClusters > 0 {
		first, err = o.allocateChain(numClusters)
		if err != nil {
			return existed, err
		}
	}

	name, ext := packName8_3(fileInfo.Descriptor.Name)
	entry := DirEntry{
		Name:           name,
		Ext:            ext,
		Attr:           AttrArchive,
		FirstClusterLo: uint16(first),
		FirstClusterHi: uint16(first >> 16),
		Size:           uint32(len(fileInfo.Data)),
	}
	if idx >= 0 {
		entries[idx] = entry
	} else {
		entries = append(entries, entry)
	}
	if err := o.writeRootDirEntries(entries); err != nil {
		return existed, err
	}

	cluster := first
	typ := o.bpb.Type()
	fat := o.fatTable()
	for i := 0; i < numClusters; i++ {
		start := i * clusterSize
		end := start + clusterSize
		var chunk []byte
		if end > len(fileInfo.Data) {
			chunk = make([]byte, clusterSize)
			copy(chunk, fileInfo.Data[start:])
		} else {
			chunk = fileInfo.Data[start:end]
		}
		off := o.bpb.ClusterOffset(cluster)
		copy(o.data[off:off+clusterSize], chunk)
		cluster = GetCluster(cluster, typ, fat)
	}

	return existed, nil
}

// OperatorFactory is a types.OperatorFactory for FAT volumes: the BPB
// is parsed from the image itself (unlike CP/M, FAT carries its own
// geometry), so the factory needs no configuration.
type OperatorFactory struct{}

func (of OperatorFactory) Name() string { return operatorName }

func (of OperatorFactory) DiskOrder() types.DiskOrder { return types.DiskOrderPO }

// SeemsToMatch returns true if the image parses as a FAT boot sector
// whose TotalSectors*BytesPerSector fits within the image and, for
// FAT12/16, whose fixed root directory region can be read. A FAT32
// image is accepted on the boot-sector checks alone.
func (of OperatorFactory) SeemsToMatch(diskbytes []byte, debug bool) bool {
	bpb, err := BootSector(diskbytes)
	if err != nil {
		return false
	}
	if int(bpb.TotalSectors)*int(bpb.BytesPerSector) > len(diskbytes) {
		return false
	}
	op := operator{data: diskbytes, bpb: bpb, debug: debug}
	if bpb.Type() == FAT32 {
		return true
	}
	_, err = op.rootDirEntries()
	return err == nil
}

func (of OperatorFactory) Operator(diskbytes []byte, debug bool) (types.Operator, error) {
	bpb, err := BootSector(diskbytes)
	if err != nil {
		return nil, err
	}
	return operator{data: diskbytes, bpb: bpb, debug: debug}, nil
}
